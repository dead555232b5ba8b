// Copyright 2025 SirSeer, LLC
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://mariadb.com/bsl11
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metadata records an audit trail of trigger runs. A Tracker counts
// the mailbox calls a run makes and turns the finished session into a
// RunRecord, which is saved as a JSON file in the state directory and
// linked to the previous run on the same mailbox.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
	"github.com/sirseerhq/trigger-relay/internal/session"
	"github.com/sirseerhq/trigger-relay/internal/token"
)

// Tracker collects call statistics during a run. It is safe for concurrent
// use. Create one per run.
type Tracker struct {
	startTime time.Time

	mu          sync.Mutex
	gets        int
	puts        int
	failedCalls int
}

// New creates a tracker whose run starts now.
func New() *Tracker {
	return &Tracker{
		startTime: time.Now(),
	}
}

// Wrap returns a channel that counts every call made through it. Place it
// beneath any retry layer so each attempt is counted.
func (t *Tracker) Wrap(ch rendezvous.Channel) rendezvous.Channel {
	return &countingChannel{Channel: ch, tracker: t}
}

func (t *Tracker) record(get bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if get {
		t.gets++
	} else {
		t.puts++
	}
	if err != nil {
		t.failedCalls++
	}
}

// Counts returns the number of reads, writes and failed calls so far.
func (t *Tracker) Counts() (gets, puts, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gets, t.puts, t.failedCalls
}

type countingChannel struct {
	rendezvous.Channel
	tracker *Tracker
}

func (c *countingChannel) Get(ctx context.Context, ref rendezvous.Ref) (*rendezvous.Snapshot, error) {
	snap, err := c.Channel.Get(ctx, ref)
	c.tracker.record(true, err)
	return snap, err
}

func (c *countingChannel) Put(ctx context.Context, ref rendezvous.Ref, payload string, version rendezvous.Version, message string) (int, error) {
	status, err := c.Channel.Put(ctx, ref, payload, version, message)
	c.tracker.record(false, err)
	return status, err
}

// GenerateRecord builds the record of a finished run from the session's
// stats. previous may be nil for the first run on a mailbox.
func (t *Tracker) GenerateRecord(relayVersion string, params RunParams, st session.Stats, previous *RunRef) *RunRecord {
	completedAt := st.FinishedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	gets, puts, failed := t.Counts()

	results := RunResults{
		Outcome:      st.State,
		Acknowledged: st.State == session.Succeeded,
		GetStatus:    st.GetStatus,
		PutStatus:    st.PutStatus,
		Polls:        st.Polls,
		APICallCount: gets + puts,
		Gets:         gets,
		Puts:         puts,
		FailedCalls:  failed,
		Duration:     completedAt.Sub(t.startTime).String(),
		StartedAt:    t.startTime,
		CompletedAt:  completedAt,
	}
	if !st.SentAt.IsZero() {
		sentAt := st.SentAt
		results.SentAt = &sentAt
		results.TokenBucket = token.Bucket(sentAt.Unix())
	}
	if st.Failure != nil {
		results.Error = st.Failure.Error()
	}

	return &RunRecord{
		RelayVersion: relayVersion,
		RunID:        st.ID,
		Mailbox:      st.Ref.String(),
		Parameters:   params,
		Results:      results,
		PreviousRun:  previous,
	}
}

// SaveRecord writes record into stateDir as run-{started}-{id}.json. The
// file is written to a temporary name and renamed into place.
func SaveRecord(record *RunRecord, stateDir string) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	filename := fmt.Sprintf("run-%d-%s.json", record.Results.StartedAt.Unix(), record.RunID)
	path := filepath.Join(stateDir, filename)

	tmpFile := path + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("failed to create record file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(record); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to write record: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to close record file: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		return fmt.Errorf("failed to save record file: %w", err)
	}

	return nil
}

// LoadLatestRecord returns the most recently completed run on mailbox
// ("owner/repo:path"), or nil if there is none. Unreadable record files
// are skipped.
func LoadLatestRecord(stateDir, mailbox string) (*RunRecord, error) {
	files, err := filepath.Glob(filepath.Join(stateDir, "run-*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list record files: %w", err)
	}

	var latest *RunRecord
	for _, file := range files {
		record, err := readRecord(file)
		if err != nil || record.Mailbox != mailbox {
			continue
		}
		if latest == nil || record.Results.CompletedAt.After(latest.Results.CompletedAt) {
			latest = record
		}
	}
	return latest, nil
}

func readRecord(path string) (*RunRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var record RunRecord
	if err := json.NewDecoder(file).Decode(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// WriteRecordToWriter writes record as indented JSON.
func WriteRecordToWriter(record *RunRecord, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(record)
}
