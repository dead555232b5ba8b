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

package state

import (
	"time"
)

// CurrentVersion is the current state schema version.
// Increment this when making breaking changes to the MailboxState structure.
const CurrentVersion = 1

// MailboxState is the persistent record of triggers sent to one mailbox.
type MailboxState struct {
	// Version indicates the schema version of this state file.
	Version int `json:"version"`

	// Checksum is the SHA256 hash of the state content (excluding this field).
	// Used to detect corruption or tampering.
	Checksum string `json:"checksum"`

	// Mailbox is the address in "owner/repo:path" form.
	Mailbox string `json:"mailbox"`

	// LastRunID identifies the most recent trigger run.
	LastRunID string `json:"last_run_id"`

	// LastOutcome is the final session state of the most recent run.
	LastOutcome string `json:"last_outcome"`

	// LastError is the failure of the most recent run, if any.
	LastError string `json:"last_error,omitempty"`

	// LastRunTime records when the most recent run finished.
	LastRunTime time.Time `json:"last_run_time"`

	// LastAcknowledged is when the device last confirmed a trigger.
	LastAcknowledged *time.Time `json:"last_acknowledged,omitempty"`

	// TotalRuns and TotalAcknowledged count every run recorded here.
	TotalRuns         int `json:"total_runs"`
	TotalAcknowledged int `json:"total_acknowledged"`
}

// Record folds the outcome of one run into the state.
func (s *MailboxState) Record(runID, outcome, errMsg string, finished time.Time, acknowledged bool) {
	s.LastRunID = runID
	s.LastOutcome = outcome
	s.LastError = errMsg
	s.LastRunTime = finished
	s.TotalRuns++
	if acknowledged {
		at := finished
		s.LastAcknowledged = &at
		s.TotalAcknowledged++
	}
}
