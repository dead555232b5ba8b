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

package metadata

import (
	"time"

	"github.com/sirseerhq/trigger-relay/internal/session"
)

// RunRecord is the audit record of one trigger run: what was asked, what
// the mailbox answered, and how the run ended.
type RunRecord struct {
	RelayVersion string     `json:"relay_version"`
	RunID        string     `json:"run_id"`
	Mailbox      string     `json:"mailbox"`
	Parameters   RunParams  `json:"parameters"`
	Results      RunResults `json:"results"`
	PreviousRun  *RunRef    `json:"previous_run,omitempty"`
}

// RunParams captures the settings a run was started with.
type RunParams struct {
	Owner        string `json:"owner"`
	Repository   string `json:"repository"`
	Path         string `json:"path"`
	ReadAPI      string `json:"read_api"`
	PollInterval string `json:"poll_interval"`
	MaxPolls     int    `json:"max_polls"`
	MaxRetries   int    `json:"max_retries"`
}

// RunResults holds the outcome and call statistics of a run.
type RunResults struct {
	Outcome      session.State `json:"outcome"`
	Acknowledged bool          `json:"acknowledged"`
	GetStatus    int           `json:"get_status,omitempty"`
	PutStatus    int           `json:"put_status,omitempty"`
	TokenBucket  int64         `json:"token_bucket,omitempty"`
	Polls        int           `json:"polls"`
	APICallCount int           `json:"api_calls_made"`
	Gets         int           `json:"gets"`
	Puts         int           `json:"puts"`
	FailedCalls  int           `json:"failed_calls"`
	Error        string        `json:"error,omitempty"`
	Duration     string        `json:"run_duration"`
	StartedAt    time.Time     `json:"started_at"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// RunRef links a run to the one before it on the same mailbox.
type RunRef struct {
	RunID       string        `json:"run_id"`
	Outcome     session.State `json:"outcome"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Ref returns a lightweight reference to the record.
func (r *RunRecord) Ref() *RunRef {
	return &RunRef{
		RunID:       r.RunID,
		Outcome:     r.Results.Outcome,
		CompletedAt: r.Results.CompletedAt,
	}
}
