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

package session

import (
	"context"
	"fmt"
	"time"

	relayerrors "github.com/sirseerhq/trigger-relay/internal/errors"
)

// DefaultPollInterval matches the device's acknowledgement cadence.
const DefaultPollInterval = 10 * time.Second

// RunOptions controls the poll loop driven by Run.
type RunOptions struct {
	// PollInterval is the wait between reads. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// MaxPolls stops polling after that many unacknowledged reads.
	// Zero polls until ctx is done.
	MaxPolls int
}

// Reporter receives the single terminal outcome of a Run.
type Reporter interface {
	OnSuccess()
	OnFailure(err error)
}

// PollObserver may additionally be implemented by a Reporter to be told
// about every unacknowledged poll.
type PollObserver interface {
	OnPoll(attempt int, err error)
}

// ReporterFuncs adapts plain functions to Reporter. Nil fields are skipped.
type ReporterFuncs struct {
	Success func()
	Failure func(err error)
}

func (r ReporterFuncs) OnSuccess() {
	if r.Success != nil {
		r.Success()
	}
}

func (r ReporterFuncs) OnFailure(err error) {
	if r.Failure != nil {
		r.Failure(err)
	}
}

// Run sends the trigger and polls until the device acknowledges it, the
// poll ceiling is reached, or ctx is done. Exactly one of the reporter's
// OnSuccess or OnFailure is called, and Run returns the same error that
// OnFailure received, or nil.
func Run(ctx context.Context, s *Session, opts RunOptions, r Reporter) error {
	if r == nil {
		r = ReporterFuncs{}
	}
	fail := func(err error) error {
		s.Fail(err)
		r.OnFailure(err)
		return err
	}

	if !s.IsReady() {
		return fail(fmt.Errorf("%w: %w", relayerrors.ErrNotReady, s.Err()))
	}

	if err := s.Send(ctx); err != nil {
		return fail(err)
	}
	if !s.IsSendOK() {
		err := s.SendErr()
		if err == nil {
			st := s.Stats()
			err = fmt.Errorf("trigger send returned status %d/%d: %w",
				st.GetStatus, st.PutStatus, relayerrors.ErrTransport)
		}
		return fail(err)
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	observer, _ := r.(PollObserver)

	for attempt := 1; ; attempt++ {
		if s.IsDone(ctx) {
			r.OnSuccess()
			return nil
		}
		if observer != nil {
			observer.OnPoll(attempt, s.LastPollErr())
		}

		if opts.MaxPolls > 0 && attempt >= opts.MaxPolls {
			err := fmt.Errorf("no acknowledgement after %d polls: %w", attempt, relayerrors.ErrPollLimit)
			if last := s.LastPollErr(); last != nil {
				err = fmt.Errorf("%w (last poll: %w)", err, last)
			}
			return fail(err)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fail(ctx.Err())
		case <-timer.C:
		}
	}
}
