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

// Package session implements the trigger session: one push of a fresh
// token into the mailbox followed by polling until the device writes "ok".
//
// A session moves Idle → Ready → Sending → Polling → Succeeded|Failed and
// never backwards. It becomes Ready only if its key blob decodes. Each
// trigger needs its own session.
//
//	s := session.New(blob, dial)
//	if !s.IsReady() {
//	    // s.Err() explains why
//	}
//	if err := s.Send(ctx); err != nil || !s.IsSendOK() {
//	    // failed
//	}
//	for !s.IsDone(ctx) {
//	    time.Sleep(10 * time.Second)
//	}
//
// Run drives the same sequence with a configurable cadence and ceiling.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sirseerhq/trigger-relay/internal/credential"
	relayerrors "github.com/sirseerhq/trigger-relay/internal/errors"
	"github.com/sirseerhq/trigger-relay/internal/giterror"
	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
	"github.com/sirseerhq/trigger-relay/internal/token"
)

// AckContent is the trimmed mailbox content the device writes on completion.
const AckContent = "ok"

// DefaultSendTimeout bounds a send once it has started.
const DefaultSendTimeout = 30 * time.Second

// Dialer opens the mailbox channel for a decoded credential.
type Dialer func(cred *credential.Credential) rendezvous.Channel

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock used to bind tokens to a time bucket.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithLogger sets the session's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithSendTimeout bounds the get and put performed by Send. Zero disables the bound.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.sendTimeout = d
	}
}

// WithWriteRetry retries rate-limited mailbox writes with the given
// backoff. Each attempt carries a token computed at the moment it is sent.
// A nil config or zero MaxRetries writes once.
func WithWriteRetry(cfg *rendezvous.RetryConfig) Option {
	return func(s *Session) {
		s.writeRetry = cfg
	}
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// Session is a single trigger attempt. Its methods are safe for concurrent
// use, but Send is single-flight and IsDone calls are serialized.
type Session struct {
	mu     sync.Mutex
	pollMu sync.Mutex

	id          string
	state       State
	cred        *credential.Credential
	credErr     error
	channel     rendezvous.Channel
	now         func() time.Time
	logger      *zap.Logger
	sendTimeout time.Duration
	writeRetry  *rendezvous.RetryConfig
	sleep       func(ctx context.Context, d time.Duration) error
	inspector   giterror.Inspector

	inFlight    bool
	getStatus   int
	putStatus   int
	sendErr     error
	sentAt      time.Time
	polls       int
	lastPollErr error
	failure     error
	finishedAt  time.Time
}

// New decodes blob and, on success, dials the mailbox and returns a Ready
// session. A blob that fails to decode yields a session that stays Idle
// forever; Err reports why. New never fails outright.
func New(blob string, dial Dialer, opts ...Option) *Session {
	s := &Session{
		id:          uuid.NewString(),
		state:       Idle,
		now:         time.Now,
		logger:      zap.NewNop(),
		sendTimeout: DefaultSendTimeout,
		sleep:       rendezvous.Sleep,
		inspector:   giterror.NewInspector(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.id))

	cred, err := credential.Decode(blob)
	if err != nil {
		s.credErr = err
		s.logger.Warn("key blob rejected", zap.Error(err))
		return s
	}

	s.cred = cred
	s.channel = dial(cred)
	s.state = Ready
	s.logger = s.logger.With(zap.Stringer("ref", cred.Ref()))
	s.logger.Debug("session ready")
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// IsReady reports whether the credential decoded. It stays true after
// the session moves past Ready.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred != nil
}

// Err returns the *errors.CredentialError that kept the session Idle, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credErr
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ref returns the mailbox address, or the zero Ref if the session is not ready.
func (s *Session) Ref() rendezvous.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return rendezvous.Ref{}
	}
	return s.cred.Ref()
}

// Send writes a fresh token into the mailbox: it reads the current version,
// computes the token for the current instant, and writes it against that
// version. Send may be called once, from Ready.
//
// A non-success status from either call is recorded and reported through
// IsSendOK, not returned. An error is returned only for misuse, or when
// the mailbox could not be reached at all; either failure leaves the
// session Failed.
//
// Once started, a send runs to completion even if ctx is cancelled, so the
// mailbox is never left with a version read but no write attempted.
func (s *Session) Send(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.cred == nil:
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", relayerrors.ErrNotReady, s.credErr)
	case s.inFlight:
		s.mu.Unlock()
		return relayerrors.ErrSendInFlight
	case s.state != Ready:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("send from %s: %w", state, relayerrors.ErrInvalidState)
	}
	s.inFlight = true
	s.state = Sending
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if s.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
	}

	getStatus, putStatus, sentAt, err := s.push(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
	s.getStatus = getStatus
	s.putStatus = putStatus
	s.sentAt = sentAt

	if err != nil {
		s.sendErr = err
		s.fail(err)
		s.logger.Warn("trigger send failed",
			zap.Int("get_status", getStatus),
			zap.Int("put_status", putStatus),
			zap.Error(err))
		if relayerrors.StatusOf(err) != 0 {
			return nil
		}
		return err
	}

	s.logger.Info("trigger sent",
		zap.Int("get_status", getStatus),
		zap.Int("put_status", putStatus),
		zap.Int64("bucket", token.Bucket(sentAt.Unix())))
	return nil
}

func (s *Session) push(ctx context.Context) (getStatus, putStatus int, sentAt time.Time, err error) {
	ref := s.cred.Ref()

	snap, err := s.channel.Get(ctx, ref)
	if err != nil {
		return relayerrors.StatusOf(err), 0, time.Time{}, err
	}
	getStatus = snap.Status

	maxRetries := 0
	if s.writeRetry != nil {
		maxRetries = s.writeRetry.MaxRetries
	}

	for attempt := 0; ; attempt++ {
		sentAt = s.now()
		payload := token.Generate(s.cred.HMACSecret(), sentAt.Unix())
		message := fmt.Sprintf("Button Commit on %d", sentAt.Unix())

		putStatus, err = s.channel.Put(ctx, ref, payload, snap.Version, message)
		if err == nil {
			return getStatus, putStatus, sentAt, nil
		}
		if attempt >= maxRetries || !s.inspector.IsRateLimitError(err) {
			if attempt > 0 {
				err = fmt.Errorf("write failed after %d retries: %w", attempt, err)
			}
			return getStatus, relayerrors.StatusOf(err), sentAt, err
		}

		backoff := s.writeRetry.Backoff(attempt)
		s.logger.Warn("trigger write rate limited, retrying with a fresh token",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if serr := s.sleep(ctx, backoff); serr != nil {
			return getStatus, relayerrors.StatusOf(err), sentAt, err
		}
	}
}

// IsSendOK reports whether both the read and the write of Send returned
// success. When false, the caller must not poll.
func (s *Session) IsSendOK() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getStatus == rendezvous.StatusOK && s.putStatus == rendezvous.StatusOK
}

// SendErr returns the failure recorded by Send, or nil.
func (s *Session) SendErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendErr
}

// IsDone reads the mailbox and reports whether the device has written "ok".
//
// IsDone returns false both while the device is still working and when the
// read fails; the two are not distinguished here. LastPollErr exposes the
// failure of the most recent read for callers that want to tell them apart.
// Outside Sending and Polling IsDone does not touch the network and
// returns false, except after success, when it keeps returning true.
func (s *Session) IsDone(ctx context.Context) bool {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case Succeeded:
		s.mu.Unlock()
		return true
	case Sending:
		if s.inFlight {
			s.lastPollErr = relayerrors.ErrSendInFlight
			s.mu.Unlock()
			return false
		}
		s.state = Polling
	case Polling:
	default:
		s.lastPollErr = fmt.Errorf("poll from %s: %w", s.state, relayerrors.ErrInvalidState)
		s.mu.Unlock()
		return false
	}
	ref := s.cred.Ref()
	s.mu.Unlock()

	snap, err := s.channel.Get(ctx, ref)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.polls++
	if err != nil {
		s.lastPollErr = err
		s.logger.Debug("poll failed", zap.Int("poll", s.polls), zap.Error(err))
		return false
	}
	s.lastPollErr = nil

	// A concurrent Fail may have ended the session during the read.
	if s.state != Polling {
		return s.state == Succeeded
	}

	if strings.TrimSpace(snap.Content) != AckContent {
		s.logger.Debug("device still working", zap.Int("poll", s.polls))
		return false
	}

	s.state = Succeeded
	s.finishedAt = s.now()
	s.logger.Info("device acknowledged", zap.Int("polls", s.polls))
	return true
}

// LastPollErr returns the error of the most recent IsDone read, or nil if
// it succeeded.
func (s *Session) LastPollErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPollErr
}

// Fail moves a non-terminal session to Failed, recording err as the
// cause. It reports whether the transition happened.
func (s *Session) Fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || s.state == Idle {
		return false
	}
	s.fail(err)
	s.logger.Warn("trigger failed", zap.Error(err))
	return true
}

func (s *Session) fail(err error) {
	s.state = Failed
	s.failure = err
	s.finishedAt = s.now()
}

// Stats is a point-in-time view of a session for run records.
type Stats struct {
	ID          string
	Ref         rendezvous.Ref
	State       State
	GetStatus   int
	PutStatus   int
	SentAt      time.Time
	FinishedAt  time.Time
	Polls       int
	Failure     error
	LastPollErr error
}

// Stats returns a snapshot of the session's progress.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		ID:          s.id,
		State:       s.state,
		GetStatus:   s.getStatus,
		PutStatus:   s.putStatus,
		SentAt:      s.sentAt,
		FinishedAt:  s.finishedAt,
		Polls:       s.polls,
		Failure:     s.failure,
		LastPollErr: s.lastPollErr,
	}
	if s.cred != nil {
		st.Ref = s.cred.Ref()
	} else {
		st.Failure = s.credErr
	}
	return st
}
