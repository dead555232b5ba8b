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
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirseerhq/trigger-relay/internal/credential"
	relayerrors "github.com/sirseerhq/trigger-relay/internal/errors"
	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
	"github.com/sirseerhq/trigger-relay/internal/token"
)

var (
	testSecret = []byte("device-shared-secret-0123456789!")
	testRef    = rendezvous.Ref{Owner: "swimmy", Repo: "door-mailbox", Path: "trigger.txt"}
	testNow    = time.Unix(1700000003, 0)
)

func testBlob(t *testing.T) string {
	t.Helper()
	blob, err := credential.Encode(credential.New("abc123XYZ", testSecret, testRef))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return blob
}

func fixedClock() time.Time { return testNow }

func dialTo(ch rendezvous.Channel) Dialer {
	return func(*credential.Credential) rendezvous.Channel { return ch }
}

func newTestSession(t *testing.T, ch rendezvous.Channel, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	s := New(testBlob(t), dialTo(ch), opts...)
	if !s.IsReady() {
		t.Fatalf("session not ready: %v", s.Err())
	}
	return s
}

func TestNew_BadBlobStaysIdle(t *testing.T) {
	dialed := false
	s := New("@@not-a-blob@@", func(*credential.Credential) rendezvous.Channel {
		dialed = true
		return rendezvous.NewMockChannel()
	})

	if s.IsReady() {
		t.Fatal("IsReady() = true for a malformed blob")
	}
	if dialed {
		t.Error("channel dialed for a malformed blob")
	}
	if s.State() != Idle {
		t.Errorf("State() = %v, want idle", s.State())
	}
	if !errors.Is(s.Err(), relayerrors.ErrCredential) {
		t.Errorf("Err() = %v, want ErrCredential", s.Err())
	}

	if err := s.Send(context.Background()); !errors.Is(err, relayerrors.ErrNotReady) {
		t.Errorf("Send() error = %v, want ErrNotReady", err)
	}
	if s.IsSendOK() {
		t.Error("IsSendOK() = true without a send")
	}
	if s.IsDone(context.Background()) {
		t.Error("IsDone() = true without a send")
	}
	if s.Fail(errors.New("x")) {
		t.Error("Fail() moved an idle session")
	}
	if s.State() != Idle {
		t.Errorf("State() = %v after misuse, want idle", s.State())
	}
}

func TestNew_GeneratesIDs(t *testing.T) {
	ch := rendezvous.NewMockChannel()
	a := newTestSession(t, ch)
	b := newTestSession(t, ch)
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("session ids %q and %q should be unique", a.ID(), b.ID())
	}
	if got := newTestSession(t, ch, WithID("fixed")).ID(); got != "fixed" {
		t.Errorf("WithID: ID() = %q", got)
	}
}

func TestSend_WritesTokenAgainstCurrentVersion(t *testing.T) {
	ch := rendezvous.NewMockChannel(rendezvous.WithContent("previous\n"))
	initial := ch.Version()
	s := newTestSession(t, ch)

	if s.State() != Ready {
		t.Fatalf("State() = %v, want ready", s.State())
	}
	if err := s.Send(context.Background()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !s.IsSendOK() {
		t.Fatalf("IsSendOK() = false, SendErr = %v", s.SendErr())
	}
	if s.State() != Sending {
		t.Errorf("State() = %v after send, want sending", s.State())
	}

	if got, want := ch.Calls, []string{"get", "put"}; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if ch.LastVersion != initial {
		t.Errorf("put version = %s, want %s", ch.LastVersion, initial)
	}
	if want := token.Generate(testSecret, testNow.Unix()); ch.LastPayload != want {
		t.Errorf("payload = %q, want %q", ch.LastPayload, want)
	}
	if ch.LastMessage != "Button Commit on 1700000003" {
		t.Errorf("message = %q", ch.LastMessage)
	}

	st := s.Stats()
	if st.GetStatus != http.StatusOK || st.PutStatus != http.StatusOK {
		t.Errorf("stats statuses = %d/%d", st.GetStatus, st.PutStatus)
	}
	if st.Ref != testRef || !st.SentAt.Equal(testNow) {
		t.Errorf("stats = %+v", st)
	}
}

func TestSend_TokenStableWithinBucket(t *testing.T) {
	var payloads []string
	for _, sec := range []int64{1700000000, 1700000005, 1700000009} {
		ch := rendezvous.NewMockChannel()
		now := time.Unix(sec, 0)
		s := New(testBlob(t), dialTo(ch), WithClock(func() time.Time { return now }))
		if err := s.Send(context.Background()); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		payloads = append(payloads, ch.LastPayload)
	}
	for _, p := range payloads[1:] {
		if p != payloads[0] {
			t.Errorf("payloads differ within one bucket: %v", payloads)
		}
	}
}

// throttledPuts rejects the first limit writes with the given status and
// remembers every payload it was handed.
type throttledPuts struct {
	*rendezvous.MockChannel
	limit    int
	status   int
	payloads []string
	messages []string
}

func (c *throttledPuts) Put(ctx context.Context, ref rendezvous.Ref, payload string, version rendezvous.Version, message string) (int, error) {
	c.payloads = append(c.payloads, payload)
	c.messages = append(c.messages, message)
	if len(c.payloads) <= c.limit {
		return c.status, &relayerrors.TransportError{Op: "put", Status: c.status}
	}
	return c.MockChannel.Put(ctx, ref, payload, version, message)
}

func TestSend_RateLimitedWriteRetriesWithFreshToken(t *testing.T) {
	tests := []struct {
		name         string
		limit        int
		status       int
		maxRetries   int
		wantAttempts int
		wantOK       bool
	}{
		{"lands after two throttled writes", 2, http.StatusTooManyRequests, 3, 3, true},
		{"gives up after max retries", 10, http.StatusTooManyRequests, 2, 3, false},
		{"gateway error is not retried", 1, http.StatusBadGateway, 3, 1, false},
		{"retries disabled", 1, http.StatusTooManyRequests, 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &throttledPuts{MockChannel: rendezvous.NewMockChannel(), limit: tt.limit, status: tt.status}
			now := time.Unix(1700000003, 0)
			s := New(testBlob(t), dialTo(ch),
				WithClock(func() time.Time { return now }),
				WithWriteRetry(&rendezvous.RetryConfig{
					MaxRetries:        tt.maxRetries,
					InitialBackoff:    8 * time.Second,
					MaxBackoff:        30 * time.Second,
					BackoffMultiplier: 2,
				}))
			var slept time.Duration
			s.sleep = func(_ context.Context, d time.Duration) error {
				slept += d
				now = now.Add(d)
				return nil
			}

			if err := s.Send(context.Background()); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if len(ch.payloads) != tt.wantAttempts {
				t.Fatalf("attempts = %d, want %d", len(ch.payloads), tt.wantAttempts)
			}
			if s.IsSendOK() != tt.wantOK {
				t.Fatalf("IsSendOK() = %v, want %v (err: %v)", s.IsSendOK(), tt.wantOK, s.SendErr())
			}

			// Every attempt carries the token of the instant it was sent.
			st := s.Stats()
			last := len(ch.payloads) - 1
			if want := token.Generate(testSecret, st.SentAt.Unix()); ch.payloads[last] != want {
				t.Errorf("last payload is not the token for bucket %d", token.Bucket(st.SentAt.Unix()))
			}
			if want := fmt.Sprintf("Button Commit on %d", st.SentAt.Unix()); ch.messages[last] != want {
				t.Errorf("message = %q, want %q", ch.messages[last], want)
			}
			if !st.SentAt.Equal(now) {
				t.Errorf("SentAt = %v, want %v", st.SentAt, now)
			}

			if tt.wantAttempts == 1 {
				if slept != 0 {
					t.Errorf("slept %v before a write that is not retried", slept)
				}
				return
			}
			if token.Bucket(st.SentAt.Unix()) == token.Bucket(1700000003) {
				t.Fatalf("backoff of %v did not cross a bucket boundary", slept)
			}
			if ch.payloads[0] == ch.payloads[last] {
				t.Error("retried write reused the token of the first attempt")
			}
			if tt.wantOK {
				if ch.LastPayload != ch.payloads[last] {
					t.Errorf("mailbox received %q, want %q", ch.LastPayload, ch.payloads[last])
				}
			} else if relayerrors.StatusOf(s.SendErr()) != tt.status {
				t.Errorf("SendErr() = %v, want status %d", s.SendErr(), tt.status)
			}
		})
	}
}

func TestSend_StatusFailures(t *testing.T) {
	tests := []struct {
		name      string
		opts      []rendezvous.MockChannelOption
		getStatus int
		putStatus int
		puts      int
		wantIs    error
	}{
		{
			name:      "get not found",
			opts:      []rendezvous.MockChannelOption{rendezvous.WithGetStatus(http.StatusNotFound)},
			getStatus: http.StatusNotFound,
			puts:      0,
			wantIs:    relayerrors.ErrTransport,
		},
		{
			name:      "get unauthorized",
			opts:      []rendezvous.MockChannelOption{rendezvous.WithGetStatus(http.StatusUnauthorized)},
			getStatus: http.StatusUnauthorized,
			puts:      0,
			wantIs:    relayerrors.ErrTransport,
		},
		{
			name:      "put rejected",
			opts:      []rendezvous.MockChannelOption{rendezvous.WithPutStatus(http.StatusUnprocessableEntity)},
			getStatus: http.StatusOK,
			putStatus: http.StatusUnprocessableEntity,
			puts:      1,
			wantIs:    relayerrors.ErrTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := rendezvous.NewMockChannel(tt.opts...)
			s := newTestSession(t, ch)

			if err := s.Send(context.Background()); err != nil {
				t.Fatalf("Send() error = %v, want status recorded not returned", err)
			}
			if s.IsSendOK() {
				t.Error("IsSendOK() = true")
			}
			if s.State() != Failed {
				t.Errorf("State() = %v, want failed", s.State())
			}
			if ch.Puts != tt.puts {
				t.Errorf("puts = %d, want %d", ch.Puts, tt.puts)
			}
			if !errors.Is(s.SendErr(), tt.wantIs) {
				t.Errorf("SendErr() = %v, want %v", s.SendErr(), tt.wantIs)
			}
			st := s.Stats()
			if st.GetStatus != tt.getStatus || st.PutStatus != tt.putStatus {
				t.Errorf("statuses = %d/%d, want %d/%d", st.GetStatus, st.PutStatus, tt.getStatus, tt.putStatus)
			}
		})
	}
}

// racingChannel lets another writer update the mailbox between the
// session's read and its write.
type racingChannel struct {
	*rendezvous.MockChannel
}

func (r racingChannel) Get(ctx context.Context, ref rendezvous.Ref) (*rendezvous.Snapshot, error) {
	snap, err := r.MockChannel.Get(ctx, ref)
	r.MockChannel.SetContent("someone else\n")
	return snap, err
}

func TestSend_StaleVersionFails(t *testing.T) {
	ch := racingChannel{rendezvous.NewMockChannel()}
	s := newTestSession(t, ch)

	if err := s.Send(context.Background()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if s.IsSendOK() {
		t.Fatal("IsSendOK() = true despite a concurrent write")
	}
	if !errors.Is(s.SendErr(), relayerrors.ErrStaleVersion) {
		t.Errorf("SendErr() = %v, want ErrStaleVersion", s.SendErr())
	}
	if got := s.Stats().PutStatus; got != http.StatusConflict {
		t.Errorf("put status = %d, want 409", got)
	}
	if ch.Content() != "someone else\n" {
		t.Errorf("content = %q, the other write must survive", ch.Content())
	}
}

func TestSend_NetworkFailureReturned(t *testing.T) {
	ch := rendezvous.NewMockChannel(rendezvous.WithGetError(errors.New("connection refused")))
	s := newTestSession(t, ch)

	err := s.Send(context.Background())
	if !errors.Is(err, relayerrors.ErrTransport) {
		t.Fatalf("Send() error = %v, want ErrTransport", err)
	}
	if s.IsSendOK() {
		t.Error("IsSendOK() = true")
	}
	if s.State() != Failed {
		t.Errorf("State() = %v, want failed", s.State())
	}
	if ch.Puts != 0 {
		t.Errorf("puts = %d, want none", ch.Puts)
	}
}

func TestSend_OnlyOnce(t *testing.T) {
	ch := rendezvous.NewMockChannel()
	s := newTestSession(t, ch)

	if err := s.Send(context.Background()); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	if err := s.Send(context.Background()); !errors.Is(err, relayerrors.ErrInvalidState) {
		t.Errorf("second Send() error = %v, want ErrInvalidState", err)
	}
	if ch.Puts != 1 {
		t.Errorf("puts = %d, want 1", ch.Puts)
	}
}

func TestSend_IgnoresCallerCancellation(t *testing.T) {
	ch := rendezvous.NewMockChannel()
	s := newTestSession(t, ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Send(ctx); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !s.IsSendOK() {
		t.Errorf("send did not complete after cancellation: %v", s.SendErr())
	}
}

// gatedChannel blocks the first Get until released.
type gatedChannel struct {
	*rendezvous.MockChannel
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedChannel) Get(ctx context.Context, ref rendezvous.Ref) (*rendezvous.Snapshot, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.MockChannel.Get(ctx, ref)
}

func TestSend_SingleFlight(t *testing.T) {
	ch := &gatedChannel{
		MockChannel: rendezvous.NewMockChannel(rendezvous.WithAckAfter(0)),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	s := newTestSession(t, ch)

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background()) }()
	<-ch.entered

	if err := s.Send(context.Background()); !errors.Is(err, relayerrors.ErrSendInFlight) {
		t.Errorf("overlapping Send() error = %v, want ErrSendInFlight", err)
	}
	if s.IsDone(context.Background()) {
		t.Error("IsDone() = true while the send is in flight")
	}
	if !errors.Is(s.LastPollErr(), relayerrors.ErrSendInFlight) {
		t.Errorf("LastPollErr() = %v, want ErrSendInFlight", s.LastPollErr())
	}

	close(ch.release)
	if err := <-done; err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	if ch.Puts != 1 {
		t.Errorf("puts = %d, want 1", ch.Puts)
	}
	if !s.IsDone(context.Background()) {
		t.Error("IsDone() = false after the device acknowledged")
	}
}

func TestIsDone_AcknowledgementSequence(t *testing.T) {
	ch := rendezvous.NewMockChannel(rendezvous.WithAckAfter(2))
	s := newTestSession(t, ch)

	if err := s.Send(context.Background()); err != nil || !s.IsSendOK() {
		t.Fatalf("Send() error = %v, ok = %v", err, s.IsSendOK())
	}

	want := []bool{false, false, true}
	for i, w := range want {
		if got := s.IsDone(context.Background()); got != w {
			t.Fatalf("poll %d: IsDone() = %v, want %v", i+1, got, w)
		}
		if i == 0 && s.State() != Polling {
			t.Errorf("State() = %v after first poll, want polling", s.State())
		}
	}
	if s.State() != Succeeded {
		t.Errorf("State() = %v, want succeeded", s.State())
	}

	gets := ch.Gets
	if !s.IsDone(context.Background()) {
		t.Error("IsDone() = false after success")
	}
	if ch.Gets != gets {
		t.Error("IsDone() read the mailbox after success")
	}
	if got := s.Stats().Polls; got != 3 {
		t.Errorf("polls = %d, want 3", got)
	}
}

func TestIsDone_TrimsWhitespace(t *testing.T) {
	for _, content := range []string{"ok", "ok\n", "  ok \r\n"} {
		ch := rendezvous.NewMockChannel()
		s := newTestSession(t, ch)
		if err := s.Send(context.Background()); err != nil {
			t.Fatal(err)
		}
		ch.SetContent(content)
		if !s.IsDone(context.Background()) {
			t.Errorf("IsDone() = false for content %q", content)
		}
	}
}

// flakyGetChannel fails Gets while failing is set.
type flakyGetChannel struct {
	*rendezvous.MockChannel
	mu      sync.Mutex
	failing bool
}

func (f *flakyGetChannel) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakyGetChannel) Get(ctx context.Context, ref rendezvous.Ref) (*rendezvous.Snapshot, error) {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return nil, &relayerrors.TransportError{Op: "get", Status: http.StatusServiceUnavailable}
	}
	return f.MockChannel.Get(ctx, ref)
}

func TestIsDone_ReadFailureLooksLikeNotDone(t *testing.T) {
	ch := &flakyGetChannel{MockChannel: rendezvous.NewMockChannel(rendezvous.WithAckAfter(0))}
	s := newTestSession(t, ch)
	if err := s.Send(context.Background()); err != nil {
		t.Fatal(err)
	}

	ch.setFailing(true)
	if s.IsDone(context.Background()) {
		t.Fatal("IsDone() = true on a failed read")
	}
	if relayerrors.StatusOf(s.LastPollErr()) != http.StatusServiceUnavailable {
		t.Errorf("LastPollErr() = %v, want the 503", s.LastPollErr())
	}
	if s.State() != Polling {
		t.Errorf("State() = %v, a failed read must not end the session", s.State())
	}

	ch.setFailing(false)
	if !s.IsDone(context.Background()) {
		t.Fatal("IsDone() = false once reads recover")
	}
	if s.LastPollErr() != nil {
		t.Errorf("LastPollErr() = %v after a good read", s.LastPollErr())
	}
}

func TestIsDone_BeforeSendTouchesNothing(t *testing.T) {
	ch := rendezvous.NewMockChannel(rendezvous.WithContent("ok"))
	s := newTestSession(t, ch)

	if s.IsDone(context.Background()) {
		t.Error("IsDone() = true before any send")
	}
	if ch.Gets != 0 {
		t.Errorf("gets = %d, want none", ch.Gets)
	}
	if !errors.Is(s.LastPollErr(), relayerrors.ErrInvalidState) {
		t.Errorf("LastPollErr() = %v, want ErrInvalidState", s.LastPollErr())
	}
}

func TestFail_IsTerminal(t *testing.T) {
	ch := rendezvous.NewMockChannel(rendezvous.WithAckAfter(0))
	s := newTestSession(t, ch)
	if err := s.Send(context.Background()); err != nil {
		t.Fatal(err)
	}

	cause := errors.New("gave up")
	if !s.Fail(cause) {
		t.Fatal("Fail() = false from sending")
	}
	if s.Fail(errors.New("again")) {
		t.Error("Fail() moved a terminal session")
	}
	if s.IsDone(context.Background()) {
		t.Error("IsDone() = true after Fail")
	}
	if st := s.Stats(); st.State != Failed || !errors.Is(st.Failure, cause) {
		t.Errorf("stats = %+v", st)
	}
}

func TestState_Text(t *testing.T) {
	for _, st := range []State{Idle, Ready, Sending, Polling, Succeeded, Failed} {
		text, err := st.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) error = %v", st, err)
		}
		var back State
		if err := back.UnmarshalText(text); err != nil || back != st {
			t.Errorf("UnmarshalText(%q) = %v, %v", text, back, err)
		}
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("String() = %q", got)
	}
	var s State
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(bogus) should fail")
	}
	if !Succeeded.Terminal() || !Failed.Terminal() || Polling.Terminal() {
		t.Error("Terminal() misclassifies states")
	}
}
