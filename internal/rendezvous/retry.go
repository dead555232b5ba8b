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

package rendezvous

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/sirseerhq/trigger-relay/internal/giterror"
)

// RetryConfig configures the retry behavior for mailbox calls
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts. Zero disables retries.
	MaxRetries int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration. Retries are
// opt-in: the default performs every call exactly once.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        0,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryChannel wraps a Channel with bounded exponential backoff for
// transient failures.
//
// Reads are retried on network errors, rate limits and gateway errors.
// Writes pass through untouched: a trigger payload is bound to the time
// bucket it was computed in and must not be replayed after a backoff. The
// session retries rate-limited writes itself with a fresh payload.
type RetryChannel struct {
	channel   Channel
	config    *RetryConfig
	inspector giterror.Inspector
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRetryChannel creates a new RetryChannel with the given configuration
func NewRetryChannel(channel Channel, config *RetryConfig, logger *zap.Logger) *RetryChannel {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryChannel{
		channel:   channel,
		config:    config,
		inspector: giterror.NewInspector(),
		logger:    logger,
		sleep:     Sleep,
	}
}

// Get implements the Channel interface with retry logic
func (r *RetryChannel) Get(ctx context.Context, ref Ref) (*Snapshot, error) {
	var snap *Snapshot
	err := r.do(ctx, "get", ref, r.shouldRetryGet, func() error {
		var err error
		snap, err = r.channel.Get(ctx, ref)
		return err
	})
	return snap, err
}

// Put implements the Channel interface. It makes exactly one attempt.
func (r *RetryChannel) Put(ctx context.Context, ref Ref, payload string, version Version, message string) (int, error) {
	return r.channel.Put(ctx, ref, payload, version, message)
}

func (r *RetryChannel) do(ctx context.Context, op string, ref Ref, shouldRetry func(error) bool, call func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		err := call()
		if err == nil {
			return nil
		}

		lastErr = err

		// Don't retry on non-retryable errors
		if !shouldRetry(err) {
			return err
		}

		// Nothing left to wait for
		if attempt == r.config.MaxRetries {
			break
		}

		// Don't retry if context is cancelled
		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff := r.calculateBackoff(attempt)
		r.logger.Warn("mailbox call failed, retrying",
			zap.String("op", op),
			zap.Stringer("ref", ref),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", r.config.MaxRetries),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}
	}

	if r.config.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("failed after %d retries: %w", r.config.MaxRetries, lastErr)
}

func (r *RetryChannel) shouldRetryGet(err error) bool {
	return r.inspector.IsRateLimitError(err) ||
		r.inspector.IsNetworkError(err) ||
		r.inspector.IsServerError(err)
}

// calculateBackoff calculates the backoff duration for the given attempt
func (r *RetryChannel) calculateBackoff(attempt int) time.Duration {
	return r.config.Backoff(attempt)
}

// Backoff returns the jittered wait before retry number attempt+1.
func (c *RetryConfig) Backoff(attempt int) time.Duration {
	backoff := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt))

	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}

	// ±10% jitter
	jitter := backoff * 0.1 * (2*rand.Float64() - 1)
	backoff += jitter

	return time.Duration(backoff)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
