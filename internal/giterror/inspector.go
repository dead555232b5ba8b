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

package giterror

import (
	"errors"
	"net/http"
	"strings"

	relayerrors "github.com/sirseerhq/trigger-relay/internal/errors"
)

// Inspector provides methods for analyzing GitHub API errors.
type Inspector interface {
	// IsAuthError returns true if the error represents an authentication or authorization failure.
	IsAuthError(err error) bool

	// IsNotFoundError returns true if the error represents a resource not found error.
	IsNotFoundError(err error) bool

	// IsRateLimitError returns true if the error represents a rate limit error.
	IsRateLimitError(err error) bool

	// IsConflictError returns true if a write was rejected because the file
	// changed since it was read.
	IsConflictError(err error) bool

	// IsNetworkError returns true if the error represents a network connectivity error.
	IsNetworkError(err error) bool

	// IsServerError returns true for gateway errors that are safe to retry.
	IsServerError(err error) bool
}

// GitHubErrorInspector implements the Inspector interface for GitHub API
// errors. It checks sentinels and the HTTP status carried by a
// TransportError first, then falls back to message matching for errors
// produced by net/http and the GraphQL client.
type GitHubErrorInspector struct{}

// NewInspector creates a new GitHubErrorInspector.
func NewInspector() Inspector {
	return &GitHubErrorInspector{}
}

// IsAuthError checks if the error is an authentication or authorization error.
func (i *GitHubErrorInspector) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, relayerrors.ErrInvalidToken) {
		return true
	}
	if status := relayerrors.StatusOf(err); status != 0 {
		return status == http.StatusUnauthorized ||
			(status == http.StatusForbidden && !i.IsRateLimitError(err))
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "bad credentials") ||
		strings.Contains(errStr, "authentication")
}

// IsNotFoundError checks if the error is a not found error.
func (i *GitHubErrorInspector) IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, relayerrors.ErrRepoNotFound) {
		return true
	}
	if status := relayerrors.StatusOf(err); status != 0 {
		return status == http.StatusNotFound
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "404") ||
		strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "could not resolve to a repository")
}

// IsRateLimitError checks if the error is a rate limit error.
func (i *GitHubErrorInspector) IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, relayerrors.ErrRateLimit) || relayerrors.StatusOf(err) == http.StatusTooManyRequests {
		return true
	}
	// GitHub reports exhausted quotas as 403 with a rate limit message.
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "rate limit") {
		return true
	}
	return relayerrors.StatusOf(err) == 0 && strings.Contains(errStr, "429")
}

// IsConflictError checks if the error is a stale-version rejection.
func (i *GitHubErrorInspector) IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, relayerrors.ErrStaleVersion) {
		return true
	}
	return relayerrors.StatusOf(err) == http.StatusConflict
}

// IsNetworkError checks if the error is a network connectivity error.
func (i *GitHubErrorInspector) IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, relayerrors.ErrNetworkFailure) {
		return true
	}
	if relayerrors.StatusOf(err) != 0 {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "dial tcp") ||
		strings.Contains(errStr, "tls handshake") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "eof")
}

// IsServerError checks if the error carries a retryable gateway status.
func (i *GitHubErrorInspector) IsServerError(err error) bool {
	switch relayerrors.StatusOf(err) {
	case http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Classify wraps err with the sentinel matching its classification so
// callers can use errors.Is regardless of where the error came from.
// Rate limits are checked before auth because GitHub reports exhausted
// quotas with 403.
func Classify(inspector Inspector, err error) error {
	if err == nil {
		return nil
	}

	var sentinel error
	switch {
	case inspector.IsRateLimitError(err):
		sentinel = relayerrors.ErrRateLimit
	case inspector.IsAuthError(err):
		sentinel = relayerrors.ErrInvalidToken
	case inspector.IsNotFoundError(err):
		sentinel = relayerrors.ErrRepoNotFound
	case inspector.IsConflictError(err):
		sentinel = relayerrors.ErrStaleVersion
	case inspector.IsNetworkError(err):
		sentinel = relayerrors.ErrNetworkFailure
	default:
		return err
	}

	if errors.Is(err, sentinel) {
		return err
	}
	return &classified{err: err, sentinel: sentinel}
}

// classified keeps the original message while adding a sentinel to the chain.
type classified struct {
	err      error
	sentinel error
}

func (c *classified) Error() string { return c.err.Error() }

func (c *classified) Unwrap() []error { return []error{c.err, c.sentinel} }
