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

// Package errors defines sentinel errors and the two typed errors used for
// consistent error handling across the application. The sentinels map to
// specific exit codes in the CLI for proper scripting support.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for consistent error handling and exit code mapping
var (
	// ErrCredential indicates the key blob could not be decoded into a credential.
	// Maps to exit code 2.
	ErrCredential = errors.New("invalid credential blob")

	// ErrTransport indicates the rendezvous channel answered with a
	// non-success status or could not be reached.
	ErrTransport = errors.New("rendezvous transport failure")

	// ErrInvalidToken indicates GitHub authentication failed.
	// Maps to exit code 2.
	ErrInvalidToken = errors.New("invalid github token")

	// ErrRepoNotFound indicates the mailbox repository or file does not exist or is not accessible.
	// Maps to exit code 2.
	ErrRepoNotFound = errors.New("repository not found")

	// ErrStaleVersion indicates a write was rejected because the version it
	// carried is no longer the current one.
	ErrStaleVersion = errors.New("stale resource version")

	// ErrNetworkFailure indicates a network connection problem.
	// Maps to exit code 3.
	ErrNetworkFailure = errors.New("network connection failed")

	// ErrRateLimit indicates GitHub API rate limit has been exceeded.
	// Maps to exit code 2.
	ErrRateLimit = errors.New("github rate limit exceeded")

	// ErrNotReady indicates an operation was attempted on a session whose
	// credential never decoded.
	ErrNotReady = errors.New("session not ready")

	// ErrInvalidState indicates an operation is not allowed in the session's current state.
	ErrInvalidState = errors.New("invalid session state")

	// ErrSendInFlight indicates a second send overlapped one still running.
	ErrSendInFlight = errors.New("send already in flight")

	// ErrPollLimit indicates the device did not acknowledge within the configured poll ceiling.
	// Maps to exit code 4.
	ErrPollLimit = errors.New("poll limit reached without acknowledgment")
)

// CredentialError reports which stage of blob decoding failed.
type CredentialError struct {
	Stage string
	Err   error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrCredential, e.Stage)
	}
	return fmt.Sprintf("%s: %s: %v", ErrCredential, e.Stage, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Is makes every CredentialError match ErrCredential.
func (e *CredentialError) Is(target error) bool { return target == ErrCredential }

// TransportError describes a failed get or put against the rendezvous
// channel. Status is zero when no response was received.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s failed with status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s failed with status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	default:
		return e.Op + " failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes every TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// StatusOf returns the HTTP status carried by a TransportError anywhere in
// err's chain, or zero.
func StatusOf(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}
