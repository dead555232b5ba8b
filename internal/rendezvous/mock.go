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
	"crypto/sha1" // #nosec G505 - git blob ids are SHA-1
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"

	relayerrors "github.com/sirseerhq/trigger-relay/internal/errors"
)

// MockChannel is an in-memory mailbox for tests. It mimics the GitHub
// contents API: versions are git blob ids, Put payloads are base64 decoded
// before storage, and a stale version is rejected with 409.
//
// A simulated device acknowledges writes: once a payload has been stored,
// the AckAfter-th subsequent Get (zero-based) sees the content "ok".
type MockChannel struct {
	mu sync.Mutex

	content string
	version Version

	// AckAfter is the number of reads after a write that still see the
	// written payload. Negative means the device never acknowledges.
	AckAfter int

	// Forced failures. A non-zero status is returned as a TransportError;
	// a non-nil error is returned as a transport failure with no status.
	GetStatus int
	PutStatus int
	GetErr    error
	PutErr    error

	// Track calls for verification
	Gets        int
	Puts        int
	Calls       []string
	LastPayload string
	LastMessage string
	LastVersion Version

	pending       bool
	readsSincePut int
}

// MockChannelOption allows configuring the mock channel
type MockChannelOption func(*MockChannel)

// NewMockChannel creates a mailbox holding "idle" whose device never acknowledges.
func NewMockChannel(opts ...MockChannelOption) *MockChannel {
	m := &MockChannel{AckAfter: -1}
	m.setContent("idle\n")
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithContent sets the initial file content.
func WithContent(content string) MockChannelOption {
	return func(m *MockChannel) {
		m.setContent(content)
	}
}

// WithAckAfter makes the simulated device write "ok" after n reads.
func WithAckAfter(n int) MockChannelOption {
	return func(m *MockChannel) {
		m.AckAfter = n
	}
}

// WithGetStatus makes every Get fail with the given HTTP status.
func WithGetStatus(status int) MockChannelOption {
	return func(m *MockChannel) {
		m.GetStatus = status
	}
}

// WithPutStatus makes every Put fail with the given HTTP status.
func WithPutStatus(status int) MockChannelOption {
	return func(m *MockChannel) {
		m.PutStatus = status
	}
}

// WithGetError makes every Get fail without a response.
func WithGetError(err error) MockChannelOption {
	return func(m *MockChannel) {
		m.GetErr = err
	}
}

// WithPutError makes every Put fail without a response.
func WithPutError(err error) MockChannelOption {
	return func(m *MockChannel) {
		m.PutErr = err
	}
}

// Get implements the Channel interface
func (m *MockChannel) Get(ctx context.Context, ref Ref) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Gets++
	m.Calls = append(m.Calls, "get")

	select {
	case <-ctx.Done():
		return nil, &relayerrors.TransportError{Op: "get", Err: ctx.Err()}
	default:
	}

	if m.GetErr != nil {
		return nil, &relayerrors.TransportError{Op: "get", Err: m.GetErr}
	}
	if m.GetStatus != 0 && m.GetStatus != http.StatusOK {
		return nil, &relayerrors.TransportError{Op: "get", Status: m.GetStatus}
	}

	if m.pending && m.AckAfter >= 0 {
		if m.readsSincePut >= m.AckAfter {
			m.setContent("ok\n")
			m.pending = false
		}
		m.readsSincePut++
	}

	return &Snapshot{Version: m.version, Content: m.content, Status: http.StatusOK}, nil
}

// Put implements the Channel interface
func (m *MockChannel) Put(ctx context.Context, ref Ref, payload string, version Version, message string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Puts++
	m.Calls = append(m.Calls, "put")
	m.LastPayload = payload
	m.LastMessage = message
	m.LastVersion = version

	select {
	case <-ctx.Done():
		return 0, &relayerrors.TransportError{Op: "put", Err: ctx.Err()}
	default:
	}

	if m.PutErr != nil {
		return 0, &relayerrors.TransportError{Op: "put", Err: m.PutErr}
	}
	if m.PutStatus != 0 && m.PutStatus != http.StatusOK {
		return m.PutStatus, &relayerrors.TransportError{Op: "put", Status: m.PutStatus}
	}
	if version != m.version {
		return http.StatusConflict, &relayerrors.TransportError{
			Op:     "put",
			Status: http.StatusConflict,
			Err:    fmt.Errorf("%s does not match %s: %w", version, m.version, relayerrors.ErrStaleVersion),
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return http.StatusUnprocessableEntity, &relayerrors.TransportError{
			Op:     "put",
			Status: http.StatusUnprocessableEntity,
			Err:    fmt.Errorf("content is not valid base64: %w", err),
		}
	}

	m.setContent(string(decoded))
	m.pending = true
	m.readsSincePut = 0
	return http.StatusOK, nil
}

// Content returns the current file content.
func (m *MockChannel) Content() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content
}

// Version returns the current version tag.
func (m *MockChannel) Version() Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// SetContent replaces the file content as the device would, bumping the version.
func (m *MockChannel) SetContent(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setContent(content)
	m.pending = false
}

func (m *MockChannel) setContent(content string) {
	m.content = content
	m.version = BlobVersion([]byte(content))
}

// BlobVersion computes the git blob id of content, which is what GitHub
// reports as a file's sha.
func BlobVersion(content []byte) Version {
	h := sha1.New() // #nosec G401 - git object ids, not a security boundary
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return Version(hex.EncodeToString(h.Sum(nil)))
}
