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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sirseerhq/trigger-relay/internal/credential"
	relayerrors "github.com/sirseerhq/trigger-relay/internal/errors"
	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
	"github.com/sirseerhq/trigger-relay/pkg/version"
	"github.com/sirseerhq/trigger-relay/test/testutil"
)

var testRef = rendezvous.Ref{Owner: "swimmy", Repo: "door-mailbox", Path: "trigger.txt"}

// isolateEnv keeps the developer's environment and home config out of a test.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, name := range []string{
		"RELAY_KEY", "GITHUB_TOKEN", "GITHUB_API_ENDPOINT", "GITHUB_GRAPHQL_ENDPOINT",
		"RELAY_READ_API", "RELAY_POLL_INTERVAL", "RELAY_MAX_POLLS", "RELAY_MAX_RETRIES",
		"RELAY_LOG_LEVEL", "RELAY_LOG_JSON", "RELAY_STATE_DIR",
	} {
		t.Setenv(name, "")
	}
}

func testBlob(t *testing.T) string {
	t.Helper()
	blob, err := credential.Encode(credential.New("abc123", []byte("secret"), testRef))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return blob
}

func runCLI(t *testing.T, stdin string, args ...string) testutil.CLIResult {
	t.Helper()
	return testutil.RunCommand(t, newRootCommand(), stdin, args...)
}

func TestMapErrorToExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"general", errors.New("boom"), 1},
		{"write rejected", &relayerrors.TransportError{Op: "put", Status: http.StatusUnprocessableEntity}, 1},
		{"bad blob", &relayerrors.CredentialError{Stage: "zlib"}, 2},
		{"not ready", fmt.Errorf("%w: bad", relayerrors.ErrNotReady), 2},
		{"bad token", &relayerrors.TransportError{Op: "get", Status: 401, Err: relayerrors.ErrInvalidToken}, 2},
		{"missing repo", fmt.Errorf("get: %w", relayerrors.ErrRepoNotFound), 2},
		{"rate limited", relayerrors.ErrRateLimit, 2},
		{"network", &relayerrors.TransportError{Op: "get", Err: relayerrors.ErrNetworkFailure}, 3},
		{"poll limit", relayerrors.ErrPollLimit, 4},
		{"poll limit after auth failure", fmt.Errorf("%w (last poll: %w)", relayerrors.ErrPollLimit, relayerrors.ErrInvalidToken), 4},
		{"run deadline", context.DeadlineExceeded, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapErrorToExitCode(tt.err); got != tt.want {
				t.Errorf("mapErrorToExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	result := runCLI(t, "", "version")
	testutil.AssertCLISuccess(t, result)
	if result.Stdout != "trigger-relay "+version.Version+"\n" {
		t.Errorf("stdout = %q", result.Stdout)
	}
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	isolateEnv(t)
	server := testutil.NewMailboxServer(t, testRef.Owner, testRef.Repo, testRef.Path, "idle\n")
	configPath, _ := testutil.WriteConfig(t, t.TempDir(), server, "trigger:\n  max_polls: -1\n")

	result := runCLI(t, "", "trigger", "--config", configPath, "--key", testBlob(t))
	testutil.AssertCLIError(t, result, "invalid configuration")
	if reqs := server.Requests(); len(reqs) != 0 {
		t.Errorf("server saw %d requests, want none", len(reqs))
	}
}
