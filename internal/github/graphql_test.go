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

package github

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	relayerrors "github.com/sirseerhq/trigger-relay/internal/errors"
	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
	"github.com/sirseerhq/trigger-relay/internal/token"
	"github.com/sirseerhq/trigger-relay/test/testutil"
)

func TestGraphQLReader_VersionUsableForRESTWrite(t *testing.T) {
	server := newServer(t, "idle\n")
	ch := dialServer(server, ReadAPIGraphQL)
	ctx := context.Background()

	snap, err := ch.Get(ctx, testRef)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Content != "idle\n" || string(snap.Version) != server.SHA() || snap.Status != http.StatusOK {
		t.Fatalf("Get() = %+v, server sha %s", snap, server.SHA())
	}

	status, err := ch.Put(ctx, testRef, token.Generate([]byte("secret"), 1700000000), snap.Version, "m")
	if err != nil || status != http.StatusOK {
		t.Fatalf("Put() = %d, %v", status, err)
	}

	reqs := server.Requests()
	if reqs[0].Method != http.MethodPost || reqs[0].Path != "/graphql" {
		t.Errorf("read went to %s %s, want POST /graphql", reqs[0].Method, reqs[0].Path)
	}
	if !strings.Contains(reqs[0].Body, "HEAD:trigger.txt") {
		t.Errorf("query did not address the file: %s", reqs[0].Body)
	}
	if reqs[1].Method != http.MethodPut {
		t.Errorf("write used %s, want PUT", reqs[1].Method)
	}
}

func TestGraphQLReader_SeesAcknowledgement(t *testing.T) {
	server := newServer(t, "idle\n")
	server.AckAfter = 0
	ch := dialServer(server, ReadAPIGraphQL)
	ctx := context.Background()

	snap, err := ch.Get(ctx, testRef)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ch.Put(ctx, testRef, "dG9rZW4=", snap.Version, "m"); err != nil {
		t.Fatal(err)
	}

	snap, err = ch.Get(ctx, testRef)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Content != "ok\n" {
		t.Errorf("content = %q, want ok", snap.Content)
	}
}

func TestGraphQLReader_Errors(t *testing.T) {
	tests := []struct {
		name       string
		configure  func(m *testutil.MailboxServer)
		ref        rendezvous.Ref
		wantStatus int
		wantIs     error
	}{
		{
			name:       "missing file",
			configure:  func(*testutil.MailboxServer) {},
			ref:        rendezvous.Ref{Owner: testRef.Owner, Repo: testRef.Repo, Path: "absent.txt"},
			wantStatus: http.StatusNotFound,
			wantIs:     relayerrors.ErrRepoNotFound,
		},
		{
			name:       "missing repository",
			configure:  func(*testutil.MailboxServer) {},
			ref:        rendezvous.Ref{Owner: testRef.Owner, Repo: "nope", Path: testRef.Path},
			wantStatus: http.StatusNotFound,
			wantIs:     relayerrors.ErrRepoNotFound,
		},
		{
			name:       "bad credentials",
			configure:  func(m *testutil.MailboxServer) { m.Authorization = "token ghp_other" },
			ref:        testRef,
			wantStatus: http.StatusUnauthorized,
			wantIs:     relayerrors.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newServer(t, "idle\n")
			server.Configure(tt.configure)
			ch := dialServer(server, ReadAPIGraphQL)

			_, err := ch.Get(context.Background(), tt.ref)
			if got := relayerrors.StatusOf(err); got != tt.wantStatus {
				t.Errorf("status = %d, want %d (err: %v)", got, tt.wantStatus, err)
			}
			if !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
		})
	}
}
