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

// Package testutil provides common test helpers for trigger-relay
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
)

// RecordedRequest is one request seen by a MailboxServer.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	APIVersion    string
	Body          string
}

// MailboxServer is a GitHub-like server hosting a single mailbox file. It
// serves the REST contents API and the GraphQL blob lookup, rejects
// writes against a stale sha, and simulates the device: AckAfter reads
// after a successful write the file becomes "ok\n".
type MailboxServer struct {
	*httptest.Server

	mu sync.Mutex

	owner, repo, path string
	content           []byte
	sha               string

	// Authorization, when set, is the only accepted Authorization header.
	Authorization string

	// AckAfter is the number of reads after a write that still see the
	// written payload. Negative means never.
	AckAfter int

	// Forced failures for the REST API; zero means behave normally.
	GetStatus int
	PutStatus int

	// RateLimited makes every request fail with an exhausted quota.
	RateLimited bool

	requests      []RecordedRequest
	pending       bool
	readsSincePut int
}

// NewMailboxServer starts a server hosting owner/repo:path with the given
// initial content. The server is closed when the test ends.
func NewMailboxServer(t *testing.T, owner, repo, path, content string) *MailboxServer {
	t.Helper()

	m := &MailboxServer{
		owner:    owner,
		repo:     repo,
		path:     path,
		AckAfter: -1,
	}
	m.setContent([]byte(content))

	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Close)
	return m
}

// Content returns the current file content.
func (m *MailboxServer) Content() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.content)
}

// SHA returns the current blob sha.
func (m *MailboxServer) SHA() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sha
}

// SetContent replaces the file as another writer would.
func (m *MailboxServer) SetContent(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setContent([]byte(content))
	m.pending = false
}

// Configure runs fn with the server locked, for changing exported fields
// while requests may be in flight.
func (m *MailboxServer) Configure(fn func(m *MailboxServer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// Requests returns a copy of the request history.
func (m *MailboxServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// GraphQLURL is the GraphQL endpoint of the server.
func (m *MailboxServer) GraphQLURL() string {
	return m.URL + "/graphql"
}

func (m *MailboxServer) setContent(content []byte) {
	m.content = content
	m.sha = string(rendezvous.BlobVersion(content))
}

func (m *MailboxServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, RecordedRequest{
		Method:        r.Method,
		Path:          r.URL.EscapedPath(),
		Authorization: r.Header.Get("Authorization"),
		APIVersion:    r.Header.Get("X-GitHub-Api-Version"),
		Body:          string(body),
	})

	if m.Authorization != "" && r.Header.Get("Authorization") != m.Authorization {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"message":           "Bad credentials",
			"documentation_url": "https://docs.github.com/rest",
		})
		return
	}

	if m.RateLimited {
		w.Header().Set("X-RateLimit-Remaining", "0")
		writeJSON(w, http.StatusForbidden, map[string]string{
			"message": "API rate limit exceeded for user ID 1.",
		})
		return
	}

	contentsPath := fmt.Sprintf("/repos/%s/%s/contents/%s", m.owner, m.repo, m.path)
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/graphql":
		m.handleGraphQL(w, body)
	case r.URL.Path != contentsPath:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	case r.Method == http.MethodGet:
		m.handleGet(w)
	case r.Method == http.MethodPut:
		m.handlePut(w, body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// read applies the simulated device and returns the content a read sees.
func (m *MailboxServer) read() []byte {
	if m.pending && m.AckAfter >= 0 {
		if m.readsSincePut >= m.AckAfter {
			m.setContent([]byte("ok\n"))
			m.pending = false
		}
		m.readsSincePut++
	}
	return m.content
}

func (m *MailboxServer) handleGet(w http.ResponseWriter) {
	if m.GetStatus != 0 {
		writeJSON(w, m.GetStatus, map[string]string{"message": http.StatusText(m.GetStatus)})
		return
	}

	content := m.read()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"type":     "file",
		"path":     m.path,
		"sha":      m.sha,
		"size":     len(content),
		"encoding": "base64",
		"content":  wrapBase64(content),
	})
}

func (m *MailboxServer) handlePut(w http.ResponseWriter, body []byte) {
	if m.PutStatus != 0 {
		writeJSON(w, m.PutStatus, map[string]string{"message": http.StatusText(m.PutStatus)})
		return
	}

	var req struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}
	if req.SHA != m.sha {
		writeJSON(w, http.StatusConflict, map[string]string{
			"message": fmt.Sprintf("%s does not match %s", m.path, req.SHA),
		})
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"message": "content is not valid Base64",
		})
		return
	}

	m.setContent(decoded)
	m.pending = true
	m.readsSincePut = 0

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"content": map[string]interface{}{"path": m.path, "sha": m.sha},
		"commit":  map[string]interface{}{"message": req.Message},
	})
}

func (m *MailboxServer) handleGraphQL(w http.ResponseWriter, body []byte) {
	var req struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}

	owner, _ := req.Variables["owner"].(string)
	repo, _ := req.Variables["repo"].(string)
	expression, _ := req.Variables["expression"].(string)

	if owner != m.owner || repo != m.repo {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"repository": nil},
			"errors": []map[string]interface{}{{
				"type":    "NOT_FOUND",
				"message": fmt.Sprintf("Could not resolve to a Repository with the name '%s/%s'.", owner, repo),
			}},
		})
		return
	}

	var object interface{}
	if expression == "HEAD:"+m.path {
		content := m.read()
		object = map[string]interface{}{
			"oid":      m.sha,
			"isBinary": false,
			"text":     string(content),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"repository": map[string]interface{}{"object": object},
		},
	})
}

// wrapBase64 encodes content the way GitHub does, with a newline every 60 columns.
func wrapBase64(content []byte) string {
	encoded := base64.StdEncoding.EncodeToString(content)
	var b strings.Builder
	for len(encoded) > 60 {
		b.WriteString(encoded[:60])
		b.WriteByte('\n')
		encoded = encoded[60:]
	}
	b.WriteString(encoded)
	b.WriteByte('\n')
	return b.String()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
