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

// Package rendezvous defines the mailbox port shared by the trigger session
// and the backends that implement it. A mailbox is a single versioned file:
// readers receive its current content and version tag, and writers must
// present the version they read so the backend can reject stale writes.
//
// Content on the mailbox is world-readable. Nothing here provides
// confidentiality.
package rendezvous

import (
	"context"
	"fmt"
	"net/http"
)

// Ref is the logical address of a mailbox file.
type Ref struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Path  string `json:"path"`
}

// String renders the ref as owner/repo:path.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s:%s", r.Owner, r.Repo, r.Path)
}

// Version is the opaque tag returned by a read. On GitHub it is the git
// blob SHA of the file. A version authorizes exactly one write.
type Version string

// Snapshot is the result of a successful read.
type Snapshot struct {
	Version Version
	// Content is the file body after the backend's transport decoding.
	Content string
	Status  int
}

// Channel is a versioned mailbox.
//
// Get and Put return a *errors.TransportError for any non-success response,
// carrying the HTTP status, and for failures where no response was received
// (Status zero). Put returns the success status on success.
type Channel interface {
	Get(ctx context.Context, ref Ref) (*Snapshot, error)
	Put(ctx context.Context, ref Ref, payload string, version Version, message string) (int, error)
}

// StatusOK is the only status a mailbox operation counts as success.
const StatusOK = http.StatusOK
