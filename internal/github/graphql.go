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
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/shurcooL/graphql"

	relayerrors "github.com/sirseerhq/trigger-relay/internal/errors"
	"github.com/sirseerhq/trigger-relay/internal/giterror"
	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
)

// GraphQLReader reads the mailbox file through the GitHub GraphQL API.
// The blob oid it reports is the same sha the REST API uses, so its
// versions are valid for a REST write.
type GraphQLReader struct {
	client    *graphql.Client
	inspector giterror.Inspector
}

// NewGraphQLReader creates a reader for the GraphQL endpoint, e.g.
// https://api.github.com/graphql. httpClient must authenticate requests.
func NewGraphQLReader(httpClient *http.Client, endpoint string) *GraphQLReader {
	return &GraphQLReader{
		client:    graphql.NewClient(endpoint, httpClient),
		inspector: giterror.NewInspector(),
	}
}

// Get reads the file at the head of the default branch.
func (r *GraphQLReader) Get(ctx context.Context, ref rendezvous.Ref) (*rendezvous.Snapshot, error) {
	var query struct {
		Repository struct {
			Object *struct {
				Blob struct {
					Oid      graphql.String
					IsBinary graphql.Boolean
					Text     *graphql.String
				} `graphql:"... on Blob"`
			} `graphql:"object(expression: $expression)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}

	variables := map[string]interface{}{
		"owner":      graphql.String(ref.Owner),
		"repo":       graphql.String(ref.Repo),
		"expression": graphql.String("HEAD:" + ref.Path),
	}

	if err := r.client.Query(ctx, &query, variables); err != nil {
		return nil, r.mapError(err)
	}

	obj := query.Repository.Object
	if obj == nil || obj.Blob.Oid == "" {
		return nil, giterror.Classify(r.inspector, &relayerrors.TransportError{
			Op:     "get",
			Status: http.StatusNotFound,
			Err:    fmt.Errorf("%s: no such file on the default branch", ref),
		})
	}
	if obj.Blob.IsBinary || obj.Blob.Text == nil {
		return nil, &relayerrors.TransportError{
			Op:     "get",
			Status: http.StatusOK,
			Err:    fmt.Errorf("%s: blob has no text content", ref),
		}
	}

	return &rendezvous.Snapshot{
		Version: rendezvous.Version(obj.Blob.Oid),
		Content: string(*obj.Blob.Text),
		Status:  http.StatusOK,
	}, nil
}

// The GraphQL client reports HTTP failures only as text.
var non200Status = regexp.MustCompile(`non-200 OK status code: (\d{3})`)

// mapError turns a GraphQL client error into a TransportError, recovering
// the HTTP status where the client reported one.
func (r *GraphQLReader) mapError(err error) error {
	te := &relayerrors.TransportError{Op: "get", Err: err}
	if m := non200Status.FindStringSubmatch(err.Error()); m != nil {
		te.Status, _ = strconv.Atoi(m[1])
	} else if r.inspector.IsNotFoundError(err) {
		// "Could not resolve to a Repository" arrives with a 200.
		te.Status = http.StatusNotFound
	}
	return giterror.Classify(r.inspector, te)
}

// SplitChannel reads and writes the mailbox through different channels.
type SplitChannel struct {
	Reader interface {
		Get(ctx context.Context, ref rendezvous.Ref) (*rendezvous.Snapshot, error)
	}
	Writer rendezvous.Channel
}

// Get implements rendezvous.Channel.
func (s *SplitChannel) Get(ctx context.Context, ref rendezvous.Ref) (*rendezvous.Snapshot, error) {
	return s.Reader.Get(ctx, ref)
}

// Put implements rendezvous.Channel.
func (s *SplitChannel) Put(ctx context.Context, ref rendezvous.Ref, payload string, version rendezvous.Version, message string) (int, error) {
	return s.Writer.Put(ctx, ref, payload, version, message)
}
