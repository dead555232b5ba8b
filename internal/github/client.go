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
	"fmt"
	"time"

	"github.com/sirseerhq/trigger-relay/internal/credential"
	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
)

// Read APIs accepted by Options.ReadAPI.
const (
	ReadAPIREST    = "rest"
	ReadAPIGraphQL = "graphql"
)

// DefaultAPIVersion is the REST API version the mailbox protocol was built against.
const DefaultAPIVersion = "2022-11-28"

// Options selects endpoints and authentication for Dial.
type Options struct {
	APIEndpoint     string
	GraphQLEndpoint string
	ReadAPI         string
	TokenPrefix     string
	APIVersion      string
	RequestTimeout  time.Duration
}

// Dial returns the mailbox channel for cred. Writes always use the REST
// contents API; reads use GraphQL when opts.ReadAPI says so.
func Dial(opts Options, cred *credential.Credential) rendezvous.Channel {
	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	authorization := fmt.Sprintf("token %s%s", opts.TokenPrefix, cred.AccessToken())
	httpClient := NewHTTPClient(authorization, apiVersion, opts.RequestTimeout)

	rest := NewContentsClient(httpClient, opts.APIEndpoint)
	if opts.ReadAPI != ReadAPIGraphQL {
		return rest
	}
	return &SplitChannel{
		Reader: NewGraphQLReader(httpClient, opts.GraphQLEndpoint),
		Writer: rest,
	}
}
