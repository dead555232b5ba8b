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

// Package github implements the trigger mailbox on a GitHub repository
// file. Reads and writes go through the REST contents API; reads may
// instead use the GraphQL API, whose blob oids are interchangeable with
// REST shas.
//
// Every request carries "Authorization: token <prefix><token>" and the
// pinned X-GitHub-Api-Version header, and response bodies are capped.
//
// Basic usage:
//
//	ch := github.Dial(github.Options{
//	    APIEndpoint: "https://api.github.com",
//	    TokenPrefix: "ghp_",
//	}, cred)
//	snap, err := ch.Get(ctx, cred.Ref())
//	if err != nil {
//	    // Handle error
//	}
//	status, err := ch.Put(ctx, cred.Ref(), payload, snap.Version, "Button Commit on 1700000000")
package github
