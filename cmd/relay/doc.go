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

// Package main implements the trigger-relay command-line interface.
// It fires a one-shot trigger at a device that watches a file in a GitHub
// repository, then waits for the device to acknowledge it.
//
// The CLI supports:
//   - Sending a trigger from a key blob and polling for the device's "ok"
//   - Checking a key blob without revealing its secrets
//   - Minting key blobs for new devices
//   - Showing the last run recorded for a mailbox
//
// Usage:
//
//	relay trigger --key <blob> [flags]
//
// Example:
//
//	export RELAY_KEY=eJwrz...
//	relay trigger --max-polls 12 --output runs.ndjson
//
// Exit codes:
//   - 0: Success
//   - 1: General error
//   - 2: Credential, authentication or authorization error
//   - 3: Network error
//   - 4: Trigger not acknowledged in time
package main
