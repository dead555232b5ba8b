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

// Package state persists the outcome of the last trigger per mailbox.
//
// State files are written atomically using a write-to-temp-and-rename
// pattern and carry a SHA256 checksum and a schema version, so a crash or a
// hand edit is detected on load instead of being reported as history.
//
// Example usage:
//
//	path := state.GetStateFilePath(stateDir, "swimmy/door-mailbox:trigger.txt")
//	st, err := state.LoadState(path)
//	if errors.Is(err, state.ErrNoState) {
//	    st = &state.MailboxState{Mailbox: "swimmy/door-mailbox:trigger.txt"}
//	}
//	st.Record(runID, "succeeded", "", time.Now(), true)
//	err = state.SaveState(st, path)
package state
