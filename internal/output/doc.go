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

// Package output writes run records as NDJSON (Newline Delimited JSON),
// one JSON object per line, so a run log can be appended to across
// invocations and consumed with line-oriented tools.
//
// Example usage:
//
//	w, err := output.Open("runs.ndjson") // or output.Stdout
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	if err := w.Write(record); err != nil {
//	    return err
//	}
package output
