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

package output

// RecordWriter is the sink for run records. Each Write must reach the
// output before it returns, so a crash never loses an earlier record.
type RecordWriter interface {
	// Write writes a single record to the output.
	Write(record interface{}) error

	// Close closes the underlying writer and releases any resources.
	Close() error
}
