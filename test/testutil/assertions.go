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

package testutil

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// AssertRunLog validates that a file holds NDJSON run records and returns
// them decoded.
func AssertRunLog(t *testing.T, filePath string, expectedRuns int) []map[string]interface{} {
	t.Helper()

	file, err := os.Open(filePath)
	if err != nil {
		t.Fatalf("Failed to open run log: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var records []map[string]interface{}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var record map[string]interface{}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Errorf("Line %d: invalid JSON: %v", len(records)+1, err)
			continue
		}
		assertRunFields(t, record)
		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		t.Fatalf("Error reading file: %v", err)
	}

	if len(records) != expectedRuns {
		t.Errorf("Expected %d runs, got %d", expectedRuns, len(records))
	}
	return records
}

// AssertRunRecords validates the run record files saved in dir and returns
// them decoded.
func AssertRunRecords(t *testing.T, dir string, expectedRuns int) []map[string]interface{} {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, "run-*.json"))
	if err != nil {
		t.Fatalf("Failed to glob run records: %v", err)
	}
	if len(matches) != expectedRuns {
		t.Fatalf("Expected %d run records, found %d", expectedRuns, len(matches))
	}

	records := make([]map[string]interface{}, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read run record: %v", err)
		}

		var record map[string]interface{}
		if err := json.Unmarshal(data, &record); err != nil {
			t.Fatalf("Invalid run record JSON in %s: %v", path, err)
		}
		assertRunFields(t, record)
		records = append(records, record)
	}
	return records
}

func assertRunFields(t *testing.T, record map[string]interface{}) {
	t.Helper()

	requiredFields := []string{"relay_version", "run_id", "mailbox", "parameters", "results"}
	for _, field := range requiredFields {
		if _, ok := record[field]; !ok {
			t.Errorf("Missing required run field: %s", field)
		}
	}
}

// AssertContainsString checks if a string contains a substring
func AssertContainsString(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Errorf("Expected string to contain %q, got: %s", needle, haystack)
	}
}

// AssertNotContainsString checks if a string does not contain a substring
func AssertNotContainsString(t *testing.T, haystack, needle string) {
	t.Helper()
	if strings.Contains(haystack, needle) {
		t.Errorf("Expected string to NOT contain %q, got: %s", needle, haystack)
	}
}

// AssertErrorContains checks if an error contains expected text
func AssertErrorContains(t *testing.T, err error, expected string) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), expected) {
		t.Errorf("Expected error to contain %q, got: %v", expected, err)
	}
}

// AssertFilePermissions checks file has expected permissions
func AssertFilePermissions(t *testing.T, path string, expectedMode os.FileMode) {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat file: %v", err)
	}

	mode := info.Mode()
	if mode != expectedMode {
		t.Errorf("Expected file mode %v, got %v", expectedMode, mode)
	}
}
