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

package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGetStateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		mailbox string
		want    string
	}{
		{
			name:    "standard mailbox",
			mailbox: "swimmy/door-mailbox:trigger.txt",
			want:    "swimmy-door-mailbox-trigger.txt.state",
		},
		{
			name:    "nested path",
			mailbox: "org/repo:devices/door/box.txt",
			want:    "org-repo-devices-door-box.txt.state",
		},
		{
			name:    "simple",
			mailbox: "simple",
			want:    "simple.state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetStateFilePath("/var/lib/relay", tt.mailbox)
			if want := filepath.Join("/var/lib/relay", tt.want); got != want {
				t.Errorf("GetStateFilePath(%q) = %q, want %q", tt.mailbox, got, want)
			}
		})
	}
}

func TestSaveAndLoadState(t *testing.T) {
	tempDir := t.TempDir()
	finished := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)

	testState := &MailboxState{Mailbox: "test/repo:box.txt"}
	testState.Record("run-1", "succeeded", "", finished, true)

	stateFile := filepath.Join(tempDir, "nested", "test.state")

	if err := SaveState(testState, stateFile); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	info, err := os.Stat(stateFile)
	if err != nil {
		t.Fatalf("State file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("state file mode = %o, want 600", perm)
	}

	loadedState, err := LoadState(stateFile)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	if loadedState.Mailbox != testState.Mailbox {
		t.Errorf("Mailbox mismatch: got %q, want %q", loadedState.Mailbox, testState.Mailbox)
	}
	if loadedState.LastRunID != "run-1" || loadedState.LastOutcome != "succeeded" {
		t.Errorf("last run = %s %s", loadedState.LastRunID, loadedState.LastOutcome)
	}
	if loadedState.LastAcknowledged == nil || !loadedState.LastAcknowledged.Equal(finished) {
		t.Errorf("LastAcknowledged = %v, want %v", loadedState.LastAcknowledged, finished)
	}
	if loadedState.Version != CurrentVersion {
		t.Errorf("Version mismatch: got %d, want %d", loadedState.Version, CurrentVersion)
	}
	if loadedState.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if _, err := os.Stat(stateFile + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestRecord(t *testing.T) {
	st := &MailboxState{Mailbox: "o/r:p"}
	t1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	st.Record("a", "succeeded", "", t1, true)
	st.Record("b", "failed", "poll limit reached", t2, false)

	if st.TotalRuns != 2 || st.TotalAcknowledged != 1 {
		t.Errorf("totals = %d/%d, want 2/1", st.TotalRuns, st.TotalAcknowledged)
	}
	if st.LastRunID != "b" || st.LastOutcome != "failed" || st.LastError != "poll limit reached" {
		t.Errorf("last run = %+v", st)
	}
	if !st.LastRunTime.Equal(t2) {
		t.Errorf("LastRunTime = %v, want %v", st.LastRunTime, t2)
	}
	if st.LastAcknowledged == nil || !st.LastAcknowledged.Equal(t1) {
		t.Errorf("LastAcknowledged = %v, a failed run must keep the previous ack", st.LastAcknowledged)
	}
}

func TestLoadState_FileNotExist(t *testing.T) {
	tempDir := t.TempDir()
	stateFile := filepath.Join(tempDir, "nonexistent.state")

	_, err := LoadState(stateFile)
	if !errors.Is(err, ErrNoState) {
		t.Fatalf("LoadState() error = %v, want ErrNoState", err)
	}
}

func TestLoadState_CorruptedJSON(t *testing.T) {
	tempDir := t.TempDir()
	stateFile := filepath.Join(tempDir, "corrupted.state")

	if err := os.WriteFile(stateFile, []byte("{ invalid json"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadState(stateFile)
	if err == nil {
		t.Fatal("LoadState should fail for corrupted JSON")
	}
	if !errors.Is(err, ErrCorruptState) || !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("Unexpected error message: %v", err)
	}
}

func TestLoadState_ChecksumMismatch(t *testing.T) {
	tempDir := t.TempDir()
	stateFile := filepath.Join(tempDir, "tampered.state")

	testState := &MailboxState{Mailbox: "test/repo:box.txt", TotalRuns: 100}
	if err := SaveState(testState, stateFile); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(stateFile)
	if err != nil {
		t.Fatal(err)
	}

	tamperedData := strings.Replace(string(data), `"total_runs":100`, `"total_runs":200`, 1)
	if tamperedData == string(data) {
		t.Fatalf("tamper target not found in %s", data)
	}
	if err := os.WriteFile(stateFile, []byte(tamperedData), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = LoadState(stateFile)
	if err == nil {
		t.Fatal("LoadState should fail for tampered state")
	}
	if !errors.Is(err, ErrCorruptState) || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("Unexpected error message: %v", err)
	}
}

func TestLoadState_VersionMismatch(t *testing.T) {
	tempDir := t.TempDir()
	stateFile := filepath.Join(tempDir, "oldversion.state")

	oldState := map[string]interface{}{
		"version":    0,
		"checksum":   "",
		"mailbox":    "test/repo:box.txt",
		"total_runs": 5,
	}

	data, _ := json.MarshalIndent(oldState, "", "  ")
	if err := os.WriteFile(stateFile, data, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadState(stateFile)
	if err == nil {
		t.Fatal("LoadState should fail for version mismatch")
	}
	if !errors.Is(err, ErrCorruptState) || !strings.Contains(err.Error(), "incompatible with current version") {
		t.Errorf("Unexpected error message: %v", err)
	}
}

func TestAtomicWrite(t *testing.T) {
	tempDir := t.TempDir()
	stateFile := filepath.Join(tempDir, "atomic.state")

	if err := SaveState(&MailboxState{Mailbox: "test/repo:box.txt"}, stateFile); err != nil {
		t.Fatal(err)
	}

	initialData, err := os.ReadFile(stateFile)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate an interrupted write
	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, []byte("partial write"), 0o600); err != nil {
		t.Fatal(err)
	}

	currentData, err := os.ReadFile(stateFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(currentData) != string(initialData) {
		t.Error("Original state file was modified during partial write")
	}
	if _, err := LoadState(stateFile); err != nil {
		t.Errorf("LoadState after interrupted write: %v", err)
	}

	// A later save is unaffected by the leftover and cleans up after itself.
	if err := SaveState(&MailboxState{Mailbox: "test/repo:box.txt", TotalRuns: 1}, stateFile); err != nil {
		t.Fatal(err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(tempDir, "atomic.state.*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
	info, err := os.Stat(stateFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("state file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestDeleteState(t *testing.T) {
	tempDir := t.TempDir()
	stateFile := filepath.Join(tempDir, "delete.state")

	if err := SaveState(&MailboxState{Mailbox: "test/repo:box.txt"}, stateFile); err != nil {
		t.Fatal(err)
	}

	if err := DeleteState(stateFile); err != nil {
		t.Fatalf("DeleteState failed: %v", err)
	}

	if _, err := os.Stat(stateFile); !os.IsNotExist(err) {
		t.Error("State file still exists after deletion")
	}

	if err := DeleteState(stateFile); err != nil {
		t.Errorf("DeleteState on non-existent file should not error: %v", err)
	}
}
