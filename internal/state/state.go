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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoState is returned by LoadState when a mailbox has never been triggered.
	ErrNoState = errors.New("no previous trigger state")

	// ErrCorruptState is returned by LoadState when a state file exists but
	// cannot be trusted: bad JSON, an unknown schema version or a checksum
	// that does not match its content.
	ErrCorruptState = errors.New("state file is corrupted")
)

var fileNameReplacer = strings.NewReplacer("/", "-", ":", "-", "\\", "-")

// GetStateFilePath returns the path of a mailbox's state file under
// stateDir. Mailbox should be in "owner/repo:path" format.
// Returns: {stateDir}/owner-repo-path.state
func GetStateFilePath(stateDir, mailbox string) string {
	return filepath.Join(stateDir, fileNameReplacer.Replace(mailbox)+".state")
}

// SaveState stamps state with the current schema version and its checksum
// and writes it to stateFile. The file is replaced atomically, so a reader
// sees either the previous state or the new one.
func SaveState(state *MailboxState, stateFile string) error {
	state.Version = CurrentVersion

	checksum, err := calculateChecksum(state)
	if err != nil {
		return fmt.Errorf("failed to calculate checksum: %w", err)
	}
	state.Checksum = checksum

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return writeFileAtomic(stateFile, data)
}

// writeFileAtomic writes data to a private temporary file beside path,
// flushes it to disk and renames it over path.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temporary state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// LoadState reads stateFile and verifies its schema version and checksum.
// A missing file yields ErrNoState; an untrustworthy one ErrCorruptState.
func LoadState(stateFile string) (*MailboxState, error) {
	data, err := os.ReadFile(stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrNoState, stateFile)
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", stateFile, err)
	}

	var state MailboxState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w (invalid JSON): %v", ErrCorruptState, err)
	}

	if state.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: version %d is incompatible with current version %d",
			ErrCorruptState, state.Version, CurrentVersion)
	}

	want, err := calculateChecksum(&state)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum for validation: %w", err)
	}
	if state.Checksum != want {
		return nil, fmt.Errorf("%w (checksum mismatch)", ErrCorruptState)
	}

	return &state, nil
}

// DeleteState removes the state file for a mailbox. A missing file is not
// an error.
func DeleteState(stateFile string) error {
	if err := os.Remove(stateFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// calculateChecksum returns the hex SHA-256 of state's JSON encoding with
// the checksum field blanked.
func calculateChecksum(state *MailboxState) (string, error) {
	unsigned := *state
	unsigned.Checksum = ""

	data, err := json.Marshal(unsigned)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
