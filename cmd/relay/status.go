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

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirseerhq/trigger-relay/internal/credential"
	"github.com/sirseerhq/trigger-relay/internal/metadata"
	"github.com/sirseerhq/trigger-relay/internal/state"
)

func newStatusCommand(root *rootOptions) *cobra.Command {
	var (
		key      string
		mailbox  string
		stateDir string
		asJSON   bool
		reset    bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last recorded trigger run for a mailbox",
		Long: `Show the last trigger run recorded for a mailbox. The mailbox is named
with --mailbox owner/repo:path, or derived from a key blob via --key or
RELAY_KEY.

--reset clears the mailbox's cumulative state (run and acknowledgement
counters). Individual run records are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cmd.Flags().Changed("state-dir") {
				cfg.Defaults.StateDir = stateDir
			}

			if mailbox == "" {
				blob, keyErr := resolveKey(key, cmd.InOrStdin(), cmd.ErrOrStderr())
				if keyErr != nil {
					return fmt.Errorf("name a mailbox with --mailbox or provide its key: %w", keyErr)
				}
				cred, decodeErr := credential.Decode(blob)
				if decodeErr != nil {
					return decodeErr
				}
				mailbox = cred.Ref().String()
			}

			stateFile := state.GetStateFilePath(cfg.Defaults.StateDir, mailbox)
			if reset {
				if err := state.DeleteState(stateFile); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset state for %s\n", mailbox)
				return nil
			}

			ms, err := state.LoadState(stateFile)
			if err != nil {
				if errors.Is(err, state.ErrNoState) {
					fmt.Fprintf(cmd.OutOrStdout(), "No runs recorded for %s\n", mailbox)
					return nil
				}
				return err
			}

			record, err := metadata.LoadLatestRecord(cfg.Defaults.StateDir, mailbox)
			if err != nil {
				return err
			}

			if asJSON {
				if record == nil {
					return fmt.Errorf("no run record found for %s", mailbox)
				}
				return metadata.WriteRecordToWriter(record, cmd.OutOrStdout())
			}

			printStatus(cmd, ms, record)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Key blob identifying the mailbox (- reads stdin)")
	cmd.Flags().StringVar(&mailbox, "mailbox", "", "Mailbox as owner/repo:path")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory for run records and state (overrides config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the latest run record as JSON")
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear the mailbox's cumulative state")
	cmd.MarkFlagsMutuallyExclusive("json", "reset")

	return cmd
}

func printStatus(cmd *cobra.Command, ms *state.MailboxState, record *metadata.RunRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Mailbox:      %s\n", ms.Mailbox)
	fmt.Fprintf(out, "Last run:     %s (%s)\n", ms.LastRunID, ms.LastRunTime.Format(time.RFC3339))
	fmt.Fprintf(out, "Outcome:      %s\n", ms.LastOutcome)
	if ms.LastError != "" {
		fmt.Fprintf(out, "Error:        %s\n", ms.LastError)
	}
	if ms.LastAcknowledged != nil {
		fmt.Fprintf(out, "Last ack:     %s\n", ms.LastAcknowledged.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Runs:         %d (%d acknowledged)\n", ms.TotalRuns, ms.TotalAcknowledged)
	if record != nil && record.RunID == ms.LastRunID {
		r := record.Results
		fmt.Fprintf(out, "Polls:        %d\n", r.Polls)
		fmt.Fprintf(out, "API calls:    %d (%d failed)\n", r.APICallCount, r.FailedCalls)
		fmt.Fprintf(out, "Duration:     %s\n", r.Duration)
	}
}
