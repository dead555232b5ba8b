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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sirseerhq/trigger-relay/internal/credential"
)

func newCheckCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a key blob without sending anything",
		Long: `Decode a key blob and report the mailbox it addresses. Secrets are
never printed. No network calls are made.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := resolveKey(key, cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			cred, err := credential.Decode(blob)
			if err != nil {
				return err
			}

			ref := cred.Ref()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Key is valid")
			fmt.Fprintf(out, "  Owner:      %s\n", ref.Owner)
			fmt.Fprintf(out, "  Repository: %s\n", ref.Repo)
			fmt.Fprintf(out, "  Path:       %s\n", ref.Path)
			fmt.Fprintf(out, "  Secret:     %d bytes\n", len(cred.HMACSecret()))
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Key blob (overrides RELAY_KEY env var; - reads stdin)")

	return cmd
}
