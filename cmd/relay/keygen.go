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
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sirseerhq/trigger-relay/internal/config"
	"github.com/sirseerhq/trigger-relay/internal/credential"
	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
)

// secretSize is the length of a generated HMAC secret.
const secretSize = 32

type keygenOptions struct {
	owner  string
	repo   string
	path   string
	token  string
	secret string
}

func newKeygenCommand() *cobra.Command {
	opts := keygenOptions{}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Build a key blob for a device mailbox",
		Long: `Build a key blob from a GitHub token, an HMAC secret and the mailbox
address. The blob is printed to stdout.

When --secret is omitted a random 32-byte secret is generated and printed
to stderr in base64, so it can be provisioned on the device.

The token may be given with or without its ghp_ prefix; GITHUB_TOKEN is
used when --token is omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.owner, "owner", "", "Repository owner")
	cmd.Flags().StringVar(&opts.repo, "repo", "", "Repository name")
	cmd.Flags().StringVar(&opts.path, "path", "", "Mailbox file path within the repository")
	cmd.Flags().StringVar(&opts.token, "token", "", "GitHub personal access token (overrides GITHUB_TOKEN env var)")
	cmd.Flags().StringVar(&opts.secret, "secret", "", "HMAC secret shared with the device (default: random)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("path")

	return cmd
}

func runKeygen(cmd *cobra.Command, opts keygenOptions) error {
	token := opts.token
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	token = strings.TrimPrefix(strings.TrimSpace(token), config.DefaultConfig().GitHub.TokenPrefix)
	if token == "" {
		return fmt.Errorf("GitHub token not found. Set GITHUB_TOKEN or use --token flag")
	}

	secret := []byte(opts.secret)
	generated := len(secret) == 0
	if generated {
		secret = make([]byte, secretSize)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate secret: %w", err)
		}
	}

	ref := rendezvous.Ref{Owner: opts.owner, Repo: opts.repo, Path: opts.path}
	blob, err := credential.Encode(credential.New(token, secret, ref))
	if err != nil {
		return fmt.Errorf("failed to build key: %w", err)
	}

	if generated {
		fmt.Fprintf(cmd.ErrOrStderr(), "Generated HMAC secret (base64): %s\n", base64.StdEncoding.EncodeToString(secret))
	}
	fmt.Fprintln(cmd.OutOrStdout(), blob)
	return nil
}
