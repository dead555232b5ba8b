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
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sirseerhq/trigger-relay/internal/config"
	relayerrors "github.com/sirseerhq/trigger-relay/internal/errors"
	"github.com/sirseerhq/trigger-relay/internal/logging"
	"github.com/sirseerhq/trigger-relay/pkg/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(mapErrorToExitCode(err))
	}
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Trigger a device through a GitHub file mailbox",
		Long: `trigger-relay sends a one-shot, authenticated trigger to a device that
watches a file in a GitHub repository. The trigger is an HMAC token bound to
the current ten-second window; the device answers by writing "ok" into the
same file.`,
		Version:       version.Version,
		SilenceUsage:  true, // Don't show usage on error
		SilenceErrors: true, // We'll handle error printing ourselves
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default: .trigger-relay.yaml or ~/.trigger-relay/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flags.BoolVar(&opts.logJSON, "log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(
		newTriggerCommand(opts),
		newCheckCommand(),
		newKeygenCommand(),
		newStatusCommand(opts),
		newVersionCommand(),
	)

	return rootCmd
}

// load reads the configuration and builds the logger, applying the
// persistent flags on top of the file and environment.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logJSON {
		cfg.Log.Format = "json"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// mapErrorToExitCode maps internal errors to appropriate exit codes
func mapErrorToExitCode(err error) int {
	if err == nil {
		return 0
	}

	if errors.Is(err, relayerrors.ErrPollLimit) {
		return 4 // Trigger sent but not acknowledged in time
	}

	if errors.Is(err, relayerrors.ErrCredential) ||
		errors.Is(err, relayerrors.ErrNotReady) ||
		errors.Is(err, relayerrors.ErrInvalidToken) ||
		errors.Is(err, relayerrors.ErrRepoNotFound) ||
		errors.Is(err, relayerrors.ErrRateLimit) {
		return 2 // Credential and authorization errors
	}

	if errors.Is(err, relayerrors.ErrNetworkFailure) {
		return 3 // Network errors
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return 4 // Run deadline passed while waiting for the device
	}

	return 1 // General error
}
