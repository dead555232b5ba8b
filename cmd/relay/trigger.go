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
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sirseerhq/trigger-relay/internal/config"
	"github.com/sirseerhq/trigger-relay/internal/credential"
	"github.com/sirseerhq/trigger-relay/internal/github"
	"github.com/sirseerhq/trigger-relay/internal/metadata"
	"github.com/sirseerhq/trigger-relay/internal/output"
	"github.com/sirseerhq/trigger-relay/internal/rendezvous"
	"github.com/sirseerhq/trigger-relay/internal/session"
	"github.com/sirseerhq/trigger-relay/internal/state"
	"github.com/sirseerhq/trigger-relay/pkg/version"
)

type triggerOptions struct {
	key          string
	pollInterval time.Duration
	maxPolls     int
	readAPI      string
	outputFile   string
	stateDir     string
	timeout      time.Duration
}

func newTriggerCommand(root *rootOptions) *cobra.Command {
	opts := triggerOptions{}

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Send a trigger and wait for the device to acknowledge it",
		Long: `Send a trigger to the mailbox named by a key blob and poll until the
device writes "ok" back.

The key blob is required:
  - Use --key to provide it directly, or --key - to read it from stdin
  - Or set the RELAY_KEY environment variable

Without --max-polls or --timeout the command polls until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			blob, err := resolveKey(opts.key, cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			applyTriggerFlags(cmd.Flags(), cfg, opts)
			return runTrigger(ctx, cfg, logger, blob, opts.outputFile, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.key, "key", "", "Key blob (overrides RELAY_KEY env var; - reads stdin)")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 0, "Delay between acknowledgement polls (overrides config)")
	cmd.Flags().IntVar(&opts.maxPolls, "max-polls", 0, "Give up after this many polls; 0 polls until interrupted (overrides config)")
	cmd.Flags().StringVar(&opts.readAPI, "read-api", "", "How to read the mailbox: rest or graphql (overrides config)")
	cmd.Flags().StringVar(&opts.outputFile, "output", "", "Append the run record as NDJSON to this file (- for stdout)")
	cmd.Flags().StringVar(&opts.stateDir, "state-dir", "", "Directory for run records and state (overrides config)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Overall deadline for the run; 0 means none")

	return cmd
}

// applyTriggerFlags layers explicitly set flags over the loaded config.
func applyTriggerFlags(flags *pflag.FlagSet, cfg *config.Config, opts triggerOptions) {
	if flags.Changed("poll-interval") && opts.pollInterval > 0 {
		cfg.SetPollInterval(opts.pollInterval)
	}
	if flags.Changed("max-polls") && opts.maxPolls >= 0 {
		cfg.SetMaxPolls(opts.maxPolls)
	}
	if flags.Changed("read-api") {
		cfg.GitHub.ReadAPI = opts.readAPI
	}
	if flags.Changed("state-dir") {
		cfg.Defaults.StateDir = opts.stateDir
	}
}

// runTrigger executes one trigger run and records its outcome. Recording
// problems are logged but never change the run's result.
func runTrigger(ctx context.Context, cfg *config.Config, logger *zap.Logger, blob, outputFile string, progress io.Writer) error {
	switch cfg.GitHub.ReadAPI {
	case github.ReadAPIREST, github.ReadAPIGraphQL:
	default:
		return fmt.Errorf("read API must be rest or graphql, got: %q", cfg.GitHub.ReadAPI)
	}

	tracker := metadata.New()
	s := session.New(blob, newDialer(cfg, tracker, logger),
		session.WithLogger(logger),
		session.WithSendTimeout(cfg.Trigger.SendTimeout),
		session.WithWriteRetry(retryConfig(cfg)),
	)

	ref := s.Ref()
	trig := cfg.TriggerFor(ref.String())
	reporter := &progressReporter{w: progress, ref: ref}
	if s.IsReady() {
		fmt.Fprintf(progress, "Triggering %s...\n", ref)
	}

	runErr := session.Run(ctx, s, session.RunOptions{
		PollInterval: trig.PollInterval,
		MaxPolls:     trig.MaxPolls,
	}, reporter)

	if s.IsReady() {
		params := metadata.RunParams{
			Owner:        ref.Owner,
			Repository:   ref.Repo,
			Path:         ref.Path,
			ReadAPI:      cfg.GitHub.ReadAPI,
			PollInterval: trig.PollInterval.String(),
			MaxPolls:     trig.MaxPolls,
			MaxRetries:   cfg.Retry.MaxRetries,
		}
		if err := recordRun(cfg.Defaults.StateDir, outputFile, tracker, params, s.Stats()); err != nil {
			logger.Warn("failed to record run", zap.String("run_id", s.ID()), zap.Error(err))
		}
	}

	return runErr
}

// newDialer builds the mailbox channel for a decoded credential: the
// GitHub client, counted by tracker, behind the optional retry layer.
func newDialer(cfg *config.Config, tracker *metadata.Tracker, logger *zap.Logger) session.Dialer {
	opts := github.Options{
		APIEndpoint:     cfg.GitHub.APIEndpoint,
		GraphQLEndpoint: cfg.GitHub.GraphQLEndpoint,
		ReadAPI:         cfg.GitHub.ReadAPI,
		TokenPrefix:     cfg.GitHub.TokenPrefix,
		APIVersion:      cfg.GitHub.APIVersion,
		RequestTimeout:  cfg.Trigger.RequestTimeout,
	}

	return func(cred *credential.Credential) rendezvous.Channel {
		ch := tracker.Wrap(github.Dial(opts, cred))
		retry := retryConfig(cfg)
		if retry == nil {
			return ch
		}
		return rendezvous.NewRetryChannel(ch, retry, logger)
	}
}

// retryConfig returns the configured backoff, or nil when retries are off.
// The channel uses it for reads and the session for rate-limited writes.
func retryConfig(cfg *config.Config) *rendezvous.RetryConfig {
	if cfg.Retry.MaxRetries == 0 {
		return nil
	}
	return &rendezvous.RetryConfig{
		MaxRetries:        cfg.Retry.MaxRetries,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}
}

// recordRun saves the run record, folds it into the mailbox state and
// optionally appends it to outputFile.
func recordRun(stateDir, outputFile string, tracker *metadata.Tracker, params metadata.RunParams, st session.Stats) error {
	mailbox := st.Ref.String()

	var previous *metadata.RunRef
	if last, err := metadata.LoadLatestRecord(stateDir, mailbox); err == nil && last != nil {
		previous = last.Ref()
	}

	record := tracker.GenerateRecord(version.Version, params, st, previous)
	if err := metadata.SaveRecord(record, stateDir); err != nil {
		return err
	}

	stateFile := state.GetStateFilePath(stateDir, mailbox)
	ms, err := state.LoadState(stateFile)
	if err != nil {
		// A missing or unreadable state starts a fresh history.
		ms = &state.MailboxState{Mailbox: mailbox}
	}
	ms.Record(record.RunID, record.Results.Outcome.String(), record.Results.Error,
		record.Results.CompletedAt, record.Results.Acknowledged)
	if err := state.SaveState(ms, stateFile); err != nil {
		return err
	}

	if outputFile == "" {
		return nil
	}
	w, err := output.Open(outputFile)
	if err != nil {
		return err
	}
	if err := w.Write(record); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// progressReporter prints run progress to stderr in the style of a
// terminal status line.
type progressReporter struct {
	w     io.Writer
	ref   rendezvous.Ref
	polls int
}

func (p *progressReporter) OnPoll(attempt int, err error) {
	p.polls = attempt
	if err != nil {
		fmt.Fprintf(p.w, "\r\033[KWaiting for acknowledgement... poll %d (last read failed: %v)", attempt, err)
		return
	}
	fmt.Fprintf(p.w, "\r\033[KWaiting for acknowledgement... poll %d", attempt)
}

func (p *progressReporter) OnSuccess() {
	fmt.Fprintf(p.w, "\r\033[K")
	fmt.Fprintf(p.w, "Device acknowledged trigger on %s after %d polls\n", p.ref, p.polls+1)
}

func (p *progressReporter) OnFailure(err error) {
	if p.polls > 0 {
		fmt.Fprintf(p.w, "\r\033[K")
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(p.w, "Trigger interrupted")
	}
}
