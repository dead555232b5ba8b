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

// Package config types define the configuration structures used throughout
// trigger-relay. These types represent settings that can be loaded from
// YAML configuration files, environment variables, or command-line flags.
package config

import "time"

// Config represents the complete configuration for trigger-relay.
type Config struct {
	GitHub    GitHubConfig             `yaml:"github"`
	Trigger   TriggerConfig            `yaml:"trigger"`
	Retry     RetryConfig              `yaml:"retry"`
	Log       LogConfig                `yaml:"log"`
	Defaults  DefaultsConfig           `yaml:"defaults"`
	Mailboxes map[string]MailboxConfig `yaml:"mailboxes"`
}

// GitHubConfig contains GitHub-specific settings. Custom endpoints allow
// GitHub Enterprise deployments.
type GitHubConfig struct {
	APIEndpoint     string `yaml:"api_endpoint"`
	GraphQLEndpoint string `yaml:"graphql_endpoint"`
	APIVersion      string `yaml:"api_version"`

	// TokenPrefix is prepended to the access token carried in the key blob.
	TokenPrefix string `yaml:"token_prefix"`

	// ReadAPI selects how the mailbox is read: "rest" or "graphql".
	// Writes always use REST.
	ReadAPI string `yaml:"read_api"`
}

// TriggerConfig controls one trigger run.
type TriggerConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxPolls       int           `yaml:"max_polls"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RetryConfig controls retries of individual mailbox calls. MaxRetries of
// zero disables retrying.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LogConfig selects the log level and encoding ("json" or "console").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultsConfig contains settings shared by all commands.
type DefaultsConfig struct {
	StateDir string `yaml:"state_dir"`
}

// MailboxConfig overrides trigger settings for one mailbox, keyed by
// "owner/repo:path". Zero values leave the global setting in place.
type MailboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
}

// DefaultConfig returns a Config with defaults matching the deployed
// devices on public GitHub.com.
func DefaultConfig() *Config {
	return &Config{
		GitHub: GitHubConfig{
			APIEndpoint:     "https://api.github.com",
			GraphQLEndpoint: "https://api.github.com/graphql",
			APIVersion:      "2022-11-28",
			TokenPrefix:     "ghp_",
			ReadAPI:         "rest",
		},
		Trigger: TriggerConfig{
			PollInterval:   10 * time.Second,
			MaxPolls:       0,
			SendTimeout:    30 * time.Second,
			RequestTimeout: 15 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:        0,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
		Defaults: DefaultsConfig{
			StateDir: "~/.trigger-relay/state",
		},
		Mailboxes: make(map[string]MailboxConfig),
	}
}
