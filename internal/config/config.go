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

// Package config provides configuration management for trigger-relay with
// support for multiple configuration sources and a well-defined precedence
// order.
//
// Configuration sources (in precedence order, highest to lowest):
//  1. Command-line flags
//  2. Environment variables
//  3. Mailbox-specific configuration
//  4. Configuration file
//  5. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from multiple sources and applies them in
// the correct precedence order. If configPath is provided, it loads from
// that specific file. Otherwise, it searches standard locations:
//   - .trigger-relay.yaml (current directory)
//   - .trigger-relay.yml (current directory)
//   - ~/.trigger-relay/config.yaml
//   - ~/.trigger-relay/config.yml
//
// Environment variables are applied after loading the config file. Returns
// an error if the specified config file cannot be loaded, but succeeds with
// defaults if no config file is found in standard locations.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		defaultPaths := []string{
			".trigger-relay.yaml",
			".trigger-relay.yml",
			filepath.Join(os.Getenv("HOME"), ".trigger-relay", "config.yaml"),
			filepath.Join(os.Getenv("HOME"), ".trigger-relay", "config.yml"),
		}

		for _, path := range defaultPaths {
			if _, err := os.Stat(path); err == nil {
				if err := loadConfigFile(path, cfg); err != nil {
					return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
				}
				break
			}
		}
	}

	applyEnvOverrides(cfg)

	cfg.Defaults.StateDir = expandPath(cfg.Defaults.StateDir)

	return cfg, nil
}

// loadConfigFile reads and parses a YAML config file
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
// Malformed numeric values are ignored.
func applyEnvOverrides(cfg *Config) {
	if endpoint := os.Getenv("GITHUB_API_ENDPOINT"); endpoint != "" {
		cfg.GitHub.APIEndpoint = endpoint
	}
	if endpoint := os.Getenv("GITHUB_GRAPHQL_ENDPOINT"); endpoint != "" {
		cfg.GitHub.GraphQLEndpoint = endpoint
	}
	if readAPI := os.Getenv("RELAY_READ_API"); readAPI != "" {
		cfg.GitHub.ReadAPI = strings.ToLower(strings.TrimSpace(readAPI))
	}

	if interval := os.Getenv("RELAY_POLL_INTERVAL"); interval != "" {
		if d, err := parsePositiveDuration(interval); err == nil {
			cfg.SetPollInterval(d)
		}
	}
	if maxPolls := os.Getenv("RELAY_MAX_POLLS"); maxPolls != "" {
		if n, err := parsePositiveInt(maxPolls); err == nil {
			cfg.SetMaxPolls(n)
		}
	}
	if retries := os.Getenv("RELAY_MAX_RETRIES"); retries != "" {
		if n, err := parsePositiveInt(retries); err == nil {
			cfg.Retry.MaxRetries = n
		}
	}

	if level := os.Getenv("RELAY_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if jsonLogs := os.Getenv("RELAY_LOG_JSON"); jsonLogs != "" && parseBool(jsonLogs) {
		cfg.Log.Format = "json"
	}

	if stateDir := os.Getenv("RELAY_STATE_DIR"); stateDir != "" {
		cfg.Defaults.StateDir = stateDir
	}
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home := os.Getenv("HOME")
		if home == "" {
			home = os.Getenv("USERPROFILE") // Windows
		}
		path = filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// parsePositiveInt parses a string to a positive integer
func parsePositiveInt(s string) (int, error) {
	var i int
	_, err := fmt.Sscanf(s, "%d", &i)
	if err != nil {
		return 0, fmt.Errorf("failed to parse integer from '%s': %w", s, err)
	}
	if i <= 0 {
		return 0, fmt.Errorf("value must be positive, got: %d", i)
	}
	return i, nil
}

// parsePositiveDuration accepts Go durations ("10s") or bare seconds ("10").
func parsePositiveDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	d, err := time.ParseDuration(s)
	if err != nil {
		secs, intErr := parsePositiveInt(s)
		if intErr != nil {
			return 0, fmt.Errorf("failed to parse duration from '%s': %w", s, err)
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got: %s", d)
	}
	return d, nil
}

// parseBool parses various boolean representations
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "yes" || s == "1" || s == "on"
}

// TriggerFor returns the trigger settings for a mailbox, applying any
// mailbox-specific overrides. mailbox is in "owner/repo:path" form.
func (c *Config) TriggerFor(mailbox string) TriggerConfig {
	t := c.Trigger
	if m, ok := c.Mailboxes[mailbox]; ok {
		if m.PollInterval > 0 {
			t.PollInterval = m.PollInterval
		}
		if m.MaxPolls > 0 {
			t.MaxPolls = m.MaxPolls
		}
	}
	return t
}

// SetPollInterval sets the poll interval for every mailbox, replacing any
// mailbox-specific value.
func (c *Config) SetPollInterval(d time.Duration) {
	c.Trigger.PollInterval = d
	for name, m := range c.Mailboxes {
		m.PollInterval = 0
		c.Mailboxes[name] = m
	}
}

// SetMaxPolls sets the poll ceiling for every mailbox, replacing any
// mailbox-specific value.
func (c *Config) SetMaxPolls(n int) {
	c.Trigger.MaxPolls = n
	for name, m := range c.Mailboxes {
		m.MaxPolls = 0
		c.Mailboxes[name] = m
	}
}

// Validate checks if the configuration contains valid values. This should
// be called after loading configuration to catch invalid settings early.
func (c *Config) Validate() error {
	if c.GitHub.APIEndpoint == "" {
		return fmt.Errorf("GitHub API endpoint cannot be empty")
	}
	switch c.GitHub.ReadAPI {
	case "rest":
	case "graphql":
		if c.GitHub.GraphQLEndpoint == "" {
			return fmt.Errorf("GitHub GraphQL endpoint cannot be empty when read_api is graphql")
		}
	default:
		return fmt.Errorf("read_api must be rest or graphql, got: %q", c.GitHub.ReadAPI)
	}
	if c.Trigger.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got: %s", c.Trigger.PollInterval)
	}
	if c.Trigger.MaxPolls < 0 {
		return fmt.Errorf("max polls cannot be negative, got: %d", c.Trigger.MaxPolls)
	}
	if c.Trigger.SendTimeout < 0 || c.Trigger.RequestTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got: %d", c.Retry.MaxRetries)
	}
	if c.Retry.MaxRetries > 0 {
		if c.Retry.InitialBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
			return fmt.Errorf("retry backoff must satisfy 0 < initial_backoff <= max_backoff")
		}
		if c.Retry.BackoffMultiplier < 1 {
			return fmt.Errorf("backoff multiplier must be at least 1, got: %g", c.Retry.BackoffMultiplier)
		}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got: %q", c.Log.Format)
	}
	for mailbox, m := range c.Mailboxes {
		if m.PollInterval < 0 || m.MaxPolls < 0 {
			return fmt.Errorf("mailbox %s: overrides cannot be negative", mailbox)
		}
	}
	return nil
}
