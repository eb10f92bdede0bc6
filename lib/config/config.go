// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the client.
type Config struct {
	// Homeserver configures the Matrix homeserver connection.
	Homeserver HomeserverConfig `yaml:"homeserver"`

	// Paths configures local data locations.
	Paths PathsConfig `yaml:"paths"`

	// Sync configures the long-poll sync loop.
	Sync SyncConfig `yaml:"sync"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`
}

// HomeserverConfig configures the Matrix homeserver connection.
type HomeserverConfig struct {
	// URL is the base URL of the homeserver, e.g.
	// "https://matrix.augmy.org". Required.
	URL string `yaml:"url"`

	// RequestTimeout bounds non-sync API calls. Sync long-polls get
	// their own timeout (Sync.PollTimeout plus slack).
	// Default: 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PathsConfig configures local data locations.
type PathsConfig struct {
	// State is the base directory for client state. The database and
	// session file live under it.
	// Default: ${HOME}/.local/share/augmy
	State string `yaml:"state"`

	// Database is the SQLite database path. Defaults to chat.db under
	// the state directory when empty.
	Database string `yaml:"database"`

	// Session is the saved session file (user ID, device ID, access
	// token). Defaults to session.json under the state directory when
	// empty. Written with mode 0600.
	Session string `yaml:"session"`
}

// SyncConfig configures the long-poll sync loop.
type SyncConfig struct {
	// PollTimeout is the server-side long-poll duration sent as the
	// timeout parameter on /sync. Default: 30s.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// Presence is the presence state advertised while syncing:
	// "online", "unavailable", or "offline". Default: online.
	Presence string `yaml:"presence"`

	// MessagePageSize is the page size used when back-paginating room
	// history and member lists. Default: 30.
	MessagePageSize int `yaml:"message_page_size"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level is the minimum level emitted: "debug", "info", "warn",
	// "error". Default: info.
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: text.
	Format string `yaml:"format"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file. They exist primarily to
// ensure all fields have sensible zero-values, not as a fallback: the
// homeserver URL is required and has no default.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultState := filepath.Join(homeDir, ".local", "share", "augmy")

	return &Config{
		Homeserver: HomeserverConfig{
			RequestTimeout: 30 * time.Second,
		},
		Paths: PathsConfig{
			State: defaultState,
		},
		Sync: SyncConfig{
			PollTimeout:     30 * time.Second,
			Presence:        "online",
			MessagePageSize: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the AUGMY_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults: if AUGMY_CONFIG is not set, this
// fails. This ensures deterministic, auditable configuration with no
// hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("AUGMY_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("AUGMY_CONFIG environment variable not set; " +
			"set it to the path of your augmy.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	cfg.applyDerivedDefaults()

	return cfg, nil
}

// applyDerivedDefaults fills paths that default relative to the state
// directory.
func (c *Config) applyDerivedDefaults() {
	if c.Paths.Database == "" {
		c.Paths.Database = filepath.Join(c.Paths.State, "chat.db")
	}
	if c.Paths.Session == "" {
		c.Paths.Session = filepath.Join(c.Paths.State, "session.json")
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"AUGMY_STATE": c.Paths.State,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["AUGMY_STATE"] = c.Paths.State // Update for dependent paths.

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Session = expandVars(c.Paths.Session, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// validPresence lists the presence states the protocol accepts on
// /sync's set_presence parameter.
var validPresence = []string{"online", "unavailable", "offline"}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver.URL == "" {
		errs = append(errs, fmt.Errorf("homeserver.url is required"))
	} else if parsed, err := url.Parse(c.Homeserver.URL); err != nil {
		errs = append(errs, fmt.Errorf("homeserver.url: %w", err))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errs = append(errs, fmt.Errorf("homeserver.url must be http or https, got %q", parsed.Scheme))
	}

	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}

	if c.Sync.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync.poll_timeout must be positive"))
	}
	if !contains(validPresence, c.Sync.Presence) {
		errs = append(errs, fmt.Errorf("sync.presence must be one of: %v", validPresence))
	}
	if c.Sync.MessagePageSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.message_page_size must be positive"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !contains(levels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levels))
	}
	formats := []string{"json", "text"}
	if !contains(formats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the state directory if it doesn't exist.
func (c *Config) EnsurePaths() error {
	if c.Paths.State == "" {
		return nil
	}
	if err := os.MkdirAll(c.Paths.State, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.State, err)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
