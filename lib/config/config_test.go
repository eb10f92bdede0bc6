// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "augmy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
homeserver:
  url: https://matrix.augmy.org
  request_timeout: 10s
paths:
  state: /tmp/augmy-test
sync:
  poll_timeout: 45s
  presence: unavailable
  message_page_size: 50
logging:
  level: debug
  format: json
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Homeserver.URL != "https://matrix.augmy.org" {
		t.Errorf("homeserver URL: got %q", cfg.Homeserver.URL)
	}
	if cfg.Homeserver.RequestTimeout != 10*time.Second {
		t.Errorf("request timeout: got %v", cfg.Homeserver.RequestTimeout)
	}
	if cfg.Sync.PollTimeout != 45*time.Second {
		t.Errorf("poll timeout: got %v", cfg.Sync.PollTimeout)
	}
	if cfg.Sync.Presence != "unavailable" {
		t.Errorf("presence: got %q", cfg.Sync.Presence)
	}
	if cfg.Sync.MessagePageSize != 50 {
		t.Errorf("page size: got %d", cfg.Sync.MessagePageSize)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging: got %+v", cfg.Logging)
	}
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, `
homeserver:
  url: https://matrix.augmy.org
paths:
  state: /tmp/augmy-test
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Sync.PollTimeout != 30*time.Second {
		t.Errorf("default poll timeout: got %v", cfg.Sync.PollTimeout)
	}
	if cfg.Sync.Presence != "online" {
		t.Errorf("default presence: got %q", cfg.Sync.Presence)
	}
	if cfg.Paths.Database != filepath.Join("/tmp/augmy-test", "chat.db") {
		t.Errorf("derived database path: got %q", cfg.Paths.Database)
	}
	if cfg.Paths.Session != filepath.Join("/tmp/augmy-test", "session.json") {
		t.Errorf("derived session path: got %q", cfg.Paths.Session)
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	path := writeConfig(t, `
homeserver:
  url: https://matrix.augmy.org
paths:
  state: ${HOME}/.augmy
  database: ${AUGMY_STATE}/db/chat.db
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Paths.State != "/home/tester/.augmy" {
		t.Errorf("state: got %q", cfg.Paths.State)
	}
	if cfg.Paths.Database != "/home/tester/.augmy/db/chat.db" {
		t.Errorf("database: got %q", cfg.Paths.Database)
	}
}

func TestVariableDefault(t *testing.T) {
	got := expandVars("${DOES_NOT_EXIST:-/fallback}/x", map[string]string{})
	if got != "/fallback/x" {
		t.Errorf("expandVars with default: got %q", got)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing homeserver URL",
			mutate:  func(c *Config) { c.Homeserver.URL = "" },
			wantErr: "homeserver.url is required",
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.Homeserver.URL = "ftp://x" },
			wantErr: "must be http or https",
		},
		{
			name:    "bad presence",
			mutate:  func(c *Config) { c.Sync.Presence = "away" },
			wantErr: "sync.presence",
		},
		{
			name:    "zero poll timeout",
			mutate:  func(c *Config) { c.Sync.PollTimeout = 0 },
			wantErr: "poll_timeout",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			cfg.Homeserver.URL = "https://matrix.augmy.org"
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error %q does not mention %q", err, test.wantErr)
			}
		})
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv("AUGMY_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without AUGMY_CONFIG succeeded, want error")
	}
}
