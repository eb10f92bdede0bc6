// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Let-s-build-something/client-app/lib/ref"
)

// savedSession is the on-disk form of an authenticated session. The
// file carries an access token and is written with mode 0600.
type savedSession struct {
	Homeserver  string `json:"homeserver"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
	AccessToken string `json:"access_token"`
}

func (s *savedSession) validate() error {
	if s.AccessToken == "" {
		return fmt.Errorf("session file has no access token")
	}
	if _, err := ref.ParseUserID(s.UserID); err != nil {
		return fmt.Errorf("session file: %w", err)
	}
	if _, err := ref.ParseDeviceID(s.DeviceID); err != nil {
		return fmt.Errorf("session file: %w", err)
	}
	return nil
}

// loadSession reads a saved session. A missing file is reported with
// os.IsNotExist semantics so the caller can fall back to interactive
// login.
func loadSession(path string) (*savedSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var session savedSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := session.validate(); err != nil {
		return nil, err
	}
	return &session, nil
}

// saveSession writes the session atomically with owner-only
// permissions.
func saveSession(path string, session *savedSession) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}
