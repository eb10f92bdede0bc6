// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the client.
//
// Configuration is loaded from a single YAML file specified by:
//   - AUGMY_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// Environment variables do not override config values; the only
// expansion performed is ${HOME} and similar path variables for
// portability across machines.
package config
