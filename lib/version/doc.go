// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the client
// binary, injected at build time via -ldflags.
package version
