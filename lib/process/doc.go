// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. These centralize
// the raw stderr I/O that legitimately happens before the structured
// logger exists or after an unrecoverable error in main().
package process
