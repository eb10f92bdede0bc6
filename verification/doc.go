// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

// Package verification implements interactive device verification and
// cross-signing bootstrap for a Matrix session.
//
// The Machine consumes m.key.verification.* to-device events from the
// sync stream through a single entry point, HandleToDevice, and exposes
// a single observable current state. Every handshake is a short
// authentication string (SAS) exchange: both devices derive the same
// emoji and decimal sequences from an X25519 shared secret and the user
// confirms they match. Sessions are ephemeral, keyed by transaction ID,
// and cleared whenever the machine reaches a terminal state.
//
// Bootstrap establishes the account's cross-signing trust root when no
// keys exist yet, deriving the secret-storage key from a passphrase or
// recovery key and uploading fresh signing keys through the server's
// user-interactive authentication gate.
package verification
