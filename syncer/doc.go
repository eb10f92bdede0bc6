// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

// Package syncer drives the homeserver long-poll sync loop and
// reconciles incoming deltas into the local store.
//
// Service owns the loop lifecycle: at most one loop runs per session,
// Start is idempotent, and Stop cancels in-flight requests and reports
// the account offline before returning. Each sync response is handed to
// the registered subscribers in order before the next poll starts.
//
// Handler is the single write path from the protocol to the store:
// SaveEvents applies one ordered event batch (messages, membership,
// reactions, redactions, state) idempotently and maintains the
// pagination cursors that order batches relative to each other.
//
// Conversations is the in-memory read model presentation code
// subscribes to; it is a rebuildable projection, never the source of
// truth.
package syncer
