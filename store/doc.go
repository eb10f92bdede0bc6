// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

// Package store is the durable local cache of conversation data: rooms,
// messages, members, reactions, pagination cursors, and room roles,
// backed by SQLite.
//
// The store is the ground truth the sync pipeline reconciles against.
// It is scoped to one authenticated session: opened after login, closed
// on logout, and never shared across accounts (every room row carries
// the owning account's user ID).
//
// Writes are append/upsert only. The only destructive operations are
// the explicit ones a user triggers (leaving a room, redacting an
// event); readers therefore never observe partially written rows.
//
// Schema changes are forward-only migrations tracked in
// PRAGMA user_version. Each migration touches exactly the tables it
// changes and never drops unrelated data.
package store
