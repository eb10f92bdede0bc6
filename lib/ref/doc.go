// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated Matrix identifier types.
//
// Raw protocol identifiers (user IDs, room IDs, event IDs, device IDs,
// event types) arrive as strings from the homeserver. This package wraps
// them in immutable value types that are validated once, at the
// deserialization boundary, so that the rest of the codebase can rely on
// their structure without re-checking.
//
// All types implement encoding.TextMarshaler and TextUnmarshaler, which
// makes them usable directly as JSON struct fields and JSON map keys: the
// /sync response's per-room sections decode straight into
// map[ref.RoomID] values with validation applied to every key.
//
// The zero value of every type is invalid; use IsZero to check.
package ref
