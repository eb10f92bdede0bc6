// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration.
//
// The client uses two serialization formats with a clear boundary:
//
//   - JSON for the external interface: the Matrix Client-Server API.
//   - CBOR for local structured blobs: room summary and unread-count
//     columns in the store, cached power-level snapshots, and the
//     on-disk session file's binary sections.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, so a re-encoded blob can be compared byte-for-byte to detect
// whether a row actually changed.
//
// For buffer-oriented operations (store columns, files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. It never
//     appears on the wire as JSON. Examples: store blob columns.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Examples: room summaries, which
//     arrive as JSON in a /sync response and are persisted as CBOR.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract; doubling up is noise that obscures
// whether a type participates in JSON serialization.
package codec
