// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API.
//
// The package provides two core types. [Client] is an unauthenticated
// client that handles login and token restoration, returning
// authenticated [Session] values. Client holds the homeserver URL and
// HTTP transport, shared across all Sessions derived from it.
//
// [Session] wraps a Client with an access token for authenticated
// operations: incremental sync with long-polling and presence, room
// membership (join, leave, forget, invite, kick), messaging (send
// events with idempotent transaction IDs, paginated room history,
// thread messages via the relations endpoint), state events, member
// listing, presence updates, to-device messaging, device key queries,
// and cross-signing key upload with User-Interactive Authentication.
//
// The access token lives in mmap-backed secret.Buffer memory, locked
// against swap and excluded from core dumps; callers must call
// Session.Close to release it.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_UNKNOWN_TOKEN, etc.) and HTTP
// status code. [IsMatrixError] tests for a specific code. Request URLs
// are built by string concatenation rather than url.URL to avoid
// double-encoding of path segments that contain URL-encoded characters.
//
// Endpoints that use User-Interactive Authentication (cross-signing
// key upload) surface the 401 challenge as [*UIAChallenge] so the
// caller can complete the flow and retry.
package messaging
