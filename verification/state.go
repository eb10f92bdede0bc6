// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"

	"github.com/Let-s-build-something/client-app/lib/ref"
)

// State is the machine's observable condition. It is a closed set:
// only the types in this file implement it. Consumers switch on the
// concrete type and must handle every variant.
type State interface {
	// IsFinished reports whether the machine is at rest: no handshake
	// in flight and nothing awaiting user input.
	IsFinished() bool

	isState()
}

// Hidden is the idle state: no verification activity, nothing to show.
type Hidden struct{}

func (Hidden) IsFinished() bool { return true }
func (Hidden) isState()         {}

// SelfVerification means another of the account's devices can verify
// this one. Methods lists the verification methods both sides support.
type SelfVerification struct {
	Methods []string
}

func (SelfVerification) IsFinished() bool { return false }
func (SelfVerification) isState()         {}

// Bootstrap means the account has no cross-signing keys yet: the trust
// root must be established before devices can verify each other.
type Bootstrap struct{}

func (Bootstrap) IsFinished() bool { return false }
func (Bootstrap) isState()         {}

// TheirRequest is an incoming verification request awaiting the user's
// decision. Ready accepts it; calling Ready after the handshake has
// already advanced is a no-op.
type TheirRequest struct {
	FromDevice ref.DeviceID

	transactionID string
	ready         func(ctx context.Context) error
}

func (TheirRequest) IsFinished() bool { return false }
func (TheirRequest) isState()         {}

// Ready accepts the incoming request and starts the handshake.
func (r TheirRequest) Ready(ctx context.Context) error {
	if r.ready == nil {
		return nil
	}
	return r.ready(ctx)
}

// Loading means a handshake is in flight and no user input is needed
// yet.
type Loading struct{}

func (Loading) IsFinished() bool { return false }
func (Loading) isState()         {}

// ComparisonByUser presents the short authentication string for the
// user to compare against the other device. Exactly one of Match or
// NoMatch must be called; the answer is forwarded to the protocol
// unchanged.
type ComparisonByUser struct {
	Emojis   []Emoji
	Decimals []int

	match func(ctx context.Context, matches bool) error
}

func (ComparisonByUser) IsFinished() bool { return false }
func (ComparisonByUser) isState()         {}

// Match confirms the strings matched on both devices.
func (c ComparisonByUser) Match(ctx context.Context) error {
	if c.match == nil {
		return nil
	}
	return c.match(ctx, true)
}

// NoMatch reports a mismatch, cancelling the handshake.
func (c ComparisonByUser) NoMatch(ctx context.Context) error {
	if c.match == nil {
		return nil
	}
	return c.match(ctx, false)
}

// Success is the terminal state of a completed verification.
type Success struct{}

func (Success) IsFinished() bool { return true }
func (Success) isState()         {}

// Canceled is the terminal state of an abandoned handshake. Code and
// Reason come from the cancel event; ByUs distinguishes a local cancel
// from the counterpart's.
type Canceled struct {
	Code   string
	Reason string
	ByUs   bool
}

func (Canceled) IsFinished() bool { return true }
func (Canceled) isState()         {}

// Emoji is one entry of the short authentication string display.
type Emoji struct {
	Glyph       string
	Description string
}
