// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// EventType is a validated Matrix event type (e.g., "m.room.message").
//
// Event types are reverse-DNS style dotted names. Protocol-defined
// types start with "m."; application types use a vendor namespace.
// The zero value is not valid; use IsZero to check.
type EventType struct {
	name string
}

// Well-known event types used throughout the client.
var (
	EventTypeRoomMessage     = MustParseEventType("m.room.message")
	EventTypeRoomMember      = MustParseEventType("m.room.member")
	EventTypeRoomPowerLevels = MustParseEventType("m.room.power_levels")
	EventTypeRoomRedaction   = MustParseEventType("m.room.redaction")
	EventTypeReaction        = MustParseEventType("m.reaction")
	EventTypeReceipt         = MustParseEventType("m.receipt")
	EventTypePresence        = MustParseEventType("m.presence")
)

// ParseEventType validates and wraps a raw Matrix event type string.
// Event types must be non-empty and contain no whitespace. A 255-byte
// ceiling matches the protocol's limit on event type length.
func ParseEventType(raw string) (EventType, error) {
	if raw == "" {
		return EventType{}, fmt.Errorf("invalid event type: empty string")
	}
	if len(raw) > 255 {
		return EventType{}, fmt.Errorf("invalid event type: exceeds 255 bytes")
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return EventType{}, fmt.Errorf("invalid event type %q: contains whitespace", raw)
	}
	return EventType{name: raw}, nil
}

// MustParseEventType is like ParseEventType but panics on error.
func MustParseEventType(raw string) EventType {
	t, err := ParseEventType(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseEventType(%q): %v", raw, err))
	}
	return t
}

// String returns the event type string.
func (t EventType) String() string { return t.name }

// IsZero reports whether the EventType is the zero value.
func (t EventType) IsZero() bool { return t.name == "" }

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	if t.name == "" {
		return []byte{}, nil
	}
	return []byte(t.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (t *EventType) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*t = EventType{}
		return nil
	}
	parsed, err := ParseEventType(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
