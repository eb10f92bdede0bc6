// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// DeviceID is a validated Matrix device ID (e.g., "GHTYAJCE").
//
// Device IDs are opaque identifiers assigned by the homeserver at
// login. They appear as JSON map keys in to-device message payloads
// and key-query responses, so the type implements TextMarshaler and
// TextUnmarshaler. The zero value is not valid; use IsZero to check.
type DeviceID struct {
	id string
}

// ParseDeviceID validates and wraps a raw Matrix device ID string.
// Device IDs must be non-empty, printable, and contain no whitespace.
func ParseDeviceID(raw string) (DeviceID, error) {
	if raw == "" {
		return DeviceID{}, fmt.Errorf("invalid device ID: empty string")
	}
	if len(raw) > 255 {
		return DeviceID{}, fmt.Errorf("invalid device ID: exceeds 255 bytes")
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return DeviceID{}, fmt.Errorf("invalid device ID %q: contains whitespace", raw)
	}
	return DeviceID{id: raw}, nil
}

// MustParseDeviceID is like ParseDeviceID but panics on error.
func MustParseDeviceID(raw string) DeviceID {
	d, err := ParseDeviceID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseDeviceID(%q): %v", raw, err))
	}
	return d
}

// String returns the device ID string.
func (d DeviceID) String() string { return d.id }

// IsZero reports whether the DeviceID is the zero value.
func (d DeviceID) IsZero() bool { return d.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (d DeviceID) MarshalText() ([]byte, error) {
	if d.id == "" {
		return []byte{}, nil
	}
	return []byte(d.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (d *DeviceID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = DeviceID{}
		return nil
	}
	parsed, err := ParseDeviceID(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
