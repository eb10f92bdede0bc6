// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"testing"
)

func TestParseUserID(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		localpart string
		server    string
		wantErr   bool
	}{
		{name: "valid", input: "@alice:augmy.org", localpart: "alice", server: "augmy.org"},
		{name: "server with port", input: "@bob:localhost:8448", localpart: "bob", server: "localhost:8448"},
		{name: "dotted localpart", input: "@a.b:example.com", localpart: "a.b", server: "example.com"},
		{name: "empty", input: "", wantErr: true},
		{name: "missing sigil", input: "alice:augmy.org", wantErr: true},
		{name: "wrong sigil", input: "#alice:augmy.org", wantErr: true},
		{name: "missing server", input: "@alice", wantErr: true},
		{name: "empty localpart", input: "@:augmy.org", wantErr: true},
		{name: "empty server", input: "@alice:", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			userID, err := ParseUserID(test.input)
			if test.wantErr {
				if err == nil {
					t.Fatalf("ParseUserID(%q) succeeded, want error", test.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUserID(%q): %v", test.input, err)
			}
			if got := userID.String(); got != test.input {
				t.Errorf("String() = %q, want %q", got, test.input)
			}
			if got := userID.Localpart(); got != test.localpart {
				t.Errorf("Localpart() = %q, want %q", got, test.localpart)
			}
			if got := userID.Server(); got != test.server {
				t.Errorf("Server() = %q, want %q", got, test.server)
			}
			if userID.IsZero() {
				t.Error("IsZero() = true for valid user ID")
			}
		})
	}
}

func TestUserIDZeroValue(t *testing.T) {
	var zero UserID
	if !zero.IsZero() {
		t.Error("zero value IsZero() = false")
	}
	defer func() {
		if recover() == nil {
			t.Error("Localpart on zero value did not panic")
		}
	}()
	zero.Localpart()
}

func TestParseRoomID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{input: "!abc123:augmy.org"},
		{input: "!opaque"},
		{input: "", wantErr: true},
		{input: "!", wantErr: true},
		{input: "abc:augmy.org", wantErr: true},
	}
	for _, test := range tests {
		roomID, err := ParseRoomID(test.input)
		if test.wantErr {
			if err == nil {
				t.Errorf("ParseRoomID(%q) succeeded, want error", test.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRoomID(%q): %v", test.input, err)
			continue
		}
		if got := roomID.String(); got != test.input {
			t.Errorf("String() = %q, want %q", got, test.input)
		}
	}
}

func TestParseRoomAlias(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{input: "#lobby:augmy.org"},
		{input: "", wantErr: true},
		{input: "#lobby", wantErr: true},
		{input: "@lobby:augmy.org", wantErr: true},
		{input: "#:augmy.org", wantErr: true},
	}
	for _, test := range tests {
		_, err := ParseRoomAlias(test.input)
		if test.wantErr != (err != nil) {
			t.Errorf("ParseRoomAlias(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
		}
	}
}

func TestParseEventID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{input: "$abc123xyz"},
		{input: "$legacy:augmy.org"},
		{input: "", wantErr: true},
		{input: "$", wantErr: true},
		{input: "abc123", wantErr: true},
	}
	for _, test := range tests {
		_, err := ParseEventID(test.input)
		if test.wantErr != (err != nil) {
			t.Errorf("ParseEventID(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
		}
	}
}

func TestParseEventType(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{input: "m.room.message"},
		{input: "chat.augmy.gravity"},
		{input: "", wantErr: true},
		{input: "m.room message", wantErr: true},
	}
	for _, test := range tests {
		_, err := ParseEventType(test.input)
		if test.wantErr != (err != nil) {
			t.Errorf("ParseEventType(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
		}
	}
}

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{input: "GHTYAJCE"},
		{input: "device-1"},
		{input: "", wantErr: true},
		{input: "has space", wantErr: true},
	}
	for _, test := range tests {
		_, err := ParseDeviceID(test.input)
		if test.wantErr != (err != nil) {
			t.Errorf("ParseDeviceID(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		User   UserID  `json:"user"`
		Room   RoomID  `json:"room"`
		Event  EventID `json:"event,omitzero"`
		Device DeviceID
	}
	original := payload{
		User:   MustParseUserID("@alice:augmy.org"),
		Room:   MustParseRoomID("!room:augmy.org"),
		Device: MustParseDeviceID("GHTYAJCE"),
	}
	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded payload
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
	if !decoded.Event.IsZero() {
		t.Error("empty event ID should decode to zero value")
	}
}

func TestJSONMapKeys(t *testing.T) {
	raw := []byte(`{"!a:augmy.org": 1, "!b:augmy.org": 2}`)
	var rooms map[RoomID]int
	if err := json.Unmarshal(raw, &rooms); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("decoded %d rooms, want 2", len(rooms))
	}
	if rooms[MustParseRoomID("!a:augmy.org")] != 1 {
		t.Error("missing !a:augmy.org key")
	}

	var invalid map[RoomID]int
	if err := json.Unmarshal([]byte(`{"not-a-room": 1}`), &invalid); err == nil {
		t.Error("invalid room ID map key decoded without error")
	}
}
