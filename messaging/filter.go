// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/Let-s-build-something/client-app/lib/ref"
)

// RoomEventFilter restricts which events the server returns from
// /messages and sync timelines. Zero-value fields are omitted, so the
// zero filter matches everything.
type RoomEventFilter struct {
	// Types limits results to these event types.
	Types []ref.EventType `json:"types,omitempty"`

	// NotTypes excludes these event types.
	NotTypes []ref.EventType `json:"not_types,omitempty"`

	// NotSenders excludes events from these users (e.g., blocked
	// users).
	NotSenders []ref.UserID `json:"not_senders,omitempty"`

	// Limit caps the number of events per page.
	Limit int `json:"limit,omitempty"`

	// LazyLoadMembers asks the server to send only the member state
	// events needed to render the returned timeline events, instead
	// of the full member list.
	LazyLoadMembers bool `json:"lazy_load_members,omitempty"`
}

// Encode serializes the filter as the inline JSON accepted by the
// filter query parameter. Returns "" for a nil filter.
func (f *RoomEventFilter) Encode() (string, error) {
	if f == nil {
		return "", nil
	}
	encoded, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("messaging: encoding room event filter: %w", err)
	}
	return string(encoded), nil
}

// SyncFilter is the top-level filter for /sync requests.
type SyncFilter struct {
	// Room scopes the room sections of the sync response.
	Room *SyncRoomFilter `json:"room,omitempty"`

	// Presence filters the presence section. Set Types to an empty
	// non-nil slice to drop presence events entirely.
	Presence *EventTypeFilter `json:"presence,omitempty"`

	// AccountData filters global account data.
	AccountData *EventTypeFilter `json:"account_data,omitempty"`
}

// SyncRoomFilter scopes the per-room sections of a sync response.
type SyncRoomFilter struct {
	// Rooms limits the sync to these room IDs. Nil means all rooms.
	Rooms []ref.RoomID `json:"rooms,omitempty"`

	// Timeline filters timeline events.
	Timeline *RoomEventFilter `json:"timeline,omitempty"`

	// State filters state events.
	State *RoomEventFilter `json:"state,omitempty"`

	// Ephemeral filters ephemeral events (receipts, typing).
	Ephemeral *RoomEventFilter `json:"ephemeral,omitempty"`
}

// EventTypeFilter filters a non-room event section by type.
type EventTypeFilter struct {
	Types    []ref.EventType `json:"types"`
	NotTypes []ref.EventType `json:"not_types,omitempty"`
}

// Encode serializes the filter as the inline JSON accepted by /sync's
// filter query parameter. Returns "" for a nil filter.
func (f *SyncFilter) Encode() (string, error) {
	if f == nil {
		return "", nil
	}
	encoded, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("messaging: encoding sync filter: %w", err)
	}
	return string(encoded), nil
}
