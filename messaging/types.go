// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/Let-s-build-something/client-app/lib/ref"
)

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID   `json:"user_id"`
	AccessToken string       `json:"access_token"`
	DeviceID    ref.DeviceID `json:"device_id"`
}

// ServerVersionsResponse is returned by Client.ServerVersions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID   `json:"user_id"`
	DeviceID ref.DeviceID `json:"device_id,omitempty"`
}

// Event represents a Matrix room event from the server.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Redacts        ref.EventID    `json:"redacts,omitzero"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// ContentString returns a string field from the event content, or ""
// when absent or not a string. Event content is schemaless JSON; this
// is the standard accessor for the common fields (body, msgtype,
// membership, displayname).
func (e Event) ContentString(key string) string {
	value, _ := e.Content[key].(string)
	return value
}

// MessageContent is the content body of a message event
// (m.room.message). Threads are first-class: set RelatesTo to send
// messages within a thread.
type MessageContent struct {
	MsgType       string     `json:"msgtype"`
	Body          string     `json:"body"`
	Format        string     `json:"format,omitempty"`
	FormattedBody string     `json:"formatted_body,omitempty"`
	Mentions      *Mentions  `json:"m.mentions,omitempty"`
	RelatesTo     *RelatesTo `json:"m.relates_to,omitempty"`
}

// Mentions identifies users referenced in a message, using the
// m.mentions content format.
type Mentions struct {
	UserIDs []ref.UserID `json:"user_ids,omitempty"`
}

// RelatesTo expresses relationships between events.
// For threads, RelType is "m.thread" and EventID is the thread root.
// For reactions, RelType is "m.annotation" and Key is the emoji.
type RelatesTo struct {
	RelType       string      `json:"rel_type"`
	EventID       ref.EventID `json:"event_id"`
	Key           string      `json:"key,omitempty"`
	IsFallingBack bool        `json:"is_falling_back,omitempty"`
	InReplyTo     *InReplyTo  `json:"m.in_reply_to,omitempty"`
}

// InReplyTo references a specific event being replied to within a thread.
type InReplyTo struct {
	EventID ref.EventID `json:"event_id"`
}

// NewTextMessage creates a plain text message with no thread context.
func NewTextMessage(body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    body,
	}
}

// NewThreadReply creates a message that replies within an existing thread.
// threadRootID is the event ID of the thread's root message.
func NewThreadReply(threadRootID ref.EventID, body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    body,
		RelatesTo: &RelatesTo{
			RelType:       "m.thread",
			EventID:       threadRootID,
			IsFallingBack: true,
			InReplyTo: &InReplyTo{
				EventID: threadRootID,
			},
		},
	}
}

// ReactionContent is the content of an m.reaction event.
type ReactionContent struct {
	RelatesTo RelatesTo `json:"m.relates_to"`
}

// NewReaction creates a reaction (m.annotation) to an event.
func NewReaction(target ref.EventID, key string) ReactionContent {
	return ReactionContent{
		RelatesTo: RelatesTo{
			RelType: "m.annotation",
			EventID: target,
			Key:     key,
		},
	}
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	// Since is the next_batch token from the previous sync; empty for
	// initial sync.
	Since string
	// Timeout is the long-poll timeout in milliseconds; 0 for
	// immediate return.
	Timeout int
	// SetTimeout sends the timeout parameter even when zero (needed to
	// distinguish "not set" from "0").
	SetTimeout bool
	// Filter is a filter ID or inline JSON filter.
	Filter string
	// SetPresence is sent as the set_presence parameter: "online",
	// "unavailable", or "offline". Empty omits the parameter (server
	// defaults to online).
	SetPresence string
	// FullState requests all state events, not just those changed
	// since Since.
	FullState bool
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch              string             `json:"next_batch"`
	Rooms                  RoomsSection       `json:"rooms"`
	Presence               PresenceSection    `json:"presence,omitempty"`
	AccountData            AccountDataSection `json:"account_data,omitempty"`
	ToDevice               ToDeviceSection    `json:"to_device,omitempty"`
	DeviceLists            DeviceLists        `json:"device_lists,omitempty"`
	DeviceOneTimeKeysCount map[string]int     `json:"device_one_time_keys_count,omitempty"`
}

// RoomsSection contains per-room sync data grouped by membership state.
// Map keys are room IDs; encoding/json uses ref.RoomID's TextUnmarshaler
// for automatic validation at deserialization.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline            TimelineSection          `json:"timeline"`
	State               StateSection             `json:"state"`
	Ephemeral           EphemeralSection         `json:"ephemeral,omitempty"`
	AccountData         AccountDataSection       `json:"account_data,omitempty"`
	UnreadNotifications UnreadNotificationCounts `json:"unread_notifications,omitempty"`
	Summary             RoomSummary              `json:"summary,omitempty"`
}

// InvitedRoom contains sync data for a room the user was invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// EphemeralSection contains ephemeral events (receipts, typing) for a
// room.
type EphemeralSection struct {
	Events []Event `json:"events"`
}

// AccountDataSection contains account data events, either global or
// per-room.
type AccountDataSection struct {
	Events []AccountDataEvent `json:"events"`
}

// AccountDataEvent is a single account data entry.
type AccountDataEvent struct {
	Type    ref.EventType   `json:"type"`
	Content json.RawMessage `json:"content"`
}

// UnreadNotificationCounts carries per-room unread counters from sync.
type UnreadNotificationCounts struct {
	HighlightCount    int `json:"highlight_count"`
	NotificationCount int `json:"notification_count"`
}

// RoomSummary is the lazy-loading room summary from sync: the "heroes"
// used to compute a display name for rooms without one, plus member
// counts.
type RoomSummary struct {
	Heroes             []ref.UserID `json:"m.heroes,omitempty"`
	JoinedMemberCount  int          `json:"m.joined_member_count,omitempty"`
	InvitedMemberCount int          `json:"m.invited_member_count,omitempty"`
}

// ToDeviceSection contains direct-to-device messages from sync.
type ToDeviceSection struct {
	Events []ToDeviceEvent `json:"events"`
}

// ToDeviceEvent is a single to-device message. Content stays raw: the
// verification machine decodes it per event type.
type ToDeviceEvent struct {
	Type    ref.EventType   `json:"type"`
	Sender  ref.UserID      `json:"sender"`
	Content json.RawMessage `json:"content"`
}

// DeviceLists reports users whose device lists changed since the last
// sync.
type DeviceLists struct {
	Changed []ref.UserID `json:"changed,omitempty"`
	Left    []ref.UserID `json:"left,omitempty"`
}

// PresenceSection contains presence events from the /sync response.
type PresenceSection struct {
	Events []PresenceEvent `json:"events"`
}

// PresenceEvent is a single m.presence event from the /sync response.
type PresenceEvent struct {
	Type    string               `json:"type"`
	Sender  ref.UserID           `json:"sender"`
	Content PresenceEventContent `json:"content"`
}

// PresenceEventContent carries the presence state for a single user.
type PresenceEventContent struct {
	// Presence is the user's current state: "online", "unavailable",
	// or "offline".
	Presence string `json:"presence"`

	// LastActiveAgo is milliseconds since the user was last active.
	// Zero when unknown or when the user is currently active.
	LastActiveAgo int64 `json:"last_active_ago,omitempty"`

	// CurrentlyActive is true when the user is actively using a
	// client right now (not just connected but idle).
	CurrentlyActive bool `json:"currently_active,omitempty"`

	// StatusMsg is an optional user-set status message.
	StatusMsg string `json:"status_msg,omitempty"`
}

// SetPresenceRequest is the JSON body for
// PUT /_matrix/client/v3/presence/{userId}/status.
type SetPresenceRequest struct {
	// Presence is the desired state: "online", "unavailable", or
	// "offline".
	Presence string `json:"presence"`

	// StatusMsg is an optional human-readable status message.
	StatusMsg string `json:"status_msg,omitempty"`
}

// RoomMessagesOptions controls pagination for room message fetching.
type RoomMessagesOptions struct {
	// From is the pagination token; empty means "from now".
	From string
	// To is an optional token to stop at.
	To string
	// Direction is "b" (backward, older) or "f" (forward, newer).
	// Defaults to "b".
	Direction string
	// Limit is the max events to return; 0 uses the server default.
	Limit int
	// Filter restricts the returned events. Nil applies no filter.
	Filter *RoomEventFilter
}

// RoomMessagesResponse is returned by RoomMessages. End is absent when
// the server has reached the start of the room's visible history.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end,omitempty"`
	Chunk []Event `json:"chunk"`
	State []Event `json:"state,omitempty"`
}

// ThreadMessagesOptions controls pagination for thread message fetching.
type ThreadMessagesOptions struct {
	From  string
	Limit int
}

// ThreadMessagesResponse is returned by ThreadMessages.
type ThreadMessagesResponse struct {
	Chunk     []Event `json:"chunk"`
	NextBatch string  `json:"next_batch,omitempty"`
}

// MembersOptions controls the /members endpoint.
type MembersOptions struct {
	// At is a sync token; the member list is as of that point.
	At string
	// Membership restricts results to one membership value
	// (e.g., "join").
	Membership string
	// NotMembership excludes one membership value (e.g., "leave").
	NotMembership string
}

// RoomMembersResponse is returned by the /members endpoint.
type RoomMembersResponse struct {
	Chunk []Event `json:"chunk"`
}

// MemberContent is the typed content of an m.room.member state event.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// PowerLevelsContent is the typed content of an m.room.power_levels
// state event. Map keys are user IDs, validated on decode.
type PowerLevelsContent struct {
	Users         map[ref.UserID]int `json:"users,omitempty"`
	UsersDefault  int                `json:"users_default,omitempty"`
	Events        map[string]int     `json:"events,omitempty"`
	EventsDefault int                `json:"events_default,omitempty"`
	StateDefault  int                `json:"state_default,omitempty"`
	Ban           int                `json:"ban,omitempty"`
	Kick          int                `json:"kick,omitempty"`
	Redact        int                `json:"redact,omitempty"`
	Invite        int                `json:"invite,omitempty"`
}

// Level returns the effective power level for a user, falling back to
// the users_default value.
func (p PowerLevelsContent) Level(userID ref.UserID) int {
	if level, ok := p.Users[userID]; ok {
		return level
	}
	return p.UsersDefault
}

// CreateRoomRequest holds parameters for creating a Matrix room.
type CreateRoomRequest struct {
	Name            string         `json:"name,omitempty"`
	Topic           string         `json:"topic,omitempty"`
	Alias           string         `json:"room_alias_name,omitempty"` // local alias without # or :server
	Visibility      string         `json:"visibility,omitempty"`      // "public" or "private"
	Preset          string         `json:"preset,omitempty"`          // "private_chat", "public_chat", "trusted_private_chat"
	IsDirect        bool           `json:"is_direct,omitempty"`
	Invite          []ref.UserID   `json:"invite,omitempty"`
	CreationContent map[string]any `json:"creation_content,omitempty"`
	InitialState    []StateEvent   `json:"initial_state,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// StateEvent represents a state event for room creation or state
// setting.
type StateEvent struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
	Content  any    `json:"content"`
}

// InviteRequest holds the user ID to invite to a room.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// KickRequest is the request body for kicking a user from a room.
type KickRequest struct {
	UserID ref.UserID `json:"user_id"`
	Reason string     `json:"reason,omitempty"`
}

// SendEventResponse is returned by SendMessage, SendEvent, and
// SendStateEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// DisplayNameResponse is returned by the /profile/{userId}/displayname
// endpoint.
type DisplayNameResponse struct {
	DisplayName string `json:"displayname"`
}
