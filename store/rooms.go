// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"sort"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Let-s-build-something/client-app/lib/codec"
	"github.com/Let-s-build-something/client-app/lib/ref"
)

// RoomCategory reflects the account's relationship to a room as
// reported by sync.
type RoomCategory string

const (
	RoomJoined  RoomCategory = "joined"
	RoomInvited RoomCategory = "invited"
	RoomLeft    RoomCategory = "left"
)

// RoomSummary is the display metadata merged from room state and the
// lazy-loading sync summary. Persisted as a CBOR blob on the room row;
// new fields are additive and old blobs decode with zero values.
type RoomSummary struct {
	Name               string       `cbor:"name,omitempty"`
	Topic              string       `cbor:"topic,omitempty"`
	AvatarURL          string       `cbor:"avatar_url,omitempty"`
	CanonicalAlias     string       `cbor:"canonical_alias,omitempty"`
	Heroes             []ref.UserID `cbor:"heroes,omitempty"`
	JoinedMemberCount  int          `cbor:"joined_member_count,omitempty"`
	InvitedMemberCount int          `cbor:"invited_member_count,omitempty"`
	HighlightCount     int          `cbor:"highlight_count,omitempty"`
	NotificationCount  int          `cbor:"notification_count,omitempty"`
	LastMessageTS      int64        `cbor:"last_message_ts,omitempty"`
}

// Room is one durable conversation row. Exactly one row exists per
// (owner account, room) pair.
type Room struct {
	OwnerID           ref.UserID
	RoomID            ref.RoomID
	Category          RoomCategory
	Summary           RoomSummary
	PrevBatch         string
	HistoryVisibility string
	Algorithm         string
	IsDirect          bool
}

// UpsertRoom inserts the room or replaces the existing row for the same
// (owner, room) pair.
func (s *Store) UpsertRoom(ctx context.Context, room Room) error {
	if room.OwnerID.IsZero() || room.RoomID.IsZero() {
		return fmt.Errorf("store: upsert room: owner and room IDs are required")
	}

	summaryBlob, err := codec.Marshal(room.Summary)
	if err != nil {
		return fmt.Errorf("store: upsert room: marshal summary: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: upsert room: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO rooms
			(owner_id, room_id, type, summary, prev_batch,
			 history_visibility, algorithm, is_direct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, room_id) DO UPDATE SET
			type = excluded.type,
			summary = excluded.summary,
			prev_batch = COALESCE(excluded.prev_batch, prev_batch),
			history_visibility = COALESCE(excluded.history_visibility, history_visibility),
			algorithm = COALESCE(excluded.algorithm, algorithm),
			is_direct = excluded.is_direct`,
		&sqlitex.ExecOptions{
			Args: []any{
				room.OwnerID.String(),
				room.RoomID.String(),
				string(room.Category),
				summaryBlob,
				nullableText(room.PrevBatch),
				nullableText(room.HistoryVisibility),
				nullableText(room.Algorithm),
				boolInt(room.IsDirect),
			},
		})
	return classify("upsert room", err)
}

// Room returns the stored row for (owner, room). The second return is
// false when no row exists.
func (s *Store) Room(ctx context.Context, ownerID ref.UserID, roomID ref.RoomID) (Room, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Room{}, false, fmt.Errorf("store: room: %w", err)
	}
	defer s.pool.Put(conn)

	var room Room
	var found bool
	err = sqlitex.Execute(conn, `
		SELECT owner_id, room_id, type, summary, prev_batch,
		       history_visibility, algorithm, is_direct
		FROM rooms WHERE owner_id = ? AND room_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{ownerID.String(), roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanRoom(stmt)
				if err != nil {
					return err
				}
				room = scanned
				found = true
				return nil
			},
		})
	if err != nil {
		return Room{}, false, classify("room", err)
	}
	return room, found, nil
}

// Rooms returns all rooms for the owner account, most recently active
// first (by the summary's last message timestamp).
func (s *Store) Rooms(ctx context.Context, ownerID ref.UserID) ([]Room, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: rooms: %w", err)
	}
	defer s.pool.Put(conn)

	var rooms []Room
	err = sqlitex.Execute(conn, `
		SELECT owner_id, room_id, type, summary, prev_batch,
		       history_visibility, algorithm, is_direct
		FROM rooms WHERE owner_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{ownerID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				room, err := scanRoom(stmt)
				if err != nil {
					return err
				}
				rooms = append(rooms, room)
				return nil
			},
		})
	if err != nil {
		return nil, classify("rooms", err)
	}

	sortRoomsByActivity(rooms)
	return rooms, nil
}

// SetRoomPrevBatch records the room's back-pagination token from the
// latest sync timeline.
func (s *Store) SetRoomPrevBatch(ctx context.Context, ownerID ref.UserID, roomID ref.RoomID, prevBatch string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set room prev batch: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE rooms SET prev_batch = ? WHERE owner_id = ? AND room_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{prevBatch, ownerID.String(), roomID.String()},
		})
	return classify("set room prev batch", err)
}

// DeleteRoom removes the room row and its dependent rows (messages,
// members, reactions, roles, paging cursors). Used on leave/forget; the
// only destructive path for conversation data.
func (s *Store) DeleteRoom(ctx context.Context, ownerID ref.UserID, roomID ref.RoomID) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete room: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return classify("delete room", err)
	}
	defer endTransaction(&err)

	room := roomID.String()
	statements := []struct {
		query string
		args  []any
	}{
		{"DELETE FROM reactions WHERE message_id IN (SELECT id FROM messages WHERE room_id = ?)", []any{room}},
		{"DELETE FROM messages WHERE room_id = ?", []any{room}},
		{"DELETE FROM members WHERE room_id = ?", []any{room}},
		{"DELETE FROM roles WHERE room_id = ?", []any{room}},
		{"DELETE FROM paging_meta WHERE entity_id LIKE ? || '%'", []any{"members_" + room}},
		{"DELETE FROM rooms WHERE owner_id = ? AND room_id = ?", []any{ownerID.String(), room}},
	}
	for _, statement := range statements {
		err = sqlitex.Execute(conn, statement.query, &sqlitex.ExecOptions{Args: statement.args})
		if err != nil {
			return classify("delete room", err)
		}
	}
	return nil
}

func scanRoom(stmt *sqlite.Stmt) (Room, error) {
	ownerID, err := ref.ParseUserID(stmt.ColumnText(0))
	if err != nil {
		return Room{}, fmt.Errorf("parse owner ID: %w", err)
	}
	roomID, err := ref.ParseRoomID(stmt.ColumnText(1))
	if err != nil {
		return Room{}, fmt.Errorf("parse room ID: %w", err)
	}

	room := Room{
		OwnerID:           ownerID,
		RoomID:            roomID,
		Category:          RoomCategory(stmt.ColumnText(2)),
		PrevBatch:         stmt.ColumnText(4),
		HistoryVisibility: stmt.ColumnText(5),
		Algorithm:         stmt.ColumnText(6),
		IsDirect:          stmt.ColumnInt(7) != 0,
	}

	if !stmt.ColumnIsNull(3) {
		blob := make([]byte, stmt.ColumnLen(3))
		stmt.ColumnBytes(3, blob)
		if err := codec.Unmarshal(blob, &room.Summary); err != nil {
			return Room{}, fmt.Errorf("unmarshal room summary: %w", err)
		}
	}

	return room, nil
}

func sortRoomsByActivity(rooms []Room) {
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].Summary.LastMessageTS > rooms[j].Summary.LastMessageTS
	})
}

// nullableText maps "" to NULL so upsert COALESCE semantics can
// distinguish "not provided" from a real value.
func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
