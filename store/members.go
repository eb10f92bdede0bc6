// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Let-s-build-something/client-app/lib/ref"
)

// Member is one (room, user) membership row.
type Member struct {
	RoomID      ref.RoomID
	UserID      ref.UserID
	Membership  string // "invite", "join", "leave", or "ban"
	DisplayName string
	AvatarURL   string
}

// UpsertMember inserts the member or replaces the existing row for the
// same (room, user) pair. Membership events are full state, not deltas,
// so the incoming row wins outright.
func (s *Store) UpsertMember(ctx context.Context, member Member) error {
	if member.RoomID.IsZero() || member.UserID.IsZero() {
		return fmt.Errorf("store: upsert member: room and user IDs are required")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: upsert member: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO members (room_id, user_id, membership, display_name, avatar_url)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			membership = excluded.membership,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url`,
		&sqlitex.ExecOptions{
			Args: []any{
				member.RoomID.String(),
				member.UserID.String(),
				member.Membership,
				nullableText(member.DisplayName),
				nullableText(member.AvatarURL),
			},
		})
	return classify("upsert member", err)
}

// MemberQuery bounds a member list read.
type MemberQuery struct {
	// Limit caps the number of rows returned. Zero or negative means
	// no cap.
	Limit int

	// Offset skips rows for pagination.
	Offset int

	// Membership restricts results to one membership value, e.g.
	// "join". Empty returns all memberships.
	Membership string

	// Exclude drops one user from the results, typically the account
	// owner.
	Exclude ref.UserID
}

// Members returns the room's members ordered by user ID for stable
// pagination.
func (s *Store) Members(ctx context.Context, roomID ref.RoomID, query MemberQuery) ([]Member, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: members: %w", err)
	}
	defer s.pool.Put(conn)

	conditions := []string{"room_id = ?"}
	args := []any{roomID.String()}
	if query.Membership != "" {
		conditions = append(conditions, "membership = ?")
		args = append(args, query.Membership)
	}
	if !query.Exclude.IsZero() {
		conditions = append(conditions, "user_id != ?")
		args = append(args, query.Exclude.String())
	}

	sql := `SELECT room_id, user_id, membership, display_name, avatar_url
		FROM members WHERE ` + strings.Join(conditions, " AND ") +
		" ORDER BY user_id"
	if query.Limit > 0 {
		sql += " LIMIT ? OFFSET ?"
		args = append(args, query.Limit, query.Offset)
	}

	var members []Member
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			member, err := scanMember(stmt)
			if err != nil {
				return err
			}
			members = append(members, member)
			return nil
		},
	})
	if err != nil {
		return nil, classify("members", err)
	}
	return members, nil
}

// MemberCount returns the number of stored members matching the
// membership value; empty counts all.
func (s *Store) MemberCount(ctx context.Context, roomID ref.RoomID, membership string) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: member count: %w", err)
	}
	defer s.pool.Put(conn)

	sql := "SELECT COUNT(*) FROM members WHERE room_id = ?"
	args := []any{roomID.String()}
	if membership != "" {
		sql += " AND membership = ?"
		args = append(args, membership)
	}

	var count int
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, classify("member count", err)
	}
	return count, nil
}

func scanMember(stmt *sqlite.Stmt) (Member, error) {
	roomID, err := ref.ParseRoomID(stmt.ColumnText(0))
	if err != nil {
		return Member{}, fmt.Errorf("parse room ID: %w", err)
	}
	userID, err := ref.ParseUserID(stmt.ColumnText(1))
	if err != nil {
		return Member{}, fmt.Errorf("parse user ID: %w", err)
	}
	return Member{
		RoomID:      roomID,
		UserID:      userID,
		Membership:  stmt.ColumnText(2),
		DisplayName: stmt.ColumnText(3),
		AvatarURL:   stmt.ColumnText(4),
	}, nil
}
