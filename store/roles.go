// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"sort"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Let-s-build-something/client-app/lib/ref"
)

// Role is one room-scoped permission tier derived from the room's
// power-levels event. Roles are a cache for offline display, not the
// authoritative source; the homeserver's power levels always win.
type Role struct {
	RoomID ref.RoomID
	Label  string
	Power  int
}

// ReplaceRoles replaces the room's cached roles wholesale. Power levels
// arrive as one complete state event, so the incoming set is
// authoritative and partial merging would leave stale tiers behind.
func (s *Store) ReplaceRoles(ctx context.Context, roomID ref.RoomID, roles []Role) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: replace roles: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return classify("replace roles", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, "DELETE FROM roles WHERE room_id = ?",
		&sqlitex.ExecOptions{Args: []any{roomID.String()}})
	if err != nil {
		return classify("replace roles", err)
	}

	for _, role := range roles {
		uid := roomID.String() + "_" + role.Label
		err = sqlitex.Execute(conn,
			"INSERT OR REPLACE INTO roles (uid, room_id, label, power) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{
				Args: []any{uid, roomID.String(), role.Label, role.Power},
			})
		if err != nil {
			return classify("replace roles", err)
		}
	}
	return nil
}

// Roles returns the room's cached roles, highest power first.
func (s *Store) Roles(ctx context.Context, roomID ref.RoomID) ([]Role, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: roles: %w", err)
	}
	defer s.pool.Put(conn)

	var roles []Role
	err = sqlitex.Execute(conn,
		"SELECT label, power FROM roles WHERE room_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				roles = append(roles, Role{
					RoomID: roomID,
					Label:  stmt.ColumnText(0),
					Power:  stmt.ColumnInt(1),
				})
				return nil
			},
		})
	if err != nil {
		return nil, classify("roles", err)
	}

	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Power != roles[j].Power {
			return roles[i].Power > roles[j].Power
		}
		return roles[i].Label < roles[j].Label
	})
	return roles, nil
}
