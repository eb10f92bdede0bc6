// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// PagingEntityType names what a pagination cursor paginates.
type PagingEntityType string

const (
	PagingMembers  PagingEntityType = "members"
	PagingMessages PagingEntityType = "messages"
	PagingThread   PagingEntityType = "thread"
)

// PagingMeta is the pagination cursor for one entity, e.g. entity ID
// "members_!room:server" for a room's member back-pagination.
//
// A nil PrevBatch on a stored row is the terminal marker: history is
// exhausted in that direction and must not be re-queried. That is
// distinct from no row at all, which means pagination has not started.
type PagingMeta struct {
	EntityID   string
	EntityType PagingEntityType
	PrevBatch  *string
	NextBatch  *string
}

// Terminal reports whether backward pagination is exhausted.
func (m PagingMeta) Terminal() bool {
	return m.PrevBatch == nil
}

// SetPagingMeta upserts the cursor row for the entity.
func (s *Store) SetPagingMeta(ctx context.Context, meta PagingMeta) error {
	if meta.EntityID == "" {
		return fmt.Errorf("store: set paging meta: entity ID is required")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set paging meta: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO paging_meta (entity_id, entity_type, prev_batch, next_batch)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			prev_batch = excluded.prev_batch,
			next_batch = excluded.next_batch`,
		&sqlitex.ExecOptions{
			Args: []any{
				meta.EntityID,
				string(meta.EntityType),
				nullablePtr(meta.PrevBatch),
				nullablePtr(meta.NextBatch),
			},
		})
	return classify("set paging meta", err)
}

// PagingMeta returns the stored cursor for the entity. The second
// return is false when no row exists (pagination not started).
func (s *Store) PagingMeta(ctx context.Context, entityID string) (PagingMeta, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return PagingMeta{}, false, fmt.Errorf("store: paging meta: %w", err)
	}
	defer s.pool.Put(conn)

	var meta PagingMeta
	var found bool
	err = sqlitex.Execute(conn,
		"SELECT entity_id, entity_type, prev_batch, next_batch FROM paging_meta WHERE entity_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{entityID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				meta.EntityID = stmt.ColumnText(0)
				meta.EntityType = PagingEntityType(stmt.ColumnText(1))
				if !stmt.ColumnIsNull(2) {
					token := stmt.ColumnText(2)
					meta.PrevBatch = &token
				}
				if !stmt.ColumnIsNull(3) {
					token := stmt.ColumnText(3)
					meta.NextBatch = &token
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return PagingMeta{}, false, classify("paging meta", err)
	}
	return meta, found, nil
}

func nullablePtr(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
