// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Let-s-build-something/client-app/lib/ref"
)

// Reaction is one m.reaction (annotation) row. Keyed by the reaction's
// own event ID so replaying a sync batch cannot duplicate it.
type Reaction struct {
	EventID   ref.EventID
	MessageID ref.EventID
	Key       string
	SenderID  ref.UserID
	SentAt    int64
}

// InsertReaction records the reaction. Re-inserting the same event ID
// is a no-op.
func (s *Store) InsertReaction(ctx context.Context, reaction Reaction) error {
	if reaction.EventID.IsZero() || reaction.MessageID.IsZero() {
		return fmt.Errorf("store: insert reaction: event and message IDs are required")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: insert reaction: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT OR IGNORE INTO reactions (event_id, message_id, key, sender_id, sent_at)
		VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				reaction.EventID.String(),
				reaction.MessageID.String(),
				reaction.Key,
				reaction.SenderID.String(),
				reaction.SentAt,
			},
		})
	return classify("insert reaction", err)
}

// Reactions returns the reactions attached to a message, oldest first.
func (s *Store) Reactions(ctx context.Context, messageID ref.EventID) ([]Reaction, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: reactions: %w", err)
	}
	defer s.pool.Put(conn)

	var reactions []Reaction
	err = sqlitex.Execute(conn, `
		SELECT event_id, message_id, key, sender_id, sent_at
		FROM reactions WHERE message_id = ? ORDER BY sent_at, event_id`,
		&sqlitex.ExecOptions{
			Args: []any{messageID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				reaction, err := scanReaction(stmt)
				if err != nil {
					return err
				}
				reactions = append(reactions, reaction)
				return nil
			},
		})
	if err != nil {
		return nil, classify("reactions", err)
	}
	return reactions, nil
}

// DeleteReaction removes the reaction with the given event ID. Used
// when a redaction targets a reaction; deleting an unknown ID is a
// no-op.
func (s *Store) DeleteReaction(ctx context.Context, eventID ref.EventID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete reaction: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM reactions WHERE event_id = ?",
		&sqlitex.ExecOptions{Args: []any{eventID.String()}})
	return classify("delete reaction", err)
}

func scanReaction(stmt *sqlite.Stmt) (Reaction, error) {
	eventID, err := ref.ParseEventID(stmt.ColumnText(0))
	if err != nil {
		return Reaction{}, fmt.Errorf("parse reaction event ID: %w", err)
	}
	messageID, err := ref.ParseEventID(stmt.ColumnText(1))
	if err != nil {
		return Reaction{}, fmt.Errorf("parse reaction target ID: %w", err)
	}
	senderID, err := ref.ParseUserID(stmt.ColumnText(3))
	if err != nil {
		return Reaction{}, fmt.Errorf("parse reaction sender: %w", err)
	}
	return Reaction{
		EventID:   eventID,
		MessageID: messageID,
		Key:       stmt.ColumnText(2),
		SenderID:  senderID,
		SentAt:    stmt.ColumnInt64(4),
	}, nil
}
