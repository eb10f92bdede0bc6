// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// migrations is the forward-only schema history, tracked in
// PRAGMA user_version. Entry i migrates from version i to i+1.
// Existing entries are never edited; schema changes append.
var migrations = []string{
	// v1: base schema.
	`
	CREATE TABLE rooms (
		owner_id           TEXT NOT NULL,
		room_id            TEXT NOT NULL,
		type               TEXT NOT NULL,
		summary            BLOB,
		prev_batch         TEXT,
		history_visibility TEXT,
		algorithm          TEXT,
		is_direct          INTEGER NOT NULL DEFAULT 0,
		last_message_ts    INTEGER,
		PRIMARY KEY (owner_id, room_id)
	);

	CREATE TABLE messages (
		id             TEXT PRIMARY KEY,
		room_id        TEXT NOT NULL,
		author_id      TEXT NOT NULL,
		content        TEXT,
		msgtype        TEXT,
		sent_at        INTEGER NOT NULL,
		state          INTEGER NOT NULL DEFAULT 0,
		reply_to_id    TEXT,
		thread_root_id TEXT,
		edited         INTEGER NOT NULL DEFAULT 0,
		verification   BLOB
	);
	CREATE INDEX idx_messages_room ON messages(room_id, sent_at);
	CREATE INDEX idx_messages_thread ON messages(thread_root_id, sent_at);

	CREATE TABLE members (
		room_id      TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		membership   TEXT NOT NULL,
		display_name TEXT,
		avatar_url   TEXT,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE paging_meta (
		entity_id   TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		prev_batch  TEXT,
		next_batch  TEXT
	);

	CREATE TABLE reactions (
		event_id   TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		key        TEXT NOT NULL,
		sender_id  TEXT NOT NULL
	);
	CREATE INDEX idx_reactions_message ON reactions(message_id);
	`,

	// v2: reactions gained a timestamp for stable ordering.
	`
	ALTER TABLE reactions ADD COLUMN sent_at INTEGER NOT NULL DEFAULT 0;
	`,

	// v3: last_message_ts moved into the summary blob. SQLite of this
	// vintage cannot drop a column, so rebuild the table and copy the
	// surviving columns over.
	`
	CREATE TABLE rooms_new (
		owner_id           TEXT NOT NULL,
		room_id            TEXT NOT NULL,
		type               TEXT NOT NULL,
		summary            BLOB,
		prev_batch         TEXT,
		history_visibility TEXT,
		algorithm          TEXT,
		is_direct          INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (owner_id, room_id)
	);
	INSERT INTO rooms_new
		SELECT owner_id, room_id, type, summary, prev_batch,
		       history_visibility, algorithm, is_direct
		FROM rooms;
	DROP TABLE rooms;
	ALTER TABLE rooms_new RENAME TO rooms;
	`,

	// v4: cached room roles derived from power levels.
	`
	CREATE TABLE roles (
		uid     TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		label   TEXT NOT NULL,
		power   INTEGER NOT NULL
	);
	CREATE INDEX idx_roles_room ON roles(room_id);
	`,
}

// migrate brings the database schema up to the current version. Each
// pending migration runs in its own transaction so a failure leaves the
// database at a well-defined intermediate version.
func (s *Store) migrate() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	defer s.pool.Put(conn)

	version, err := schemaVersion(conn)
	if err != nil {
		return err
	}

	if int(version) > len(migrations) {
		return fmt.Errorf("store: database schema version %d is newer than this build supports (%d)", version, len(migrations))
	}

	for next := int(version); next < len(migrations); next++ {
		if err := applyMigration(conn, next); err != nil {
			return err
		}
		s.logger.Info("schema migrated", "version", next+1)
	}

	return nil
}

func applyMigration(conn *sqlite.Conn, index int) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return classify("begin migration", err)
	}
	defer endTransaction(&err)

	if err := sqlitex.ExecuteScript(conn, migrations[index], nil); err != nil {
		return classify(fmt.Sprintf("migration to version %d", index+1), err)
	}

	// PRAGMA does not accept bound parameters.
	setVersion := fmt.Sprintf("PRAGMA user_version = %d", index+1)
	if err := sqlitex.ExecuteTransient(conn, setVersion, nil); err != nil {
		return classify("record schema version", err)
	}
	return nil
}

func schemaVersion(conn *sqlite.Conn) (int64, error) {
	var version int64
	err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, classify("read schema version", err)
	}
	return version, nil
}
