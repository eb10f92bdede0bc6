// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Let-s-build-something/client-app/lib/codec"
	"github.com/Let-s-build-something/client-app/lib/ref"
)

// MessageState tracks a message's delivery lifecycle.
type MessageState int

const (
	MessageSending MessageState = iota
	MessageSent
	MessageDelivered
	MessageFailed
	MessageDecrypting
)

// VerificationInfo is the key-verification request payload attached to
// an m.key.verification.request room message. Persisted as a CBOR blob
// so the verification machine can resume from local history.
type VerificationInfo struct {
	FromDevice    ref.DeviceID `cbor:"from_device"`
	Methods       []string     `cbor:"methods,omitempty"`
	TransactionID string       `cbor:"transaction_id,omitempty"`
}

// Message is one durable timeline row. Message IDs (Matrix event IDs)
// are globally unique, so the table is keyed by ID alone.
type Message struct {
	ID           ref.EventID
	RoomID       ref.RoomID
	AuthorID     ref.UserID
	Content      string
	MsgType      string
	SentAt       int64 // milliseconds since epoch (origin_server_ts)
	State        MessageState
	ReplyToID    ref.EventID
	ThreadRootID ref.EventID
	Edited       bool
	Verification *VerificationInfo
}

// MessageUpdate is a partial delta for UpdateMessage. Nil fields leave
// the stored column untouched; a populated column is never cleared by
// an absent field.
type MessageUpdate struct {
	Content      *string
	MsgType      *string
	SentAt       *int64
	State        *MessageState
	ReplyToID    *ref.EventID
	ThreadRootID *ref.EventID
	Edited       *bool
	Verification *VerificationInfo
}

// UpsertMessage inserts the message or merges it onto the existing row
// with the same ID. Replaying the same event is a no-op; a re-delivered
// event with more detail (a decrypted body, a thread anchor) fills in
// what the stored row is missing without clearing populated columns.
func (s *Store) UpsertMessage(ctx context.Context, message Message) error {
	if message.ID.IsZero() || message.RoomID.IsZero() {
		return fmt.Errorf("store: upsert message: message and room IDs are required")
	}

	verificationBlob, err := marshalVerification(message.Verification)
	if err != nil {
		return fmt.Errorf("store: upsert message: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: upsert message: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO messages
			(id, room_id, author_id, content, msgtype, sent_at, state,
			 reply_to_id, thread_root_id, edited, verification)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			content = COALESCE(excluded.content, content),
			msgtype = COALESCE(excluded.msgtype, msgtype),
			sent_at = excluded.sent_at,
			state = excluded.state,
			reply_to_id = COALESCE(excluded.reply_to_id, reply_to_id),
			thread_root_id = COALESCE(excluded.thread_root_id, thread_root_id),
			edited = MAX(excluded.edited, edited),
			verification = COALESCE(excluded.verification, verification)`,
		&sqlitex.ExecOptions{
			Args: []any{
				message.ID.String(),
				message.RoomID.String(),
				message.AuthorID.String(),
				nullableText(message.Content),
				nullableText(message.MsgType),
				message.SentAt,
				int(message.State),
				nullableText(message.ReplyToID.String()),
				nullableText(message.ThreadRootID.String()),
				boolInt(message.Edited),
				verificationBlob,
			},
		})
	return classify("upsert message", err)
}

// UpdateMessage merges a partial delta onto the stored row. Only the
// delta's non-nil fields are written, so a populated column is never
// overwritten with an empty value unless the caller explicitly provides
// one. Updating a message that does not exist is a no-op.
func (s *Store) UpdateMessage(ctx context.Context, id ref.EventID, update MessageUpdate) error {
	var assignments []string
	var args []any

	appendSet := func(column string, value any) {
		assignments = append(assignments, column+" = ?")
		args = append(args, value)
	}

	if update.Content != nil {
		appendSet("content", *update.Content)
	}
	if update.MsgType != nil {
		appendSet("msgtype", *update.MsgType)
	}
	if update.SentAt != nil {
		appendSet("sent_at", *update.SentAt)
	}
	if update.State != nil {
		appendSet("state", int(*update.State))
	}
	if update.ReplyToID != nil {
		appendSet("reply_to_id", nullableText(update.ReplyToID.String()))
	}
	if update.ThreadRootID != nil {
		appendSet("thread_root_id", nullableText(update.ThreadRootID.String()))
	}
	if update.Edited != nil {
		appendSet("edited", boolInt(*update.Edited))
	}
	if update.Verification != nil {
		blob, err := marshalVerification(update.Verification)
		if err != nil {
			return fmt.Errorf("store: update message: %w", err)
		}
		appendSet("verification", blob)
	}

	if len(assignments) == 0 {
		return nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: update message: %w", err)
	}
	defer s.pool.Put(conn)

	query := "UPDATE messages SET " + strings.Join(assignments, ", ") + " WHERE id = ?"
	args = append(args, id.String())

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args})
	return classify("update message", err)
}

// Message returns the stored row for the event ID. The second return is
// false when no row exists.
func (s *Store) Message(ctx context.Context, id ref.EventID) (Message, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Message{}, false, fmt.Errorf("store: message: %w", err)
	}
	defer s.pool.Put(conn)

	var message Message
	var found bool
	err = sqlitex.Execute(conn, messageSelect+" WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanMessage(stmt)
				if err != nil {
					return err
				}
				message = scanned
				found = true
				return nil
			},
		})
	if err != nil {
		return Message{}, false, classify("message", err)
	}
	return message, found, nil
}

// MessageQuery bounds a room timeline read.
type MessageQuery struct {
	// Limit caps the number of rows returned. Zero or negative means
	// 50.
	Limit int

	// Before restricts results to messages sent strictly before this
	// timestamp (milliseconds). Zero means no bound.
	Before int64

	// ThreadRoot restricts results to one thread. Zero value returns
	// the main timeline (threaded replies included).
	ThreadRoot ref.EventID
}

// Messages returns the room's messages newest first.
func (s *Store) Messages(ctx context.Context, roomID ref.RoomID, query MessageQuery) ([]Message, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: messages: %w", err)
	}
	defer s.pool.Put(conn)

	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}

	conditions := []string{"room_id = ?"}
	args := []any{roomID.String()}
	if query.Before > 0 {
		conditions = append(conditions, "sent_at < ?")
		args = append(args, query.Before)
	}
	if !query.ThreadRoot.IsZero() {
		conditions = append(conditions, "thread_root_id = ?")
		args = append(args, query.ThreadRoot.String())
	}
	args = append(args, limit)

	var messages []Message
	err = sqlitex.Execute(conn,
		messageSelect+" WHERE "+strings.Join(conditions, " AND ")+
			" ORDER BY sent_at DESC LIMIT ?",
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				message, err := scanMessage(stmt)
				if err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			},
		})
	if err != nil {
		return nil, classify("messages", err)
	}
	return messages, nil
}

// DeleteMessage removes the message row and its reactions. Used when a
// redaction targets a message.
func (s *Store) DeleteMessage(ctx context.Context, id ref.EventID) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete message: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return classify("delete message", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, "DELETE FROM reactions WHERE message_id = ?",
		&sqlitex.ExecOptions{Args: []any{id.String()}})
	if err != nil {
		return classify("delete message", err)
	}
	err = sqlitex.Execute(conn, "DELETE FROM messages WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{id.String()}})
	return classify("delete message", err)
}

const messageSelect = `
	SELECT id, room_id, author_id, content, msgtype, sent_at, state,
	       reply_to_id, thread_root_id, edited, verification
	FROM messages`

func scanMessage(stmt *sqlite.Stmt) (Message, error) {
	id, err := ref.ParseEventID(stmt.ColumnText(0))
	if err != nil {
		return Message{}, fmt.Errorf("parse message ID: %w", err)
	}
	roomID, err := ref.ParseRoomID(stmt.ColumnText(1))
	if err != nil {
		return Message{}, fmt.Errorf("parse room ID: %w", err)
	}
	authorID, err := ref.ParseUserID(stmt.ColumnText(2))
	if err != nil {
		return Message{}, fmt.Errorf("parse author ID: %w", err)
	}

	message := Message{
		ID:       id,
		RoomID:   roomID,
		AuthorID: authorID,
		Content:  stmt.ColumnText(3),
		MsgType:  stmt.ColumnText(4),
		SentAt:   stmt.ColumnInt64(5),
		State:    MessageState(stmt.ColumnInt(6)),
		Edited:   stmt.ColumnInt(9) != 0,
	}

	if !stmt.ColumnIsNull(7) {
		replyTo, err := ref.ParseEventID(stmt.ColumnText(7))
		if err != nil {
			return Message{}, fmt.Errorf("parse reply anchor: %w", err)
		}
		message.ReplyToID = replyTo
	}
	if !stmt.ColumnIsNull(8) {
		threadRoot, err := ref.ParseEventID(stmt.ColumnText(8))
		if err != nil {
			return Message{}, fmt.Errorf("parse thread root: %w", err)
		}
		message.ThreadRootID = threadRoot
	}
	if !stmt.ColumnIsNull(10) {
		blob := make([]byte, stmt.ColumnLen(10))
		stmt.ColumnBytes(10, blob)
		var verification VerificationInfo
		if err := codec.Unmarshal(blob, &verification); err != nil {
			return Message{}, fmt.Errorf("unmarshal verification payload: %w", err)
		}
		message.Verification = &verification
	}

	return message, nil
}

func marshalVerification(info *VerificationInfo) (any, error) {
	if info == nil {
		return nil, nil
	}
	blob, err := codec.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal verification payload: %w", err)
	}
	return blob, nil
}
