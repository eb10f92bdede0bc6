// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"

	"github.com/Let-s-build-something/client-app/lib/ref"
)

func TestUpsertMessageIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	message := Message{
		ID:       ref.MustParseEventID("$msg1:augmy.org"),
		RoomID:   testRoom,
		AuthorID: testSender,
		Content:  "hello",
		MsgType:  "m.text",
		SentAt:   1000,
		State:    MessageSent,
	}

	for i := 0; i < 2; i++ {
		if err := store.UpsertMessage(ctx, message); err != nil {
			t.Fatalf("UpsertMessage #%d: %v", i+1, err)
		}
	}

	messages, err := store.Messages(ctx, testRoom, MessageQuery{})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages after replay, want 1", len(messages))
	}
	if messages[0].Content != "hello" {
		t.Errorf("content = %q, want %q", messages[0].Content, "hello")
	}
}

func TestUpsertMessageMergeKeepsPopulatedColumns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	threadRoot := ref.MustParseEventID("$root:augmy.org")
	id := ref.MustParseEventID("$msg1:augmy.org")

	err := store.UpsertMessage(ctx, Message{
		ID:           id,
		RoomID:       testRoom,
		AuthorID:     testSender,
		Content:      "original body",
		MsgType:      "m.text",
		SentAt:       1000,
		ThreadRootID: threadRoot,
	})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	// Re-delivery of the same event without the thread anchor (as a
	// bare timeline event) must not clear the stored anchor or body.
	err = store.UpsertMessage(ctx, Message{
		ID:       id,
		RoomID:   testRoom,
		AuthorID: testSender,
		SentAt:   1000,
		State:    MessageDelivered,
	})
	if err != nil {
		t.Fatalf("UpsertMessage redelivery: %v", err)
	}

	stored, found, err := store.Message(ctx, id)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if !found {
		t.Fatal("message not found")
	}
	if stored.Content != "original body" {
		t.Errorf("content = %q, want preserved body", stored.Content)
	}
	if stored.ThreadRootID != threadRoot {
		t.Errorf("thread root = %v, want preserved", stored.ThreadRootID)
	}
	if stored.State != MessageDelivered {
		t.Errorf("state = %v, want MessageDelivered", stored.State)
	}
}

func TestUpdateMessagePartialDelta(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id := ref.MustParseEventID("$msg1:augmy.org")
	err := store.UpsertMessage(ctx, Message{
		ID:       id,
		RoomID:   testRoom,
		AuthorID: testSender,
		Content:  "before edit",
		MsgType:  "m.text",
		SentAt:   1000,
	})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	edited := true
	content := "after edit"
	err = store.UpdateMessage(ctx, id, MessageUpdate{
		Content: &content,
		Edited:  &edited,
	})
	if err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}

	stored, _, err := store.Message(ctx, id)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if stored.Content != "after edit" {
		t.Errorf("content = %q, want edited body", stored.Content)
	}
	if !stored.Edited {
		t.Error("edited flag not set")
	}
	if stored.MsgType != "m.text" {
		t.Errorf("msgtype = %q, want untouched", stored.MsgType)
	}
	if stored.SentAt != 1000 {
		t.Errorf("sent_at = %d, want untouched", stored.SentAt)
	}
}

func TestUpdateMessageEmptyDeltaIsNoOp(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.UpdateMessage(ctx, ref.MustParseEventID("$missing:augmy.org"), MessageUpdate{}); err != nil {
		t.Fatalf("UpdateMessage with empty delta: %v", err)
	}
}

func TestMessagesThreadQuery(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	root := ref.MustParseEventID("$root:augmy.org")
	rows := []Message{
		{ID: root, Content: "root"},
		{ID: ref.MustParseEventID("$reply1:augmy.org"), Content: "in thread", ThreadRootID: root},
		{ID: ref.MustParseEventID("$other:augmy.org"), Content: "main timeline"},
	}
	for i, row := range rows {
		row.RoomID = testRoom
		row.AuthorID = testSender
		row.MsgType = "m.text"
		row.SentAt = int64(1000 + i)
		if err := store.UpsertMessage(ctx, row); err != nil {
			t.Fatalf("UpsertMessage %s: %v", row.ID, err)
		}
	}

	threaded, err := store.Messages(ctx, testRoom, MessageQuery{ThreadRoot: root})
	if err != nil {
		t.Fatalf("Messages in thread: %v", err)
	}
	if len(threaded) != 1 || threaded[0].Content != "in thread" {
		t.Errorf("thread query returned %v, want the single thread reply", threaded)
	}

	all, err := store.Messages(ctx, testRoom, MessageQuery{})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d messages, want 3", len(all))
	}
	// Newest first.
	if all[0].ID.String() != "$other:augmy.org" {
		t.Errorf("first message = %s, want newest", all[0].ID)
	}
}

func TestMessageVerificationBlobRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id := ref.MustParseEventID("$verify:augmy.org")
	err := store.UpsertMessage(ctx, Message{
		ID:       id,
		RoomID:   testRoom,
		AuthorID: testSender,
		MsgType:  "m.key.verification.request",
		SentAt:   2000,
		Verification: &VerificationInfo{
			FromDevice:    ref.MustParseDeviceID("AAAABBBB"),
			Methods:       []string{"m.sas.v1"},
			TransactionID: "$verify:augmy.org",
		},
	})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	stored, _, err := store.Message(ctx, id)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if stored.Verification == nil {
		t.Fatal("verification payload lost")
	}
	if stored.Verification.FromDevice.String() != "AAAABBBB" {
		t.Errorf("from device = %s, want AAAABBBB", stored.Verification.FromDevice)
	}
	if len(stored.Verification.Methods) != 1 || stored.Verification.Methods[0] != "m.sas.v1" {
		t.Errorf("methods = %v, want [m.sas.v1]", stored.Verification.Methods)
	}
}

func TestDeleteMessageRemovesReactions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id := ref.MustParseEventID("$msg1:augmy.org")
	err := store.UpsertMessage(ctx, Message{
		ID: id, RoomID: testRoom, AuthorID: testSender,
		Content: "to be redacted", MsgType: "m.text", SentAt: 1000,
	})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	err = store.InsertReaction(ctx, Reaction{
		EventID:   ref.MustParseEventID("$react1:augmy.org"),
		MessageID: id,
		Key:       "🎉",
		SenderID:  testSender,
		SentAt:    1001,
	})
	if err != nil {
		t.Fatalf("InsertReaction: %v", err)
	}

	if err := store.DeleteMessage(ctx, id); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	if _, found, _ := store.Message(ctx, id); found {
		t.Error("message survived delete")
	}
	reactions, err := store.Reactions(ctx, id)
	if err != nil {
		t.Fatalf("Reactions: %v", err)
	}
	if len(reactions) != 0 {
		t.Errorf("got %d reactions after delete, want 0", len(reactions))
	}
}
