// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/Let-s-build-something/client-app/lib/ref"
)

var (
	testOwner  = ref.MustParseUserID("@alice:augmy.org")
	testRoom   = ref.MustParseRoomID("!general:augmy.org")
	testSender = ref.MustParseUserID("@bob:augmy.org")
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "chat_test.db"),
		PoolSize: 2,
		Logger:   slog.Default(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("store.Close: %v", err)
		}
	})
	return store
}

func TestMigrationsBringFreshDatabaseToCurrentVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_test.db")

	store, err := Open(Config{Path: path, PoolSize: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	conn, err := store.pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	version, err := schemaVersion(conn)
	store.pool.Put(conn)
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if int(version) != len(migrations) {
		t.Errorf("user_version = %d, want %d", version, len(migrations))
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening an up-to-date database applies nothing and succeeds.
	store, err = Open(Config{Path: path, PoolSize: 1})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close after reopen: %v", err)
	}
}

func TestUpsertRoomIsOneRowPerOwnerAndRoom(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	room := Room{
		OwnerID:  testOwner,
		RoomID:   testRoom,
		Category: RoomJoined,
		Summary:  RoomSummary{Name: "General", JoinedMemberCount: 3},
		IsDirect: false,
	}
	if err := store.UpsertRoom(ctx, room); err != nil {
		t.Fatalf("UpsertRoom: %v", err)
	}

	// Second upsert with updated summary replaces, not duplicates.
	room.Summary.Name = "General Chat"
	room.Summary.NotificationCount = 5
	if err := store.UpsertRoom(ctx, room); err != nil {
		t.Fatalf("UpsertRoom update: %v", err)
	}

	rooms, err := store.Rooms(ctx, testOwner)
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("got %d rooms, want 1", len(rooms))
	}
	if rooms[0].Summary.Name != "General Chat" {
		t.Errorf("summary name = %q, want updated value", rooms[0].Summary.Name)
	}
	if rooms[0].Summary.NotificationCount != 5 {
		t.Errorf("notification count = %d, want 5", rooms[0].Summary.NotificationCount)
	}
}

func TestUpsertRoomKeepsPrevBatchWhenAbsent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	room := Room{
		OwnerID:   testOwner,
		RoomID:    testRoom,
		Category:  RoomJoined,
		PrevBatch: "t100-batch",
	}
	if err := store.UpsertRoom(ctx, room); err != nil {
		t.Fatalf("UpsertRoom: %v", err)
	}

	// A later delta without a pagination token must not clear the
	// stored one.
	room.PrevBatch = ""
	if err := store.UpsertRoom(ctx, room); err != nil {
		t.Fatalf("UpsertRoom without token: %v", err)
	}

	stored, found, err := store.Room(ctx, testOwner, testRoom)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}
	if !found {
		t.Fatal("room not found")
	}
	if stored.PrevBatch != "t100-batch" {
		t.Errorf("prev_batch = %q, want preserved token", stored.PrevBatch)
	}
}

func TestRoomsScopedToOwner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	other := ref.MustParseUserID("@carol:augmy.org")
	for _, owner := range []ref.UserID{testOwner, other} {
		err := store.UpsertRoom(ctx, Room{
			OwnerID:  owner,
			RoomID:   testRoom,
			Category: RoomJoined,
		})
		if err != nil {
			t.Fatalf("UpsertRoom for %s: %v", owner, err)
		}
	}

	rooms, err := store.Rooms(ctx, testOwner)
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("got %d rooms for owner, want 1", len(rooms))
	}
	if rooms[0].OwnerID != testOwner {
		t.Errorf("owner = %s, want %s", rooms[0].OwnerID, testOwner)
	}
}

func TestDeleteRoomRemovesDependents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertRoom(ctx, Room{OwnerID: testOwner, RoomID: testRoom, Category: RoomJoined}); err != nil {
		t.Fatalf("UpsertRoom: %v", err)
	}
	messageID := ref.MustParseEventID("$msg1:augmy.org")
	err := store.UpsertMessage(ctx, Message{
		ID:       messageID,
		RoomID:   testRoom,
		AuthorID: testSender,
		Content:  "hello",
		MsgType:  "m.text",
		SentAt:   1000,
	})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	err = store.InsertReaction(ctx, Reaction{
		EventID:   ref.MustParseEventID("$react1:augmy.org"),
		MessageID: messageID,
		Key:       "👍",
		SenderID:  testSender,
		SentAt:    1001,
	})
	if err != nil {
		t.Fatalf("InsertReaction: %v", err)
	}
	if err := store.UpsertMember(ctx, Member{RoomID: testRoom, UserID: testSender, Membership: "join"}); err != nil {
		t.Fatalf("UpsertMember: %v", err)
	}
	if err := store.ReplaceRoles(ctx, testRoom, []Role{{RoomID: testRoom, Label: "admin", Power: 100}}); err != nil {
		t.Fatalf("ReplaceRoles: %v", err)
	}

	if err := store.DeleteRoom(ctx, testOwner, testRoom); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}

	if _, found, _ := store.Room(ctx, testOwner, testRoom); found {
		t.Error("room row survived delete")
	}
	if _, found, _ := store.Message(ctx, messageID); found {
		t.Error("message row survived room delete")
	}
	reactions, err := store.Reactions(ctx, messageID)
	if err != nil {
		t.Fatalf("Reactions: %v", err)
	}
	if len(reactions) != 0 {
		t.Errorf("got %d reactions after delete, want 0", len(reactions))
	}
	members, err := store.Members(ctx, testRoom, MemberQuery{})
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("got %d members after delete, want 0", len(members))
	}
	roles, err := store.Roles(ctx, testRoom)
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if len(roles) != 0 {
		t.Errorf("got %d roles after delete, want 0", len(roles))
	}
}
