// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"sync"
	"testing"
	"time"

	"github.com/Let-s-build-something/client-app/lib/ref"
	"github.com/Let-s-build-something/client-app/lib/testutil"
	"github.com/Let-s-build-something/client-app/store"
)

func TestConversationsVersionChangesOnMutate(t *testing.T) {
	conversations := NewConversations()
	roomID := ref.MustParseRoomID("!general:augmy.org")

	before := conversations.Version()
	conversations.Mutate(func(rooms ConversationMap) ConversationMap {
		rooms[roomID] = Conversation{
			RoomID:  roomID,
			Summary: store.RoomSummary{Name: "General"},
		}
		return rooms
	})
	after, rooms := conversations.Snapshot()

	if after == before {
		t.Error("version unchanged after mutation")
	}
	if rooms[roomID].Summary.Name != "General" {
		t.Errorf("room name = %q, want General", rooms[roomID].Summary.Name)
	}
}

func TestConversationsSnapshotIsACopy(t *testing.T) {
	conversations := NewConversations()
	roomID := ref.MustParseRoomID("!general:augmy.org")
	conversations.Mutate(func(rooms ConversationMap) ConversationMap {
		rooms[roomID] = Conversation{RoomID: roomID}
		return rooms
	})

	_, snapshot := conversations.Snapshot()
	delete(snapshot, roomID)

	_, current := conversations.Snapshot()
	if _, ok := current[roomID]; !ok {
		t.Error("mutating a snapshot leaked into the read model")
	}
}

func TestConversationsMutateIsExclusive(t *testing.T) {
	conversations := NewConversations()
	roomID := ref.MustParseRoomID("!counter:augmy.org")
	conversations.Mutate(func(rooms ConversationMap) ConversationMap {
		rooms[roomID] = Conversation{RoomID: roomID}
		return rooms
	})

	// Each goroutine increments a counter via read-modify-write. With
	// exclusive mutation, no increment is lost.
	const workers = 8
	const increments = 100

	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				conversations.Mutate(func(rooms ConversationMap) ConversationMap {
					conversation := rooms[roomID]
					conversation.Summary.NotificationCount++
					rooms[roomID] = conversation
					return rooms
				})
			}
		}()
	}
	wg.Wait()

	_, rooms := conversations.Snapshot()
	if got := rooms[roomID].Summary.NotificationCount; got != workers*increments {
		t.Errorf("counter = %d, want %d (lost updates)", got, workers*increments)
	}
}

func TestConversationsSubscribeLatestWins(t *testing.T) {
	conversations := NewConversations()
	updates, cancel := conversations.Subscribe()
	defer cancel()

	roomID := ref.MustParseRoomID("!general:augmy.org")

	// Three mutations without an intervening read: the subscriber sees
	// only the newest version.
	for i := 0; i < 3; i++ {
		conversations.Mutate(func(rooms ConversationMap) ConversationMap {
			conversation := rooms[roomID]
			conversation.Summary.NotificationCount++
			rooms[roomID] = conversation
			return rooms
		})
	}

	update := testutil.RequireReceive(t, updates, 5*time.Second, "conversation update")
	if update.Version != conversations.Version() {
		t.Errorf("update version = %q, want latest %q", update.Version, conversations.Version())
	}

	select {
	case stale := <-updates:
		t.Errorf("unexpected second buffered update %q", stale.Version)
	default:
	}
}

func TestConversationsUnsubscribeStopsUpdates(t *testing.T) {
	conversations := NewConversations()
	updates, cancel := conversations.Subscribe()
	cancel()

	conversations.Mutate(func(rooms ConversationMap) ConversationMap {
		return rooms
	})

	select {
	case <-updates:
		t.Error("received update after unsubscribe")
	default:
	}
}
