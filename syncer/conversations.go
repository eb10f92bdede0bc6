// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Let-s-build-something/client-app/lib/ref"
	"github.com/Let-s-build-something/client-app/store"
)

// Conversation is one room's merged view in the read model.
type Conversation struct {
	RoomID      ref.RoomID
	Category    store.RoomCategory
	Summary     store.RoomSummary
	IsDirect    bool
	LastMessage *store.Message
}

// ConversationMap is the read model's keyed state: room ID to latest
// merged view.
type ConversationMap map[ref.RoomID]Conversation

// Update notifies a subscriber that the conversation map changed.
// Subscribers re-read via Snapshot; the version token lets them skip
// work when nothing changed since their last read.
type Update struct {
	Version string
}

// Conversations is the reactive in-memory projection of the local
// store's room data. Every mutation carries a fresh version token so
// subscribers detect change without deep-comparing the map.
//
// Mutations are read-modify-write: callers supply a pure function from
// the old map to the new one, and Conversations guarantees it runs with
// exclusive access. The caller's function must not retain or mutate the
// input map outside the call.
type Conversations struct {
	mu          sync.Mutex
	version     string
	rooms       ConversationMap
	subscribers map[int]chan Update
	nextID      int
}

// NewConversations returns an empty read model with a fresh version.
func NewConversations() *Conversations {
	return &Conversations{
		version:     uuid.NewString(),
		rooms:       make(ConversationMap),
		subscribers: make(map[int]chan Update),
	}
}

// Mutate applies a pure function to the conversation map under the
// exclusive lock, bumps the version, and notifies subscribers. The
// function receives the current map and returns the replacement;
// returning the input unchanged is allowed and still counts as a
// mutation.
func (c *Conversations) Mutate(mutate func(ConversationMap) ConversationMap) {
	c.mu.Lock()
	defer c.mu.Unlock()

	replacement := mutate(c.rooms)
	if replacement == nil {
		replacement = make(ConversationMap)
	}
	c.rooms = replacement
	c.version = uuid.NewString()

	update := Update{Version: c.version}
	for _, subscriber := range c.subscribers {
		// Latest-wins: a slow subscriber keeps only the newest update.
		select {
		case subscriber <- update:
		default:
			select {
			case <-subscriber:
			default:
			}
			select {
			case subscriber <- update:
			default:
			}
		}
	}
}

// Snapshot returns the current version token and a copy of the map.
// The copy is the caller's to keep; later mutations do not affect it.
func (c *Conversations) Snapshot() (string, ConversationMap) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rooms := make(ConversationMap, len(c.rooms))
	for roomID, conversation := range c.rooms {
		rooms[roomID] = conversation
	}
	return c.version, rooms
}

// Version returns the current version token.
func (c *Conversations) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Subscribe registers an update channel. The returned cancel function
// unregisters it and must be called when the subscriber goes away.
func (c *Conversations) Subscribe() (<-chan Update, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	channel := make(chan Update, 1)
	c.subscribers[id] = channel

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
	return channel, cancel
}
