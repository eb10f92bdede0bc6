// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"

	"github.com/Let-s-build-something/client-app/lib/ref"
	"github.com/Let-s-build-something/client-app/messaging"
	"github.com/Let-s-build-something/client-app/store"
)

// HandleSync applies one full sync response: room rows for every
// mentioned room, then each room's state and timeline events through
// SaveEvents. Registered as a Service subscriber; errors are logged and
// do not stop the loop (the next sync retransmits nothing, but the
// store converges because every write is an upsert).
func (h *Handler) HandleSync(ctx context.Context, response *messaging.SyncResponse) {
	for roomID, joined := range response.Rooms.Join {
		if err := h.applyJoinedRoom(ctx, roomID, joined); err != nil {
			h.logger.Error("applying joined room failed",
				"room_id", roomID,
				"error", err,
			)
		}
	}

	for roomID, invited := range response.Rooms.Invite {
		if err := h.applyInvitedRoom(ctx, roomID, invited); err != nil {
			h.logger.Error("applying invited room failed",
				"room_id", roomID,
				"error", err,
			)
		}
	}

	for roomID := range response.Rooms.Leave {
		if err := h.store.DeleteRoom(ctx, h.owner, roomID); err != nil {
			h.logger.Error("removing left room failed",
				"room_id", roomID,
				"error", err,
			)
			continue
		}
		h.refreshConversation(ctx, roomID)
	}
}

func (h *Handler) applyJoinedRoom(ctx context.Context, roomID ref.RoomID, joined messaging.JoinedRoom) error {
	room, found, err := h.store.Room(ctx, h.owner, roomID)
	if err != nil {
		return err
	}
	if !found {
		room = store.Room{
			OwnerID: h.owner,
			RoomID:  roomID,
		}
	}
	room.Category = store.RoomJoined

	if len(joined.Summary.Heroes) > 0 {
		room.Summary.Heroes = joined.Summary.Heroes
	}
	if joined.Summary.JoinedMemberCount > 0 {
		room.Summary.JoinedMemberCount = joined.Summary.JoinedMemberCount
	}
	if joined.Summary.InvitedMemberCount > 0 {
		room.Summary.InvitedMemberCount = joined.Summary.InvitedMemberCount
	}
	room.Summary.HighlightCount = joined.UnreadNotifications.HighlightCount
	room.Summary.NotificationCount = joined.UnreadNotifications.NotificationCount

	// A direct chat is two people and no name of its own.
	if room.Summary.Name == "" && len(room.Summary.Heroes) == 1 {
		room.IsDirect = true
	}

	if latest := latestTimestamp(joined.Timeline.Events); latest > room.Summary.LastMessageTS {
		room.Summary.LastMessageTS = latest
	}
	if joined.Timeline.PrevBatch != "" {
		room.PrevBatch = joined.Timeline.PrevBatch
	}

	if err := h.store.UpsertRoom(ctx, room); err != nil {
		return err
	}

	if _, err := h.SaveEvents(ctx, joined.State.Events, roomID, nil); err != nil {
		return err
	}
	_, err = h.SaveEvents(ctx, joined.Timeline.Events, roomID, nil)
	return err
}

func (h *Handler) applyInvitedRoom(ctx context.Context, roomID ref.RoomID, invited messaging.InvitedRoom) error {
	room, found, err := h.store.Room(ctx, h.owner, roomID)
	if err != nil {
		return err
	}
	if !found {
		room = store.Room{
			OwnerID: h.owner,
			RoomID:  roomID,
		}
	}
	room.Category = store.RoomInvited

	// Invite state carries stripped events: enough for a room name and
	// the inviter's membership.
	for _, event := range invited.InviteState.Events {
		switch event.Type.String() {
		case "m.room.name":
			room.Summary.Name = event.ContentString("name")
		case "m.room.avatar":
			room.Summary.AvatarURL = event.ContentString("url")
		}
	}

	if err := h.store.UpsertRoom(ctx, room); err != nil {
		return err
	}
	_, err = h.SaveEvents(ctx, memberEventsOnly(invited.InviteState.Events), roomID, nil)
	return err
}

func memberEventsOnly(events []messaging.Event) []messaging.Event {
	var members []messaging.Event
	for _, event := range events {
		if event.Type == ref.EventTypeRoomMember && !event.EventID.IsZero() {
			members = append(members, event)
		}
	}
	return members
}

func latestTimestamp(events []messaging.Event) int64 {
	var latest int64
	for _, event := range events {
		if event.OriginServerTS > latest {
			latest = event.OriginServerTS
		}
	}
	return latest
}
