// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Let-s-build-something/client-app/lib/ref"
	"github.com/Let-s-build-something/client-app/messaging"
	"github.com/Let-s-build-something/client-app/store"
)

// ErrCursorMismatch is returned by SaveEvents when a paginated batch
// does not extend the stored cursor: either the caller's expected
// predecessor token differs from the stored one, or the stored cursor
// is already terminal. The batch is refused without touching the store.
var ErrCursorMismatch = errors.New("syncer: pagination cursor mismatch")

// Cursor describes where a paginated event batch came from and where
// the next one continues. Sync timeline batches pass nil instead; their
// ordering comes from the sync stream itself.
type Cursor struct {
	// EntityID keys the paging_meta row, e.g. "members_!room:server".
	EntityID string

	// EntityType names what is being paginated.
	EntityType store.PagingEntityType

	// ExpectedFrom is the stored token this batch was fetched from.
	// Nil means the caller believes pagination has not started (start
	// of history); if a row is already stored, the batch is refused.
	ExpectedFrom *string

	// PrevBatch is the server's continuation token for the next older
	// page. Empty means history is exhausted and the stored cursor
	// becomes terminal.
	PrevBatch string
}

// SaveEventsResult summarizes what one batch changed.
type SaveEventsResult struct {
	Messages  int
	Members   int
	Events    int
	PrevBatch string
}

// Handler applies protocol event batches to the local store and keeps
// the conversation read model in step. It is the only writer on the
// sync path.
type Handler struct {
	store         *store.Store
	owner         ref.UserID
	conversations *Conversations
	logger        *slog.Logger
}

// HandlerConfig holds the parameters for NewHandler.
type HandlerConfig struct {
	// Store receives all durable writes. Required.
	Store *store.Store

	// Owner is the authenticated account; room rows are scoped to it.
	// Required.
	Owner ref.UserID

	// Conversations is the read model to keep updated. Optional; nil
	// disables projection updates.
	Conversations *Conversations

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// NewHandler validates the configuration and returns a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("syncer: handler: Store is required")
	}
	if cfg.Owner.IsZero() {
		return nil, fmt.Errorf("syncer: handler: Owner is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		store:         cfg.Store,
		owner:         cfg.Owner,
		conversations: cfg.Conversations,
		logger:        logger,
	}, nil
}

// SaveEvents applies one ordered batch of room events. It is the single
// entry point for both sync timeline deltas (cursor == nil) and
// back-pagination pages (cursor != nil).
//
// Idempotent: rows are keyed by event ID, so replaying a batch leaves
// the store unchanged. For paginated batches the stored cursor must
// match the caller's expected predecessor or the whole batch is refused
// with ErrCursorMismatch; an empty batch with an empty continuation
// token marks the cursor terminal so callers stop requesting pages.
func (h *Handler) SaveEvents(ctx context.Context, events []messaging.Event, roomID ref.RoomID, cursor *Cursor) (SaveEventsResult, error) {
	var result SaveEventsResult

	if cursor != nil {
		if err := h.checkCursor(ctx, *cursor); err != nil {
			return result, err
		}
	}

	for _, event := range events {
		applied, err := h.applyEvent(ctx, event, roomID)
		if err != nil {
			return result, err
		}
		result.Events++
		switch applied {
		case appliedMessage:
			result.Messages++
		case appliedMember:
			result.Members++
		}
	}

	if cursor != nil {
		meta := store.PagingMeta{
			EntityID:   cursor.EntityID,
			EntityType: cursor.EntityType,
		}
		if cursor.PrevBatch != "" {
			token := cursor.PrevBatch
			meta.PrevBatch = &token
		}
		if err := h.store.SetPagingMeta(ctx, meta); err != nil {
			return result, err
		}
		result.PrevBatch = cursor.PrevBatch
	}

	h.refreshConversation(ctx, roomID)
	return result, nil
}

// checkCursor enforces cross-batch ordering for paginated entities.
func (h *Handler) checkCursor(ctx context.Context, cursor Cursor) error {
	stored, found, err := h.store.PagingMeta(ctx, cursor.EntityID)
	if err != nil {
		return err
	}
	if !found {
		if cursor.ExpectedFrom != nil {
			return fmt.Errorf("%w: expected stored token %q, pagination not started for %s",
				ErrCursorMismatch, *cursor.ExpectedFrom, cursor.EntityID)
		}
		return nil
	}
	if stored.Terminal() {
		return fmt.Errorf("%w: history exhausted for %s", ErrCursorMismatch, cursor.EntityID)
	}
	if cursor.ExpectedFrom == nil || *cursor.ExpectedFrom != *stored.PrevBatch {
		return fmt.Errorf("%w: batch continues from a stale token for %s",
			ErrCursorMismatch, cursor.EntityID)
	}
	return nil
}

type appliedKind int

const (
	appliedOther appliedKind = iota
	appliedMessage
	appliedMember
)

// applyEvent routes one event to its table.
func (h *Handler) applyEvent(ctx context.Context, event messaging.Event, roomID ref.RoomID) (appliedKind, error) {
	switch event.Type {
	case ref.EventTypeRoomMessage:
		if err := h.applyMessage(ctx, event, roomID); err != nil {
			return appliedOther, err
		}
		return appliedMessage, nil

	case ref.EventTypeRoomMember:
		if err := h.applyMember(ctx, event, roomID); err != nil {
			return appliedOther, err
		}
		return appliedMember, nil

	case ref.EventTypeReaction:
		return appliedOther, h.applyReaction(ctx, event)

	case ref.EventTypeRoomRedaction:
		return appliedOther, h.applyRedaction(ctx, event)

	case ref.EventTypeRoomPowerLevels:
		return appliedOther, h.applyPowerLevels(ctx, event, roomID)

	default:
		return appliedOther, h.applyStateEvent(ctx, event, roomID)
	}
}

func (h *Handler) applyMessage(ctx context.Context, event messaging.Event, roomID ref.RoomID) error {
	content := event.Content

	// An edit (m.replace) is a delta onto the original message, not a
	// new row. The replacement body rides in m.new_content.
	if relation, ok := contentMap(content, "m.relates_to"); ok {
		if relType, _ := relation["rel_type"].(string); relType == "m.replace" {
			return h.applyEdit(ctx, event, relation)
		}
	}

	message := store.Message{
		ID:       event.EventID,
		RoomID:   roomID,
		AuthorID: event.Sender,
		Content:  event.ContentString("body"),
		MsgType:  event.ContentString("msgtype"),
		SentAt:   event.OriginServerTS,
		State:    store.MessageSent,
	}

	if relation, ok := contentMap(content, "m.relates_to"); ok {
		if relType, _ := relation["rel_type"].(string); relType == "m.thread" {
			if root, err := eventIDField(relation, "event_id"); err == nil {
				message.ThreadRootID = root
			}
		}
		if inReplyTo, ok := contentMap(relation, "m.in_reply_to"); ok {
			if replyTo, err := eventIDField(inReplyTo, "event_id"); err == nil {
				message.ReplyToID = replyTo
			}
		}
	}

	// In-room verification requests ride on m.room.message with a
	// dedicated msgtype; the machine resumes them from local history.
	if message.MsgType == "m.key.verification.request" {
		info := &store.VerificationInfo{
			TransactionID: event.EventID.String(),
			Methods:       contentStrings(content, "methods"),
		}
		if fromDevice := event.ContentString("from_device"); fromDevice != "" {
			if device, err := ref.ParseDeviceID(fromDevice); err == nil {
				info.FromDevice = device
			}
		}
		message.Verification = info
	}

	return h.store.UpsertMessage(ctx, message)
}

func (h *Handler) applyEdit(ctx context.Context, event messaging.Event, relation map[string]any) error {
	target, err := eventIDField(relation, "event_id")
	if err != nil {
		h.logger.Warn("edit without target event", "event_id", event.EventID)
		return nil
	}

	update := store.MessageUpdate{Edited: boolPtr(true)}
	if newContent, ok := contentMap(event.Content, "m.new_content"); ok {
		if body, ok := newContent["body"].(string); ok {
			update.Content = &body
		}
		if msgtype, ok := newContent["msgtype"].(string); ok {
			update.MsgType = &msgtype
		}
	}
	return h.store.UpdateMessage(ctx, target, update)
}

func (h *Handler) applyMember(ctx context.Context, event messaging.Event, roomID ref.RoomID) error {
	if event.StateKey == nil {
		h.logger.Warn("member event without state key", "event_id", event.EventID)
		return nil
	}
	userID, err := ref.ParseUserID(*event.StateKey)
	if err != nil {
		return fmt.Errorf("syncer: member event %s: %w", event.EventID, err)
	}
	return h.store.UpsertMember(ctx, store.Member{
		RoomID:      roomID,
		UserID:      userID,
		Membership:  event.ContentString("membership"),
		DisplayName: event.ContentString("displayname"),
		AvatarURL:   event.ContentString("avatar_url"),
	})
}

func (h *Handler) applyReaction(ctx context.Context, event messaging.Event) error {
	relation, ok := contentMap(event.Content, "m.relates_to")
	if !ok {
		return nil
	}
	if relType, _ := relation["rel_type"].(string); relType != "m.annotation" {
		return nil
	}
	target, err := eventIDField(relation, "event_id")
	if err != nil {
		return nil
	}
	key, _ := relation["key"].(string)
	return h.store.InsertReaction(ctx, store.Reaction{
		EventID:   event.EventID,
		MessageID: target,
		Key:       key,
		SenderID:  event.Sender,
		SentAt:    event.OriginServerTS,
	})
}

// applyRedaction drops whatever row the redacted event produced. The
// redaction does not say what it targets, so both tables are tried;
// deleting a missing row is a no-op.
func (h *Handler) applyRedaction(ctx context.Context, event messaging.Event) error {
	if event.Redacts.IsZero() {
		return nil
	}
	if err := h.store.DeleteReaction(ctx, event.Redacts); err != nil {
		return err
	}
	return h.store.DeleteMessage(ctx, event.Redacts)
}

func (h *Handler) applyPowerLevels(ctx context.Context, event messaging.Event, roomID ref.RoomID) error {
	users, _ := contentMap(event.Content, "users")

	// Collapse the per-user levels into the room's permission tiers.
	// The tiers are a display cache; the raw power levels stay on the
	// homeserver.
	tiers := make(map[int]bool)
	for _, rawLevel := range users {
		tiers[numericLevel(rawLevel)] = true
	}
	if defaultLevel, ok := event.Content["users_default"]; ok {
		tiers[numericLevel(defaultLevel)] = true
	} else {
		tiers[0] = true
	}

	var roles []store.Role
	for power := range tiers {
		roles = append(roles, store.Role{
			RoomID: roomID,
			Label:  roleLabel(power),
			Power:  power,
		})
	}
	return h.store.ReplaceRoles(ctx, roomID, roles)
}

func roleLabel(power int) string {
	switch {
	case power >= 100:
		return "admin"
	case power >= 50:
		return "moderator"
	default:
		return "member"
	}
}

// applyStateEvent folds display-relevant room state into the stored
// summary. Unknown event types are skipped, not errors: the sync stream
// carries many types this client does not model.
func (h *Handler) applyStateEvent(ctx context.Context, event messaging.Event, roomID ref.RoomID) error {
	switch event.Type.String() {
	case "m.room.name":
		return h.mutateRoom(ctx, roomID, func(room *store.Room) {
			room.Summary.Name = event.ContentString("name")
		})
	case "m.room.topic":
		return h.mutateRoom(ctx, roomID, func(room *store.Room) {
			room.Summary.Topic = event.ContentString("topic")
		})
	case "m.room.avatar":
		return h.mutateRoom(ctx, roomID, func(room *store.Room) {
			room.Summary.AvatarURL = event.ContentString("url")
		})
	case "m.room.canonical_alias":
		return h.mutateRoom(ctx, roomID, func(room *store.Room) {
			room.Summary.CanonicalAlias = event.ContentString("alias")
		})
	case "m.room.history_visibility":
		return h.mutateRoom(ctx, roomID, func(room *store.Room) {
			room.HistoryVisibility = event.ContentString("history_visibility")
		})
	case "m.room.encryption":
		return h.mutateRoom(ctx, roomID, func(room *store.Room) {
			room.Algorithm = event.ContentString("algorithm")
		})
	default:
		return nil
	}
}

// mutateRoom read-modify-writes the owner's room row, creating it if
// state arrived before the room was first synced.
func (h *Handler) mutateRoom(ctx context.Context, roomID ref.RoomID, mutate func(*store.Room)) error {
	room, found, err := h.store.Room(ctx, h.owner, roomID)
	if err != nil {
		return err
	}
	if !found {
		room = store.Room{
			OwnerID:  h.owner,
			RoomID:   roomID,
			Category: store.RoomJoined,
		}
	}
	mutate(&room)
	return h.store.UpsertRoom(ctx, room)
}

// refreshConversation re-projects one room into the read model from
// the store.
func (h *Handler) refreshConversation(ctx context.Context, roomID ref.RoomID) {
	if h.conversations == nil {
		return
	}

	room, found, err := h.store.Room(ctx, h.owner, roomID)
	if err != nil {
		h.logger.Warn("read model refresh failed", "room_id", roomID, "error", err)
		return
	}

	var lastMessage *store.Message
	if found {
		messages, err := h.store.Messages(ctx, roomID, store.MessageQuery{Limit: 1})
		if err == nil && len(messages) > 0 {
			lastMessage = &messages[0]
		}
	}

	h.conversations.Mutate(func(rooms ConversationMap) ConversationMap {
		if !found {
			delete(rooms, roomID)
			return rooms
		}
		rooms[roomID] = Conversation{
			RoomID:      roomID,
			Category:    room.Category,
			Summary:     room.Summary,
			IsDirect:    room.IsDirect,
			LastMessage: lastMessage,
		}
		return rooms
	})
}

// contentMap returns a nested JSON object from schemaless content.
func contentMap(content map[string]any, key string) (map[string]any, bool) {
	nested, ok := content[key].(map[string]any)
	return nested, ok
}

// contentStrings returns a string array field from schemaless content.
func contentStrings(content map[string]any, key string) []string {
	raw, ok := content[key].([]any)
	if !ok {
		return nil
	}
	var values []string
	for _, entry := range raw {
		if value, ok := entry.(string); ok {
			values = append(values, value)
		}
	}
	return values
}

func eventIDField(object map[string]any, key string) (ref.EventID, error) {
	raw, _ := object[key].(string)
	return ref.ParseEventID(raw)
}

// numericLevel converts a JSON-decoded power level to int. Decoded
// numbers arrive as float64.
func numericLevel(raw any) int {
	switch value := raw.(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return 0
	}
}

func boolPtr(value bool) *bool {
	return &value
}
