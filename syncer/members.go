// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"fmt"

	"github.com/Let-s-build-something/client-app/lib/ref"
	"github.com/Let-s-build-something/client-app/messaging"
	"github.com/Let-s-build-something/client-app/store"
)

// MemberPager walks a room's member list one page at a time. Local rows
// are served first; when they run out and the room's member history is
// not yet exhausted, the next page is fetched from the homeserver
// (a filtered /messages call, the only endpoint that paginates
// membership events), persisted through SaveEvents, and then read back
// from the store.
//
// Not safe for concurrent use; create one pager per listing.
type MemberPager struct {
	store    *store.Store
	session  *messaging.Session
	handler  *Handler
	roomID   ref.RoomID
	owner    ref.UserID
	pageSize int

	offset  int
	hasNext bool
}

// MemberPagerConfig holds the parameters for NewMemberPager.
type MemberPagerConfig struct {
	Store   *store.Store       // required
	Session *messaging.Session // required
	Handler *Handler           // required
	RoomID  ref.RoomID         // required

	// Owner is excluded from every page (the account's own membership
	// row is not interesting in a member list).
	Owner ref.UserID

	// PageSize is the page length. Default: 20.
	PageSize int
}

// NewMemberPager validates the configuration and returns a pager
// positioned at the first page.
func NewMemberPager(cfg MemberPagerConfig) (*MemberPager, error) {
	if cfg.Store == nil || cfg.Session == nil || cfg.Handler == nil {
		return nil, fmt.Errorf("syncer: member pager: Store, Session, and Handler are required")
	}
	if cfg.RoomID.IsZero() {
		return nil, fmt.Errorf("syncer: member pager: RoomID is required")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return &MemberPager{
		store:    cfg.Store,
		session:  cfg.Session,
		handler:  cfg.Handler,
		roomID:   cfg.RoomID,
		owner:    cfg.Owner,
		pageSize: pageSize,
		hasNext:  true,
	}, nil
}

// HasNext reports whether another Next call can produce more members.
func (p *MemberPager) HasNext() bool {
	return p.hasNext
}

// Next returns the next page of members. A full page means more may
// follow; a short or empty page with an exhausted remote cursor ends
// the listing (HasNext goes false).
func (p *MemberPager) Next(ctx context.Context) ([]store.Member, error) {
	if !p.hasNext {
		return nil, nil
	}

	page, err := p.localPage(ctx)
	if err != nil {
		return nil, err
	}

	// Short local page: top up from the homeserver unless history is
	// already exhausted.
	if len(page) < p.pageSize {
		fetched, err := p.fetchRemote(ctx)
		if err != nil {
			return nil, err
		}
		if fetched {
			page, err = p.localPage(ctx)
			if err != nil {
				return nil, err
			}
		}
	}

	p.offset += len(page)

	cursorOpen, err := p.cursorOpen(ctx)
	if err != nil {
		return nil, err
	}
	p.hasNext = len(page) == p.pageSize || cursorOpen

	return page, nil
}

func (p *MemberPager) localPage(ctx context.Context) ([]store.Member, error) {
	return p.store.Members(ctx, p.roomID, store.MemberQuery{
		Limit:      p.pageSize,
		Offset:     p.offset,
		Membership: "join",
		Exclude:    p.owner,
	})
}

func (p *MemberPager) entityID() string {
	return "members_" + p.roomID.String()
}

// cursorOpen reports whether remote history may hold more members: the
// cursor row is either absent (never fetched) or non-terminal.
func (p *MemberPager) cursorOpen(ctx context.Context) (bool, error) {
	meta, found, err := p.store.PagingMeta(ctx, p.entityID())
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return !meta.Terminal(), nil
}

// fetchRemote pulls one page of membership events from the homeserver
// and persists it. Returns false when history was already exhausted.
func (p *MemberPager) fetchRemote(ctx context.Context) (bool, error) {
	meta, found, err := p.store.PagingMeta(ctx, p.entityID())
	if err != nil {
		return false, err
	}
	if found && meta.Terminal() {
		return false, nil
	}

	var from string
	var expectedFrom *string
	if found {
		from = *meta.PrevBatch
		expectedFrom = meta.PrevBatch
	} else {
		// First member fetch continues backward from the room's sync
		// timeline position.
		room, roomFound, err := p.store.Room(ctx, p.owner, p.roomID)
		if err != nil {
			return false, err
		}
		if roomFound {
			from = room.PrevBatch
		}
	}

	response, err := p.session.RoomMessages(ctx, p.roomID, messaging.RoomMessagesOptions{
		From:      from,
		Direction: "b",
		Limit:     p.pageSize,
		Filter: &messaging.RoomEventFilter{
			Types:           []ref.EventType{ref.EventTypeRoomMember},
			LazyLoadMembers: true,
		},
	})
	if err != nil {
		return false, fmt.Errorf("syncer: member page fetch: %w", err)
	}

	cursor := &Cursor{
		EntityID:     p.entityID(),
		EntityType:   store.PagingMembers,
		ExpectedFrom: expectedFrom,
		PrevBatch:    response.End,
	}
	if _, err := p.handler.SaveEvents(ctx, response.Chunk, p.roomID, cursor); err != nil {
		return false, err
	}
	return true, nil
}
