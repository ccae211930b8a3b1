// Package authz implements the Authorization Filter: for each (connection, event) pair it decides deliver
// vs drop, using the permission resolver for capability checks.
package authz

import (
	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/syncevent"
)

// ScopeKind identifies the shape of authorization question an event requires.
type ScopeKind int

const (
	ScopeRoom ScopeKind = iota
	ScopeThread
	ScopeRoomOrUser
	ScopeThreadOrUser
	ScopeUser
	ScopeUserMutual
	ScopeCustom
)

// Scope is the result of tagging an event: which question to ask, and the ids needed to ask it.
type Scope struct {
	Kind     ScopeKind
	RoomID   uuid.UUID
	ThreadID uuid.UUID
	UserID   uuid.UUID

	// Custom is only meaningful when Kind == ScopeCustom: the verdict for a question that doesn't reduce to
	// one of the other scope kinds.
	Custom bool
}

// TagScope tags an event with the authorization question it raises, implementing the table in spec §4.C.
// selfSessionID is the bound session id of the connection the event is being tagged for: Session{Create,
// Update,Delete} visibility depends on whether the event concerns that specific connection's own session,
// not just the event's kind and carried ids, so it cannot be a pure function of the event alone.
func TagScope(e syncevent.Event, selfSessionID uuid.UUID) Scope {
	switch e.Kind {
	case syncevent.KindRoomCreate, syncevent.KindRoomUpdate,
		syncevent.KindRoleCreate, syncevent.KindRoleUpdate, syncevent.KindRoleDelete:
		return Scope{Kind: ScopeRoom, RoomID: e.RoomID}

	case syncevent.KindEmojiCreate, syncevent.KindEmojiDelete:
		// Room-owned emoji scope to the room; user-owned (no RoomID) scope to the owning user.
		if e.RoomID != uuid.Nil {
			return Scope{Kind: ScopeRoom, RoomID: e.RoomID}
		}
		return Scope{Kind: ScopeUser, UserID: e.TargetUserID}

	case syncevent.KindThreadCreate, syncevent.KindThreadUpdate,
		syncevent.KindMessageCreate, syncevent.KindMessageUpdate, syncevent.KindMessageDelete,
		syncevent.KindMessageDeleteBulk, syncevent.KindMessageVersionDel,
		syncevent.KindThreadTyping, syncevent.KindThreadAck,
		syncevent.KindReactionCreate, syncevent.KindReactionDelete, syncevent.KindReactionPurge:
		return Scope{Kind: ScopeThread, ThreadID: e.ThreadID}

	case syncevent.KindRoomMemberUpsert:
		return Scope{Kind: ScopeRoomOrUser, RoomID: e.RoomID, UserID: e.TargetUserID}

	case syncevent.KindThreadMemberUpsert:
		return Scope{Kind: ScopeThreadOrUser, ThreadID: e.ThreadID, UserID: e.TargetUserID}

	case syncevent.KindUserConfig, syncevent.KindRelationshipUpsert, syncevent.KindRelationshipDelete:
		return Scope{Kind: ScopeUser, UserID: e.TargetUserID}

	case syncevent.KindSessionDelete:
		// A connection whose own session is the one being deleted always sees the event (so it can react
		// before the gateway drops it); every other connection only sees it if it belongs to the deleted
		// session's owner, the same as any other ScopeUser event.
		if e.SessionID != uuid.Nil && e.SessionID == selfSessionID {
			return Scope{Kind: ScopeCustom, Custom: true}
		}
		if e.SessionUserID != uuid.Nil {
			return Scope{Kind: ScopeUser, UserID: e.SessionUserID}
		}
		return Scope{Kind: ScopeCustom, Custom: false}

	case syncevent.KindUserCreate, syncevent.KindUserUpdate, syncevent.KindUserDelete:
		return Scope{Kind: ScopeUserMutual, UserID: e.TargetUserID}

	case syncevent.KindSessionCreate, syncevent.KindSessionUpdate:
		// The connection whose own session was just upserted always sees it (it needs to self-patch);
		// every other connection sees it only if it belongs to the same user.
		if e.SessionID != uuid.Nil && e.SessionID == selfSessionID {
			return Scope{Kind: ScopeCustom, Custom: true}
		}
		return Scope{Kind: ScopeUser, UserID: e.SessionUserID}

	case syncevent.KindInviteCreate, syncevent.KindInviteUpdate, syncevent.KindInviteDelete:
		switch e.InviteTarget {
		case syncevent.InviteTargetRoom:
			return Scope{Kind: ScopeRoom, RoomID: e.InviteTargetID}
		case syncevent.InviteTargetThread:
			return Scope{Kind: ScopeThread, ThreadID: e.InviteTargetID}
		default:
			// Server-scoped invites emit no event; callers must not publish one. Tag as a scope that
			// authorizes nobody, so a stray publish fails closed instead of leaking broadly.
			return Scope{Kind: ScopeCustom, Custom: false}
		}

	case syncevent.KindVoiceDispatch:
		if e.ThreadID != uuid.Nil {
			return Scope{Kind: ScopeThread, ThreadID: e.ThreadID}
		}
		return Scope{Kind: ScopeUser, UserID: e.TargetUserID}

	case syncevent.KindVoiceState:
		if e.ThreadID != uuid.Nil {
			return Scope{Kind: ScopeThread, ThreadID: e.ThreadID}
		}
		return Scope{Kind: ScopeUser, UserID: e.TargetUserID}

	default:
		return Scope{Kind: ScopeCustom, Custom: false}
	}
}
