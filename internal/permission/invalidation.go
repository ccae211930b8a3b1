package permission

import (
	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/syncevent"
)

// Invalidate applies the invalidation calls a sync event triggers against the resolver's cache. Centralizing
// the event-to-invalidation mapping here, rather than scattering InvalidateRoom/InvalidateThread/
// InvalidateMutual calls across every write path that publishes one of these events, keeps the two in sync:
// a new event kind that needs cache invalidation is added to one table instead of hunted down at N call
// sites.
func (r *Resolver) Invalidate(e syncevent.Event) {
	switch e.Kind {
	case syncevent.KindRoomUpdate:
		r.InvalidateRoom(e.RoomID)

	case syncevent.KindRoomMemberUpsert:
		r.InvalidateRoom(e.RoomID)
		r.InvalidateMutual(e.TargetUserID)

	case syncevent.KindThreadUpdate:
		r.InvalidateThread(e.ThreadID)

	case syncevent.KindThreadMemberUpsert:
		r.InvalidateThread(e.ThreadID)

	case syncevent.KindRoleCreate, syncevent.KindRoleUpdate, syncevent.KindRoleDelete:
		r.InvalidateRoom(e.RoomID)

	case syncevent.KindUserDelete:
		r.InvalidateMutual(e.TargetUserID)

	default:
		// All other event kinds (messages, reactions, sessions, invites, relationships, typing/ack,
		// voice, emoji, user profile/config) carry no permission-affecting state change.
	}
}

// InvalidateRoom evicts every cached room-scope verdict computed against the given room, plus every
// thread-scope verdict for threads belonging to it (the cache indexes thread entries under their owning
// room too, since a room-level role change changes the role union every thread in it builds on).
func (r *Resolver) InvalidateRoom(roomID uuid.UUID) {
	r.cache.invalidateScope(roomID)
}

// InvalidateThread evicts every cached verdict computed against the given thread.
func (r *Resolver) InvalidateThread(threadID uuid.UUID) {
	r.cache.invalidateScope(threadID)
}

// InvalidateMutual evicts every cached is_mutual verdict involving the given user, e.g. after they join or
// leave a room.
func (r *Resolver) InvalidateMutual(userID uuid.UUID) {
	r.cache.invalidateMutualUser(userID)
}
