package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/capability"
	"github.com/uncord-chat/uncord-server/internal/member"
	"github.com/uncord-chat/uncord-server/internal/overwrite"
	"github.com/uncord-chat/uncord-server/internal/role"
	"github.com/uncord-chat/uncord-server/internal/thread"
)

// RoomMembership is the subset of room.Repository the resolver needs: the building block for IsMutual.
// internal/room.Repository satisfies it.
type RoomMembership interface {
	RoomsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// ThreadLookup is the subset of thread.Repository the resolver needs. internal/thread.Repository
// satisfies it.
type ThreadLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*thread.Thread, error)
}

// MemberStatus is the subset of member.Repository the resolver needs. internal/member.Repository
// satisfies it.
type MemberStatus interface {
	GetStatus(ctx context.Context, roomID, userID uuid.UUID) (string, error)
	IsBanned(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
}

// RoleLookup is the subset of role.Repository the resolver needs. internal/role.Repository satisfies it.
type RoleLookup interface {
	RolesForMember(ctx context.Context, roomID, userID uuid.UUID) ([]role.Role, error)
}

// OverwriteLookup is the subset of overwrite.Repository the resolver needs. internal/overwrite.Repository
// satisfies it.
type OverwriteLookup interface {
	ListByThread(ctx context.Context, threadID uuid.UUID) ([]overwrite.Overwrite, error)
}

// Resolver computes effective capability sets for (user, room) and (user, thread) pairs, memoizing results
// in a bounded in-process cache.
type Resolver struct {
	rooms      RoomMembership
	threads    ThreadLookup
	members    MemberStatus
	roles      RoleLookup
	overwrites OverwriteLookup
	admin      AdminStore
	cache      *cache
	log        zerolog.Logger
}

// NewResolver creates a new permission resolver over the given data providers.
func NewResolver(rooms RoomMembership, threads ThreadLookup, members MemberStatus, roles RoleLookup, overwrites OverwriteLookup, admin AdminStore, logger zerolog.Logger) *Resolver {
	return &Resolver{
		rooms:      rooms,
		threads:    threads,
		members:    members,
		roles:      roles,
		overwrites: overwrites,
		admin:      admin,
		cache:      newCache(),
		log:        logger.With().Str("component", "permission.resolver").Logger(),
	}
}

// ResolveRoom returns the effective capability set for a user in a room: steps 1 (system admin / ban /
// membership) and 2 (role union, including @everyone) of the algorithm. No overwrites apply at room scope.
func (r *Resolver) ResolveRoom(ctx context.Context, userID, roomID uuid.UUID) (capability.Set, error) {
	if set, ok := r.cache.getRoom(userID, roomID); ok {
		return set, nil
	}

	set, err := r.computeRoom(ctx, userID, roomID)
	if err != nil {
		return capability.Set{}, err
	}

	r.cache.setRoom(userID, roomID, set)
	return set, nil
}

// ResolveThread returns the effective capability set for a user in a thread: the room-level set layered
// with the thread's permission overwrites (step 3), then admin promotion (step 4).
func (r *Resolver) ResolveThread(ctx context.Context, userID, threadID uuid.UUID) (capability.Set, error) {
	if set, ok := r.cache.getThread(userID, threadID); ok {
		return set, nil
	}

	th, err := r.threads.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			return capability.Set{}, nil
		}
		return capability.Set{}, fmt.Errorf("load thread: %w", err)
	}

	isAdmin, err := r.admin.IsSystemAdmin(ctx, userID)
	if err != nil {
		return capability.Set{}, fmt.Errorf("check system admin: %w", err)
	}
	if isAdmin {
		full := capability.Full()
		r.cache.setThread(userID, threadID, th.RoomID, full)
		return full, nil
	}

	base, roleIDs, empty, err := r.roomRoleUnion(ctx, userID, th.RoomID)
	if err != nil {
		return capability.Set{}, err
	}
	if empty {
		r.cache.setThread(userID, threadID, th.RoomID, capability.Set{})
		return capability.Set{}, nil
	}

	overwrites, err := r.overwrites.ListByThread(ctx, threadID)
	if err != nil {
		return capability.Set{}, fmt.Errorf("load overwrites: %w", err)
	}

	base = applyOverwrites(base, overwrites, roleIDs, userID)
	base = base.Promote()

	r.cache.setThread(userID, threadID, th.RoomID, base)
	return base, nil
}

// HasRoom reports whether a user holds the given capability in a room.
func (r *Resolver) HasRoom(ctx context.Context, userID, roomID uuid.UUID, c capability.Capability) (bool, error) {
	set, err := r.ResolveRoom(ctx, userID, roomID)
	if err != nil {
		return false, err
	}
	return set.Has(c), nil
}

// HasThread reports whether a user holds the given capability in a thread.
func (r *Resolver) HasThread(ctx context.Context, userID, threadID uuid.UUID, c capability.Capability) (bool, error) {
	set, err := r.ResolveThread(ctx, userID, threadID)
	if err != nil {
		return false, err
	}
	return set.Has(c), nil
}

// IsMutual reports whether two users share at least one room in common, memoized independently of the
// per-room capability cache since it depends on neither user's role assignments.
func (r *Resolver) IsMutual(ctx context.Context, userA, userB uuid.UUID) (bool, error) {
	if userA == userB {
		return true, nil
	}
	if mutual, ok := r.cache.getMutual(userA, userB); ok {
		return mutual, nil
	}

	roomsA, err := r.rooms.RoomsForUser(ctx, userA)
	if err != nil {
		return false, fmt.Errorf("load rooms for user: %w", err)
	}
	roomsB, err := r.rooms.RoomsForUser(ctx, userB)
	if err != nil {
		return false, fmt.Errorf("load rooms for user: %w", err)
	}

	shared := make(map[uuid.UUID]struct{}, len(roomsA))
	for _, id := range roomsA {
		shared[id] = struct{}{}
	}
	mutual := false
	for _, id := range roomsB {
		if _, ok := shared[id]; ok {
			mutual = true
			break
		}
	}

	r.cache.setMutual(userA, userB, mutual)
	return mutual, nil
}

// computeRoom runs steps 1 and 2 of the algorithm and promotes the result, for callers that only need a
// room-level verdict (no thread overwrites in scope).
func (r *Resolver) computeRoom(ctx context.Context, userID, roomID uuid.UUID) (capability.Set, error) {
	isAdmin, err := r.admin.IsSystemAdmin(ctx, userID)
	if err != nil {
		return capability.Set{}, fmt.Errorf("check system admin: %w", err)
	}
	if isAdmin {
		return capability.Full(), nil
	}

	base, _, empty, err := r.roomRoleUnion(ctx, userID, roomID)
	if err != nil {
		return capability.Set{}, err
	}
	if empty {
		return capability.Set{}, nil
	}
	return base.Promote(), nil
}

// roomRoleUnion implements steps 1 (ban/membership check, system-admin already handled by the caller) and
// 2 (role union including @everyone) of the algorithm, returning the held role ids alongside the union so
// thread overwrite application can test "does the user hold this role" without a second query.
func (r *Resolver) roomRoleUnion(ctx context.Context, userID, roomID uuid.UUID) (base capability.Set, roleIDs map[uuid.UUID]struct{}, empty bool, err error) {
	banned, err := r.members.IsBanned(ctx, roomID, userID)
	if err != nil {
		return capability.Set{}, nil, false, fmt.Errorf("check ban: %w", err)
	}
	if banned {
		return capability.Set{}, nil, true, nil
	}

	status, err := r.members.GetStatus(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return capability.Set{}, nil, true, nil
		}
		return capability.Set{}, nil, false, fmt.Errorf("check membership: %w", err)
	}
	if status == member.StatusPending {
		return capability.Set{}, nil, true, nil
	}

	roles, err := r.roles.RolesForMember(ctx, roomID, userID)
	if err != nil {
		return capability.Set{}, nil, false, fmt.Errorf("load roles: %w", err)
	}

	roleIDs = make(map[uuid.UUID]struct{}, len(roles))
	for _, ro := range roles {
		base = base.Union(ro.Permissions)
		roleIDs[ro.ID] = struct{}{}
	}

	return base, roleIDs, false, nil
}

// applyOverwrites applies thread overwrites in stable order: for each overwrite whose target matches the
// user directly or any role the user holds, effective = (effective | allow) &^ deny, applied in sequence
// rather than batched by principal type.
func applyOverwrites(base capability.Set, overwrites []overwrite.Overwrite, roleIDs map[uuid.UUID]struct{}, userID uuid.UUID) capability.Set {
	for _, o := range overwrites {
		switch o.TargetType {
		case overwrite.TargetUser:
			if o.TargetID != userID {
				continue
			}
		case overwrite.TargetRole:
			if _, held := roleIDs[o.TargetID]; !held {
				continue
			}
		default:
			continue
		}
		base = base.AllowDeny(o.Allow, o.Deny)
	}
	return base
}
