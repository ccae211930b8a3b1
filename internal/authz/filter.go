package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/capability"
	"github.com/uncord-chat/uncord-server/internal/syncevent"
)

// Resolver is the subset of the permission resolver the filter needs. internal/permission.Resolver
// satisfies it.
type Resolver interface {
	ResolveRoom(ctx context.Context, userID, roomID uuid.UUID) (capability.Set, error)
	ResolveThread(ctx context.Context, userID, threadID uuid.UUID) (capability.Set, error)
	IsMutual(ctx context.Context, userA, userB uuid.UUID) (bool, error)
}

// Filter decides, for a bound user, whether a given event may be delivered.
type Filter struct {
	resolver Resolver
	log      zerolog.Logger
}

// New builds a Filter over the given permission resolver.
func New(resolver Resolver, log zerolog.Logger) *Filter {
	return &Filter{resolver: resolver, log: log.With().Str("component", "authz").Logger()}
}

// Allow answers the decision rules of spec §4.C for a connection bound to userID and selfSessionID (the
// session that connection itself authenticated with, or uuid.Nil if unauthenticated). Unauthenticated
// connections receive no non-custom events, and a Custom scope with Custom == false is never deliverable to
// anyone. Data provider failures during permission lookup are not converted to "denied": they are returned
// to the caller, which must skip the event for this one connection and log a warning rather than treat the
// failure as an authorization verdict (spec §4.D "Failure semantics").
func (f *Filter) Allow(ctx context.Context, userID, selfSessionID uuid.UUID, e syncevent.Event) (bool, error) {
	scope := TagScope(e, selfSessionID)

	if userID == uuid.Nil {
		return false, nil
	}

	switch scope.Kind {
	case ScopeRoom:
		ok, err := f.hasView(ctx, func() (capability.Set, error) {
			return f.resolver.ResolveRoom(ctx, userID, scope.RoomID)
		})
		return ok, err

	case ScopeThread:
		return f.hasView(ctx, func() (capability.Set, error) {
			return f.resolver.ResolveThread(ctx, userID, scope.ThreadID)
		})

	case ScopeRoomOrUser:
		if userID == scope.UserID {
			return true, nil
		}
		return f.hasView(ctx, func() (capability.Set, error) {
			return f.resolver.ResolveRoom(ctx, userID, scope.RoomID)
		})

	case ScopeThreadOrUser:
		if userID == scope.UserID {
			return true, nil
		}
		return f.hasView(ctx, func() (capability.Set, error) {
			return f.resolver.ResolveThread(ctx, userID, scope.ThreadID)
		})

	case ScopeUser:
		return userID == scope.UserID, nil

	case ScopeUserMutual:
		if userID == scope.UserID {
			return true, nil
		}
		mutual, err := f.resolver.IsMutual(ctx, userID, scope.UserID)
		if err != nil {
			return false, fmt.Errorf("is_mutual(%s,%s): %w", userID, scope.UserID, err)
		}
		return mutual, nil

	case ScopeCustom:
		return scope.Custom, nil

	default:
		return false, nil
	}
}

func (f *Filter) hasView(ctx context.Context, resolve func() (capability.Set, error)) (bool, error) {
	set, err := resolve()
	if err != nil {
		return false, err
	}
	return set.Has(capability.View), nil
}
