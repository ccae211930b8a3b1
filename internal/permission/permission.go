// Package permission computes effective capability sets for (user, room) and (user, thread) pairs: role
// union, thread overwrite layering, and admin promotion, per the four-step algorithm the rest of the
// system treats as the sole source of authorization truth.
package permission

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDenied is a sentinel some callers use to distinguish "computed empty set" from a transport failure;
// the resolver itself never returns it.
var ErrDenied = errors.New("missing required permission")

// AdminStore reports whether a user holds instance-wide administrator status, the step-1 bypass that
// yields the full capability set before any room membership is even considered.
type AdminStore interface {
	IsSystemAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}
