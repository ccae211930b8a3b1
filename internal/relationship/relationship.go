// Package relationship tracks one user's standing with another: friendship, an outstanding friend request
// in either direction, a block, or purely personal annotations (a note, a petname, a mute/ignore window)
// that require no reciprocal relation at all.
package relationship

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the relationship package.
var (
	ErrNotFound     = errors.New("relationship not found")
	ErrSelfRelation = errors.New("a user cannot have a relationship with themselves")
	ErrInvalidKind  = errors.New("invalid relationship kind")
)

// Kind is the reciprocal relation between two users. The zero value (empty string) means no formal relation
// exists, only the personal annotations (note, petname, ignore) that Relationship can still carry.
type Kind string

const (
	KindFriend   Kind = "friend"
	KindOutgoing Kind = "outgoing"
	KindIncoming Kind = "incoming"
	KindBlocked  Kind = "blocked"
)

// Relationship is one user's view of another: user_id's standing with other_user_id. It is not symmetric —
// an outgoing request for user_id is the incoming request for other_user_id, stored as two separate rows.
type Relationship struct {
	UserID        uuid.UUID
	OtherUserID   uuid.UUID
	Kind          *Kind
	Note          *string
	Petname       *string
	IgnoreForever bool
	IgnoreUntil   *time.Time
	CreatedAt     time.Time
}

// Patch describes a partial update to a relationship. A nil field leaves the existing value unchanged;
// ClearKind/ClearNote/ClearPetname/ClearIgnore explicitly reset their field to empty even though Kind/Note/
// Petname/IgnoreUntil are themselves nil in that case.
type Patch struct {
	Kind          *Kind
	ClearKind     bool
	Note          *string
	ClearNote     bool
	Petname       *string
	ClearPetname  bool
	IgnoreForever *bool
	IgnoreUntil   *time.Time
	ClearIgnore   bool
}

// IsIgnored reports whether the relationship is currently in an active ignore/mute window.
func (r Relationship) IsIgnored(now time.Time) bool {
	if r.IgnoreForever {
		return true
	}
	return r.IgnoreUntil != nil && r.IgnoreUntil.After(now)
}

// ValidateKind checks that a non-nil kind is one of the known values.
func ValidateKind(k *Kind) error {
	if k == nil {
		return nil
	}
	switch *k {
	case KindFriend, KindOutgoing, KindIncoming, KindBlocked:
		return nil
	default:
		return ErrInvalidKind
	}
}

// Repository defines the data-access contract for relationship operations.
type Repository interface {
	// Put idempotently upserts the full relationship row for (userID, otherID), replacing any existing
	// values for every field.
	Put(ctx context.Context, userID, otherID uuid.UUID, rel Relationship) error

	// Edit applies a partial patch to the existing relationship row for (userID, otherID), creating it
	// first with zero values if it does not yet exist. The row is locked for the duration of the update.
	Edit(ctx context.Context, userID, otherID uuid.UUID, patch Patch) (*Relationship, error)

	Get(ctx context.Context, userID, otherID uuid.UUID) (*Relationship, error)
	Delete(ctx context.Context, userID, otherID uuid.UUID) error
	List(ctx context.Context, userID uuid.UUID, after *uuid.UUID, limit int) ([]Relationship, error)
}

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit when the input
// is zero or negative.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
