// Package overwrite implements the per-thread permission overwrite rows layered on top of role
// permissions by the permission resolver (spec §4.D step 3).
package overwrite

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/capability"
)

// TargetType identifies whether an overwrite targets a user directly or every holder of a role.
type TargetType string

const (
	TargetUser TargetType = "user"
	TargetRole TargetType = "role"
)

// ErrNotFound is returned when an overwrite lookup misses.
var ErrNotFound = errors.New("overwrite not found")

// Overwrite is a single {target, allow, deny} row attached to a thread.
type Overwrite struct {
	ID         uuid.UUID
	ThreadID   uuid.UUID
	TargetType TargetType
	TargetID   uuid.UUID
	Allow      capability.Set
	Deny       capability.Set
	Position   int
}

// SetParams groups the inputs for creating or replacing an overwrite.
type SetParams struct {
	ThreadID   uuid.UUID
	TargetType TargetType
	TargetID   uuid.UUID
	Allow      capability.Set
	Deny       capability.Set
}

// Repository defines the data-access contract for thread permission overwrites.
type Repository interface {
	// ListByThread returns every overwrite on the given thread, ordered by Position (the stable order
	// spec §4.D step 3 requires when applying them).
	ListByThread(ctx context.Context, threadID uuid.UUID) ([]Overwrite, error)
	Set(ctx context.Context, params SetParams) (*Overwrite, error)
	Delete(ctx context.Context, threadID uuid.UUID, targetType TargetType, targetID uuid.UUID) error
}
