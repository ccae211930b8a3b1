// Package room implements the data-access contract for rooms: the first-class, independently permissioned
// spaces this platform is built around (the generalization of the teacher's single implicit "server").
package room

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the room package.
var (
	ErrNotFound          = errors.New("room not found")
	ErrNameLength        = errors.New("name must be between 1 and 100 characters")
	ErrDescriptionLength = errors.New("description must be 1024 characters or fewer")
)

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Room holds the fields read from the rooms table.
type Room struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	IconURL     *string    `json:"icon_url,omitempty"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"-"`
}

// CreateParams groups the inputs for creating a new room.
type CreateParams struct {
	Name        string
	Description string
	OwnerID     uuid.UUID
}

// UpdateParams groups the optional fields for updating a room. A nil pointer means "no change."
type UpdateParams struct {
	Name        *string
	Description *string
	IconURL     *string
}

// ValidateName checks that a non-nil name is between 1 and 100 characters (runes) after trimming whitespace.
// On success the pointed-to value is replaced with the trimmed result.
func ValidateName(name *string) error {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 100 {
		return ErrNameLength
	}
	*name = trimmed
	return nil
}

// ValidateDescription checks that a non-nil description is 1024 characters (runes) or fewer.
func ValidateDescription(desc *string) error {
	if desc == nil {
		return nil
	}
	if utf8.RuneCountInString(*desc) > 1024 {
		return ErrDescriptionLength
	}
	return nil
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit for a
// non-positive input.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Repository defines the data-access contract for room operations.
type Repository interface {
	List(ctx context.Context, after *uuid.UUID, limit int) ([]Room, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Room, error)
	Create(ctx context.Context, params CreateParams) (*Room, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Room, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// RoomsForUser lists every room id that the given user is a joined (non-pending) member of, the building block for
	// IsMutual: two users are mutual when they share any room.
	RoomsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}
