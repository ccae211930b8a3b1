package role

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/capability"
)

// Sentinel errors for the role package.
var (
	ErrNotFound          = errors.New("role not found")
	ErrNameLength        = errors.New("role name must be between 1 and 100 characters")
	ErrInvalidPosition   = errors.New("position must be non-negative")
	ErrInvalidColour     = errors.New("colour must be between 0 and 16777215")
	ErrMaxRolesReached   = errors.New("maximum number of roles reached")
	ErrEveryoneImmutable = errors.New("the @everyone role cannot be deleted or have its IsDefault flag changed")
)

// Role holds the fields read from the database. Permissions is the role's own capability set; it is
// unioned with every other role the member holds (plus @everyone) in step 2 of the resolver algorithm.
type Role struct {
	ID          uuid.UUID
	RoomID      uuid.UUID
	Name        string
	Colour      int
	Position    int
	Hoist       bool
	Permissions capability.Set
	IsDefault   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateParams groups the inputs for creating a new role.
type CreateParams struct {
	RoomID      uuid.UUID
	Name        string
	Colour      int
	Permissions capability.Set
	Hoist       bool
}

// UpdateParams groups the optional fields for updating a role.
type UpdateParams struct {
	Name        *string
	Colour      *int
	Position    *int
	Permissions *capability.Set
	Hoist       *bool
}

// ValidateNameRequired validates and trims a name that must be present.
func ValidateNameRequired(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 100 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// ValidateName checks that a non-nil name is between 1 and 100 characters (runes) after trimming
// whitespace. On success the pointed-to value is replaced with the trimmed result.
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

// ValidatePosition checks that a non-nil position is non-negative.
func ValidatePosition(pos *int) error {
	if pos == nil {
		return nil
	}
	if *pos < 0 {
		return ErrInvalidPosition
	}
	return nil
}

// ValidateColour checks that a non-nil colour is in the valid RGB range (0 to 0xFFFFFF).
func ValidateColour(colour *int) error {
	if colour == nil {
		return nil
	}
	if *colour < 0 || *colour > 0xFFFFFF {
		return ErrInvalidColour
	}
	return nil
}

// Repository defines the data-access contract for role operations.
type Repository interface {
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]Role, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Role, error)
	Create(ctx context.Context, params CreateParams, maxRoles int) (*Role, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Role, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// RolesForMember returns every role assigned to the member in the room, always including @everyone
	// for joined members (spec §4.D step 2).
	RolesForMember(ctx context.Context, roomID, userID uuid.UUID) ([]Role, error)
}
