// Package thread implements the data-access contract for threads: the unit of conversation nested inside
// a room (the generalization of the teacher's channel, with categories dropped — see DESIGN.md).
package thread

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Thread kind constants matching the values listed for threads.kind in the schema. The database does not
// enforce them; ValidateKind does.
const (
	KindChat    = "chat"
	KindForum   = "forum"
	KindPrivate = "private"
)

var validKinds = map[string]bool{KindChat: true, KindForum: true, KindPrivate: true}

// Sentinel errors for the thread package.
var (
	ErrNotFound         = errors.New("thread not found")
	ErrMaxThreadsReached = errors.New("maximum number of threads reached")
	ErrNameLength       = errors.New("thread name must be between 1 and 100 characters")
	ErrInvalidKind      = errors.New("invalid thread kind")
	ErrTopicLength      = errors.New("thread topic must be 1024 characters or fewer")
	ErrInvalidPosition  = errors.New("position must be non-negative")
	ErrParentNotFound   = errors.New("parent thread not found")
)

// Thread holds the fields read from the database.
type Thread struct {
	ID             uuid.UUID  `json:"id"`
	RoomID         uuid.UUID  `json:"room_id"`
	ParentThreadID *uuid.UUID `json:"parent_thread_id,omitempty"`
	Name           string     `json:"name"`
	Kind           string     `json:"kind"`
	Topic          string     `json:"topic,omitempty"`
	Position       int        `json:"position"`
	Archived       bool       `json:"archived"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"-"`
}

// ReadState is userID's read position in one thread, backed by the thread_members join table. It is the
// per-recipient counterpart to Thread: two connections viewing the same ThreadCreate/Update event can be
// handed different ReadState values for the same thread.
type ReadState struct {
	LastReadMessageID *uuid.UUID
	IsUnread          bool
}

// CreateParams groups the inputs for creating a new thread.
type CreateParams struct {
	RoomID         uuid.UUID
	ParentThreadID *uuid.UUID
	Name           string
	Kind           string
	Topic          string
}

// UpdateParams groups the optional fields for updating a thread. A nil pointer means "no change."
type UpdateParams struct {
	Name     *string
	Topic    *string
	Position *int
	Archived *bool
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

// ValidateKind checks that the thread kind is one of the allowed values.
func ValidateKind(k string) error {
	if !validKinds[k] {
		return ErrInvalidKind
	}
	return nil
}

// ValidateTopic checks that a non-nil topic is 1024 characters (runes) or fewer.
func ValidateTopic(topic *string) error {
	if topic == nil {
		return nil
	}
	if utf8.RuneCountInString(*topic) > 1024 {
		return ErrTopicLength
	}
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

// Repository defines the data-access contract for thread operations.
type Repository interface {
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]Thread, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Thread, error)
	GetReadState(ctx context.Context, threadID, userID uuid.UUID) (*ReadState, error)
	Create(ctx context.Context, params CreateParams, maxThreads int) (*Thread, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Thread, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
