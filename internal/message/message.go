package message

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// sanitizePolicy strips any markup a client sends as message content. Clients render formatting themselves;
// the server never trusts embedded HTML.
var sanitizePolicy = bluemonday.StrictPolicy()

// Sentinel errors for the message package.
var (
	ErrNotFound       = errors.New("message not found")
	ErrContentTooLong = errors.New("message content exceeds the maximum length")
	ErrEmptyContent   = errors.New("message content must not be empty")
	ErrReplyNotFound  = errors.New("reply target message not found")
	ErrNotAuthor      = errors.New("you can only modify your own messages")
	ErrAlreadyDeleted = errors.New("message has already been deleted")
	ErrVersionStale   = errors.New("message was modified since it was last read")
)

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Attachment is a single file attached to a message, stored as an element of the messages.attachments
// JSONB array.
type Attachment struct {
	ID       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	MimeType string    `json:"mime_type"`
	Size     int64     `json:"size"`
	URL      string    `json:"url"`
}

// Message holds the fields read from the database, including joined author information. Version increments
// on every content edit; the facade layer uses it to detect a stale edit racing a concurrent one.
type Message struct {
	ID          uuid.UUID
	ThreadID    uuid.UUID
	AuthorID    uuid.UUID
	Content     string
	Attachments []Attachment
	Version     int
	ReplyToID   *uuid.UUID
	Pinned      bool
	EditedAt    *time.Time
	Deleted     bool
	CreatedAt   time.Time

	// Author fields joined from the users table.
	AuthorUsername    string
	AuthorDisplayName *string
	AuthorAvatarKey   *string
}

// CreateParams groups the inputs for creating a new message.
type CreateParams struct {
	ThreadID    uuid.UUID
	AuthorID    uuid.UUID
	Content     string
	Attachments []Attachment
	ReplyToID   *uuid.UUID
}

// ValidateContent strips any HTML markup, trims whitespace, and checks that the result is non-empty and
// does not exceed the given maximum rune count. Content may be empty only when at least one attachment is
// present; callers pass hasAttachments accordingly.
func ValidateContent(content string, maxLength int, hasAttachments bool) (string, error) {
	trimmed := strings.TrimSpace(sanitizePolicy.Sanitize(content))
	if trimmed == "" && !hasAttachments {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > maxLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

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

// Repository defines the data-access contract for message operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Message, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	List(ctx context.Context, threadID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error)
	Update(ctx context.Context, id uuid.UUID, content string) (*Message, error)
	SetPinned(ctx context.Context, id uuid.UUID, pinned bool) (*Message, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	SoftDeleteBulk(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}
