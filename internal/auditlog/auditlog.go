// Package auditlog records audit-loggable sync events durably before they are broadcast. Appends happen
// synchronously on the publishing path: an event that failed to append must not reach any recipient.
package auditlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is a single append-only audit log row. Payload and PayloadPrev are stored as raw JSON rather than
// as a recursive Go struct: an audit entry can itself describe a change to a previous audit-loggable
// event's payload, and json.RawMessage breaks that recursion without a self-referential type.
type Entry struct {
	ID          uuid.UUID
	RoomID      uuid.UUID
	UserID      uuid.UUID
	Reason      string
	Payload     json.RawMessage
	PayloadPrev json.RawMessage
	CreatedAt   time.Time
}

// AppendParams groups the inputs for a new entry. Reason and PayloadPrev are optional: Reason is empty
// when the actor gave none, PayloadPrev is nil for an event with no prior state (e.g. a create).
type AppendParams struct {
	RoomID      uuid.UUID
	UserID      uuid.UUID
	Reason      string
	Payload     json.RawMessage
	PayloadPrev json.RawMessage
}

// Repository defines the data-access contract for audit log appends and reads.
type Repository interface {
	// Append durably records a new entry and returns it with its generated ID and timestamp. Called
	// synchronously before broadcast for every audit-loggable event.
	Append(ctx context.Context, params AppendParams) (*Entry, error)

	// ListByRoom returns a room's audit log, newest first, keyset-paginated on created_at.
	ListByRoom(ctx context.Context, roomID uuid.UUID, before *time.Time, limit int) ([]Entry, error)
}

// Pagination defaults, matching the data provider's other keyset-paginated lists.
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
