package auditlog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/syncevent"
)

// Publisher is the subset of *bus.Bus's interface Recorder needs, so tests can substitute a fake instead
// of a live Valkey connection.
type Publisher interface {
	Publish(ctx context.Context, event syncevent.Event) error
}

// RoomResolver resolves the room a thread belongs to. Thread-scoped audit-loggable events (e.g.
// ThreadUpdate) carry only a ThreadID; Recorder uses this to find the RoomID the log row requires,
// mirroring broadcast_thread's lookup-then-delegate-to-broadcast_room behavior in the reference.
type RoomResolver func(ctx context.Context, threadID uuid.UUID) (uuid.UUID, error)

// Recorder wraps a Publisher so every audit-loggable event is durably appended before it reaches the bus.
// The append happens first: a recipient must never observe an event whose audit trail doesn't yet exist.
type Recorder struct {
	repo     Repository
	pub      Publisher
	resolver RoomResolver
}

// NewRecorder builds a Recorder over repo and pub. resolver may be nil if no thread-scoped
// audit-loggable event will ever arrive without RoomID already set.
func NewRecorder(repo Repository, pub Publisher, resolver RoomResolver) *Recorder {
	return &Recorder{repo: repo, pub: pub, resolver: resolver}
}

// Publish appends event to the audit log when it is audit-loggable, then forwards it to the underlying
// Publisher. Non-audit-loggable events pass straight through untouched.
func (r *Recorder) Publish(ctx context.Context, event syncevent.Event) error {
	if event.AuditLoggable {
		if event.Audit == nil {
			return fmt.Errorf("audit-loggable event %q missing Audit fields", event.Kind)
		}

		roomID := event.RoomID
		if roomID == uuid.Nil {
			if event.ThreadID == uuid.Nil || r.resolver == nil {
				return fmt.Errorf("audit-loggable event %q has no room to log against", event.Kind)
			}
			resolved, err := r.resolver(ctx, event.ThreadID)
			if err != nil {
				return fmt.Errorf("resolve room for thread-scoped audit event: %w", err)
			}
			roomID = resolved
		}

		if _, err := r.repo.Append(ctx, AppendParams{
			RoomID:      roomID,
			UserID:      event.Audit.UserID,
			Reason:      event.Audit.Reason,
			Payload:     event.Audit.Payload,
			PayloadPrev: event.Audit.PayloadPrev,
		}); err != nil {
			return fmt.Errorf("append audit log before broadcast: %w", err)
		}
	}

	return r.pub.Publish(ctx, event)
}
