// Package bus fans a syncevent.Event out to every connection attached to this process, backed by a
// Valkey pub/sub channel so an event published by any instance reaches every instance's connections. Each
// local subscriber owns a 100-capacity buffered channel; a subscriber that falls behind is disconnected
// from the bus rather than allowed to slow delivery down for anyone else.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/syncevent"
)

const (
	channelName = "uncord.sync.events"

	// subscriberCapacity is the per-subscriber buffer size, matching the reference implementation's
	// in-process broadcast channel capacity.
	subscriberCapacity = 100
)

// Bus fans out sync events to local subscribers and, via Valkey pub/sub, across every process sharing the
// same Valkey instance.
type Bus struct {
	rdb *redis.Client
	log zerolog.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]chan syncevent.Event
}

// New creates a Bus backed by the given Valkey client.
func New(rdb *redis.Client, logger zerolog.Logger) *Bus {
	return &Bus{
		rdb:  rdb,
		log:  logger.With().Str("component", "bus").Logger(),
		subs: make(map[uuid.UUID]chan syncevent.Event),
	}
}

// wireEvent is the full cross-process serialisation of a syncevent.Event. Event's own json tags only carry
// the client-facing Kind/Data pair (the fields authorization filtering needs are tagged "-" since they never
// reach the client); the bus instead needs every field, since the process publishing an event and the
// process whose connections must filter it are not necessarily the same one.
type wireEvent struct {
	Kind           syncevent.Kind             `json:"kind"`
	Data           json.RawMessage            `json:"data"`
	RoomID         uuid.UUID                  `json:"room_id,omitempty"`
	ThreadID       uuid.UUID                  `json:"thread_id,omitempty"`
	TargetUserID   uuid.UUID                  `json:"target_user_id,omitempty"`
	SessionID      uuid.UUID                  `json:"session_id,omitempty"`
	SessionUserID  uuid.UUID                  `json:"session_user_id,omitempty"`
	InviteTarget   syncevent.InviteTargetKind `json:"invite_target,omitempty"`
	InviteTargetID uuid.UUID                  `json:"invite_target_id,omitempty"`
	AuditLoggable  bool                       `json:"audit_loggable,omitempty"`
	Audit          *syncevent.AuditFields     `json:"audit,omitempty"`
}

func toWire(e syncevent.Event) wireEvent {
	return wireEvent{
		Kind:           e.Kind,
		Data:           e.Data,
		RoomID:         e.RoomID,
		ThreadID:       e.ThreadID,
		TargetUserID:   e.TargetUserID,
		SessionID:      e.SessionID,
		SessionUserID:  e.SessionUserID,
		InviteTarget:   e.InviteTarget,
		InviteTargetID: e.InviteTargetID,
		AuditLoggable:  e.AuditLoggable,
		Audit:          e.Audit,
	}
}

func fromWire(w wireEvent) syncevent.Event {
	return syncevent.Event{
		Kind:           w.Kind,
		Data:           w.Data,
		RoomID:         w.RoomID,
		ThreadID:       w.ThreadID,
		TargetUserID:   w.TargetUserID,
		SessionID:      w.SessionID,
		SessionUserID:  w.SessionUserID,
		InviteTarget:   w.InviteTarget,
		InviteTargetID: w.InviteTargetID,
		AuditLoggable:  w.AuditLoggable,
		Audit:          w.Audit,
	}
}

// Publish marshals event and publishes it on the shared Valkey channel. Every process running Run,
// including this one, receives it back and fans it out to its own local subscribers.
func (b *Bus) Publish(ctx context.Context, event syncevent.Event) error {
	payload, err := json.Marshal(toWire(event))
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channelName, payload).Err(); err != nil {
		return fmt.Errorf("publish sync event: %w", err)
	}
	return nil
}

// Run subscribes to the Valkey channel and fans out decoded events to local subscribers. It blocks until
// ctx is cancelled or the subscription fails.
func (b *Bus) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, channelName)
	defer func() { _ = sub.Close() }()

	b.log.Info().Msg("Event bus subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(msg.Payload)
		}
	}
}

func (b *Bus) deliver(payload string) {
	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		b.log.Warn().Err(err).Msg("Invalid sync event envelope")
		return
	}
	event := fromWire(w)

	var lagging []uuid.UUID
	b.mu.RLock()
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			lagging = append(lagging, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range lagging {
		b.log.Warn().Stringer("subscriber", id).Msg("Subscriber lagging behind bus, evicting")
		b.evict(id)
	}
}

func (b *Bus) evict(id uuid.UUID) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Subscribe registers a new local subscriber and returns its id, its event channel, and a cancel function.
// The channel is closed either when cancel is called or, if the subscriber falls too far behind, by the bus
// itself — the caller must treat a closed channel as a fatal disconnect in both cases.
func (b *Bus) Subscribe() (uuid.UUID, <-chan syncevent.Event, func()) {
	id := uuid.New()
	ch := make(chan syncevent.Event, subscriberCapacity)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	return id, ch, func() { b.evict(id) }
}

// SubscriberCount returns the number of currently attached local subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
