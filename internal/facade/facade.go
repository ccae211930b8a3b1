// Package facade sits between the sync core and the data provider. It memoizes the room/thread/user/
// session entities events reference behind small read-through caches, and reshapes the event kinds whose
// wire payload can go stale between broadcast and delivery.
package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/uncord-chat/uncord-server/internal/message"
	"github.com/uncord-chat/uncord-server/internal/room"
	"github.com/uncord-chat/uncord-server/internal/session"
	"github.com/uncord-chat/uncord-server/internal/syncevent"
	"github.com/uncord-chat/uncord-server/internal/thread"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// CacheSize bounds each of the facade's four read-through caches independently.
const CacheSize = 10_000

// Facade is the read-through layer over the data provider repositories.
type Facade struct {
	rooms    room.Repository
	threads  thread.Repository
	messages message.Repository
	users    user.Repository
	sessions session.Repository

	presigner *Presigner

	roomCache    *lru.Cache[uuid.UUID, *room.Room]
	threadCache  *lru.Cache[uuid.UUID, *thread.Thread]
	userCache    *lru.Cache[uuid.UUID, *user.User]
	sessionCache *lru.Cache[uuid.UUID, *session.Session]
}

// New builds a Facade. presigner may be nil, in which case attachment URLs pass through enrichment
// unchanged (used in tests and any deployment without a CDN in front of media storage).
func New(
	rooms room.Repository,
	threads thread.Repository,
	messages message.Repository,
	users user.Repository,
	sessions session.Repository,
	presigner *Presigner,
) (*Facade, error) {
	roomCache, err := lru.New[uuid.UUID, *room.Room](CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create room cache: %w", err)
	}
	threadCache, err := lru.New[uuid.UUID, *thread.Thread](CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create thread cache: %w", err)
	}
	userCache, err := lru.New[uuid.UUID, *user.User](CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create user cache: %w", err)
	}
	sessionCache, err := lru.New[uuid.UUID, *session.Session](CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}

	return &Facade{
		rooms:        rooms,
		threads:      threads,
		messages:     messages,
		users:        users,
		sessions:     sessions,
		presigner:    presigner,
		roomCache:    roomCache,
		threadCache:  threadCache,
		userCache:    userCache,
		sessionCache: sessionCache,
	}, nil
}

// Room returns a room by ID, populating the cache on miss.
func (f *Facade) Room(ctx context.Context, id uuid.UUID) (*room.Room, error) {
	if r, ok := f.roomCache.Get(id); ok {
		return r, nil
	}
	r, err := f.rooms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.roomCache.Add(id, r)
	return r, nil
}

// Thread returns a thread by ID, populating the cache on miss.
func (f *Facade) Thread(ctx context.Context, id uuid.UUID) (*thread.Thread, error) {
	if t, ok := f.threadCache.Get(id); ok {
		return t, nil
	}
	t, err := f.threads.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.threadCache.Add(id, t)
	return t, nil
}

// User returns a user by ID, populating the cache on miss.
func (f *Facade) User(ctx context.Context, id uuid.UUID) (*user.User, error) {
	if u, ok := f.userCache.Get(id); ok {
		return u, nil
	}
	u, err := f.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.userCache.Add(id, u)
	return u, nil
}

// Session returns a session by ID, populating the cache on miss.
func (f *Facade) Session(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	if s, ok := f.sessionCache.Get(id); ok {
		return s, nil
	}
	s, err := f.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.sessionCache.Add(id, s)
	return s, nil
}

// InvalidateRoom, InvalidateThread, InvalidateUser, and InvalidateSession drop a cached entity so the
// next lookup rereads it from the data provider. Callers invoke these from the same command handlers
// that write the underlying row.
func (f *Facade) InvalidateRoom(id uuid.UUID)    { f.roomCache.Remove(id) }
func (f *Facade) InvalidateThread(id uuid.UUID)  { f.threadCache.Remove(id) }
func (f *Facade) InvalidateUser(id uuid.UUID)    { f.userCache.Remove(id) }
func (f *Facade) InvalidateSession(id uuid.UUID) { f.sessionCache.Remove(id) }

// EnrichForRecipient reshapes event kinds whose wire payload can go stale, or is recipient-dependent,
// between broadcast and delivery. ThreadCreate/Update payloads are reloaded fresh from the cache and
// merged with recipient's own read state (spec §4.E "private fields included only for that recipient");
// MessageCreate/Update payloads are additionally re-marshaled into their wire shape with attachment URLs
// presigned. Every other kind passes through with Data untouched.
func (f *Facade) EnrichForRecipient(ctx context.Context, recipient uuid.UUID, event syncevent.Event) (syncevent.Event, error) {
	switch event.Kind {
	case syncevent.KindThreadCreate, syncevent.KindThreadUpdate:
		return f.enrichThread(ctx, recipient, event)
	case syncevent.KindMessageCreate, syncevent.KindMessageUpdate:
		return f.enrichMessage(ctx, event)
	default:
		return event, nil
	}
}

// threadWire is the shape clients receive for thread_create/thread_update: the public thread row plus
// recipient's own read state. Unlike the room/thread/user/session caches, read state is never cached —
// it's per (thread, recipient), not per thread, so caching it keyed only by thread id would leak one
// recipient's read position to every other recipient.
type threadWire struct {
	thread.Thread
	IsUnread          bool       `json:"is_unread"`
	LastReadMessageID *uuid.UUID `json:"last_read_message_id,omitempty"`

	// The reference implementation this was ported from hardcodes mention tracking to zero too (no schema
	// anywhere counts mentions per recipient), so this mirrors that instead of inventing the feature.
	MentionCount int `json:"mention_count"`
}

func (f *Facade) enrichThread(ctx context.Context, recipient uuid.UUID, event syncevent.Event) (syncevent.Event, error) {
	t, err := f.Thread(ctx, event.ThreadID)
	if err != nil {
		return syncevent.Event{}, fmt.Errorf("reload thread for enrichment: %w", err)
	}
	rs, err := f.threads.GetReadState(ctx, t.ID, recipient)
	if err != nil {
		return syncevent.Event{}, fmt.Errorf("load read state for enrichment: %w", err)
	}
	data, err := json.Marshal(threadWire{
		Thread:            *t,
		IsUnread:          rs.IsUnread,
		LastReadMessageID: rs.LastReadMessageID,
	})
	if err != nil {
		return syncevent.Event{}, fmt.Errorf("marshal thread payload: %w", err)
	}
	event.Data = data
	return event, nil
}

// messageWire is the shape clients receive for message_create/message_update, distinct from the
// message.Message row type because author fields nest under author rather than sitting at the top
// level with an Author prefix.
type messageWire struct {
	ID          uuid.UUID        `json:"id"`
	ThreadID    uuid.UUID        `json:"thread_id"`
	Content     string           `json:"content"`
	Attachments []attachmentWire `json:"attachments"`
	Version     int              `json:"version"`
	ReplyToID   *uuid.UUID       `json:"reply_to_id,omitempty"`
	Pinned      bool             `json:"pinned"`
	EditedAt    *time.Time       `json:"edited_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	Author      authorWire       `json:"author"`
}

type attachmentWire struct {
	ID       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	MimeType string    `json:"mime_type"`
	Size     int64     `json:"size"`
	URL      string    `json:"url"`
}

type authorWire struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarKey   *string   `json:"avatar_key,omitempty"`
}

// enrichMessage takes no recipient: the schema has no per-(message, recipient) state (thread_members
// tracks read position per thread, not per message), and authorization has already run by the time
// enrichment does, so there's nothing here that legitimately varies by who's asking.
func (f *Facade) enrichMessage(ctx context.Context, event syncevent.Event) (syncevent.Event, error) {
	var ref struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(event.Data, &ref); err != nil {
		return syncevent.Event{}, fmt.Errorf("read message id from event payload: %w", err)
	}

	m, err := f.messages.GetByID(ctx, ref.ID)
	if err != nil {
		return syncevent.Event{}, fmt.Errorf("reload message for enrichment: %w", err)
	}

	attachments := make([]attachmentWire, len(m.Attachments))
	for i, a := range m.Attachments {
		signedURL := a.URL
		if f.presigner != nil {
			signedURL, err = f.presigner.Sign(a.URL)
			if err != nil {
				return syncevent.Event{}, fmt.Errorf("sign attachment url: %w", err)
			}
		}
		attachments[i] = attachmentWire{
			ID:       a.ID,
			Filename: a.Filename,
			MimeType: a.MimeType,
			Size:     a.Size,
			URL:      signedURL,
		}
	}

	wire := messageWire{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		Content:     m.Content,
		Attachments: attachments,
		Version:     m.Version,
		ReplyToID:   m.ReplyToID,
		Pinned:      m.Pinned,
		EditedAt:    m.EditedAt,
		CreatedAt:   m.CreatedAt,
		Author: authorWire{
			ID:          m.AuthorID,
			Username:    m.AuthorUsername,
			DisplayName: m.AuthorDisplayName,
			AvatarKey:   m.AuthorAvatarKey,
		},
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return syncevent.Event{}, fmt.Errorf("marshal message payload: %w", err)
	}
	event.Data = data
	return event, nil
}
