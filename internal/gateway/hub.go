// Package gateway implements the Connection Manager: the single WebSocket endpoint clients use to receive
// real-time sync traffic. Hub owns the registry of connections and the bus subscription that feeds them;
// Connection owns one client's handshake/resume state machine and bounded replay queue.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/bus"
	"github.com/uncord-chat/uncord-server/internal/config"
	"github.com/uncord-chat/uncord-server/internal/envelope"
	"github.com/uncord-chat/uncord-server/internal/presence"
	"github.com/uncord-chat/uncord-server/internal/session"
	"github.com/uncord-chat/uncord-server/internal/syncevent"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// writeWait is the time allowed to write a single message to the peer.
const writeWait = 10 * time.Second

// Filter is the subset of internal/authz.Filter the hub needs.
type Filter interface {
	Allow(ctx context.Context, userID, selfSessionID uuid.UUID, e syncevent.Event) (bool, error)
}

// VoiceDispatcher forwards an opaque signalling payload to the SFU collaborator on behalf of a user.
type VoiceDispatcher interface {
	Dispatch(ctx context.Context, userID uuid.UUID, payload json.RawMessage) error
}

// Enricher reshapes an event's wire payload for a specific recipient before delivery, filling in entities
// (room, thread, message, author) that have gone stale between broadcast and a slow or resumed connection.
type Enricher interface {
	EnrichForRecipient(ctx context.Context, recipient uuid.UUID, event syncevent.Event) (syncevent.Event, error)
}

// Hub is the connection registry and event-bus fan-out point.
type Hub struct {
	cfg      *config.Config
	bus      *bus.Bus
	authz    Filter
	sessions session.Repository
	users    user.Repository
	presence *presence.Store
	voice    VoiceDispatcher
	facade   Enricher
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]*Connection
}

// NewHub builds a Hub. voice may be nil until internal/voice's SFU client is wired in by the caller; Hub
// then logs each VoiceDispatch at debug level and otherwise ignores it rather than panicking. facade may
// also be nil, in which case events are delivered exactly as broadcast.
func NewHub(
	cfg *config.Config,
	eventBus *bus.Bus,
	authz Filter,
	sessions session.Repository,
	users user.Repository,
	presenceStore *presence.Store,
	voice VoiceDispatcher,
	facade Enricher,
	logger zerolog.Logger,
) *Hub {
	return &Hub{
		cfg:      cfg,
		bus:      eventBus,
		authz:    authz,
		sessions: sessions,
		users:    users,
		presence: presenceStore,
		voice:    voice,
		facade:   facade,
		clients:  make(map[uuid.UUID]*Connection),
		log:      logger.With().Str("component", "gateway").Logger(),
	}
}

// ServeWebSocket drives a single upgraded WebSocket connection until it terminates for good (not merely
// disconnects — a disconnected Connection with a live resume window stays registered and keeps buffering
// bus events; this call returns once that connection is either resumed onto a later socket, reaped, or the
// caller's own socket closes without ever completing a Hello).
func (h *Hub) ServeWebSocket(conn *websocket.Conn) {
	shell := newConnection(h, conn, h.log)
	shell.readLoop()
}

// register adds a freshly authenticated connection to the registry and starts its bus delivery loop.
func (h *Hub) register(c *Connection) error {
	h.mu.Lock()
	if len(h.clients) >= h.cfg.GatewayMaxConnections {
		h.mu.Unlock()
		return ErrMaxConnections
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	go h.deliverLoop(c)
	return nil
}

func (h *Hub) lookup(id uuid.UUID) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

// reap permanently removes a connection from the registry and stops its delivery loop.
func (h *Hub) reap(c *Connection) {
	h.mu.Lock()
	if current, ok := h.clients[c.id]; ok && current == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.markReaped()
}

// onTransportLost handles both a clean read-loop exit and a failed drain write: the connection drops to
// Disconnected but stays registered (and its delivery loop keeps running) until resumed, reaped for queue
// overflow, or its resume window lapses.
func (h *Hub) onTransportLost(c *Connection) {
	if c.State() == connUnauthed {
		h.reap(c)
		return
	}
	c.detachTransport()
	h.log.Debug().Stringer("conn", c.id).Msg("Connection disconnected, awaiting resume")

	time.AfterFunc(h.cfg.GatewayResumeWindow, func() {
		if c.State() == connDisconnected {
			h.log.Debug().Stringer("conn", c.id).Msg("Resume window elapsed, reaping connection")
			h.reap(c)
		}
	})
}

// deliverLoop subscribes to the bus and keeps authorizing + queueing events for c for as long as c is
// registered, independent of whether its transport is currently live. This is what lets a Disconnected
// connection keep accumulating a correct replay queue during its resume grace window.
func (h *Hub) deliverLoop(c *Connection) {
	_, ch, cancel := h.bus.Subscribe()
	c.setBusCancel(cancel)
	defer cancel()

	for {
		select {
		case <-c.reaped:
			return
		case event, ok := <-ch:
			if !ok {
				h.log.Warn().Stringer("conn", c.id).Msg("Bus subscription closed (lagging), reaping connection")
				h.reap(c)
				return
			}
			h.deliverEvent(c, event)
		}
	}
}

func (h *Hub) deliverEvent(c *Connection, event syncevent.Event) {
	userID := c.UserID()
	if userID == uuid.Nil {
		return
	}
	selfSessionID := c.SessionID()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	allowed, err := h.authz.Allow(ctx, userID, selfSessionID, event)
	if err != nil {
		h.log.Warn().Err(err).Stringer("conn", c.id).Msg("Authorization check failed during dispatch")
		return
	}
	if !allowed {
		return
	}

	// A connection's own session being deleted is a self-drop: the event is still delivered so the client
	// learns why, but the connection is then terminated rather than kept open on a dead session.
	selfDropped := event.Kind == syncevent.KindSessionDelete && event.SessionID != uuid.Nil && event.SessionID == selfSessionID

	if h.facade != nil {
		enriched, err := h.facade.EnrichForRecipient(ctx, userID, event)
		if err != nil {
			h.log.Warn().Err(err).Stringer("conn", c.id).Msg("Event enrichment failed, dropping event")
			return
		}
		event = enriched
	}

	if err := c.pushSync(event); err != nil {
		h.log.Warn().Err(err).Stringer("conn", c.id).Msg("Failed to build sync frame")
		return
	}

	if c.overflowed() {
		h.log.Debug().Stringer("conn", c.id).Msg("Queue overflowed while disconnected, reaping connection")
		h.reap(c)
		return
	}

	if err := c.drain(); err != nil && c.State() == connAuthenticated {
		h.onTransportLost(c)
		return
	}

	if selfDropped {
		h.log.Debug().Stringer("conn", c.id).Msg("Own session deleted, closing connection")
		c.closeWithCode(CloseSessionRevoked, "session deleted")
		h.reap(c)
	}
}

// handleHello processes the first frame on a connection: resolve the bearer token to a session, and either
// mint a fresh connection identity or reattach to a previously disconnected one. It returns the Connection
// that now owns further reads on this socket (c itself for fresh auth, a different, previously registered
// Connection for a successful resume), or nil if the socket was already closed and reading must stop.
func (h *Hub) handleHello(c *Connection, hello *envelope.HelloPayload) *Connection {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := h.sessions.GetByToken(ctx, hello.Token)
	if err != nil {
		h.log.Debug().Err(err).Msg("Hello token resolution failed")
		c.closeWithCode(CloseAuthFailed, "invalid token")
		return nil
	}

	if hello.Resume != nil {
		return h.handleResumeHello(c, sess, hello.Resume)
	}

	var userID uuid.UUID
	if sess.UserID != nil {
		userID = *sess.UserID
	}

	id := c.bindAuthenticated(sess.ID, userID)

	if err := h.register(c); err != nil {
		h.log.Warn().Err(err).Msg("Failed to register connection")
		c.closeWithCode(CloseUnknownError, "registration failed")
		return nil
	}

	status := hello.Status
	if status == "" {
		status = presence.StatusOnline
	}
	if userID != uuid.Nil && h.presence != nil && presence.ValidStatus(status) {
		if err := h.presence.Set(ctx, userID, status); err != nil {
			h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to set initial presence")
		}
	}

	userJSON, err := h.marshalUser(ctx, userID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to load user for Ready frame")
	}
	sessionJSON, _ := json.Marshal(sessionWire{ID: sess.ID, Status: string(sess.Status), Name: sess.Name})

	frame, err := envelope.NewReady(userJSON, sessionJSON, id)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build Ready frame")
		c.closeWithCode(CloseUnknownError, "internal error")
		return nil
	}
	c.pushUnsequenced(frame)
	if err := c.drain(); err != nil {
		h.onTransportLost(c)
		return nil
	}

	c.resetHeartbeat()
	h.log.Info().Stringer("conn", id).Stringer("user_id", userID).Msg("Connection authenticated")
	return c
}

// handleResumeHello implements the resume branch of Hello: look up the prior connection by the id the
// client remembers, validate it belongs to the same session, rewind it to the requested sequence, and
// reattach the new socket to it in place of the stale shell that read this Hello.
func (h *Hub) handleResumeHello(shell *Connection, sess *session.Session, resume *envelope.ResumeInfo) *Connection {
	old := h.lookup(resume.Conn)
	if old == nil || old.SessionID() != sess.ID {
		h.log.Debug().Stringer("conn", resume.Conn).Msg("Resume target not found or session mismatch")
		shell.closeWithCode(CloseInvalidSequence, "bad or expired reconnection info")
		return nil
	}

	if err := old.rewind(resume.Seq); err != nil {
		h.log.Debug().Err(err).Stringer("conn", resume.Conn).Msg("Resume sequence outside replay window")
		shell.closeWithCode(CloseInvalidSequence, "bad or expired reconnection info")
		return nil
	}

	old.attachTransport(shell.conn)

	resumed, err := envelope.NewResumed()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build Resumed frame")
		old.closeWithCode(CloseUnknownError, "internal error")
		return nil
	}
	old.pushUnsequenced(resumed)
	if err := old.drain(); err != nil {
		h.onTransportLost(old)
		return nil
	}

	old.resetHeartbeat()

	if userID := old.UserID(); userID != uuid.Nil && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.Refresh(ctx, userID); err != nil {
			h.log.Debug().Err(err).Stringer("user_id", userID).Msg("Failed to refresh presence on resume")
		}
	}

	h.log.Info().Stringer("conn", old.id).Msg("Connection resumed")
	return old
}

// handleStatus processes a client's Status update, storing it and refreshing its presence TTL.
func (h *Hub) handleStatus(c *Connection, status *envelope.StatusPayload) {
	if h.presence == nil || !presence.ValidStatus(status.Status) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.Set(ctx, c.UserID(), status.Status); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", c.UserID()).Msg("Failed to set presence")
	}
}

// handleVoiceDispatch forwards a signalling payload to the SFU collaborator.
func (h *Hub) handleVoiceDispatch(c *Connection, dispatch *envelope.VoiceDispatchPayload) {
	if h.voice == nil {
		h.log.Debug().Msg("Voice dispatch received with no SFU client configured")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.voice.Dispatch(ctx, dispatch.UserID, dispatch.Payload); err != nil {
		h.log.Warn().Err(err).Stringer("conn", c.id).Msg("Voice dispatch failed")
	}
}

func (h *Hub) marshalUser(ctx context.Context, userID uuid.UUID) (json.RawMessage, error) {
	if userID == uuid.Nil || h.users == nil {
		return nil, nil
	}
	u, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return json.Marshal(u)
}

// sessionWire is the Ready/Resumed frame's session field: enough for the client to know which session it
// is bound to without exposing the bearer token hash.
type sessionWire struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
	Name   string    `json:"name"`
}

// Shutdown closes every registered connection with a going-away status. It does not wait for delivery
// loops to notice; callers tear down the bus alongside it.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Connection, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[uuid.UUID]*Connection)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWithCode(websocket.CloseGoingAway, "server shutting down")
		c.markReaped()
	}
	h.log.Info().Msg("Gateway hub shut down")
}

// ClientCount returns the number of currently registered connections (authenticated or disconnected but
// still within their resume window).
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
