package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/envelope"
	"github.com/uncord-chat/uncord-server/internal/syncevent"
)

// connState is the per-connection lifecycle state.
type connState int

const (
	connUnauthed connState = iota
	connAuthenticated
	connDisconnected
)

// maxQueueLen bounds the per-connection replay buffer. A push to a full buffer drops the oldest entry; one
// such drop while disconnected marks the connection as overflowed.
const maxQueueLen = 256

// queueEntry is one buffered envelope. Seq is nil for unsequenced controls (Ready, Resumed, Ping), which
// are discarded the first time drain attempts them rather than retained for resume.
type queueEntry struct {
	seq   *uint64
	frame envelope.Frame
}

// Connection is a single client's state machine: identity, transport, and the bounded replay queue. Writes
// to the transport only ever happen inside drain, which holds mu for the duration — this keeps sequencing
// and the actual wire write atomic with respect to each other without a separate writer goroutine.
type Connection struct {
	id  uuid.UUID
	hub *Hub
	log zerolog.Logger

	mu                     sync.Mutex
	state                  connState
	sessionID              uuid.UUID
	userID                 uuid.UUID
	seqServer              uint64
	seqClient              uint64
	queue                  []queueEntry
	droppedSinceDisconnect int

	conn *websocket.Conn

	reaped     chan struct{}
	reapedOnce sync.Once
	busCancel  func()

	heartbeatGen atomic.Uint64

	// rate limiting state, touched only from the read loop goroutine.
	eventCount  int
	windowStart time.Time
}

func newConnection(hub *Hub, conn *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		hub:    hub,
		conn:   conn,
		log:    logger,
		reaped: make(chan struct{}),
	}
}

// ID returns the connection's identity. It is the zero UUID until a successful Hello mints one.
func (c *Connection) ID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// UserID returns the bound user, or uuid.Nil for an unauthenticated connection.
func (c *Connection) UserID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// SessionID returns the bound session id.
func (c *Connection) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// State returns the current lifecycle state.
func (c *Connection) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// bindAuthenticated mints a fresh connection identity and transitions Unauthed -> Authenticated.
func (c *Connection) bindAuthenticated(sessionID, userID uuid.UUID) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = uuid.New()
	c.sessionID = sessionID
	c.userID = userID
	c.state = connAuthenticated
	return c.id
}

// pushUnsequenced enqueues a control envelope with no sequence number.
func (c *Connection) pushUnsequenced(frame envelope.Frame) {
	c.mu.Lock()
	c.queue = prependBounded(c.queue, queueEntry{frame: frame})
	c.mu.Unlock()
}

// pushSync assigns the next server sequence number to event, builds its Sync frame, and enqueues it.
// seq_server advances once per call regardless of whether the subsequent drain actually reaches the wire.
func (c *Connection) pushSync(event syncevent.Event) error {
	c.mu.Lock()
	seq := c.seqServer
	c.seqServer++
	c.mu.Unlock()

	frame, err := envelope.NewSync(seq, event)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry := queueEntry{seq: &seq, frame: frame}
	if c.state == connDisconnected {
		before := len(c.queue)
		c.queue = prependBounded(c.queue, entry)
		if len(c.queue) <= before {
			// The bound was already saturated before this push, so something buffered was dropped.
			c.droppedSinceDisconnect++
		}
		return nil
	}
	c.queue = prependBounded(c.queue, entry)
	return nil
}

func prependBounded(q []queueEntry, e queueEntry) []queueEntry {
	q = append([]queueEntry{e}, q...)
	if len(q) > maxQueueLen {
		q = q[:maxQueueLen]
	}
	return q
}

// oldestBufferedSeqLocked returns the smallest sequence number currently buffered, if any. mu must be held.
func (c *Connection) oldestBufferedSeqLocked() (uint64, bool) {
	have := false
	var oldest uint64
	for _, e := range c.queue {
		if e.seq == nil {
			continue
		}
		if !have || *e.seq < oldest {
			oldest = *e.seq
			have = true
		}
	}
	return oldest, have
}

// rewind validates and applies a resume request's target sequence. It fails if target is older than the
// oldest sequence still buffered (the client has fallen out of the replay window) or ahead of anything the
// server has ever assigned.
func (c *Connection) rewind(target uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if target > c.seqServer {
		return ErrInvalidSequence
	}
	if oldest, ok := c.oldestBufferedSeqLocked(); ok && target < oldest {
		return ErrInvalidSequence
	}
	c.seqClient = target
	return nil
}

// drain walks the queue oldest-first, writing every envelope whose sequence is nil or strictly greater than
// seq_client to the transport, and raises seq_client to the highest sequence actually written. Unsequenced
// entries are dropped from the queue once attempted, win or lose; sequenced entries are kept for resume. A
// write failure stops the walk immediately — remaining entries stay queued for a future drain.
func (c *Connection) drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrConnectionGone
	}

	highest := c.seqClient
	kept := c.queue[:0:0]
	for i := len(c.queue) - 1; i >= 0; i-- {
		e := c.queue[i]
		if e.seq != nil && *e.seq <= c.seqClient {
			kept = append(kept, e)
			continue
		}

		raw, err := json.Marshal(e.frame)
		if err != nil {
			c.log.Error().Err(err).Msg("Failed to marshal queued frame")
			if e.seq != nil {
				kept = append(kept, e)
			}
			continue
		}

		if err := c.writeLocked(raw); err != nil {
			// Stop here; this entry (unless unsequenced, since it was attempted) and everything newer, not
			// yet attempted, remain queued for retry on the next successful drain.
			for j := i; j >= 0; j-- {
				if j < i || c.queue[j].seq != nil {
					kept = append(kept, c.queue[j])
				}
			}
			c.seqClient = highest
			c.queue = reverseInPlace(kept)
			return err
		}

		if e.seq != nil {
			if *e.seq > highest {
				highest = *e.seq
			}
			kept = append(kept, e)
		}
	}

	c.seqClient = highest
	c.queue = reverseInPlace(kept)
	return nil
}

// reverseInPlace reverses a slice built oldest-to-newest back into the newest-at-front order the queue is
// otherwise kept in.
func reverseInPlace(q []queueEntry) []queueEntry {
	for i, j := 0, len(q)-1; i < j; i, j = i+1, j-1 {
		q[i], q[j] = q[j], q[i]
	}
	return q
}

func (c *Connection) writeLocked(raw []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// attachTransport reassigns the live transport to an already-registered, Disconnected connection — the
// resume path. The connection's identity, session binding, and queue are untouched.
func (c *Connection) attachTransport(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = connAuthenticated
	c.droppedSinceDisconnect = 0
	c.mu.Unlock()
}

// detachTransport marks the connection Disconnected (transport lost) but leaves it registered and its
// queue intact for a future resume.
func (c *Connection) detachTransport() {
	c.mu.Lock()
	c.conn = nil
	if c.state == connAuthenticated {
		c.state = connDisconnected
	}
	c.mu.Unlock()
}

// overflowed reports whether any event has been dropped from the full queue while disconnected, which
// warrants reaping the connection outright instead of waiting for its resume window to expire.
func (c *Connection) overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedSinceDisconnect > 0
}

func (c *Connection) setBusCancel(cancel func()) {
	c.mu.Lock()
	c.busCancel = cancel
	c.mu.Unlock()
}

// markReaped closes the reaped signal exactly once, stopping the connection's bus delivery loop for good.
func (c *Connection) markReaped() {
	c.reapedOnce.Do(func() { close(c.reaped) })
	c.mu.Lock()
	cancel := c.busCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// closeWithCode sends a WebSocket close frame and tears down the underlying connection.
func (c *Connection) closeWithCode(code int, reason string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// resetHeartbeat (re)arms the 30s ping timer, invalidating any close timer started by a prior expiry.
func (c *Connection) resetHeartbeat() {
	gen := c.heartbeatGen.Add(1)
	time.AfterFunc(c.hub.cfg.GatewayHeartbeatInterval, func() { c.onPingDeadline(gen) })
}

func (c *Connection) onPingDeadline(gen uint64) {
	if c.heartbeatGen.Load() != gen {
		return
	}
	frame, err := envelope.NewPing()
	if err == nil {
		c.pushUnsequenced(frame)
		if err := c.drain(); err != nil {
			c.hub.onTransportLost(c)
			return
		}
	}
	closeGen := c.heartbeatGen.Add(1)
	time.AfterFunc(c.hub.cfg.GatewayCloseTimeout, func() { c.onCloseDeadline(closeGen) })
}

func (c *Connection) onCloseDeadline(gen uint64) {
	if c.heartbeatGen.Load() != gen {
		return
	}
	c.log.Debug().Msg("Connection timed out waiting for Pong")
	c.closeWithCode(CloseSessionTimedOut, "heartbeat timeout")
	c.hub.onTransportLost(c)
}

// readLoop reads frames off the transport until it errs out or the connection is deliberately handed off
// during a resume. It always ends by notifying the hub the transport is gone, except when a resume has
// transferred ownership of this same socket to another Connection — in that case control passes to that
// connection's own readLoop before this one returns, and this one must not also report transport loss.
func (c *Connection) readLoop() {
	c.conn.SetReadLimit(int64(c.hub.cfg.GatewayMaxMessageBytes))
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.GatewayHeartbeatInterval + c.hub.cfg.GatewayCloseTimeout))

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.hub.onTransportLost(c)
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWithCode(CloseDecodeError, "binary frames are not supported")
			c.hub.onTransportLost(c)
			return
		}

		if c.rateLimited() {
			c.closeWithCode(CloseRateLimited, "rate limit exceeded")
			c.hub.onTransportLost(c)
			return
		}

		payload, err := envelope.ParseClientFrame(data)
		if err != nil {
			c.closeWithCode(CloseDecodeError, "invalid frame")
			c.hub.onTransportLost(c)
			return
		}

		switch p := payload.(type) {
		case *envelope.HelloPayload:
			if c.State() != connUnauthed {
				c.closeWithCode(CloseAlreadyAuthenticated, "already authenticated")
				c.hub.onTransportLost(c)
				return
			}
			owner := c.hub.handleHello(c, p)
			if owner == nil {
				// Hello failed and the socket was already closed inside handleHello.
				return
			}
			if owner != c {
				// Resumed onto a previously registered connection: it now owns this socket's reads.
				owner.readLoop()
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.GatewayHeartbeatInterval + c.hub.cfg.GatewayCloseTimeout))

		case *envelope.StatusPayload:
			if c.State() != connAuthenticated {
				c.closeWithCode(CloseNotAuthenticated, "not authenticated")
				c.hub.onTransportLost(c)
				return
			}
			c.hub.handleStatus(c, p)

		case *envelope.PongPayload:
			if c.State() != connAuthenticated {
				c.closeWithCode(CloseNotAuthenticated, "not authenticated")
				c.hub.onTransportLost(c)
				return
			}
			c.resetHeartbeat()

		case *envelope.VoiceDispatchPayload:
			if c.State() != connAuthenticated {
				c.closeWithCode(CloseNotAuthenticated, "not authenticated")
				c.hub.onTransportLost(c)
				return
			}
			c.hub.handleVoiceDispatch(c, p)
		}
	}
}

// rateLimited tracks a fixed-window message counter, reset every RateLimitWSWindowSeconds.
func (c *Connection) rateLimited() bool {
	now := time.Now()
	window := time.Duration(c.hub.cfg.RateLimitWSWindowSeconds) * time.Second
	if now.Sub(c.windowStart) > window {
		c.eventCount = 0
		c.windowStart = now
	}
	c.eventCount++
	return c.eventCount > c.hub.cfg.RateLimitWSCount
}
