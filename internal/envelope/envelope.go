// Package envelope defines the wire frames exchanged over the gateway WebSocket: unsequenced controls
// (Ready, Resumed, Ping) and sequenced Sync frames carrying a syncevent.Event.
package envelope

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/syncevent"
)

// Type tags the outer payload the way every frame the server sends is shaped: {"payload": {"type": ..., ...}}.
type Type string

const (
	TypeReady   Type = "Ready"
	TypeResumed Type = "Resumed"
	TypePing    Type = "Ping"
	TypeSync    Type = "Sync"
)

// Frame is the top-level server→client wire shape.
type Frame struct {
	Payload json.RawMessage `json:"payload"`
}

type readyPayload struct {
	Type    Type            `json:"type"`
	User    json.RawMessage `json:"user,omitempty"`
	Session json.RawMessage `json:"session"`
	Conn    uuid.UUID       `json:"conn"`
	Seq     uint64          `json:"seq"`
}

type resumedPayload struct {
	Type Type `json:"type"`
}

type pingPayload struct {
	Type Type `json:"type"`
}

type syncPayload struct {
	Type Type            `json:"type"`
	Seq  uint64           `json:"seq"`
	Data json.RawMessage `json:"data"`
}

// NewReady builds a Ready frame. Seq is always 0 per spec §6; user is omitted for sessions not yet bound
// to a user identity.
func NewReady(user json.RawMessage, session json.RawMessage, conn uuid.UUID) (Frame, error) {
	p, err := json.Marshal(readyPayload{Type: TypeReady, User: user, Session: session, Conn: conn, Seq: 0})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Payload: p}, nil
}

// NewResumed builds a Resumed control frame, sent immediately after a successful resume handshake.
func NewResumed() (Frame, error) {
	p, err := json.Marshal(resumedPayload{Type: TypeResumed})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Payload: p}, nil
}

// NewPing builds the heartbeat Ping control frame.
func NewPing() (Frame, error) {
	p, err := json.Marshal(pingPayload{Type: TypePing})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Payload: p}, nil
}

// NewSync builds a sequenced Sync frame wrapping a sync event.
func NewSync(seq uint64, event syncevent.Event) (Frame, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return Frame{}, err
	}
	p, err := json.Marshal(syncPayload{Type: TypeSync, Seq: seq, Data: data})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Payload: p}, nil
}

// ErrorPayload is the JSON error envelope returned to the client over the socket (spec §7).
type ErrorPayload struct {
	Type    Type   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an error frame.
func NewError(code, message string) (Frame, error) {
	p, err := json.Marshal(ErrorPayload{Type: "Error", Code: code, Message: message})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Payload: p}, nil
}
