package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ClientType tags the inner payload of every client→server frame.
type ClientType string

const (
	ClientHello         ClientType = "Hello"
	ClientStatus        ClientType = "Status"
	ClientPong          ClientType = "Pong"
	ClientVoiceDispatch ClientType = "VoiceDispatch"
)

// ClientFrame is the minimal shape every inbound frame satisfies, enough to dispatch on Type before
// unmarshalling the rest of the payload into its concrete type.
type ClientFrame struct {
	Type ClientType `json:"type"`
}

// ResumeInfo identifies the prior connection and last-seen sequence a Hello is attempting to resume.
type ResumeInfo struct {
	Conn uuid.UUID `json:"conn"`
	Seq  uint64    `json:"seq"`
}

// HelloPayload is the first frame a client must send after connecting. Token authenticates the session;
// Resume, when present, asks the gateway to replay missed events onto an existing connection identity
// instead of starting a fresh one. Status sets the initial presence, defaulting to online when empty.
type HelloPayload struct {
	Type   ClientType  `json:"type"`
	Token  string      `json:"token"`
	Resume *ResumeInfo `json:"resume,omitempty"`
	Status string      `json:"status,omitempty"`
}

// StatusPayload updates the caller's presence after Hello.
type StatusPayload struct {
	Type   ClientType `json:"type"`
	Status string     `json:"status"`
}

// PongPayload answers a server Ping; it carries no fields beyond its type tag.
type PongPayload struct {
	Type ClientType `json:"type"`
}

// VoiceDispatchPayload forwards an opaque signalling payload to the SFU on behalf of a target user.
type VoiceDispatchPayload struct {
	Type    ClientType      `json:"type"`
	UserID  uuid.UUID       `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// ParseClientFrame dispatches raw on its "type" field and returns the concrete payload: *HelloPayload,
// *StatusPayload, *PongPayload, or *VoiceDispatchPayload.
func ParseClientFrame(raw json.RawMessage) (any, error) {
	var head ClientFrame
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode client frame: %w", err)
	}

	switch head.Type {
	case ClientHello:
		var p HelloPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode hello frame: %w", err)
		}
		return &p, nil
	case ClientStatus:
		var p StatusPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode status frame: %w", err)
		}
		return &p, nil
	case ClientPong:
		var p PongPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode pong frame: %w", err)
		}
		return &p, nil
	case ClientVoiceDispatch:
		var p VoiceDispatchPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode voice dispatch frame: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown client frame type %q", head.Type)
	}
}
