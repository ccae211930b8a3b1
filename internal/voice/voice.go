// Package voice forwards VoiceDispatch signalling payloads to the SFU collaborator over its RPC
// interface. The SFU itself is a separate process; this package is a thin, narrow client for the single
// call the gateway needs.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/apierr"
)

// Client posts VoiceDispatch payloads to the SFU's RPC endpoint. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a Client against the SFU's RPC endpoint (e.g. "http://localhost:4001/rpc").
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     logger.With().Str("component", "voice").Logger(),
	}
}

// dispatchRequest flattens the caller's payload alongside user_id, matching the SFU's expected body shape.
type dispatchRequest struct {
	UserID  uuid.UUID       `json:"user_id"`
	Payload json.RawMessage `json:"-"`
}

func (r dispatchRequest) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &fields); err != nil {
			return nil, fmt.Errorf("flatten voice payload: %w", err)
		}
	}
	userID, err := json.Marshal(r.UserID)
	if err != nil {
		return nil, err
	}
	fields["user_id"] = userID
	return json.Marshal(fields)
}

// Dispatch posts payload to the SFU on behalf of userID. Non-2xx responses are logged with the SFU's raw
// status and body, but the caller only ever sees a generic transport error: the SFU's internals (stack
// traces, internal hostnames) must not cross the client trust boundary.
func (c *Client) Dispatch(ctx context.Context, userID uuid.UUID, payload json.RawMessage) error {
	body, err := json.Marshal(dispatchRequest{UserID: userID, Payload: payload})
	if err != nil {
		return apierr.Wrap(apierr.Internal, "encode voice dispatch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return apierr.Wrap(apierr.Internal, "build voice dispatch request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.Transport, "SFU request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("body", string(respBody)).
			Stringer("user_id", userID).
			Msg("SFU rejected voice dispatch")
		return apierr.New(apierr.Transport, "voice dispatch failed")
	}

	return nil
}
