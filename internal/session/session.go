// Package session implements the persisted credential a connection binds to: a long-lived record distinct
// from any single gateway connection, tracking its own authorization level independent of transport state.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the session package.
var (
	ErrNotFound      = errors.New("session not found")
	ErrNameTooLong   = errors.New("session name must not exceed 128 characters")
	ErrTokenNotFound = errors.New("token does not match any session")
)

// Status is the authorization level of a session, escalating from Unauthorized through Authorized to the
// short-lived Sudo tier required for sensitive operations (MFA changes, account deletion).
type Status string

const (
	StatusUnauthorized Status = "unauthorized"
	StatusAuthorized   Status = "authorized"
	StatusSudo         Status = "sudo"
)

const maxNameLength = 128

// Session is the persisted credential record. UserID is nil until the session is bound to a user via
// authorization; Token is the bearer secret the gateway resolves on Hello and is never stored in the clear.
type Session struct {
	ID         uuid.UUID
	UserID     *uuid.UUID
	Status     Status
	Name       string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// CreateParams groups the inputs for issuing a new session.
type CreateParams struct {
	UserID *uuid.UUID
	Status Status
	Name   string
}

// ValidateName checks that a session name does not exceed the maximum length. An empty name is valid; it
// means the client did not supply one.
func ValidateName(name string) error {
	if len(name) > maxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// GenerateToken produces a new cryptographically random bearer token, returned alongside its hash for
// storage. Callers persist only the hash; the plaintext is handed to the client once and never again.
func GenerateToken() (token string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("crypto/rand: %w", err)
	}
	token = hex.EncodeToString(buf)
	return token, HashToken(token), nil
}

// HashToken returns the hex-encoded SHA-256 digest of a bearer token. Tokens are generated with 256 bits of
// entropy, so a fast unsalted hash is sufficient to look one up by value without storing it in the clear.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Repository defines the data-access contract for session operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Session, string, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByToken(ctx context.Context, token string) (*Session, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Session, error)
	Touch(ctx context.Context, id uuid.UUID) error
	Authorize(ctx context.Context, id, userID uuid.UUID) (*Session, error)
	Elevate(ctx context.Context, id uuid.UUID) (*Session, error)
	Rename(ctx context.Context, id uuid.UUID, name string) (*Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
