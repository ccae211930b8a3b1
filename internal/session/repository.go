package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "id, user_id, status, name, created_at, last_seen_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed session repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger.With().Str("component", "session.repository").Logger()}
}

// Create issues a new session with a freshly generated bearer token. The plaintext token is returned once
// and is not retrievable afterward; only its hash is persisted.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Session, string, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return nil, "", err
	}

	sess, err := scanSession(r.db.QueryRow(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, status, name)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+selectColumns,
		uuid.New(), params.UserID, hash, params.Status, params.Name,
	))
	if err != nil {
		return nil, "", fmt.Errorf("insert session: %w", err)
	}
	return sess, token, nil
}

// GetByID returns the session with the given id.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM sessions WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query session by id: %w", err)
	}
	return sess, nil
}

// GetByToken resolves a bearer token to its session by comparing the token's hash. This is the lookup the
// gateway performs on every Hello frame.
func (r *PGRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM sessions WHERE token_hash = $1", HashToken(token)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("query session by token: %w", err)
	}
	return sess, nil
}

// ListByUser returns every session bound to the given user, most recently seen first.
func (r *PGRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+" FROM sessions WHERE user_id = $1 ORDER BY last_seen_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions by user: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Touch refreshes a session's last_seen_at to the current time.
func (r *PGRepository) Touch(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "UPDATE sessions SET last_seen_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Authorize binds a session to a user and raises its status to Authorized. Used when an unauthorized
// session (freshly issued, pre-login) completes a login flow.
func (r *PGRepository) Authorize(ctx context.Context, id, userID uuid.UUID) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(ctx,
		`UPDATE sessions SET user_id = $1, status = $2 WHERE id = $3
		 RETURNING `+selectColumns, userID, StatusAuthorized, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("authorize session: %w", err)
	}
	return sess, nil
}

// Elevate raises an already-authorized session to Sudo status, granting access to sensitive operations
// that require fresh re-authentication.
func (r *PGRepository) Elevate(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(ctx,
		`UPDATE sessions SET status = $1 WHERE id = $2 AND status = $3
		 RETURNING `+selectColumns, StatusSudo, id, StatusAuthorized))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("elevate session: %w", err)
	}
	return sess, nil
}

// Rename updates a session's display name.
func (r *PGRepository) Rename(ctx context.Context, id uuid.UUID, name string) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(ctx,
		`UPDATE sessions SET name = $1 WHERE id = $2
		 RETURNING `+selectColumns, name, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("rename session: %w", err)
	}
	return sess, nil
}

// Delete removes a session permanently.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanSession scans a single row into a *Session.
func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Status, &sess.Name, &sess.CreatedAt, &sess.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
