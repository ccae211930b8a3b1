package auditlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "id, room_id, user_id, reason, payload, payload_prev, created_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed audit log repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger.With().Str("component", "auditlog.repository").Logger()}
}

// Append inserts a new entry. An empty Reason is stored as NULL, and a NULL reason reads back as an empty
// string, so "no reason given" and an empty reason are not told apart.
func (r *PGRepository) Append(ctx context.Context, params AppendParams) (*Entry, error) {
	var reason *string
	if params.Reason != "" {
		reason = &params.Reason
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO audit_logs (id, room_id, user_id, reason, payload, payload_prev)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		 RETURNING `+selectColumns,
		params.RoomID, params.UserID, reason, params.Payload, params.PayloadPrev,
	)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("append audit log entry: %w", err)
	}
	return entry, nil
}

// ListByRoom returns a room's audit log, newest first, keyset-paginated on created_at.
func (r *PGRepository) ListByRoom(ctx context.Context, roomID uuid.UUID, before *time.Time, limit int) ([]Entry, error) {
	limit = ClampLimit(limit)

	cutoff := time.Now()
	if before != nil {
		cutoff = *before
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM audit_logs
		 WHERE room_id = $1 AND created_at < $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		roomID, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return entries, nil
}

// rowScanner abstracts pgx.Row/pgx.Rows so scanEntry works for both QueryRow and Query call sites.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e      Entry
		reason *string
	)
	err := row.Scan(&e.ID, &e.RoomID, &e.UserID, &reason, &e.Payload, &e.PayloadPrev, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan audit log entry: %w", err)
	}
	if reason != nil {
		e.Reason = *reason
	}
	return &e, nil
}
