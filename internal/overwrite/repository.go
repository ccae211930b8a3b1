package overwrite

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/capability"
)

const selectColumns = "id, thread_id, target_type, target_id, allow_lo, allow_hi, deny_lo, deny_hi, position"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed overwrite repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger.With().Str("component", "overwrite.repository").Logger()}
}

// ListByThread returns every overwrite on the given thread ordered by position.
func (r *PGRepository) ListByThread(ctx context.Context, threadID uuid.UUID) ([]Overwrite, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM overwrites WHERE thread_id = $1 ORDER BY position", selectColumns), threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("query overwrites: %w", err)
	}
	defer rows.Close()

	var out []Overwrite
	for rows.Next() {
		o, err := scanOverwrite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overwrites: %w", err)
	}
	return out, nil
}

// Set creates or replaces the overwrite for the given (thread, target) pair.
func (r *PGRepository) Set(ctx context.Context, params SetParams) (*Overwrite, error) {
	allowLo, allowHi := params.Allow.Uint64Pair()
	denyLo, denyHi := params.Deny.Uint64Pair()

	row := r.db.QueryRow(ctx,
		fmt.Sprintf(
			`INSERT INTO overwrites (id, thread_id, target_type, target_id, allow_lo, allow_hi, deny_lo, deny_hi,
			                         position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			         COALESCE((SELECT MAX(position) FROM overwrites WHERE thread_id = $2), -1) + 1)
			 ON CONFLICT (thread_id, target_type, target_id)
			 DO UPDATE SET allow_lo = EXCLUDED.allow_lo, allow_hi = EXCLUDED.allow_hi,
			               deny_lo = EXCLUDED.deny_lo, deny_hi = EXCLUDED.deny_hi
			 RETURNING %s`, selectColumns),
		uuid.New(), params.ThreadID, params.TargetType, params.TargetID,
		int64(allowLo), int64(allowHi), int64(denyLo), int64(denyHi),
	)
	o, err := scanOverwrite(row)
	if err != nil {
		return nil, fmt.Errorf("upsert overwrite: %w", err)
	}
	return o, nil
}

// Delete removes the overwrite for the given (thread, target) pair.
func (r *PGRepository) Delete(ctx context.Context, threadID uuid.UUID, targetType TargetType, targetID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM overwrites WHERE thread_id = $1 AND target_type = $2 AND target_id = $3",
		threadID, targetType, targetID,
	)
	if err != nil {
		return fmt.Errorf("delete overwrite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOverwrite(row pgx.Row) (*Overwrite, error) {
	var o Overwrite
	var allowLo, allowHi, denyLo, denyHi int64
	err := row.Scan(&o.ID, &o.ThreadID, &o.TargetType, &o.TargetID, &allowLo, &allowHi, &denyLo, &denyHi, &o.Position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan overwrite: %w", err)
	}
	o.Allow = capability.FromUint64Pair(uint64(allowLo), uint64(allowHi))
	o.Deny = capability.FromUint64Pair(uint64(denyLo), uint64(denyHi))
	return &o, nil
}
