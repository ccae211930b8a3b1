package relationship

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/postgres"
)

const selectColumns = "user_id, other_user_id, kind, note, petname, ignore_forever, ignore_until, created_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed relationship repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger.With().Str("component", "relationship.repository").Logger()}
}

// Put idempotently upserts the full relationship row, replacing every field.
func (r *PGRepository) Put(ctx context.Context, userID, otherID uuid.UUID, rel Relationship) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO relationships (user_id, other_user_id, kind, note, petname, ignore_forever, ignore_until)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, other_user_id) DO UPDATE SET
		   kind = excluded.kind,
		   note = excluded.note,
		   petname = excluded.petname,
		   ignore_forever = excluded.ignore_forever,
		   ignore_until = excluded.ignore_until`,
		userID, otherID, rel.Kind, rel.Note, rel.Petname, rel.IgnoreForever, rel.IgnoreUntil,
	)
	if err != nil {
		return fmt.Errorf("upsert relationship: %w", err)
	}
	return nil
}

// Edit applies a partial patch to the relationship row, locking it for the duration of the update so
// concurrent edits to disjoint fields don't race. The row is created with zero values first if absent.
func (r *PGRepository) Edit(ctx context.Context, userID, otherID uuid.UUID, patch Patch) (*Relationship, error) {
	var result *Relationship
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		existing, err := scanRelationship(tx.QueryRow(ctx,
			"SELECT "+selectColumns+" FROM relationships WHERE user_id = $1 AND other_user_id = $2 FOR UPDATE",
			userID, otherID,
		))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock relationship: %w", err)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			existing = &Relationship{UserID: userID, OtherUserID: otherID}
		}

		applyPatch(existing, patch)

		row := tx.QueryRow(ctx,
			`INSERT INTO relationships (user_id, other_user_id, kind, note, petname, ignore_forever, ignore_until)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (user_id, other_user_id) DO UPDATE SET
			   kind = excluded.kind,
			   note = excluded.note,
			   petname = excluded.petname,
			   ignore_forever = excluded.ignore_forever,
			   ignore_until = excluded.ignore_until
			 RETURNING `+selectColumns,
			userID, otherID, existing.Kind, existing.Note, existing.Petname, existing.IgnoreForever, existing.IgnoreUntil,
		)
		updated, err := scanRelationship(row)
		if err != nil {
			return fmt.Errorf("upsert edited relationship: %w", err)
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyPatch mutates rel in place according to the non-nil/Clear* fields of patch.
func applyPatch(rel *Relationship, patch Patch) {
	switch {
	case patch.ClearKind:
		rel.Kind = nil
	case patch.Kind != nil:
		rel.Kind = patch.Kind
	}
	switch {
	case patch.ClearNote:
		rel.Note = nil
	case patch.Note != nil:
		rel.Note = patch.Note
	}
	switch {
	case patch.ClearPetname:
		rel.Petname = nil
	case patch.Petname != nil:
		rel.Petname = patch.Petname
	}
	switch {
	case patch.ClearIgnore:
		rel.IgnoreForever = false
		rel.IgnoreUntil = nil
	default:
		if patch.IgnoreForever != nil {
			rel.IgnoreForever = *patch.IgnoreForever
		}
		if patch.IgnoreUntil != nil {
			rel.IgnoreUntil = patch.IgnoreUntil
		}
	}
}

// Get returns the relationship row for (userID, otherID).
func (r *PGRepository) Get(ctx context.Context, userID, otherID uuid.UUID) (*Relationship, error) {
	rel, err := scanRelationship(r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM relationships WHERE user_id = $1 AND other_user_id = $2", userID, otherID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query relationship: %w", err)
	}
	return rel, nil
}

// Delete removes the relationship row for (userID, otherID).
func (r *PGRepository) Delete(ctx context.Context, userID, otherID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM relationships WHERE user_id = $1 AND other_user_id = $2", userID, otherID)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every relationship userID has with others, using keyset pagination over other_user_id.
func (r *PGRepository) List(ctx context.Context, userID uuid.UUID, after *uuid.UUID, limit int) ([]Relationship, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = r.db.Query(ctx,
			"SELECT "+selectColumns+" FROM relationships WHERE user_id = $1 ORDER BY other_user_id LIMIT $2",
			userID, limit)
	} else {
		rows, err = r.db.Query(ctx,
			"SELECT "+selectColumns+" FROM relationships WHERE user_id = $1 AND other_user_id > $2 ORDER BY other_user_id LIMIT $3",
			userID, *after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var relationships []Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		relationships = append(relationships, *rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return relationships, nil
}

// scanRelationship scans a single row into a *Relationship.
func scanRelationship(row pgx.Row) (*Relationship, error) {
	var rel Relationship
	err := row.Scan(
		&rel.UserID, &rel.OtherUserID, &rel.Kind, &rel.Note, &rel.Petname,
		&rel.IgnoreForever, &rel.IgnoreUntil, &rel.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rel, nil
}
