package room

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/postgres"
)

const selectColumns = "id, name, description, icon_url, owner_id, created_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed room repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger.With().Str("component", "room.repository").Logger()}
}

// List returns rooms ordered by id, keyset-paginated after the given id.
func (r *PGRepository) List(ctx context.Context, after *uuid.UUID, limit int) ([]Room, error) {
	var rows pgx.Rows
	var err error
	if after != nil {
		rows, err = r.db.Query(ctx,
			fmt.Sprintf("SELECT %s FROM rooms WHERE deleted_at IS NULL AND id > $1 ORDER BY id LIMIT $2", selectColumns),
			*after, limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			fmt.Sprintf("SELECT %s FROM rooms WHERE deleted_at IS NULL ORDER BY id LIMIT $1", selectColumns), limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

// GetByID returns the room matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM rooms WHERE id = $1 AND deleted_at IS NULL", selectColumns), id,
	)
	rm, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query room by id: %w", err)
	}
	return rm, nil
}

// Create inserts a new room, seeding the @everyone default role in the same transaction.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Room, error) {
	var rm *Room
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		id := uuid.New()
		row := tx.QueryRow(ctx,
			fmt.Sprintf(
				`INSERT INTO rooms (id, name, description, owner_id) VALUES ($1, $2, $3, $4) RETURNING %s`,
				selectColumns,
			),
			id, params.Name, params.Description, params.OwnerID,
		)
		var err error
		rm, err = scanRoom(row)
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO roles (id, room_id, name, is_default) VALUES ($1, $2, '@everyone', true)`,
			uuid.New(), rm.ID,
		); err != nil {
			return fmt.Errorf("insert default role: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO room_members (room_id, user_id, status) VALUES ($1, $2, 'active')`,
			rm.ID, params.OwnerID,
		); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return rm, nil
}

// Update applies the non-nil fields in params to the room row and returns the updated room.
//
// Safety: the query is built dynamically, but every SET clause and named arg key is a hardcoded string
// literal. No caller-supplied value enters the SQL structure; all values flow through pgx named parameter
// binding.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Room, error) {
	var setClauses []string
	namedArgs := pgx.NamedArgs{"id": id}

	if params.Name != nil {
		setClauses = append(setClauses, "name = @name")
		namedArgs["name"] = *params.Name
	}
	if params.Description != nil {
		setClauses = append(setClauses, "description = @description")
		namedArgs["description"] = *params.Description
	}
	if params.IconURL != nil {
		setClauses = append(setClauses, "icon_url = @icon_url")
		namedArgs["icon_url"] = *params.IconURL
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	query := "UPDATE rooms SET " + strings.Join(setClauses, ", ") +
		" WHERE id = @id AND deleted_at IS NULL RETURNING " + selectColumns

	row := r.db.QueryRow(ctx, query, namedArgs)
	rm, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update room: %w", err)
	}
	return rm, nil
}

// Delete soft-deletes the room with the given ID.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "UPDATE rooms SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RoomsForUser lists every room id the user is a joined member of; pending memberships are excluded.
func (r *PGRepository) RoomsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT room_id FROM room_members WHERE user_id = $1 AND status != 'pending'`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rooms for user: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms for user: %w", err)
	}
	return ids, nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var rm Room
	err := row.Scan(&rm.ID, &rm.Name, &rm.Description, &rm.IconURL, &rm.OwnerID, &rm.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan room: %w", err)
	}
	return &rm, nil
}
