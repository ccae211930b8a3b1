package thread

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

const selectColumns = "id, room_id, parent_thread_id, name, kind, topic, position, archived, created_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed thread repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger.With().Str("component", "thread.repository").Logger()}
}

// ListByRoom returns every thread in the given room ordered by position then creation time.
func (r *PGRepository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]Thread, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM threads WHERE room_id = $1 AND deleted_at IS NULL ORDER BY position, created_at", selectColumns),
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return threads, nil
}

// GetByID returns the thread matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Thread, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM threads WHERE id = $1 AND deleted_at IS NULL", selectColumns), id,
	)
	t, err := scanThread(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query thread by id: %w", err)
	}
	return t, nil
}

// GetReadState returns userID's read position in threadID. The query always returns exactly one row,
// whether or not userID has a thread_members row for this thread yet: a user who has never acknowledged
// anything in the thread reads as unread if the thread has any message at all, with a nil
// LastReadMessageID.
func (r *PGRepository) GetReadState(ctx context.Context, threadID, userID uuid.UUID) (*ReadState, error) {
	var state ReadState
	err := r.db.QueryRow(ctx, `
		SELECT
			tm.last_read_message_id,
			EXISTS (
				SELECT 1 FROM messages m
				WHERE m.thread_id = $1 AND m.deleted_at IS NULL
				  AND (tm.last_read_message_id IS NULL OR m.created_at > lr.created_at)
			)
		FROM (SELECT $2::uuid AS user_id) u
		LEFT JOIN thread_members tm ON tm.thread_id = $1 AND tm.user_id = u.user_id
		LEFT JOIN messages lr ON lr.id = tm.last_read_message_id`,
		threadID, userID,
	).Scan(&state.LastReadMessageID, &state.IsUnread)
	if err != nil {
		return nil, fmt.Errorf("query thread read state: %w", err)
	}
	return &state, nil
}

// Create inserts a new thread inside a transaction that enforces the per-room maximum count and validates
// the parent thread reference.
func (r *PGRepository) Create(ctx context.Context, params CreateParams, maxThreads int) (*Thread, error) {
	var t *Thread
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM threads WHERE room_id = $1 AND deleted_at IS NULL", params.RoomID,
		).Scan(&count); err != nil {
			return fmt.Errorf("count threads: %w", err)
		}
		if count >= maxThreads {
			return ErrMaxThreadsReached
		}

		if params.ParentThreadID != nil {
			var exists bool
			err := tx.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM threads WHERE id = $1 AND room_id = $2 AND deleted_at IS NULL)",
				*params.ParentThreadID, params.RoomID,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check parent thread exists: %w", err)
			}
			if !exists {
				return ErrParentNotFound
			}
		}

		id := uuid.New()
		row := tx.QueryRow(ctx,
			fmt.Sprintf(
				`INSERT INTO threads (id, room_id, parent_thread_id, name, kind, topic, position)
				 VALUES ($1, $2, $3, $4, $5, $6, COALESCE((SELECT MAX(position) FROM threads WHERE room_id = $2), -1) + 1)
				 RETURNING %s`, selectColumns),
			id, params.RoomID, params.ParentThreadID, params.Name, params.Kind, params.Topic,
		)
		var err error
		t, err = scanThread(row)
		if err != nil {
			return fmt.Errorf("insert thread: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Update applies the non-nil fields in params to the thread row and returns the updated thread.
//
// Safety: the query is built dynamically, but every SET clause and named arg key is a hardcoded string
// literal. No caller-supplied value enters the SQL structure; all values flow through pgx named parameter
// binding.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Thread, error) {
	var setClauses []string
	namedArgs := pgx.NamedArgs{"id": id}

	if params.Name != nil {
		setClauses = append(setClauses, "name = @name")
		namedArgs["name"] = *params.Name
	}
	if params.Topic != nil {
		setClauses = append(setClauses, "topic = @topic")
		namedArgs["topic"] = *params.Topic
	}
	if params.Position != nil {
		setClauses = append(setClauses, "position = @position")
		namedArgs["position"] = *params.Position
	}
	if params.Archived != nil {
		setClauses = append(setClauses, "archived = @archived")
		namedArgs["archived"] = *params.Archived
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	query := "UPDATE threads SET " + strings.Join(setClauses, ", ") +
		" WHERE id = @id AND deleted_at IS NULL RETURNING " + selectColumns

	row := r.db.QueryRow(ctx, query, namedArgs)
	t, err := scanThread(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update thread: %w", err)
	}
	return t, nil
}

// Delete soft-deletes the thread with the given ID. Database foreign keys cascade permission overwrites.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "UPDATE threads SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanThread(row pgx.Row) (*Thread, error) {
	var t Thread
	err := row.Scan(&t.ID, &t.RoomID, &t.ParentThreadID, &t.Name, &t.Kind, &t.Topic, &t.Position, &t.Archived, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan thread: %w", err)
	}
	return &t, nil
}
