package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/postgres"
)

const selectColumns = `m.id, m.thread_id, m.author_id, m.content, m.attachments, m.version, m.edited_at, m.reply_to_id,
m.pinned, m.created_at,
u.username, u.display_name, u.avatar_key`

const baseJoin = "FROM messages m JOIN users u ON u.id = m.author_id"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger.With().Str("component", "message.repository").Logger()}
}

// Create inserts a new message and returns it with joined author information. When reply_to_id is set, the
// referenced message must exist, be in the same thread, and not be deleted.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Message, error) {
	var msg *Message
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if params.ReplyToID != nil {
			var exists bool
			err := tx.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND thread_id = $2 AND deleted_at IS NULL)",
				*params.ReplyToID, params.ThreadID,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check reply target: %w", err)
			}
			if !exists {
				return ErrReplyNotFound
			}
		}

		attachments := params.Attachments
		if attachments == nil {
			attachments = []Attachment{}
		}
		attachmentsJSON, err := json.Marshal(attachments)
		if err != nil {
			return fmt.Errorf("marshal attachments: %w", err)
		}

		id := uuid.New()
		row := tx.QueryRow(ctx,
			`INSERT INTO messages (id, thread_id, author_id, content, attachments, reply_to_id)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING created_at`,
			id, params.ThreadID, params.AuthorID, params.Content, attachmentsJSON, params.ReplyToID,
		)

		m := Message{
			ID:          id,
			ThreadID:    params.ThreadID,
			AuthorID:    params.AuthorID,
			Content:     params.Content,
			Attachments: attachments,
			Version:     1,
			ReplyToID:   params.ReplyToID,
		}
		if err := row.Scan(&m.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		err = tx.QueryRow(ctx,
			"SELECT username, display_name, avatar_key FROM users WHERE id = $1", params.AuthorID,
		).Scan(&m.AuthorUsername, &m.AuthorDisplayName, &m.AuthorAvatarKey)
		if err != nil {
			return fmt.Errorf("fetch author info: %w", err)
		}

		msg = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetByID returns a single non-deleted message by ID with joined author information.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s %s WHERE m.id = $1 AND m.deleted_at IS NULL", selectColumns, baseJoin), id,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by id: %w", err)
	}
	return msg, nil
}

// List returns non-deleted messages in a thread ordered newest first. When before is non-nil, only messages
// created before the referenced message are returned (cursor-based pagination).
func (r *PGRepository) List(ctx context.Context, threadID uuid.UUID, before *uuid.UUID, limit int) ([]Message, error) {
	var rows pgx.Rows
	var err error

	if before != nil {
		rows, err = r.db.Query(ctx, fmt.Sprintf(
			`SELECT %s %s
			 WHERE m.thread_id = $1 AND m.deleted_at IS NULL
			   AND (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = $2)
			 ORDER BY m.created_at DESC, m.id DESC
			 LIMIT $3`, selectColumns, baseJoin),
			threadID, *before, limit,
		)
	} else {
		rows, err = r.db.Query(ctx, fmt.Sprintf(
			`SELECT %s %s
			 WHERE m.thread_id = $1 AND m.deleted_at IS NULL
			 ORDER BY m.created_at DESC, m.id DESC
			 LIMIT $2`, selectColumns, baseJoin),
			threadID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// Update sets new content on a non-deleted message, bumps its version, and marks it as edited. Returns the
// updated message with joined author information.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, content string) (*Message, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE messages SET content = $1, version = version + 1, edited_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL
		 RETURNING id`, content, id,
	)

	var updatedID uuid.UUID
	if err := row.Scan(&updatedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update message: %w", err)
	}

	return r.GetByID(ctx, updatedID)
}

// SetPinned sets or clears the pinned flag on a non-deleted message.
func (r *PGRepository) SetPinned(ctx context.Context, id uuid.UUID, pinned bool) (*Message, error) {
	tag, err := r.db.Exec(ctx,
		"UPDATE messages SET pinned = $1 WHERE id = $2 AND deleted_at IS NULL", pinned, id,
	)
	if err != nil {
		return nil, fmt.Errorf("set pinned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// SoftDelete marks a message as deleted. Returns ErrNotFound if the message does not exist or is already
// deleted.
func (r *PGRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE messages SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id,
	)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteBulk marks every given message as deleted in one statement and returns the IDs actually deleted
// (already-deleted or nonexistent IDs are silently skipped).
func (r *PGRepository) SoftDeleteBulk(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE messages SET deleted_at = NOW()
		 WHERE id = ANY($1) AND deleted_at IS NULL
		 RETURNING id`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("bulk soft delete messages: %w", err)
	}
	defer rows.Close()

	var deleted []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted message id: %w", err)
		}
		deleted = append(deleted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted message ids: %w", err)
	}
	return deleted, nil
}

// scanMessage scans a single row into a Message struct.
func scanMessage(row pgx.Row) (*Message, error) {
	var msg Message
	var attachmentsJSON []byte
	err := row.Scan(
		&msg.ID, &msg.ThreadID, &msg.AuthorID, &msg.Content, &attachmentsJSON, &msg.Version, &msg.EditedAt, &msg.ReplyToID,
		&msg.Pinned, &msg.CreatedAt,
		&msg.AuthorUsername, &msg.AuthorDisplayName, &msg.AuthorAvatarKey,
	)
	if err != nil {
		return nil, err
	}
	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return &msg, nil
}
