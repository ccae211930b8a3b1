package member

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/postgres"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed member repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger.With().Str("component", "member.repository").Logger()}
}

// memberQuery is the shared SELECT used by List and GetByUserID. It joins room_members with users and
// aggregates role IDs from room_member_roles. Pending members are excluded: they have not completed the
// join flow and should not appear in member listings or be targetable by moderation actions.
const memberQuery = `SELECT m.room_id, m.user_id, u.username, u.display_name, u.avatar_key,
       m.nickname, m.status, m.timeout_until, m.joined_at,
       COALESCE(array_agg(mr.role_id) FILTER (WHERE mr.role_id IS NOT NULL), '{}') AS role_ids
FROM room_members m
JOIN users u ON u.id = m.user_id
LEFT JOIN room_member_roles mr ON mr.room_id = m.room_id AND mr.user_id = m.user_id
WHERE m.status != '` + StatusPending + `'`

// memberQueryAnyStatus is identical to memberQuery but includes members in any status, including pending.
// Used by CreatePending and Activate, which need to return the member profile regardless of join state.
const memberQueryAnyStatus = `SELECT m.room_id, m.user_id, u.username, u.display_name, u.avatar_key,
       m.nickname, m.status, m.timeout_until, m.joined_at,
       COALESCE(array_agg(mr.role_id) FILTER (WHERE mr.role_id IS NOT NULL), '{}') AS role_ids
FROM room_members m
JOIN users u ON u.id = m.user_id
LEFT JOIN room_member_roles mr ON mr.room_id = m.room_id AND mr.user_id = m.user_id
WHERE m.room_id = $1`

const groupBy = ` GROUP BY m.room_id, m.user_id, u.username, u.display_name, u.avatar_key,
         m.nickname, m.status, m.timeout_until, m.joined_at`

// List returns members of a room ordered by (joined_at, user_id) using keyset pagination. The cursor is
// the user_id from the last item on the previous page.
func (r *PGRepository) List(ctx context.Context, roomID uuid.UUID, after *uuid.UUID, limit int) ([]MemberWithProfile, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = r.db.Query(ctx,
			memberQuery+` AND m.room_id = $1`+groupBy+`
ORDER BY m.joined_at, m.user_id
LIMIT $2`, roomID, limit)
	} else {
		rows, err = r.db.Query(ctx,
			memberQuery+` AND m.room_id = $1 AND (m.joined_at, m.user_id) > (
      SELECT m2.joined_at, m2.user_id FROM room_members m2 WHERE m2.room_id = $1 AND m2.user_id = $2
  )`+groupBy+`
ORDER BY m.joined_at, m.user_id
LIMIT $3`, roomID, *after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []MemberWithProfile
	for rows.Next() {
		m, err := scanMemberWithProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// GetByUserID returns a single active (non-pending) member by user ID.
func (r *PGRepository) GetByUserID(ctx context.Context, roomID, userID uuid.UUID) (*MemberWithProfile, error) {
	row := r.db.QueryRow(ctx,
		memberQuery+` AND m.room_id = $1 AND m.user_id = $2`+groupBy, roomID, userID)

	m, err := scanMemberWithProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query member by user id: %w", err)
	}
	return m, nil
}

// GetByUserIDAnyStatus returns a member regardless of status, including pending.
func (r *PGRepository) GetByUserIDAnyStatus(ctx context.Context, roomID, userID uuid.UUID) (*MemberWithProfile, error) {
	return r.getByUserIDAnyStatus(ctx, roomID, userID)
}

// GetStatus returns the status column for a member.
func (r *PGRepository) GetStatus(ctx context.Context, roomID, userID uuid.UUID) (string, error) {
	var status string
	err := r.db.QueryRow(ctx,
		"SELECT status FROM room_members WHERE room_id = $1 AND user_id = $2", roomID, userID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query member status: %w", err)
	}
	return status, nil
}

// UpdateNickname sets or clears a member's nickname and returns the updated profile.
func (r *PGRepository) UpdateNickname(ctx context.Context, roomID, userID uuid.UUID, nickname *string) (*MemberWithProfile, error) {
	tag, err := r.db.Exec(ctx,
		"UPDATE room_members SET nickname = $1 WHERE room_id = $2 AND user_id = $3", nickname, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("update nickname: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByUserID(ctx, roomID, userID)
}

// Delete removes a member record. room_member_roles rows cascade automatically.
func (r *PGRepository) Delete(ctx context.Context, roomID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM room_members WHERE room_id = $1 AND user_id = $2", roomID, userID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTimeout applies a timeout to a member and returns the updated profile.
func (r *PGRepository) SetTimeout(ctx context.Context, roomID, userID uuid.UUID, until time.Time) (*MemberWithProfile, error) {
	tag, err := r.db.Exec(ctx,
		"UPDATE room_members SET status = $1, timeout_until = $2 WHERE room_id = $3 AND user_id = $4",
		StatusTimedOut, until, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("set timeout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByUserID(ctx, roomID, userID)
}

// ClearTimeout removes a member's timeout and returns the updated profile.
func (r *PGRepository) ClearTimeout(ctx context.Context, roomID, userID uuid.UUID) (*MemberWithProfile, error) {
	tag, err := r.db.Exec(ctx,
		"UPDATE room_members SET status = $1, timeout_until = NULL WHERE room_id = $2 AND user_id = $3",
		StatusActive, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("clear timeout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByUserID(ctx, roomID, userID)
}

// Ban inserts a ban record and removes the member in a single transaction. Returns ErrAlreadyBanned if a
// ban already exists for the user in the room.
func (r *PGRepository) Ban(ctx context.Context, roomID, userID, bannedBy uuid.UUID, reason string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			"INSERT INTO room_bans (room_id, user_id, reason, banned_by) VALUES ($1, $2, $3, $4)",
			roomID, userID, reason, bannedBy)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrAlreadyBanned
			}
			return fmt.Errorf("insert ban: %w", err)
		}

		_, err = tx.Exec(ctx, "DELETE FROM room_members WHERE room_id = $1 AND user_id = $2", roomID, userID)
		if err != nil {
			return fmt.Errorf("remove member on ban: %w", err)
		}
		return nil
	})
}

// Unban removes a ban record. Returns ErrBanNotFound if no ban exists.
func (r *PGRepository) Unban(ctx context.Context, roomID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM room_bans WHERE room_id = $1 AND user_id = $2", roomID, userID)
	if err != nil {
		return fmt.Errorf("delete ban: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBanNotFound
	}
	return nil
}

// ListBans returns one page of at most limit ban records for a room joined with the banned user's public
// profile, ordered by creation time descending. The cursor is the user_id from the last item on the previous
// page.
func (r *PGRepository) ListBans(ctx context.Context, roomID uuid.UUID, after *uuid.UUID, limit int) ([]BanRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = r.db.Query(ctx,
			`SELECT b.room_id, b.user_id, u.username, u.display_name, u.avatar_key,
			        b.reason, b.banned_by, b.banned_at
			 FROM room_bans b
			 JOIN users u ON u.id = b.user_id
			 WHERE b.room_id = $1
			 ORDER BY b.banned_at DESC
			 LIMIT $2`, roomID, limit)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT b.room_id, b.user_id, u.username, u.display_name, u.avatar_key,
			        b.reason, b.banned_by, b.banned_at
			 FROM room_bans b
			 JOIN users u ON u.id = b.user_id
			 WHERE b.room_id = $1 AND b.banned_at < (
			     SELECT b2.banned_at FROM room_bans b2 WHERE b2.room_id = $1 AND b2.user_id = $2
			 )
			 ORDER BY b.banned_at DESC
			 LIMIT $3`, roomID, *after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query bans: %w", err)
	}
	defer rows.Close()

	var bans []BanRecord
	for rows.Next() {
		var b BanRecord
		if err := rows.Scan(&b.RoomID, &b.UserID, &b.Username, &b.DisplayName, &b.AvatarKey,
			&b.Reason, &b.BannedBy, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		bans = append(bans, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}
	return bans, nil
}

// IsBanned checks whether a ban record exists for the given user in the room.
func (r *PGRepository) IsBanned(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM room_bans WHERE room_id = $1 AND user_id = $2)", roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ban: %w", err)
	}
	return exists, nil
}

// AssignRole inserts a room_member_roles record. Returns ErrEveryoneRole if roleID is the room's @everyone
// role, which every member always holds implicitly and cannot be separately assigned.
func (r *PGRepository) AssignRole(ctx context.Context, roomID, userID, roleID uuid.UUID) error {
	var isDefault bool
	if err := r.db.QueryRow(ctx, "SELECT is_default FROM roles WHERE id = $1", roleID).Scan(&isDefault); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("check role is_default: %w", err)
	}
	if isDefault {
		return ErrEveryoneRole
	}

	_, err := r.db.Exec(ctx,
		"INSERT INTO room_member_roles (room_id, user_id, role_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		roomID, userID, roleID)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// RemoveRole deletes a room_member_roles record. Returns ErrNotFound if the user did not hold the role.
func (r *PGRepository) RemoveRole(ctx context.Context, roomID, userID, roleID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM room_member_roles WHERE room_id = $1 AND user_id = $2 AND role_id = $3",
		roomID, userID, roleID)
	if err != nil {
		return fmt.Errorf("remove role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePending inserts a member with pending status and returns the full profile. Returns ErrAlreadyMember
// if the user already has a membership record in the room.
func (r *PGRepository) CreatePending(ctx context.Context, roomID, userID uuid.UUID) (*MemberWithProfile, error) {
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			"INSERT INTO room_members (room_id, user_id, status) VALUES ($1, $2, $3)",
			roomID, userID, StatusPending)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrAlreadyMember
			}
			return fmt.Errorf("insert pending member: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.getByUserIDAnyStatus(ctx, roomID, userID)
}

// Activate transitions a pending member to active status, assigns auto-roles, and returns the updated
// profile. Returns ErrNotPending if the member is not in pending status.
func (r *PGRepository) Activate(ctx context.Context, roomID, userID uuid.UUID, autoRoles []uuid.UUID) (*MemberWithProfile, error) {
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"UPDATE room_members SET status = $1 WHERE room_id = $2 AND user_id = $3 AND status = $4",
			StatusActive, roomID, userID, StatusPending)
		if err != nil {
			return fmt.Errorf("activate member: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotPending
		}

		for _, roleID := range autoRoles {
			_, err := tx.Exec(ctx,
				"INSERT INTO room_member_roles (room_id, user_id, role_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
				roomID, userID, roleID)
			if err != nil {
				return fmt.Errorf("assign auto-role: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.getByUserIDAnyStatus(ctx, roomID, userID)
}

// getByUserIDAnyStatus returns a member profile regardless of status, including pending members.
func (r *PGRepository) getByUserIDAnyStatus(ctx context.Context, roomID, userID uuid.UUID) (*MemberWithProfile, error) {
	row := r.db.QueryRow(ctx, memberQueryAnyStatus+` AND m.user_id = $2`+groupBy, roomID, userID)

	m, err := scanMemberWithProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query member by user id (any status): %w", err)
	}
	return m, nil
}

// scanMemberWithProfile scans a row into a MemberWithProfile.
func scanMemberWithProfile(row pgx.Row) (*MemberWithProfile, error) {
	var m MemberWithProfile
	err := row.Scan(
		&m.RoomID, &m.UserID, &m.Username, &m.DisplayName, &m.AvatarKey,
		&m.Nickname, &m.Status, &m.TimeoutUntil, &m.JoinedAt,
		&m.RoleIDs,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
