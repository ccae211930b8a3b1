package role

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/capability"
	"github.com/uncord-chat/uncord-server/internal/postgres"
)

// selectColumns lists the columns returned by queries that produce a *Role, in the exact order scanRole
// expects.
const selectColumns = "id, room_id, name, colour, position, hoist, permissions_lo, permissions_hi, is_default, created_at, updated_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed role repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger.With().Str("component", "role.repository").Logger()}
}

// ListByRoom returns all roles in a room ordered by position.
func (r *PGRepository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]Role, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM roles WHERE room_id = $1 ORDER BY position", selectColumns), roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

// GetByID returns the role matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM roles WHERE id = $1", selectColumns), id,
	)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query role by id: %w", err)
	}
	return role, nil
}

// Create inserts a new role inside a transaction that enforces the per-room maximum count and auto-assigns
// a position.
func (r *PGRepository) Create(ctx context.Context, params CreateParams, maxRoles int) (*Role, error) {
	var role *Role
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM roles WHERE room_id = $1", params.RoomID).Scan(&count); err != nil {
			return fmt.Errorf("count roles: %w", err)
		}
		if count >= maxRoles {
			return ErrMaxRolesReached
		}

		lo, hi := params.Permissions.Uint64Pair()
		row := tx.QueryRow(ctx,
			fmt.Sprintf(
				`INSERT INTO roles (id, room_id, name, colour, hoist, permissions_lo, permissions_hi, position)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE((SELECT MAX(position) FROM roles WHERE room_id = $2), -1) + 1)
				 RETURNING %s`, selectColumns),
			uuid.New(), params.RoomID, params.Name, params.Colour, params.Hoist, int64(lo), int64(hi),
		)
		var err error
		role, err = scanRole(row)
		if err != nil {
			return fmt.Errorf("insert role: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// Update applies the non-nil fields in params to the role row and returns the updated role.
//
// Safety: the query is built dynamically, but every SET clause and named arg key is a hardcoded string
// literal. No caller-supplied value enters the SQL structure; all values flow through pgx named parameter
// binding.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Role, error) {
	var setClauses []string
	namedArgs := pgx.NamedArgs{"id": id}

	if params.Name != nil {
		setClauses = append(setClauses, "name = @name")
		namedArgs["name"] = *params.Name
	}
	if params.Colour != nil {
		setClauses = append(setClauses, "colour = @colour")
		namedArgs["colour"] = *params.Colour
	}
	if params.Position != nil {
		setClauses = append(setClauses, "position = @position")
		namedArgs["position"] = *params.Position
	}
	if params.Permissions != nil {
		lo, hi := params.Permissions.Uint64Pair()
		setClauses = append(setClauses, "permissions_lo = @permissions_lo", "permissions_hi = @permissions_hi")
		namedArgs["permissions_lo"] = int64(lo)
		namedArgs["permissions_hi"] = int64(hi)
	}
	if params.Hoist != nil {
		setClauses = append(setClauses, "hoist = @hoist")
		namedArgs["hoist"] = *params.Hoist
	}

	// No fields to update. Return the current row without issuing an UPDATE. Update never sets updated_at
	// itself, and no database trigger does either.
	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	query := "UPDATE roles SET " + strings.Join(setClauses, ", ") +
		" WHERE id = @id RETURNING " + selectColumns

	row := r.db.QueryRow(ctx, query, namedArgs)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update role: %w", err)
	}
	return role, nil
}

// Delete removes the role with the given ID. The @everyone default role cannot be deleted.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM roles WHERE id = $1 AND NOT is_default", id)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var isDefault bool
		err := r.db.QueryRow(ctx, "SELECT is_default FROM roles WHERE id = $1", id).Scan(&isDefault)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check role existence: %w", err)
		}
		return ErrEveryoneImmutable
	}
	return nil
}

// RolesForMember returns every role assigned to the member in the room, plus the room's @everyone role,
// which every joined member always holds regardless of explicit assignment (spec §4.D step 2).
func (r *PGRepository) RolesForMember(ctx context.Context, roomID, userID uuid.UUID) ([]Role, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(
			`SELECT %s FROM roles
			 WHERE room_id = $1 AND (is_default OR id IN (
			     SELECT role_id FROM room_member_roles WHERE room_id = $1 AND user_id = $2
			 ))`, selectColumns),
		roomID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query roles for member: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles for member: %w", err)
	}
	return roles, nil
}

// HighestPosition returns the lowest position number among the user's explicitly assigned roles in the
// room (lower position = higher rank). @everyone is excluded: every member holds it, so including it would
// make all users appear to hold position 0 and defeat hierarchy enforcement. math.MaxInt is returned when
// the user holds no explicit roles.
func (r *PGRepository) HighestPosition(ctx context.Context, roomID, userID uuid.UUID) (int, error) {
	var pos *int
	err := r.db.QueryRow(ctx,
		`SELECT MIN(r.position) FROM roles r
		 JOIN room_member_roles mr ON r.id = mr.role_id
		 WHERE mr.room_id = $1 AND mr.user_id = $2 AND r.is_default = false`,
		roomID, userID,
	).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("query highest role position: %w", err)
	}
	if pos == nil {
		return math.MaxInt, nil
	}
	return *pos, nil
}

func scanRole(row pgx.Row) (*Role, error) {
	var role Role
	var lo, hi int64
	err := row.Scan(
		&role.ID, &role.RoomID, &role.Name, &role.Colour, &role.Position, &role.Hoist,
		&lo, &hi, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan role: %w", err)
	}
	role.Permissions = capability.FromUint64Pair(uint64(lo), uint64(hi))
	return &role, nil
}
