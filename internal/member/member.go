// Package member implements room membership: join status, nicknames, timeouts, bans, and role assignment
// scoped to a single room. A user with no room_members row for a room is not a member of it at all.
package member

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the member package.
var (
	ErrNotFound       = errors.New("member not found")
	ErrBanNotFound    = errors.New("ban not found")
	ErrNicknameLength = errors.New("nickname must be between 1 and 32 characters")
	ErrAlreadyMember  = errors.New("user is already a member")
	ErrAlreadyBanned  = errors.New("user is already banned")
	ErrEveryoneRole   = errors.New("the @everyone role cannot be manually assigned or removed")
	ErrTimeoutInPast  = errors.New("timeout must be in the future")
	ErrNotPending     = errors.New("member is not in pending status")
)

// Status values for the room_members.status column.
const (
	StatusActive   = "active"
	StatusPending  = "pending"
	StatusTimedOut = "timed_out"
)

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Member holds the fields read from the room_members table for a single (room, user) pair.
type Member struct {
	RoomID       uuid.UUID  `json:"room_id"`
	UserID       uuid.UUID  `json:"user_id"`
	Nickname     *string    `json:"nickname,omitempty"`
	Status       string     `json:"status"`
	TimeoutUntil *time.Time `json:"timeout_until,omitempty"`
	JoinedAt     time.Time  `json:"joined_at"`
}

// MemberWithProfile combines membership fields with public user data and role assignments. Produced by
// queries that join across room_members, users, and room_member_roles.
type MemberWithProfile struct {
	RoomID       uuid.UUID   `json:"room_id"`
	UserID       uuid.UUID   `json:"user_id"`
	Username     string      `json:"username"`
	DisplayName  *string     `json:"display_name,omitempty"`
	AvatarKey    *string     `json:"avatar_key,omitempty"`
	Nickname     *string     `json:"nickname,omitempty"`
	Status       string      `json:"status"`
	TimeoutUntil *time.Time  `json:"timeout_until,omitempty"`
	JoinedAt     time.Time   `json:"joined_at"`
	RoleIDs      []uuid.UUID `json:"role_ids"`
}

// BanRecord holds a ban row joined with the banned user's public profile.
type BanRecord struct {
	RoomID      uuid.UUID
	UserID      uuid.UUID
	Username    string
	DisplayName *string
	AvatarKey   *string
	Reason      string
	BannedBy    uuid.UUID
	CreatedAt   time.Time
}

// ValidateNickname checks that a non-nil nickname is between 1 and 32 runes after trimming whitespace. A
// nil pointer means "clear the nickname." On success the pointed-to value is replaced with the trimmed
// result.
func ValidateNickname(nickname *string) error {
	if nickname == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*nickname)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 32 {
		return ErrNicknameLength
	}
	*nickname = trimmed
	return nil
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit when the input
// is zero or negative.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Repository defines the data-access contract for room membership operations. Every method is implicitly
// scoped to one room.
type Repository interface {
	// Listing
	List(ctx context.Context, roomID uuid.UUID, after *uuid.UUID, limit int) ([]MemberWithProfile, error)
	GetByUserID(ctx context.Context, roomID, userID uuid.UUID) (*MemberWithProfile, error)
	GetByUserIDAnyStatus(ctx context.Context, roomID, userID uuid.UUID) (*MemberWithProfile, error)
	GetStatus(ctx context.Context, roomID, userID uuid.UUID) (string, error)

	// Mutation
	UpdateNickname(ctx context.Context, roomID, userID uuid.UUID, nickname *string) (*MemberWithProfile, error)
	Delete(ctx context.Context, roomID, userID uuid.UUID) error

	// Timeout
	SetTimeout(ctx context.Context, roomID, userID uuid.UUID, until time.Time) (*MemberWithProfile, error)
	ClearTimeout(ctx context.Context, roomID, userID uuid.UUID) (*MemberWithProfile, error)

	// Bans
	Ban(ctx context.Context, roomID, userID, bannedBy uuid.UUID, reason string) error
	Unban(ctx context.Context, roomID, userID uuid.UUID) error
	ListBans(ctx context.Context, roomID uuid.UUID, after *uuid.UUID, limit int) ([]BanRecord, error)
	IsBanned(ctx context.Context, roomID, userID uuid.UUID) (bool, error)

	// Roles
	AssignRole(ctx context.Context, roomID, userID, roleID uuid.UUID) error
	RemoveRole(ctx context.Context, roomID, userID, roleID uuid.UUID) error

	// Join flow (e.g. via invite redemption)
	CreatePending(ctx context.Context, roomID, userID uuid.UUID) (*MemberWithProfile, error)
	Activate(ctx context.Context, roomID, userID uuid.UUID, autoRoles []uuid.UUID) (*MemberWithProfile, error)
}
