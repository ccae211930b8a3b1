// Package bootstrap seeds the database on first run: an owner account, a default room with its @everyone
// role, a #general thread, and a #welcome thread when OnboardingRequireRules is set.
package bootstrap

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/capability"
	"github.com/uncord-chat/uncord-server/internal/config"
	"github.com/uncord-chat/uncord-server/internal/role"
	"github.com/uncord-chat/uncord-server/internal/room"
	"github.com/uncord-chat/uncord-server/internal/thread"
)

var sanitizeUsername = regexp.MustCompile(`[^a-zA-Z0-9_.]`)

// DefaultEveryonePermissions is the capability set assigned to the @everyone role during first-run
// initialization: enough to participate in the default room, nothing that lets a brand-new member affect
// anyone else's.
var DefaultEveryonePermissions = capability.Of(
	capability.View,
	capability.ViewThreads,
	capability.SendMessages,
	capability.ReadMessageHistory,
	capability.AddReactions,
	capability.CreateInvites,
	capability.ChangeNicknames,
	capability.VoiceConnect,
	capability.VoiceSpeak,
)

const (
	welcomeThreadName = "welcome"
	generalThreadName = "general"
)

// IsFirstRun reports whether the rooms table has no rows, the signal that first-run initialization has not
// yet run.
func IsFirstRun(ctx context.Context, db *pgxpool.Pool) (bool, error) {
	var count int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM rooms").Scan(&count); err != nil {
		return false, fmt.Errorf("check first run: %w", err)
	}
	return count == 0, nil
}

// RunFirstInit seeds the database with the owner account, the default room, its @everyone role permissions,
// a #general thread, and a #welcome thread when cfg.OnboardingRequireRules is set.
func RunFirstInit(ctx context.Context, db *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.InitOwnerEmail == "" || cfg.InitOwnerPassword == "" {
		return fmt.Errorf("INIT_OWNER_EMAIL and INIT_OWNER_PASSWORD must be set for first-run initialization")
	}

	ownerEmail, _, err := auth.ValidateEmail(cfg.InitOwnerEmail)
	if err != nil {
		return fmt.Errorf("invalid INIT_OWNER_EMAIL: %w", err)
	}

	hash, err := auth.HashPassword(
		cfg.InitOwnerPassword,
		cfg.Argon2Memory,
		cfg.Argon2Iterations,
		cfg.Argon2Parallelism,
		cfg.Argon2SaltLength,
		cfg.Argon2KeyLength,
	)
	if err != nil {
		return fmt.Errorf("hash owner password: %w", err)
	}

	username := ownerEmail
	if idx := strings.Index(username, "@"); idx > 0 {
		username = username[:idx]
	}
	username = sanitizeUsername.ReplaceAllString(username, "")
	if err := auth.ValidateUsername(username); err != nil {
		return fmt.Errorf("derived owner username %q from email is invalid: %w", username, err)
	}

	var ownerID uuid.UUID
	err = db.QueryRow(ctx,
		`INSERT INTO users (email, username, password_hash, email_verified, system_admin)
		 VALUES ($1, $2, $3, true, true)
		 RETURNING id`,
		ownerEmail, username, hash,
	).Scan(&ownerID)
	if err != nil {
		return fmt.Errorf("insert owner user: %w", err)
	}

	rooms := room.NewPGRepository(db, logger)
	roles := role.NewPGRepository(db, logger)
	threads := thread.NewPGRepository(db, logger)

	rm, err := rooms.Create(ctx, room.CreateParams{
		Name:        cfg.ServerName,
		Description: cfg.ServerDescription,
		OwnerID:     ownerID,
	})
	if err != nil {
		return fmt.Errorf("create default room: %w", err)
	}

	defaultRoles, err := roles.ListByRoom(ctx, rm.ID)
	if err != nil {
		return fmt.Errorf("list default room roles: %w", err)
	}
	var everyoneID uuid.UUID
	for _, ro := range defaultRoles {
		if ro.IsDefault {
			everyoneID = ro.ID
			break
		}
	}
	if everyoneID == uuid.Nil {
		return fmt.Errorf("default room %s has no @everyone role", rm.ID)
	}
	perms := DefaultEveryonePermissions
	if _, err := roles.Update(ctx, everyoneID, role.UpdateParams{Permissions: &perms}); err != nil {
		return fmt.Errorf("set @everyone permissions: %w", err)
	}

	if _, err := threads.Create(ctx, thread.CreateParams{
		RoomID: rm.ID,
		Name:   generalThreadName,
		Kind:   "chat",
	}, maxBootstrapThreads); err != nil {
		return fmt.Errorf("create #general thread: %w", err)
	}

	if cfg.OnboardingRequireRules {
		if _, err := threads.Create(ctx, thread.CreateParams{
			RoomID: rm.ID,
			Name:   welcomeThreadName,
			Kind:   "chat",
			Topic:  "Start here.",
		}, maxBootstrapThreads); err != nil {
			return fmt.Errorf("create #welcome thread: %w", err)
		}
	}

	return nil
}

// maxBootstrapThreads is well above anything first-run seeding creates; it exists only because
// thread.Repository.Create enforces a per-room cap shared with every other caller.
const maxBootstrapThreads = 1000
