package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uncord-chat/uncord-server/internal/api"
	"github.com/uncord-chat/uncord-server/internal/apierr"
	"github.com/uncord-chat/uncord-server/internal/auditlog"
	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/authz"
	"github.com/uncord-chat/uncord-server/internal/bootstrap"
	"github.com/uncord-chat/uncord-server/internal/bus"
	"github.com/uncord-chat/uncord-server/internal/config"
	"github.com/uncord-chat/uncord-server/internal/disposable"
	"github.com/uncord-chat/uncord-server/internal/email"
	"github.com/uncord-chat/uncord-server/internal/facade"
	"github.com/uncord-chat/uncord-server/internal/gateway"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/invite"
	"github.com/uncord-chat/uncord-server/internal/member"
	"github.com/uncord-chat/uncord-server/internal/message"
	"github.com/uncord-chat/uncord-server/internal/overwrite"
	"github.com/uncord-chat/uncord-server/internal/page"
	"github.com/uncord-chat/uncord-server/internal/permission"
	"github.com/uncord-chat/uncord-server/internal/postgres"
	"github.com/uncord-chat/uncord-server/internal/presence"
	"github.com/uncord-chat/uncord-server/internal/relationship"
	"github.com/uncord-chat/uncord-server/internal/role"
	"github.com/uncord-chat/uncord-server/internal/room"
	"github.com/uncord-chat/uncord-server/internal/session"
	"github.com/uncord-chat/uncord-server/internal/thread"
	"github.com/uncord-chat/uncord-server/internal/typesense"
	"github.com/uncord-chat/uncord-server/internal/user"
	"github.com/uncord-chat/uncord-server/internal/valkey"
	"github.com/uncord-chat/uncord-server/internal/voice"
)

// Build metadata, injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const valkeyDialTimeout = 5 * time.Second

// server holds the shared dependencies used by route handlers and middleware.
type server struct {
	cfg         *config.Config
	db          *pgxpool.Pool
	rdb         *redis.Client
	authService *auth.Service
	gatewayHub  *gateway.Hub
	auditlog    *auditlog.Recorder
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting Uncord sync server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, valkeyDialTimeout)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	firstRun, err := bootstrap.IsFirstRun(ctx, db)
	if err != nil {
		return fmt.Errorf("check first run: %w", err)
	}
	if firstRun {
		log.Info().Msg("First run detected, running initialization")
		if err := bootstrap.RunFirstInit(ctx, db, cfg, log.Logger); err != nil {
			return fmt.Errorf("first-run initialization: %w", err)
		}
		log.Info().Msg("First-run initialization complete")
	}

	// Typesense collection setup is best-effort: the message-search side channel never blocks startup, it
	// only degrades search if unreachable.
	if result, err := typesense.EnsureMessagesCollection(ctx, cfg.TypesenseURL, cfg.TypesenseAPIKey); err != nil {
		log.Warn().Err(err).Msg("Typesense collection setup failed")
	} else {
		switch result {
		case typesense.ResultCreated:
			log.Info().Msg("Typesense messages collection created")
		case typesense.ResultRecreated:
			log.Warn().Msg("Typesense messages collection recreated due to schema change")
		case typesense.ResultUnchanged:
			log.Info().Msg("Typesense messages collection already exists")
		}
	}

	// Disposable-email blocklist: warmed synchronously so the cache is ready before the server starts
	// accepting registrations, then refreshed on a ticker so newly listed domains are picked up without a
	// restart.
	blocklist := disposable.NewBlocklist(cfg.DisposableEmailBlocklistURL, cfg.DisposableEmailBlocklistEnabled)
	blocklist.Prefetch(ctx)

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	go runBlocklistRefresh(subCtx, blocklist, cfg.DisposableEmailBlocklistRefreshInterval)

	userRepo := user.NewPGRepository(db, log.Logger)
	roomRepo := room.NewPGRepository(db, log.Logger)
	threadRepo := thread.NewPGRepository(db, log.Logger)
	memberRepo := member.NewPGRepository(db, log.Logger)
	roleRepo := role.NewPGRepository(db, log.Logger)
	overwriteRepo := overwrite.NewPGRepository(db, log.Logger)
	sessionRepo := session.NewPGRepository(db, log.Logger)
	messageRepo := message.NewPGRepository(db, log.Logger)
	auditlogRepo := auditlog.NewPGRepository(db, log.Logger)
	_ = invite.NewPGRepository(db, log.Logger)
	_ = relationship.NewPGRepository(db, log.Logger)

	permResolver := permission.NewResolver(roomRepo, threadRepo, memberRepo, roleRepo, overwriteRepo, userRepo, log.Logger)
	authzFilter := authz.New(permResolver, log.Logger)

	presenceStore := presence.NewStore(rdb)

	eventBus := bus.New(rdb, log.Logger)
	go runWithBackoff(subCtx, "event-bus", eventBus.Run)

	voiceClient := voice.NewClient(cfg.VoiceSFUURL, cfg.VoiceRPCTimeout, log.Logger)

	presigner, err := facade.NewPresigner(cfg.CDNBaseURL, cfg.ServerSecret, nil)
	if err != nil {
		return fmt.Errorf("create CDN presigner: %w", err)
	}
	svcFacade, err := facade.New(roomRepo, threadRepo, messageRepo, userRepo, sessionRepo, presigner)
	if err != nil {
		return fmt.Errorf("create service facade: %w", err)
	}

	gatewayHub := gateway.NewHub(cfg, eventBus, authzFilter, sessionRepo, userRepo, presenceStore, voiceClient, svcFacade, log.Logger)

	// auditRecorder wraps durable audit-log persistence around the same bus every gateway connection
	// subscribes to. The room/thread/message CRUD surface that would call Publish lives outside this repo's
	// built scope; this wiring keeps the recorder ready for it.
	auditRecorder := auditlog.NewRecorder(auditlogRepo, eventBus, func(ctx context.Context, threadID uuid.UUID) (uuid.UUID, error) {
		t, err := threadRepo.GetByID(ctx, threadID)
		if err != nil {
			return uuid.UUID{}, err
		}
		return t.RoomID, nil
	})

	var emailSender auth.Sender
	if cfg.SMTPConfigured() {
		emailClient := email.NewClient(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		if err := emailClient.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("SMTP connection test failed. Verification emails may not be delivered.")
		} else {
			log.Info().Str("host", cfg.SMTPHost).Int("port", cfg.SMTPPort).Msg("SMTP connection verified")
		}
		emailSender = emailClient
	} else {
		log.Warn().Msg("SMTP_HOST is not configured. Email verification will only work in development mode (token logged to console).")
	}

	authService, err := auth.NewService(userRepo, rdb, cfg, blocklist, emailSender, userRepo, permResolver, log.Logger)
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:   "Uncord",
		BodyLimit: cfg.BodyLimitBytes(),
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			code := apierr.Internal
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				message = fe.Message
				code = fiberStatusToAPICode(fe.Code)
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Unhandled error")
			}
			return httputil.Fail(c, status, code, message)
		},
	})

	app.Use(requestid.New())
	if cfg.LogHealthRequests {
		app.Use(httputil.RequestLogger(log.Logger))
	} else {
		app.Use(httputil.RequestLogger(log.Logger, "/api/v1/health"))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAPIRequests,
		Expiration: time.Duration(cfg.RateLimitAPIWindowSeconds) * time.Second,
	}))

	srv := &server{
		cfg:         cfg,
		db:          db,
		rdb:         rdb,
		authService: authService,
		gatewayHub:  gatewayHub,
		auditlog:    auditRecorder,
	}
	srv.registerRoutes(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		gatewayHub.Shutdown()
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *server) registerRoutes(app *fiber.App) {
	requireAuth := auth.RequireAuth(s.cfg.JWTSecret, s.cfg.ServerURL)

	// Browser-facing email verification page. Lives outside /api/v1 since users reach it by clicking a link
	// straight out of an email client, not via the JSON API.
	verifyHandler := page.NewVerifyHandler(s.authService, s.cfg.ServerName, nil, log.Logger)
	app.Get("/verify-email", limiter.New(limiter.Config{
		Max:        s.cfg.RateLimitAuthCount,
		Expiration: time.Duration(s.cfg.RateLimitAuthWindowSeconds) * time.Second,
	}), verifyHandler.VerifyEmail)

	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		if err := s.db.Ping(c.Context()); err != nil {
			return httputil.Fail(c, fiber.StatusServiceUnavailable, apierr.Transport, "database unreachable")
		}
		if err := s.rdb.Ping(c.Context()).Err(); err != nil {
			return httputil.Fail(c, fiber.StatusServiceUnavailable, apierr.Transport, "valkey unreachable")
		}
		return httputil.Success(c, fiber.Map{"status": "ok"})
	})

	authHandler := api.NewAuthHandler(s.authService, log.Logger)
	authGroup := app.Group("/api/v1/auth")
	authGroup.Use(limiter.New(limiter.Config{
		Max:        s.cfg.RateLimitAuthCount,
		Expiration: time.Duration(s.cfg.RateLimitAuthWindowSeconds) * time.Second,
	}))
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Post("/refresh", authHandler.Refresh)
	authGroup.Post("/mfa/verify", authHandler.VerifyMFA)
	authGroup.Post("/verify-email/resend", requireAuth, authHandler.ResendVerification)
	authGroup.Delete("/account", requireAuth, authHandler.DeleteAccount)

	mfaHandler := api.NewMFAHandler(s.authService, log.Logger)
	mfaGroup := app.Group("/api/v1/users/@me/mfa", requireAuth)
	mfaGroup.Post("/enable", mfaHandler.Enable)
	mfaGroup.Post("/confirm", mfaHandler.Confirm)
	mfaGroup.Post("/disable", mfaHandler.Disable)
	mfaGroup.Post("/recovery-codes", mfaHandler.RegenerateCodes)

	// Gateway WebSocket endpoint. Unauthenticated at the HTTP layer; authentication happens inside the
	// socket via the Hello/Resume handshake.
	gatewayHandler := api.NewGatewayHandler(s.gatewayHub)
	app.Get("/api/v1/gateway", gatewayHandler.Upgrade)

	// Terminal handler: Fiber v3 treats app.Use() middleware as a route match, so without this the router
	// returns a bare 200 for unmatched requests instead of 404.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// runBlocklistRefresh re-fetches the disposable-email domain list on a fixed interval so newly listed
// domains are picked up without a server restart.
func runBlocklistRefresh(ctx context.Context, blocklist *disposable.Blocklist, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			blocklist.Prefetch(ctx)
		}
	}
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when it returns a non-nil,
// non-cancelled error. It returns once fn returns nil or a context.Canceled error. The delay starts at 1
// second and doubles on each consecutive failure up to a 2-minute cap.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		err := fn(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
			Msg("Background service stopped, restarting after delay")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// fiberStatusToAPICode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the
// closest apierr code.
func fiberStatusToAPICode(status int) apierr.Code {
	switch status {
	case fiber.StatusNotFound:
		return apierr.NotFound
	case fiber.StatusUnauthorized:
		return apierr.MissingAuth
	case fiber.StatusForbidden:
		return apierr.MissingPermissions
	case fiber.StatusServiceUnavailable:
		return apierr.Transport
	default:
		if status >= 400 && status < 500 {
			return apierr.BadStatic
		}
		return apierr.Internal
	}
}
