package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/apierr"
	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/httputil"
)

// AuthHandler serves the local onboarding surface: registration, login, token refresh, and email
// verification. It is the one HTTP-facing session issuer this repo builds for itself; every other
// event-producing surface is an external collaborator the gateway only consumes sessions from.
type AuthHandler struct {
	auth *auth.Service
	log  zerolog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *auth.Service, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, log: logger}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type mfaVerifyRequest struct {
	Ticket string `json:"ticket"`
	Code   string `json:"code"`
}

// authResultResponse builds the JSON payload for Register, Login, and VerifyMFA responses.
func authResultResponse(result *auth.AuthResult) fiber.Map {
	return fiber.Map{
		"user": fiber.Map{
			"id":             result.User.ID,
			"email":          result.User.Email,
			"username":       result.User.Username,
			"email_verified": result.User.EmailVerified,
		},
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
	}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body registerRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "Invalid request body")
	}

	result, err := h.auth.Register(c, auth.RegisterRequest{
		Email:    body.Email,
		Username: body.Username,
		Password: body.Password,
	})
	if err != nil {
		return mapAuthServiceError(c, err, h.log, "auth")
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, authResultResponse(result))
}

// Login handles POST /api/v1/auth/login. If the account has MFA enabled, the response carries a ticket
// instead of tokens; the client must follow up with VerifyMFA.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "Invalid request body")
	}

	result, err := h.auth.Login(c, auth.LoginRequest{
		Email:    body.Email,
		Password: body.Password,
		IP:       c.IP(),
	})
	if err != nil {
		return mapAuthServiceError(c, err, h.log, "auth")
	}

	if result.MFARequired {
		return httputil.Success(c, fiber.Map{
			"mfa_required": true,
			"ticket":       result.Ticket,
		})
	}

	return httputil.Success(c, authResultResponse(result.Auth))
}

// VerifyMFA handles POST /api/v1/auth/mfa/verify, completing a login that Login deferred for MFA.
func (h *AuthHandler) VerifyMFA(c fiber.Ctx) error {
	var body mfaVerifyRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "Invalid request body")
	}

	result, err := h.auth.VerifyMFA(c, body.Ticket, body.Code)
	if err != nil {
		return mapAuthServiceError(c, err, h.log, "auth")
	}

	return httputil.Success(c, authResultResponse(result))
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(c fiber.Ctx) error {
	var body refreshRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "refresh_token is required")
	}

	tokens, err := h.auth.Refresh(c, body.RefreshToken)
	if err != nil {
		return mapAuthServiceError(c, err, h.log, "auth")
	}

	return httputil.Success(c, fiber.Map{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
	})
}

// ResendVerification handles POST /api/v1/auth/verify-email/resend. Requires RequireAuth.
func (h *AuthHandler) ResendVerification(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierr.MissingAuth, "Missing user identity")
	}

	if err := h.auth.ResendVerification(c, userID); err != nil {
		return mapAuthServiceError(c, err, h.log, "auth")
	}

	return httputil.Success(c, fiber.Map{"message": "Verification email sent"})
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

// DeleteAccount handles DELETE /api/v1/auth/account. Requires RequireAuth.
func (h *AuthHandler) DeleteAccount(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierr.MissingAuth, "Missing user identity")
	}

	var body deleteAccountRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "Invalid request body")
	}
	if body.Password == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "password is required")
	}

	if err := h.auth.DeleteAccount(c, userID, body.Password); err != nil {
		return mapAuthServiceError(c, err, h.log, "auth")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// mapAuthServiceError converts internal/auth sentinel errors to the apierr taxonomy. Shared by AuthHandler
// and MFAHandler since both sit directly on top of auth.Service.
func mapAuthServiceError(c fiber.Ctx, err error, log zerolog.Logger, label string) error {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrUsernameLength),
		errors.Is(err, auth.ErrUsernameInvalidChars),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, err.Error())
	case errors.Is(err, auth.ErrDisposableEmail):
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, err.Error())
	case errors.Is(err, auth.ErrEmailAlreadyTaken), errors.Is(err, auth.ErrAccountTombstoned):
		return httputil.Fail(c, fiber.StatusConflict, apierr.BadStatic, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidMFACode),
		errors.Is(err, auth.ErrInvalidToken):
		return httputil.Fail(c, fiber.StatusUnauthorized, apierr.MissingAuth, err.Error())
	case errors.Is(err, auth.ErrRefreshTokenReused), errors.Is(err, auth.ErrRefreshTokenNotFound):
		return httputil.Fail(c, fiber.StatusUnauthorized, apierr.UnauthSession, "Refresh token has already been used")
	case errors.Is(err, auth.ErrMFARequired), errors.Is(err, auth.ErrMFANotEnabled),
		errors.Is(err, auth.ErrMFANotConfigured), errors.Is(err, auth.ErrMFAAlreadyEnabled),
		errors.Is(err, auth.ErrServerOwner):
		return httputil.Fail(c, fiber.StatusForbidden, apierr.MissingPermissions, err.Error())
	default:
		log.Error().Err(err).Str("handler", label).Msg("Unhandled auth service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierr.Internal, "An internal error occurred")
	}
}
