package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/apierr"
	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/httputil"
)

// MFAHandler serves authenticated MFA management endpoints under /api/v1/users/@me/mfa/.
type MFAHandler struct {
	auth *auth.Service
	log  zerolog.Logger
}

// NewMFAHandler creates a new MFA handler.
func NewMFAHandler(svc *auth.Service, logger zerolog.Logger) *MFAHandler {
	return &MFAHandler{auth: svc, log: logger}
}

type mfaEnableRequest struct {
	Password string `json:"password"`
}

type mfaConfirmRequest struct {
	Code string `json:"code"`
}

type mfaDisableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

type mfaRegenerateCodesRequest struct {
	Password string `json:"password"`
}

// Enable handles POST /api/v1/users/@me/mfa/enable.
func (h *MFAHandler) Enable(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierr.MissingAuth, "Missing user identity")
	}

	var body mfaEnableRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "Invalid request body")
	}
	if body.Password == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "password is required")
	}

	result, err := h.auth.BeginMFASetup(c, userID, body.Password)
	if err != nil {
		return h.mapMFAError(c, err)
	}

	return httputil.Success(c, fiber.Map{
		"secret": result.Secret,
		"uri":    result.URI,
	})
}

// Confirm handles POST /api/v1/users/@me/mfa/confirm.
func (h *MFAHandler) Confirm(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierr.MissingAuth, "Missing user identity")
	}

	var body mfaConfirmRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "Invalid request body")
	}
	if body.Code == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "code is required")
	}

	codes, err := h.auth.ConfirmMFASetup(c, userID, body.Code)
	if err != nil {
		return h.mapMFAError(c, err)
	}

	return httputil.Success(c, fiber.Map{"recovery_codes": codes})
}

// Disable handles POST /api/v1/users/@me/mfa/disable.
func (h *MFAHandler) Disable(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierr.MissingAuth, "Missing user identity")
	}

	var body mfaDisableRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "Invalid request body")
	}
	if body.Password == "" || body.Code == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "password and code are required")
	}

	if err := h.auth.DisableMFA(c, userID, body.Password, body.Code); err != nil {
		return h.mapMFAError(c, err)
	}

	return httputil.Success(c, fiber.Map{"message": "MFA has been disabled"})
}

// RegenerateCodes handles POST /api/v1/users/@me/mfa/recovery-codes.
func (h *MFAHandler) RegenerateCodes(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(uuid.UUID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierr.MissingAuth, "Missing user identity")
	}

	var body mfaRegenerateCodesRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "Invalid request body")
	}
	if body.Password == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierr.BadStatic, "password is required")
	}

	codes, err := h.auth.RegenerateRecoveryCodes(c, userID, body.Password)
	if err != nil {
		return h.mapMFAError(c, err)
	}

	return httputil.Success(c, fiber.Map{"recovery_codes": codes})
}

// mapMFAError converts MFA-layer errors to appropriate HTTP responses.
func (h *MFAHandler) mapMFAError(c fiber.Ctx, err error) error {
	return mapAuthServiceError(c, err, h.log, "mfa")
}
