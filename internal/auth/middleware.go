package auth

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/apierr"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// RequireAuth returns Fiber middleware that validates a JWT Bearer token from the Authorization header and
// stores the user ID in c.Locals("userID").
func RequireAuth(secret, issuer string) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierr.MissingAuth, "Missing authorization header")
		}

		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierr.MissingAuth, "Invalid authorization format")
		}
		tokenStr := header[len(prefix):]

		claims, err := ValidateAccessToken(tokenStr, secret, issuer)
		if err != nil {
			code := apierr.UnauthSession
			message := "Invalid token"

			if errors.Is(err, jwt.ErrTokenExpired) {
				message = "Token has expired"
			}

			return httputil.Fail(c, fiber.StatusUnauthorized, code, message)
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierr.UnauthSession, "Invalid token subject")
		}

		c.Locals("userID", userID)
		return c.Next()
	}
}

// userLookup is the narrow slice of user.Repository that RequireVerifiedEmail needs.
type userLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// RequireVerifiedEmail returns Fiber middleware that blocks requests from users whose email has not been
// verified. It must run after RequireAuth so that c.Locals("userID") is already populated.
func RequireVerifiedEmail(users userLookup) fiber.Handler {
	return func(c fiber.Ctx) error {
		userID, ok := c.Locals("userID").(uuid.UUID)
		if !ok {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierr.MissingAuth, "Missing authenticated user")
		}

		u, err := users.GetByID(c.Context(), userID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return httputil.Fail(c, fiber.StatusUnauthorized, apierr.MissingAuth, "User not found")
			}
			return httputil.Fail(c, fiber.StatusInternalServerError, apierr.Internal, "Failed to load user")
		}

		if !u.EmailVerified {
			return httputil.Fail(c, fiber.StatusForbidden, apierr.MissingPermissions, "Email verification required")
		}

		return c.Next()
	}
}
