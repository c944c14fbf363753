package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/staff-store/pkg/util/errorutil"
)

// RequireSession ensures a live session exists.
func RequireSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := SessionFromContext(c); !ok {
			return apperrors.NewAuthRequired("login required")
		}
		return c.Next()
	}
}

// RequirePermission ensures the session carries one of the allowed tags.
func RequirePermission(allowed ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, ok := SessionFromContext(c)
		if !ok {
			return apperrors.NewAuthRequired("login required")
		}
		if len(allowed) == 0 {
			return c.Next()
		}
		for _, tag := range allowed {
			if session.HasPermission(tag) {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, "insufficient permissions")
	}
}
