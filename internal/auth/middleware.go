package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/staff-store/internal/domain"
)

const sessionKey = "auth_session"

// SessionMiddleware resolves the current session once per request and
// stores it in the request locals. It never rejects; route guards decide.
type SessionMiddleware struct {
	authority *SessionAuthority
}

// NewSessionMiddleware constructs middleware.
func NewSessionMiddleware(authority *SessionAuthority) *SessionMiddleware {
	return &SessionMiddleware{authority: authority}
}

// Handle loads the session into the request.
func (m *SessionMiddleware) Handle(c *fiber.Ctx) error {
	if m.authority == nil {
		return c.Next()
	}
	if session, ok := m.authority.Current(c.UserContext()); ok {
		c.Locals(sessionKey, session)
	}
	return c.Next()
}

// SessionFromContext retrieves the session resolved by SessionMiddleware.
func SessionFromContext(c *fiber.Ctx) (*domain.Session, bool) {
	val := c.Locals(sessionKey)
	if val == nil {
		return nil, false
	}
	session, ok := val.(*domain.Session)
	return session, ok
}
