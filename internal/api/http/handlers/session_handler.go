package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/staff-store/internal/api/dto"
	"github.com/spec-kit/staff-store/internal/auth"
	"github.com/spec-kit/staff-store/internal/domain"
)

// SessionHandler exposes the admin login flow.
type SessionHandler struct {
	login     *auth.LoginService
	authority *auth.SessionAuthority
	ttl       time.Duration
}

// NewSessionHandler constructs handler.
func NewSessionHandler(login *auth.LoginService, authority *auth.SessionAuthority, ttl time.Duration) *SessionHandler {
	return &SessionHandler{login: login, authority: authority, ttl: ttl}
}

// Login handles POST /auth/login.
func (h *SessionHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return fiber.NewError(http.StatusBadRequest, "username and password required")
	}

	session, err := h.login.Login(c.UserContext(), req.Username, req.Password, req.RememberMe)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.describe(session)})
}

// Logout handles POST /auth/logout.
func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	if err := h.login.Logout(c.UserContext()); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Current handles GET /auth/session.
func (h *SessionHandler) Current(c *fiber.Ctx) error {
	session, ok := auth.SessionFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "no active session")
	}
	return c.JSON(fiber.Map{"data": h.describe(session)})
}

func (h *SessionHandler) describe(session *domain.Session) dto.SessionResponse {
	return dto.SessionResponse{
		Username:    session.NormalizedUsername(),
		LoginTime:   session.LoginTime,
		ExpiresAt:   session.LoginTime.Add(h.ttl),
		Permissions: session.Permissions,
		RememberMe:  session.RememberMe,
		Capable:     h.authority.Capable(session),
	}
}
