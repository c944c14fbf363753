package dto

import "time"

// LoginRequest payload for POST /auth/login.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// SessionResponse describes the active session.
type SessionResponse struct {
	Username    string    `json:"username"`
	LoginTime   time.Time `json:"loginTime"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Permissions []string  `json:"permissions"`
	RememberMe  bool      `json:"rememberMe"`
	Capable     bool      `json:"capable"`
}
