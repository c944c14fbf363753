package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// PermissionStaffManagement gates encrypted writes of the staff collection.
const PermissionStaffManagement = "staff-management"

// LoginTimeLayout is the millisecond ISO-8601 form the login flow writes.
const LoginTimeLayout = "2006-01-02T15:04:05.000Z"

// Session is the stored descriptor written by the login flow.
type Session struct {
	Username    string    `json:"username"`
	Name        string    `json:"name,omitempty"`
	UserType    string    `json:"userType,omitempty"`
	LoginTime   time.Time `json:"loginTime"`
	Permissions []string  `json:"permissions"`
	RememberMe  bool      `json:"rememberMe"`

	// loginTimeRaw is loginTime exactly as the descriptor spelled it.
	loginTimeRaw string
}

type sessionJSON Session

// UnmarshalJSON keeps the descriptor's loginTime text alongside the parsed time.
func (s *Session) UnmarshalJSON(data []byte) error {
	var raw struct {
		LoginTime json.RawMessage `json:"loginTime"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out sessionJSON
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*s = Session(out)
	s.loginTimeRaw = ""
	if len(raw.LoginTime) > 0 {
		var text string
		if err := json.Unmarshal(raw.LoginTime, &text); err == nil {
			s.loginTimeRaw = text
		}
	}
	return nil
}

// MarshalJSON writes loginTime in LoginTimeLayout unless the session came
// from a descriptor, whose spelling is kept.
func (s Session) MarshalJSON() ([]byte, error) {
	out := struct {
		sessionJSON
		LoginTime string `json:"loginTime"`
	}{sessionJSON: sessionJSON(s), LoginTime: s.LoginTimeISO()}
	return json.Marshal(out)
}

// NormalizedUsername is the case-insensitive identity.
func (s Session) NormalizedUsername() string {
	return strings.ToLower(strings.TrimSpace(s.Username))
}

// LoginTimeISO is the loginTime text key material is derived from: the
// descriptor's own spelling when there is one, otherwise LoginTime in UTC
// with millisecond precision.
func (s Session) LoginTimeISO() string {
	if s.loginTimeRaw != "" {
		return s.loginTimeRaw
	}
	return s.LoginTime.UTC().Format(LoginTimeLayout)
}

// HasPermission reports whether the capability set contains tag.
func (s Session) HasPermission(tag string) bool {
	for _, p := range s.Permissions {
		if p == tag {
			return true
		}
	}
	return false
}

// ExpiredAt reports whether the session is older than ttl at now.
func (s Session) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if s.LoginTime.IsZero() {
		return true
	}
	return now.Sub(s.LoginTime) > ttl
}
