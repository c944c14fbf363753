package auth

import (
	"crypto/sha256"

	"github.com/spec-kit/staff-store/internal/config"
	"github.com/spec-kit/staff-store/internal/domain"
	"github.com/spec-kit/staff-store/internal/envelope"
)

// KeyDeriver turns session identity into the symmetric store key.
//
// The key is sha256(lower(username) "|" loginTime "|" salt). Every context
// holding the same descriptor derives the same key without exchanging it, so
// the key is only as secret as the descriptor itself: this obfuscates stored
// data, it does not protect it from code running in the same context.
type KeyDeriver struct {
	salt string
	tag  string
}

// NewKeyDeriver builds a deriver from session configuration.
func NewKeyDeriver(cfg config.SessionConfig) *KeyDeriver {
	return &KeyDeriver{salt: cfg.KeySalt, tag: cfg.CapabilityTag}
}

// Derive returns nil, nil for an absent session or one lacking the capability.
func (d *KeyDeriver) Derive(session *domain.Session) (*envelope.Key, error) {
	if session == nil || !session.HasPermission(d.tag) {
		return nil, nil
	}
	return envelope.NewKey(d.Material(*session))
}

// Material is the raw 32-byte key for session.
func (d *KeyDeriver) Material(session domain.Session) []byte {
	input := session.NormalizedUsername() + "|" + session.LoginTimeISO() + "|" + d.salt
	sum := sha256.Sum256([]byte(input))
	return sum[:]
}
