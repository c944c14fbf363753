package auth

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/staff-store/internal/config"
	"github.com/spec-kit/staff-store/internal/domain"
	"github.com/spec-kit/staff-store/internal/events"
	"github.com/spec-kit/staff-store/internal/repository"
)

// SessionAuthority classifies the caller from the stored session descriptor.
type SessionAuthority struct {
	cfg     config.SessionConfig
	durable repository.KVRepository
	tab     repository.KVRepository
	bus     events.Bus
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	notified string // last descriptor session-expired was published for
}

// NewSessionAuthority wires the descriptor stores. Either store may be nil.
func NewSessionAuthority(cfg config.SessionConfig, durable, tab repository.KVRepository, bus events.Bus, logger *zap.Logger) *SessionAuthority {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionAuthority{
		cfg:     cfg,
		durable: durable,
		tab:     tab,
		bus:     bus,
		logger:  logger.Named("session"),
		now:     time.Now,
	}
}

// Current returns the live session. The durable store is consulted first and
// the first descriptor found decides: a malformed or expired one makes the
// session absent, is removed from its store and publishes session-expired
// once.
func (a *SessionAuthority) Current(ctx context.Context) (*domain.Session, bool) {
	raw, scope, found := a.lookup(ctx)
	if !found {
		return nil, false
	}

	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil || session.Username == "" {
		a.logger.Warn("malformed session descriptor", zap.String("scope", scope.name), zap.Error(err))
		a.expire(ctx, scope, raw)
		return nil, false
	}
	if session.ExpiredAt(a.now(), a.cfg.TTL()) {
		a.logger.Info("session expired",
			zap.String("username", session.NormalizedUsername()),
			zap.Time("login_time", session.LoginTime))
		a.expire(ctx, scope, raw)
		return nil, false
	}
	return &session, true
}

// Capable reports whether session may perform encrypted staff writes.
func (a *SessionAuthority) Capable(session *domain.Session) bool {
	return session != nil && session.HasPermission(a.cfg.CapabilityTag)
}

// CurrentCapable is Current restricted to capable sessions.
func (a *SessionAuthority) CurrentCapable(ctx context.Context) (*domain.Session, bool) {
	session, ok := a.Current(ctx)
	if !ok || !a.Capable(session) {
		return nil, false
	}
	return session, true
}

type sessionScope struct {
	name string
	repo repository.KVRepository
}

func (a *SessionAuthority) lookup(ctx context.Context) ([]byte, sessionScope, bool) {
	for _, scope := range []sessionScope{{"durable", a.durable}, {"tab", a.tab}} {
		if scope.repo == nil {
			continue
		}
		raw, ok, err := scope.repo.Get(ctx, a.cfg.DescriptorKey)
		if err != nil {
			a.logger.Warn("session store unavailable", zap.String("scope", scope.name), zap.Error(err))
			continue
		}
		if ok {
			return raw, scope, true
		}
	}
	return nil, sessionScope{}, false
}

// expire clears a dead descriptor and publishes session-expired unless raw was
// already reported. Local handlers run before Publish returns and may call
// Current again.
func (a *SessionAuthority) expire(ctx context.Context, scope sessionScope, raw []byte) {
	if err := scope.repo.Delete(ctx, a.cfg.DescriptorKey); err != nil {
		a.logger.Warn("clearing dead session descriptor failed", zap.String("scope", scope.name), zap.Error(err))
	}

	a.mu.Lock()
	if a.notified == string(raw) {
		a.mu.Unlock()
		return
	}
	a.notified = string(raw)
	a.mu.Unlock()

	if a.bus == nil {
		return
	}
	if err := a.bus.Publish(ctx, events.SessionExpired()); err != nil {
		a.logger.Debug("session-expired broadcast failed", zap.Error(err))
	}
}
