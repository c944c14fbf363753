package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/staff-store/internal/config"
	"github.com/spec-kit/staff-store/internal/domain"
	"github.com/spec-kit/staff-store/internal/repository"
	apperrors "github.com/spec-kit/staff-store/pkg/util/errorutil"
)

const lockoutKey = "loginLockout"

type lockoutState struct {
	Attempts    int       `json:"attempts"`
	LockedUntil time.Time `json:"lockedUntil"`
}

// LoginService checks admin credentials and writes the session descriptor
// that SessionAuthority later reads.
type LoginService struct {
	users   map[string]config.UserCredential
	cfg     config.LoginConfig
	session config.SessionConfig
	durable repository.KVRepository
	tab     repository.KVRepository
	logger  *zap.Logger
	now     func() time.Time
}

// NewLoginService builds the login flow over the same stores the authority reads.
func NewLoginService(cfg config.LoginConfig, sessionCfg config.SessionConfig, durable, tab repository.KVRepository, logger *zap.Logger) *LoginService {
	if logger == nil {
		logger = zap.NewNop()
	}
	users := make(map[string]config.UserCredential, len(cfg.Users))
	for _, u := range cfg.Users {
		users[strings.ToLower(u.Username)] = u
	}
	return &LoginService{
		users:   users,
		cfg:     cfg,
		session: sessionCfg,
		durable: durable,
		tab:     tab,
		logger:  logger.Named("login"),
		now:     time.Now,
	}
}

// Login authenticates and stores the descriptor: durable scope when
// rememberMe is set, tab scope otherwise.
func (s *LoginService) Login(ctx context.Context, username, password string, rememberMe bool) (*domain.Session, error) {
	now := s.now()
	state := s.loadLockout(ctx)
	if now.Before(state.LockedUntil) {
		return nil, apperrors.NewLockedOut(state.LockedUntil)
	}

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return nil, apperrors.NewValidationError("username and password are required", nil)
	}

	user, ok := s.users[username]
	if !ok || ComparePassword(user.PasswordHash, password) != nil {
		return nil, s.recordFailure(ctx, state, now, username)
	}
	s.clearLockout(ctx)

	session := domain.Session{
		Username:    user.Username,
		Name:        user.Username,
		UserType:    "admin",
		LoginTime:   now.UTC().Truncate(time.Millisecond),
		Permissions: append([]string(nil), user.Permissions...),
		RememberMe:  rememberMe,
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	target, other, scope := s.tab, s.durable, "tab"
	if rememberMe {
		target, other, scope = s.durable, s.tab, "durable"
	}
	if target == nil {
		return nil, apperrors.NewBackendUnavailable(scope+" session store", errors.New("not configured"))
	}
	if err := target.Set(ctx, s.session.DescriptorKey, raw); err != nil {
		return nil, apperrors.NewBackendUnavailable(scope+" session store", err)
	}
	if other != nil {
		if err := other.Delete(ctx, s.session.DescriptorKey); err != nil {
			s.logger.Warn("could not clear descriptor from other scope", zap.Error(err))
		}
	}

	s.logger.Info("login succeeded", zap.String("username", user.Username), zap.String("scope", scope))
	return &session, nil
}

// Logout removes the descriptor from both scopes.
func (s *LoginService) Logout(ctx context.Context) error {
	var errs []error
	for _, repo := range []repository.KVRepository{s.durable, s.tab} {
		if repo == nil {
			continue
		}
		if err := repo.Delete(ctx, s.session.DescriptorKey); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return apperrors.NewBackendUnavailable("session store", err)
	}
	return nil
}

func (s *LoginService) recordFailure(ctx context.Context, state lockoutState, now time.Time, username string) error {
	state.Attempts++
	s.logger.Warn("login failed", zap.String("username", username), zap.Int("attempts", state.Attempts))

	if s.cfg.MaxAttempts > 0 && state.Attempts >= s.cfg.MaxAttempts {
		state = lockoutState{LockedUntil: now.Add(s.cfg.Lockout())}
		s.saveLockout(ctx, state)
		return apperrors.NewLockedOut(state.LockedUntil)
	}
	s.saveLockout(ctx, state)
	return apperrors.NewAuthRequired("invalid username or password")
}

func (s *LoginService) lockoutStore() repository.KVRepository {
	if s.durable != nil {
		return s.durable
	}
	return s.tab
}

func (s *LoginService) loadLockout(ctx context.Context) lockoutState {
	var state lockoutState
	repo := s.lockoutStore()
	if repo == nil {
		return state
	}
	raw, ok, err := repo.Get(ctx, lockoutKey)
	if err != nil || !ok {
		return state
	}
	_ = json.Unmarshal(raw, &state)
	return state
}

func (s *LoginService) saveLockout(ctx context.Context, state lockoutState) {
	repo := s.lockoutStore()
	if repo == nil {
		return
	}
	raw, _ := json.Marshal(state)
	if err := repo.Set(ctx, lockoutKey, raw); err != nil {
		s.logger.Warn("could not persist lockout state", zap.Error(err))
	}
}

func (s *LoginService) clearLockout(ctx context.Context) {
	if repo := s.lockoutStore(); repo != nil {
		_ = repo.Delete(ctx, lockoutKey)
	}
}
