package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/staff-store/internal/config"
	"github.com/spec-kit/staff-store/internal/domain"
	"github.com/spec-kit/staff-store/internal/events"
	"github.com/spec-kit/staff-store/internal/repository"
	apperrors "github.com/spec-kit/staff-store/pkg/util/errorutil"
)

func sessionConfig() config.SessionConfig {
	return config.SessionConfig{
		TTLHours:      8,
		CapabilityTag: domain.PermissionStaffManagement,
		KeySalt:       "P1ST-SECURE-2025",
		DescriptorKey: "staffSession",
	}
}

func storeDescriptor(t *testing.T, repo repository.KVRepository, s domain.Session) {
	t.Helper()
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Set(context.Background(), "staffSession", raw); err != nil {
		t.Fatal(err)
	}
}

func expiryCounter(bus *events.ChangeBus) *int {
	n := 0
	bus.Subscribe(func(_ context.Context, e events.Event) {
		if e.Type == events.EventSessionExpired {
			n++
		}
	})
	return &n
}

func TestKeyDeriverDeterministic(t *testing.T) {
	d := NewKeyDeriver(sessionConfig())
	login := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	a := domain.Session{Username: "Ashin97", LoginTime: login}
	b := domain.Session{Username: "ashin97", LoginTime: login}

	if hex.EncodeToString(d.Material(a)) != hex.EncodeToString(d.Material(b)) {
		t.Fatal("username case changed the key")
	}
	c := domain.Session{Username: "ashin97", LoginTime: login.Add(time.Millisecond)}
	if hex.EncodeToString(d.Material(a)) == hex.EncodeToString(d.Material(c)) {
		t.Fatal("login time did not change the key")
	}
	if len(d.Material(a)) != 32 {
		t.Errorf("key length = %d", len(d.Material(a)))
	}
}

func TestKeyDeriverRequiresCapability(t *testing.T) {
	d := NewKeyDeriver(sessionConfig())
	if key, err := d.Derive(nil); key != nil || err != nil {
		t.Errorf("Derive(nil) = %v, %v", key, err)
	}
	viewer := &domain.Session{Username: "viewer", LoginTime: time.Now(), Permissions: []string{"read"}}
	if key, _ := d.Derive(viewer); key != nil {
		t.Error("session without staff-management should not get a key")
	}
	admin := &domain.Session{Username: "admin", LoginTime: time.Now(), Permissions: []string{domain.PermissionStaffManagement}}
	if key, err := d.Derive(admin); key == nil || err != nil {
		t.Errorf("Derive(admin) = %v, %v", key, err)
	}
}

func TestSessionAuthorityScopes(t *testing.T) {
	durable, tab := repository.NewMemoryKVRepository(), repository.NewMemoryKVRepository()
	bus := events.NewChangeBus(nil, zap.NewNop())
	authority := NewSessionAuthority(sessionConfig(), durable, tab, bus, zap.NewNop())
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	authority.now = func() time.Time { return now }

	if _, ok := authority.Current(context.Background()); ok {
		t.Fatal("no descriptor should be absent")
	}

	storeDescriptor(t, tab, domain.Session{Username: "tabuser", LoginTime: now.Add(-time.Hour), Permissions: []string{domain.PermissionStaffManagement}})
	s, ok := authority.Current(context.Background())
	if !ok || s.Username != "tabuser" || !authority.Capable(s) {
		t.Fatalf("tab session = %+v, %v", s, ok)
	}

	storeDescriptor(t, durable, domain.Session{Username: "durableuser", LoginTime: now.Add(-time.Hour), RememberMe: true})
	s, ok = authority.Current(context.Background())
	if !ok || s.Username != "durableuser" {
		t.Fatalf("durable should win, got %+v", s)
	}
	if authority.Capable(s) {
		t.Error("durable session has no capability")
	}
	if _, ok := authority.CurrentCapable(context.Background()); ok {
		t.Error("CurrentCapable should reject an incapable session")
	}
}

func TestKeyDeriverUsesDescriptorLoginText(t *testing.T) {
	d := NewKeyDeriver(sessionConfig())
	var offset, utc domain.Session
	if err := json.Unmarshal([]byte(`{"username":"ashin97","loginTime":"2025-03-01T10:00:00+02:00"}`), &offset); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"username":"ashin97","loginTime":"2025-03-01T08:00:00.000Z"}`), &utc); err != nil {
		t.Fatal(err)
	}
	if !offset.LoginTime.Equal(utc.LoginTime) {
		t.Fatal("descriptors should name the same instant")
	}
	if hex.EncodeToString(d.Material(offset)) == hex.EncodeToString(d.Material(utc)) {
		t.Error("key material ignored the descriptor's loginTime text")
	}
}

func TestSessionAuthorityExpiry(t *testing.T) {
	durable := repository.NewMemoryKVRepository()
	bus := events.NewChangeBus(nil, zap.NewNop())
	expired := expiryCounter(bus)
	authority := NewSessionAuthority(sessionConfig(), durable, nil, bus, zap.NewNop())
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	authority.now = func() time.Time { return now }

	storeDescriptor(t, durable, domain.Session{
		Username:    "ashin97",
		LoginTime:   now.Add(-9 * time.Hour),
		Permissions: []string{domain.PermissionStaffManagement},
	})
	if _, ok := authority.Current(context.Background()); ok {
		t.Fatal("9h old session must be absent regardless of capability")
	}
	if _, ok, _ := durable.Get(context.Background(), "staffSession"); ok {
		t.Error("expired descriptor left in the durable store")
	}
	authority.Current(context.Background())
	if *expired != 1 {
		t.Errorf("session-expired events = %d, want 1", *expired)
	}

	_ = durable.Set(context.Background(), "staffSession", []byte("{broken"))
	if _, ok := authority.Current(context.Background()); ok {
		t.Fatal("malformed descriptor must be absent")
	}
	authority.Current(context.Background())
	if *expired != 2 {
		t.Errorf("session-expired events = %d, want 2", *expired)
	}
}

// failingDeletes keeps descriptors it cannot remove.
type failingDeletes struct{ *repository.MemoryKVRepository }

func (failingDeletes) Delete(context.Context, string) error { return errors.New("read-only") }

func TestSessionAuthorityNotifiesOncePerDescriptor(t *testing.T) {
	tab := failingDeletes{repository.NewMemoryKVRepository()}
	bus := events.NewChangeBus(nil, zap.NewNop())
	expired := expiryCounter(bus)
	authority := NewSessionAuthority(sessionConfig(), nil, tab, bus, zap.NewNop())
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	authority.now = func() time.Time { return now }

	storeDescriptor(t, tab, domain.Session{Username: "ashin97", LoginTime: now.Add(-9 * time.Hour)})
	for i := 0; i < 3; i++ {
		if _, ok := authority.Current(context.Background()); ok {
			t.Fatal("expired session reported live")
		}
	}
	if *expired != 1 {
		t.Errorf("session-expired events = %d, want 1", *expired)
	}

	storeDescriptor(t, tab, domain.Session{Username: "ashin97", LoginTime: now.Add(-10 * time.Hour)})
	authority.Current(context.Background())
	if *expired != 2 {
		t.Errorf("new dead descriptor: session-expired events = %d, want 2", *expired)
	}
}

func newLoginService(t *testing.T, durable, tab repository.KVRepository) *LoginService {
	t.Helper()
	hash, err := HashPassword("correct horse", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.LoginConfig{
		Users: []config.UserCredential{{
			Username:     "ashin97",
			PasswordHash: hash,
			Permissions:  []string{domain.PermissionStaffManagement},
		}},
		MaxAttempts:    3,
		LockoutMinutes: 5,
	}
	return NewLoginService(cfg, sessionConfig(), durable, tab, zap.NewNop())
}

func TestLoginWritesDescriptorReadableByAuthority(t *testing.T) {
	durable, tab := repository.NewMemoryKVRepository(), repository.NewMemoryKVRepository()
	login := newLoginService(t, durable, tab)
	authority := NewSessionAuthority(sessionConfig(), durable, tab, nil, zap.NewNop())
	ctx := context.Background()

	s, err := login.Login(ctx, "  ASHIN97 ", "correct horse", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, ok, _ := durable.Get(ctx, "staffSession"); ok {
		t.Error("tab-scoped login wrote the durable store")
	}
	current, ok := authority.CurrentCapable(ctx)
	if !ok || current.Username != "ashin97" {
		t.Fatalf("authority session = %+v, %v", current, ok)
	}

	d := NewKeyDeriver(sessionConfig())
	if hex.EncodeToString(d.Material(*s)) != hex.EncodeToString(d.Material(*current)) {
		t.Error("stored descriptor derives a different key than the login result")
	}

	if _, err := login.Login(ctx, "ashin97", "correct horse", true); err != nil {
		t.Fatalf("remember-me Login: %v", err)
	}
	if _, ok, _ := tab.Get(ctx, "staffSession"); ok {
		t.Error("remember-me login left a tab descriptor behind")
	}
	if current, _ := authority.Current(ctx); !current.RememberMe {
		t.Error("durable descriptor lacks rememberMe")
	}

	if err := login.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, ok := authority.Current(ctx); ok {
		t.Error("session survived logout")
	}
}

func TestLoginLockout(t *testing.T) {
	durable := repository.NewMemoryKVRepository()
	login := newLoginService(t, durable, repository.NewMemoryKVRepository())
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	login.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := login.Login(ctx, "ashin97", "wrong", false)
		if !errors.Is(err, apperrors.ErrAuthRequired) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := login.Login(ctx, "nobody", "wrong", false); !errors.Is(err, apperrors.ErrLockedOut) {
		t.Fatalf("third failure should lock out, got %v", err)
	}
	if _, err := login.Login(ctx, "ashin97", "correct horse", false); !errors.Is(err, apperrors.ErrLockedOut) {
		t.Fatalf("correct password during lockout: %v", err)
	}

	now = now.Add(5*time.Minute + time.Second)
	if _, err := login.Login(ctx, "ashin97", "correct horse", false); err != nil {
		t.Fatalf("login after lockout: %v", err)
	}
	if _, ok, _ := durable.Get(ctx, lockoutKey); ok {
		t.Error("lockout state not cleared after success")
	}
}

func TestLoginValidation(t *testing.T) {
	login := newLoginService(t, repository.NewMemoryKVRepository(), nil)
	if _, err := login.Login(context.Background(), "", "x", false); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("empty username: %v", err)
	}
	if _, err := login.Login(context.Background(), "ashin97", "correct horse", false); !errors.Is(err, apperrors.ErrBackendUnavailable) {
		t.Errorf("missing tab store: %v", err)
	}
}
