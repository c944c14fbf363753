package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Primary backend identifiers.
const (
	PrimaryPostgres = "postgres"
	PrimarySQLite   = "sqlite"
	PrimaryNone     = "none"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Session  SessionConfig
	Store    StoreConfig
	Envelope EnvelopeConfig
	Export   ExportConfig
	Login    LoginConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	SSEKeepaliveSeconds   int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// SQLiteConfig holds the embedded primary database location.
type SQLiteConfig struct {
	Path string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Enabled   bool
	Addr      string
	Password  string
	DB        int
	Channel   string
	KeyPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// SessionConfig controls session classification and key derivation.
type SessionConfig struct {
	TTLHours      int
	CapabilityTag string
	KeySalt       string
	DescriptorKey string
}

// StoreConfig controls the tiered record store.
type StoreConfig struct {
	Primary          string
	RecordKey        string
	RequireSession   bool
	PrimaryTimeoutMS int
	HandoffPath      string
}

// EnvelopeConfig controls size bands of the envelope codec.
type EnvelopeConfig struct {
	LowerThresholdBytes int
	UpperThresholdBytes int
	ChunkSizeBytes      int
}

// ExportConfig controls the public artifact export.
type ExportConfig struct {
	Dir        string
	FileName   string
	AutoExport bool
}

// LoginConfig holds the admin credential table for the login flow.
type LoginConfig struct {
	Users          []UserCredential
	MaxAttempts    int
	LockoutMinutes int
}

// UserCredential is one ADMIN_USERS entry.
type UserCredential struct {
	Username     string
	PasswordHash string
	Permissions  []string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	users, err := parseUsers(os.Getenv("ADMIN_USERS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_USERS: %w", err)
	}

	primary := strings.ToLower(getEnv("PRIMARY_BACKEND", PrimarySQLite))
	switch primary {
	case PrimaryPostgres, PrimarySQLite, PrimaryNone:
	default:
		return nil, fmt.Errorf("invalid PRIMARY_BACKEND %q", primary)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "staff-store"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			SSEKeepaliveSeconds:   getEnvAsInt("SSE_KEEPALIVE_SECONDS", 15),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "data/staff-store.db"),
		},
		Redis: RedisConfig{
			Enabled:   getEnvAsBool("REDIS_ENABLED", true),
			Addr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			Channel:   getEnv("BUS_CHANNEL", "p1st-providers-secure"),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "staffstore:"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Session: SessionConfig{
			TTLHours:      getEnvAsInt("SESSION_TTL_HOURS", 8),
			CapabilityTag: getEnv("SESSION_CAPABILITY_TAG", "staff-management"),
			KeySalt:       getEnv("STORE_KEY_SALT", "P1ST-SECURE-2025"),
			DescriptorKey: getEnv("SESSION_DESCRIPTOR_KEY", "staffSession"),
		},
		Store: StoreConfig{
			Primary:          primary,
			RecordKey:        getEnv("STORE_RECORD_KEY", "healthcare_providers"),
			RequireSession:   getEnvAsBool("STORE_REQUIRE_SESSION", true),
			PrimaryTimeoutMS: getEnvAsInt("STORE_PRIMARY_TIMEOUT_MS", 2000),
			HandoffPath:      getEnv("HANDOFF_PATH", "data/handoff.name"),
		},
		Envelope: EnvelopeConfig{
			LowerThresholdBytes: getEnvAsInt("ENVELOPE_LOWER_THRESHOLD_BYTES", 1<<20),
			UpperThresholdBytes: getEnvAsInt("ENVELOPE_UPPER_THRESHOLD_BYTES", 5<<20),
			ChunkSizeBytes:      getEnvAsInt("ENVELOPE_CHUNK_SIZE_BYTES", 100_000),
		},
		Export: ExportConfig{
			Dir:        getEnv("EXPORT_DIR", "export"),
			FileName:   getEnv("EXPORT_FILE_NAME", "staff-data.json"),
			AutoExport: getEnvAsBool("EXPORT_AUTO", false),
		},
		Login: LoginConfig{
			Users:          users,
			MaxAttempts:    getEnvAsInt("LOGIN_MAX_ATTEMPTS", 3),
			LockoutMinutes: getEnvAsInt("LOGIN_LOCKOUT_MINUTES", 5),
		},
	}

	if cfg.Envelope.LowerThresholdBytes > cfg.Envelope.UpperThresholdBytes {
		return nil, fmt.Errorf("envelope lower threshold %d exceeds upper threshold %d",
			cfg.Envelope.LowerThresholdBytes, cfg.Envelope.UpperThresholdBytes)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// TTL returns the session time-to-live.
func (s SessionConfig) TTL() time.Duration {
	if s.TTLHours <= 0 {
		return 8 * time.Hour
	}
	return time.Duration(s.TTLHours) * time.Hour
}

// SSEKeepalive returns the interval between event stream pings.
func (a AppConfig) SSEKeepalive() time.Duration {
	if a.SSEKeepaliveSeconds <= 0 {
		return 0
	}
	return time.Duration(a.SSEKeepaliveSeconds) * time.Second
}

// PrimaryTimeout bounds a single primary tier operation.
func (s StoreConfig) PrimaryTimeout() time.Duration {
	if s.PrimaryTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(s.PrimaryTimeoutMS) * time.Millisecond
}

// Lockout returns the login lockout window.
func (l LoginConfig) Lockout() time.Duration {
	return time.Duration(l.LockoutMinutes) * time.Minute
}

// parseUsers reads "user:bcrypt-hash:perm1|perm2" entries separated by ';'.
func parseUsers(raw string) ([]UserCredential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var users []UserCredential
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		// bcrypt hashes contain '$' but never ':'
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed entry %q", entry)
		}
		user := UserCredential{
			Username:     strings.ToLower(parts[0]),
			PasswordHash: parts[1],
		}
		if len(parts) == 3 {
			for _, perm := range strings.Split(parts[2], "|") {
				if perm = strings.TrimSpace(perm); perm != "" {
					user.Permissions = append(user.Permissions, perm)
				}
			}
		}
		users = append(users, user)
	}
	return users, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
