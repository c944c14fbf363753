// Package app assembles the store, its tiers and the HTTP surface from
// configuration. Commands share one Container per process.
package app

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/staff-store/internal/api/http"
	"github.com/spec-kit/staff-store/internal/api/http/handlers"
	"github.com/spec-kit/staff-store/internal/auth"
	"github.com/spec-kit/staff-store/internal/config"
	"github.com/spec-kit/staff-store/internal/envelope"
	"github.com/spec-kit/staff-store/internal/events"
	"github.com/spec-kit/staff-store/internal/observability"
	"github.com/spec-kit/staff-store/internal/persistence"
	"github.com/spec-kit/staff-store/internal/repository"
	"github.com/spec-kit/staff-store/internal/service"
)

// Container holds the wired services of one process.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	Postgres *persistence.Postgres
	SQLite   *persistence.SQLite
	Redis    *persistence.Redis

	Bus       *events.ChangeBus
	Authority *auth.SessionAuthority
	Login     *auth.LoginService
	Store     *service.StoreService
	Staff     *service.StaffService
	Exporter  *service.ExportService
	Codec     *envelope.Codec
}

// Backends are the tier repositories a Container runs on. Nil entries are
// tiers the environment lacks.
type Backends struct {
	Primary   repository.KVRepository
	Tab       repository.KVRepository
	Durable   repository.KVRepository
	Handoff   repository.KVRepository
	Transport events.Transport
}

// Build opens the configured backends and wires every service over them.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	backends := Backends{
		Tab:     repository.NewMemoryKVRepository(),
		Handoff: repository.NewHandoffRepository(cfg.Store.HandoffPath),
	}

	switch cfg.Store.Primary {
	case config.PrimaryPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.Postgres = pg
		backends.Primary = repository.NewPostgresKVRepository(pg.Pool)
	case config.PrimarySQLite:
		db, err := persistence.NewSQLite(ctx, cfg.SQLite, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		c.SQLite = db
		backends.Primary = repository.NewSQLiteKVRepository(db.DB)
	}

	if cfg.Redis.Enabled {
		c.Redis = persistence.NewRedis(cfg.Redis, logger)
		backends.Durable = repository.NewRedisKVRepository(c.Redis.Client, cfg.Redis.KeyPrefix)
		backends.Transport = events.NewRedisTransport(c.Redis.Client, cfg.Redis.Channel)
	}

	c.wire(backends)
	return c, nil
}

// NewWithBackends wires services over caller-supplied tiers.
func NewWithBackends(cfg *config.Config, logger *zap.Logger, backends Backends) *Container {
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	c.wire(backends)
	return c
}

func (c *Container) wire(b Backends) {
	cfg := c.Config
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	c.Bus = events.NewChangeBus(b.Transport, c.Logger)
	c.Authority = auth.NewSessionAuthority(cfg.Session, b.Durable, b.Tab, c.Bus, c.Logger)
	c.Login = auth.NewLoginService(cfg.Login, cfg.Session, b.Durable, b.Tab, c.Logger)
	c.Exporter = service.NewExportService(cfg.Export, c.Logger)
	c.Codec = envelope.NewCodec(cfg.Envelope, c.Logger, c.Metrics)
	c.Store = service.NewStoreService(cfg.Store, service.StoreDependencies{
		Primary:  b.Primary,
		Tab:      b.Tab,
		Durable:  b.Durable,
		Handoff:  b.Handoff,
		Sessions: c.Authority,
		Keys:     auth.NewKeyDeriver(cfg.Session),
		Codec:    c.Codec,
		Bus:      c.Bus,
		Exporter: c.Exporter,
		Source:   c.Bus.Source(),
	}, c.Logger, c.Metrics)
	c.Staff = service.NewStaffService(c.Store)
}

// HTTP builds the fiber application serving the store.
func (c *Container) HTTP() *fiber.App {
	cfg := c.Config
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
		BodyLimit:             cfg.Envelope.UpperThresholdBytes * 2,
	})
	httptransport.RegisterMiddlewares(app, c.Logger, c.Metrics, cfg.App.RequestTimeout())

	deps := map[string]handlers.Pinger{}
	if c.Postgres != nil {
		deps["postgres"] = c.Postgres
	}
	if c.SQLite != nil {
		deps["sqlite"] = c.SQLite
	}
	if c.Redis != nil {
		deps["redis"] = c.Redis
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:            handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps),
		Session:           handlers.NewSessionHandler(c.Login, c.Authority, cfg.Session.TTL()),
		Staff:             handlers.NewStaffHandler(c.Store, c.Staff, c.Exporter, c.Metrics),
		Events:            handlers.NewEventsHandler(c.Bus, cfg.App.SSEKeepalive(), c.Logger),
		SessionMiddleware: auth.NewSessionMiddleware(c.Authority),
		OpenWrites:        !cfg.Store.RequireSession,
		WritePermission:   cfg.Session.CapabilityTag,
	})
	return app
}

// Close releases every opened backend.
func (c *Container) Close() {
	c.Redis.Close()
	c.SQLite.Close()
	c.Postgres.Close()
}
