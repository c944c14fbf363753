package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/staff-store/internal/app"
	"github.com/spec-kit/staff-store/internal/config"
	"github.com/spec-kit/staff-store/internal/observability"
	"github.com/spec-kit/staff-store/internal/worker"
)

var version = "dev"

var noColor bool

// buildContainer is replaced in tests.
var buildContainer = func(ctx context.Context) (*app.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return app.Build(ctx, cfg, logger)
}

var rootCmd = &cobra.Command{
	Use:           "staffstore",
	Short:         "Durable, encrypted staff directory store",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the staff API and event stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := buildContainer(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		defer c.Logger.Sync() //nolint:errcheck

		stopWorker := worker.StartNotificationWorker(c.Store, c.Bus, c.Logger)
		defer stopWorker()

		server := c.HTTP()
		addr := c.Config.App.Addr()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return c.Bus.Run(gctx)
		})
		g.Go(func() error {
			c.Logger.Info("listening", zap.String("addr", addr), zap.String("version", version))
			return server.Listen(addr)
		})
		g.Go(func() error {
			<-gctx.Done()
			c.Logger.Info("shutting down")
			return server.ShutdownWithTimeout(5 * time.Second)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.AddCommand(serveCmd)
}
