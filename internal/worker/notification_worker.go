package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/staff-store/internal/events"
	"github.com/spec-kit/staff-store/internal/service"
)

// tabInvalidator is the part of StoreService the worker drives.
type tabInvalidator interface {
	DropTabCopy(ctx context.Context) error
}

// StartNotificationWorker registers the handlers that keep this context in
// step with others. A providers-updated from another context drops the
// tab-scoped copy so the next read sees the shared tiers. It returns the
// unsubscribe func.
func StartNotificationWorker(store *service.StoreService, bus *events.ChangeBus, logger *zap.Logger) func() {
	if store == nil || bus == nil {
		return func() {}
	}
	return register(store, bus, logger)
}

func register(store tabInvalidator, bus *events.ChangeBus, logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notifications")
	own := bus.Source()

	return bus.Subscribe(func(ctx context.Context, event events.Event) {
		switch event.Type {
		case events.EventProvidersUpdated:
			if event.Source == own {
				return
			}
			if err := store.DropTabCopy(ctx); err != nil {
				logger.Warn("could not drop tab copy", zap.Error(err))
				return
			}
			logger.Info("collection updated elsewhere",
				zap.String("source", event.Source),
				zap.Int("count", event.RecordCount()),
				zap.Int64("ts", event.TS))
		case events.EventSessionExpired:
			logger.Info("session expired")
		}
	})
}
