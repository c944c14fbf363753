package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler receives an event. Handlers run synchronously on the publishing or
// receiving goroutine and must not block.
type Handler func(context.Context, Event)

// Bus is what stores and the session authority need from the change bus.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(handler Handler) (unsubscribe func())
}

type subscription struct {
	id      uint64
	handler Handler
}

// ChangeBus fans events out to local handlers and to other contexts through
// a Transport. Messages carrying this bus's own source id are ignored on
// receipt, and providers-updated messages older than the newest ts seen are
// dropped (last writer wins).
type ChangeBus struct {
	source    string
	transport Transport
	logger    *zap.Logger

	mu       sync.RWMutex
	handlers []subscription
	nextID   uint64

	tsMu   sync.Mutex
	lastTS int64

	ready     chan struct{}
	readyOnce sync.Once
}

// NewChangeBus creates a bus with a fresh source id. A nil transport keeps
// delivery local.
func NewChangeBus(transport Transport, logger *zap.Logger) *ChangeBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeBus{
		source:    uuid.NewString(),
		transport: transport,
		logger:    logger.Named("bus"),
		ready:     make(chan struct{}),
	}
}

// Ready is closed once Run has an active subscription.
func (b *ChangeBus) Ready() <-chan struct{} { return b.ready }

// Source is this context's id stamped on outgoing messages.
func (b *ChangeBus) Source() string { return b.source }

// Publish delivers the event to every local handler in subscription order,
// then hands it to the transport without waiting for remote receivers.
func (b *ChangeBus) Publish(ctx context.Context, event Event) error {
	event.Source = b.source
	if event.Type == EventProvidersUpdated {
		if event.TS == 0 {
			event.TS = NowMillis()
		}
		b.observe(event.TS)
	}

	b.dispatch(ctx, event)

	if b.transport == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.transport.Send(ctx, payload); err != nil {
		b.logger.Warn("broadcast failed", zap.String("type", string(event.Type)), zap.Error(err))
		return err
	}
	return nil
}

// Subscribe registers a local handler and returns its removal func.
func (b *ChangeBus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.handlers {
				if s.id == id {
					b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Run receives remote messages until ctx is done.
func (b *ChangeBus) Run(ctx context.Context) error {
	if b.transport == nil {
		b.readyOnce.Do(func() { close(b.ready) })
		<-ctx.Done()
		return nil
	}
	inbox, err := b.transport.Listen(ctx)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer inbox.Close()
	b.readyOnce.Do(func() { close(b.ready) })

	b.logger.Info("change bus listening", zap.String("source", b.source))
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-inbox.Messages():
			if !ok {
				return nil
			}
			b.receive(ctx, payload)
		}
	}
}

func (b *ChangeBus) receive(ctx context.Context, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		b.logger.Debug("ignoring malformed message", zap.Error(err))
		return
	}
	if event.Source != "" && event.Source == b.source {
		return
	}
	if event.Type == EventProvidersUpdated && !b.observe(event.TS) {
		b.logger.Debug("dropping stale update", zap.Int64("ts", event.TS))
		return
	}
	b.dispatch(ctx, event)
}

// observe records ts and reports whether it is not older than the newest seen.
func (b *ChangeBus) observe(ts int64) bool {
	b.tsMu.Lock()
	defer b.tsMu.Unlock()
	if ts < b.lastTS {
		return false
	}
	b.lastTS = ts
	return true
}

func (b *ChangeBus) dispatch(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]subscription{}, b.handlers...)
	b.mu.RUnlock()

	for _, s := range handlers {
		s.handler(ctx, event)
	}
}
