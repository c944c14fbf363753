package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/staff-store/internal/events"
)

const (
	eventBuffer = 16

	// Pings are how a stream notices its client left, so they cannot be
	// turned off.
	defaultKeepalive = 15 * time.Second
	minKeepalive     = time.Second
)

// EventsHandler streams change notifications as server-sent events.
type EventsHandler struct {
	bus       events.Bus
	keepalive time.Duration
	logger    *zap.Logger
}

// NewEventsHandler constructs handler. A non-positive keepalive selects the
// default interval; shorter ones are raised to one second.
func NewEventsHandler(bus events.Bus, keepalive time.Duration, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case keepalive <= 0:
		keepalive = defaultKeepalive
	case keepalive < minKeepalive:
		keepalive = minKeepalive
	}
	return &EventsHandler{bus: bus, keepalive: keepalive, logger: logger.Named("sse")}
}

// Stream handles GET /api/events. The optional limit query ends the stream
// after that many events.
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)

	ch := make(chan events.Event, eventBuffer)
	unsubscribe := h.bus.Subscribe(func(_ context.Context, event events.Event) {
		select {
		case ch <- event:
		default:
			h.logger.Warn("slow event stream, dropping event", zap.String("type", string(event.Type)))
		}
	})

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		ticker := time.NewTicker(h.keepalive)
		defer ticker.Stop()

		fmt.Fprint(w, "retry: 3000\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		sent := 0
		for {
			select {
			case event := <-ch:
				payload, err := json.Marshal(event)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
				if err := w.Flush(); err != nil {
					h.logger.Debug("event stream closed", zap.Error(err))
					return
				}
				sent++
				if limit > 0 && sent >= limit {
					return
				}
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}
