package handlers

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/staff-store/internal/events"
)

func TestEventsKeepaliveCannotBeDisabled(t *testing.T) {
	bus := events.NewChangeBus(nil, zap.NewNop())
	cases := map[string]struct {
		in, want time.Duration
	}{
		"zero":       {0, defaultKeepalive},
		"negative":   {-time.Second, defaultKeepalive},
		"too short":  {time.Millisecond, minKeepalive},
		"configured": {30 * time.Second, 30 * time.Second},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := NewEventsHandler(bus, tc.in, nil).keepalive; got != tc.want {
				t.Errorf("keepalive = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEventsStreamPingsIdleClient(t *testing.T) {
	bus := events.NewChangeBus(nil, zap.NewNop())
	h := NewEventsHandler(bus, 0, nil)
	h.keepalive = 10 * time.Millisecond

	app := fiber.New()
	app.Get("/api/events", h.Stream)

	// the first event arrives after several keepalive intervals
	done := make(chan struct{})
	defer close(done)
	go func() {
		time.Sleep(100 * time.Millisecond)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = bus.Publish(context.Background(), events.SessionExpired())
			}
		}
	}()

	req := httptest.NewRequest(fiber.MethodGet, "/api/events?limit=1", nil)
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	stream := string(raw)
	if !strings.Contains(stream, ": ping\n\n") || !strings.Contains(stream, "event: session-expired\n") {
		t.Fatalf("stream = %q", stream)
	}
}
