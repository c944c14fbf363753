package events

import "time"

// EventType enumerates the cross-context message types.
type EventType string

const (
	EventProvidersUpdated EventType = "providers-updated"
	EventSessionExpired   EventType = "session-expired"
)

// Event is the wire message shared by all contexts of an origin.
// Count and TS are set only on providers-updated.
type Event struct {
	Type   EventType `json:"type"`
	Count  *int      `json:"count,omitempty"`
	TS     int64     `json:"ts,omitempty"`
	Source string    `json:"source,omitempty"`
}

// ProvidersUpdated builds the notification sent after a successful write.
// ts is the write's revision in epoch milliseconds.
func ProvidersUpdated(count int, ts int64) Event {
	return Event{Type: EventProvidersUpdated, Count: &count, TS: ts}
}

// SessionExpired builds the notification sent when a stored session aged out.
func SessionExpired() Event {
	return Event{Type: EventSessionExpired}
}

// RecordCount returns Count or zero.
func (e Event) RecordCount() int {
	if e.Count == nil {
		return 0
	}
	return *e.Count
}

// NowMillis is the epoch-millisecond clock used for ts values.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
