package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu            sync.Mutex
	requestCount  map[string]int64
	errorCount    map[string]int64
	tierReadHits  map[string]int64
	tierFailures  map[string]int64
	envelopeKinds map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:  make(map[string]int64),
		errorCount:    make(map[string]int64),
		tierReadHits:  make(map[string]int64),
		tierFailures:  make(map[string]int64),
		envelopeKinds: make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordTierHit counts a read served by the named tier.
func (m *Metrics) RecordTierHit(tier string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tierReadHits[tier]++
}

// RecordTierFailure counts a swallowed tier failure for the given operation.
func (m *Metrics) RecordTierFailure(tier, op string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tierFailures[tier+"|"+op]++
}

// RecordEnvelope counts the envelope kind chosen on encode.
func (m *Metrics) RecordEnvelope(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopeKinds[kind]++
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Requests      map[string]int64 `json:"requests"`
	Errors        map[string]int64 `json:"errors"`
	TierReadHits  map[string]int64 `json:"tier_read_hits"`
	TierFailures  map[string]int64 `json:"tier_failures"`
	EnvelopeKinds map[string]int64 `json:"envelope_kinds"`
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Requests:      copyCounts(m.requestCount),
		Errors:        copyCounts(m.errorCount),
		TierReadHits:  copyCounts(m.tierReadHits),
		TierFailures:  copyCounts(m.tierFailures),
		EnvelopeKinds: copyCounts(m.envelopeKinds),
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
