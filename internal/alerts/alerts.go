// Package alerts delivers attested alert results to registered sinks.
//
// Sinks are HTTP endpoints registered at runtime (or from SINK_URL at
// startup). Every alert is POSTed to every sink from its own goroutine with a
// short timeout; delivery failures are logged and counted, never returned to
// the request that produced the alert.
package alerts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbd888/pulseguard/internal/attest"
)

// EventTypeAlert is the type carried by every alert payload.
const EventTypeAlert = "pulseguard.alert"

// ErrInvalidSinkURL is returned when a sink URL is not http(s).
var ErrInvalidSinkURL = errors.New("sink url must start with http:// or https://")

// Event is the JSON body delivered to sinks.
type Event struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Timestamp   time.Time          `json:"timestamp"`
	Data        any                `json:"data"`
	Attestation attest.Attestation `json:"attestation"`
}

// Sink is a registered alert destination.
type Sink struct {
	URL          string     `json:"url"`
	RegisteredAt time.Time  `json:"registeredAt"`
	LastSuccess  *time.Time `json:"lastSuccess,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
}

// Store holds registered sinks. Implementations must be safe for
// concurrent use.
type Store interface {
	// Add registers sink unless its URL is already present. It reports
	// whether the sink was newly added.
	Add(ctx context.Context, sink *Sink) (bool, error)
	// List returns copies of all sinks in registration order.
	List(ctx context.Context) ([]*Sink, error)
	// RecordResult stores the outcome of the latest delivery to url.
	RecordResult(ctx context.Context, url string, at time.Time, errMsg string) error
	Count() int
}

// MemoryStore is the in-process sink registry. Sinks live for the process
// lifetime and are deduplicated by exact URL.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	sinks map[string]*Sink
}

// NewMemoryStore creates an empty registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sinks: make(map[string]*Sink)}
}

func (m *MemoryStore) Add(ctx context.Context, sink *Sink) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sinks[sink.URL]; ok {
		return false, nil
	}
	cp := *sink
	m.sinks[sink.URL] = &cp
	m.order = append(m.order, sink.URL)
	return true, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Sink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Sink, 0, len(m.order))
	for _, u := range m.order {
		cp := *m.sinks[u]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) RecordResult(ctx context.Context, url string, at time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sinks[url]
	if !ok {
		return nil // sink was never registered here; nothing to update
	}
	if errMsg == "" {
		s.LastSuccess = &at
		s.LastError = ""
	} else {
		s.LastError = errMsg
	}
	return nil
}

func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}
