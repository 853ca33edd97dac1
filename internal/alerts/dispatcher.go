package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/pulseguard/internal/attest"
	"github.com/mbd888/pulseguard/internal/validation"
)

// DefaultTimeout bounds each sink POST.
const DefaultTimeout = 2 * time.Second

var (
	dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulseguard",
		Subsystem: "alert",
		Name:      "dispatch_total",
		Help:      "Alert deliveries to sinks by result.",
	}, []string{"result"})

	registeredSinks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulseguard",
		Name:      "registered_sinks",
		Help:      "Number of registered alert sinks.",
	})
)

func init() {
	prometheus.MustRegister(dispatchTotal, registeredSinks)
}

// Publisher receives every dispatched alert in-process (e.g. a websocket hub).
type Publisher interface {
	PublishAlert(event *Event)
}

// URLChecker vets a sink URL beyond its scheme.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// Dispatcher fans alerts out to registered sinks without blocking callers.
type Dispatcher struct {
	store     Store
	client    *http.Client
	logger    *slog.Logger
	publisher Publisher
	checker   URLChecker

	// baseCtx outlives any request; it is cancelled when shutdown abandons
	// in-flight deliveries.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex // guards closed and wg.Add against Shutdown
	closed  bool
}

// NewDispatcher creates a dispatcher. A non-positive timeout uses DefaultTimeout.
func NewDispatcher(store Store, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:   store,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// WithPublisher attaches an in-process subscriber for every alert.
func (d *Dispatcher) WithPublisher(p Publisher) *Dispatcher {
	d.publisher = p
	return d
}

// WithURLChecker adds a registration-time check, such as rejecting
// private addresses.
func (d *Dispatcher) WithURLChecker(c URLChecker) *Dispatcher {
	d.checker = c
	return d
}

// WithTransport replaces the transport used for deliveries.
func (d *Dispatcher) WithTransport(rt http.RoundTripper) *Dispatcher {
	d.client.Transport = rt
	return d
}

// Register validates and idempotently adds a sink URL, returning it.
func (d *Dispatcher) Register(ctx context.Context, rawURL string) (string, error) {
	u := strings.TrimSpace(rawURL)
	if errs := validation.Validate(
		validation.Required("url", u),
		validation.MaxLength("url", u, validation.MaxURLLength),
		validation.HTTPURL("url", u),
	); len(errs) > 0 {
		return "", ErrInvalidSinkURL
	}
	if d.checker != nil {
		if err := d.checker.Check(ctx, u); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidSinkURL, err)
		}
	}
	added, err := d.store.Add(ctx, &Sink{URL: u, RegisteredAt: time.Now().UTC()})
	if err != nil {
		return "", fmt.Errorf("register sink: %w", err)
	}
	if added {
		registeredSinks.Set(float64(d.store.Count()))
		d.logger.Info("alert sink registered", "url", u)
	}
	return u, nil
}

// Sinks lists registered sinks.
func (d *Dispatcher) Sinks(ctx context.Context) ([]*Sink, error) {
	return d.store.List(ctx)
}

// NewEvent wraps a result and its attestation in an alert event.
func NewEvent(data any, att attest.Attestation) *Event {
	return &Event{
		ID:          "evt_" + uuid.NewString(),
		Type:        EventTypeAlert,
		Timestamp:   time.Now().UTC(),
		Data:        data,
		Attestation: att,
	}
}

// Dispatch starts delivery of event to every sink and returns immediately.
// After Shutdown it is a no-op.
func (d *Dispatcher) Dispatch(event *Event) {
	if d.isClosed() {
		return
	}
	if d.publisher != nil {
		d.publisher.PublishAlert(event)
	}

	sinks, err := d.store.List(d.baseCtx)
	if err != nil {
		d.logger.Warn("alert dispatch: list sinks failed", "error", err)
		return
	}
	if len(sinks) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		dispatchTotal.WithLabelValues("marshal_error").Inc()
		d.logger.Warn("alert dispatch: marshal failed", "event", event.ID, "error", err)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(len(sinks))
	d.mu.Unlock()

	for _, s := range sinks {
		go func(url string) {
			defer d.wg.Done()
			d.send(url, event, payload)
		}(s.URL)
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) send(url string, event *Event, payload []byte) {
	err := d.post(url, event, payload)
	now := time.Now().UTC()
	if err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		d.logger.Warn("alert delivery failed", "url", url, "event", event.ID, "error", err)
		_ = d.store.RecordResult(d.baseCtx, url, now, err.Error())
		return
	}
	dispatchTotal.WithLabelValues("success").Inc()
	_ = d.store.RecordResult(d.baseCtx, url, now, "")
}

func (d *Dispatcher) post(url string, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(d.baseCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PulseGuard-Event", event.Type)
	req.Header.Set("X-PulseGuard-Event-ID", event.ID)
	req.Header.Set("X-PulseGuard-Checksum", event.Attestation.Checksum)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Shutdown stops accepting alerts and waits for in-flight deliveries until
// ctx is done, then abandons whatever is left.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
