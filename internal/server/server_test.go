package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/pulseguard/internal/attest"
	"github.com/mbd888/pulseguard/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:            "0",
		Env:             "development",
		LogLevel:        "error",
		LogFormat:       "json",
		FeatureWindow:   config.DefaultFeatureWindow,
		AlertThreshold:  config.DefaultAlertThreshold,
		GraphStructural: true,
		GraphMaxCycles:  config.DefaultGraphMaxCycles,
		PathMinHops:     config.DefaultPathMinHops,
		PathMaxPaths:    config.DefaultPathMaxPaths,
		PathStartNodes:  config.DefaultPathStartNodes,
		SinkTimeout:     time.Second,
		AttestDigest:    config.DefaultAttestDigest,
		AttestSigner:    config.DefaultAttestSigner,
		RateLimitRPM:    6000,
		RPCURL:          "https://mainnet.infura.io/v3/secretkey",
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer creates a server with a discarded logger
func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithVersion("test")}, opts...)
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() {
		s.rateLimiter.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.dispatcher.Shutdown(ctx)
	})
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.Router().ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Expected status 'ok', got %v", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("Expected version 'test', got %v", resp.Version)
	}

	names := map[string]bool{}
	for _, c := range resp.Checks {
		names[c.Name] = true
	}
	for _, want := range []string{"rolling", "attestation", "alerts", "realtime"} {
		if !names[want] {
			t.Errorf("Missing health check %q", want)
		}
	}
}

func TestHealthHasNoSideEffects(t *testing.T) {
	s := newTestServer(t, testConfig())

	for i := 0; i < 3; i++ {
		do(s, "GET", "/health", "")
	}
	if s.pipeline.Len() != 0 {
		t.Errorf("Health check mutated the rolling window: %d", s.pipeline.Len())
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	if w := do(s, "GET", "/health/live", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	if w := do(s, "GET", "/health/ready", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before Run, got %d", w.Code)
	}
	s.ready.Store(true)
	if w := do(s, "GET", "/health/ready", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 when ready, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	do(s, "POST", "/score", `{"tx":{"from":"a","to":"b","value":1,"gas":1}}`)
	w := do(s, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pulseguard_scores_total") {
		t.Error("Expected pulseguard_scores_total in exposition")
	}
}

// ---------------------------------------------------------------------------
// API and middleware tests
// ---------------------------------------------------------------------------

func TestInfoEndpointMasksRPC(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, "GET", "/api", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secretkey") {
		t.Error("RPC URL key leaked in /api")
	}
	if !strings.Contains(w.Body.String(), "mainnet.infura.io") {
		t.Error("Expected RPC host in /api")
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, "GET", "/health/live", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected generated X-Request-ID")
	}

	req := httptest.NewRequest("GET", "/health/live", nil)
	req.Header.Set("X-Request-ID", "upstream-123")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "upstream-123" {
		t.Errorf("Expected upstream request ID, got %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, "GET", "/api", "")
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("Expected nosniff header")
	}
}

func TestScoreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPM = 10 // burst of 1
	s := newTestServer(t, cfg)

	body := `{"tx":{"from":"a","to":"b","value":1,"gas":1}}`
	if w := do(s, "POST", "/score", body); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(s, "POST", "/score", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	// Other routes are not limited
	if w := do(s, "GET", "/api", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for /api, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end flows
// ---------------------------------------------------------------------------

func TestAlertReachesRegisteredSink(t *testing.T) {
	var hits atomic.Int32
	got := make(chan []byte, 1)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if hits.Add(1) == 1 {
			got <- body
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer sink.Close()

	s := newTestServer(t, testConfig())

	w := do(s, "POST", "/stream/webhook", `{"url":"`+sink.URL+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 registering sink, got %d", w.Code)
	}

	// Missing recipient is a contract creation, which always alerts.
	w = do(s, "POST", "/score", `{"tx":{"from":"0x1111111111111111111111111111111111111111","value":1,"gas":21000}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 scoring, got %d", w.Code)
	}

	select {
	case body := <-got:
		var event map[string]json.RawMessage
		if err := json.Unmarshal(body, &event); err != nil {
			t.Fatalf("sink received invalid JSON: %v", err)
		}
		for _, key := range []string{"type", "data", "attestation"} {
			if _, ok := event[key]; !ok {
				t.Errorf("alert payload missing %q", key)
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("sink never received the alert")
	}
}

func TestSinkURLFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SinkURL = "https://sink.example.com/hook"
	s := newTestServer(t, cfg)

	w := do(s, "GET", "/stream/webhooks", "")
	if !strings.Contains(w.Body.String(), "https://sink.example.com/hook") {
		t.Errorf("Configured sink not listed: %s", w.Body.String())
	}
}

func TestSignedAttestationRoundTrip(t *testing.T) {
	signer, err := attest.GenerateDilithiumSigner()
	if err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, testConfig(), WithSigner(signer))

	w := do(s, "POST", "/score", `{"batch":[{"from":"a","to":"b","value":1,"gas":1}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	att := resp["attestation"]
	delete(resp, "attestation")
	payload, _ := json.Marshal(resp)

	body, _ := json.Marshal(map[string]json.RawMessage{"payload": payload, "attestation": att})
	req := httptest.NewRequest("POST", "/attestation/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	vw := httptest.NewRecorder()
	s.Router().ServeHTTP(vw, req)

	var verdict map[string]bool
	if err := json.Unmarshal(vw.Body.Bytes(), &verdict); err != nil {
		t.Fatal(err)
	}
	if !verdict["valid"] {
		t.Errorf("Expected attestation to verify, got %s", vw.Body.String())
	}
}

func TestNewRejectsBadSignerKey(t *testing.T) {
	cfg := testConfig()
	cfg.AttestSigner = "secp256k1"
	cfg.AttestKey = "not-hex"

	if _, err := New(cfg, WithLogger(quietLogger())); err == nil {
		t.Error("Expected error for unusable ATTEST_KEY")
	}
}

func TestMaskURL(t *testing.T) {
	tests := map[string]string{
		"":                                    "",
		"https://mainnet.infura.io/v3/abc":    "https://mainnet.infura.io/redacted",
		"https://user:pw@node.example.com":    "https://redacted@node.example.com",
		"http://localhost:8545":               "http://localhost:8545",
		"https://node.example.com/?apikey=x1": "https://node.example.com/?redacted",
		"not a url":                           "***",
	}
	for in, want := range tests {
		if got := maskURL(in); got != want {
			t.Errorf("maskURL(%q) = %q, want %q", in, got, want)
		}
	}
}
