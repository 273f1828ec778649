package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kavach/internal/config"
	"kavach/internal/logger"
	"kavach/internal/metrics"
)

// stubService masks by replacing "Amit" and echoes the session it saw.
type stubService struct {
	err       error
	ready     bool
	gotText   string
	gotSessID string
}

func (s *stubService) Sanitize(_ context.Context, text, sessionID string) (string, error) {
	s.gotText, s.gotSessID = text, sessionID
	if s.err != nil {
		return "", s.err
	}
	return strings.ReplaceAll(text, "Amit", "{{PER_1}}"), nil
}

func (s *stubService) Desanitize(_ context.Context, text, sessionID string) (string, error) {
	s.gotText, s.gotSessID = text, sessionID
	if s.err != nil {
		return "", s.err
	}
	return strings.ReplaceAll(text, "{{PER_1}}", "Amit"), nil
}

func (s *stubService) Ready() bool { return s.ready }

func testConfig() *config.Config {
	return &config.Config{
		BindAddress:  "127.0.0.1",
		MaxBodyBytes: 1 << 20,
		LogLevel:     "error",
	}
}

func newTestServer(cfg *config.Config, svc Service) (*Server, *metrics.Metrics) {
	m := metrics.New()
	s := New(cfg, svc, logger.NewWithWriter("GATEWAY", "error", io.Discard), m)
	return s, m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%q)", err, rr.Body.String())
	}
	return out
}

func TestSanitize_OK(t *testing.T) {
	svc := &stubService{}
	s, m := newTestServer(testConfig(), svc)

	rr := do(t, s, http.MethodPost, "/v1/sanitize", `{"text":"Hi Amit","sessionId":"abc"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["masked_text"]; got != "Hi {{PER_1}}" {
		t.Errorf("masked_text: got %v", got)
	}
	if svc.gotSessID != "abc" {
		t.Errorf("session: got %q, want abc", svc.gotSessID)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}
	if m.SanitizeRequests.Load() != 1 {
		t.Errorf("sanitize requests: got %d", m.SanitizeRequests.Load())
	}
}

func TestDesanitize_OK(t *testing.T) {
	s, m := newTestServer(testConfig(), &stubService{})

	rr := do(t, s, http.MethodPost, "/v1/desanitize", `{"text":"Hi {{PER_1}}","sessionId":"abc"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if got := decodeBody(t, rr)["original_text"]; got != "Hi Amit" {
		t.Errorf("original_text: got %v", got)
	}
	if m.DesanitizeRequests.Load() != 1 {
		t.Errorf("desanitize requests: got %d", m.DesanitizeRequests.Load())
	}
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"text":`},
		{"missing text", `{"sessionId":"abc"}`},
		{"missing session", `{"text":"Hi Amit"}`},
		{"empty text", `{"text":"","sessionId":"abc"}`},
		{"empty body", ``},
	}
	for _, path := range []string{"/v1/sanitize", "/v1/desanitize"} {
		for _, c := range cases {
			t.Run(path+" "+c.name, func(t *testing.T) {
				svc := &stubService{}
				s, m := newTestServer(testConfig(), svc)
				rr := do(t, s, http.MethodPost, path, c.body)
				if rr.Code != http.StatusBadRequest {
					t.Fatalf("status: got %d, want 400", rr.Code)
				}
				if got := decodeBody(t, rr)["error"]; got != "Missing text or sessionId" {
					t.Errorf("error: got %v", got)
				}
				if svc.gotSessID != "" || svc.gotText != "" {
					t.Error("service must not be called on validation failure")
				}
				if m.RequestsRejected.Load() != 1 {
					t.Errorf("rejected: got %d, want 1", m.RequestsRejected.Load())
				}
			})
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(testConfig(), &stubService{})
	for _, path := range []string{"/v1/sanitize", "/v1/desanitize"} {
		rr := do(t, s, http.MethodGet, path, "")
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s: got %d, want 405", path, rr.Code)
		}
		if rr.Header().Get("Allow") != http.MethodPost {
			t.Errorf("GET %s: Allow header %q", path, rr.Header().Get("Allow"))
		}
	}
}

func TestServiceFailures(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/v1/sanitize", "Sanitization failed"},
		{"/v1/desanitize", "Desanitization failed"},
	}
	for _, c := range cases {
		s, _ := newTestServer(testConfig(), &stubService{err: errors.New("store down")})
		rr := do(t, s, http.MethodPost, c.path, `{"text":"Hi Amit","sessionId":"abc"}`)
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("%s: status %d, want 500", c.path, rr.Code)
			continue
		}
		body := decodeBody(t, rr)
		if body["error"] != c.want {
			t.Errorf("%s: error %v, want %q", c.path, body["error"], c.want)
		}
		if strings.Contains(rr.Body.String(), "store down") {
			t.Errorf("%s: internal error leaked to client: %s", c.path, rr.Body.String())
		}
	}
}

func TestBodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 32
	s, m := newTestServer(cfg, &stubService{})

	body := `{"text":"` + strings.Repeat("a", 100) + `","sessionId":"abc"}`
	rr := do(t, s, http.MethodPost, "/v1/sanitize", body)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: got %d, want 413", rr.Code)
	}
	if m.RequestsRejected.Load() != 1 {
		t.Errorf("rejected: got %d", m.RequestsRejected.Load())
	}
}

func TestHealthz(t *testing.T) {
	svc := &stubService{}
	s, _ := newTestServer(testConfig(), svc)

	rr := do(t, s, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["detectorReady"] != false {
		t.Errorf("body: got %v", body)
	}

	svc.ready = true
	if body := decodeBody(t, do(t, s, http.MethodGet, "/healthz", "")); body["detectorReady"] != true {
		t.Errorf("detectorReady should follow the service, got %v", body)
	}

	if rr := do(t, s, http.MethodPost, "/healthz", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz: got %d, want 405", rr.Code)
	}
}

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(testConfig(), &stubService{})

	rr := do(t, s, http.MethodGet, "/healthz", "")
	if id := rr.Header().Get(requestIDHeader); len(id) != 36 {
		t.Errorf("generated request ID should be a UUID, got %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "client-supplied-42")
	rr = httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if id := rr.Header().Get(requestIDHeader); id != "client-supplied-42" {
		t.Errorf("client request ID should be echoed, got %q", id)
	}
}

func TestRequestIDInContext(t *testing.T) {
	var seen string
	h := withRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Errorf("got %q, want abc", seen)
	}
	if RequestID(context.Background()) != "" {
		t.Error("empty context should have no request ID")
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 2
	s, m := newTestServer(cfg, &stubService{})
	defer s.Close()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, s, http.MethodPost, "/v1/sanitize", `{"text":"Hi","sessionId":"abc"}`).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes: got %v, want [200 200 429]", codes)
	}
	if m.RequestsThrottled.Load() != 1 {
		t.Errorf("throttled: got %d, want 1", m.RequestsThrottled.Load())
	}

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/v1/sanitize", strings.NewReader(`{"text":"Hi","sessionId":"abc"}`))
	req.RemoteAddr = "203.0.113.9:5555"
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("second client: got %d, want 200", rr.Code)
	}
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := newRateLimiter(10, 10, metrics.New())
	defer rl.close()

	rl.allow("198.51.100.1")
	rl.evictIdle(time.Now().Add(visitorTTL))
	rl.mu.Lock()
	n := len(rl.visitors)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("idle visitor should be evicted, %d left", n)
	}

	if newRateLimiter(0, 10, nil) != nil {
		t.Error("zero rps should disable the limiter")
	}
}

func TestH2CHandlerServesHTTP1(t *testing.T) {
	s, _ := newTestServer(testConfig(), &stubService{ready: true})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/sanitize", "application/json", strings.NewReader(`{"text":"Amit","sessionId":"x"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["masked_text"] != "{{PER_1}}" {
		t.Errorf("got %v", out)
	}
}

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"192.0.2.1:1234":    "192.0.2.1",
		"[2001:db8::1]:443": "2001:db8::1",
		"192.0.2.7":         "192.0.2.7",
		"[2001:db8::2]":     "2001:db8::2",
	}
	for addr, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		if got := clientIP(r); got != want {
			t.Errorf("clientIP(%q) = %q, want %q", addr, got, want)
		}
	}
}
