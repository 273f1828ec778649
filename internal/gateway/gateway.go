// Package gateway implements the public HTTP API.
//
// Endpoints:
//
//	POST /v1/sanitize    {"text":"...","sessionId":"..."} -> {"masked_text":"..."}
//	POST /v1/desanitize  {"text":"...","sessionId":"..."} -> {"original_text":"..."}
//	GET  /healthz        liveness plus detector readiness
//
// Requests are tagged with an X-Request-ID, limited per client IP and capped
// in size. Cleartext HTTP/2 (h2c) is accepted alongside HTTP/1.1.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"kavach/internal/config"
	"kavach/internal/logger"
	"kavach/internal/metrics"
)

// Service is the masking backend the gateway fronts.
type Service interface {
	Sanitize(ctx context.Context, text, sessionID string) (string, error)
	Desanitize(ctx context.Context, text, sessionID string) (string, error)
	Ready() bool
}

// Server is the gateway HTTP server.
type Server struct {
	cfg     *config.Config
	svc     Service
	log     *logger.Logger
	metrics *metrics.Metrics
	limiter *rateLimiter
	handler http.Handler
}

// New builds the gateway handler chain. m and log may be nil.
func New(cfg *config.Config, svc Service, log *logger.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = logger.New("GATEWAY", cfg.LogLevel)
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		log:     log,
		metrics: m,
		limiter: newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sanitize", s.handleSanitize)
	mux.HandleFunc("/v1/desanitize", s.handleDesanitize)
	mux.HandleFunc("/healthz", s.handleHealth)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.middleware(h)
	}
	s.handler = withRequestID(h)
	return s
}

// ServeHTTP dispatches a request through the middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Handler returns the server wrapped for cleartext HTTP/2.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s, &http2.Server{
		MaxConcurrentStreams: 250,
		MaxReadFrameSize:     1 << 20, // 1 MiB
		IdleTimeout:          90 * time.Second,
	})
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Infof("listen", "gateway listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		s.Close()
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutdown", "draining gateway connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.close()
	}
}

type textRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	s.metrics.SanitizeRequests.Add(1)
	log := s.log.WithRequest(RequestID(r.Context()))

	req, ok := s.decode(w, r, log)
	if !ok {
		return
	}
	masked, err := s.svc.Sanitize(r.Context(), req.Text, req.SessionID)
	if err != nil {
		log.Errorf("sanitize", "session=%s: %v", req.SessionID, err)
		writeError(w, http.StatusInternalServerError, "Sanitization failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"masked_text": masked})
}

func (s *Server) handleDesanitize(w http.ResponseWriter, r *http.Request) {
	s.metrics.DesanitizeRequests.Add(1)
	log := s.log.WithRequest(RequestID(r.Context()))

	req, ok := s.decode(w, r, log)
	if !ok {
		return
	}
	original, err := s.svc.Desanitize(r.Context(), req.Text, req.SessionID)
	if err != nil {
		log.Errorf("desanitize", "session=%s: %v", req.SessionID, err)
		writeError(w, http.StatusInternalServerError, "Desanitization failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"original_text": original})
}

// decode enforces POST, the body cap and the presence of both fields,
// writing the error response itself when it reports false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, log *logger.Logger) (textRequest, bool) {
	var req textRequest
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return req, false
	}

	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	err := json.NewDecoder(r.Body).Decode(&req)

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		s.metrics.RequestsRejected.Add(1)
		log.Warnf("decode", "body exceeds %d bytes", tooLarge.Limit)
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return req, false
	case err != nil || req.Text == "" || req.SessionID == "":
		s.metrics.RequestsRejected.Add(1)
		log.Debugf("decode", "rejected %s: missing text or sessionId", r.URL.Path)
		writeError(w, http.StatusBadRequest, "Missing text or sessionId")
		return req, false
	}
	return req, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status        string `json:"status"`
		DetectorReady bool   `json:"detectorReady"`
	}{"ok", s.svc.Ready()})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
