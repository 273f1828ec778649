// Package management provides a lightweight HTTP API for runtime inspection
// of the running gateway. It listens on localhost only.
//
// Endpoints:
//
//	GET  /status          - gateway health, storage backend, detector state
//	GET  /metrics         - counters and latency snapshot
//	GET  /sessions/tokens - token names held by a session (?sessionId=...); values are never returned
//	POST /sessions/clear  - forget a session's mapping {"sessionId":"..."}
package management

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"kavach/internal/config"
	"kavach/internal/logger"
	"kavach/internal/metrics"
)

// Sessions is the part of the gateway the management API operates on.
type Sessions interface {
	Tokens(ctx context.Context, sessionID string) (map[string]string, error)
	ClearSession(ctx context.Context, sessionID string) error
	Ready() bool
	Backend() string
}

// Server is the management API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	sessions  Sessions
	token     string           // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics // nil = no metrics
	log       *logger.Logger
}

// New creates a management server.
func New(cfg *config.Config, sessions Sessions, m *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.New("MANAGEMENT", cfg.LogLevel)
	}
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		sessions:  sessions,
		token:     cfg.ManagementToken,
		metrics:   m,
		log:       log,
	}
	if s.token != "" {
		s.log.Info("init", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/sessions/tokens", s.handleSessionTokens)
	mux.HandleFunc("/sessions/clear", s.handleClearSession)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validSessionID accepts non-empty printable IDs of up to 256 bytes.
func validSessionID(id string) bool {
	if id == "" || len(id) > 256 {
		return false
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status       string `json:"status"`
		Uptime       string `json:"uptime"`
		Port         int    `json:"port"`
		Storage      string `json:"storage"`
		SessionTTL   string `json:"sessionTtl"`
		Substitution string `json:"substitution"`
		Detector     struct {
			Endpoint string `json:"endpoint"`
			Ready    bool   `json:"ready"`
		} `json:"detector"`
	}

	resp := response{
		Status:       "running",
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		Port:         s.cfg.Port,
		Storage:      s.sessions.Backend(),
		SessionTTL:   s.cfg.SessionTTL.String(),
		Substitution: s.cfg.Substitution,
	}
	resp.Detector.Endpoint = s.cfg.DetectorEndpoint
	resp.Detector.Ready = s.sessions.Ready()

	writeJSON(w, http.StatusOK, resp, s.log)
}

func (s *Server) handleSessionTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("sessionId")
	if !validSessionID(id) {
		http.Error(w, "invalid request: need ?sessionId=...", http.StatusBadRequest)
		return
	}
	mapping, err := s.sessions.Tokens(r.Context(), id)
	if err != nil {
		s.log.Errorf("tokens", "session=%s: %v", id, err)
		http.Error(w, "session store unavailable", http.StatusInternalServerError)
		return
	}
	names := make([]string, 0, len(mapping))
	for tok := range mapping {
		names = append(names, tok)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": id, "tokens": names}, s.log)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validSessionID(req.SessionID) {
		http.Error(w, "invalid request: need {\"sessionId\":\"...\"}", http.StatusBadRequest)
		return
	}
	if err := s.sessions.ClearSession(r.Context(), req.SessionID); err != nil {
		s.log.Errorf("clear", "session=%s: %v", req.SessionID, err)
		http.Error(w, "session store unavailable", http.StatusInternalServerError)
		return
	}
	s.log.Infof("clear", "cleared session %s", req.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"cleared": req.SessionID}, s.log)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot(), s.log)
}

func writeJSON(w http.ResponseWriter, status int, v any, log *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encode", "JSON encode error: %v", err)
	}
}

// ListenAndServe serves the management API on localhost until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ManagementPort)
	s.log.Infof("listen", "management API listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
