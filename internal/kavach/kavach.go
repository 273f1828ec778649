// Package kavach assembles the masking gateway from configuration: it picks
// the session store backend, builds the lazily initialised entity detector
// and exposes the two operations every surface (HTTP, CLI) needs.
package kavach

import (
	"context"
	"fmt"
	"time"

	"kavach/internal/config"
	"kavach/internal/detector"
	"kavach/internal/logger"
	"kavach/internal/masking"
	"kavach/internal/metrics"
	"kavach/internal/store"
)

// Options carries the collaborators New does not build from config.
type Options struct {
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	// DetectorFactory replaces the HTTP sidecar factory built from config.
	DetectorFactory detector.Factory
}

// Service is one configured gateway instance.
type Service struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	store    store.Store
	backend  string
	detector *detector.Lazy
	manager  *masking.Manager
}

// New validates cfg and wires a Service. The detector is not contacted
// until the first request or an explicit WarmUp.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("KAVACH", cfg.LogLevel)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	st, backend, err := openStore(ctx, cfg, log.Named("STORE"))
	if err != nil {
		return nil, err
	}

	factory := opts.DetectorFactory
	if factory == nil {
		factory = detector.HTTPFactory(cfg.DetectorEndpoint, cfg.DetectorTimeout, cfg.DetectorWarmup)
	}
	if cfg.PatternDetection {
		factory = detector.WithPatterns(factory, detector.DefaultPatterns())
	}
	det := detector.NewLazy(factory, log.Named("DETECTOR"))

	mgr := masking.NewManager(det, st, masking.Options{
		Substitution:  masking.Substitution(cfg.Substitution),
		MinConfidence: cfg.MinConfidence,
		Logger:        log.Named("MASKING"),
		Metrics:       m,
	})

	return &Service{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		store:    st,
		backend:  backend,
		detector: det,
		manager:  mgr,
	}, nil
}

// openStore builds the configured backend. A redis backend without a URL
// falls back to memory with a warning.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, string, error) {
	ttl := cfg.SessionTTL
	if ttl == 0 {
		ttl = -1 // SESSION_TTL=0 keeps sessions forever
	}

	switch cfg.Storage {
	case config.StorageRedis:
		if cfg.RedisURL == "" {
			log.Warn("open", "redis storage selected but REDIS_URL is empty; using in-memory sessions")
			return store.NewMemory(), config.StorageMemory, nil
		}
		st, err := store.NewRedis(ctx, cfg.RedisURL, store.RedisOptions{
			KeyPrefix: cfg.RedisKeyPrefix,
			TTL:       ttl,
		})
		if err != nil {
			return nil, "", fmt.Errorf("open redis store: %w", err)
		}
		log.Infof("open", "using redis session store (prefix %q, ttl %s)", cfg.RedisKeyPrefix, cfg.SessionTTL)
		return st, config.StorageRedis, nil

	case config.StorageBolt:
		st, err := store.NewBolt(cfg.BoltPath, store.BoltOptions{TTL: ttl})
		if err != nil {
			return nil, "", fmt.Errorf("open bolt store: %w", err)
		}
		log.Infof("open", "using bolt session store at %s (ttl %s)", cfg.BoltPath, cfg.SessionTTL)
		return st, config.StorageBolt, nil

	default:
		log.Info("open", "using in-memory session store")
		return store.NewMemory(), config.StorageMemory, nil
	}
}

// Sanitize masks text within sessionID.
func (s *Service) Sanitize(ctx context.Context, text, sessionID string) (string, error) {
	return s.manager.Mask(ctx, text, sessionID)
}

// Desanitize restores the tokens of sessionID found in text.
func (s *Service) Desanitize(ctx context.Context, text, sessionID string) (string, error) {
	return s.manager.Unmask(ctx, text, sessionID)
}

// Tokens returns the token→value mapping of sessionID.
func (s *Service) Tokens(ctx context.Context, sessionID string) (map[string]string, error) {
	return s.manager.Tokens(ctx, sessionID)
}

// ClearSession forgets every token of sessionID.
func (s *Service) ClearSession(ctx context.Context, sessionID string) error {
	return s.manager.Clear(ctx, sessionID)
}

// WarmUp initialises the detector now instead of on the first request.
func (s *Service) WarmUp(ctx context.Context) error {
	start := time.Now()
	if err := s.detector.Init(ctx); err != nil {
		return err
	}
	s.log.Infof("warmup", "detector warm in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// Ready reports whether the detector has been initialised.
func (s *Service) Ready() bool { return s.detector.Ready() }

// Backend names the session store in use: memory, redis or bolt.
func (s *Service) Backend() string { return s.backend }

// Metrics returns the service's counters.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Config returns the configuration the service was built from.
func (s *Service) Config() *config.Config { return s.cfg }

// Close releases the session store.
func (s *Service) Close() error {
	return s.store.Close()
}
