package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"kavach/internal/logger"
)

var errNoDetector = errors.New("factory returned no detector")

// Factory builds a Detector. It may block (model download, warmup).
type Factory func(ctx context.Context) (Detector, error)

// Lazy is a process-wide Detector initialised on first use.
//
// Concurrent first callers share one in-flight initialisation and all
// receive its result. A successful result is kept for the life of the
// process; a failed one is not, so the next call tries again.
type Lazy struct {
	factory Factory
	log     *logger.Logger

	group singleflight.Group

	mu  sync.RWMutex
	det Detector
}

// NewLazy wraps factory. log may be nil.
func NewLazy(factory Factory, log *logger.Logger) *Lazy {
	if log == nil {
		log = logger.New("DETECTOR", "info")
	}
	return &Lazy{factory: factory, log: log}
}

// Init forces initialisation and reports its outcome. Safe to call from a
// background goroutine at startup while requests are already arriving.
func (l *Lazy) Init(ctx context.Context) error {
	_, err := l.get(ctx)
	return err
}

// Ready reports whether initialisation has completed successfully.
func (l *Lazy) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.det != nil
}

// Detect initialises the underlying detector if needed, then delegates.
func (l *Lazy) Detect(ctx context.Context, text string) ([]Prediction, error) {
	d, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return d.Detect(ctx, text)
}

func (l *Lazy) get(ctx context.Context) (Detector, error) {
	l.mu.RLock()
	d := l.det
	l.mu.RUnlock()
	if d != nil {
		return d, nil
	}

	// The shared initialisation must not die with whichever caller happened
	// to start it; each caller still stops waiting on its own ctx.
	initCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan("init", func() (any, error) {
		l.mu.RLock()
		existing := l.det
		l.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		l.log.Info("init", "loading entity detector")
		start := time.Now()
		d, err := l.factory(initCtx)
		if err == nil && d == nil {
			err = errNoDetector
		}
		if err != nil {
			l.log.Errorf("init", "detector initialisation failed: %v", err)
			return nil, err
		}
		l.mu.Lock()
		l.det = d
		l.mu.Unlock()
		l.log.Infof("init", "entity detector ready in %s", time.Since(start).Round(time.Millisecond))
		return d, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
		}
		d, ok := res.Val.(Detector)
		if !ok || d == nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, errNoDetector)
		}
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
