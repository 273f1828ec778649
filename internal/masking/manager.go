// Package masking replaces named entities in text with session-scoped
// placeholder tokens ("{{PER_1}}") and restores them again.
//
// Within one session every distinct value maps to exactly one token and
// every token to exactly one value; the mapping lives in a store.Store so
// that unmask can run in a different request, or process, than mask.
package masking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"kavach/internal/detector"
	"kavach/internal/logger"
	"kavach/internal/metrics"
	"kavach/internal/store"
)

// maxMintAttempts bounds the set-if-absent loop for one value.
const maxMintAttempts = 1000

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Substitution  Substitution // default SubstituteOffsets
	MinConfidence float64      // predictions scoring below are ignored
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
}

// Manager is the token manager. It is safe for concurrent use; Mask calls
// for the same session are serialised, other sessions run in parallel.
type Manager struct {
	det   detector.Detector
	store store.Store
	opts  Options
	log   *logger.Logger
	m     *metrics.Metrics
	locks *sessionLocks
}

// NewManager wires a detector and a session store into a Manager.
func NewManager(det detector.Detector, st store.Store, opts Options) *Manager {
	if opts.Substitution == "" {
		opts.Substitution = SubstituteOffsets
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("MASKING", "info")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Manager{
		det:   det,
		store: st,
		opts:  opts,
		log:   log,
		m:     m,
		locks: newSessionLocks(),
	}
}

// Mask replaces every detected entity in text with its session token,
// minting and persisting tokens for values the session has not seen.
func (mg *Manager) Mask(ctx context.Context, text, sessionID string) (string, error) {
	start := time.Now()
	defer func() { mg.m.RecordMaskLatency(time.Since(start)) }()

	if text == "" {
		return text, nil
	}

	spans, err := mg.detect(ctx, text)
	if err != nil {
		mg.m.ErrorsDetection.Add(1)
		mg.log.Errorf("mask", "session=%s detection failed: %v", sessionID, err)
		return "", fmt.Errorf("%w: %w", ErrDetection, err)
	}
	if len(spans) == 0 {
		return text, nil
	}

	unlock := mg.locks.lock(sessionID)
	defer unlock()

	existing, err := mg.store.GetAll(ctx, sessionID)
	if err != nil {
		return "", mg.storageError("mask", sessionID, err)
	}
	a := newAssigner(existing)

	var minted, reused int
	reps := make([]replacement, 0, len(spans))
	for _, sp := range spans {
		tok, isNew, err := mg.assign(ctx, sessionID, a, sp)
		if err != nil {
			return "", mg.storageError("mask", sessionID, err)
		}
		if isNew {
			minted++
			mg.m.RecordMinted(tokenType(sp.Type))
			mg.log.Debugf("mask", "session=%s minted %s for %d-byte %s value", sessionID, tok, len(sp.Text), sp.Type)
		} else {
			reused++
			mg.m.TokensReused.Add(1)
		}
		reps = append(reps, replacement{span: sp, token: tok})
	}

	out := substitute(text, mg.opts.Substitution, reps)
	mg.log.Infof("mask", "session=%s spans=%d minted=%d reused=%d", sessionID, len(spans), minted, reused)
	return out, nil
}

// Unmask replaces every token of the session found in text with its value.
// Tokens the session does not know are left as they are.
func (mg *Manager) Unmask(ctx context.Context, text, sessionID string) (string, error) {
	start := time.Now()
	defer func() { mg.m.RecordUnmaskLatency(time.Since(start)) }()

	if text == "" {
		return text, nil
	}

	mapping, err := mg.store.GetAll(ctx, sessionID)
	if err != nil {
		return "", mg.storageError("unmask", sessionID, err)
	}
	if len(mapping) == 0 {
		return text, nil
	}

	tokens := make([]string, 0, len(mapping))
	for tok := range mapping {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	pairs := make([]string, 0, 2*len(tokens))
	var restored int
	for _, tok := range tokens {
		pairs = append(pairs, tok, mapping[tok])
		restored += strings.Count(text, tok)
	}
	out := strings.NewReplacer(pairs...).Replace(text)

	mg.m.TokensRestored.Add(int64(restored))
	mg.log.Infof("unmask", "session=%s restored=%d", sessionID, restored)
	return out, nil
}

// Tokens returns a copy of the session's token→value mapping.
func (mg *Manager) Tokens(ctx context.Context, sessionID string) (map[string]string, error) {
	mapping, err := mg.store.GetAll(ctx, sessionID)
	if err != nil {
		return nil, mg.storageError("tokens", sessionID, err)
	}
	return mapping, nil
}

// Clear forgets every token of the session.
func (mg *Manager) Clear(ctx context.Context, sessionID string) error {
	unlock := mg.locks.lock(sessionID)
	defer unlock()
	if err := mg.store.Clear(ctx, sessionID); err != nil {
		return mg.storageError("clear", sessionID, err)
	}
	mg.log.Infof("clear", "session=%s cleared", sessionID)
	return nil
}

func (mg *Manager) detect(ctx context.Context, text string) ([]Span, error) {
	start := time.Now()
	preds, err := mg.det.Detect(ctx, text)
	mg.m.RecordDetectLatency(time.Since(start))
	if err != nil {
		return nil, err
	}
	if mg.opts.MinConfidence > 0 {
		kept := preds[:0:0]
		for _, p := range preds {
			if p.Score >= mg.opts.MinConfidence {
				kept = append(kept, p)
			}
		}
		preds = kept
	}
	return Group(text, preds), nil
}

// assign returns the session token for the span's value, minting one if
// needed. The bool reports whether a token was minted.
//
// Minting never overwrites: a counter whose token is already bound is
// skipped, unless it is bound to this same value, in which case it is reused.
func (mg *Manager) assign(ctx context.Context, sessionID string, a *assigner, sp Span) (string, bool, error) {
	if tok, ok := a.byValue[sp.Text]; ok {
		return tok, false, nil
	}
	typ := tokenType(sp.Type)
	for i := 0; i < maxMintAttempts; i++ {
		tok := FormatToken(typ, a.next(typ))
		ok, err := mg.store.SetIfAbsent(ctx, sessionID, tok, sp.Text)
		if err != nil {
			return "", false, err
		}
		if ok {
			a.bind(tok, sp.Text)
			return tok, true, nil
		}

		mg.m.TokenConflicts.Add(1)
		v, found, err := mg.store.Get(ctx, sessionID, tok)
		if err != nil {
			return "", false, err
		}
		if found {
			a.bind(tok, v)
			if v == sp.Text {
				return tok, false, nil
			}
		}
	}
	return "", false, fmt.Errorf("no free %s token after %d attempts", typ, maxMintAttempts)
}

func (mg *Manager) storageError(action, sessionID string, err error) error {
	mg.m.ErrorsStorage.Add(1)
	mg.log.Errorf(action, "session=%s store: %v", sessionID, err)
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
