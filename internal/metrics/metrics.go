// Package metrics provides lightweight, lock-minimal counters for the
// masking gateway.
//
// Counters use sync/atomic so hot paths (token minting, restoration) incur no
// mutex contention. Latency statistics use a single mutex per dimension; they
// are updated at most once per mask/unmask call.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// knownEntityTypes lists the entity types the bundled NER models and the
// pattern detector emit.
// Used to pre-populate per-type counter maps in New() so Snapshot() can
// iterate a fixed set without racing on map writes.
var knownEntityTypes = []string{"PER", "LOC", "ORG", "MISC", "EMAIL", "SECRET", "CARD", "IP", "PHONE"}

// Metrics holds all runtime counters for a running gateway instance.
// The zero value is NOT valid for the per-type counters; use New().
type Metrics struct {
	// Request counters
	SanitizeRequests   atomic.Int64
	DesanitizeRequests atomic.Int64
	RequestsRejected   atomic.Int64 // validation failures
	RequestsThrottled  atomic.Int64 // rate-limited

	// Error counters
	ErrorsDetection atomic.Int64
	ErrorsStorage   atomic.Int64

	// Token volume
	TokensReused   atomic.Int64
	TokensRestored atomic.Int64
	TokenConflicts atomic.Int64 // set-if-absent lost to another writer

	// Maps are written only in New(); concurrent reads are safe without a lock.
	minted map[string]*atomic.Int64

	maskMu   sync.Mutex
	maskStat latencyStats

	unmaskMu   sync.Mutex
	unmaskStat latencyStats

	detectMu   sync.Mutex
	detectStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and per-type
// counters pre-populated for all known entity types.
func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		minted:    make(map[string]*atomic.Int64, len(knownEntityTypes)),
	}
	for _, t := range knownEntityTypes {
		m.minted[t] = new(atomic.Int64)
	}
	return m
}

// RecordMinted increments the minted-token counter for the given entity type.
// Unknown types are counted under MISC.
func (m *Metrics) RecordMinted(entityType string) {
	c, ok := m.minted[entityType]
	if !ok {
		c, ok = m.minted["MISC"]
	}
	if ok {
		c.Add(1)
	}
}

// TokensMinted returns the total number of minted tokens across all types.
func (m *Metrics) TokensMinted() int64 {
	var n int64
	for _, c := range m.minted {
		n += c.Load()
	}
	return n
}

// RecordMaskLatency records the duration of one mask call.
func (m *Metrics) RecordMaskLatency(d time.Duration) {
	m.maskMu.Lock()
	m.maskStat.record(ms(d))
	m.maskMu.Unlock()
}

// RecordUnmaskLatency records the duration of one unmask call.
func (m *Metrics) RecordUnmaskLatency(d time.Duration) {
	m.unmaskMu.Lock()
	m.unmaskStat.record(ms(d))
	m.unmaskMu.Unlock()
}

// RecordDetectLatency records the round-trip time to the entity detector.
func (m *Metrics) RecordDetectLatency(d time.Duration) {
	m.detectMu.Lock()
	m.detectStat.record(ms(d))
	m.detectMu.Unlock()
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.maskMu.Lock()
	mask := m.maskStat.snapshot()
	m.maskMu.Unlock()

	m.unmaskMu.Lock()
	unmask := m.unmaskStat.snapshot()
	m.unmaskMu.Unlock()

	m.detectMu.Lock()
	detect := m.detectStat.snapshot()
	m.detectMu.Unlock()

	byType := make(map[string]int64, len(m.minted))
	var total int64
	for t, c := range m.minted {
		if n := c.Load(); n > 0 {
			byType[t] = n
			total += n
		}
	}

	return Snapshot{
		Requests: RequestSnapshot{
			Sanitize:   m.SanitizeRequests.Load(),
			Desanitize: m.DesanitizeRequests.Load(),
			Rejected:   m.RequestsRejected.Load(),
			Throttled:  m.RequestsThrottled.Load(),
		},
		Errors: ErrorSnapshot{
			Detection: m.ErrorsDetection.Load(),
			Storage:   m.ErrorsStorage.Load(),
		},
		Tokens: TokenSnapshot{
			Minted:       total,
			MintedByType: byType,
			Reused:       m.TokensReused.Load(),
			Restored:     m.TokensRestored.Load(),
			Conflicts:    m.TokenConflicts.Load(),
		},
		Latency: LatencyGroup{
			MaskMs:   mask,
			UnmaskMs: unmask,
			DetectMs: detect,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests   RequestSnapshot `json:"requests"`
	Errors     ErrorSnapshot   `json:"errors"`
	Tokens     TokenSnapshot   `json:"tokens"`
	Latency    LatencyGroup    `json:"latency"`
	UptimeSecs float64         `json:"uptimeSecs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Sanitize   int64 `json:"sanitize"`
	Desanitize int64 `json:"desanitize"`
	Rejected   int64 `json:"rejected"`
	Throttled  int64 `json:"throttled"`
}

// ErrorSnapshot holds error counters.
type ErrorSnapshot struct {
	Detection int64 `json:"detection"`
	Storage   int64 `json:"storage"`
}

// TokenSnapshot holds token volume counters.
type TokenSnapshot struct {
	Minted       int64            `json:"minted"`
	MintedByType map[string]int64 `json:"mintedByType,omitempty"` // only non-zero types
	Reused       int64            `json:"reused"`
	Restored     int64            `json:"restored"`
	Conflicts    int64            `json:"conflicts"`
}

// LatencyGroup groups the latency dimensions.
type LatencyGroup struct {
	MaskMs   LatencySnapshot `json:"maskMs"`
	UnmaskMs LatencySnapshot `json:"unmaskMs"`
	DetectMs LatencySnapshot `json:"detectMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
