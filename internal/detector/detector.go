// Package detector is the boundary to the named-entity recognition model.
//
// The masking engine treats the model as an opaque capability: given text,
// return the raw token-level predictions (label, sub-word text, position,
// confidence). The bundled implementation calls a token-classification
// sidecar over HTTP; tests and the CLI can plug in any function via Func.
package detector

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the detector could not be initialised.
var ErrUnavailable = errors.New("detector: unavailable")

// Prediction is one raw token-level prediction from the model.
//
// Entity carries a B-/I- prefix ("B-PER", "I-LOC") marking span begin versus
// continuation. Word may carry the "##" sub-word continuation marker.
// Start and End are character offsets into the input when the model reports
// them, and -1 otherwise.
type Prediction struct {
	Word   string  `json:"word"`
	Entity string  `json:"entity"`
	Index  int     `json:"index"`
	Score  float64 `json:"score"`
	Start  int     `json:"start"`
	End    int     `json:"end"`
}

// HasOffsets reports whether the prediction carries character offsets.
func (p Prediction) HasOffsets() bool {
	return p.Start >= 0 && p.End >= p.Start
}

// Detector turns text into raw entity predictions, in input order.
// Implementations must be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, text string) ([]Prediction, error)
}

// Func adapts an ordinary function to the Detector interface.
type Func func(ctx context.Context, text string) ([]Prediction, error)

// Detect calls f(ctx, text).
func (f Func) Detect(ctx context.Context, text string) ([]Prediction, error) {
	return f(ctx, text)
}
