package masking

import (
	"strings"
	"unicode/utf8"

	"kavach/internal/detector"
)

// subwordMarker prefixes WordPiece fragments that continue the previous word.
const subwordMarker = "##"

// Span is one entity reconstructed from consecutive raw predictions.
type Span struct {
	Text  string // surface form, e.g. "Amit Kumar"
	Type  string // label without B-/I- prefix, e.g. "PER"
	Start int    // byte offset into the source text, -1 if unknown
	End   int    // byte offset one past the span, -1 if unknown
	First int    // detector position of the first prediction
	Last  int    // detector position of the last prediction
}

// HasOffsets reports whether the span is anchored in the source text.
func (s Span) HasOffsets() bool { return s.Start >= 0 && s.End > s.Start }

// accumulator is the fold state of Group: either no span is open, or exactly
// one is, together with whether every prediction in it carried offsets.
type accumulator struct {
	open    bool
	span    Span
	offsets bool
}

// Group merges raw sub-word predictions into entity spans, in order.
//
// A prediction extends the open span when its word is a "##" fragment, or
// when its label is I-X and X is the open span's type. Anything else closes
// the open span and starts a new one. Positions are not checked for
// contiguity; only labels and markers decide.
//
// Fragments are joined directly for "##" pieces and with a single space for
// whole-word continuations. When every prediction of a span carries
// character offsets and consecutive pieces are adjacent in text (nothing
// between sub-words, only whitespace between words), the span text is
// instead the exact source slice they cover. Spans with no visible text are
// dropped.
func Group(text string, preds []detector.Prediction) []Span {
	conv := newOffsetConverter(text)
	var (
		out []Span
		acc accumulator
	)
	for _, p := range preds {
		frag, sub := cleanWord(p.Word)
		typ := EntityType(p.Entity)
		start, end, ok := conv.byteRange(p)

		if acc.open && (sub || (isContinuation(p.Entity) && typ == acc.span.Type)) {
			acc.extend(text, frag, sub, start, end, ok, p.Index)
			continue
		}
		if acc.open {
			out = acc.flush(out, text)
		}
		acc = accumulator{
			open:    true,
			offsets: ok,
			span:    Span{Text: frag, Type: typ, Start: start, End: end, First: p.Index, Last: p.Index},
		}
	}
	if acc.open {
		out = acc.flush(out, text)
	}
	return out
}

func (a *accumulator) extend(text, frag string, sub bool, start, end int, ok bool, index int) {
	switch {
	case a.span.Text == "":
		a.span.Text = frag
	case sub:
		a.span.Text += frag
	default:
		a.span.Text += " " + frag
	}
	if a.offsets && (!ok || !adjacent(text, a.span.End, start, sub)) {
		a.offsets = false
	}
	if ok && end > a.span.End {
		a.span.End = end
	}
	a.span.Last = index
}

// adjacent reports whether a piece starting at start directly follows one
// ending at prev: with nothing in between for a sub-word, whitespace only
// for a whole word.
func adjacent(text string, prev, start int, sub bool) bool {
	if start < prev || start > len(text) {
		return false
	}
	gap := text[prev:start]
	if sub {
		return gap == ""
	}
	return strings.TrimSpace(gap) == ""
}

// flush closes the open span and appends it to out unless it is blank.
func (a *accumulator) flush(out []Span, text string) []Span {
	s := a.close(text)
	if strings.TrimSpace(s.Text) == "" {
		return out
	}
	return append(out, s)
}

func (a *accumulator) close(text string) Span {
	s := a.span
	if a.offsets && s.Start >= 0 && s.End > s.Start && s.End <= len(text) {
		s.Text = text[s.Start:s.End]
	} else {
		s.Start, s.End = -1, -1
	}
	return s
}

// cleanWord strips the sub-word marker and reports whether it was present.
func cleanWord(w string) (string, bool) {
	if strings.HasPrefix(w, subwordMarker) {
		return w[len(subwordMarker):], true
	}
	return w, false
}

// EntityType strips the B-/I- prefix from a label: "I-LOC" → "LOC".
func EntityType(label string) string {
	if len(label) > 2 && (label[0] == 'B' || label[0] == 'I') && label[1] == '-' {
		return label[2:]
	}
	return label
}

func isContinuation(label string) bool {
	return strings.HasPrefix(label, "I-")
}

// offsetConverter maps character (code point) offsets, as token
// classification pipelines report them, to byte offsets into text.
type offsetConverter struct {
	n          int   // text length in code points
	runeToByte []int // nil when text is ASCII and offsets coincide
}

func newOffsetConverter(text string) offsetConverter {
	n := utf8.RuneCountInString(text)
	if n == len(text) {
		return offsetConverter{n: n}
	}
	idx := make([]int, 0, n+1)
	for i := range text {
		idx = append(idx, i)
	}
	idx = append(idx, len(text))
	return offsetConverter{n: n, runeToByte: idx}
}

// byteRange converts the prediction's offsets, reporting false when the
// prediction has none or they fall outside the text.
func (c offsetConverter) byteRange(p detector.Prediction) (int, int, bool) {
	if !p.HasOffsets() || p.End > c.n || p.End == p.Start {
		return -1, -1, false
	}
	if c.runeToByte == nil {
		return p.Start, p.End, true
	}
	return c.runeToByte[p.Start], c.runeToByte[p.End], true
}
