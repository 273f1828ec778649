package detector

import (
	"context"
	"regexp"
	"sort"
	"unicode/utf8"
)

// Pattern labels every match of Re as an entity of Type. When Re has a
// capture group, only the first group is reported.
type Pattern struct {
	Type string
	Re   *regexp.Regexp
}

// DefaultPatterns covers structured identifiers a language model tends to
// miss. Earlier patterns win where matches overlap, so card numbers are
// tried before phone numbers.
func DefaultPatterns() []Pattern {
	specs := []struct {
		typ  string
		expr string
	}{
		{"EMAIL", `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`},
		{"SECRET", `(?i)(?:api[_\-]?key|token|secret|bearer)[\s"':=]+([a-zA-Z0-9_\-.]{20,})`},
		{"CARD", `\b(?:\d{4}[\-\s]?){3}\d{4}\b`},
		{"IP", `\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`},
		{"PHONE", `(?:\+\d{1,3}[\s\-]?)?\(?\b\d{3}\)?[\-.\s]?\d{3}[\-.\s]?\d{4}\b`},
	}
	out := make([]Pattern, 0, len(specs))
	for _, s := range specs {
		out = append(out, Pattern{Type: s.typ, Re: regexp.MustCompile(s.expr)})
	}
	return out
}

// Patterns is a Detector driven by regular expressions.
type Patterns struct {
	patterns []Pattern
}

// NewPatterns returns a Detector for ps.
func NewPatterns(ps []Pattern) *Patterns {
	return &Patterns{patterns: ps}
}

type offsetRange struct{ start, end int }

// Detect reports one B- prediction per non-overlapping match, in text order,
// with character offsets.
func (p *Patterns) Detect(_ context.Context, text string) ([]Prediction, error) {
	var (
		taken []offsetRange
		preds []Prediction
	)
	for _, pat := range p.patterns {
		for _, loc := range pat.Re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if len(loc) >= 4 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			if start == end || overlaps(taken, start, end) {
				continue
			}
			taken = append(taken, offsetRange{start, end})
			preds = append(preds, Prediction{
				Word:   text[start:end],
				Entity: "B-" + pat.Type,
				Score:  1,
				Start:  utf8.RuneCountInString(text[:start]),
				End:    utf8.RuneCountInString(text[:end]),
			})
		}
	}
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Start < preds[j].Start })
	for i := range preds {
		preds[i].Index = i + 1
	}
	return preds, nil
}

func overlaps(taken []offsetRange, start, end int) bool {
	for _, t := range taken {
		if start < t.end && t.start < end {
			return true
		}
	}
	return false
}

// Combine runs primary, then appends the predictions of each extra detector
// that do not overlap anything reported before them. Extras are expected to
// report B- labels so they never extend a span of primary.
func Combine(primary Detector, extra ...Detector) Detector {
	return Func(func(ctx context.Context, text string) ([]Prediction, error) {
		preds, err := primary.Detect(ctx, text)
		if err != nil {
			return nil, err
		}
		var covered []offsetRange
		for _, p := range preds {
			if p.HasOffsets() {
				covered = append(covered, offsetRange{p.Start, p.End})
			}
		}
		for _, d := range extra {
			more, err := d.Detect(ctx, text)
			if err != nil {
				return nil, err
			}
			for _, p := range more {
				if p.HasOffsets() && overlaps(covered, p.Start, p.End) {
					continue
				}
				if p.HasOffsets() {
					covered = append(covered, offsetRange{p.Start, p.End})
				}
				preds = append(preds, p)
			}
		}
		return preds, nil
	})
}

// WithPatterns wraps factory so the detector it builds is combined with
// the given pattern detector.
func WithPatterns(factory Factory, ps []Pattern) Factory {
	pd := NewPatterns(ps)
	return func(ctx context.Context) (Detector, error) {
		d, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		return Combine(d, pd), nil
	}
}
