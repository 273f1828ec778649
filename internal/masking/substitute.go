package masking

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Substitution selects how detected spans are replaced by their tokens.
type Substitution string

const (
	// SubstituteOffsets replaces each span at its reported position, then
	// every remaining whole-word occurrence of the values masked in the call.
	SubstituteOffsets Substitution = "offsets"
	// SubstituteFirst replaces the first occurrence of each span's text in
	// the working output, span by span.
	SubstituteFirst Substitution = "first"
)

// segment is a piece of the output under construction. Token segments are
// never searched again, so a value cannot match inside an inserted token.
type segment struct {
	s     string
	token bool
}

type replacement struct {
	span  Span
	token string
}

func substitute(text string, mode Substitution, reps []replacement) string {
	if mode == SubstituteFirst {
		segs := []segment{{s: text}}
		for _, r := range reps {
			segs, _ = replaceFirst(segs, r.span.Text, r.token)
		}
		return join(segs)
	}

	var anchored, loose []replacement
	for _, r := range reps {
		sp := r.span
		if sp.HasOffsets() && sp.End <= len(text) && text[sp.Start:sp.End] == sp.Text {
			anchored = append(anchored, r)
		} else {
			loose = append(loose, r)
		}
	}

	segs := splitAnchored(text, anchored)
	for _, r := range loose {
		segs, _ = replaceFirst(segs, r.span.Text, r.token)
	}

	// Sweep remaining whole-word mentions, longest value first so that
	// "Amit Kumar" is taken before "Amit".
	sweep := make([]replacement, 0, len(reps))
	seen := make(map[string]bool, len(reps))
	for _, r := range reps {
		if r.span.Text == "" || seen[r.span.Text] {
			continue
		}
		seen[r.span.Text] = true
		sweep = append(sweep, r)
	}
	sort.SliceStable(sweep, func(i, j int) bool {
		return len(sweep[i].span.Text) > len(sweep[j].span.Text)
	})
	for _, r := range sweep {
		segs = replaceWords(segs, r.span.Text, r.token)
	}
	return join(segs)
}

// splitAnchored cuts text at the anchored spans. Spans overlapping an
// earlier one are skipped.
func splitAnchored(text string, reps []replacement) []segment {
	sort.SliceStable(reps, func(i, j int) bool { return reps[i].span.Start < reps[j].span.Start })
	var (
		segs []segment
		pos  int
	)
	for _, r := range reps {
		if r.span.Start < pos {
			continue
		}
		if r.span.Start > pos {
			segs = append(segs, segment{s: text[pos:r.span.Start]})
		}
		segs = append(segs, segment{s: r.token, token: true})
		pos = r.span.End
	}
	if pos < len(text) {
		segs = append(segs, segment{s: text[pos:]})
	}
	return segs
}

// replaceFirst replaces the first occurrence of value in a plain segment.
func replaceFirst(segs []segment, value, token string) ([]segment, bool) {
	if value == "" {
		return segs, false
	}
	for i, sg := range segs {
		if sg.token {
			continue
		}
		at := strings.Index(sg.s, value)
		if at < 0 {
			continue
		}
		out := make([]segment, 0, len(segs)+2)
		out = append(out, segs[:i]...)
		out = append(out, cut(sg.s, at, len(value), token)...)
		out = append(out, segs[i+1:]...)
		return out, true
	}
	return segs, false
}

// replaceWords replaces every occurrence of value in plain segments that is
// not part of a longer word.
func replaceWords(segs []segment, value, token string) []segment {
	out := make([]segment, 0, len(segs))
	for _, sg := range segs {
		if sg.token {
			out = append(out, sg)
			continue
		}
		rest := sg.s
		for {
			at := wordIndex(rest, value)
			if at < 0 {
				break
			}
			if at > 0 {
				out = append(out, segment{s: rest[:at]})
			}
			out = append(out, segment{s: token, token: true})
			rest = rest[at+len(value):]
		}
		if rest != "" {
			out = append(out, segment{s: rest})
		}
	}
	return out
}

// wordIndex is strings.Index restricted to matches bounded by non-word runes.
func wordIndex(s, value string) int {
	off := 0
	for {
		at := strings.Index(s[off:], value)
		if at < 0 {
			return -1
		}
		at += off
		end := at + len(value)
		if !isWordRuneBefore(s, at) && !isWordRuneAt(s, end) {
			return at
		}
		_, size := utf8.DecodeRuneInString(s[at:])
		off = at + size
	}
}

func isWordRuneBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return isWordRune(r)
}

func isWordRuneAt(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func cut(s string, at, n int, token string) []segment {
	segs := make([]segment, 0, 3)
	if at > 0 {
		segs = append(segs, segment{s: s[:at]})
	}
	segs = append(segs, segment{s: token, token: true})
	if at+n < len(s) {
		segs = append(segs, segment{s: s[at+n:]})
	}
	return segs
}

func join(segs []segment) string {
	var b strings.Builder
	for _, sg := range segs {
		b.WriteString(sg.s)
	}
	return b.String()
}
