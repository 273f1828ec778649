package masking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// tokenPattern matches a whole token such as "{{PER_1}}" or "{{MISC_12}}".
var tokenPattern = regexp.MustCompile(`^\{\{([A-Z0-9_]+)_([0-9]+)\}\}$`)

// FormatToken renders the placeholder for the n-th value of an entity type.
func FormatToken(entityType string, n int) string {
	return fmt.Sprintf("{{%s_%d}}", entityType, n)
}

// ParseToken splits a token into its entity type and counter.
func ParseToken(token string) (string, int, bool) {
	m := tokenPattern.FindStringSubmatch(token)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return m[1], n, true
}

// tokenType normalises a detector label type for use inside a token:
// upper case, with anything outside [A-Z0-9_] replaced by '_'.
func tokenType(entityType string) string {
	t := strings.Map(func(r rune) rune {
		r = unicode.ToUpper(r)
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, entityType)
	if t == "" {
		return "MISC"
	}
	return t
}

// assigner is the per-call view of a session mapping: the value→token
// inverse plus the highest counter seen for each type.
type assigner struct {
	byValue  map[string]string
	counters map[string]int
}

func newAssigner(mapping map[string]string) *assigner {
	a := &assigner{
		byValue:  make(map[string]string, len(mapping)),
		counters: make(map[string]int),
	}
	for tok, v := range mapping {
		a.bind(tok, v)
	}
	return a
}

// bind records tok→value. If the value already has a token the earlier one
// (lower counter) wins, so the choice does not depend on map order.
func (a *assigner) bind(tok, value string) {
	typ, n, ok := ParseToken(tok)
	if ok && n > a.counters[typ] {
		a.counters[typ] = n
	}
	if cur, exists := a.byValue[value]; exists && !tokenLess(tok, cur) {
		return
	}
	a.byValue[value] = tok
}

// next returns the next unused counter for typ.
func (a *assigner) next(typ string) int {
	a.counters[typ]++
	return a.counters[typ]
}

func tokenLess(x, y string) bool {
	tx, nx, okx := ParseToken(x)
	ty, ny, oky := ParseToken(y)
	if okx && oky && tx == ty {
		return nx < ny
	}
	return x < y
}
