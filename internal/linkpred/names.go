package linkpred

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Normalize upper-cases a name, folds Ё into Е, drops everything but letters,
// spaces and hyphens, and collapses runs of whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		switch {
		case r == 'Ё':
			r = 'Е'
		case unicode.IsSpace(r):
			space = true
			continue
		case !unicode.IsLetter(r) && r != '-':
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// BlockingKey is the first n runes of the normalized surname.
func BlockingKey(lastName string, n int) string {
	norm := Normalize(lastName)
	if n <= 0 || utf8.RuneCountInString(norm) <= n {
		return norm
	}
	return string([]rune(norm)[:n])
}

// Similarity is 1 - levenshtein/maxLen over normalized names, and 0 when
// either side is empty.
func Similarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == "" || b == "" {
		return 0
	}
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// surnameStem drops the feminine suffix so ИВАНОВА and ИВАНОВ match.
func surnameStem(norm string) string {
	switch {
	case strings.HasSuffix(norm, "СКАЯ"), strings.HasSuffix(norm, "ЦКАЯ"):
		return strings.TrimSuffix(norm, "АЯ") + "ИЙ"
	case strings.HasSuffix(norm, "ОВА"), strings.HasSuffix(norm, "ЕВА"), strings.HasSuffix(norm, "ИНА"):
		return strings.TrimSuffix(norm, "А")
	}
	return norm
}

type surnameSet map[string]bool

func newSurnameSet(names []string) surnameSet {
	set := make(surnameSet, len(names))
	for _, n := range names {
		set[surnameStem(Normalize(n))] = true
	}
	return set
}

func (s surnameSet) common(lastName string) bool {
	return s[surnameStem(Normalize(lastName))]
}
