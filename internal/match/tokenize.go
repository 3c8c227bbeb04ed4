package match

import (
	"strings"
	"unicode"
)

// Tokenize lowercases s, replaces every rune other than a letter, digit,
// space, hyphen or dot with a space, and splits on whitespace and hyphens.
func Tokenize(s string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' {
			return unicode.ToLower(r)
		}
		// Hyphens split tokens just like everything else we drop.
		return ' '
	}, s)
	return strings.Fields(cleaned)
}

// OverlapRatio scores how much of query is covered by candidate. A query
// token present verbatim counts 1; otherwise, if it is a substring of some
// candidate token or contains one, it counts 0.5. The sum is divided by the
// number of query tokens.
func OverlapRatio(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(candidate))
	for _, c := range candidate {
		set[c] = struct{}{}
	}

	var score float64
	for _, q := range query {
		if _, ok := set[q]; ok {
			score++
			continue
		}
		for _, c := range candidate {
			if strings.Contains(c, q) || strings.Contains(q, c) {
				score += 0.5
				break
			}
		}
	}
	return score / float64(len(query))
}
