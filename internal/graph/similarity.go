package graph

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultFuzzyThreshold is the minimum similarity for a fuzzy candidate.
const DefaultFuzzyThreshold = 0.5

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)) measured in
// runes. It is symmetric and in [0, 1]; two empty strings score 1.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
