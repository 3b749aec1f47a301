// Package similarity implements the deterministic string/set primitives and
// the multi-dimension scorer used for duplicate detection and correlation.
// Everything here is pure computation, no I/O.
package similarity

import "strings"

// StringSimilarity returns 1 - levenshtein(a,b)/max(len(a),len(b)),
// case-insensitive. Equal strings (including both empty) yield 1.0; exactly
// one empty yields 0.0.
func StringSimilarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein computes edit distance with a two-row matrix.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// SetSimilarity returns the Jaccard index |A∩B| / |A∪B|. Two empty sets
// agree vacuously (1.0); exactly one empty yields 0.0. Duplicate elements
// are collapsed.
func SetSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	union := make(map[string]struct{}, len(a)+len(b))
	inA := make(map[string]struct{}, len(a))
	for _, x := range a {
		union[x] = struct{}{}
		inA[x] = struct{}{}
	}
	intersection := 0
	seen := make(map[string]struct{}, len(b))
	for _, x := range b {
		if _, dup := seen[x]; dup {
			continue
		}
		seen[x] = struct{}{}
		union[x] = struct{}{}
		if _, ok := inA[x]; ok {
			intersection++
		}
	}
	return float64(intersection) / float64(len(union))
}

// Intersection returns the elements common to both slices, deduplicated,
// preserving a's order.
func Intersection(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, x := range b {
		inB[x] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{}, len(a))
	for _, x := range a {
		if _, dup := seen[x]; dup {
			continue
		}
		seen[x] = struct{}{}
		if _, ok := inB[x]; ok {
			out = append(out, x)
		}
	}
	return out
}
