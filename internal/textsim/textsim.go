// Package textsim scores how alike two text snippets are. The sampler
// uses it to suppress scene narrations that would repeat what was just
// said.
package textsim

import "strings"

// Similarity returns the Jaccard index of the case-insensitive word
// sets of a and b, in [0,1]. An empty input yields 0: no words is no
// evidence of similarity. Symmetric and deterministic.
func Similarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection

	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}
