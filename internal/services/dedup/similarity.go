package dedup

import (
	"math"
	"strings"
)

// similarityThreshold is applied to both measures. Titles pass when
// either the trigram cosine or the Levenshtein ratio reaches it.
const similarityThreshold = 0.85

// titlesSimilar reports whether two job titles are near-equal. Two
// measures are combined because they fail differently: the trigram
// cosine tolerates reordered words, the Levenshtein ratio tolerates
// small in-place edits.
func titlesSimilar(a, b string) bool {
	na, nb := normalizeTitle(a), normalizeTitle(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if trigramCosine(na, nb) >= similarityThreshold {
		return true
	}
	return levenshteinRatio(na, nb) >= similarityThreshold
}

func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// trigramCosine computes cosine similarity over character 3-gram
// frequency vectors.
func trigramCosine(a, b string) float64 {
	va, vb := trigramCounts(a), trigramCounts(b)
	if len(va) == 0 || len(vb) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for gram, ca := range va {
		normA += float64(ca * ca)
		if cb, ok := vb[gram]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range vb {
		normB += float64(cb * cb)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func trigramCounts(s string) map[string]int {
	runes := []rune(s)
	if len(runes) < 3 {
		return map[string]int{s: 1}
	}
	out := make(map[string]int)
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])]++
	}
	return out
}

// levenshteinRatio is 1 - distance/maxLen, in [0,1].
func levenshteinRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein is the classic two-row edit distance.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
