package siseon

import (
	"strings"
	"unicode"
)

// MatchKind names the comparison that produced a SimilarityResult.
type MatchKind string

const (
	KindTitle       MatchKind = "title"
	KindContent     MatchKind = "content"
	KindExact       MatchKind = "exact"
	KindSignature   MatchKind = "signature"
	KindLengthGroup MatchKind = "length-group"
)

// SimilarityResult is the outcome of one comparison.
type SimilarityResult struct {
	Score       float64   `json:"score"`
	IsDuplicate bool      `json:"is_duplicate"`
	Kind        MatchKind `json:"kind"`
	Threshold   float64   `json:"threshold"`
}

// Normalize drops every rune that is not a letter, digit, underscore or space,
// lowercases ASCII letters and collapses whitespace runs into single spaces.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Score returns a symmetric similarity in [0,1] between the normalized forms
// of a and b: twice the longest common subsequence over the summed lengths.
func Score(a, b string) float64 {
	return scoreNormalized(Normalize(a), Normalize(b))
}

func scoreNormalized(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	return 2 * float64(lcsLength(ra, rb)) / float64(total)
}

// lcsLength computes the longest common subsequence with two rolling rows.
func lcsLength(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int32, len(b)+1)
	curr := make([]int32, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return int(prev[len(b)])
}

// Classify reports whether score reaches threshold.
func Classify(score, threshold float64) bool {
	return score >= threshold
}

// TitleSimilarity compares two titles against threshold.
func TitleSimilarity(a, b string, threshold float64) SimilarityResult {
	return similarityResult(Score(a, b), threshold, KindTitle)
}

// ContentSimilarity compares two bodies against threshold.
func ContentSimilarity(a, b string, threshold float64) SimilarityResult {
	return normalizedSimilarity(Normalize(a), Normalize(b), threshold, KindContent)
}

// normalizedSimilarity scores texts that were already passed through Normalize.
func normalizedSimilarity(a, b string, threshold float64, kind MatchKind) SimilarityResult {
	return similarityResult(scoreNormalized(a, b), threshold, kind)
}

func similarityResult(score, threshold float64, kind MatchKind) SimilarityResult {
	return SimilarityResult{
		Score:       score,
		IsDuplicate: Classify(score, threshold),
		Kind:        kind,
		Threshold:   threshold,
	}
}
