package layout

import (
	"math"
	"strings"
)

// Stop words excluded from token-overlap scoring: legal suffixes plus
// common Italian connector words that carry no identity.
var senderStopWords = map[string]struct{}{
	"srl": {}, "spa": {}, "sas": {}, "snc": {}, "sa": {},
	"societa": {}, "società": {}, "socio": {}, "unico": {}, "con": {},
	"di": {}, "e": {}, "il": {}, "lo": {}, "la": {}, "le": {}, "i": {},
	"del": {}, "della": {}, "dei": {}, "delle": {}, "da": {}, "per": {},
	"c": {}, "co": {}, "figli": {}, "f": {}, "lli": {},
}

// SenderSimilarity scores how likely two sender names refer to the same
// company, in [0,1]. Token overlap dominates the blend because it
// survives OCR corruption of individual characters better than sequence
// matching does.
func SenderSimilarity(a, b string) float64 {
	na := NormalizeSender(a)
	nb := NormalizeSender(b)
	if na == "" || nb == "" {
		return 0.0
	}

	tokensA := significantTokenSet(na)
	tokensB := significantTokenSet(nb)
	overlap := jaccard(tokensA, tokensB)

	// Sequence ratio runs on the full normalized strings, stop words
	// included, so short names still get a usable signal.
	ratio := sequenceRatio(na, nb)

	return 0.6*overlap + 0.4*ratio
}

func significantTokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		if _, stop := senderStopWords[tok]; stop {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	common := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			common++
		}
	}
	union := len(a) + len(b) - common
	return float64(common) / float64(union)
}

// sequenceRatio is a character-level similarity in [0,1]: twice the total
// length of the matching blocks divided by the combined length, computed
// by recursively splitting around the longest common substring.
func sequenceRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	matched := matchingChars([]rune(a), []rune(b))
	return 2.0 * float64(matched) / float64(len([]rune(a))+len([]rune(b)))
}

func matchingChars(a, b []rune) int {
	ai, bi, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingChars(a[:ai], b[:bi])
	total += matchingChars(a[ai+size:], b[bi+size:])
	return total
}

func longestCommonBlock(a, b []rune) (ai, bi, size int) {
	// Dynamic programming over suffix lengths; inputs here are short
	// company names, so the quadratic table is fine.
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai = i - size
					bi = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}

// GeometrySimilarity compares two layout signatures in [0,1]: Euclidean
// distance normalized by the theoretical maximum for vectors bounded in
// [0,1], inverted and clamped. Signatures of different lengths are
// incomparable and score 0.
func GeometrySimilarity(sig1, sig2 Signature) float64 {
	if len(sig1) != len(sig2) {
		return 0.0
	}
	if len(sig1) == 0 {
		return 0.0
	}

	var sum float64
	for i := range sig1 {
		d := sig1[i] - sig2[i]
		sum += d * d
	}
	distance := math.Sqrt(sum)
	maxDistance := math.Sqrt(float64(len(sig1)))

	score := 1.0 - distance/maxDistance
	return math.Max(0.0, math.Min(1.0, score))
}
