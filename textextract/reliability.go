package textextract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultMinLength is the minimum text length accepted for reliability
// scoring; anything shorter is rejected outright.
const DefaultMinLength = 100

// Keywords expected on an Italian delivery note. Density over this list
// feeds the reliability score.
var ddtKeywords = []string{
	"ddt", "documento", "trasporto", "data", "kg", "totale",
	"mittente", "destinatario", "numero", "peso",
	"quantità", "descrizione", "unità", "prezzo", "importo",
}

var (
	isolatedLetterRe = regexp.MustCompile(`\s[a-zA-Z]\s`)
	strangeRunRe     = regexp.MustCompile(`[^\w\s.,;:/()\[\]{}-]{3,}`)
)

// Reliability gates, tuned on real scanner output.
const (
	minKeywordDensity = 0.2
	minReadability    = 0.5
	minConfidence     = 0.6
)

// IsReliable judges whether extracted text can be trusted for rule
// detection and prompt grounding. Confidence blends keyword density
// (40%) with readability (60%); readability weighs more because it is
// what separates real text from OCR garbage. Returns the verdict, the
// confidence in [0,1] and a diagnostic reason.
func IsReliable(text string, minLength int) (bool, float64, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, 0.0, "empty text"
	}
	if len([]rune(text)) < minLength {
		return false, 0.0, fmt.Sprintf("text too short: %d chars", len([]rune(text)))
	}

	density := keywordDensity(text)
	if density < minKeywordDensity {
		return false, density, fmt.Sprintf("keyword density too low: %.2f", density)
	}

	readability := readabilityScore(text)
	if readability < minReadability {
		return false, readability, fmt.Sprintf("readability too low: %.2f", readability)
	}

	confidence := 0.4*density + 0.6*readability
	if confidence < minConfidence {
		return false, confidence, fmt.Sprintf("confidence below threshold: %.2f", confidence)
	}
	return true, confidence, fmt.Sprintf("reliable, density %.2f, readability %.2f", density, readability)
}

// keywordDensity is the fraction of the DDT keyword list found in the
// text, case-insensitive substring match.
func keywordDensity(text string) float64 {
	lower := strings.ToLower(text)
	found := 0
	for _, kw := range ddtKeywords {
		if strings.Contains(lower, kw) {
			found++
		}
	}
	return float64(found) / float64(len(ddtKeywords))
}

// readabilityScore is the fraction of readable characters minus capped
// penalties for OCR-noise patterns, clamped to [0,1].
func readabilityScore(text string) float64 {
	runes := []rune(text)
	readable := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(" .,;:/-()[]{}", r) {
			readable++
		}
	}
	ratio := float64(readable) / float64(len(runes))

	// Isolated single letters are the classic signature of garbled OCR.
	isolated := len(isolatedLetterRe.FindAllString(text, -1))
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	isolatedPenalty := min(float64(isolated)/float64(words), 0.3)

	strange := len(strangeRunRe.FindAllString(text, -1))
	strangePenalty := min(float64(strange)*0.1, 0.2)

	score := ratio - isolatedPenalty - strangePenalty
	return max(0.0, min(1.0, score))
}
