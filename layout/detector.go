package layout

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Detection strategies, reported on every match.
const (
	StrategyGeometry = "geometry"
	StrategyTextual  = "textual"
)

// Default acceptance thresholds for the two strategies.
const (
	DefaultGeometryThreshold = 0.85
	DefaultTextThreshold     = 0.6
)

// A candidate at or above this raw score survives a page-count mismatch
// with a penalty; anything below is discarded outright.
const pageCountMismatchFloor = 0.8

const pageCountMismatchPenalty = 0.95

// Match is a successful detection: the winning rule, its score and the
// strategy that produced it.
type Match struct {
	RuleName string
	Rule     Rule
	Score    float64
	Strategy string
}

// Detector selects the best-matching layout template for an incoming
// document. Geometry is tried first and wins outright; the textual
// fallback only runs when no template clears the geometric bar.
type Detector struct {
	store             *Store
	GeometryThreshold float64
	TextThreshold     float64
}

// NewDetector creates a detector over the given rule store with default
// thresholds.
func NewDetector(store *Store) *Detector {
	return &Detector{
		store:             store,
		GeometryThreshold: DefaultGeometryThreshold,
		TextThreshold:     DefaultTextThreshold,
	}
}

// Detect returns the best-matching rule for a document, or nil when no
// template clears either strategy's threshold. docText is the extracted
// document text, fileName the source file's base name, pageCount the
// document's page count and spans the positioned text of page 1.
func (d *Detector) Detect(docText, fileName string, pageCount int, spans []TextSpan) (*Match, error) {
	rules, err := d.store.Load(false)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	// Rule names are walked in sorted order so that equal scores always
	// resolve to the same template.
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	if m := d.detectByGeometry(names, rules, pageCount, spans); m != nil {
		log.WithFields(logrus.Fields{
			"rule":     m.RuleName,
			"score":    m.Score,
			"strategy": m.Strategy,
		}).Info("Layout detected")
		return m, nil
	}

	if m := d.detectByText(names, rules, docText, fileName, pageCount); m != nil {
		log.WithFields(logrus.Fields{
			"rule":     m.RuleName,
			"score":    m.Score,
			"strategy": m.Strategy,
		}).Info("Layout detected")
		return m, nil
	}

	log.Debug("No layout template matched")
	return nil, nil
}

func (d *Detector) detectByGeometry(names []string, rules map[string]Rule, pageCount int, spans []TextSpan) *Match {
	if len(spans) == 0 {
		return nil
	}
	live := LiveSignature(spans)
	if live.IsZero() {
		return nil
	}

	var best *Match
	for _, name := range names {
		rule := rules[name]
		score := GeometrySimilarity(live, SignatureFromRule(rule))

		score, ok := applyPageCountRule(name, rule, pageCount, score)
		if !ok || score < d.GeometryThreshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &Match{RuleName: name, Rule: rule, Score: score, Strategy: StrategyGeometry}
		}
	}
	return best
}

func (d *Detector) detectByText(names []string, rules map[string]Rule, docText, fileName string, pageCount int) *Match {
	textHead := lowerHead(docText, 500)
	extractedSender := ExtractSenderCandidate(docText)

	var best *Match
	for _, name := range names {
		rule := rules[name]
		score := d.textualScore(rule, textHead, extractedSender, fileName)

		score, ok := applyPageCountRule(name, rule, pageCount, score)
		if !ok || score < d.TextThreshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &Match{RuleName: name, Rule: rule, Score: score, Strategy: StrategyTextual}
		}
	}
	return best
}

// textualScore combines three independent signals by taking the single
// strongest one.
func (d *Detector) textualScore(rule Rule, textHead, extractedSender, fileName string) float64 {
	supplier := rule.Match.Supplier
	normalizedSupplier := NormalizeSender(supplier)
	keywords := supplierKeywords(normalizedSupplier)

	var score float64

	// Supplier keyword in the document head plus a plausible sender
	// extracted from the text.
	if extractedSender != "" {
		for _, kw := range keywords {
			if strings.Contains(textHead, kw) {
				score = max(score, SenderSimilarity(extractedSender, supplier))
				break
			}
		}
	}

	// Filename carries the supplier name, or at least shares tokens.
	normalizedFile := NormalizeSender(strings.TrimSuffix(fileName, ".pdf"))
	if normalizedSupplier != "" && strings.Contains(normalizedFile, normalizedSupplier) {
		score = max(score, 0.9)
	} else if fileTokensIntersect(fileName, normalizedSupplier) {
		score = max(score, SenderSimilarity(fileName, supplier))
	}

	// Direct comparison of the extracted sender against the supplier.
	if extractedSender != "" {
		score = max(score, SenderSimilarity(extractedSender, supplier))
	}

	return score
}

// applyPageCountRule enforces the page-count discipline shared by both
// strategies: a declared page count that disagrees with the document's
// discards low scorers and shaves 5% off strong ones.
func applyPageCountRule(name string, rule Rule, pageCount int, score float64) (float64, bool) {
	if rule.Match.PageCount == 0 || pageCount == 0 || rule.Match.PageCount == pageCount {
		return score, true
	}
	if score < pageCountMismatchFloor {
		return 0, false
	}
	log.WithFields(logrus.Fields{
		"rule":          name,
		"rulePageCount": rule.Match.PageCount,
		"docPageCount":  pageCount,
		"score":         score,
	}).Warn("Page count mismatch, applying similarity penalty")
	return score * pageCountMismatchPenalty, true
}

// supplierKeywords picks up to three significant tokens from a normalized
// supplier name, skipping short words.
func supplierKeywords(normalizedSupplier string) []string {
	var keywords []string
	for _, tok := range strings.Fields(normalizedSupplier) {
		if len(tok) > 3 {
			keywords = append(keywords, tok)
			if len(keywords) == 3 {
				break
			}
		}
	}
	return keywords
}

func fileTokensIntersect(fileName, normalizedSupplier string) bool {
	supplierTokens := make(map[string]struct{})
	for _, tok := range strings.Fields(normalizedSupplier) {
		supplierTokens[tok] = struct{}{}
	}
	base := strings.TrimSuffix(strings.ToLower(fileName), ".pdf")
	for _, tok := range strings.Split(base, "_") {
		if _, ok := supplierTokens[NormalizeSender(tok)]; ok {
			return true
		}
	}
	return false
}

var senderCandidatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:mittente|fornitore)\s*:?\s*([A-Z][A-Za-z&.'\x{00e0}\x{00e8}\x{00e9}\x{00ec}\x{00f2}\x{00f9} ]{2,60})`),
	regexp.MustCompile(`(?i)\bda\s*:\s*([A-Z][A-Za-z&.'\x{00e0}\x{00e8}\x{00e9}\x{00ec}\x{00f2}\x{00f9} ]{2,60})`),
	regexp.MustCompile(`(?i)spett\.?\s*le\s+([A-Z][A-Za-z&.'\x{00e0}\x{00e8}\x{00e9}\x{00ec}\x{00f2}\x{00f9} ]{2,60})`),
	regexp.MustCompile(`([A-Z][A-Za-z&.'\x{00e0}\x{00e8}\x{00e9}\x{00ec}\x{00f2}\x{00f9} ]{2,60}\b(?:[Ss]\.?[Rr]\.?[Ll]|[Ss]\.?[Pp]\.?[Aa]|[Ss]\.?[Nn]\.?[Cc]|[Ss]\.?[Aa]\.?[Ss])\.?)`),
}

// ExtractSenderCandidate pulls a plausible sender name out of raw
// document text by matching label-anchored and legal-suffix-terminated
// phrases in the first part of the text. Returns the empty string when
// nothing plausible is found.
func ExtractSenderCandidate(docText string) string {
	head := headRunes(docText, 1000)
	for _, re := range senderCandidatePatterns {
		if m := re.FindStringSubmatch(head); m != nil {
			candidate := strings.TrimSpace(m[1])
			candidate = strings.Trim(candidate, ".:,")
			if len(candidate) >= 3 {
				return candidate
			}
		}
	}
	return ""
}

func lowerHead(s string, n int) string {
	return strings.ToLower(headRunes(s, n))
}

func headRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

