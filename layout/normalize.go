package layout

import (
	"regexp"
	"strings"
)

// Legal-entity suffixes stripped from sender names before matching. The
// dotted variants must be removed while the dots are still present,
// otherwise "s.p.a." and "spa" normalize to different strings.
var legalSuffixRe = regexp.MustCompile(
	`\b(?:s\.p\.a|s\.r\.l|s\.a\.s|s\.n\.c|s\.a|spa|srl|sas|snc|sa|con socio unico|societ[a\x{00e0}])\b\.?`)

var (
	punctReplacer = strings.NewReplacer(".", " ", ",", " ", "-", " ", "_", " ", "/", " ", `\`, " ")
	multiSpaceRe  = regexp.MustCompile(`\s+`)
)

// NormalizeSender canonicalizes a company name for deterministic matching:
// lowercase, legal-entity suffixes removed, punctuation replaced with
// spaces, whitespace collapsed. Pure and idempotent; empty input yields
// the empty string.
func NormalizeSender(name string) string {
	if name == "" {
		return ""
	}

	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = legalSuffixRe.ReplaceAllString(normalized, " ")
	normalized = punctReplacer.Replace(normalized)
	normalized = multiSpaceRe.ReplaceAllString(normalized, " ")

	return strings.TrimSpace(normalized)
}
