package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Date layouts accepted from extracted values, most common first.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
	"02/01/06",
	"02-01-06",
}

// NormalizeDate converts a date in any accepted Italian layout to ISO
// YYYY-MM-DD. Returns the empty string when nothing parses.
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

var nonNumericRe = regexp.MustCompile(`[^\d.\-]`)

// NormalizeWeight parses a weight value tolerant of comma decimal
// separators, thousands spacing and a trailing kg unit. Returns 0 and
// false when the value cannot be parsed.
func NormalizeWeight(raw string) (float64, bool) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return 0, false
	}
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(strings.ToLower(cleaned), "kg", "")
	cleaned = nonNumericRe.ReplaceAllString(cleaned, "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var invisibleReplacer = strings.NewReplacer("\u00a0", " ", "\u200b", "")

// NormalizeText collapses whitespace and strips invisible characters.
func NormalizeText(text string) string {
	text = invisibleReplacer.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// Prefixes that leak from document labels into extracted company names.
var companyPrefixRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:spett\.?\s*le|spettabile)\s+`),
	regexp.MustCompile(`(?i)^(?:a|da|per|consegna a|cantiere|cliente|destinatario|mittente)[:\s]\s*`),
}

// CleanCompanyName trims an extracted company name, removing label
// prefixes and normalizing whitespace.
func CleanCompanyName(name string) string {
	name = NormalizeText(name)
	for _, re := range companyPrefixRes {
		name = re.ReplaceAllString(name, "")
	}
	return NormalizeText(name)
}

// normalizeRaw applies the field-specific normalizers with the shared
// fallback values, turning raw model/OCR output into candidate data.
func normalizeRaw(raw map[string]string, weight float64, hasWeight bool) DocumentData {
	d := DocumentData{
		Data:            NormalizeDate(raw["data"]),
		Mittente:        CleanCompanyName(raw["mittente"]),
		Destinatario:    CleanCompanyName(raw["destinatario"]),
		NumeroDocumento: NormalizeText(raw["numero_documento"]),
	}
	if d.Data == "" {
		d.Data = FallbackDate
	}
	if d.Mittente == "" {
		d.Mittente = FallbackText
	}
	if d.Destinatario == "" {
		d.Destinatario = FallbackText
	}
	if d.NumeroDocumento == "" {
		d.NumeroDocumento = FallbackText
	}
	// A parsed weight is kept even when negative so that validation can
	// reject the document instead of masking the bad value with 0.
	if hasWeight {
		d.TotaleKg = weight
	}
	return d
}
