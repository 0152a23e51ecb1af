package layout

import "regexp"

// Signature is a fixed-length geometric fingerprint of a document layout:
// for each standard field, in StandardFields order, four values (center
// x, center y, width, height) as page fractions. Fields with no known
// position contribute four zeros. Signatures are derived on demand and
// never persisted.
type Signature []float64

// SignatureLength is 4 values for each of the 5 standard fields.
const SignatureLength = 4 * 5

// SignatureFromRule derives the signature of a trained template from its
// page-1 field boxes. Boxes on later pages are ignored: live signatures
// are only ever built from page 1, so including them would make the two
// sides incomparable.
func SignatureFromRule(rule Rule) Signature {
	sig := make(Signature, 0, SignatureLength)
	for _, field := range StandardFields {
		fb, ok := rule.Fields[field]
		if !ok || fb.Page != 1 {
			sig = append(sig, 0, 0, 0, 0)
			continue
		}
		sig = append(sig,
			fb.Box.X+fb.Box.W/2,
			fb.Box.Y+fb.Box.H/2,
			fb.Box.W,
			fb.Box.H)
	}
	return sig
}

// Label patterns used to locate each field on a live page. The position
// of the first span matching any pattern stands in for the field's
// position; the value box itself is not recovered.
var fieldLabelPatterns = map[string][]*regexp.Regexp{
	FieldMittente: {
		regexp.MustCompile(`(?i)\bmittente\b`),
		regexp.MustCompile(`(?i)\bda:`),
		regexp.MustCompile(`(?i)\bfornitore\b`),
		regexp.MustCompile(`(?i)\bspett\.?\s*le\b`),
	},
	FieldDestinatario: {
		regexp.MustCompile(`(?i)\bdestinatario\b`),
		regexp.MustCompile(`(?i)\ba:`),
		regexp.MustCompile(`(?i)\bcliente\b`),
		regexp.MustCompile(`(?i)\bconsegna\s+a\b`),
		regexp.MustCompile(`(?i)\bspedire\s+a\b`),
	},
	FieldData: {
		regexp.MustCompile(`(?i)\bdata\b`),
		regexp.MustCompile(`(?i)\bdel:`),
		regexp.MustCompile(`(?i)\bemissione\b`),
	},
	FieldNumeroDocumento: {
		regexp.MustCompile(`(?i)\bddt\s*n`),
		regexp.MustCompile(`(?i)\bnumero\b`),
		regexp.MustCompile(`(?i)\bn\.?\s*documento\b`),
		regexp.MustCompile(`(?i)\bdocumento\s*n`),
	},
	FieldTotaleKg: {
		regexp.MustCompile(`(?i)\btotale\s*kg\b`),
		regexp.MustCompile(`(?i)\bpeso\b`),
		regexp.MustCompile(`(?i)\bkg\b`),
	},
}

// TextSpan is one positioned run of text on a page, with its bounding box
// expressed as page fractions, top-left origin.
type TextSpan struct {
	Text string
	X    float64
	Y    float64
	W    float64
	H    float64
}

// LiveSignature builds a signature from the positioned text of a live
// page. For each standard field the first span matching one of the
// field's label patterns supplies the position; fields whose label is not
// found stay zero-filled.
func LiveSignature(spans []TextSpan) Signature {
	sig := make(Signature, 0, SignatureLength)
	for _, field := range StandardFields {
		span, found := findLabelSpan(spans, fieldLabelPatterns[field])
		if !found {
			sig = append(sig, 0, 0, 0, 0)
			continue
		}
		sig = append(sig,
			span.X+span.W/2,
			span.Y+span.H/2,
			span.W,
			span.H)
	}
	return sig
}

func findLabelSpan(spans []TextSpan, patterns []*regexp.Regexp) (TextSpan, bool) {
	for _, span := range spans {
		for _, re := range patterns {
			if re.MatchString(span.Text) {
				return span, true
			}
		}
	}
	return TextSpan{}, false
}

// IsZero reports whether no field position is known.
func (s Signature) IsZero() bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}
