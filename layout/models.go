package layout

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the layout package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Field names recognized by layout rules.
const (
	FieldMittente        = "mittente"
	FieldDestinatario    = "destinatario"
	FieldData            = "data"
	FieldNumeroDocumento = "numero_documento"
	FieldTotaleKg        = "totale_kg"
)

// StandardFields lists the five DDT fields in the fixed order used when
// building signatures. The order must never change: stored templates and
// live signatures are only comparable while both sides agree on it.
var StandardFields = []string{
	FieldMittente,
	FieldDestinatario,
	FieldData,
	FieldNumeroDocumento,
	FieldTotaleKg,
}

func isStandardField(name string) bool {
	for _, f := range StandardFields {
		if f == name {
			return true
		}
	}
	return false
}

// BoxCoordinates locates a rectangle on a page as fractions of the page
// size, top-left origin. All values live in [0,1] and are rounded to four
// decimals so that repeated save/load round-trips stay stable.
type BoxCoordinates struct {
	X float64 `json:"x_pct"`
	Y float64 `json:"y_pct"`
	W float64 `json:"w_pct"`
	H float64 `json:"h_pct"`
}

// NewBoxCoordinates validates the four fractions and rounds them.
func NewBoxCoordinates(x, y, w, h float64) (BoxCoordinates, error) {
	b := BoxCoordinates{X: round4(x), Y: round4(y), W: round4(w), H: round4(h)}
	if err := b.Validate(); err != nil {
		return BoxCoordinates{}, err
	}
	return b, nil
}

// UnmarshalJSON rounds the fractions on the way in, so boxes arriving
// from stored rule files or API payloads carry the same precision as
// boxes built through NewBoxCoordinates.
func (b *BoxCoordinates) UnmarshalJSON(data []byte) error {
	type plain BoxCoordinates
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = BoxCoordinates{X: round4(p.X), Y: round4(p.Y), W: round4(p.W), H: round4(p.H)}
	return nil
}

// Validate checks that every coordinate is a valid page fraction.
func (b BoxCoordinates) Validate() error {
	for name, v := range map[string]float64{"x_pct": b.X, "y_pct": b.Y, "w_pct": b.W, "h_pct": b.H} {
		if v < 0.0 || v > 1.0 {
			return fmt.Errorf("%s must be between 0.0 and 1.0, got %v", name, v)
		}
	}
	return nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// FieldBox places one field on one page of a trained layout.
type FieldBox struct {
	Page int            `json:"page"`
	Box  BoxCoordinates `json:"box"`
}

// RuleMatch carries the criteria used to pre-filter candidate templates.
// Supplier is the sender name exactly as trained, not normalized.
// PageCount zero means "any".
type RuleMatch struct {
	Supplier  string `json:"supplier"`
	PageCount int    `json:"page_count,omitempty"`
}

// Rule is one trained layout template: match criteria plus the box each
// field lives in. Rules are referenced by name in the Store; the rule
// itself carries no name.
type Rule struct {
	Match  RuleMatch           `json:"match"`
	Fields map[string]FieldBox `json:"fields"`
}

// Validate checks structural invariants: a non-empty supplier, at least
// one field, only standard field names, valid boxes.
func (r Rule) Validate() error {
	if r.Match.Supplier == "" {
		return fmt.Errorf("supplier must not be empty")
	}
	if r.Match.PageCount < 0 {
		return fmt.Errorf("page_count must be >= 1 when set, got %d", r.Match.PageCount)
	}
	if len(r.Fields) == 0 {
		return fmt.Errorf("at least one field must be defined")
	}
	for name, fb := range r.Fields {
		if !isStandardField(name) {
			return fmt.Errorf("unknown field %q, valid fields: %v", name, StandardFields)
		}
		if fb.Page < 1 {
			return fmt.Errorf("field %q: page must be >= 1, got %d", name, fb.Page)
		}
		if err := fb.Box.Validate(); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}
