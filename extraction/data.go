// Package extraction implements the per-document decision pipeline:
// layout-template extraction first, vision-model fallback second, with
// shared normalization and validation of the resulting fields.
package extraction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the extraction package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Extraction methods reported on every pipeline result.
const (
	MethodLayoutModel = "LAYOUT_MODEL"
	MethodAIFallback  = "AI_FALLBACK"
)

// Fallback values applied during normalization when a field cannot be
// recovered. Validation treats them as present; only structural problems
// fail a document.
const (
	FallbackDate    = "1900-01-01"
	FallbackText    = "Non specificato"
	FallbackWeightK = 0.0
)

// ErrIdenticalParties flags a document whose sender and recipient
// coincide after normalization, which marks a failed extraction rather
// than a valid record.
var ErrIdenticalParties = errors.New("mittente and destinatario are identical after normalization")

// DocumentData is the validated outcome of one document extraction.
type DocumentData struct {
	Data            string  `json:"data"`
	Mittente        string  `json:"mittente"`
	Destinatario    string  `json:"destinatario"`
	NumeroDocumento string  `json:"numero_documento"`
	TotaleKg        float64 `json:"totale_kg"`
}

// Validate checks the structural invariants of an extracted record:
// every field populated, a non-negative weight, distinct parties.
func (d DocumentData) Validate() error {
	if d.Data == "" {
		return fmt.Errorf("data must not be empty")
	}
	if d.Mittente == "" {
		return fmt.Errorf("mittente must not be empty")
	}
	if d.Destinatario == "" {
		return fmt.Errorf("destinatario must not be empty")
	}
	if d.NumeroDocumento == "" {
		return fmt.Errorf("numero_documento must not be empty")
	}
	if d.TotaleKg < 0 {
		return fmt.Errorf("totale_kg must be >= 0, got %v", d.TotaleKg)
	}
	if strings.EqualFold(strings.TrimSpace(d.Mittente), strings.TrimSpace(d.Destinatario)) {
		return fmt.Errorf("%w: %q", ErrIdenticalParties, d.Mittente)
	}
	return nil
}

// Result pairs the extracted data with the strategy that produced it.
type Result struct {
	Data     DocumentData
	Method   string
	RuleName string
}
