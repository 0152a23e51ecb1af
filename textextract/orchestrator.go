package textextract

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Backend is one text-extraction strategy. Extract returns the raw text
// of up to maxPages pages plus backend-specific metadata; an empty
// string with a nil error means the backend ran but found nothing.
type Backend interface {
	Name() string
	Available() bool
	Extract(ctx context.Context, filePath string, maxPages int) (string, map[string]any, error)
}

// ocrPageCap limits how many pages the OCR backend may process; OCR is
// far more expensive than the other backends.
const ocrPageCap = 3

// Orchestrator runs a fixed-priority chain of text backends, stopping at
// the first reliable result. The OCR backend always runs last and only
// when enabled.
type Orchestrator struct {
	backends []Backend
	ocr      Backend
}

// NewOrchestrator builds the chain. backends run in the given order; ocr
// may be nil when the host has no OCR engine.
func NewOrchestrator(ocr Backend, backends ...Backend) *Orchestrator {
	return &Orchestrator{backends: backends, ocr: ocr}
}

// Extract runs the backend chain against a PDF. The first reliable
// result wins. When no backend produces reliable text the last non-empty
// attempt is returned so callers can still use it as a weak signal; when
// every backend comes up empty the result carries method "none".
func (o *Orchestrator) Extract(ctx context.Context, filePath string, maxPages int, enableOCR bool) Result {
	var last *Result

	for _, b := range o.backends {
		if r, ok := o.runBackend(ctx, b, filePath, maxPages); ok {
			if r.Reliable {
				return r
			}
			last = &r
		}
	}

	if enableOCR && o.ocr != nil && o.ocr.Available() {
		if r, ok := o.runBackend(ctx, o.ocr, filePath, min(ocrPageCap, maxPages)); ok {
			// OCR is the last resort; its output is returned even when
			// unreliable.
			return r
		}
	} else if enableOCR {
		log.Debug("OCR requested but no engine is available")
	}

	if last != nil {
		return *last
	}

	log.WithField("file", filePath).Warn("No text extracted by any backend")
	return Result{
		Method:   MethodNone,
		Metadata: map[string]any{"error": "all backends failed"},
		Reason:   "no backend produced text",
	}
}

// runBackend executes one backend and evaluates its output. The bool is
// false when the backend is unavailable, errored or found no text.
func (o *Orchestrator) runBackend(ctx context.Context, b Backend, filePath string, maxPages int) (Result, bool) {
	if !b.Available() {
		log.WithField("backend", b.Name()).Debug("Backend unavailable, skipping")
		return Result{}, false
	}

	text, metadata, err := b.Extract(ctx, filePath, maxPages)
	if err != nil {
		log.WithError(err).WithField("backend", b.Name()).Warn("Text extraction backend failed")
		return Result{}, false
	}
	if text == "" {
		return Result{}, false
	}

	r := evaluate(text, b.Name(), metadata)
	log.WithFields(logrus.Fields{
		"backend":    b.Name(),
		"reliable":   r.Reliable,
		"confidence": r.Confidence,
		"reason":     r.Reason,
	}).Debug("Evaluated extraction attempt")
	return r, true
}
