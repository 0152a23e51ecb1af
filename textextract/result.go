// Package textextract extracts raw text from PDF documents through an
// ordered chain of backends and scores each attempt for reliability.
package textextract

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the textextract package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Extraction methods reported in Result.Method.
const (
	MethodMuPDF      = "mupdf"
	MethodStructured = "structured"
	MethodOCR        = "ocr"
	MethodNone       = "none"
)

// Result is one text-extraction attempt with its reliability verdict.
// Confidence is in [0,1]; Reason is a short diagnostic for logs.
type Result struct {
	Text       string
	Reliable   bool
	Confidence float64
	Method     string
	Metadata   map[string]any
	Reason     string
}

// evaluate wraps raw backend output into a scored Result.
func evaluate(text, method string, metadata map[string]any) Result {
	if text == "" {
		return Result{
			Method:   method,
			Metadata: metadata,
			Reason:   "no text extracted",
		}
	}
	reliable, confidence, reason := IsReliable(text, DefaultMinLength)
	return Result{
		Text:       text,
		Reliable:   reliable,
		Confidence: confidence,
		Method:     method,
		Metadata:   metadata,
		Reason:     reason,
	}
}
