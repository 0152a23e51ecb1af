package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/robertolibanora/ddt-extractor/layout"
	"github.com/robertolibanora/ddt-extractor/textextract"
)

const (
	// renderDPI is the resolution used for the page image shared by box
	// extraction and the vision model.
	renderDPI = 200
	// groundingMaxPages bounds the detection-pass text extraction.
	groundingMaxPages = 5
)

// Renderer turns PDF pages into images. pageIndex is zero based.
type Renderer interface {
	RenderPage(ctx context.Context, filePath string, pageIndex, dpi int) (image.Image, error)
	PageCount(filePath string) (int, error)
}

// TextProvider supplies the machine-readable text used for rule and
// layout detection and for prompt grounding.
type TextProvider interface {
	Extract(ctx context.Context, filePath string, maxPages int, enableOCR bool) textextract.Result
}

// FieldVision is the vision-model call used as the extraction fallback.
type FieldVision interface {
	Extract(ctx context.Context, prompt string, pageJPEG []byte) (DocumentData, error)
}

// Advisor provides knowledge learned from past manual corrections.
// Both methods may be served from the same store; a nil Advisor
// disables learning without changing pipeline behavior.
type Advisor interface {
	// Suggestion returns a replacement for a field value when the same
	// manual correction has recurred often enough to trust.
	Suggestion(field, value string) (string, bool, error)
	// AnnotationHints returns prompt hints recorded for senders similar
	// to the given one.
	AnnotationHints(sender string) ([]string, error)
}

// Extractor runs the per-document decision pipeline: layout-template
// extraction when a trained template matches, vision-model fallback
// otherwise. Each document runs synchronously to completion or to a
// terminal error.
type Extractor struct {
	renderer Renderer
	texts    TextProvider
	detector *layout.Detector
	boxes    *layout.BoxReader
	rules    *RuleSet
	prompts  *PromptBuilder
	vision   FieldVision
	advisor  Advisor
}

// NewExtractor wires the pipeline. advisor may be nil.
func NewExtractor(renderer Renderer, texts TextProvider, detector *layout.Detector, boxes *layout.BoxReader, rules *RuleSet, prompts *PromptBuilder, vision FieldVision, advisor Advisor) *Extractor {
	return &Extractor{
		renderer: renderer,
		texts:    texts,
		detector: detector,
		boxes:    boxes,
		rules:    rules,
		prompts:  prompts,
		vision:   vision,
		advisor:  advisor,
	}
}

// Process extracts, normalizes and validates the fields of one
// document. Rendering failure and vision failure are fatal; a failure
// anywhere on the layout path only demotes the document to the vision
// fallback. Validation failure is terminal and never retried.
func (e *Extractor) Process(ctx context.Context, filePath string) (Result, error) {
	docLog := log.WithField("file", filepath.Base(filePath))

	// Page 1 is needed by both strategies, so its rendering failure
	// aborts before any extraction is attempted.
	pageImage, err := e.renderer.RenderPage(ctx, filePath, 0, renderDPI)
	if err != nil {
		return Result{}, fmt.Errorf("failed to render page 1 of %s: %w", filePath, err)
	}

	pageCount, err := e.renderer.PageCount(filePath)
	if err != nil {
		docLog.WithError(err).Warn("Could not determine page count, page-count matching disabled")
		pageCount = 0
	}

	// Detection pass. OCR stays off here, it is far too slow for a
	// document that may well match a template geometrically.
	grounding := e.texts.Extract(ctx, filePath, groundingMaxPages, false)

	if result, ok := e.tryLayoutPath(ctx, filePath, pageCount, grounding, pageImage, docLog); ok {
		return result, nil
	}

	return e.visionFallback(ctx, grounding, pageImage, docLog)
}

// tryLayoutPath attempts template detection and box extraction. Any
// failure returns ok=false and the caller falls through to the vision
// model.
func (e *Extractor) tryLayoutPath(ctx context.Context, filePath string, pageCount int, grounding textextract.Result, pageImage image.Image, docLog *logrus.Entry) (Result, bool) {
	spans, err := layout.PageSpans(filePath, 1)
	if err != nil {
		docLog.WithError(err).Debug("No positioned text for geometric matching")
		spans = nil
	}

	match, err := e.detector.Detect(grounding.Text, filepath.Base(filePath), pageCount, spans)
	if err != nil {
		docLog.WithError(err).Warn("Layout detection failed, falling back to vision model")
		return Result{}, false
	}
	if match == nil {
		docLog.Debug("No layout template matched")
		return Result{}, false
	}

	matchLog := docLog.WithFields(logrus.Fields{
		"rule":     match.RuleName,
		"score":    match.Score,
		"strategy": match.Strategy,
	})

	if !e.boxes.Available() {
		matchLog.Warn("Template matched but no OCR engine for box extraction, falling back to vision model")
		return Result{}, false
	}

	raw, err := e.boxes.ReadFields(ctx, match.Rule, pageImage)
	if err != nil {
		matchLog.WithError(err).Warn("Box field extraction failed, falling back to vision model")
		return Result{}, false
	}

	weight, hasWeight := NormalizeWeight(raw[layout.FieldTotaleKg])
	data := e.applySuggestions(normalizeRaw(raw, weight, hasWeight), docLog)

	if err := data.Validate(); err != nil {
		matchLog.WithError(err).Warn("Template extraction produced invalid data, falling back to vision model")
		return Result{}, false
	}

	matchLog.Info("Document extracted via layout template")
	return Result{Data: data, Method: MethodLayoutModel, RuleName: match.RuleName}, true
}

// visionFallback builds the augmented prompt and makes the single
// vision-model attempt.
func (e *Extractor) visionFallback(ctx context.Context, grounding textextract.Result, pageImage image.Image, docLog *logrus.Entry) (Result, error) {
	input := PromptInput{}

	ruleName, err := e.rules.DetectRule(grounding.Text)
	if err != nil {
		docLog.WithError(err).Warn("Prompt rule detection failed, using base prompt")
	} else if ruleName != "" {
		additions, err := e.rules.PromptAdditions(ruleName)
		if err != nil {
			docLog.WithError(err).WithField("rule", ruleName).Warn("Could not render prompt rule additions")
		} else {
			input.RuleAdditions = additions
		}
	}

	if e.advisor != nil {
		if sender := layout.ExtractSenderCandidate(grounding.Text); sender != "" {
			hints, err := e.advisor.AnnotationHints(sender)
			if err != nil {
				docLog.WithError(err).Warn("Could not load annotation hints")
			} else {
				input.Hints = hints
			}
		}
	}

	// Unreliable text is worse than none as grounding: it steers the
	// model toward OCR garbage it would otherwise ignore.
	if grounding.Reliable {
		input.Content = grounding.Text
	}

	prompt, err := e.prompts.Build(input)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build extraction prompt: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, pageImage, &jpeg.Options{Quality: jpeg.DefaultQuality}); err != nil {
		return Result{}, fmt.Errorf("failed to encode page image: %w", err)
	}

	data, err := e.vision.Extract(ctx, prompt, buf.Bytes())
	if err != nil {
		return Result{}, err
	}

	data = e.applySuggestions(data, docLog)

	if err := data.Validate(); err != nil {
		return Result{}, fmt.Errorf("extracted data failed validation: %w", err)
	}

	docLog.WithField("rule", ruleName).Info("Document extracted via vision model")
	return Result{Data: data, Method: MethodAIFallback, RuleName: ruleName}, nil
}

// applySuggestions substitutes field values with corrections that have
// recurred often enough to apply automatically.
func (e *Extractor) applySuggestions(data DocumentData, docLog *logrus.Entry) DocumentData {
	if e.advisor == nil {
		return data
	}

	fields := []struct {
		name  string
		value *string
	}{
		{"data", &data.Data},
		{"mittente", &data.Mittente},
		{"destinatario", &data.Destinatario},
		{"numero_documento", &data.NumeroDocumento},
	}
	for _, f := range fields {
		replacement, ok, err := e.advisor.Suggestion(f.name, *f.value)
		if err != nil {
			docLog.WithError(err).WithField("field", f.name).Warn("Correction lookup failed")
			continue
		}
		if ok && replacement != "" && replacement != *f.value {
			docLog.WithFields(logrus.Fields{
				"field": f.name,
				"from":  *f.value,
				"to":    replacement,
			}).Info("Applied learned correction")
			*f.value = replacement
		}
	}
	return data
}
