package textextract

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// PageRenderer rasterizes PDF pages. Implemented by the pdfproc
// package; kept as an interface here so tests can substitute a fake.
type PageRenderer interface {
	RenderPage(ctx context.Context, filePath string, pageIndex int, dpi int) (image.Image, error)
	RenderPages(ctx context.Context, filePath string, pageLimit, dpi int) ([]image.Image, error)
	PageCount(filePath string) (int, error)
}

// Recognizer turns a full rendered page into text.
type Recognizer interface {
	RecognizePage(ctx context.Context, pageImage image.Image) (string, error)
	Available() bool
}

// ocrDPI is the render resolution for OCR passes; full-page recognition
// needs more detail than a preview.
const ocrDPI = 300

// OCRBackend renders pages and feeds them to an OCR engine. Always the
// last and most expensive link in the chain.
type OCRBackend struct {
	renderer   PageRenderer
	recognizer Recognizer
}

// NewOCRBackend creates the OCR backend. recognizer may be nil on hosts
// without an engine; the backend then reports itself unavailable.
func NewOCRBackend(renderer PageRenderer, recognizer Recognizer) *OCRBackend {
	return &OCRBackend{renderer: renderer, recognizer: recognizer}
}

func (b *OCRBackend) Name() string { return MethodOCR }

func (b *OCRBackend) Available() bool {
	return b.renderer != nil && b.recognizer != nil && b.recognizer.Available()
}

// Extract renders up to maxPages pages and recognizes each one.
// Rendering runs concurrently inside the renderer; recognition stays
// serial because the engines behind it are rate limited.
func (b *OCRBackend) Extract(ctx context.Context, filePath string, maxPages int) (string, map[string]any, error) {
	total, err := b.renderer.PageCount(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to count pages of %s: %w", filePath, err)
	}
	pages := total
	if maxPages > 0 && maxPages < pages {
		pages = maxPages
	}

	images, err := b.renderer.RenderPages(ctx, filePath, pages, ocrDPI)
	if err != nil {
		return "", nil, fmt.Errorf("failed to render pages of %s: %w", filePath, err)
	}

	var parts []string
	for n, img := range images {
		text, err := b.recognizer.RecognizePage(ctx, img)
		if err != nil {
			return "", nil, fmt.Errorf("OCR failed on page %d: %w", n+1, err)
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	metadata := map[string]any{
		"total_pages": total,
		"pages_read":  len(images),
		"dpi":         ocrDPI,
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n")), metadata, nil
}
