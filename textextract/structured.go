package textextract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// StructuredBackend extracts text through a content-stream parser. It is
// slower than the native backend but recovers text MuPDF sometimes
// misses on documents with odd content ordering.
type StructuredBackend struct{}

// NewStructuredBackend creates the content-stream text backend.
func NewStructuredBackend() *StructuredBackend {
	return &StructuredBackend{}
}

func (b *StructuredBackend) Name() string { return MethodStructured }

func (b *StructuredBackend) Available() bool { return true }

// Extract reads up to maxPages pages of plain text. Pages that make the
// parser panic on malformed content are skipped, not fatal.
func (b *StructuredBackend) Extract(_ context.Context, filePath string, maxPages int) (string, map[string]any, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open PDF %s: %w", filePath, err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	pages := totalPages
	if maxPages > 0 && maxPages < pages {
		pages = maxPages
	}

	var parts []string
	skipped := 0
	for n := 1; n <= pages; n++ {
		text := safePageText(reader, n)
		if text == "" {
			skipped++
			continue
		}
		parts = append(parts, text)
	}

	metadata := map[string]any{
		"total_pages":   totalPages,
		"pages_read":    pages,
		"pages_skipped": skipped,
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n")), metadata, nil
}

// safePageText isolates the parser's panics on malformed pages.
func safePageText(reader *pdf.Reader, pageNumber int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("page", pageNumber).Debug("Structured parser panicked on page, skipping")
			text = ""
		}
	}()

	page := reader.Page(pageNumber)
	if page.V.IsNull() {
		return ""
	}
	content, err := page.GetPlainText(nil)
	if err != nil {
		log.WithError(err).WithField("page", pageNumber).Debug("Failed to read page text")
		return ""
	}
	return strings.TrimSpace(content)
}
