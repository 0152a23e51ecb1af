package textextract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// NativeBackend pulls the embedded text layer out of a PDF via MuPDF.
// Fast and accurate on natively generated documents, useless on scans.
type NativeBackend struct {
	// I assume the libmupdf library is not thread-safe
	mu sync.Mutex
}

// NewNativeBackend creates the MuPDF text backend.
func NewNativeBackend() *NativeBackend {
	return &NativeBackend{}
}

func (b *NativeBackend) Name() string { return MethodMuPDF }

func (b *NativeBackend) Available() bool { return true }

// Extract reads the text layer of up to maxPages pages.
func (b *NativeBackend) Extract(_ context.Context, filePath string, maxPages int) (string, map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := fitz.New(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open PDF %s: %w", filePath, err)
	}
	defer doc.Close()

	totalPages := doc.NumPage()
	pages := totalPages
	if maxPages > 0 && maxPages < pages {
		pages = maxPages
	}

	var parts []string
	for n := 0; n < pages; n++ {
		text, err := doc.Text(n)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read text of page %d: %w", n+1, err)
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	metadata := map[string]any{
		"total_pages": totalPages,
		"pages_read":  pages,
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n")), metadata, nil
}
