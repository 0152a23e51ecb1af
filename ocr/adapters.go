package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
)

// Adapter exposes a Provider as the page-level and line-level recognizer
// interfaces the pipeline consumes. Images are JPEG-encoded before being
// handed to the provider.
type Adapter struct {
	provider Provider
}

// NewAdapter wraps a provider; a nil provider yields an adapter that
// reports itself unavailable.
func NewAdapter(provider Provider) *Adapter {
	return &Adapter{provider: provider}
}

// Available reports whether an engine is configured.
func (a *Adapter) Available() bool {
	return a != nil && a.provider != nil
}

// RecognizePage runs OCR over a full rendered page.
func (a *Adapter) RecognizePage(ctx context.Context, pageImage image.Image) (string, error) {
	return a.recognize(ctx, pageImage)
}

// RecognizeLine runs OCR over a cropped field box and collapses the
// output to a single line.
func (a *Adapter) RecognizeLine(ctx context.Context, crop image.Image) (string, error) {
	text, err := a.recognize(ctx, crop)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(text), " "), nil
}

func (a *Adapter) recognize(ctx context.Context, img image.Image) (string, error) {
	if !a.Available() {
		return "", fmt.Errorf("no OCR provider configured")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpeg.DefaultQuality}); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	result, err := a.provider.ProcessImage(ctx, buf.Bytes(), 1)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}
