// Package pdfproc wraps PDF rasterization and page inspection behind a
// provider chain so a missing rendering backend degrades instead of
// failing the host.
package pdfproc

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the pdfproc package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Provider rasterizes single PDF pages. pageIndex is zero-based.
type Provider interface {
	Name() string
	Available() bool
	Render(ctx context.Context, filePath string, pageIndex int, dpi int) (image.Image, error)
}

// FitzProvider renders through MuPDF.
type FitzProvider struct {
	// I assume the libmupdf library is not thread-safe
	mu sync.Mutex
}

// NewFitzProvider creates the MuPDF rasterizer.
func NewFitzProvider() *FitzProvider {
	return &FitzProvider{}
}

func (p *FitzProvider) Name() string { return "mupdf" }

func (p *FitzProvider) Available() bool { return true }

// Render rasterizes one page at the requested DPI.
func (p *FitzProvider) Render(_ context.Context, filePath string, pageIndex int, dpi int) (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := fitz.New(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", filePath, err)
	}
	defer doc.Close()

	if pageIndex < 0 || pageIndex >= doc.NumPage() {
		return nil, fmt.Errorf("page index %d out of range, document has %d pages", pageIndex, doc.NumPage())
	}

	img, err := doc.ImageDPI(pageIndex, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", pageIndex+1, err)
	}
	return img, nil
}

// Rasterizer tries an ordered list of providers until one succeeds.
type Rasterizer struct {
	providers []Provider
}

// NewRasterizer builds a rasterizer over the given provider chain; the
// default chain carries only MuPDF.
func NewRasterizer(providers ...Provider) *Rasterizer {
	if len(providers) == 0 {
		providers = []Provider{NewFitzProvider()}
	}
	return &Rasterizer{providers: providers}
}

// Available reports whether any provider can render at all.
func (r *Rasterizer) Available() bool {
	for _, p := range r.providers {
		if p.Available() {
			return true
		}
	}
	return false
}

// RenderPage renders one page through the first provider that succeeds.
func (r *Rasterizer) RenderPage(ctx context.Context, filePath string, pageIndex int, dpi int) (image.Image, error) {
	var lastErr error
	for _, p := range r.providers {
		if !p.Available() {
			log.WithField("provider", p.Name()).Debug("Rendering provider unavailable, trying next")
			continue
		}
		img, err := p.Render(ctx, filePath, pageIndex, dpi)
		if err == nil {
			return img, nil
		}
		log.WithError(err).WithField("provider", p.Name()).Warn("Rendering provider failed, trying next")
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all rendering providers failed: %w", lastErr)
	}
	return nil, fmt.Errorf("no rendering provider available")
}

// RenderPages renders the first pageLimit pages concurrently and returns
// them in page order. pageLimit zero means all pages.
func (r *Rasterizer) RenderPages(ctx context.Context, filePath string, pageLimit, dpi int) ([]image.Image, error) {
	total, err := r.PageCount(filePath)
	if err != nil {
		return nil, err
	}
	pages := total
	if pageLimit > 0 && pageLimit < pages {
		pages = pageLimit
	}

	images := make([]image.Image, pages)
	var g errgroup.Group
	for n := 0; n < pages; n++ {
		g.Go(func() error {
			img, err := r.RenderPage(ctx, filePath, n, dpi)
			if err != nil {
				return err
			}
			images[n] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// PageCount inspects the document without opening a rasterizer.
func (r *Rasterizer) PageCount(filePath string) (int, error) {
	count, err := api.PageCountFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages of %s: %w", filePath, err)
	}
	return count, nil
}
