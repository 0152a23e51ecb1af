package layout

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// BoxOCR recognizes a single line of text inside a cropped field image.
// Availability must be checked before use so that a host without an OCR
// engine degrades instead of failing the document.
type BoxOCR interface {
	RecognizeLine(ctx context.Context, crop image.Image) (string, error)
	Available() bool
}

// BoxReader extracts field values from a rendered page by cropping each
// field's trained box and running single-line OCR on the crop.
type BoxReader struct {
	ocr BoxOCR
}

// NewBoxReader creates a reader backed by the given OCR engine.
func NewBoxReader(ocr BoxOCR) *BoxReader {
	return &BoxReader{ocr: ocr}
}

// Available reports whether field reading can run at all.
func (r *BoxReader) Available() bool {
	return r.ocr != nil && r.ocr.Available()
}

// ReadFields reads every page-1 field of the rule from the rendered
// page-1 image. Boxes declared on later pages are skipped with a log.
// Fields whose crop yields no text are absent from the result; partial
// results are acceptable and left to the caller's validation.
func (r *BoxReader) ReadFields(ctx context.Context, rule Rule, pageImage image.Image) (map[string]string, error) {
	if !r.Available() {
		return nil, fmt.Errorf("no OCR engine available for box field extraction")
	}

	bounds := pageImage.Bounds()
	values := make(map[string]string)

	for _, field := range StandardFields {
		fb, ok := rule.Fields[field]
		if !ok {
			continue
		}
		if fb.Page != 1 {
			log.WithFields(logrus.Fields{
				"field": field,
				"page":  fb.Page,
			}).Warn("Skipping field box on unsupported page")
			continue
		}

		rect := pixelRect(fb.Box, bounds)
		if rect.Empty() {
			log.WithField("field", field).Warn("Field box collapses to an empty crop, skipping")
			continue
		}

		crop := imaging.Crop(pageImage, rect)
		text, err := r.ocr.RecognizeLine(ctx, crop)
		if err != nil {
			return nil, fmt.Errorf("OCR failed for field %q: %w", field, err)
		}
		if text == "" {
			log.WithField("field", field).Debug("Empty OCR result for field box")
			continue
		}
		values[field] = text
	}
	return values, nil
}

// pixelRect converts page-fraction coordinates into a pixel rectangle
// clamped to the image bounds.
func pixelRect(box BoxCoordinates, bounds image.Rectangle) image.Rectangle {
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())

	x0 := bounds.Min.X + int(box.X*w)
	y0 := bounds.Min.Y + int(box.Y*h)
	x1 := bounds.Min.X + int((box.X+box.W)*w)
	y1 := bounds.Min.Y + int((box.Y+box.H)*h)

	rect := image.Rect(x0, y0, x1, y1)
	return rect.Intersect(bounds)
}
