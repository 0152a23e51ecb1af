package layout

import (
	"context"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOCR returns a canned string per crop, keyed by the crop's pixel
// size so tests can tell the boxes apart.
type fakeOCR struct {
	available bool
	results   map[image.Point]string
	err       error
	calls     []image.Rectangle
}

func (f *fakeOCR) RecognizeLine(_ context.Context, crop image.Image) (string, error) {
	f.calls = append(f.calls, crop.Bounds())
	if f.err != nil {
		return "", f.err
	}
	size := image.Point{X: crop.Bounds().Dx(), Y: crop.Bounds().Dy()}
	return f.results[size], nil
}

func (f *fakeOCR) Available() bool { return f.available }

func TestBoxReaderReadFields(t *testing.T) {
	page := image.NewRGBA(image.Rect(0, 0, 1000, 2000))
	rule := Rule{
		Match: RuleMatch{Supplier: "ACME S.r.l."},
		Fields: map[string]FieldBox{
			FieldNumeroDocumento: {Page: 1, Box: BoxCoordinates{X: 0.4, Y: 0.2, W: 0.2, H: 0.05}},
			FieldMittente:        {Page: 1, Box: BoxCoordinates{X: 0.1, Y: 0.05, W: 0.3, H: 0.04}},
			FieldTotaleKg:        {Page: 2, Box: BoxCoordinates{X: 0.7, Y: 0.9, W: 0.1, H: 0.03}},
		},
	}

	ocr := &fakeOCR{
		available: true,
		results: map[image.Point]string{
			{X: 200, Y: 100}: "1234/A",
			{X: 300, Y: 80}:  "ACME S.r.l.",
		},
	}
	reader := NewBoxReader(ocr)

	values, err := reader.ReadFields(context.Background(), rule, page)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		FieldNumeroDocumento: "1234/A",
		FieldMittente:        "ACME S.r.l.",
	}, values)

	// The page-2 box must never reach the OCR engine.
	assert.Len(t, ocr.calls, 2)
}

func TestBoxReaderClampsCropToImage(t *testing.T) {
	page := image.NewRGBA(image.Rect(0, 0, 100, 100))
	rule := Rule{
		Match: RuleMatch{Supplier: "ACME"},
		Fields: map[string]FieldBox{
			FieldData: {Page: 1, Box: BoxCoordinates{X: 0.9, Y: 0.9, W: 1.0, H: 1.0}},
		},
	}

	ocr := &fakeOCR{available: true, results: map[image.Point]string{{X: 10, Y: 10}: "01/02/2024"}}
	reader := NewBoxReader(ocr)

	values, err := reader.ReadFields(context.Background(), rule, page)
	require.NoError(t, err)
	assert.Equal(t, "01/02/2024", values[FieldData])

	// The declared box runs past the right and bottom edges; the crop
	// must be clamped to the 10x10 corner that actually exists.
	require.Len(t, ocr.calls, 1)
	assert.Equal(t, 10, ocr.calls[0].Dx())
	assert.Equal(t, 10, ocr.calls[0].Dy())
}

func TestBoxReaderEmptyResultOmitsField(t *testing.T) {
	page := image.NewRGBA(image.Rect(0, 0, 100, 100))
	rule := Rule{
		Match: RuleMatch{Supplier: "ACME"},
		Fields: map[string]FieldBox{
			FieldData: {Page: 1, Box: BoxCoordinates{X: 0.1, Y: 0.1, W: 0.2, H: 0.1}},
		},
	}

	reader := NewBoxReader(&fakeOCR{available: true})
	values, err := reader.ReadFields(context.Background(), rule, page)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestBoxReaderUnavailable(t *testing.T) {
	reader := NewBoxReader(&fakeOCR{available: false})
	assert.False(t, reader.Available())

	_, err := reader.ReadFields(context.Background(), Rule{}, image.NewRGBA(image.Rect(0, 0, 10, 10)))
	assert.Error(t, err)

	_, err = NewBoxReader(nil).ReadFields(context.Background(), Rule{}, image.NewRGBA(image.Rect(0, 0, 10, 10)))
	assert.Error(t, err)
}

func TestBoxReaderPropagatesOCRError(t *testing.T) {
	page := image.NewRGBA(image.Rect(0, 0, 100, 100))
	rule := Rule{
		Match: RuleMatch{Supplier: "ACME"},
		Fields: map[string]FieldBox{
			FieldData: {Page: 1, Box: BoxCoordinates{X: 0.1, Y: 0.1, W: 0.2, H: 0.1}},
		},
	}

	reader := NewBoxReader(&fakeOCR{available: true, err: fmt.Errorf("engine crashed")})
	_, err := reader.ReadFields(context.Background(), rule, page)
	assert.ErrorContains(t, err, "engine crashed")
}
