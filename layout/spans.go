package layout

import (
	"fmt"
	"math"
	"sort"

	"github.com/ledongthuc/pdf"
)

// A4 in PDF points, used when a page carries no usable MediaBox.
const (
	defaultPageWidth  = 595.0
	defaultPageHeight = 842.0
)

// rowTolerance is the vertical distance in points within which glyphs are
// considered part of the same text line.
const rowTolerance = 3.0

// PageSpans reads the positioned text of one page and groups the raw
// glyphs into word-level spans with page-fraction boxes, top-left origin.
// Pages with no embedded text yield an empty slice, not an error.
func PageSpans(filePath string, pageNumber int) ([]TextSpan, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", filePath, err)
	}
	defer f.Close()

	if pageNumber < 1 || pageNumber > reader.NumPage() {
		return nil, fmt.Errorf("page %d out of range, document has %d pages", pageNumber, reader.NumPage())
	}

	page := reader.Page(pageNumber)
	if page.V.IsNull() {
		return nil, nil
	}

	pageW, pageH := pageSize(page)
	content := page.Content()

	glyphs := make([]pdf.Text, 0, len(content.Text))
	for _, t := range content.Text {
		if t.S == "" || t.S == "\n" {
			continue
		}
		glyphs = append(glyphs, t)
	}
	if len(glyphs) == 0 {
		return nil, nil
	}

	spans := groupIntoSpans(glyphs)
	out := make([]TextSpan, 0, len(spans))
	for _, s := range spans {
		out = append(out, TextSpan{
			Text: s.text,
			X:    s.x / pageW,
			Y:    (pageH - s.y - s.h) / pageH,
			W:    s.w / pageW,
			H:    s.h / pageH,
		})
	}
	return out, nil
}

func pageSize(page pdf.Page) (w, h float64) {
	defer func() {
		// Malformed MediaBox values make the library panic on Float64.
		if r := recover(); r != nil {
			w, h = defaultPageWidth, defaultPageHeight
		}
	}()

	box := page.V.Key("MediaBox")
	if box.IsNull() || box.Len() < 4 {
		return defaultPageWidth, defaultPageHeight
	}
	x0 := box.Index(0).Float64()
	y0 := box.Index(1).Float64()
	x1 := box.Index(2).Float64()
	y1 := box.Index(3).Float64()
	w = x1 - x0
	h = y1 - y0
	if w <= 0 || h <= 0 {
		return defaultPageWidth, defaultPageHeight
	}
	return w, h
}

// rawSpan is a word-level run in page points, bottom-left origin, before
// conversion to fractions.
type rawSpan struct {
	text       string
	x, y, w, h float64
}

// groupIntoSpans sorts glyphs into reading order and merges adjacent
// glyphs on the same line into word runs. A horizontal gap wider than
// half the font size starts a new span.
func groupIntoSpans(glyphs []pdf.Text) []rawSpan {
	sort.SliceStable(glyphs, func(i, j int) bool {
		if math.Abs(glyphs[i].Y-glyphs[j].Y) > rowTolerance {
			return glyphs[i].Y > glyphs[j].Y
		}
		return glyphs[i].X < glyphs[j].X
	})

	var spans []rawSpan
	var cur *rawSpan
	var prevRight float64

	for _, g := range glyphs {
		h := g.FontSize
		if h <= 0 {
			h = 10.0
		}
		gap := h * 0.5

		sameLine := cur != nil && math.Abs(g.Y-cur.y) <= rowTolerance
		if sameLine && g.X-prevRight <= gap {
			cur.text += g.S
			cur.w = g.X + g.W - cur.x
			if h > cur.h {
				cur.h = h
			}
		} else {
			if cur != nil {
				spans = append(spans, *cur)
			}
			cur = &rawSpan{text: g.S, x: g.X, y: g.Y, w: g.W, h: h}
		}
		prevRight = g.X + g.W
	}
	if cur != nil {
		spans = append(spans, *cur)
	}
	return spans
}
