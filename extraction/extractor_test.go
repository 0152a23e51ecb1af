package extraction

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertolibanora/ddt-extractor/layout"
	"github.com/robertolibanora/ddt-extractor/textextract"
)

type fakeRenderer struct {
	img       image.Image
	renderErr error
	pages     int
	pagesErr  error
}

func (f *fakeRenderer) RenderPage(context.Context, string, int, int) (image.Image, error) {
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return f.img, nil
}

func (f *fakeRenderer) PageCount(string) (int, error) {
	return f.pages, f.pagesErr
}

type fakeTexts struct {
	result textextract.Result
}

func (f *fakeTexts) Extract(_ context.Context, _ string, _ int, enableOCR bool) textextract.Result {
	if enableOCR {
		panic("OCR must stay disabled during the detection pass")
	}
	return f.result
}

type fakeVision struct {
	data   DocumentData
	err    error
	prompt string
	calls  int
}

func (f *fakeVision) Extract(_ context.Context, prompt string, _ []byte) (DocumentData, error) {
	f.calls++
	f.prompt = prompt
	if f.err != nil {
		return DocumentData{}, f.err
	}
	return f.data, nil
}

type fakeAdvisor struct {
	hints       []string
	hintsSender string
	suggestions map[string]string // field -> replacement
}

func (f *fakeAdvisor) Suggestion(field, value string) (string, bool, error) {
	if f.suggestions == nil {
		return "", false, nil
	}
	r, ok := f.suggestions[field]
	return r, ok, nil
}

func (f *fakeAdvisor) AnnotationHints(sender string) ([]string, error) {
	f.hintsSender = sender
	return f.hints, nil
}

// sizeKeyedOCR returns a canned value per crop size, which is how the
// box reader distinguishes field crops in tests.
type sizeKeyedOCR struct {
	bySize map[image.Point]string
}

func (o *sizeKeyedOCR) RecognizeLine(_ context.Context, crop image.Image) (string, error) {
	b := crop.Bounds()
	return o.bySize[image.Point{X: b.Dx(), Y: b.Dy()}], nil
}

func (o *sizeKeyedOCR) Available() bool { return true }

func mustBox(t *testing.T, x, y, w, h float64) layout.BoxCoordinates {
	t.Helper()
	b, err := layout.NewBoxCoordinates(x, y, w, h)
	require.NoError(t, err)
	return b
}

const acmeDocText = "Mittente: Acme Costruzioni S.r.l.\n" +
	"Destinatario: Mario Rossi & C.\n" +
	"Documento di trasporto DDT N. 12345 del 27/11/2024\n" +
	"Totale kg 1250,5 - trasporto a mezzo mittente, porto franco.\n" +
	"Causale del trasporto: vendita merce, colli 12, peso lordo kg 1300."

func newPipeline(t *testing.T, renderer *fakeRenderer, texts *fakeTexts, vision *fakeVision, advisor Advisor, ocr layout.BoxOCR, trainRule bool) *Extractor {
	t.Helper()
	dir := t.TempDir()

	store := layout.NewStore(filepath.Join(dir, "layout_rules.json"))
	if trainRule {
		fields := map[string]layout.FieldBox{
			layout.FieldMittente:        {Page: 1, Box: mustBox(t, 0.0625, 0.0625, 0.25, 0.125)},
			layout.FieldDestinatario:    {Page: 1, Box: mustBox(t, 0.0625, 0.25, 0.375, 0.125)},
			layout.FieldData:            {Page: 1, Box: mustBox(t, 0.5, 0.0625, 0.25, 0.0625)},
			layout.FieldNumeroDocumento: {Page: 1, Box: mustBox(t, 0.5, 0.25, 0.3125, 0.0625)},
			layout.FieldTotaleKg:        {Page: 1, Box: mustBox(t, 0.75, 0.75, 0.125, 0.0625)},
		}
		require.NoError(t, store.SaveOne("acme", "Acme Costruzioni S.r.l.", 1, fields))
	}

	rules := NewRuleSet(filepath.Join(dir, "prompt_rules.json"))
	prompts, err := NewPromptBuilder(filepath.Join(dir, "prompts"), "gpt-4o", 0)
	require.NoError(t, err)

	return NewExtractor(renderer, texts, layout.NewDetector(store), layout.NewBoxReader(ocr), rules, prompts, vision, advisor)
}

func TestProcessLayoutPath(t *testing.T) {
	// 1000x800 page: crop sizes identify the fields.
	ocr := &sizeKeyedOCR{bySize: map[image.Point]string{
		{X: 250, Y: 100}: "Spett.le Acme Costruzioni S.r.l.",
		{X: 375, Y: 100}: "Mario Rossi & C.",
		{X: 250, Y: 50}:  "27/11/2024",
		{X: 312, Y: 50}:  "DDT-12345",
		{X: 125, Y: 50}:  "1250,5 kg",
	}}
	renderer := &fakeRenderer{img: image.NewRGBA(image.Rect(0, 0, 1000, 800)), pages: 1}
	texts := &fakeTexts{result: textextract.Result{Text: acmeDocText, Reliable: true, Method: textextract.MethodMuPDF}}
	vision := &fakeVision{}

	e := newPipeline(t, renderer, texts, vision, nil, ocr, true)

	result, err := e.Process(context.Background(), filepath.Join(t.TempDir(), "acme_ddt.pdf"))
	require.NoError(t, err)

	assert.Equal(t, MethodLayoutModel, result.Method)
	assert.Equal(t, "acme", result.RuleName)
	assert.Equal(t, "Acme Costruzioni S.r.l.", result.Data.Mittente)
	assert.Equal(t, "Mario Rossi & C.", result.Data.Destinatario)
	assert.Equal(t, "2024-11-27", result.Data.Data)
	assert.Equal(t, "DDT-12345", result.Data.NumeroDocumento)
	assert.InDelta(t, 1250.5, result.Data.TotaleKg, 1e-9)

	// A template match must never reach the vision model.
	assert.Zero(t, vision.calls)
}

func TestProcessVisionFallbackWhenNoTemplate(t *testing.T) {
	renderer := &fakeRenderer{img: image.NewRGBA(image.Rect(0, 0, 100, 100)), pages: 1}
	texts := &fakeTexts{result: textextract.Result{Text: acmeDocText, Reliable: true, Method: textextract.MethodMuPDF}}
	vision := &fakeVision{data: validData()}

	e := newPipeline(t, renderer, texts, vision, nil, nil, false)

	result, err := e.Process(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, MethodAIFallback, result.Method)
	assert.Equal(t, validData(), result.Data)
	assert.Equal(t, 1, vision.calls)

	// Reliable grounding text is embedded in the prompt.
	assert.Contains(t, vision.prompt, "CAMPI RICERCATI")
	assert.Contains(t, vision.prompt, "DDT N. 12345")
}

func TestProcessVisionFallbackOmitsUnreliableText(t *testing.T) {
	renderer := &fakeRenderer{img: image.NewRGBA(image.Rect(0, 0, 100, 100)), pages: 1}
	texts := &fakeTexts{result: textextract.Result{Text: "x7 q@@@ zz", Reliable: false, Method: textextract.MethodOCR}}
	vision := &fakeVision{data: validData()}

	e := newPipeline(t, renderer, texts, vision, nil, nil, false)

	_, err := e.Process(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.NotContains(t, vision.prompt, "TESTO ESTRATTO DAL DOCUMENTO")
}

func TestProcessVisionFallbackUsesPromptRule(t *testing.T) {
	renderer := &fakeRenderer{img: image.NewRGBA(image.Rect(0, 0, 100, 100)), pages: 1}
	texts := &fakeTexts{result: textextract.Result{Text: acmeDocText, Reliable: true}}
	vision := &fakeVision{data: validData()}
	advisor := &fakeAdvisor{hints: []string{"il peso è sempre in fondo all'ultima colonna"}}

	e := newPipeline(t, renderer, texts, vision, advisor, nil, false)
	require.NoError(t, e.rules.Add("acme", PromptRule{
		Detect:       []string{"ACME COSTRUZIONI"},
		Instructions: "Il numero DDT include sempre il prefisso DDT-.",
	}))

	result, err := e.Process(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "acme", result.RuleName)
	assert.Contains(t, vision.prompt, "REGOLE SPECIALI FORNITORE")
	assert.Contains(t, vision.prompt, "prefisso DDT-")
	assert.Contains(t, vision.prompt, "il peso è sempre in fondo all'ultima colonna")
	assert.NotEmpty(t, advisor.hintsSender)
}

func TestProcessIdenticalPartiesIsTerminal(t *testing.T) {
	renderer := &fakeRenderer{img: image.NewRGBA(image.Rect(0, 0, 100, 100)), pages: 1}
	texts := &fakeTexts{result: textextract.Result{Text: "", Reliable: false}}
	data := validData()
	data.Destinatario = data.Mittente
	vision := &fakeVision{data: data}

	e := newPipeline(t, renderer, texts, vision, nil, nil, false)

	_, err := e.Process(context.Background(), "doc.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIdenticalParties)
}

func TestProcessRenderFailureIsFatal(t *testing.T) {
	renderer := &fakeRenderer{renderErr: errors.New("no rendering backend")}
	texts := &fakeTexts{}
	vision := &fakeVision{data: validData()}

	e := newPipeline(t, renderer, texts, vision, nil, nil, false)

	_, err := e.Process(context.Background(), "doc.pdf")
	require.Error(t, err)
	assert.Zero(t, vision.calls)
}

func TestProcessVisionFailureIsFatal(t *testing.T) {
	renderer := &fakeRenderer{img: image.NewRGBA(image.Rect(0, 0, 100, 100)), pages: 1}
	texts := &fakeTexts{result: textextract.Result{Text: "", Reliable: false}}
	vision := &fakeVision{err: errors.New("model unavailable")}

	e := newPipeline(t, renderer, texts, vision, nil, nil, false)

	_, err := e.Process(context.Background(), "doc.pdf")
	require.Error(t, err)
	assert.Equal(t, 1, vision.calls)
}

func TestProcessAppliesLearnedCorrections(t *testing.T) {
	renderer := &fakeRenderer{img: image.NewRGBA(image.Rect(0, 0, 100, 100)), pages: 1}
	texts := &fakeTexts{result: textextract.Result{Text: "", Reliable: false}}
	data := validData()
	data.Mittente = "ACME SRL" // the raw form the model keeps producing
	vision := &fakeVision{data: data}
	advisor := &fakeAdvisor{suggestions: map[string]string{"mittente": "ACME S.r.l. Costruzioni"}}

	e := newPipeline(t, renderer, texts, vision, advisor, nil, false)

	result, err := e.Process(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "ACME S.r.l. Costruzioni", result.Data.Mittente)
}
