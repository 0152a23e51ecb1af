package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertolibanora/ddt-extractor/corrections"
	"github.com/robertolibanora/ddt-extractor/docstore"
	"github.com/robertolibanora/ddt-extractor/extraction"
	"github.com/robertolibanora/ddt-extractor/layout"
	"github.com/robertolibanora/ddt-extractor/ledger"
)

// minimalPDF is just enough bytes for content-type sniffing.
var minimalPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< >>\n%%EOF\n")

func newTestApp(t *testing.T) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// Flush jobs left on the shared queue so each test starts clean.
	for {
		select {
		case <-jobQueue:
			continue
		default:
		}
		break
	}

	dir := t.TempDir()

	uploadsDir := filepath.Join(dir, "uploads")
	require.NoError(t, os.MkdirAll(uploadsDir, 0o755))

	promptRules := extraction.NewRuleSet(filepath.Join(dir, "prompt_rules.json"))
	correctionStore, err := corrections.Open(filepath.Join(dir, "corrections.db"), promptRules)
	require.NoError(t, err)
	docs, err := docstore.Open(filepath.Join(dir, "documents.db"))
	require.NoError(t, err)

	return &App{
		Docs:        docs,
		Corrections: correctionStore,
		Ledger:      ledger.New(filepath.Join(dir, "registro_ddt.xlsx")),
		LayoutRules: layout.NewStore(filepath.Join(dir, "layout_rules.json")),
		PromptRules: promptRules,
		uploadsDir:  uploadsDir,
	}
}

func newTestRouter(app *App) *gin.Engine {
	router := gin.New()
	api := router.Group("/api")
	api.POST("/documents", app.uploadDocumentHandler)
	api.GET("/documents", app.listDocumentsHandler)
	api.GET("/documents/:hash", app.getDocumentHandler)
	api.POST("/documents/:hash/confirm", app.confirmDocumentHandler)
	api.POST("/documents/:hash/retry", app.retryDocumentHandler)
	api.GET("/layout-rules", app.getLayoutRulesHandler)
	api.PUT("/layout-rules", app.putLayoutRuleHandler)
	api.DELETE("/layout-rules/:name", app.deleteLayoutRuleHandler)
	api.GET("/rules", app.getPromptRulesHandler)
	api.POST("/rules", app.putPromptRuleHandler)
	api.DELETE("/rules/:name", app.deletePromptRuleHandler)
	api.POST("/annotations", app.addAnnotationHandler)
	api.GET("/corrections", app.getCorrectionsHandler)
	api.GET("/ledger/download", app.downloadLedgerHandler)
	return router
}

func multipartUpload(t *testing.T, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func jsonRequest(t *testing.T, router *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func confirmedData() extraction.DocumentData {
	return extraction.DocumentData{
		Data:            "2024-11-27",
		Mittente:        "ACME S.r.l.",
		Destinatario:    "Mario Rossi & C.",
		NumeroDocumento: "DDT-42",
		TotaleKg:        1250.5,
	}
}

func TestUploadAndDuplicate(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	body, contentType := multipartUpload(t, "ddt.pdf", minimalPDF)
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Hash, 64)
	assert.NotEmpty(t, resp.JobID)
	assert.False(t, resp.Duplicate)

	// Same content again: reported as duplicate, no new job.
	body, contentType = multipartUpload(t, "ddt_copy.pdf", minimalPDF)
	req = httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dup UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dup))
	assert.Equal(t, resp.Hash, dup.Hash)
	assert.True(t, dup.Duplicate)
	assert.Empty(t, dup.JobID)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	body, contentType := multipartUpload(t, "notes.txt", []byte("solo testo"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDocumentNotFound(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	rec := jsonRequest(t, router, http.MethodGet, "/api/documents/unknown-hash", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmFinalizesAndLearns(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	extracted := confirmedData()
	extracted.Mittente = "ACMESRL" // garbled read the operator will fix
	extractedJSON, err := json.Marshal(extracted)
	require.NoError(t, err)

	_, _, err = app.Docs.Register("hash-1", "ddt.pdf", "", docstore.StatusQueued)
	require.NoError(t, err)
	_, err = app.Docs.Transition("hash-1", docstore.StatusProcessing, "test", nil)
	require.NoError(t, err)
	_, err = app.Docs.Transition("hash-1", docstore.StatusReadyForReview, "test", func(d *docstore.Document) {
		d.ExtractedJSON = string(extractedJSON)
	})
	require.NoError(t, err)

	rec := jsonRequest(t, router, http.MethodPost, "/api/documents/hash-1/confirm", ConfirmRequest{Data: confirmedData()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	doc, err := app.Docs.Get("hash-1")
	require.NoError(t, err)
	assert.Equal(t, docstore.StatusFinalized, doc.Status)

	rows, err := app.Ledger.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "DDT-42", rows[0].NumeroDocumento)

	history, err := app.Corrections.History("hash-1", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}

func TestConfirmRejectsIdenticalParties(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	data := confirmedData()
	data.Destinatario = data.Mittente
	rec := jsonRequest(t, router, http.MethodPost, "/api/documents/hash-1/confirm", ConfirmRequest{Data: data})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmOnFinalizedConflicts(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	_, _, err := app.Docs.Register("hash-1", "ddt.pdf", "", docstore.StatusProcessing)
	require.NoError(t, err)
	_, err = app.Docs.Transition("hash-1", docstore.StatusFinalized, "test", nil)
	require.NoError(t, err)

	rec := jsonRequest(t, router, http.MethodPost, "/api/documents/hash-1/confirm", ConfirmRequest{Data: confirmedData()})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetryOnlyForStuckDocuments(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	_, _, err := app.Docs.Register("hash-1", "ddt.pdf", "/in/ddt.pdf", docstore.StatusQueued)
	require.NoError(t, err)

	rec := jsonRequest(t, router, http.MethodPost, "/api/documents/hash-1/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err = app.Docs.Transition("hash-1", docstore.StatusProcessing, "test", nil)
	require.NoError(t, err)
	marked, err := app.Docs.RequeueStuck(-time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, marked)

	rec = jsonRequest(t, router, http.MethodPost, "/api/documents/hash-1/retry", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
}

func TestLayoutRuleCRUD(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	rule := LayoutRuleRequest{
		Name:      "acme_v1",
		Supplier:  "ACME S.r.l.",
		PageCount: 1,
		Fields: map[string]layout.FieldBox{
			layout.FieldMittente: {Page: 1, Box: layout.BoxCoordinates{X: 0.1, Y: 0.1, W: 0.3, H: 0.05}},
		},
	}
	rec := jsonRequest(t, router, http.MethodPut, "/api/layout-rules", rule)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = jsonRequest(t, router, http.MethodGet, "/api/layout-rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rules map[string]layout.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Contains(t, rules, "acme_v1")
	assert.Equal(t, "ACME S.r.l.", rules["acme_v1"].Match.Supplier)

	rec = jsonRequest(t, router, http.MethodDelete, "/api/layout-rules/acme_v1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = jsonRequest(t, router, http.MethodDelete, "/api/layout-rules/acme_v1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLayoutRuleRejectsEmptyName(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	rec := jsonRequest(t, router, http.MethodPut, "/api/layout-rules", LayoutRuleRequest{Supplier: "ACME"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPromptRuleCRUD(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	req := PromptRuleRequest{
		Name: "acme",
		Rule: extraction.PromptRule{
			Detect:       []string{"ACME"},
			Instructions: "Il mittente è sempre ACME S.r.l.",
		},
	}
	rec := jsonRequest(t, router, http.MethodPost, "/api/rules", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = jsonRequest(t, router, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rules map[string]extraction.PromptRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	assert.Contains(t, rules, "acme")

	rec = jsonRequest(t, router, http.MethodDelete, "/api/rules/acme", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = jsonRequest(t, router, http.MethodDelete, "/api/rules/acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnnotationEndpoint(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	rec := jsonRequest(t, router, http.MethodPost, "/api/annotations", AnnotationRequest{
		Sender: "ACME S.r.l.",
		Hint:   "Il numero documento è in alto a destra",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	hints, err := app.Corrections.AnnotationHints("ACME S.r.l.")
	require.NoError(t, err)
	assert.Len(t, hints, 1)
}

func TestLedgerDownload(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(app)

	_, err := app.Ledger.Upsert(confirmedData())
	require.NoError(t, err)

	rec := jsonRequest(t, router, http.MethodGet, "/api/ledger/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "registro_ddt.xlsx")
	assert.NotEmpty(t, rec.Body.Bytes())
}
