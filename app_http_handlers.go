package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/robertolibanora/ddt-extractor/docstore"
	"github.com/robertolibanora/ddt-extractor/extraction"
)

// uploadDocumentHandler handles POST /api/documents: accepts a PDF,
// registers it by content hash and queues an extraction job. Re-uploads
// of a known document are reported as duplicates, not reprocessed.
func (app *App) uploadDocumentHandler(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file upload"})
		return
	}

	tmpPath := filepath.Join(app.uploadsDir, "incoming-"+generateJobID()+".pdf")
	if err := c.SaveUploadedFile(fileHeader, tmpPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to store upload: %v", err)})
		return
	}

	mtype, err := mimetype.DetectFile(tmpPath)
	if err != nil || !mtype.Is("application/pdf") {
		os.Remove(tmpPath)
		c.JSON(http.StatusBadRequest, gin.H{"error": "only PDF uploads are accepted"})
		return
	}

	hash, err := docstore.HashFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to hash upload: %v", err)})
		return
	}

	finalPath := filepath.Join(app.uploadsDir, hash+".pdf")
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to store upload: %v", err)})
		return
	}

	doc, created, err := app.Docs.Register(hash, fileHeader.Filename, finalPath, docstore.StatusQueued)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !created {
		c.JSON(http.StatusOK, UploadResponse{Hash: doc.Hash, Duplicate: true})
		return
	}

	job := app.enqueueDocument(hash, finalPath)
	c.JSON(http.StatusAccepted, UploadResponse{Hash: hash, JobID: job.ID})
}

// listDocumentsHandler handles GET /api/documents with optional
// ?status= and ?limit= filters.
func (app *App) listDocumentsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	docs, err := app.Docs.List(docstore.Status(c.Query("status")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]DocumentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, documentResponse(&docs[i]))
	}
	c.JSON(http.StatusOK, out)
}

// getDocumentHandler handles GET /api/documents/:hash.
func (app *App) getDocumentHandler(c *gin.Context) {
	doc, err := app.Docs.Get(c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, documentResponse(doc))
}

func documentResponse(doc *docstore.Document) DocumentResponse {
	resp := DocumentResponse{
		Hash:      doc.Hash,
		FileName:  doc.FileName,
		Status:    doc.Status,
		Method:    doc.Method,
		RuleName:  doc.RuleName,
		Error:     doc.ErrorMessage,
		UpdatedAt: doc.UpdatedAt,
	}
	if doc.ExtractedJSON != "" {
		var data extraction.DocumentData
		if err := json.Unmarshal([]byte(doc.ExtractedJSON), &data); err == nil {
			resp.Data = &data
		}
	}
	return resp
}

// confirmDocumentHandler handles POST /api/documents/:hash/confirm: the
// operator approves (possibly edited) data, the record lands in the
// ledger and differences from the extracted values feed the learning
// store.
func (app *App) confirmDocumentHandler(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if err := req.Data.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash := c.Param("hash")
	doc, err := app.Docs.Get(hash)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	// Learn from the operator's edits before finalizing.
	if doc.ExtractedJSON != "" && app.Corrections != nil {
		var original extraction.DocumentData
		if err := json.Unmarshal([]byte(doc.ExtractedJSON), &original); err == nil && original != req.Data {
			if err := app.Corrections.Record(doc.FileName, hash, original, req.Data); err != nil {
				log.WithError(err).WithField("hash", hash).Warn("Could not record manual correction")
			}
		}
	}

	if _, err := app.Ledger.Upsert(req.Data); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if _, err := app.Docs.Transition(hash, docstore.StatusFinalized, "operator confirmed", func(d *docstore.Document) {
		d.ExtractedJSON = mustJSON(req.Data)
	}); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusOK)
}

// retryDocumentHandler handles POST /api/documents/:hash/retry for
// documents stuck in processing.
func (app *App) retryDocumentHandler(c *gin.Context) {
	hash := c.Param("hash")
	doc, err := app.Docs.Get(hash)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	// The worker performs the STUCK -> PROCESSING transition itself
	// when it picks the job up; anything not stuck is rejected here.
	if doc.Status != docstore.StatusStuck {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("document is %s, only stuck documents can be retried", doc.Status)})
		return
	}
	job := app.enqueueDocument(hash, doc.FilePath)
	c.JSON(http.StatusAccepted, UploadResponse{Hash: hash, JobID: job.ID})
}

// getJobStatusHandler handles GET /api/jobs/:job_id.
func (app *App) getJobStatusHandler(c *gin.Context) {
	job, exists := jobStore.getJob(c.Param("job_id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, jobResponse(job))
}

// getAllJobsHandler handles GET /api/jobs.
func (app *App) getAllJobsHandler(c *gin.Context) {
	jobs := jobStore.GetAllJobs()
	out := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobResponse(job))
	}
	c.JSON(http.StatusOK, out)
}

func jobResponse(job *Job) JobResponse {
	return JobResponse{
		ID:        job.ID,
		Hash:      job.Hash,
		Status:    job.Status,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

// Layout rule CRUD.

func (app *App) getLayoutRulesHandler(c *gin.Context) {
	rules, err := app.LayoutRules.GetAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (app *App) putLayoutRuleHandler(c *gin.Context) {
	var req LayoutRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule name must not be empty"})
		return
	}
	if err := app.LayoutRules.SaveOne(req.Name, req.Supplier, req.PageCount, req.Fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (app *App) deleteLayoutRuleHandler(c *gin.Context) {
	if err := app.LayoutRules.Delete(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// Textual prompt rule CRUD.

func (app *App) getPromptRulesHandler(c *gin.Context) {
	rules, err := app.PromptRules.All()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (app *App) putPromptRuleHandler(c *gin.Context) {
	var req PromptRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if err := app.PromptRules.Add(req.Name, req.Rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (app *App) deletePromptRuleHandler(c *gin.Context) {
	if err := app.PromptRules.Delete(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// addAnnotationHandler handles POST /api/annotations.
func (app *App) addAnnotationHandler(c *gin.Context) {
	var req AnnotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if err := app.Corrections.AddAnnotation(req.Sender, req.Hint); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}

// getCorrectionsHandler handles GET /api/corrections.
func (app *App) getCorrectionsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	history, err := app.Corrections.History(c.Query("hash"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, history)
}

// downloadLedgerHandler handles GET /api/ledger/download.
func (app *App) downloadLedgerHandler(c *gin.Context) {
	data, err := app.Ledger.Download()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="registro_ddt.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
