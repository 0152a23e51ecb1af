package main

import (
	"time"

	"github.com/robertolibanora/ddt-extractor/docstore"
	"github.com/robertolibanora/ddt-extractor/extraction"
	"github.com/robertolibanora/ddt-extractor/layout"
)

// DocumentResponse is the API view of one tracked document.
type DocumentResponse struct {
	Hash      string                    `json:"hash"`
	FileName  string                    `json:"file_name"`
	Status    docstore.Status           `json:"status"`
	Method    string                    `json:"method,omitempty"`
	RuleName  string                    `json:"rule_name,omitempty"`
	Data      *extraction.DocumentData  `json:"data,omitempty"`
	Error     string                    `json:"error,omitempty"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// UploadResponse is returned after a successful document upload.
type UploadResponse struct {
	Hash      string `json:"hash"`
	JobID     string `json:"job_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// JobResponse is the API view of one processing job.
type JobResponse struct {
	ID        string    `json:"id"`
	Hash      string    `json:"hash"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfirmRequest carries the operator-reviewed data for finalization.
type ConfirmRequest struct {
	Data extraction.DocumentData `json:"data"`
}

// LayoutRuleRequest creates or replaces one trained layout template.
type LayoutRuleRequest struct {
	Name      string                     `json:"name"`
	Supplier  string                     `json:"supplier"`
	PageCount int                        `json:"page_count"`
	Fields    map[string]layout.FieldBox `json:"fields"`
}

// PromptRuleRequest creates or replaces one textual correction rule.
type PromptRuleRequest struct {
	Name string                `json:"name"`
	Rule extraction.PromptRule `json:"rule"`
}

// AnnotationRequest attaches an extraction hint to a supplier.
type AnnotationRequest struct {
	Sender string `json:"sender"`
	Hint   string `json:"hint"`
}
