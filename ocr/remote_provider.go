package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// RemoteProvider implements OCR against a self-hosted HTTP recognition
// service that accepts an image upload and returns JSON text.
type RemoteProvider struct {
	baseURL    string
	language   string
	httpClient *retryablehttp.Client
}

// newRemoteProvider creates a new remote OCR provider
func newRemoteProvider(config Config) (*RemoteProvider, error) {
	logger := log.WithField("url", config.RemoteURL)
	logger.Info("Creating new remote OCR provider")

	timeout := config.RemoteTimeout
	if timeout <= 0 {
		timeout = 120
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = time.Duration(timeout) * time.Second
	client.Logger = logger

	return &RemoteProvider{
		baseURL:    config.RemoteURL,
		language:   config.Language,
		httpClient: client,
	}, nil
}

// remoteOCRResponse mirrors the recognition service's JSON reply.
type remoteOCRResponse struct {
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error,omitempty"`
}

// ProcessImage uploads the image to the recognition service.
func (p *RemoteProvider) ProcessImage(ctx context.Context, imageContent []byte, pageNumber int) (*Result, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": "remote",
		"url":      p.baseURL,
		"page":     pageNumber,
	})
	logger.Debug("Starting remote OCR processing")

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	part, err := writer.CreateFormFile("file", "page.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(imageContent)); err != nil {
		return nil, fmt.Errorf("failed to copy image content to form: %w", err)
	}
	if p.language != "" {
		_ = writer.WriteField("language", p.language)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", p.baseURL+"/recognize", &requestBody)
	if err != nil {
		return nil, fmt.Errorf("error creating remote OCR request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request to remote OCR service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading remote OCR response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote OCR service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed remoteOCRResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("error parsing remote OCR JSON response: %w", err)
	}
	if parsed.Status != "" && parsed.Status != "success" {
		return nil, fmt.Errorf("remote OCR failed with status %q: %s", parsed.Status, parsed.Error)
	}

	if parsed.Text == "" {
		logger.Warn("Remote OCR service returned empty text")
	}

	result := &Result{
		Text: parsed.Text,
		Metadata: map[string]string{
			"provider": "remote",
		},
	}
	logger.WithField("content_length", len(result.Text)).Info("Successfully processed image with remote OCR")
	return result, nil
}
