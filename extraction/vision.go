package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

// visionResponse is the JSON schema the model is instructed to return.
// totale_kg arrives as a number or, with some models, a string.
type visionResponse struct {
	Data            string          `json:"data"`
	Mittente        string          `json:"mittente"`
	Destinatario    string          `json:"destinatario"`
	NumeroDocumento string          `json:"numero_documento"`
	TotaleKg        json.RawMessage `json:"totale_kg"`
}

// VisionExtractor sends one document page to a vision model and parses
// the structured reply. Calls are rate limited but never retried; a
// failed call fails the document.
type VisionExtractor struct {
	llm     llms.Model
	limiter *rate.Limiter
}

// NewVisionExtractor wraps llm with an optional rate limit.
// requestsPerMinute <= 0 disables limiting.
func NewVisionExtractor(llm llms.Model, requestsPerMinute float64) *VisionExtractor {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		rps := rate.Limit(requestsPerMinute / 60.0)
		limiter = rate.NewLimiter(rps, 1) // Burst size of 1
	}
	return &VisionExtractor{llm: llm, limiter: limiter}
}

// Extract sends the prompt plus the page image and returns the
// normalized field values. The result is not yet validated.
func (v *VisionExtractor) Extract(ctx context.Context, prompt string, pageJPEG []byte) (DocumentData, error) {
	if v.llm == nil {
		return DocumentData{}, fmt.Errorf("vision LLM is not configured")
	}
	if len(pageJPEG) == 0 {
		return DocumentData{}, fmt.Errorf("page image is empty")
	}

	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			return DocumentData{}, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextContent{Text: prompt},
				llms.ImageURLContent{
					URL: fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(pageJPEG)),
				},
			},
		},
	}

	resp, err := v.llm.GenerateContent(ctx, messages,
		llms.WithJSONMode(),
		llms.WithTemperature(0.1),
	)
	if err != nil {
		return DocumentData{}, fmt.Errorf("vision model call failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return DocumentData{}, fmt.Errorf("empty response from vision model")
	}

	return parseVisionResponse(resp.Choices[0].Content)
}

// parseVisionResponse decodes the model reply and normalizes every
// field, applying the shared fallback values.
func parseVisionResponse(content string) (DocumentData, error) {
	var parsed visionResponse
	if err := json.Unmarshal([]byte(stripJSONFences(content)), &parsed); err != nil {
		return DocumentData{}, fmt.Errorf("invalid JSON from vision model: %w", err)
	}

	weight, hasWeight := parseWeightValue(parsed.TotaleKg)
	raw := map[string]string{
		"data":             parsed.Data,
		"mittente":         parsed.Mittente,
		"destinatario":     parsed.Destinatario,
		"numero_documento": parsed.NumeroDocumento,
	}
	return normalizeRaw(raw, weight, hasWeight), nil
}

// parseWeightValue accepts the weight as a JSON number or a string with
// units and separators.
func parseWeightValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64); err == nil {
		return v, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return NormalizeWeight(s)
	}
	return 0, false
}

// stripJSONFences removes a markdown code fence some models wrap around
// JSON output despite JSON mode.
func stripJSONFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
