package extraction

import (
	"bytes"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// availableTokensForContent renders the template with an empty Content
// field and subtracts the result from the token limit, leaving the
// budget available for the document text.
func (pb *PromptBuilder) availableTokensForContent(data map[string]interface{}) (int, error) {
	if pb.tokenLimit <= 0 {
		return -1, nil // No limit when disabled
	}

	templateData := make(map[string]interface{}, len(data))
	for k, v := range data {
		templateData[k] = v
	}
	templateData["Content"] = ""

	var buf bytes.Buffer
	if err := pb.tmpl.Execute(&buf, templateData); err != nil {
		return 0, fmt.Errorf("error executing template: %w", err)
	}

	promptTokens := pb.tokenCount(buf.String())
	log.Debugf("Prompt template uses %d tokens", promptTokens)

	// Safety margin for the message framing around the prompt.
	promptTokens += 10

	available := pb.tokenLimit - promptTokens
	if available < 0 {
		return 0, fmt.Errorf("prompt template exceeds token limit")
	}
	return available, nil
}

func (pb *PromptBuilder) tokenCount(content string) int {
	return llms.CountTokens(pb.modelName, content)
}

// truncateContentByTokens truncates content so its token count does not
// exceed availableTokens, using a binary search on runes to find the
// longest prefix within the limit. A negative availableTokens or a
// disabled limit returns the content unchanged.
func (pb *PromptBuilder) truncateContentByTokens(content string, availableTokens int) (string, error) {
	if availableTokens < 0 || pb.tokenLimit <= 0 {
		return content, nil
	}
	if pb.tokenCount(content) <= availableTokens {
		return content, nil
	}

	runes := []rune(content)
	low := 0
	high := len(runes)
	validCut := 0

	for low <= high {
		mid := (low + high) / 2
		if pb.tokenCount(string(runes[:mid])) <= availableTokens {
			validCut = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	truncated := string(runes[:validCut])
	if pb.tokenCount(truncated) > availableTokens {
		return "", fmt.Errorf("truncated content still exceeds the available token limit")
	}
	if truncated != content {
		log.WithField("available_tokens", availableTokens).Debug("Document text truncated to fit token budget")
	}
	return truncated, nil
}
