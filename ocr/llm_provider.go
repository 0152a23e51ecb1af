package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"strings"

	_ "image/jpeg"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/mistral"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultOCRPrompt = "Trascrivi fedelmente tutto il testo visibile in questa immagine. Rispondi solo con il testo, senza commenti."

// LLMProvider implements OCR using LLM vision models
type LLMProvider struct {
	provider string
	model    string
	llm      llms.Model
	prompt   string
}

func newLLMProvider(config Config) (*LLMProvider, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": config.VisionLLMProvider,
		"model":    config.VisionLLMModel,
	})
	logger.Info("Creating new LLM OCR provider")

	var model llms.Model
	var err error

	switch strings.ToLower(config.VisionLLMProvider) {
	case "openai":
		model, err = createOpenAIClient(config)
	case "ollama":
		model, err = createOllamaClient(config)
	case "mistral":
		model, err = createMistralClient(config)
	default:
		return nil, fmt.Errorf("unsupported vision LLM provider: %s", config.VisionLLMProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating vision LLM client: %w", err)
	}

	prompt := config.VisionLLMPrompt
	if prompt == "" {
		prompt = defaultOCRPrompt
	}

	return &LLMProvider{
		provider: config.VisionLLMProvider,
		model:    config.VisionLLMModel,
		llm:      model,
		prompt:   prompt,
	}, nil
}

func (p *LLMProvider) ProcessImage(ctx context.Context, imageContent []byte, pageNumber int) (*Result, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": p.provider,
		"model":    p.model,
		"page":     pageNumber,
	})
	logger.Debug("Starting LLM OCR processing")

	img, _, err := image.Decode(bytes.NewReader(imageContent))
	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}
	bounds := img.Bounds()
	logger.WithFields(logrus.Fields{
		"width":  bounds.Dx(),
		"height": bounds.Dy(),
	}).Debug("Image dimensions")

	var imagePart llms.ContentPart
	providerName := strings.ToLower(p.provider)
	if providerName == "openai" || providerName == "mistral" {
		imagePart = llms.ImageURLPart("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageContent))
	} else {
		imagePart = llms.BinaryPart("image/jpeg", imageContent)
	}

	parts := []llms.ContentPart{
		imagePart,
		llms.TextPart(p.prompt),
	}

	completion, err := p.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Parts: parts,
			Role:  llms.ChatMessageTypeHuman,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error getting response from LLM: %w", err)
	}

	result := &Result{
		Text: stripReasoning(completion.Choices[0].Content),
		Metadata: map[string]string{
			"provider": p.provider,
			"model":    p.model,
		},
	}
	logger.WithField("content_length", len(result.Text)).Info("Successfully processed image")
	return result, nil
}

// stripReasoning drops the <think>...</think> block some local models
// prepend to their answer, so only the transcription reaches callers.
// Content with an incomplete tag pair passes through untouched.
func stripReasoning(content string) string {
	start := strings.Index(content, "<think>")
	end := strings.Index(content, "</think>")
	if start != -1 && end != -1 && end > start {
		content = content[:start] + content[end+len("</think>"):]
	}
	return strings.TrimSpace(content)
}

// createOpenAIClient creates a new OpenAI vision model client
func createOpenAIClient(config Config) (llms.Model, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is not set")
	}
	return openai.New(
		openai.WithModel(config.VisionLLMModel),
		openai.WithToken(apiKey),
	)
}

// createOllamaClient creates a new Ollama vision model client
func createOllamaClient(config Config) (llms.Model, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	return ollama.New(
		ollama.WithModel(config.VisionLLMModel),
		ollama.WithServerURL(host),
	)
}

// createMistralClient creates a new Mistral vision model client
func createMistralClient(config Config) (llms.Model, error) {
	apiKey := os.Getenv("MISTRAL_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("Mistral API key is not set")
	}
	return mistral.New(
		mistral.WithModel(config.VisionLLMModel),
		mistral.WithAPIKey(apiKey),
	)
}
