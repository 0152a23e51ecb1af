// Package ocr provides pluggable text-recognition engines used by the
// extraction pipeline for full-page reads and for single field crops.
package ocr

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Result holds the output from OCR processing
type Result struct {
	// Plain text output
	Text string

	// Additional provider-specific metadata
	Metadata map[string]string
}

// Provider defines the interface for OCR processing. imageContent is an
// encoded JPEG; pageNumber is 1-based and only used for logging.
type Provider interface {
	ProcessImage(ctx context.Context, imageContent []byte, pageNumber int) (*Result, error)
}

// Config holds the OCR provider configuration
type Config struct {
	// Provider type: "llm" or "remote"
	Provider string

	// LLM settings
	VisionLLMProvider string
	VisionLLMModel    string
	VisionLLMPrompt   string

	// Language hint passed to engines that accept one
	Language string

	// Remote HTTP OCR service settings
	RemoteURL     string
	RemoteTimeout int // seconds, defaults to 120
}

// NewProvider creates a new OCR provider based on configuration
func NewProvider(config Config) (Provider, error) {
	log.Info("Initializing OCR provider: ", config.Provider)

	switch config.Provider {
	case "llm":
		if config.VisionLLMProvider == "" || config.VisionLLMModel == "" {
			return nil, fmt.Errorf("missing required LLM configuration")
		}
		log.WithFields(logrus.Fields{
			"provider": config.VisionLLMProvider,
			"model":    config.VisionLLMModel,
		}).Info("Using LLM OCR provider")
		return newLLMProvider(config)

	case "remote":
		if config.RemoteURL == "" {
			return nil, fmt.Errorf("missing required remote OCR configuration (OCR_REMOTE_URL)")
		}
		log.WithField("url", config.RemoteURL).Info("Using remote OCR provider")
		return newRemoteProvider(config)

	default:
		return nil, fmt.Errorf("unsupported OCR provider: %s", config.Provider)
	}
}

// SetLogLevel sets the logging level for the OCR package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}
