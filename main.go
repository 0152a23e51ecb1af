package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/mistral"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/robertolibanora/ddt-extractor/corrections"
	"github.com/robertolibanora/ddt-extractor/docstore"
	"github.com/robertolibanora/ddt-extractor/extraction"
	"github.com/robertolibanora/ddt-extractor/layout"
	"github.com/robertolibanora/ddt-extractor/ledger"
	"github.com/robertolibanora/ddt-extractor/ocr"
	"github.com/robertolibanora/ddt-extractor/pdfproc"
	"github.com/robertolibanora/ddt-extractor/textextract"
)

// Global Variables and Constants
var (

	// Logger
	log = logrus.New()

	// Environment Variables
	visionLlmProvider = os.Getenv("VISION_LLM_PROVIDER")
	visionLlmModel    = os.Getenv("VISION_LLM_MODEL")
	openaiAPIKey      = os.Getenv("OPENAI_API_KEY")
	mistralAPIKey     = os.Getenv("MISTRAL_API_KEY")
	ocrProvider       = os.Getenv("OCR_PROVIDER") // "llm", "remote" or empty
	ocrRemoteURL      = os.Getenv("OCR_REMOTE_URL")
	ocrLanguage       = os.Getenv("OCR_LANGUAGE")
	dataDir           = os.Getenv("DATA_DIR")
	scanInboxDir      = os.Getenv("SCAN_INBOX_DIR")
	logLevel          = strings.ToLower(os.Getenv("LOG_LEVEL"))
)

// App struct to hold dependencies
type App struct {
	Docs        *docstore.Store
	Corrections *corrections.Store
	Ledger      *ledger.Ledger
	LayoutRules *layout.Store
	PromptRules *extraction.RuleSet
	Extractor   *extraction.Extractor

	uploadsDir string
}

func main() {
	// Load .env when present; real environment wins.
	if err := godotenv.Load(); err == nil {
		log.Info("Loaded configuration from .env file")
	}
	refreshEnvVars()

	// Validate Environment Variables
	validateEnvVars()

	// Initialize logrus logger
	initLogger()

	printStartupBanner()

	if dataDir == "" {
		dataDir = "data"
	}
	uploadsDir := filepath.Join(dataDir, "uploads")
	if err := os.MkdirAll(uploadsDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create uploads directory: %v", err)
	}

	// Initialize Vision LLM
	visionLlm, err := createVisionLLM()
	if err != nil {
		log.Fatalf("Failed to create Vision LLM client: %v", err)
	}

	// PDF rasterizer and text extraction chain
	rasterizer := pdfproc.NewRasterizer(pdfproc.NewFitzProvider())

	var recognizer textextract.Recognizer
	var boxOCR layout.BoxOCR
	if ocrProvider != "" {
		provider, err := ocr.NewProvider(ocr.Config{
			Provider:          ocrProvider,
			VisionLLMProvider: visionLlmProvider,
			VisionLLMModel:    visionLlmModel,
			Language:          ocrLanguage,
			RemoteURL:         ocrRemoteURL,
			RemoteTimeout:     envInt("OCR_REMOTE_TIMEOUT", 120),
		})
		if err != nil {
			log.Fatalf("Failed to create OCR provider: %v", err)
		}
		adapter := ocr.NewAdapter(provider)
		recognizer = adapter
		boxOCR = adapter
	}

	var ocrBackend textextract.Backend
	if recognizer != nil {
		ocrBackend = textextract.NewOCRBackend(rasterizer, recognizer)
	}
	texts := textextract.NewOrchestrator(ocrBackend,
		textextract.NewNativeBackend(),
		textextract.NewStructuredBackend(),
	)

	// Layout template matching
	layoutRules := layout.NewStore(filepath.Join(dataDir, "layout_rules.json"))
	detector := layout.NewDetector(layoutRules)
	boxes := layout.NewBoxReader(boxOCR)

	// Prompt rules, templates and the vision extractor
	promptRules := extraction.NewRuleSet(filepath.Join(dataDir, "prompt_rules.json"))
	prompts, err := extraction.NewPromptBuilder("prompts", visionLlmModel, envInt("TOKEN_LIMIT", 0))
	if err != nil {
		log.Fatalf("Failed to load prompt templates: %v", err)
	}
	vision := extraction.NewVisionExtractor(visionLlm, envFloat("VISION_RATE_LIMIT", 30))

	// Persistence: correction learning, document tracking, XLSX ledger
	correctionStore, err := corrections.Open(filepath.Join(dataDir, "corrections.db"), promptRules)
	if err != nil {
		log.Fatalf("Failed to open corrections database: %v", err)
	}
	docs, err := docstore.Open(filepath.Join(dataDir, "documents.db"))
	if err != nil {
		log.Fatalf("Failed to open document database: %v", err)
	}
	registry := ledger.New(filepath.Join(dataDir, "registro_ddt.xlsx"))

	extractor := extraction.NewExtractor(rasterizer, texts, detector, boxes, promptRules, prompts, vision, correctionStore)

	// Initialize App with dependencies
	app := &App{
		Docs:        docs,
		Corrections: correctionStore,
		Ledger:      registry,
		LayoutRules: layoutRules,
		PromptRules: promptRules,
		Extractor:   extractor,
		uploadsDir:  uploadsDir,
	}

	// Start extraction worker pool
	startWorkerPool(app, envInt("WORKERS", 1))

	// Background maintenance: inbox scanning and stuck-document sweep
	if scanInboxDir != "" {
		go app.watchInbox(scanInboxDir, 10*time.Second)
	}
	go app.sweepStuckDocuments(time.Duration(envInt("STUCK_TIMEOUT_MINUTES", 10)) * time.Minute)

	// Create a Gin router with default middleware (logger and recovery)
	router := gin.Default()

	// API routes
	api := router.Group("/api")
	{
		api.POST("/documents", app.uploadDocumentHandler)
		api.GET("/documents", app.listDocumentsHandler)
		api.GET("/documents/:hash", app.getDocumentHandler)
		api.POST("/documents/:hash/confirm", app.confirmDocumentHandler)
		api.POST("/documents/:hash/retry", app.retryDocumentHandler)

		api.GET("/jobs", app.getAllJobsHandler)
		api.GET("/jobs/:job_id", app.getJobStatusHandler)

		api.GET("/layout-rules", app.getLayoutRulesHandler)
		api.PUT("/layout-rules", app.putLayoutRuleHandler)
		api.DELETE("/layout-rules/:name", app.deleteLayoutRuleHandler)

		api.GET("/rules", app.getPromptRulesHandler)
		api.POST("/rules", app.putPromptRuleHandler)
		api.DELETE("/rules/:name", app.deletePromptRuleHandler)

		api.POST("/annotations", app.addAnnotationHandler)
		api.GET("/corrections", app.getCorrectionsHandler)

		api.GET("/ledger/download", app.downloadLedgerHandler)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Infof("Server started on port :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// refreshEnvVars re-reads the package-level environment variables. The
// initial reads happen before godotenv has a chance to populate the
// environment, so main calls this right after loading the .env file.
func refreshEnvVars() {
	visionLlmProvider = os.Getenv("VISION_LLM_PROVIDER")
	visionLlmModel = os.Getenv("VISION_LLM_MODEL")
	openaiAPIKey = os.Getenv("OPENAI_API_KEY")
	mistralAPIKey = os.Getenv("MISTRAL_API_KEY")
	ocrProvider = os.Getenv("OCR_PROVIDER")
	ocrRemoteURL = os.Getenv("OCR_REMOTE_URL")
	ocrLanguage = os.Getenv("OCR_LANGUAGE")
	dataDir = os.Getenv("DATA_DIR")
	scanInboxDir = os.Getenv("SCAN_INBOX_DIR")
	logLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
}

func initLogger() {
	switch logLevel {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		if logLevel != "" {
			log.Fatalf("Invalid log level: '%s'.", logLevel)
		}
	}

	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	layout.SetLogLevel(log.GetLevel())
	textextract.SetLogLevel(log.GetLevel())
	extraction.SetLogLevel(log.GetLevel())
	ocr.SetLogLevel(log.GetLevel())
	pdfproc.SetLogLevel(log.GetLevel())
	corrections.SetLogLevel(log.GetLevel())
	docstore.SetLogLevel(log.GetLevel())
	ledger.SetLogLevel(log.GetLevel())
}

func printStartupBanner() {
	color.New(color.FgCyan, color.Bold).Println("ddt-extractor")
	fmt.Printf("  vision model: %s (%s)\n", visionLlmModel, visionLlmProvider)
	if ocrProvider != "" {
		fmt.Printf("  ocr provider: %s\n", ocrProvider)
	} else {
		color.Yellow("  ocr provider: disabled, grounding text uses embedded PDF text only")
	}
	if scanInboxDir != "" {
		fmt.Printf("  scan inbox:   %s\n", scanInboxDir)
	}
}

// validateEnvVars ensures all necessary environment variables are set
func validateEnvVars() {
	if visionLlmProvider == "" {
		log.Fatal("Please set the VISION_LLM_PROVIDER environment variable.")
	}

	switch strings.ToLower(visionLlmProvider) {
	case "openai", "ollama", "mistral":
	default:
		log.Fatal("Please set the VISION_LLM_PROVIDER environment variable to 'openai', 'ollama' or 'mistral'.")
	}

	if visionLlmModel == "" {
		log.Fatal("Please set the VISION_LLM_MODEL environment variable.")
	}

	if strings.ToLower(visionLlmProvider) == "openai" && openaiAPIKey == "" {
		log.Fatal("Please set the OPENAI_API_KEY environment variable for OpenAI provider.")
	}

	if strings.ToLower(visionLlmProvider) == "mistral" && mistralAPIKey == "" {
		log.Fatal("Please set the MISTRAL_API_KEY environment variable for Mistral provider.")
	}

	if ocrProvider == "remote" && ocrRemoteURL == "" {
		log.Fatal("Please set the OCR_REMOTE_URL environment variable for the remote OCR provider.")
	}
}

// createVisionLLM creates the vision model client based on the provider
func createVisionLLM() (llms.Model, error) {
	switch strings.ToLower(visionLlmProvider) {
	case "openai":
		if openaiAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is not set")
		}
		return openai.New(
			openai.WithModel(visionLlmModel),
			openai.WithToken(openaiAPIKey),
		)
	case "ollama":
		host := os.Getenv("OLLAMA_HOST")
		if host == "" {
			host = "http://127.0.0.1:11434"
		}
		return ollama.New(
			ollama.WithModel(visionLlmModel),
			ollama.WithServerURL(host),
		)
	case "mistral":
		if mistralAPIKey == "" {
			return nil, fmt.Errorf("Mistral API key is not set")
		}
		return mistral.New(
			mistral.WithModel(visionLlmModel),
			mistral.WithAPIKey(mistralAPIKey),
		)
	default:
		return nil, fmt.Errorf("unsupported vision LLM provider: %s", visionLlmProvider)
	}
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("Invalid value for %s: '%s'.", name, raw)
	}
	return n
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Fatalf("Invalid value for %s: '%s'.", name, raw)
	}
	return f
}
