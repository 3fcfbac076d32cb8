package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/grocery-tracker/internal/grocery"
	"github.com/zombor/grocery-tracker/internal/observability/metrics"
	"github.com/zombor/grocery-tracker/internal/observability/tracing"
	"github.com/zombor/grocery-tracker/internal/parsing"
	"github.com/zombor/grocery-tracker/internal/savings"
	"github.com/zombor/grocery-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
		os.Exit(1)
	}

	flags := ff.NewFlagSet("grocery-tracker")
	var (
		port          = flags.IntLong("port", 8080, "HTTP server port")
		dbPath        = flags.StringLong("db", "grocery-tracker.db", "Database file path")
		storagePath   = flags.StringLong("storage", "./receipts", "Storage directory path")
		storesPath    = flags.StringLong("stores", "", "Store catalog YAML file (defaults to the built-in catalog)")
		recencyDays   = flags.IntLong("recency-days", savings.DefaultRecencyDays, "Days of price history considered when looking for savings")
		scannerType   = flags.StringLong("scanner", "gemini", "OCR provider: 'gemini', 'ollama', 'azure' or 'none'")
		geminiKey     = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = flags.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = flags.StringLong("ollama-model", "llama3.2-vision", "Ollama vision model name")
		azureEndpoint = flags.StringLong("azure-endpoint", "", "Azure Computer Vision endpoint")
		azureKey      = flags.StringLong("azure-key", "", "Azure Computer Vision key")
		enhance       = flags.BoolLong("enhance-images", "Grayscale, boost contrast and sharpen photos before OCR")
		authUser      = flags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = flags.StringLong("auth-pass", "", "Basic auth password (optional)")
		logFormat     = flags.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		logLevel      = flags.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		enableTracing = flags.BoolLong("tracing", "Export OpenTelemetry spans to stdout")
		showVersion   = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, os.Args[1:],
		ff.WithEnvVarPrefix("GROCERY_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx := context.Background()
	metrics.Init()
	if err := tracing.Init(ctx, *enableTracing, version); err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	// Store catalog
	catalog := parsing.DefaultCatalog()
	if *storesPath != "" {
		catalog, err = parsing.LoadStoreCatalog(*storesPath)
		if err != nil {
			slog.Error("Failed to load store catalog", "path", *storesPath, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Loaded store catalog", "stores", len(catalog.Stores))

	// Initialize database
	slog.Info("Initializing database...")
	db, err := grocery.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize OCR provider based on type
	var recognizer scanning.Recognizer
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini OCR...", "model", *geminiModel)
		recognizer, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama OCR...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	case "azure":
		slog.Info("Initializing Azure OCR...", "endpoint", *azureEndpoint)
		recognizer, err = scanning.NewAzure(*azureEndpoint, *azureKey)
		if err != nil {
			slog.Error("Failed to initialize Azure", "error", err)
			os.Exit(1)
		}
	case "none":
		slog.Warn("No OCR provider configured; only text, HTML, e-mail and text-layer PDF receipts can be read")
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini, ollama, azure or none")
		os.Exit(1)
	}
	extractor := scanning.NewExtractor(recognizer, *enhance)
	defer extractor.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := grocery.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	service := grocery.NewService(db, extractor, store, parsing.NewParser(catalog), *recencyDays)

	// Initialize server
	basicAuth := grocery.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := grocery.NewServer(service, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// newLogger builds the process logger from the log flags
func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
