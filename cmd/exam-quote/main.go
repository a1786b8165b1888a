package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/time/rate"

	"github.com/zombor/exam-quote/internal/catalog"
	"github.com/zombor/exam-quote/internal/learning"
	"github.com/zombor/exam-quote/internal/order"
	"github.com/zombor/exam-quote/internal/scanning"
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

	fs := ff.NewFlagSet("exam-quote")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		storagePath    = fs.StringLong("storage", "./orders", "Directory for uploaded order images")
		journalPath    = fs.StringLong("journal", "exam-quote.db", "Correction journal database file path")
		extractorType  = fs.StringLong("extractor", "remote", "Extractor type: 'remote', 'gemini', 'ollama' or 'tesseract'")
		ocrURL         = fs.StringLong("ocr-url", "http://localhost:8000", "OCR service base URL (remote extractor)")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "qwen2-vl", "Ollama vision model name")
		tesseractLang  = fs.StringLong("tesseract-lang", "por", "Tesseract language")
		catalogURL     = fs.StringLong("catalog-url", "http://localhost:8000", "Exam catalog service base URL")
		unit           = fs.StringLong("unit", "", "Default unit used to price orders")
		httpTimeout    = fs.DurationLong("http-timeout", 60*time.Second, "Timeout for calls to the OCR and catalog services")
		searchInterval = fs.DurationLong("search-interval", 300*time.Millisecond, "Minimum time between manual searches on one item")
		localOnly      = fs.BoolLong("no-learn-remote", "Keep corrections in the local journal instead of also reporting them to the catalog service")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXAM_QUOTE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var (
		extractor scanning.Extractor
		err       error
	)
	switch *extractorType {
	case "remote":
		slog.Info("Initializing remote extractor...", "url", *ocrURL)
		extractor, err = scanning.NewRemote(*ocrURL, *httpTimeout)
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor, err = scanning.NewGemini(apiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		extractor, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
	case "tesseract":
		slog.Info("Initializing Tesseract extractor...", "language", *tesseractLang)
		extractor, err = scanning.NewTesseract(*tesseractLang)
	default:
		slog.Error("Invalid extractor type", "type", *extractorType, "valid", "remote, gemini, ollama or tesseract")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize extractor", "type", *extractorType, "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	slog.Info("Initializing correction journal...", "path", *journalPath)
	journal, err := learning.NewBoltJournal(*journalPath)
	if err != nil {
		slog.Error("Failed to initialize correction journal", "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	catalogClient := catalog.NewClient(*catalogURL, *httpTimeout)

	sinks := []learning.Sink{catalogClient, journal}
	if *localOnly {
		slog.Info("Remote learning disabled; corrections stay in the local journal")
		sinks = []learning.Sink{journal}
	}
	dispatcher := learning.NewDispatcherWithDeps(sinks, []learning.MissingTermRecorder{journal}, 10*time.Second)

	slog.Info("Initializing storage...")
	store, err := order.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	searchLimit := rate.Inf
	if *searchInterval > 0 {
		searchLimit = rate.Every(*searchInterval)
	}
	orderService := order.NewService(extractor, store, catalogClient, dispatcher, order.Options{
		DefaultUnit: *unit,
		SearchLimit: searchLimit,
		Journal:     journal,
	})

	basicAuth := order.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := order.NewServer(orderService, basicAuth)

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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("Learning reports still in flight at shutdown")
	}
}
