package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"studyai.dev/notes/internal/api"
	"studyai.dev/notes/internal/auth"
	"studyai.dev/notes/internal/config"
	"studyai.dev/notes/internal/core"
	"studyai.dev/notes/internal/ingest"
	"studyai.dev/notes/internal/llm"
	"studyai.dev/notes/internal/logging"
	"studyai.dev/notes/internal/rag"
	"studyai.dev/notes/internal/store"
	"studyai.dev/notes/internal/vectorindex"
)

func main() {
	// Command line flags for one-off ingestion
	ingestPath := flag.String("ingest", "", "Ingest a local .pdf, .docx or .txt file for -user and exit")
	ingestUser := flag.String("user", "", "Email of the user who owns the file passed to -ingest")
	flag.Parse()

	cfg := config.LoadConfig()
	log := logging.New(cfg.LogLevel)
	if !cfg.EnvFileLoaded {
		log.Info("No .env file found, reading configuration from the environment")
	}
	for _, problem := range cfg.Problems() {
		log.Warn("Configuration: " + problem)
	}

	ctx := context.Background()

	models, closeModels := buildModels(ctx, cfg, log)
	defer closeModels()

	chunkStore, err := store.OpenChunkStore(cfg.VectorStoreDir, cfg.CollectionName)
	if err != nil {
		log.Fatalf("Failed to open vector store: %v", err)
	}
	defer chunkStore.Close()

	index, err := vectorindex.New(chunkStore, models, vectorindex.Options{EmbedRatePerSec: cfg.EmbedRatePerSec}, log)
	if err != nil {
		log.Fatalf("Failed to initialize vector index: %v", err)
	}

	splitter := ingest.NewRecursiveSplitter(cfg.ChunkSize, cfg.EffectiveChunkOverlap())
	ingestor := ingest.NewIngestor(splitter, log)

	// Handle one-off ingestion if the flag is set
	if *ingestPath != "" {
		if err := ingestLocalFile(ctx, ingestor, index, *ingestPath, *ingestUser, log); err != nil {
			log.Fatalf("Ingestion failed: %v", err)
		}
		log.Info("Ingestion complete. Exiting.")
		return
	}

	history := buildHistory(ctx, cfg, log)
	defer history.Close()

	pipelines := func(userID string) (rag.Strategy, error) {
		return rag.NewStrategy(cfg.RAGStrategy, models, index.ForUser(userID, cfg.RetrievalK), log.WithField("user", userID))
	}
	assistant := core.NewAssistant(ingestor, index, pipelines, history, cfg.HistoryLimit, log)

	issuer, err := auth.NewSessionIssuer(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("Failed to initialize sessions: %v", err)
	}
	if cfg.SessionSecret == "" {
		log.Warn("SESSION_SECRET is empty; sessions will not survive a restart")
	}

	var login api.LoginProvider
	resolver, err := auth.NewGoogleResolver(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURI,
		auth.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}))
	if err != nil {
		log.WithError(err).Warn("Google login is disabled")
	} else {
		login = resolver
	}

	sessions := core.NewSessionManager(issuer.TTL())
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sessions.RunSweeper(sweepCtx, time.Minute, log)

	apiHandler := api.NewAPIHandler(assistant, sessions, issuer, login, log)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // ingestion and LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Infof("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Could not listen on %s: %v", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
		return
	}

	log.Info("Server exiting gracefully")
}

// buildModels wires the configured chat and embedding providers behind one
// retrying client. A provider that cannot be built is replaced by
// llm.Unavailable so the server still starts.
func buildModels(ctx context.Context, cfg config.Config, log *logrus.Logger) (*llm.Retrying, func()) {
	var gemini *llm.Gemini
	getGemini := func() (*llm.Gemini, error) {
		if gemini != nil {
			return gemini, nil
		}
		g, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.ChatModel, cfg.LLMTemperature, log)
		if err != nil {
			return nil, err
		}
		gemini = g
		return g, nil
	}
	ollama := llm.NewOllama(cfg.OllamaBaseURL, cfg.ChatModel, cfg.EmbedModel, cfg.LLMTemperature)

	var chat llm.ChatModel
	switch cfg.LLMProvider {
	case config.ProviderOllama:
		chat = ollama
	case config.ProviderGemini:
		g, err := getGemini()
		if err != nil {
			log.WithError(err).Error("Chat model unavailable")
			chat = llm.Unavailable{Reason: err.Error()}
		} else {
			chat = g
		}
	default:
		chat = llm.Unavailable{Reason: "unknown LLM_PROVIDER " + cfg.LLMProvider}
	}

	var embedder llm.Embedder
	switch cfg.EmbedProvider {
	case config.ProviderOllama:
		embedder = ollama
	case config.ProviderGemini:
		g, err := getGemini()
		if err != nil {
			log.WithError(err).Error("Embedding model unavailable")
			embedder = llm.Unavailable{Reason: err.Error()}
		} else {
			embedder = g
		}
	default:
		embedder = llm.Unavailable{Reason: "unknown EMBED_PROVIDER " + cfg.EmbedProvider}
	}

	log.WithFields(logrus.Fields{
		"llm":         cfg.LLMProvider,
		"chat_model":  cfg.ChatModel,
		"embed":       cfg.EmbedProvider,
		"embed_model": cfg.EmbedModel,
	}).Info("Language models configured")

	closeFn := func() {
		if gemini != nil {
			gemini.Close()
		}
	}
	return llm.NewRetrying(chat, embedder, llm.DefaultRetryPolicy, log), closeFn
}

// buildHistory opens the configured chat history backend, falling back to a
// disabled store when it is not configured or unreachable.
func buildHistory(ctx context.Context, cfg config.Config, log *logrus.Logger) store.HistoryStore {
	if !cfg.HistoryEnabled() {
		return store.DisabledHistory{}
	}

	switch cfg.DBDriver {
	case config.DriverPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		h, err := store.NewPostgresHistory(connectCtx, store.PostgresOptions{
			Host:           cfg.DBHost,
			Port:           cfg.DBPort,
			User:           cfg.DBUser,
			Password:       cfg.DBPassword,
			Database:       cfg.DBName,
			SSLRootCert:    cfg.DBSSLCA,
			PoolSize:       cfg.DBPoolSize,
			AcquireTimeout: cfg.DBAcquireTimeout,
		})
		if err != nil {
			log.WithError(err).Error("Chat history database unavailable; history is disabled")
			return store.DisabledHistory{}
		}
		log.WithFields(logrus.Fields{"driver": cfg.DBDriver, "host": cfg.DBHost, "pool": cfg.DBPoolSize}).Info("Chat history connected")
		return h
	default:
		h, err := store.NewSQLiteHistory(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Error("Chat history database unavailable; history is disabled")
			return store.DisabledHistory{}
		}
		log.WithFields(logrus.Fields{"driver": cfg.DBDriver, "path": cfg.DatabaseURL}).Info("Chat history connected")
		return h
	}
}

func ingestLocalFile(ctx context.Context, ingestor *ingest.Ingestor, index *vectorindex.Index, path, userID string, log *logrus.Logger) error {
	if userID == "" {
		return errors.New("-user is required with -ingest")
	}
	if !ingestor.Supported(path) {
		return fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	res, err := ingestor.Ingest(ctx, []ingest.Blob{{Name: filepath.Base(path), Data: data}}, nil)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		log.Warnf("%s: %s", w.Item, w.Message)
	}
	if len(res.Chunks) == 0 {
		return errors.New("no chunks were produced")
	}
	if err := index.Add(ctx, res.Chunks, userID); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"user": userID, "chunks": len(res.Chunks)}).Info("File indexed")
	return nil
}
