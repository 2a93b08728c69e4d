package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/chat"
	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/server"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

const defaultChatModel = "gemini-2.5-flash"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	cfg := config.Load()
	ctx := context.Background()

	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	llm, err := clients.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create LLM client: %v", err)
	}
	searcher, err := search.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create search provider: %v", err)
	}

	jobs := db.Jobs()
	svc := server.NewService(jobs, research.NewModelCompleter(llm), searcher, research.ConfigFrom(cfg))
	svc.DefaultBreadth = cfg.DefaultBreadth
	svc.DefaultDepth = cfg.DefaultDepth

	var (
		chatSvc *chat.Service
		tools   *chat.LearningToolset
	)
	if cfg.GoogleApiKey != "" {
		index, err := newLearningIndex(ctx, cfg, db)
		if err != nil {
			log.Fatalf("Failed to set up learning index: %v", err)
		}
		svc.Index = index
		tools = chat.NewLearningToolset(index, jobs, "")

		chatSvc, err = newChatService(ctx, cfg, db, index, jobs)
		if err != nil {
			log.Fatalf("Failed to init chat service: %v", err)
		}
	} else {
		slog.Warn("GOOGLE_API_KEY not set, learning index and chat are disabled")
	}

	handler := server.NewHandler(svc, chatSvc, tools)

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
		AllowCredentials: true,
	}))
	handler.RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		slog.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("Research workers did not stop in time", "error", err)
	}
}

func newLearningIndex(ctx context.Context, cfg *config.Config, db *database.PostgresDB) (*vectorstore.LearningIndex, error) {
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return nil, err
	}
	if err := db.CreateEmbeddingsTable(ctx, cfg.CollectionName, embeddings.DefaultDimension); err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		return nil, err
	}
	store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err != nil {
		return nil, err
	}
	return vectorstore.NewLearningIndex(store, embedder, cfg.ChunkSize, cfg.ChunkOverlap), nil
}

func newChatService(ctx context.Context, cfg *config.Config, db *database.PostgresDB, index chat.LearningSearcher, jobs chat.JobReader) (*chat.Service, error) {
	modelName := cfg.ReasoningModel
	if cfg.LLMProvider != config.ProviderGoogle || modelName == "" {
		modelName = defaultChatModel
	}

	llm, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{
		APIKey:  cfg.GoogleApiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	titler, err := chat.NewGeminiTitler(ctx, cfg.GoogleApiKey, "")
	if err != nil {
		return nil, err
	}

	return chat.NewService(db.Pool, llm, index, jobs, titler), nil
}
