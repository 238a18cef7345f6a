// Package app wires the application together: database, AI providers,
// stores and the RAG surface. Commands call Setup once, use the fields
// they need, and Close on the way out.
package app

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inkwellhq/inkwell/internal/chunker"
	"github.com/inkwellhq/inkwell/internal/config"
	"github.com/inkwellhq/inkwell/internal/database"
	"github.com/inkwellhq/inkwell/internal/document"
	"github.com/inkwellhq/inkwell/internal/embed"
	"github.com/inkwellhq/inkwell/internal/llm"
	"github.com/inkwellhq/inkwell/internal/log"
	"github.com/inkwellhq/inkwell/internal/rag"
	"github.com/inkwellhq/inkwell/internal/session"
)

// App holds the wired application components.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool   *pgxpool.Pool
	Genkit *genkit.Genkit // nil when the provider does not use Genkit

	Embedder embed.Provider
	LLM      llm.Client

	Documents *document.Store
	Sessions  *session.Store
	Chunker   *chunker.Chunker

	Retriever    *rag.Retriever
	Orchestrator *rag.Orchestrator

	dbCleanup func()
}

// Setup creates and initializes the application. Call Close to release
// resources.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	pool, cleanup, err := database.Connect(ctx, cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}
	a.Pool = pool
	a.dbCleanup = cleanup

	if err := a.setupProviders(ctx); err != nil {
		return nil, err
	}

	ck, err := chunker.New(chunker.Config{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	if err != nil {
		return nil, fmt.Errorf("configuring chunker: %w", err)
	}
	a.Chunker = ck

	a.Documents = document.NewStore(pool, logger)
	a.Sessions = session.NewStore(pool, logger)

	a.Retriever = rag.NewRetriever(a.Embedder, a.Documents, rag.RetrieverConfig{
		SimilarityFloor: cfg.SimilarityFloor,
		TopK:            cfg.RetrievalTopK,
	}, logger)

	a.Orchestrator = rag.NewOrchestrator(a.Sessions, a.Retriever, a.LLM, a.Documents, session.Window{
		MaxTurns: cfg.HistoryMaxTurns,
		MaxChars: cfg.HistoryMaxChars,
	}, logger)

	return a, nil
}

// setupProviders initializes the embedding and generation backends for
// the configured provider.
func (a *App) setupProviders(ctx context.Context) error {
	cfg := a.Config

	switch cfg.Provider {
	case config.ProviderOllama:
		a.Embedder = embed.NewOllama(embed.OllamaConfig{
			Host:  cfg.OllamaHost,
			Model: cfg.EmbedderModel,
		}, a.Logger)
		a.LLM = llm.NewOllama(llm.OllamaConfig{
			Host:  cfg.OllamaHost,
			Model: cfg.ModelName,
		}, a.Logger)

	case config.ProviderGemini:
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return fmt.Errorf("failed to initialize Genkit")
		}
		a.Genkit = g
		a.Embedder = embed.NewGemini(g, cfg.EmbedderModel, a.Logger)
		a.LLM = llm.NewGemini(g, llm.GeminiConfig{Model: cfg.FullModelName()}, a.Logger)

	default:
		return fmt.Errorf("%w: %q", config.ErrInvalidProvider, cfg.Provider)
	}

	a.Logger.Info("providers ready",
		"provider", cfg.Provider, "model", cfg.ModelName, "embedder", cfg.EmbedderModel)
	return nil
}

// Close releases application resources. Safe to call on a partially
// initialized App.
func (a *App) Close() {
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
}
