package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell/api"
	"github.com/inkwellhq/inkwell/internal/app"
	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/pipeline"
	"github.com/inkwellhq/inkwell/internal/queue"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and processing workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	logger := initLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	q, err := queue.Connect(cfg.NATSURL, logger)
	if err != nil {
		return fmt.Errorf("connecting queue: %w", err)
	}
	defer q.Close()

	resumable := make(map[domain.JobKind]bool, len(cfg.ResumableJobKinds))
	for _, kind := range cfg.ResumableJobKinds {
		resumable[domain.JobKind(kind)] = true
	}

	workers, err := pipeline.New(a.Documents, a.Chunker, a.Embedder, a.LLM, q, pipeline.Config{
		Workers:        cfg.PipelineWorkers,
		MaxRetries:     cfg.PipelineMaxRetries,
		RetainRawPages: cfg.RetainRawPages,
		ResumableKinds: resumable,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	if err := workers.Start(ctx); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}
	defer workers.Stop()

	server := api.NewServer(
		api.NewDocumentHandler(a.Documents, workers, q, logger),
		api.NewSessionHandler(a.Sessions, logger),
		api.NewChatHandler(a.Orchestrator, logger),
		api.NewHealthHandler(a.Pool, logger),
		cfg.CORSOrigins,
		logger,
	)

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	return server.Run(ctx, addr)
}
