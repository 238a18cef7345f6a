package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell/internal/app"
	"github.com/inkwellhq/inkwell/internal/domain"
	"github.com/inkwellhq/inkwell/internal/queue"
)

var (
	ingestOwner string
	ingestTitle string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Index text files as a document",
	Long: `Ingest reads the given text files, stores them as one document (one page
per file) and queues it for chunking and embedding. Processing is
asynchronous; check progress with the document status endpoint.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "local", "owner identity for the document")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (default: first file name)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(paths []string) error {
	logger := initLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pages := make([]domain.Page, 0, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path) // #nosec G304 -- user-supplied CLI path
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return fmt.Errorf("%s is empty", path)
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: text})
	}

	title := ingestTitle
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(paths[0]), filepath.Ext(paths[0]))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	doc, job, err := a.Documents.Create(ctx, ingestOwner, title, pages)
	if err != nil {
		return fmt.Errorf("creating document: %w", err)
	}

	q, err := queue.Connect(cfg.NATSURL, logger)
	if err != nil {
		return fmt.Errorf("connecting queue: %w", err)
	}
	defer q.Close()

	if err := q.Publish(ctx, queue.JobMessage{
		JobID:      job.ID,
		DocumentID: doc.ID,
		Kind:       job.Kind,
		Attempt:    1,
	}); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}

	fmt.Printf("Document %s queued for processing\n", doc.ID)
	fmt.Printf("  Title: %s\n", doc.Title)
	fmt.Printf("  Pages: %d\n", doc.PageCount)
	fmt.Printf("  Job:   %s\n", job.ID)
	return nil
}
