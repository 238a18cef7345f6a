package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell/internal/app"
	"github.com/inkwellhq/inkwell/internal/rag"
)

var (
	askOwner   string
	askSession string
	askDocs    []string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about your documents",
	Long: `Ask streams an answer grounded in the scoped documents. Without
--session a new session is created; pass the printed session ID to
continue the conversation. Without --doc the answer comes from the
conversation alone.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askOwner, "owner", "local", "owner identity")
	askCmd.Flags().StringVar(&askSession, "session", "", "session ID to continue")
	askCmd.Flags().StringSliceVar(&askDocs, "doc", nil, "document ID to search (repeatable)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(question string) error {
	logger := initLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	scope := make([]uuid.UUID, 0, len(askDocs))
	for _, raw := range askDocs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid document ID %q: %w", raw, err)
		}
		scope = append(scope, id)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	sessionID, created, err := resolveSession(ctx, a, askOwner, askSession)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(os.Stderr, "Session: %s\n\n", sessionID)
	}

	turn, err := a.Orchestrator.AnswerStream(ctx, rag.Request{
		OwnerID:     askOwner,
		SessionID:   sessionID,
		Question:    question,
		Scope:       scope,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, func(ctx context.Context, chunk string) error {
		fmt.Print(chunk)
		return nil
	})
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}
	fmt.Println()

	if len(turn.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range turn.Sources {
			if src.Page > 0 {
				fmt.Printf("  - %s (page %d)\n", src.Title, src.Page)
			} else {
				fmt.Printf("  - %s\n", src.Title)
			}
		}
	}
	return nil
}

// resolveSession returns the requested session or creates a fresh one.
func resolveSession(ctx context.Context, a *app.App, owner, raw string) (uuid.UUID, bool, error) {
	if raw == "" {
		sess, err := a.Sessions.Create(ctx, owner, "")
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("creating session: %w", err)
		}
		return sess.ID, true, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("invalid session ID %q: %w", raw, err)
	}
	return id, false, nil
}
