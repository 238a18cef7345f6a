package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell/internal/app"
)

var sessionsOwner string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List conversation sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessions(cmd)
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsOwner, "owner", "local", "owner identity")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command) error {
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

	sessions, err := a.Sessions.ListByOwner(ctx, sessionsOwner, 100, 0)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions yet.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tTURNS\tUPDATED")
	for _, sess := range sessions {
		title := sess.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			sess.ID, title, sess.TurnCount, sess.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
