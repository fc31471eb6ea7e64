package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/dispatchd/internal/config"
)

// NewPurgeCmd returns the "purge" subcommand that runs one retention sweep
// against the local database.
func NewPurgeCmd(cfg *config.AppConfig) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete notification records older than a given age",
		Long: `Delete notification records created before now minus --older-than,
in any status. Defaults to the configured retention (DISPATCHD_RETENTION).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be a positive duration")
			}
			return runPurge(cmd.OutOrStdout(), cfg, olderThan)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", cfg.Retention, "Minimum record age to delete (e.g. 720h)")
	return cmd
}

func runPurge(out io.Writer, cfg *config.AppConfig, olderThan time.Duration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, store, err := openStore(cfg, quiet)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	removed, err := store.PurgeOlderThan(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("purging notifications: %w", err)
	}
	fmt.Fprintf(out, "Removed %d notification(s) older than %s.\n", removed, olderThan)
	return nil
}
