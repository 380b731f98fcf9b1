package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alpineclim/climsync/internal/backlog"
	"github.com/alpineclim/climsync/internal/config"
)

func newSweepCmd() *cobra.Command {
	var (
		path   string
		days   int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Drop stale dates from the backlog",
		Long: `Removes backlog dates older than the retention window (and any dates
that do not parse), then rewrites the file atomically. Always exits 0:
retention is maintenance, not a health signal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.MissingPath
			}

			report, err := backlog.Sweep(path, days, dryRun, time.Now)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "backlog file (default from config)")
	cmd.Flags().IntVar(&days, "days", 11, "keep dates within this many days of today (UTC)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report but leave the backlog file untouched")

	return cmd
}
