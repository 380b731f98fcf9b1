package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alpineclim/climsync/internal/config"
	"github.com/alpineclim/climsync/internal/meteo"
	"github.com/alpineclim/climsync/internal/observability"
	"github.com/alpineclim/climsync/internal/ratelimit"
	"github.com/alpineclim/climsync/internal/reconcile"
	"github.com/alpineclim/climsync/internal/stations"
)

func newReconcileCmd() *cobra.Command {
	var (
		missingPath   string
		stationsPath  string
		logDir        string
		dryRun        bool
		maxDatesPerID int
		softExit      bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Retry the backlog of missing observations",
		Long: `Runs one reconciliation pass: every eligible (station, date) pair in the
backlog is retried against the upstream API, resolved rows are written to
stdout as CSV, and the backlog file is rewritten atomically. Exits 0 when
the backlog is empty afterwards, 1 when work remains.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if missingPath == "" {
				missingPath = cfg.MissingPath
			}
			if stationsPath == "" {
				stationsPath = cfg.StationsPath
			}
			if logDir == "" {
				logDir = cfg.LogDir
			}

			if logDir != "" {
				if err := os.MkdirAll(logDir, 0o755); err != nil {
					return fmt.Errorf("create log dir: %w", err)
				}
			}
			name := fmt.Sprintf("reconcile_%s.log", time.Now().UTC().Format("20060102T150405Z"))
			logger := observability.NewPassLogger(verbose, logDir, name)
			defer logger.Sync()

			tokens, err := newTokenCache(cfg)
			if err != nil {
				return err
			}
			limiter := ratelimit.New(cfg.MaxCallsPerPeriod, cfg.RatePeriod)
			client := meteo.NewClient(cfg.BaseURL, &http.Client{Timeout: cfg.HTTPTimeout}, tokens, limiter, logger)

			names, err := stations.Names(stationsPath)
			if err != nil {
				// Metadata only labels log lines; a missing combined file
				// must not block the pass.
				logger.Warn("station metadata unavailable",
					zap.String("path", stationsPath), zap.Error(err))
			}

			runner := &reconcile.Runner{
				Fetcher: client,
				Out:     cmd.OutOrStdout(),
				Logger:  logger,
				Names:   names,
				Opts: reconcile.Options{
					MissingPath:   missingPath,
					MaxDatesPerID: maxDatesPerID,
					DryRun:        dryRun,
				},
			}

			code, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			if softExit {
				return nil
			}
			if code != reconcile.ExitResolved {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&missingPath, "missing", "", "backlog file (default from config)")
	cmd.Flags().StringVar(&stationsPath, "stations", "", "combined station metadata file (default from config)")
	cmd.Flags().StringVar(&logDir, "logdir", "", "directory for per-pass log files (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch but leave the backlog file untouched")
	cmd.Flags().IntVar(&maxDatesPerID, "max-dates-per-id", 3, "skip stations with more pending dates than this")
	cmd.Flags().BoolVar(&softExit, "soft-exit", false, "exit 0 even when backlog work remains")

	return cmd
}
