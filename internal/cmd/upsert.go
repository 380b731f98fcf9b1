package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alpineclim/climsync/internal/config"
	"github.com/alpineclim/climsync/internal/observability"
	"github.com/alpineclim/climsync/internal/obstore"
)

func newUpsertCmd() *cobra.Command {
	var (
		dbPath string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Load observation CSV from stdin into the store",
		Long: `Reads a comma-separated observation stream from stdin (header row
required, with id and date columns) and upserts each row into the local
store. Re-running with the same input is a no-op.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.DBPath
			}

			logger := observability.NewCLILogger(verbose)
			defer logger.Sync()

			rep, err := obstore.LoadCSV(cmd.InOrStdin(), "id", "date")
			if err != nil {
				return err
			}
			if rep.Skipped > 0 {
				logger.Warn("rows skipped for missing or unparseable keys", zap.Int("skipped", rep.Skipped))
			}

			if dryRun {
				fmt.Fprintf(cmd.ErrOrStderr(), "DRY_RUN items_ready=%d\n", len(rep.Rows))
				for i, row := range rep.Rows {
					if i == 3 {
						break
					}
					data, _ := json.Marshal(row)
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
				}
				return nil
			}

			store, err := obstore.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			wrote, err := store.Upsert(rep.Rows)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "WROTE=%d\n", wrote)
			if wrote == 0 {
				return &ExitError{Code: 6}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "store file (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and report without writing")

	// stdin is required; refuse interactive runs early.
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if f, ok := cmd.InOrStdin().(*os.File); ok {
			info, err := f.Stat()
			if err == nil && info.Mode()&os.ModeCharDevice != 0 {
				return fmt.Errorf("no stdin: pipe a CSV stream into this command")
			}
		}
		return nil
	}

	return cmd
}
