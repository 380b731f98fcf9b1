package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alpineclim/climsync/internal/config"
	"github.com/alpineclim/climsync/internal/observability"
	"github.com/alpineclim/climsync/internal/obstore"
)

func newPruneCmd() *cobra.Command {
	var (
		dbPath string
		dryRun bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete store records that carry no expiry",
		Long: `Scans the observation store for records without an expires_at field.
Those records never age out of snapshots; prune deletes them. Runs as a
report unless --yes is given.`,
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

			store, err := obstore.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			keys, err := store.MissingTTL()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "found %d records without expires_at\n", len(keys))

			if dryRun || len(keys) == 0 {
				return nil
			}
			if !yes {
				fmt.Fprintln(cmd.OutOrStdout(), "re-run with --yes to delete them")
				return nil
			}

			deleted, err := store.Delete(keys)
			if err != nil {
				return err
			}
			logger.Info("pruned records without expiry", zap.Int("deleted", deleted))
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "store file (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "scan only, do not delete")
	cmd.Flags().BoolVar(&yes, "yes", false, "delete without the confirmation step")

	return cmd
}
