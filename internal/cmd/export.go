package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alpineclim/climsync/internal/archive"
	"github.com/alpineclim/climsync/internal/config"
	"github.com/alpineclim/climsync/internal/observability"
	"github.com/alpineclim/climsync/internal/obstore"
)

func newExportCmd() *cobra.Command {
	var (
		outPath string
		push    bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render a snapshot of the observation store",
		Long: `Scans the local store, drops expired rows and renders the remaining
observations as one JSON document, either to a file or to the configured
archive repository.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := observability.NewCLILogger(verbose)
			defer logger.Sync()

			store, err := obstore.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			exporter := archive.NewExporter(store)

			if outPath != "" {
				n, err := exporter.WriteFile(outPath)
				if err != nil {
					return err
				}
				logger.Info("snapshot written", zap.String("path", outPath), zap.Int("rows", n))
			}

			if push {
				if cfg.ArchiveOwner == "" || cfg.ArchiveRepo == "" || cfg.ArchiveToken == "" {
					return fmt.Errorf("archive push needs CLIMSYNC_ARCHIVE_OWNER, CLIMSYNC_ARCHIVE_REPO and CLIMSYNC_ARCHIVE_TOKEN")
				}

				data, n, err := exporter.Snapshot()
				if err != nil {
					return err
				}

				pub := archive.NewPublisher("", cfg.ArchiveToken, cfg.ArchiveOwner, cfg.ArchiveRepo, cfg.ArchiveBranch, logger)
				pub.Path = cfg.ArchivePath
				pub.GzPath = cfg.ArchiveGzPath
				pub.MaxBytes = cfg.ArchiveMaxMB * 1024 * 1024

				path, err := pub.Publish(cmd.Context(), data)
				if err != nil {
					return err
				}
				logger.Info("snapshot pushed", zap.String("path", path), zap.Int("rows", n))
			}

			if outPath == "" && !push {
				data, _, err := exporter.Snapshot()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "write the snapshot to this file")
	cmd.Flags().BoolVar(&push, "push", false, "publish the snapshot to the archive repository")

	return cmd
}
