package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alpineclim/climsync/internal/config"
	"github.com/alpineclim/climsync/internal/meteo"
	"github.com/alpineclim/climsync/internal/observability"
	"github.com/alpineclim/climsync/internal/ratelimit"
	"github.com/alpineclim/climsync/internal/stations"
)

func newStationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stations",
		Short: "Manage station metadata",
	}
	cmd.AddCommand(newStationsFetchCmd(), newStationsCombineCmd())
	return cmd
}

func newStationsFetchCmd() *cobra.Command {
	var saveDir string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download station lists per department and scale",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if saveDir == "" {
				saveDir = cfg.DownloadDir
			}

			logger := observability.NewCLILogger(verbose)
			defer logger.Sync()

			tokens, err := newTokenCache(cfg)
			if err != nil {
				return err
			}
			limiter := ratelimit.New(cfg.MaxCallsPerPeriod, cfg.RatePeriod)
			client := meteo.NewStationsClient(cfg.BaseURL, &http.Client{Timeout: cfg.HTTPTimeout}, tokens, limiter, logger)

			if err := client.FetchAll(cmd.Context(), cfg.Departments, saveDir); err != nil {
				return err
			}
			logger.Info("station lists downloaded",
				zap.Ints("departments", cfg.Departments), zap.String("dir", saveDir))
			return nil
		},
	}

	cmd.Flags().StringVar(&saveDir, "dir", "", "download directory (default from config)")
	return cmd
}

func newStationsCombineCmd() *cobra.Command {
	var (
		srcDir  string
		outFile string
		minAlt  float64
	)

	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Merge downloaded station lists into one stations.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if srcDir == "" {
				srcDir = cfg.DownloadDir
			}
			if outFile == "" {
				outFile = cfg.StationsPath
			}

			logger := observability.NewCLILogger(verbose)
			defer logger.Sync()

			report, err := stations.Combine(srcDir, outFile, minAlt, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"combined %d files: %d stations kept, %d below altitude, %d invalid -> %s\n",
				report.Files, report.Stations, report.Filtered, report.Invalid, outFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&srcDir, "dir", "", "directory of downloaded station lists (default from config)")
	cmd.Flags().StringVar(&outFile, "out", "", "output file (default from config)")
	cmd.Flags().Float64Var(&minAlt, "min-alt", stations.DefaultMinAltitude, "keep only stations above this altitude in meters")

	return cmd
}
