package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/alpineclim/climsync/internal/api/http"
	"github.com/alpineclim/climsync/internal/archive"
	"github.com/alpineclim/climsync/internal/config"
	"github.com/alpineclim/climsync/internal/meteo"
	"github.com/alpineclim/climsync/internal/observability"
	"github.com/alpineclim/climsync/internal/obstore"
	"github.com/alpineclim/climsync/internal/ratelimit"
	"github.com/alpineclim/climsync/internal/scheduler"
	"github.com/alpineclim/climsync/internal/stations"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read API with periodic metadata refresh",
		Long: `Serves the observation store over HTTP and periodically refreshes the
station lists and the snapshot file. Reconciliation and retention stay with
their own commands; an external scheduler owns their timing.`,
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

			sched, err := startJobs(cfg, store, logger)
			if err != nil {
				return err
			}
			defer sched.Stop()

			app := fiber.New(fiber.Config{
				AppName:               "climsync",
				DisableStartupMessage: true,
				ReadTimeout:           10 * time.Second,
				WriteTimeout:          10 * time.Second,
				ErrorHandler: func(c *fiber.Ctx, err error) error {
					code := fiber.StatusInternalServerError
					if e, ok := err.(*fiber.Error); ok {
						code = e.Code
					}
					return c.Status(code).JSON(fiber.Map{
						"error":   true,
						"message": err.Error(),
					})
				},
			})

			app.Use(fiberlogger.New())
			app.Use(recover.New())

			app.Get("/health", func(c *fiber.Ctx) error {
				n, err := store.Count()
				if err != nil {
					return fiber.NewError(fiber.StatusServiceUnavailable, "store unavailable")
				}
				return c.JSON(fiber.Map{
					"status":       "ok",
					"service":      "climsync",
					"observations": n,
				})
			})

			httpapi.RegisterRoutes(app, httpapi.Deps{
				Store:       store,
				MissingPath: cfg.MissingPath,
			})

			go func() {
				if err := app.Listen(":" + cfg.Port); err != nil {
					logger.Error("server stopped", zap.Error(err))
				}
			}()
			logger.Info("serving", zap.String("port", cfg.Port))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				logger.Error("error during shutdown", zap.Error(err))
			}
			return nil
		},
	}
	return cmd
}

// startJobs wires the periodic station refresh and snapshot export.
func startJobs(cfg *config.Config, store *obstore.Store, logger *zap.Logger) (*scheduler.Scheduler, error) {
	tokens, err := newTokenCache(cfg)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(cfg.MaxCallsPerPeriod, cfg.RatePeriod)
	stationsClient := meteo.NewStationsClient(cfg.BaseURL, &http.Client{Timeout: cfg.HTTPTimeout}, tokens, limiter, logger)
	exporter := archive.NewExporter(store)

	jobs := []scheduler.Job{
		{
			Name: "refresh-stations",
			Run: func(ctx context.Context) error {
				if err := stationsClient.FetchAll(ctx, cfg.Departments, cfg.DownloadDir); err != nil {
					return err
				}
				_, err := stations.Combine(cfg.DownloadDir, cfg.StationsPath, stations.DefaultMinAltitude, logger)
				return err
			},
		},
		{
			Name: "export-snapshot",
			Run: func(ctx context.Context) error {
				_, err := exporter.WriteFile(cfg.SnapshotPath)
				return err
			},
		},
	}

	sched := scheduler.New(jobs, cfg.RefreshInterval, logger)
	if err := sched.Start(); err != nil {
		return nil, err
	}
	return sched, nil
}
