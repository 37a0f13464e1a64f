package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/http/api"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/adapters/repository"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/config"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/internal/domain/model"
	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/logger"
	"github.com/spf13/cobra"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 5 * time.Minute // batch triggers block until the run ends
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cli holds state shared by subcommands once the root pre-run has loaded it.
type cli struct {
	cfg *config.Config
	log logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "meetsync",
		Short:        "Harvest calendar meetings for every employee in batches",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.Context())
		},
	}
	root.AddCommand(c.serveCmd(), c.runCmd(), c.migrateCmd())
	return root
}

// load reads configuration (defaults -> optional file -> env) and the logger.
func (c *cli) load(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "text" {
		if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
	}
	c.log = logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		c.log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	c.cfg = cfg
	return nil
}

func (c *cli) serveCmd() *cobra.Command {
	var runOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cron schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context(), runOnStart)
		},
	}
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "trigger both batches once at startup")
	return cmd
}

func (c *cli) serve(ctx context.Context, runOnStart bool) error {
	g, err := build(ctx, c.cfg, buildOptions{schedule: true})
	if err != nil {
		return err
	}
	svc := g.service
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		svc.Stop(stopCtx)
	}()

	if runOnStart {
		for _, kind := range []model.Kind{model.KindScheduled, model.KindCompleted} {
			go g.scheduler.Trigger(kind)
		}
	}

	mux := http.NewServeMux()
	api.NewServer(svc, svc, logger.Named("http")).Register(mux)

	srv := &http.Server{
		Addr:              c.cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		c.log.Info(ctx, "starting HTTP server", logger.String("addr", c.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("%w: %v", api.ErrServe, err)
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		c.log.Info(ctx, "shutting down server...")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		c.log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	c.log.Info(ctx, "server stopped")
	return nil
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "run <scheduled|completed>",
		Short:     "Run one batch now and print its audit record",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(model.KindScheduled), string(model.KindCompleted)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseKind(args[0])
			if err != nil {
				return err
			}
			return c.runOnce(cmd, kind, buildOptions{})
		},
	}
}

func (c *cli) runOnce(cmd *cobra.Command, kind model.Kind, bo buildOptions) error {
	ctx := cmd.Context()
	g, err := build(ctx, c.cfg, bo)
	if err != nil {
		return err
	}
	defer g.service.Stop(context.WithoutCancel(ctx))

	_, run, err := g.service.Run(ctx, kind)
	if run != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(run); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		return err
	}
	if run.Status == model.StatusFailed {
		return fmt.Errorf("batch %d failed: %d of %d employees failed", run.ID, run.FailedUsers, run.TotalUsers)
	}
	return nil
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the meeting and run tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if c.cfg.DatabaseURL == "" {
				return fmt.Errorf("%w: database_url is required", config.ErrInvalidConfig)
			}
			pg, err := repository.NewPostgres(ctx, c.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			c.log.Info(ctx, "schema is up to date")
			return nil
		},
	}
}
