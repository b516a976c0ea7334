package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/go-chi/cors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhao-mingming/moonbox/internal/api"
	"github.com/zhao-mingming/moonbox/internal/catalog"
	"github.com/zhao-mingming/moonbox/internal/config"
	"github.com/zhao-mingming/moonbox/internal/engine"
	"github.com/zhao-mingming/moonbox/internal/middleware"
	"github.com/zhao-mingming/moonbox/internal/runner"
)

func newServeCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the runner daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file")
	return cmd
}

func serve(envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Local execution engine
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.MaxMemoryGB > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET max_memory='%dGB'", cfg.MaxMemoryGB)); err != nil {
			return fmt.Errorf("set max_memory: %w", err)
		}
		logger.Info("memory limit set", "max_memory_gb", cfg.MaxMemoryGB)
	}

	// Attach the pushdown source when configured
	if cfg.PushdownEnabled() {
		attachSQL := fmt.Sprintf("ATTACH '%s' AS %s", cfg.SourceDSN, cfg.SourceAlias)
		if _, err := db.ExecContext(ctx, attachSQL); err != nil {
			return fmt.Errorf("attach source %q: %w", cfg.SourceAlias, err)
		}
		logger.Info("pushdown source attached", "alias", cfg.SourceAlias, "insertable", cfg.SourceInsertable)
	}

	meta, err := catalog.Open(cfg.MetastorePath)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	defer meta.Close() //nolint:errcheck

	eng := engine.New(db, meta, engine.Options{
		SourceAlias:      cfg.SourceAlias,
		SourceInsertable: cfg.SourceInsertable,
		Principal:        cfg.Principal,
		Logger:           logger,
	})

	events := api.NewEventLog()
	run := runner.New(eng, events, runner.Options{PoolSize: cfg.PoolSize, Logger: logger})

	handler := api.NewHandler(api.HandlerConfig{
		Runner:      run,
		Events:      events,
		RunnerToken: cfg.RunnerToken,
		StartTime:   time.Now(),
		Logger:      logger,
	})
	handler = middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})(handler)
	handler = cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-Runner-Token"},
	})(handler)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("runner listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-run.Done():
			logger.Info("runner self-terminated, shutting down")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
