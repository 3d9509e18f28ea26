package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/project-aether/crawler/internal/api"
	"github.com/project-aether/crawler/internal/clock/system"
	"github.com/project-aether/crawler/internal/config"
	"github.com/project-aether/crawler/internal/coordinator"
	"github.com/project-aether/crawler/internal/id/uuid"
	"github.com/project-aether/crawler/internal/logging"
	"github.com/project-aether/crawler/internal/metrics"
	"github.com/project-aether/crawler/internal/progress"
	"github.com/project-aether/crawler/internal/progress/sinks"
	"github.com/project-aether/crawler/internal/registry"
	"github.com/project-aether/crawler/internal/registry/pgmirror"
	"github.com/project-aether/crawler/internal/registry/sqlitemirror"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the audit HTTP service",
		Long: `Starts the HTTP service: submit audits with POST /v1/audits and poll
GET /v1/audits/{id}/status until the job reaches a terminal state.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mirror, err := buildMirror(ctx, cfg)
	if err != nil {
		return err
	}

	clock := system.New()
	reg := registry.New(registry.Config{Retention: cfg.Retention()}, mirror, clock, logger.Named("registry"))

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)

	manager := coordinator.NewManager(
		reg,
		hub,
		clock,
		uuid.New(),
		coordinator.Config{UserAgent: cfg.Crawler.UserAgent},
		logger.Named("coordinator"),
	)

	apiCfg := api.Config{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		Defaults:       cfg.CrawlDefaults(),
	}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	server := api.NewServer(manager, reg, apiCfg, logger.Named("api"))

	go reg.RunJanitor(ctx, cfg.SweepInterval())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("coordinator shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	if mirror != nil {
		if err := mirror.Close(); err != nil {
			logger.Error("mirror close error", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	return nil
}

func buildMirror(ctx context.Context, cfg config.Config) (registry.Mirror, error) {
	switch cfg.Registry.Mirror {
	case "sqlite":
		m, err := sqlitemirror.Open(cfg.Registry.SQLiteDir)
		if err != nil {
			return nil, fmt.Errorf("open sqlite mirror: %w", err)
		}
		return m, nil
	case "postgres":
		m, err := pgmirror.New(ctx, cfg.Registry.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres mirror: %w", err)
		}
		return m, nil
	default:
		return nil, nil
	}
}
