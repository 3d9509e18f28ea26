package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/project-aether/crawler/internal/audit"
	"github.com/project-aether/crawler/internal/clock/system"
	"github.com/project-aether/crawler/internal/config"
	"github.com/project-aether/crawler/internal/coordinator"
	"github.com/project-aether/crawler/internal/id/uuid"
	"github.com/project-aether/crawler/internal/logging"
	"github.com/project-aether/crawler/internal/registry"
)

func newAuditCmd() *cobra.Command {
	var (
		maxDepth    int
		maxPages    int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "audit <url>",
		Short: "Run one audit synchronously and print the report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.Context(), args[0], audit.CrawlConfig{
				MaxDepth:    maxDepth,
				MaxPages:    maxPages,
				Concurrency: concurrency,
			})
		},
	}
	cmd.Flags().IntVar(&maxDepth, "depth", 0, "maximum link depth (default from config)")
	cmd.Flags().IntVar(&maxPages, "pages", 0, "maximum pages to crawl (default from config)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker count (default from config)")
	return cmd
}

func runAudit(ctx context.Context, rootURL string, overrides audit.CrawlConfig) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	crawlCfg := cfg.CrawlDefaults()
	if overrides.MaxDepth > 0 {
		crawlCfg.MaxDepth = overrides.MaxDepth
	}
	if overrides.MaxPages > 0 {
		crawlCfg.MaxPages = overrides.MaxPages
	}
	if overrides.Concurrency > 0 {
		crawlCfg.Concurrency = overrides.Concurrency
	}

	clock := system.New()
	reg := registry.New(registry.Config{}, nil, clock, logger.Named("registry"))
	manager := coordinator.NewManager(
		reg,
		nil,
		clock,
		uuid.New(),
		coordinator.Config{UserAgent: cfg.Crawler.UserAgent},
		logger.Named("coordinator"),
	)

	jobID, err := manager.Submit(rootURL, crawlCfg)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = manager.Cancel(context.Background(), jobID, "interrupted")
			return ctx.Err()
		case <-ticker.C:
		}
		job, err := reg.Get(ctx, jobID)
		if err != nil {
			return fmt.Errorf("poll job: %w", err)
		}
		if !job.Status.Terminal() {
			continue
		}
		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		fmt.Println(string(out))
		if job.Status == audit.StatusFailed {
			return fmt.Errorf("audit failed: %s", job.Error)
		}
		return nil
	}
}
