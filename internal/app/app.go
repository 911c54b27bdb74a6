package app

import (
	"context"
	"fmt"
	"time"

	"github.com/samvad-hq/samvad-request-runner/internal/config"
	"github.com/samvad-hq/samvad-request-runner/internal/logger"
	"github.com/samvad-hq/samvad-request-runner/internal/runner"
	"github.com/samvad-hq/samvad-request-runner/internal/storage"
	"github.com/samvad-hq/samvad-request-runner/pkg/executor"
	"github.com/samvad-hq/samvad-request-runner/pkg/httpclient"
	"github.com/samvad-hq/samvad-request-runner/pkg/jobs"
	"github.com/samvad-hq/samvad-request-runner/pkg/publishers"
)

// App is the request runner runtime. It owns the job registry, the executor,
// the run journal and the result publishers, and drives one or more passes.
type App struct {
	cfg         *config.Config
	jobReg      *jobs.Registry
	fanout      *publishers.Fanout
	service     *runner.Service
	runInterval time.Duration
	log         logger.Logger
	store       storage.Store
}

// New builds the runtime from config files.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	jobReg, err := jobs.LoadRegistry(cfg.JobsFile)
	if err != nil {
		return nil, fmt.Errorf("load jobs registry: %w", err)
	}
	jobList := jobReg.All()
	jobIDs := make([]string, 0, len(jobList))
	for _, j := range jobList {
		jobIDs = append(jobIDs, j.ID)
	}
	log.InfoObj("jobs registry loaded", "jobs_meta", map[string]any{
		"count": len(jobIDs),
		"ids":   jobIDs,
	})

	fanout, err := buildFanout(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(executor.Config{
		MaxAttempts:     cfg.MaxAttempts,
		BaseURL:         cfg.BaseURL,
		Timeout:         cfg.Timeout,
		RetryDelay:      cfg.RetryDelay,
		RetryHTTPErrors: cfg.RetryHTTPErrors,
	}, httpclient.NewRestyClient(cfg.Timeout), log)
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init executor: %w", err)
	}
	for _, j := range jobList {
		if _, err := exec.ResolveURL(j.URL); err != nil {
			_ = fanout.Close()
			return nil, fmt.Errorf("job %s: %w", j.ID, err)
		}
	}

	storeOpts := storage.Options{
		EntryTTL:        cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	}
	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storeOpts)
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"entry_ttl_seconds":        int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	return &App{
		cfg:         cfg,
		jobReg:      jobReg,
		fanout:      fanout,
		service:     runner.NewService(exec, fanout, store, log),
		runInterval: cfg.RunInterval,
		log:         log,
		store:       store,
	}, nil
}

// buildFanout loads publishers; a missing publishers file leaves results in the log only.
func buildFanout(ctx context.Context, cfg *config.Config, log logger.Logger) (*publishers.Fanout, error) {
	if cfg.PublishersFile == "" {
		log.WarnObj("no publishers file configured; results are logged only", "publishers_file", cfg.PublishersFile)
		return publishers.NewFanout(nil), nil
	}

	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}

	enabled := publisherReg.Enabled()
	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, pubCfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubClients), nil
}

// Run performs one pass, then repeats on the configured interval until ctx is cancelled.
// With no interval it returns the first pass's error.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app is not initialized")
	}
	defer a.close()

	list := a.jobReg.All()
	a.log.InfoObj("runner starting", "runner_state", map[string]any{
		"jobs_count":       len(list),
		"publishers_count": a.fanout.Size(),
		"run_interval":     a.runInterval.String(),
	})

	err := a.runOnce(ctx, list)
	if a.runInterval <= 0 {
		return err
	}
	if err != nil {
		a.log.ErrorObj("initial pass failed", "error", err)
	}

	ticker := time.NewTicker(a.runInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.InfoObj("runner loop exiting", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if err := a.runOnce(ctx, list); err != nil {
				a.log.ErrorObj("scheduled pass failed", "error", err)
			}
		}
	}
}

func (a *App) runOnce(ctx context.Context, list []jobs.Job) error {
	start := time.Now()
	a.log.InfoObj("pass started", "pass_meta", map[string]any{
		"jobs_count": len(list),
		"started_at": start.UTC(),
	})
	results, err := a.service.Run(ctx, list)

	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		}
	}
	a.log.InfoObj("pass completed", "pass_meta", map[string]any{
		"jobs_count": len(list),
		"executed":   len(results),
		"succeeded":  succeeded,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return err
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.ErrorObj("storage close failed", "error", err)
		}
	}
	if err := a.fanout.Close(); err != nil {
		a.log.ErrorObj("publishers close failed", "error", err)
	}
}
