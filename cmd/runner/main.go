package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/samvad-hq/samvad-request-runner/internal/app"
	"github.com/samvad-hq/samvad-request-runner/internal/config"
	"github.com/samvad-hq/samvad-request-runner/internal/logger"
)

var (
	once           bool
	jobsFile       string
	publishersFile string
)

var rootCmd = &cobra.Command{
	Use:   "runner",
	Short: "Run configured HTTP jobs with bounded retry and publish their outcomes",
	Long: `runner executes the jobs declared in the jobs file through a retrying
request executor. Transport faults are retried up to max_attempts; HTTP errors
end a job on first occurrence. Each result is logged and fanned out to the
configured publishers.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single pass even if run_interval is set")
	rootCmd.Flags().StringVar(&jobsFile, "jobs", "", "jobs file (overrides JOBS_FILE)")
	rootCmd.Flags().StringVar(&publishersFile, "publishers", "", "publishers file (overrides PUBLISHERS_FILE)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "runner failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if jobsFile != "" {
		cfg.JobsFile = jobsFile
	}
	if publishersFile != "" {
		cfg.PublishersFile = publishersFile
	}
	if once {
		cfg.RunInterval = 0
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Close()

	log.InfoObj("runner starting", "config", cfg)

	runtime, err := app.New(ctx, cfg, log)
	if err != nil {
		log.ErrorObj("failed to initialize runner", "error", err)
		return err
	}

	if err := runtime.Run(ctx); err != nil {
		return fmt.Errorf("runner run: %w", err)
	}
	return nil
}
