// Command jobs-runner runs a single worker pass and exits. It is meant for
// cron-style scheduling. Failed jobs do not change the exit code; only a
// startup or storage error does.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/redealabama/outbound-queue/internal/bootstrap"
	"github.com/redealabama/outbound-queue/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	opts, err := parseFlags(os.Args[1:], defaultConfigPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts.apply(cfg)

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// no notification queue: a single pass has nothing to wake up
	infra, err := bootstrap.Open(ctx, cfg, bootstrap.Options{
		UseRedis:    true,
		UseRabbitMQ: cfg.Events.AMQP,
	}, appLogger.Logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	workerInstance, sink, err := bootstrap.NewWorker(cfg, infra.WorkerDeps(cfg), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}

	start := time.Now()
	res, runErr := workerInstance.RunOnce(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sink.Close(closeCtx); err != nil {
		appLogger.Warn("Events not fully delivered", slog.Any("error", err))
	}

	appLogger.Info("Jobs runner finished",
		slog.Int("claimed", res.Claimed),
		slog.Int("done", res.Done),
		slog.Int("retried", res.Retried),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Int64("reclaimed", res.Reclaimed),
		slog.Duration("elapsed", time.Since(start)),
	)

	if runErr != nil {
		return fmt.Errorf("worker pass aborted: %w", runErr)
	}
	return nil
}

type options struct {
	configPath string
	// zero keeps worker.batch_size from the config file
	batchSize int
}

func parseFlags(args []string, defaultConfigPath string) (options, error) {
	fs := flag.NewFlagSet("jobs-runner", flag.ContinueOnError)

	var opts options
	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to configuration file")
	fs.IntVar(&opts.batchSize, "batch-size", 0, "Maximum number of jobs to claim (default worker.batch_size)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	batchSizeSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "batch-size" {
			batchSizeSet = true
		}
	})
	if batchSizeSet && opts.batchSize <= 0 {
		return options{}, fmt.Errorf("batch-size must be greater than 0, got %d", opts.batchSize)
	}

	return opts, nil
}

func (o options) apply(cfg *config.Config) {
	if o.batchSize > 0 {
		cfg.Worker.BatchSize = o.batchSize
	}
}
