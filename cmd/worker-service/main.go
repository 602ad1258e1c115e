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
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("whatsapp_mode", cfg.WhatsApp.Mode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, bootstrap.Options{
		ConsumeNotifications: true,
		UseRedis:             true,
		UseRabbitMQ:          true,
	}, appLogger.Logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	workerInstance, sink, err := bootstrap.NewWorker(cfg, infra.WorkerDeps(cfg), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}

	if infra.Rabbit != nil {
		if err := workerInstance.ListenForNotifications(ctx, infra.Rabbit); err != nil {
			// polling still picks everything up
			appLogger.Warn("Enqueue notifications unavailable", slog.Any("error", err))
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully", slog.String("worker_id", workerInstance.ID()))

	var runErr error
	select {
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
	case runErr = <-errChan:
		if runErr != nil {
			appLogger.Error("Worker error", slog.Any("error", runErr))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if err := sink.Close(shutdownCtx); err != nil {
		appLogger.Warn("Events not fully delivered", slog.Any("error", err))
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}
