// Package bootstrap turns a loaded config into the connected clients and
// components the service binaries share.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redealabama/outbound-queue/internal/config"
	"github.com/redealabama/outbound-queue/internal/worker/storage"
	"github.com/redealabama/outbound-queue/shared/logger"
	"github.com/redealabama/outbound-queue/shared/postgresql"
	"github.com/redealabama/outbound-queue/shared/rabbitmq"
)

// Options select which optional connections Open makes.
type Options struct {
	// ConsumeNotifications declares the wake-up queue. Only the
	// worker-service consumes it.
	ConsumeNotifications bool
	// UseRedis connects the sent-ledger when it is enabled in config.
	UseRedis bool
	// UseRabbitMQ connects the broker when it is enabled in config.
	UseRabbitMQ bool
}

// Infra holds the process-wide connections. Rabbit and Redis are nil when
// disabled.
type Infra struct {
	DB     *postgresql.Client
	Rabbit *rabbitmq.Client
	Redis  *redis.Client
	Store  *storage.Storage

	logger *slog.Logger
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// Open connects to PostgreSQL, applies migrations when configured and
// connects the optional brokers. On error everything opened so far is
// closed.
func Open(ctx context.Context, cfg *config.Config, opts Options, log *slog.Logger) (*Infra, error) {
	infra := &Infra{logger: log}

	dbConfig := postgresConfig(&cfg.Database)
	if cfg.Database.AutoMigrate {
		if err := storage.RunMigrations(dbConfig.URL(), log); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	db, err := postgresql.NewClient(ctx, dbConfig, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	infra.DB = db
	infra.Store = storage.NewStorage(db.GetDB(), log)

	if opts.UseRabbitMQ && cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewClient(rabbitConfig(&cfg.RabbitMQ, opts.ConsumeNotifications), log)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		infra.Rabbit = rabbitClient
		log.Info("RabbitMQ connection established")
	}

	if opts.UseRedis && cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			infra.Close()
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		infra.Redis = rdb
		log.Info("Redis connection established", slog.String("addr", cfg.Redis.Addr))
	}

	return infra, nil
}

// Close releases every connection, logging failures.
func (i *Infra) Close() {
	var errs []error
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.Rabbit != nil {
		errs = append(errs, i.Rabbit.Close())
	}
	if i.DB != nil {
		errs = append(errs, i.DB.Close())
	}

	if err := errors.Join(errs...); err != nil {
		i.logger.Error("Failed to close connections", slog.Any("error", err))
	}
}

func postgresConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

func rabbitConfig(cfg *config.RabbitMQConfig, consume bool) *rabbitmq.Config {
	rc := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RoutingKey:         cfg.RoutingKey,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
	}
	if consume {
		rc.QueueName = cfg.Queue.Name
		rc.QueueDurable = cfg.Queue.Durable
		rc.QueueAutoDelete = cfg.Queue.AutoDelete
		rc.QueueExclusive = cfg.Queue.Exclusive
	}
	return rc
}
