package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/redealabama/outbound-queue/internal/worker/retry"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// WhatsApp delivery modes
const (
	WhatsAppModeSimulated = "simulated"
	WhatsAppModeCloudAPI  = "cloud_api"
)

// Config represents the complete application configuration. Values come
// from the YAML file first; fields with an env tag are then overridden by
// the environment when the variable is set.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Worker   WorkerConfig   `yaml:"worker"`
	Retry    RetryConfig    `yaml:"retry"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Events   EventsConfig   `yaml:"events"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins feeds the CORS middleware. Empty allows none.
	AllowedOrigins []string `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DB_HOST"`
	Port            int           `yaml:"port" env:"DB_PORT"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	Database        string        `yaml:"database" env:"DB_NAME"`
	SSLMode         string        `yaml:"sslmode" env:"DB_SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// RabbitMQ is optional: without it the worker relies on polling alone and
// events go to the log only.
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled" env:"RABBITMQ_ENABLED"`
	Host       string           `yaml:"host" env:"RABBITMQ_HOST"`
	Port       int              `yaml:"port" env:"RABBITMQ_PORT"`
	User       string           `yaml:"user" env:"RABBITMQ_USER"`
	Password   string           `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the sent-ledger connection
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr      string        `yaml:"addr" env:"REDIS_ADDR"`
	Password  string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"REDIS_DB"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color" env:"NO_COLOR"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency" env:"WORKER_CONCURRENCY"`
	BatchSize       int           `yaml:"batch_size" env:"WORKER_BATCH_SIZE"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	ReclaimInterval time.Duration `yaml:"reclaim_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RetryConfig holds the backoff schedule for retryable failures
type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS"`
}

// Policy converts the section into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		BaseDelay:   r.BaseDelay,
		Multiplier:  r.Multiplier,
		MaxDelay:    r.MaxDelay,
		MaxAttempts: r.MaxAttempts,
	}
}

// WhatsAppConfig holds the delivery client settings
type WhatsAppConfig struct {
	Mode               string        `yaml:"mode" env:"WHATSAPP_MODE"`
	BaseURL            string        `yaml:"base_url" env:"WHATSAPP_BASE_URL"`
	PhoneNumberID      string        `yaml:"phone_number_id" env:"WHATSAPP_PHONE_NUMBER_ID"`
	AccessToken        string        `yaml:"access_token" env:"WHATSAPP_API_TOKEN"`
	Timeout            time.Duration `yaml:"timeout"`
	DefaultCountryCode string        `yaml:"default_country_code"`
	RatePerSecond      float64       `yaml:"rate_per_second"`
	RateBurst          int           `yaml:"rate_burst"`
}

// EventsConfig selects the event sinks
type EventsConfig struct {
	AMQP          bool   `yaml:"amqp"`
	RoutingPrefix string `yaml:"routing_prefix"`
	BufferSize    int    `yaml:"buffer_size"`
}

// Load reads and parses the configuration file, applies environment
// overrides and fills defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset worker, retry, whatsapp and event values.
func (c *Config) ApplyDefaults() {
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	w := &c.Worker
	if w.Concurrency == 0 {
		w.Concurrency = 5
	}
	if w.BatchSize == 0 {
		w.BatchSize = 50
	}
	if w.JobTimeout == 0 {
		w.JobTimeout = 30 * time.Second
	}
	if w.PollInterval == 0 {
		w.PollInterval = 5 * time.Second
	}
	if w.StaleAfter == 0 {
		w.StaleAfter = 5 * time.Minute
	}
	if w.ShutdownTimeout == 0 {
		w.ShutdownTimeout = 30 * time.Second
	}

	d := retry.DefaultPolicy()
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = d.BaseDelay
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = d.Multiplier
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = d.MaxDelay
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.MaxAttempts
	}

	if c.WhatsApp.Mode == "" {
		c.WhatsApp.Mode = WhatsAppModeSimulated
	}
	if c.WhatsApp.Timeout == 0 {
		c.WhatsApp.Timeout = 15 * time.Second
	}
	if c.WhatsApp.DefaultCountryCode == "" {
		c.WhatsApp.DefaultCountryCode = "55"
	}

	if c.Redis.TTL == 0 {
		c.Redis.TTL = 7 * 24 * time.Hour
	}

	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = 256
	}
}

// ValidateAPIConfig checks the sections the api-service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateRabbitMQ()
}

// ValidateWorkerConfig checks the sections the worker-service and the
// jobs-runner depend on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker batch_size must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	// A claim younger than the job timeout may still be running.
	if c.Worker.StaleAfter <= c.Worker.JobTimeout {
		return fmt.Errorf("worker stale_after (%s) must be greater than job_timeout (%s)", c.Worker.StaleAfter, c.Worker.JobTimeout)
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if err := c.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}

	switch c.WhatsApp.Mode {
	case WhatsAppModeSimulated:
	case WhatsAppModeCloudAPI:
		if c.WhatsApp.BaseURL == "" {
			return fmt.Errorf("whatsapp base_url is required in %s mode", WhatsAppModeCloudAPI)
		}
		if c.WhatsApp.PhoneNumberID == "" || c.WhatsApp.AccessToken == "" {
			return fmt.Errorf("whatsapp phone_number_id and access_token are required in %s mode", WhatsAppModeCloudAPI)
		}
	default:
		return fmt.Errorf("invalid whatsapp mode: %q", c.WhatsApp.Mode)
	}

	if c.WhatsApp.RatePerSecond < 0 {
		return fmt.Errorf("whatsapp rate_per_second must not be negative")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}

	if c.Events.AMQP && !c.RabbitMQ.Enabled {
		return fmt.Errorf("amqp events require rabbitmq to be enabled")
	}

	return c.validateRabbitMQ()
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.Enabled {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	return nil
}
