package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "outbound_db", cfg.Database.Database)
			assert.True(t, cfg.Database.AutoMigrate)
			assert.Equal(t, "outbound_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "jobs.enqueued", cfg.RabbitMQ.RoutingKey)
			assert.Equal(t, "outbound-queue", cfg.App.Name)

			assert.Equal(t, 8, cfg.Worker.Concurrency)
			assert.Equal(t, 25, cfg.Worker.BatchSize)
			assert.Equal(t, 20*time.Second, cfg.Worker.JobTimeout)
			assert.Equal(t, 2*time.Minute, cfg.Worker.StaleAfter)

			assert.Equal(t, 10*time.Second, cfg.Retry.BaseDelay)
			assert.Equal(t, 3.0, cfg.Retry.Multiplier)
			assert.Equal(t, 30*time.Minute, cfg.Retry.MaxDelay)
			assert.Equal(t, 4, cfg.Retry.MaxAttempts)

			assert.Equal(t, WhatsAppModeSimulated, cfg.WhatsApp.Mode)
			assert.Equal(t, 2.0, cfg.WhatsApp.RatePerSecond)
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/minimal_worker.yaml")
	require.NoError(t, err)

	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
	assert.Equal(t, 50, cfg.Worker.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Worker.JobTimeout)
	assert.Equal(t, 5*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Worker.StaleAfter)

	assert.Equal(t, 30*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, time.Hour, cfg.Retry.MaxDelay)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)

	assert.Equal(t, WhatsAppModeSimulated, cfg.WhatsApp.Mode)
	assert.Equal(t, "55", cfg.WhatsApp.DefaultCountryCode)

	require.NoError(t, cfg.ValidateWorkerConfig())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("WHATSAPP_API_TOKEN", "token-from-env")
	t.Setenv("WORKER_CONCURRENCY", "12")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "token-from-env", cfg.WhatsApp.AccessToken)
	assert.Equal(t, 12, cfg.Worker.Concurrency)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)

	// untouched by the environment
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestLoad_InvalidEnvironmentValue(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")

	cfg, err := Load("testdata/valid_config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply environment overrides")
	assert.Nil(t, cfg)
}

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "outbound_db",
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "outbound_exchange"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "rabbitmq disabled skips its checks",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:      "missing database",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "negative concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = -1 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "negative batch size",
			mutate:    func(c *Config) { c.Worker.BatchSize = -5 },
			errString: "worker batch_size must be greater than 0",
		},
		{
			name: "stale_after not above job_timeout",
			mutate: func(c *Config) {
				c.Worker.JobTimeout = time.Minute
				c.Worker.StaleAfter = time.Minute
			},
			errString: "stale_after",
		},
		{
			name:      "retry multiplier below one",
			mutate:    func(c *Config) { c.Retry.Multiplier = 0.5 },
			errString: "invalid retry config",
		},
		{
			name:      "unknown whatsapp mode",
			mutate:    func(c *Config) { c.WhatsApp.Mode = "sms" },
			errString: "invalid whatsapp mode",
		},
		{
			name: "cloud api without credentials",
			mutate: func(c *Config) {
				c.WhatsApp.Mode = WhatsAppModeCloudAPI
				c.WhatsApp.BaseURL = "https://graph.facebook.com/v20.0"
			},
			errString: "access_token are required",
		},
		{
			name: "cloud api fully configured",
			mutate: func(c *Config) {
				c.WhatsApp.Mode = WhatsAppModeCloudAPI
				c.WhatsApp.BaseURL = "https://graph.facebook.com/v20.0"
				c.WhatsApp.PhoneNumberID = "1234567890"
				c.WhatsApp.AccessToken = "token"
			},
		},
		{
			name:      "redis enabled without addr",
			mutate:    func(c *Config) { c.Redis.Enabled = true },
			errString: "redis addr is required",
		},
		{
			name: "amqp events without rabbitmq",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{}
				c.Events.AMQP = true
			},
			errString: "amqp events require rabbitmq",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestRetryConfig_Policy(t *testing.T) {
	r := RetryConfig{BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute, MaxAttempts: 3}
	p := r.Policy()

	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.False(t, p.ShouldRetry(3))
}
