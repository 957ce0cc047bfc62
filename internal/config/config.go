// Package config loads and validates application configuration from a YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Breaker      BreakerConfig      `mapstructure:"circuit_breaker"`
	SLA          SLAConfig          `mapstructure:"sla"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SyncWait bounds how long a transition request waits for its result
	// before the server answers 202 Accepted.
	SyncWait time.Duration `mapstructure:"sync_wait"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// WorkflowConfig holds transition executor configuration
type WorkflowConfig struct {
	TransitionTimeout time.Duration `mapstructure:"transition_timeout"`
	WorkerCount       int           `mapstructure:"worker_count"`
	QueueSize         int           `mapstructure:"queue_size"`
}

// RetryConfig holds persistence retry configuration
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold   int           `mapstructure:"failure_threshold"`
	ErrorRateThreshold float64       `mapstructure:"error_rate_threshold"`
	Window             time.Duration `mapstructure:"window"`
	MinSamples         int           `mapstructure:"min_samples"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	HalfOpenTrials     int           `mapstructure:"half_open_trials"`
}

// SLAConfig holds dwell-time tracking configuration
type SLAConfig struct {
	SweepInterval              time.Duration `mapstructure:"sweep_interval"`
	DocumentVerificationMaxAge time.Duration `mapstructure:"document_verification_max_age"`
	AcademicReviewMaxAge       time.Duration `mapstructure:"academic_review_max_age"`
	FinalReviewMaxAge          time.Duration `mapstructure:"final_review_max_age"`
}

// NotificationConfig holds webhook notification configuration
type NotificationConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	QueueSize      int           `mapstructure:"queue_size"`
	BatchSize      int           `mapstructure:"batch_size"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.sync_wait", 5*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/enrollment.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// Workflow defaults
	viper.SetDefault("workflow.transition_timeout", 10*time.Second)
	viper.SetDefault("workflow.worker_count", 4)
	viper.SetDefault("workflow.queue_size", 64)

	// Retry defaults
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.delay", 100*time.Millisecond)

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.failure_threshold", 5)
	viper.SetDefault("circuit_breaker.error_rate_threshold", 0.5)
	viper.SetDefault("circuit_breaker.window", 30*time.Second)
	viper.SetDefault("circuit_breaker.min_samples", 10)
	viper.SetDefault("circuit_breaker.cooldown", 30*time.Second)
	viper.SetDefault("circuit_breaker.half_open_trials", 2)

	// SLA defaults
	viper.SetDefault("sla.sweep_interval", time.Minute)
	viper.SetDefault("sla.document_verification_max_age", 48*time.Hour)
	viper.SetDefault("sla.academic_review_max_age", 72*time.Hour)
	viper.SetDefault("sla.final_review_max_age", 24*time.Hour)

	// Notification defaults
	viper.SetDefault("notification.queue_size", 256)
	viper.SetDefault("notification.batch_size", 16)
	viper.SetDefault("notification.flush_interval", 2*time.Second)
	viper.SetDefault("notification.request_timeout", 10*time.Second)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("notification.webhook_url", "NOTIFICATION_WEBHOOK_URL")
	viper.BindEnv("logger.level", "LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Workflow.WorkerCount < 1 {
		return fmt.Errorf("workflow.worker_count must be at least 1")
	}
	if c.Workflow.QueueSize < 1 {
		return fmt.Errorf("workflow.queue_size must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Breaker.ErrorRateThreshold < 0 || c.Breaker.ErrorRateThreshold > 1 {
		return fmt.Errorf("circuit_breaker.error_rate_threshold must be between 0 and 1")
	}
	return nil
}
