package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the velocity pipeline service
type Config struct {
	// Server configuration
	HTTPPort     int    `env:"VELODAGO_HTTP_PORT" envDefault:"8080"`
	GRPCPort     int    `env:"VELODAGO_GRPC_PORT" envDefault:"9090"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	MaxBodyBytes int64  `env:"HTTP_MAX_BODY_BYTES" envDefault:"1073741824"`

	// Storage configuration
	StorageBackend string        `env:"STORAGE_BACKEND" envDefault:"memory"`
	StateTTL       time.Duration `env:"STATE_TTL" envDefault:"24h"`

	// Redis configuration
	Redis RedisConfig

	// Interpreter configuration
	Interpreter InterpreterConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Event streams
	ConsumerGroup   string `env:"REDIS_CONSUMER_GROUP" envDefault:"velodago"`
	StreamMaxLength int64  `env:"REDIS_STREAM_MAXLEN" envDefault:"10000"`
}

// InterpreterConfig holds execution context backend configuration
type InterpreterConfig struct {
	Backend   string   `env:"INTERPRETER_BACKEND" envDefault:"python"`
	PythonBin string   `env:"PYTHON_BIN" envDefault:"python3"`
	EnvDir    string   `env:"ENV_DIR" envDefault:"/var/lib/velodago/env"`
	Packages  []string `env:"ENV_PACKAGES" envSeparator:","`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"2"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunTimeout          time.Duration `env:"TIMEOUT_RUN" envDefault:"3600s"`       // 1 hour
	ProvisionTimeout    time.Duration `env:"TIMEOUT_PROVISION" envDefault:"1800s"` // 30 minutes
	SessionCloseTimeout time.Duration `env:"TIMEOUT_SESSION_CLOSE" envDefault:"10s"`
	ShutdownTimeout     time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate storage config
	switch c.StorageBackend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory or redis)", c.StorageBackend)
	}

	// Validate interpreter config
	switch c.Interpreter.Backend {
	case "memory":
	case "python":
		if c.Interpreter.PythonBin == "" {
			return fmt.Errorf("python binary is required")
		}
		if c.Interpreter.EnvDir == "" {
			return fmt.Errorf("environment directory is required")
		}
	default:
		return fmt.Errorf("unsupported interpreter backend: %s (must be python or memory)", c.Interpreter.Backend)
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.HealthCheckInterval <= 0 {
		return fmt.Errorf("worker health check interval must be positive")
	}

	// Validate timeouts
	if c.Timeouts.RunTimeout <= 0 {
		return fmt.Errorf("run timeout must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
