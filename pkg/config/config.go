package config

import (
	"fmt"
	"os"
	"time"

	applogger "ClarityPull/pkg/logger"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Log         applogger.Config `yaml:"log"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Metrics struct {
		Enabled       bool          `yaml:"enabled" default:"true"`
		SlowThreshold time.Duration `yaml:"slow_threshold" default:"2s"`
	} `yaml:"metrics"`
	Backend struct {
		Type string `yaml:"type" default:"sqlite"`
	} `yaml:"backend"`
	SQLite struct {
		Path        string        `yaml:"path" default:"data/claritypull.db"`
		BusyTimeout time.Duration `yaml:"busy_timeout" default:"5s"`
	} `yaml:"sqlite"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"claritypull"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns     int           `yaml:"max_idle_conns" default:"5"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"claritypull"`
	} `yaml:"redis"`
	Cache struct {
		ZoneRunTTL    time.Duration `yaml:"zone_run_ttl" default:"24h"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"5000"`
		LocalTTL      time.Duration `yaml:"local_ttl" default:"30s"`
	} `yaml:"cache"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Topics       struct {
			Alerts       string `yaml:"alerts" default:"claritypull.momentum_alerts"`
			Status       string `yaml:"status" default:"claritypull.polling_status"`
			PollRequests string `yaml:"poll_requests" default:"claritypull.poll_requests"`
			Logs         string `yaml:"logs" default:"claritypull.logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"claritypull-poller"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"10"`
			RetryMax   int           `yaml:"retry_max" default:"2"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"500ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"10s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"claritypull.poll_requests.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	LogCollector struct {
		Enabled   bool          `yaml:"enabled"`
		Interval  time.Duration `yaml:"interval" default:"30s"`
		Threshold int           `yaml:"threshold" default:"100"`
	} `yaml:"log_collector"`
	Upstream struct {
		Host       string        `yaml:"host" default:"http://localhost:8001"`
		PathPrefix string        `yaml:"path_prefix" default:"/api/claritybox"`
		APIKey     string        `yaml:"api_key"`
		Timeout    time.Duration `yaml:"timeout" default:"60s"`
	} `yaml:"upstream"`
	Polling struct {
		Workers        int           `yaml:"workers" default:"4"`
		MaxAttempts    int           `yaml:"max_attempts" default:"3"`
		BackoffInitial time.Duration `yaml:"backoff_initial" default:"1s"`
		BackoffMax     time.Duration `yaml:"backoff_max" default:"30s"`
		StoreRetries   int           `yaml:"store_retries" default:"1"`
		LeaseTTL       time.Duration `yaml:"lease_ttl" default:"30m"`
	} `yaml:"polling"`
	Schedule struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval" default:"24h"`
		Mode     string        `yaml:"mode" default:"latest"`
		Groups   []string      `yaml:"groups" default:"[\"all\"]"`
	} `yaml:"schedule"`
	Ops struct {
		APIKey        string  `yaml:"api_key"`
		RateCapacity  float64 `yaml:"rate_capacity" default:"5"`
		RateRefillSec float64 `yaml:"rate_refill_per_sec" default:"0.2"`
	} `yaml:"ops"`
}

// envOverrides lists the environment variables honoured on top of the file.
type envOverrides struct {
	UpstreamHost string   `envconfig:"MARKETVIBES_HOST"`
	APIKey       string   `envconfig:"MV_INTERNAL_API_KEY"`
	Backend      string   `envconfig:"CLARITY_BACKEND"`
	SQLitePath   string   `envconfig:"SQLITE_PATH"`
	CHHost       string   `envconfig:"CLICKHOUSE_HOST"`
	CHPassword   string   `envconfig:"CLICKHOUSE_PASSWORD"`
	RedisHost    string   `envconfig:"REDIS_HOST"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	OpsAPIKey    string   `envconfig:"OPS_API_KEY"`
	LogLevel     string   `envconfig:"LOG_LEVEL"`
}

// Load reads a YAML configuration file on top of the defaults.
// An empty path yields the defaults alone.
func Load(path string) (*Config, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, then .env, then environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}

	// .env is optional; production injects real environment variables.
	_ = godotenv.Load()

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	c.applyEnv(env)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if path == "" {
		return &c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(env envOverrides) {
	if env.UpstreamHost != "" {
		c.Upstream.Host = env.UpstreamHost
	}
	if env.APIKey != "" {
		c.Upstream.APIKey = env.APIKey
	}
	if env.Backend != "" {
		c.Backend.Type = env.Backend
	}
	if env.SQLitePath != "" {
		c.SQLite.Path = env.SQLitePath
	}
	if env.CHHost != "" {
		c.ClickHouse.Host = env.CHHost
	}
	if env.CHPassword != "" {
		c.ClickHouse.Password = env.CHPassword
	}
	if env.RedisHost != "" {
		c.Redis.Host = env.RedisHost
		c.Redis.Enabled = true
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
		c.Kafka.Enabled = true
	}
	if env.OpsAPIKey != "" {
		c.Ops.APIKey = env.OpsAPIKey
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Backend.Type {
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required")
		}
	default:
		return fmt.Errorf("backend.type must be 'sqlite' or 'clickhouse', got '%s'", c.Backend.Type)
	}
	if c.Upstream.Host == "" {
		return fmt.Errorf("upstream.host is required")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if c.Polling.Workers < 1 {
		return fmt.Errorf("polling.workers must be at least 1")
	}
	if c.Polling.MaxAttempts < 1 {
		return fmt.Errorf("polling.max_attempts must be at least 1")
	}
	if c.Polling.BackoffMax < c.Polling.BackoffInitial {
		return fmt.Errorf("polling.backoff_max must be >= polling.backoff_initial")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Schedule.Enabled && c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be positive")
	}
	return nil
}
