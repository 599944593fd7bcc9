package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	APISecret    string        `yaml:"api_secret"`
	BaseURL      string        `yaml:"base_url"`
	WebSocketURL string        `yaml:"websocket_url"`
	Budget       int           `yaml:"budget"`
	Window       time.Duration `yaml:"window"`
	Timeout      time.Duration `yaml:"timeout"`
}

type ModelConfig struct {
	ID      string `yaml:"id"`
	Type    string `yaml:"type"` // momentum | remote
	State   string `yaml:"state"`
	Version string `yaml:"version"`
	URL     string `yaml:"url"`
}

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SlowThreshold   time.Duration `yaml:"slow_threshold"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Logging struct {
		Level        string        `yaml:"level"`
		Format       string        `yaml:"format"`
		Output       string        `yaml:"output"`
		CollectTopic string        `yaml:"collect_topic"`
		CollectEvery time.Duration `yaml:"collect_every"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
		PoolSize int    `yaml:"pool_size"`
		MinIdle  int    `yaml:"min_idle"`
	} `yaml:"redis"`
	Cache struct {
		MemoryMaxSize int `yaml:"memory_max_size"`
		TTL           struct {
			Quote        time.Duration `yaml:"quote"`
			Analysis     time.Duration `yaml:"analysis"`
			Fundamentals time.Duration `yaml:"fundamentals"`
			History      time.Duration `yaml:"history"`
		} `yaml:"ttl"`
		StaleRetention  time.Duration `yaml:"stale_retention"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"cache"`
	Gateway struct {
		MaxWait          time.Duration `yaml:"max_wait"`
		CallTimeout      time.Duration `yaml:"call_timeout"`
		FailureThreshold int           `yaml:"failure_threshold"`
		Cooldown         time.Duration `yaml:"cooldown"`
		Priority         struct {
			Quote        []string `yaml:"quote"`
			History      []string `yaml:"history"`
			Fundamentals []string `yaml:"fundamentals"`
		} `yaml:"priority"`
	} `yaml:"gateway"`
	Providers struct {
		Finnhub      ProviderConfig `yaml:"finnhub"`
		AlphaVantage ProviderConfig `yaml:"alphavantage"`
		Alpaca       ProviderConfig `yaml:"alpaca"`
	} `yaml:"providers"`
	Signals struct {
		DefaultModel string        `yaml:"default_model"`
		Timeout      time.Duration `yaml:"timeout"`
		Models       []ModelConfig `yaml:"models"`
	} `yaml:"signals"`
	// Optimizer pointers distinguish an omitted key from an explicit zero.
	Optimizer struct {
		Shrinkage     *float64 `yaml:"shrinkage"`
		SectorRelax   *float64 `yaml:"sector_relax"`
		MaxIterations int      `yaml:"max_iterations"`
		Tolerance     float64  `yaml:"tolerance"`
		RiskFreeRate  *float64 `yaml:"risk_free_rate"`
	} `yaml:"optimizer"`
	Drift struct {
		Threshold       float64 `yaml:"threshold"`
		HysteresisBand  float64 `yaml:"hysteresis_band"`
		MinDelta        float64 `yaml:"min_delta"`
		TransactionCost float64 `yaml:"transaction_cost"`
	} `yaml:"drift"`
	Orchestrator struct {
		MaxInFlight      int           `yaml:"max_in_flight"`
		HistoryDays      int           `yaml:"history_days"`
		DefaultCash      float64       `yaml:"default_cash_reserve"`
		SweepTimeout     time.Duration `yaml:"sweep_timeout"`
		SweepConcurrency int           `yaml:"sweep_concurrency"`
		SweepSchedule    string        `yaml:"sweep_schedule"`
	} `yaml:"orchestrator"`
	Storage struct {
		Series     string `yaml:"series"`     // memory | clickhouse
		Portfolios string `yaml:"portfolios"` // memory | redis
	} `yaml:"storage"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Encoding     string   `yaml:"encoding"` // json | msgpack
		Topics       struct {
			Allocations string `yaml:"allocations"`
			Drift       string `yaml:"drift"`
			Trigger     string `yaml:"trigger"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Stream struct {
		Enabled        bool          `yaml:"enabled"`
		Symbols        []string      `yaml:"symbols"`
		MaxRPS         float64       `yaml:"max_rps"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"stream"`
}

// Default returns a configuration usable without any external service.
func Default() *Config {
	c := &Config{Environment: "development"}
	c.applyDefaults()
	return c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads .env (if present), the YAML file, then applies
// environment overrides and validates again.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Providers.Finnhub.APIKey = v
	}
	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		c.Providers.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.Providers.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		c.Providers.Alpaca.APISecret = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("STREAM_SYMBOLS"); v != "" {
		c.Stream.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("DRIFT_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("DRIFT_THRESHOLD: %w", err)
		}
		c.Drift.Threshold = f
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	setDur := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	setInt := func(i *int, v int) {
		if *i <= 0 {
			*i = v
		}
	}
	setFloat := func(f *float64, v float64) {
		if *f <= 0 {
			*f = v
		}
	}
	setOptional := func(f **float64, v float64) {
		if *f == nil {
			*f = &v
		}
	}

	setInt(&c.Server.Port, 8080)
	setDur(&c.Server.ReadTimeout, 10*time.Second)
	setDur(&c.Server.WriteTimeout, 30*time.Second)
	setDur(&c.Server.ShutdownTimeout, 10*time.Second)
	setDur(&c.Server.SlowThreshold, 2*time.Second)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "finalloc"
	}
	setInt(&c.Redis.Port, 6379)
	setInt(&c.Redis.PoolSize, 10)
	setInt(&c.Redis.MinIdle, 2)

	setInt(&c.Cache.MemoryMaxSize, 5000)
	setDur(&c.Cache.TTL.Quote, 60*time.Second)
	setDur(&c.Cache.TTL.Analysis, 15*time.Minute)
	setDur(&c.Cache.TTL.Fundamentals, time.Hour)
	setDur(&c.Cache.TTL.History, 24*time.Hour)
	setDur(&c.Cache.StaleRetention, 72*time.Hour)
	setDur(&c.Cache.CleanupInterval, 5*time.Minute)

	setDur(&c.Gateway.MaxWait, 2*time.Second)
	setDur(&c.Gateway.CallTimeout, 10*time.Second)
	setInt(&c.Gateway.FailureThreshold, 3)
	setDur(&c.Gateway.Cooldown, time.Minute)
	if len(c.Gateway.Priority.Quote) == 0 {
		c.Gateway.Priority.Quote = []string{"finnhub", "alpaca", "alphavantage"}
	}
	if len(c.Gateway.Priority.History) == 0 {
		c.Gateway.Priority.History = []string{"alpaca", "finnhub", "alphavantage"}
	}
	if len(c.Gateway.Priority.Fundamentals) == 0 {
		c.Gateway.Priority.Fundamentals = []string{"finnhub", "alphavantage"}
	}
	if c.Providers.Finnhub.BaseURL == "" {
		c.Providers.Finnhub.BaseURL = "https://finnhub.io/api/v1"
	}
	if c.Providers.Finnhub.WebSocketURL == "" {
		c.Providers.Finnhub.WebSocketURL = "wss://ws.finnhub.io"
	}
	setInt(&c.Providers.Finnhub.Budget, 60)
	setDur(&c.Providers.Finnhub.Window, time.Minute)
	if c.Providers.AlphaVantage.BaseURL == "" {
		c.Providers.AlphaVantage.BaseURL = "https://www.alphavantage.co/query"
	}
	setInt(&c.Providers.AlphaVantage.Budget, 5)
	setDur(&c.Providers.AlphaVantage.Window, time.Minute)
	setInt(&c.Providers.Alpaca.Budget, 200)
	setDur(&c.Providers.Alpaca.Window, time.Minute)
	for _, p := range []*ProviderConfig{&c.Providers.Finnhub, &c.Providers.AlphaVantage, &c.Providers.Alpaca} {
		setDur(&p.Timeout, 10*time.Second)
	}

	if c.Signals.DefaultModel == "" {
		c.Signals.DefaultModel = "momentum"
	}
	setDur(&c.Signals.Timeout, 5*time.Second)
	if len(c.Signals.Models) == 0 {
		c.Signals.Models = []ModelConfig{{ID: "momentum", Type: "momentum", State: "trained", Version: "1"}}
	}

	setOptional(&c.Optimizer.Shrinkage, 0.10)
	setOptional(&c.Optimizer.SectorRelax, 0.20)
	setInt(&c.Optimizer.MaxIterations, 2000)
	setFloat(&c.Optimizer.Tolerance, 1e-10)
	setOptional(&c.Optimizer.RiskFreeRate, 0.02)

	setFloat(&c.Drift.Threshold, 0.05)
	setFloat(&c.Drift.HysteresisBand, 0.2)
	setFloat(&c.Drift.MinDelta, 0.001)
	setFloat(&c.Drift.TransactionCost, 0.001)

	setInt(&c.Orchestrator.MaxInFlight, 8)
	setInt(&c.Orchestrator.HistoryDays, 365)
	setDur(&c.Orchestrator.SweepTimeout, 30*time.Second)
	setInt(&c.Orchestrator.SweepConcurrency, 4)

	if c.Storage.Series == "" {
		c.Storage.Series = "memory"
	}
	if c.Storage.Portfolios == "" {
		c.Storage.Portfolios = "memory"
	}
	if c.Kafka.Topics.Allocations == "" {
		c.Kafka.Topics.Allocations = "allocations"
	}
	if c.Kafka.Topics.Drift == "" {
		c.Kafka.Topics.Drift = "drift.reports"
	}
	if c.Kafka.Topics.Trigger == "" {
		c.Kafka.Topics.Trigger = "drift.evaluate"
	}
	if c.Kafka.Encoding == "" {
		c.Kafka.Encoding = "json"
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "finalloc"
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "finalloc"
	}
	setInt(&c.ClickHouse.Port, 9000)
	setFloat(&c.Stream.MaxRPS, 5)
	setDur(&c.Stream.ReconnectDelay, 3*time.Second)
	setDur(&c.Stream.PingInterval, 20*time.Second)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Orchestrator.DefaultCash < 0 || c.Orchestrator.DefaultCash >= 1 {
		return fmt.Errorf("orchestrator.default_cash_reserve must be in [0,1), got %v", c.Orchestrator.DefaultCash)
	}
	if s := c.Optimizer.Shrinkage; s != nil && (*s < 0 || *s > 1) {
		return fmt.Errorf("optimizer.shrinkage must be in [0,1], got %v", *s)
	}
	if r := c.Optimizer.SectorRelax; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("optimizer.sector_relax must be in [0,1], got %v", *r)
	}
	for _, p := range []struct {
		class string
		names []string
	}{
		{"quote", c.Gateway.Priority.Quote},
		{"history", c.Gateway.Priority.History},
		{"fundamentals", c.Gateway.Priority.Fundamentals},
	} {
		for _, name := range p.names {
			switch name {
			case "finnhub", "alphavantage", "alpaca":
			default:
				return fmt.Errorf("gateway.priority.%s: unknown provider %q", p.class, name)
			}
		}
	}
	if c.Drift.Threshold >= 2 {
		return fmt.Errorf("drift.threshold must be below 2, got %v", c.Drift.Threshold)
	}
	if c.Drift.HysteresisBand >= 1 {
		return fmt.Errorf("drift.hysteresis_band must be below 1, got %v", c.Drift.HysteresisBand)
	}
	if c.Storage.Series != "memory" && c.Storage.Series != "clickhouse" {
		return fmt.Errorf("storage.series must be 'memory' or 'clickhouse', got '%s'", c.Storage.Series)
	}
	if c.Storage.Portfolios != "memory" && c.Storage.Portfolios != "redis" {
		return fmt.Errorf("storage.portfolios must be 'memory' or 'redis', got '%s'", c.Storage.Portfolios)
	}
	if c.Storage.Portfolios == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("storage.portfolios=redis requires redis.enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	seen := make(map[string]bool, len(c.Signals.Models))
	for _, m := range c.Signals.Models {
		if m.ID == "" {
			return fmt.Errorf("signals.models: id is required")
		}
		if seen[m.ID] {
			return fmt.Errorf("signals.models: duplicate id %q", m.ID)
		}
		seen[m.ID] = true
		if m.Type != "momentum" && m.Type != "remote" {
			return fmt.Errorf("signals.models[%s]: type must be 'momentum' or 'remote'", m.ID)
		}
		if m.Type == "remote" && m.URL == "" {
			return fmt.Errorf("signals.models[%s]: url is required for remote models", m.ID)
		}
	}
	if !seen[c.Signals.DefaultModel] {
		return fmt.Errorf("signals.default_model %q is not configured", c.Signals.DefaultModel)
	}
	return nil
}
