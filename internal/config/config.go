// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		RequestTimeout  time.Duration `yaml:"request_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level" default:"info"`
	} `yaml:"log"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL      string        `yaml:"url"`
		CacheTTL time.Duration `yaml:"cache_ttl" default:"5m"`
	} `yaml:"redis"`
	Ledger struct {
		InitialBalance float64 `yaml:"initial_balance" default:"100000"`
	} `yaml:"ledger"`
	Pricing struct {
		QuoteTimeout   time.Duration `yaml:"quote_timeout" default:"5s"`
		HistoryTimeout time.Duration `yaml:"history_timeout" default:"20s"`
		QuoteCacheTTL  time.Duration `yaml:"quote_cache_ttl" default:"1m"`
		CSVPath        string        `yaml:"csv_path"`
		Synthetic      bool          `yaml:"synthetic" default:"true"`
		SyntheticSeed  uint64        `yaml:"synthetic_seed"`
		Benchmark      string        `yaml:"benchmark" default:"SPY"`
	} `yaml:"pricing"`
	Finnhub struct {
		APIKey    string `yaml:"api_key"`
		BaseURL   string `yaml:"base_url" default:"https://finnhub.io/api/v1"`
		RateLimit int    `yaml:"rate_limit" default:"30"`
	} `yaml:"finnhub"`
	AlphaVantage struct {
		APIKey        string `yaml:"api_key"`
		BaseURL       string `yaml:"base_url" default:"https://www.alphavantage.co"`
		RatePerMinute int    `yaml:"rate_per_minute" default:"5"`
	} `yaml:"alpha_vantage"`
	InfluxDB struct {
		URL    string `yaml:"url"`
		Token  string `yaml:"token"`
		Org    string `yaml:"org" default:"portfolio"`
		Bucket string `yaml:"bucket" default:"market_data"`
	} `yaml:"influxdb"`
	AI struct {
		Timeout       time.Duration `yaml:"timeout" default:"30s"`
		GeminiAPIKey  string        `yaml:"gemini_api_key"`
		GeminiModel   string        `yaml:"gemini_model" default:"gemini-2.5-flash-lite"`
		OpenAIAPIKey  string        `yaml:"openai_api_key"`
		OpenAIModel   string        `yaml:"openai_model" default:"gpt-4o-mini"`
		OpenAIBaseURL string        `yaml:"openai_base_url"`
	} `yaml:"ai"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic" default:"portfolio.trades"`
	} `yaml:"kafka"`
}

// Default returns a configuration with only default values applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads a YAML file on top of the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, overrides it with environment
// variables and validates the result.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		c.AlphaVantage.APIKey = v
	}
	if v := getenv("GEMINI_API_KEY"); v != "" {
		c.AI.GeminiAPIKey = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		c.AI.OpenAIAPIKey = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("INFLUXDB_URL"); v != "" {
		c.InfluxDB.URL = v
	}
	if v := getenv("INFLUXDB_TOKEN"); v != "" {
		c.InfluxDB.Token = v
	}
	if v := getenv("PRICE_CSV_PATH"); v != "" {
		c.Pricing.CSVPath = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got '%s'", c.Log.Level)
	}
	if c.Ledger.InitialBalance < 0 {
		return fmt.Errorf("ledger.initial_balance cannot be negative")
	}
	if c.Pricing.QuoteTimeout <= 0 || c.Pricing.HistoryTimeout <= 0 {
		return fmt.Errorf("pricing timeouts must be positive")
	}
	if c.Finnhub.RateLimit <= 0 || c.AlphaVantage.RatePerMinute <= 0 {
		return fmt.Errorf("provider rate limits must be positive")
	}
	if strings.TrimSpace(c.Pricing.Benchmark) == "" {
		return fmt.Errorf("pricing.benchmark is required")
	}
	if c.InfluxDB.URL != "" && c.InfluxDB.Bucket == "" {
		return fmt.Errorf("influxdb.bucket is required when influxdb.url is set")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
