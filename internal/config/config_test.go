package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 100000.0, c.Ledger.InitialBalance)
	assert.Equal(t, "SPY", c.Pricing.Benchmark)
	assert.True(t, c.Pricing.Synthetic)
	assert.Equal(t, 5*time.Second, c.Pricing.QuoteTimeout)
	assert.Equal(t, "portfolio.trades", c.Kafka.Topic)
	assert.NoError(t, c.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  port: 9090
ledger:
  initial_balance: 5000
pricing:
  synthetic: false
  quote_timeout: 2s
kafka:
  brokers: [a:9092, b:9092]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 5000.0, c.Ledger.InitialBalance)
	assert.False(t, c.Pricing.Synthetic)
	assert.Equal(t, 2*time.Second, c.Pricing.QuoteTimeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
	// Untouched sections keep their defaults.
	assert.Equal(t, 20*time.Second, c.Pricing.HistoryTimeout)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [oops"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":           "7000",
		"DATABASE_URL":   "postgres://localhost/test",
		"KAFKA_BROKERS":  " k1:9092 , ,k2:9092",
		"PRICE_CSV_PATH": "/data/prices.csv",
		"GEMINI_API_KEY": "g-key",
	}
	c := Default()
	require.NoError(t, c.applyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, 7000, c.Server.Port)
	assert.Equal(t, "postgres://localhost/test", c.Database.URL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "/data/prices.csv", c.Pricing.CSVPath)
	assert.Equal(t, "g-key", c.AI.GeminiAPIKey)
	assert.Equal(t, ":7000", c.Addr())
}

func TestApplyEnv_BadPort(t *testing.T) {
	c := Default()
	err := c.applyEnv(func(k string) string {
		if k == "PORT" {
			return "eighty"
		}
		return ""
	})
	assert.Error(t, err)
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("PORT", "8181")
	t.Setenv("FINNHUB_API_KEY", "fh")

	c, err := LoadWithEnv("")
	require.NoError(t, err)
	assert.Equal(t, 8181, c.Server.Port)
	assert.Equal(t, "fh", c.Finnhub.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"negative balance", func(c *Config) { c.Ledger.InitialBalance = -1 }},
		{"quote timeout", func(c *Config) { c.Pricing.QuoteTimeout = 0 }},
		{"benchmark", func(c *Config) { c.Pricing.Benchmark = " " }},
		{"influx bucket", func(c *Config) { c.InfluxDB.URL = "http://influx:8086"; c.InfluxDB.Bucket = "" }},
		{"kafka topic", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.Topic = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
