package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSampleConfig(t *testing.T) {
	c, err := Load("../../config/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, c.Cache.TTL.Quote)
	assert.Equal(t, 24*time.Hour, c.Cache.TTL.History)
	assert.Equal(t, []string{"finnhub", "alpaca", "alphavantage"}, c.Gateway.Priority.Quote)
	require.NotNil(t, c.Optimizer.Shrinkage)
	assert.InDelta(t, 0.10, *c.Optimizer.Shrinkage, 1e-12)
	assert.InDelta(t, 0.20, *c.Optimizer.SectorRelax, 1e-12)
	assert.InDelta(t, 0.05, c.Drift.Threshold, 1e-12)
	assert.Len(t, c.Signals.Models, 2)
	assert.Equal(t, "memory", c.Storage.Series)
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "momentum", c.Signals.DefaultModel)
	assert.Equal(t, 3, c.Gateway.FailureThreshold)
	assert.Equal(t, 10*time.Second, c.Providers.Finnhub.Timeout)
	assert.Equal(t, "drift.evaluate", c.Kafka.Topics.Trigger)
	require.NotNil(t, c.Optimizer.Shrinkage)
	assert.InDelta(t, 0.10, *c.Optimizer.Shrinkage, 1e-12)
	assert.InDelta(t, 0.02, *c.Optimizer.RiskFreeRate, 1e-12)
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	c, err := Load(writeConfig(t, `environment: test
optimizer:
  shrinkage: 0
  sector_relax: 0
  risk_free_rate: 0
`))
	require.NoError(t, err)

	require.NotNil(t, c.Optimizer.Shrinkage)
	assert.Equal(t, 0.0, *c.Optimizer.Shrinkage)
	assert.Equal(t, 0.0, *c.Optimizer.SectorRelax)
	assert.Equal(t, 0.0, *c.Optimizer.RiskFreeRate)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		msg  string
	}{
		{"cash reserve", "environment: test\norchestrator:\n  default_cash_reserve: 1\n", "default_cash_reserve"},
		{"shrinkage", "environment: test\noptimizer:\n  shrinkage: 1.5\n", "shrinkage"},
		{"sector relax", "environment: test\noptimizer:\n  sector_relax: 2\n", "sector_relax"},
		{"negative shrinkage", "environment: test\noptimizer:\n  shrinkage: -0.1\n", "shrinkage"},
		{"priority", "environment: test\ngateway:\n  priority:\n    quote: [finnhub, yahoo]\n", "unknown provider"},
		{"series backend", "environment: test\nstorage:\n  series: postgres\n", "storage.series"},
		{"redis portfolios", "environment: test\nstorage:\n  portfolios: redis\n", "requires redis.enabled"},
		{"remote model url", "environment: test\nsignals:\n  default_model: lstm\n  models:\n    - id: lstm\n      type: remote\n", "url is required"},
		{"default model", "environment: test\nsignals:\n  default_model: missing\n", "default_model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("FINNHUB_API_KEY", "fh-key")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DRIFT_THRESHOLD", "0.08")

	c, err := LoadWithEnv(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)
	assert.Equal(t, "fh-key", c.Providers.Finnhub.APIKey)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.InDelta(t, 0.08, c.Drift.Threshold, 1e-12)

	t.Setenv("DRIFT_THRESHOLD", "high")
	_, err = LoadWithEnv(writeConfig(t, "environment: test\n"))
	assert.ErrorContains(t, err, "DRIFT_THRESHOLD")
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}
