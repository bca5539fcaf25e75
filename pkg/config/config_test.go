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

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 5*time.Second, c.Server.RequestTimeout)
	assert.Equal(t, "latest", c.Model.Version)
	assert.Equal(t, "synthetic", c.Training.Source)
	assert.Equal(t, 2000, c.Training.Samples)
	assert.Equal(t, uint64(42), c.Training.Seed)
	assert.Equal(t, 100, c.Training.Trees)
	assert.Equal(t, 10, c.Training.MaxDepth)
	assert.Equal(t, 5, c.Training.MinSamplesSplit)
	assert.InDelta(t, 0.2, c.Training.TestFraction, 1e-12)
	assert.Equal(t, 100, c.Prediction.MaxBatchSize)
	assert.Equal(t, []string{"log"}, c.Audit.Sinks)
	assert.Equal(t, []string{"localhost:9000"}, c.ClickHouse.Addrs)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  request_timeout: 250ms
model:
  dir: /var/lib/stockrisk/models
  version: 20250101T000000Z
prediction:
  max_batch_size: 10
audit:
  sinks: [log, sqlite]
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 250*time.Millisecond, c.Server.RequestTimeout)
	assert.Equal(t, "/var/lib/stockrisk/models", c.Model.Dir)
	assert.Equal(t, "20250101T000000Z", c.Model.Version)
	assert.Equal(t, 10, c.Prediction.MaxBatchSize)
	assert.Equal(t, []string{"log", "sqlite"}, c.Audit.Sinks)
	// untouched sections keep defaults
	assert.Equal(t, 8, c.Prediction.BatchWorkers)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("MODEL_DIR", "/tmp/models")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("AUDIT_SINKS", "log,kafka")
	t.Setenv("REQUEST_TIMEOUT", "2s")

	c, err := LoadWithEnv("")
	require.NoError(t, err)

	assert.Equal(t, 7070, c.Server.Port)
	assert.Equal(t, "/tmp/models", c.Model.Dir)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, []string{"log", "kafka"}, c.Audit.Sinks)
	assert.Equal(t, 2*time.Second, c.Server.RequestTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad version", "model:\n  version: v1\n", "model.version"},
		{"unknown source", "training:\n  source: yahoo\n", "training.source"},
		{"csv without path", "training:\n  source: csv\n", "training.csv_path"},
		{"unknown sink", "audit:\n  sinks: [stdout]\n", "unknown sink"},
		{"kafka sink without brokers", "audit:\n  sinks: [kafka]\n", "kafka.brokers"},
		{"queue without redis", "queue:\n  enabled: true\n", "redis.enabled"},
		{"s3 without bucket", "s3:\n  enabled: true\n", "s3.bucket"},
		{"test fraction out of range", "training:\n  test_fraction: 1.5\n", "test_fraction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
