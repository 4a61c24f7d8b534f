package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/matching"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "thistle", cfg.AppName)
	assert.Equal(t, 0.8, cfg.MatchThreshold)
	assert.Equal(t, 720*time.Hour, cfg.CanonicalLookback)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)

	grouper := cfg.Grouper()
	assert.Equal(t, matching.PolicyTransitive, grouper.Policy)
	assert.Equal(t, 2, grouper.PrefixLength)
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("GROUPING_POLICY=complete\nAVERAGE_BIDDERS=DE:3.5,PL:6\nKAFKA_BROKERS=k1:9092,k2:9092\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	// godotenv does not override variables that are already set
	t.Setenv("MATCH_THRESHOLD", "0.9")
	t.Cleanup(func() {
		os.Unsetenv("GROUPING_POLICY")
		os.Unsetenv("AVERAGE_BIDDERS")
		os.Unsetenv("KAFKA_BROKERS")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "complete", cfg.GroupingPolicy)
	assert.Equal(t, 0.9, cfg.MatchThreshold)
	assert.Equal(t, map[string]float64{"DE": 3.5, "PL": 6}, cfg.AverageBidders)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Producer().Brokers)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			MatchThreshold:     0.8,
			BucketPrefixLength: 2,
			GroupingPolicy:     "transitive",
			GroupingWorkers:    4,
			AlertLimit:         1,
			AlertWindow:        time.Minute,
			KafkaBrokers:       []string{"localhost:9092"},
			StartupMaxAttempts: 3,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"threshold above one", func(c *Config) { c.MatchThreshold = 1.5 }, "MATCH_THRESHOLD"},
		{"unknown policy", func(c *Config) { c.GroupingPolicy = "fuzzy" }, "GROUPING_POLICY"},
		{"no workers", func(c *Config) { c.GroupingWorkers = 0 }, "GROUPING_WORKERS"},
		{"no alert window", func(c *Config) { c.AlertWindow = 0 }, "ALERT_WINDOW"},
		{"no brokers", func(c *Config) { c.KafkaBrokers = nil }, "KAFKA_BROKERS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
