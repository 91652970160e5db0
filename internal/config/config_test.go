package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Matching.CandidateLimit)
	assert.Equal(t, 0.1, cfg.Matching.SearchRadiusKm)
	assert.False(t, cfg.Matching.AutoApplyEnabled)
	assert.Equal(t, 15*time.Minute, cfg.Patterns.CacheTTL)
}

func TestLoadFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("AUTO_APPLY_ENABLED", "true")
	t.Setenv("PATTERN_CACHE_TTL", "2m")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, "0.0.0.0:9090", cfg.HTTP.Addr())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Matching.AutoApplyEnabled)
	assert.Equal(t, 2*time.Minute, cfg.Patterns.CacheTTL)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_NAME=from_file\nDB_USER=file_user\n"), 0o600))
	t.Setenv("DB_USER", "env_user")
	t.Cleanup(func() { os.Unsetenv("DB_NAME") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from_file", cfg.DB.Name)
	assert.Equal(t, "env_user", cfg.DB.User)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "matcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte("candidate_limit: 25\nweights_file: /etc/weights.yaml\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Matching.CandidateLimit)
	assert.Equal(t, "/etc/weights.yaml", cfg.Matching.WeightsFile)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"zero port", "HTTP_PORT", "0"},
		{"zero candidate limit", "CANDIDATE_LIMIT", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir on Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
