package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docmgr/docstore/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "docstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadWithEnv("", env(map[string]string{"DOCSTORE_TABLE": "documents"}))

	require.NoError(t, err)
	assert.Equal(t, config.BackendDynamoDB, cfg.Backend)
	assert.Equal(t, "documents", cfg.DynamoDB.Table)
	assert.Equal(t, 5, cfg.DynamoDB.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Lock.AcquireTimeout)
	assert.Equal(t, 30*time.Second, cfg.Lock.Lease)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Breaker.Enabled)
	assert.Equal(t, uint32(10), cfg.Breaker.MinRequests)
}

func TestLoad_FileThenEnv(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
backend: postgres
site: tenant1
strictDates: true
log:
  level: debug
  format: console
postgres:
  host: db.internal
  port: 5433
  database: docs
  sslMode: require
lock:
  acquireTimeout: 2s
  lease: 1m
`)

	cfg, err := config.LoadWithEnv(path, env(map[string]string{
		"DOCSTORE_POSTGRES_PORT":     "6432",
		"DOCSTORE_POSTGRES_PASSWORD": "secret",
		"DOCSTORE_CIRCUIT_BREAKER":   "true",
	}))

	require.NoError(t, err)
	assert.Equal(t, config.BackendPostgres, cfg.Backend)
	assert.Equal(t, "tenant1", cfg.Site)
	assert.True(t, cfg.StrictDates)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 6432, cfg.Postgres.Port)
	assert.Equal(t, "secret", cfg.Postgres.Password)
	assert.Equal(t, "items", cfg.Postgres.Table)
	assert.Equal(t, 2*time.Second, cfg.Lock.AcquireTimeout)
	assert.Equal(t, time.Minute, cfg.Lock.Lease)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Breaker.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Breaker.Timeout)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "unknown backend", env: map[string]string{"DOCSTORE_BACKEND": "mongo"}},
		{name: "missing table", env: map[string]string{}},
		{name: "site with delimiter", env: map[string]string{"DOCSTORE_BACKEND": "memory", "DOCSTORE_SITE": "a#b"}},
		{name: "bad port", env: map[string]string{"DOCSTORE_BACKEND": "memory", "DOCSTORE_POSTGRES_PORT": "http"}},
		{name: "bad strict dates", env: map[string]string{"DOCSTORE_BACKEND": "memory", "DOCSTORE_STRICT_DATES": "sometimes"}},
		{name: "bad log level", env: map[string]string{"DOCSTORE_BACKEND": "memory", "DOCSTORE_LOG_LEVEL": "loud"}},
		{name: "postgres without database", env: map[string]string{"DOCSTORE_BACKEND": "postgres"}},
		{name: "unknown field", file: "backend: memory\ncolour: blue\n"},
		{name: "zero lease", file: "backend: memory\nlock:\n  lease: 0s\n"},
		{name: "breaker ratio above one", file: "backend: memory\ncircuitBreaker:\n  failureRatio: 1.5\n"},
		{name: "bad circuit breaker flag", env: map[string]string{"DOCSTORE_BACKEND": "memory", "DOCSTORE_CIRCUIT_BREAKER": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}

			_, err := config.LoadWithEnv(path, env(tt.env))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	require.Error(t, err)
}

func TestLog_NewLogger(t *testing.T) {
	t.Parallel()

	logger, err := config.Log{Level: "debug", Format: "console"}.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = config.Log{Level: "loud", Format: "json"}.NewLogger()
	require.Error(t, err)
}
