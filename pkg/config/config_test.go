package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Ariadne/pkg/engine"
	"github.com/wehubfusion/Ariadne/pkg/storage/storagetest"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ariadne.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, engine.DefaultMaxCascadeDepth, cfg.Engine.MaxCascadeDepth)
	assert.Equal(t, engine.DefaultMaxSteps, cfg.Engine.MaxSteps)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.False(t, cfg.NATS.Enabled())
	assert.GreaterOrEqual(t, cfg.NATS.Workers, 1)
	assert.Equal(t, 5*time.Second, cfg.Script.Timeout)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
engine:
  max_steps: 500
storage:
  backend: bolt
  path: /var/lib/ariadne/state.db
nats:
  url: nats://nats:4222
  workers: 2
script:
  timeout: 250ms
tracing:
  enabled: true
  service_name: approvals
  otlp_endpoint: collector:4318
  sample_ratio: 0.5
`)
	t.Setenv("ARIADNE_MAX_STEPS", "900")
	t.Setenv("ARIADNE_NATS_URL", "nats://override:4222")
	t.Setenv("ARIADNE_TRACING_ENABLED", "not-a-bool")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 900, cfg.Engine.MaxSteps)
	assert.Equal(t, engine.DefaultMaxCascadeDepth, cfg.Engine.MaxCascadeDepth)
	assert.Equal(t, BackendBolt, cfg.Storage.Backend)
	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
	assert.Equal(t, 2, cfg.NATS.Workers)
	assert.Equal(t, "ARIADNE_EVENTS", cfg.NATS.Stream)
	assert.Equal(t, 250*time.Millisecond, cfg.Script.Timeout)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "approvals", cfg.Tracing.ServiceName)
	assert.Equal(t, "collector:4318", cfg.Tracing.OTLPEndpoint)
	assert.Equal(t, 0.5, cfg.Tracing.SampleRatio)
}

func TestLoadReportsEveryProblem(t *testing.T) {
	path := writeFile(t, `
log:
  level: loud
storage:
  backend: sqlite
nats:
  url: nats://nats:4222
  prefix: ariadne.events
  inbound_subject: ariadne.events.>
script:
  security_level: none
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 4)
	assert.Contains(t, err.Error(), "storage.path")
	assert.Contains(t, err.Error(), "overlaps")
}

func TestLoadMissingOrBrokenFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "engine: [not, a, map]"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	cfg.Log.Level = "chatty"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}

func TestStorageOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  StorageConfig
	}{
		{"memory", StorageConfig{Backend: BackendMemory}},
		{"bolt", StorageConfig{Backend: BackendBolt, Path: filepath.Join(dir, "state.db")}},
		{"sqlite", StorageConfig{Backend: BackendSQLite, Path: filepath.Join(dir, "state.sqlite")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, closeFn, err := tt.cfg.Open(context.Background(), zaptest.NewLogger(t))
			require.NoError(t, err)
			defer func() { assert.NoError(t, closeFn()) }()

			storagetest.Run(t, st)
		})
	}
}

func TestStorageOpenRejectsBadConfig(t *testing.T) {
	for _, cfg := range []StorageConfig{
		{Backend: "etcd"},
		{Backend: BackendBolt},
		{Backend: BackendAzure, Azure: AzureConfig{Container: "states"}},
	} {
		_, _, err := cfg.Open(context.Background(), nil)
		assert.Error(t, err, cfg.Backend)
	}
}
