package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
callexport:
  system:
    logging:
      level: DEBUG
  source:
    base_url: https://portal.example.com/rest
    user_id: "17"
    token: secret-token
    page_size: 25
  transcription:
    endpoint: https://stt.example.com/v1/audio/transcriptions
    rate_per_minute: 2.40
    currency: RUB
  worker:
    concurrency: 4
  database:
    metadata:
      type: sqlite
      database: ":memory:"
`

func TestLoadConfig_YAMLOverridesDefaults(t *testing.T) {
	cfg, err := LoadConfig("", EmbeddedConfig(testYAML))
	require.NoError(t, err)

	ce := cfg.CallExport
	assert.Equal(t, "DEBUG", ce.System.Logging.Level)
	assert.Equal(t, "https://portal.example.com/rest", ce.Source.BaseURL)
	assert.Equal(t, 25, ce.Source.PageSize)
	assert.Equal(t, 4, ce.Worker.Concurrency)
	assert.Equal(t, 2.40, ce.Transcription.RatePerMinute)

	// defaults survive where the document is silent
	assert.Equal(t, "UTC", ce.System.Timezone)
	assert.Equal(t, []int{5, 15, 30, 60, 120}, ce.Source.Retry.BackoffSeconds)
	assert.Equal(t, []int{10, 30, 60}, ce.Transcription.Retry.BackoffSeconds)
	assert.Equal(t, 900, ce.Transcription.SegmentLimitSeconds)
	assert.Equal(t, 72, ce.Ledger.IdempotencyTTLHours)
	assert.Equal(t, "local", ce.Storage.Backend)
	assert.Contains(t, ce.DatabaseConfigs, "metadata")
}

func TestLoadConfig_EnvOverridesYAML(t *testing.T) {
	t.Setenv("CALLEXPORT_WORKER_CONCURRENCY", "2")
	t.Setenv("CALLEXPORT_SOURCE_TOKEN", "env-token")
	t.Setenv("CALLEXPORT_REPORT_RENDER_XLSX", "true")

	cfg, err := LoadConfig("", EmbeddedConfig(testYAML))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.CallExport.Worker.Concurrency)
	assert.Equal(t, "env-token", cfg.CallExport.Source.Token)
	assert.True(t, cfg.CallExport.Report.RenderXLSX)
}

func TestLoadConfig_RejectsOversizedPage(t *testing.T) {
	_, err := LoadConfig("", EmbeddedConfig(`
callexport:
  source:
    page_size: 200
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_size")
}

func TestLoadConfig_RejectsMismatchedRetrySchedule(t *testing.T) {
	_, err := LoadConfig("", EmbeddedConfig(`
callexport:
  source:
    retry:
      max_attempts: 3
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff_seconds")
}

func TestLoadConfig_RejectsUnknownStorageBackend(t *testing.T) {
	_, err := LoadConfig("", EmbeddedConfig(`
callexport:
  storage:
    backend: s3
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}
