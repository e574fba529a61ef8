package config

// Package config provides structures and utilities for managing application configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// SourceRetryConfig holds the retry schedule for the telephony source client.
type SourceRetryConfig struct {
	MaxAttempts    int   `yaml:"max_attempts"`
	BackoffSeconds []int `yaml:"backoff_seconds"`
}

// SourceConfig holds settings for the telephony source API.
type SourceConfig struct {
	// BaseURL is the REST endpoint root, e.g. "https://portal.example.com/rest".
	BaseURL string `yaml:"base_url"`
	// UserID and Token authenticate webhook-style requests.
	UserID string `yaml:"user_id"`
	Token  string `yaml:"token"`
	// PageSize is the listing page size, capped at 50 by the provider.
	PageSize int `yaml:"page_size"`
	// RateLimitRPS is the normal token-bucket budget in requests per second.
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	// LowRateRPS is the reduced budget applied during sustained 429 storms.
	LowRateRPS float64 `yaml:"low_rate_rps"`
	// LowRateWindowSeconds is the cool-down window spent in low-rate mode.
	LowRateWindowSeconds  int               `yaml:"low_rate_window_seconds"`
	RequestTimeoutSeconds int               `yaml:"request_timeout_seconds"`
	Retry                 SourceRetryConfig `yaml:"retry"`
}

// TranscriptionRetryConfig holds the retry schedule for the STT provider.
type TranscriptionRetryConfig struct {
	MaxAttempts    int   `yaml:"max_attempts"`
	BackoffSeconds []int `yaml:"backoff_seconds"`
}

// TranscriptionConfig holds settings for the speech-to-text provider.
type TranscriptionConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	// SegmentLimitSeconds is the per-request audio ceiling; longer calls are segmented.
	SegmentLimitSeconds int `yaml:"segment_limit_seconds"`
	// MaxUploadBytes is the per-request payload ceiling.
	MaxUploadBytes int `yaml:"max_upload_bytes"`
	// RatePerMinute is the billing rate; cost is ceil(minutes) * rate per call.
	RatePerMinute         float64                  `yaml:"rate_per_minute"`
	Currency              string                   `yaml:"currency"`
	RequestTimeoutSeconds int                      `yaml:"request_timeout_seconds"`
	Retry                 TranscriptionRetryConfig `yaml:"retry"`
}

// LocalStorageConfig holds settings for the local filesystem backend.
type LocalStorageConfig struct {
	BasePath string `yaml:"base_path"`
}

// GCSStorageConfig holds settings for the Google Cloud Storage backend.
type GCSStorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// RetentionConfig holds per-category artifact retention in days.
type RetentionConfig struct {
	RawDays         int `yaml:"raw_days"`
	TranscriptsDays int `yaml:"transcripts_days"`
	RegistryDays    int `yaml:"registry_days"`
	ReportsDays     int `yaml:"reports_days"`
	LogsDays        int `yaml:"logs_days"`
}

// StorageConfig holds settings for artifact storage.
type StorageConfig struct {
	// Backend selects the storage adapter: "local" or "gcs".
	Backend   string             `yaml:"backend"`
	Local     LocalStorageConfig `yaml:"local"`
	GCS       GCSStorageConfig   `yaml:"gcs"`
	Retention RetentionConfig    `yaml:"retention"`
}

// WorkerConfig holds the call-record worker pool settings.
type WorkerConfig struct {
	// Concurrency bounds how many call records are processed in flight.
	Concurrency int `yaml:"concurrency"`
	// QueueSize bounds the channel between the sequential lister and the pool.
	QueueSize int `yaml:"queue_size"`
}

// LedgerConfig holds settings for the run ledger metadata store.
type LedgerConfig struct {
	// DatabaseRef is the key into the database connection map.
	DatabaseRef string `yaml:"database_ref"`
	// IdempotencyTTLHours bounds how long idempotency records replay.
	IdempotencyTTLHours int `yaml:"idempotency_ttl_hours"`
}

// ReportConfig holds reporter settings.
type ReportConfig struct {
	// ForecastCost is the expected run cost; deviations beyond the threshold are flagged.
	ForecastCost           float64 `yaml:"forecast_cost"`
	CostDeviationThreshold float64 `yaml:"cost_deviation_threshold"`
	// RenderXLSX additionally emits the registry as a spreadsheet.
	RenderXLSX bool `yaml:"render_xlsx"`
	// RenderParquet additionally emits the registry in Parquet format.
	RenderParquet bool `yaml:"render_parquet"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// ListenAddr is the address of the /metrics endpoint served while a run
	// is active. Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// QAConfig holds QA sampler settings.
type QAConfig struct {
	MinSampleSize int `yaml:"min_sample_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC").
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// ExportConfig holds all configuration under the "callexport" top-level key.
type ExportConfig struct {
	System        SystemConfig        `yaml:"system"`
	Source        SourceConfig        `yaml:"source"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Storage       StorageConfig       `yaml:"storage"`
	Worker        WorkerConfig        `yaml:"worker"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Report        ReportConfig        `yaml:"report"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	QA            QAConfig            `yaml:"qa"`
	// DatabaseConfigs holds named database connection settings, decoded lazily
	// by the ledger's connection provider.
	DatabaseConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	CallExport ExportConfig `yaml:"callexport"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	cfg := &Config{
		CallExport: ExportConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Source: SourceConfig{
				PageSize:              50,
				RateLimitRPS:          2,
				LowRateRPS:            0.5,
				LowRateWindowSeconds:  300,
				RequestTimeoutSeconds: 10,
				Retry: SourceRetryConfig{
					MaxAttempts:    5,
					BackoffSeconds: []int{5, 15, 30, 60, 120},
				},
			},
			Transcription: TranscriptionConfig{
				Model:               "whisper-1",
				SegmentLimitSeconds: 900,
				MaxUploadBytes:      25 * 1024 * 1024,
				RatePerMinute:       1.50,
				Currency:            "RUB",
				Retry: TranscriptionRetryConfig{
					MaxAttempts:    3,
					BackoffSeconds: []int{10, 30, 60},
				},
			},
			Storage: StorageConfig{
				Backend: "local",
				Local:   LocalStorageConfig{BasePath: "./exports"},
				Retention: RetentionConfig{
					RawDays:         90,
					TranscriptsDays: 180,
					RegistryDays:    365,
					ReportsDays:     365,
					LogsDays:        90,
				},
			},
			Worker: WorkerConfig{
				Concurrency: 10,
				QueueSize:   100,
			},
			Ledger: LedgerConfig{
				DatabaseRef:         "metadata",
				IdempotencyTTLHours: 72,
			},
			Report: ReportConfig{
				CostDeviationThreshold: 0.20,
			},
			QA: QAConfig{
				MinSampleSize: 50,
			},
		},
	}

	cfg.CallExport.DatabaseConfigs = map[string]interface{}{}
	return cfg
}
