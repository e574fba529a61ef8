package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"go.uber.org/fx"

	"github.com/mastermobile/callexport/internal/support/exception"
	"github.com/mastermobile/callexport/internal/support/logger"
)

// Package config provides utilities for loading application configuration
// from the embedded YAML file and environment variables.

const stageName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// loadConfig loads configuration from the embedded YAML and environment variables.
// Defaults come from NewConfig; the YAML document overrides fields it names;
// environment variables (CALLEXPORT_*) override both.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	// Unmarshal over the defaults; only fields present in the document are overwritten.
	expanded := []byte(os.ExpandEnv(string(embeddedConfig)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.NewExportError(stageName, "failed to unmarshal embedded config", err, exception.KindFatal)
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewExportError(stageName, "failed to load config from environment variables", err, exception.KindFatal)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It also sets the global logger level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.CallExport.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.CallExport.System.Logging.Level)

	return cfg, nil
}

// LoadConfig loads configuration from the embedded YAML and environment variables.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// validate checks cross-field constraints that YAML parsing cannot express.
func validate(cfg *Config) error {
	ce := &cfg.CallExport
	if ce.Source.PageSize <= 0 || ce.Source.PageSize > 50 {
		return exception.NewExportErrorf(stageName, exception.KindFatal,
			"source.page_size must be in 1..50, got %d", ce.Source.PageSize)
	}
	if ce.Source.Retry.MaxAttempts != len(ce.Source.Retry.BackoffSeconds) {
		return exception.NewExportErrorf(stageName, exception.KindFatal,
			"source.retry: max_attempts (%d) must match backoff_seconds length (%d)",
			ce.Source.Retry.MaxAttempts, len(ce.Source.Retry.BackoffSeconds))
	}
	if ce.Transcription.Retry.MaxAttempts != len(ce.Transcription.Retry.BackoffSeconds) {
		return exception.NewExportErrorf(stageName, exception.KindFatal,
			"transcription.retry: max_attempts (%d) must match backoff_seconds length (%d)",
			ce.Transcription.Retry.MaxAttempts, len(ce.Transcription.Retry.BackoffSeconds))
	}
	if ce.Transcription.SegmentLimitSeconds <= 0 {
		return exception.NewExportErrorf(stageName, exception.KindFatal,
			"transcription.segment_limit_seconds must be positive, got %d", ce.Transcription.SegmentLimitSeconds)
	}
	if ce.Worker.Concurrency <= 0 {
		return exception.NewExportErrorf(stageName, exception.KindFatal,
			"worker.concurrency must be positive, got %d", ce.Worker.Concurrency)
	}
	switch ce.Storage.Backend {
	case "local", "gcs":
	default:
		return exception.NewExportErrorf(stageName, exception.KindFatal,
			"storage.backend must be 'local' or 'gcs', got %q", ce.Storage.Backend)
	}
	return nil
}

// loadStructFromEnv recursively loads configuration values into a struct from
// environment variables. It uses the "yaml" tag to build the variable name,
// e.g. CALLEXPORT_SOURCE_RATE_LIMIT_RPS overrides Source.RateLimitRPS.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, and bool types.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
