// Package transcribe provides the Fx module for the transcription adapter.
package transcribe

import (
	"go.uber.org/fx"

	"github.com/mastermobile/callexport/internal/config"
)

// NewProviderFromConfig constructs the Whisper-compatible HTTP provider.
func NewProviderFromConfig(cfg *config.Config) Provider {
	return NewWhisperProvider(cfg.CallExport.Transcription)
}

// NewAdapterFromConfig constructs the transcription adapter over the provider.
func NewAdapterFromConfig(provider Provider, cfg *config.Config) *Adapter {
	return NewAdapter(provider, cfg.CallExport.Transcription)
}

// Module provides the transcription components to Fx.
var Module = fx.Options(
	fx.Provide(NewProviderFromConfig),
	fx.Provide(NewAdapterFromConfig),
)
