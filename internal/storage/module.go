// Package storage provides the Fx module for the storage backend.
package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/support/exception"
)

// NewBackend selects and constructs the storage backend named in the
// configuration.
func NewBackend(lc fx.Lifecycle, cfg *config.Config) (Backend, error) {
	sc := cfg.CallExport.Storage

	var backend Backend
	var err error
	switch sc.Backend {
	case "local":
		backend, err = NewLocalBackend(sc.Local.BasePath)
	case "gcs":
		backend, err = NewGCSBackend(context.Background(), sc.GCS.Bucket, sc.GCS.Prefix, sc.GCS.CredentialsFile)
	default:
		return nil, exception.NewExportErrorf(stageName, exception.KindFatal, "unknown storage backend %q", sc.Backend)
	}
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return backend.Close()
		},
	})
	return backend, nil
}

// NewRetentionCleaner constructs the retention cleaner over the configured backend.
func NewRetentionCleaner(backend Backend, cfg *config.Config) *Cleaner {
	return NewCleaner(backend, cfg.CallExport.Storage.Retention)
}

// Module provides the storage backend and retention cleaner to Fx.
var Module = fx.Options(
	fx.Provide(NewBackend),
	fx.Provide(NewRetentionCleaner),
)
