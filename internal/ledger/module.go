package ledger

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/mastermobile/callexport/internal/config"
)

// NewLedgerRepository wires the gorm-backed Repository into the fx graph and
// ties its connection to the application lifecycle.
func NewLedgerRepository(lc fx.Lifecycle, cfg *config.Config) (Repository, error) {
	dbConfig, err := ResolveDatabaseConfig(cfg, cfg.CallExport.Ledger.DatabaseRef)
	if err != nil {
		return nil, err
	}
	db, err := Open(dbConfig)
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(cfg.CallExport.Ledger.IdempotencyTTLHours) * time.Hour
	repo := NewRepository(db, ttl)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return repo.Close()
		},
	})
	return repo, nil
}

var Module = fx.Options(
	fx.Provide(NewLedgerRepository),
)
