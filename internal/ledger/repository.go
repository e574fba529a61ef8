package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/support/exception"
	"github.com/mastermobile/callexport/internal/support/logger"
)

// Repository is the crash-safe run ledger. Every state transition of a run
// and of its call records goes through here so that an interrupted run can
// be resumed from the last durable state.
type Repository interface {
	// CreateRun resolves an idempotency key to an existing run or creates a
	// new one. The returned bool reports whether an existing run was reused.
	CreateRun(ctx context.Context, period model.Period, actor string, opts model.RunOptions, key string) (*model.Run, bool, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	// UpdateRun persists run mutations with version-based optimistic locking.
	UpdateRun(ctx context.Context, run *model.Run) error

	// UpsertCallRecord registers a discovered call. When a record for the
	// same (run, call, recording) triple already exists it is returned as
	// is; completed records are never reopened by discovery.
	UpsertCallRecord(ctx context.Context, rec *model.CallRecord) (*model.CallRecord, bool, error)
	// SaveCallRecord persists intermediate record mutations with
	// version-based optimistic locking.
	SaveCallRecord(ctx context.Context, rec *model.CallRecord) error
	// ApplyTerminal writes the record's terminal state and increments the
	// owning run's aggregate counters in a single transaction.
	ApplyTerminal(ctx context.Context, rec *model.CallRecord) error
	// ResetRecord moves an errored record back to pending for a manual retry.
	ResetRecord(ctx context.Context, runID, callID, recordingID string) (*model.CallRecord, error)
	// ReopenRecord returns a completed record whose stored artifacts have gone
	// missing back to pending, reversing its aggregate counter contribution.
	ReopenRecord(ctx context.Context, rec *model.CallRecord) error

	FindCallRecord(ctx context.Context, runID, callID, recordingID string) (*model.CallRecord, error)
	ListRecords(ctx context.Context, runID string) ([]*model.CallRecord, error)
	ListByStatus(ctx context.Context, runID string, statuses ...model.RecordStatus) ([]*model.CallRecord, error)
	// ListIncomplete returns the records of a run that still need work.
	ListIncomplete(ctx context.Context, runID string) ([]*model.CallRecord, error)

	// PurgeExpiredKeys removes idempotency keys past their TTL.
	PurgeExpiredKeys(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

type gormRepository struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewRepository creates a gorm-backed Repository. idempotencyTTL bounds how
// long a key keeps resolving to its original run.
func NewRepository(db *gorm.DB, idempotencyTTL time.Duration) Repository {
	return &gormRepository{db: db, ttl: idempotencyTTL}
}

func (r *gormRepository) CreateRun(ctx context.Context, period model.Period, actor string, opts model.RunOptions, key string) (*model.Run, bool, error) {
	paramsHash, err := model.RunKey(period, actor, opts)
	if err != nil {
		return nil, false, err
	}
	if key == "" {
		key = paramsHash
	}

	var entry idempotencyEntity
	lookupErr := r.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error
	switch {
	case lookupErr == nil:
		if entry.ExpiresAt.After(time.Now()) {
			if entry.ParamsHash != paramsHash {
				return nil, false, exception.NewExportError("ledger",
					"idempotency key reused with different run parameters", nil,
					exception.KindFatal).WithCode("IDEMPOTENCY_CONFLICT")
			}
			run, err := r.GetRun(ctx, entry.RunID)
			if err != nil {
				return nil, false, err
			}
			logger.Infof("Idempotency key resolved to existing run %s (status: %s)", run.ID, run.Status)
			return run, true, nil
		}
		// Expired key, drop it and fall through to create a fresh run.
		if err := r.db.WithContext(ctx).Delete(&idempotencyEntity{}, "key = ?", key).Error; err != nil {
			return nil, false, wrapDBError("delete expired idempotency key", err)
		}
	case errors.Is(lookupErr, gorm.ErrRecordNotFound):
		// No prior run for this key.
	default:
		return nil, false, wrapDBError("lookup idempotency key", lookupErr)
	}

	run := model.NewRun(period, actor, opts)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(fromRun(run)).Error; err != nil {
			return err
		}
		return tx.Create(&idempotencyEntity{
			Key:        key,
			ParamsHash: paramsHash,
			RunID:      run.ID,
			ExpiresAt:  time.Now().Add(r.ttl),
			CreateTime: time.Now(),
		}).Error
	})
	if err != nil {
		// A concurrent creator may have won the race on the key.
		var existing idempotencyEntity
		if r.db.WithContext(ctx).Where("key = ?", key).First(&existing).Error == nil && existing.ParamsHash == paramsHash {
			run, getErr := r.GetRun(ctx, existing.RunID)
			if getErr != nil {
				return nil, false, getErr
			}
			return run, true, nil
		}
		return nil, false, wrapDBError("create run", err)
	}
	logger.Infof("Created run %s for period %s (actor: %s)", run.ID, period.Label(), actor)
	return run, false, nil
}

func (r *gormRepository) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var entity runEntity
	err := r.db.WithContext(ctx).Where("id = ?", runID).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.NewExportError("ledger", "run not found: "+runID, err,
			exception.KindNotFound).WithCode("RUN_NOT_FOUND")
	}
	if err != nil {
		return nil, wrapDBError("get run", err)
	}
	return entity.toDomain(), nil
}

func (r *gormRepository) UpdateRun(ctx context.Context, run *model.Run) error {
	originalVersion := run.Version
	run.Version++
	run.LastUpdated = time.Now()

	// Select("*") so zero-valued fields (cleared errors, reset counters)
	// are written too; struct Updates would skip them.
	result := r.db.WithContext(ctx).Model(&runEntity{}).
		Where("id = ? AND version = ?", run.ID, originalVersion).
		Select("*").Omit("id", "create_time").
		Updates(fromRun(run))
	if result.Error != nil {
		run.Version = originalVersion
		return wrapDBError("update run", result.Error)
	}
	if result.RowsAffected == 0 {
		run.Version = originalVersion
		return exception.NewExportError("ledger",
			"optimistic locking failure updating run "+run.ID, nil,
			exception.KindTransient).WithCode("OPTIMISTIC_LOCK")
	}
	return nil
}

func (r *gormRepository) UpsertCallRecord(ctx context.Context, rec *model.CallRecord) (*model.CallRecord, bool, error) {
	existing, err := r.FindCallRecord(ctx, rec.RunID, rec.CallID, rec.RecordingID)
	if err == nil {
		return existing, false, nil
	}
	if !exception.IsNotFound(err) {
		return nil, false, err
	}

	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		create := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(fromCallRecord(rec))
		if create.Error != nil {
			return create.Error
		}
		if create.RowsAffected == 0 {
			// Lost the race to a concurrent worker.
			return gorm.ErrDuplicatedKey
		}
		return tx.Model(&runEntity{}).Where("id = ?", rec.RunID).
			Updates(map[string]interface{}{
				"total_calls":  gorm.Expr("total_calls + 1"),
				"last_updated": time.Now(),
			}).Error
	})
	if errors.Is(txErr, gorm.ErrDuplicatedKey) {
		existing, err := r.FindCallRecord(ctx, rec.RunID, rec.CallID, rec.RecordingID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if txErr != nil {
		return nil, false, wrapDBError("upsert call record", txErr)
	}
	return rec, true, nil
}

func (r *gormRepository) SaveCallRecord(ctx context.Context, rec *model.CallRecord) error {
	return r.saveRecord(r.db.WithContext(ctx), rec)
}

func (r *gormRepository) saveRecord(tx *gorm.DB, rec *model.CallRecord) error {
	originalVersion := rec.Version
	rec.Version++
	rec.LastUpdated = time.Now()

	result := tx.Model(&callRecordEntity{}).
		Where("id = ? AND version = ?", rec.ID, originalVersion).
		Select("*").Omit("id", "create_time").
		Updates(fromCallRecord(rec))
	if result.Error != nil {
		rec.Version = originalVersion
		return wrapDBError("save call record", result.Error)
	}
	if result.RowsAffected == 0 {
		rec.Version = originalVersion
		return exception.NewExportError("ledger",
			"optimistic locking failure updating call record "+rec.ID, nil,
			exception.KindTransient).WithCode("OPTIMISTIC_LOCK")
	}
	return nil
}

func (r *gormRepository) ApplyTerminal(ctx context.Context, rec *model.CallRecord) error {
	if !rec.Status.IsTerminal() {
		return exception.NewExportError("ledger",
			"ApplyTerminal called with non-terminal status: "+string(rec.Status), nil,
			exception.KindFatal)
	}
	updates := map[string]interface{}{"last_updated": time.Now()}
	switch rec.Status {
	case model.RecordStatusCompleted:
		updates["processed_calls"] = gorm.Expr("processed_calls + 1")
		updates["total_duration_sec"] = gorm.Expr("total_duration_sec + ?", rec.DurationSec)
		updates["total_cost"] = gorm.Expr("total_cost + ?", rec.Cost)
		if rec.Currency != "" {
			updates["currency"] = rec.Currency
		}
	case model.RecordStatusSkipped:
		updates["skipped_calls"] = gorm.Expr("skipped_calls + 1")
	case model.RecordStatusError, model.RecordStatusMissingAudio:
		updates["error_calls"] = gorm.Expr("error_calls + 1")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.saveRecord(tx, rec); err != nil {
			return err
		}
		return tx.Model(&runEntity{}).Where("id = ?", rec.RunID).Updates(updates).Error
	})
}

func (r *gormRepository) ResetRecord(ctx context.Context, runID, callID, recordingID string) (*model.CallRecord, error) {
	rec, err := r.FindCallRecord(ctx, runID, callID, recordingID)
	if err != nil {
		return nil, err
	}
	if err := rec.ResetForRetry(); err != nil {
		return nil, err
	}
	// The record leaves its terminal state, so undo its counter contribution.
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.saveRecord(tx, rec); err != nil {
			return err
		}
		return tx.Model(&runEntity{}).Where("id = ?", runID).
			Updates(map[string]interface{}{
				"error_calls":  gorm.Expr("error_calls - 1"),
				"last_updated": time.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("Reset call record %s (call: %s) for retry", rec.ID, callID)
	return rec, nil
}

func (r *gormRepository) ReopenRecord(ctx context.Context, rec *model.CallRecord) error {
	if rec.Status != model.RecordStatusCompleted {
		return exception.NewExportError("ledger",
			"ReopenRecord called with status: "+string(rec.Status), nil,
			exception.KindFatal)
	}
	rec.ResetAttempt()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.saveRecord(tx, rec); err != nil {
			return err
		}
		return tx.Model(&runEntity{}).Where("id = ?", rec.RunID).
			Updates(map[string]interface{}{
				"processed_calls":    gorm.Expr("processed_calls - 1"),
				"total_duration_sec": gorm.Expr("total_duration_sec - ?", rec.DurationSec),
				"total_cost":         gorm.Expr("total_cost - ?", rec.Cost),
				"last_updated":       time.Now(),
			}).Error
	})
	if err != nil {
		return err
	}
	logger.Infof("Reopened call record %s (call: %s), stored artifacts are gone", rec.ID, rec.CallID)
	return nil
}

func (r *gormRepository) FindCallRecord(ctx context.Context, runID, callID, recordingID string) (*model.CallRecord, error) {
	var entity callRecordEntity
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND call_id = ? AND recording_id = ?", runID, callID, recordingID).
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.NewExportError("ledger", "call record not found: "+callID, err,
			exception.KindNotFound).WithCode("RECORD_NOT_FOUND")
	}
	if err != nil {
		return nil, wrapDBError("find call record", err)
	}
	return entity.toDomain(), nil
}

func (r *gormRepository) ListRecords(ctx context.Context, runID string) ([]*model.CallRecord, error) {
	var entities []callRecordEntity
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("call_start_time ASC").
		Find(&entities).Error
	if err != nil {
		return nil, wrapDBError("list call records", err)
	}
	return toDomainList(entities), nil
}

func (r *gormRepository) ListByStatus(ctx context.Context, runID string, statuses ...model.RecordStatus) ([]*model.CallRecord, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	var entities []callRecordEntity
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND status IN ?", runID, values).
		Order("call_start_time ASC").
		Find(&entities).Error
	if err != nil {
		return nil, wrapDBError("list call records by status", err)
	}
	return toDomainList(entities), nil
}

func (r *gormRepository) ListIncomplete(ctx context.Context, runID string) ([]*model.CallRecord, error) {
	return r.ListByStatus(ctx, runID,
		model.RecordStatusPending,
		model.RecordStatusDownloading,
		model.RecordStatusTranscribing,
	)
}

func (r *gormRepository) PurgeExpiredKeys(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&idempotencyEntity{})
	if result.Error != nil {
		return 0, wrapDBError("purge expired idempotency keys", result.Error)
	}
	if result.RowsAffected > 0 {
		logger.Debugf("Purged %d expired idempotency keys", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

func (r *gormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toDomainList(entities []callRecordEntity) []*model.CallRecord {
	records := make([]*model.CallRecord, 0, len(entities))
	for i := range entities {
		records = append(records, entities[i].toDomain())
	}
	return records
}

func wrapDBError(operation string, err error) error {
	return exception.NewExportError("ledger", operation+" failed", err, exception.KindTransient).
		WithCode("LEDGER_FAILURE")
}
