package ledger

import (
	"time"

	"github.com/mastermobile/callexport/internal/core/model"
)

// runEntity is the persistence representation of a model.Run.
type runEntity struct {
	ID               string            `gorm:"column:id;primaryKey"`
	PeriodFrom       time.Time         `gorm:"column:period_from"`
	PeriodTo         time.Time         `gorm:"column:period_to"`
	Status           string            `gorm:"column:status"`
	StartTime        time.Time         `gorm:"column:start_time"`
	EndTime          *time.Time        `gorm:"column:end_time"`
	Actor            string            `gorm:"column:actor"`
	Options          model.RunOptions  `gorm:"column:options;type:text"`
	TotalCalls       int               `gorm:"column:total_calls"`
	ProcessedCalls   int               `gorm:"column:processed_calls"`
	ErrorCalls       int               `gorm:"column:error_calls"`
	SkippedCalls     int               `gorm:"column:skipped_calls"`
	TotalDurationSec int               `gorm:"column:total_duration_sec"`
	TotalCost        float64           `gorm:"column:total_cost"`
	Currency         string            `gorm:"column:currency"`
	Failures         model.FailureList `gorm:"column:failures;type:text"`
	Version          int               `gorm:"column:version"`
	CreateTime       time.Time         `gorm:"column:create_time"`
	LastUpdated      time.Time         `gorm:"column:last_updated"`
}

func (runEntity) TableName() string { return "call_export_runs" }

// callRecordEntity is the persistence representation of a model.CallRecord.
// A (run_id, call_id, recording_id) triple is unique within the ledger.
type callRecordEntity struct {
	ID             string         `gorm:"column:id;primaryKey"`
	RunID          string         `gorm:"column:run_id;uniqueIndex:idx_call_records_run_call_rec"`
	CallID         string         `gorm:"column:call_id;uniqueIndex:idx_call_records_run_call_rec"`
	RecordingID    string         `gorm:"column:recording_id;uniqueIndex:idx_call_records_run_call_rec"`
	Status         string         `gorm:"column:status"`
	Direction      string         `gorm:"column:direction"`
	EmployeeID     string         `gorm:"column:employee_id"`
	FromNumber     string         `gorm:"column:from_number"`
	ToNumber       string         `gorm:"column:to_number"`
	CallStartTime  time.Time      `gorm:"column:call_start_time"`
	DurationSec    int            `gorm:"column:duration_sec"`
	RecordingURL   string         `gorm:"column:recording_url"`
	StoragePath    string         `gorm:"column:storage_path"`
	TranscriptPath string         `gorm:"column:transcript_path"`
	SummaryPath    string         `gorm:"column:summary_path"`
	TextPreview    string         `gorm:"column:text_preview"`
	Language       string         `gorm:"column:language"`
	Checksum       string         `gorm:"column:checksum"`
	Cost           float64        `gorm:"column:cost"`
	Currency       string         `gorm:"column:currency"`
	RetryCount     int            `gorm:"column:retry_count"`
	ErrorCode      string         `gorm:"column:error_code"`
	ErrorMessage   string         `gorm:"column:error_message"`
	LastAttemptAt  *time.Time     `gorm:"column:last_attempt_at"`
	Tags           model.TagList  `gorm:"column:tags;type:text"`
	Version        int            `gorm:"column:version"`
	CreateTime     time.Time      `gorm:"column:create_time"`
	LastUpdated    time.Time      `gorm:"column:last_updated"`
}

func (callRecordEntity) TableName() string { return "call_records" }

// idempotencyEntity maps a caller-supplied idempotency key to the run it
// created. Keys expire after the configured TTL and are purged lazily.
type idempotencyEntity struct {
	Key        string    `gorm:"column:key;primaryKey"`
	ParamsHash string    `gorm:"column:params_hash"`
	RunID      string    `gorm:"column:run_id"`
	ExpiresAt  time.Time `gorm:"column:expires_at"`
	CreateTime time.Time `gorm:"column:create_time"`
}

func (idempotencyEntity) TableName() string { return "idempotency_keys" }

func fromRun(r *model.Run) *runEntity {
	return &runEntity{
		ID:               r.ID,
		PeriodFrom:       r.PeriodFrom,
		PeriodTo:         r.PeriodTo,
		Status:           string(r.Status),
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		Actor:            r.Actor,
		Options:          r.Options,
		TotalCalls:       r.TotalCalls,
		ProcessedCalls:   r.ProcessedCalls,
		ErrorCalls:       r.ErrorCalls,
		SkippedCalls:     r.SkippedCalls,
		TotalDurationSec: r.TotalDurationSec,
		TotalCost:        r.TotalCost,
		Currency:         r.Currency,
		Failures:         r.Failures,
		Version:          r.Version,
		CreateTime:       r.CreateTime,
		LastUpdated:      r.LastUpdated,
	}
}

func (e *runEntity) toDomain() *model.Run {
	return &model.Run{
		ID:               e.ID,
		PeriodFrom:       e.PeriodFrom,
		PeriodTo:         e.PeriodTo,
		Status:           model.RunStatus(e.Status),
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		Actor:            e.Actor,
		Options:          e.Options,
		TotalCalls:       e.TotalCalls,
		ProcessedCalls:   e.ProcessedCalls,
		ErrorCalls:       e.ErrorCalls,
		SkippedCalls:     e.SkippedCalls,
		TotalDurationSec: e.TotalDurationSec,
		TotalCost:        e.TotalCost,
		Currency:         e.Currency,
		Failures:         e.Failures,
		Version:          e.Version,
		CreateTime:       e.CreateTime,
		LastUpdated:      e.LastUpdated,
	}
}

func fromCallRecord(r *model.CallRecord) *callRecordEntity {
	return &callRecordEntity{
		ID:             r.ID,
		RunID:          r.RunID,
		CallID:         r.CallID,
		RecordingID:    r.RecordingID,
		Status:         string(r.Status),
		Direction:      string(r.Direction),
		EmployeeID:     r.EmployeeID,
		FromNumber:     r.FromNumber,
		ToNumber:       r.ToNumber,
		CallStartTime:  r.CallStartTime,
		DurationSec:    r.DurationSec,
		RecordingURL:   r.RecordingURL,
		StoragePath:    r.StoragePath,
		TranscriptPath: r.TranscriptPath,
		SummaryPath:    r.SummaryPath,
		TextPreview:    r.TextPreview,
		Language:       r.Language,
		Checksum:       r.Checksum,
		Cost:           r.Cost,
		Currency:       r.Currency,
		RetryCount:     r.RetryCount,
		ErrorCode:      r.ErrorCode,
		ErrorMessage:   r.ErrorMessage,
		LastAttemptAt:  r.LastAttemptAt,
		Tags:           r.Tags,
		Version:        r.Version,
		CreateTime:     r.CreateTime,
		LastUpdated:    r.LastUpdated,
	}
}

func (e *callRecordEntity) toDomain() *model.CallRecord {
	return &model.CallRecord{
		ID:             e.ID,
		RunID:          e.RunID,
		CallID:         e.CallID,
		RecordingID:    e.RecordingID,
		Status:         model.RecordStatus(e.Status),
		Direction:      model.CallDirection(e.Direction),
		EmployeeID:     e.EmployeeID,
		FromNumber:     e.FromNumber,
		ToNumber:       e.ToNumber,
		CallStartTime:  e.CallStartTime,
		DurationSec:    e.DurationSec,
		RecordingURL:   e.RecordingURL,
		StoragePath:    e.StoragePath,
		TranscriptPath: e.TranscriptPath,
		SummaryPath:    e.SummaryPath,
		TextPreview:    e.TextPreview,
		Language:       e.Language,
		Checksum:       e.Checksum,
		Cost:           e.Cost,
		Currency:       e.Currency,
		RetryCount:     e.RetryCount,
		ErrorCode:      e.ErrorCode,
		ErrorMessage:   e.ErrorMessage,
		LastAttemptAt:  e.LastAttemptAt,
		Tags:           e.Tags,
		Version:        e.Version,
		CreateTime:     e.CreateTime,
		LastUpdated:    e.LastUpdated,
	}
}
