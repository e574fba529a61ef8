package model

import (
	"fmt"
	"time"

	logger "github.com/mastermobile/callexport/internal/support/logger"
)

// CallSummary is one listed call as returned by the telephony source.
// The recording reference is not necessarily a final download URL; it is
// resolved separately per recording.
type CallSummary struct {
	CallID       string
	RecordingID  string
	Direction    CallDirection
	StartTime    time.Time
	DurationSec  int
	RecordingRef string
	EmployeeID   string
	FromNumber   string
	ToNumber     string
}

// CallRecord is one call's recording-to-transcript unit of work,
// owned by exactly one Run. The composite business key is
// (RunID, CallID, RecordingID); RecordingID may be empty when the source has
// only one recording per call.
type CallRecord struct {
	ID            string
	RunID         string
	CallID        string
	RecordingID   string
	Status        RecordStatus
	Direction     CallDirection
	EmployeeID    string
	FromNumber    string
	ToNumber      string
	CallStartTime time.Time
	DurationSec   int
	RecordingURL  string
	// StoragePath is the raw audio location; TranscriptPath and SummaryPath
	// are filled as the later stages complete.
	StoragePath    string
	TranscriptPath string
	SummaryPath    string
	TextPreview    string
	Language       string
	Checksum       string
	Cost           float64
	Currency       string
	RetryCount     int
	ErrorCode      string
	ErrorMessage   string
	LastAttemptAt  *time.Time
	Tags           TagList
	Version        int
	CreateTime     time.Time
	LastUpdated    time.Time
}

// NewCallRecord creates a pending CallRecord for a listed call inside a run.
func NewCallRecord(runID string, summary CallSummary) *CallRecord {
	now := time.Now().UTC()
	tags := make(TagList, 0)
	if summary.EmployeeID != "" {
		tags = append(tags, "employee:"+summary.EmployeeID)
	}
	return &CallRecord{
		ID:            NewID(),
		RunID:         runID,
		CallID:        summary.CallID,
		RecordingID:   summary.RecordingID,
		Status:        RecordStatusPending,
		Direction:     summary.Direction,
		EmployeeID:    summary.EmployeeID,
		FromNumber:    summary.FromNumber,
		ToNumber:      summary.ToNumber,
		CallStartTime: summary.StartTime,
		DurationSec:   summary.DurationSec,
		RecordingURL:  summary.RecordingRef,
		Tags:          tags,
		Version:       0,
		CreateTime:    now,
		LastUpdated:   now,
	}
}

// TransitionTo safely transitions the state of the CallRecord.
func (cr *CallRecord) TransitionTo(newStatus RecordStatus) error {
	if !isValidRecordTransition(cr.Status, newStatus) {
		return fmt.Errorf("call record (run: %s, call: %s): invalid state transition: %s -> %s",
			cr.RunID, cr.CallID, cr.Status, newStatus)
	}
	cr.Status = newStatus
	cr.LastUpdated = time.Now().UTC()
	return nil
}

// MarkAsDownloading updates the record status to downloading and stamps the attempt time.
func (cr *CallRecord) MarkAsDownloading() {
	if err := cr.TransitionTo(RecordStatusDownloading); err != nil {
		logger.Warnf("Could not update call record (call: %s) status to downloading: %v", cr.CallID, err)
		cr.Status = RecordStatusDownloading
	}
	now := time.Now().UTC()
	cr.LastAttemptAt = &now
	cr.LastUpdated = now
}

// MarkAsTranscribing updates the record status to transcribing.
func (cr *CallRecord) MarkAsTranscribing() {
	if err := cr.TransitionTo(RecordStatusTranscribing); err != nil {
		logger.Warnf("Could not update call record (call: %s) status to transcribing: %v", cr.CallID, err)
		cr.Status = RecordStatusTranscribing
	}
	cr.LastUpdated = time.Now().UTC()
}

// MarkAsCompleted updates the record status to completed and clears any prior error.
func (cr *CallRecord) MarkAsCompleted() {
	if err := cr.TransitionTo(RecordStatusCompleted); err != nil {
		logger.Warnf("Could not update call record (call: %s) status to completed: %v", cr.CallID, err)
		cr.Status = RecordStatusCompleted
	}
	cr.ErrorCode = ""
	cr.ErrorMessage = ""
	cr.LastUpdated = time.Now().UTC()
}

// MarkAsSkipped updates the record status to skipped with a reason code.
func (cr *CallRecord) MarkAsSkipped(code, message string) {
	if err := cr.TransitionTo(RecordStatusSkipped); err != nil {
		logger.Warnf("Could not update call record (call: %s) status to skipped: %v", cr.CallID, err)
		cr.Status = RecordStatusSkipped
	}
	cr.ErrorCode = code
	cr.ErrorMessage = message
	cr.LastUpdated = time.Now().UTC()
}

// MarkAsMissingAudio records that the source has no retrievable recording for this call.
func (cr *CallRecord) MarkAsMissingAudio(code, message string) {
	if err := cr.TransitionTo(RecordStatusMissingAudio); err != nil {
		logger.Warnf("Could not update call record (call: %s) status to missing_audio: %v", cr.CallID, err)
		cr.Status = RecordStatusMissingAudio
	}
	cr.ErrorCode = code
	cr.ErrorMessage = message
	cr.LastUpdated = time.Now().UTC()
}

// MarkAsError updates the record status to error with the terminal error details.
func (cr *CallRecord) MarkAsError(code, message string) {
	if err := cr.TransitionTo(RecordStatusError); err != nil {
		logger.Warnf("Could not update call record (call: %s) status to error: %v", cr.CallID, err)
		cr.Status = RecordStatusError
	}
	cr.ErrorCode = code
	cr.ErrorMessage = message
	cr.LastUpdated = time.Now().UTC()
}

// ResetAttempt returns a record that was mid-pipeline when the process died
// back to pending so the resumed run restarts it from scratch. The attempt
// count is kept.
func (cr *CallRecord) ResetAttempt() {
	cr.Status = RecordStatusPending
	cr.LastUpdated = time.Now().UTC()
}

// ResetForRetry returns an error record to pending for a forced re-run.
// Only the manual operator path uses this.
func (cr *CallRecord) ResetForRetry() error {
	if err := cr.TransitionTo(RecordStatusPending); err != nil {
		return err
	}
	cr.ErrorCode = ""
	cr.ErrorMessage = ""
	cr.RetryCount = 0
	return nil
}

// IncrementRetryCount bumps the attempt counter and stamps the attempt time.
func (cr *CallRecord) IncrementRetryCount() {
	cr.RetryCount++
	now := time.Now().UTC()
	cr.LastAttemptAt = &now
	cr.LastUpdated = now
}
