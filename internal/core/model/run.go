package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mastermobile/callexport/internal/support/exception"
	logger "github.com/mastermobile/callexport/internal/support/logger"
)

// Period is the inclusive UTC time range a run exports.
type Period struct {
	From time.Time
	To   time.Time
}

// NewPeriod normalizes both bounds to UTC.
func NewPeriod(from, to time.Time) Period {
	return Period{From: from.UTC(), To: to.UTC()}
}

// Label returns the compact period identifier used in artifact paths,
// e.g. "20250101_20250102".
func (p Period) Label() string {
	return fmt.Sprintf("%s_%s", p.From.Format("20060102"), p.To.Format("20060102"))
}

// Validate checks the period bounds.
func (p Period) Validate() error {
	if p.To.Before(p.From) {
		return exception.NewExportErrorf("ledger", exception.KindFatal,
			"period end %s is before period start %s", p.To.Format(time.RFC3339), p.From.Format(time.RFC3339))
	}
	return nil
}

// Run is a single batch execution of the call export for a given period.
type Run struct {
	ID         string
	PeriodFrom time.Time
	PeriodTo   time.Time
	Status     RunStatus
	StartTime  time.Time
	EndTime    *time.Time
	// Actor is the initiating operator; empty for scheduled/system runs.
	Actor   string
	Options RunOptions
	// Aggregate counters, maintained transactionally by the ledger as call
	// records reach terminal status.
	TotalCalls       int
	ProcessedCalls   int
	ErrorCalls       int
	SkippedCalls     int
	TotalDurationSec int
	TotalCost        float64
	Currency         string
	Failures         FailureList
	Version          int
	CreateTime       time.Time
	LastUpdated      time.Time
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// NewRun creates a new Run in pending state for the given period.
func NewRun(period Period, actor string, opts RunOptions) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:          NewID(),
		PeriodFrom:  period.From,
		PeriodTo:    period.To,
		Status:      RunStatusPending,
		StartTime:   now,
		Actor:       actor,
		Options:     opts,
		Currency:    "",
		Failures:    make(FailureList, 0),
		Version:     0,
		CreateTime:  now,
		LastUpdated: now,
	}
}

// Period returns the run's export period.
func (r *Run) Period() Period {
	return Period{From: r.PeriodFrom, To: r.PeriodTo}
}

// RunKey calculates the idempotency key for a run trigger. The trigger
// parameters are converted to a canonical JSON string with sorted keys before
// hashing so that the key is independent of parameter order.
func RunKey(period Period, actor string, opts RunOptions) (string, error) {
	params := map[string]interface{}{
		"period_from":      period.From.Format(time.RFC3339),
		"period_to":        period.To.Format(time.RFC3339),
		"actor":            actor,
		"generate_summary": opts.GenerateSummary,
		"dry_run":          opts.DryRun,
	}
	normalized, err := toCanonicalJSON(params)
	if err != nil {
		return "", exception.NewExportError("ledger", "failed to marshal run trigger parameters for key calculation", err, exception.KindFatal)
	}

	hasher := sha256.New()
	hasher.Write([]byte(normalized))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// toCanonicalJSON converts a parameter map to a canonical JSON string with sorted keys.
func toCanonicalJSON(params map[string]interface{}) (string, error) {
	var marshalCanonical func(interface{}) ([]byte, error)
	marshalCanonical = func(val interface{}) ([]byte, error) {
		if m, ok := val.(map[string]interface{}); ok {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			var sb strings.Builder
			sb.WriteString("{")
			for i, k := range keys {
				keyBytes, err := json.Marshal(k)
				if err != nil {
					return nil, err
				}
				valBytes, err := marshalCanonical(m[k])
				if err != nil {
					return nil, err
				}
				sb.Write(keyBytes)
				sb.WriteString(":")
				sb.Write(valBytes)
				if i < len(keys)-1 {
					sb.WriteString(",")
				}
			}
			sb.WriteString("}")
			return []byte(sb.String()), nil
		}
		return json.Marshal(val)
	}

	jsonBytes, err := marshalCanonical(params)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

// TransitionTo safely transitions the state of the Run.
// Fields other than Status and LastUpdated must be set separately by the caller.
func (r *Run) TransitionTo(newStatus RunStatus) error {
	if !isValidRunTransition(r.Status, newStatus) {
		return fmt.Errorf("run (ID: %s): invalid state transition: %s -> %s", r.ID, r.Status, newStatus)
	}
	r.Status = newStatus
	r.LastUpdated = time.Now().UTC()
	return nil
}

// MarkAsRunning updates the Run status to running.
func (r *Run) MarkAsRunning() {
	if err := r.TransitionTo(RunStatusRunning); err != nil {
		logger.Warnf("Could not update run (ID: %s) status to running: %v", r.ID, err)
		r.Status = RunStatusRunning
		r.LastUpdated = time.Now().UTC()
	}
}

// MarkAsCompleted updates the Run status to completed and stamps the end time.
func (r *Run) MarkAsCompleted() {
	if err := r.TransitionTo(RunStatusCompleted); err != nil {
		logger.Warnf("Could not update run (ID: %s) status to completed: %v", r.ID, err)
		r.Status = RunStatusCompleted
	}
	now := time.Now().UTC()
	r.EndTime = &now
	r.LastUpdated = now
}

// MarkAsError updates the Run status to error and records the failure.
// Only orchestration failures use this; per-record errors never fail the run.
func (r *Run) MarkAsError(err error) {
	if terr := r.TransitionTo(RunStatusError); terr != nil {
		logger.Warnf("Could not update run (ID: %s) status to error: %v", r.ID, terr)
		r.Status = RunStatusError
	}
	now := time.Now().UTC()
	r.EndTime = &now
	r.LastUpdated = now
	if err != nil {
		r.AddFailure(err)
	}
}

// MarkAsCancelled updates the Run status to cancelled and stamps the end time.
func (r *Run) MarkAsCancelled() {
	if err := r.TransitionTo(RunStatusCancelled); err != nil {
		logger.Warnf("Could not update run (ID: %s) status to cancelled: %v", r.ID, err)
		r.Status = RunStatusCancelled
	}
	now := time.Now().UTC()
	r.EndTime = &now
	r.LastUpdated = now
}

// AddFailure adds error information to the Run. It avoids adding duplicate messages.
func (r *Run) AddFailure(err error) {
	if err == nil {
		return
	}
	errMsg := exception.ExtractErrorMessage(err)
	for _, existing := range r.Failures {
		if existing == errMsg {
			return
		}
	}
	r.Failures = append(r.Failures, errMsg)
}
