package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RunOptions holds the free-form options attached to a run when it is triggered.
type RunOptions struct {
	// GenerateSummary enables per-call Markdown summaries.
	GenerateSummary bool `json:"generate_summary"`
	// DryRun lists calls and records them in the ledger without downloading or transcribing.
	DryRun bool `json:"dry_run"`
	// Concurrency overrides the worker pool size; 0 means use the configured default.
	Concurrency int `json:"concurrency"`
}

// Value implements the `driver.Valuer` interface, converting RunOptions to a JSON string.
func (o RunOptions) Value() (driver.Value, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to RunOptions.
func (o *RunOptions) Scan(value interface{}) error {
	if value == nil {
		*o = RunOptions{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for RunOptions: %T", value)
	}

	if len(b) == 0 {
		*o = RunOptions{}
		return nil
	}

	if err := json.Unmarshal(b, o); err != nil {
		return fmt.Errorf("failed to unmarshal RunOptions JSON: %w", err)
	}
	return nil
}

// TagList holds free-form tags attached to a call record (e.g., employee identifiers).
type TagList []string

// Value implements the `driver.Valuer` interface, converting TagList to a JSON string.
func (tl TagList) Value() (driver.Value, error) {
	if tl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(tl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to TagList.
func (tl *TagList) Scan(value interface{}) error {
	if value == nil {
		*tl = make(TagList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for TagList: %T", value)
	}

	if len(b) == 0 {
		*tl = make(TagList, 0)
		return nil
	}

	if err := json.Unmarshal(b, tl); err != nil {
		return fmt.Errorf("failed to unmarshal TagList JSON: %w", err)
	}
	return nil
}

// FailureList holds a list of error messages accumulated on a run.
type FailureList []string

// Value implements the `driver.Valuer` interface, converting FailureList to a JSON string.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to FailureList.
func (fl *FailureList) Scan(value interface{}) error {
	if value == nil {
		*fl = make(FailureList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}

	if len(b) == 0 {
		*fl = make(FailureList, 0)
		return nil
	}

	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}
