// Package exception provides the error taxonomy for the call export pipeline.
// Errors raised while talking to the telephony source, the storage backend or
// the transcription provider are classified so that retry and skip decisions
// can be made uniformly by the orchestrator.
package exception

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// ErrorKind classifies an ExportError for retry handling.
type ErrorKind int

const (
	// KindTransient marks errors worth retrying (timeouts, 5xx, connection resets).
	KindTransient ErrorKind = iota
	// KindNotFound marks a missing upstream resource (deleted recording, expired link).
	// The affected record is skipped, never retried.
	KindNotFound
	// KindQuotaExceeded marks rate-limit or quota responses (429). Retryable, but the
	// caller is expected to slow down before the next attempt.
	KindQuotaExceeded
	// KindFatal marks errors that abort the stage immediately (auth failure, malformed
	// payload, programming errors).
	KindFatal
)

// String returns a stable identifier used in log lines and ledger error codes.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "TRANSIENT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindQuotaExceeded:
		return "QUOTA_EXCEEDED"
	case KindFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ExportError is the error type raised by pipeline stages.
// It holds the stage where the error occurred, a message, the wrapped original
// error and the kind used for retry classification.
type ExportError struct {
	// Stage indicates where the error occurred (e.g., "source", "storage", "transcribe", "ledger", "report").
	Stage string
	// Message is a concise description of the error.
	Message string
	// Code is a short machine-readable code persisted to the ledger (e.g., "HTTP_429", "AUDIO_MISSING").
	Code string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// kind classifies the error for retry handling.
	kind ErrorKind
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewExportError creates a new ExportError instance.
// stage: The pipeline stage where the error occurred.
// message: The error message.
// originalErr: The original error to wrap (may be nil).
// kind: The retry classification.
func NewExportError(stage, message string, originalErr error, kind ErrorKind) *ExportError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &ExportError{
		Stage:       stage,
		Message:     message,
		OriginalErr: originalErr,
		kind:        kind,
		StackTrace:  string(buf[:n]),
	}
}

// NewExportErrorf creates a new ExportError with a formatted message.
func NewExportErrorf(stage string, kind ErrorKind, format string, a ...interface{}) *ExportError {
	return NewExportError(stage, fmt.Sprintf(format, a...), nil, kind)
}

// WithCode sets the ledger error code and returns the receiver for chaining.
func (e *ExportError) WithCode(code string) *ExportError {
	e.Code = code
	return e
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *ExportError) Unwrap() error {
	return e.OriginalErr
}

// Kind returns the retry classification of this error.
func (e *ExportError) Kind() ErrorKind {
	return e.kind
}

// KindOf extracts the ErrorKind from an arbitrary error.
// Non-ExportError values default to KindFatal so that unclassified failures
// are never silently retried.
func KindOf(err error) ErrorKind {
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.Kind()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// IsRetryable reports whether the error is worth retrying.
// Transient and quota errors are retryable; not-found and fatal errors are not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindQuotaExceeded:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether the error marks a missing upstream resource.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsQuotaExceeded reports whether the error is a rate-limit or quota response.
func IsQuotaExceeded(err error) bool {
	return KindOf(err) == KindQuotaExceeded
}

// CodeOf extracts the ledger error code from an error.
// Falls back to the kind identifier when no code was set.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ee *ExportError
	if errors.As(err, &ee) {
		if ee.Code != "" {
			return ee.Code
		}
		return ee.Kind().String()
	}
	return KindFatal.String()
}

// ExtractErrorMessage extracts the message string from an error.
// For ExportError, it returns the cleaner Message field.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ee *ExportError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return err.Error()
}
