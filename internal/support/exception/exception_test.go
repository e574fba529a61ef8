package exception

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExportError_ErrorAndUnwrap(t *testing.T) {
	orig := errors.New("connection reset by peer")
	err := NewExportError("source", "failed to list calls", orig, KindTransient)

	assert.Equal(t, "[source] failed to list calls: connection reset by peer", err.Error())
	assert.Equal(t, orig, errors.Unwrap(err))
	assert.NotEmpty(t, err.StackTrace)
}

func TestKindOf_Classification(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(NewExportError("source", "timeout", nil, KindTransient)))
	assert.Equal(t, KindNotFound, KindOf(NewExportError("source", "recording gone", nil, KindNotFound)))
	assert.Equal(t, KindQuotaExceeded, KindOf(NewExportError("source", "429", nil, KindQuotaExceeded)))
	assert.Equal(t, KindFatal, KindOf(errors.New("plain error")))
	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
}

func TestKindOf_WrappedExportError(t *testing.T) {
	inner := NewExportError("transcribe", "stt timeout", nil, KindTransient)
	wrapped := fmt.Errorf("segment 2: %w", inner)

	assert.Equal(t, KindTransient, KindOf(wrapped))
	assert.True(t, IsRetryable(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewExportError("source", "503", nil, KindTransient)))
	assert.True(t, IsRetryable(NewExportError("source", "429", nil, KindQuotaExceeded)))
	assert.False(t, IsRetryable(NewExportError("source", "gone", nil, KindNotFound)))
	assert.False(t, IsRetryable(NewExportError("source", "bad token", nil, KindFatal)))
	assert.False(t, IsRetryable(errors.New("unclassified")))
}

func TestCodeOf(t *testing.T) {
	withCode := NewExportError("source", "rate limited", nil, KindQuotaExceeded).WithCode("HTTP_429")
	assert.Equal(t, "HTTP_429", CodeOf(withCode))

	noCode := NewExportError("storage", "disk full", nil, KindTransient)
	assert.Equal(t, "TRANSIENT", CodeOf(noCode))

	assert.Equal(t, "FATAL", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestExtractErrorMessage(t *testing.T) {
	ee := NewExportError("transcribe", "provider rejected segment", errors.New("400 bad request"), KindFatal)
	assert.Equal(t, "provider rejected segment", ExtractErrorMessage(ee))
	assert.Equal(t, "plain failure", ExtractErrorMessage(errors.New("plain failure")))
	assert.Equal(t, "", ExtractErrorMessage(nil))
}
