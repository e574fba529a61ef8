package qa

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/storage"
)

func testArchive(t *testing.T) *storage.Archive {
	t.Helper()
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	period := model.NewPeriod(
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	)
	return storage.NewArchive(backend, period)
}

func storeTranscript(t *testing.T, archive *storage.Archive, rec *model.CallRecord, body string) {
	t.Helper()
	content := fmt.Sprintf("Call ID:      %s\nLanguage:     %s\n%s\n%s\n",
		rec.CallID, rec.Language, strings.Repeat("-", 60), body)
	path, err := archive.Store(context.Background(), storage.CategoryTranscripts,
		storage.TranscriptKey(rec.CallID, rec.RecordingID), []byte(content))
	require.NoError(t, err)
	rec.TranscriptPath = path
}

func completedRecord(t *testing.T, archive *storage.Archive, callID, language, body string, durationSec int) *model.CallRecord {
	t.Helper()
	rec := model.NewCallRecord("run-1", model.CallSummary{
		CallID:      callID,
		RecordingID: "r-" + callID,
		Direction:   model.DirectionInbound,
		StartTime:   time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
		DurationSec: durationSec,
	})
	rec.Language = language
	rec.MarkAsDownloading()
	rec.MarkAsTranscribing()
	rec.MarkAsCompleted()
	storeTranscript(t, archive, rec, body)
	return rec
}

func TestSampleAndCheckPasses(t *testing.T) {
	archive := testArchive(t)
	body := strings.Repeat("The customer asked about the order status. ", 10)
	records := []*model.CallRecord{
		completedRecord(t, archive, "c1", "en", body, 60),
		completedRecord(t, archive, "c2", "ru", strings.Repeat("Клиент спросил о статусе заказа. ", 10), 60),
	}

	sampler := NewSampler(archive, 50)
	result := sampler.SampleAndCheck(context.Background(), records)
	assert.Equal(t, 2, result.SampleSize)
	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, 0, result.Failed)
}

func TestSampleAndCheckFlagsProblems(t *testing.T) {
	archive := testArchive(t)
	records := []*model.CallRecord{
		// Body far too short for a 10 minute call.
		completedRecord(t, archive, "c1", "en", "ok", 600),
		// Latin text claimed to be Russian.
		completedRecord(t, archive, "c2", "ru", strings.Repeat("hello world this is a test. ", 10), 60),
	}

	sampler := NewSampler(archive, 50)
	result := sampler.SampleAndCheck(context.Background(), records)
	assert.Equal(t, 0, result.Passed)
	assert.Equal(t, 2, result.Failed)
	for _, r := range result.Results {
		assert.NotEmpty(t, r.Reason)
	}
}

func TestSampleAndCheckHonorsSampleSize(t *testing.T) {
	archive := testArchive(t)
	body := strings.Repeat("Short exchange about a delivery window. ", 5)
	var records []*model.CallRecord
	for i := 0; i < 10; i++ {
		records = append(records, completedRecord(t, archive, fmt.Sprintf("c%d", i), "en", body, 30))
	}
	// Non-completed records are never sampled.
	pending := model.NewCallRecord("run-1", model.CallSummary{CallID: "p1", RecordingID: "r-p1"})
	records = append(records, pending)

	sampler := NewSampler(archive, 3)
	result := sampler.SampleAndCheck(context.Background(), records)
	assert.Equal(t, 3, result.SampleSize)
	assert.Equal(t, 3, result.Passed+result.Failed)
}
