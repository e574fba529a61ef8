package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/qa"
	"github.com/mastermobile/callexport/internal/storage"
)

func testArchive(t *testing.T) *storage.Archive {
	t.Helper()
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	period := model.NewPeriod(
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	)
	return storage.NewArchive(backend, period)
}

func completedRecord(callID string) *model.CallRecord {
	rec := model.NewCallRecord("run-1", model.CallSummary{
		CallID:      callID,
		RecordingID: "r-" + callID,
		Direction:   model.DirectionInbound,
		StartTime:   time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
		DurationSec: 125,
		FromNumber:  "+79161234567",
		ToNumber:    "+74950000000",
	})
	rec.MarkAsDownloading()
	rec.MarkAsTranscribing()
	rec.Cost = 2.50
	rec.Currency = "RUB"
	rec.Language = "ru"
	rec.TranscriptPath = "exports/20250101_20250301/transcripts/call_" + callID + ".txt"
	rec.MarkAsCompleted()
	return rec
}

func TestRegistryRowFormatAndMasking(t *testing.T) {
	archive := testArchive(t)
	reporter := NewReporter(archive, config.ReportConfig{})
	ctx := context.Background()

	rec := completedRecord("c1")
	require.NoError(t, reporter.AppendRegistryRow(ctx, rec))

	data, err := archive.Fetch(ctx, reporter.RegistryPath())
	require.NoError(t, err)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, registryHeader, rows[0])
	row := rows[1]
	assert.Equal(t, "c1", row[0])
	assert.Equal(t, "2025-01-15T10:30:00Z", row[2])
	assert.Equal(t, "+*******4567", row[4])
	assert.Equal(t, "+*******0000", row[5])
	assert.Equal(t, "125", row[6])
	assert.Equal(t, "2.50", row[9])
	assert.Equal(t, "completed", row[12])
	assert.NotContains(t, string(data), "79161234567")
}

func TestRegistryStreamsRows(t *testing.T) {
	archive := testArchive(t)
	reporter := NewReporter(archive, config.ReportConfig{})
	ctx := context.Background()

	require.NoError(t, reporter.AppendRegistryRow(ctx, completedRecord("c1")))
	// Registry is already readable after the first row.
	data, err := archive.Fetch(ctx, reporter.RegistryPath())
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimRight(string(data), "\n"), "\n")+1)

	require.NoError(t, reporter.AppendRegistryRow(ctx, completedRecord("c2")))
	data, err = archive.Fetch(ctx, reporter.RegistryPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "c2;")
}

func TestRegistryRowsSurviveRestart(t *testing.T) {
	archive := testArchive(t)
	ctx := context.Background()

	first := NewReporter(archive, config.ReportConfig{})
	require.NoError(t, first.AppendRegistryRow(ctx, completedRecord("call-A")))

	// A fresh reporter over the same archive stands in for a resumed process.
	second := NewReporter(archive, config.ReportConfig{})
	require.NoError(t, second.AppendRegistryRow(ctx, completedRecord("call-B")))

	data, err := archive.Fetch(ctx, second.RegistryPath())
	require.NoError(t, err)
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "call-A", rows[1][0])
	assert.Equal(t, "call-B", rows[2][0])
}

func TestRegistryReplacesRowOnReprocess(t *testing.T) {
	archive := testArchive(t)
	ctx := context.Background()

	failed := model.NewCallRecord("run-1", model.CallSummary{
		CallID:      "c1",
		RecordingID: "r-c1",
		StartTime:   time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
		DurationSec: 125,
	})
	failed.MarkAsDownloading()
	failed.MarkAsError("HTTP_503", "download failed")

	first := NewReporter(archive, config.ReportConfig{})
	require.NoError(t, first.AppendRegistryRow(ctx, failed))

	second := NewReporter(archive, config.ReportConfig{})
	require.NoError(t, second.AppendRegistryRow(ctx, completedRecord("c1")))

	data, err := archive.Fetch(ctx, second.RegistryPath())
	require.NoError(t, err)
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "completed", rows[1][12])
}

func TestBuildTranscriptLayout(t *testing.T) {
	rec := completedRecord("c1")
	content := string(BuildTranscript(rec, "Привет, это тестовый звонок."))

	assert.False(t, strings.HasPrefix(content, "\uFEFF"))
	assert.Contains(t, content, "Call ID:      c1")
	assert.Contains(t, content, "Language:     ru")
	parts := strings.SplitN(content, strings.Repeat("-", 60), 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "Привет, это тестовый звонок.", strings.TrimSpace(parts[1]))
}

func TestFinalizeReportContent(t *testing.T) {
	archive := testArchive(t)
	reporter := NewReporter(archive, config.ReportConfig{
		ForecastCost:           100.0,
		CostDeviationThreshold: 0.20,
	})
	ctx := context.Background()

	run := model.NewRun(archive.Period(), "scheduler", model.RunOptions{})
	run.MarkAsRunning()
	run.TotalCalls = 3
	run.ProcessedCalls = 1
	run.ErrorCalls = 1
	run.SkippedCalls = 1
	run.TotalDurationSec = 125
	run.TotalCost = 130.0
	run.Currency = "RUB"
	run.MarkAsCompleted()

	missing := model.NewCallRecord(run.ID, model.CallSummary{CallID: "c2", RecordingID: "r2"})
	missing.MarkAsDownloading()
	missing.MarkAsMissingAudio("HTTP_404", "recording not found after retries")

	records := []*model.CallRecord{completedRecord("c1"), missing}
	qaReport := &qa.Report{SampleSize: 1, Passed: 1}

	path, err := reporter.FinalizeReport(ctx, run, records, qaReport)
	require.NoError(t, err)

	data, err := archive.Fetch(ctx, path)
	require.NoError(t, err)
	md := string(data)

	assert.Contains(t, md, "# Call Export Summary 20250101_20250301")
	assert.Contains(t, md, "| Calls discovered | 3 |")
	assert.Contains(t, md, "WARNING: cost exceeds forecast")
	assert.Contains(t, md, "| c2 | r2 | missing_audio | recording not found after retries |")
	assert.Contains(t, md, "Sampled 1 transcripts: 1 passed, 0 failed.")
}

func TestFinalizeReportNoDeviationFlagUnderThreshold(t *testing.T) {
	archive := testArchive(t)
	reporter := NewReporter(archive, config.ReportConfig{
		ForecastCost:           100.0,
		CostDeviationThreshold: 0.20,
	})

	run := model.NewRun(archive.Period(), "scheduler", model.RunOptions{})
	run.MarkAsRunning()
	run.TotalCost = 110.0
	run.Currency = "RUB"
	run.MarkAsCompleted()

	path, err := reporter.FinalizeReport(context.Background(), run, nil, nil)
	require.NoError(t, err)
	data, err := archive.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "WARNING")
	assert.Contains(t, string(data), "No gaps")
}

func TestWorkbookRendition(t *testing.T) {
	archive := testArchive(t)
	reporter := NewReporter(archive, config.ReportConfig{RenderXLSX: true})
	ctx := context.Background()

	run := model.NewRun(archive.Period(), "scheduler", model.RunOptions{})
	run.MarkAsRunning()
	run.MarkAsCompleted()

	path, err := reporter.writeWorkbook(ctx, run, []*model.CallRecord{completedRecord("c1")}, nil)
	require.NoError(t, err)

	data, err := archive.Fetch(ctx, path)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	cell, err := f.GetCellValue("Registry", "A2")
	require.NoError(t, err)
	assert.Equal(t, "c1", cell)
	from, err := f.GetCellValue("Registry", "E2")
	require.NoError(t, err)
	assert.Equal(t, "+*******4567", from)
}

func TestParquetRendition(t *testing.T) {
	archive := testArchive(t)
	reporter := NewReporter(archive, config.ReportConfig{RenderParquet: true})
	ctx := context.Background()

	path, err := reporter.writeParquet(ctx, []*model.CallRecord{completedRecord("c1")})
	require.NoError(t, err)
	require.NotEmpty(t, path)

	data, err := archive.Fetch(ctx, path)
	require.NoError(t, err)
	// PAR1 magic framing.
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
	assert.True(t, bytes.HasSuffix(data, []byte("PAR1")))
}
