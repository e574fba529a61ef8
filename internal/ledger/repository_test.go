package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/support/exception"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	return db
}

func newTestRepository(t *testing.T) Repository {
	t.Helper()
	repo := NewRepository(newTestDB(t), 72*time.Hour)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testPeriod() model.Period {
	return model.NewPeriod(
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	)
}

func testSummary(callID, recordingID string) model.CallSummary {
	return model.CallSummary{
		CallID:       callID,
		RecordingID:  recordingID,
		Direction:    model.DirectionInbound,
		StartTime:    time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
		DurationSec:  120,
		RecordingRef: "https://example.com/rec/" + recordingID,
		EmployeeID:   "42",
		FromNumber:   "+79161234567",
		ToNumber:     "+74950000000",
	}
}

func TestCreateRunIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	opts := model.RunOptions{GenerateSummary: true, Concurrency: 5}

	first, existing, err := repo.CreateRun(ctx, testPeriod(), "scheduler", opts, "")
	require.NoError(t, err)
	assert.False(t, existing)

	second, existing, err := repo.CreateRun(ctx, testPeriod(), "scheduler", opts, "")
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateRunKeyConflict(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, _, err := repo.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "job-2025-q1")
	require.NoError(t, err)

	_, _, err = repo.CreateRun(ctx, testPeriod(), "operator", model.RunOptions{}, "job-2025-q1")
	require.Error(t, err)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", exception.CodeOf(err))
	assert.Equal(t, exception.KindFatal, exception.KindOf(err))
}

func TestCreateRunExpiredKeyStartsFreshRun(t *testing.T) {
	db := newTestDB(t)
	expiring := NewRepository(db, -time.Hour)
	t.Cleanup(func() { _ = expiring.Close() })
	ctx := context.Background()

	first, _, err := expiring.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "k1")
	require.NoError(t, err)

	second, existing, err := expiring.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "k1")
	require.NoError(t, err)
	assert.False(t, existing)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestUpsertCallRecordNoDuplicates(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	run, _, err := repo.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "")
	require.NoError(t, err)

	rec := model.NewCallRecord(run.ID, testSummary("c1", "r1"))
	created, isNew, err := repo.UpsertCallRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, isNew)

	again, isNew, err := repo.UpsertCallRecord(ctx, model.NewCallRecord(run.ID, testSummary("c1", "r1")))
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, created.ID, again.ID)

	// A second recording of the same call is an independent record.
	_, isNew, err = repo.UpsertCallRecord(ctx, model.NewCallRecord(run.ID, testSummary("c1", "r2")))
	require.NoError(t, err)
	assert.True(t, isNew)

	reloaded, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.TotalCalls)
}

func TestApplyTerminalUpdatesAggregates(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	run, _, err := repo.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "")
	require.NoError(t, err)

	completed, _, err := repo.UpsertCallRecord(ctx, model.NewCallRecord(run.ID, testSummary("c1", "r1")))
	require.NoError(t, err)
	skipped, _, err := repo.UpsertCallRecord(ctx, model.NewCallRecord(run.ID, testSummary("c2", "r2")))
	require.NoError(t, err)
	failed, _, err := repo.UpsertCallRecord(ctx, model.NewCallRecord(run.ID, testSummary("c3", "r3")))
	require.NoError(t, err)

	completed.MarkAsDownloading()
	require.NoError(t, repo.SaveCallRecord(ctx, completed))
	completed.MarkAsTranscribing()
	completed.Cost = 1.50
	completed.Currency = "RUB"
	completed.MarkAsCompleted()
	require.NoError(t, repo.ApplyTerminal(ctx, completed))

	skipped.MarkAsSkipped("ZERO_DURATION", "call has no audible duration")
	require.NoError(t, repo.ApplyTerminal(ctx, skipped))

	failed.MarkAsDownloading()
	failed.MarkAsError("HTTP_503", "source unavailable after retries")
	require.NoError(t, repo.ApplyTerminal(ctx, failed))

	reloaded, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.TotalCalls)
	assert.Equal(t, 1, reloaded.ProcessedCalls)
	assert.Equal(t, 1, reloaded.SkippedCalls)
	assert.Equal(t, 1, reloaded.ErrorCalls)
	assert.Equal(t, 120, reloaded.TotalDurationSec)
	assert.InDelta(t, 1.50, reloaded.TotalCost, 0.001)
	assert.Equal(t, "RUB", reloaded.Currency)
}

func TestReopenRecordReversesAggregates(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	run, _, err := repo.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "")
	require.NoError(t, err)
	rec, _, err := repo.UpsertCallRecord(ctx, model.NewCallRecord(run.ID, testSummary("c1", "r1")))
	require.NoError(t, err)

	rec.MarkAsDownloading()
	require.NoError(t, repo.SaveCallRecord(ctx, rec))
	rec.MarkAsTranscribing()
	rec.Cost = 1.50
	rec.Currency = "RUB"
	rec.MarkAsCompleted()
	require.NoError(t, repo.ApplyTerminal(ctx, rec))

	require.NoError(t, repo.ReopenRecord(ctx, rec))
	assert.Equal(t, model.RecordStatusPending, rec.Status)

	reloaded, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.ProcessedCalls)
	assert.Equal(t, 0, reloaded.TotalDurationSec)
	assert.InDelta(t, 0.0, reloaded.TotalCost, 0.001)
	// Discovery still counts the call once.
	assert.Equal(t, 1, reloaded.TotalCalls)
}

func TestReopenRecordRejectsNonCompleted(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	run, _, err := repo.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "")
	require.NoError(t, err)
	rec, _, err := repo.UpsertCallRecord(ctx, model.NewCallRecord(run.ID, testSummary("c1", "r1")))
	require.NoError(t, err)

	err = repo.ReopenRecord(ctx, rec)
	require.Error(t, err)
	assert.Equal(t, exception.KindFatal, exception.KindOf(err))
}

func TestApplyTerminalRejectsNonTerminalStatus(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	run, _, err := repo.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "")
	require.NoError(t, err)
	rec, _, err := repo.UpsertCallRecord(ctx, model.NewCallRecord(run.ID, testSummary("c1", "r1")))
	require.NoError(t, err)

	err = repo.ApplyTerminal(ctx, rec)
	require.Error(t, err)
	assert.Equal(t, exception.KindFatal, exception.KindOf(err))
}

func TestUpdateRunOptimisticLocking(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	run, _, err := repo.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "")
	require.NoError(t, err)

	stale, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)

	run.MarkAsRunning()
	require.NoError(t, repo.UpdateRun(ctx, run))

	stale.MarkAsRunning()
	err = repo.UpdateRun(ctx, stale)
	require.Error(t, err)
	assert.Equal(t, "OPTIMISTIC_LOCK", exception.CodeOf(err))
	assert.True(t, exception.IsRetryable(err))
}

func TestUpdateRunClearsZeroValuedFields(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	run, _, err := repo.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "")
	require.NoError(t, err)
	run.MarkAsRunning()
	require.NoError(t, repo.UpdateRun(ctx, run))
	run.MarkAsCompleted()
	require.NoError(t, repo.UpdateRun(ctx, run))

	reloaded, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, reloaded.Status)
	require.NotNil(t, reloaded.EndTime)
}

func TestResetRecordReturnsToPending(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	run, _, err := repo.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "")
	require.NoError(t, err)
	rec, _, err := repo.UpsertCallRecord(ctx, model.NewCallRecord(run.ID, testSummary("c1", "r1")))
	require.NoError(t, err)

	rec.MarkAsDownloading()
	rec.IncrementRetryCount()
	rec.MarkAsError("HTTP_503", "source unavailable after retries")
	require.NoError(t, repo.ApplyTerminal(ctx, rec))

	reset, err := repo.ResetRecord(ctx, run.ID, "c1", "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatusPending, reset.Status)
	assert.Equal(t, 0, reset.RetryCount)
	assert.Empty(t, reset.ErrorCode)

	reloaded, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.ErrorCalls)
}

func TestListIncomplete(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	run, _, err := repo.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "")
	require.NoError(t, err)

	pending, _, err := repo.UpsertCallRecord(ctx, model.NewCallRecord(run.ID, testSummary("c1", "r1")))
	require.NoError(t, err)
	done, _, err := repo.UpsertCallRecord(ctx, model.NewCallRecord(run.ID, testSummary("c2", "r2")))
	require.NoError(t, err)

	done.MarkAsDownloading()
	done.MarkAsTranscribing()
	done.MarkAsCompleted()
	require.NoError(t, repo.ApplyTerminal(ctx, done))

	incomplete, err := repo.ListIncomplete(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, pending.ID, incomplete[0].ID)
}

func TestPurgeExpiredKeys(t *testing.T) {
	db := newTestDB(t)
	expiring := NewRepository(db, -time.Hour)
	t.Cleanup(func() { _ = expiring.Close() })
	ctx := context.Background()

	_, _, err := expiring.CreateRun(ctx, testPeriod(), "scheduler", model.RunOptions{}, "k1")
	require.NoError(t, err)

	purged, err := expiring.PurgeExpiredKeys(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
