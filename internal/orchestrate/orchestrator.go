package orchestrate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mastermobile/callexport/internal/audit"
	"github.com/mastermobile/callexport/internal/bitrix"
	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/ledger"
	"github.com/mastermobile/callexport/internal/metrics"
	"github.com/mastermobile/callexport/internal/qa"
	"github.com/mastermobile/callexport/internal/report"
	"github.com/mastermobile/callexport/internal/storage"
	"github.com/mastermobile/callexport/internal/summarize"
	"github.com/mastermobile/callexport/internal/support/exception"
	"github.com/mastermobile/callexport/internal/support/logger"
	"github.com/mastermobile/callexport/internal/transcribe"
)

// defaultWindowDays is the rolling export window used when no explicit
// period is requested.
const defaultWindowDays = 60

// Request describes one export run invocation.
type Request struct {
	Period         model.Period
	Actor          string
	Options        model.RunOptions
	IdempotencyKey string
}

// RollingPeriod returns the default export window ending at now.
func RollingPeriod(now time.Time) model.Period {
	return model.NewPeriod(now.AddDate(0, 0, -defaultWindowDays), now)
}

// Orchestrator drives a run through listing, fan-out processing and
// finalization. The ledger is the only source of truth for what still needs
// work, so an interrupted run resumes from its last durable state.
type Orchestrator struct {
	cfg     *config.Config
	source  *bitrix.Client
	stt     *transcribe.Adapter
	backend storage.Backend
	ledger  ledger.Repository
	metrics metrics.Recorder
}

// NewOrchestrator assembles the run pipeline from its adapters.
func NewOrchestrator(
	cfg *config.Config,
	source *bitrix.Client,
	stt *transcribe.Adapter,
	backend storage.Backend,
	repo ledger.Repository,
	recorder metrics.Recorder,
) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		source:  source,
		stt:     stt,
		backend: backend,
		ledger:  repo,
		metrics: recorder,
	}
}

// runScope bundles the per-run collaborators that depend on the period.
type runScope struct {
	run      *model.Run
	archive  *storage.Archive
	reporter *report.Reporter
	trail    *audit.Trail
	sampler  *qa.Sampler

	mu       sync.Mutex
	failures []error
}

// addFailure collects a non-fatal run-level failure from any worker.
func (s *runScope) addFailure(err error) {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()
}

// Execute resolves or creates the run for the request and processes it to a
// terminal status. Re-invoking with the same idempotency key is safe: a
// finished run is returned unchanged, an interrupted one is resumed.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*model.Run, error) {
	if err := req.Period.Validate(); err != nil {
		return nil, err
	}

	run, existing, err := o.ledger.CreateRun(ctx, req.Period, req.Actor, req.Options, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing && run.Status.IsTerminal() {
		logger.Infof("Run %s already finished with status %s, nothing to do", run.ID, run.Status)
		return run, nil
	}
	if existing {
		logger.Infof("Resuming run %s (status: %s)", run.ID, run.Status)
	}

	scope := &runScope{
		run:     run,
		archive: storage.NewArchive(o.backend, req.Period),
	}
	scope.reporter = report.NewReporter(scope.archive, o.cfg.CallExport.Report)
	scope.trail = audit.NewTrail(scope.archive, run.ID)
	scope.sampler = qa.NewSampler(scope.archive, o.cfg.CallExport.QA.MinSampleSize)

	if run.Status == model.RunStatusPending {
		run.MarkAsRunning()
		if err := o.ledger.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
	}
	o.metrics.RecordRunStart(run)
	scope.trail.Record("run_started", "", map[string]interface{}{
		"period_from": req.Period.From.Format(time.RFC3339),
		"period_to":   req.Period.To.Format(time.RFC3339),
		"actor":       req.Actor,
		"resumed":     existing,
	})

	listErr := o.process(ctx, scope)

	return o.finalize(ctx, scope, listErr)
}

// process runs the listing loop and the worker pool. Listing stays
// sequential so the pagination cursor keeps its ordering guarantee;
// processing fans out over a bounded channel.
func (o *Orchestrator) process(ctx context.Context, scope *runScope) error {
	concurrency := scope.run.Options.Concurrency
	if concurrency <= 0 {
		concurrency = o.cfg.CallExport.Worker.Concurrency
	}
	queueSize := o.cfg.CallExport.Worker.QueueSize
	if queueSize <= 0 {
		queueSize = concurrency
	}
	queue := make(chan *model.CallRecord, queueSize)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range queue {
				// In-flight records are allowed to finish after a
				// cancellation, only new intake stops.
				o.processRecord(context.WithoutCancel(ctx), scope, rec)
			}
		}()
	}

	queued := make(map[string]struct{})
	enqueue := func(rec *model.CallRecord) {
		if rec.Status == model.RecordStatusCompleted && o.artifactsMissing(ctx, scope, rec) {
			if err := o.ledger.ReopenRecord(ctx, rec); err != nil {
				logger.Warnf("Failed to reopen record %s after artifact loss: %v", rec.ID, err)
				return
			}
		}
		if rec.Status.IsTerminal() {
			return
		}
		if _, ok := queued[rec.ID]; ok {
			return
		}
		queued[rec.ID] = struct{}{}
		queue <- rec
	}

	// Resume first: records the previous attempt left unfinished.
	incomplete, err := o.ledger.ListIncomplete(ctx, scope.run.ID)
	if err != nil {
		close(queue)
		wg.Wait()
		return err
	}
	for _, rec := range incomplete {
		if interrupted(rec) {
			rec.ResetAttempt()
			if err := o.ledger.SaveCallRecord(ctx, rec); err != nil {
				logger.Warnf("Failed to reset interrupted record %s: %v", rec.ID, err)
				continue
			}
		}
		enqueue(rec)
	}

	listErr := o.source.ListCalls(ctx, scope.run.ID, scope.archive.Period(), "", func(summary model.CallSummary) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, isNew, err := o.ledger.UpsertCallRecord(ctx, model.NewCallRecord(scope.run.ID, summary))
		if err != nil {
			return err
		}
		if isNew {
			scope.trail.Record("call_discovered", rec.CallID, map[string]interface{}{
				"record_id":    rec.RecordingID,
				"from":         rec.FromNumber,
				"to":           rec.ToNumber,
				"duration_sec": rec.DurationSec,
			})
		}
		enqueue(rec)
		return nil
	})

	close(queue)
	wg.Wait()
	return listErr
}

// interrupted reports whether a record was mid-pipeline when the previous
// process died and must restart from scratch.
func interrupted(rec *model.CallRecord) bool {
	return rec.Status == model.RecordStatusDownloading || rec.Status == model.RecordStatusTranscribing
}

// artifactsMissing reports whether a completed record's stored transcript or
// summary is gone. Raw audio is not checked: its retention window is shorter
// than the transcript's, so its absence alone does not invalidate the result.
func (o *Orchestrator) artifactsMissing(ctx context.Context, scope *runScope, rec *model.CallRecord) bool {
	if rec.TranscriptPath != "" && !scope.archive.Exists(ctx, rec.TranscriptPath) {
		return true
	}
	if rec.SummaryPath != "" && !scope.archive.Exists(ctx, rec.SummaryPath) {
		return true
	}
	return false
}

// processRecord drives one call through download, transcription and
// persistence. Failures never propagate: the record itself carries its
// terminal status and the run keeps going.
func (o *Orchestrator) processRecord(ctx context.Context, scope *runScope, rec *model.CallRecord) {
	started := time.Now()

	if scope.run.Options.DryRun {
		rec.MarkAsSkipped("DRY_RUN", "dry run, call not processed")
		o.completeRecord(ctx, scope, rec, started)
		return
	}
	if rec.DurationSec <= 0 {
		rec.MarkAsSkipped("ZERO_DURATION", "call has no audible duration")
		o.completeRecord(ctx, scope, rec, started)
		return
	}

	stageStart := time.Now()
	err := o.downloadStage(ctx, scope, rec)
	o.metrics.RecordStageDuration("download", time.Since(stageStart))
	if err != nil {
		o.failRecord(ctx, scope, rec, "download", err, started)
		return
	}
	if rec.Status.IsTerminal() { // missing_audio exits inside the stage
		o.completeRecord(ctx, scope, rec, started)
		return
	}

	stageStart = time.Now()
	err = o.transcribeStage(ctx, scope, rec)
	o.metrics.RecordStageDuration("transcribe", time.Since(stageStart))
	if err != nil {
		o.failRecord(ctx, scope, rec, "transcribe", err, started)
		return
	}

	rec.MarkAsCompleted()
	o.completeRecord(ctx, scope, rec, started)
}

func (o *Orchestrator) downloadStage(ctx context.Context, scope *runScope, rec *model.CallRecord) error {
	rec.MarkAsDownloading()
	if err := o.ledger.SaveCallRecord(ctx, rec); err != nil {
		return err
	}

	url := rec.RecordingURL
	if url == "" {
		resolved, err := o.source.ResolveRecording(ctx, rec.RunID, rec.CallID, rec.RecordingID)
		if err != nil {
			if exception.IsNotFound(err) {
				rec.MarkAsMissingAudio(exception.CodeOf(err), "recording not found after retries")
				return nil
			}
			return err
		}
		url = resolved
		rec.RecordingURL = resolved
	}

	audio, retries, err := o.source.DownloadRecording(ctx, rec.RunID, url)
	rec.RetryCount += retries
	o.recordRetries("download", exception.CodeOf(err), retries)
	if err != nil {
		if exception.IsNotFound(err) {
			rec.MarkAsMissingAudio(exception.CodeOf(err), "recording not found after retries")
			return nil
		}
		return err
	}
	if len(audio) == 0 {
		rec.MarkAsMissingAudio("EMPTY_AUDIO", "recording payload is empty")
		return nil
	}

	key := storage.RawAudioKey(rec.CallStartTime, rec.CallID, rec.RecordingID, "mp3")
	path, err := scope.archive.Store(ctx, storage.CategoryRaw, key, audio)
	if err != nil {
		return err
	}
	rec.StoragePath = path
	rec.Checksum = storage.Checksum(audio)
	scope.trail.Record("audio_stored", rec.CallID, map[string]interface{}{
		"path":     path,
		"bytes":    len(audio),
		"checksum": rec.Checksum,
	})
	return nil
}

func (o *Orchestrator) transcribeStage(ctx context.Context, scope *runScope, rec *model.CallRecord) error {
	rec.MarkAsTranscribing()
	if err := o.ledger.SaveCallRecord(ctx, rec); err != nil {
		return err
	}

	audio, err := scope.archive.Fetch(ctx, rec.StoragePath)
	if err != nil {
		return err
	}

	result, err := o.stt.Transcribe(ctx, rec.RunID, audio, rec.DurationSec)
	if result != nil {
		rec.RetryCount += result.Retries
		o.recordRetries("transcribe", exception.CodeOf(err), result.Retries)
	}
	if err != nil {
		return err
	}

	rec.Language = result.Language
	rec.Cost = result.Cost
	rec.Currency = result.Currency
	rec.TextPreview = preview(result.Text, 200)

	transcriptKey := storage.TranscriptKey(rec.CallID, rec.RecordingID)
	path, err := scope.archive.Store(ctx, storage.CategoryTranscripts, transcriptKey,
		report.BuildTranscript(rec, result.Text))
	if err != nil {
		return err
	}
	rec.TranscriptPath = path
	o.metrics.RecordTranscriptionCost(rec.Currency, rec.Cost)

	if scope.run.Options.GenerateSummary {
		summaryKey := storage.SummaryKey(rec.CallID, rec.RecordingID)
		summaryPath, err := scope.archive.Store(ctx, storage.CategorySummary, summaryKey,
			[]byte(summarize.Summarize(rec, result.Text)))
		if err != nil {
			logger.Warnf("Failed to store summary for call %s: %v", rec.CallID, err)
		} else {
			rec.SummaryPath = summaryPath
		}
	}

	scope.trail.Record("transcribed", rec.CallID, map[string]interface{}{
		"language":       rec.Language,
		"cost":           rec.Cost,
		"billed_minutes": result.BilledMinutes,
	})
	return nil
}

func (o *Orchestrator) failRecord(ctx context.Context, scope *runScope, rec *model.CallRecord, stage string, err error, started time.Time) {
	code := exception.CodeOf(err)
	rec.MarkAsError(code, err.Error())
	o.metrics.RecordDeadLetter(stage, code)
	logger.Errorf("Call %s failed at %s: %v", rec.CallID, stage, err)
	o.completeRecord(ctx, scope, rec, started)
}

// completeRecord persists the terminal transition with its aggregate counter
// updates and streams the registry row.
func (o *Orchestrator) completeRecord(ctx context.Context, scope *runScope, rec *model.CallRecord, started time.Time) {
	if err := o.ledger.ApplyTerminal(ctx, rec); err != nil {
		logger.Errorf("Failed to persist terminal state of call %s: %v", rec.CallID, err)
		scope.addFailure(fmt.Errorf("ledger write failed for call %s: %w", rec.CallID, err))
		return
	}
	o.metrics.RecordCallOutcome(rec.Status)
	scope.trail.Record("call_finished", rec.CallID, map[string]interface{}{
		"stage":       "finalize",
		"status":      string(rec.Status),
		"error_code":  rec.ErrorCode,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	if err := scope.reporter.AppendRegistryRow(ctx, rec); err != nil {
		logger.Warnf("Failed to append registry row for call %s: %v", rec.CallID, err)
	}
}

// finalize moves the run to its terminal status, renders the report and
// flushes the audit trail.
func (o *Orchestrator) finalize(ctx context.Context, scope *runScope, listErr error) (*model.Run, error) {
	// Counters were updated transactionally per record; reload the
	// authoritative state before reporting.
	run, err := o.ledger.GetRun(ctx, scope.run.ID)
	if err != nil {
		return scope.run, err
	}
	for _, f := range scope.failures {
		run.AddFailure(f)
	}

	switch {
	case listErr != nil && ctx.Err() != nil:
		run.MarkAsCancelled()
	case listErr != nil:
		run.MarkAsError(listErr)
	default:
		run.MarkAsCompleted()
	}

	records, recErr := o.ledger.ListRecords(context.WithoutCancel(ctx), run.ID)
	if recErr != nil {
		logger.Errorf("Failed to list records for report: %v", recErr)
	}

	finalCtx := context.WithoutCancel(ctx)
	var qaReport *qa.Report
	if !run.Options.DryRun {
		qaReport = scope.sampler.SampleAndCheck(finalCtx, records)
	}
	if _, err := scope.reporter.FinalizeReport(finalCtx, run, records, qaReport); err != nil {
		logger.Errorf("Failed to write summary report: %v", err)
		run.AddFailure(fmt.Errorf("summary report failed: %w", err))
	}

	scope.trail.Record("run_finished", "", map[string]interface{}{
		"status":          string(run.Status),
		"processed_calls": run.ProcessedCalls,
		"error_calls":     run.ErrorCalls,
		"total_cost":      run.TotalCost,
		"elapsed":         metrics.RunElapsed(run).String(),
	})
	if _, err := scope.trail.Flush(finalCtx); err != nil {
		logger.Warnf("Failed to flush audit trail: %v", err)
	}

	if err := o.ledger.UpdateRun(finalCtx, run); err != nil {
		return run, err
	}
	o.metrics.RecordRunEnd(run)
	if o.source.InLowRateMode() {
		o.metrics.RecordLowRateMode()
	}
	logger.Infof("Run %s finished: status=%s processed=%d errors=%d skipped=%d cost=%.2f %s",
		run.ID, run.Status, run.ProcessedCalls, run.ErrorCalls, run.SkippedCalls,
		run.TotalCost, run.Currency)
	return run, listErr
}

// RetryRecord is the manual operator action that moves one errored record
// back to pending and reprocesses it immediately.
func (o *Orchestrator) RetryRecord(ctx context.Context, runID, callID, recordingID string) (*model.CallRecord, error) {
	run, err := o.ledger.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	rec, err := o.ledger.ResetRecord(ctx, runID, callID, recordingID)
	if err != nil {
		return nil, err
	}

	scope := &runScope{
		run:     run,
		archive: storage.NewArchive(o.backend, model.NewPeriod(run.PeriodFrom, run.PeriodTo)),
	}
	scope.reporter = report.NewReporter(scope.archive, o.cfg.CallExport.Report)
	scope.trail = audit.NewTrail(scope.archive, run.ID)

	o.processRecord(ctx, scope, rec)
	if _, err := scope.trail.Flush(ctx); err != nil {
		logger.Warnf("Failed to flush audit trail: %v", err)
	}
	return rec, nil
}

func (o *Orchestrator) recordRetries(stage, reason string, count int) {
	if reason == "" {
		reason = "transient"
	}
	for i := 0; i < count; i++ {
		o.metrics.RecordRetry(stage, reason)
	}
}

func preview(text string, limit int) string {
	clean := strings.Join(strings.Fields(text), " ")
	runes := []rune(clean)
	if len(runes) <= limit {
		return clean
	}
	return string(runes[:limit])
}
