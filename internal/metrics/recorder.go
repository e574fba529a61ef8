package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/support/logger"
)

// Recorder collects operational metrics of export runs.
type Recorder interface {
	RecordRunStart(run *model.Run)
	RecordRunEnd(run *model.Run)
	RecordCallOutcome(status model.RecordStatus)
	RecordStageDuration(stage string, d time.Duration)
	RecordRetry(stage, reason string)
	RecordDeadLetter(stage, reason string)
	RecordTranscriptionCost(currency string, cost float64)
	RecordLowRateMode()
}

// PrometheusRecorder is a Prometheus implementation of Recorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	runStatusCounter   *prometheus.CounterVec
	runDurationSeconds *prometheus.HistogramVec

	callOutcomeCounter   *prometheus.CounterVec
	stageDurationSeconds *prometheus.HistogramVec
	retryCounter         *prometheus.CounterVec
	deadLetterCounter    *prometheus.CounterVec

	transcriptionCost  *prometheus.CounterVec
	lowRateModeCounter prometheus.Counter
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() Recorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_export_runs_total",
			Help: "Total number of export runs by status.",
		}, []string{"status"}),
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "call_export_run_duration_seconds",
			Help:    "Duration of export runs.",
			Buckets: []float64{30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"status"}),
		callOutcomeCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_export_calls_total",
			Help: "Total processed calls by terminal status.",
		}, []string{"status"}),
		stageDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "call_export_stage_duration_seconds",
			Help:    "Duration of per-call pipeline stages.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"stage"}),
		retryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_export_retry_total",
			Help: "Total retries by pipeline stage and reason.",
		}, []string{"stage", "reason"}),
		deadLetterCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_export_dead_letter_total",
			Help: "Total calls abandoned after exhausting retries.",
		}, []string{"stage", "reason"}),
		transcriptionCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "call_export_transcription_cost_total",
			Help: "Accumulated transcription cost.",
		}, []string{"currency"}),
		lowRateModeCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "call_export_low_rate_mode_total",
			Help: "Times the source client entered low-rate mode.",
		}),
	}

	registry.MustRegister(r.runStatusCounter)
	registry.MustRegister(r.runDurationSeconds)
	registry.MustRegister(r.callOutcomeCounter)
	registry.MustRegister(r.stageDurationSeconds)
	registry.MustRegister(r.retryCounter)
	registry.MustRegister(r.deadLetterCounter)
	registry.MustRegister(r.transcriptionCost)
	registry.MustRegister(r.lowRateModeCounter)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordRunStart(run *model.Run) {
	r.runStatusCounter.WithLabelValues(string(run.Status)).Inc()
	logger.Debugf("Metrics: run '%s' started.", run.ID)
}

func (r *PrometheusRecorder) RecordRunEnd(run *model.Run) {
	r.runStatusCounter.WithLabelValues(string(run.Status)).Inc()
	if run.EndTime == nil {
		return
	}
	duration := run.EndTime.Sub(run.StartTime).Seconds()
	r.runDurationSeconds.WithLabelValues(string(run.Status)).Observe(duration)
	logger.Debugf("Metrics: run '%s' ended. Duration: %.3fs", run.ID, duration)
}

func (r *PrometheusRecorder) RecordCallOutcome(status model.RecordStatus) {
	r.callOutcomeCounter.WithLabelValues(string(status)).Inc()
}

func (r *PrometheusRecorder) RecordStageDuration(stage string, d time.Duration) {
	r.stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *PrometheusRecorder) RecordRetry(stage, reason string) {
	r.retryCounter.WithLabelValues(stage, reason).Inc()
}

func (r *PrometheusRecorder) RecordDeadLetter(stage, reason string) {
	r.deadLetterCounter.WithLabelValues(stage, reason).Inc()
}

func (r *PrometheusRecorder) RecordTranscriptionCost(currency string, cost float64) {
	if cost <= 0 {
		return
	}
	r.transcriptionCost.WithLabelValues(currency).Add(cost)
}

func (r *PrometheusRecorder) RecordLowRateMode() {
	r.lowRateModeCounter.Inc()
}

var _ Recorder = (*PrometheusRecorder)(nil)

// RunElapsed reports how long a run has been active, for progress logging.
func RunElapsed(run *model.Run) time.Duration {
	if run.EndTime != nil {
		return run.EndTime.Sub(run.StartTime)
	}
	return time.Since(run.StartTime)
}
