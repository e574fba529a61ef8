package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/qa"
	"github.com/mastermobile/callexport/internal/storage"
	"github.com/mastermobile/callexport/internal/support/logger"
)

// Reporter produces the run's registry and summary artifacts.
type Reporter struct {
	archive  *storage.Archive
	registry *Registry
	cfg      config.ReportConfig
}

// NewReporter creates a Reporter writing into the given archive.
func NewReporter(archive *storage.Archive, cfg config.ReportConfig) *Reporter {
	return &Reporter{
		archive:  archive,
		registry: NewRegistry(archive),
		cfg:      cfg,
	}
}

// AppendRegistryRow streams one registry line for a call record that reached
// a terminal status.
func (r *Reporter) AppendRegistryRow(ctx context.Context, rec *model.CallRecord) error {
	return r.registry.AppendRow(ctx, rec)
}

// RegistryPath returns the storage path of the registry artifact.
func (r *Reporter) RegistryPath() string {
	return r.registry.Path()
}

// FinalizeReport renders the aggregate summary once the run is terminal and
// stores it under reports/. Optional XLSX and parquet renditions are written
// alongside when enabled.
func (r *Reporter) FinalizeReport(ctx context.Context, run *model.Run, records []*model.CallRecord, qaReport *qa.Report) (string, error) {
	md := r.renderMarkdown(run, records, qaReport)
	path, err := r.archive.Store(ctx, storage.CategoryReports,
		storage.ReportKey(r.archive.Period()), []byte(md))
	if err != nil {
		return "", err
	}
	logger.Infof("Summary report written to %s", path)

	if r.cfg.RenderXLSX {
		if xlsxPath, err := r.writeWorkbook(ctx, run, records, qaReport); err != nil {
			logger.Warnf("Failed to write XLSX rendition: %v", err)
		} else {
			logger.Infof("XLSX rendition written to %s", xlsxPath)
		}
	}
	if r.cfg.RenderParquet {
		if parquetPath, err := r.writeParquet(ctx, records); err != nil {
			logger.Warnf("Failed to write parquet rendition: %v", err)
		} else {
			logger.Infof("Parquet rendition written to %s", parquetPath)
		}
	}
	return path, nil
}

func (r *Reporter) renderMarkdown(run *model.Run, records []*model.CallRecord, qaReport *qa.Report) string {
	var sb strings.Builder
	period := r.archive.Period()

	fmt.Fprintf(&sb, "# Call Export Summary %s\n\n", period.Label())
	fmt.Fprintf(&sb, "Run `%s`, status **%s**, started %s",
		run.ID, run.Status, run.StartTime.UTC().Format(time.RFC3339))
	if run.EndTime != nil {
		fmt.Fprintf(&sb, ", finished %s", run.EndTime.UTC().Format(time.RFC3339))
	}
	sb.WriteString(".\n\n")

	sb.WriteString("## Totals\n\n")
	fmt.Fprintf(&sb, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Calls discovered | %d |\n", run.TotalCalls)
	fmt.Fprintf(&sb, "| Transcribed | %d |\n", run.ProcessedCalls)
	fmt.Fprintf(&sb, "| Errors | %d |\n", run.ErrorCalls)
	fmt.Fprintf(&sb, "| Skipped | %d |\n", run.SkippedCalls)
	fmt.Fprintf(&sb, "| Total duration | %s |\n", formatDuration(run.TotalDurationSec))
	fmt.Fprintf(&sb, "| Total cost | %.2f %s |\n", run.TotalCost, run.Currency)

	sb.WriteString("\n## Cost\n\n")
	fmt.Fprintf(&sb, "Actual: %.2f %s.", run.TotalCost, run.Currency)
	if r.cfg.ForecastCost > 0 {
		deviation := (run.TotalCost - r.cfg.ForecastCost) / r.cfg.ForecastCost
		fmt.Fprintf(&sb, " Forecast: %.2f (deviation %+.1f%%).", r.cfg.ForecastCost, deviation*100)
		if deviation > r.cfg.CostDeviationThreshold {
			fmt.Fprintf(&sb, "\n\n**WARNING: cost exceeds forecast by more than %.0f%%.**",
				r.cfg.CostDeviationThreshold*100)
		}
	}
	sb.WriteString("\n")

	gaps := gapRecords(records)
	sb.WriteString("\n## Gaps\n\n")
	if len(gaps) == 0 {
		sb.WriteString("No gaps, every discovered call was transcribed.\n")
	} else {
		sb.WriteString("| Call | Record | Status | Reason |\n|---|---|---|---|\n")
		for _, rec := range gaps {
			reason := rec.ErrorMessage
			if reason == "" {
				reason = rec.ErrorCode
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n",
				rec.CallID, rec.RecordingID, rec.Status, sanitizeCell(reason))
		}
	}

	sb.WriteString("\n## QA sample\n\n")
	if qaReport == nil || qaReport.SampleSize == 0 {
		sb.WriteString("No completed transcripts were available for sampling.\n")
	} else {
		fmt.Fprintf(&sb, "Sampled %d transcripts: %d passed, %d failed.\n",
			qaReport.SampleSize, qaReport.Passed, qaReport.Failed)
		for _, res := range qaReport.Results {
			if !res.Passed {
				fmt.Fprintf(&sb, "- call %s: %s\n", res.CallID, res.Reason)
			}
		}
	}

	if len(run.Failures) > 0 {
		sb.WriteString("\n## Run failures\n\n")
		for _, f := range run.Failures {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	return sb.String()
}

func gapRecords(records []*model.CallRecord) []*model.CallRecord {
	var gaps []*model.CallRecord
	for _, rec := range records {
		switch rec.Status {
		case model.RecordStatusError, model.RecordStatusMissingAudio, model.RecordStatusSkipped:
			gaps = append(gaps, rec)
		}
	}
	return gaps
}

func formatDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	return d.String()
}

func sanitizeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", " ")
}
