package report

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/qa"
	"github.com/mastermobile/callexport/internal/storage"
)

// writeWorkbook renders the summary and the registry rows as an XLSX
// workbook for operators who review runs in a spreadsheet.
func (r *Reporter) writeWorkbook(ctx context.Context, run *model.Run, records []*model.CallRecord, qaReport *qa.Report) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return "", err
	}

	summaryRows := [][]interface{}{
		{"Run", run.ID},
		{"Status", string(run.Status)},
		{"Period", r.archive.Period().Label()},
		{"Calls discovered", run.TotalCalls},
		{"Transcribed", run.ProcessedCalls},
		{"Errors", run.ErrorCalls},
		{"Skipped", run.SkippedCalls},
		{"Total duration (sec)", run.TotalDurationSec},
		{"Total cost", fmt.Sprintf("%.2f %s", run.TotalCost, run.Currency)},
	}
	if qaReport != nil {
		summaryRows = append(summaryRows,
			[]interface{}{"QA sampled", qaReport.SampleSize},
			[]interface{}{"QA failed", qaReport.Failed})
	}
	for i, row := range summaryRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return "", err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return "", err
		}
	}

	const registrySheet = "Registry"
	if _, err := f.NewSheet(registrySheet); err != nil {
		return "", err
	}
	header := make([]interface{}, len(registryHeader))
	for i, h := range registryHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(registrySheet, "A1", &header); err != nil {
		return "", err
	}
	for i, rec := range records {
		row := registryRow(rec)
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", err
		}
		if err := f.SetSheetRow(registrySheet, cell, &cells); err != nil {
			return "", err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("summary_%s.xlsx", r.archive.Period().Label())
	return r.archive.Store(ctx, storage.CategoryReports, key, buf.Bytes())
}
