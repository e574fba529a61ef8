package report

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/storage"
)

// registryEntry is the parquet schema of one registry row, consumed by
// downstream analytics.
type registryEntry struct {
	CallID         string  `parquet:"name=call_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	RecordID       string  `parquet:"name=record_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	StartTime      int64   `parquet:"name=datetime_start,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	Direction      string  `parquet:"name=direction,type=BYTE_ARRAY,convertedtype=UTF8"`
	DurationSec    int32   `parquet:"name=duration_sec,type=INT32"`
	Cost           float64 `parquet:"name=transcription_cost,type=DOUBLE"`
	Currency       string  `parquet:"name=currency_code,type=BYTE_ARRAY,convertedtype=UTF8"`
	Language       string  `parquet:"name=language,type=BYTE_ARRAY,convertedtype=UTF8"`
	Status         string  `parquet:"name=status,type=BYTE_ARRAY,convertedtype=UTF8"`
	ErrorCode      string  `parquet:"name=error_code,type=BYTE_ARRAY,convertedtype=UTF8"`
	RetryCount     int32   `parquet:"name=retry_count,type=INT32"`
	TranscriptPath string  `parquet:"name=transcript_path,type=BYTE_ARRAY,convertedtype=UTF8"`
}

// writeParquet renders the registry as a parquet file for analytics
// pipelines. Phone numbers are deliberately absent from the schema.
func (r *Reporter) writeParquet(ctx context.Context, records []*model.CallRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(registryEntry), int64(len(records)))
	if err != nil {
		return "", fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		entry := registryEntry{
			CallID:         rec.CallID,
			RecordID:       rec.RecordingID,
			StartTime:      rec.CallStartTime.UTC().UnixMilli(),
			Direction:      string(rec.Direction),
			DurationSec:    int32(rec.DurationSec),
			Cost:           rec.Cost,
			Currency:       rec.Currency,
			Language:       rec.Language,
			Status:         string(rec.Status),
			ErrorCode:      rec.ErrorCode,
			RetryCount:     int32(rec.RetryCount),
			TranscriptPath: rec.TranscriptPath,
		}
		if err := pw.Write(entry); err != nil {
			return "", fmt.Errorf("failed to write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return "", fmt.Errorf("failed to finalize parquet file: %w", err)
	}

	key := fmt.Sprintf("calls_%s.parquet", r.archive.Period().Label())
	return r.archive.Store(ctx, storage.CategoryReports, key, buf.Bytes())
}
