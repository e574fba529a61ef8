package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/storage"
	"github.com/mastermobile/callexport/internal/support/mask"
)

// registryHeader is the fixed column order of the call registry.
var registryHeader = []string{
	"call_id", "record_id", "datetime_start", "direction", "from", "to",
	"duration_sec", "recording_url", "transcript_path", "transcription_cost",
	"currency_code", "language", "status", "error_code", "retry_count",
	"summary_path", "tags",
}

// Registry writes the semicolon-delimited call registry. Each appended row is
// flushed through the archive immediately so partial progress stays
// inspectable while a run is still going. Rows written before a restart are
// reloaded from the stored object, and a re-processed record replaces its
// earlier row instead of duplicating it.
type Registry struct {
	archive *storage.Archive

	mu     sync.Mutex
	loaded bool
	rows   [][]string
	index  map[string]int
	path   string
}

// NewRegistry creates a registry writer for the archive's period.
func NewRegistry(archive *storage.Archive) *Registry {
	return &Registry{archive: archive, index: map[string]int{}}
}

// AppendRow records a call record that reached a terminal status and rewrites
// the registry object. Phone numbers are masked before leaving the process.
func (r *Registry) AppendRow(ctx context.Context, rec *model.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadLocked(ctx); err != nil {
		return err
	}
	row := registryRow(rec)
	id := rowID(rec.CallID, rec.RecordingID)
	if i, ok := r.index[id]; ok {
		r.rows[i] = row
	} else {
		r.index[id] = len(r.rows)
		r.rows = append(r.rows, row)
	}
	return r.flushLocked(ctx)
}

// loadLocked seeds the in-memory rows from the registry object left by a
// previous process, so a resumed run keeps appending instead of starting over.
func (r *Registry) loadLocked(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	r.loaded = true

	key := r.archive.Key(storage.CategoryRegistry, storage.RegistryKey(r.archive.Period()))
	if !r.archive.Exists(ctx, key) {
		return nil
	}
	data, err := r.archive.Fetch(ctx, key)
	if err != nil {
		return err
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("existing registry at %s is not parseable: %w", key, err)
	}
	for i, row := range records {
		if i == 0 || len(row) < 2 {
			continue
		}
		r.index[rowID(row[0], row[1])] = len(r.rows)
		r.rows = append(r.rows, row)
	}
	r.path = key
	return nil
}

func rowID(callID, recordingID string) string {
	return callID + "\x00" + recordingID
}

// Path returns the storage path of the registry object, empty until the
// first row is written.
func (r *Registry) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Rows returns a copy of the rows written so far, without the header.
func (r *Registry) Rows() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make([][]string, len(r.rows))
	copy(rows, r.rows)
	return rows
}

func (r *Registry) flushLocked(ctx context.Context) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	if err := w.Write(registryHeader); err != nil {
		return err
	}
	if err := w.WriteAll(r.rows); err != nil {
		return err
	}
	path, err := r.archive.Store(ctx, storage.CategoryRegistry,
		storage.RegistryKey(r.archive.Period()), buf.Bytes())
	if err != nil {
		return err
	}
	r.path = path
	return nil
}

func registryRow(rec *model.CallRecord) []string {
	return []string{
		rec.CallID,
		rec.RecordingID,
		rec.CallStartTime.UTC().Format(time.RFC3339),
		string(rec.Direction),
		mask.Phone(rec.FromNumber),
		mask.Phone(rec.ToNumber),
		fmt.Sprintf("%d", rec.DurationSec),
		rec.RecordingURL,
		rec.TranscriptPath,
		fmt.Sprintf("%.2f", rec.Cost),
		rec.Currency,
		rec.Language,
		string(rec.Status),
		rec.ErrorCode,
		fmt.Sprintf("%d", rec.RetryCount),
		rec.SummaryPath,
		strings.Join(rec.Tags, ","),
	}
}
