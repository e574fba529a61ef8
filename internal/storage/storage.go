// Package storage provides the artifact storage adapter for the call export
// pipeline. Raw audio, transcripts, summaries, registry CSVs, reports and
// event logs are laid out under a fixed per-period prefix; backends (local
// file system, GCS) implement the same Backend interface.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/support/exception"
)

const stageName = "storage"

// Category identifies an artifact class with its own prefix and retention.
type Category string

const (
	CategoryRaw         Category = "raw"
	CategoryTranscripts Category = "transcripts"
	CategorySummary     Category = "summary"
	CategoryReports     Category = "reports"
	CategoryRegistry    Category = "registry"
	CategoryLogs        Category = "logs"
)

// ObjectInfo describes one stored object during listing.
type ObjectInfo struct {
	Key     string
	Size    int64
	Updated time.Time
}

// Backend defines generic storage operations over opaque keys.
// Implementations must make Put atomic from the reader's perspective: a
// partial write is never visible under the final key.
type Backend interface {
	// Put stores the data under the given key, creating intermediate
	// prefixes as needed.
	Put(ctx context.Context, key string, data io.Reader) error
	// Get opens the object under the given key. The returned ReadCloser
	// must be closed by the caller.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List calls fn for every object under the given prefix.
	List(ctx context.Context, prefix string, fn func(obj ObjectInfo) error) error
	// Delete removes the object under the given key. Deleting a missing
	// object is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

// Archive is the high-level storage adapter: it maps (category, relative key)
// pairs onto the per-period layout and computes checksums for stored audio.
type Archive struct {
	backend Backend
	period  model.Period
}

// NewArchive creates an Archive rooted at the given period's prefix.
func NewArchive(backend Backend, period model.Period) *Archive {
	return &Archive{backend: backend, period: period}
}

// Key returns the full storage key for a category and relative key,
// e.g. "exports/20250101_20250102/raw/2025/01/01/call_42_1.mp3".
func (a *Archive) Key(category Category, relativeKey string) string {
	return fmt.Sprintf("exports/%s/%s/%s", a.period.Label(), category, relativeKey)
}

// Store writes the data under the category's prefix and returns the full
// storage path.
func (a *Archive) Store(ctx context.Context, category Category, relativeKey string, data []byte) (string, error) {
	key := a.Key(category, relativeKey)
	if err := a.backend.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return key, nil
}

// Fetch reads the object stored under the given full storage path.
func (a *Archive) Fetch(ctx context.Context, storagePath string) ([]byte, error) {
	rc, err := a.backend.Get(ctx, storagePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, exception.NewExportError(stageName, fmt.Sprintf("failed to read object '%s'", storagePath), err, exception.KindTransient)
	}
	return data, nil
}

// Exists reports whether an object is present under the given storage path.
func (a *Archive) Exists(ctx context.Context, storagePath string) bool {
	rc, err := a.backend.Get(ctx, storagePath)
	if err != nil {
		return false
	}
	rc.Close()
	return true
}

// Backend exposes the underlying backend, used by the retention cleaner.
func (a *Archive) Backend() Backend {
	return a.backend
}

// Period returns the period this archive is rooted at.
func (a *Archive) Period() model.Period {
	return a.period
}

// Checksum returns the hex-encoded SHA-256 of the data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sanitizeIdentifier keeps alphanumerics, dashes and underscores in an
// external identifier used inside a storage key; anything else becomes a
// dash. An identifier reduced to nothing falls back to a digest of the
// original so keys stay unique.
func sanitizeIdentifier(id string) string {
	var sb strings.Builder
	sb.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	out := strings.Trim(sb.String(), "-")
	if out == "" {
		sum := sha256.Sum256([]byte(id))
		return hex.EncodeToString(sum[:])[:16]
	}
	return out
}

// RawAudioKey builds the relative key for a raw recording:
// "<yyyy>/<mm>/<dd>/call_<callId>_<recordingId>.<ext>".
func RawAudioKey(start time.Time, callID, recordingID, ext string) string {
	start = start.UTC()
	rec := recordingID
	if rec == "" {
		rec = "0"
	}
	if ext == "" {
		ext = "mp3"
	}
	return fmt.Sprintf("%04d/%02d/%02d/call_%s_%s.%s",
		start.Year(), start.Month(), start.Day(),
		sanitizeIdentifier(callID), sanitizeIdentifier(rec), strings.TrimPrefix(ext, "."))
}

// TranscriptKey builds the relative key for a call transcript.
func TranscriptKey(callID, recordingID string) string {
	if recordingID == "" {
		return fmt.Sprintf("call_%s.txt", sanitizeIdentifier(callID))
	}
	return fmt.Sprintf("call_%s_%s.txt", sanitizeIdentifier(callID), sanitizeIdentifier(recordingID))
}

// SummaryKey builds the relative key for a per-call summary.
func SummaryKey(callID, recordingID string) string {
	if recordingID == "" {
		return fmt.Sprintf("call_%s.md", sanitizeIdentifier(callID))
	}
	return fmt.Sprintf("call_%s_%s.md", sanitizeIdentifier(callID), sanitizeIdentifier(recordingID))
}

// RegistryKey builds the relative key for the run's CSV registry.
func RegistryKey(period model.Period) string {
	return fmt.Sprintf("calls_%s_%s.csv", period.From.Format("20060102"), period.To.Format("20060102"))
}

// ReportKey builds the relative key for the run's summary report.
func ReportKey(period model.Period) string {
	return fmt.Sprintf("summary_%s.md", period.Label())
}

// LogKey builds the relative key for the run's JSONL event log.
func LogKey(ts time.Time) string {
	return fmt.Sprintf("call_export_%s.jsonl", ts.UTC().Format("20060102T150405Z"))
}
