package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mastermobile/callexport/internal/storage"
	"github.com/mastermobile/callexport/internal/support/logger"
	"github.com/mastermobile/callexport/internal/support/mask"
)

// Event is a single audit trail entry. Phone numbers in Fields are masked
// before the event is stored.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Type      string                 `json:"type"`
	CallID    string                 `json:"call_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Trail accumulates audit events for a run and flushes them as a JSONL
// object into the run's log area.
type Trail struct {
	archive *storage.Archive
	runID   string
	started time.Time

	mu     sync.Mutex
	events []Event
}

// NewTrail creates an audit trail for the given run.
func NewTrail(archive *storage.Archive, runID string) *Trail {
	return &Trail{
		archive: archive,
		runID:   runID,
		started: time.Now().UTC(),
	}
}

// Record appends an event to the trail. Fields holding phone numbers are
// masked in place of the original values.
func (t *Trail) Record(eventType, callID string, fields map[string]interface{}) {
	event := Event{
		Timestamp: time.Now().UTC(),
		RunID:     t.runID,
		Type:      eventType,
		CallID:    callID,
		Fields:    mask.EventFields(fields),
	}
	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()
}

// Flush serializes the accumulated events as JSON lines and stores them
// under the run's log key.
func (t *Trail) Flush(ctx context.Context) (string, error) {
	t.mu.Lock()
	events := make([]Event, len(t.events))
	copy(events, t.events)
	t.mu.Unlock()

	if len(events) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return "", err
		}
	}

	path, err := t.archive.Store(ctx, storage.CategoryLogs, storage.LogKey(t.started), buf.Bytes())
	if err != nil {
		return "", err
	}
	logger.Debugf("Flushed %d audit events to %s", len(events), path)
	return path, nil
}
