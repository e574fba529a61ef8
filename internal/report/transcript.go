package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/mastermobile/callexport/internal/core/model"
)

// BuildTranscript renders the per-call transcript artifact: a header block,
// a separator line, then the transcript body. UTF-8 without a byte-order
// mark.
func BuildTranscript(rec *model.CallRecord, body string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Call ID:      %s\n", rec.CallID)
	fmt.Fprintf(&sb, "Record ID:    %s\n", rec.RecordingID)
	fmt.Fprintf(&sb, "Started:      %s\n", rec.CallStartTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Direction:    %s\n", rec.Direction)
	fmt.Fprintf(&sb, "Duration:     %ds\n", rec.DurationSec)
	fmt.Fprintf(&sb, "Language:     %s\n", rec.Language)
	sb.WriteString(strings.Repeat("-", 60) + "\n")
	sb.WriteString(strings.TrimSpace(body))
	sb.WriteString("\n")
	return []byte(sb.String())
}
