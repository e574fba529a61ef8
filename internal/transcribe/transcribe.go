// Package transcribe provides the speech-to-text adapter: it segments long
// audio, invokes the provider per segment, reassembles text in temporal
// order, detects language and computes the per-call cost.
package transcribe

import (
	"context"
	"math"
	"strings"

	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/support/logger"
	"github.com/mastermobile/callexport/internal/support/retry"
)

const stageName = "transcribe"

// SegmentResult is the provider's output for one audio segment.
type SegmentResult struct {
	Text     string
	Language string
}

// Provider transcribes one bounded audio segment.
// Implementations classify their errors into the export error taxonomy.
type Provider interface {
	TranscribeSegment(ctx context.Context, audio []byte, durationSec int) (*SegmentResult, error)
}

// Result is the adapter's output for one whole call.
type Result struct {
	Text          string
	Language      string
	BilledMinutes int
	Cost          float64
	Currency      string
	// Retries counts provider attempts beyond the first across all segments.
	Retries int
}

// segment is one bounded slice of the call audio.
type segment struct {
	data        []byte
	durationSec int
}

// Adapter drives segmentation, retries and cost accounting over a Provider.
type Adapter struct {
	provider      Provider
	policy        retry.Policy
	segmentLimit  int
	ratePerMinute float64
	currency      string
}

// NewAdapter creates the transcription adapter.
func NewAdapter(provider Provider, cfg config.TranscriptionConfig) *Adapter {
	return &Adapter{
		provider:      provider,
		policy:        retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BackoffSeconds),
		segmentLimit:  cfg.SegmentLimitSeconds,
		ratePerMinute: cfg.RatePerMinute,
		currency:      cfg.Currency,
	}
}

// splitSegments slices the audio into sequential, non-overlapping segments of
// at most limitSec seconds. Byte boundaries are proportional to duration,
// which holds for the constant-bitrate recordings the telephony source emits.
func splitSegments(audio []byte, durationSec, limitSec int) []segment {
	if durationSec <= limitSec || limitSec <= 0 || len(audio) == 0 {
		return []segment{{data: audio, durationSec: durationSec}}
	}

	count := (durationSec + limitSec - 1) / limitSec
	segments := make([]segment, 0, count)
	bytesPerSec := float64(len(audio)) / float64(durationSec)

	for i := 0; i < count; i++ {
		startSec := i * limitSec
		endSec := startSec + limitSec
		if endSec > durationSec {
			endSec = durationSec
		}

		startByte := int(math.Round(float64(startSec) * bytesPerSec))
		endByte := int(math.Round(float64(endSec) * bytesPerSec))
		if i == count-1 {
			endByte = len(audio)
		}

		segments = append(segments, segment{
			data:        audio[startByte:endByte],
			durationSec: endSec - startSec,
		})
	}
	return segments
}

// BilledMinutes rounds the call duration up to whole minutes. Rounding
// happens once per call, not per segment, so multi-segment calls are not
// charged rounding overhead several times.
func BilledMinutes(durationSec int) int {
	if durationSec <= 0 {
		return 0
	}
	return (durationSec + 59) / 60
}

// CalcCost computes the call cost: ceil(minutes) * rate, rounded to 2
// decimal places.
func CalcCost(durationSec int, ratePerMinute float64) float64 {
	cost := float64(BilledMinutes(durationSec)) * ratePerMinute
	return math.Round(cost*100) / 100
}

// Transcribe transcribes one call. Long calls are segmented; segment texts
// are concatenated in temporal order separated by a single blank line.
// Language is taken from the first segment's detection result. On failure a
// partial result is returned alongside the error so callers keep the
// accumulated retry count.
func (a *Adapter) Transcribe(ctx context.Context, runID string, audio []byte, durationSec int) (*Result, error) {
	segments := splitSegments(audio, durationSec, a.segmentLimit)
	if len(segments) > 1 {
		logger.Debugf("run=%s: transcribing %d segments (%ds total).", runID, len(segments), durationSec)
	}

	texts := make([]string, 0, len(segments))
	language := ""
	totalRetries := 0

	for i, seg := range segments {
		var segResult *SegmentResult
		retries, err := a.policy.Do(ctx, func() error {
			res, err := a.provider.TranscribeSegment(ctx, seg.data, seg.durationSec)
			if err != nil {
				return err
			}
			segResult = res
			return nil
		})
		totalRetries += retries
		if err != nil {
			// The partial result keeps the attempt count visible to the
			// caller's retry accounting even though transcription failed.
			return &Result{Retries: totalRetries}, err
		}

		texts = append(texts, strings.TrimSpace(segResult.Text))
		if i == 0 {
			language = segResult.Language
		}
	}

	return &Result{
		Text:          strings.Join(texts, "\n\n"),
		Language:      language,
		BilledMinutes: BilledMinutes(durationSec),
		Cost:          CalcCost(durationSec, a.ratePerMinute),
		Currency:      a.currency,
		Retries:       totalRetries,
	}, nil
}
