package qa

import (
	"context"
	"math/rand"
	"strings"
	"unicode"

	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/storage"
	"github.com/mastermobile/callexport/internal/support/logger"
)

// CheckResult is the QA verdict for one sampled transcript.
type CheckResult struct {
	CallID      string
	RecordingID string
	Passed      bool
	Reason      string
}

// Report aggregates a QA sampling round. Advisory only, a failing sample
// never blocks the run.
type Report struct {
	SampleSize int
	Passed     int
	Failed     int
	Results    []CheckResult
}

// Sampler picks completed transcripts and runs readability sanity checks.
type Sampler struct {
	archive       *storage.Archive
	minSampleSize int
}

func NewSampler(archive *storage.Archive, minSampleSize int) *Sampler {
	return &Sampler{archive: archive, minSampleSize: minSampleSize}
}

// SampleAndCheck selects at least minSampleSize completed records (or all of
// them when fewer exist) and verifies each transcript is non-empty, has a
// plausible character-to-duration ratio and matches the detected language's
// script.
func (s *Sampler) SampleAndCheck(ctx context.Context, records []*model.CallRecord) *Report {
	completed := make([]*model.CallRecord, 0, len(records))
	for _, rec := range records {
		if rec.Status == model.RecordStatusCompleted {
			completed = append(completed, rec)
		}
	}

	sample := completed
	if len(completed) > s.minSampleSize {
		shuffled := make([]*model.CallRecord, len(completed))
		copy(shuffled, completed)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		sample = shuffled[:s.minSampleSize]
	}

	report := &Report{SampleSize: len(sample)}
	for _, rec := range sample {
		result := s.check(ctx, rec)
		report.Results = append(report.Results, result)
		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
			logger.Warnf("QA check failed for call %s: %s", rec.CallID, result.Reason)
		}
	}
	return report
}

func (s *Sampler) check(ctx context.Context, rec *model.CallRecord) CheckResult {
	result := CheckResult{CallID: rec.CallID, RecordingID: rec.RecordingID}

	data, err := s.archive.Fetch(ctx, rec.TranscriptPath)
	if err != nil {
		result.Reason = "transcript unreadable: " + err.Error()
		return result
	}
	body := transcriptBody(string(data))

	if strings.TrimSpace(body) == "" {
		result.Reason = "transcript body is empty"
		return result
	}
	if reason := checkRatio(body, rec.DurationSec); reason != "" {
		result.Reason = reason
		return result
	}
	if reason := checkScript(body, rec.Language); reason != "" {
		result.Reason = reason
		return result
	}
	result.Passed = true
	return result
}

// transcriptBody strips the artifact header block, everything before the
// separator line.
func transcriptBody(content string) string {
	if idx := strings.Index(content, strings.Repeat("-", 60)); idx >= 0 {
		return content[idx+60:]
	}
	return content
}

// checkRatio flags transcripts whose length is implausible for the call
// duration. Typical speech lands somewhere between 2 and 25 characters per
// second; anything far outside suggests a broken transcription.
func checkRatio(body string, durationSec int) string {
	if durationSec <= 0 {
		return ""
	}
	ratio := float64(len([]rune(body))) / float64(durationSec)
	if ratio < 0.5 {
		return "transcript implausibly short for call duration"
	}
	if ratio > 50 {
		return "transcript implausibly long for call duration"
	}
	return ""
}

// checkScript verifies that the dominant script of the text matches the
// detected language.
func checkScript(body, language string) string {
	lang := strings.ToLower(language)
	if lang == "" {
		return ""
	}

	var latin, cyrillic, letters int
	for _, r := range body {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case unicode.Is(unicode.Latin, r):
			latin++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		}
	}
	if letters == 0 {
		return "transcript contains no letters"
	}

	switch {
	case strings.HasPrefix(lang, "ru") || strings.HasPrefix(lang, "uk"):
		if float64(cyrillic)/float64(letters) < 0.5 {
			return "detected language expects Cyrillic script"
		}
	case strings.HasPrefix(lang, "en") || strings.HasPrefix(lang, "de") ||
		strings.HasPrefix(lang, "fr") || strings.HasPrefix(lang, "es"):
		if float64(latin)/float64(letters) < 0.5 {
			return "detected language expects Latin script"
		}
	}
	return ""
}
