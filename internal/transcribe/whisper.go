package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/support/exception"
)

// WhisperProvider invokes a Whisper-compatible transcription endpoint over
// multipart HTTP.
type WhisperProvider struct {
	endpoint       string
	apiKey         string
	model          string
	maxUploadBytes int
	httpClient     *http.Client
}

var _ Provider = (*WhisperProvider)(nil)

// NewWhisperProvider creates the HTTP provider from the transcription configuration.
func NewWhisperProvider(cfg config.TranscriptionConfig) *WhisperProvider {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &WhisperProvider{
		endpoint:       cfg.Endpoint,
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		maxUploadBytes: cfg.MaxUploadBytes,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

// whisperResponse mirrors the verbose JSON response shape.
type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// TranscribeSegment sends one audio segment and returns the transcribed text
// with the detected language.
func (p *WhisperProvider) TranscribeSegment(ctx context.Context, audio []byte, durationSec int) (*SegmentResult, error) {
	if p.maxUploadBytes > 0 && len(audio) > p.maxUploadBytes {
		return nil, exception.NewExportErrorf(stageName, exception.KindFatal,
			"segment of %d bytes exceeds the provider upload limit (%d)", len(audio), p.maxUploadBytes).WithCode("PAYLOAD_TOO_LARGE")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "segment.mp3")
	if err != nil {
		return nil, exception.NewExportError(stageName, "failed to build multipart payload", err, exception.KindFatal)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, exception.NewExportError(stageName, "failed to write audio payload", err, exception.KindFatal)
	}
	mw.WriteField("model", p.model)
	mw.WriteField("response_format", "verbose_json")
	if err := mw.Close(); err != nil {
		return nil, exception.NewExportError(stageName, "failed to finalize multipart payload", err, exception.KindFatal)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return nil, exception.NewExportError(stageName, "failed to build provider request", err, exception.KindFatal)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, exception.NewExportError(stageName, "provider request failed", err, exception.KindTransient).WithCode("STT_TRANSPORT")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, exception.NewExportErrorf(stageName, exception.KindFatal,
			"provider rejected credentials (status %d)", resp.StatusCode).WithCode("STT_AUTH_FAILED")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, exception.NewExportErrorf(stageName, exception.KindQuotaExceeded,
			"provider rate limit hit").WithCode("STT_429")
	case resp.StatusCode == http.StatusUnsupportedMediaType || resp.StatusCode == http.StatusBadRequest:
		return nil, exception.NewExportErrorf(stageName, exception.KindFatal,
			"provider rejected audio payload (status %d)", resp.StatusCode).WithCode("STT_UNSUPPORTED_FORMAT")
	case resp.StatusCode >= 500:
		return nil, exception.NewExportErrorf(stageName, exception.KindTransient,
			"provider returned %d", resp.StatusCode).WithCode(fmt.Sprintf("STT_%d", resp.StatusCode))
	default:
		return nil, exception.NewExportErrorf(stageName, exception.KindFatal,
			"provider returned unexpected status %d", resp.StatusCode).WithCode(fmt.Sprintf("STT_%d", resp.StatusCode))
	}

	var parsed whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, exception.NewExportError(stageName, "failed to decode provider response", err, exception.KindFatal).WithCode("STT_BAD_PAYLOAD")
	}
	return &SegmentResult{Text: parsed.Text, Language: parsed.Language}, nil
}
