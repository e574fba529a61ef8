// Package bitrix provides the telephony source client: paginated,
// rate-limited, retrying access to the Bitrix24 Voximplant call-listing and
// recording endpoints.
package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/support/exception"
	"github.com/mastermobile/callexport/internal/support/logger"
	"github.com/mastermobile/callexport/internal/support/retry"
)

const (
	stageName = "source"

	listingMethod   = "voximplant.statistic.get.json"
	recordingMethod = "telephony.recording.get"
)

// Client talks to the Bitrix24 REST API through webhook-style URLs of the
// form <base>/rest/<user_id>/<token>/<method>.
type Client struct {
	baseURL  string
	userID   string
	token    string
	pageSize int

	httpClient *http.Client
	// resolveClient does not follow redirects so that the recording
	// endpoint's Location header can be captured as the download URL.
	resolveClient *http.Client
	throttle      *throttle
	policy        retry.Policy
}

// NewClient creates a source client from the source configuration.
func NewClient(cfg config.SourceConfig) *Client {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	return &Client{
		baseURL:    cfg.BaseURL,
		userID:     cfg.UserID,
		token:      cfg.Token,
		pageSize:   cfg.PageSize,
		httpClient: &http.Client{Timeout: timeout},
		resolveClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		throttle: newThrottle(cfg.RateLimitRPS, cfg.LowRateRPS,
			time.Duration(cfg.LowRateWindowSeconds)*time.Second),
		policy: retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BackoffSeconds),
	}
}

// methodURL builds the fully-qualified REST endpoint URL for a method.
func (c *Client) methodURL(method string) string {
	normalized := strings.TrimRight(c.baseURL, "/")
	normalized = strings.TrimSuffix(normalized, "/rest")
	return fmt.Sprintf("%s/rest/%s/%s/%s", normalized, c.userID, c.token, method)
}

// callEntry mirrors one element of the Voximplant statistics payload.
// Bitrix returns every field as a string.
type callEntry struct {
	ID            string `json:"ID"`
	CallID        string `json:"CALL_ID"`
	CallType      string `json:"CALL_TYPE"`
	PortalUserID  string `json:"PORTAL_USER_ID"`
	PortalNumber  string `json:"PORTAL_NUMBER"`
	PhoneNumber   string `json:"PHONE_NUMBER"`
	CallDuration  string `json:"CALL_DURATION"`
	CallStartDate string `json:"CALL_START_DATE"`
	RecordFileID  string `json:"CALL_RECORD_URL"`
	RecordID      string `json:"RECORD_FILE_ID"`
}

// listPayload mirrors a page of the listing response. A non-nil "next" field
// carries the offset token of the following page.
type listPayload struct {
	Result []callEntry  `json:"result"`
	Next   *json.Number `json:"next"`
	Total  int          `json:"total"`
}

// toSummary converts a raw entry to the domain CallSummary.
func (e callEntry) toSummary() model.CallSummary {
	direction := DirectionFromCallType(e.CallType)

	durationSec, _ := strconv.Atoi(e.CallDuration)
	startTime, err := time.Parse(time.RFC3339, e.CallStartDate)
	if err != nil {
		// Bitrix sometimes omits the timezone designator.
		startTime, _ = time.Parse("2006-01-02T15:04:05", e.CallStartDate)
	}

	from, to := e.PhoneNumber, e.PortalNumber
	if direction == model.DirectionOutbound {
		from, to = e.PortalNumber, e.PhoneNumber
	}

	return model.CallSummary{
		CallID:       e.CallID,
		RecordingID:  e.RecordID,
		Direction:    direction,
		StartTime:    startTime.UTC(),
		DurationSec:  durationSec,
		RecordingRef: e.RecordFileID,
		EmployeeID:   e.PortalUserID,
		FromNumber:   from,
		ToNumber:     to,
	}
}

// DirectionFromCallType maps the Voximplant CALL_TYPE code to a direction:
// 1 outbound, 2 inbound, 3 internal; callback variants count as inbound.
func DirectionFromCallType(callType string) model.CallDirection {
	switch callType {
	case "1":
		return model.DirectionOutbound
	case "3":
		return model.DirectionInternal
	default:
		return model.DirectionInbound
	}
}

// ListCalls pages through every call in the period, start-time descending,
// and invokes fn for each listed call. Listing is sequential: one page is in
// flight at a time so the pagination cursor keeps its ordering guarantee.
// startCursor resumes listing from a previously returned offset token; pass
// "" to start from the first page. An error from fn aborts the listing.
func (c *Client) ListCalls(ctx context.Context, runID string, period model.Period, startCursor string, fn func(model.CallSummary) error) error {
	params := url.Values{}
	params.Set("FILTER[DATE_FROM]", period.From.Format(time.RFC3339))
	params.Set("FILTER[DATE_TO]", period.To.Format(time.RFC3339))
	params.Set("SORT", "CALL_START_DATE")
	params.Set("ORDER", "DESC")
	if c.pageSize > 0 {
		params.Set("LIMIT", strconv.Itoa(c.pageSize))
	}

	cursor := startCursor
	total := 0
	logger.Infof("run=%s: listing calls for period %s.", runID, period.Label())

	for {
		pageParams := url.Values{}
		for k, v := range params {
			pageParams[k] = v
		}
		if cursor != "" {
			pageParams.Set("start", cursor)
		}

		payload, err := c.fetchPage(ctx, runID, pageParams)
		if err != nil {
			return err
		}

		for _, entry := range payload.Result {
			if entry.CallID == "" {
				continue
			}
			if err := fn(entry.toSummary()); err != nil {
				return err
			}
			total++
		}

		if payload.Next == nil {
			break
		}
		cursor = payload.Next.String()
	}

	logger.Infof("run=%s: listing complete, %d call(s) in period %s.", runID, total, period.Label())
	return nil
}

// fetchPage performs one listing request under the rate limit and retry policy.
func (c *Client) fetchPage(ctx context.Context, runID string, params url.Values) (*listPayload, error) {
	endpoint := c.methodURL(listingMethod)
	var payload *listPayload

	_, err := c.policy.Do(ctx, func() error {
		if err := c.throttle.wait(ctx); err != nil {
			return exception.NewExportError(stageName, "rate limiter interrupted", err, exception.KindTransient)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return exception.NewExportError(stageName, "failed to build listing request", err, exception.KindFatal)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return exception.NewExportError(stageName, "listing request failed", err, exception.KindTransient).WithCode("HTTP_TRANSPORT")
		}
		defer resp.Body.Close()

		if err := c.classifyStatus(runID, resp.StatusCode, "listing"); err != nil {
			return err
		}

		var page listPayload
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return exception.NewExportError(stageName, "failed to decode listing payload", err, exception.KindFatal).WithCode("BAD_PAYLOAD")
		}
		payload = &page
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// classifyStatus converts an HTTP status into the closed error-kind taxonomy.
func (c *Client) classifyStatus(runID string, status int, op string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return exception.NewExportErrorf(stageName, exception.KindFatal,
			"run=%s: source rejected credentials during %s (status %d)", runID, op, status).WithCode("AUTH_FAILED")
	case status == http.StatusTooManyRequests:
		c.throttle.observe429()
		return exception.NewExportErrorf(stageName, exception.KindQuotaExceeded,
			"run=%s: source rate limit hit during %s", runID, op).WithCode("HTTP_429")
	case status >= 500:
		return exception.NewExportErrorf(stageName, exception.KindTransient,
			"run=%s: source returned %d during %s", runID, status, op).WithCode(fmt.Sprintf("HTTP_%d", status))
	case status == http.StatusNotFound:
		// Retried like a transient failure; callers convert exhaustion
		// into a missing-audio outcome.
		return exception.NewExportErrorf(stageName, exception.KindTransient,
			"run=%s: source returned 404 during %s", runID, op).WithCode("HTTP_404")
	default:
		return exception.NewExportErrorf(stageName, exception.KindFatal,
			"run=%s: source returned unexpected status %d during %s", runID, status, op).WithCode(fmt.Sprintf("HTTP_%d", status))
	}
}

// ResolveRecording resolves the time-limited download URL for one recording.
// A recording that still cannot be found once retries are exhausted yields a
// not-found error; the caller marks the record missing_audio and the run
// continues.
func (c *Client) ResolveRecording(ctx context.Context, runID, callID, recordingID string) (string, error) {
	params := url.Values{}
	params.Set("CALL_ID", callID)
	if recordingID != "" {
		params.Set("RECORD_ID", recordingID)
	}
	endpoint := c.methodURL(recordingMethod)

	var resolved string
	_, err := c.policy.Do(ctx, func() error {
		if err := c.throttle.wait(ctx); err != nil {
			return exception.NewExportError(stageName, "rate limiter interrupted", err, exception.KindTransient)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return exception.NewExportError(stageName, "failed to build recording request", err, exception.KindFatal)
		}

		resp, err := c.resolveClient.Do(req)
		if err != nil {
			return exception.NewExportError(stageName, "recording request failed", err, exception.KindTransient).WithCode("HTTP_TRANSPORT")
		}
		defer resp.Body.Close()

		// The recording endpoint redirects to the file location.
		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			if loc == "" {
				return exception.NewExportErrorf(stageName, exception.KindTransient,
					"run=%s: recording redirect without location for call %s", runID, callID).WithCode("HTTP_404")
			}
			resolved = loc
			return nil
		}

		if err := c.classifyStatus(runID, resp.StatusCode, "recording resolution"); err != nil {
			return err
		}

		// Some portals answer with a JSON body carrying the URL instead
		// of redirecting.
		var body struct {
			Result string `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Result == "" {
			return exception.NewExportErrorf(stageName, exception.KindTransient,
				"run=%s: no recording reference for call %s", runID, callID).WithCode("HTTP_404")
		}
		resolved = body.Result
		return nil
	})
	if err != nil {
		if exception.CodeOf(err) == "HTTP_404" {
			return "", exception.NewExportErrorf(stageName, exception.KindNotFound,
				"run=%s: recording not found for call %s after retries", runID, callID).WithCode("HTTP_404")
		}
		return "", err
	}
	return resolved, nil
}

// DownloadRecording fetches the resolved recording URL and returns the raw
// audio bytes.
func (c *Client) DownloadRecording(ctx context.Context, runID, recordingURL string) ([]byte, int, error) {
	var data []byte
	retries, err := c.policy.Do(ctx, func() error {
		if err := c.throttle.wait(ctx); err != nil {
			return exception.NewExportError(stageName, "rate limiter interrupted", err, exception.KindTransient)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
		if err != nil {
			return exception.NewExportError(stageName, "failed to build download request", err, exception.KindFatal)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return exception.NewExportError(stageName, "recording download failed", err, exception.KindTransient).WithCode("HTTP_TRANSPORT")
		}
		defer resp.Body.Close()

		if err := c.classifyStatus(runID, resp.StatusCode, "recording download"); err != nil {
			return err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return exception.NewExportError(stageName, "failed to read recording body", err, exception.KindTransient).WithCode("HTTP_TRANSPORT")
		}
		data = body
		return nil
	})
	if err != nil {
		if exception.CodeOf(err) == "HTTP_404" {
			return nil, retries, exception.NewExportErrorf(stageName, exception.KindNotFound,
				"run=%s: recording body not found after retries", runID).WithCode("HTTP_404")
		}
		return nil, retries, err
	}
	return data, retries, nil
}

// InLowRateMode reports whether the client is currently throttled down after
// a 429 storm. Exposed for observability.
func (c *Client) InLowRateMode() bool {
	return c.throttle.inLowRateMode()
}
