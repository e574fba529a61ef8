package bitrix

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/support/exception"
)

func testClient(baseURL string) *Client {
	return NewClient(config.SourceConfig{
		BaseURL:               baseURL,
		UserID:                "17",
		Token:                 "test-token",
		PageSize:              50,
		RateLimitRPS:          1000,
		LowRateRPS:            1,
		LowRateWindowSeconds:  1,
		RequestTimeoutSeconds: 5,
		Retry: config.SourceRetryConfig{
			MaxAttempts:    5,
			BackoffSeconds: []int{0, 0, 0, 0, 0},
		},
	})
}

func testPeriod() model.Period {
	return model.NewPeriod(
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	)
}

func TestMethodURL(t *testing.T) {
	c := testClient("https://portal.example.com/rest")
	assert.Equal(t,
		"https://portal.example.com/rest/17/test-token/voximplant.statistic.get.json",
		c.methodURL(listingMethod))

	c = testClient("https://portal.example.com/")
	assert.Equal(t,
		"https://portal.example.com/rest/17/test-token/telephony.recording.get",
		c.methodURL(recordingMethod))
}

func TestListCalls_PaginatesWithStartToken(t *testing.T) {
	var starts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		starts = append(starts, r.URL.Query().Get("start"))
		assert.NotEmpty(t, r.URL.Query().Get("FILTER[DATE_FROM]"))
		assert.Equal(t, "50", r.URL.Query().Get("LIMIT"))

		switch r.URL.Query().Get("start") {
		case "":
			fmt.Fprint(w, `{"result":[
				{"ID":"1","CALL_ID":"call-1","CALL_TYPE":"2","PHONE_NUMBER":"+79161234567","PORTAL_NUMBER":"+74950000001","CALL_DURATION":"120","CALL_START_DATE":"2025-01-02T10:00:00+03:00","RECORD_FILE_ID":"rec-1","PORTAL_USER_ID":"7"}
			],"next":50,"total":2}`)
		case "50":
			fmt.Fprint(w, `{"result":[
				{"ID":"2","CALL_ID":"call-2","CALL_TYPE":"1","PHONE_NUMBER":"+79160000002","PORTAL_NUMBER":"+74950000001","CALL_DURATION":"30","CALL_START_DATE":"2025-01-01T09:00:00+03:00"}
			],"total":2}`)
		default:
			t.Fatalf("unexpected start token %q", r.URL.Query().Get("start"))
		}
	}))
	defer srv.Close()

	var listed []model.CallSummary
	err := testClient(srv.URL).ListCalls(context.Background(), "run-1", testPeriod(), "", func(s model.CallSummary) error {
		listed = append(listed, s)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, []string{"", "50"}, starts)

	// inbound: from is the external number
	assert.Equal(t, "call-1", listed[0].CallID)
	assert.Equal(t, model.DirectionInbound, listed[0].Direction)
	assert.Equal(t, "+79161234567", listed[0].FromNumber)
	assert.Equal(t, "+74950000001", listed[0].ToNumber)
	assert.Equal(t, 120, listed[0].DurationSec)
	assert.Equal(t, "rec-1", listed[0].RecordingID)

	// outbound: from is the portal number
	assert.Equal(t, model.DirectionOutbound, listed[1].Direction)
	assert.Equal(t, "+74950000001", listed[1].FromNumber)
}

func TestListCalls_SendsConfiguredPageSize(t *testing.T) {
	var limits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limits = append(limits, r.URL.Query().Get("LIMIT"))
		fmt.Fprint(w, `{"result":[],"total":0}`)
	}))
	defer srv.Close()

	c := NewClient(config.SourceConfig{
		BaseURL:               srv.URL,
		UserID:                "17",
		Token:                 "test-token",
		PageSize:              25,
		RateLimitRPS:          1000,
		LowRateRPS:            1,
		LowRateWindowSeconds:  1,
		RequestTimeoutSeconds: 5,
		Retry:                 config.SourceRetryConfig{MaxAttempts: 1, BackoffSeconds: []int{0}},
	})
	err := c.ListCalls(context.Background(), "run-1", testPeriod(), "", func(model.CallSummary) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"25"}, limits)
}

func TestListCalls_RetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"result":[],"total":0}`)
	}))
	defer srv.Close()

	err := testClient(srv.URL).ListCalls(context.Background(), "run-1", testPeriod(), "", func(model.CallSummary) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestListCalls_AuthFailureIsFatalAndNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := testClient(srv.URL).ListCalls(context.Background(), "run-1", testPeriod(), "", func(model.CallSummary) error {
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, exception.KindFatal, exception.KindOf(err))
	assert.Equal(t, "AUTH_FAILED", exception.CodeOf(err))
}

func TestResolveRecording_FollowsRedirectLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "call-1", r.URL.Query().Get("CALL_ID"))
		assert.Equal(t, "rec-1", r.URL.Query().Get("RECORD_ID"))
		w.Header().Set("Location", "https://files.example.com/rec-1.mp3")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	url, err := testClient(srv.URL).ResolveRecording(context.Background(), "run-1", "call-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/rec-1.mp3", url)
}

func TestResolveRecording_NotFoundAfterRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ResolveRecording(context.Background(), "run-1", "call-1", "rec-1")
	require.Error(t, err)
	assert.Equal(t, 5, attempts, "404 is retried through the full schedule")
	assert.True(t, exception.IsNotFound(err))
	assert.Equal(t, "HTTP_404", exception.CodeOf(err))
}

func TestDownloadRecording_ReturnsBytesAndRetryCount(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	data, retries, err := testClient(srv.URL).DownloadRecording(context.Background(), "run-1", srv.URL+"/rec.mp3")
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))
	assert.Equal(t, 1, retries)
}

func TestThrottle_SwitchesToLowRateOn429Storm(t *testing.T) {
	th := newThrottle(100, 1, time.Minute)
	assert.False(t, th.inLowRateMode())

	th.observe429()
	th.observe429()
	assert.False(t, th.inLowRateMode())
	th.observe429()
	assert.True(t, th.inLowRateMode())
}
