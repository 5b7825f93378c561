package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(invalidationCounter.WithLabelValues("calendar", "mutation"))
	RecordInvalidation("calendar", "mutation")
	assert.InDelta(t, before+1, testutil.ToFloat64(invalidationCounter.WithLabelValues("calendar", "mutation")), 0.001)

	RecordConfirmation("proposed", true)
	assert.InDelta(t, 1.0, testutil.ToFloat64(pendingGauge), 0.001)
	RecordConfirmation("cancelled", false)
	assert.InDelta(t, 0.0, testutil.ToFloat64(pendingGauge), 0.001)

	before = testutil.ToFloat64(pollCounter.WithLabelValues("RETRYABLE"))
	RecordProbe("RETRYABLE")
	assert.InDelta(t, before+1, testutil.ToFloat64(pollCounter.WithLabelValues("RETRYABLE")), 0.001)
}

func TestHandler_ServesCollectors(t *testing.T) {
	RecordRetry(http.MethodGet)
	RecordPollStop("max_attempts")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "coach_go_http_retries_total")
	assert.Contains(t, string(body), "coach_go_poll_stops_total")
}
