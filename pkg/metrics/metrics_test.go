package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(transitions.WithLabelValues("pending", "applied"))
	RecordTransition("pending", "applied")
	assert.Equal(t, before+1, testutil.ToFloat64(transitions.WithLabelValues("pending", "applied")))
}

func TestRecordError(t *testing.T) {
	before := testutil.ToFloat64(operationErrors.WithLabelValues("approve", "conflict"))
	RecordError("approve", "conflict")
	assert.Equal(t, before+1, testutil.ToFloat64(operationErrors.WithLabelValues("approve", "conflict")))
}

func TestRecordDelivery(t *testing.T) {
	okBefore := testutil.ToFloat64(notificationDeliveries.WithLabelValues("ops", "success"))
	errBefore := testutil.ToFloat64(notificationDeliveries.WithLabelValues("ops", "error"))

	RecordDelivery("ops", nil)
	RecordDelivery("ops", errors.New("timeout"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(notificationDeliveries.WithLabelValues("ops", "success")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(notificationDeliveries.WithLabelValues("ops", "error")))
}

func TestObserveApply(t *testing.T) {
	ObserveApply("update", time.Now(), nil)
	assert.Equal(t, 1, testutil.CollectAndCount(applyLatency, "ekaya_review_engine_apply_duration_seconds"))
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET /health", "503"))
	RecordHTTPRequest("GET /health", 503)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET /health", "503")))
}
