package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCountAndServe(t *testing.T) {
	m := New()
	m.Verdict(true, "")
	m.Verdict(false, "DEVICE_LIMIT_REACHED")
	m.Verdict(false, "DEVICE_LIMIT_REACHED")
	m.SetPending(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.verdicts.WithLabelValues("deny", "DEVICE_LIMIT_REACHED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pendingRecords))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "trialguard_verdicts_total")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Verdict(true, "")
	m.RecordFailure("increment")
	m.AdminAction("device", "reset")
	m.StoreTimeout()
	m.SetPending(1)
}
