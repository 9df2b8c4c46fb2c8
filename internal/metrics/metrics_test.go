package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollector(registry)

	c.RecordLoginAllowed(10 * time.Millisecond)
	c.RecordLoginAllowed(20 * time.Millisecond)
	c.RecordLoginDenied("missing_role", 5*time.Millisecond)
	c.RecordAccountDeleted()
	c.RecordRoleResync("ok")
	c.RecordRoleResync("error")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.loginAllowed))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.loginDenied.WithLabelValues("missing_role")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.loginDenied.WithLabelValues("invalid_code")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.accountsWiped))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.roleResyncs.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.roleResyncs.WithLabelValues("error")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollector(registry)
	c.RecordLoginAllowed(time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "discordgate_login_allowed_total 1")
	assert.Contains(t, body, "discordgate_login_latency_seconds_count 1")
}
