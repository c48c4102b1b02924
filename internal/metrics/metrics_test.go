package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sa "github.com/panyam/secretauth"
	"github.com/panyam/secretauth/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ sa.Observer = (*metrics.Collector)(nil)

func TestCollectorCounts(t *testing.T) {
	c := metrics.New()
	c.ObserveAuth("local", sa.OutcomeSuccess)
	c.ObserveAuth("local", sa.OutcomeSuccess)
	c.ObserveAuth("local", sa.OutcomeFailure)
	c.ObserveAuth("google", sa.OutcomeConflict)
	c.ObserveSession(sa.SessionIssued)

	expected := `
# HELP secretauth_auth_attempts_total Authentication attempts by method and outcome
# TYPE secretauth_auth_attempts_total counter
secretauth_auth_attempts_total{method="google",outcome="conflict"} 1
secretauth_auth_attempts_total{method="local",outcome="failure"} 1
secretauth_auth_attempts_total{method="local",outcome="success"} 2
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "secretauth_auth_attempts_total"))
	n, err := testutil.GatherAndCount(c.Registry(), "secretauth_session_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollectorNamespaceAndRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(metrics.WithNamespace("app"), metrics.WithRegistry(reg))
	c.ObserveSession(sa.SessionRevoked)

	n, err := testutil.GatherAndCount(reg, "app_session_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMiddlewareAndHandler(t *testing.T) {
	c := metrics.New(metrics.WithBuckets([]float64{0.1, 1}))
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	c.ObserveAuth("local", sa.OutcomeSuccess)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)

	assert.Contains(t, string(body), `secretauth_http_request_duration_seconds_count{code="418",method="get"} 1`)
	assert.Contains(t, string(body), `secretauth_auth_attempts_total{method="local",outcome="success"} 1`)
}
