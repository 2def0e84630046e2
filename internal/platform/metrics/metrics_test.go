package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ingestCounters(t *testing.T) {
	m := New()
	m.ObserveIngest(time.Millisecond, 10)
	m.ObserveIngest(time.Millisecond, 0)
	m.IncAnomaly("empty_frame")
	m.IncAnomaly("empty_frame")
	m.IncAnomaly("short_frame")

	if got := testutil.ToFloat64(m.framesTotal); got != 2 {
		t.Errorf("frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.samplesTotal); got != 10 {
		t.Errorf("samples = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.anomaliesTotal.WithLabelValues("empty_frame")); got != 2 {
		t.Errorf("empty_frame anomalies = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.anomaliesTotal.WithLabelValues("short_frame")); got != 1 {
		t.Errorf("short_frame anomalies = %v, want 1", got)
	}
}

func TestMetrics_Handler_updates_gauges(t *testing.T) {
	m := New()
	called := false
	h := m.Handler(func() {
		called = true
		m.SetLiveClients(3)
		m.SetBuffered(120, 4000)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !called {
		t.Error("updateGauges not called before scrape")
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"dcmini_live_clients 3", "dcmini_buffered_samples 120", "dcmini_latest_frame_timestamp_ms 4000"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	ok := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bad := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	bad.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := testutil.ToFloat64(m.requestsTotal); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}
