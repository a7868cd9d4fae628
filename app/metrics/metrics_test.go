package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSource(t *testing.T) {
	m := New()

	m.ObserveSource("campus", 3, 2, 1, "", time.Second)
	m.ObserveSource("campus", 1, 0, 0, "", time.Second)
	m.ObserveSource("chat", 0, 0, 0, "fetching", time.Second)

	if got := testutil.ToFloat64(m.ingestedEvents.WithLabelValues("campus")); got != 4 {
		t.Errorf("Expected 4 ingested events, got %v", got)
	}
	if got := testutil.ToFloat64(m.duplicateEvents.WithLabelValues("campus")); got != 2 {
		t.Errorf("Expected 2 duplicates, got %v", got)
	}
	if got := testutil.ToFloat64(m.sourceFailures.WithLabelValues("chat", "fetching")); got != 1 {
		t.Errorf("Expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastSuccessTS.WithLabelValues("campus")); got == 0 {
		t.Error("Expected last success timestamp to be set")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveDigest("08:00", true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `concierge_digests_total{kind="08:00",status="sent"} 1`) {
		t.Errorf("Expected digest counter in output, got:\n%s", body)
	}
}
