package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountersIncrement(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordRequest("/api/conversations", "GET", 200, 15*time.Millisecond)
	m.RecordRequest("/api/conversations", "GET", 200, 5*time.Millisecond)
	m.RecordUploadDecision("rejected")
	m.RecordSweepAction("warned")

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/api/conversations", "GET", "200")); got != 2 {
		t.Fatalf("requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.uploads.WithLabelValues("rejected")); got != 1 {
		t.Fatalf("uploads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sweepActions.WithLabelValues("warned")); got != 1 {
		t.Fatalf("sweep actions = %v, want 1", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordError("/", "GET", "X")
	m.ConnectionOpened()
	m.RecordDroppedFrame()
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have nil registry")
	}
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	t.Parallel()

	a := NewMetrics()
	b := NewMetrics()
	a.ConnectionOpened()
	if got := testutil.ToFloat64(b.connections); got != 0 {
		t.Fatalf("registries share state: %v", got)
	}
}
