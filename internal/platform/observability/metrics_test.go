package observability

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ChunksIngested.WithLabelValues("microphone", "admitted").Inc()
	m.ChunksIngested.WithLabelValues("microphone", "admitted").Inc()
	m.QueueDrops.Inc()

	if got := testutil.ToFloat64(m.ChunksIngested.WithLabelValues("microphone", "admitted")); got != 2 {
		t.Fatalf("chunks counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.QueueDrops); got != 1 {
		t.Fatalf("queue drops = %v, want 1", got)
	}
}

func TestRecordMetricFeedsEventsCounter(t *testing.T) {
	before := testutil.ToFloat64(Default().Events.WithLabelValues("test.metric"))
	RecordMetric(context.Background(), "test.metric", 3, map[string]string{"k": "v"})
	after := testutil.ToFloat64(Default().Events.WithLabelValues("test.metric"))
	if after-before != 3 {
		t.Fatalf("events delta = %v, want 3", after-before)
	}
}

func TestHandlerServesDefaultRegistry(t *testing.T) {
	Default().ActiveSessions.Set(1)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "meetscribe_active_sessions") {
		t.Fatal("exposition missing meetscribe_active_sessions")
	}
}

func TestStartSpanWithoutLogger(t *testing.T) {
	ctx, end := StartSpan(context.Background(), "test", "noop")
	if ctx == nil {
		t.Fatal("nil context")
	}
	end(nil)
}
