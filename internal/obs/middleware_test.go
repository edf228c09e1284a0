package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusRecorderCapturesStatusAndBytes(t *testing.T) {
	rec := NewStatusRecorder(httptest.NewRecorder())
	rec.WriteHeader(http.StatusTeapot)
	n, err := rec.Write([]byte("short and stout"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status() != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Status())
	}
	if rec.BytesWritten() != int64(n) {
		t.Fatalf("expected %d bytes recorded, got %d", n, rec.BytesWritten())
	}
}

func TestHTTPObsCountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewHTTPMetrics("billing_test", nil, reg)
	handler := HTTPObs{Metrics: metrics}.Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))

	req := httptest.NewRequest(http.MethodPost, "/quotes/compute", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "unknown", "202"))
	if got != 1 {
		t.Fatalf("expected one counted request, got %v", got)
	}
}
