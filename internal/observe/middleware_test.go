package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMiddleware_RecordsDurationAndStatus(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}

	rm := collect(t, reader)
	md := findMetric(rm, "voxbridge.http.request.duration")
	if md == nil {
		t.Fatal("voxbridge.http.request.duration metric not found")
	}
	hist, ok := md.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("expected one observation, got %+v", hist.DataPoints)
	}
}

func TestMiddleware_PassesRequestThrough(t *testing.T) {
	m, _ := newTestMetrics(t)

	var gotPath string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotPath != "/ws" {
		t.Errorf("handler saw path %q, want /ws", gotPath)
	}
}
