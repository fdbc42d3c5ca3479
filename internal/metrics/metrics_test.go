package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.PointsTotal.WithLabelValues("RTBAR").Inc()
	m.ResolveOutcomes.WithLabelValues("accepted").Add(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			found[f.GetName()] += metric.GetCounter().GetValue()
		}
	}
	if found["ylined_resolve_outcomes_total"] != 2 {
		t.Errorf("expected 2 accepted, got %v", found["ylined_resolve_outcomes_total"])
	}
	if found["ylined_points_total"] != 1 {
		t.Errorf("expected 1 point, got %v", found["ylined_points_total"])
	}
}

func TestHealthz(t *testing.T) {
	cases := []struct {
		name       string
		feed       bool
		redis      bool
		sqlite     bool
		wantStatus string
		wantCode   int
	}{
		{"all up", true, true, true, "healthy", http.StatusOK},
		{"redis down", true, false, true, "degraded", http.StatusOK},
		{"feed down", false, true, true, "degraded", http.StatusOK},
		{"sqlite down", true, true, false, "unhealthy", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h := NewHealthStatus()
		h.SetFeedConnected(tc.feed)
		h.SetRedisConnected(tc.redis)
		h.SetSQLiteOK(tc.sqlite)
		h.SetLastPointTime(time.Now())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != tc.wantCode {
			t.Errorf("%s: expected code %d, got %d", tc.name, tc.wantCode, rec.Code)
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if body.Status != tc.wantStatus {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.wantStatus, body.Status)
		}
	}
}
