package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCounter_NeverDecreases(t *testing.T) {
	c := NewCounter("test_total", "help")
	c.Inc()
	c.Add(4)
	c.Add(-10)

	if c.Value() != 5 {
		t.Errorf("Value() = %d, want 5", c.Value())
	}
}

func TestGauge_HoldsFractions(t *testing.T) {
	g := NewGauge("test_gauge", "help")
	g.Set(0.875)

	if g.Value() != 0.875 {
		t.Errorf("Value() = %v, want 0.875", g.Value())
	}
}

func TestCounterVec_ConcurrentWith(t *testing.T) {
	v := NewCounterVec("test_total", "help", "protocol")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.With("new").Inc()
		}()
	}
	wg.Wait()

	if got := v.Values()["new"]; got != 50 {
		t.Errorf("Values()[new] = %d, want 50", got)
	}
}

func TestMetrics_PrometheusFormat(t *testing.T) {
	m := New()
	m.EvaluationsTotal.Inc()
	m.QueriesSkipped.With("cuhk03").Add(3)
	m.LastTop1.With("new").Set(0.5)

	out := m.PrometheusFormat()

	wants := []string{
		"# TYPE reid_evaluations_total counter",
		"reid_evaluations_total 1",
		`reid_queries_skipped_total{protocol="cuhk03"} 3`,
		`reid_last_top1{protocol="new"} 0.5`,
	}
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("PrometheusFormat() missing %q\n%s", want, out)
		}
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", rec.Header().Get("Content-Type"))
	}
}

func TestMetrics_RecordBusPublish(t *testing.T) {
	m := New()
	m.RecordBusPublish("features.batch", 2, nil)
	m.RecordBusPublish("features.batch", 3, errors.New("broker down"))

	if got := m.BusPublished.With("features.batch").Value(); got != 2 {
		t.Errorf("BusPublished = %d, want 2", got)
	}
	if got := m.BusPublishErrors.With("features.batch").Value(); got != 1 {
		t.Errorf("BusPublishErrors = %d, want 1", got)
	}
}
