package metrics

import (
	"fmt"
	"net/http"
	"strings"
)

// Metrics holds the evaluation service metrics.
type Metrics struct {
	EvaluationsTotal  *Counter
	EvaluationErrors  *CounterVec // labels: code
	SamplesAggregated *Counter
	QueriesValid      *CounterVec // labels: protocol
	QueriesSkipped    *CounterVec // labels: protocol
	LastTop1          *GaugeVec   // labels: protocol
	LastDuration      *Gauge
	BusPublished      *CounterVec // labels: topic
	BusPublishErrors  *CounterVec // labels: topic
}

// New creates a metrics instance with every metric registered.
func New() *Metrics {
	return &Metrics{
		EvaluationsTotal: NewCounter(
			"reid_evaluations_total",
			"Total number of completed evaluation runs",
		),
		EvaluationErrors: NewCounterVec(
			"reid_evaluation_errors_total",
			"Evaluation runs that failed, by error code",
			"code",
		),
		SamplesAggregated: NewCounter(
			"reid_samples_aggregated_total",
			"Embeddings merged into feature stores",
		),
		QueriesValid: NewCounterVec(
			"reid_queries_valid_total",
			"Queries that contributed to a CMC curve",
			"protocol",
		),
		QueriesSkipped: NewCounterVec(
			"reid_queries_skipped_total",
			"Queries without a valid gallery match",
			"protocol",
		),
		LastTop1: NewGaugeVec(
			"reid_last_top1",
			"Top-1 CMC score of the most recent run",
			"protocol",
		),
		LastDuration: NewGauge(
			"reid_last_evaluation_seconds",
			"Wall time of the most recent evaluation run",
		),
		BusPublished: NewCounterVec(
			"reid_bus_published_total",
			"Events published on the bus",
			"topic",
		),
		BusPublishErrors: NewCounterVec(
			"reid_bus_publish_errors_total",
			"Bus publishes that failed",
			"topic",
		),
	}
}

// RecordBusPublish counts one publish attempt on topic.
func (m *Metrics) RecordBusPublish(topic string, latencyMs int64, err error) {
	m.BusPublished.With(topic).Inc()
	if err != nil {
		m.BusPublishErrors.With(topic).Inc()
	}
}

// PrometheusFormat exports all metrics in Prometheus text exposition format.
func (m *Metrics) PrometheusFormat() string {
	var sb strings.Builder

	writeCounter(&sb, m.EvaluationsTotal)
	writeCounterVec(&sb, m.EvaluationErrors)
	writeCounter(&sb, m.SamplesAggregated)
	writeCounterVec(&sb, m.QueriesValid)
	writeCounterVec(&sb, m.QueriesSkipped)
	writeGaugeVec(&sb, m.LastTop1)
	writeGauge(&sb, m.LastDuration)
	writeCounterVec(&sb, m.BusPublished)
	writeCounterVec(&sb, m.BusPublishErrors)

	return sb.String()
}

// Handler serves the Prometheus exposition.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(m.PrometheusFormat()))
	}
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

func writeCounter(sb *strings.Builder, c *Counter) {
	writeHeader(sb, c.name, c.help, "counter")
	fmt.Fprintf(sb, "%s %d\n", c.name, c.Value())
}

func writeGauge(sb *strings.Builder, g *Gauge) {
	writeHeader(sb, g.name, g.help, "gauge")
	fmt.Fprintf(sb, "%s %g\n", g.name, g.Value())
}

func writeCounterVec(sb *strings.Builder, v *CounterVec) {
	writeHeader(sb, v.name, v.help, "counter")
	values := v.Values()
	for _, k := range sortedKeys(values) {
		fmt.Fprintf(sb, "%s{%s=%q} %d\n", v.name, v.label, k, values[k])
	}
}

func writeGaugeVec(sb *strings.Builder, v *GaugeVec) {
	writeHeader(sb, v.name, v.help, "gauge")
	values := v.Values()
	for _, k := range sortedKeys(values) {
		fmt.Fprintf(sb, "%s{%s=%q} %g\n", v.name, v.label, k, values[k])
	}
}
