package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects run metrics on a private registry. A one-shot process
// exports them with WriteTextfile for the node_exporter textfile collector.
type Recorder struct {
	registry  *prometheus.Registry
	records   *prometheus.CounterVec
	pages     *prometheus.CounterVec
	throttles *prometheus.CounterVec
	lastRun   *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphsync_records_total",
			Help: "Records processed, by stream and reconciliation outcome",
		}, []string{"stream", "outcome"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphsync_pages_total",
			Help: "Result pages fetched, by stream",
		}, []string{"stream"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphsync_throttles_total",
			Help: "Throttled responses retried, by stream",
		}, []string{"stream"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graphsync_last_run_timestamp_seconds",
			Help: "Unix time a stream run last finished, by final state",
		}, []string{"stream", "state"}),
	}
	r.registry.MustRegister(r.records, r.pages, r.throttles, r.lastRun)
	return r
}

func (r *Recorder) PageFetched(stream string) {
	r.pages.WithLabelValues(stream).Inc()
}

func (r *Recorder) Throttled(stream string) {
	r.throttles.WithLabelValues(stream).Inc()
}

func (r *Recorder) RecordOutcome(stream, outcome string) {
	r.records.WithLabelValues(stream, outcome).Inc()
}

func (r *Recorder) RunFinished(stream, state string, at time.Time) {
	r.lastRun.WithLabelValues(stream, state).Set(float64(at.Unix()))
}

// WriteTextfile atomically writes the current metrics in text format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
