package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunStats is the end-of-run snapshot exported to the textfile.
type RunStats struct {
	Mode          string
	TestType      string
	Succeeded     bool
	Duration      time.Duration
	CasesByStatus map[string]int
	Warnings      int
	Errors        int
}

// RunRecorder holds last-run gauges in a private registry so that a batch
// invocation can publish them through node_exporter's textfile collector.
type RunRecorder struct {
	registry  *prometheus.Registry
	cases     *prometheus.GaugeVec
	problems  *prometheus.GaugeVec
	duration  *prometheus.GaugeVec
	success   *prometheus.GaugeVec
	completed *prometheus.GaugeVec
}

// NewRunRecorder registers the last-run gauges.
func NewRunRecorder() *RunRecorder {
	labels := []string{"mode", "test_type"}
	r := &RunRecorder{
		registry: prometheus.NewRegistry(),
		cases: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "casesmith_last_run_cases",
			Help: "Test cases in the last run by review status",
		}, append(labels, "status")),
		problems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "casesmith_last_run_problems",
			Help: "Errors recorded in the last run by severity",
		}, append(labels, "severity")),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "casesmith_last_run_duration_seconds",
			Help: "Wall-clock duration of the last run",
		}, labels),
		success: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "casesmith_last_run_success",
			Help: "1 if the last run assembled its output, 0 otherwise",
		}, labels),
		completed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "casesmith_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}, labels),
	}
	r.registry.MustRegister(r.cases, r.problems, r.duration, r.success, r.completed)
	return r
}

// Record overwrites the gauges with stats.
func (r *RunRecorder) Record(stats RunStats) {
	base := prometheus.Labels{"mode": stats.Mode, "test_type": stats.TestType}

	for status, n := range stats.CasesByStatus {
		r.cases.With(merge(base, "status", status)).Set(float64(n))
	}
	r.problems.With(merge(base, "severity", "warning")).Set(float64(stats.Warnings))
	r.problems.With(merge(base, "severity", "error")).Set(float64(stats.Errors))
	r.duration.With(base).Set(stats.Duration.Seconds())
	if stats.Succeeded {
		r.success.With(base).Set(1)
	} else {
		r.success.With(base).Set(0)
	}
	r.completed.With(base).SetToCurrentTime()
}

// WriteTextfile atomically writes the registry in Prometheus text format.
func (r *RunRecorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// Gatherer exposes the registry for tests and embedding callers.
func (r *RunRecorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

func merge(base prometheus.Labels, key, value string) prometheus.Labels {
	out := make(prometheus.Labels, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}
