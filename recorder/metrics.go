package recorder

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by a recording session.
type Metrics struct {
	// Frame metrics
	FramesCaptured prometheus.Counter
	FramesEncoded  prometheus.Counter

	// Output metrics
	PacketsWritten prometheus.Counter
	BytesWritten   prometheus.Counter

	// Stage latency
	StageDuration *prometheus.HistogramVec

	// Pacing
	CycleOverruns prometheus.Counter

	// Session
	SessionState prometheus.Gauge
	Failures     *prometheus.CounterVec
}

// NewMetrics registers the session collectors on reg. A nil reg uses a
// private registry so that several sessions can coexist in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "screenrec"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Total number of frames captured from the display",
		}),
		FramesEncoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_encoded_total",
			Help:      "Total number of frames submitted to the encoder",
		}),

		PacketsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_written_total",
			Help:      "Total number of compressed packets written to the container",
		}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Total compressed payload bytes written to the container",
		}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Histogram of per-frame pipeline stage durations",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"stage"}),

		CycleOverruns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_overruns_total",
			Help:      "Total number of capture cycles that exceeded the frame period",
		}),

		SessionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state (0 initializing, 1 running, 2 flushing, 3 finalized, 4 aborted)",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of session failures by stage",
		}, []string{"stage"}),
	}
}

func (m *Metrics) observeStage(stage Stage, start time.Time, now time.Time) {
	m.StageDuration.WithLabelValues(string(stage)).Observe(now.Sub(start).Seconds())
}
