package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/annotate"
	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/pkg/types"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesReceived    atomic.Uint64
	FramesAnnotated   atomic.Uint64
	FramesPassthrough atomic.Uint64
	FramesDropped     atomic.Uint64

	// Error counters
	InferenceErrors atomic.Uint64
	DecodeErrors    atomic.Uint64

	Detections atomic.Uint64

	// Latency tracking
	InferenceLatencyMs      atomic.Uint64 // Last inference latency in ms
	InferenceBudgetOverruns atomic.Uint64

	// Session tracking
	ActiveSessions atomic.Uint64
	TotalSessions  atomic.Uint64

	ModelLoaded atomic.Uint64 // 0 = disabled, 1 = active

	registry *prometheus.Registry
}

type gauge struct {
	name string
	help string
	v    *atomic.Uint64
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []gauge{
		{"sdds_frames_received_total", "Total frames received for annotation", &m.FramesReceived},
		{"sdds_frames_annotated_total", "Total frames returned with overlays", &m.FramesAnnotated},
		{"sdds_frames_passthrough_total", "Total frames returned unchanged", &m.FramesPassthrough},
		{"sdds_frames_dropped_total", "Total frames dropped because a consumer was behind", &m.FramesDropped},
		{"sdds_inference_errors_total", "Total failed inference calls", &m.InferenceErrors},
		{"sdds_decode_errors_total", "Total frames that could not be decoded", &m.DecodeErrors},
		{"sdds_detections_total", "Total detections drawn", &m.Detections},
		{"sdds_inference_latency_ms", "Last inference latency in milliseconds", &m.InferenceLatencyMs},
		{"sdds_inference_budget_overruns_total", "Frames whose inference exceeded the latency budget", &m.InferenceBudgetOverruns},
		{"sdds_active_sessions", "Number of active live feed sessions", &m.ActiveSessions},
		{"sdds_total_sessions", "Total live feed sessions started", &m.TotalSessions},
		{"sdds_model_loaded", "Detection model loaded (0=disabled, 1=active)", &m.ModelLoaded},
	}
	for _, g := range gauges {
		v := g.v
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(v.Load()) },
		))
	}
}

// RecordResult accounts for one processed frame.
func (m *Metrics) RecordResult(r annotate.Result) {
	m.FramesReceived.Add(1)
	if r.Annotated {
		m.FramesAnnotated.Add(1)
		m.Detections.Add(uint64(len(r.Detections)))
	} else {
		m.FramesPassthrough.Add(1)
	}
	switch {
	case r.Err == nil:
	case errors.Is(r.Err, types.ErrMalformedFrame):
		m.DecodeErrors.Add(1)
	default:
		m.InferenceErrors.Add(1)
	}
	if r.OverBudget {
		m.InferenceBudgetOverruns.Add(1)
	}
	m.UpdateInferenceLatency(r.Elapsed)
}

// UpdateInferenceLatency stores the latest inference latency
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetModelLoaded records whether the processor is active.
func (m *Metrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoaded.Store(1)
		return
	}
	m.ModelLoaded.Store(0)
}

// SessionStarted and SessionEnded track live feed sessions.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Add(1)
	m.TotalSessions.Add(1)
}

func (m *Metrics) SessionEnded() {
	for {
		cur := m.ActiveSessions.Load()
		if cur == 0 || m.ActiveSessions.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
