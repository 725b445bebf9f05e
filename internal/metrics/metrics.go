// Package metrics exposes Prometheus instrumentation for the detection
// core, grounded on forgequant-context8-mcp/analytics's
// internal/instrumentation.Metrics (promauto constructors, labeled
// counters by component/kind).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the detection core emits,
// along with the registry they're registered against. Each Metrics has
// its own *prometheus.Registry rather than using the global default
// registerer, so New can be called more than once per process (tests,
// multiple symbol engines sharing one process) without a duplicate
// registration panic; internal/httpapi serves Registry via promhttp.
type Metrics struct {
	Registry *prometheus.Registry

	DiffsProcessed    *prometheus.CounterVec
	TradesProcessed   *prometheus.CounterVec
	ResyncsTotal      *prometheus.CounterVec
	SequenceGapsTotal *prometheus.CounterVec

	IcebergsDetected *prometheus.CounterVec
	IcebergsActive   *prometheus.GaugeVec
	AlgosDetected    *prometheus.CounterVec
	WhaleTradesTotal *prometheus.CounterVec

	VPINCurrent   *prometheus.GaugeVec
	BookLagMs     prometheus.Histogram
	EventsDropped *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec
}

// New creates a dedicated registry and registers every collector against
// it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		DiffsProcessed: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_diffs_processed_total",
			Help: "Total order book diff messages applied, by symbol.",
		}, []string{"symbol"}),

		TradesProcessed: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_trades_processed_total",
			Help: "Total trades processed, by symbol.",
		}, []string{"symbol"}),

		ResyncsTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_book_resyncs_total",
			Help: "Total order book resynchronizations, by symbol.",
		}, []string{"symbol"}),

		SequenceGapsTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_sequence_gaps_total",
			Help: "Total detected update-ID sequence gaps, by symbol.",
		}, []string{"symbol"}),

		IcebergsDetected: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_icebergs_detected_total",
			Help: "Total iceberg detection events, by symbol and side.",
		}, []string{"symbol", "side"}),

		IcebergsActive: fac.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coreengine_icebergs_active",
			Help: "Currently ACTIVE tracked iceberg levels, by symbol.",
		}, []string{"symbol"}),

		AlgosDetected: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_algos_detected_total",
			Help: "Total algorithmic-execution classifications, by symbol and class.",
		}, []string{"symbol", "class"}),

		WhaleTradesTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_whale_trades_total",
			Help: "Total trades classified into the whale cohort, by symbol.",
		}, []string{"symbol"}),

		VPINCurrent: fac.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coreengine_vpin_current",
			Help: "Most recent VPIN reading, by symbol.",
		}, []string{"symbol"}),

		BookLagMs: fac.NewHistogram(prometheus.HistogramOpts{
			Name:    "coreengine_book_event_lag_ms",
			Help:    "Delay between exchange event time and local processing time, in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),

		EventsDropped: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_events_dropped_total",
			Help: "Total emitted/persisted events dropped due to a full channel, by component.",
		}, []string{"component"}),

		ErrorsTotal: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_errors_total",
			Help: "Total errors by component and error type.",
		}, []string{"component", "error_type"}),
	}
}

// RecordDiff increments the diff counter for a symbol.
func (m *Metrics) RecordDiff(symbol string) { m.DiffsProcessed.WithLabelValues(symbol).Inc() }

// RecordTrade increments the trade counter for a symbol.
func (m *Metrics) RecordTrade(symbol string) { m.TradesProcessed.WithLabelValues(symbol).Inc() }

// RecordResync increments the resync counter for a symbol.
func (m *Metrics) RecordResync(symbol string) { m.ResyncsTotal.WithLabelValues(symbol).Inc() }

// RecordSequenceGap increments the sequence-gap counter for a symbol.
func (m *Metrics) RecordSequenceGap(symbol string) {
	m.SequenceGapsTotal.WithLabelValues(symbol).Inc()
}

// RecordIcebergDetected increments the detection counter for a symbol/side.
func (m *Metrics) RecordIcebergDetected(symbol, side string) {
	m.IcebergsDetected.WithLabelValues(symbol, side).Inc()
}

// SetIcebergsActive sets the current ACTIVE-level gauge for a symbol.
func (m *Metrics) SetIcebergsActive(symbol string, count int) {
	m.IcebergsActive.WithLabelValues(symbol).Set(float64(count))
}

// RecordAlgoDetected increments the algo-classification counter.
func (m *Metrics) RecordAlgoDetected(symbol, class string) {
	m.AlgosDetected.WithLabelValues(symbol, class).Inc()
}

// RecordWhaleTrade increments the whale-cohort trade counter for a symbol.
func (m *Metrics) RecordWhaleTrade(symbol string) { m.WhaleTradesTotal.WithLabelValues(symbol).Inc() }

// SetVPIN sets the current VPIN gauge for a symbol.
func (m *Metrics) SetVPIN(symbol string, vpin float64) { m.VPINCurrent.WithLabelValues(symbol).Set(vpin) }

// RecordBookLag observes a book event's processing lag.
func (m *Metrics) RecordBookLag(lagMs float64) { m.BookLagMs.Observe(lagMs) }

// RecordEventDropped increments the dropped-event counter for a component.
func (m *Metrics) RecordEventDropped(component string) {
	m.EventsDropped.WithLabelValues(component).Inc()
}

// RecordError increments the error counter for a component/error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
