package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestMetrics_RecordDiffIncrementsBySymbol(t *testing.T) {
	m := New()
	m.RecordDiff("BTCUSDT")
	m.RecordDiff("BTCUSDT")
	m.RecordDiff("ETHUSDT")

	if got := counterValue(t, m.DiffsProcessed.WithLabelValues("BTCUSDT")); got != 2 {
		t.Errorf("BTCUSDT diffs = %v, want 2", got)
	}
	if got := counterValue(t, m.DiffsProcessed.WithLabelValues("ETHUSDT")); got != 1 {
		t.Errorf("ETHUSDT diffs = %v, want 1", got)
	}
}

func TestMetrics_SetIcebergsActiveReflectsLatestValue(t *testing.T) {
	m := New()
	m.SetIcebergsActive("BTCUSDT", 3)
	m.SetIcebergsActive("BTCUSDT", 1)

	if got := gaugeValue(t, m.IcebergsActive.WithLabelValues("BTCUSDT")); got != 1 {
		t.Errorf("IcebergsActive = %v, want 1", got)
	}
}

func TestMetrics_RecordErrorLabelsByComponentAndType(t *testing.T) {
	m := New()
	m.RecordError("symbol_engine", "resync")
	m.RecordError("symbol_engine", "resync")
	m.RecordError("store_sink", "write_failed")

	if got := counterValue(t, m.ErrorsTotal.WithLabelValues("symbol_engine", "resync")); got != 2 {
		t.Errorf("errors(symbol_engine,resync) = %v, want 2", got)
	}
	if got := counterValue(t, m.ErrorsTotal.WithLabelValues("store_sink", "write_failed")); got != 1 {
		t.Errorf("errors(store_sink,write_failed) = %v, want 1", got)
	}
}
