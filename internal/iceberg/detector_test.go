package iceberg

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func approxEqual(t *testing.T, got, want, tol float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %v, want %v (±%v)", msg, got, want, tol)
	}
}

// S1 — Fast refill: trade buy 0.5 at visible ask qty 0.1, diff at +18ms.
func TestDetector_S1_FastRefill(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultDetectorConfig())
	result := d.Detect(Candidate{
		TradeQty:      decimal.NewFromFloat(0.5),
		VisibleBefore: decimal.NewFromFloat(0.1),
		DeltaTMs:      18,
		IsBuyerMaker:  false, // aggressor bought -> ask iceberg
	})
	if result == nil {
		t.Fatal("expected a detection, got nil")
	}
	if !result.IsAskIceberg {
		t.Error("expected ask iceberg")
	}
	hiddenF, _ := result.Hidden.Float64()
	approxEqual(t, hiddenF, 0.4, 1e-9, "hidden")
	approxEqual(t, result.Ratio, 0.8, 1e-9, "ratio")
	approxEqual(t, result.PRefill, 0.85, 0.01, "p_refill")
	approxEqual(t, result.BaseConfidence, 0.68, 0.01, "combined")
}

// S2 — Slow refill rejected: diff at +120ms exceeds the 50ms cap.
func TestDetector_S2_SlowRefillRejected(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultDetectorConfig())
	result := d.Detect(Candidate{
		TradeQty:      decimal.NewFromFloat(0.5),
		VisibleBefore: decimal.NewFromFloat(0.1),
		DeltaTMs:      120,
		IsBuyerMaker:  false,
	})
	if result != nil {
		t.Errorf("expected no detection, got %+v", result)
	}
}

// S3 — Race condition: diff at -25ms relative to trade.
func TestDetector_S3_RaceCondition(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultDetectorConfig())
	result := d.Detect(Candidate{
		TradeQty:      decimal.NewFromFloat(0.5),
		VisibleBefore: decimal.NewFromFloat(0.1),
		DeltaTMs:      -25,
		IsBuyerMaker:  false,
	})
	if result != nil {
		t.Errorf("expected no detection, got %+v", result)
	}
}

func TestDetector_RejectsBelowMinRatio(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultDetectorConfig())
	// trade 0.11 vs visible 0.1: hidden=0.01, ratio ~0.09 - below both gates.
	result := d.Detect(Candidate{
		TradeQty:      decimal.NewFromFloat(0.11),
		VisibleBefore: decimal.NewFromFloat(0.1),
		DeltaTMs:      10,
		IsBuyerMaker:  false,
	})
	if result != nil {
		t.Errorf("expected no detection for thin hidden volume, got %+v", result)
	}
}

func TestDetector_SideAssignment(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultDetectorConfig())
	// aggressor sold (is_buyer_maker=true) -> refill is on the bid side.
	result := d.Detect(Candidate{
		TradeQty:      decimal.NewFromFloat(0.5),
		VisibleBefore: decimal.NewFromFloat(0.1),
		DeltaTMs:      18,
		IsBuyerMaker:  true,
	})
	if result == nil {
		t.Fatal("expected a detection")
	}
	if result.IsAskIceberg {
		t.Error("expected bid iceberg when aggressor is a seller")
	}
}
