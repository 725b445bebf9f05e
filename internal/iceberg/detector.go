package iceberg

import (
	"math"

	"github.com/shopspring/decimal"
)

// DetectorConfig holds the tunable thresholds of §6 EXTERNAL INTERFACES'
// Configuration list (the iceberg_* keys).
type DetectorConfig struct {
	MaxRefillDelayMs int64   // default 50
	RefillCutoffMs   float64 // τ, default 30
	RefillAlpha      float64 // α, default 0.15
	MinPRefill       float64 // default 0.6
	MinHiddenQty     float64 // ε_vol for visible_before gate, default 0.0001
	MinHiddenAbs     float64 // hidden >= this, default 0.05
	MinRatio         float64 // ratio >= this, default 0.3
}

// DefaultDetectorConfig returns the defaults named in §6.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MaxRefillDelayMs: 50,
		RefillCutoffMs:   30,
		RefillAlpha:      0.15,
		MinPRefill:       0.6,
		MinHiddenQty:     0.0001,
		MinHiddenAbs:     0.05,
		MinRatio:         0.3,
	}
}

// Candidate is the input to the detector: a trade matched against the book
// state immediately before it, plus the diff that may have refilled it.
type Candidate struct {
	TradeQty      decimal.Decimal
	VisibleBefore decimal.Decimal
	DeltaTMs      int64 // diff_event_time - trade_event_time
	IsBuyerMaker  bool  // trade.is_buyer_maker; refill side is the opposite
}

// Result is a successful detection, ready for the RefillConfidenceAdjuster.
type Result struct {
	IsAskIceberg   bool
	Hidden         decimal.Decimal
	Ratio          float64
	PRefill        float64
	BaseConfidence float64
}

// Detector implements the seven ordered filters of §4.3.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector constructs a Detector with the given configuration.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect applies the Δt-validated filter chain. A nil Result means
// "not an iceberg" — this is a non-signal, not a failure.
func (d *Detector) Detect(c Candidate) *Result {
	// Filter 1: race window.
	if c.DeltaTMs < -20 {
		return nil
	}
	// Filter 2: refill delay cap.
	if c.DeltaTMs > d.cfg.MaxRefillDelayMs {
		return nil
	}

	// Filter 3: sigmoid temporal confidence.
	exponent := d.cfg.RefillAlpha * (float64(c.DeltaTMs) - d.cfg.RefillCutoffMs)
	if exponent > 50 {
		exponent = 50
	} else if exponent < -50 {
		exponent = -50
	}
	pRefill := 1.0 / (1.0 + math.Exp(exponent))

	// Filter 4: temporal confidence floor.
	if pRefill < d.cfg.MinPRefill {
		return nil
	}

	// Filter 5: meaningful baseline.
	visibleBeforeF, _ := c.VisibleBefore.Float64()
	if visibleBeforeF < d.cfg.MinHiddenQty {
		return nil
	}

	// Filter 6: trade must exceed the visible baseline.
	if c.TradeQty.Cmp(c.VisibleBefore) <= 0 {
		return nil
	}

	// Filter 7: absolute and relative hidden-size gates.
	hidden := c.TradeQty.Sub(c.VisibleBefore)
	tradeQtyF, _ := c.TradeQty.Float64()
	hiddenF, _ := hidden.Float64()
	ratio := hiddenF / tradeQtyF
	if hiddenF < d.cfg.MinHiddenAbs || ratio < d.cfg.MinRatio {
		return nil
	}

	combined := ratio
	if combined > 0.95 {
		combined = 0.95
	}
	combined *= pRefill

	return &Result{
		IsAskIceberg:   !c.IsBuyerMaker, // refilled side is opposite the aggressor
		Hidden:         hidden,
		Ratio:          ratio,
		PRefill:        pRefill,
		BaseConfidence: combined,
	}
}
