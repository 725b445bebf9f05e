package iceberg

import "testing"

// S4 — Panic absorption bonus.
func TestAdjuster_S4_PanicAbsorption(t *testing.T) {
	t.Parallel()

	a := NewAdjuster()
	got := a.Adjust(AdjusterInput{
		BaseConfidence: 0.6,
		VPINAtRefill:   0.9,
		WhalePct:       0.10,
		MinnowPct:      0.85,
		PriceDriftBps:  2,
	})
	approxEqual(t, got, 0.66, 0.01, "panic absorption final confidence")
}

// S5 — Whale attack penalty with opposing drift.
func TestAdjuster_S5_WhaleAttack(t *testing.T) {
	t.Parallel()

	a := NewAdjuster()
	got := a.Adjust(AdjusterInput{
		BaseConfidence:   0.6,
		VPINAtRefill:     0.75,
		WhalePct:         0.70,
		MinnowPct:        0.20,
		PriceDriftBps:    8,
		DriftOpposesWall: true,
	})
	approxEqual(t, got, 0.415, 0.01, "whale attack final confidence")
}

func TestAdjuster_EarlyExitLowVPIN(t *testing.T) {
	t.Parallel()

	a := NewAdjuster()
	got := a.Adjust(AdjusterInput{
		BaseConfidence: 0.6,
		VPINAtRefill:   0.3,
		WhalePct:       0.9,
		MinnowPct:      0.05,
	})
	if got != 0.6 {
		t.Errorf("expected no adjustment below vpin 0.5, got %v", got)
	}
}

func TestAdjuster_MixedFlowConservative(t *testing.T) {
	t.Parallel()

	a := NewAdjuster()
	got := a.Adjust(AdjusterInput{
		BaseConfidence: 0.6,
		VPINAtRefill:   0.65,
		WhalePct:       0.4,
		MinnowPct:      0.4,
	})
	approxEqual(t, got, 0.57, 0.001, "mixed flow conservative adjustment")
}

func TestAdjuster_ClampsToUnitInterval(t *testing.T) {
	t.Parallel()

	a := NewAdjuster()
	got := a.Adjust(AdjusterInput{
		BaseConfidence: 0.99,
		VPINAtRefill:   0.85,
		MinnowPct:      0.9,
	})
	if got > 1.0 {
		t.Errorf("confidence must clamp to 1.0, got %v", got)
	}
}
