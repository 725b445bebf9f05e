package iceberg

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// S8 — Zombie decay: confidence 0.9 at t=0, no refills for 600s, half-life 300s.
func TestRegistry_S8_ZombieDecay(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig())
	price := decimal.NewFromFloat(100000)
	t0 := time.UnixMilli(0)

	l, created := r.Upsert(price, true, decimal.NewFromFloat(1), 0.9, t0.UnixMilli())
	if !created {
		t.Fatal("expected new level")
	}

	later := t0.Add(600 * time.Second)
	decayed, ok := r.GetDecayedConfidence(price, true, later)
	if !ok {
		t.Fatal("expected level to still be present")
	}
	approxEqual(t, decayed, 0.225, 0.005, "zombie decay at 600s/half-life 300s")

	if l.Status != "ACTIVE" {
		t.Errorf("level should remain ACTIVE until cleanup runs, got %v", l.Status)
	}
}

func TestRegistry_DecayIsMonotonicNonIncreasing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig())
	price := decimal.NewFromFloat(50)
	t0 := time.UnixMilli(0)
	r.Upsert(price, false, decimal.NewFromFloat(1), 0.8, 0)

	prev := 1.0
	for _, elapsed := range []time.Duration{1 * time.Second, 30 * time.Second, 120 * time.Second, 600 * time.Second} {
		got, ok := r.GetDecayedConfidence(price, false, t0.Add(elapsed))
		if !ok {
			t.Fatal("level disappeared")
		}
		if got > prev {
			t.Errorf("decay not monotonic: at %v got %v, previous was %v", elapsed, got, prev)
		}
		prev = got
	}
}

func TestRegistry_DecayMultiplicativeLaw(t *testing.T) {
	t.Parallel()

	cfg := DefaultRegistryConfig()
	r1 := NewRegistry(cfg)
	price := decimal.NewFromFloat(10)
	r1.Upsert(price, true, decimal.NewFromFloat(1), 0.8, 0)

	dt1 := 100 * time.Second
	dt2 := 200 * time.Second

	// decay(confidence, dt1+dt2) computed directly.
	combined, _ := r1.GetDecayedConfidence(price, true, time.UnixMilli(0).Add(dt1+dt2))

	// decay(confidence, dt1) then decay_multiplier(dt2) applied to that result:
	// read at dt1, then scale by the half-life multiplier for a further dt2.
	atDt1, _ := r1.GetDecayedConfidence(price, true, time.UnixMilli(0).Add(dt1))
	multiplier := math.Exp(-math.Ln2 * dt2.Seconds() / cfg.HalfLife.Seconds())
	stepwise := atDt1 * multiplier

	approxEqual(t, combined, stepwise, 1e-9, "decay multiplicative law")
}

func TestRegistry_CleanupRemovesDecayedAndExpired(t *testing.T) {
	t.Parallel()

	cfg := DefaultRegistryConfig()
	cfg.HalfLife = 10 * time.Second
	r := NewRegistry(cfg)

	price := decimal.NewFromFloat(1)
	r.Upsert(price, true, decimal.NewFromFloat(1), 0.9, 0)

	removed := r.Cleanup(time.UnixMilli(0).Add(200 * time.Second))
	if len(removed) != 1 {
		t.Fatalf("expected 1 removed level, got %d", len(removed))
	}
	if removed[0].Status != "CANCELLED" {
		t.Errorf("expected CANCELLED status, got %v", removed[0].Status)
	}
	if _, ok := r.Get(price, true); ok {
		t.Error("level should be gone after cleanup")
	}
}

func TestRegistry_UpsertAccumulatesOnRefill(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultRegistryConfig())
	price := decimal.NewFromFloat(5)

	l, created := r.Upsert(price, false, decimal.NewFromFloat(0.4), 0.68, 0)
	if !created {
		t.Fatal("first upsert should create")
	}
	l2, created2 := r.Upsert(price, false, decimal.NewFromFloat(0.3), 0.7, 100)
	if created2 {
		t.Fatal("second upsert should update, not create")
	}
	if l != l2 {
		t.Fatal("expected same level pointer")
	}
	if l.RefillCount != 1 {
		t.Errorf("expected refill_count=1, got %d", l.RefillCount)
	}
	want, _ := decimal.NewFromFloat(0.7).Float64()
	got, _ := l.TotalHiddenVolume.Float64()
	approxEqual(t, got, want, 1e-9, "accumulated hidden volume")
}
