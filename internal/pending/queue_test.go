package pending

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestQueue_AddAndMatch(t *testing.T) {
	t.Parallel()

	q := New()
	price := decimal.NewFromFloat(100000)
	q.Add(Check{Price: price, IsAsk: true, TradeTimeMs: 1000, VisibleBefore: decimal.NewFromFloat(0.1)})

	check, deltaT, ok := q.MatchAndRemove(price, true, 1018)
	if !ok {
		t.Fatal("expected match")
	}
	if deltaT != 18 {
		t.Errorf("deltaT = %d, want 18", deltaT)
	}
	if check.VisibleBefore.String() != "0.1" {
		t.Errorf("VisibleBefore = %v", check.VisibleBefore)
	}
	if q.Len() != 0 {
		t.Errorf("expected queue empty after match, len=%d", q.Len())
	}
}

func TestQueue_GCsStaleEntriesOnAdd(t *testing.T) {
	t.Parallel()

	q := New()
	price := decimal.NewFromFloat(100)
	q.Add(Check{Price: price, IsAsk: false, TradeTimeMs: 0})
	// A new trade arriving 150ms later should evict the first (>100ms old).
	q.Add(Check{Price: decimal.NewFromFloat(200), IsAsk: false, TradeTimeMs: 150})

	if _, _, ok := q.MatchAndRemove(price, false, 160); ok {
		t.Error("expected stale entry to have been garbage collected")
	}
}

func TestQueue_NoMatchOnWrongSide(t *testing.T) {
	t.Parallel()

	q := New()
	price := decimal.NewFromFloat(100)
	q.Add(Check{Price: price, IsAsk: true, TradeTimeMs: 0})

	if _, _, ok := q.MatchAndRemove(price, false, 10); ok {
		t.Error("expected no match across sides")
	}
}
