package book

import (
	"testing"

	"github.com/shopspring/decimal"

	"coreengine/internal/iceberg"
	"coreengine/pkg/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newTestBook() *OrderBook {
	b := New("BTCUSDT")
	_ = b.LoadSnapshot(types.Snapshot{
		Symbol:       "BTCUSDT",
		LastUpdateID: 1,
		Bids:         []types.PriceLevel{{Price: d(99990), Quantity: d(1)}},
		Asks:         []types.PriceLevel{{Price: d(100010), Quantity: d(1)}},
	})
	return b
}

func TestOrderBook_BestBidAsk(t *testing.T) {
	t.Parallel()
	b := newTestBook()

	bid, ok := b.BestBid()
	if !ok || !bid.Equal(d(99990)) {
		t.Errorf("BestBid() = %v, %v", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || !ask.Equal(d(100010)) {
		t.Errorf("BestAsk() = %v, %v", ask, ok)
	}
}

// Invariant 1: after applying any gap-free diff sequence, best_bid < best_ask.
func TestOrderBook_NoCrossedBookAfterDiffs(t *testing.T) {
	t.Parallel()
	b := newTestBook()

	err := b.ApplyDiff(types.Diff{
		FinalUpdateID: 2,
		Bids:          []types.PriceLevel{{Price: d(99995), Quantity: d(0.5)}},
		Asks:          []types.PriceLevel{{Price: d(100005), Quantity: d(0.5)}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	if !(bid.Cmp(ask) < 0) {
		t.Errorf("crossed book: bid=%v ask=%v", bid, ask)
	}
}

func TestOrderBook_CrossedBookIsFatal(t *testing.T) {
	t.Parallel()
	b := newTestBook()

	err := b.ApplyDiff(types.Diff{
		FinalUpdateID: 2,
		Bids:          []types.PriceLevel{{Price: d(100020), Quantity: d(1)}},
	})
	if err == nil {
		t.Fatal("expected crossed-book error")
	}
	if _, ok := err.(*ErrCrossedBook); !ok {
		t.Errorf("expected *ErrCrossedBook, got %T", err)
	}
}

func TestOrderBook_ZeroQuantityDeletesLevel(t *testing.T) {
	t.Parallel()
	b := newTestBook()

	if err := b.ApplyDiff(types.Diff{FinalUpdateID: 2, Bids: []types.PriceLevel{{Price: d(99990), Quantity: d(0)}}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := b.VolumeAt(d(99990), false); ok {
		t.Error("expected level to be removed after zero-quantity update")
	}
}

func TestOrderBook_WeightedOBI(t *testing.T) {
	t.Parallel()
	b := New("BTCUSDT")
	_ = b.LoadSnapshot(types.Snapshot{
		LastUpdateID: 1,
		Bids:         []types.PriceLevel{{Price: d(100), Quantity: d(10)}},
		Asks:         []types.PriceLevel{{Price: d(101), Quantity: d(2)}},
	})
	obi := b.WeightedOBI(5, 0.5)
	if obi <= 0 {
		t.Errorf("expected positive OBI (bid-heavy book), got %v", obi)
	}
}

func TestOrderBook_CheckBreaches(t *testing.T) {
	t.Parallel()
	b := newTestBook()

	level := &iceberg.Level{Price: d(100010), IsAsk: true, Status: types.IcebergActive}
	b.RegisterIceberg(level)

	breached := b.CheckBreaches(d(100010), types.Buy)
	if len(breached) != 1 {
		t.Fatalf("expected 1 breached level, got %d", len(breached))
	}

	// Once removed from tracking, a second check finds nothing.
	if got := b.CheckBreaches(d(100010), types.Buy); len(got) != 0 {
		t.Errorf("expected no further breaches, got %d", len(got))
	}
}

func TestOrderBook_CheckBreaches_NoFalsePositiveOnBidSide(t *testing.T) {
	t.Parallel()
	b := newTestBook()

	level := &iceberg.Level{Price: d(99990), IsAsk: false, Status: types.IcebergActive}
	b.RegisterIceberg(level)

	// A buy aggressor crossing an ask price should not breach a bid iceberg.
	breached := b.CheckBreaches(d(100010), types.Buy)
	if len(breached) != 0 {
		t.Errorf("expected no breach, got %d", len(breached))
	}
}
