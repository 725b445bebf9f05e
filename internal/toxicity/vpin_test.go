package toxicity

import (
	"testing"

	"github.com/shopspring/decimal"

	"coreengine/pkg/types"
)

func buyTrade(quote float64) types.Trade {
	return types.Trade{Price: decimal.NewFromFloat(quote), Quantity: decimal.NewFromFloat(1), IsBuyerMaker: false}
}

func sellTrade(quote float64) types.Trade {
	return types.Trade{Price: decimal.NewFromFloat(quote), Quantity: decimal.NewFromFloat(1), IsBuyerMaker: true}
}

func TestAnalyzer_UnreliableWithFewBuckets(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(100)
	a.RecordTrade(buyTrade(100))
	if a.IsReliable() {
		t.Error("expected unreliable with 1 bucket")
	}
	if _, ok := a.CurrentVPIN(); ok {
		t.Error("expected absence (ok=false) when unreliable")
	}
}

func TestAnalyzer_ReliableWithImbalancedFlow(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(100)
	// 12 buckets, fully one-sided -> imbalance 1.0 each, clearly reliable.
	for i := 0; i < 12; i++ {
		a.RecordTrade(buyTrade(100))
	}
	if !a.IsReliable() {
		t.Fatal("expected reliable with strongly imbalanced flow")
	}
	vpin, ok := a.CurrentVPIN()
	if !ok {
		t.Fatal("expected a vpin value")
	}
	if vpin < 0.99 {
		t.Errorf("vpin = %v, want ~1.0 for fully one-sided flow", vpin)
	}
}

func TestAnalyzer_FlatMarketUnreliable(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(100)
	// 12 buckets, perfectly balanced buy/sell -> imbalance ~0, flat market.
	for i := 0; i < 12; i++ {
		a.RecordTrade(buyTrade(50))
		a.RecordTrade(sellTrade(50))
	}
	if a.IsReliable() {
		t.Error("expected unreliable in a flat, balanced market")
	}
}

func TestAnalyzer_LargeTradeSpansMultipleBuckets(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer(100)
	a.RecordTrade(buyTrade(350)) // should close 3 buckets, leave 50 open
	if a.BucketCount() != 3 {
		t.Errorf("BucketCount() = %d, want 3", a.BucketCount())
	}
}
