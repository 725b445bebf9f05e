// Package book implements the canonical per-symbol order book: decimal
// bid/ask ladders, breach detection against tracked icebergs, and the
// weighted order-book-imbalance metric (§4.2 OrderBook).
//
// The snapshot+diff synchronization algorithm (§4.1 BookSynchronizer) lives
// alongside it in sync.go since both operate on the same OrderBook value.
package book

import (
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"coreengine/internal/iceberg"
	"coreengine/pkg/types"
)

// ErrCrossedBook is the fatal integrity violation of §3: best bid must
// always be strictly below best ask. It is a Recoverable error (§7):
// callers must force a full resync.
type ErrCrossedBook struct {
	Symbol  string
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
}

func (e *ErrCrossedBook) Error() string {
	return fmt.Sprintf("%s: crossed book: bid %s >= ask %s", e.Symbol, e.BestBid, e.BestAsk)
}

// OrderBook is the canonical bid/ask state for one symbol. Mutation is
// confined to the symbol-owning task (§5); a mutex guards the handful of
// fields read concurrently by the HTTP admin surface.
type OrderBook struct {
	Symbol string

	mu             sync.RWMutex
	bids           *ladder
	asks           *ladder
	lastUpdateID   int64
	activeIcebergs map[string]*iceberg.Level // keyed by side+price, mirrors §3's active_icebergs
}

// New constructs an empty OrderBook for symbol.
func New(symbol string) *OrderBook {
	return &OrderBook{
		Symbol:         symbol,
		bids:           newLadder(true),
		asks:           newLadder(false),
		activeIcebergs: make(map[string]*iceberg.Level),
	}
}

// LoadSnapshot replaces the ladders wholesale from a REST snapshot.
func (b *OrderBook) LoadSnapshot(s types.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bids := newLadder(true)
	for _, lvl := range s.Bids {
		bids.set(lvl.Price, lvl.Quantity)
	}
	asks := newLadder(false)
	for _, lvl := range s.Asks {
		asks.set(lvl.Price, lvl.Quantity)
	}
	b.bids = bids
	b.asks = asks
	b.lastUpdateID = s.LastUpdateID
	return b.validateIntegrityLocked()
}

// ApplyDiff mutates the ladders from an incremental update. The caller
// (BookSynchronizer) is responsible for gap-checking update IDs first;
// ApplyDiff only mutates state and re-validates integrity.
func (b *OrderBook) ApplyDiff(d types.Diff) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, lvl := range d.Bids {
		b.bids.set(lvl.Price, lvl.Quantity)
	}
	for _, lvl := range d.Asks {
		b.asks.set(lvl.Price, lvl.Quantity)
	}
	b.lastUpdateID = d.FinalUpdateID
	return b.validateIntegrityLocked()
}

// LastUpdateID returns the last applied update sequence number.
func (b *OrderBook) LastUpdateID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

// BestBid returns the highest resting bid, if any.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.best()
}

// BestAsk returns the lowest resting ask, if any.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.best()
}

// VolumeAt returns the resting quantity at price on the given side.
func (b *OrderBook) VolumeAt(price decimal.Decimal, isAsk bool) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if isAsk {
		return b.asks.get(price)
	}
	return b.bids.get(price)
}

// validateIntegrityLocked checks the no-crossed-book invariant. Caller
// must hold b.mu.
func (b *OrderBook) validateIntegrityLocked() error {
	bid, hasBid := b.bids.best()
	ask, hasAsk := b.asks.best()
	if hasBid && hasAsk && bid.Cmp(ask) >= 0 {
		return &ErrCrossedBook{Symbol: b.Symbol, BestBid: bid, BestAsk: ask}
	}
	return nil
}

// ValidateIntegrity re-checks the crossed-book invariant on demand.
func (b *OrderBook) ValidateIntegrity() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.validateIntegrityLocked()
}

// WeightedOBI computes Σ bid_qty·w − Σ ask_qty·w over the top `depth`
// levels per side, with exponential weight w_i = e^(-λ·i) (§4.2).
func (b *OrderBook) WeightedOBI(depth int, lambda float64) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var obi float64
	for i, lvl := range b.bids.topN(depth) {
		w := math.Exp(-lambda * float64(i))
		q, _ := lvl.Quantity.Float64()
		obi += q * w
	}
	for i, lvl := range b.asks.topN(depth) {
		w := math.Exp(-lambda * float64(i))
		q, _ := lvl.Quantity.Float64()
		obi -= q * w
	}
	return obi
}

func activeKey(price decimal.Decimal, isAsk bool) string {
	side := "bid"
	if isAsk {
		side = "ask"
	}
	return side + ":" + price.String()
}

// RegisterIceberg tracks a level for breach detection (§3 active_icebergs).
func (b *OrderBook) RegisterIceberg(l *iceberg.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeIcebergs[activeKey(l.Price, l.IsAsk)] = l
}

// UnregisterIceberg stops tracking a level once it leaves ACTIVE status.
func (b *OrderBook) UnregisterIceberg(price decimal.Decimal, isAsk bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.activeIcebergs, activeKey(price, isAsk))
}

// CheckBreaches returns every tracked ACTIVE iceberg whose price was
// crossed by a trade at tradePrice (§4.2 check_breaches) — an ask iceberg
// is breached by a buy-side trade at or above its price, a bid iceberg by
// a sell-side trade at or below its price. Matching levels are removed
// from tracking; the caller (symbol engine) is responsible for marking
// them BREACHED in the registry and emitting the event.
func (b *OrderBook) CheckBreaches(tradePrice decimal.Decimal, aggressor types.Side) []*iceberg.Level {
	b.mu.Lock()
	defer b.mu.Unlock()

	var breached []*iceberg.Level
	for k, l := range b.activeIcebergs {
		crossed := false
		if l.IsAsk && aggressor == types.Buy && tradePrice.Cmp(l.Price) >= 0 {
			crossed = true
		}
		if !l.IsAsk && aggressor == types.Sell && tradePrice.Cmp(l.Price) <= 0 {
			crossed = true
		}
		if crossed {
			breached = append(breached, l)
			delete(b.activeIcebergs, k)
		}
	}
	return breached
}
