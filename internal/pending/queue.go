// Package pending implements the PendingRefillQueue (§3): trades awaiting
// a post-trade diff that might confirm them as an iceberg refill. Entries
// live at most 100ms and are garbage-collected on every new trade,
// replacing the implicit continuation between a trade and its book
// confirmation (§9 DESIGN NOTES).
package pending

import (
	"github.com/shopspring/decimal"

	"coreengine/pkg/types"
)

// maxLifetimeMs is the PendingRefillCheck's hard lifetime (§3).
const maxLifetimeMs = 100

// Check is one candidate awaiting confirmation.
type Check struct {
	Trade         types.Trade
	VisibleBefore decimal.Decimal
	TradeTimeMs   int64
	Price         decimal.Decimal
	IsAsk         bool
}

// Queue is a bounded FIFO of pending checks for one symbol.
type Queue struct {
	items []Check
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Add appends a new candidate and garbage-collects anything older than
// maxLifetimeMs relative to the new trade's event time.
func (q *Queue) Add(c Check) {
	q.gc(c.TradeTimeMs)
	q.items = append(q.items, c)
}

func (q *Queue) gc(nowMs int64) {
	kept := q.items[:0]
	for _, c := range q.items {
		if nowMs-c.TradeTimeMs <= maxLifetimeMs {
			kept = append(kept, c)
		}
	}
	q.items = kept
}

// MatchAndRemove scans for a pending check at price/side and removes it,
// returning the match and the observed delta-t (diffTimeMs minus the
// trade's event time) in milliseconds. The delta-t is not checked here; the
// detector's filters judge it. Only the oldest matching entry is
// returned, since a diff confirms at most one preceding trade per price.
func (q *Queue) MatchAndRemove(price decimal.Decimal, isAsk bool, diffTimeMs int64) (Check, int64, bool) {
	for i, c := range q.items {
		if c.IsAsk == isAsk && c.Price.Equal(price) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return c, diffTimeMs - c.TradeTimeMs, true
		}
	}
	return Check{}, 0, false
}

// Len reports the current queue depth.
func (q *Queue) Len() int { return len(q.items) }
