package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"coreengine/pkg/types"
)

// ladder is one side of the order book: a price->quantity map plus a
// sorted price index. Bids iterate descending, asks ascending (§3).
type ladder struct {
	descending bool
	qty        map[string]decimal.Decimal
	prices     []decimal.Decimal // kept sorted per `descending`
}

func newLadder(descending bool) *ladder {
	return &ladder{
		descending: descending,
		qty:        make(map[string]decimal.Decimal),
	}
}

func (l *ladder) less(a, b decimal.Decimal) bool {
	if l.descending {
		return a.Cmp(b) > 0
	}
	return a.Cmp(b) < 0
}

// set upserts a price level; a zero or negative quantity deletes the level
// (§3 invariant: all quantities strictly positive; removal on zero update).
func (l *ladder) set(price, qty decimal.Decimal) {
	k := price.String()
	if qty.Sign() <= 0 {
		if _, ok := l.qty[k]; ok {
			delete(l.qty, k)
			l.removePrice(price)
		}
		return
	}
	if _, existed := l.qty[k]; !existed {
		l.insertPrice(price)
	}
	l.qty[k] = qty
}

func (l *ladder) insertPrice(price decimal.Decimal) {
	idx := sort.Search(len(l.prices), func(i int) bool { return l.less(price, l.prices[i]) || price.Equal(l.prices[i]) })
	l.prices = append(l.prices, decimal.Decimal{})
	copy(l.prices[idx+1:], l.prices[idx:])
	l.prices[idx] = price
}

func (l *ladder) removePrice(price decimal.Decimal) {
	for i, p := range l.prices {
		if p.Equal(price) {
			l.prices = append(l.prices[:i], l.prices[i+1:]...)
			return
		}
	}
}

func (l *ladder) get(price decimal.Decimal) (decimal.Decimal, bool) {
	q, ok := l.qty[price.String()]
	return q, ok
}

func (l *ladder) best() (decimal.Decimal, bool) {
	if len(l.prices) == 0 {
		return decimal.Decimal{}, false
	}
	return l.prices[0], true
}

// topN returns up to n levels from the best price outward.
func (l *ladder) topN(n int) []types.PriceLevel {
	if n > len(l.prices) {
		n = len(l.prices)
	}
	out := make([]types.PriceLevel, n)
	for i := 0; i < n; i++ {
		p := l.prices[i]
		out[i] = types.PriceLevel{Price: p, Quantity: l.qty[p.String()]}
	}
	return out
}

func (l *ladder) len() int {
	return len(l.prices)
}
