// Package toxicity implements the FlowToxicityAnalyzer (§4.7): VPIN
// buckets of fixed quote-volume size, with a reliability gate that
// suppresses noisy signals in flat markets.
package toxicity

import (
	"math"

	"coreengine/pkg/types"
)

const reliabilityMinBuckets = 10
const reliabilityFlatThreshold = 0.05
const vpinWindowBuckets = 50

type bucket struct {
	buyVolume  float64
	sellVolume float64
	filled     float64
}

func (b bucket) imbalance(bucketSize float64) float64 {
	return math.Abs(b.buyVolume-b.sellVolume) / bucketSize
}

// Analyzer maintains the rolling deque of closed VPIN buckets for one
// symbol.
type Analyzer struct {
	bucketSize float64
	open       bucket
	closed     []bucket
}

// NewAnalyzer constructs an Analyzer with the given fixed bucket size
// (quote currency).
func NewAnalyzer(bucketSizeUSD float64) *Analyzer {
	return &Analyzer{bucketSize: bucketSizeUSD}
}

// RecordTrade adds signed volume to the open bucket, closing and rotating
// it into history once the volume threshold is reached. A single large
// trade may close multiple buckets.
func (a *Analyzer) RecordTrade(trade types.Trade) {
	remaining := trade.QuoteVolume()
	isBuy := trade.AggressorSide() == types.Buy

	for remaining > 0 {
		room := a.bucketSize - a.open.filled
		take := remaining
		if take > room {
			take = room
		}
		if isBuy {
			a.open.buyVolume += take
		} else {
			a.open.sellVolume += take
		}
		a.open.filled += take
		remaining -= take

		if a.open.filled >= a.bucketSize {
			a.closed = append(a.closed, a.open)
			a.open = bucket{}
		}
	}
}

// IsReliable implements the reliability gate of §4.7.
func (a *Analyzer) IsReliable() bool {
	if len(a.closed) < reliabilityMinBuckets {
		return false
	}
	var sumAbsImbalance float64
	for _, b := range a.closed {
		sumAbsImbalance += math.Abs(b.buyVolume - b.sellVolume)
	}
	ratio := sumAbsImbalance / (float64(len(a.closed)) * a.bucketSize)
	return ratio >= reliabilityFlatThreshold
}

// CurrentVPIN returns the mean bucket-imbalance ratio over the last 50
// buckets. A false second return value is the non-signal of §7: the
// caller must treat this as feature-not-available, not as vpin=0.
func (a *Analyzer) CurrentVPIN() (float64, bool) {
	if !a.IsReliable() {
		return 0, false
	}
	window := a.closed
	if len(window) > vpinWindowBuckets {
		window = window[len(window)-vpinWindowBuckets:]
	}
	var sum float64
	for _, b := range window {
		sum += b.imbalance(a.bucketSize)
	}
	return sum / float64(len(window)), true
}

// BucketCount exposes the number of closed buckets (diagnostics/metrics).
func (a *Analyzer) BucketCount() int { return len(a.closed) }
