// Package cohort implements the WhaleCohortAnalyzer (§4.6): trade-size
// cohort segmentation with CVD tracking, and the 200-trade algorithm
// classifier (TWAP/VWAP/ICEBERG-ALGO/SWEEP/GENERIC_ALGO).
package cohort

import (
	"fmt"
	"math"

	"coreengine/pkg/types"
)

const (
	windowSize           = 200
	windowAgeOutMs       = 60_000
	directionalThreshold = 0.85
)

// Thresholds are the per-symbol cohort boundaries (§4.6). Minnow uses an
// inclusive lower-bound comparison: a trade exactly at the threshold
// classifies as minnow, not dolphin.
type Thresholds struct {
	WhaleUSD  float64
	MinnowUSD float64
}

// NewThresholds validates the 10x gap invariant (whale >= 10*minnow) and
// returns a Configuration error (§7) if it is violated.
func NewThresholds(whaleUSD, minnowUSD float64) (Thresholds, error) {
	if whaleUSD <= 0 || minnowUSD <= 0 {
		return Thresholds{}, fmt.Errorf("cohort: thresholds must be positive")
	}
	if whaleUSD < 10*minnowUSD {
		return Thresholds{}, fmt.Errorf("cohort: whale threshold %.2f must be >= 10x minnow threshold %.2f", whaleUSD, minnowUSD)
	}
	return Thresholds{WhaleUSD: whaleUSD, MinnowUSD: minnowUSD}, nil
}

// Classify buckets a quote-currency trade notional into a cohort.
func (t Thresholds) Classify(quoteVolume float64) types.Cohort {
	switch {
	case quoteVolume >= t.WhaleUSD:
		return types.CohortWhale
	case quoteVolume <= t.MinnowUSD:
		return types.CohortMinnow
	default:
		return types.CohortDolphin
	}
}

type windowEntry struct {
	eventTimeMs int64
	side        types.Side
	cohort      types.Cohort
	quoteVolume float64
}

// Classification is the output of the algo decision tree (§4.6).
type Classification struct {
	Kind       types.AlgoKind
	Confidence float64
	Side       types.Side
	WindowSize int
}

// Analyzer tracks CVD-by-cohort and the 200-trade algorithm window for one
// symbol. It is mutated only by the symbol-owning task (§9 DESIGN NOTES:
// global mutable state confined to the symbol-owning task).
type Analyzer struct {
	thresholds Thresholds

	cvd map[types.Cohort]float64

	window      []windowEntry
	intervals   []float64 // ms gaps, len = len(window)-1
	sizePattern []float64 // quote-currency size per trade, aligned with window
}

// NewAnalyzer constructs an Analyzer with the given cohort thresholds.
func NewAnalyzer(thresholds Thresholds) *Analyzer {
	return &Analyzer{
		thresholds: thresholds,
		cvd:        make(map[types.Cohort]float64),
	}
}

// CVD returns the signed cumulative volume delta for a cohort.
func (a *Analyzer) CVD(c types.Cohort) float64 {
	return a.cvd[c]
}

// RecordTrade classifies the trade's cohort, updates CVD, and pushes it
// onto the algorithm window, returning a Classification if the decision
// tree fires on this update (nil = no classification, a non-signal).
func (a *Analyzer) RecordTrade(trade types.Trade) *Classification {
	quoteVolume := trade.QuoteVolume()
	cohort := a.thresholds.Classify(quoteVolume)

	sign := 1.0
	if trade.AggressorSide() == types.Sell {
		sign = -1.0
	}
	a.cvd[cohort] += sign * quoteVolume

	a.pushWindow(trade, quoteVolume)
	a.ageOut(trade.EventTimeMs)

	if len(a.window) < windowSize {
		return nil
	}
	return a.classify()
}

func (a *Analyzer) pushWindow(trade types.Trade, quoteVolume float64) {
	if len(a.window) > 0 {
		gap := float64(trade.EventTimeMs - a.window[len(a.window)-1].eventTimeMs)
		a.intervals = append(a.intervals, gap)
	}
	a.window = append(a.window, windowEntry{
		eventTimeMs: trade.EventTimeMs,
		side:        trade.AggressorSide(),
		cohort:      a.thresholds.Classify(quoteVolume),
		quoteVolume: quoteVolume,
	})
	a.sizePattern = append(a.sizePattern, quoteVolume)
}

// CohortVolumePct returns the fraction of total quote volume in the
// current window (up to 60s retained) attributed to the whale and minnow
// cohorts respectively — the remainder is dolphin (§4.4 sum constraint).
// Returns (0, 0) on an empty window, a non-signal the adjuster treats as
// "no cohort skew" rather than a real reading.
func (a *Analyzer) CohortVolumePct() (whalePct, minnowPct float64) {
	var total, whale, minnow float64
	for _, e := range a.window {
		total += e.quoteVolume
		switch e.cohort {
		case types.CohortWhale:
			whale += e.quoteVolume
		case types.CohortMinnow:
			minnow += e.quoteVolume
		}
	}
	if total <= 0 {
		return 0, 0
	}
	return whale / total, minnow / total
}

// ageOut drops entries older than 60s from the window head, then trims
// whatever remains down to the last windowSize (200) trades — the "ring of
// last 200 trades" of §4.6 — keeping |algo_size_pattern| = |algo_window|
// and |algo_interval_history| = max(0, |algo_window|-1) (§3 invariants).
// Without the count-based trim, a high-frequency run (e.g. a sweep at
// sub-20ms intervals) never ages out within 60s and the classifier ends up
// evaluating thousands of trades instead of the last 200.
func (a *Analyzer) ageOut(nowMs int64) {
	cutoff := nowMs - windowAgeOutMs
	drop := 0
	for drop < len(a.window) && a.window[drop].eventTimeMs < cutoff {
		drop++
	}
	if len(a.window)-drop > windowSize {
		drop = len(a.window) - windowSize
	}
	if drop == 0 {
		return
	}
	a.window = a.window[drop:]
	a.sizePattern = a.sizePattern[drop:]
	intervalDrop := drop
	if intervalDrop > len(a.intervals) {
		intervalDrop = len(a.intervals)
	}
	a.intervals = a.intervals[intervalDrop:]
}

// WindowLen exposes the current window depth, mostly for tests/metrics.
func (a *Analyzer) WindowLen() int { return len(a.window) }

func (a *Analyzer) directionalRatio() (types.Side, float64) {
	var buys, sells int
	for _, e := range a.window {
		if e.side == types.Buy {
			buys++
		} else {
			sells++
		}
	}
	total := float64(len(a.window))
	if buys >= sells {
		return types.Buy, float64(buys) / total
	}
	return types.Sell, float64(sells) / total
}

func meanStddev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}

// sizeUniformity returns the fraction of sizes within 5% of the size that
// maximizes that fraction — the empirical mode of a continuous sample.
func sizeUniformity(sizes []float64) float64 {
	if len(sizes) == 0 {
		return 0
	}
	best := 0
	for _, candidate := range sizes {
		if candidate == 0 {
			continue
		}
		count := 0
		for _, s := range sizes {
			if math.Abs(s-candidate)/candidate <= 0.05 {
				count++
			}
		}
		if count > best {
			best = count
		}
	}
	return float64(best) / float64(len(sizes))
}

// classify evaluates the priority-ordered decision tree of §4.6. Only
// called once the window is full (200 trades).
func (a *Analyzer) classify() *Classification {
	side, ratio := a.directionalRatio()
	if ratio < directionalThreshold {
		return nil
	}

	mean, stddev := meanStddev(a.intervals)
	var cv float64
	if mean > 0 {
		cv = stddev / mean
	}
	u := sizeUniformity(a.sizePattern)

	switch {
	case u > 0.90:
		return &Classification{Kind: types.AlgoIcebergAlg, Confidence: u, Side: side, WindowSize: len(a.window)}
	case mean < 50:
		confidence := 0.75 + clamp((50-mean)/50, 0, 0.25)
		return &Classification{Kind: types.AlgoSweep, Confidence: confidence, Side: side, WindowSize: len(a.window)}
	case cv < 0.10:
		return &Classification{Kind: types.AlgoTWAP, Confidence: 1 - cv*5, Side: side, WindowSize: len(a.window)}
	case cv < 0.50:
		return &Classification{Kind: types.AlgoVWAP, Confidence: 0.70 + (0.50 - cv), Side: side, WindowSize: len(a.window)}
	case ratio > 0.90:
		return &Classification{Kind: types.AlgoGeneric, Confidence: ratio, Side: side, WindowSize: len(a.window)}
	default:
		return nil
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
