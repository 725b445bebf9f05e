// Package iceberg implements the Δt-validated refill detector, the
// crypto-aware confidence adjuster, and the time-decayed registry that
// together turn a trade-vs-visible-volume mismatch into a tracked
// IcebergLevel.
package iceberg

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"coreengine/pkg/types"
)

const (
	whaleThresholdUSD = 100_000.0
	dolphinFloorUSD    = 10_000.0
)

// Level is one tracked iceberg — a resting price level whose true size
// exceeds its displayed quantity. The registry owns all Levels; no other
// component holds a strong reference (§9 DESIGN NOTES). Its cancellation
// context is an Optional, not a back-pointer.
type Level struct {
	Price             decimal.Decimal
	IsAsk             bool
	TotalHiddenVolume decimal.Decimal
	RefillCount       int

	CreationTimeMs   int64
	LastUpdateTimeMs int64

	Status              types.IcebergStatus
	ConfidenceScore     float64
	SpoofingProbability float64

	CancellationContext types.Optional[types.CancellationContext]
}

// newLevel creates a freshly-detected ACTIVE level.
func newLevel(price decimal.Decimal, isAsk bool, hidden decimal.Decimal, confidence float64, nowMs int64) *Level {
	return &Level{
		Price:             price,
		IsAsk:             isAsk,
		TotalHiddenVolume: hidden,
		RefillCount:       0,
		CreationTimeMs:    nowMs,
		LastUpdateTimeMs:  nowMs,
		Status:            types.IcebergActive,
		ConfidenceScore:   confidence,
	}
}

// applyRefill mutates the level for a successful refill detection.
func (l *Level) applyRefill(hidden decimal.Decimal, confidence float64, nowMs int64) {
	l.TotalHiddenVolume = l.TotalHiddenVolume.Add(hidden)
	l.RefillCount++
	l.LastUpdateTimeMs = nowMs
	l.ConfidenceScore = confidence
}

// IsWhaleIceberg reports whether total hidden volume crosses the whale
// threshold, expressed in quote currency.
func (l *Level) IsWhaleIceberg() bool {
	v, _ := l.TotalHiddenVolume.Mul(l.Price).Float64()
	return v >= whaleThresholdUSD
}

// IsDolphinIceberg reports whether total hidden volume is at or above the
// dolphin floor and below the whale threshold.
func (l *Level) IsDolphinIceberg() bool {
	v, _ := l.TotalHiddenVolume.Mul(l.Price).Float64()
	return v >= dolphinFloorUSD && v < whaleThresholdUSD
}

// SurvivalSeconds returns how long the level lived, from creation to now.
func (l *Level) SurvivalSeconds(nowMs int64) float64 {
	return float64(nowMs-l.CreationTimeMs) / 1000.0
}

// markTerminal transitions the level to a terminal status, capturing a
// cancellation context when the transition is not a clean exhaustion.
func (l *Level) markTerminal(status types.IcebergStatus, ctx types.Optional[types.CancellationContext]) {
	l.Status = status
	l.CancellationContext = ctx
}

// DecayedConfidence returns confidence_score exponentially reduced by
// elapsed silence since LastUpdateTimeMs (§4.5). This is the only
// confidence value any consumer outside the registry is permitted to read.
func (l *Level) DecayedConfidence(now time.Time, halfLife time.Duration) float64 {
	elapsed := now.UnixMilli() - l.LastUpdateTimeMs
	if elapsed <= 0 {
		return clamp01(l.ConfidenceScore)
	}
	decay := math.Exp(-math.Ln2 * float64(elapsed) / float64(halfLife.Milliseconds()))
	return clamp01(l.ConfidenceScore * decay)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
