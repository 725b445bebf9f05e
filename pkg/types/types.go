// Package types defines the shared vocabulary for the microstructure core —
// trade/diff/snapshot schemas, cohort and event enums, and the decimal price
// levels that carry exchange state. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the aggressor side of a trade or the book side of a price level.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Cohort segments a trade by its quote-currency notional.
type Cohort string

const (
	CohortWhale   Cohort = "whale"
	CohortDolphin Cohort = "dolphin"
	CohortMinnow  Cohort = "minnow"
)

// IcebergStatus is the lifecycle state of a detected iceberg level.
type IcebergStatus string

const (
	IcebergActive    IcebergStatus = "ACTIVE"
	IcebergExhausted IcebergStatus = "EXHAUSTED"
	IcebergBreached  IcebergStatus = "BREACHED"
	IcebergCancelled IcebergStatus = "CANCELLED"
)

// AlgoKind is the classification label produced by the algorithm classifier.
type AlgoKind string

const (
	AlgoTWAP       AlgoKind = "TWAP"
	AlgoVWAP       AlgoKind = "VWAP"
	AlgoIcebergAlg AlgoKind = "ICEBERG_ALGO"
	AlgoSweep      AlgoKind = "SWEEP"
	AlgoGeneric    AlgoKind = "GENERIC_ALGO"
)

// ————————————————————————————————————————————————————————————————————————
// Upstream (consumed) event schemas — §6 EXTERNAL INTERFACES
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Price and Quantity are
// arbitrary-precision decimals: floating-point is forbidden for ladder
// state (§3 DATA MODEL, §9 DESIGN NOTES).
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Snapshot is the REST order-book snapshot consumed at initialize/resync time.
type Snapshot struct {
	Symbol        string
	LastUpdateID  int64
	Bids          []PriceLevel
	Asks          []PriceLevel
	ReceivedAtUTC time.Time
}

// Diff is one incremental order-book update from the exchange stream.
type Diff struct {
	Symbol         string
	FirstUpdateID  int64
	FinalUpdateID  int64
	EventTimeMs    int64 // exchange-origin event time; never mixed with wall clock
	Bids           []PriceLevel
	Asks           []PriceLevel
}

// Trade is one executed trade from the exchange stream.
type Trade struct {
	Symbol        string
	TradeID       int64
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	IsBuyerMaker  bool // true: aggressor was the seller (hit the bid)
	EventTimeMs   int64
}

// AggressorSide returns the side of the trade's aggressor.
func (t Trade) AggressorSide() Side {
	if t.IsBuyerMaker {
		return Sell
	}
	return Buy
}

// QuoteVolume returns price * quantity as a float64, the unit cohort
// thresholds and CVD are expressed in. Only derived metrics use float64;
// the trade's own Price/Quantity remain decimal.
func (t Trade) QuoteVolume() float64 {
	v, _ := t.Price.Mul(t.Quantity).Float64()
	return v
}

// DerivativesSnapshot is the optional Deribit-derived cache polled by each
// symbol engine and reported by the HTTP admin surface. Any field may be absent
// (zero Valid flag) per the non-signal error kind (§7).
type DerivativesSnapshot struct {
	BasisAPR  Optional[float64]
	SkewPct   Optional[float64]
	TotalGEX  Optional[float64]
	UpdatedAt time.Time
}

// Optional is the capability-object style absence wrapper described in
// §9 DESIGN NOTES: consumers check Valid instead of nil-checking a pointer.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Valid: true} }

// None returns an absent value of type T.
func None[T any]() Optional[T] { return Optional[T]{} }

// ————————————————————————————————————————————————————————————————————————
// Downstream (emitted) event schemas — §6 EXTERNAL INTERFACES
// ————————————————————————————————————————————————————————————————————————

// EventKind discriminates the emitted event payload.
type EventKind string

const (
	EventIcebergDetected  EventKind = "IcebergDetected"
	EventIcebergRefilled  EventKind = "IcebergRefilled"
	EventIcebergBreached  EventKind = "IcebergBreached"
	EventIcebergExhausted EventKind = "IcebergExhausted"
	EventIcebergCancelled EventKind = "IcebergCancelled"
	EventAlgoDetected     EventKind = "AlgoDetected"
	EventWhaleTrade       EventKind = "WhaleTrade"
)

// Event is the envelope every emitted event shares: symbol, exchange-origin
// timestamp, and kind, plus a payload specific to that kind.
type Event struct {
	ID          string
	Symbol      string
	EventTimeMs int64
	Kind        EventKind
	Payload     any
}

// IcebergDetectedPayload backs EventIcebergDetected / EventIcebergRefilled.
type IcebergDetectedPayload struct {
	Price         decimal.Decimal
	Side          Side
	HiddenVolume  decimal.Decimal
	VisibleBefore decimal.Decimal
	Confidence    float64
	RefillCount   int
	DeltaTMs      int64
}

// CancellationContext is captured when an iceberg's lifecycle ends without
// a clean exhaustion — price/velocity/execution at the moment of cancel.
// It carries only scalar data and no back-pointer to the IcebergLevel that
// owned it (§9 DESIGN NOTES).
type CancellationContext struct {
	PriceAtCancel    decimal.Decimal
	PriceVelocityBps float64
	ExecutedPct      float64
}

// IcebergLifecyclePayload backs Breached / Exhausted / Cancelled events.
type IcebergLifecyclePayload struct {
	Price               decimal.Decimal
	Side                Side
	SurvivalSeconds     float64
	TotalVolumeAbsorbed decimal.Decimal
	RefillCount         int
	CancellationContext Optional[CancellationContext]
}

// AlgoDetectedPayload backs EventAlgoDetected.
type AlgoDetectedPayload struct {
	Side       Side
	Kind       AlgoKind
	Confidence float64
	WindowSize int
}

// WhaleTradePayload backs EventWhaleTrade.
type WhaleTradePayload struct {
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	QuoteVolume float64
	Side        Side
	Cohort      Cohort
}
