// Package events implements the EventEmitter (§4.8): typed events with
// minimal payloads, emitted non-blocking relative to the ingestion loop.
package events

import (
	"log/slog"

	"github.com/google/uuid"

	"coreengine/pkg/types"
)

const channelCapacity = 256

// Emitter fans out detection events to any number of subscribers (the
// persistence writer, the HTTP admin surface) without ever blocking the
// symbol-owning task that calls Emit. Grounded on the teacher's
// risk.Manager non-blocking report channel and its typed event-constructor
// pattern from internal/api/events.go.
type Emitter struct {
	logger *slog.Logger
	subs   []chan types.Event
}

// NewEmitter constructs an Emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{logger: logger}
}

// Subscribe registers a new buffered channel receiving every emitted
// event. Intended to be called during wiring, before the symbol task
// starts; not safe to call concurrently with Emit.
func (e *Emitter) Subscribe() <-chan types.Event {
	ch := make(chan types.Event, channelCapacity)
	e.subs = append(e.subs, ch)
	return ch
}

// Emit fans an event out to every subscriber. A full subscriber channel
// drops the event and logs a warning rather than blocking the ingestion
// loop (§4.8 "non-blocking relative to the ingestion loop").
func (e *Emitter) Emit(ev types.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			if e.logger != nil {
				e.logger.Warn("event channel full, dropping event", "kind", ev.Kind, "symbol", ev.Symbol)
			}
		}
	}
}

// IcebergDetected builds and emits the Detected/Refilled event (§4.3).
func (e *Emitter) IcebergDetected(symbol string, eventTimeMs int64, refilled bool, p types.IcebergDetectedPayload) {
	kind := types.EventIcebergDetected
	if refilled {
		kind = types.EventIcebergRefilled
	}
	e.Emit(types.Event{Symbol: symbol, EventTimeMs: eventTimeMs, Kind: kind, Payload: p})
}

// IcebergLifecycle builds and emits a Breached/Exhausted/Cancelled event.
func (e *Emitter) IcebergLifecycle(symbol string, eventTimeMs int64, kind types.EventKind, p types.IcebergLifecyclePayload) {
	e.Emit(types.Event{Symbol: symbol, EventTimeMs: eventTimeMs, Kind: kind, Payload: p})
}

// AlgoDetected builds and emits an AlgoDetected event.
func (e *Emitter) AlgoDetected(symbol string, eventTimeMs int64, p types.AlgoDetectedPayload) {
	e.Emit(types.Event{Symbol: symbol, EventTimeMs: eventTimeMs, Kind: types.EventAlgoDetected, Payload: p})
}

// WhaleTrade builds and emits a WhaleTrade event.
func (e *Emitter) WhaleTrade(symbol string, eventTimeMs int64, p types.WhaleTradePayload) {
	e.Emit(types.Event{Symbol: symbol, EventTimeMs: eventTimeMs, Kind: types.EventWhaleTrade, Payload: p})
}
