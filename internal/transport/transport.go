// Package transport adapts two concrete upstream sources into the
// consumed diff/trade event schema of §6: a direct exchange WebSocket
// feed and a Redis Streams consumer reading already-normalized events.
// Both produce the same Router output and are consumed identically by
// internal/symbol (§4.10).
package transport

import "coreengine/pkg/types"

// Router is what both adapters implement: a way to obtain the per-symbol
// diff/trade channels the process-level Engine routes into symbol.Engine
// instances. Keeping this as an interface lets internal/engine stay
// agnostic of which concrete transport is configured.
type Router interface {
	// DiffEvents returns the unified diff stream across all subscribed
	// symbols; callers dispatch by (*types.Diff).Symbol.
	DiffEvents() <-chan types.Diff
	// TradeEvents returns the unified trade stream across all subscribed
	// symbols; callers dispatch by (*types.Trade).Symbol.
	TradeEvents() <-chan types.Trade
	// Subscribe adds symbols to the live feed.
	Subscribe(symbols []string) error
	// Close releases all underlying connections.
	Close() error
}
