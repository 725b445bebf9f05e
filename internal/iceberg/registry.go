package iceberg

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"coreengine/pkg/types"
)

// RegistryConfig holds the decay/cleanup tuning of §4.5.
type RegistryConfig struct {
	HalfLife        time.Duration // default 300s
	MaxTTL          time.Duration // default 3600s, hard cap regardless of decay
	CleanupThreshold float64      // default 0.1
}

// DefaultRegistryConfig returns the swing-profile defaults named in §4.5.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HalfLife:         300 * time.Second,
		MaxTTL:           3600 * time.Second,
		CleanupThreshold: 0.1,
	}
}

// key identifies a level by side and price.
type key struct {
	isAsk bool
	price string
}

// Registry is the time-decayed active-iceberg map (§4.5). It is mutated
// only by the owning symbol task, but reads (GetDecayedConfidence, Snapshot) are
// safe from any goroutine — e.g. the HTTP admin surface — via the
// embedded mutex, matching §5's "read-only outside the owning task" rule.
type Registry struct {
	cfg RegistryConfig

	mu     sync.RWMutex
	levels map[key]*Level
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:    cfg,
		levels: make(map[key]*Level),
	}
}

func keyOf(price decimal.Decimal, isAsk bool) key {
	return key{isAsk: isAsk, price: price.String()}
}

// Upsert creates a new ACTIVE level or applies a refill to an existing one,
// returning the level and whether it was newly created (for event kind
// selection — Detected vs Refilled, §4.3).
func (r *Registry) Upsert(price decimal.Decimal, isAsk bool, hidden decimal.Decimal, confidence float64, nowMs int64) (level *Level, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := keyOf(price, isAsk)
	if existing, ok := r.levels[k]; ok && existing.Status == types.IcebergActive {
		existing.applyRefill(hidden, confidence, nowMs)
		return existing, false
	}

	l := newLevel(price, isAsk, hidden, confidence, nowMs)
	r.levels[k] = l
	return l, true
}

// Get returns the level tracked at price/side, whatever its status;
// callers check Status themselves.
func (r *Registry) Get(price decimal.Decimal, isAsk bool) (*Level, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.levels[keyOf(price, isAsk)]
	return l, ok
}

// MarkBreached transitions the level at price/side to BREACHED, capturing
// a cancellation context. No-op if no ACTIVE level exists there.
func (r *Registry) MarkBreached(price decimal.Decimal, isAsk bool, ctx types.CancellationContext) (*Level, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.levels[keyOf(price, isAsk)]
	if !ok || l.Status != types.IcebergActive {
		return nil, false
	}
	l.markTerminal(types.IcebergBreached, types.Some(ctx))
	return l, true
}

// MarkCancelled transitions the level to CANCELLED — the visible remainder
// vanished before being filled.
func (r *Registry) MarkCancelled(price decimal.Decimal, isAsk bool, ctx types.CancellationContext) (*Level, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.levels[keyOf(price, isAsk)]
	if !ok || l.Status != types.IcebergActive {
		return nil, false
	}
	l.markTerminal(types.IcebergCancelled, types.Some(ctx))
	return l, true
}

// MarkExhausted transitions the level to EXHAUSTED — volume fully absorbed
// without a refill inside the TTL.
func (r *Registry) MarkExhausted(price decimal.Decimal, isAsk bool) (*Level, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.levels[keyOf(price, isAsk)]
	if !ok || l.Status != types.IcebergActive {
		return nil, false
	}
	l.markTerminal(types.IcebergExhausted, types.None[types.CancellationContext]())
	return l, true
}

// GetDecayedConfidence is the only sanctioned way to read a level's
// confidence (§4.5 "reading the raw confidence_score is forbidden outside
// the registry").
func (r *Registry) GetDecayedConfidence(price decimal.Decimal, isAsk bool, now time.Time) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.levels[keyOf(price, isAsk)]
	if !ok {
		return 0, false
	}
	return l.DecayedConfidence(now, r.cfg.HalfLife), true
}

// Cleanup scans the registry for decayed-out or TTL-expired levels,
// transitions them to CANCELLED, and removes them. Returns the removed
// levels so the caller can emit IcebergCancelled events. Grounded on the
// teacher's risk.Manager ticker-driven cleanup pattern.
func (r *Registry) Cleanup(now time.Time) []*Level {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Level
	for k, l := range r.levels {
		if l.Status != types.IcebergActive {
			delete(r.levels, k)
			continue
		}
		age := now.Sub(time.UnixMilli(l.CreationTimeMs))
		decayed := l.DecayedConfidence(now, r.cfg.HalfLife)
		if age >= r.cfg.MaxTTL || decayed < r.cfg.CleanupThreshold {
			l.markTerminal(types.IcebergCancelled, types.Some(types.CancellationContext{
				PriceAtCancel: l.Price,
				ExecutedPct:   0,
			}))
			removed = append(removed, l)
			delete(r.levels, k)
		}
	}
	return removed
}

// Snapshot returns a shallow copy of all currently tracked levels, safe to
// read concurrently (used by the HTTP admin surface).
func (r *Registry) Snapshot() []Level {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Level, 0, len(r.levels))
	for _, l := range r.levels {
		out = append(out, *l)
	}
	return out
}

// CountActive returns the number of currently ACTIVE tracked levels.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, l := range r.levels {
		if l.Status == types.IcebergActive {
			n++
		}
	}
	return n
}
