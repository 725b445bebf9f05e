// Package cache implements the DerivativesCache (§4.11, §5): a
// single-producer (the derivatives refresh task), many-reader (any symbol
// ingestion task) Redis-backed cache of Deribit-derived metrics. A failed
// refresh preserves the last cached value rather than clearing it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"coreengine/pkg/types"
)

const keyPrefix = "derivatives:"

// DerivativesCache is a thin Redis SET/GET-with-TTL wrapper, grounded on
// forgequant-context8-mcp's RedisPublisher.
type DerivativesCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a DerivativesCache bound to an already-configured client.
func New(client *redis.Client, ttl time.Duration) *DerivativesCache {
	return &DerivativesCache{client: client, ttl: ttl}
}

func keyFor(symbol string) string { return keyPrefix + symbol }

// Publish writes the latest derivatives snapshot for symbol, refreshing
// its TTL. Called only by the refresh task (§5 single-producer rule).
func (c *DerivativesCache) Publish(ctx context.Context, symbol string, snap types.DerivativesSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: marshal derivatives snapshot: %w", err)
	}
	if err := c.client.Set(ctx, keyFor(symbol), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", symbol, err)
	}
	return nil
}

// Get reads the last published snapshot for symbol. A miss (key expired or
// never published) is the non-signal of §7: ok=false, not a zero-valued
// snapshot pretending to be real data.
func (c *DerivativesCache) Get(ctx context.Context, symbol string) (types.DerivativesSnapshot, bool) {
	body, err := c.client.Get(ctx, keyFor(symbol)).Bytes()
	if err != nil {
		return types.DerivativesSnapshot{}, false
	}
	var snap types.DerivativesSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return types.DerivativesSnapshot{}, false
	}
	return snap, true
}
