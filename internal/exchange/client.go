// Package exchange implements the REST client for order-book snapshots
// and Deribit derivatives metrics (§4.11).
//
// The REST client (Client) serves two purposes:
//   - FetchSnapshot: GET the configured book-snapshot endpoint — the
//     BookSynchronizer's SnapshotFetcher capability (§4.1).
//   - FetchDerivatives: GET the configured Deribit-derived metrics
//     endpoint, feeding the DerivativesCache refresh loop (§4.11).
//
// Every request is rate-limited via a per-category TokenBucket and
// automatically retried on 5xx errors, mirroring the teacher's resty setup.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"coreengine/pkg/types"
)

// Config is the subset of configuration the REST client needs.
type Config struct {
	SnapshotBaseURL    string
	DerivativesBaseURL string
	Timeout            time.Duration
}

// Client is the market-data REST client.
type Client struct {
	http *resty.Client
	rl   *RateLimiter
	cfg  Config
}

// NewClient creates a REST client with retry and rate limiting.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http: httpClient,
		rl:   NewRateLimiter(),
		cfg:  cfg,
	}
}

type rawPriceLevel struct {
	Price string `json:"price"`
	Qty   string `json:"quantity"`
}

type snapshotResponse struct {
	LastUpdateID int64           `json:"lastUpdateId"`
	Bids         []rawPriceLevel `json:"bids"`
	Asks         []rawPriceLevel `json:"asks"`
}

func toPriceLevels(raw []rawPriceLevel) ([]types.PriceLevel, error) {
	out := make([]types.PriceLevel, len(raw))
	for i, r := range raw {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", r.Price, err)
		}
		qty, err := decimal.NewFromString(r.Qty)
		if err != nil {
			return nil, fmt.Errorf("parse quantity %q: %w", r.Qty, err)
		}
		out[i] = types.PriceLevel{Price: price, Quantity: qty}
	}
	return out, nil
}

// FetchSnapshot implements book.SnapshotFetcher, retrieving the current L2
// book for symbol.
func (c *Client) FetchSnapshot(symbol string) (types.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	if err := c.rl.Snapshot.Wait(ctx); err != nil {
		return types.Snapshot{}, err
	}

	var raw snapshotResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&raw).
		Get(c.cfg.SnapshotBaseURL + "/depth")
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("fetch snapshot %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Snapshot{}, fmt.Errorf("fetch snapshot %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
	}

	bids, err := toPriceLevels(raw.Bids)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("fetch snapshot %s: %w", symbol, err)
	}
	asks, err := toPriceLevels(raw.Asks)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("fetch snapshot %s: %w", symbol, err)
	}

	return types.Snapshot{
		Symbol:        symbol,
		LastUpdateID:  raw.LastUpdateID,
		Bids:          bids,
		Asks:          asks,
		ReceivedAtUTC: time.Now().UTC(),
	}, nil
}

type derivativesResponse struct {
	BasisAPR *float64 `json:"basis_apr"`
	SkewPct  *float64 `json:"skew_pct"`
	TotalGEX *float64 `json:"total_gex"`
}

// FetchDerivatives retrieves the optional Deribit-derived metrics for the
// underlying symbol. Missing fields in the upstream response surface as
// Optional absence rather than a zero value (§7).
func (c *Client) FetchDerivatives(underlying string) (types.DerivativesSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.rl.Derivatives.Wait(ctx); err != nil {
		return types.DerivativesSnapshot{}, err
	}

	var raw derivativesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("underlying", underlying).
		SetResult(&raw).
		Get(c.cfg.DerivativesBaseURL + "/derivatives")
	if err != nil {
		return types.DerivativesSnapshot{}, fmt.Errorf("fetch derivatives %s: %w", underlying, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.DerivativesSnapshot{}, fmt.Errorf("fetch derivatives %s: status %d: %s", underlying, resp.StatusCode(), resp.String())
	}

	snap := types.DerivativesSnapshot{UpdatedAt: time.Now().UTC()}
	if raw.BasisAPR != nil {
		snap.BasisAPR = types.Some(*raw.BasisAPR)
	}
	if raw.SkewPct != nil {
		snap.SkewPct = types.Some(*raw.SkewPct)
	}
	if raw.TotalGEX != nil {
		snap.TotalGEX = types.Some(*raw.TotalGEX)
	}
	return snap, nil
}
