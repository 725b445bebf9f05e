// Package symbol implements the per-symbol cooperative task (§5
// CONCURRENCY MODEL): one goroutine owns the OrderBook, the pending-refill
// queue, the iceberg registry, the cohort analyzer, and the VPIN analyzer
// for a single symbol, driven entirely by channel receives. No other
// goroutine ever mutates this state; the HTTP admin surface only reads
// through the registry's and book's own mutexes.
//
// Grounded on the teacher's strategy.Maker.Run select loop, generalized
// from a fixed-interval quoting tick to an event-driven detection
// pipeline (diffs, trades, a cleanup ticker, and shutdown).
package symbol

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"coreengine/internal/book"
	"coreengine/internal/cache"
	"coreengine/internal/cohort"
	"coreengine/internal/events"
	"coreengine/internal/iceberg"
	"coreengine/internal/metrics"
	"coreengine/internal/pending"
	"coreengine/internal/toxicity"
	"coreengine/pkg/types"
)

// Config bundles the tunables an Engine needs at construction time.
type Config struct {
	Symbol                  string
	Underlying              string // Deribit underlying this symbol's derivatives cache key is keyed on; defaults to Symbol
	CohortThresholds        cohort.Thresholds
	DetectorConfig          iceberg.DetectorConfig
	RegistryConfig          iceberg.RegistryConfig
	VPINBucketUSD           float64
	CleanupInterval         time.Duration // default 60s
	DerivativesPollInterval time.Duration // default 30s
}

// Engine is the single-writer task for one symbol. Its exported fields are
// the read-safe components (Book, Registry) the HTTP admin surface may
// query from any goroutine; Run (and the handleTrade/handleDiff it calls)
// runs only on the owning goroutine.
type Engine struct {
	cfg Config

	Book       *book.OrderBook
	Sync       *book.Synchronizer
	Registry   *iceberg.Registry
	detector   *iceberg.Detector
	adjuster   *iceberg.Adjuster
	pendingQ   *pending.Queue
	cohortA    *cohort.Analyzer
	vpinA      *toxicity.Analyzer
	emitter    *events.Emitter
	metrics    *metrics.Metrics
	derivCache *cache.DerivativesCache

	derivMu   sync.RWMutex
	derivLast types.DerivativesSnapshot

	logger *slog.Logger
}

// New constructs an Engine for one symbol. fetcher supplies REST snapshots
// for the embedded BookSynchronizer. m and derivCache may be nil, in which
// case metric recording and derivatives polling are skipped respectively —
// useful in tests that don't care about either.
func New(cfg Config, fetcher book.SnapshotFetcher, emitter *events.Emitter, m *metrics.Metrics, derivCache *cache.DerivativesCache, logger *slog.Logger) *Engine {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 60 * time.Second
	}
	if cfg.DerivativesPollInterval == 0 {
		cfg.DerivativesPollInterval = 30 * time.Second
	}
	if cfg.Underlying == "" {
		cfg.Underlying = cfg.Symbol
	}
	b := book.New(cfg.Symbol)
	return &Engine{
		cfg:        cfg,
		Book:       b,
		Sync:       book.NewSynchronizer(b, fetcher),
		Registry:   iceberg.NewRegistry(cfg.RegistryConfig),
		detector:   iceberg.NewDetector(cfg.DetectorConfig),
		adjuster:   iceberg.NewAdjuster(),
		pendingQ:   pending.New(),
		cohortA:    cohort.NewAnalyzer(cfg.CohortThresholds),
		vpinA:      toxicity.NewAnalyzer(cfg.VPINBucketUSD),
		emitter:    emitter,
		metrics:    m,
		derivCache: derivCache,
		logger:     logger.With("component", "symbol_engine", "symbol", cfg.Symbol),
	}
}

// LatestDerivatives returns the most recently polled Deribit-derived
// snapshot for this symbol's underlying, safe to call from any goroutine
// (the HTTP admin surface reads it this way).
func (e *Engine) LatestDerivatives() types.DerivativesSnapshot {
	e.derivMu.RLock()
	defer e.derivMu.RUnlock()
	return e.derivLast
}

// CVD returns the cumulative volume delta tracked for cohort c, safe to
// call from any goroutine — the cohort analyzer guards its own state.
func (e *Engine) CVD(c types.Cohort) float64 { return e.cohortA.CVD(c) }

// CohortVolumePct returns the whale/minnow share of quote volume over the
// analyzer's current trade window, safe to call from any goroutine.
func (e *Engine) CohortVolumePct() (whalePct, minnowPct float64) {
	return e.cohortA.CohortVolumePct()
}

// CurrentVPIN returns the latest flow-toxicity reading, and whether the
// analyzer has enough buckets to consider it reliable.
func (e *Engine) CurrentVPIN() (vpin float64, ok bool) {
	if !e.vpinA.IsReliable() {
		return 0, false
	}
	return e.vpinA.CurrentVPIN()
}

// Run is the main loop. Blocks until ctx is cancelled. diffCh and tradeCh
// are expected to be fed by the transport layer after initial
// synchronization has already succeeded.
func (e *Engine) Run(ctx context.Context, diffCh <-chan types.Diff, tradeCh <-chan types.Trade) {
	cleanup := time.NewTicker(e.cfg.CleanupInterval)
	defer cleanup.Stop()

	derivPoll := time.NewTicker(e.cfg.DerivativesPollInterval)
	defer derivPoll.Stop()

	e.logger.Info("symbol engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("symbol engine stopped")
			return

		case d, ok := <-diffCh:
			if !ok {
				return
			}
			e.handleDiff(d)

		case t, ok := <-tradeCh:
			if !ok {
				return
			}
			e.handleTrade(t)

		case <-cleanup.C:
			e.runCleanup(time.Now())

		case <-derivPoll.C:
			e.pollDerivatives(ctx)
		}
	}
}

// pollDerivatives reads the shared DerivativesCache (§5: many-reader side
// of the single-producer/many-reader contract) and updates derivLast. A
// cache miss preserves the last known value rather than clearing it.
func (e *Engine) pollDerivatives(ctx context.Context) {
	if e.derivCache == nil {
		return
	}
	snap, ok := e.derivCache.Get(ctx, e.cfg.Underlying)
	if !ok {
		return
	}
	e.derivMu.Lock()
	e.derivLast = snap
	e.derivMu.Unlock()
}

// handleDiff applies the diff to the book, forcing a resync on any gap or
// integrity violation, then checks the pending-refill queue for a match at
// each touched price — the refill confirmation half of §4.3.
func (e *Engine) handleDiff(d types.Diff) {
	if e.metrics != nil {
		e.metrics.RecordDiff(e.cfg.Symbol)
	}
	if err := e.Sync.ApplyDiff(d); err != nil {
		e.logger.Warn("resync required", "error", err)
		if e.metrics != nil {
			e.metrics.RecordResync(e.cfg.Symbol)
		}
		if err := e.Sync.Initialize(nil); err != nil {
			e.logger.Error("resync failed", "error", err)
		}
		return
	}

	for _, lvl := range d.Bids {
		e.handleLevelChange(lvl, false, d.EventTimeMs)
	}
	for _, lvl := range d.Asks {
		e.handleLevelChange(lvl, true, d.EventTimeMs)
	}
}

// handleLevelChange routes a touched price level to refill confirmation
// (still resting, nonzero) or lifecycle termination (vanished): a vanished
// level with a just-preceding trade at that price is EXHAUSTED (filled
// without a refill), otherwise it is CANCELLED (withdrawn unfilled) —
// the lifecycle distinction of §3.
func (e *Engine) handleLevelChange(lvl types.PriceLevel, isAsk bool, diffTimeMs int64) {
	if currentVolume, stillResting := e.Book.VolumeAt(lvl.Price, isAsk); stillResting {
		e.tryConfirmRefill(lvl.Price, currentVolume, isAsk, diffTimeMs)
		return
	}
	e.tryTerminateVanishedLevel(lvl.Price, isAsk, diffTimeMs)
}

func (e *Engine) tryTerminateVanishedLevel(price decimal.Decimal, isAsk bool, diffTimeMs int64) {
	level, ok := e.Registry.Get(price, isAsk)
	if !ok || level.Status != types.IcebergActive {
		return
	}

	_, _, filledByTrade := e.pendingQ.MatchAndRemove(price, isAsk, diffTimeMs)

	var terminated *iceberg.Level
	var kind types.EventKind
	if filledByTrade {
		terminated, _ = e.Registry.MarkExhausted(price, isAsk)
		kind = types.EventIcebergExhausted
	} else {
		terminated, _ = e.Registry.MarkCancelled(price, isAsk, types.CancellationContext{PriceAtCancel: price})
		kind = types.EventIcebergCancelled
	}
	if terminated == nil {
		return
	}
	e.Book.UnregisterIceberg(price, isAsk)
	if e.metrics != nil {
		e.metrics.SetIcebergsActive(e.cfg.Symbol, e.Registry.CountActive())
	}
	e.emitter.IcebergLifecycle(e.cfg.Symbol, diffTimeMs, kind, types.IcebergLifecyclePayload{
		Price:               terminated.Price,
		Side:                sideOf(terminated.IsAsk),
		SurvivalSeconds:     terminated.SurvivalSeconds(diffTimeMs),
		TotalVolumeAbsorbed: terminated.TotalHiddenVolume,
		RefillCount:         terminated.RefillCount,
		CancellationContext: terminated.CancellationContext,
	})
}

func (e *Engine) tryConfirmRefill(price decimal.Decimal, currentVolume decimal.Decimal, isAsk bool, diffTimeMs int64) {
	check, deltaTMs, ok := e.pendingQ.MatchAndRemove(price, isAsk, diffTimeMs)
	if !ok {
		return
	}

	// §4.3 contract: a refill candidate only confirms once the visible
	// quantity has been restored to at least its pre-trade level — a level
	// merely still resting at a reduced quantity is not a refill.
	if currentVolume.Cmp(check.VisibleBefore) < 0 {
		return
	}

	result := e.detector.Detect(iceberg.Candidate{
		TradeQty:      check.Trade.Quantity,
		VisibleBefore: check.VisibleBefore,
		DeltaTMs:      deltaTMs,
		IsBuyerMaker:  check.Trade.IsBuyerMaker,
	})
	if result == nil {
		return
	}

	whalePct, minnowPct := e.cohortA.CohortVolumePct()
	vpin, _ := e.vpinA.CurrentVPIN()
	driftBps, opposesWall := e.priceDrift(check.Trade.Price, isAsk)
	adjusted := e.adjuster.Adjust(iceberg.AdjusterInput{
		BaseConfidence:   result.BaseConfidence,
		VPINAtRefill:     vpin,
		WhalePct:         whalePct,
		MinnowPct:        minnowPct,
		PriceDriftBps:    driftBps,
		DriftOpposesWall: opposesWall,
	})

	level, created := e.Registry.Upsert(price, isAsk, result.Hidden, adjusted, diffTimeMs)
	e.Book.RegisterIceberg(level)

	if e.metrics != nil {
		e.metrics.RecordIcebergDetected(e.cfg.Symbol, string(sideOf(isAsk)))
		e.metrics.SetIcebergsActive(e.cfg.Symbol, e.Registry.CountActive())
	}

	e.emitter.IcebergDetected(e.cfg.Symbol, diffTimeMs, !created, types.IcebergDetectedPayload{
		Price:         level.Price,
		Side:          sideOf(isAsk),
		HiddenVolume:  level.TotalHiddenVolume,
		VisibleBefore: check.VisibleBefore,
		Confidence:    adjusted,
		RefillCount:   level.RefillCount,
		DeltaTMs:      deltaTMs,
	})
}

// priceDrift measures how far the current book mid has moved since
// tradePrice, in basis points, and whether that movement opposes the
// iceberg's side (§4.4): for an ask iceberg, a rising mid moves price into
// the wall; for a bid iceberg, a falling mid does. Returns (0, false) when
// the book has no two-sided quote to measure from.
func (e *Engine) priceDrift(tradePrice decimal.Decimal, isAsk bool) (driftBps float64, opposesWall bool) {
	bid, hasBid := e.Book.BestBid()
	ask, hasAsk := e.Book.BestAsk()
	if !hasBid || !hasAsk {
		return 0, false
	}
	tradePriceF, _ := tradePrice.Float64()
	if tradePriceF == 0 {
		return 0, false
	}
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	midF, _ := mid.Float64()

	signedDriftBps := (midF - tradePriceF) / tradePriceF * 10000
	if isAsk {
		opposesWall = signedDriftBps > 0
	} else {
		opposesWall = signedDriftBps < 0
	}
	if signedDriftBps < 0 {
		signedDriftBps = -signedDriftBps
	}
	return signedDriftBps, opposesWall
}

// handleTrade records the trade into the cohort analyzer and VPIN analyzer,
// checks it against tracked icebergs for a breach, and — if it is not
// itself a breach — stages a pending refill candidate for the next diff.
func (e *Engine) handleTrade(t types.Trade) {
	if e.metrics != nil {
		e.metrics.RecordTrade(e.cfg.Symbol)
	}
	e.vpinA.RecordTrade(t)
	if vpin, ok := e.vpinA.CurrentVPIN(); ok && e.metrics != nil {
		e.metrics.SetVPIN(e.cfg.Symbol, vpin)
	}

	if classification := e.cohortA.RecordTrade(t); classification != nil {
		if e.metrics != nil {
			e.metrics.RecordAlgoDetected(e.cfg.Symbol, string(classification.Kind))
		}
		e.emitter.AlgoDetected(e.cfg.Symbol, t.EventTimeMs, types.AlgoDetectedPayload{
			Side:       classification.Side,
			Kind:       classification.Kind,
			Confidence: classification.Confidence,
			WindowSize: classification.WindowSize,
		})
	}

	quoteVolume := t.QuoteVolume()
	if c := e.cfg.CohortThresholds.Classify(quoteVolume); c == types.CohortWhale {
		if e.metrics != nil {
			e.metrics.RecordWhaleTrade(e.cfg.Symbol)
		}
		e.emitter.WhaleTrade(e.cfg.Symbol, t.EventTimeMs, types.WhaleTradePayload{
			Price:       t.Price,
			Quantity:    t.Quantity,
			QuoteVolume: quoteVolume,
			Side:        t.AggressorSide(),
			Cohort:      c,
		})
	}

	breached := e.Book.CheckBreaches(t.Price, t.AggressorSide())
	for _, lvl := range breached {
		e.Registry.MarkBreached(lvl.Price, lvl.IsAsk, types.CancellationContext{
			PriceAtCancel: t.Price,
			ExecutedPct:   0,
		})
		e.emitter.IcebergLifecycle(e.cfg.Symbol, t.EventTimeMs, types.EventIcebergBreached, types.IcebergLifecyclePayload{
			Price:               lvl.Price,
			Side:                sideOf(lvl.IsAsk),
			SurvivalSeconds:     lvl.SurvivalSeconds(t.EventTimeMs),
			TotalVolumeAbsorbed: lvl.TotalHiddenVolume,
			RefillCount:         lvl.RefillCount,
		})
	}
	if len(breached) > 0 {
		return
	}

	// The refill side is opposite the trade aggressor: a buy hits the ask,
	// so a refill — if this trade is hiding one — would appear on the ask.
	refillIsAsk := !t.IsBuyerMaker
	visibleBefore, _ := e.Book.VolumeAt(t.Price, refillIsAsk)
	e.pendingQ.Add(pending.Check{
		Trade:         t,
		VisibleBefore: visibleBefore,
		TradeTimeMs:   t.EventTimeMs,
		Price:         t.Price,
		IsAsk:         refillIsAsk,
	})
}

// runCleanup sweeps decayed/TTL-expired icebergs out of the registry and
// unregisters them from breach tracking, emitting Cancelled events — the
// registry's own Cleanup only ever produces the decayed-confidence
// termination path (§4.5); the EXHAUSTED path is handled inline in
// tryTerminateVanishedLevel as levels vanish from the book.
func (e *Engine) runCleanup(now time.Time) {
	removed := e.Registry.Cleanup(now)
	for _, lvl := range removed {
		e.Book.UnregisterIceberg(lvl.Price, lvl.IsAsk)
		e.emitter.IcebergLifecycle(e.cfg.Symbol, now.UnixMilli(), types.EventIcebergCancelled, types.IcebergLifecyclePayload{
			Price:               lvl.Price,
			Side:                sideOf(lvl.IsAsk),
			SurvivalSeconds:     lvl.SurvivalSeconds(now.UnixMilli()),
			TotalVolumeAbsorbed: lvl.TotalHiddenVolume,
			RefillCount:         lvl.RefillCount,
			CancellationContext: lvl.CancellationContext,
		})
	}
}

func sideOf(isAsk bool) types.Side {
	if isAsk {
		return types.Sell
	}
	return types.Buy
}
