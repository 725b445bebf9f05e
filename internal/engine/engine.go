// Package engine is the process-level orchestrator of the detection
// core.
//
// It wires together all subsystems:
//
//  1. internal/transport feeds diff/trade events for every subscribed
//     symbol.
//  2. Engine starts one symbol.Engine task per configured symbol
//     (reconcileSymbols), mirroring the teacher's per-market slot
//     lifecycle.
//  3. A dispatcher goroutine routes each transport event to its
//     symbol's slot by the event's own Symbol field (no token-map
//     indirection needed here since events already carry the symbol).
//  4. A derivatives-refresh task polls Deribit on a timer and publishes
//     into the shared DerivativesCache (§5 single-producer rule).
//  5. An async Sink persists every emitted event (iceberg snapshots are
//     not written from here).
//
// Lifecycle: New() → Start() → [runs until ctx cancelled] → Stop().
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"coreengine/internal/cache"
	"coreengine/internal/cohort"
	"coreengine/internal/config"
	"coreengine/internal/events"
	"coreengine/internal/exchange"
	"coreengine/internal/httpapi"
	"coreengine/internal/iceberg"
	"coreengine/internal/metrics"
	"coreengine/internal/store"
	"coreengine/internal/symbol"
	"coreengine/internal/transport"
	"coreengine/pkg/types"
)

const derivativesCacheTTL = 90 * time.Second

// symbolSlot is one actively-running symbol.Engine task.
type symbolSlot struct {
	eng     *symbol.Engine
	cancel  context.CancelFunc
	diffCh  chan types.Diff
	tradeCh chan types.Trade
}

// Engine orchestrates every symbol task plus the shared transport,
// derivatives cache, metrics, and persistence sink.
type Engine struct {
	cfg     config.Config
	router  transport.Router
	client  *exchange.Client
	cache   *cache.DerivativesCache
	sink    *store.Sink
	metrics *metrics.Metrics
	emitter *events.Emitter
	http    *httpapi.Server
	logger  *slog.Logger

	slots   map[string]*symbolSlot
	slotsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the router, REST client, derivatives cache, persistence
// sink, and metrics registry from cfg, but does not yet start any
// symbol tasks — call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	router, err := buildRouter(cfg.Transport, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: build transport: %w", err)
	}

	client := exchange.NewClient(exchange.Config{
		SnapshotBaseURL:    cfg.Transport.SnapshotBaseURL,
		DerivativesBaseURL: cfg.Transport.DerivativesBaseURL,
		Timeout:            cfg.Transport.RESTTimeout,
	})

	var derivCache *cache.DerivativesCache
	if cfg.Transport.DerivativesBaseURL != "" {
		opt, err := redis.ParseURL(cfg.Env.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("engine: invalid redis url: %w", err)
		}
		opt.Password = cfg.Env.RedisPassword
		derivCache = cache.New(redis.NewClient(opt), derivativesCacheTTL)
	}

	var backend store.Backend
	if cfg.DryRun {
		backend = store.NewNoopBackend()
	} else {
		backend, err = buildStoreBackend(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("engine: build store backend: %w", err)
		}
	}

	m := metrics.New()
	emitter := events.NewEmitter(logger)
	sink := store.NewSink(backend, logger)

	ctx, cancel := context.WithCancel(context.Background())

	eng := &Engine{
		cfg:     cfg,
		router:  router,
		client:  client,
		cache:   derivCache,
		sink:    sink,
		metrics: m,
		emitter: emitter,
		logger:  logger.With("component", "engine"),
		slots:   make(map[string]*symbolSlot),
		ctx:     ctx,
		cancel:  cancel,
	}

	if cfg.HTTPAPI.Enabled {
		eng.http = httpapi.NewServer(cfg.HTTPAPI.Port, eng, m, logger)
	}

	return eng, nil
}

func buildRouter(cfg config.TransportConfig, logger *slog.Logger) (transport.Router, error) {
	switch cfg.Kind {
	case "websocket":
		return transport.NewWSFeed(cfg.WSURL, logger), nil
	case "redis_stream":
		return transport.NewStreamConsumer(transport.StreamConfig{
			RedisURL:      cfg.WSURL,
			StreamKey:     cfg.StreamKey,
			ConsumerGroup: cfg.ConsumerGroup,
			ConsumerName:  cfg.ConsumerName,
			BlockTime:     cfg.BlockTime,
			BatchSize:     cfg.BatchSize,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown transport.kind %q", cfg.Kind)
	}
}

func buildStoreBackend(cfg config.StoreConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "postgres":
		pg, err := store.OpenPostgresStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "json":
		js, err := store.OpenJSONStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return store.NewJSONBackend(js), nil
	default:
		return nil, fmt.Errorf("unknown store.backend %q", cfg.Backend)
	}
}

// Start subscribes the transport to every configured symbol, launches
// the dispatcher and derivatives-refresh goroutines, and starts a
// symbol.Engine task per symbol.
func (e *Engine) Start() error {
	if err := e.router.Subscribe(e.cfg.Symbols); err != nil {
		return fmt.Errorf("engine: subscribe: %w", err)
	}

	if wsFeed, ok := e.router.(*transport.WSFeed); ok {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := wsFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("websocket feed error", "error", err)
			}
		}()
	}
	if streamConsumer, ok := e.router.(*transport.StreamConsumer); ok {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := streamConsumer.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("stream consumer error", "error", err)
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchEvents()
	}()

	sub := e.emitter.Subscribe()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.persistEvents(sub)
	}()

	if e.cache != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.refreshDerivatives()
		}()
	}

	e.reconcileSymbols(e.cfg.Symbols)

	if e.http != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.http.Start(); err != nil {
				e.logger.Error("admin api error", "error", err)
			}
		}()
	}

	return nil
}

// Stop cancels every symbol task, drains the persistence sink, and
// closes the router. The derivatives cache's client is not closed here.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	e.cancel()
	if e.http != nil {
		if err := e.http.Stop(); err != nil {
			e.logger.Error("admin api shutdown failed", "error", err)
		}
	}
	e.wg.Wait()

	e.slotsMu.Lock()
	for symbolName := range e.slots {
		e.stopSymbolLocked(symbolName)
	}
	e.slotsMu.Unlock()

	if err := e.router.Close(); err != nil {
		e.logger.Error("router close failed", "error", err)
	}
	if err := e.sink.Close(); err != nil {
		e.logger.Error("sink close failed", "error", err)
	}
	e.logger.Info("shutdown complete")
}

// reconcileSymbols starts a slot for every desired symbol not already
// running and stops any running slot no longer desired, mirroring the
// teacher's reconcileMarkets diff-and-apply shape.
func (e *Engine) reconcileSymbols(desired []string) {
	wanted := make(map[string]bool, len(desired))
	for _, s := range desired {
		wanted[s] = true
	}

	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()

	for symbolName := range e.slots {
		if !wanted[symbolName] {
			e.stopSymbolLocked(symbolName)
		}
	}
	for symbolName := range wanted {
		if _, ok := e.slots[symbolName]; !ok {
			e.startSymbolLocked(symbolName)
		}
	}
}

func (e *Engine) startSymbolLocked(symbolName string) {
	thresholds, err := cohort.NewThresholds(e.cfg.Cohort.WhaleThresholdUSD, e.cfg.Cohort.MinnowThresholdUSD)
	if err != nil {
		e.logger.Error("invalid cohort thresholds", "symbol", symbolName, "error", err)
		return
	}

	eng := symbol.New(symbol.Config{
		Symbol:           symbolName,
		CohortThresholds: thresholds,
		DetectorConfig: iceberg.DetectorConfig{
			MaxRefillDelayMs: e.cfg.Detector.MaxRefillDelayMs,
			RefillCutoffMs:   e.cfg.Detector.RefillCutoffMs,
			RefillAlpha:      e.cfg.Detector.RefillAlpha,
			MinPRefill:       e.cfg.Detector.MinPRefill,
			MinHiddenQty:     e.cfg.Detector.MinHiddenQty,
			MinHiddenAbs:     e.cfg.Detector.MinHiddenAbs,
			MinRatio:         e.cfg.Detector.MinRatio,
		},
		RegistryConfig: iceberg.RegistryConfig{
			HalfLife:         e.cfg.Registry.HalfLife,
			MaxTTL:           e.cfg.Registry.MaxTTL,
			CleanupThreshold: e.cfg.Registry.CleanupThreshold,
		},
		VPINBucketUSD:   e.cfg.Toxicity.BucketUSD,
		CleanupInterval: e.cfg.Registry.CleanupInterval,
	}, e.client, e.emitter, e.metrics, e.cache, e.logger)

	ctx, cancel := context.WithCancel(e.ctx)
	slot := &symbolSlot{
		eng:     eng,
		cancel:  cancel,
		diffCh:  make(chan types.Diff, 256),
		tradeCh: make(chan types.Trade, 256),
	}

	if err := eng.Sync.Initialize(nil); err != nil {
		e.logger.Error("initial snapshot sync failed", "symbol", symbolName, "error", err)
		cancel()
		return
	}

	e.slots[symbolName] = slot

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSymbolTask(symbolName, eng, ctx, slot.diffCh, slot.tradeCh)
	}()

	e.logger.Info("symbol started", "symbol", symbolName)
}

// runSymbolTask drives one symbol.Engine's Run loop and recovers a panic at
// the task boundary (§7: a programmer error terminates only the owning
// symbol task, never its siblings). A recovered panic schedules a restart
// from a fresh resync, mirroring stopSymbolLocked/startSymbolLocked.
func (e *Engine) runSymbolTask(symbolName string, eng *symbol.Engine, ctx context.Context, diffCh chan types.Diff, tradeCh chan types.Trade) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("symbol task panicked, restarting from resync", "symbol", symbolName, "panic", r)
			if e.metrics != nil {
				e.metrics.RecordError(symbolName, "panic_restart")
			}
			go e.restartSymbol(symbolName)
		}
	}()
	eng.Run(ctx, diffCh, tradeCh)
}

// restartSymbol stops and re-starts a symbol slot after a recovered panic.
// It skips the restart if the engine itself is shutting down.
func (e *Engine) restartSymbol(symbolName string) {
	select {
	case <-e.ctx.Done():
		return
	default:
	}

	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()
	if _, ok := e.slots[symbolName]; ok {
		e.stopSymbolLocked(symbolName)
	}
	e.startSymbolLocked(symbolName)
}

func (e *Engine) stopSymbolLocked(symbolName string) {
	slot, ok := e.slots[symbolName]
	if !ok {
		return
	}
	slot.cancel()
	delete(e.slots, symbolName)
	e.logger.Info("symbol stopped", "symbol", symbolName)
}

// dispatchEvents routes every transport diff/trade to its symbol's slot,
// mirroring the teacher's routeBookEvent/routeTrade token-map lookup —
// except events here are already keyed directly by symbol.
func (e *Engine) dispatchEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case d, ok := <-e.router.DiffEvents():
			if !ok {
				return
			}
			e.routeDiff(d)
		case t, ok := <-e.router.TradeEvents():
			if !ok {
				return
			}
			e.routeTrade(t)
		}
	}
}

func (e *Engine) routeDiff(d types.Diff) {
	e.slotsMu.RLock()
	slot, ok := e.slots[d.Symbol]
	e.slotsMu.RUnlock()
	if !ok {
		return
	}
	select {
	case slot.diffCh <- d:
	default:
		e.logger.Warn("diff channel full", "symbol", d.Symbol)
		if e.metrics != nil {
			e.metrics.RecordEventDropped("engine_diff_dispatch")
		}
	}
}

func (e *Engine) routeTrade(t types.Trade) {
	e.slotsMu.RLock()
	slot, ok := e.slots[t.Symbol]
	e.slotsMu.RUnlock()
	if !ok {
		return
	}
	select {
	case slot.tradeCh <- t:
	default:
		e.logger.Warn("trade channel full", "symbol", t.Symbol)
		if e.metrics != nil {
			e.metrics.RecordEventDropped("engine_trade_dispatch")
		}
	}
}

// refreshDerivatives is the single producer (§5) for the shared
// DerivativesCache: it polls Deribit for every configured symbol on a
// fixed interval and publishes successes, preserving the last cached
// value on failure rather than clearing it.
func (e *Engine) refreshDerivatives() {
	ticker := time.NewTicker(derivativesCacheTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			for _, s := range e.cfg.Symbols {
				snap, err := e.client.FetchDerivatives(s)
				if err != nil {
					e.logger.Warn("derivatives fetch failed", "symbol", s, "error", err)
					if e.metrics != nil {
						e.metrics.RecordError("derivatives_refresh", "fetch_failed")
					}
					continue
				}
				if err := e.cache.Publish(e.ctx, s, snap); err != nil {
					e.logger.Error("derivatives publish failed", "symbol", s, "error", err)
				}
			}
		}
	}
}

// persistEvents writes every event received on sub — the shared emitter's
// subscription, taken in Start before any symbol task exists — through the
// async Sink. It is the only place in the process that couples detection
// output to persistence, keeping internal/symbol ignorant of storage.
func (e *Engine) persistEvents(sub <-chan types.Event) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			e.sink.WriteEvent(ev)
		}
	}
}

// Symbols returns the currently running symbol engines, keyed by symbol —
// used by internal/httpapi to build its status responses.
func (e *Engine) Symbols() map[string]*symbol.Engine {
	e.slotsMu.RLock()
	defer e.slotsMu.RUnlock()
	out := make(map[string]*symbol.Engine, len(e.slots))
	for s, slot := range e.slots {
		out[s] = slot.eng
	}
	return out
}

// Metrics returns the shared metrics registry — used to wire /metrics.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }
