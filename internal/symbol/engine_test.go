package symbol

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"coreengine/internal/book"
	"coreengine/internal/cohort"
	"coreengine/internal/events"
	"coreengine/internal/iceberg"
	"coreengine/pkg/types"
)

type fakeFetcher struct {
	snapshot types.Snapshot
}

func (f fakeFetcher) FetchSnapshot(symbol string) (types.Snapshot, error) {
	return f.snapshot, nil
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	th, err := cohort.NewThresholds(100_000, 1_000)
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		Symbol:           "BTCUSDT",
		CohortThresholds: th,
		DetectorConfig:   iceberg.DefaultDetectorConfig(),
		RegistryConfig:   iceberg.DefaultRegistryConfig(),
		VPINBucketUSD:    10_000,
	}
	fetcher := fakeFetcher{snapshot: types.Snapshot{
		Symbol:       "BTCUSDT",
		LastUpdateID: 100,
		Bids:         []types.PriceLevel{{Price: dec(100), Quantity: dec(0.5)}},
		Asks:         []types.PriceLevel{{Price: dec(101), Quantity: dec(0.5)}},
	}}
	emitter := events.NewEmitter(slog.New(slog.NewTextHandler(io.Discard, nil)))
	e := New(cfg, fetcher, emitter, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := e.Sync.Initialize(nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return e
}

// A trade that exceeds the resting ask quantity, followed within the
// refill window by a diff that restores the ask, should register a new
// ACTIVE iceberg and emit a Detected event.
func TestEngine_DetectsIcebergFromTradeThenRefillDiff(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	sub := e.emitterSubForTest()

	e.handleTrade(types.Trade{
		Symbol:       "BTCUSDT",
		Price:        dec(101),
		Quantity:     dec(2.0), // visible was 0.5, far exceeds it
		IsBuyerMaker: false,    // aggressor buyer hits the ask
		EventTimeMs:  1_000,
	})

	e.handleDiff(types.Diff{
		Symbol:        "BTCUSDT",
		FirstUpdateID: 101,
		FinalUpdateID: 101,
		EventTimeMs:   1_020, // 20ms later, within the refill window
		Asks:          []types.PriceLevel{{Price: dec(101), Quantity: dec(0.5)}},
	})

	if _, ok := e.Registry.Get(dec(101), true); !ok {
		t.Fatal("expected an ACTIVE iceberg registered at price 101")
	}

	select {
	case ev := <-sub:
		if ev.Kind != types.EventIcebergDetected {
			t.Errorf("Kind = %v, want EventIcebergDetected", ev.Kind)
		}
	default:
		t.Fatal("expected an IcebergDetected event")
	}
}

// A trade that crosses through a tracked iceberg's price should breach it
// and remove it from the book's active set.
func TestEngine_BreachTerminatesTrackedIceberg(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	level, _ := e.Registry.Upsert(dec(101), true, dec(1.5), 0.8, 1_000)
	e.Book.RegisterIceberg(level)

	e.handleTrade(types.Trade{
		Symbol:       "BTCUSDT",
		Price:        dec(101),
		Quantity:     dec(0.1),
		IsBuyerMaker: false, // buy aggressor crosses the ask at 101
		EventTimeMs:  2_000,
	})

	got, ok := e.Registry.Get(dec(101), true)
	if !ok {
		t.Fatal("expected the level to still be present (terminal, not deleted)")
	}
	if got.Status != types.IcebergBreached {
		t.Errorf("Status = %v, want BREACHED", got.Status)
	}
}

// emitterSubForTest subscribes to the engine's emitter for assertions.
func (e *Engine) emitterSubForTest() <-chan types.Event {
	return e.emitter.Subscribe()
}
