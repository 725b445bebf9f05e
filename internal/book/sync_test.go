package book

import (
	"testing"

	"coreengine/pkg/types"
)

type fakeFetcher struct {
	snapshot types.Snapshot
	err      error
}

func (f *fakeFetcher) FetchSnapshot(symbol string) (types.Snapshot, error) {
	return f.snapshot, f.err
}

func TestSynchronizer_InitializeDiscardsStaleDiffs(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{snapshot: types.Snapshot{
		Symbol:       "BTCUSDT",
		LastUpdateID: 100,
		Bids:         []types.PriceLevel{{Price: d(99990), Quantity: d(1)}},
		Asks:         []types.PriceLevel{{Price: d(100010), Quantity: d(1)}},
	}}
	b := New("BTCUSDT")
	s := NewSynchronizer(b, fetcher)

	buffered := []types.Diff{
		{FirstUpdateID: 50, FinalUpdateID: 90}, // stale, discarded
		{FirstUpdateID: 91, FinalUpdateID: 101},
		{FirstUpdateID: 102, FinalUpdateID: 103},
	}
	if err := s.Initialize(buffered); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.LastUpdateID() != 103 {
		t.Errorf("LastUpdateID() = %d, want 103", b.LastUpdateID())
	}
}

func TestSynchronizer_InitializeGapIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{snapshot: types.Snapshot{LastUpdateID: 100}}
	b := New("BTCUSDT")
	s := NewSynchronizer(b, fetcher)

	buffered := []types.Diff{
		{FirstUpdateID: 105, FinalUpdateID: 110}, // doesn't straddle snapshot+1
	}
	err := s.Initialize(buffered)
	if _, ok := err.(*GapError); !ok {
		t.Fatalf("expected *GapError, got %v", err)
	}
}

// Invariant 2: any gap in last_update_id triggers exactly one resync signal.
func TestSynchronizer_ApplyDiffDetectsGap(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{snapshot: types.Snapshot{LastUpdateID: 100}}
	b := New("BTCUSDT")
	s := NewSynchronizer(b, fetcher)
	if err := s.Initialize(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := s.ApplyDiff(types.Diff{FirstUpdateID: 105, FinalUpdateID: 106})
	if _, ok := err.(*GapError); !ok {
		t.Fatalf("expected *GapError, got %v", err)
	}

	// After a gap, applying further diffs without re-initializing fails.
	err = s.ApplyDiff(types.Diff{FirstUpdateID: 101, FinalUpdateID: 102})
	if err == nil {
		t.Fatal("expected error: synchronizer must be re-initialized after a gap")
	}
}

func TestSynchronizer_DuplicateUpdateIDRejected(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{snapshot: types.Snapshot{LastUpdateID: 100}}
	b := New("BTCUSDT")
	s := NewSynchronizer(b, fetcher)
	if err := s.Initialize(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.ApplyDiff(types.Diff{FirstUpdateID: 101, FinalUpdateID: 101}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Re-applying the same update id is a duplicate: expected != first.
	if err := s.ApplyDiff(types.Diff{FirstUpdateID: 101, FinalUpdateID: 101}); err == nil {
		t.Error("expected duplicate update id to be rejected")
	}
}
