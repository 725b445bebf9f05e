package book

import (
	"fmt"

	"coreengine/pkg/types"
)

// GapError is the Recoverable error of §7: a missing update ID was
// detected, either at snapshot reconciliation or mid-stream. The caller
// must force a full resync (discard buffer, refetch snapshot).
type GapError struct {
	Symbol   string
	Expected int64
	Got      int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("%s: update id gap: expected %d, got %d", e.Symbol, e.Expected, e.Got)
}

// SnapshotFetcher is the capability the Synchronizer needs to (re)acquire
// a snapshot; its concrete implementation (REST call, rate limiting) lives
// in internal/exchange and is injected here, keeping this package free of
// transport concerns.
type SnapshotFetcher interface {
	FetchSnapshot(symbol string) (types.Snapshot, error)
}

// Synchronizer reconciles a buffered diff stream against a REST snapshot
// and then keeps the OrderBook gap-free (§4.1).
type Synchronizer struct {
	book    *OrderBook
	fetcher SnapshotFetcher

	initialized bool
}

// NewSynchronizer constructs a Synchronizer bound to book.
func NewSynchronizer(b *OrderBook, fetcher SnapshotFetcher) *Synchronizer {
	return &Synchronizer{book: b, fetcher: fetcher}
}

// Initialize implements the snapshot-to-stream algorithm of §4.1:
// buffered diffs are discarded up to the snapshot's update id, the first
// retained diff must straddle it, and the book is loaded.
func (s *Synchronizer) Initialize(buffered []types.Diff) error {
	snapshot, err := s.fetcher.FetchSnapshot(s.book.Symbol)
	if err != nil {
		return err
	}
	if err := s.book.LoadSnapshot(snapshot); err != nil {
		return err
	}

	var retained []types.Diff
	for _, d := range buffered {
		if d.FinalUpdateID <= snapshot.LastUpdateID {
			continue
		}
		retained = append(retained, d)
	}

	if len(retained) == 0 {
		s.initialized = true
		return nil
	}

	first := retained[0]
	if !(first.FirstUpdateID <= snapshot.LastUpdateID+1 && snapshot.LastUpdateID+1 <= first.FinalUpdateID) {
		return &GapError{Symbol: s.book.Symbol, Expected: snapshot.LastUpdateID + 1, Got: first.FirstUpdateID}
	}

	for _, d := range retained {
		if err := s.book.ApplyDiff(d); err != nil {
			return err
		}
	}
	s.initialized = true
	return nil
}

// ApplyDiff enforces strict update-ID contiguity before mutating the book.
// Any gap, or an integrity violation surfaced from ApplyDiff itself,
// requires the caller to force a full resync via Initialize again.
func (s *Synchronizer) ApplyDiff(d types.Diff) error {
	if !s.initialized {
		return fmt.Errorf("synchronizer: apply_diff called before initialize")
	}
	expected := s.book.LastUpdateID() + 1
	if d.FirstUpdateID != expected {
		s.initialized = false
		return &GapError{Symbol: s.book.Symbol, Expected: expected, Got: d.FirstUpdateID}
	}
	if err := s.book.ApplyDiff(d); err != nil {
		s.initialized = false
		return err
	}
	return nil
}

// Reset discards synchronization state, forcing the next ApplyDiff to
// fail until Initialize is called again. Nothing in the process calls it;
// reconnects are caught by ApplyDiff's gap check instead.
func (s *Synchronizer) Reset() {
	s.initialized = false
}
