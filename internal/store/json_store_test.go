package store

import (
	"testing"

	"coreengine/pkg/types"
)

func TestJSONStore_SaveAndLoadIcebergSnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := OpenJSONStore(dir)
	if err != nil {
		t.Fatalf("OpenJSONStore: %v", err)
	}
	defer s.Close()

	rows := []IcebergSnapshotRow{
		{Symbol: "BTCUSDT", Price: "50000", IsAsk: true, Status: "ACTIVE", ConfidenceScore: 0.8},
		{Symbol: "BTCUSDT", Price: "49990", IsAsk: false, Status: "EXHAUSTED", ConfidenceScore: 0.1},
	}
	if err := s.SaveIcebergSnapshot("BTCUSDT", rows); err != nil {
		t.Fatalf("SaveIcebergSnapshot: %v", err)
	}

	loaded, err := s.LoadIcebergSnapshot("BTCUSDT")
	if err != nil {
		t.Fatalf("LoadIcebergSnapshot: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("len(loaded) = %d, want 2", len(loaded))
	}
	if loaded[0].Price != "50000" || loaded[0].Status != "ACTIVE" {
		t.Errorf("loaded[0] = %+v, want price 50000 ACTIVE", loaded[0])
	}
}

func TestJSONStore_LoadIcebergSnapshotMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := OpenJSONStore(dir)
	if err != nil {
		t.Fatalf("OpenJSONStore: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadIcebergSnapshot("NOPE")
	if err != nil {
		t.Fatalf("LoadIcebergSnapshot: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing snapshot, got %+v", loaded)
	}
}

func TestJSONStore_SaveIcebergSnapshotOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := OpenJSONStore(dir)
	if err != nil {
		t.Fatalf("OpenJSONStore: %v", err)
	}
	defer s.Close()

	_ = s.SaveIcebergSnapshot("ETHUSDT", []IcebergSnapshotRow{{Symbol: "ETHUSDT", Price: "3000", ConfidenceScore: 0.5}})
	_ = s.SaveIcebergSnapshot("ETHUSDT", []IcebergSnapshotRow{{Symbol: "ETHUSDT", Price: "3000", ConfidenceScore: 0.9}})

	loaded, err := s.LoadIcebergSnapshot("ETHUSDT")
	if err != nil {
		t.Fatalf("LoadIcebergSnapshot: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ConfidenceScore != 0.9 {
		t.Errorf("loaded = %+v, want single row with ConfidenceScore 0.9 (latest save)", loaded)
	}
}

func TestJSONStore_AppendEvent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := OpenJSONStore(dir)
	if err != nil {
		t.Fatalf("OpenJSONStore: %v", err)
	}
	defer s.Close()

	ev := types.Event{ID: "abc", Symbol: "BTCUSDT", Kind: types.EventIcebergDetected, EventTimeMs: 1000}
	if err := s.AppendEvent(ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent(ev); err != nil {
		t.Fatalf("AppendEvent (second): %v", err)
	}
}
