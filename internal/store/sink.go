package store

import (
	"log/slog"

	"coreengine/internal/iceberg"
	"coreengine/pkg/types"
)

// Backend is whatever persists events and iceberg snapshots durably —
// PostgresStore in production, JSONStore for local operation, and the
// no-op backend for dry-run.
type Backend interface {
	SaveEvent(ev types.Event) error
	UpsertIcebergSnapshot(row IcebergSnapshotRow) error
	Close() error
}

// jsonBackend adapts JSONStore's per-symbol-file shape to the Backend
// interface, which works row-at-a-time like PostgresStore.
type jsonBackend struct {
	js *JSONStore
}

// NewJSONBackend wraps a JSONStore as a Backend.
func NewJSONBackend(js *JSONStore) Backend { return &jsonBackend{js: js} }

func (b *jsonBackend) SaveEvent(ev types.Event) error { return b.js.AppendEvent(ev) }

func (b *jsonBackend) UpsertIcebergSnapshot(row IcebergSnapshotRow) error {
	existing, err := b.js.LoadIcebergSnapshot(row.Symbol)
	if err != nil {
		return err
	}
	replaced := false
	for i, r := range existing {
		if r.Price == row.Price && r.IsAsk == row.IsAsk {
			existing[i] = row
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, row)
	}
	return b.js.SaveIcebergSnapshot(row.Symbol, existing)
}

func (b *jsonBackend) Close() error { return b.js.Close() }

// noopBackend discards every write — used for dry-run operation where no
// durable store is configured.
type noopBackend struct{}

// NewNoopBackend returns a Backend that discards everything written to it.
func NewNoopBackend() Backend { return noopBackend{} }

func (noopBackend) SaveEvent(types.Event) error                    { return nil }
func (noopBackend) UpsertIcebergSnapshot(IcebergSnapshotRow) error { return nil }
func (noopBackend) Close() error                                   { return nil }

const writeQueueSize = 4096

// writeJob is either an event or a snapshot row; exactly one is set.
type writeJob struct {
	event    *types.Event
	snapshot *IcebergSnapshotRow
}

// Sink is the write-only, asynchronous, non-blocking persistence entry
// point (§5: "downstream persistence is write-only, asynchronous, and
// non-blocking"). Callers (internal/engine's persistence goroutine)
// enqueue writes and never wait on them; a single background goroutine drains the queue into Backend.
type Sink struct {
	backend Backend
	queue   chan writeJob
	done    chan struct{}
	logger  *slog.Logger
}

// NewSink starts the background writer goroutine against backend.
func NewSink(backend Backend, logger *slog.Logger) *Sink {
	s := &Sink{
		backend: backend,
		queue:   make(chan writeJob, writeQueueSize),
		done:    make(chan struct{}),
		logger:  logger.With("component", "store_sink"),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for job := range s.queue {
		switch {
		case job.event != nil:
			if err := s.backend.SaveEvent(*job.event); err != nil {
				s.logger.Error("save event failed", "error", err, "event_id", job.event.ID)
			}
		case job.snapshot != nil:
			if err := s.backend.UpsertIcebergSnapshot(*job.snapshot); err != nil {
				s.logger.Error("upsert iceberg snapshot failed", "error", err, "symbol", job.snapshot.Symbol)
			}
		}
	}
}

// WriteEvent enqueues an event for persistence. Non-blocking: a full
// queue drops the write with a warning log rather than stalling the
// caller.
func (s *Sink) WriteEvent(ev types.Event) {
	select {
	case s.queue <- writeJob{event: &ev}:
	default:
		s.logger.Warn("write queue full, dropping event", "event_id", ev.ID, "kind", ev.Kind)
	}
}

// WriteIcebergSnapshot enqueues a single registry entry's durable row.
func (s *Sink) WriteIcebergSnapshot(symbol string, lvl iceberg.Level) {
	row := RowFromLevel(symbol, lvl)
	select {
	case s.queue <- writeJob{snapshot: &row}:
	default:
		s.logger.Warn("write queue full, dropping iceberg snapshot", "symbol", symbol, "price", row.Price)
	}
}

// Close drains in-flight writes and closes the backend. Blocks until the
// writer goroutine exits.
func (s *Sink) Close() error {
	close(s.queue)
	<-s.done
	return s.backend.Close()
}
