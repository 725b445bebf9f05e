package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"coreengine/internal/iceberg"
	"coreengine/pkg/types"
)

// EventRow is the gorm model for one persisted emitted event (§6 emitted
// event schema), grounded on stockbit-haka-haki's one-repository-per-
// entity gorm model shape.
type EventRow struct {
	ID          string `gorm:"primaryKey"`
	Symbol      string `gorm:"index"`
	EventTimeMs int64
	Kind        string `gorm:"index"`
	PayloadJSON string
	CreatedAt   time.Time
}

// TableName pins the table name instead of gorm's pluralization guess.
func (EventRow) TableName() string { return "detection_events" }

// IcebergSnapshotRow is the gorm model (and JSONStore file row) for one
// registry entry's durable snapshot.
type IcebergSnapshotRow struct {
	Symbol            string    `gorm:"primaryKey" json:"symbol"`
	Price             string    `gorm:"primaryKey" json:"price"`
	IsAsk             bool      `gorm:"primaryKey" json:"is_ask"`
	Status            string    `json:"status"`
	TotalHiddenVolume string    `json:"total_hidden_volume"`
	RefillCount       int       `json:"refill_count"`
	ConfidenceScore   float64   `json:"confidence_score"`
	CreationTimeMs    int64     `json:"creation_time_ms"`
	LastUpdateTimeMs  int64     `json:"last_update_time_ms"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (IcebergSnapshotRow) TableName() string { return "iceberg_snapshots" }

// RowFromLevel flattens one registry entry into its durable row shape.
func RowFromLevel(symbol string, lvl iceberg.Level) IcebergSnapshotRow {
	return IcebergSnapshotRow{
		Symbol:            symbol,
		Price:             lvl.Price.String(),
		IsAsk:             lvl.IsAsk,
		Status:            string(lvl.Status),
		TotalHiddenVolume: lvl.TotalHiddenVolume.String(),
		RefillCount:       lvl.RefillCount,
		ConfidenceScore:   lvl.ConfidenceScore,
		CreationTimeMs:    lvl.CreationTimeMs,
		LastUpdateTimeMs:  lvl.LastUpdateTimeMs,
	}
}

// RowsFromLevels flattens a full registry snapshot, the shape
// JSONStore.SaveIcebergSnapshot consumes; PostgresStore.UpsertIcebergSnapshot
// takes one row at a time.
func RowsFromLevels(symbol string, levels []iceberg.Level) []IcebergSnapshotRow {
	rows := make([]IcebergSnapshotRow, len(levels))
	for i, lvl := range levels {
		rows[i] = RowFromLevel(symbol, lvl)
	}
	return rows
}

// PostgresStore is the primary persistence backend (§4.12), backed by
// gorm.io/gorm + gorm.io/driver/postgres.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgresStore connects and auto-migrates the schema.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.AutoMigrate(&EventRow{}, &IcebergSnapshotRow{}); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// SaveEvent inserts one emitted event row.
func (s *PostgresStore) SaveEvent(ev types.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal event payload: %w", err)
	}
	row := EventRow{
		ID:          ev.ID,
		Symbol:      ev.Symbol,
		EventTimeMs: ev.EventTimeMs,
		Kind:        string(ev.Kind),
		PayloadJSON: string(payload),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("store: save event: %w", err)
	}
	return nil
}

// UpsertIcebergSnapshot writes the current state of one registry entry,
// replacing any prior row for the same (symbol, price, side).
func (s *PostgresStore) UpsertIcebergSnapshot(row IcebergSnapshotRow) error {
	row.UpdatedAt = time.Now().UTC()
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("store: upsert iceberg snapshot: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
