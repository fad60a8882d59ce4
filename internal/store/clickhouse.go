package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
)

// ClickHouseArchive keeps an append-only copy of every persisted point for
// long range reporting.
type ClickHouseArchive struct {
	db *sql.DB
}

func NewClickHouseArchive(ctx context.Context, opts *config.ClickHouseOptions) (*ClickHouseArchive, error) {
	db, err := sql.Open("clickhouse", opts.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	a := &ClickHouseArchive{db: db}
	if err := a.createTables(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return a, nil
}

func (a *ClickHouseArchive) createTables(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tracking_archive (
			point_id String,
			vehicle_id String,
			company_id String,
			plate String,
			lat Float64,
			lon Float64,
			speed Float64,
			fuel_level Float64,
			state String,
			ignition Bool,
			zone_state String,
			time_from DateTime64(3),
			time_to DateTime64(3),
			received_at DateTime64(3)
		) ENGINE = MergeTree()
		ORDER BY (vehicle_id, time_from)`)
	return err
}

// InsertBatch writes the events in one transaction.
func (a *ClickHouseArchive) InsertBatch(ctx context.Context, events []domain.PointEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracking_archive (
			point_id, vehicle_id, company_id, plate, lat, lon, speed, fuel_level,
			state, ignition, zone_state, time_from, time_to, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		p := ev.Point
		_, err := stmt.ExecContext(ctx,
			p.ID, ev.VehicleID, ev.CompanyID, ev.Plate, p.Lat, p.Lon, p.Speed, p.FuelLevel,
			string(p.State), p.Ignition, string(p.GeofenceViolationState),
			p.TimeFrom, p.TimeTo, ev.ReceivedAt,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("archive point %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive batch of %d: %w", len(events), err)
	}
	return nil
}

func (a *ClickHouseArchive) Close() error {
	return a.db.Close()
}
