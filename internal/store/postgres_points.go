package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fleet-monitor/telematics/internal/domain"
)

var pointColumns = []string{
	"id",
	"vehicle_id",
	"lat",
	"lon",
	"speed",
	"altitude",
	"course",
	"satellites",
	"hdop",
	"age",
	"time_from",
	"time_to",
	"state",
	"ignition",
	"battery_percentage",
	"fuel_level",
	"mileage",
	"signal_strength",
	"operator_name",
	"ip_address",
	"public_ip_address",
	"ccid",
	"imei",
	"imsi",
	"geofence_id",
	"route_id",
	"geofence_violation_state",
	"is_engine_locked",
	"created_at",
	"updated_at",
}

var (
	selectPoint = `SELECT ` + strings.Join(pointColumns, ", ") + ` FROM tracking_data`
	insertPoint = buildInsert("tracking_data", pointColumns)
	updatePoint = buildMergeUpdate()
)

func buildInsert(table string, cols []string) string {
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(ph, ", "))
}

// buildMergeUpdate overwrites an existing row with pointArgs. Callers carry
// over the previous id and created_at so only the reported fields change.
func buildMergeUpdate() string {
	var sets []string
	for i, col := range pointColumns {
		if col == "id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
	}
	return "UPDATE tracking_data SET " + strings.Join(sets, ", ") + " WHERE id = $1"
}

func pointArgs(p *domain.TrackingPoint) []any {
	return []any{
		p.ID,
		p.VehicleID,
		p.Lat,
		p.Lon,
		p.Speed,
		p.Altitude,
		p.Course,
		p.Satellites,
		p.HDOP,
		p.Age,
		p.TimeFrom,
		p.TimeTo,
		string(p.State),
		p.Ignition,
		p.BatteryPercentage,
		p.FuelLevel,
		p.Mileage,
		p.SignalStrength,
		p.OperatorName,
		p.IPAddress,
		p.PublicIPAddress,
		p.CCID,
		p.IMEI,
		p.IMSI,
		p.GeofenceID,
		p.RouteID,
		string(p.GeofenceViolationState),
		p.IsEngineLocked,
		p.CreatedAt,
		p.UpdatedAt,
	}
}

func scanPoint(row pgx.Row) (*domain.TrackingPoint, error) {
	var (
		p     domain.TrackingPoint
		state string
		zone  string
	)
	err := row.Scan(
		&p.ID,
		&p.VehicleID,
		&p.Lat,
		&p.Lon,
		&p.Speed,
		&p.Altitude,
		&p.Course,
		&p.Satellites,
		&p.HDOP,
		&p.Age,
		&p.TimeFrom,
		&p.TimeTo,
		&state,
		&p.Ignition,
		&p.BatteryPercentage,
		&p.FuelLevel,
		&p.Mileage,
		&p.SignalStrength,
		&p.OperatorName,
		&p.IPAddress,
		&p.PublicIPAddress,
		&p.CCID,
		&p.IMEI,
		&p.IMSI,
		&p.GeofenceID,
		&p.RouteID,
		&zone,
		&p.IsEngineLocked,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.State = domain.MotionState(state)
	p.GeofenceViolationState = domain.ZoneState(zone)
	return &p, nil
}

// SaveLeadingPoint persists the first point of a batch, merging it into the
// vehicle's most recently created point when shouldMerge agrees. The vehicle
// row stays locked for the whole decision.
func (s *PostgresStore) SaveLeadingPoint(ctx context.Context, p *domain.TrackingPoint, shouldMerge func(prev *domain.TrackingPoint) bool) (bool, error) {
	merged := false
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `SELECT id FROM vehicles WHERE id = $1 FOR UPDATE`, p.VehicleID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotFound("vehicle", p.VehicleID)
		}
		if err != nil {
			return fmt.Errorf("lock vehicle %s: %w", p.VehicleID, err)
		}

		prev, err := scanPoint(tx.QueryRow(ctx, selectPoint+`
			WHERE vehicle_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, p.VehicleID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("latest point for %s: %w", p.VehicleID, err)
		}

		now := time.Now().UTC()
		if prev != nil && shouldMerge(prev) {
			p.ID = prev.ID
			p.CreatedAt = prev.CreatedAt
			p.UpdatedAt = now
			if _, err := tx.Exec(ctx, updatePoint, pointArgs(p)...); err != nil {
				return fmt.Errorf("merge point %s: %w", p.ID, err)
			}
			merged = true
			return nil
		}

		stampNew(p, now)
		if _, err := tx.Exec(ctx, insertPoint, pointArgs(p)...); err != nil {
			return fmt.Errorf("insert point: %w", err)
		}
		return nil
	})
	return merged, err
}

func (s *PostgresStore) InsertPoint(ctx context.Context, p *domain.TrackingPoint) error {
	stampNew(p, time.Now().UTC())
	if _, err := s.pool.Exec(ctx, insertPoint, pointArgs(p)...); err != nil {
		if isForeignKeyViolation(err) {
			return domain.NotFound("vehicle", p.VehicleID)
		}
		return fmt.Errorf("insert point: %w", err)
	}
	return nil
}

func stampNew(p *domain.TrackingPoint, now time.Time) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
}

func (s *PostgresStore) PointsInRange(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.TrackingPoint, error) {
	return s.queryPoints(ctx, selectPoint+`
		WHERE vehicle_id = $1
		  AND ((time_from > $2 AND time_from <= $3) OR (time_to > $2 AND time_to <= $3))
		ORDER BY time_from ASC, created_at ASC`, vehicleID, from, to)
}

func (s *PostgresStore) History(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.TrackingPoint, error) {
	return s.queryPoints(ctx, selectPoint+`
		WHERE vehicle_id = $1 AND time_from > $2 AND time_from <= $3
		ORDER BY time_from ASC, created_at ASC`, vehicleID, from, to)
}

func (s *PostgresStore) queryPoints(ctx context.Context, sql string, args ...any) ([]domain.TrackingPoint, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackingPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
