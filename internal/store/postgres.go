package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, m := range Schema {
		if _, err := s.pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const selectVehicle = `
	SELECT v.id, v.number_plate, v.type, v.company_id, v.last_seen,
	       v.lock_engine_on_violation, v.geofence_alert_recipients, v.modem_info,
	       v.created_at, v.updated_at,
	       ARRAY(SELECT vu.user_id FROM vehicle_users vu
	             WHERE vu.vehicle_id = v.id ORDER BY vu.assigned_at, vu.user_id),
	       g.id, g.geometry, g.created_at, g.updated_at,
	       r.id, r.name, r.bounds, r.created_at, r.updated_at
	FROM vehicles v
	LEFT JOIN geofences g ON g.vehicle_id = v.id
	LEFT JOIN routes r ON r.id = v.route_id
`

func scanVehicle(row pgx.Row) (*domain.Vehicle, error) {
	var (
		v         domain.Vehicle
		modem     []byte
		gID       *string
		gGeometry []byte
		gCreated  *time.Time
		gUpdated  *time.Time
		rID       *string
		rName     *string
		rBounds   []byte
		rCreated  *time.Time
		rUpdated  *time.Time
	)

	err := row.Scan(
		&v.ID, &v.NumberPlate, &v.Type, &v.CompanyID, &v.LastSeen,
		&v.LockEngineOnViolation, &v.GeofenceAlertRecipients, &modem,
		&v.CreatedAt, &v.UpdatedAt,
		&v.UserIDs,
		&gID, &gGeometry, &gCreated, &gUpdated,
		&rID, &rName, &rBounds, &rCreated, &rUpdated,
	)
	if err != nil {
		return nil, err
	}

	if len(modem) > 0 {
		var mi domain.ModemInfo
		if err := json.Unmarshal(modem, &mi); err != nil {
			return nil, fmt.Errorf("decode modem info: %w", err)
		}
		v.Modem = &mi
	}

	if gID != nil {
		g := &domain.Geofence{ID: *gID, VehicleID: v.ID}
		if err := json.Unmarshal(gGeometry, &g.Geometry); err != nil {
			return nil, fmt.Errorf("decode geofence geometry: %w", err)
		}
		if gCreated != nil {
			g.CreatedAt = *gCreated
		}
		if gUpdated != nil {
			g.UpdatedAt = *gUpdated
		}
		v.Geofence = g
	}

	if rID != nil {
		r := &domain.Route{ID: *rID}
		if rName != nil {
			r.Name = *rName
		}
		if err := json.Unmarshal(rBounds, &r.Bounds); err != nil {
			return nil, fmt.Errorf("decode route bounds: %w", err)
		}
		if rCreated != nil {
			r.CreatedAt = *rCreated
		}
		if rUpdated != nil {
			r.UpdatedAt = *rUpdated
		}
		v.Route = r
	}

	return &v, nil
}

func getVehicle(ctx context.Context, q querier, where string, key string) (*domain.Vehicle, error) {
	v, err := scanVehicle(q.QueryRow(ctx, selectVehicle+where, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("vehicle", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle %s: %w", key, err)
	}
	return v, nil
}

func (s *PostgresStore) GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error) {
	return getVehicle(ctx, s.pool, ` WHERE v.id = $1`, id)
}

func (s *PostgresStore) GetVehicleByPlate(ctx context.Context, plate string) (*domain.Vehicle, error) {
	return getVehicle(ctx, s.pool, ` WHERE v.number_plate = $1`, strings.ToUpper(plate))
}

// AdvanceLastSeen moves last_seen forward in a single conditional update, so
// concurrent or replayed batches can never move it back.
func (s *PostgresStore) AdvanceLastSeen(ctx context.Context, vehicleID string, seen time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vehicles
		SET last_seen = $2, updated_at = NOW()
		WHERE id = $1 AND (last_seen IS NULL OR last_seen < $2)
	`, vehicleID, seen)
	if err != nil {
		return false, fmt.Errorf("advance last_seen for %s: %w", vehicleID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateModem(ctx context.Context, vehicleID string, info domain.ModemInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode modem info: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE vehicles SET modem_info = $2 WHERE id = $1`, vehicleID, raw)
	if err != nil {
		return fmt.Errorf("update modem info for %s: %w", vehicleID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("vehicle", vehicleID)
	}
	return nil
}

// CreateVehicle inserts a vehicle and its user assignments. Used by seeding.
func (s *PostgresStore) CreateVehicle(ctx context.Context, v *domain.Vehicle) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO vehicles (id, number_plate, type, company_id, lock_engine_on_violation, geofence_alert_recipients)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, v.ID, strings.ToUpper(v.NumberPlate), v.Type, v.CompanyID, v.LockEngineOnViolation, nonNil(v.GeofenceAlertRecipients))
		if err != nil {
			return fmt.Errorf("insert vehicle %s: %w", v.ID, err)
		}
		for _, uid := range v.UserIDs {
			_, err := tx.Exec(ctx, `
				INSERT INTO vehicle_users (vehicle_id, user_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, v.ID, uid)
			if err != nil {
				return fmt.Errorf("assign user %s: %w", uid, err)
			}
		}
		return nil
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isForeignKeyViolation reports a 23503 error from Postgres.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
