package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fleet-monitor/telematics/internal/domain"
)

// UpdateZone loads the vehicle under a row lock, lets mutate change its zone
// fields and persists the result together with the returned commands.
func (s *PostgresStore) UpdateZone(ctx context.Context, vehicleID string, mutate func(v *domain.Vehicle) ([]*domain.ControllerCommand, error)) (*domain.Vehicle, error) {
	var result *domain.Vehicle
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		v, err := getVehicle(ctx, tx, ` WHERE v.id = $1 FOR UPDATE OF v`, vehicleID)
		if err != nil {
			return err
		}

		cmds, err := mutate(v)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := saveGeofence(ctx, tx, v, now); err != nil {
			return err
		}

		var routeID *string
		if v.Route != nil {
			routeID = &v.Route.ID
		}
		_, err = tx.Exec(ctx, `
			UPDATE vehicles
			SET route_id = $2, lock_engine_on_violation = $3, geofence_alert_recipients = $4, updated_at = $5
			WHERE id = $1
		`, v.ID, routeID, v.LockEngineOnViolation, nonNil(v.GeofenceAlertRecipients), now)
		if isForeignKeyViolation(err) {
			return domain.NotFound("route", *routeID)
		}
		if err != nil {
			return fmt.Errorf("update vehicle zone: %w", err)
		}
		v.UpdatedAt = now

		for _, c := range cmds {
			c.VehicleID = v.ID
			if c.Code.IsEngine() {
				if _, _, err := enqueueEngine(ctx, tx, c); err != nil {
					return err
				}
				continue
			}
			if err := insertCommand(ctx, tx, c); err != nil {
				return err
			}
		}

		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func saveGeofence(ctx context.Context, tx pgx.Tx, v *domain.Vehicle, now time.Time) error {
	if v.Geofence == nil {
		if _, err := tx.Exec(ctx, `DELETE FROM geofences WHERE vehicle_id = $1`, v.ID); err != nil {
			return fmt.Errorf("delete geofence: %w", err)
		}
		return nil
	}

	geometry, err := json.Marshal(v.Geofence.Geometry)
	if err != nil {
		return fmt.Errorf("encode geofence: %w", err)
	}

	g := v.Geofence
	g.VehicleID = v.ID
	g.UpdatedAt = now
	if g.ID == "" {
		g.ID = uuid.NewString()
		g.CreatedAt = now
		_, err = tx.Exec(ctx, `
			INSERT INTO geofences (id, vehicle_id, geometry, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (vehicle_id) DO UPDATE
			SET id = EXCLUDED.id, geometry = EXCLUDED.geometry,
			    created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at
		`, g.ID, v.ID, geometry, now)
	} else {
		_, err = tx.Exec(ctx, `UPDATE geofences SET geometry = $2, updated_at = $3 WHERE id = $1`, g.ID, geometry, now)
	}
	if err != nil {
		return fmt.Errorf("save geofence: %w", err)
	}
	return nil
}

const routeColumns = `id, name, bounds, created_at, updated_at`

func scanRoute(row pgx.Row) (*domain.Route, error) {
	var (
		r      domain.Route
		bounds []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &bounds, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(bounds, &r.Bounds); err != nil {
		return nil, fmt.Errorf("decode route bounds: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	r, err := scanRoute(s.pool.QueryRow(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("route", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get route %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) ListRoutes(ctx context.Context) ([]domain.Route, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+routeColumns+` FROM routes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	out := []domain.Route{}
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateRoute(ctx context.Context, r *domain.Route) error {
	bounds, err := json.Marshal(r.Bounds)
	if err != nil {
		return fmt.Errorf("encode route bounds: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	_, err = s.pool.Exec(ctx, `
		INSERT INTO routes (id, name, bounds, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
	`, r.ID, r.Name, bounds, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert route: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRoute(ctx context.Context, r *domain.Route) error {
	bounds, err := json.Marshal(r.Bounds)
	if err != nil {
		return fmt.Errorf("encode route bounds: %w", err)
	}
	r.UpdatedAt = time.Now().UTC()
	err = s.pool.QueryRow(ctx, `
		UPDATE routes SET name = $2, bounds = $3, updated_at = $4 WHERE id = $1
		RETURNING created_at
	`, r.ID, r.Name, bounds, r.UpdatedAt).Scan(&r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFound("route", r.ID)
	}
	if err != nil {
		return fmt.Errorf("update route %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStore) RouteVehicles(ctx context.Context, routeID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM vehicles WHERE route_id = $1 ORDER BY id`, routeID)
	if err != nil {
		return nil, fmt.Errorf("route vehicles: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) DeleteRoute(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM routes WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return &domain.ConflictError{Msg: "route is assigned to a vehicle"}
	}
	if err != nil {
		return fmt.Errorf("delete route %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("route", id)
	}
	return nil
}
