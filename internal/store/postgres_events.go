package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fleet-monitor/telematics/internal/domain"
)

var violationColumns = []string{
	"id",
	"vehicle_id",
	"company_id",
	"user_id",
	"type",
	"lat",
	"lon",
	"speed",
	"satellites",
	"hdop",
	"course",
	"created_at",
}

// InsertViolations stores all records with a single COPY, so either every
// record of a report lands or none does.
func (s *PostgresStore) InsertViolations(ctx context.Context, vs []*domain.Violation) error {
	if len(vs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(vs))
	for i, v := range vs {
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		v.CreatedAt = now
		rows[i] = []any{
			v.ID,
			v.VehicleID,
			v.CompanyID,
			v.UserID,
			string(v.Type),
			v.Lat,
			v.Lon,
			v.Speed,
			v.Satellites,
			v.HDOP,
			v.Course,
			v.CreatedAt,
		}
	}

	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"violations"}, violationColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("CopyFrom failed for %d violations: %w", len(vs), err)
	}
	return nil
}

const scopeFilter = `
	($1 = '' OR v.id = $1)
	AND ($2 = '' OR v.company_id = $2)
	AND ($3 = '' OR EXISTS (SELECT 1 FROM vehicle_users vu WHERE vu.vehicle_id = v.id AND vu.user_id = $3))
`

func (s *PostgresStore) ListViolations(ctx context.Context, scope domain.Scope, page domain.Page) ([]domain.Violation, error) {
	p := page.Normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT vi.id, vi.vehicle_id, vi.company_id, vi.user_id, vi.type,
		       vi.lat, vi.lon, vi.speed, vi.satellites, vi.hdop, vi.course, vi.created_at
		FROM violations vi
		JOIN vehicles v ON v.id = vi.vehicle_id
		WHERE `+scopeFilter+`
		ORDER BY vi.created_at DESC
		LIMIT $4 OFFSET $5
	`, scope.VehicleID, scope.CompanyID, scope.UserID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	out := []domain.Violation{}
	for rows.Next() {
		var (
			v   domain.Violation
			typ string
		)
		err := rows.Scan(&v.ID, &v.VehicleID, &v.CompanyID, &v.UserID, &typ,
			&v.Lat, &v.Lon, &v.Speed, &v.Satellites, &v.HDOP, &v.Course, &v.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Type = domain.ViolationType(typ)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertSOSAlert(ctx context.Context, a *domain.SOSAlert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sos_alerts (id, vehicle_id, user_id, type, lat, lon, help_dispatched, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.VehicleID, a.UserID, string(a.Type), a.Lat, a.Lon, a.HelpDispatched, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert sos alert: %w", err)
	}
	return nil
}

const sosColumns = `a.id, a.vehicle_id, a.user_id, a.type, a.lat, a.lon, a.help_dispatched, a.created_at`

func scanSOS(row pgx.Row) (*domain.SOSAlert, error) {
	var (
		a   domain.SOSAlert
		typ string
	)
	if err := row.Scan(&a.ID, &a.VehicleID, &a.UserID, &typ, &a.Lat, &a.Lon, &a.HelpDispatched, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Type = domain.SOSAlertType(typ)
	return &a, nil
}

func (s *PostgresStore) ListSOSAlerts(ctx context.Context, scope domain.Scope, page domain.Page) ([]domain.SOSAlert, error) {
	p := page.Normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+sosColumns+`
		FROM sos_alerts a
		JOIN vehicles v ON v.id = a.vehicle_id
		WHERE `+scopeFilter+`
		ORDER BY a.created_at DESC
		LIMIT $4 OFFSET $5
	`, scope.VehicleID, scope.CompanyID, scope.UserID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list sos alerts: %w", err)
	}
	defer rows.Close()

	out := []domain.SOSAlert{}
	for rows.Next() {
		a, err := scanSOS(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sos alert: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetHelpDispatched(ctx context.Context, id string, dispatched bool) (*domain.SOSAlert, error) {
	a, err := scanSOS(s.pool.QueryRow(ctx, `
		UPDATE sos_alerts a SET help_dispatched = $2 WHERE a.id = $1
		RETURNING `+sosColumns, id, dispatched))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("sos alert", id)
	}
	if err != nil {
		return nil, fmt.Errorf("update sos alert %s: %w", id, err)
	}
	return a, nil
}

var auditColumns = []string{"action", "user_id", "section", "change", "created_at"}

// InsertAuditEntries bulk loads audit entries with COPY.
func (s *PostgresStore) InsertAuditEntries(ctx context.Context, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.Action, e.UserID, e.Section, e.Change, e.CreatedAt}
	}

	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"audit_logs"}, auditColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(entries), err)
	}
	return nil
}
