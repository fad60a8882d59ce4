package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fleet-monitor/telematics/internal/domain"
)

const commandColumns = `id, vehicle_id, code, payload, is_executed, created_by, created_at, updated_at`

func scanCommand(row pgx.Row) (*domain.ControllerCommand, error) {
	var (
		c    domain.ControllerCommand
		code string
	)
	if err := row.Scan(&c.ID, &c.VehicleID, &code, &c.Payload, &c.IsExecuted, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Code = domain.CommandCode(code)
	return &c, nil
}

func collectCommands(rows pgx.Rows) ([]domain.ControllerCommand, error) {
	defer rows.Close()

	out := []domain.ControllerCommand{}
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func insertCommand(ctx context.Context, q querier, c *domain.ControllerCommand) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.IsExecuted = false
	c.CreatedAt = now
	c.UpdatedAt = now

	var payload any
	if len(c.Payload) > 0 {
		payload = []byte(c.Payload)
	}
	_, err := q.Exec(ctx, `
		INSERT INTO controller_commands (id, vehicle_id, code, payload, is_executed, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, $5, $6, $7)
	`, c.ID, c.VehicleID, string(c.Code), payload, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if isForeignKeyViolation(err) {
		return domain.NotFound("vehicle", c.VehicleID)
	}
	if err != nil {
		return fmt.Errorf("insert command %s: %w", c.Code, err)
	}
	return nil
}

// InsertCommands stores all commands in one transaction.
func (s *PostgresStore) InsertCommands(ctx context.Context, cmds ...*domain.ControllerCommand) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, c := range cmds {
			if err := insertCommand(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertCommandUnlessPending queues an engine command. A vehicle holds at
// most one pending engine command: one with the same code is returned as is,
// one with the opposite code is replaced so the last intent is delivered.
func (s *PostgresStore) InsertCommandUnlessPending(ctx context.Context, c *domain.ControllerCommand) (*domain.ControllerCommand, bool, error) {
	var (
		result   *domain.ControllerCommand
		inserted bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `SELECT id FROM vehicles WHERE id = $1 FOR UPDATE`, c.VehicleID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotFound("vehicle", c.VehicleID)
		}
		if err != nil {
			return fmt.Errorf("lock vehicle %s: %w", c.VehicleID, err)
		}

		result, inserted, err = enqueueEngine(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return result, inserted, nil
}

var engineCodes = []string{string(domain.CommandEngineLock), string(domain.CommandEngineUnlock)}

// enqueueEngine expects the vehicle row to be locked by the caller.
func enqueueEngine(ctx context.Context, tx pgx.Tx, c *domain.ControllerCommand) (*domain.ControllerCommand, bool, error) {
	latest, err := scanCommand(tx.QueryRow(ctx, `SELECT `+commandColumns+`
		FROM controller_commands
		WHERE vehicle_id = $1 AND code = ANY($2::text[]) AND is_executed = false
		ORDER BY created_at DESC LIMIT 1`, c.VehicleID, engineCodes))
	switch {
	case err == nil && latest.Code == c.Code:
		return latest, false, nil
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return nil, false, fmt.Errorf("find pending engine command: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM controller_commands
		WHERE vehicle_id = $1 AND code = ANY($2::text[]) AND is_executed = false
	`, c.VehicleID, engineCodes); err != nil {
		return nil, false, fmt.Errorf("replace pending engine command: %w", err)
	}
	if err := insertCommand(ctx, tx, c); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// DrainPending marks every pending command of the vehicle as executed and
// returns them. The conditional UPDATE makes concurrent polls disjoint.
func (s *PostgresStore) DrainPending(ctx context.Context, vehicleID string) ([]domain.ControllerCommand, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE controller_commands
		SET is_executed = true, updated_at = NOW()
		WHERE vehicle_id = $1 AND is_executed = false
		RETURNING `+commandColumns, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("drain commands for %s: %w", vehicleID, err)
	}
	cmds, err := collectCommands(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].CreatedAt.Before(cmds[j].CreatedAt) })
	return cmds, nil
}

func (s *PostgresStore) GetCommand(ctx context.Context, id string) (*domain.ControllerCommand, error) {
	c, err := scanCommand(s.pool.QueryRow(ctx, `SELECT `+commandColumns+` FROM controller_commands WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("command", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get command %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) DeletePendingCommand(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM controller_commands WHERE id = $1 AND is_executed = false`, id)
	if err != nil {
		return false, fmt.Errorf("delete command %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListCommands(ctx context.Context, vehicleID string, q domain.CommandQuery) ([]domain.ControllerCommand, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM controller_commands WHERE vehicle_id = $1`, vehicleID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count commands: %w", err)
	}

	page := q.Page.Normalize()
	rows, err := s.pool.Query(ctx, `SELECT `+commandColumns+`
		FROM controller_commands
		WHERE vehicle_id = $1
		ORDER BY `+q.Sort.OrderBy()+`
		LIMIT $2 OFFSET $3`, vehicleID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list commands: %w", err)
	}
	cmds, err := collectCommands(rows)
	if err != nil {
		return nil, 0, err
	}
	return cmds, total, nil
}

func (s *PostgresStore) CountPendingCommands(ctx context.Context, vehicleID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM controller_commands WHERE vehicle_id = $1 AND is_executed = false
	`, vehicleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending commands: %w", err)
	}
	return n, nil
}
