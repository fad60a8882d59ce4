// Package command is the per-vehicle outbox of controller commands.
package command

import (
	"context"
	"fmt"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/metrics"
)

type Store interface {
	GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error)
	GetVehicleByPlate(ctx context.Context, plate string) (*domain.Vehicle, error)
	InsertCommandUnlessPending(ctx context.Context, c *domain.ControllerCommand) (*domain.ControllerCommand, bool, error)
	DrainPending(ctx context.Context, vehicleID string) ([]domain.ControllerCommand, error)
	GetCommand(ctx context.Context, id string) (*domain.ControllerCommand, error)
	DeletePendingCommand(ctx context.Context, id string) (bool, error)
	ListCommands(ctx context.Context, vehicleID string, q domain.CommandQuery) ([]domain.ControllerCommand, int, error)
	CountPendingCommands(ctx context.Context, vehicleID string) (int, error)
}

// Auditor records management actions.
type Auditor interface {
	Audit(e domain.AuditEntry)
}

const auditSection = "controller_command"

type Queue struct {
	store  Store
	audit  Auditor
	logger log.Logger
	now    func() time.Time
}

func NewQueue(store Store, audit Auditor, logger log.Logger) *Queue {
	return &Queue{
		store:  store,
		audit:  audit,
		logger: logger.WithName("command"),
		now:    time.Now,
	}
}

// Create enqueues an engine command on behalf of a user. A pending command
// with the same code is returned instead of adding a second one; a pending
// command with the opposite code is dropped in favour of the new one.
func (q *Queue) Create(ctx context.Context, id domain.Identity, vehicleID string, code domain.CommandCode) (*domain.ControllerCommand, bool, error) {
	switch {
	case !code.Valid():
		return nil, false, domain.Invalid("unknown command code %q", code)
	case !code.IsEngine():
		return nil, false, domain.Invalid("%s is issued by zone changes", code)
	}

	v, err := q.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, false, domain.StoreFailure("load vehicle", err)
	}
	if err := id.Authorize(v); err != nil {
		return nil, false, err
	}

	cmd, created, err := q.enqueueEngine(ctx, v.ID, code, id.UserID)
	if err != nil {
		return nil, false, err
	}
	if created {
		q.record(id, "CREATE", fmt.Sprintf("%s for %s", code, v.NumberPlate))
	}
	return cmd, created, nil
}

// EnqueueEngineLock schedules an ENGINE_LOCK for the vehicle unless one is
// already waiting. A pending ENGINE_UNLOCK is replaced.
func (q *Queue) EnqueueEngineLock(ctx context.Context, vehicleID, createdBy string) (*domain.ControllerCommand, bool, error) {
	return q.enqueueEngine(ctx, vehicleID, domain.CommandEngineLock, createdBy)
}

func (q *Queue) enqueueEngine(ctx context.Context, vehicleID string, code domain.CommandCode, createdBy string) (*domain.ControllerCommand, bool, error) {
	cmd, created, err := q.store.InsertCommandUnlessPending(ctx, &domain.ControllerCommand{
		VehicleID: vehicleID,
		Code:      code,
		CreatedBy: createdBy,
	})
	if err != nil {
		return nil, false, domain.StoreFailure("enqueue command", err)
	}
	if created {
		metrics.CommandsCreated.WithLabelValues(string(code)).Inc()
	}
	return cmd, created, nil
}

// Poll returns every pending command of the device's vehicle and marks them
// executed in the same step. A second poll returns nothing new.
func (q *Queue) Poll(ctx context.Context, plate string) ([]domain.ControllerCommand, error) {
	v, err := q.store.GetVehicleByPlate(ctx, plate)
	if err != nil {
		return nil, domain.StoreFailure("load vehicle", err)
	}

	cmds, err := q.store.DrainPending(ctx, v.ID)
	if err != nil {
		return nil, domain.StoreFailure("drain commands", err)
	}

	if len(cmds) > 0 {
		metrics.CommandsDispatched.Add(float64(len(cmds)))
		q.logger.Info("commands delivered", "plate", v.NumberPlate, "count", len(cmds))
	}
	return cmds, nil
}

// Cancel deletes a command that no device has fetched yet.
func (q *Queue) Cancel(ctx context.Context, id domain.Identity, commandID string) (*domain.ControllerCommand, error) {
	cmd, err := q.store.GetCommand(ctx, commandID)
	if err != nil {
		return nil, domain.StoreFailure("load command", err)
	}

	v, err := q.store.GetVehicle(ctx, cmd.VehicleID)
	if err != nil {
		return nil, domain.StoreFailure("load vehicle", err)
	}
	if err := id.Authorize(v); err != nil {
		return nil, err
	}

	deleted, err := q.store.DeletePendingCommand(ctx, commandID)
	if err != nil {
		return nil, domain.StoreFailure("delete command", err)
	}
	if !deleted {
		return nil, &domain.ConflictError{Msg: "Cannot cancel - command already executed by vehicle"}
	}

	q.record(id, "DELETE", fmt.Sprintf("cancelled %s for %s", cmd.Code, v.NumberPlate))
	return cmd, nil
}

func (q *Queue) List(ctx context.Context, id domain.Identity, plate string, query domain.CommandQuery) ([]domain.ControllerCommand, int, error) {
	v, err := q.authorizedByPlate(ctx, id, plate)
	if err != nil {
		return nil, 0, err
	}

	cmds, total, err := q.store.ListCommands(ctx, v.ID, query)
	if err != nil {
		return nil, 0, domain.StoreFailure("list commands", err)
	}
	return cmds, total, nil
}

func (q *Queue) PendingCount(ctx context.Context, id domain.Identity, plate string) (int, error) {
	v, err := q.authorizedByPlate(ctx, id, plate)
	if err != nil {
		return 0, err
	}

	n, err := q.store.CountPendingCommands(ctx, v.ID)
	if err != nil {
		return 0, domain.StoreFailure("count pending commands", err)
	}
	return n, nil
}

func (q *Queue) authorizedByPlate(ctx context.Context, id domain.Identity, plate string) (*domain.Vehicle, error) {
	v, err := q.store.GetVehicleByPlate(ctx, plate)
	if err != nil {
		return nil, domain.StoreFailure("load vehicle", err)
	}
	if err := id.Authorize(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (q *Queue) record(id domain.Identity, action, change string) {
	if q.audit == nil {
		return
	}
	q.audit.Audit(domain.AuditEntry{
		Action:    action,
		UserID:    id.UserID,
		Section:   auditSection,
		Change:    change,
		CreatedAt: q.now().UTC(),
	})
}
