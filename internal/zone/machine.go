package zone

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"fleet-monitor/telematics/internal/domain"
)

const (
	StateNoActiveZone = "NO_ACTIVE_ZONE"
	StateZoneActive   = "ZONE_ACTIVE"
)

const (
	EventAssignGeofence = "assign_geofence"
	EventAssignRoute    = "assign_route"
	EventClear          = "clear"
)

// assignment is the argument carried by zone events.
type assignment struct {
	geometry []domain.LatLng
	route    *domain.Route
	// replace discards the existing geofence row instead of editing it.
	replace bool
}

// Machine drives the zone fields of a single vehicle. Callbacks run on the
// before_<event> hook so that re-assigning an active zone still applies.
type Machine struct {
	*fsm.FSM
	vehicle *domain.Vehicle
}

func NewMachine(v *domain.Vehicle) *Machine {
	initial := StateNoActiveZone
	if v.Snapshot() != nil {
		initial = StateZoneActive
	}

	m := &Machine{vehicle: v}
	m.FSM = fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: EventAssignGeofence, Src: []string{StateNoActiveZone, StateZoneActive}, Dst: StateZoneActive},
			{Name: EventAssignRoute, Src: []string{StateNoActiveZone, StateZoneActive}, Dst: StateZoneActive},
			{Name: EventClear, Src: []string{StateNoActiveZone, StateZoneActive}, Dst: StateNoActiveZone},
		},
		fsm.Callbacks{
			"before_" + EventAssignGeofence: wrapEvent(m.onAssignGeofence),
			"before_" + EventAssignRoute:    wrapEvent(m.onAssignRoute),
			"before_" + EventClear:          wrapEvent(m.onClear),
		},
	)
	return m
}

// Fire runs event and reports only real failures. Self transitions are not
// errors.
func (m *Machine) Fire(ctx context.Context, event string, a assignment) error {
	err := m.Event(ctx, event, a)
	if err == nil {
		return nil
	}

	var (
		canceled     fsm.CanceledError
		noTransition fsm.NoTransitionError
	)
	switch {
	case errors.As(err, &canceled):
		if canceled.Err != nil {
			return canceled.Err
		}
		return err
	case errors.As(err, &noTransition):
		return noTransition.Err
	}
	return err
}

func (m *Machine) onAssignGeofence(_ context.Context, e *fsm.Event) error {
	a, err := argument(e)
	if err != nil {
		return err
	}

	v := m.vehicle
	v.Route = nil
	if v.Geofence == nil || a.replace {
		v.Geofence = &domain.Geofence{VehicleID: v.ID}
	}
	v.Geofence.Geometry = a.geometry
	return nil
}

func (m *Machine) onAssignRoute(_ context.Context, e *fsm.Event) error {
	a, err := argument(e)
	if err != nil {
		return err
	}
	if a.route == nil {
		return domain.Invalid("route is required")
	}

	m.vehicle.Geofence = nil
	m.vehicle.Route = a.route
	return nil
}

func (m *Machine) onClear(context.Context, *fsm.Event) error {
	m.vehicle.Geofence = nil
	m.vehicle.Route = nil
	return nil
}

func argument(e *fsm.Event) (assignment, error) {
	if len(e.Args) == 0 {
		return assignment{}, errors.New("zone event without assignment")
	}
	a, ok := e.Args[0].(assignment)
	if !ok {
		return assignment{}, errors.New("zone event with unexpected argument")
	}
	return a, nil
}

// wrapEvent cancels the event when fn fails so the error is returned by Event.
func wrapEvent(fn func(ctx context.Context, e *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, e *fsm.Event) {
		if err := fn(ctx, e); err != nil {
			e.Cancel(err)
		}
	}
}
