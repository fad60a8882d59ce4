// Package zone manages the geofence or route assigned to each vehicle and the
// controller commands that keep devices in sync with it.
package zone

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/geo"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/metrics"
)

type Store interface {
	UpdateZone(ctx context.Context, vehicleID string, mutate func(v *domain.Vehicle) ([]*domain.ControllerCommand, error)) (*domain.Vehicle, error)
	GetRoute(ctx context.Context, id string) (*domain.Route, error)
	ListRoutes(ctx context.Context) ([]domain.Route, error)
	CreateRoute(ctx context.Context, r *domain.Route) error
	UpdateRoute(ctx context.Context, r *domain.Route) error
	RouteVehicles(ctx context.Context, routeID string) ([]string, error)
	DeleteRoute(ctx context.Context, id string) error
}

type Auditor interface {
	Audit(e domain.AuditEntry)
}

const (
	sectionZone  = "geofence"
	sectionRoute = "route"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpEdit   Operation = "edit"
	OpDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpEdit, OpDelete:
		return true
	}
	return false
}

func (o Operation) command() domain.CommandCode {
	switch o {
	case OpCreate:
		return domain.CommandCreateGeofence
	case OpDelete:
		return domain.CommandDeleteGeofence
	default:
		return domain.CommandUpdateGeofence
	}
}

// Request changes the zone of a vehicle. Create and edit take exactly one of
// Geometry or RouteID. Delete takes neither.
type Request struct {
	Code     Operation       `json:"code"`
	Geometry []domain.LatLng `json:"geometry,omitempty"`
	RouteID  string          `json:"route_id,omitempty"`
}

func (r *Request) Validate() error {
	if !r.Code.Valid() {
		return domain.Invalid("code must be one of create, edit, delete")
	}

	hasGeometry, hasRoute := r.Geometry != nil, r.RouteID != ""
	if r.Code == OpDelete {
		if hasGeometry || hasRoute {
			return domain.Invalid("delete takes neither geometry nor route_id")
		}
		return nil
	}
	if hasGeometry == hasRoute {
		return domain.Invalid("exactly one of geometry or route_id is required")
	}
	if hasGeometry {
		return validatePolygon("geometry", r.Geometry)
	}
	return nil
}

// Settings are the violation handling options of a vehicle.
type Settings struct {
	Recipients            []string `json:"geofence_alert_recipients"`
	LockEngineOnViolation *bool    `json:"lock_engine_on_geofence_violation"`
}

func (s *Settings) Validate() error {
	if s.LockEngineOnViolation == nil {
		return domain.Invalid("lock_engine_on_geofence_violation is required")
	}
	for _, r := range s.Recipients {
		if _, err := mail.ParseAddress(r); err != nil {
			return domain.Invalid("invalid recipient %q", r)
		}
	}
	return nil
}

type Manager struct {
	store  Store
	audit  Auditor
	logger log.Logger
	now    func() time.Time
}

func NewManager(store Store, audit Auditor, logger log.Logger) *Manager {
	return &Manager{
		store:  store,
		audit:  audit,
		logger: logger.WithName("zone"),
		now:    time.Now,
	}
}

// Apply changes the active zone and queues the matching geofence command in
// the same store transaction.
func (m *Manager) Apply(ctx context.Context, id domain.Identity, vehicleID string, req *Request) (*domain.Vehicle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var route *domain.Route
	if req.RouteID != "" {
		r, err := m.store.GetRoute(ctx, req.RouteID)
		if err != nil {
			return nil, domain.StoreFailure("load route", err)
		}
		route = r
	}

	event, a := EventClear, assignment{}
	switch {
	case req.Code == OpDelete:
	case route != nil:
		event, a = EventAssignRoute, assignment{route: route}
	default:
		event, a = EventAssignGeofence, assignment{geometry: req.Geometry, replace: req.Code == OpCreate}
	}

	v, err := m.store.UpdateZone(ctx, vehicleID, func(v *domain.Vehicle) ([]*domain.ControllerCommand, error) {
		if err := id.Authorize(v); err != nil {
			return nil, err
		}
		machine := NewMachine(v)
		if err := machine.Fire(ctx, event, a); err != nil {
			return nil, err
		}
		cmd, err := zoneCommand(v, req.Code.command(), id.UserID)
		if err != nil {
			return nil, err
		}
		m.logger.Debug("zone changed", "vehicle", v.ID, "event", event, "state", machine.Current())
		return []*domain.ControllerCommand{cmd}, nil
	})
	if err != nil {
		return nil, domain.StoreFailure("update zone", err)
	}

	metrics.CommandsCreated.WithLabelValues(string(req.Code.command())).Inc()
	m.record(id, strings.ToUpper(string(req.Code)), sectionZone, fmt.Sprintf("%s zone of %s", req.Code, v.NumberPlate))
	return v, nil
}

// UpdateSettings stores the alert recipients and lock flag and pushes them to
// the controller with UPDATE_GEOFENCE.
func (m *Manager) UpdateSettings(ctx context.Context, id domain.Identity, vehicleID string, s *Settings) (*domain.Vehicle, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	v, err := m.store.UpdateZone(ctx, vehicleID, func(v *domain.Vehicle) ([]*domain.ControllerCommand, error) {
		if err := id.Authorize(v); err != nil {
			return nil, err
		}
		v.GeofenceAlertRecipients = append([]string(nil), s.Recipients...)
		v.LockEngineOnViolation = *s.LockEngineOnViolation

		cmd, err := zoneCommand(v, domain.CommandUpdateGeofence, id.UserID)
		if err != nil {
			return nil, err
		}
		return []*domain.ControllerCommand{cmd}, nil
	})
	if err != nil {
		return nil, domain.StoreFailure("update violation settings", err)
	}

	metrics.CommandsCreated.WithLabelValues(string(domain.CommandUpdateGeofence)).Inc()
	m.record(id, "UPDATE", sectionZone, fmt.Sprintf("violation settings of %s: lock=%t recipients=%d",
		v.NumberPlate, v.LockEngineOnViolation, len(v.GeofenceAlertRecipients)))
	return v, nil
}

// ForceUnlock stops locking on violation and releases the engine. A pending
// ENGINE_UNLOCK is reused and a pending ENGINE_LOCK is dropped.
func (m *Manager) ForceUnlock(ctx context.Context, id domain.Identity, vehicleID string) (*domain.Vehicle, error) {
	v, err := m.store.UpdateZone(ctx, vehicleID, func(v *domain.Vehicle) ([]*domain.ControllerCommand, error) {
		if err := id.Authorize(v); err != nil {
			return nil, err
		}
		v.LockEngineOnViolation = false

		update, err := zoneCommand(v, domain.CommandUpdateGeofence, id.UserID)
		if err != nil {
			return nil, err
		}
		unlock := &domain.ControllerCommand{Code: domain.CommandEngineUnlock, CreatedBy: id.UserID}
		return []*domain.ControllerCommand{update, unlock}, nil
	})
	if err != nil {
		return nil, domain.StoreFailure("force unlock", err)
	}

	m.record(id, "UPDATE", sectionZone, fmt.Sprintf("force unlock of %s", v.NumberPlate))
	return v, nil
}

func zoneCommand(v *domain.Vehicle, code domain.CommandCode, createdBy string) (*domain.ControllerCommand, error) {
	payload, err := json.Marshal(domain.ZonePayload{
		Geofence:              v.Snapshot(),
		LockEngineOnViolation: v.LockEngineOnViolation,
	})
	if err != nil {
		return nil, fmt.Errorf("encode zone payload: %w", err)
	}
	return &domain.ControllerCommand{
		VehicleID: v.ID,
		Code:      code,
		Payload:   payload,
		CreatedBy: createdBy,
	}, nil
}

func validatePolygon(field string, pts []domain.LatLng) error {
	if len(pts) < geo.MinPolygonPoints {
		return domain.Invalid("%s needs at least %d points", field, geo.MinPolygonPoints)
	}
	for _, p := range pts {
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return domain.Invalid("%s has an out of range point", field)
		}
	}
	return nil
}

func (m *Manager) record(id domain.Identity, action, section, change string) {
	if m.audit == nil {
		return
	}
	m.audit.Audit(domain.AuditEntry{
		Action:    action,
		UserID:    id.UserID,
		Section:   section,
		Change:    change,
		CreatedAt: m.now().UTC(),
	})
}
