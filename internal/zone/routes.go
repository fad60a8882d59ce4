package zone

import (
	"context"
	"fmt"
	"strings"

	"fleet-monitor/telematics/internal/domain"
)

// RoutePatch updates a route. At least one field must be set.
type RoutePatch struct {
	Name   *string         `json:"name"`
	Bounds []domain.LatLng `json:"bounds"`
}

func (m *Manager) ListRoutes(ctx context.Context, id domain.Identity) ([]domain.Route, error) {
	if !id.IsUser() {
		return nil, &domain.AuthError{Msg: "user identity required"}
	}
	routes, err := m.store.ListRoutes(ctx)
	if err != nil {
		return nil, domain.StoreFailure("list routes", err)
	}
	return routes, nil
}

func (m *Manager) CreateRoute(ctx context.Context, id domain.Identity, name string, bounds []domain.LatLng) (*domain.Route, error) {
	if err := id.RequireSuperAdmin(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalid("name is required")
	}
	if err := validatePolygon("bounds", bounds); err != nil {
		return nil, err
	}

	r := &domain.Route{Name: name, Bounds: bounds}
	if err := m.store.CreateRoute(ctx, r); err != nil {
		return nil, domain.StoreFailure("create route", err)
	}
	m.record(id, "CREATE", sectionRoute, fmt.Sprintf("route %s", r.Name))
	return r, nil
}

// UpdateRoute changes a route and queues UPDATE_GEOFENCE for every vehicle
// that enforces it.
func (m *Manager) UpdateRoute(ctx context.Context, id domain.Identity, routeID string, patch *RoutePatch) (*domain.Route, error) {
	if err := id.RequireSuperAdmin(); err != nil {
		return nil, err
	}
	if patch.Name == nil && patch.Bounds == nil {
		return nil, domain.Invalid("nothing to update")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, domain.Invalid("name must not be empty")
	}
	if patch.Bounds != nil {
		if err := validatePolygon("bounds", patch.Bounds); err != nil {
			return nil, err
		}
	}

	r, err := m.store.GetRoute(ctx, routeID)
	if err != nil {
		return nil, domain.StoreFailure("load route", err)
	}
	if patch.Name != nil {
		r.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Bounds != nil {
		r.Bounds = patch.Bounds
	}
	if err := m.store.UpdateRoute(ctx, r); err != nil {
		return nil, domain.StoreFailure("update route", err)
	}
	m.record(id, "UPDATE", sectionRoute, fmt.Sprintf("route %s", r.Name))

	if patch.Bounds != nil {
		if err := m.resync(ctx, id, r.ID); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// resync pushes the current route geometry to vehicles still assigned to it.
func (m *Manager) resync(ctx context.Context, id domain.Identity, routeID string) error {
	vehicleIDs, err := m.store.RouteVehicles(ctx, routeID)
	if err != nil {
		return domain.StoreFailure("list route vehicles", err)
	}

	for _, vehicleID := range vehicleIDs {
		_, err := m.store.UpdateZone(ctx, vehicleID, func(v *domain.Vehicle) ([]*domain.ControllerCommand, error) {
			if v.Route == nil || v.Route.ID != routeID {
				return nil, nil
			}
			cmd, err := zoneCommand(v, domain.CommandUpdateGeofence, id.UserID)
			if err != nil {
				return nil, err
			}
			return []*domain.ControllerCommand{cmd}, nil
		})
		if err != nil {
			return domain.StoreFailure("resync route vehicle", err)
		}
	}
	if len(vehicleIDs) > 0 {
		m.logger.Info("route resynced", "route", routeID, "vehicles", len(vehicleIDs))
	}
	return nil
}

// DeleteRoute removes a route no vehicle is assigned to.
func (m *Manager) DeleteRoute(ctx context.Context, id domain.Identity, routeID string) error {
	if err := id.RequireSuperAdmin(); err != nil {
		return err
	}
	if err := m.store.DeleteRoute(ctx, routeID); err != nil {
		return domain.StoreFailure("delete route", err)
	}
	m.record(id, "DELETE", sectionRoute, fmt.Sprintf("route %s", routeID))
	return nil
}
