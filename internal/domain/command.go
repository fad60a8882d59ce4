package domain

import (
	"encoding/json"
	"time"
)

type CommandCode string

const (
	CommandEngineLock     CommandCode = "ENGINE_LOCK"
	CommandEngineUnlock   CommandCode = "ENGINE_UNLOCK"
	CommandCreateGeofence CommandCode = "CREATE_GEOFENCE"
	CommandUpdateGeofence CommandCode = "UPDATE_GEOFENCE"
	CommandDeleteGeofence CommandCode = "DELETE_GEOFENCE"
)

func (c CommandCode) Valid() bool {
	switch c {
	case CommandEngineLock, CommandEngineUnlock,
		CommandCreateGeofence, CommandUpdateGeofence, CommandDeleteGeofence:
		return true
	}
	return false
}

// IsEngine reports whether the command drives the engine relay. Engine commands
// are coalesced while pending.
func (c CommandCode) IsEngine() bool {
	switch c {
	case CommandEngineLock, CommandEngineUnlock:
		return true
	}
	return false
}

type ControllerCommand struct {
	ID         string          `json:"id"`
	VehicleID  string          `json:"vehicle_id"`
	Code       CommandCode     `json:"code"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IsExecuted bool            `json:"is_executed"`
	CreatedBy  string          `json:"created_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ZonePayload is the body of CREATE/UPDATE/DELETE_GEOFENCE commands.
type ZonePayload struct {
	Geofence              *ZoneSnapshot `json:"geofence"`
	LockEngineOnViolation bool          `json:"lock_engine_on_geofence_violation"`
}

// ZoneSnapshot is the geometry a controller enforces.
type ZoneSnapshot struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Geometry []LatLng `json:"geometry"`
}

const (
	ZoneKindGeofence = "geofence"
	ZoneKindRoute    = "route"
)

// Snapshot returns the active zone of v, or nil.
func (v *Vehicle) Snapshot() *ZoneSnapshot {
	switch {
	case v.Geofence != nil:
		return &ZoneSnapshot{ID: v.Geofence.ID, Kind: ZoneKindGeofence, Geometry: v.Geofence.Geometry}
	case v.Route != nil:
		return &ZoneSnapshot{ID: v.Route.ID, Kind: ZoneKindRoute, Geometry: v.Route.Bounds}
	}
	return nil
}
