package domain

import "time"

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geofence is a polygon owned by exactly one vehicle.
type Geofence struct {
	ID        string    `json:"id"`
	VehicleID string    `json:"vehicle_id"`
	Geometry  []LatLng  `json:"geometry"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Route is a named polygon shared by many vehicles.
type Route struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Bounds    []LatLng  `json:"bounds"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Vehicle struct {
	ID          string     `json:"id"`
	NumberPlate string     `json:"number_plate"`
	Type        string     `json:"type"`
	CompanyID   string     `json:"company_id"`
	UserIDs     []string   `json:"user_ids"`
	LastSeen    *time.Time `json:"last_seen"`

	Geofence *Geofence `json:"geofence,omitempty"`
	Route    *Route    `json:"route,omitempty"`

	LockEngineOnViolation   bool     `json:"lock_engine_on_violation"`
	GeofenceAlertRecipients []string `json:"geofence_alert_recipients"`

	Modem *ModemInfo `json:"modem,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PrimaryUserID is the first user assigned to the vehicle, or "".
func (v *Vehicle) PrimaryUserID() string {
	if len(v.UserIDs) == 0 {
		return ""
	}
	return v.UserIDs[0]
}

func (v *Vehicle) HasUser(userID string) bool {
	for _, id := range v.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ActiveZone returns the geometry of the assigned geofence or route.
func (v *Vehicle) ActiveZone() ([]LatLng, bool) {
	switch {
	case v.Geofence != nil:
		return v.Geofence.Geometry, true
	case v.Route != nil:
		return v.Route.Bounds, true
	}
	return nil, false
}
