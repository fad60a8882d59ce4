package domain

import "time"

type MotionState string

const (
	StateMoving     MotionState = "MOVING"
	StateStationary MotionState = "STATIONARY"
)

func (s MotionState) Valid() bool {
	switch s {
	case StateMoving, StateStationary:
		return true
	}
	return false
}

// ZoneState is the device or gateway computed position relative to the active zone.
type ZoneState string

const (
	ZoneUnknown   ZoneState = ""
	ZoneIn        ZoneState = "IN"
	ZoneViolation ZoneState = "VIOLATION"
)

func (s ZoneState) Valid() bool {
	switch s {
	case ZoneUnknown, ZoneIn, ZoneViolation:
		return true
	}
	return false
}

type TrackingPoint struct {
	ID        string `json:"id"`
	VehicleID string `json:"vehicle_id"`

	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Speed      float64 `json:"speed"`
	Altitude   float64 `json:"altitude"`
	Course     float64 `json:"course"`
	Satellites int     `json:"satellites"`
	HDOP       float64 `json:"hdop"`
	Age        float64 `json:"age"`

	TimeFrom time.Time   `json:"time_from"`
	TimeTo   time.Time   `json:"time_to"`
	State    MotionState `json:"state"`
	Ignition bool        `json:"ignition"`

	BatteryPercentage float64 `json:"battery_percentage"`
	FuelLevel         float64 `json:"fuel_level"`
	Mileage           float64 `json:"mileage"`

	SignalStrength  float64 `json:"signal_strength"`
	OperatorName    string  `json:"operator_name,omitempty"`
	IPAddress       string  `json:"ip_address"`
	PublicIPAddress string  `json:"public_ip_address,omitempty"`
	CCID            string  `json:"ccid,omitempty"`
	IMEI            string  `json:"imei,omitempty"`
	IMSI            string  `json:"imsi,omitempty"`

	GeofenceID             string    `json:"geofence_id,omitempty"`
	RouteID                string    `json:"route_id,omitempty"`
	GeofenceViolationState ZoneState `json:"geofence_violation_state,omitempty"`
	IsEngineLocked         bool      `json:"is_engine_locked"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DurationMinutes is the length of the reported interval in minutes.
func (p *TrackingPoint) DurationMinutes() float64 {
	d := p.TimeTo.Sub(p.TimeFrom).Minutes()
	if d < 0 {
		return 0
	}
	return d
}

// ModemInfo is the last connectivity snapshot reported by a controller.
type ModemInfo struct {
	Name         string    `json:"modem_name,omitempty"`
	OperatorName string    `json:"operator_name,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	PublicIP     string    `json:"public_ip_address,omitempty"`
	CCID         string    `json:"ccid,omitempty"`
	IMEI         string    `json:"imei,omitempty"`
	IMSI         string    `json:"imsi,omitempty"`
	Raw          string    `json:"modem_info,omitempty"`
	ReportedAt   time.Time `json:"reported_at"`
}

// PointEvent is a persisted point handed to the async consumers.
type PointEvent struct {
	VehicleID  string
	CompanyID  string
	Plate      string
	Point      TrackingPoint
	ReceivedAt time.Time
}
