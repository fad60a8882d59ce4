package domain

import "time"

type NoticeKind string

const (
	NoticeGeofenceViolation NoticeKind = "GEOFENCE_VIOLATION"
	NoticeSOS               NoticeKind = "SOS"
)

// Notice is an out-of-band message about a vehicle event.
type Notice struct {
	Kind       NoticeKind `json:"kind"`
	VehicleID  string     `json:"vehicle_id"`
	CompanyID  string     `json:"company_id"`
	Plate      string     `json:"number_plate"`
	Recipients []string   `json:"recipients,omitempty"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	OccurredAt time.Time  `json:"occurred_at"`

	EngineWillLock bool         `json:"engine_will_lock,omitempty"`
	SOSType        SOSAlertType `json:"sos_type,omitempty"`
}
