package domain

import "time"

type ViolationType string

const (
	ViolationGeofence ViolationType = "GEOFENCE"
	ViolationRoute    ViolationType = "ROUTE"
)

func (t ViolationType) Valid() bool {
	switch t {
	case ViolationGeofence, ViolationRoute:
		return true
	}
	return false
}

type ViolationData struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Speed      float64 `json:"speed"`
	Satellites int     `json:"satellites"`
	HDOP       float64 `json:"hdop"`
	Course     float64 `json:"course"`
}

type Violation struct {
	ID        string        `json:"id"`
	VehicleID string        `json:"vehicle_id"`
	CompanyID string        `json:"company_id"`
	UserID    string        `json:"user_id,omitempty"`
	Type      ViolationType `json:"type"`
	ViolationData
	CreatedAt time.Time `json:"created_at"`
}

type SOSAlertType string

const (
	SOSPanic     SOSAlertType = "PANIC"
	SOSAccident  SOSAlertType = "ACCIDENT"
	SOSBreakdown SOSAlertType = "BREAKDOWN"
	SOSMedical   SOSAlertType = "MEDICAL"
	SOSFire      SOSAlertType = "FIRE"
)

func (t SOSAlertType) Valid() bool {
	switch t {
	case SOSPanic, SOSAccident, SOSBreakdown, SOSMedical, SOSFire:
		return true
	}
	return false
}

type SOSAlert struct {
	ID             string       `json:"id"`
	VehicleID      string       `json:"vehicle_id"`
	UserID         string       `json:"user_id,omitempty"`
	Type           SOSAlertType `json:"type"`
	Lat            float64      `json:"lat"`
	Lon            float64      `json:"lon"`
	HelpDispatched bool         `json:"help_dispatched"`
	CreatedAt      time.Time    `json:"created_at"`
}

// AuditEntry records a management action.
type AuditEntry struct {
	Action    string    `json:"action"`
	UserID    string    `json:"user_id"`
	Section   string    `json:"section"`
	Change    string    `json:"change"`
	CreatedAt time.Time `json:"created_at"`
}
