package ingest

import (
	"encoding/json"
	"net"
	"regexp"
	"strings"
	"time"

	"fleet-monitor/telematics/internal/domain"
)

// PointInput is one reported point as it arrives on the wire. Pointer
// fields are required and must be distinguishable from zero.
type PointInput struct {
	VehicleID string `json:"vehicle_id"`

	Lat      *float64   `json:"lat"`
	Lon      *float64   `json:"lon"`
	TimeFrom *time.Time `json:"time_from"`
	TimeTo   *time.Time `json:"time_to"`

	Speed      float64 `json:"speed"`
	Altitude   float64 `json:"altitude"`
	Course     float64 `json:"course"`
	Satellites int     `json:"satellites"`
	HDOP       float64 `json:"hdop"`
	Age        float64 `json:"age"`

	State    string `json:"state"`
	Ignition bool   `json:"ignition"`

	BatteryPercentage float64 `json:"battery_percentage"`
	FuelLevel         float64 `json:"fuel_level"`
	Mileage           float64 `json:"mileage"`

	SignalStrength  float64 `json:"signal_strength"`
	OperatorName    string  `json:"operator_name"`
	IPAddress       string  `json:"ip_address"`
	PublicIPAddress string  `json:"public_ip_address"`
	CCID            string  `json:"ccid"`
	IMEI            string  `json:"imei"`
	IMSI            string  `json:"imsi"`

	GeofenceID             string `json:"geofence_id"`
	RouteID                string `json:"route_id"`
	GeofenceViolationState string `json:"geofence_violation_state"`
	IsEngineLocked         bool   `json:"is_engine_locked"`
}

// Envelope carries the controller-level fields that apply to every point of
// a batch.
type Envelope struct {
	Data []PointInput `json:"data"`

	IsEngineLocked *bool    `json:"is_engine_locked"`
	IPAddress      string   `json:"ip_address"`
	SignalQuality  *float64 `json:"signal_quality"`
	ModemName      string   `json:"modem_name"`
	ModemInfo      string   `json:"modem_info"`
	CCID           string   `json:"ccid"`
	IMEI           string   `json:"imei"`
	IMSI           string   `json:"imsi"`
	OperatorName   string   `json:"operator_name"`
}

// Batch is a decoded telemetry request.
type Batch struct {
	Points   []PointInput
	Envelope *Envelope

	// PublicIP is the address the request came from, used when a point does
	// not report one.
	PublicIP string
}

// DecodeBatch accepts a single point, an array of points or an envelope.
func DecodeBatch(body []byte) (*Batch, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, domain.Invalid("No data provided")
	}

	if trimmed[0] == '[' {
		var points []PointInput
		if err := json.Unmarshal(body, &points); err != nil {
			return nil, domain.Invalid("invalid telemetry body: %v", err)
		}
		return &Batch{Points: points}, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, domain.Invalid("invalid telemetry body: %v", err)
	}

	if _, ok := probe["data"]; ok {
		var env Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, domain.Invalid("invalid telemetry body: %v", err)
		}
		return &Batch{Points: env.Data, Envelope: &env}, nil
	}

	var point PointInput
	if err := json.Unmarshal(body, &point); err != nil {
		return nil, domain.Invalid("invalid telemetry body: %v", err)
	}
	return &Batch{Points: []PointInput{point}}, nil
}

var (
	wordChars = regexp.MustCompile(`\w+`)
	digits    = regexp.MustCompile(`^\d+$`)
)

// sanitizeEnvelope drops identifiers that controllers report as garbage.
func sanitizeEnvelope(e *Envelope) {
	if net.ParseIP(e.IPAddress) == nil {
		e.IPAddress = ""
	}
	if !wordChars.MatchString(e.CCID) {
		e.CCID = ""
	}
	if !digits.MatchString(e.IMEI) {
		e.IMEI = ""
	}
	if !digits.MatchString(e.IMSI) {
		e.IMSI = ""
	}
	if digits.MatchString(e.OperatorName) {
		e.OperatorName = ""
	}
}

// ForwardedFor returns the client address from an X-Forwarded-For value.
func ForwardedFor(header string) string {
	if header == "" {
		return ""
	}
	first, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(first)
}
