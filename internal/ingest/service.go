// Package ingest persists telemetry batches reported by controllers.
package ingest

import (
	"context"
	"fmt"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/geo"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/metrics"
)

// DefaultMergeRadius is the distance in meters within which the leading point
// of a batch overwrites the vehicle's latest stored point.
const DefaultMergeRadius = 15.0

type Store interface {
	GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error)
	GetVehicleByPlate(ctx context.Context, plate string) (*domain.Vehicle, error)
	SaveLeadingPoint(ctx context.Context, p *domain.TrackingPoint, shouldMerge func(prev *domain.TrackingPoint) bool) (bool, error)
	InsertPoint(ctx context.Context, p *domain.TrackingPoint) error
	AdvanceLastSeen(ctx context.Context, vehicleID string, seen time.Time) (bool, error)
	UpdateModem(ctx context.Context, vehicleID string, info domain.ModemInfo) error
}

// Sink receives every persisted point.
type Sink interface {
	DispatchPoint(ev *domain.PointEvent)
}

type Result struct {
	Saved          int  `json:"saved"`
	Merged         bool `json:"merged"`
	UpdatedVehicle bool `json:"updated_vehicle"`
}

func (r *Result) Message() string {
	return fmt.Sprintf("Saved %d point(s)", r.Saved)
}

type Service struct {
	store       Store
	sink        Sink
	mergeRadius float64
	logger      log.Logger
	now         func() time.Time
}

func NewService(store Store, sink Sink, mergeRadius float64, logger log.Logger) *Service {
	if mergeRadius <= 0 {
		mergeRadius = DefaultMergeRadius
	}
	return &Service{
		store:       store,
		sink:        sink,
		mergeRadius: mergeRadius,
		logger:      logger.WithName("ingest"),
		now:         time.Now,
	}
}

// IngestFromDevice stores a batch posted by the controller of plate. Points
// without vehicle_id belong to that vehicle; naming another one is refused.
func (s *Service) IngestFromDevice(ctx context.Context, plate string, b *Batch) (*Result, error) {
	if len(b.Points) == 0 {
		return nil, domain.Invalid("No data provided")
	}

	v, err := s.store.GetVehicleByPlate(ctx, plate)
	if err != nil {
		return nil, domain.StoreFailure("load vehicle", err)
	}
	for i := range b.Points {
		switch b.Points[i].VehicleID {
		case "":
			b.Points[i].VehicleID = v.ID
		case v.ID:
		default:
			return nil, &domain.PermissionError{Msg: "device may only report its own vehicle"}
		}
	}
	return s.Ingest(ctx, b)
}

// Ingest validates and stores a batch. Only the first point may merge with
// history; a failed write stops the batch but keeps earlier points.
func (s *Service) Ingest(ctx context.Context, b *Batch) (*Result, error) {
	if err := validate(b.Points); err != nil {
		metrics.IngestFailures.Inc()
		return nil, err
	}

	vehicleID := b.Points[0].VehicleID
	vehicle, err := s.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		metrics.IngestFailures.Inc()
		return nil, domain.StoreFailure("load vehicle", err)
	}

	if b.Envelope != nil {
		sanitizeEnvelope(b.Envelope)
	}

	points := make([]*domain.TrackingPoint, len(b.Points))
	for i := range b.Points {
		points[i] = buildPoint(&b.Points[i], vehicle, b)
	}

	res := &Result{}
	receivedAt := s.now()
	for i, p := range points {
		if i == 0 {
			res.Merged, err = s.store.SaveLeadingPoint(ctx, p, func(prev *domain.TrackingPoint) bool {
				return geo.DistanceMeters(prev.Lat, prev.Lon, p.Lat, p.Lon) <= s.mergeRadius
			})
		} else {
			err = s.store.InsertPoint(ctx, p)
		}
		if err != nil {
			metrics.IngestFailures.Inc()
			s.logger.Error(err, "point write failed, aborting batch",
				"vehicle_id", vehicleID, "index", i, "saved", res.Saved)
			return nil, domain.StoreFailure("save tracking point", err)
		}

		res.Saved++
		if i == 0 && res.Merged {
			metrics.PointsReceived.WithLabelValues("merged").Inc()
		} else {
			metrics.PointsReceived.WithLabelValues("inserted").Inc()
		}

		if s.sink != nil {
			s.sink.DispatchPoint(&domain.PointEvent{
				VehicleID:  vehicle.ID,
				CompanyID:  vehicle.CompanyID,
				Plate:      vehicle.NumberPlate,
				Point:      *p,
				ReceivedAt: receivedAt,
			})
		}
	}

	newest := newestPoint(points)
	res.UpdatedVehicle, err = s.store.AdvanceLastSeen(ctx, vehicleID, newest.TimeFrom)
	if err != nil {
		return nil, domain.StoreFailure("advance last_seen", err)
	}

	if err := s.store.UpdateModem(ctx, vehicleID, modemInfo(b.Envelope, newest, receivedAt)); err != nil {
		return nil, domain.StoreFailure("update modem", err)
	}

	s.logger.Debug("batch stored",
		"vehicle_id", vehicleID,
		"saved", res.Saved,
		"merged", res.Merged,
		"updated_vehicle", res.UpdatedVehicle,
	)
	return res, nil
}

func validate(points []PointInput) error {
	if len(points) == 0 {
		return domain.Invalid("No data provided")
	}

	first := points[0]
	if first.VehicleID == "" || first.Lat == nil || first.Lon == nil || first.TimeFrom == nil {
		return domain.Invalid("Missing required fields: vehicle_id, lat, lon, time_from")
	}

	for i := range points {
		p := &points[i]
		if p.Lat == nil || p.Lon == nil || p.TimeFrom == nil {
			return domain.Invalid("point %d: missing required fields: lat, lon, time_from", i)
		}
		if p.VehicleID == "" {
			p.VehicleID = first.VehicleID
		}
		if p.VehicleID != first.VehicleID {
			return domain.Invalid("point %d belongs to a different vehicle", i)
		}
		if *p.Lat < -90 || *p.Lat > 90 || *p.Lon < -180 || *p.Lon > 180 {
			return domain.Invalid("point %d: coordinates out of range", i)
		}
		if p.TimeTo != nil && p.TimeTo.Before(*p.TimeFrom) {
			return domain.Invalid("point %d: time_to is before time_from", i)
		}
		if p.State != "" && !domain.MotionState(p.State).Valid() {
			return domain.Invalid("point %d: unknown state %q", i, p.State)
		}
		if !domain.ZoneState(p.GeofenceViolationState).Valid() {
			return domain.Invalid("point %d: unknown geofence_violation_state %q", i, p.GeofenceViolationState)
		}
	}
	return nil
}

// buildPoint applies defaults and envelope fields to a validated input.
func buildPoint(in *PointInput, v *domain.Vehicle, b *Batch) *domain.TrackingPoint {
	p := &domain.TrackingPoint{
		VehicleID:              v.ID,
		Lat:                    *in.Lat,
		Lon:                    *in.Lon,
		Speed:                  in.Speed,
		Altitude:               in.Altitude,
		Course:                 in.Course,
		Satellites:             in.Satellites,
		HDOP:                   in.HDOP,
		Age:                    in.Age,
		TimeFrom:               in.TimeFrom.UTC(),
		TimeTo:                 in.TimeFrom.UTC(),
		State:                  domain.MotionState(in.State),
		Ignition:               in.Ignition,
		BatteryPercentage:      in.BatteryPercentage,
		FuelLevel:              in.FuelLevel,
		Mileage:                in.Mileage,
		SignalStrength:         in.SignalStrength,
		OperatorName:           in.OperatorName,
		IPAddress:              in.IPAddress,
		PublicIPAddress:        in.PublicIPAddress,
		CCID:                   in.CCID,
		IMEI:                   in.IMEI,
		IMSI:                   in.IMSI,
		GeofenceViolationState: domain.ZoneState(in.GeofenceViolationState),
		IsEngineLocked:         in.IsEngineLocked,
	}
	if in.TimeTo != nil {
		p.TimeTo = in.TimeTo.UTC()
	}
	if p.State == "" {
		p.State = domain.StateMoving
	}

	if e := b.Envelope; e != nil {
		if e.IsEngineLocked != nil {
			p.IsEngineLocked = *e.IsEngineLocked
		}
		if e.SignalQuality != nil {
			p.SignalStrength = *e.SignalQuality
		}
		override(&p.IPAddress, e.IPAddress)
		override(&p.OperatorName, e.OperatorName)
		override(&p.CCID, e.CCID)
		override(&p.IMEI, e.IMEI)
		override(&p.IMSI, e.IMSI)
	}
	if p.IPAddress == "" {
		p.IPAddress = "unknown"
	}
	if p.PublicIPAddress == "" {
		p.PublicIPAddress = b.PublicIP
	}

	tagZone(p, in.GeofenceID, v)
	return p
}

// tagZone fills in the zone state when the controller did not compute one and
// attaches the active zone id to violating points.
func tagZone(p *domain.TrackingPoint, reportedZoneID string, v *domain.Vehicle) {
	vertices, ok := v.ActiveZone()
	if !ok {
		return
	}
	if p.GeofenceViolationState == domain.ZoneUnknown && len(vertices) >= geo.MinPolygonPoints {
		p.GeofenceViolationState = geo.ZoneState(vertices, p.Lat, p.Lon)
	}
	if p.GeofenceViolationState != domain.ZoneViolation {
		return
	}

	switch {
	case v.Route != nil:
		p.RouteID = v.Route.ID
	case v.Geofence != nil && (reportedZoneID == "" || reportedZoneID == v.Geofence.ID):
		p.GeofenceID = v.Geofence.ID
	}
}

func newestPoint(points []*domain.TrackingPoint) *domain.TrackingPoint {
	newest := points[0]
	for _, p := range points[1:] {
		if p.TimeFrom.After(newest.TimeFrom) {
			newest = p
		}
	}
	return newest
}

func modemInfo(e *Envelope, newest *domain.TrackingPoint, at time.Time) domain.ModemInfo {
	info := domain.ModemInfo{
		OperatorName: newest.OperatorName,
		IPAddress:    newest.IPAddress,
		PublicIP:     newest.PublicIPAddress,
		CCID:         newest.CCID,
		IMEI:         newest.IMEI,
		IMSI:         newest.IMSI,
		ReportedAt:   at.UTC(),
	}
	if e != nil {
		info.Name = e.ModemName
		info.Raw = e.ModemInfo
	}
	return info
}

// override replaces *dst with v unless v is empty.
func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
