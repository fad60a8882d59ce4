// Package violation records zone violations and SOS alerts reported by
// controllers and reacts to them.
package violation

import (
	"context"
	"fmt"
	"math"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/metrics"
)

type Store interface {
	GetVehicleByPlate(ctx context.Context, plate string) (*domain.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error)
	InsertViolations(ctx context.Context, vs []*domain.Violation) error
	ListViolations(ctx context.Context, scope domain.Scope, page domain.Page) ([]domain.Violation, error)
	InsertSOSAlert(ctx context.Context, a *domain.SOSAlert) error
	ListSOSAlerts(ctx context.Context, scope domain.Scope, page domain.Page) ([]domain.SOSAlert, error)
	SetHelpDispatched(ctx context.Context, id string, dispatched bool) (*domain.SOSAlert, error)
}

// EngineLocker queues ENGINE_LOCK, reusing a pending one.
type EngineLocker interface {
	EnqueueEngineLock(ctx context.Context, vehicleID, createdBy string) (*domain.ControllerCommand, bool, error)
}

type Auditor interface {
	Audit(e domain.AuditEntry)
}

// NoticeSink accepts notices without blocking.
type NoticeSink interface {
	Notify(n *domain.Notice)
}

type Report struct {
	Violations []Entry `json:"violations"`
}

type Entry struct {
	Type domain.ViolationType `json:"type"`
	Data *EntryData           `json:"data"`
}

type EntryData struct {
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	Speed      *float64 `json:"speed"`
	Satellites *float64 `json:"satellites"`
	HDOP       *float64 `json:"hdop"`
	Course     *float64 `json:"course"`
}

func (r *Report) Validate() error {
	if len(r.Violations) == 0 {
		return domain.Invalid("violations must contain at least 1 item")
	}
	for i, e := range r.Violations {
		if !e.Type.Valid() {
			return domain.Invalid("violations[%d].type must be GEOFENCE or ROUTE", i)
		}
		d := e.Data
		if d == nil {
			return domain.Invalid("violations[%d].data is required", i)
		}
		for _, f := range []struct {
			name string
			val  *float64
		}{
			{"lat", d.Lat}, {"lon", d.Lon}, {"speed", d.Speed},
			{"satellites", d.Satellites}, {"hdop", d.HDOP}, {"course", d.Course},
		} {
			if f.val == nil {
				return domain.Invalid("violations[%d].data.%s is required", i, f.name)
			}
		}
		if *d.Satellites != math.Trunc(*d.Satellites) {
			return domain.Invalid("violations[%d].data.satellites must be an integer", i)
		}
	}
	return nil
}

func (d *EntryData) toDomain() domain.ViolationData {
	return domain.ViolationData{
		Lat:        *d.Lat,
		Lon:        *d.Lon,
		Speed:      *d.Speed,
		Satellites: int(*d.Satellites),
		HDOP:       *d.HDOP,
		Course:     *d.Course,
	}
}

type SOSReport struct {
	Type domain.SOSAlertType `json:"type"`
	Lat  *float64            `json:"lat"`
	Lon  *float64            `json:"lon"`
}

func (r *SOSReport) Validate() error {
	switch {
	case !r.Type.Valid():
		return domain.Invalid("type must be one of PANIC, ACCIDENT, BREAKDOWN, MEDICAL, FIRE")
	case r.Lat == nil || r.Lon == nil:
		return domain.Invalid("lat and lon are required")
	}
	return nil
}

type Detector struct {
	store  Store
	locker EngineLocker
	sink   NoticeSink
	audit  Auditor
	logger log.Logger
	now    func() time.Time
}

func NewDetector(store Store, locker EngineLocker, sink NoticeSink, audit Auditor, logger log.Logger) *Detector {
	return &Detector{
		store:  store,
		locker: locker,
		sink:   sink,
		audit:  audit,
		logger: logger.WithName("violation"),
		now:    time.Now,
	}
}

// Report stores the violations a controller observed. A reported GEOFENCE is
// kept as ROUTE when the vehicle enforces a route.
func (d *Detector) Report(ctx context.Context, plate string, r *Report) ([]*domain.Violation, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	v, err := d.store.GetVehicleByPlate(ctx, plate)
	if err != nil {
		return nil, domain.StoreFailure("load vehicle", err)
	}

	now := d.now().UTC()
	records := make([]*domain.Violation, 0, len(r.Violations))
	var notices []*domain.Notice
	for _, e := range r.Violations {
		rec := &domain.Violation{
			VehicleID:     v.ID,
			CompanyID:     v.CompanyID,
			UserID:        v.PrimaryUserID(),
			Type:          EffectiveType(e.Type, v),
			ViolationData: e.Data.toDomain(),
		}
		records = append(records, rec)

		if rec.Type == domain.ViolationGeofence && len(v.GeofenceAlertRecipients) > 0 {
			notices = append(notices, &domain.Notice{
				Kind:           domain.NoticeGeofenceViolation,
				VehicleID:      v.ID,
				CompanyID:      v.CompanyID,
				Plate:          v.NumberPlate,
				Recipients:     v.GeofenceAlertRecipients,
				Lat:            rec.Lat,
				Lon:            rec.Lon,
				OccurredAt:     now,
				EngineWillLock: v.LockEngineOnViolation,
			})
		}
	}

	if err := d.store.InsertViolations(ctx, records); err != nil {
		return nil, domain.StoreFailure("insert violations", err)
	}
	for _, rec := range records {
		metrics.ViolationsRecorded.WithLabelValues(string(rec.Type)).Inc()
	}

	if d.sink != nil {
		for _, n := range notices {
			d.sink.Notify(n)
		}
	}

	if v.LockEngineOnViolation && d.locker != nil {
		if _, created, err := d.locker.EnqueueEngineLock(ctx, v.ID, ""); err != nil {
			return nil, err
		} else if created {
			d.logger.Info("engine lock queued", "plate", v.NumberPlate)
		}
	}

	return records, nil
}

// EffectiveType is the type a reported violation is stored under.
func EffectiveType(reported domain.ViolationType, v *domain.Vehicle) domain.ViolationType {
	if reported == domain.ViolationGeofence && v.Geofence == nil {
		return domain.ViolationRoute
	}
	return reported
}

// RecordSOS stores an alert raised on the device and announces it on the
// company's alert channel.
func (d *Detector) RecordSOS(ctx context.Context, plate string, r *SOSReport) (*domain.SOSAlert, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	v, err := d.store.GetVehicleByPlate(ctx, plate)
	if err != nil {
		return nil, domain.StoreFailure("load vehicle", err)
	}

	a := &domain.SOSAlert{
		VehicleID: v.ID,
		UserID:    v.PrimaryUserID(),
		Type:      r.Type,
		Lat:       *r.Lat,
		Lon:       *r.Lon,
	}
	if err := d.store.InsertSOSAlert(ctx, a); err != nil {
		return nil, domain.StoreFailure("insert sos alert", err)
	}

	d.logger.Warn("sos alert", "plate", v.NumberPlate, "type", a.Type)
	if d.sink != nil {
		d.sink.Notify(&domain.Notice{
			Kind:       domain.NoticeSOS,
			VehicleID:  v.ID,
			CompanyID:  v.CompanyID,
			Plate:      v.NumberPlate,
			Lat:        a.Lat,
			Lon:        a.Lon,
			OccurredAt: a.CreatedAt,
			SOSType:    a.Type,
		})
	}
	return a, nil
}

// ListViolations returns the violations visible to the caller, newest first.
// A vehicle filter requires rights over that vehicle.
func (d *Detector) ListViolations(ctx context.Context, id domain.Identity, vehicleID string, page domain.Page) ([]domain.Violation, error) {
	scope, err := d.scope(ctx, id, vehicleID)
	if err != nil {
		return nil, err
	}
	out, err := d.store.ListViolations(ctx, scope, page.Normalize())
	if err != nil {
		return nil, domain.StoreFailure("list violations", err)
	}
	return out, nil
}

func (d *Detector) ListSOSAlerts(ctx context.Context, id domain.Identity, vehicleID string, page domain.Page) ([]domain.SOSAlert, error) {
	scope, err := d.scope(ctx, id, vehicleID)
	if err != nil {
		return nil, err
	}
	out, err := d.store.ListSOSAlerts(ctx, scope, page.Normalize())
	if err != nil {
		return nil, domain.StoreFailure("list sos alerts", err)
	}
	return out, nil
}

func (d *Detector) SetHelpDispatched(ctx context.Context, id domain.Identity, alertID string, dispatched bool) (*domain.SOSAlert, error) {
	if err := id.RequireSuperAdmin(); err != nil {
		return nil, err
	}
	a, err := d.store.SetHelpDispatched(ctx, alertID, dispatched)
	if err != nil {
		return nil, domain.StoreFailure("update sos alert", err)
	}
	if d.audit != nil {
		d.audit.Audit(domain.AuditEntry{
			Action:    "UPDATE",
			UserID:    id.UserID,
			Section:   "sos_alert",
			Change:    fmt.Sprintf("help_dispatched=%t for %s", dispatched, alertID),
			CreatedAt: d.now().UTC(),
		})
	}
	return a, nil
}

func (d *Detector) scope(ctx context.Context, id domain.Identity, vehicleID string) (domain.Scope, error) {
	if !id.IsUser() {
		return domain.Scope{}, &domain.AuthError{Msg: "user identity required"}
	}
	scope := domain.ScopeFor(id)
	if vehicleID == "" {
		return scope, nil
	}

	v, err := d.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return domain.Scope{}, domain.StoreFailure("load vehicle", err)
	}
	if err := id.Authorize(v); err != nil {
		return domain.Scope{}, err
	}
	return domain.Scope{VehicleID: v.ID}, nil
}
