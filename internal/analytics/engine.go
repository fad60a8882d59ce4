package analytics

import (
	"context"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
)

// MaxRange bounds a single analytics request.
const MaxRange = 92 * 24 * time.Hour

type Store interface {
	GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error)
	PointsInRange(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.TrackingPoint, error)
	History(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.TrackingPoint, error)
}

type Engine struct {
	store  Store
	logger log.Logger
	now    func() time.Time
}

func NewEngine(store Store, logger log.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.WithName("analytics"),
		now:    time.Now,
	}
}

// Buckets returns the half-hour summary of a vehicle over [from, to].
func (e *Engine) Buckets(ctx context.Context, id domain.Identity, vehicleID string, from, to time.Time) ([]Bucket, error) {
	switch {
	case from.IsZero() || to.IsZero():
		return nil, domain.Invalid("date_from and date_to are required")
	case to.Before(from):
		return nil, domain.Invalid("date_to must not be before date_from")
	case to.Sub(from) > MaxRange:
		return nil, domain.Invalid("date range exceeds %d days", int(MaxRange.Hours()/24))
	}

	if err := e.authorize(ctx, id, vehicleID); err != nil {
		return nil, err
	}

	points, err := e.store.PointsInRange(ctx, vehicleID, from, to)
	if err != nil {
		return nil, domain.StoreFailure("load points", err)
	}

	start := time.Now()
	buckets := Aggregate(points, from, to)
	e.logger.Debug("analytics computed", "vehicle", vehicleID, "points", len(points),
		"buckets", len(buckets), "took", time.Since(start))
	return buckets, nil
}

// History returns raw points with time_from in (from, to]. A zero from means
// the epoch and a zero to means now.
func (e *Engine) History(ctx context.Context, id domain.Identity, vehicleID string, from, to time.Time) ([]domain.TrackingPoint, error) {
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = e.now().UTC()
	}
	if to.Before(from) {
		return nil, domain.Invalid("date_to must not be before date_from")
	}

	if err := e.authorize(ctx, id, vehicleID); err != nil {
		return nil, err
	}

	points, err := e.store.History(ctx, vehicleID, from, to)
	if err != nil {
		return nil, domain.StoreFailure("load history", err)
	}
	return points, nil
}

func (e *Engine) authorize(ctx context.Context, id domain.Identity, vehicleID string) error {
	v, err := e.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return domain.StoreFailure("load vehicle", err)
	}
	return id.Authorize(v)
}
