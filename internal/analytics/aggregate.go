// Package analytics summarizes tracking history into half-hour buckets.
package analytics

import (
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/geo"
)

// BucketWidth is the length of one aggregation window. Durations are capped to
// it as well.
const BucketWidth = 30 * time.Minute

type Metrics struct {
	FuelLevel      *float64 `json:"fuel_level"`
	Speed          *float64 `json:"speed"`
	DriveTime      *float64 `json:"drive_time"`
	DriveMileage   *float64 `json:"drive_mileage"`
	ParkTime       *float64 `json:"park_time"`
	OperatingHours *float64 `json:"operating_hours"`
}

type Bucket struct {
	Start   time.Time `json:"bucket_start"`
	Metrics Metrics   `json:"metrics"`
}

// Align moves t to the half-hour boundary at or after it.
func Align(t time.Time) time.Time {
	floor := t.Truncate(BucketWidth)
	if floor.Before(t) {
		return floor.Add(BucketWidth)
	}
	return floor
}

// Boundaries lists the bucket instants from Align(from) to Align(to).
func Boundaries(from, to time.Time) []time.Time {
	start, end := Align(from), Align(to)
	var out []time.Time
	for b := start; !b.After(end); b = b.Add(BucketWidth) {
		out = append(out, b)
	}
	return out
}

// member reports whether p contributes to the bucket ending at b.
func member(p *domain.TrackingPoint, b time.Time) bool {
	lower := b.Add(-BucketWidth)
	within := func(t time.Time) bool { return t.After(lower) && !t.After(b) }
	return within(p.TimeFrom) || within(p.TimeTo) ||
		(p.TimeFrom.Before(b) && !p.TimeTo.Before(b))
}

// Aggregate buckets points that are sorted by time_from. Mileage of each point
// is measured from its predecessor in the whole slice, not only within a bucket,
// and is counted once, in the first bucket the point belongs to.
func Aggregate(points []domain.TrackingPoint, from, to time.Time) []Bucket {
	legs := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		prev, cur := &points[i-1], &points[i]
		legs[i] = geo.DistanceKm(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
	}

	boundaries := Boundaries(from, to)
	legBucket := make([]int, len(points))
	for i := range points {
		legBucket[i] = -1
		for j, b := range boundaries {
			if member(&points[i], b) {
				legBucket[i] = j
				break
			}
		}
	}

	out := make([]Bucket, 0, len(boundaries))
	for j, b := range boundaries {
		var (
			fuel, speed, drive, park, operating mean
			mileage                             float64
		)
		for i := range points {
			p := &points[i]
			if !member(p, b) {
				continue
			}

			if p.FuelLevel != 0 {
				fuel.add(p.FuelLevel)
			}
			if p.Speed != 0 {
				speed.add(p.Speed)
			}

			minutes := cappedMinutes(p)
			switch p.State {
			case domain.StateMoving:
				drive.add(minutes)
			case domain.StateStationary:
				park.add(minutes)
			}
			if p.Ignition {
				operating.add(minutes)
			}
			if legBucket[i] == j {
				mileage += legs[i]
			}
		}

		out = append(out, Bucket{
			Start: b,
			Metrics: Metrics{
				FuelLevel:      fuel.value(),
				Speed:          speed.value(),
				DriveTime:      drive.value(),
				DriveMileage:   nonZero(mileage),
				ParkTime:       park.value(),
				OperatingHours: operating.value(),
			},
		})
	}
	return out
}

func cappedMinutes(p *domain.TrackingPoint) float64 {
	return min(p.DurationMinutes(), BucketWidth.Minutes())
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m *mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

func nonZero(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
