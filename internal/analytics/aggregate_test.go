package analytics

import (
	"context"
	"math"
	"net/http"
	"testing"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/store"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func TestAlign(t *testing.T) {
	tests := []struct {
		in, want time.Time
	}{
		{t0, t0},
		{t0.Add(time.Second), at(30)},
		{at(30), at(30)},
		{at(45), at(60)},
		{at(59), at(60)},
	}

	for _, tt := range tests {
		t.Run(tt.in.Format("15:04:05"), func(t *testing.T) {
			if got := Align(tt.in); !got.Equal(tt.want) {
				t.Errorf("Align(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		from, to time.Time
		want     int
	}{
		{"aligned ninety minutes", t0, at(90), 4},
		{"offset ninety minutes", at(10), at(100), 4},
		{"single instant", t0, t0, 1},
		{"inside one bucket", at(5), at(20), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Boundaries(tt.from, tt.to)
			if len(got) != tt.want {
				t.Fatalf("Boundaries() = %v, want %d buckets", got, tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Sub(got[i-1]) != BucketWidth {
					t.Errorf("gap between %v and %v", got[i-1], got[i])
				}
			}
		})
	}
}

func approx(t *testing.T, name string, got *float64, want, tol float64) {
	t.Helper()
	if got == nil {
		t.Errorf("%s = nil, want %v", name, want)
		return
	}
	if math.Abs(*got-want) > tol {
		t.Errorf("%s = %v, want %v", name, *got, want)
	}
}

func TestAggregateDutyCycle(t *testing.T) {
	points := []domain.TrackingPoint{
		{TimeFrom: at(5), TimeTo: at(15), State: domain.StateMoving, Ignition: true, Speed: 40, FuelLevel: 50},
		{TimeFrom: at(15), TimeTo: at(25), State: domain.StateStationary, Ignition: true, FuelLevel: 48},
	}

	buckets := Aggregate(points, t0, at(30))
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets, want 2", len(buckets))
	}

	empty := buckets[0].Metrics
	if empty.DriveTime != nil || empty.Speed != nil || empty.DriveMileage != nil {
		t.Errorf("first bucket should be empty, got %+v", empty)
	}

	m := buckets[1].Metrics
	approx(t, "drive_time", m.DriveTime, 10, 1e-9)
	approx(t, "park_time", m.ParkTime, 10, 1e-9)
	approx(t, "operating_hours", m.OperatingHours, 10, 1e-9)
	approx(t, "fuel_level", m.FuelLevel, 49, 1e-9)
	// zero speed is treated as not reported
	approx(t, "speed", m.Speed, 40, 1e-9)
}

func TestAggregateCapsDuration(t *testing.T) {
	points := []domain.TrackingPoint{
		{TimeFrom: at(-120), TimeTo: at(10), State: domain.StateStationary},
	}
	buckets := Aggregate(points, t0, at(30))
	for _, b := range buckets {
		approx(t, "park_time "+b.Start.Format("15:04"), b.Metrics.ParkTime, 30, 1e-9)
	}
}

func TestAggregateMileage(t *testing.T) {
	points := []domain.TrackingPoint{
		{Lat: 0, Lon: 0, TimeFrom: at(5), TimeTo: at(6), State: domain.StateMoving},
		{Lat: 1, Lon: 0, TimeFrom: at(35), TimeTo: at(36), State: domain.StateMoving},
	}

	buckets := Aggregate(points, t0, at(60))
	if len(buckets) != 3 {
		t.Fatalf("got %d buckets, want 3", len(buckets))
	}
	if buckets[1].Metrics.DriveMileage != nil {
		t.Errorf("first point has no predecessor, mileage = %v", *buckets[1].Metrics.DriveMileage)
	}
	approx(t, "drive_mileage", buckets[2].Metrics.DriveMileage, 111.19, 0.5)
}

func TestEngine(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	v := mem.AddVehicle(&domain.Vehicle{NumberPlate: "AN-1", UserIDs: []string{"u1"}})
	for _, p := range []domain.TrackingPoint{
		{VehicleID: v.ID, TimeFrom: at(5), TimeTo: at(15), State: domain.StateMoving},
		{VehicleID: v.ID, TimeFrom: at(-300), TimeTo: at(-290), State: domain.StateMoving},
	} {
		if err := mem.InsertPoint(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}

	e := NewEngine(mem, log.NewNopLogger())
	owner := domain.Identity{UserID: "u1", Role: domain.RoleUser}

	tests := []struct {
		name       string
		id         domain.Identity
		from, to   time.Time
		wantStatus int
	}{
		{"ok", owner, t0, at(90), http.StatusOK},
		{"reversed", owner, at(90), t0, http.StatusBadRequest},
		{"missing", owner, time.Time{}, at(90), http.StatusBadRequest},
		{"too long", owner, t0, t0.Add(MaxRange + time.Hour), http.StatusBadRequest},
		{"stranger", domain.Identity{UserID: "u2", Role: domain.RoleUser}, t0, at(90), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buckets, err := e.Buckets(ctx, tt.id, v.ID, tt.from, tt.to)
			if got := domain.HTTPStatus(err); got != tt.wantStatus {
				t.Fatalf("Buckets() error = %v, status %d, want %d", err, got, tt.wantStatus)
			}
			if err == nil && len(buckets) != 4 {
				t.Errorf("got %d buckets, want 4", len(buckets))
			}
		})
	}

	t.Run("history defaults", func(t *testing.T) {
		points, err := e.History(ctx, owner, v.ID, time.Time{}, time.Time{})
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(points) != 2 || !points[0].TimeFrom.Before(points[1].TimeFrom) {
			t.Errorf("History() = %+v", points)
		}
	})

	t.Run("history window", func(t *testing.T) {
		points, err := e.History(ctx, owner, v.ID, t0, at(90))
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(points) != 1 {
			t.Errorf("got %d points, want 1", len(points))
		}
	})
}

func TestAggregateMileageCountedOnce(t *testing.T) {
	points := []domain.TrackingPoint{
		{Lat: 0, Lon: 0, TimeFrom: at(0), TimeTo: at(5), State: domain.StateMoving},
		{Lat: 1, Lon: 0, TimeFrom: at(20), TimeTo: at(40), State: domain.StateMoving},
	}

	buckets := Aggregate(points, t0, at(60))
	if len(buckets) != 3 {
		t.Fatalf("got %d buckets, want 3", len(buckets))
	}
	approx(t, "drive_mileage 10:30", buckets[1].Metrics.DriveMileage, 111.19, 0.5)
	if got := buckets[2].Metrics.DriveMileage; got != nil {
		t.Errorf("leg counted again in the 11:00 bucket: %v", *got)
	}

	var total float64
	for _, b := range buckets {
		if b.Metrics.DriveMileage != nil {
			total += *b.Metrics.DriveMileage
		}
	}
	if math.Abs(total-111.19) > 0.5 {
		t.Errorf("total mileage = %v, want one leg", total)
	}
}
