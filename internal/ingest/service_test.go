package ingest

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/geo"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/store"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type recordingSink struct {
	events []*domain.PointEvent
}

func (r *recordingSink) DispatchPoint(ev *domain.PointEvent) {
	r.events = append(r.events, ev)
}

func setup(t *testing.T) (*Service, *store.MemoryStore, *domain.Vehicle, *recordingSink) {
	t.Helper()
	mem := store.NewMemoryStore()
	v := mem.AddVehicle(&domain.Vehicle{NumberPlate: "KA-01", CompanyID: "c1"})
	sink := &recordingSink{}
	return NewService(mem, sink, DefaultMergeRadius, log.NewNopLogger()), mem, v, sink
}

func ptr[T any](v T) *T { return &v }

// northOf returns a latitude the given distance north of lat.
func northOf(lat, meters float64) float64 {
	return lat + meters/geo.EarthRadiusMeters*180/math.Pi
}

func point(vehicleID string, lat, lon float64, at time.Time) PointInput {
	return PointInput{VehicleID: vehicleID, Lat: ptr(lat), Lon: ptr(lon), TimeFrom: ptr(at)}
}

func storedPoints(t *testing.T, mem *store.MemoryStore, vehicleID string) []domain.TrackingPoint {
	t.Helper()
	pts, err := mem.History(context.Background(), vehicleID, time.Unix(0, 0), t0.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	return pts
}

func TestIngestValidation(t *testing.T) {
	svc, _, v, _ := setup(t)

	tests := []struct {
		name   string
		points []PointInput
	}{
		{"empty batch", nil},
		{"first without vehicle", []PointInput{{Lat: ptr(1.0), Lon: ptr(1.0), TimeFrom: ptr(t0)}}},
		{"first without time", []PointInput{{VehicleID: v.ID, Lat: ptr(1.0), Lon: ptr(1.0)}}},
		{"later without lat", []PointInput{point(v.ID, 1, 1, t0), {Lon: ptr(1.0), TimeFrom: ptr(t0)}}},
		{"later for another vehicle", []PointInput{point(v.ID, 1, 1, t0), point("other", 1, 1, t0)}},
		{"bad state", []PointInput{{VehicleID: v.ID, Lat: ptr(1.0), Lon: ptr(1.0), TimeFrom: ptr(t0), State: "FLYING"}}},
		{"latitude out of range", []PointInput{point(v.ID, 91, 1, t0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(context.Background(), &Batch{Points: tt.points})
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("Ingest() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestIngestUnknownVehicle(t *testing.T) {
	svc, _, _, _ := setup(t)

	_, err := svc.Ingest(context.Background(), &Batch{Points: []PointInput{point("nope", 1, 1, t0)}})
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Ingest() error = %v, want NotFoundError", err)
	}
}

func TestIngestMergeRadius(t *testing.T) {
	tests := []struct {
		name      string
		meters    float64
		wantRows  int
		wantMerge bool
	}{
		{"same spot merges", 0, 1, true},
		{"10m merges", 10, 1, true},
		{"just under 15m merges", 14.99, 1, true},
		{"15.01m inserts", 15.01, 2, false},
		{"1km inserts", 1000, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mem, v, _ := setup(t)
			ctx := context.Background()

			if _, err := svc.Ingest(ctx, &Batch{Points: []PointInput{point(v.ID, 12.0, 77.0, t0)}}); err != nil {
				t.Fatalf("first Ingest() error = %v", err)
			}
			res, err := svc.Ingest(ctx, &Batch{Points: []PointInput{point(v.ID, northOf(12.0, tt.meters), 77.0, t0.Add(time.Minute))}})
			if err != nil {
				t.Fatalf("second Ingest() error = %v", err)
			}

			if res.Merged != tt.wantMerge {
				t.Errorf("Merged = %v, want %v", res.Merged, tt.wantMerge)
			}
			pts := storedPoints(t, mem, v.ID)
			if len(pts) != tt.wantRows {
				t.Fatalf("stored %d rows, want %d", len(pts), tt.wantRows)
			}
			if tt.wantMerge && !pts[0].TimeFrom.Equal(t0.Add(time.Minute)) {
				t.Errorf("merged row keeps time_from %v, want the new point's", pts[0].TimeFrom)
			}
		})
	}
}

func TestIngestOnlyLeadingPointMerges(t *testing.T) {
	svc, mem, v, _ := setup(t)

	res, err := svc.Ingest(context.Background(), &Batch{Points: []PointInput{
		point(v.ID, 12, 77, t0),
		point(v.ID, 12, 77, t0.Add(time.Minute)),
		point(v.ID, 12, 77, t0.Add(2*time.Minute)),
	}})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Saved != 3 {
		t.Errorf("Saved = %d, want 3", res.Saved)
	}
	if n := mem.PointCount(v.ID); n != 3 {
		t.Errorf("stored %d rows, want 3", n)
	}
}

func TestIngestLastSeenIsMonotonic(t *testing.T) {
	svc, mem, v, _ := setup(t)
	ctx := context.Background()

	arrivals := []struct {
		at          time.Time
		wantUpdated bool
	}{
		{t0.Add(30 * time.Minute), true},
		{t0, false},
		{t0.Add(10 * time.Minute), false},
		{t0.Add(30 * time.Minute), false},
		{t0.Add(31 * time.Minute), true},
	}

	for i, a := range arrivals {
		// spread the points so every batch inserts
		res, err := svc.Ingest(ctx, &Batch{Points: []PointInput{point(v.ID, float64(i), 0, a.at)}})
		if err != nil {
			t.Fatalf("Ingest(%d) error = %v", i, err)
		}
		if res.UpdatedVehicle != a.wantUpdated {
			t.Errorf("arrival %d: UpdatedVehicle = %v, want %v", i, res.UpdatedVehicle, a.wantUpdated)
		}
	}

	got, _ := mem.GetVehicle(ctx, v.ID)
	if got.LastSeen == nil || !got.LastSeen.Equal(t0.Add(31*time.Minute)) {
		t.Errorf("last_seen = %v, want %v", got.LastSeen, t0.Add(31*time.Minute))
	}
}

func TestIngestNewestInBatchAdvancesLastSeen(t *testing.T) {
	svc, mem, v, _ := setup(t)

	_, err := svc.Ingest(context.Background(), &Batch{Points: []PointInput{
		point(v.ID, 1, 1, t0.Add(5*time.Minute)),
		point(v.ID, 2, 2, t0.Add(20*time.Minute)),
		point(v.ID, 3, 3, t0),
	}})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	got, _ := mem.GetVehicle(context.Background(), v.ID)
	if !got.LastSeen.Equal(t0.Add(20 * time.Minute)) {
		t.Errorf("last_seen = %v, want newest time_from", got.LastSeen)
	}
}

func TestIngestDefaultsAndEnvelope(t *testing.T) {
	svc, mem, v, sink := setup(t)

	env := &Envelope{
		IsEngineLocked: ptr(true),
		IPAddress:      "not-an-ip",
		SignalQuality:  ptr(17.0),
		ModemName:      "SIM7600",
		ModemInfo:      "rev 2",
		IMEI:           "356938035643809",
		OperatorName:   "12345",
	}
	b := &Batch{
		Points:   []PointInput{point(v.ID, 1, 1, t0)},
		Envelope: env,
		PublicIP: "203.0.113.9",
	}
	if _, err := svc.Ingest(context.Background(), b); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	p := storedPoints(t, mem, v.ID)[0]
	if p.State != domain.StateMoving {
		t.Errorf("state = %q, want MOVING", p.State)
	}
	if !p.TimeTo.Equal(t0) {
		t.Errorf("time_to = %v, want time_from", p.TimeTo)
	}
	if p.IPAddress != "unknown" {
		t.Errorf("ip_address = %q, want unknown", p.IPAddress)
	}
	if p.PublicIPAddress != "203.0.113.9" {
		t.Errorf("public_ip_address = %q", p.PublicIPAddress)
	}
	if !p.IsEngineLocked || p.SignalStrength != 17 {
		t.Errorf("envelope fields not applied: %+v", p)
	}
	if p.OperatorName != "" {
		t.Errorf("numeric operator name should be dropped, got %q", p.OperatorName)
	}

	got, _ := mem.GetVehicle(context.Background(), v.ID)
	if got.Modem == nil || got.Modem.Name != "SIM7600" || got.Modem.IMEI != "356938035643809" {
		t.Errorf("modem = %+v", got.Modem)
	}
	if len(sink.events) != 1 || sink.events[0].Plate != "KA-01" {
		t.Errorf("sink events = %+v", sink.events)
	}
}

func TestIngestEnvelopeKeepsPointValues(t *testing.T) {
	tests := []struct {
		name     string
		envelope Envelope
		wantIP   string
		wantCCID string
		wantIMEI string
	}{
		{"empty envelope fields", Envelope{IMEI: "356938035643809"}, "10.0.0.5", "8991101200003204510", "356938035643809"},
		{"envelope wins when set", Envelope{IPAddress: "192.168.1.20", CCID: "8991000000000000001"}, "192.168.1.20", "8991000000000000001", "111111111111111"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mem, v, _ := setup(t)
			in := point(v.ID, 1, 1, t0)
			in.IPAddress = "10.0.0.5"
			in.CCID = "8991101200003204510"
			in.IMEI = "111111111111111"
			env := tt.envelope

			if _, err := svc.Ingest(context.Background(), &Batch{Points: []PointInput{in}, Envelope: &env}); err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			p := storedPoints(t, mem, v.ID)[0]
			if p.IPAddress != tt.wantIP || p.CCID != tt.wantCCID || p.IMEI != tt.wantIMEI {
				t.Errorf("ip=%q ccid=%q imei=%q, want %q %q %q", p.IPAddress, p.CCID, p.IMEI, tt.wantIP, tt.wantCCID, tt.wantIMEI)
			}
		})
	}
}

type lockedSink struct {
	mu sync.Mutex
	n  int
}

func (s *lockedSink) DispatchPoint(*domain.PointEvent) {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
}

func TestIngestConcurrentLeadingPointsMergeIntoOneRow(t *testing.T) {
	mem := store.NewMemoryStore()
	v := mem.AddVehicle(&domain.Vehicle{NumberPlate: "KA-01", CompanyID: "c1"})
	sink := &lockedSink{}
	svc := NewService(mem, sink, DefaultMergeRadius, log.NewNopLogger())
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, &Batch{Points: []PointInput{point(v.ID, 12, 77, t0)}}); err != nil {
		t.Fatalf("seed Ingest() error = %v", err)
	}

	const senders = 16
	var (
		wg     sync.WaitGroup
		merged atomic.Int32
	)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Ingest(ctx, &Batch{Points: []PointInput{
				point(v.ID, northOf(12, 2), 77, t0.Add(time.Duration(i+1)*time.Second)),
			}})
			if err != nil {
				t.Errorf("Ingest() error = %v", err)
				return
			}
			if res.Merged {
				merged.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if n := mem.PointCount(v.ID); n != 1 {
		t.Errorf("stored %d rows, want every sender merged into one", n)
	}
	if got := merged.Load(); got != senders {
		t.Errorf("merged = %d, want %d", got, senders)
	}
	if sink.n != senders+1 {
		t.Errorf("dispatched %d events, want %d", sink.n, senders+1)
	}
}

func TestIngestTagsZoneState(t *testing.T) {
	mem := store.NewMemoryStore()
	v := mem.AddVehicle(&domain.Vehicle{
		NumberPlate: "KA-02",
		Geofence: &domain.Geofence{
			ID:       "g1",
			Geometry: []domain.LatLng{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 1, Lng: 0}},
		},
	})
	svc := NewService(mem, nil, DefaultMergeRadius, log.NewNopLogger())

	tests := []struct {
		name      string
		lat, lon  float64
		reported  string
		wantState domain.ZoneState
		wantZone  string
	}{
		{"inside", 0.5, 0.5, "", domain.ZoneIn, ""},
		{"outside", 5, 5, "", domain.ZoneViolation, "g1"},
		{"device says violation", 0.6, 0.6, "VIOLATION", domain.ZoneViolation, "g1"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := point(v.ID, tt.lat, tt.lon, t0.Add(time.Duration(i)*time.Hour))
			in.GeofenceViolationState = tt.reported
			if _, err := svc.Ingest(context.Background(), &Batch{Points: []PointInput{in}}); err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			pts := storedPoints(t, mem, v.ID)
			p := pts[len(pts)-1]
			if p.GeofenceViolationState != tt.wantState || p.GeofenceID != tt.wantZone {
				t.Errorf("state=%q zone=%q, want %q %q", p.GeofenceViolationState, p.GeofenceID, tt.wantState, tt.wantZone)
			}
		})
	}
}

func TestIngestFromDevice(t *testing.T) {
	ctx := context.Background()
	svc, mem, v, _ := setup(t)
	other := mem.AddVehicle(&domain.Vehicle{NumberPlate: "OTHER-1"})

	tests := []struct {
		name       string
		plate      string
		vehicleID  string
		wantStatus int
	}{
		{"inherits device vehicle", v.NumberPlate, "", http.StatusOK},
		{"own vehicle", v.NumberPlate, v.ID, http.StatusOK},
		{"foreign vehicle", v.NumberPlate, other.ID, http.StatusForbidden},
		{"unknown plate", "NOPE", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Batch{Points: []PointInput{point(tt.vehicleID, 1, 2, t0)}}
			_, err := svc.IngestFromDevice(ctx, tt.plate, b)
			if got := domain.HTTPStatus(err); got != tt.wantStatus {
				t.Errorf("IngestFromDevice() error = %v, status %d, want %d", err, got, tt.wantStatus)
			}
		})
	}
}
