package geo

import (
	"math"
	"testing"

	"fleet-monitor/telematics/internal/domain"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		wantKm                 float64
		tolerance              float64
	}{
		{"same point", 10, 10, 10, 10, 0, 1e-9},
		{"one degree latitude at equator", 0, 0, 1, 0, 111.195, 0.01},
		{"one degree longitude at equator", 0, 0, 0, 1, 111.195, 0.01},
		{"london to paris", 51.5074, -0.1278, 48.8566, 2.3522, 343.5, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceKm(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("DistanceKm() = %f, want %f", got, tt.wantKm)
			}
			m := DistanceMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(m-got*1000) > 1e-6 {
				t.Errorf("meters and km disagree: %f vs %f", m, got)
			}
		})
	}
}

func TestContains(t *testing.T) {
	square := []domain.LatLng{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 1},
		{Lat: 1, Lng: 1},
		{Lat: 1, Lng: 0},
	}
	tests := []struct {
		name     string
		lat, lon float64
		want     domain.ZoneState
	}{
		{"center", 0.5, 0.5, domain.ZoneIn},
		{"outside east", 0.5, 1.5, domain.ZoneViolation},
		{"outside south", -0.1, 0.5, domain.ZoneViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ZoneState(square, tt.lat, tt.lon); got != tt.want {
				t.Errorf("ZoneState() = %s, want %s", got, tt.want)
			}
		})
	}

	if Contains(square[:2], 0, 0) {
		t.Error("degenerate polygon must not contain points")
	}
}
