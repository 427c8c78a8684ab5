package geo

import (
	"math"
	"testing"

	"bora/internal/types"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: -23.5505, Lng: -46.6333},
			b:         types.Point{Lat: -23.5505, Lng: -46.6333},
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name:      "Sao Paulo Se to Paulista Avenue (~2.5km)",
			a:         types.Point{Lat: -23.5503, Lng: -46.6339},
			b:         types.Point{Lat: -23.5614, Lng: -46.6559},
			wantKm:    2.6,
			tolerance: 0.5,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.a, tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("HaversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	a := types.Point{Lat: 25.0, Lng: 121.0}
	b := types.Point{Lat: 26.0, Lng: 122.0}
	if d1, d2 := HaversineKm(a, b), HaversineKm(b, a); math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestWithinKm(t *testing.T) {
	a := types.Point{Lat: -23.5503, Lng: -46.6339}
	far := types.Point{Lat: -22.9068, Lng: -43.1729}

	if !WithinKm(a, far, 0) {
		t.Error("zero radius should match everything")
	}
	if WithinKm(a, far, 10) {
		t.Error("Rio should not be within 10km of Sao Paulo")
	}
	if !WithinKm(a, a, 0.1) {
		t.Error("a point is always within radius of itself")
	}
}
