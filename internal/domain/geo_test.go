package domain

import (
	"math"
	"testing"
)

func TestDistanceMetersKnownPair(t *testing.T) {
	// Nairobi CBD to Thika town, roughly 37.5 km apart.
	nairobi := GeoPoint{Latitude: -1.286389, Longitude: 36.817223}
	thika := GeoPoint{Latitude: -1.0333, Longitude: 37.0693}

	got := DistanceMeters(nairobi, thika)
	if math.Abs(got-37500) > 1500 {
		t.Fatalf("distance = %.0f m, want about 37500 m", got)
	}
}

func TestDistanceMetersZero(t *testing.T) {
	p := GeoPoint{Latitude: 10.5, Longitude: -3.25}
	if got := DistanceMeters(p, p); got != 0 {
		t.Fatalf("distance to self = %f, want 0", got)
	}
}

func TestWithinRadius(t *testing.T) {
	center := GeoPoint{Latitude: 0, Longitude: 0}
	near := GeoPoint{Latitude: 0.01, Longitude: 0}

	if !WithinRadius(center, near, 5000) {
		t.Fatalf("expected point ~1.1 km away to be within 5 km")
	}
	if WithinRadius(center, near, 500) {
		t.Fatalf("expected point ~1.1 km away to be outside 500 m")
	}
	if WithinRadius(center, near, 0) {
		t.Fatalf("non-positive radius must never match")
	}
}
