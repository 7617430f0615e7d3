package geo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		wantNM                 float64
		tolerance              float64
	}{
		{"same point", 51.47, -0.45, 51.47, -0.45, 0, 1e-9},
		{"one degree of latitude", 10, 20, 11, 20, 60.04, 0.05},
		{"heathrow to schiphol", 51.4700, -0.4543, 52.3086, 4.7639, 199.76, 0.05},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceNM(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.wantNM, got, tt.tolerance)
		})
	}
}

func TestBearing(t *testing.T) {
	assert.InDelta(t, 0, BearingDeg(10, 20, 11, 20), 1e-6)
	assert.InDelta(t, 90, BearingDeg(0, 0, 0, 1), 1e-6)
	assert.InDelta(t, 180, BearingDeg(11, 20, 10, 20), 1e-6)
	assert.InDelta(t, 270, BearingDeg(0, 1, 0, 0), 1e-6)
}

func TestMagneticVariation(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	// Eastern Canada has a strongly westerly declination
	toronto := MagneticVariation(43.68, -79.63, 0, at)
	assert.Less(t, toronto, -5.0)
	assert.Greater(t, toronto, -15.0)

	got := Station{Latitude: 43.68, Longitude: -79.63}.Relate(44.68, -79.63, 0, at)
	assert.InDelta(t, 60.04, got.DistanceNM, 0.01)
	assert.InDelta(t, 0, math.Mod(got.BearingTrue+360, 360), 1e-6)
	assert.InDelta(t, -got.MagneticVar, got.BearingMagnetic, 1e-6)
}
