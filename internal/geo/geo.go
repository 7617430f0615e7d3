package geo

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	EarthRadiusM = 6371008.8 // Mean Earth radius (m)
	MetresPerNM  = 1852.0
	FeetToMetres = 0.3048
)

// DistanceM returns the great-circle distance in metres between two points
func DistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return EarthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceNM returns the great-circle distance in nautical miles
func DistanceNM(lat1, lon1, lat2, lon2 float64) float64 {
	return DistanceM(lat1, lon1, lat2, lon2) / MetresPerNM
}

// BearingDeg returns the initial true bearing from the first point to the second, 0-360
func BearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return normalize(math.Atan2(y, x) * 180 / math.Pi)
}

// MagneticVariation calculates the magnetic declination for a given position and time
// Returns declination in degrees (+East, -West)
func MagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	loc := egm96.NewLocationGeodetic(lat, lon, altFt*FeetToMetres)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// Outside the model's validity window
		return 0.0
	}
	return mag.D()
}

func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Station is the receiver location results are related to
type Station struct {
	Latitude  float64
	Longitude float64
}

// Relative describes a position as seen from the station
type Relative struct {
	DistanceNM      float64 `json:"distance_nm"`
	BearingTrue     float64 `json:"bearing_true"`
	BearingMagnetic float64 `json:"bearing_magnetic"`
	MagneticVar     float64 `json:"magnetic_variation"`
}

// Relate computes distance and bearings from the station to a position
func (s Station) Relate(lat, lon, altFt float64, at time.Time) Relative {
	brg := BearingDeg(s.Latitude, s.Longitude, lat, lon)
	variation := MagneticVariation(lat, lon, altFt, at)
	return Relative{
		DistanceNM:      DistanceNM(s.Latitude, s.Longitude, lat, lon),
		BearingTrue:     brg,
		BearingMagnetic: normalize(brg - variation),
		MagneticVar:     variation,
	}
}
