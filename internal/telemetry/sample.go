package telemetry

import "time"

// LatLng is a WGS84 position in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Sample is one telemetry record. Metric fields are optional; a nil pointer
// means the recorder did not report the value.
//
// Units: elevation and distance in meters, speed in m/s, power in watts,
// cadence in rpm, heart rate in bpm. Grade is a percentage derived from
// elevation and distance over a lookback window; it is never read from file.
type Sample struct {
	Time      time.Time `json:"time"`
	Position  *LatLng   `json:"position,omitempty"`
	Elevation *float64  `json:"elevation,omitempty"`
	Distance  *float64  `json:"distance,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Power     *float64  `json:"power,omitempty"`
	Cadence   *float64  `json:"cadence,omitempty"`
	HeartRate *float64  `json:"heartRate,omitempty"`
	Grade     *float64  `json:"grade,omitempty"`
}

// ElevationPoint is one point of the elevation profile window, positioned
// relative to the sample time it was built around.
type ElevationPoint struct {
	Offset    time.Duration
	Elevation float64
}

func ptr(v float64) *float64 { return &v }

// lerpField interpolates an optional field. When one side is missing the
// value from the nearer sample is used.
func lerpField(a, b *float64, ratio float64) *float64 {
	switch {
	case a != nil && b != nil:
		return ptr(*a + (*b-*a)*ratio)
	case ratio < 0.5:
		return clone(a)
	default:
		return clone(b)
	}
}

func clone(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return ptr(*v)
}

func lerpPosition(a, b *LatLng, ratio float64) *LatLng {
	switch {
	case a != nil && b != nil:
		return &LatLng{
			Lat: a.Lat + (b.Lat-a.Lat)*ratio,
			Lng: a.Lng + (b.Lng-a.Lng)*ratio,
		}
	case ratio < 0.5 && a != nil:
		p := *a
		return &p
	case ratio >= 0.5 && b != nil:
		p := *b
		return &p
	}
	return nil
}
