package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tkrajina/gpxgo/gpx"
	"github.com/veloverlay/api/internal/model"
)

// decodeGPX reads track points (route points as a fallback). Heart rate,
// cadence and power come from Garmin TrackPointExtension style nodes.
func decodeGPX(data []byte) ([]Sample, error) {
	g, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse gpx: %v", model.ErrParse, err)
	}

	var points []gpx.GPXPoint
	for _, trk := range g.Tracks {
		for _, seg := range trk.Segments {
			points = append(points, seg.Points...)
		}
	}
	if len(points) == 0 {
		for _, rte := range g.Routes {
			points = append(points, rte.Points...)
		}
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: gpx has no points", model.ErrParse)
	}

	samples := make([]Sample, 0, len(points))
	for i := range points {
		p := &points[i]
		if p.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: gpx point %d has no time", model.ErrParse, i)
		}
		s := Sample{
			Time:     p.Timestamp.UTC(),
			Position: &LatLng{Lat: p.Latitude, Lng: p.Longitude},
		}
		if p.Elevation.NotNull() {
			s.Elevation = ptr(p.Elevation.Value())
		}
		readExtensions(p.Extensions.Nodes, &s)
		samples = append(samples, s)
	}
	return samples, nil
}

func readExtensions(nodes []gpx.ExtensionNode, s *Sample) {
	for _, n := range nodes {
		if len(n.Nodes) > 0 {
			readExtensions(n.Nodes, s)
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(n.Data), 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(n.XMLName.Local) {
		case "hr", "heartrate":
			s.HeartRate = ptr(v)
		case "cad", "cadence":
			s.Cadence = ptr(v)
		case "power", "watts":
			s.Power = ptr(v)
		case "speed":
			s.Speed = ptr(v)
		}
	}
}
