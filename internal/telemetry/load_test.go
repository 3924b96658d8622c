package telemetry

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
	"github.com/veloverlay/api/internal/model"
)

const degreesToSemicircles = 2147483648.0 / 180.0

type fitPoint struct {
	offset   time.Duration
	lat, lng float64
	altitude float64 // m
	speed    float64 // m/s
	distance float64 // m
	power    uint16
	hr       uint8
	cadence  uint8
}

func writeFIT(t *testing.T, points []fitPoint) string {
	t.Helper()

	fileID := mesgdef.FileId{
		Type:         typedef.FileActivity,
		Manufacturer: typedef.ManufacturerDevelopment,
		SerialNumber: 12345,
		TimeCreated:  t0,
	}
	fit := proto.FIT{}
	fit.Messages = append(fit.Messages, fileID.ToMesg(nil))

	for _, p := range points {
		rec := mesgdef.NewRecord(nil)
		rec.Timestamp = t0.Add(p.offset)
		rec.PositionLat = int32(p.lat * degreesToSemicircles)
		rec.PositionLong = int32(p.lng * degreesToSemicircles)
		rec.EnhancedAltitude = uint32((p.altitude + 500) * 5)
		rec.EnhancedSpeed = uint32(p.speed * 1000)
		rec.Distance = uint32(p.distance * 100)
		rec.Power = p.power
		rec.HeartRate = p.hr
		rec.Cadence = p.cadence
		fit.Messages = append(fit.Messages, rec.ToMesg(nil))
	}

	var buf bytes.Buffer
	if err := encoder.New(&buf).Encode(&fit); err != nil {
		t.Fatalf("encode fit: %v", err)
	}

	path := filepath.Join(t.TempDir(), "ride.fit")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFIT(t *testing.T) {
	path := writeFIT(t, []fitPoint{
		{offset: 0, lat: 45, lng: 7, altitude: 120, speed: 5, distance: 0, power: 100, hr: 120, cadence: 80},
		{offset: 10 * time.Second, lat: 45.001, lng: 7.001, altitude: 130, speed: 7, distance: 60, power: 110, hr: 130, cadence: 90},
	})

	tr, err := Load(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tr.Len() != 2 {
		t.Fatalf("expected 2 samples, got %d", tr.Len())
	}
	if tr.Format() != model.TelemetryFormatFIT {
		t.Errorf("expected fit format, got %s", tr.Format())
	}
	if !tr.Start().Equal(t0) {
		t.Errorf("expected start %v, got %v", t0, tr.Start())
	}

	first := tr.At(0)
	if first.Position == nil || math.Abs(first.Position.Lat-45) > 1e-6 || math.Abs(first.Position.Lng-7) > 1e-6 {
		t.Errorf("unexpected position %+v", first.Position)
	}
	if first.Elevation == nil || math.Abs(*first.Elevation-120) > 0.2 {
		t.Errorf("expected elevation 120, got %v", first.Elevation)
	}
	if first.Speed == nil || math.Abs(*first.Speed-5) > 1e-3 {
		t.Errorf("expected speed 5, got %v", first.Speed)
	}

	mid := tr.SampleAt(t0.Add(5 * time.Second))
	if math.Abs(*mid.Power-105) > 1e-9 {
		t.Errorf("expected interpolated power 105, got %v", *mid.Power)
	}
	if math.Abs(*mid.HeartRate-125) > 1e-9 || math.Abs(*mid.Cadence-85) > 1e-9 {
		t.Errorf("unexpected hr/cadence %v/%v", *mid.HeartRate, *mid.Cadence)
	}
	if math.Abs(*mid.Distance-30) > 0.01 {
		t.Errorf("expected distance 30, got %v", *mid.Distance)
	}
}

func TestLoadFITMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.fit")
	if err := os.WriteFile(path, []byte("this is not a fit file at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path, DefaultOptions()); !errors.Is(err, model.ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

const gpxDoc = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1"
     xmlns:gpxtpx="http://www.garmin.com/xmlschemas/TrackPointExtension/v1">
  <trk><trkseg>
    <trkpt lat="45.0" lon="7.0">
      <ele>100</ele>
      <time>2024-05-01T10:00:00Z</time>
      <extensions><gpxtpx:TrackPointExtension><gpxtpx:hr>140</gpxtpx:hr><gpxtpx:cad>85</gpxtpx:cad></gpxtpx:TrackPointExtension></extensions>
    </trkpt>
    <trkpt lat="45.001" lon="7.0">
      <ele>104</ele>
      <time>2024-05-01T10:00:20Z</time>
      <extensions><gpxtpx:TrackPointExtension><gpxtpx:hr>150</gpxtpx:hr><gpxtpx:cad>95</gpxtpx:cad></gpxtpx:TrackPointExtension></extensions>
    </trkpt>
  </trkseg></trk>
</gpx>`

func TestLoadGPX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ride.gpx")
	if err := os.WriteFile(path, []byte(gpxDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	tr, err := Load(path, DefaultOptions())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tr.Len() != 2 || tr.Format() != model.TelemetryFormatGPX {
		t.Fatalf("unexpected track: len=%d format=%s", tr.Len(), tr.Format())
	}
	if !tr.HasPosition() || !tr.HasElevation() {
		t.Error("expected positions and elevation")
	}

	s := tr.SampleAt(t0.Add(10 * time.Second))
	if s.Elevation == nil || math.Abs(*s.Elevation-102) > 1e-9 {
		t.Errorf("expected elevation 102, got %v", s.Elevation)
	}
	if s.HeartRate == nil || math.Abs(*s.HeartRate-145) > 1e-9 {
		t.Errorf("expected heart rate 145, got %v", s.HeartRate)
	}
	if s.Speed == nil || *s.Speed <= 0 {
		t.Errorf("expected derived speed, got %v", s.Speed)
	}
}

func TestLoadGPXMissingTime(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk><trkseg><trkpt lat="45.0" lon="7.0"><ele>100</ele></trkpt></trkseg></trk>
</gpx>`
	path := filepath.Join(t.TempDir(), "notime.gpx")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path, DefaultOptions()); !errors.Is(err, model.ErrParse) {
		t.Errorf("expected ErrParse for missing timestamps, got %v", err)
	}
}

func TestLoadInputErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.fit"), DefaultOptions()); !errors.Is(err, model.ErrInput) {
		t.Errorf("missing file: expected ErrInput, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "ride.csv")
	if err := os.WriteFile(path, []byte("a,b"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, DefaultOptions()); !errors.Is(err, model.ErrInput) {
		t.Errorf("unknown format: expected ErrInput, got %v", err)
	}
}
