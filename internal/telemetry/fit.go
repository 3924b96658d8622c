package telemetry

import (
	"fmt"
	"io"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/basetype"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/untyped/mesgnum"
	"github.com/veloverlay/api/internal/model"
)

const semicirclesToDegrees = 180.0 / 2147483648.0

// decodeFIT reads every record message of a FIT activity. Records without a
// valid timestamp make the whole file unusable.
func decodeFIT(r io.Reader) ([]Sample, error) {
	dec := decoder.New(r)

	var samples []Sample
	for dec.Next() {
		fit, err := dec.Decode()
		if err != nil {
			return nil, fmt.Errorf("%w: decode fit: %v", model.ErrParse, err)
		}
		for i := range fit.Messages {
			if fit.Messages[i].Num != mesgnum.Record {
				continue
			}
			rec := mesgdef.NewRecord(&fit.Messages[i])
			if rec.Timestamp.IsZero() {
				return nil, fmt.Errorf("%w: record %d has no timestamp", model.ErrParse, len(samples))
			}
			samples = append(samples, recordSample(rec))
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no record messages in fit file", model.ErrParse)
	}
	return samples, nil
}

// recordSample converts a FIT record to a Sample. Enhanced fields win over
// their 16-bit counterparts.
func recordSample(rec *mesgdef.Record) Sample {
	s := Sample{Time: rec.Timestamp.UTC()}

	if rec.PositionLat != basetype.Sint32Invalid && rec.PositionLong != basetype.Sint32Invalid {
		s.Position = &LatLng{
			Lat: float64(rec.PositionLat) * semicirclesToDegrees,
			Lng: float64(rec.PositionLong) * semicirclesToDegrees,
		}
	}

	switch {
	case rec.EnhancedAltitude != basetype.Uint32Invalid:
		s.Elevation = ptr(float64(rec.EnhancedAltitude)/5 - 500)
	case rec.Altitude != basetype.Uint16Invalid:
		s.Elevation = ptr(float64(rec.Altitude)/5 - 500)
	}

	switch {
	case rec.EnhancedSpeed != basetype.Uint32Invalid:
		s.Speed = ptr(float64(rec.EnhancedSpeed) / 1000)
	case rec.Speed != basetype.Uint16Invalid:
		s.Speed = ptr(float64(rec.Speed) / 1000)
	}

	if rec.Distance != basetype.Uint32Invalid {
		s.Distance = ptr(float64(rec.Distance) / 100)
	}
	if rec.Power != basetype.Uint16Invalid {
		s.Power = ptr(float64(rec.Power))
	}
	if rec.Cadence != basetype.Uint8Invalid {
		s.Cadence = ptr(float64(rec.Cadence))
	}
	if rec.HeartRate != basetype.Uint8Invalid {
		s.HeartRate = ptr(float64(rec.HeartRate))
	}
	return s
}
