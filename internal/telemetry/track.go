package telemetry

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tkrajina/gpxgo/gpx"
	"github.com/veloverlay/api/internal/model"
)

// Options tunes the derived grade metric.
type Options struct {
	GradeWindow      time.Duration
	GradeMinDistance float64 // meters
	GradeClamp       float64 // percent
}

// DefaultOptions returns a 10 s lookback, 5 m minimum distance and ±40 % clamp.
func DefaultOptions() Options {
	return Options{
		GradeWindow:      10 * time.Second,
		GradeMinDistance: 5,
		GradeClamp:       40,
	}
}

// Track is an ordered, immutable sequence of samples. It is safe for
// concurrent reads.
type Track struct {
	samples      []Sample
	opts         Options
	format       model.TelemetryFormat
	hasPosition  bool
	hasElevation bool
	hasDistance  bool
}

// NewTrack sorts samples by time, fills cumulative distance from positions
// when the recorder did not report it, and derives speed when absent.
func NewTrack(samples []Sample, opts Options) (*Track, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no telemetry samples", model.ErrParse)
	}
	for i := range samples {
		if samples[i].Time.IsZero() {
			return nil, fmt.Errorf("%w: sample %d has no timestamp", model.ErrParse, i)
		}
	}

	s := make([]Sample, len(samples))
	copy(s, samples)
	sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })

	if opts.GradeWindow <= 0 {
		opts.GradeWindow = DefaultOptions().GradeWindow
	}
	if opts.GradeClamp <= 0 {
		opts.GradeClamp = DefaultOptions().GradeClamp
	}

	t := &Track{samples: s, opts: opts}
	t.fillDistance()
	t.fillSpeed()
	for i := range s {
		if s[i].Position != nil {
			t.hasPosition = true
		}
		if s[i].Elevation != nil {
			t.hasElevation = true
		}
		if s[i].Distance != nil {
			t.hasDistance = true
		}
	}
	return t, nil
}

// fillDistance makes cumulative distance non-decreasing. Recorded values are
// kept unless they fall below the running total; gaps continue from the last
// known distance by the great-circle step between consecutive positions.
func (t *Track) fillDistance() {
	var total float64
	var known bool
	var prev *LatLng
	for i := range t.samples {
		s := &t.samples[i]
		p := s.Position
		switch {
		case s.Distance != nil:
			total = math.Max(total, *s.Distance)
			known = true
		case p != nil && prev != nil:
			total += gpx.HaversineDistance(prev.Lat, prev.Lng, p.Lat, p.Lng)
		case p != nil:
			known = true
		}
		if p != nil {
			prev = p
		}
		if known {
			s.Distance = ptr(total)
		}
	}
}

func (t *Track) fillSpeed() {
	for i := range t.samples {
		if t.samples[i].Speed != nil {
			return
		}
	}
	for i := 1; i < len(t.samples); i++ {
		a, b := t.samples[i-1], t.samples[i]
		dt := b.Time.Sub(a.Time).Seconds()
		if a.Distance == nil || b.Distance == nil || dt <= 0 {
			continue
		}
		t.samples[i].Speed = ptr(math.Max(0, (*b.Distance-*a.Distance)/dt))
	}
	if len(t.samples) > 1 && t.samples[0].Speed == nil && t.samples[1].Speed != nil {
		t.samples[0].Speed = ptr(0)
	}
}

func (t *Track) Len() int                      { return len(t.samples) }
func (t *Track) Start() time.Time              { return t.samples[0].Time }
func (t *Track) End() time.Time                { return t.samples[len(t.samples)-1].Time }
func (t *Track) Duration() time.Duration       { return t.End().Sub(t.Start()) }
func (t *Track) Format() model.TelemetryFormat { return t.format }
func (t *Track) HasPosition() bool             { return t.hasPosition }
func (t *Track) HasElevation() bool            { return t.hasElevation }

// At returns the i-th stored sample.
func (t *Track) At(i int) Sample { return t.samples[i] }

// Positions returns every recorded position in time order.
func (t *Track) Positions() []LatLng {
	out := make([]LatLng, 0, len(t.samples))
	for i := range t.samples {
		if p := t.samples[i].Position; p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// SampleAt returns the interpolated sample at instant at. Times before the
// first or after the last sample clamp to the boundary sample.
func (t *Track) SampleAt(at time.Time) Sample {
	s := t.interpolate(at)
	s.Grade = t.GradeAt(at)
	return s
}

// SampleAtOffset samples at the given number of seconds after the track start.
func (t *Track) SampleAtOffset(seconds float64) Sample {
	return t.SampleAt(t.offsetTime(seconds))
}

func (t *Track) offsetTime(seconds float64) time.Time {
	return t.Start().Add(time.Duration(math.Round(seconds * float64(time.Second))))
}

func (t *Track) interpolate(at time.Time) Sample {
	n := len(t.samples)
	// first sample strictly after at
	i := sort.Search(n, func(i int) bool { return t.samples[i].Time.After(at) })
	if i == 0 {
		return copySample(t.samples[0])
	}
	if i == n {
		return copySample(t.samples[n-1])
	}

	a, b := t.samples[i-1], t.samples[i]
	ratio := float64(at.Sub(a.Time)) / float64(b.Time.Sub(a.Time))

	return Sample{
		Time:      at,
		Position:  lerpPosition(a.Position, b.Position, ratio),
		Elevation: lerpField(a.Elevation, b.Elevation, ratio),
		Distance:  lerpField(a.Distance, b.Distance, ratio),
		Speed:     lerpField(a.Speed, b.Speed, ratio),
		Power:     lerpField(a.Power, b.Power, ratio),
		Cadence:   lerpField(a.Cadence, b.Cadence, ratio),
		HeartRate: lerpField(a.HeartRate, b.HeartRate, ratio),
	}
}

func copySample(s Sample) Sample {
	out := Sample{
		Time:      s.Time,
		Elevation: clone(s.Elevation),
		Distance:  clone(s.Distance),
		Speed:     clone(s.Speed),
		Power:     clone(s.Power),
		Cadence:   clone(s.Cadence),
		HeartRate: clone(s.HeartRate),
	}
	if s.Position != nil {
		p := *s.Position
		out.Position = &p
	}
	return out
}

// GradeAt returns the road grade in percent over the lookback window ending
// at at. It is zero when too little distance was covered and nil when the
// track has no elevation or distance.
func (t *Track) GradeAt(at time.Time) *float64 {
	if !t.hasElevation || !t.hasDistance {
		return nil
	}
	end := t.interpolate(at)
	start := t.interpolate(at.Add(-t.opts.GradeWindow))
	if end.Elevation == nil || start.Elevation == nil || end.Distance == nil || start.Distance == nil {
		return nil
	}

	dist := *end.Distance - *start.Distance
	if dist < t.opts.GradeMinDistance || dist <= 0 {
		return ptr(0)
	}
	grade := (*end.Elevation - *start.Elevation) / dist * 100
	grade = math.Max(-t.opts.GradeClamp, math.Min(t.opts.GradeClamp, grade))
	return ptr(grade)
}

// ElevationWindow samples n evenly spaced elevation points over
// [at-span, at+span]. Points outside the track are omitted.
func (t *Track) ElevationWindow(at time.Time, span time.Duration, n int) []ElevationPoint {
	if !t.hasElevation || n < 2 || span <= 0 {
		return nil
	}
	from := at.Add(-span)
	step := 2 * span / time.Duration(n-1)
	out := make([]ElevationPoint, 0, n)
	for i := 0; i < n; i++ {
		ts := from.Add(time.Duration(i) * step)
		if ts.Before(t.Start()) || ts.After(t.End()) {
			continue
		}
		s := t.interpolate(ts)
		if s.Elevation == nil {
			continue
		}
		out = append(out, ElevationPoint{Offset: ts.Sub(at), Elevation: *s.Elevation})
	}
	return out
}

// ElevationRange returns the minimum and maximum recorded elevation.
func (t *Track) ElevationRange() (lo, hi float64, ok bool) {
	for i := range t.samples {
		e := t.samples[i].Elevation
		if e == nil {
			continue
		}
		if !ok {
			lo, hi, ok = *e, *e, true
			continue
		}
		lo = math.Min(lo, *e)
		hi = math.Max(hi, *e)
	}
	return lo, hi, ok
}
