package overlay

import (
	"time"

	"github.com/veloverlay/api/internal/model"
)

// Layout holds the fixed drawing constants. Pixel values are for a 1080 px
// tall frame and scale with the frame height.
type Layout struct {
	Units           model.Units
	ReferenceHeight float64
	Margin          float64
	MetricPitch     float64
	ValueSize       float64
	LabelSize       float64

	MapSize float64
	MapZoom int
	// Basemap is drawn under the route when set; nil keeps the plain panel.
	Basemap *Basemap

	ElevationHeight     float64
	ElevationWindow     time.Duration
	ElevationResolution int
}

func DefaultLayout() Layout {
	return Layout{
		Units:               model.UnitsImperial,
		ReferenceHeight:     1080,
		Margin:              50,
		MetricPitch:         200,
		ValueSize:           80,
		LabelSize:           20,
		MapSize:             300,
		MapZoom:             15,
		ElevationHeight:     150,
		ElevationWindow:     5 * time.Minute,
		ElevationResolution: 240,
	}
}

// metricSlot is the vertical position of each text metric in the stack.
var metricSlot = map[Element]int{
	Speed:     0,
	Power:     1,
	Cadence:   2,
	HeartRate: 3,
	Gradient:  4,
}

func (l Layout) frameScale(h int) float64 {
	if l.ReferenceHeight <= 0 {
		return 1
	}
	return float64(h) / l.ReferenceHeight
}
