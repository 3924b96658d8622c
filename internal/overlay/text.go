package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/telemetry"
)

const (
	metersPerSecondToMPH = 2.2369362920544
	metersPerSecondToKMH = 3.6
)

var (
	parseOnce   sync.Once
	boldFont    *opentype.Font
	regularFont *opentype.Font
	parseErr    error
)

func loadFonts() error {
	parseOnce.Do(func() {
		if boldFont, parseErr = opentype.Parse(gobold.TTF); parseErr != nil {
			return
		}
		regularFont, parseErr = opentype.Parse(goregular.TTF)
	})
	return parseErr
}

type faceKey struct {
	bold bool
	size int // quarter pixels
}

// faceCache holds font faces per size. Faces are not safe for concurrent
// use, so a cache belongs to a single Renderer.
type faceCache map[faceKey]font.Face

func (fc faceCache) face(bold bool, size float64) (font.Face, error) {
	key := faceKey{bold: bold, size: int(math.Round(size * 4))}
	if f, ok := fc[key]; ok {
		return f, nil
	}
	src := regularFont
	if bold {
		src = boldFont
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    float64(key.size) / 4,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: font face: %v", model.ErrRender, err)
	}
	fc[key] = f
	return f, nil
}

// metricText returns the value and label shown for a text element.
func metricText(e Element, s telemetry.Sample, units model.Units) (value, label string) {
	format := func(v *float64, mul float64, layout string) string {
		if v == nil {
			return "--"
		}
		return fmt.Sprintf(layout, *v*mul)
	}
	switch e {
	case Speed:
		if units == model.UnitsMetric {
			return format(s.Speed, metersPerSecondToKMH, "%.0f"), "KM/H"
		}
		return format(s.Speed, metersPerSecondToMPH, "%.0f"), "MPH"
	case Power:
		return format(s.Power, 1, "%.0f"), "W"
	case Cadence:
		return format(s.Cadence, 1, "%.0f"), "RPM"
	case HeartRate:
		return format(s.HeartRate, 1, "%.0f"), "BPM"
	case Gradient:
		return format(s.Grade, 1, "%.1f%%"), "GRADIENT"
	}
	return "", ""
}

var (
	textColor   = color.RGBA{255, 255, 255, 255}
	shadowColor = color.RGBA{0, 0, 0, 170}
	labelColor  = color.RGBA{200, 200, 200, 255}
)

// drawMetric renders one value/label pair anchored at its slot's top-left
// corner. The returned tile is in frame coordinates.
func (r *Renderer) drawMetric(e Element, s telemetry.Sample, st Settings, w, h int) (*image.RGBA, error) {
	fs := r.layout.frameScale(h)
	value, label := metricText(e, s, r.layout.Units)

	valueFace, err := r.faces.face(true, r.layout.ValueSize*st.Scale*fs)
	if err != nil {
		return nil, err
	}
	labelFace, err := r.faces.face(false, r.layout.LabelSize*st.Scale*fs)
	if err != nil {
		return nil, err
	}

	shadow := math.Max(1, math.Round(2*fs*st.Scale))
	valueW := font.MeasureString(valueFace, value).Ceil()
	labelW := font.MeasureString(labelFace, label).Ceil()
	vm, lm := valueFace.Metrics(), labelFace.Metrics()
	valueH := (vm.Ascent + vm.Descent).Ceil()
	labelH := (lm.Ascent + lm.Descent).Ceil()

	x0 := int(math.Round(r.layout.Margin * fs))
	y0 := int(math.Round((r.layout.Margin + float64(metricSlot[e])*r.layout.MetricPitch) * fs))
	tw := max(valueW, labelW) + int(shadow)
	th := valueH + labelH + int(shadow)
	tile := image.NewRGBA(image.Rect(x0, y0, x0+tw, y0+th))

	valueDot := fixed.P(x0, y0+vm.Ascent.Ceil())
	labelDot := fixed.P(x0, y0+valueH+lm.Ascent.Ceil())
	off := fixed.I(int(shadow))

	drawString(tile, valueFace, shadowColor, valueDot.Add(fixed.Point26_6{X: off, Y: off}), value)
	drawString(tile, valueFace, textColor, valueDot, value)
	drawString(tile, labelFace, shadowColor, labelDot.Add(fixed.Point26_6{X: off, Y: off}), label)
	drawString(tile, labelFace, labelColor, labelDot, label)
	return tile, nil
}

func drawString(dst *image.RGBA, face font.Face, c color.Color, dot fixed.Point26_6, s string) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  dot,
	}
	d.DrawString(s)
}
