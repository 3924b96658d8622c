package overlay

import (
	"image"
	"image/color"
	"math"

	"github.com/veloverlay/api/internal/telemetry"
)

var (
	profileFill    = color.RGBA{100, 100, 100, 128}
	profileOutline = color.RGBA{255, 255, 255, 255}
	profileMarker  = color.RGBA{255, 215, 0, 255}
)

// minProfileRange keeps flat sections from being stretched to full height.
const minProfileRange = 10.0

// drawElevation renders the profile around the current sample in a strip
// anchored at the frame's bottom-left corner. The current position is always
// at the horizontal center.
func (r *Renderer) drawElevation(s telemetry.Sample, st Settings, w, h int) *image.RGBA {
	if r.track == nil || !r.track.HasElevation() {
		return nil
	}
	window := r.layout.ElevationWindow
	pts := r.track.ElevationWindow(s.Time, window, r.layout.ElevationResolution)
	if len(pts) < 2 {
		return nil
	}

	fs := r.layout.frameScale(h)
	margin := math.Round(r.layout.Margin * fs)
	width := math.Min((float64(w)-2*margin)*st.Scale, float64(w)-margin)
	height := math.Round(r.layout.ElevationHeight * fs * st.Scale)
	if width < 4 || height < 4 {
		return nil
	}
	left := margin
	bottom := float64(h) - margin
	top := bottom - height
	right := left + math.Round(width)
	tile := image.NewRGBA(image.Rect(int(left), int(top), int(right), int(bottom)))

	lo, hi := r.profileRange(pts)

	span := window.Seconds()
	pad := math.Max(1, 2*fs*st.Scale)
	x := func(p telemetry.ElevationPoint) float64 {
		return left + (p.Offset.Seconds()+span)/(2*span)*(right-left)
	}
	y := func(elev float64) float64 {
		v := bottom - pad - (elev-lo)/(hi-lo)*(height-2*pad)
		return math.Max(top+pad, math.Min(bottom-pad, v))
	}

	line := make([]point, len(pts))
	for i, p := range pts {
		line[i] = point{x(p), y(p.Elevation)}
	}
	area := make([]point, 0, len(line)+2)
	area = append(area, line...)
	area = append(area, point{line[len(line)-1].X, bottom}, point{line[0].X, bottom})
	fillPolygon(tile, area, profileFill)
	strokePolyline(tile, line, math.Max(1, 2*fs*st.Scale), profileOutline)

	cx := left + (right-left)/2
	strokePolyline(tile, []point{{cx, top}, {cx, bottom}}, math.Max(1, 2*fs*st.Scale), profileMarker)
	if s.Elevation != nil {
		fillPolygon(tile, circle(cx, y(*s.Elevation), math.Max(3, 5*fs*st.Scale)), profileMarker)
	}
	return tile
}

// profileRange returns the vertical extent of the profile. A window flatter
// than minProfileRange is drawn against the whole track's range when that is
// tall enough, else centred on a minProfileRange band.
func (r *Renderer) profileRange(pts []telemetry.ElevationPoint) (lo, hi float64) {
	lo, hi = pts[0].Elevation, pts[0].Elevation
	for _, p := range pts[1:] {
		lo = math.Min(lo, p.Elevation)
		hi = math.Max(hi, p.Elevation)
	}
	if hi-lo >= minProfileRange {
		return lo, hi
	}
	if r.hasElevRange && r.elevHi-r.elevLo >= minProfileRange {
		return r.elevLo, r.elevHi
	}
	mid := (hi + lo) / 2
	return mid - minProfileRange/2, mid + minProfileRange/2
}
