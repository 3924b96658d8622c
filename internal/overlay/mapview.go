package overlay

import (
	"image"
	"image/color"
	"math"

	"github.com/veloverlay/api/internal/telemetry"
)

var (
	mapBackground = color.RGBA{20, 20, 20, 160}
	mapBorder     = color.RGBA{255, 255, 255, 255}
	routeColor    = color.RGBA{60, 170, 255, 255}
	markerColor   = color.RGBA{255, 215, 0, 255}
	markerOutline = color.RGBA{0, 0, 0, 255}
)

// project converts a position to Web Mercator world pixels at zoom.
func project(p telemetry.LatLng, zoom int) point {
	size := 256 * math.Exp2(float64(zoom))
	lat := math.Max(-85.05112878, math.Min(85.05112878, p.Lat))
	sin := math.Sin(lat * math.Pi / 180)
	return point{
		X: (p.Lng + 180) / 360 * size,
		Y: (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)) * size,
	}
}

// drawMap renders the route around the current position in a square panel
// anchored at the frame's top-right corner, over the basemap when one was
// loaded and over a dark panel otherwise.
func (r *Renderer) drawMap(s telemetry.Sample, st Settings, w, h int) *image.RGBA {
	if s.Position == nil || len(r.route) == 0 {
		return nil
	}
	fs := r.layout.frameScale(h)
	zoom := fs * st.Scale
	size := math.Round(r.layout.MapSize * zoom)
	if size < 4 {
		return nil
	}

	right := float64(w) - math.Round(r.layout.Margin*fs)
	top := math.Round(r.layout.Margin * fs)
	left := right - size
	bottom := top + size
	tile := image.NewRGBA(image.Rect(int(left), int(top), int(right), int(bottom)))

	fillPolygon(tile, rect(left, top, right, bottom), mapBackground)

	center := project(*s.Position, r.layout.MapZoom)
	cx, cy := left+size/2, top+size/2
	if r.basemap != nil {
		r.basemap.draw(tile, center, zoom, cx, cy)
	}
	toTile := func(p point) point {
		return point{cx + (p.X-center.X)*zoom, cy + (p.Y-center.Y)*zoom}
	}

	// only segments touching the panel are stroked
	reach := r.layout.MapSize * 0.75
	inside := func(p point) bool {
		return math.Abs(p.X-center.X) <= reach && math.Abs(p.Y-center.Y) <= reach
	}
	width := math.Max(1, 3*zoom)
	var run []point
	for i := 1; i < len(r.route); i++ {
		a, b := r.route[i-1], r.route[i]
		if !inside(a) && !inside(b) {
			strokePolyline(tile, run, width, routeColor)
			run = run[:0]
			continue
		}
		if len(run) == 0 {
			run = append(run, toTile(a))
		}
		run = append(run, toTile(b))
	}
	strokePolyline(tile, run, width, routeColor)

	radius := math.Max(4, 6*zoom)
	fillPolygon(tile, circle(cx, cy, radius+math.Max(1, zoom)), markerOutline)
	fillPolygon(tile, circle(cx, cy, radius), markerColor)
	strokeRect(tile, left, top, right, bottom, math.Max(1, 2*zoom), mapBorder)
	return tile
}
