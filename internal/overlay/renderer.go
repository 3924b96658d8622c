// Package overlay draws telemetry overlay layers. A layer is a transparent
// RGBA image the size of the video frame, later composited onto the frame.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"

	"github.com/veloverlay/api/internal/model"
	"github.com/veloverlay/api/internal/telemetry"
)

// Renderer draws layers for one track. Rendering is deterministic: the same
// sample, config and size always yield identical pixels.
type Renderer struct {
	mu     sync.Mutex
	track  *telemetry.Track
	layout Layout
	faces  faceCache
	route  []point // positions projected at layout.MapZoom
	// tiles under the route, nil when none were loaded at layout.MapZoom
	basemap *Basemap

	// whole-track elevation bounds, used when a profile window is flat
	elevLo, elevHi float64
	hasElevRange   bool
}

func NewRenderer(track *telemetry.Track, layout Layout) (*Renderer, error) {
	if err := loadFonts(); err != nil {
		return nil, fmt.Errorf("%w: load fonts: %v", model.ErrRender, err)
	}
	r := &Renderer{
		track:  track,
		layout: layout,
		faces:  faceCache{},
	}
	if layout.Basemap.Len() > 0 && layout.Basemap.zoom == layout.MapZoom {
		r.basemap = layout.Basemap
	}
	if track != nil {
		positions := track.Positions()
		r.route = make([]point, len(positions))
		for i, p := range positions {
			r.route[i] = project(p, layout.MapZoom)
		}
		r.elevLo, r.elevHi, r.hasElevRange = track.ElevationRange()
	}
	return r, nil
}

// Render draws every visible element for sample into a new transparent layer
// of w x h pixels. Disabled elements leave their region untouched.
func (r *Renderer) Render(sample telemetry.Sample, cfg Config, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: invalid frame size %dx%d", model.ErrRender, w, h)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	layer := image.NewRGBA(image.Rect(0, 0, w, h))
	for _, e := range Elements() {
		st := cfg.Get(e)
		if !st.visible() {
			continue
		}
		tile, err := r.drawElement(e, sample, st, w, h)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", e, err)
		}
		if tile == nil {
			continue
		}
		var mask image.Image
		if st.Opacity < 1 {
			mask = image.NewUniform(color.Alpha{A: uint8(st.Opacity*255 + 0.5)})
		}
		b := tile.Bounds().Intersect(layer.Bounds())
		draw.DrawMask(layer, b, tile, b.Min, mask, image.Point{}, draw.Over)
	}
	return layer, nil
}

func (r *Renderer) drawElement(e Element, s telemetry.Sample, st Settings, w, h int) (*image.RGBA, error) {
	switch e {
	case Map:
		return r.drawMap(s, st, w, h), nil
	case Elevation:
		return r.drawElevation(s, st, w, h), nil
	default:
		return r.drawMetric(e, s, st, w, h)
	}
}

// Composite draws layer over frame in place. Transparent layer pixels leave
// the frame unchanged.
func Composite(frame *image.RGBA, layer *image.RGBA) {
	if frame == nil || layer == nil {
		return
	}
	b := frame.Bounds().Intersect(layer.Bounds())
	draw.Draw(frame, b, layer, b.Min, draw.Over)
}

// Downscale returns img resized to at most maxWidth pixels wide, preserving
// the aspect ratio. img is returned unchanged when it already fits.
func Downscale(img *image.RGBA, maxWidth int) *image.RGBA {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := max(1, b.Dy()*maxWidth/b.Dx())
	out := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}
