package overlay

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/vector"
)

type point struct{ X, Y float64 }

// fillPolygon fills a closed polygon given in dst coordinates.
func fillPolygon(dst *image.RGBA, pts []point, c color.Color) {
	if len(pts) < 3 {
		return
	}
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	ox, oy := float64(b.Min.X), float64(b.Min.Y)
	z.MoveTo(float32(pts[0].X-ox), float32(pts[0].Y-oy))
	for _, p := range pts[1:] {
		z.LineTo(float32(p.X-ox), float32(p.Y-oy))
	}
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(c), image.Point{})
}

// strokePolyline draws connected segments of the given width. Each segment
// is a quad wound the same way so overlaps never cancel.
func strokePolyline(dst *image.RGBA, pts []point, width float64, c color.Color) {
	if len(pts) < 2 || width <= 0 {
		return
	}
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	ox, oy := float64(b.Min.X), float64(b.Min.Y)
	half := width / 2
	minX, minY := float64(b.Min.X)-width, float64(b.Min.Y)-width
	maxX, maxY := float64(b.Max.X)+width, float64(b.Max.Y)+width
	drawn := false
	for i := 1; i < len(pts); i++ {
		p0, p1, ok := clipSegment(pts[i-1], pts[i], minX, minY, maxX, maxY)
		if !ok {
			continue
		}
		dx, dy := p1.X-p0.X, p1.Y-p0.Y
		l := math.Hypot(dx, dy)
		if l == 0 {
			continue
		}
		nx, ny := -dy/l*half, dx/l*half
		z.MoveTo(float32(p0.X+nx-ox), float32(p0.Y+ny-oy))
		z.LineTo(float32(p1.X+nx-ox), float32(p1.Y+ny-oy))
		z.LineTo(float32(p1.X-nx-ox), float32(p1.Y-ny-oy))
		z.LineTo(float32(p0.X-nx-ox), float32(p0.Y-ny-oy))
		z.ClosePath()
		drawn = true
	}
	if drawn {
		z.Draw(dst, b, image.NewUniform(c), image.Point{})
	}
}

// clipSegment clips a segment to a rectangle (Liang-Barsky).
func clipSegment(p0, p1 point, minX, minY, maxX, maxY float64) (point, point, bool) {
	dx, dy := p1.X-p0.X, p1.Y-p0.Y
	t0, t1 := 0.0, 1.0
	for _, e := range [4][2]float64{
		{-dx, p0.X - minX},
		{dx, maxX - p0.X},
		{-dy, p0.Y - minY},
		{dy, maxY - p0.Y},
	} {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return p0, p1, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return p0, p1, false
			}
			t0 = math.Max(t0, t)
		} else {
			if t < t0 {
				return p0, p1, false
			}
			t1 = math.Min(t1, t)
		}
	}
	return point{p0.X + t0*dx, p0.Y + t0*dy}, point{p0.X + t1*dx, p0.Y + t1*dy}, true
}

// circle approximates a disc with a regular polygon.
func circle(cx, cy, r float64) []point {
	const n = 32
	pts := make([]point, n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / n
		pts[i] = point{cx + r*math.Cos(a), cy + r*math.Sin(a)}
	}
	return pts
}

func rect(x0, y0, x1, y1 float64) []point {
	return []point{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

// strokeRect outlines a rectangle inside its bounds.
func strokeRect(dst *image.RGBA, x0, y0, x1, y1, width float64, c color.Color) {
	h := width / 2
	strokePolyline(dst, []point{
		{x0 + h, y0 + h}, {x1 - h, y0 + h}, {x1 - h, y1 - h}, {x0 + h, y1 - h}, {x0 + h, y0},
	}, width, c)
}
