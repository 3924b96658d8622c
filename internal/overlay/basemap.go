package overlay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/veloverlay/api/internal/telemetry"
)

const tileSize = 256

// stop asking a tile server that failed this many times before any success
const maxLeadingTileFailures = 3

var errNoRoute = errors.New("track has no positions")

// TileFetcher returns one Web Mercator raster tile. Tiles of any pixel size
// are drawn as if they were 256 px.
type TileFetcher interface {
	Tile(ctx context.Context, z, x, y int) (image.Image, error)
}

type tileKey struct{ x, y int }

// Basemap holds the raster tiles along one route at a single zoom level. It
// is read-only once loaded.
type Basemap struct {
	zoom  int
	tiles map[tileKey]image.Image
}

// Len reports how many tiles were loaded.
func (b *Basemap) Len() int {
	if b == nil {
		return 0
	}
	return len(b.tiles)
}

// LoadBasemap fetches, at layout.MapZoom, every tile the map panel can show
// along the track. Tiles are requested in route order, each once, and at most
// maxTiles of them when maxTiles > 0. Failed tiles stay blank; an error is
// returned only when nothing could be loaded.
func LoadBasemap(ctx context.Context, tiles TileFetcher, track *telemetry.Track, layout Layout, maxTiles int) (*Basemap, error) {
	if track == nil || !track.HasPosition() {
		return nil, errNoRoute
	}
	keys := routeTiles(track.Positions(), layout.MapZoom, layout.MapSize*0.75)
	if maxTiles > 0 && len(keys) > maxTiles {
		slog.Warn("basemap truncated", "tiles", len(keys), "max_tiles", maxTiles)
		keys = keys[:maxTiles]
	}

	b := &Basemap{zoom: layout.MapZoom, tiles: make(map[tileKey]image.Image, len(keys))}
	var failures int
	var lastErr error
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		img, err := tiles.Tile(ctx, b.zoom, k.x, k.y)
		if err != nil {
			failures++
			lastErr = err
			if len(b.tiles) == 0 && failures >= maxLeadingTileFailures {
				break
			}
			continue
		}
		b.tiles[k] = img
	}
	if len(b.tiles) == 0 {
		return nil, fmt.Errorf("no basemap tiles: %w", lastErr)
	}
	if failures > 0 {
		slog.Warn("basemap incomplete", "loaded", len(b.tiles), "failed", failures, "error", lastErr)
	}
	return b, nil
}

// routeTiles lists the tiles within reach world pixels of any position.
func routeTiles(positions []telemetry.LatLng, zoom int, reach float64) []tileKey {
	limit := 1 << zoom
	seen := make(map[tileKey]bool)
	var keys []tileKey
	for _, p := range positions {
		c := project(p, zoom)
		x0, x1 := int(math.Floor((c.X-reach)/tileSize)), int(math.Floor((c.X+reach)/tileSize))
		y0, y1 := int(math.Floor((c.Y-reach)/tileSize)), int(math.Floor((c.Y+reach)/tileSize))
		for ty := y0; ty <= y1; ty++ {
			for tx := x0; tx <= x1; tx++ {
				k := tileKey{tx, ty}
				if tx < 0 || ty < 0 || tx >= limit || ty >= limit || seen[k] {
					continue
				}
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// draw paints the tiles visible in dst. center is the world point shown at
// (cx, cy) and scale converts world pixels to dst pixels.
func (b *Basemap) draw(dst *image.RGBA, center point, scale, cx, cy float64) {
	r := dst.Bounds()
	minX := center.X + (float64(r.Min.X)-cx)/scale
	maxX := center.X + (float64(r.Max.X)-cx)/scale
	minY := center.Y + (float64(r.Min.Y)-cy)/scale
	maxY := center.Y + (float64(r.Max.Y)-cy)/scale

	for ty := int(math.Floor(minY / tileSize)); ty <= int(math.Floor(maxY/tileSize)); ty++ {
		for tx := int(math.Floor(minX / tileSize)); tx <= int(math.Floor(maxX/tileSize)); tx++ {
			img, ok := b.tiles[tileKey{tx, ty}]
			if !ok {
				continue
			}
			ib := img.Bounds()
			if ib.Empty() {
				continue
			}
			sx := scale * tileSize / float64(ib.Dx())
			sy := scale * tileSize / float64(ib.Dy())
			ox := cx + (float64(tx*tileSize)-center.X)*scale - sx*float64(ib.Min.X)
			oy := cy + (float64(ty*tileSize)-center.Y)*scale - sy*float64(ib.Min.Y)
			draw.ApproxBiLinear.Transform(dst, f64.Aff3{sx, 0, ox, 0, sy, oy}, img, ib, draw.Over, nil)
		}
	}
}
