package pyramid

import (
	"math"

	"github.com/strata-gis/strata/internal/domain"
)

// Grid maps tile coordinates onto a layer footprint. Zoom z divides the
// footprint into a 2^z by 2^z grid; zoom 0 is a single tile covering the
// whole footprint. Row 0 is the northernmost row, matching the usual
// z/x/y tiling orientation.
type Grid struct {
	footprint domain.Envelope
}

// NewGrid builds the pyramid grid over a raster layer's footprint.
func NewGrid(footprint domain.Envelope) Grid {
	return Grid{footprint: footprint}
}

// Footprint returns the envelope the grid tiles.
func (g Grid) Footprint() domain.Envelope {
	return g.footprint
}

// Size returns the number of tiles along each axis at a zoom level.
func (g Grid) Size(zoom int) int {
	return 1 << uint(zoom)
}

// TileEnvelope computes the region a tile cell covers.
func (g Grid) TileEnvelope(key domain.TileKey) domain.Envelope {
	n := float64(g.Size(key.Zoom))
	w := (g.footprint.MaxX - g.footprint.MinX) / n
	h := (g.footprint.MaxY - g.footprint.MinY) / n

	minX := g.footprint.MinX + float64(key.Col)*w
	maxY := g.footprint.MaxY - float64(key.Row)*h
	return domain.Envelope{
		MinX: minX,
		MinY: maxY - h,
		MaxX: minX + w,
		MaxY: maxY,
	}
}

// TileRange lists the cell coordinate bounds whose tiles intersect the
// region at a zoom level. ok is false when the region misses the
// footprint entirely.
func (g Grid) TileRange(zoom int, region domain.Envelope) (colMin, colMax, rowMin, rowMax int, ok bool) {
	if !g.footprint.Intersects(region) {
		return 0, 0, 0, 0, false
	}
	n := g.Size(zoom)
	w := (g.footprint.MaxX - g.footprint.MinX) / float64(n)
	h := (g.footprint.MaxY - g.footprint.MinY) / float64(n)

	colMin = clamp(int(math.Floor((region.MinX-g.footprint.MinX)/w)), 0, n-1)
	colMax = clamp(int(math.Floor((region.MaxX-g.footprint.MinX)/w)), 0, n-1)
	rowMin = clamp(int(math.Floor((g.footprint.MaxY-region.MaxY)/h)), 0, n-1)
	rowMax = clamp(int(math.Floor((g.footprint.MaxY-region.MinY)/h)), 0, n-1)
	return colMin, colMax, rowMin, rowMax, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
