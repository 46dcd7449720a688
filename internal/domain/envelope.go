package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Envelope is an axis-aligned bounding box in the coordinates of its layer's
// reference frame. Min is the lower-left corner, Max the upper-right.
type Envelope struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// NewEnvelope builds an envelope from two corner coordinates in any order.
func NewEnvelope(x1, y1, x2, y2 float64) Envelope {
	return Envelope{
		MinX: math.Min(x1, x2),
		MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2),
		MaxY: math.Max(y1, y2),
	}
}

// EnvelopeFromBound converts an orb.Bound.
func EnvelopeFromBound(b orb.Bound) Envelope {
	return Envelope{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

// EnvelopeOfGeometry computes the bounding envelope of a geometry.
func EnvelopeOfGeometry(g orb.Geometry) Envelope {
	return EnvelopeFromBound(g.Bound())
}

// Bound converts to an orb.Bound.
func (e Envelope) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

// Validate checks that the envelope is well-formed.
func (e Envelope) Validate() error {
	for _, v := range []float64{e.MinX, e.MinY, e.MaxX, e.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{
				Field:      "envelope",
				Value:      e,
				Constraint: "finite coordinates",
				Message:    "envelope coordinates must be finite",
			}
		}
	}
	if e.MinX > e.MaxX || e.MinY > e.MaxY {
		return &ValidationError{
			Field:      "envelope",
			Value:      e,
			Constraint: "min <= max",
			Message:    "envelope min corner must not exceed max corner",
		}
	}
	return nil
}

// Intersects reports whether two envelopes share any point. Touching edges
// count as intersection, matching SQLite R-tree semantics.
func (e Envelope) Intersects(other Envelope) bool {
	return e.MinX <= other.MaxX && e.MaxX >= other.MinX &&
		e.MinY <= other.MaxY && e.MaxY >= other.MinY
}

// Contains reports whether other lies entirely within e.
func (e Envelope) Contains(other Envelope) bool {
	return e.MinX <= other.MinX && e.MaxX >= other.MaxX &&
		e.MinY <= other.MinY && e.MaxY >= other.MaxY
}

// Union returns the smallest envelope covering both e and other.
func (e Envelope) Union(other Envelope) Envelope {
	return Envelope{
		MinX: math.Min(e.MinX, other.MinX),
		MinY: math.Min(e.MinY, other.MinY),
		MaxX: math.Max(e.MaxX, other.MaxX),
		MaxY: math.Max(e.MaxY, other.MaxY),
	}
}

// Area returns the envelope's area.
func (e Envelope) Area() float64 {
	return (e.MaxX - e.MinX) * (e.MaxY - e.MinY)
}

// IsZero reports whether the envelope is the zero value.
func (e Envelope) IsZero() bool {
	return e == Envelope{}
}

// String formats the envelope as [(minx,miny),(maxx,maxy)].
func (e Envelope) String() string {
	return fmt.Sprintf("[(%g,%g),(%g,%g)]", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

// OwnerKind identifies what an envelope index entry belongs to.
type OwnerKind string

const (
	OwnerFeature OwnerKind = "feature"
	OwnerTile    OwnerKind = "tile"
)

// EnvelopeEntry is a persisted envelope index entry. One exists for every
// feature and every non-empty tile, and is removed atomically with its owner.
type EnvelopeEntry struct {
	OwnerID  string    // Feature ID or encoded tile key
	Kind     OwnerKind // feature or tile
	LayerID  string    // Owning layer
	Envelope Envelope  // Bounding box in the layer's frame
}
