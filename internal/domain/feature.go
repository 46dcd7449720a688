package domain

import (
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Feature is a vector record owned by exactly one layer. The geometry is
// stored as an opaque WKB blob alongside its cached envelope; attribute
// order is not significant.
type Feature struct {
	ID         string                 // Feature identifier
	LayerID    string                 // Owning layer
	Geometry   []byte                 // WKB-encoded geometry
	Envelope   Envelope               // Cached bounding envelope
	Attributes map[string]interface{} // Attribute mapping
}

// NewFeature builds a feature with a fresh identifier and the geometry's
// envelope cached.
func NewFeature(layerID string, geom orb.Geometry, wkb []byte, attrs map[string]interface{}) Feature {
	return Feature{
		ID:         uuid.NewString(),
		LayerID:    layerID,
		Geometry:   wkb,
		Envelope:   EnvelopeOfGeometry(geom),
		Attributes: attrs,
	}
}

// Validate checks the feature's fields.
func (f *Feature) Validate() error {
	if f.LayerID == "" {
		return &ValidationError{
			Field:      "layer_id",
			Value:      f.LayerID,
			Constraint: "non-empty",
			Message:    "feature must belong to a layer",
		}
	}
	if len(f.Geometry) == 0 {
		return &ValidationError{
			Field:      "geometry",
			Value:      nil,
			Constraint: "non-empty",
			Message:    "feature geometry is required",
		}
	}
	return f.Envelope.Validate()
}
