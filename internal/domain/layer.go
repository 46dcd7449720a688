package domain

import (
	"strings"
	"time"
)

// LayerKind distinguishes vector and raster layers.
type LayerKind string

const (
	LayerKindVector LayerKind = "vector"
	LayerKindRaster LayerKind = "raster"
)

// Valid reports whether the kind is one of the known values.
func (k LayerKind) Valid() bool {
	return k == LayerKindVector || k == LayerKindRaster
}

// Layer is a named collection of either vector features or raster coverage.
type Layer struct {
	ID             string    // Unique identifier
	Kind           LayerKind // vector or raster
	CRS            string    // CRS identifier (e.g. "EPSG:4326")
	SchemaVersion  int64     // Catalog schema version at creation
	Envelope       Envelope  // Bounding envelope, lazily maintained
	Footprint      Envelope  // Declared footprint (raster layers)
	IngestComplete bool      // Level-0 completeness verified (raster layers)
	CreatedAt      time.Time // Registration timestamp
	UpdatedAt      time.Time // Last ingest timestamp
}

// IsVector reports whether the layer holds vector features.
func (l *Layer) IsVector() bool {
	return l.Kind == LayerKindVector
}

// IsRaster reports whether the layer holds raster coverage.
func (l *Layer) IsRaster() bool {
	return l.Kind == LayerKindRaster
}

// Validate checks the layer's registration fields.
func (l *Layer) Validate() error {
	if l.ID == "" {
		return &ValidationError{
			Field:      "id",
			Value:      l.ID,
			Constraint: "non-empty",
			Message:    "layer identifier is required",
		}
	}
	if strings.ContainsRune(l.ID, '/') {
		return &ValidationError{
			Field:      "id",
			Value:      l.ID,
			Constraint: "no '/'",
			Message:    "layer identifier may not contain a slash, it is reserved for tile keys",
		}
	}
	if !l.Kind.Valid() {
		return &ValidationError{
			Field:      "kind",
			Value:      string(l.Kind),
			Constraint: "vector|raster",
			Message:    "unknown layer kind",
		}
	}
	if l.CRS == "" {
		return &ValidationError{
			Field:      "crs",
			Value:      l.CRS,
			Constraint: "non-empty",
			Message:    "layer CRS identifier is required",
		}
	}
	if l.IsRaster() {
		if err := l.Footprint.Validate(); err != nil {
			return err
		}
		if l.Footprint.Area() == 0 {
			return &ValidationError{
				Field:      "footprint",
				Value:      l.Footprint,
				Constraint: "positive area",
				Message:    "raster layers must declare a non-degenerate footprint",
			}
		}
	}
	return nil
}
