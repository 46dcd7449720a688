// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/strata-gis/strata/internal/domain"
	"github.com/strata-gis/strata/internal/pyramid"
)

// RegionQuery describes one spatial query against a layer. Zoom is only
// meaningful for raster layers.
type RegionQuery struct {
	LayerID string
	Region  domain.Envelope
	Zoom    int
}

// RegionResult carries the outcome of a region query. Exactly one of
// Features and Tiles is populated, matching the layer kind.
type RegionResult struct {
	Layer    domain.Layer
	Features []domain.Feature
	Tiles    *pyramid.TileCursor
}

// CatalogService defines the primary port of the spatial catalog.
type CatalogService interface {
	// RegisterLayer creates a new layer after resolving its CRS.
	RegisterLayer(ctx context.Context, layer domain.Layer) (domain.Layer, error)

	// GetLayer returns one layer by identifier.
	GetLayer(ctx context.Context, id string) (domain.Layer, error)

	// ListLayers returns all registered layers.
	ListLayers(ctx context.Context) ([]domain.Layer, error)

	// DropLayer removes a layer with its features, tiles and index
	// entries in a single atomic operation.
	DropLayer(ctx context.Context, id string) error

	// IngestFeature writes a vector feature into a vector layer.
	IngestFeature(ctx context.Context, layerID string, feature domain.Feature) (domain.Feature, error)

	// IngestTile writes a raster tile into a raster layer.
	IngestTile(ctx context.Context, key domain.TileKey, payload []byte) (domain.Tile, error)

	// ReadTile fetches one raster tile.
	ReadTile(ctx context.Context, key domain.TileKey) (domain.Tile, error)

	// QueryRegion lists the layer content intersecting a region.
	QueryRegion(ctx context.Context, q RegionQuery) (RegionResult, error)

	// FinishIngest verifies coverage invariants and marks a layer
	// ingest-complete.
	FinishIngest(ctx context.Context, layerID string, synthesize bool) error

	// MigrateTo advances the catalog schema to the target version.
	MigrateTo(ctx context.Context, version int64) error

	// MigrateUp advances the catalog schema to the latest version.
	MigrateUp(ctx context.Context) error

	// RevertTo walks applied migrations back to the target version.
	RevertTo(ctx context.Context, version int64) error

	// SchemaVersion reads the current schema version from the
	// migration record table.
	SchemaVersion(ctx context.Context) (int64, error)

	// MigrationRecords lists the applied migration records in order.
	MigrationRecords(ctx context.Context) ([]domain.MigrationRecord, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy           bool              // Overall health status
	Ready             bool              // Ready to accept requests
	Layers            int               // Number of registered layers
	SchemaVersion     int64             // Current applied schema version
	MigrationApplying bool              // A migration is mid-flight
	Components        map[string]string // Component statuses
}
