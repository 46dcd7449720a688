// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/strata-gis/strata/internal/adapters/catalogdb"
	"github.com/strata-gis/strata/internal/crs"
	"github.com/strata-gis/strata/internal/domain"
	"github.com/strata-gis/strata/internal/envindex"
	"github.com/strata-gis/strata/internal/migrate"
	"github.com/strata-gis/strata/internal/ports/input"
	"github.com/strata-gis/strata/internal/ports/output"
	"github.com/strata-gis/strata/internal/pyramid"
)

// Catalog is the facade composing the CRS registry, envelope index,
// pyramid store and migration engine behind the primary port. All
// spatial state flows through here.
type Catalog struct {
	store   *catalogdb.Store
	crs     *crs.Registry
	index   *envindex.Index
	pyramid *pyramid.Store
	engine  *migrate.Engine
	metrics output.MetricsCollector
	logger  *slog.Logger
	closed  atomic.Bool
}

var _ input.CatalogService = (*Catalog)(nil)

// NewCatalog wires the catalog facade.
func NewCatalog(
	store *catalogdb.Store,
	registry *crs.Registry,
	index *envindex.Index,
	pyr *pyramid.Store,
	engine *migrate.Engine,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *Catalog {
	return &Catalog{
		store:   store,
		crs:     registry,
		index:   index,
		pyramid: pyr,
		engine:  engine,
		metrics: metrics,
		logger:  logger.With("component", "catalog"),
	}
}

// Open rebuilds the in-memory envelope index from the persisted
// envelope entry table. The table is authoritative; the tree is a
// cache.
func (c *Catalog) Open(ctx context.Context) error {
	entries, err := c.store.LoadEnvelopeEntries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.index.Insert(e.OwnerID, e.Envelope); err != nil {
			return fmt.Errorf("rebuilding envelope index: %w", err)
		}
	}

	c.refreshMetrics(ctx)
	c.logger.Info("catalog opened", "envelope_entries", len(entries))
	return nil
}

// Close marks the catalog closed. Calls after Close fail with
// domain.ErrCatalogClosed.
func (c *Catalog) Close() {
	c.closed.Store(true)
	c.logger.Info("catalog closed")
}

// Gate exposes the migration engine's advisory gate.
func (c *Catalog) Gate() *migrate.Gate {
	return c.engine.Gate()
}

// RegisterLayer implements input.CatalogService. The layer's CRS is
// canonicalized and resolved before anything is written; registration
// is structural and consults the migration gate.
func (c *Catalog) RegisterLayer(ctx context.Context, layer domain.Layer) (domain.Layer, error) {
	if err := c.checkOpen(); err != nil {
		return domain.Layer{}, err
	}
	if err := c.engine.Gate().Check(); err != nil {
		return domain.Layer{}, err
	}

	layer.CRS = domain.CanonicalCRS(layer.CRS)
	if err := layer.Validate(); err != nil {
		return domain.Layer{}, err
	}
	if _, err := c.crs.Resolve(layer.CRS); err != nil {
		return domain.Layer{}, err
	}

	version, err := c.engine.Current(ctx)
	if err != nil {
		return domain.Layer{}, err
	}
	now := time.Now().UTC()
	layer.SchemaVersion = version
	layer.CreatedAt = now
	layer.UpdatedAt = now
	layer.IngestComplete = false

	if err := c.store.InsertLayer(ctx, layer); err != nil {
		return domain.Layer{}, err
	}

	c.refreshMetrics(ctx)
	c.logger.Info("layer registered", "layer", layer.ID, "kind", layer.Kind, "crs", layer.CRS)
	return layer, nil
}

// GetLayer implements input.CatalogService.
func (c *Catalog) GetLayer(ctx context.Context, id string) (domain.Layer, error) {
	if err := c.checkOpen(); err != nil {
		return domain.Layer{}, err
	}
	return c.store.GetLayer(ctx, id)
}

// ListLayers implements input.CatalogService.
func (c *Catalog) ListLayers(ctx context.Context) ([]domain.Layer, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.store.ListLayers(ctx)
}

// DropLayer implements input.CatalogService. The layer row, its
// features, tiles and envelope entries go in one transaction; the
// in-memory index is purged afterwards.
func (c *Catalog) DropLayer(ctx context.Context, id string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.engine.Gate().Check(); err != nil {
		return err
	}

	owners, err := c.store.EnvelopeOwnersByLayer(ctx, id)
	if err != nil {
		return err
	}
	if err := c.store.DropLayer(ctx, id); err != nil {
		return err
	}
	for _, owner := range owners {
		c.index.Remove(owner)
	}

	c.refreshMetrics(ctx)
	c.logger.Info("layer dropped", "layer", id, "envelope_entries", len(owners))
	return nil
}

// IngestFeature implements input.CatalogService.
func (c *Catalog) IngestFeature(ctx context.Context, layerID string, feature domain.Feature) (domain.Feature, error) {
	if err := c.checkOpen(); err != nil {
		return domain.Feature{}, err
	}

	layer, err := c.store.GetLayer(ctx, layerID)
	if err != nil {
		return domain.Feature{}, err
	}
	if !layer.IsVector() {
		c.metrics.IncIngestCount(layerID, "feature", false)
		return domain.Feature{}, fmt.Errorf("%w: layer %s is %s", domain.ErrLayerKindMismatch, layerID, layer.Kind)
	}

	feature.LayerID = layerID
	if feature.ID == "" {
		feature.ID = uuid.NewString()
	}
	if err := feature.Validate(); err != nil {
		c.metrics.IncIngestCount(layerID, "feature", false)
		return domain.Feature{}, err
	}

	if err := c.store.InsertFeature(ctx, feature); err != nil {
		c.metrics.IncIngestCount(layerID, "feature", false)
		return domain.Feature{}, err
	}
	if err := c.index.Insert(feature.ID, feature.Envelope); err != nil {
		return domain.Feature{}, err
	}

	c.metrics.IncIngestCount(layerID, "feature", true)
	return feature, nil
}

// IngestTile implements input.CatalogService.
func (c *Catalog) IngestTile(ctx context.Context, key domain.TileKey, payload []byte) (domain.Tile, error) {
	if err := c.checkOpen(); err != nil {
		return domain.Tile{}, err
	}

	layer, err := c.store.GetLayer(ctx, key.LayerID)
	if err != nil {
		return domain.Tile{}, err
	}

	tile, err := c.pyramid.WriteTile(ctx, layer, key, payload)
	if err != nil {
		c.metrics.IncIngestCount(key.LayerID, "tile", false)
		return domain.Tile{}, err
	}

	c.metrics.IncIngestCount(key.LayerID, "tile", true)
	c.metrics.AddTileBytes(key.LayerID, tile.Size)
	return tile, nil
}

// ReadTile implements input.CatalogService.
func (c *Catalog) ReadTile(ctx context.Context, key domain.TileKey) (domain.Tile, error) {
	if err := c.checkOpen(); err != nil {
		return domain.Tile{}, err
	}
	return c.pyramid.ReadTile(ctx, key)
}

// QueryRegion implements input.CatalogService. Vector layers answer
// with features, raster layers with a tile cursor; the envelope index
// pre-filters both paths.
func (c *Catalog) QueryRegion(ctx context.Context, q input.RegionQuery) (input.RegionResult, error) {
	if err := c.checkOpen(); err != nil {
		return input.RegionResult{}, err
	}
	start := time.Now()

	layer, err := c.store.GetLayer(ctx, q.LayerID)
	if err != nil {
		c.metrics.IncQueryCount(q.LayerID, false)
		return input.RegionResult{}, err
	}
	if err := q.Region.Validate(); err != nil {
		c.metrics.IncQueryCount(q.LayerID, false)
		return input.RegionResult{}, err
	}

	result := input.RegionResult{Layer: layer}
	if layer.IsRaster() {
		cursor, err := c.pyramid.QueryRegion(ctx, layer, q.Zoom, q.Region)
		if err != nil {
			c.metrics.IncQueryCount(q.LayerID, false)
			return input.RegionResult{}, err
		}
		result.Tiles = cursor
	} else {
		features, err := c.queryFeatures(ctx, layer, q.Region)
		if err != nil {
			c.metrics.IncQueryCount(q.LayerID, false)
			return input.RegionResult{}, err
		}
		result.Features = features
	}

	c.metrics.IncQueryCount(q.LayerID, true)
	c.metrics.ObserveQueryDuration(q.LayerID, time.Since(start))
	return result, nil
}

// queryFeatures resolves the index pre-filter to exact feature hits.
// Candidate owners from other layers or from tiles are filtered out by
// the fetch.
func (c *Catalog) queryFeatures(ctx context.Context, layer domain.Layer, region domain.Envelope) ([]domain.Feature, error) {
	candidates := c.index.Query(region)
	fetched, err := c.store.FeaturesByIDs(ctx, candidates)
	if err != nil {
		return nil, err
	}

	features := make([]domain.Feature, 0, len(fetched))
	for _, f := range fetched {
		if f.LayerID != layer.ID {
			continue
		}
		if !f.Envelope.Intersects(region) {
			continue
		}
		features = append(features, f)
	}
	return features, nil
}

// FinishIngest implements input.CatalogService. Raster layers must
// satisfy level-0 completeness first; vector layers are marked
// directly.
func (c *Catalog) FinishIngest(ctx context.Context, layerID string, synthesize bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	layer, err := c.store.GetLayer(ctx, layerID)
	if err != nil {
		return err
	}
	if layer.IsRaster() {
		return c.pyramid.FinishIngest(ctx, layer, synthesize)
	}
	return c.store.MarkIngestComplete(ctx, layerID)
}

// MigrateTo implements input.CatalogService.
func (c *Catalog) MigrateTo(ctx context.Context, version int64) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	err := c.engine.MigrateTo(ctx, version)
	c.metrics.IncMigrationCount("forward", err == nil)
	c.refreshMetrics(ctx)
	return err
}

// MigrateUp implements input.CatalogService.
func (c *Catalog) MigrateUp(ctx context.Context) error {
	return c.MigrateTo(ctx, c.engine.Plan().Latest())
}

// RevertTo implements input.CatalogService.
func (c *Catalog) RevertTo(ctx context.Context, version int64) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	err := c.engine.Revert(ctx, version)
	c.metrics.IncMigrationCount("reverse", err == nil)
	c.refreshMetrics(ctx)
	return err
}

// SchemaVersion implements input.CatalogService. Always read from the
// record table, never cached.
func (c *Catalog) SchemaVersion(ctx context.Context) (int64, error) {
	if err := c.checkOpen(); err != nil {
		return domain.Unversioned, err
	}
	return c.engine.Current(ctx)
}

// MigrationRecords implements input.CatalogService.
func (c *Catalog) MigrationRecords(ctx context.Context) ([]domain.MigrationRecord, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.engine.Records(ctx)
}

func (c *Catalog) checkOpen() error {
	if c.closed.Load() {
		return domain.ErrCatalogClosed
	}
	return nil
}

func (c *Catalog) refreshMetrics(ctx context.Context) {
	if layers, err := c.store.ListLayers(ctx); err == nil {
		c.metrics.SetLayersRegistered(len(layers))
	}
	if version, err := c.engine.Current(ctx); err == nil {
		c.metrics.SetSchemaVersion(version)
	}
}
