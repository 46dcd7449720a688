package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/strata-gis/strata/internal/adapters/catalogdb"
	"github.com/strata-gis/strata/internal/adapters/rastercodec"
	"github.com/strata-gis/strata/internal/crs"
	"github.com/strata-gis/strata/internal/domain"
	"github.com/strata-gis/strata/internal/envindex"
	"github.com/strata-gis/strata/internal/migrate"
	"github.com/strata-gis/strata/internal/ports/input"
	"github.com/strata-gis/strata/internal/ports/output"
	"github.com/strata-gis/strata/internal/pyramid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog(t *testing.T) (*Catalog, *catalogdb.Store) {
	t.Helper()
	ctx := context.Background()

	store, err := catalogdb.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	engine := migrate.NewEngine(store.DB(), catalogdb.MigrationPlan(), discardLogger())
	if err := engine.MigrateUp(ctx); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}
	return catalogOver(t, store), store
}

// catalogOver wires a facade over an already opened store, rebuilding
// the envelope index from the envelope entry table.
func catalogOver(t *testing.T, store *catalogdb.Store) *Catalog {
	t.Helper()

	logger := discardLogger()
	index := envindex.New()
	engine := migrate.NewEngine(store.DB(), catalogdb.MigrationPlan(), logger)
	pyr := pyramid.NewStore(store, index, rastercodec.New(), logger)

	catalog := NewCatalog(store, crs.NewRegistry(nil), index, pyr, engine, &output.NoOpMetrics{}, logger)
	if err := catalog.Open(context.Background()); err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	return catalog
}

func vectorFeature(t *testing.T, layerID string, env domain.Envelope, attrs map[string]interface{}) domain.Feature {
	t.Helper()

	geom := orb.Polygon{{
		{env.MinX, env.MinY}, {env.MaxX, env.MinY},
		{env.MaxX, env.MaxY}, {env.MinX, env.MaxY},
		{env.MinX, env.MinY},
	}}
	encoded, err := wkb.Marshal(geom)
	if err != nil {
		t.Fatalf("encoding geometry: %v", err)
	}
	return domain.NewFeature(layerID, geom, encoded, attrs)
}

func rasterPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := rastercodec.New().Encode(domain.ZeroBlock(4, 4))
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestRegisterAndQueryVectorLayer(t *testing.T) {
	catalog, _ := testCatalog(t)
	ctx := context.Background()

	registered, err := catalog.RegisterLayer(ctx, domain.Layer{
		ID:   "roads",
		Kind: domain.LayerKindVector,
		CRS:  "4326",
	})
	if err != nil {
		t.Fatalf("RegisterLayer: %v", err)
	}
	if registered.CRS != "EPSG:4326" {
		t.Errorf("CRS = %q, want canonical EPSG:4326", registered.CRS)
	}
	if registered.SchemaVersion != catalogdb.MigrationPlan().Latest() {
		t.Errorf("SchemaVersion = %d, want current schema version", registered.SchemaVersion)
	}

	feature, err := catalog.IngestFeature(ctx, "roads",
		vectorFeature(t, "roads", domain.NewEnvelope(-1, -1, 1, 1), map[string]interface{}{"name": "A1"}))
	if err != nil {
		t.Fatalf("IngestFeature: %v", err)
	}

	hit, err := catalog.QueryRegion(ctx, input.RegionQuery{
		LayerID: "roads",
		Region:  domain.NewEnvelope(0, 0, 2, 2),
	})
	if err != nil {
		t.Fatalf("QueryRegion: %v", err)
	}
	if len(hit.Features) != 1 || hit.Features[0].ID != feature.ID {
		t.Errorf("overlapping query returned %v, want the ingested feature", hit.Features)
	}

	miss, err := catalog.QueryRegion(ctx, input.RegionQuery{
		LayerID: "roads",
		Region:  domain.NewEnvelope(5, 5, 6, 6),
	})
	if err != nil {
		t.Fatalf("QueryRegion: %v", err)
	}
	if len(miss.Features) != 0 {
		t.Errorf("disjoint query returned %v, want none", miss.Features)
	}
}

func TestRegisterLayerUnknownCRS(t *testing.T) {
	catalog, _ := testCatalog(t)

	_, err := catalog.RegisterLayer(context.Background(), domain.Layer{
		ID:   "mystery",
		Kind: domain.LayerKindVector,
		CRS:  "EPSG:999999",
	})
	if !errors.Is(err, domain.ErrUnknownCRS) {
		t.Errorf("error = %v, want ErrUnknownCRS", err)
	}
}

func TestRegisterLayerTwice(t *testing.T) {
	catalog, _ := testCatalog(t)
	ctx := context.Background()

	layer := domain.Layer{ID: "roads", Kind: domain.LayerKindVector, CRS: "EPSG:4326"}
	if _, err := catalog.RegisterLayer(ctx, layer); err != nil {
		t.Fatal(err)
	}
	_, err := catalog.RegisterLayer(ctx, layer)
	if !errors.Is(err, domain.ErrLayerExists) {
		t.Errorf("error = %v, want ErrLayerExists", err)
	}
}

func TestLayerKindMismatch(t *testing.T) {
	catalog, _ := testCatalog(t)
	ctx := context.Background()

	if _, err := catalog.RegisterLayer(ctx, domain.Layer{
		ID: "dem", Kind: domain.LayerKindRaster, CRS: "EPSG:4326",
		Footprint: domain.NewEnvelope(0, 0, 100, 100),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := catalog.RegisterLayer(ctx, domain.Layer{
		ID: "roads", Kind: domain.LayerKindVector, CRS: "EPSG:4326",
	}); err != nil {
		t.Fatal(err)
	}

	_, err := catalog.IngestFeature(ctx, "dem",
		vectorFeature(t, "dem", domain.NewEnvelope(0, 0, 1, 1), nil))
	if !errors.Is(err, domain.ErrLayerKindMismatch) {
		t.Errorf("feature into raster layer: error = %v, want ErrLayerKindMismatch", err)
	}

	_, err = catalog.IngestTile(ctx,
		domain.TileKey{LayerID: "roads", Zoom: 0, Col: 0, Row: 0}, rasterPayload(t))
	if !errors.Is(err, domain.ErrLayerKindMismatch) {
		t.Errorf("tile into vector layer: error = %v, want ErrLayerKindMismatch", err)
	}
}

func TestRasterIngestAndQuery(t *testing.T) {
	catalog, _ := testCatalog(t)
	ctx := context.Background()

	if _, err := catalog.RegisterLayer(ctx, domain.Layer{
		ID: "dem", Kind: domain.LayerKindRaster, CRS: "EPSG:25832",
		Footprint: domain.NewEnvelope(0, 0, 100, 100),
	}); err != nil {
		t.Fatal(err)
	}

	payload := rasterPayload(t)
	key := domain.TileKey{LayerID: "dem", Zoom: 2, Col: 3, Row: 1}
	written, err := catalog.IngestTile(ctx, key, payload)
	if err != nil {
		t.Fatalf("IngestTile: %v", err)
	}

	read, err := catalog.ReadTile(ctx, key)
	if err != nil {
		t.Fatalf("ReadTile: %v", err)
	}
	if read.Checksum != written.Checksum {
		t.Errorf("Checksum = %x, want %x", read.Checksum, written.Checksum)
	}

	result, err := catalog.QueryRegion(ctx, input.RegionQuery{
		LayerID: "dem",
		Zoom:    2,
		Region:  domain.NewEnvelope(80, 55, 95, 70),
	})
	if err != nil {
		t.Fatalf("QueryRegion: %v", err)
	}
	if result.Tiles == nil || result.Tiles.Len() != 1 {
		t.Fatalf("raster query cursor = %v, want one tile", result.Tiles)
	}
	tile, ok, err := result.Tiles.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next = ok %v, err %v", ok, err)
	}
	if tile.Key != key {
		t.Errorf("tile = %v, want %v", tile.Key, key)
	}
}

func TestDropLayerRemovesEverything(t *testing.T) {
	catalog, store := testCatalog(t)
	ctx := context.Background()

	for _, id := range []string{"roads", "rivers"} {
		if _, err := catalog.RegisterLayer(ctx, domain.Layer{
			ID: id, Kind: domain.LayerKindVector, CRS: "EPSG:4326",
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := catalog.IngestFeature(ctx, id,
			vectorFeature(t, id, domain.NewEnvelope(0, 0, 1, 1), nil)); err != nil {
			t.Fatal(err)
		}
	}

	if err := catalog.DropLayer(ctx, "roads"); err != nil {
		t.Fatalf("DropLayer: %v", err)
	}

	if _, err := catalog.GetLayer(ctx, "roads"); !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("dropped layer still resolvable: %v", err)
	}

	result, err := catalog.QueryRegion(ctx, input.RegionQuery{
		LayerID: "rivers",
		Region:  domain.NewEnvelope(0, 0, 1, 1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Features) != 1 {
		t.Errorf("sibling layer lost features on drop: %v", result.Features)
	}

	entries, err := store.LoadEnvelopeEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.LayerID == "roads" {
			t.Errorf("stale envelope entry for dropped layer: %+v", e)
		}
	}
}

func TestIndexRebuiltOnOpen(t *testing.T) {
	catalog, store := testCatalog(t)
	ctx := context.Background()

	if _, err := catalog.RegisterLayer(ctx, domain.Layer{
		ID: "roads", Kind: domain.LayerKindVector, CRS: "EPSG:4326",
	}); err != nil {
		t.Fatal(err)
	}
	feature, err := catalog.IngestFeature(ctx, "roads",
		vectorFeature(t, "roads", domain.NewEnvelope(-1, -1, 1, 1), nil))
	if err != nil {
		t.Fatal(err)
	}

	// A second facade over the same database starts with an empty tree
	// and must rebuild it from the envelope entry table.
	reopened := catalogOver(t, store)
	result, err := reopened.QueryRegion(ctx, input.RegionQuery{
		LayerID: "roads",
		Region:  domain.NewEnvelope(0, 0, 2, 2),
	})
	if err != nil {
		t.Fatalf("QueryRegion after reopen: %v", err)
	}
	if len(result.Features) != 1 || result.Features[0].ID != feature.ID {
		t.Errorf("rebuilt index missed the feature: %v", result.Features)
	}
}

func TestClosedCatalogRejectsCalls(t *testing.T) {
	catalog, _ := testCatalog(t)
	ctx := context.Background()

	catalog.Close()

	if _, err := catalog.ListLayers(ctx); !errors.Is(err, domain.ErrCatalogClosed) {
		t.Errorf("ListLayers after close: %v, want ErrCatalogClosed", err)
	}
	if _, err := catalog.RegisterLayer(ctx, domain.Layer{
		ID: "x", Kind: domain.LayerKindVector, CRS: "EPSG:4326",
	}); !errors.Is(err, domain.ErrCatalogClosed) {
		t.Errorf("RegisterLayer after close: %v, want ErrCatalogClosed", err)
	}
}

func TestSchemaVersionAndRecords(t *testing.T) {
	catalog, _ := testCatalog(t)
	ctx := context.Background()

	version, err := catalog.SchemaVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := catalogdb.MigrationPlan().Latest(); version != want {
		t.Errorf("SchemaVersion = %d, want %d", version, want)
	}

	records, err := catalog.MigrationRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(records)) != version {
		t.Errorf("record count = %d, want one per version up to %d", len(records), version)
	}
}

func TestFinishIngestVectorLayer(t *testing.T) {
	catalog, _ := testCatalog(t)
	ctx := context.Background()

	if _, err := catalog.RegisterLayer(ctx, domain.Layer{
		ID: "roads", Kind: domain.LayerKindVector, CRS: "EPSG:4326",
	}); err != nil {
		t.Fatal(err)
	}
	if err := catalog.FinishIngest(ctx, "roads", false); err != nil {
		t.Fatalf("FinishIngest: %v", err)
	}

	layer, err := catalog.GetLayer(ctx, "roads")
	if err != nil {
		t.Fatal(err)
	}
	if !layer.IngestComplete {
		t.Error("vector layer not marked ingest complete")
	}
}
