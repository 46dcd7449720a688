package catalogdb

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/strata-gis/strata/internal/domain"
	"github.com/strata-gis/strata/internal/migrate"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	s, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := migrate.NewEngine(s.DB(), MigrationPlan(), logger)
	if err := engine.MigrateUp(ctx); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}
	return s
}

func testLayer(id string, kind domain.LayerKind) domain.Layer {
	now := time.Now().UTC()
	l := domain.Layer{
		ID: id, Kind: kind, CRS: "EPSG:4326",
		SchemaVersion: 5, CreatedAt: now, UpdatedAt: now,
	}
	if kind == domain.LayerKindRaster {
		l.Footprint = domain.NewEnvelope(0, 0, 100, 100)
	}
	return l
}

func TestInsertAndGetLayer(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	layer := testLayer("roads", domain.LayerKindVector)
	if err := s.InsertLayer(ctx, layer); err != nil {
		t.Fatalf("InsertLayer: %v", err)
	}

	got, err := s.GetLayer(ctx, "roads")
	if err != nil {
		t.Fatalf("GetLayer: %v", err)
	}
	if got.ID != "roads" || got.Kind != domain.LayerKindVector || got.CRS != "EPSG:4326" {
		t.Errorf("unexpected layer %+v", got)
	}
	if got.SchemaVersion != 5 {
		t.Errorf("SchemaVersion = %d, want 5", got.SchemaVersion)
	}
	if !got.Envelope.IsZero() {
		t.Errorf("fresh vector layer should have no envelope, got %v", got.Envelope)
	}
}

func TestInsertLayerTwiceFails(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertLayer(ctx, testLayer("roads", domain.LayerKindVector)); err != nil {
		t.Fatal(err)
	}
	err := s.InsertLayer(ctx, testLayer("roads", domain.LayerKindVector))
	if !errors.Is(err, domain.ErrLayerExists) {
		t.Errorf("duplicate insert error = %v, want ErrLayerExists", err)
	}
}

func TestGetLayerNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetLayer(context.Background(), "missing")
	if !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("error = %v, want ErrLayerNotFound", err)
	}
}

func TestInsertFeatureWritesEnvelopeEntryAndWidensLayer(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertLayer(ctx, testLayer("roads", domain.LayerKindVector)); err != nil {
		t.Fatal(err)
	}

	f := domain.Feature{
		ID: "f-1", LayerID: "roads",
		Geometry: []byte{1, 2, 3},
		Envelope: domain.NewEnvelope(-1, -1, 1, 1),
		Attributes: map[string]interface{}{
			"name": "A1",
		},
	}
	if err := s.InsertFeature(ctx, f); err != nil {
		t.Fatalf("InsertFeature: %v", err)
	}

	got, err := s.GetFeature(ctx, "f-1")
	if err != nil {
		t.Fatalf("GetFeature: %v", err)
	}
	if got.Envelope != f.Envelope {
		t.Errorf("Envelope = %v, want %v", got.Envelope, f.Envelope)
	}
	if got.Attributes["name"] != "A1" {
		t.Errorf("Attributes = %v", got.Attributes)
	}

	entries, err := s.LoadEnvelopeEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].OwnerID != "f-1" || entries[0].Kind != domain.OwnerFeature {
		t.Errorf("envelope entries = %+v", entries)
	}

	layer, err := s.GetLayer(ctx, "roads")
	if err != nil {
		t.Fatal(err)
	}
	if !layer.Envelope.Contains(f.Envelope) {
		t.Errorf("layer envelope %v does not contain feature envelope %v", layer.Envelope, f.Envelope)
	}
}

func TestUpsertTileExpiredContext(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertLayer(ctx, testLayer("dem", domain.LayerKindRaster)); err != nil {
		t.Fatal(err)
	}

	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()

	key := domain.TileKey{LayerID: "dem", Zoom: 1, Col: 0, Row: 0}
	tile := domain.NewTile(key, []byte("payload"), time.Now().UTC())
	err := s.UpsertTile(expired, tile, domain.NewEnvelope(0, 50, 50, 100))
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("UpsertTile with expired context = %v, want ErrTimeout", err)
	}

	// Rollback leaves no partial tile row visible to later reads.
	if _, err := s.GetTile(ctx, key); !errors.Is(err, domain.ErrTileNotFound) {
		t.Errorf("GetTile after failed write = %v, want ErrTileNotFound", err)
	}
}

func TestUpsertTileLastWriteWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertLayer(ctx, testLayer("dem", domain.LayerKindRaster)); err != nil {
		t.Fatal(err)
	}

	key := domain.TileKey{LayerID: "dem", Zoom: 2, Col: 3, Row: 1}
	env := domain.NewEnvelope(75, 25, 100, 50)

	first := domain.NewTile(key, []byte("old payload"), time.Now().UTC())
	if err := s.UpsertTile(ctx, first, env); err != nil {
		t.Fatalf("first UpsertTile: %v", err)
	}
	second := domain.NewTile(key, []byte("new payload"), time.Now().UTC())
	if err := s.UpsertTile(ctx, second, env); err != nil {
		t.Fatalf("second UpsertTile: %v", err)
	}

	got, err := s.GetTile(ctx, key)
	if err != nil {
		t.Fatalf("GetTile: %v", err)
	}
	if string(got.Payload) != "new payload" {
		t.Errorf("Payload = %q, want last write", got.Payload)
	}
	if got.Checksum != domain.TileChecksum([]byte("new payload")) {
		t.Errorf("Checksum not recomputed on overwrite")
	}

	n, err := s.CountTiles(ctx, "dem")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("tile count = %d, want 1 (no duplicate rows)", n)
	}
}

func TestGetTileNotFound(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertLayer(ctx, testLayer("dem", domain.LayerKindRaster)); err != nil {
		t.Fatal(err)
	}
	_, err := s.GetTile(ctx, domain.TileKey{LayerID: "dem", Zoom: 2, Col: 99, Row: 99})
	if !errors.Is(err, domain.ErrTileNotFound) {
		t.Errorf("error = %v, want ErrTileNotFound", err)
	}
}

func TestDropLayerCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertLayer(ctx, testLayer("dem", domain.LayerKindRaster)); err != nil {
		t.Fatal(err)
	}
	key := domain.TileKey{LayerID: "dem", Zoom: 0, Col: 0, Row: 0}
	tile := domain.NewTile(key, []byte("p"), time.Now().UTC())
	if err := s.UpsertTile(ctx, tile, domain.NewEnvelope(0, 0, 100, 100)); err != nil {
		t.Fatal(err)
	}

	if err := s.DropLayer(ctx, "dem"); err != nil {
		t.Fatalf("DropLayer: %v", err)
	}

	if _, err := s.GetLayer(ctx, "dem"); !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("layer survived drop: %v", err)
	}
	if _, err := s.GetTile(ctx, key); !errors.Is(err, domain.ErrTileNotFound) {
		t.Errorf("tile survived drop: %v", err)
	}
	entries, err := s.LoadEnvelopeEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("envelope entries survived drop: %+v", entries)
	}
}

func TestDropMissingLayer(t *testing.T) {
	s := testStore(t)
	err := s.DropLayer(context.Background(), "missing")
	if !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("error = %v, want ErrLayerNotFound", err)
	}
}

func TestZoomLevelsAndTileKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertLayer(ctx, testLayer("dem", domain.LayerKindRaster)); err != nil {
		t.Fatal(err)
	}
	for _, k := range []domain.TileKey{
		{LayerID: "dem", Zoom: 0, Col: 0, Row: 0},
		{LayerID: "dem", Zoom: 2, Col: 1, Row: 1},
		{LayerID: "dem", Zoom: 2, Col: 0, Row: 3},
	} {
		tile := domain.NewTile(k, []byte("p"), time.Now().UTC())
		if err := s.UpsertTile(ctx, tile, domain.NewEnvelope(0, 0, 1, 1)); err != nil {
			t.Fatal(err)
		}
	}

	zooms, err := s.ZoomLevels(ctx, "dem")
	if err != nil {
		t.Fatal(err)
	}
	if len(zooms) != 2 || zooms[0] != 0 || zooms[1] != 2 {
		t.Errorf("ZoomLevels = %v, want [0 2]", zooms)
	}

	keys, err := s.TileKeysByZoom(ctx, "dem", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("TileKeysByZoom = %v, want 2 keys", keys)
	}
}

func TestMarkIngestComplete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertLayer(ctx, testLayer("dem", domain.LayerKindRaster)); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkIngestComplete(ctx, "dem"); err != nil {
		t.Fatalf("MarkIngestComplete: %v", err)
	}
	layer, err := s.GetLayer(ctx, "dem")
	if err != nil {
		t.Fatal(err)
	}
	if !layer.IngestComplete {
		t.Error("IngestComplete not persisted")
	}

	if err := s.MarkIngestComplete(ctx, "missing"); !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("error = %v, want ErrLayerNotFound", err)
	}
}
