package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"

	"github.com/strata-gis/strata/internal/domain"
	"github.com/strata-gis/strata/internal/ports/output"
)

// ErrRateLimited is returned when the ingest trigger rate limit is
// exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// BundleManifest describes one ingest bundle: a layer plus the features
// or tiles to load into it.
type BundleManifest struct {
	Layer struct {
		ID        string     `yaml:"id"`
		Kind      string     `yaml:"kind"`
		CRS       string     `yaml:"crs"`
		Footprint []float64  `yaml:"footprint,omitempty"` // min_x, min_y, max_x, max_y
	} `yaml:"layer"`
	Features []FeatureSpec `yaml:"features,omitempty"`
	Tiles    []TileSpec    `yaml:"tiles,omitempty"`
	Finish   bool          `yaml:"finish,omitempty"` // mark ingest-complete afterwards
}

// FeatureSpec is one vector feature in a manifest, geometry inline as
// GeoJSON.
type FeatureSpec struct {
	ID         string                 `yaml:"id,omitempty"`
	Geometry   string                 `yaml:"geometry"`
	Attributes map[string]interface{} `yaml:"attributes,omitempty"`
}

// TileSpec is one raster tile in a manifest, payload referenced by
// object key.
type TileSpec struct {
	Zoom int    `yaml:"zoom"`
	Col  int    `yaml:"col"`
	Row  int    `yaml:"row"`
	File string `yaml:"file"`
}

// IngestStats contains statistics from one ingest pass.
type IngestStats struct {
	Bundles  int `json:"bundles"`
	Features int `json:"features"`
	Tiles    int `json:"tiles"`
	Failed   int `json:"failed"`
}

// IngestResult contains the result of a triggered ingest pass.
type IngestResult struct {
	IngestStats
	SyncedAt        time.Time `json:"synced_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// IngestService loads bundle manifests from object storage into the
// catalog, on a schedule and on demand.
type IngestService struct {
	catalog  *Catalog
	storage  output.ObjectStorage
	interval time.Duration
	logger   *slog.Logger

	// Lifecycle management
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Rate limiting for API triggers
	lastAPISync time.Time
	apiMutex    sync.Mutex

	// Prevents concurrent ingest passes
	passMutex sync.Mutex

	// Processed bundle keys by content hash, so unchanged bundles are
	// not replayed
	mu        sync.Mutex
	processed map[string]string

	// Track next scheduled pass for reporting
	nextMu   sync.RWMutex
	nextPass time.Time
}

// NewIngestService creates a new ingest service.
func NewIngestService(catalog *Catalog, storage output.ObjectStorage, interval time.Duration, logger *slog.Logger) *IngestService {
	return &IngestService{
		catalog:  catalog,
		storage:  storage,
		interval: interval,
		logger:   logger.With("component", "ingest"),
		stopCh:   make(chan struct{}),
		// Initialize to past time to allow immediate first API call
		lastAPISync: time.Now().Add(-31 * time.Second),
		processed:   make(map[string]string),
	}
}

// Start begins the periodic ingest scheduler.
func (s *IngestService) Start(ctx context.Context) {
	s.logger.Info("starting ingest service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *IngestService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextPass(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ingest service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("ingest service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled ingest pass triggered")
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Error("ingest pass failed", "error", err)
			}
			s.setNextPass(time.Now().Add(s.interval))
		}
	}
}

// Stop gracefully stops the ingest service.
func (s *IngestService) Stop() {
	s.logger.Info("stopping ingest service")
	close(s.stopCh)
	s.wg.Wait()
}

// TriggerSync manually triggers an ingest pass with rate limiting.
// Returns ErrRateLimited if called more than 2 times per minute.
func (s *IngestService) TriggerSync(ctx context.Context) (IngestResult, error) {
	s.apiMutex.Lock()
	defer s.apiMutex.Unlock()

	// 30 second cooldown, allows ~2 requests per minute
	if time.Since(s.lastAPISync) < 30*time.Second {
		return IngestResult{}, ErrRateLimited
	}
	s.lastAPISync = time.Now()

	stats, err := s.Sync(ctx)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{
		IngestStats:     stats,
		SyncedAt:        time.Now(),
		NextScheduledAt: s.getNextPass(),
	}, nil
}

// Sync lists the storage, applies every new or changed manifest and
// returns the pass statistics.
func (s *IngestService) Sync(ctx context.Context) (IngestStats, error) {
	s.passMutex.Lock()
	defer s.passMutex.Unlock()

	objects, err := s.storage.List(ctx)
	if err != nil {
		return IngestStats{}, err
	}

	var stats IngestStats
	for _, obj := range objects {
		if !isManifestKey(obj.Key) {
			continue
		}
		if s.alreadyProcessed(obj.Key, obj.ETag) {
			continue
		}

		bundleStats, err := s.applyBundle(ctx, obj.Key)
		if err != nil {
			s.logger.Error("bundle failed", "key", obj.Key, "error", err)
			stats.Failed++
			continue
		}
		s.markProcessed(obj.Key, obj.ETag)

		stats.Bundles++
		stats.Features += bundleStats.Features
		stats.Tiles += bundleStats.Tiles
		s.logger.Info("bundle ingested", "key", obj.Key,
			"features", bundleStats.Features, "tiles", bundleStats.Tiles)
	}
	return stats, nil
}

// applyBundle parses one manifest and loads its contents.
func (s *IngestService) applyBundle(ctx context.Context, key string) (IngestStats, error) {
	manifest, err := s.readManifest(ctx, key)
	if err != nil {
		return IngestStats{}, err
	}

	layer := domain.Layer{
		ID:   manifest.Layer.ID,
		Kind: domain.LayerKind(manifest.Layer.Kind),
		CRS:  manifest.Layer.CRS,
	}
	if fp := manifest.Layer.Footprint; len(fp) == 4 {
		layer.Footprint = domain.NewEnvelope(fp[0], fp[1], fp[2], fp[3])
	}

	if _, err := s.catalog.RegisterLayer(ctx, layer); err != nil {
		if !errors.Is(err, domain.ErrLayerExists) {
			return IngestStats{}, fmt.Errorf("registering layer %s: %w", layer.ID, err)
		}
	}

	var stats IngestStats
	for _, spec := range manifest.Features {
		if err := s.ingestFeature(ctx, layer.ID, spec); err != nil {
			return stats, fmt.Errorf("feature %s: %w", spec.ID, err)
		}
		stats.Features++
	}
	for _, spec := range manifest.Tiles {
		if err := s.ingestTile(ctx, layer.ID, spec, path.Dir(key)); err != nil {
			return stats, fmt.Errorf("tile %d/%d/%d: %w", spec.Zoom, spec.Col, spec.Row, err)
		}
		stats.Tiles++
	}

	if manifest.Finish {
		if err := s.catalog.FinishIngest(ctx, layer.ID, true); err != nil {
			return stats, fmt.Errorf("finishing ingest: %w", err)
		}
	}
	return stats, nil
}

func (s *IngestService) readManifest(ctx context.Context, key string) (BundleManifest, error) {
	reader, err := s.storage.GetReader(ctx, key)
	if err != nil {
		return BundleManifest{}, err
	}
	defer func() { _ = reader.Close() }()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return BundleManifest{}, err
	}

	var manifest BundleManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return BundleManifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	if manifest.Layer.ID == "" {
		return BundleManifest{}, fmt.Errorf("%w: manifest %s names no layer", domain.ErrInvalidInput, key)
	}
	return manifest, nil
}

func (s *IngestService) ingestFeature(ctx context.Context, layerID string, spec FeatureSpec) error {
	geometry, err := geojson.UnmarshalGeometry([]byte(spec.Geometry))
	if err != nil {
		return fmt.Errorf("parsing geometry: %w", err)
	}
	geom := geometry.Geometry()

	encoded, err := wkb.Marshal(geom)
	if err != nil {
		return fmt.Errorf("encoding geometry: %w", err)
	}

	feature := domain.Feature{
		ID:         spec.ID,
		LayerID:    layerID,
		Geometry:   encoded,
		Envelope:   domain.EnvelopeOfGeometry(geom),
		Attributes: spec.Attributes,
	}
	_, err = s.catalog.IngestFeature(ctx, layerID, feature)
	return err
}

func (s *IngestService) ingestTile(ctx context.Context, layerID string, spec TileSpec, dir string) error {
	key := spec.File
	if !strings.Contains(key, "/") && dir != "." && dir != "" {
		key = path.Join(dir, key)
	}

	reader, err := s.storage.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	_, err = s.catalog.IngestTile(ctx, domain.TileKey{
		LayerID: layerID,
		Zoom:    spec.Zoom,
		Col:     spec.Col,
		Row:     spec.Row,
	}, payload)
	return err
}

func (s *IngestService) alreadyProcessed(key, etag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen, ok := s.processed[key]
	return ok && seen == etag
}

func (s *IngestService) markProcessed(key, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[key] = etag
}

func (s *IngestService) setNextPass(t time.Time) {
	s.nextMu.Lock()
	defer s.nextMu.Unlock()
	s.nextPass = t
}

func (s *IngestService) getNextPass() time.Time {
	s.nextMu.RLock()
	defer s.nextMu.RUnlock()
	return s.nextPass
}

// Interval returns the ingest pass interval.
func (s *IngestService) Interval() time.Duration {
	return s.interval
}

func isManifestKey(key string) bool {
	return strings.HasSuffix(key, ".yaml") || strings.HasSuffix(key, ".yml")
}
