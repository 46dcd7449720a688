package pyramid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/strata-gis/strata/internal/domain"
	"github.com/strata-gis/strata/internal/envindex"
	"github.com/strata-gis/strata/internal/ports/output"
)

// synthesizedBlockSize is the square sample dimension of zero-filled
// tiles written during level-0 completion.
const synthesizedBlockSize = 256

// TileStore is the persistence surface the pyramid needs. The catalog
// database adapter satisfies it.
type TileStore interface {
	UpsertTile(ctx context.Context, tile domain.Tile, envelope domain.Envelope) error
	GetTile(ctx context.Context, key domain.TileKey) (domain.Tile, error)
	ZoomLevels(ctx context.Context, layerID string) ([]int, error)
	TileKeysByZoom(ctx context.Context, layerID string, zoom int) ([]domain.TileKey, error)
	MarkIngestComplete(ctx context.Context, layerID string) error
}

// Store manages the lazy tile pyramid of raster layers. Zoom 0 always
// fully covers the footprint once a layer is ingest-complete; finer
// zooms may stay sparse.
type Store struct {
	tiles  TileStore
	index  *envindex.Index
	codec  output.RasterCodec
	logger *slog.Logger
}

// NewStore builds a pyramid store over the given persistence, envelope
// index and payload codec.
func NewStore(tiles TileStore, index *envindex.Index, codec output.RasterCodec, logger *slog.Logger) *Store {
	return &Store{
		tiles:  tiles,
		index:  index,
		codec:  codec,
		logger: logger.With("component", "pyramid"),
	}
}

// WriteTile stores one tile. The payload is opaque bytes in whatever
// raster format the producer uses; nothing here decodes it. An existing
// tile at the same key is replaced wholesale with the checksum
// recomputed; the tile's envelope entry is updated in the same
// transaction as the payload.
func (s *Store) WriteTile(ctx context.Context, layer domain.Layer, key domain.TileKey, payload []byte) (domain.Tile, error) {
	if !layer.IsRaster() {
		return domain.Tile{}, fmt.Errorf("%w: layer %s is %s", domain.ErrLayerKindMismatch, layer.ID, layer.Kind)
	}
	if key.LayerID != layer.ID {
		return domain.Tile{}, fmt.Errorf("%w: tile key %s does not belong to layer %s", domain.ErrInvalidInput, key, layer.ID)
	}
	if err := key.Validate(); err != nil {
		return domain.Tile{}, err
	}
	if len(payload) == 0 {
		return domain.Tile{}, fmt.Errorf("%w: empty tile payload for %s", domain.ErrInvalidInput, key)
	}

	tile := domain.NewTile(key, payload, time.Now().UTC())
	envelope := NewGrid(layer.Footprint).TileEnvelope(key)
	if err := s.tiles.UpsertTile(ctx, tile, envelope); err != nil {
		return domain.Tile{}, err
	}
	if err := s.index.Insert(key.String(), envelope); err != nil {
		return domain.Tile{}, err
	}

	s.logger.Debug("tile written",
		"key", key.String(),
		"size", tile.Size,
		"checksum", fmt.Sprintf("%016x", tile.Checksum))
	return tile, nil
}

// ReadTile fetches one tile. Sparse absence fails with
// domain.ErrTileNotFound; callers wanting fallback use
// ReadTileOrAncestor instead.
func (s *Store) ReadTile(ctx context.Context, key domain.TileKey) (domain.Tile, error) {
	return s.tiles.GetTile(ctx, key)
}

// ReadTileOrAncestor fetches the tile at key, falling back through
// coarser zoom levels to the ancestor covering the same cell. It
// returns the tile found and the region the requested cell covers, so
// the caller can crop the ancestor payload.
func (s *Store) ReadTileOrAncestor(ctx context.Context, layer domain.Layer, key domain.TileKey) (domain.Tile, domain.Envelope, error) {
	cell := NewGrid(layer.Footprint).TileEnvelope(key)

	for zoom := key.Zoom; zoom >= 0; zoom-- {
		tile, err := s.tiles.GetTile(ctx, key.Ancestor(zoom))
		if err == nil {
			return tile, cell, nil
		}
		if !errors.Is(err, domain.ErrTileNotFound) {
			return domain.Tile{}, domain.Envelope{}, err
		}
	}
	return domain.Tile{}, domain.Envelope{}, fmt.Errorf("%w: %s and all ancestors", domain.ErrTileNotFound, key)
}

// QueryRegion returns a restartable cursor over the tiles of one zoom
// level intersecting the region. The envelope index pre-filters
// candidates; an exact cell-bounds test removes its false positives.
func (s *Store) QueryRegion(ctx context.Context, layer domain.Layer, zoom int, region domain.Envelope) (*TileCursor, error) {
	if !layer.IsRaster() {
		return nil, fmt.Errorf("%w: layer %s is %s", domain.ErrLayerKindMismatch, layer.ID, layer.Kind)
	}
	if err := region.Validate(); err != nil {
		return nil, err
	}
	if zoom < 0 {
		return nil, &domain.ValidationError{
			Field:      "zoom",
			Value:      zoom,
			Constraint: ">= 0",
			Message:    "zoom level must not be negative",
		}
	}

	grid := NewGrid(layer.Footprint)
	var keys []domain.TileKey
	for _, owner := range s.index.Query(region) {
		key, err := domain.ParseTileKey(owner)
		if err != nil {
			continue // feature owner, not a tile
		}
		if key.LayerID != layer.ID || key.Zoom != zoom {
			continue
		}
		if !grid.TileEnvelope(key).Intersects(region) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Col != keys[j].Col {
			return keys[i].Col < keys[j].Col
		}
		return keys[i].Row < keys[j].Row
	})

	return &TileCursor{tiles: s.tiles, keys: keys}, nil
}

// FinishIngest verifies the level-0 completeness invariant and marks
// the layer ingest-complete. Every cell covered at a finer zoom must be
// covered at zoom 0; with synthesize set, missing zoom-0 tiles are
// zero-filled blocks encoded through the codec, otherwise the check
// fails with domain.ErrIngestIncomplete.
func (s *Store) FinishIngest(ctx context.Context, layer domain.Layer, synthesize bool) error {
	if !layer.IsRaster() {
		return fmt.Errorf("%w: layer %s is %s", domain.ErrLayerKindMismatch, layer.ID, layer.Kind)
	}

	required, err := s.requiredLevelZeroCells(ctx, layer.ID)
	if err != nil {
		return err
	}

	for _, cell := range required {
		_, err := s.tiles.GetTile(ctx, cell)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrTileNotFound) {
			return err
		}
		if !synthesize {
			return fmt.Errorf("%w: zoom-0 cell %s uncovered", domain.ErrIngestIncomplete, cell)
		}
		if err := s.synthesizeTile(ctx, layer, cell); err != nil {
			return err
		}
	}

	if err := s.tiles.MarkIngestComplete(ctx, layer.ID); err != nil {
		return err
	}
	s.logger.Info("layer ingest complete", "layer", layer.ID, "zoom0_cells", len(required))
	return nil
}

// requiredLevelZeroCells collects the zoom-0 ancestors of every stored
// tile at finer zooms, in deterministic order.
func (s *Store) requiredLevelZeroCells(ctx context.Context, layerID string) ([]domain.TileKey, error) {
	zooms, err := s.tiles.ZoomLevels(ctx, layerID)
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.TileKey]struct{})
	var required []domain.TileKey
	for _, zoom := range zooms {
		if zoom == 0 {
			continue
		}
		keys, err := s.tiles.TileKeysByZoom(ctx, layerID, zoom)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			ancestor := key.Ancestor(0)
			if _, ok := seen[ancestor]; ok {
				continue
			}
			seen[ancestor] = struct{}{}
			required = append(required, ancestor)
		}
	}
	return required, nil
}

func (s *Store) synthesizeTile(ctx context.Context, layer domain.Layer, key domain.TileKey) error {
	payload, err := s.codec.Encode(domain.ZeroBlock(synthesizedBlockSize, synthesizedBlockSize))
	if err != nil {
		return fmt.Errorf("encoding synthesized tile %s: %w", key, err)
	}
	s.logger.Info("synthesizing zoom-0 tile", "key", key.String(), "format", s.codec.Format())
	_, err = s.WriteTile(ctx, layer, key, payload)
	return err
}
