package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/strata-gis/strata/internal/domain"
)

// UpsertTile writes a tile and its envelope entry in one transaction.
// Overlapping writes to the same key are last-write-wins: the row is
// replaced wholesale and the checksum recomputed, never merged.
func (s *Store) UpsertTile(ctx context.Context, tile domain.Tile, envelope domain.Envelope) error {
	return s.withTx(ctx, "write_tile", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tiles (layer_id, zoom, col, row, payload, size, checksum, written_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (layer_id, zoom, col, row) DO UPDATE SET
				payload = excluded.payload,
				size = excluded.size,
				checksum = excluded.checksum,
				written_at = excluded.written_at`,
			tile.Key.LayerID, tile.Key.Zoom, tile.Key.Col, tile.Key.Row,
			tile.Payload, tile.Size, formatChecksum(tile.Checksum), tile.WrittenAt,
		)
		if err != nil {
			return &domain.StorageError{Operation: "write_tile", Key: tile.Key.String(), Err: mapTimeout(ctx, err)}
		}

		if err := upsertEnvelopeEntryTx(ctx, tx, domain.EnvelopeEntry{
			OwnerID:  tile.Key.String(),
			Kind:     domain.OwnerTile,
			LayerID:  tile.Key.LayerID,
			Envelope: envelope,
		}); err != nil {
			return err
		}

		return s.UpdateLayerEnvelope(ctx, tx, tile.Key.LayerID, envelope, tile.WrittenAt)
	})
}

// GetTile fetches one tile. Fails with domain.ErrTileNotFound when the
// pyramid is sparse at that key.
func (s *Store) GetTile(ctx context.Context, key domain.TileKey) (domain.Tile, error) {
	var tile domain.Tile
	var checksum string
	var written sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT payload, size, checksum, written_at
		FROM tiles WHERE layer_id = ? AND zoom = ? AND col = ? AND row = ?`,
		key.LayerID, key.Zoom, key.Col, key.Row,
	).Scan(&tile.Payload, &tile.Size, &checksum, &written)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Tile{}, fmt.Errorf("%w: %s", domain.ErrTileNotFound, key)
		}
		return domain.Tile{}, &domain.StorageError{Operation: "read_tile", Key: key.String(), Err: mapTimeout(ctx, err)}
	}

	tile.Key = key
	tile.Checksum = parseChecksum(checksum)
	if written.Valid {
		tile.WrittenAt = written.Time
	}
	return tile, nil
}

// TileKeysByZoom lists the occupied tile keys of a layer at one zoom
// level, ordered by column then row.
func (s *Store) TileKeysByZoom(ctx context.Context, layerID string, zoom int) ([]domain.TileKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT col, row FROM tiles
		WHERE layer_id = ? AND zoom = ? ORDER BY col, row`, layerID, zoom)
	if err != nil {
		return nil, &domain.StorageError{Operation: "list_tiles", Key: layerID, Err: mapTimeout(ctx, err)}
	}
	defer func() { _ = rows.Close() }()

	var keys []domain.TileKey
	for rows.Next() {
		k := domain.TileKey{LayerID: layerID, Zoom: zoom}
		if err := rows.Scan(&k.Col, &k.Row); err != nil {
			return nil, &domain.StorageError{Operation: "scan_tile_key", Key: layerID, Err: err}
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ZoomLevels lists the zoom levels holding at least one tile, ascending.
func (s *Store) ZoomLevels(ctx context.Context, layerID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT zoom FROM tiles WHERE layer_id = ? ORDER BY zoom`, layerID)
	if err != nil {
		return nil, &domain.StorageError{Operation: "list_zooms", Key: layerID, Err: mapTimeout(ctx, err)}
	}
	defer func() { _ = rows.Close() }()

	var zooms []int
	for rows.Next() {
		var z int
		if err := rows.Scan(&z); err != nil {
			return nil, &domain.StorageError{Operation: "scan_zoom", Key: layerID, Err: err}
		}
		zooms = append(zooms, z)
	}
	return zooms, rows.Err()
}

// CountTiles returns the number of tiles stored for a layer.
func (s *Store) CountTiles(ctx context.Context, layerID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tiles WHERE layer_id = ?`, layerID).Scan(&n)
	if err != nil {
		return 0, &domain.StorageError{Operation: "count_tiles", Key: layerID, Err: mapTimeout(ctx, err)}
	}
	return n, nil
}

func formatChecksum(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}

func parseChecksum(s string) uint64 {
	v, _ := strconv.ParseUint(s, 16, 64)
	return v
}
