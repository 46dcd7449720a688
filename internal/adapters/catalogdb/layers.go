package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/strata-gis/strata/internal/domain"
)

// InsertLayer registers a new layer row. Fails with domain.ErrLayerExists
// when the identifier is taken.
func (s *Store) InsertLayer(ctx context.Context, layer domain.Layer) error {
	return s.withTx(ctx, "insert_layer", func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM layers WHERE id = ?`, layer.ID).Scan(&exists); err != nil {
			return &domain.StorageError{Operation: "insert_layer", Key: layer.ID, Err: mapTimeout(ctx, err)}
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", domain.ErrLayerExists, layer.ID)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO layers (
				id, kind, crs, schema_version,
				env_min_x, env_min_y, env_max_x, env_max_y,
				fp_min_x, fp_min_y, fp_max_x, fp_max_y,
				ingest_complete, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			layer.ID, string(layer.Kind), layer.CRS, layer.SchemaVersion,
			nullIfZero(layer.Envelope, layer.Envelope.MinX), nullIfZero(layer.Envelope, layer.Envelope.MinY),
			nullIfZero(layer.Envelope, layer.Envelope.MaxX), nullIfZero(layer.Envelope, layer.Envelope.MaxY),
			nullIfZero(layer.Footprint, layer.Footprint.MinX), nullIfZero(layer.Footprint, layer.Footprint.MinY),
			nullIfZero(layer.Footprint, layer.Footprint.MaxX), nullIfZero(layer.Footprint, layer.Footprint.MaxY),
			boolToInt(layer.IngestComplete), layer.CreatedAt, layer.UpdatedAt,
		)
		if err != nil {
			return &domain.StorageError{Operation: "insert_layer", Key: layer.ID, Err: mapTimeout(ctx, err)}
		}
		return nil
	})
}

// GetLayer fetches one layer.
func (s *Store) GetLayer(ctx context.Context, id string) (domain.Layer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, crs, schema_version,
			env_min_x, env_min_y, env_max_x, env_max_y,
			fp_min_x, fp_min_y, fp_max_x, fp_max_y,
			ingest_complete, created_at, updated_at
		FROM layers WHERE id = ?`, id)

	layer, err := scanLayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Layer{}, fmt.Errorf("%w: %s", domain.ErrLayerNotFound, id)
		}
		return domain.Layer{}, &domain.StorageError{Operation: "get_layer", Key: id, Err: mapTimeout(ctx, err)}
	}
	return layer, nil
}

// ListLayers returns all registered layers ordered by identifier.
func (s *Store) ListLayers(ctx context.Context) ([]domain.Layer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, crs, schema_version,
			env_min_x, env_min_y, env_max_x, env_max_y,
			fp_min_x, fp_min_y, fp_max_x, fp_max_y,
			ingest_complete, created_at, updated_at
		FROM layers ORDER BY id`)
	if err != nil {
		return nil, &domain.StorageError{Operation: "list_layers", Err: mapTimeout(ctx, err)}
	}
	defer func() { _ = rows.Close() }()

	var layers []domain.Layer
	for rows.Next() {
		layer, err := scanLayer(rows)
		if err != nil {
			return nil, &domain.StorageError{Operation: "scan_layer", Err: err}
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

// UpdateLayerEnvelope widens the layer's lazily maintained envelope and
// bumps updated_at.
func (s *Store) UpdateLayerEnvelope(ctx context.Context, tx *sql.Tx, id string, env domain.Envelope, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE layers SET
			env_min_x = CASE WHEN env_min_x IS NULL THEN ? ELSE MIN(env_min_x, ?) END,
			env_min_y = CASE WHEN env_min_y IS NULL THEN ? ELSE MIN(env_min_y, ?) END,
			env_max_x = CASE WHEN env_max_x IS NULL THEN ? ELSE MAX(env_max_x, ?) END,
			env_max_y = CASE WHEN env_max_y IS NULL THEN ? ELSE MAX(env_max_y, ?) END,
			updated_at = ?
		WHERE id = ?`,
		env.MinX, env.MinX, env.MinY, env.MinY,
		env.MaxX, env.MaxX, env.MaxY, env.MaxY,
		now, id)
	if err != nil {
		return &domain.StorageError{Operation: "update_envelope", Key: id, Err: mapTimeout(ctx, err)}
	}
	return nil
}

// MarkIngestComplete flips the layer's ingest-complete flag.
func (s *Store) MarkIngestComplete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE layers SET ingest_complete = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return &domain.StorageError{Operation: "mark_ingest_complete", Key: id, Err: mapTimeout(ctx, err)}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrLayerNotFound, id)
	}
	return nil
}

// DropLayer removes a layer and, through foreign key cascade, its
// features, tiles and envelope entries in one transaction.
func (s *Store) DropLayer(ctx context.Context, id string) error {
	return s.withTx(ctx, "drop_layer", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM layers WHERE id = ?`, id)
		if err != nil {
			return &domain.StorageError{Operation: "drop_layer", Key: id, Err: mapTimeout(ctx, err)}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrLayerNotFound, id)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLayer(r rowScanner) (domain.Layer, error) {
	var layer domain.Layer
	var kind string
	var envMinX, envMinY, envMaxX, envMaxY sql.NullFloat64
	var fpMinX, fpMinY, fpMaxX, fpMaxY sql.NullFloat64
	var ingestComplete int

	err := r.Scan(
		&layer.ID, &kind, &layer.CRS, &layer.SchemaVersion,
		&envMinX, &envMinY, &envMaxX, &envMaxY,
		&fpMinX, &fpMinY, &fpMaxX, &fpMaxY,
		&ingestComplete, &layer.CreatedAt, &layer.UpdatedAt,
	)
	if err != nil {
		return domain.Layer{}, err
	}

	layer.Kind = domain.LayerKind(kind)
	layer.IngestComplete = ingestComplete != 0
	if envMinX.Valid {
		layer.Envelope = domain.Envelope{
			MinX: envMinX.Float64, MinY: envMinY.Float64,
			MaxX: envMaxX.Float64, MaxY: envMaxY.Float64,
		}
	}
	if fpMinX.Valid {
		layer.Footprint = domain.Envelope{
			MinX: fpMinX.Float64, MinY: fpMinY.Float64,
			MaxX: fpMaxX.Float64, MaxY: fpMaxY.Float64,
		}
	}
	return layer, nil
}

// nullIfZero maps an unset envelope to NULL columns so "no envelope yet"
// is distinguishable from an envelope at the origin.
func nullIfZero(env domain.Envelope, v float64) interface{} {
	if env.IsZero() {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
