package catalogdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/strata-gis/strata/internal/domain"
)

// InsertFeature writes a feature, its envelope entry and the layer
// envelope widening in one transaction. Either everything lands or
// nothing does.
func (s *Store) InsertFeature(ctx context.Context, f domain.Feature) error {
	attrs, err := json.Marshal(f.Attributes)
	if err != nil {
		return &domain.StorageError{Operation: "insert_feature", Key: f.ID, Err: err}
	}

	return s.withTx(ctx, "insert_feature", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO features (id, layer_id, geometry, min_x, min_y, max_x, max_y, attributes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.LayerID, f.Geometry,
			f.Envelope.MinX, f.Envelope.MinY, f.Envelope.MaxX, f.Envelope.MaxY,
			string(attrs),
		)
		if err != nil {
			return &domain.StorageError{Operation: "insert_feature", Key: f.ID, Err: mapTimeout(ctx, err)}
		}

		if err := upsertEnvelopeEntryTx(ctx, tx, domain.EnvelopeEntry{
			OwnerID:  f.ID,
			Kind:     domain.OwnerFeature,
			LayerID:  f.LayerID,
			Envelope: f.Envelope,
		}); err != nil {
			return err
		}

		return s.UpdateLayerEnvelope(ctx, tx, f.LayerID, f.Envelope, time.Now().UTC())
	})
}

// GetFeature fetches one feature.
func (s *Store) GetFeature(ctx context.Context, id string) (domain.Feature, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, layer_id, geometry, min_x, min_y, max_x, max_y, attributes
		FROM features WHERE id = ?`, id)

	f, err := scanFeature(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Feature{}, fmt.Errorf("%w: feature %s", domain.ErrNotFound, id)
		}
		return domain.Feature{}, &domain.StorageError{Operation: "get_feature", Key: id, Err: mapTimeout(ctx, err)}
	}
	return f, nil
}

// FeaturesByIDs fetches features by identifier, preserving input order.
// Absent identifiers are skipped, matching the pre-filter contract: the
// envelope index may name owners that a concurrent drop already removed.
func (s *Store) FeaturesByIDs(ctx context.Context, ids []string) ([]domain.Feature, error) {
	features := make([]domain.Feature, 0, len(ids))
	for _, id := range ids {
		f, err := s.GetFeature(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		features = append(features, f)
	}
	return features, nil
}

// CountFeatures returns the number of features in a layer.
func (s *Store) CountFeatures(ctx context.Context, layerID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM features WHERE layer_id = ?`, layerID).Scan(&n)
	if err != nil {
		return 0, &domain.StorageError{Operation: "count_features", Key: layerID, Err: mapTimeout(ctx, err)}
	}
	return n, nil
}

func scanFeature(r rowScanner) (domain.Feature, error) {
	var f domain.Feature
	var attrs string
	err := r.Scan(
		&f.ID, &f.LayerID, &f.Geometry,
		&f.Envelope.MinX, &f.Envelope.MinY, &f.Envelope.MaxX, &f.Envelope.MaxY,
		&attrs,
	)
	if err != nil {
		return domain.Feature{}, err
	}
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &f.Attributes); err != nil {
			return domain.Feature{}, fmt.Errorf("decoding attributes: %w", err)
		}
	}
	return f, nil
}
