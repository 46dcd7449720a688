package catalogdb

import (
	"context"
	"database/sql"

	"github.com/strata-gis/strata/internal/domain"
)

// LoadEnvelopeEntries reads every persisted envelope index entry. The
// in-memory tree is rebuilt from this on catalog open; the table is
// authoritative.
func (s *Store) LoadEnvelopeEntries(ctx context.Context) ([]domain.EnvelopeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, kind, layer_id, min_x, min_y, max_x, max_y
		FROM envelope_entries`)
	if err != nil {
		return nil, &domain.StorageError{Operation: "load_envelope_entries", Err: mapTimeout(ctx, err)}
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.EnvelopeEntry
	for rows.Next() {
		var e domain.EnvelopeEntry
		var kind string
		err := rows.Scan(&e.OwnerID, &kind, &e.LayerID,
			&e.Envelope.MinX, &e.Envelope.MinY, &e.Envelope.MaxX, &e.Envelope.MaxY)
		if err != nil {
			return nil, &domain.StorageError{Operation: "scan_envelope_entry", Err: err}
		}
		e.Kind = domain.OwnerKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EnvelopeOwnersByLayer lists the envelope entry owner ids belonging to a
// layer, used to purge the in-memory index when the layer drops.
func (s *Store) EnvelopeOwnersByLayer(ctx context.Context, layerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id FROM envelope_entries WHERE layer_id = ?`, layerID)
	if err != nil {
		return nil, &domain.StorageError{Operation: "list_envelope_owners", Key: layerID, Err: mapTimeout(ctx, err)}
	}
	defer func() { _ = rows.Close() }()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &domain.StorageError{Operation: "scan_envelope_owner", Key: layerID, Err: err}
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// upsertEnvelopeEntryTx writes one entry inside the caller's transaction
// so the entry lives and dies atomically with its owner.
func upsertEnvelopeEntryTx(ctx context.Context, tx *sql.Tx, e domain.EnvelopeEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO envelope_entries (owner_id, kind, layer_id, min_x, min_y, max_x, max_y)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			min_x = excluded.min_x, min_y = excluded.min_y,
			max_x = excluded.max_x, max_y = excluded.max_y`,
		e.OwnerID, string(e.Kind), e.LayerID,
		e.Envelope.MinX, e.Envelope.MinY, e.Envelope.MaxX, e.Envelope.MaxY,
	)
	if err != nil {
		return &domain.StorageError{Operation: "upsert_envelope_entry", Key: e.OwnerID, Err: mapTimeout(ctx, err)}
	}
	return nil
}
