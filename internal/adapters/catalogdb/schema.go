package catalogdb

import "github.com/strata-gis/strata/internal/migrate"

// MigrationPlan is the catalog's built-in schema sequence. The record
// table itself is bootstrapped by the engine outside this plan.
func MigrationPlan() *migrate.Plan {
	return migrate.MustPlan(
		migrate.Migration{
			Version: 1,
			Name:    "base layer and feature tables",
			Forward: `
CREATE TABLE layers (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL CHECK (kind IN ('vector', 'raster')),
	crs             TEXT NOT NULL,
	schema_version  INTEGER NOT NULL,
	env_min_x       REAL, env_min_y REAL, env_max_x REAL, env_max_y REAL,
	fp_min_x        REAL, fp_min_y REAL, fp_max_x REAL, fp_max_y REAL,
	ingest_complete INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
CREATE TABLE features (
	id         TEXT PRIMARY KEY,
	layer_id   TEXT NOT NULL REFERENCES layers(id) ON DELETE CASCADE,
	geometry   BLOB NOT NULL,
	min_x      REAL NOT NULL, min_y REAL NOT NULL,
	max_x      REAL NOT NULL, max_y REAL NOT NULL,
	attributes TEXT NOT NULL DEFAULT '{}'
);`,
			Reverse: `
DROP TABLE features;
DROP TABLE layers;`,
		},
		migrate.Migration{
			Version: 2,
			Name:    "tile pyramid table",
			Forward: `
CREATE TABLE tiles (
	layer_id TEXT NOT NULL REFERENCES layers(id) ON DELETE CASCADE,
	zoom     INTEGER NOT NULL,
	col      INTEGER NOT NULL,
	row      INTEGER NOT NULL,
	payload  BLOB NOT NULL,
	PRIMARY KEY (layer_id, zoom, col, row)
);`,
			Reverse: `DROP TABLE tiles;`,
		},
		migrate.Migration{
			Version: 3,
			Name:    "persisted envelope index entries",
			Forward: `
CREATE TABLE envelope_entries (
	owner_id TEXT PRIMARY KEY,
	kind     TEXT NOT NULL CHECK (kind IN ('feature', 'tile')),
	layer_id TEXT NOT NULL REFERENCES layers(id) ON DELETE CASCADE,
	min_x    REAL NOT NULL, min_y REAL NOT NULL,
	max_x    REAL NOT NULL, max_y REAL NOT NULL
);`,
			Reverse: `DROP TABLE envelope_entries;`,
		},
		migrate.Migration{
			Version: 4,
			Name:    "tile size, checksum and write timestamp",
			Forward: `
ALTER TABLE tiles ADD COLUMN size INTEGER NOT NULL DEFAULT 0;
ALTER TABLE tiles ADD COLUMN checksum TEXT NOT NULL DEFAULT '';
ALTER TABLE tiles ADD COLUMN written_at TIMESTAMP;`,
		},
		migrate.Migration{
			Version: 5,
			Name:    "covering indexes for region queries",
			Forward: `
CREATE INDEX idx_features_layer ON features(layer_id);
CREATE INDEX idx_envelope_layer ON envelope_entries(layer_id, kind);
CREATE INDEX idx_tiles_layer_zoom ON tiles(layer_id, zoom);`,
			Reverse: `
DROP INDEX idx_tiles_layer_zoom;
DROP INDEX idx_envelope_layer;
DROP INDEX idx_features_layer;`,
		},
	)
}
