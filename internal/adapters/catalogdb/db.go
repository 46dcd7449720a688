// Package catalogdb provides the SQLite/SpatiaLite-backed catalog store.
package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/strata-gis/strata/internal/domain"
)

// Ensure sqlite3 driver is registered with extension support.
func init() {
	sql.Register("sqlite3_spatialite", &sqlite3.SQLiteDriver{
		Extensions: getSpatiaLiteLibraryPaths(),
	})
}

// getSpatiaLiteLibraryPaths returns a list of paths to try for loading
// SpatiaLite. The environment variable wins; platform paths follow.
func getSpatiaLiteLibraryPaths() []string {
	if envPath := os.Getenv("SPATIALITE_LIBRARY_PATH"); envPath != "" {
		return []string{envPath}
	}

	return []string{
		// Alpine Linux (Docker containers)
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/mod_spatialite.so.8",

		// Debian/Ubuntu amd64
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so.8",

		// Debian/Ubuntu arm64
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so.8",

		// macOS Homebrew
		"/usr/local/lib/mod_spatialite.dylib",
		"/opt/homebrew/lib/mod_spatialite.dylib",

		// Generic names resolved via LD_LIBRARY_PATH
		"mod_spatialite.so",
		"mod_spatialite",
		"mod_spatialite.dylib",
	}
}

// Store is the catalog's persistence layer. Geometries are stored as WKB
// blobs, so the store works without the SpatiaLite extension; when the
// extension loads, exact spatial predicates become available in SQL.
type Store struct {
	db         *sql.DB
	spatialite bool
}

// Open opens (or creates) the catalog database. The SpatiaLite extension
// is probed, not required.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3_spatialite", dsn)
	if err != nil {
		// Extension loading can fail outright on hosts without the
		// library; fall back to the plain driver.
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		// Retry on the plain driver: the extension driver pings lazily
		// and surfaces a missing library here.
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
		}
	}

	s := &Store{db: db}
	s.spatialite = s.probeSpatiaLite(ctx)
	return s, nil
}

// OpenMemory opens an in-memory catalog, used by tests and the migration
// dry-run path.
func OpenMemory(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: ":memory:", Err: err}
	}
	// In-memory databases vanish when their last connection closes.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "open", Key: ":memory:", Err: err}
	}
	s := &Store{db: db}
	s.spatialite = s.probeSpatiaLite(ctx)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for the migration engine, which shares the
// store's connection so its transactions and the store's serialize.
func (s *Store) DB() *sql.DB {
	return s.db
}

// HasSpatiaLite reports whether the SpatiaLite extension loaded.
func (s *Store) HasSpatiaLite() bool {
	return s.spatialite
}

// probeSpatiaLite checks for the extension by asking its version.
func (s *Store) probeSpatiaLite(ctx context.Context) bool {
	var version string
	err := s.db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version)
	return err == nil
}

// SpatiaLiteVersion returns the loaded extension version, if any.
func (s *Store) SpatiaLiteVersion(ctx context.Context) (string, bool) {
	var version string
	if err := s.db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version); err != nil {
		return "", false
	}
	return version, true
}

// withTx runs fn inside a transaction, rolling back on error. Context
// deadline expiry is surfaced as domain.ErrTimeout; the rollback ensures
// no partial write stays visible.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Operation: op, Err: mapTimeout(ctx, err)}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return mapTimeout(ctx, err)
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return &domain.StorageError{Operation: op, Err: mapTimeout(ctx, err)}
	}
	return nil
}

func mapTimeout(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return err
}

// CRSProvider resolves reference systems from SpatiaLite's spatial_ref_sys
// table. Only useful once InitSpatialMetaData has populated it.
type CRSProvider struct {
	store *Store
}

// NewCRSProvider builds a provider over the store. Returns nil when the
// extension is absent, which the registry treats as "no provider".
func (s *Store) NewCRSProvider() *CRSProvider {
	if !s.spatialite {
		return nil
	}
	return &CRSProvider{store: s}
}

// Lookup resolves an identifier against spatial_ref_sys.
func (p *CRSProvider) Lookup(identifier string) (domain.CRSDescriptor, error) {
	canonical := domain.CanonicalCRS(identifier)
	authority, code, ok := splitAuthorityCode(canonical)
	if !ok {
		return domain.CRSDescriptor{}, fmt.Errorf("%w: %s", domain.ErrUnknownCRS, identifier)
	}

	var name, proj4, wkt string
	err := p.store.db.QueryRow(`
		SELECT ref_sys_name, proj4text, COALESCE(srtext, '')
		FROM spatial_ref_sys
		WHERE auth_name = ? AND auth_srid = ?`,
		authority, code).Scan(&name, &proj4, &wkt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CRSDescriptor{}, fmt.Errorf("%w: %s", domain.ErrUnknownCRS, canonical)
		}
		return domain.CRSDescriptor{}, &domain.StorageError{Operation: "crs_lookup", Key: canonical, Err: err}
	}

	d := domain.CRSDescriptor{
		Identifier: canonical,
		Authority:  authority,
		Code:       code,
		Name:       name,
		WKT:        wkt,
		Projected:  !containsLongLat(proj4),
	}
	if d.Projected {
		d.Unit = "metre"
	} else {
		d.Unit = "degree"
	}
	return d, nil
}

func splitAuthorityCode(canonical string) (string, int, bool) {
	authority, codeStr, found := strings.Cut(canonical, ":")
	if !found || authority == "" {
		return "", 0, false
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return "", 0, false
	}
	return authority, code, true
}

func containsLongLat(proj4 string) bool {
	return strings.Contains(proj4, "+proj=longlat")
}
