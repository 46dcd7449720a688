package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/strata-gis/strata/internal/domain"
)

// recordTableDDL bootstraps the migration record table. It lives outside
// the versioned sequence; the version primary key is what makes concurrent
// appliers of the same version lose cleanly.
const recordTableDDL = `
CREATE TABLE IF NOT EXISTS migration_records (
	version          INTEGER PRIMARY KEY,
	name             TEXT NOT NULL,
	applied_at       TIMESTAMP NOT NULL,
	forward_checksum TEXT NOT NULL,
	has_reverse      INTEGER NOT NULL
)`

// Engine drives the migration state machine over a plan. Each version
// moves Pending -> Applying -> Applied, or -> Failed, which halts the run
// without attempting later versions.
type Engine struct {
	db     *sql.DB
	plan   *Plan
	gate   Gate
	logger *slog.Logger
}

// NewEngine creates an engine for the given database and plan.
func NewEngine(db *sql.DB, plan *Plan, logger *slog.Logger) *Engine {
	return &Engine{db: db, plan: plan, logger: logger}
}

// Gate returns the engine's advisory gate.
func (e *Engine) Gate() *Gate {
	return &e.gate
}

// Plan returns the engine's plan.
func (e *Engine) Plan() *Plan {
	return e.plan
}

// EnsureRecordTable creates the migration record table if missing.
func (e *Engine) EnsureRecordTable(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, recordTableDDL); err != nil {
		return &domain.StorageError{Operation: "ensure_record_table", Err: mapTimeout(ctx, err)}
	}
	return nil
}

// Current reads the highest applied version from the record table. Every
// call goes to the table; the engine never caches the version across
// operations.
func (e *Engine) Current(ctx context.Context) (int64, error) {
	return currentVersion(ctx, e.db)
}

// Records returns the applied records in version order.
func (e *Engine) Records(ctx context.Context) ([]domain.MigrationRecord, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT version, name, applied_at, forward_checksum, has_reverse
		FROM migration_records ORDER BY version`)
	if err != nil {
		return nil, &domain.StorageError{Operation: "read_records", Err: mapTimeout(ctx, err)}
	}
	defer func() { _ = rows.Close() }()

	var records []domain.MigrationRecord
	for rows.Next() {
		var r domain.MigrationRecord
		var checksum string
		var hasReverse int
		if err := rows.Scan(&r.Version, &r.Name, &r.AppliedAt, &checksum, &hasReverse); err != nil {
			return nil, &domain.StorageError{Operation: "scan_record", Err: err}
		}
		_, _ = fmt.Sscanf(checksum, "%x", &r.ForwardChecksum)
		r.HasReverse = hasReverse != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// MigrateUp applies every pending migration up to the plan's latest
// version.
func (e *Engine) MigrateUp(ctx context.Context) error {
	return e.MigrateTo(ctx, e.plan.Latest())
}

// MigrateTo applies pending migrations in strict order until target is
// the current version. The run halts at the first failure; a target below
// the current version fails with domain.ErrVersionConflict (downgrades go
// through Revert).
func (e *Engine) MigrateTo(ctx context.Context, target int64) error {
	if err := e.EnsureRecordTable(ctx); err != nil {
		return err
	}
	if target != domain.Unversioned && !e.plan.Contains(target) {
		return fmt.Errorf("%w: unknown target version %d", domain.ErrInvalidInput, target)
	}

	current, err := e.Current(ctx)
	if err != nil {
		return err
	}
	if target < current {
		return fmt.Errorf("%w: target %d below current %d, use revert",
			domain.ErrVersionConflict, target, current)
	}
	if err := e.verifyAppliedPrefix(ctx, current); err != nil {
		return err
	}

	for _, m := range e.plan.pending(current, target) {
		if next := e.plan.next(current); m.Version != next {
			return &domain.MigrationError{
				Version: m.Version,
				State:   domain.MigrationPending,
				Err: fmt.Errorf("%w: version %d dispatched before %d",
					domain.ErrVersionConflict, m.Version, next),
			}
		}
		if err := e.applyOne(ctx, m, current); err != nil {
			return err
		}
		current = m.Version
	}
	return nil
}

// verifyAppliedPrefix checks that the applied records are exactly the
// plan's versions up to current: gap-free and strictly increasing. A
// record table that skipped a version fails with ErrVersionConflict.
func (e *Engine) verifyAppliedPrefix(ctx context.Context, current int64) error {
	records, err := e.Records(ctx)
	if err != nil {
		return err
	}
	i := 0
	for _, v := range e.plan.Versions() {
		if v > current {
			break
		}
		if i >= len(records) || records[i].Version != v {
			return fmt.Errorf("%w: record table is not a gap-free prefix of the plan (missing version %d)",
				domain.ErrVersionConflict, v)
		}
		i++
	}
	if i != len(records) {
		return fmt.Errorf("%w: record table holds version %d unknown to the applied prefix",
			domain.ErrVersionConflict, records[i].Version)
	}
	return nil
}

// applyOne runs one forward script and commits its record in the same
// transaction. The optimistic version check happens at the moment of
// transition, inside the transaction, not merely at startup.
func (e *Engine) applyOne(ctx context.Context, m Migration, believedCurrent int64) error {
	e.gate.begin(m.Version)
	defer e.gate.end()

	e.logger.Info("applying migration", "version", m.Version, "name", m.Name)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.MigrationError{Version: m.Version, State: domain.MigrationApplying,
			Err: &domain.StorageError{Operation: "begin", Err: mapTimeout(ctx, err)}}
	}
	defer func() { _ = tx.Rollback() }()

	recorded, err := currentVersionTx(ctx, tx)
	if err != nil {
		return &domain.MigrationError{Version: m.Version, State: domain.MigrationApplying, Err: err}
	}
	if recorded != believedCurrent {
		return &domain.MigrationError{
			Version: m.Version,
			State:   domain.MigrationApplying,
			Err: fmt.Errorf("%w: record table at %d, this process believed %d",
				domain.ErrVersionConflict, recorded, believedCurrent),
		}
	}

	if _, err := tx.ExecContext(ctx, m.Forward); err != nil {
		e.logger.Error("migration script failed", "version", m.Version, "error", err)
		return &domain.MigrationError{Version: m.Version, State: domain.MigrationFailed,
			Err: mapTimeout(ctx, err)}
	}

	hasReverse := 0
	if m.Reverse != "" {
		hasReverse = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO migration_records (version, name, applied_at, forward_checksum, has_reverse)
		VALUES (?, ?, ?, ?, ?)`,
		m.Version, m.Name, time.Now().UTC(), fmt.Sprintf("%016x", m.ForwardChecksum()), hasReverse)
	if err != nil {
		// A concurrent process that won the race leaves a primary key
		// violation behind; surface it as a version conflict.
		if isConstraintViolation(err) {
			return &domain.MigrationError{Version: m.Version, State: domain.MigrationApplying,
				Err: fmt.Errorf("%w: version %d already recorded by another process",
					domain.ErrVersionConflict, m.Version)}
		}
		return &domain.MigrationError{Version: m.Version, State: domain.MigrationFailed,
			Err: &domain.StorageError{Operation: "record_migration", Err: err}}
	}

	if err := tx.Commit(); err != nil {
		return &domain.MigrationError{Version: m.Version, State: domain.MigrationFailed,
			Err: &domain.StorageError{Operation: "commit", Err: mapTimeout(ctx, err)}}
	}

	e.logger.Info("migration applied", "version", m.Version)
	return nil
}

// Revert walks applied records backward down to target. Every record above
// target must declare a reverse script; otherwise the whole call fails
// with domain.ErrIrreversibleMigration before any script runs and the
// record table is left unchanged.
func (e *Engine) Revert(ctx context.Context, target int64) error {
	if err := e.EnsureRecordTable(ctx); err != nil {
		return err
	}

	current, err := e.Current(ctx)
	if err != nil {
		return err
	}
	if target > current {
		return fmt.Errorf("%w: target %d above current %d", domain.ErrVersionConflict, target, current)
	}
	if target == current {
		return nil
	}

	records, err := e.Records(ctx)
	if err != nil {
		return err
	}

	// Collect the downgrade path and refuse it wholesale if any step is
	// irreversible.
	var path []Migration
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.Version <= target {
			break
		}
		m, ok := e.plan.byVersion(r.Version)
		if !ok {
			return fmt.Errorf("%w: applied version %d missing from plan", domain.ErrVersionConflict, r.Version)
		}
		if !r.HasReverse || m.Reverse == "" {
			return fmt.Errorf("%w: version %d", domain.ErrIrreversibleMigration, r.Version)
		}
		path = append(path, m)
	}

	for _, m := range path {
		if err := e.revertOne(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// revertOne runs one reverse script and deletes its record in the same
// transaction, with the same optimistic check as applyOne.
func (e *Engine) revertOne(ctx context.Context, m Migration) error {
	e.gate.begin(m.Version)
	defer e.gate.end()

	e.logger.Info("reverting migration", "version", m.Version, "name", m.Name)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.MigrationError{Version: m.Version, State: domain.MigrationApplying,
			Err: &domain.StorageError{Operation: "begin", Err: mapTimeout(ctx, err)}}
	}
	defer func() { _ = tx.Rollback() }()

	recorded, err := currentVersionTx(ctx, tx)
	if err != nil {
		return &domain.MigrationError{Version: m.Version, State: domain.MigrationApplying, Err: err}
	}
	if recorded != m.Version {
		return &domain.MigrationError{
			Version: m.Version,
			State:   domain.MigrationApplying,
			Err: fmt.Errorf("%w: record table at %d while reverting %d",
				domain.ErrVersionConflict, recorded, m.Version),
		}
	}

	if _, err := tx.ExecContext(ctx, m.Reverse); err != nil {
		return &domain.MigrationError{Version: m.Version, State: domain.MigrationFailed,
			Err: mapTimeout(ctx, err)}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM migration_records WHERE version = ?`, m.Version); err != nil {
		return &domain.MigrationError{Version: m.Version, State: domain.MigrationFailed,
			Err: &domain.StorageError{Operation: "delete_record", Err: err}}
	}
	if err := tx.Commit(); err != nil {
		return &domain.MigrationError{Version: m.Version, State: domain.MigrationFailed,
			Err: &domain.StorageError{Operation: "commit", Err: mapTimeout(ctx, err)}}
	}

	e.logger.Info("migration reverted", "version", m.Version)
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func currentVersion(ctx context.Context, db *sql.DB) (int64, error) {
	return currentVersionTx(ctx, db)
}

func currentVersionTx(ctx context.Context, q queryRower) (int64, error) {
	var v sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT MAX(version) FROM migration_records`).Scan(&v)
	if err != nil {
		return domain.Unversioned, &domain.StorageError{Operation: "current_version", Err: mapTimeout(ctx, err)}
	}
	if !v.Valid {
		return domain.Unversioned, nil
	}
	return v.Int64, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// mapTimeout converts a context deadline expiry into the domain timeout
// error so callers see one taxonomy.
func mapTimeout(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return err
}
