package domain

import "time"

// MigrationState tracks one version through a migration run.
type MigrationState string

const (
	MigrationPending  MigrationState = "pending"
	MigrationApplying MigrationState = "applying"
	MigrationApplied  MigrationState = "applied"
	MigrationFailed   MigrationState = "failed"
)

// Unversioned is the sentinel schema version of a catalog with no applied
// migration records.
const Unversioned int64 = 0

// MigrationRecord is one row of the migration record table. Applied records
// always form a gap-free, strictly increasing prefix of the known migration
// sequence.
type MigrationRecord struct {
	Version         int64     // Ordered version identifier
	Name            string    // Short description of the change
	AppliedAt       time.Time // Commit timestamp
	ForwardChecksum uint64    // Checksum of the forward script at apply time
	HasReverse      bool      // Whether a reverse script was declared
}
