package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncQueryCount increments the region query counter.
	IncQueryCount(layerID string, success bool)

	// ObserveQueryDuration records region query duration.
	ObserveQueryDuration(layerID string, duration time.Duration)

	// IncIngestCount increments the ingest counter for features or tiles.
	IncIngestCount(layerID string, kind string, success bool)

	// AddTileBytes accumulates tile payload bytes written.
	AddTileBytes(layerID string, n int64)

	// SetLayersRegistered sets the number of registered layers.
	SetLayersRegistered(count int)

	// SetSchemaVersion sets the current applied schema version.
	SetSchemaVersion(version int64)

	// IncMigrationCount increments the migration step counter.
	IncMigrationCount(direction string, success bool)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncQueryCount implements MetricsCollector.
func (n *NoOpMetrics) IncQueryCount(_ string, _ bool) {}

// ObserveQueryDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveQueryDuration(_ string, _ time.Duration) {}

// IncIngestCount implements MetricsCollector.
func (n *NoOpMetrics) IncIngestCount(_ string, _ string, _ bool) {}

// AddTileBytes implements MetricsCollector.
func (n *NoOpMetrics) AddTileBytes(_ string, _ int64) {}

// SetLayersRegistered implements MetricsCollector.
func (n *NoOpMetrics) SetLayersRegistered(_ int) {}

// SetSchemaVersion implements MetricsCollector.
func (n *NoOpMetrics) SetSchemaVersion(_ int64) {}

// IncMigrationCount implements MetricsCollector.
func (n *NoOpMetrics) IncMigrationCount(_ string, _ bool) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
