package application

import (
	"context"

	"github.com/strata-gis/strata/internal/domain"
	"github.com/strata-gis/strata/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	catalog *Catalog
}

// NewHealthService creates a new health service.
func NewHealthService(catalog *Catalog) *HealthService {
	return &HealthService{
		catalog: catalog,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(ctx context.Context) bool {
	return !s.catalog.closed.Load()
}

// IsReady returns true if the service is ready to accept requests. The
// catalog is not ready while a migration is applying or once closed.
func (s *HealthService) IsReady(ctx context.Context) bool {
	if s.catalog.closed.Load() {
		return false
	}
	if _, applying := s.catalog.Gate().Applying(); applying {
		return false
	}
	if _, err := s.catalog.SchemaVersion(ctx); err != nil {
		return false
	}
	return true
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	version := domain.Unversioned
	database := "ok"
	if v, err := s.catalog.SchemaVersion(ctx); err == nil {
		version = v
	} else {
		database = err.Error()
	}

	layers := 0
	if all, err := s.catalog.ListLayers(ctx); err == nil {
		layers = len(all)
	}

	_, applying := s.catalog.Gate().Applying()

	return input.HealthDetails{
		Healthy:           s.IsHealthy(ctx),
		Ready:             s.IsReady(ctx),
		Layers:            layers,
		SchemaVersion:     version,
		MigrationApplying: applying,
		Components: map[string]string{
			"database": database,
		},
	}
}
