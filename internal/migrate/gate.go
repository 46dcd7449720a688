package migrate

import (
	"fmt"
	"sync/atomic"

	"github.com/strata-gis/strata/internal/domain"
)

// Gate is the advisory migration gate. Components about to perform bulk
// structural writes call Check and back off with ErrMigrationInProgress
// while a migration step is applying; the gate never blocks and bounded
// retry is the caller's responsibility.
type Gate struct {
	applying atomic.Int64 // version currently applying, 0 when idle
}

// Check returns domain.ErrMigrationInProgress while a migration step is
// applying, nil otherwise.
func (g *Gate) Check() error {
	if v := g.applying.Load(); v != 0 {
		return fmt.Errorf("%w: applying version %d", domain.ErrMigrationInProgress, v)
	}
	return nil
}

// Applying reports the version currently applying, if any.
func (g *Gate) Applying() (int64, bool) {
	v := g.applying.Load()
	return v, v != 0
}

func (g *Gate) begin(version int64) {
	g.applying.Store(version)
}

func (g *Gate) end() {
	g.applying.Store(0)
}
