// Package migrate applies ordered, versioned schema changes to the
// catalog's persisted tables and records them in the migration record
// table, which is the single source of truth for the current version.
package migrate

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/strata-gis/strata/internal/domain"
)

// Migration is one versioned schema change. Reverse is optional; a
// migration without one cannot be reverted.
type Migration struct {
	Version int64  // Ordered version identifier, > 0
	Name    string // Short description
	Forward string // Forward SQL script
	Reverse string // Reverse SQL script, empty when irreversible
}

// ForwardChecksum returns the content checksum of the forward script.
func (m Migration) ForwardChecksum() uint64 {
	return xxhash.Sum64String(m.Forward)
}

// Plan is the known migration sequence. The explicit list is checked at
// definition time: versions strictly increasing, every forward script
// present.
type Plan struct {
	migrations []Migration
}

// NewPlan validates and builds a plan.
func NewPlan(migrations ...Migration) (*Plan, error) {
	var prev int64
	for _, m := range migrations {
		if m.Version <= prev {
			return nil, fmt.Errorf("%w: migration versions must be strictly increasing, got %d after %d",
				domain.ErrInvalidInput, m.Version, prev)
		}
		if m.Forward == "" {
			return nil, fmt.Errorf("%w: migration %d has no forward script",
				domain.ErrInvalidInput, m.Version)
		}
		prev = m.Version
	}
	return &Plan{migrations: migrations}, nil
}

// MustPlan is NewPlan for plans declared in code; it panics on failure.
func MustPlan(migrations ...Migration) *Plan {
	p, err := NewPlan(migrations...)
	if err != nil {
		panic(err)
	}
	return p
}

// Latest returns the highest version in the plan, or domain.Unversioned
// for an empty plan.
func (p *Plan) Latest() int64 {
	if len(p.migrations) == 0 {
		return domain.Unversioned
	}
	return p.migrations[len(p.migrations)-1].Version
}

// Contains reports whether the plan declares the version.
func (p *Plan) Contains(version int64) bool {
	_, ok := p.byVersion(version)
	return ok
}

// Versions lists the plan's versions in order.
func (p *Plan) Versions() []int64 {
	out := make([]int64, len(p.migrations))
	for i, m := range p.migrations {
		out[i] = m.Version
	}
	return out
}

// pending returns the migrations in (current, target], in apply order.
func (p *Plan) pending(current, target int64) []Migration {
	var out []Migration
	for _, m := range p.migrations {
		if m.Version > current && m.Version <= target {
			out = append(out, m)
		}
	}
	return out
}

// next returns the first plan version strictly above current, or
// domain.Unversioned when current is at or past the plan's end.
func (p *Plan) next(current int64) int64 {
	for _, m := range p.migrations {
		if m.Version > current {
			return m.Version
		}
	}
	return domain.Unversioned
}

func (p *Plan) byVersion(version int64) (Migration, bool) {
	for _, m := range p.migrations {
		if m.Version == version {
			return m, true
		}
	}
	return Migration{}, false
}
