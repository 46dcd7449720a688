// Package crs resolves coordinate reference system identifiers to
// normalized descriptors.
package crs

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/strata-gis/strata/internal/domain"
)

// Provider resolves descriptors the registry does not know built-in.
// Implementations are treated as pure functions: same identifier, same
// descriptor. The catalog database offers one backed by spatial_ref_sys.
type Provider interface {
	Lookup(identifier string) (domain.CRSDescriptor, error)
}

const cacheSize = 256

// Registry caches resolved descriptors for the process lifetime. The cache
// is only invalidated by an explicit Reload.
type Registry struct {
	mu       sync.RWMutex
	cache    *lru.Cache[string, domain.CRSDescriptor]
	custom   map[string]domain.CRSDescriptor
	provider Provider
}

// NewRegistry creates a registry with the built-in EPSG descriptor set and
// an optional fallback provider (may be nil).
func NewRegistry(provider Provider) *Registry {
	cache, _ := lru.New[string, domain.CRSDescriptor](cacheSize)
	return &Registry{
		cache:    cache,
		custom:   make(map[string]domain.CRSDescriptor),
		provider: provider,
	}
}

// Resolve maps an identifier ("4326" or "EPSG:4326") to its descriptor.
// Fails with domain.ErrUnknownCRS when neither the built-ins, custom
// registrations, nor the provider recognize it.
func (r *Registry) Resolve(identifier string) (domain.CRSDescriptor, error) {
	canonical := domain.CanonicalCRS(identifier)
	if canonical == "" {
		return domain.CRSDescriptor{}, fmt.Errorf("%w: empty identifier", domain.ErrUnknownCRS)
	}

	if d, ok := r.cache.Get(canonical); ok {
		return d, nil
	}

	r.mu.RLock()
	d, ok := r.custom[canonical]
	r.mu.RUnlock()
	if ok {
		r.cache.Add(canonical, d)
		return d, nil
	}

	if d, ok := builtinDescriptor(canonical); ok {
		r.cache.Add(canonical, d)
		return d, nil
	}

	if r.provider != nil {
		d, err := r.provider.Lookup(canonical)
		if err == nil {
			r.cache.Add(canonical, d)
			return d, nil
		}
	}

	return domain.CRSDescriptor{}, fmt.Errorf("%w: %s", domain.ErrUnknownCRS, canonical)
}

// MustResolve is Resolve for identifiers known at wiring time; it panics on
// failure.
func (r *Registry) MustResolve(identifier string) domain.CRSDescriptor {
	d, err := r.Resolve(identifier)
	if err != nil {
		panic(err)
	}
	return d
}

// Register adds a custom descriptor. Descriptors are immutable: registering
// the same identifier again with different parameters fails with
// domain.ErrCRSAlreadyRegistered, while re-registering an equal descriptor
// is a no-op.
func (r *Registry) Register(d domain.CRSDescriptor) error {
	canonical := domain.CanonicalCRS(d.Identifier)
	if canonical == "" {
		return fmt.Errorf("%w: descriptor has no identifier", domain.ErrInvalidInput)
	}
	d.Identifier = canonical

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.custom[canonical]; ok {
		if existing.Equal(d) {
			return nil
		}
		return fmt.Errorf("%w: %s", domain.ErrCRSAlreadyRegistered, canonical)
	}
	if b, ok := builtinDescriptor(canonical); ok && !b.Equal(d) {
		return fmt.Errorf("%w: %s", domain.ErrCRSAlreadyRegistered, canonical)
	}

	r.custom[canonical] = d
	return nil
}

// Reload drops the resolution cache. Custom registrations survive; only
// cached provider and built-in lookups are re-resolved on next use.
func (r *Registry) Reload() {
	r.cache.Purge()
}
