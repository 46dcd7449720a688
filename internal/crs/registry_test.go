package crs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/strata-gis/strata/internal/domain"
)

func TestResolveBuiltins(t *testing.T) {
	r := NewRegistry(nil)

	tests := []struct {
		identifier string
		wantCode   int
		wantUnit   string
	}{
		{"4326", 4326, "degree"},
		{"EPSG:4326", 4326, "degree"},
		{"epsg:3857", 3857, "metre"},
		{"28992", 28992, "metre"},
	}

	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			d, err := r.Resolve(tt.identifier)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.identifier, err)
			}
			if d.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", d.Code, tt.wantCode)
			}
			if d.Unit != tt.wantUnit {
				t.Errorf("Unit = %q, want %q", d.Unit, tt.wantUnit)
			}
		})
	}
}

func TestResolveUnknownCRS(t *testing.T) {
	r := NewRegistry(nil)

	for _, id := range []string{"999999", "EPSG:999999", "", "CUSTOM:abc"} {
		_, err := r.Resolve(id)
		if !errors.Is(err, domain.ErrUnknownCRS) {
			t.Errorf("Resolve(%q) error = %v, want ErrUnknownCRS", id, err)
		}
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)

	first, err := r.Resolve("EPSG:4326")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve("4326")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(second) {
		t.Errorf("repeated resolution not structurally equal: %v vs %v", first, second)
	}
}

// countingProvider counts lookups so tests can observe cache behavior.
type countingProvider struct {
	calls int
	known map[string]domain.CRSDescriptor
}

func (p *countingProvider) Lookup(identifier string) (domain.CRSDescriptor, error) {
	p.calls++
	if d, ok := p.known[identifier]; ok {
		return d, nil
	}
	return domain.CRSDescriptor{}, fmt.Errorf("%w: %s", domain.ErrUnknownCRS, identifier)
}

func TestProviderResultsAreCached(t *testing.T) {
	p := &countingProvider{known: map[string]domain.CRSDescriptor{
		"EPSG:2154": {Identifier: "EPSG:2154", Authority: "EPSG", Code: 2154, Unit: "metre", Projected: true},
	}}
	r := NewRegistry(p)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve("2154"); err != nil {
			t.Fatalf("Resolve error on attempt %d: %v", i, err)
		}
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1 (cache miss only)", p.calls)
	}
}

func TestReloadInvalidatesCache(t *testing.T) {
	p := &countingProvider{known: map[string]domain.CRSDescriptor{
		"EPSG:2154": {Identifier: "EPSG:2154", Authority: "EPSG", Code: 2154},
	}}
	r := NewRegistry(p)

	if _, err := r.Resolve("2154"); err != nil {
		t.Fatal(err)
	}
	r.Reload()
	if _, err := r.Resolve("2154"); err != nil {
		t.Fatal(err)
	}
	if p.calls != 2 {
		t.Errorf("provider called %d times after Reload, want 2", p.calls)
	}
}

func TestRegisterCustomDescriptor(t *testing.T) {
	r := NewRegistry(nil)
	custom := domain.CRSDescriptor{
		Identifier: "STRATA:1",
		Authority:  "STRATA",
		Code:       1,
		Name:       "site grid",
		Unit:       "metre",
		Projected:  true,
	}

	if err := r.Register(custom); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	got, err := r.Resolve("STRATA:1")
	if err != nil {
		t.Fatalf("Resolve after Register: %v", err)
	}
	if !got.Equal(custom) {
		t.Errorf("resolved %v, want %v", got, custom)
	}

	// Identical re-registration is a no-op.
	if err := r.Register(custom); err != nil {
		t.Errorf("re-registering equal descriptor: %v", err)
	}

	// Conflicting re-registration fails; descriptors are immutable.
	conflicting := custom
	conflicting.Unit = "degree"
	if err := r.Register(conflicting); !errors.Is(err, domain.ErrCRSAlreadyRegistered) {
		t.Errorf("conflicting Register error = %v, want ErrCRSAlreadyRegistered", err)
	}
}

func TestRegisterCannotShadowBuiltin(t *testing.T) {
	r := NewRegistry(nil)
	fake := domain.CRSDescriptor{Identifier: "EPSG:4326", Authority: "EPSG", Code: 4326, Unit: "metre"}

	if err := r.Register(fake); !errors.Is(err, domain.ErrCRSAlreadyRegistered) {
		t.Errorf("Register over builtin error = %v, want ErrCRSAlreadyRegistered", err)
	}
}
