package domain

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestNewEnvelopeNormalizesCorners(t *testing.T) {
	e := NewEnvelope(3, 4, -1, -2)

	if e.MinX != -1 || e.MinY != -2 {
		t.Errorf("expected min (-1,-2), got (%g,%g)", e.MinX, e.MinY)
	}
	if e.MaxX != 3 || e.MaxY != 4 {
		t.Errorf("expected max (3,4), got (%g,%g)", e.MaxX, e.MaxY)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{
			name:    "valid envelope",
			env:     Envelope{MinX: -1, MinY: -1, MaxX: 1, MaxY: 1},
			wantErr: false,
		},
		{
			name:    "degenerate point envelope",
			env:     Envelope{MinX: 2, MinY: 2, MaxX: 2, MaxY: 2},
			wantErr: false,
		},
		{
			name:    "min exceeds max",
			env:     Envelope{MinX: 1, MinY: 0, MaxX: 0, MaxY: 1},
			wantErr: true,
		},
		{
			name:    "NaN coordinate",
			env:     Envelope{MinX: math.NaN(), MinY: 0, MaxX: 1, MaxY: 1},
			wantErr: true,
		},
		{
			name:    "infinite coordinate",
			env:     Envelope{MinX: 0, MinY: 0, MaxX: math.Inf(1), MaxY: 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvelopeIntersects(t *testing.T) {
	base := NewEnvelope(-1, -1, 1, 1)

	tests := []struct {
		name  string
		other Envelope
		want  bool
	}{
		{"overlapping", NewEnvelope(0, 0, 2, 2), true},
		{"contained", NewEnvelope(-0.5, -0.5, 0.5, 0.5), true},
		{"containing", NewEnvelope(-10, -10, 10, 10), true},
		{"touching edge", NewEnvelope(1, -1, 2, 1), true},
		{"touching corner", NewEnvelope(1, 1, 2, 2), true},
		{"disjoint", NewEnvelope(5, 5, 6, 6), false},
		{"disjoint on y only", NewEnvelope(-1, 3, 1, 4), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Intersects(tt.other); got != tt.want {
				t.Errorf("Intersects(%v) = %v, want %v", tt.other, got, tt.want)
			}
			// Intersection is symmetric.
			if got := tt.other.Intersects(base); got != tt.want {
				t.Errorf("reverse Intersects(%v) = %v, want %v", base, got, tt.want)
			}
		})
	}
}

func TestEnvelopeUnionContainsBoth(t *testing.T) {
	a := NewEnvelope(-1, -1, 0, 0)
	b := NewEnvelope(2, 3, 4, 5)
	u := a.Union(b)

	if !u.Contains(a) || !u.Contains(b) {
		t.Errorf("union %v does not contain both %v and %v", u, a, b)
	}
	if u != NewEnvelope(-1, -1, 4, 5) {
		t.Errorf("unexpected union %v", u)
	}
}

func TestEnvelopeFromBoundRoundTrip(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-1, -2}, Max: orb.Point{3, 4}}
	e := EnvelopeFromBound(b)

	if e.Bound() != b {
		t.Errorf("round trip mismatch: %v != %v", e.Bound(), b)
	}
}

func TestEnvelopeOfGeometry(t *testing.T) {
	line := orb.LineString{{0, 0}, {2, 1}, {1, 3}}
	e := EnvelopeOfGeometry(line)

	want := Envelope{MinX: 0, MinY: 0, MaxX: 2, MaxY: 3}
	if e != want {
		t.Errorf("EnvelopeOfGeometry = %v, want %v", e, want)
	}
}
