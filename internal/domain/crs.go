package domain

import (
	"fmt"
	"strings"
)

// CRSDescriptor is a normalized coordinate reference system description.
// Descriptors are immutable once registered and cached process-wide;
// repeated resolution of the same identifier yields structurally equal
// descriptors.
type CRSDescriptor struct {
	Identifier string   // Canonical identifier, e.g. "EPSG:4326"
	Authority  string   // Authority name, e.g. "EPSG"
	Code       int      // Authority code
	Name       string   // Human-readable name
	Unit       string   // Coordinate unit (degree, metre)
	Projected  bool     // Projected vs geographic
	WKT        string   // Well-known text definition, when known
	Envelope   Envelope // Area of use in the system's own coordinates
}

// Equal reports structural equality. WKT whitespace is not normalized; the
// registry guarantees descriptors are built once and shared.
func (d CRSDescriptor) Equal(other CRSDescriptor) bool {
	return d == other
}

// CanonicalCRS normalizes a CRS identifier to AUTHORITY:CODE form. Bare
// integer codes default to the EPSG authority.
func CanonicalCRS(identifier string) string {
	s := strings.TrimSpace(identifier)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, ":") {
		return "EPSG:" + s
	}
	parts := strings.SplitN(s, ":", 2)
	return strings.ToUpper(parts[0]) + ":" + strings.TrimSpace(parts[1])
}

// FormatCRS builds a canonical identifier from authority and code.
func FormatCRS(authority string, code int) string {
	return fmt.Sprintf("%s:%d", strings.ToUpper(authority), code)
}
