package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// TileKey addresses one tile within a layer's pyramid.
type TileKey struct {
	LayerID string
	Zoom    int
	Col     int
	Row     int
}

// String encodes the key as layer/z/x/y. The encoding doubles as the
// envelope index owner id for tiles.
func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.LayerID, k.Zoom, k.Col, k.Row)
}

// ParseTileKey decodes a layer/z/x/y owner id back into a key. Layer
// identifiers may not contain '/', so the last three segments are always
// the coordinates.
func ParseTileKey(s string) (TileKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 4 {
		return TileKey{}, fmt.Errorf("malformed tile key %q", s)
	}
	zoom, err1 := strconv.Atoi(parts[len(parts)-3])
	col, err2 := strconv.Atoi(parts[len(parts)-2])
	row, err3 := strconv.Atoi(parts[len(parts)-1])
	if err1 != nil || err2 != nil || err3 != nil {
		return TileKey{}, fmt.Errorf("malformed tile key %q", s)
	}
	key := TileKey{
		LayerID: strings.Join(parts[:len(parts)-3], "/"),
		Zoom:    zoom,
		Col:     col,
		Row:     row,
	}
	if err := key.Validate(); err != nil {
		return TileKey{}, err
	}
	return key, nil
}

// Ancestor returns the key of the cell covering this one at a coarser
// zoom level.
func (k TileKey) Ancestor(zoom int) TileKey {
	if zoom >= k.Zoom {
		return k
	}
	shift := uint(k.Zoom - zoom)
	return TileKey{LayerID: k.LayerID, Zoom: zoom, Col: k.Col >> shift, Row: k.Row >> shift}
}

// Validate checks that the key addresses a cell inside the pyramid grid,
// where zoom z holds a 2^z by 2^z grid.
func (k TileKey) Validate() error {
	if k.LayerID == "" {
		return &ValidationError{
			Field:      "layer_id",
			Value:      k.LayerID,
			Constraint: "non-empty",
			Message:    "tile key must name a layer",
		}
	}
	if k.Zoom < 0 {
		return &ValidationError{
			Field:      "zoom",
			Value:      k.Zoom,
			Constraint: ">= 0",
			Message:    "zoom level must not be negative",
		}
	}
	n := 1 << uint(k.Zoom)
	if k.Col < 0 || k.Col >= n || k.Row < 0 || k.Row >= n {
		return &ValidationError{
			Field:      "col/row",
			Value:      fmt.Sprintf("%d/%d", k.Col, k.Row),
			Constraint: fmt.Sprintf("0 <= v < %d", n),
			Message:    "tile coordinates outside the zoom level grid",
		}
	}
	return nil
}

// Tile is one stored raster cell. The payload is opaque bytes in the
// producer's format. Overlapping writes to the same key are
// last-write-wins; there is no partial-tile merge.
type Tile struct {
	Key       TileKey
	Payload   []byte    // Opaque raster bytes
	Size      int64     // Payload byte size
	Checksum  uint64    // xxhash64 of the payload
	WrittenAt time.Time // Write timestamp
}

// TileChecksum computes the content checksum of a payload.
func TileChecksum(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// NewTile builds a tile with its size and checksum computed.
func NewTile(key TileKey, payload []byte, now time.Time) Tile {
	return Tile{
		Key:       key,
		Payload:   payload,
		Size:      int64(len(payload)),
		Checksum:  TileChecksum(payload),
		WrittenAt: now,
	}
}
