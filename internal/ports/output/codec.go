package output

import "github.com/strata-gis/strata/internal/domain"

// RasterCodec defines the secondary port for tile payload encoding. The
// pyramid store is format-agnostic; payload bytes only pass through this
// port.
type RasterCodec interface {
	// Encode serializes a raster block into a tile payload.
	Encode(block domain.RasterBlock) ([]byte, error)

	// Decode deserializes a tile payload back into a raster block.
	Decode(payload []byte) (domain.RasterBlock, error)

	// Format names the payload encoding, for logging and manifests.
	Format() string
}
