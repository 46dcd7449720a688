package pyramid

import (
	"context"
	"errors"

	"github.com/strata-gis/strata/internal/domain"
)

// TileCursor walks the result of a region query lazily, fetching one
// payload per Next call. The key list is fixed when the cursor is built;
// tiles dropped underneath the cursor are skipped, not surfaced as
// errors.
type TileCursor struct {
	tiles TileStore
	keys  []domain.TileKey
	pos   int
}

// Next fetches the next intersecting tile. The second return value is
// false when the cursor is exhausted.
func (c *TileCursor) Next(ctx context.Context) (domain.Tile, bool, error) {
	for c.pos < len(c.keys) {
		key := c.keys[c.pos]
		c.pos++

		tile, err := c.tiles.GetTile(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrTileNotFound) {
				continue
			}
			return domain.Tile{}, false, err
		}
		return tile, true, nil
	}
	return domain.Tile{}, false, nil
}

// Restart rewinds the cursor to its first key.
func (c *TileCursor) Restart() {
	c.pos = 0
}

// Len returns the number of candidate keys the cursor covers.
func (c *TileCursor) Len() int {
	return len(c.keys)
}

// Keys returns a copy of the candidate keys in cursor order.
func (c *TileCursor) Keys() []domain.TileKey {
	out := make([]domain.TileKey, len(c.keys))
	copy(out, c.keys)
	return out
}
