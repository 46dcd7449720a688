package domain

// RasterBlock is one decoded tile worth of raster samples in row-major
// order. The catalog core never interprets the samples; it only moves
// blocks through the codec port.
type RasterBlock struct {
	Width  int
	Height int
	Values []float64
}

// ZeroBlock builds a block of the given dimensions with every sample
// zero, used when a coarse tile has to be synthesized for coverage.
func ZeroBlock(width, height int) RasterBlock {
	return RasterBlock{
		Width:  width,
		Height: height,
		Values: make([]float64, width*height),
	}
}

// Validate checks block dimensions against the sample count.
func (b RasterBlock) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return &ValidationError{
			Field:      "width/height",
			Value:      [2]int{b.Width, b.Height},
			Constraint: "> 0",
			Message:    "raster block dimensions must be positive",
		}
	}
	if len(b.Values) != b.Width*b.Height {
		return &ValidationError{
			Field:      "values",
			Value:      len(b.Values),
			Constraint: "width * height samples",
			Message:    "raster block sample count does not match dimensions",
		}
	}
	return nil
}
