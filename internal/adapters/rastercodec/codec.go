// Package rastercodec provides the encoding used for tiles the catalog
// produces itself, such as zero-filled level-0 synthesis: a little-endian
// binary block with a fixed magic header. Stored tile payloads are opaque
// bytes; this codec never gatekeeps ingested tiles, and any codec
// implementing the output port can replace it.
package rastercodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/strata-gis/strata/internal/domain"
	"github.com/strata-gis/strata/internal/ports/output"
)

const (
	magic      = "SRB1"
	headerSize = len(magic) + 8 // magic + width + height
)

// Codec implements output.RasterCodec with the SRB1 binary layout.
type Codec struct{}

var _ output.RasterCodec = (*Codec)(nil)

// New returns the default codec.
func New() *Codec {
	return &Codec{}
}

// Format implements output.RasterCodec.
func (c *Codec) Format() string {
	return "srb1"
}

// Encode implements output.RasterCodec.
func (c *Codec) Encode(block domain.RasterBlock) ([]byte, error) {
	if err := block.Validate(); err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+8*len(block.Values)))
	buf.WriteString(magic)

	var dims [8]byte
	binary.LittleEndian.PutUint32(dims[0:4], uint32(block.Width))
	binary.LittleEndian.PutUint32(dims[4:8], uint32(block.Height))
	buf.Write(dims[:])

	var sample [8]byte
	for _, v := range block.Values {
		binary.LittleEndian.PutUint64(sample[:], math.Float64bits(v))
		buf.Write(sample[:])
	}
	return buf.Bytes(), nil
}

// Decode implements output.RasterCodec.
func (c *Codec) Decode(payload []byte) (domain.RasterBlock, error) {
	if len(payload) < headerSize || string(payload[:len(magic)]) != magic {
		return domain.RasterBlock{}, fmt.Errorf("payload is not an %s block", magic)
	}

	width := int(binary.LittleEndian.Uint32(payload[len(magic) : len(magic)+4]))
	height := int(binary.LittleEndian.Uint32(payload[len(magic)+4 : headerSize]))
	body := payload[headerSize:]
	if len(body) != 8*width*height {
		return domain.RasterBlock{}, fmt.Errorf("truncated %s block: %d samples declared, %d bytes present",
			magic, width*height, len(body))
	}

	block := domain.RasterBlock{Width: width, Height: height, Values: make([]float64, width*height)}
	for i := range block.Values {
		bits := binary.LittleEndian.Uint64(body[8*i : 8*i+8])
		block.Values[i] = math.Float64frombits(bits)
	}
	if err := block.Validate(); err != nil {
		return domain.RasterBlock{}, err
	}
	return block, nil
}
