package hllc

import (
	"math/bits"

	cerrors "github.com/arkilian/cubecore/internal/errors"
)

// The serialized form is fixed width:
//   - 1 byte: precision
//   - ceil(2^precision * width / 8) bytes: registers, bit-packed LSB first
//
// where width is the minimum number of bits able to hold maxRank(precision).
// The precision leads so a consumer can check compatibility before merging.

// RegisterWidth returns the packed bit width of one register.
func RegisterWidth(precision int) int {
	return bits.Len(uint(maxRank(precision)))
}

// EncodedSize returns the serialized size in bytes of a counter.
func EncodedSize(precision int) int {
	m := 1 << uint(precision)
	return 1 + (m*RegisterWidth(precision)+7)/8
}

// MarshalBinary encodes the counter.
func (c *Counter) MarshalBinary() ([]byte, error) {
	return c.AppendBinary(nil), nil
}

// AppendBinary appends the encoded counter to buf.
func (c *Counter) AppendBinary(buf []byte) []byte {
	p := int(c.precision)
	width := uint(RegisterWidth(p))
	size := EncodedSize(p)

	start := len(buf)
	buf = append(buf, make([]byte, size)...)
	out := buf[start:]
	out[0] = c.precision

	packed := out[1:]
	bitPos := uint(0)
	for _, r := range c.registers {
		v := uint(r)
		for written := uint(0); written < width; {
			byteIdx := bitPos / 8
			offset := bitPos % 8
			n := 8 - offset
			if n > width-written {
				n = width - written
			}
			chunk := (v >> written) & (1<<n - 1)
			packed[byteIdx] |= byte(chunk << offset)
			written += n
			bitPos += n
		}
	}
	return buf
}

// UnmarshalBinary decodes data into c, replacing its precision and registers.
func (c *Counter) UnmarshalBinary(data []byte) error {
	decoded, n, err := Decode(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return cerrors.Newf(cerrors.ErrCategorySketch, cerrors.CodeCorruptSketch,
			"trailing %d bytes after counter", len(data)-n)
	}
	*c = *decoded
	return nil
}

// Decode reads one counter from the front of data and returns it together
// with the number of bytes consumed.
func Decode(data []byte) (*Counter, int, error) {
	if len(data) < 1 {
		return nil, 0, cerrors.NewSketchError(cerrors.CodeCorruptSketch, "empty counter data")
	}
	p := int(data[0])
	if err := ValidatePrecision(p); err != nil {
		return nil, 0, cerrors.Wrap(cerrors.ErrCategorySketch, cerrors.CodeCorruptSketch,
			"invalid serialized precision", err)
	}
	size := EncodedSize(p)
	if len(data) < size {
		return nil, 0, cerrors.Newf(cerrors.ErrCategorySketch, cerrors.CodeCorruptSketch,
			"counter of precision %d needs %d bytes, got %d", p, size, len(data))
	}

	width := uint(RegisterWidth(p))
	limit := uint8(maxRank(p))
	packed := data[1:size]
	registers := make([]uint8, 1<<uint(p))

	bitPos := uint(0)
	for i := range registers {
		var v uint
		for read := uint(0); read < width; {
			byteIdx := bitPos / 8
			offset := bitPos % 8
			n := 8 - offset
			if n > width-read {
				n = width - read
			}
			chunk := (uint(packed[byteIdx]) >> offset) & (1<<n - 1)
			v |= chunk << read
			read += n
			bitPos += n
		}
		if uint8(v) > limit {
			return nil, 0, cerrors.Newf(cerrors.ErrCategorySketch, cerrors.CodeCorruptSketch,
				"register %d holds %d, above maximum %d", i, v, limit)
		}
		registers[i] = uint8(v)
	}

	return &Counter{precision: uint8(p), registers: registers}, size, nil
}
