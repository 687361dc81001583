package types

import (
	"math/bits"
	"strconv"
)

// CuboidID identifies a combination of dimensions. Bit i is set when the
// i-th dimension of the cube (in declaration order) is part of the cuboid.
type CuboidID uint64

// BaseCuboid returns the cuboid containing all n dimensions.
func BaseCuboid(n int) CuboidID {
	if n >= 64 {
		return CuboidID(^uint64(0))
	}
	return CuboidID(uint64(1)<<uint(n) - 1)
}

// CuboidOf builds the cuboid ID for the given dimension positions.
func CuboidOf(positions ...int) CuboidID {
	var id CuboidID
	for _, p := range positions {
		id |= 1 << uint(p)
	}
	return id
}

// Dimensions returns the number of dimensions in the cuboid.
func (c CuboidID) Dimensions() int {
	return bits.OnesCount64(uint64(c))
}

// Has reports whether dimension position p is part of the cuboid.
func (c CuboidID) Has(p int) bool {
	return c&(1<<uint(p)) != 0
}

// Covers reports whether every dimension of other is also in c, i.e. c can
// answer a query grouped by other's dimensions.
func (c CuboidID) Covers(other CuboidID) bool {
	return c&other == other
}

// String returns the cuboid ID in decimal.
func (c CuboidID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}
