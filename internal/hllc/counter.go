// Package hllc provides a mergeable HyperLogLog counter for approximate
// distinct counting. Counters are the unit of cuboid statistics: each build
// task owns its counters, and merging (register-wise max) is the only
// cross-task synchronisation point, so any partitioning and merge order of
// the input yields identical registers.
package hllc

import (
	"math"
	"math/bits"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/spaolacci/murmur3"
)

const (
	// MinPrecision and MaxPrecision bound the register count to [2^4, 2^18].
	MinPrecision = 4
	MaxPrecision = 18

	// DefaultPrecision gives 16384 registers, a standard error of ~0.81%.
	DefaultPrecision = 14
)

// two64 is 2^64 as a float, the size of the hash space.
const two64 = 18446744073709551616.0

// Counter is a HyperLogLog sketch with 2^precision registers. Each register
// holds the longest leading-zero run (+1) observed among hashes that fell
// into its bucket.
//
// Counter is not safe for concurrent mutation; give each goroutine its own
// counter and Merge the results.
type Counter struct {
	precision uint8
	registers []uint8
}

// New creates an empty counter with 2^precision registers.
func New(precision int) (*Counter, error) {
	if err := ValidatePrecision(precision); err != nil {
		return nil, err
	}
	return &Counter{
		precision: uint8(precision),
		registers: make([]uint8, 1<<uint(precision)),
	}, nil
}

// MustNew is like New but panics on an invalid precision.
func MustNew(precision int) *Counter {
	c, err := New(precision)
	if err != nil {
		panic(err)
	}
	return c
}

// ValidatePrecision checks that precision is within the supported range.
func ValidatePrecision(precision int) error {
	if precision < MinPrecision || precision > MaxPrecision {
		return cerrors.Newf(cerrors.ErrCategorySketch, cerrors.CodeInvalidPrecision,
			"precision %d out of range [%d, %d]", precision, MinPrecision, MaxPrecision)
	}
	return nil
}

// Precision returns the number of index bits.
func (c *Counter) Precision() int {
	return int(c.precision)
}

// Add ingests a value.
func (c *Counter) Add(value []byte) {
	c.AddHash(murmur3.Sum64(value))
}

// AddString ingests a string value.
func (c *Counter) AddString(value string) {
	c.Add([]byte(value))
}

// AddHash ingests a pre-computed 64-bit hash. The low precision bits pick
// the register; the leading-zero run of the remaining bits, plus one, is the
// candidate rank.
func (c *Counter) AddHash(hash uint64) {
	p := uint(c.precision)
	idx := hash & (uint64(1)<<p - 1)
	w := hash >> p
	rank := uint8(bits.LeadingZeros64(w) - int(p) + 1)
	if rank > c.registers[idx] {
		c.registers[idx] = rank
	}
}

// Merge folds other into c by taking the register-wise maximum. Counters of
// different precision cannot be merged; doing so would silently under-count.
func (c *Counter) Merge(other *Counter) error {
	if other == nil {
		return nil
	}
	if other.precision != c.precision {
		return cerrors.Newf(cerrors.ErrCategorySketch, cerrors.CodePrecisionMismatch,
			"cannot merge precision %d into precision %d", other.precision, c.precision)
	}
	for i, r := range other.registers {
		if r > c.registers[i] {
			c.registers[i] = r
		}
	}
	return nil
}

// Estimate returns the approximate number of distinct values ingested.
// The raw harmonic-mean estimate is replaced by linear counting in the small
// range and corrected for hash collisions in the large range.
func (c *Counter) Estimate() uint64 {
	m := float64(len(c.registers))

	sum := 0.0
	zeros := 0
	for _, r := range c.registers {
		sum += math.Ldexp(1, -int(r))
		if r == 0 {
			zeros++
		}
	}

	estimate := alpha(len(c.registers)) * m * m / sum

	switch {
	case estimate <= 2.5*m && zeros > 0:
		estimate = m * math.Log(m/float64(zeros))
	case estimate > two64/30:
		ratio := estimate / two64
		if ratio >= 1 {
			return math.MaxUint64
		}
		estimate = -two64 * math.Log(1-ratio)
	}

	if estimate < 0 {
		return 0
	}
	if estimate >= two64 {
		return math.MaxUint64
	}
	return uint64(math.Round(estimate))
}

// StandardError returns the theoretical relative standard error.
func (c *Counter) StandardError() float64 {
	return 1.04 / math.Sqrt(float64(len(c.registers)))
}

// Clear resets all registers to zero.
func (c *Counter) Clear() {
	for i := range c.registers {
		c.registers[i] = 0
	}
}

// Clone returns an independent copy of the counter.
func (c *Counter) Clone() *Counter {
	regs := make([]uint8, len(c.registers))
	copy(regs, c.registers)
	return &Counter{precision: c.precision, registers: regs}
}

// Registers returns a copy of the register array.
func (c *Counter) Registers() []uint8 {
	regs := make([]uint8, len(c.registers))
	copy(regs, c.registers)
	return regs
}

// Equal reports whether two counters have identical precision and registers.
func (c *Counter) Equal(other *Counter) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.precision != other.precision {
		return false
	}
	for i, r := range c.registers {
		if other.registers[i] != r {
			return false
		}
	}
	return true
}

// maxRank is the largest value a register can hold at precision p: a hash
// whose remaining 64-p bits are all zero.
func maxRank(p int) int {
	return 64 - p + 1
}

func alpha(m int) float64 {
	switch m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	default:
		return 0.7213 / (1 + 1.079/float64(m))
	}
}
