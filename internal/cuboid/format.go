package cuboid

import (
	"bytes"
	"encoding/binary"
	"sort"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/hllc"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/golang/snappy"
)

// Artifact layout (little endian):
//
//	magic           [4]byte "CBST"
//	version         uint8
//	flags           uint8   bit 0 degraded, bit 1 snappy-compressed body
//	precision       uint8
//	reserved        uint8
//	sampleRowCount  uint64
//	originalEntries uint32
//	entryCount      uint32
//	body            entryCount x (cuboid id uint64, serialized counter)
//
// Entries are sorted by cuboid id. Every counter has the header precision.

var magic = [4]byte{'C', 'B', 'S', 'T'}

const (
	formatVersion = 1
	headerSize    = 24

	flagDegraded   = 1 << 0
	flagCompressed = 1 << 1
)

func corrupt(format string, args ...interface{}) error {
	return cerrors.Newf(cerrors.ErrCategoryStatistics, cerrors.CodeStatsCorrupt, format, args...)
}

// Encode serializes statistics to the artifact format.
func Encode(s *Statistics, compress bool) ([]byte, error) {
	if err := hllc.ValidatePrecision(s.Precision); err != nil {
		return nil, err
	}
	original := s.OriginalEntries
	if original < len(s.Estimators) {
		original = len(s.Estimators)
	}

	ids := s.CuboidIDs()
	body := make([]byte, 0, len(ids)*(8+hllc.EncodedSize(s.Precision)))
	for _, id := range ids {
		c := s.Estimators[id]
		if c.Precision() != s.Precision {
			return nil, cerrors.Newf(cerrors.ErrCategorySketch, cerrors.CodePrecisionMismatch,
				"cuboid %d has precision %d, statistics precision is %d", id, c.Precision(), s.Precision)
		}
		body = binary.LittleEndian.AppendUint64(body, uint64(id))
		body = c.AppendBinary(body)
	}

	var flags byte
	if s.Degraded || original > len(ids) {
		flags |= flagDegraded
	}
	if compress {
		flags |= flagCompressed
		body = snappy.Encode(nil, body)
	}

	out := make([]byte, headerSize, headerSize+len(body))
	copy(out[0:4], magic[:])
	out[4] = formatVersion
	out[5] = flags
	out[6] = byte(s.Precision)
	binary.LittleEndian.PutUint64(out[8:16], uint64(s.SampleRowCount))
	binary.LittleEndian.PutUint32(out[16:20], uint32(original))
	binary.LittleEndian.PutUint32(out[20:24], uint32(len(ids)))
	return append(out, body...), nil
}

// Decode parses an artifact. Any inconsistency between header and body is
// reported as STATISTICS/STATS_CORRUPT.
func Decode(data []byte) (*Statistics, error) {
	if len(data) < headerSize {
		return nil, corrupt("artifact is %d bytes, header needs %d", len(data), headerSize)
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return nil, corrupt("bad magic %q", data[0:4])
	}
	if data[4] != formatVersion {
		return nil, corrupt("unsupported format version %d", data[4])
	}
	flags := data[5]
	precision := int(data[6])
	if err := hllc.ValidatePrecision(precision); err != nil {
		return nil, cerrors.NewStatisticsError(cerrors.CodeStatsCorrupt, "bad header precision", err)
	}
	sample := int64(binary.LittleEndian.Uint64(data[8:16]))
	original := int(binary.LittleEndian.Uint32(data[16:20]))
	count := int(binary.LittleEndian.Uint32(data[20:24]))
	if count > original {
		return nil, corrupt("entry count %d exceeds original count %d", count, original)
	}
	degraded := flags&flagDegraded != 0
	if degraded != (count < original) {
		return nil, corrupt("degraded flag disagrees with entry counts %d/%d", count, original)
	}

	body := data[headerSize:]
	if flags&flagCompressed != 0 {
		var err error
		if body, err = snappy.Decode(nil, body); err != nil {
			return nil, cerrors.NewStatisticsError(cerrors.CodeStatsCorrupt, "decompress body", err)
		}
	}

	entrySize := 8 + hllc.EncodedSize(precision)
	if len(body) != count*entrySize {
		return nil, corrupt("body is %d bytes, %d entries need %d", len(body), count, count*entrySize)
	}

	s := &Statistics{
		Precision:       precision,
		SampleRowCount:  sample,
		Estimators:      make(map[types.CuboidID]*hllc.Counter, count),
		Degraded:        degraded,
		OriginalEntries: original,
	}
	var prev types.CuboidID
	for i := 0; i < count; i++ {
		id := types.CuboidID(binary.LittleEndian.Uint64(body))
		if i > 0 && id <= prev {
			return nil, corrupt("cuboid ids out of order at entry %d", i)
		}
		c, n, err := hllc.Decode(body[8:])
		if err != nil {
			return nil, cerrors.NewStatisticsError(cerrors.CodeStatsCorrupt, "decode sketch", err)
		}
		if c.Precision() != precision {
			return nil, corrupt("cuboid %d has precision %d, header says %d", id, c.Precision(), precision)
		}
		s.Estimators[id] = c
		body = body[8+n:]
		prev = id
	}
	return s, nil
}

// degrade keeps the max entries with the highest estimates, breaking ties
// by the smaller cuboid id. The input map is not modified.
func degrade(estimators map[types.CuboidID]*hllc.Counter, max int) map[types.CuboidID]*hllc.Counter {
	type ranked struct {
		id       types.CuboidID
		estimate uint64
	}
	all := make([]ranked, 0, len(estimators))
	for id, c := range estimators {
		all = append(all, ranked{id: id, estimate: c.Estimate()})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].estimate != all[j].estimate {
			return all[i].estimate > all[j].estimate
		}
		return all[i].id < all[j].id
	})

	kept := make(map[types.CuboidID]*hllc.Counter, max)
	for _, r := range all[:max] {
		kept[r.id] = estimators[r.id]
	}
	return kept
}
