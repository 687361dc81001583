package cuboid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/hllc"
	"github.com/arkilian/cubecore/internal/logging"
	"github.com/arkilian/cubecore/internal/storage"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/rs/zerolog"
)

// StoreOptions configures a Store.
type StoreOptions struct {
	// Precision of empty statistics; non-empty inputs carry their own.
	Precision int
	// MaxEntries caps the entries written per artifact.
	MaxEntries int
	// Compress enables snappy compression of the artifact body.
	Compress bool
	// WorkDir holds staged uploads and downloads. Defaults to os.TempDir().
	WorkDir string
	Logger  *zerolog.Logger
}

// Store writes and reads statistics artifacts through object storage.
type Store struct {
	storage storage.ObjectStorage
	opts    StoreOptions
	logger  zerolog.Logger
}

// WriteResult describes a published artifact.
type WriteResult struct {
	Path            string
	Entries         int
	OriginalEntries int
	Degraded        bool
	SizeBytes       int
}

// NewStore creates a Store.
func NewStore(objects storage.ObjectStorage, opts StoreOptions) *Store {
	if opts.Precision == 0 {
		opts.Precision = hllc.DefaultPrecision
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	logger := logging.Component("cuboid-stats")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Store{storage: objects, opts: opts, logger: logger}
}

// WriteCuboidStatistics publishes the cuboid to estimator mapping together
// with the sample row count at dest, replacing any existing artifact. When
// the mapping exceeds MaxEntries only the highest-estimate entries are kept
// and the artifact is marked degraded.
func (s *Store) WriteCuboidStatistics(ctx context.Context, dest string, estimators map[types.CuboidID]*hllc.Counter, sampleRowCount int64) (*WriteResult, error) {
	precision := s.opts.Precision
	for _, c := range estimators {
		precision = c.Precision()
		break
	}

	stats := &Statistics{
		Precision:       precision,
		SampleRowCount:  sampleRowCount,
		Estimators:      estimators,
		OriginalEntries: len(estimators),
	}
	if s.opts.MaxEntries > 0 && len(estimators) > s.opts.MaxEntries {
		stats.Estimators = degrade(estimators, s.opts.MaxEntries)
		stats.Degraded = true
		s.logger.Warn().
			Str("path", dest).
			Int("entries", len(estimators)).
			Int("max_entries", s.opts.MaxEntries).
			Msg("cuboid statistics exceed cap, keeping highest cardinality entries")
	}

	data, err := Encode(stats, s.opts.Compress)
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, dest, data); err != nil {
		return nil, err
	}

	s.logger.Debug().Str("path", dest).Int("entries", stats.Len()).Int("bytes", len(data)).Msg("published cuboid statistics")
	return &WriteResult{
		Path:            dest,
		Entries:         stats.Len(),
		OriginalEntries: stats.OriginalEntries,
		Degraded:        stats.Degraded,
		SizeBytes:       len(data),
	}, nil
}

// publish stages data in a local temporary file and uploads it.
func (s *Store) publish(ctx context.Context, dest string, data []byte) error {
	if err := os.MkdirAll(s.opts.WorkDir, 0755); err != nil {
		return cerrors.NewStorageError(cerrors.CodeUploadFailed, "create work dir", err)
	}
	staged := storage.TempPath(filepath.Join(s.opts.WorkDir, filepath.Base(dest)))
	if err := os.WriteFile(staged, data, 0644); err != nil {
		return cerrors.NewStorageError(cerrors.CodeUploadFailed, "stage artifact", err)
	}
	defer os.Remove(staged)

	return s.storage.Upload(ctx, staged, dest)
}

// ReadCuboidStatistics reads the artifact at src. A missing artifact is
// STATISTICS/STATS_NOT_FOUND; a malformed one STATISTICS/STATS_CORRUPT.
func (s *Store) ReadCuboidStatistics(ctx context.Context, src string) (*Statistics, error) {
	local := storage.TempPath(filepath.Join(s.opts.WorkDir, filepath.Base(src)))
	defer os.Remove(local)

	if err := s.storage.Download(ctx, src, local); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, cerrors.NewStatisticsError(cerrors.CodeStatsNotFound,
				fmt.Sprintf("no cuboid statistics at %s", src), err)
		}
		return nil, err
	}
	return ReadFile(local)
}

// ReadFile decodes an artifact from the local filesystem.
func ReadFile(path string) (*Statistics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cerrors.NewStatisticsError(cerrors.CodeStatsNotFound, "no cuboid statistics at "+path, err)
		}
		return nil, cerrors.NewInternalError("read statistics", err)
	}
	return Decode(data)
}
