package http

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arkilian/cubecore/internal/cuboid"
	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/hllc"
	"github.com/arkilian/cubecore/internal/logging"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	stats *cuboid.Statistics
	err   error
}

func (s staticSource) Read(context.Context, string) (*cuboid.Statistics, error) {
	return s.stats, s.err
}

var statsDims = []types.Column{types.NewColumn("SALES", "REGION"), types.NewColumn("SALES", "YEAR")}

func counterWith(values ...string) *hllc.Counter {
	c := hllc.MustNew(10)
	for _, v := range values {
		c.AddString(v)
	}
	return c
}

func getStatistics(t *testing.T, src StatisticsSource, query string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewStatisticsHandler(src, "statistics/cuboid_statistics.seq", statsDims)
	qh := NewQueryHandler(&recordingEngine{}, salesCube(), QueryHandlerConfig{})
	rec := httptest.NewRecorder()
	NewRouter(qh, h, logging.Nop(), "cube-query").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/statistics"+query, nil))
	return rec
}

func TestStatisticsHandler_SelectsSmallestCoveringCuboid(t *testing.T) {
	stats := cuboid.NewStatistics(10)
	stats.SampleRowCount = 5
	stats.Estimators[types.CuboidOf(0)] = counterWith("EU", "US")
	stats.Estimators[types.CuboidOf(0, 1)] = counterWith("EU|2020", "EU|2021", "US|2021", "EU|2022", "US|2022")
	wantRows := stats.Estimators[types.CuboidOf(0)].Estimate()

	rec := getStatistics(t, staticSource{stats: stats}, "?dimensions=region")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp StatisticsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Available)
	assert.Equal(t, 2, resp.Entries)
	assert.Equal(t, uint64(1), resp.Requested)
	assert.Equal(t, uint64(1), resp.Selected)
	assert.Equal(t, wantRows, resp.EstimatedRows)
	assert.Equal(t, int64(wantRows)*defaultBytesPerRow, resp.EstimatedMemory)
}

func TestStatisticsHandler_MissingArtifactAssumesWorstCase(t *testing.T) {
	src := staticSource{err: cerrors.NewStatisticsError(cerrors.CodeStatsNotFound, "no artifact", nil)}

	rec := getStatistics(t, src, "?dimensions=YEAR&bytes_per_row=8")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp StatisticsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Available)
	assert.Equal(t, uint64(2), resp.Requested)
	assert.Equal(t, uint64(3), resp.Selected)
	assert.Zero(t, resp.EstimatedRows)
	assert.Equal(t, int64(math.MaxInt64), resp.EstimatedMemory)
}

func TestStatisticsHandler_BadRequests(t *testing.T) {
	src := staticSource{stats: cuboid.NewStatistics(10)}

	rec := getStatistics(t, src, "?dimensions=COLOR")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = getStatistics(t, src, "?bytes_per_row=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatisticsHandler_StorageFailure(t *testing.T) {
	src := staticSource{err: cerrors.NewStorageError(cerrors.CodeDownloadFailed, "s3 down", nil)}
	rec := getStatistics(t, src, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
