package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/arkilian/cubecore/internal/cuboid"
	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/rs/zerolog"
)

const defaultBytesPerRow = 64

// StatisticsSource reads a cuboid statistics artifact.
type StatisticsSource interface {
	Read(ctx context.Context, path string) (*cuboid.Statistics, error)
}

// StatisticsResponse describes the cuboid chosen for a set of dimensions.
type StatisticsResponse struct {
	// Available is false when the artifact is missing or corrupt; the
	// selection then assumes worst-case sizes.
	Available       bool   `json:"available"`
	Entries         int    `json:"entries"`
	OriginalEntries int    `json:"original_entries"`
	Degraded        bool   `json:"degraded"`
	SampleRowCount  int64  `json:"sample_row_count"`
	Requested       uint64 `json:"requested"`
	Selected        uint64 `json:"selected"`
	EstimatedRows   uint64 `json:"estimated_rows,omitempty"`
	EstimatedMemory int64  `json:"estimated_memory_bytes"`
	RequestID       string `json:"request_id"`
}

// StatisticsHandler serves GET /v1/statistics?dimensions=A,B.
type StatisticsHandler struct {
	source     StatisticsSource
	path       string
	dimensions []types.Column
}

// NewStatisticsHandler creates a handler answering from the artifact at path.
// dimensions is the cube's dimension order, which defines cuboid bits.
func NewStatisticsHandler(source StatisticsSource, path string, dimensions []types.Column) *StatisticsHandler {
	return &StatisticsHandler{source: source, path: path, dimensions: dimensions}
}

func (h *StatisticsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", requestID)
		return
	}

	requested, err := h.requested(r.URL.Query().Get("dimensions"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "", requestID)
		return
	}
	bytesPerRow := int64(defaultBytesPerRow)
	if v := r.URL.Query().Get("bytes_per_row"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bytes_per_row must be a positive integer", "", requestID)
			return
		}
		bytesPerRow = n
	}

	resp := StatisticsResponse{Requested: uint64(requested), RequestID: requestID}
	base := types.BaseCuboid(len(h.dimensions))
	candidates := []types.CuboidID{base}

	stats, err := h.source.Read(r.Context(), h.path)
	switch {
	case err == nil:
		resp.Available = true
		resp.Entries = stats.Len()
		resp.OriginalEntries = stats.OriginalEntries
		resp.Degraded = stats.Degraded
		resp.SampleRowCount = stats.SampleRowCount
		candidates = append(stats.CuboidIDs(), base)
	case cerrors.GetCategory(err) == cerrors.ErrCategoryStatistics:
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("path", h.path).
			Msg("statistics unavailable, assuming worst-case cuboid sizes")
		stats = nil
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), cerrors.GetCode(err), requestID)
		return
	}

	selected, _ := cuboid.SelectCuboid(stats, requested, candidates)
	resp.Selected = uint64(selected)
	if est, ok := stats.Estimate(selected); ok {
		resp.EstimatedRows = est
	}
	resp.EstimatedMemory = cuboid.EstimateMemoryBytes(stats, selected, bytesPerRow)

	writeJSON(w, http.StatusOK, resp)
}

func (h *StatisticsHandler) requested(param string) (types.CuboidID, error) {
	var positions []int
	for _, name := range strings.Split(param, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		pos := -1
		for i, d := range h.dimensions {
			if strings.EqualFold(d.Name, name) || strings.EqualFold(d.String(), name) {
				pos = i
				break
			}
		}
		if pos < 0 {
			return 0, cerrors.Newf(cerrors.ErrCategoryQuery, cerrors.CodeInvalidValue, "unknown dimension %q", name)
		}
		positions = append(positions, pos)
	}
	return types.CuboidOf(positions...), nil
}
