package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/observability"
	"github.com/arkilian/cubecore/internal/query"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/rs/zerolog"
)

// FilterSpec is the JSON form of a filter node. Logical nodes (AND, OR,
// NOT) use Children; comparisons use Column with Values and/or Variables.
type FilterSpec struct {
	Op        string       `json:"op"`
	Column    string       `json:"column,omitempty"`
	Values    []string     `json:"values,omitempty"`
	Variables []string     `json:"variables,omitempty"`
	Children  []FilterSpec `json:"children,omitempty"`
}

// QueryRequest is a query digest in JSON. Column names are resolved against
// the cube's fact table unless qualified as TABLE.COLUMN.
type QueryRequest struct {
	Filter       *FilterSpec          `json:"filter,omitempty"`
	Columns      []string             `json:"columns,omitempty"`
	GroupBy      []string             `json:"group_by,omitempty"`
	Metrics      []string             `json:"metrics,omitempty"`
	Aggregations []types.FunctionDesc `json:"aggregations,omitempty"`
	// Output names the row slots returned. Empty derives them from the
	// grouping and aggregations, then the requested columns, then the cube.
	Output     []string          `json:"output,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// QueryResponse is the body of a successful query.
type QueryResponse struct {
	Columns   []string        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	Stats     QueryStats      `json:"stats"`
	RequestID string          `json:"request_id"`
}

// QueryStats describes how the query ran.
type QueryStats struct {
	Rows            int      `json:"rows"`
	Truncated       bool     `json:"truncated"`
	ScanThreshold   int64    `json:"scan_threshold"`
	FallbackApplied bool     `json:"fallback_applied"`
	Unsummed        []string `json:"unsummed,omitempty"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
}

// QueryHandlerConfig configures a QueryHandler.
type QueryHandlerConfig struct {
	DefaultScanThreshold int64
	// MaxRows caps the rows returned. Zero means unlimited.
	MaxRows int
	// Dimensions is the cube's dimension order, used to attribute queries
	// to cuboids in Usage.
	Dimensions []types.Column
	// Usage records filter and cuboid usage of successful queries. Nil
	// disables tracking and the /v1/usage endpoint.
	Usage *observability.QueryUsage
}

// QueryHandler serves POST /v1/query.
type QueryHandler struct {
	engine query.StorageEngine
	cube   query.Realization
	cfg    QueryHandlerConfig
}

// NewQueryHandler creates a query handler over a storage engine and cube.
func NewQueryHandler(engine query.StorageEngine, cube query.Realization, cfg QueryHandlerConfig) *QueryHandler {
	return &QueryHandler{engine: engine, cube: cube, cfg: cfg}
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	logger := zerolog.Ctx(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", requestID)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return
	}

	digest, err := h.buildDigest(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "", requestID)
		return
	}
	output := h.outputColumns(&req, digest)
	session := query.MapSession{Properties: req.Properties, Variables: req.Variables}

	start := time.Now()
	en := query.NewEnumerator(h.engine, h.cube, digest, session, output, query.EnumeratorOptions{
		DefaultScanThreshold: h.cfg.DefaultScanThreshold,
		Logger:               logger,
	})
	defer en.Close()

	resp := QueryResponse{Columns: output, Rows: [][]interface{}{}, RequestID: requestID}
	for {
		ok, err := en.MoveNext(r.Context())
		if err != nil {
			logger.Warn().Err(err).Msg("query failed")
			writeError(w, statusFor(err), err.Error(), cerrors.GetCode(err), requestID)
			return
		}
		if !ok {
			break
		}
		if h.cfg.MaxRows > 0 && len(resp.Rows) >= h.cfg.MaxRows {
			resp.Stats.Truncated = true
			break
		}
		resp.Rows = append(resp.Rows, append([]interface{}(nil), en.Current()...))
	}

	fb := en.Fallback()
	resp.Stats.Rows = len(resp.Rows)
	resp.Stats.ScanThreshold = en.StorageContext().ScanThreshold
	resp.Stats.FallbackApplied = fb.Applied
	for _, c := range fb.Unsummed {
		resp.Stats.Unsummed = append(resp.Stats.Unsummed, c.Name)
	}
	resp.Stats.ExecutionTimeMs = time.Since(start).Milliseconds()
	h.recordUsage(en.Digest())

	writeJSON(w, http.StatusOK, resp)
}

func (h *QueryHandler) recordUsage(d *query.Digest) {
	if h.cfg.Usage == nil {
		return
	}
	query.Walk(d.Filter, func(f query.TupleFilter) {
		if cf, ok := f.(*query.CompareFilter); ok {
			h.cfg.Usage.RecordFilter(cf.Column.String(), string(cf.Op))
		}
	})
	var positions []int
	for i, dim := range h.cfg.Dimensions {
		if types.ContainsColumn(d.GroupByColumns, dim) {
			positions = append(positions, i)
		}
	}
	h.cfg.Usage.RecordCuboid(types.CuboidOf(positions...))
}

func (h *QueryHandler) column(name string) types.Column {
	if strings.Contains(name, ".") {
		return types.ParseColumn(name)
	}
	return types.NewColumn(h.cube.FactTable(), name)
}

func (h *QueryHandler) columns(names []string) []types.Column {
	var out []types.Column
	for _, n := range names {
		out = types.AppendColumn(out, h.column(n))
	}
	return out
}

func (h *QueryHandler) buildDigest(req *QueryRequest) (*query.Digest, error) {
	d := &query.Digest{
		FactTable:      h.cube.FactTable(),
		AllColumns:     h.columns(req.Columns),
		GroupByColumns: h.columns(req.GroupBy),
		MetricColumns:  h.columns(req.Metrics),
	}
	for _, fn := range req.Aggregations {
		if fn.Expression == "" {
			return nil, fmt.Errorf("aggregation without expression")
		}
		fn.Expression = strings.ToUpper(fn.Expression)
		if fn.Parameter.Type == "" {
			fn.Parameter.Type = types.ParamTypeColumn
		}
		d.Aggregations = append(d.Aggregations, fn)
	}
	if req.Filter != nil {
		f, err := h.filter(*req.Filter)
		if err != nil {
			return nil, err
		}
		d.Filter = f
		d.FilterColumns = query.FilterColumns(f)
	}
	return d, nil
}

func (h *QueryHandler) filter(spec FilterSpec) (query.TupleFilter, error) {
	op := query.FilterOperator(strings.ToUpper(spec.Op))
	switch op {
	case query.OpAnd, query.OpOr:
		children := make([]query.TupleFilter, 0, len(spec.Children))
		for _, c := range spec.Children {
			f, err := h.filter(c)
			if err != nil {
				return nil, err
			}
			children = append(children, f)
		}
		return &query.LogicalFilter{Op: op, Nodes: children}, nil
	case query.OpNot:
		if len(spec.Children) != 1 {
			return nil, fmt.Errorf("NOT takes exactly one child, got %d", len(spec.Children))
		}
		f, err := h.filter(spec.Children[0])
		if err != nil {
			return nil, err
		}
		return query.Not(f), nil
	case query.OpEQ, query.OpNEQ, query.OpLT, query.OpLTE, query.OpGT, query.OpGTE,
		query.OpIn, query.OpNotIn, query.OpIsNull, query.OpIsNotNull:
		if spec.Column == "" {
			return nil, fmt.Errorf("%s filter needs a column", op)
		}
		return &query.CompareFilter{
			Column:    h.column(spec.Column),
			Op:        op,
			Values:    spec.Values,
			Variables: spec.Variables,
		}, nil
	default:
		return nil, fmt.Errorf("unknown filter operator %q", spec.Op)
	}
}

func (h *QueryHandler) outputColumns(req *QueryRequest, d *query.Digest) []string {
	if len(req.Output) > 0 {
		return req.Output
	}
	var out []string
	for _, c := range d.GroupByColumns {
		out = append(out, c.Name)
	}
	for _, fn := range d.Aggregations {
		out = append(out, fn.OutputName())
	}
	if len(out) > 0 {
		return out
	}
	cols := d.AllColumns
	if len(cols) == 0 {
		cols = h.cube.AllColumns()
	}
	for _, c := range cols {
		out = append(out, c.Name)
	}
	return out
}

func statusFor(err error) int {
	switch cerrors.GetCategory(err) {
	case cerrors.ErrCategoryResolution, cerrors.ErrCategoryUnsupported:
		return http.StatusBadRequest
	case cerrors.ErrCategoryQuery:
		switch cerrors.GetCode(err) {
		case cerrors.CodeInvalidProperty, cerrors.CodeInvalidValue:
			return http.StatusBadRequest
		case cerrors.CodeScanThresholdExceeded:
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

// HealthHandler reports liveness.
func HealthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": service})
	}
}

// UsageResponse lists the most used filter columns and cuboids.
type UsageResponse struct {
	Filters   []observability.ColumnUsage `json:"filters"`
	Cuboids   []observability.CuboidUsage `json:"cuboids"`
	RequestID string                      `json:"request_id"`
}

// UsageHandler serves GET /v1/usage?top=N (default 10).
func UsageHandler(usage *observability.QueryUsage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestID(r.Context())
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", requestID)
			return
		}
		top := 10
		if v := r.URL.Query().Get("top"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "top must be a positive integer", "", requestID)
				return
			}
			top = n
		}
		usage.Prune()
		writeJSON(w, http.StatusOK, UsageResponse{
			Filters:   usage.TopFilters(top),
			Cuboids:   usage.TopCuboids(top),
			RequestID: requestID,
		})
	}
}

// NewRouter mounts the query API. stats may be nil. extra middlewares run
// outside the default chain.
func NewRouter(handler *QueryHandler, stats *StatisticsHandler, logger zerolog.Logger, service string, extra ...func(http.Handler) http.Handler) *http.ServeMux {
	mw := ChainMiddleware(append(extra, DefaultMiddleware(logger))...)
	mux := http.NewServeMux()
	mux.Handle("/v1/query", mw(handler))
	if stats != nil {
		mux.Handle("/v1/statistics", mw(stats))
	}
	if handler.cfg.Usage != nil {
		mux.Handle("/v1/usage", mw(UsageHandler(handler.cfg.Usage)))
	}
	mux.HandleFunc("/health", HealthHandler(service))
	return mux
}
