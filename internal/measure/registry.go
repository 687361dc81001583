package measure

import (
	"fmt"
	"strings"
	"sync"

	"github.com/arkilian/cubecore/internal/datatype"
	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/pkg/types"
)

// Registry resolves measure types from (function name, data type). It is
// populated once by NewRegistry and read-only afterwards, so lookups take no
// locks.
type Registry struct {
	byFunction map[string][]Factory
	defaults   []Factory
}

// NewRegistry builds a registry. defaults serve function names for which no
// factory is registered. Each factory's data type and serializer are
// registered into the process-wide data type registry, but only once every
// factory has been checked, so a failed build registers nothing.
func NewRegistry(defaults []Factory, factories ...Factory) (*Registry, error) {
	r := &Registry{
		byFunction: make(map[string][]Factory),
		defaults:   defaults,
	}
	serializers := make(map[string]string)
	for _, f := range factories {
		if err := r.check(f, serializers); err != nil {
			return nil, err
		}
		r.byFunction[f.FunctionName()] = append(r.byFunction[f.FunctionName()], f)
	}
	for _, f := range factories {
		if err := datatype.Register(f.DataTypeName(), f.Serializer()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// check validates f against the factories accepted so far and the data
// types already registered. serializers maps the data type names of
// accepted factories to their serializer IDs.
func (r *Registry) check(f Factory, serializers map[string]string) error {
	fn := f.FunctionName()
	dtName := f.DataTypeName()

	if fn == "" || fn != strings.ToUpper(fn) {
		return cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidNameCase,
			"aggregation function name '%s' must be in upper case", fn)
	}
	if dtName == "" || dtName != strings.ToLower(dtName) {
		return cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidNameCase,
			"aggregation data type name '%s' must be in lower case", dtName)
	}

	for _, existing := range r.byFunction[fn] {
		if existing.DataTypeName() == dtName {
			return cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeDuplicateFactory,
				"factory for %s(%s) registered twice", fn, dtName)
		}
	}

	spec := f.Serializer()
	if id, ok := serializers[dtName]; ok && id != spec.ID {
		return cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeSerializerConflict,
			"data type '%s' served by serializers %s and %s", dtName, id, spec.ID)
	}
	if err := datatype.CheckRegister(dtName, spec); err != nil {
		return err
	}
	serializers[dtName] = spec.ID
	return nil
}

// Candidates returns the factories serving functionName, falling back to the
// defaults when none are registered.
func (r *Registry) Candidates(functionName string) []Factory {
	if fs, ok := r.byFunction[strings.ToUpper(functionName)]; ok {
		return fs
	}
	return r.defaults
}

// Resolve returns the measure type for functionName over dt. A nil dt means
// the type is not known yet (e.g. during SQL parsing); the result is then a
// placeholder that only answers NeedRewrite.
func (r *Registry) Resolve(functionName string, dt *datatype.DataType) (MeasureType, error) {
	fn := strings.ToUpper(functionName)
	candidates := r.Candidates(fn)
	if len(candidates) == 0 {
		return nil, cerrors.Newf(cerrors.ErrCategoryResolution, cerrors.CodeUnsupportedFunction,
			"no measure type serves function %s", fn)
	}

	if dt == nil {
		return newNeedRewriteOnly(fn, candidates)
	}

	if len(candidates) == 1 {
		return candidates[0].Create(fn, dt)
	}

	for _, f := range candidates {
		if f.DataTypeName() == dt.Name() {
			return f.Create(fn, dt)
		}
	}
	return nil, cerrors.Newf(cerrors.ErrCategoryResolution, cerrors.CodeNoMatchingFactory,
		"no factory for %s(%s) among %d candidates", fn, dt, len(candidates))
}

// ResolveName is Resolve with the data type given as a string. An empty
// dataType resolves to the placeholder.
func (r *Registry) ResolveName(functionName, dataType string) (MeasureType, error) {
	if dataType == "" {
		return r.Resolve(functionName, nil)
	}
	dt, err := datatype.Parse(dataType)
	if err != nil {
		return nil, err
	}
	return r.Resolve(functionName, dt)
}

// ResolveFunction resolves the measure type of an aggregation descriptor.
// A missing return type defaults to bigint for COUNT and double otherwise.
func (r *Registry) ResolveFunction(fn types.FunctionDesc) (MeasureType, error) {
	returnType := fn.ReturnType
	if returnType == "" {
		returnType = DefaultReturnType(fn.Expression)
	}
	return r.ResolveName(fn.Expression, returnType)
}

// DefaultReturnType is the return type assumed for a function declared
// without one.
func DefaultReturnType(functionName string) string {
	if strings.EqualFold(functionName, FuncCount) {
		return "bigint"
	}
	return "double"
}

// needRewriteOnly stands in for a measure type whose data type is not known.
// The candidates must agree on NeedRewrite; everything else is unsupported.
type needRewriteOnly struct {
	function    string
	needRewrite bool
}

func newNeedRewriteOnly(fn string, candidates []Factory) (MeasureType, error) {
	need := candidates[0].NeedRewrite()
	for _, f := range candidates[1:] {
		if f.NeedRewrite() != need {
			return nil, cerrors.Newf(cerrors.ErrCategoryResolution, cerrors.CodeNoRewriteConsensus,
				"factories of %s disagree on needRewrite", fn)
		}
	}
	return &needRewriteOnly{function: fn, needRewrite: need}, nil
}

func (t *needRewriteOnly) FunctionName() string         { return t.function }
func (t *needRewriteOnly) DataType() *datatype.DataType { return nil }
func (t *needRewriteOnly) Kind() Kind                   { return KindUnresolved }
func (t *needRewriteOnly) NeedRewrite() bool            { return t.needRewrite }

func (t *needRewriteOnly) unsupported(op string) error {
	return cerrors.NewUnsupportedError(fmt.Sprintf("%s on %s with unknown data type", op, t.function))
}

func (t *needRewriteOnly) RewriteFunction() (string, error) {
	return "", t.unsupported("RewriteFunction")
}

func (t *needRewriteOnly) NewIngester() (Ingester, error) {
	return nil, t.unsupported("NewIngester")
}

func (t *needRewriteOnly) NewAggregator() (Aggregator, error) {
	return nil, t.unsupported("NewAggregator")
}

// BuiltinFactories returns the factories of the default registry.
func BuiltinFactories() []Factory {
	return []Factory{HLLCFactory{}, BitmapFactory{}, RawFactory{}}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the process-wide registry of builtin measure types,
// building it on first use. Concurrent first calls observe one build.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = NewRegistry([]Factory{BasicFactory{}}, BuiltinFactories()...)
	})
	return defaultRegistry, defaultErr
}

// Resolve resolves against the default registry.
func Resolve(functionName string, dt *datatype.DataType) (MeasureType, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	return r.Resolve(functionName, dt)
}

// ResolveName resolves against the default registry.
func ResolveName(functionName, dataType string) (MeasureType, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	return r.ResolveName(functionName, dataType)
}

// MustResolve is like ResolveName but panics on error.
func MustResolve(functionName, dataType string) MeasureType {
	mt, err := ResolveName(functionName, dataType)
	if err != nil {
		panic(err)
	}
	return mt
}

// ParseDataType parses a data type after making sure the builtin measure
// types have registered their type names.
func ParseDataType(s string) (*datatype.DataType, error) {
	if _, err := Default(); err != nil {
		return nil, err
	}
	return datatype.Parse(s)
}
