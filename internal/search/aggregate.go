package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arkilian/cubecore/internal/measure"
	"github.com/arkilian/cubecore/internal/query"
	"github.com/arkilian/cubecore/pkg/types"
)

type aggSpec struct {
	fn       types.FunctionDesc
	mt       measure.MeasureType
	ingester measure.Ingester
	// argIdx is the select position of the column argument, -1 for constants.
	argIdx int
}

// aggPlan maps a digest onto one scan: the columns selected, which of them
// form the group key, and how each aggregation reads its argument.
type aggPlan struct {
	selectCols []string
	colIndex   map[string]int
	groupIdx   []int
	aggs       []aggSpec
	// passIdx are metric columns no aggregation covers; they carry the
	// first value seen in the group.
	passIdx []int
	shape   *query.TupleShape
}

func newAggPlan(d *query.Digest, registry *measure.Registry) (*aggPlan, error) {
	p := &aggPlan{colIndex: make(map[string]int)}
	var fields []string

	for _, col := range d.GroupByColumns {
		p.groupIdx = append(p.groupIdx, p.column(col.Name))
		fields = append(fields, col.Name)
	}

	covered := make(map[string]bool)
	for _, fn := range d.Aggregations {
		mt, err := registry.ResolveFunction(fn)
		if err != nil {
			return nil, err
		}
		in, err := mt.NewIngester()
		if err != nil {
			return nil, err
		}
		spec := aggSpec{fn: fn, mt: mt, ingester: in, argIdx: -1}
		if fn.IsColumnParameter() {
			spec.argIdx = p.column(fn.Parameter.Value)
			covered[fn.Parameter.Value] = true
		}
		p.aggs = append(p.aggs, spec)
		fields = append(fields, fn.OutputName())
	}

	for _, col := range d.MetricColumns {
		if covered[col.Name] {
			continue
		}
		p.passIdx = append(p.passIdx, p.column(col.Name))
		fields = append(fields, col.Name)
	}

	p.shape = query.NewTupleShape(fields...)
	return p, nil
}

func (p *aggPlan) column(name string) int {
	if idx, ok := p.colIndex[name]; ok {
		return idx
	}
	idx := len(p.selectCols)
	p.selectCols = append(p.selectCols, name)
	p.colIndex[name] = idx
	return idx
}

type group struct {
	key  []interface{}
	aggs []measure.Aggregator
	pass []interface{}
}

// groupTable accumulates groups in first-seen order.
type groupTable struct {
	plan   *aggPlan
	order  []string
	groups map[string]*group
}

func newGroupTable(plan *aggPlan) *groupTable {
	return &groupTable{plan: plan, groups: make(map[string]*group)}
}

func (t *groupTable) add(values []interface{}) error {
	keyVals := make([]interface{}, len(t.plan.groupIdx))
	for i, idx := range t.plan.groupIdx {
		keyVals[i] = normalize(values[idx])
	}
	key := groupKey(keyVals)

	g, ok := t.groups[key]
	if !ok {
		var err error
		if g, err = t.newGroup(keyVals); err != nil {
			return err
		}
		t.groups[key] = g
		t.order = append(t.order, key)
	}

	for i, spec := range t.plan.aggs {
		arg := spec.fn.Parameter.Value
		if spec.argIdx >= 0 {
			arg = formatValue(values[spec.argIdx])
		}
		v, err := spec.ingester.ValueOf([]string{arg})
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		if err := g.aggs[i].Aggregate(v); err != nil {
			return err
		}
	}
	for i, idx := range t.plan.passIdx {
		if g.pass[i] == nil {
			g.pass[i] = normalize(values[idx])
		}
	}
	return nil
}

func (t *groupTable) newGroup(keyVals []interface{}) (*group, error) {
	g := &group{
		key:  keyVals,
		aggs: make([]measure.Aggregator, len(t.plan.aggs)),
		pass: make([]interface{}, len(t.plan.passIdx)),
	}
	for i, spec := range t.plan.aggs {
		agg, err := spec.mt.NewAggregator()
		if err != nil {
			return nil, err
		}
		g.aggs[i] = agg
	}
	return g, nil
}

// tuples returns one tuple per group. Without grouping, an empty input still
// yields the single all-rows group.
func (t *groupTable) tuples() []query.Tuple {
	if len(t.order) == 0 && len(t.plan.groupIdx) == 0 {
		if g, err := t.newGroup(nil); err == nil {
			t.groups[""] = g
			t.order = append(t.order, "")
		}
	}

	out := make([]query.Tuple, 0, len(t.order))
	for _, key := range t.order {
		g := t.groups[key]
		row := make([]interface{}, 0, len(g.key)+len(g.aggs)+len(g.pass))
		row = append(row, g.key...)
		for _, agg := range g.aggs {
			row = append(row, agg.Result())
		}
		row = append(row, g.pass...)
		out = append(out, query.NewSimpleTuple(t.plan.shape, row))
	}
	return out
}

func groupKey(vals []interface{}) string {
	var b strings.Builder
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(0)
		}
		if v == nil {
			b.WriteString("\x01null")
			continue
		}
		fmt.Fprintf(&b, "%T:%v", v, v)
	}
	return b.String()
}

func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// formatValue renders a scanned value as ingester input. NULL becomes the
// empty string.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
