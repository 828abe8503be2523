// Package params binds caller-supplied values to the parameters of a parsed
// query.
package params

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dan-strohschein/ydbsql-driver/query"
	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

// PrepareMode selects how a prepared statement binds and executes.
type PrepareMode int

const (
	// ModeAuto batches list-of-struct queries when batching is enabled and
	// otherwise lets the connection decide on a remote prepare.
	ModeAuto PrepareMode = iota
	// ModeInMemory never prepares remotely and never batches.
	ModeInMemory
	// ModeDataQuery prepares remotely and takes parameter types from the service.
	ModeDataQuery
	// ModeBatch requires a single list-of-struct or list-of-tuple parameter.
	ModeBatch
)

// String returns the string representation of the mode.
func (m PrepareMode) String() string {
	switch m {
	case ModeAuto:
		return "AUTO"
	case ModeInMemory:
		return "IN_MEMORY"
	case ModeDataQuery:
		return "DATA_QUERY"
	case ModeBatch:
		return "BATCH"
	default:
		return "UNKNOWN"
	}
}

// Options configures a Binder.
type Options struct {
	// EnforceVariablePrefix adds a missing $ to names passed to SetByName.
	EnforceVariablePrefix bool
	// BatchEnabled allows ModeAuto to detect batch queries.
	BatchEnabled bool
	Mode         PrepareMode
	// Types overrides parameter types, typically with the types reported by
	// a remote prepare.
	Types map[string]*query.Type
}

// Binder collects parameter values for one parsed query.
type Binder struct {
	pq     *query.ParsedQuery
	opts   Options
	plan   []query.Param
	values map[string]interface{}
	extras map[string]string

	batch       *batchPlan
	rows        []interface{}
	rowProblems []Problem
	rowCount    int
}

type batchPlan struct {
	param  query.Param
	row    *query.Type
	fields []string
}

// DetectBatch reports the list parameter of a batch-shaped plan: exactly one
// parameter, typed List<Struct<...>> or List<Tuple<...>>.
func DetectBatch(plan []query.Param) (query.Param, bool) {
	if len(plan) != 1 || plan[0].Type == nil {
		return query.Param{}, false
	}
	t := plan[0].Type
	if t.Kind != query.KindList || t.Elem == nil {
		return query.Param{}, false
	}
	if t.Elem.Kind != query.KindStruct && t.Elem.Kind != query.KindTuple {
		return query.Param{}, false
	}
	return plan[0], true
}

// NewBinder creates a binder for pq.
func NewBinder(pq *query.ParsedQuery, opts Options) (*Binder, error) {
	b := &Binder{
		pq:     pq,
		opts:   opts,
		values: make(map[string]interface{}),
		extras: make(map[string]string),
	}

	for _, p := range pq.Params() {
		if t, ok := opts.Types[p.Name]; ok && t != nil {
			p.Type = t
		}
		b.plan = append(b.plan, p)
	}

	param, batchable := DetectBatch(b.plan)
	switch {
	case opts.Mode == ModeBatch && !batchable:
		return nil, ErrNotBatchable(fmt.Sprintf("%d parameter(s) and no single List<Struct> or List<Tuple> declaration", len(b.plan)))
	case opts.Mode == ModeBatch, opts.Mode == ModeAuto && opts.BatchEnabled && batchable:
		b.batch = newBatchPlan(param)
	}
	return b, nil
}

func newBatchPlan(param query.Param) *batchPlan {
	row := param.Type.Elem
	bp := &batchPlan{param: param, row: row}
	if row.Kind == query.KindStruct {
		for _, f := range row.Fields {
			bp.fields = append(bp.fields, f.Name)
		}
	} else {
		for i := range row.Items {
			bp.fields = append(bp.fields, strconv.Itoa(i+1))
		}
	}
	return bp
}

// Query returns the parsed query being bound.
func (b *Binder) Query() *query.ParsedQuery { return b.pq }

// Params returns the parameter plan with effective types.
func (b *Binder) Params() []query.Param {
	out := make([]query.Param, len(b.plan))
	copy(out, b.plan)
	return out
}

// IsBatch reports whether values are collected as batch rows.
func (b *Binder) IsBatch() bool { return b.batch != nil }

// BatchFields returns the row field names of a batch binder: struct field
// names, or 1-based positions for tuples.
func (b *Binder) BatchFields() []string {
	if b.batch == nil {
		return nil
	}
	return append([]string(nil), b.batch.fields...)
}

// SetByIndex sets the value at 1-based position index. In batch mode index
// addresses a field of the current row.
func (b *Binder) SetByIndex(index int, value interface{}) {
	if b.batch != nil {
		if index < 1 || index > len(b.batch.fields) {
			b.extras[fmt.Sprintf("#%d", index)] = fmt.Sprintf("row has %d field(s)", len(b.batch.fields))
			return
		}
		b.values[b.batch.fields[index-1]] = value
		return
	}

	if index < 1 || index > len(b.plan) {
		b.extras[fmt.Sprintf("#%d", index)] = fmt.Sprintf("query has %d parameter(s)", len(b.plan))
		return
	}
	b.values[b.plan[index-1].Name] = value
}

// SetByName sets a named value. In batch mode the name addresses a field of
// the current row, unless it names the list parameter itself.
func (b *Binder) SetByName(name string, value interface{}) {
	full := name
	if b.opts.EnforceVariablePrefix && !strings.HasPrefix(full, "$") {
		full = "$" + full
	}

	if b.batch != nil && full != b.batch.param.Name {
		field := strings.TrimPrefix(name, "$")
		for _, f := range b.batch.fields {
			if f == field {
				b.values[field] = value
				return
			}
		}
		b.extras[name] = "unknown row field"
		return
	}

	for _, p := range b.plan {
		if p.Name == full {
			b.values[full] = value
			return
		}
	}
	b.extras[name] = "unknown parameter"
}

// Clear drops the values set so far. Added batch rows are kept.
func (b *Binder) Clear() {
	b.values = make(map[string]interface{})
	b.extras = make(map[string]string)
}

// ClearBatch drops the added batch rows.
func (b *Binder) ClearBatch() {
	b.rows = nil
	b.rowProblems = nil
	b.rowCount = 0
}

// BatchSize returns the number of rows added with AddBatch.
func (b *Binder) BatchSize() int { return b.rowCount }

// Bind validates the current values. Missing, extra and mistyped parameters
// are all reported in one BindingError.
func (b *Binder) Bind() (*Binding, error) {
	if b.batch != nil {
		if whole, ok := b.values[b.batch.param.Name]; ok {
			return b.bindPlain(map[string]interface{}{b.batch.param.Name: whole})
		}
		// the current values form a one-row batch; rows added so far are kept
		rows, rowProblems, rowCount := b.rows, b.rowProblems, b.rowCount
		defer func() {
			b.rows, b.rowProblems, b.rowCount = rows, rowProblems, rowCount
		}()
		b.ClearBatch()
		if err := b.AddBatch(); err != nil {
			return nil, err
		}
		return b.BindBatch()
	}
	return b.bindPlain(b.values)
}

func (b *Binder) bindPlain(values map[string]interface{}) (*Binding, error) {
	problems := b.extraProblems(0)
	binding := &Binding{params: make(tableclient.Params, len(b.plan))}

	for _, p := range b.plan {
		v, ok := values[p.Name]
		if !ok {
			if p.Type != nil && p.Type.IsOptional() {
				binding.params[p.Name] = tableclient.Value{Type: p.Type}
				continue
			}
			problems = append(problems, Problem{Kind: Missing, Param: p.Name, Message: "no value supplied"})
			continue
		}

		t, err := b.resolveType(p, v)
		if err != nil {
			problems = append(problems, Problem{Kind: Mismatch, Param: p.Name, Message: err.Error()})
			continue
		}
		data, err := Convert(t, v)
		if err != nil {
			problems = append(problems, Problem{Kind: Mismatch, Param: p.Name, Message: err.Error()})
			continue
		}
		binding.params[p.Name] = tableclient.Value{Type: t, Data: data}
	}

	if len(problems) > 0 {
		return nil, ErrInvalidParameters(problems)
	}
	return binding, nil
}

// resolveType returns the type a value binds as: the plan type, checked
// against an explicit TypedValue, or the type inferred from the value.
func (b *Binder) resolveType(p query.Param, v interface{}) (*query.Type, error) {
	tv, explicit := v.(TypedValue)
	switch {
	case p.Type != nil && explicit && tv.Type != nil && !tv.Type.Equal(p.Type):
		return nil, fmt.Errorf("explicit type %s does not match declared %s", tv.Type, p.Type)
	case p.Type != nil:
		return p.Type, nil
	}
	return InferType(v)
}

// AddBatch validates the current row values and appends them to the batch.
// The values are cleared whether or not the row is valid; problems of an
// invalid row are returned and also reported again by BindBatch.
func (b *Binder) AddBatch() error {
	if b.batch == nil {
		return ErrNotBatchable("binder is not in batch mode")
	}
	b.rowCount++
	rowNum := b.rowCount

	problems := b.extraProblems(rowNum)
	row, rowErrs := b.buildRow(rowNum)
	problems = append(problems, rowErrs...)
	b.Clear()

	if len(problems) > 0 {
		b.rowProblems = append(b.rowProblems, problems...)
		return ErrInvalidParameters(problems)
	}

	data, err := Convert(b.batch.row, row)
	if err != nil {
		p := Problem{Kind: Mismatch, Param: b.batch.param.Name, Row: rowNum, Message: err.Error()}
		b.rowProblems = append(b.rowProblems, p)
		return ErrInvalidParameters([]Problem{p})
	}
	b.rows = append(b.rows, data)
	return nil
}

func (b *Binder) buildRow(rowNum int) (interface{}, []Problem) {
	var problems []Problem
	row := b.batch.row

	if row.Kind == query.KindStruct {
		out := make(map[string]interface{}, len(row.Fields))
		for _, f := range row.Fields {
			v, ok := b.values[f.Name]
			if !ok {
				if f.Type.IsOptional() {
					continue
				}
				problems = append(problems, Problem{Kind: Missing, Param: f.Name, Row: rowNum, Message: "no value supplied"})
				continue
			}
			if _, err := Convert(f.Type, v); err != nil {
				problems = append(problems, Problem{Kind: Mismatch, Param: f.Name, Row: rowNum, Message: err.Error()})
				continue
			}
			out[f.Name] = v
		}
		return out, problems
	}

	out := make([]interface{}, len(row.Items))
	for i, it := range row.Items {
		field := b.batch.fields[i]
		v, ok := b.values[field]
		if !ok {
			if it.IsOptional() {
				continue
			}
			problems = append(problems, Problem{Kind: Missing, Param: "#" + field, Row: rowNum, Message: "no value supplied"})
			continue
		}
		if _, err := Convert(it, v); err != nil {
			problems = append(problems, Problem{Kind: Mismatch, Param: "#" + field, Row: rowNum, Message: err.Error()})
			continue
		}
		out[i] = v
	}
	return out, problems
}

// BindBatch returns the batch form: the list parameter bound to every added
// row. Problems of all invalid rows are reported together.
func (b *Binder) BindBatch() (*Binding, error) {
	if b.batch == nil {
		return nil, ErrNotBatchable("binder is not in batch mode")
	}
	if len(b.rowProblems) > 0 {
		return nil, ErrInvalidParameters(append([]Problem(nil), b.rowProblems...))
	}
	if len(b.rows) == 0 {
		return nil, ErrEmptyBatch()
	}

	p := b.batch.param
	return &Binding{
		params: tableclient.Params{
			p.Name: {Type: p.Type, Data: append([]interface{}(nil), b.rows...)},
		},
		rows: len(b.rows),
	}, nil
}

func (b *Binder) extraProblems(row int) []Problem {
	if len(b.extras) == 0 {
		return nil
	}
	names := make([]string, 0, len(b.extras))
	for name := range b.extras {
		names = append(names, name)
	}
	sort.Strings(names)

	problems := make([]Problem, 0, len(names))
	for _, name := range names {
		problems = append(problems, Problem{Kind: Extra, Param: name, Row: row, Message: b.extras[name]})
	}
	return problems
}

// Binding is a validated parameter set.
type Binding struct {
	params tableclient.Params
	rows   int
}

// Params returns the values to send with the query.
func (b *Binding) Params() tableclient.Params {
	out := make(tableclient.Params, len(b.params))
	for name, v := range b.params {
		out[name] = v
	}
	return out
}

// Types returns the bound type of every parameter, for ParsedQuery.Render.
func (b *Binding) Types() map[string]*query.Type {
	out := make(map[string]*query.Type, len(b.params))
	for name, v := range b.params {
		out[name] = v.Type
	}
	return out
}

// IsBatch reports whether the binding is the batch form.
func (b *Binding) IsBatch() bool { return b.rows > 0 }

// Rows returns the number of batch rows.
func (b *Binding) Rows() int { return b.rows }
