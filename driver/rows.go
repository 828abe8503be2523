package driver

import (
	"database/sql/driver"
	"io"
	"reflect"

	"github.com/dan-strohschein/ydbsql-driver/client"
	"github.com/dan-strohschein/ydbsql-driver/query"
	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

var planColumns = []tableclient.Column{
	{Name: "ast", Type: query.Primitive("Utf8")},
	{Name: "plan", Type: query.Primitive("Utf8")},
}

// Rows implements driver.Rows over the result sets of one execution.
// Explain results are one row of (ast, plan).
type Rows struct {
	sets []tableclient.ResultSet
	set  int
	row  int
}

func newRows(res *client.Result) *Rows {
	r := &Rows{}
	switch {
	case res.Kind == client.ResultPlan && res.Plan != nil:
		r.sets = []tableclient.ResultSet{{
			Columns: planColumns,
			Rows:    [][]interface{}{{res.Plan.AST, res.Plan.Plan}},
		}}
	case res.HasRows():
		r.sets = res.ResultSets
	}
	return r
}

func (r *Rows) current() *tableclient.ResultSet {
	if r.set >= len(r.sets) {
		return nil
	}
	return &r.sets[r.set]
}

// Columns returns the names of the columns.
func (r *Rows) Columns() []string {
	rs := r.current()
	if rs == nil {
		return nil
	}
	names := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		names[i] = c.Name
	}
	return names
}

// Close closes the rows iterator. No-op since results are in memory.
func (r *Rows) Close() error {
	r.set = len(r.sets)
	return nil
}

// Next populates dest with the values of the next row.
// Returns io.EOF when there are no more rows.
func (r *Rows) Next(dest []driver.Value) error {
	rs := r.current()
	if rs == nil || r.row >= len(rs.Rows) {
		return io.EOF
	}
	row := rs.Rows[r.row]
	r.row++

	for i := range dest {
		if i >= len(row) {
			dest[i] = nil
			continue
		}
		v, err := toDriverValue(row[i])
		if err != nil {
			return err
		}
		dest[i] = v
	}
	return nil
}

// HasNextResultSet reports whether another result set follows.
func (r *Rows) HasNextResultSet() bool {
	return r.set+1 < len(r.sets)
}

// NextResultSet advances to the next result set.
func (r *Rows) NextResultSet() error {
	if !r.HasNextResultSet() {
		return io.EOF
	}
	r.set++
	r.row = 0
	return nil
}

func (r *Rows) column(index int) *tableclient.Column {
	rs := r.current()
	if rs == nil || index < 0 || index >= len(rs.Columns) {
		return nil
	}
	return &rs.Columns[index]
}

// ColumnTypeDatabaseTypeName returns the YQL type of the column.
func (r *Rows) ColumnTypeDatabaseTypeName(index int) string {
	c := r.column(index)
	if c == nil || c.Type == nil {
		return ""
	}
	return c.Type.String()
}

// ColumnTypeNullable reports whether the column type is optional.
func (r *Rows) ColumnTypeNullable(index int) (nullable, ok bool) {
	c := r.column(index)
	if c == nil || c.Type == nil {
		return false, false
	}
	return c.Type.IsOptional(), true
}

// ColumnTypeScanType returns the Go type values of the column scan into.
func (r *Rows) ColumnTypeScanType(index int) reflect.Type {
	c := r.column(index)
	if c == nil || c.Type == nil {
		return scanTypeAny
	}
	return scanType(c.Type.Unwrap())
}

var (
	_ driver.Rows                           = &Rows{}
	_ driver.RowsNextResultSet              = &Rows{}
	_ driver.RowsColumnTypeDatabaseTypeName = &Rows{}
	_ driver.RowsColumnTypeNullable         = &Rows{}
	_ driver.RowsColumnTypeScanType         = &Rows{}
)
