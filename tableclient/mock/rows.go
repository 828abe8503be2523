package mock

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dan-strohschein/ydbsql-driver/query"
	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

// Generator produces the value of one column for the 0-based row index.
type Generator func(row int) interface{}

// RowFactory builds result sets of generated rows for a fixed column list.
// Each column gets a default generator from its type; Set overrides it.
type RowFactory struct {
	columns    []tableclient.Column
	generators []Generator
}

// Column builds a result column from a YQL type name such as "Int32" or
// "Optional<Utf8>". It panics on an invalid type.
func Column(name, yqlType string) tableclient.Column {
	t, err := query.ParseType(yqlType)
	if err != nil {
		panic(fmt.Sprintf("mock: column %s: %v", name, err))
	}
	return tableclient.Column{Name: name, Type: t}
}

// NewRowFactory creates a factory for the given columns.
func NewRowFactory(columns ...tableclient.Column) *RowFactory {
	f := &RowFactory{
		columns:    columns,
		generators: make([]Generator, len(columns)),
	}
	for i, c := range columns {
		f.generators[i] = defaultGenerator(c)
	}
	return f
}

// Set replaces the generator of the named column.
func (f *RowFactory) Set(column string, gen Generator) *RowFactory {
	for i, c := range f.columns {
		if c.Name == column {
			f.generators[i] = gen
			return f
		}
	}
	panic(fmt.Sprintf("mock: unknown column %q", column))
}

// Build returns a result set with n generated rows.
func (f *RowFactory) Build(n int) tableclient.ResultSet {
	return f.BuildFrom(0, n)
}

// BuildFrom returns n generated rows starting at row index first. Scan
// batches use it to continue where the previous batch ended.
func (f *RowFactory) BuildFrom(first, n int) tableclient.ResultSet {
	rs := tableclient.ResultSet{
		Columns: append([]tableclient.Column(nil), f.columns...),
		Rows:    make([][]interface{}, n),
	}
	for i := 0; i < n; i++ {
		row := make([]interface{}, len(f.generators))
		for j, gen := range f.generators {
			row[j] = gen(first + i)
		}
		rs.Rows[i] = row
	}
	return rs
}

// Batches splits total rows into scan batches of at most size rows.
func (f *RowFactory) Batches(total, size int) []tableclient.ResultSet {
	var out []tableclient.ResultSet
	for first := 0; first < total; first += size {
		n := size
		if first+n > total {
			n = total - first
		}
		out = append(out, f.BuildFrom(first, n))
	}
	return out
}

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// defaultGenerator derives values from the row index. Optional columns are
// NULL on every third row.
func defaultGenerator(c tableclient.Column) Generator {
	t := c.Type
	if t.IsOptional() {
		inner := defaultGenerator(tableclient.Column{Name: c.Name, Type: t.Unwrap()})
		return func(row int) interface{} {
			if row%3 == 2 {
				return nil
			}
			return inner(row)
		}
	}
	if t == nil || t.Kind != query.KindPrimitive {
		return func(row int) interface{} { return nil }
	}

	switch t.Name {
	case "Bool":
		return func(row int) interface{} { return row%2 == 0 }
	case "Int8":
		return func(row int) interface{} { return int8(row) }
	case "Int16":
		return func(row int) interface{} { return int16(row) }
	case "Int32":
		return func(row int) interface{} { return int32(row + 1) }
	case "Int64":
		return func(row int) interface{} { return int64(row + 1) }
	case "Uint8":
		return func(row int) interface{} { return uint8(row) }
	case "Uint16":
		return func(row int) interface{} { return uint16(row) }
	case "Uint32":
		return func(row int) interface{} { return uint32(row + 1) }
	case "Uint64":
		return func(row int) interface{} { return uint64(row + 1) }
	case "Float":
		return func(row int) interface{} { return float32(row) + 0.5 }
	case "Double":
		return func(row int) interface{} { return float64(row) + 0.5 }
	case "String", "Yson":
		return func(row int) interface{} { return []byte(fmt.Sprintf("%s_%d", c.Name, row+1)) }
	case "Utf8", "Json", "JsonDocument":
		return func(row int) interface{} { return fmt.Sprintf("%s_%d", c.Name, row+1) }
	case "Uuid":
		return func(row int) interface{} {
			return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d", c.Name, row)))
		}
	case "Date":
		return func(row int) interface{} { return baseTime.AddDate(0, 0, row) }
	case "Datetime", "Timestamp":
		return func(row int) interface{} { return baseTime.Add(time.Duration(row) * time.Second) }
	case "Interval":
		return func(row int) interface{} { return time.Duration(row) * time.Millisecond }
	default:
		return func(row int) interface{} { return nil }
	}
}
