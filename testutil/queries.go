// Package testutil provides query text fixtures shared by tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// UpsertMode selects the shape of a single-row upsert fixture.
type UpsertMode int

const (
	// Positional uses '?' placeholders.
	Positional UpsertMode = iota
	// Typed declares every parameter explicitly.
	Typed
	// Batched binds rows through one List<Struct<...>> parameter.
	Batched
)

var tableCounter uint64

// TableName generates a unique table name for tests.
// Format: <prefix>_<timestamp>_<counter>
func TableName(prefix string) string {
	if prefix == "" {
		prefix = "test"
	}
	n := atomic.AddUint64(&tableCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().Unix(), n)
}

// Queries renders query fixtures against one table.
type Queries struct {
	table string
}

// NewQueries creates fixtures for table.
func NewQueries(table string) *Queries {
	return &Queries{table: table}
}

// Table returns the table name.
func (q *Queries) Table() string { return q.table }

// CreateTable returns a scheme query creating the table.
func (q *Queries) CreateTable() string {
	return q.with("CREATE TABLE #table (\n" +
		"    key Int32,\n" +
		"    c_Bool Bool,\n" +
		"    c_Int64 Int64,\n" +
		"    c_Utf8 Utf8,\n" +
		"    PRIMARY KEY (key)\n" +
		")")
}

// DropTable returns a scheme query dropping the table.
func (q *Queries) DropTable() string {
	return q.with("DROP TABLE #table")
}

// SelectAll returns "select * from <table>".
func (q *Queries) SelectAll() string {
	return q.with("select * from #table")
}

// ScanSelectAll returns the scan form of SelectAll.
func (q *Queries) ScanSelectAll() string {
	return "scan " + q.SelectAll()
}

// ExplainSelectAll returns the explain form of SelectAll.
func (q *Queries) ExplainSelectAll() string {
	return "explain " + q.SelectAll()
}

// DeleteAll returns "delete from <table>".
func (q *Queries) DeleteAll() string {
	return q.with("delete from #table")
}

// SelectColumn returns a query reading key and column.
func (q *Queries) SelectColumn(column string) string {
	return strings.ReplaceAll(q.with("select key, #column from #table"), "#column", column)
}

// WrongSelect references a column the table does not have.
func (q *Queries) WrongSelect() string {
	return q.with("select key2 from #table")
}

// UpsertOne returns a single-row upsert of key and column of the given type.
func (q *Queries) UpsertOne(mode UpsertMode, column, yqlType string) string {
	var text string
	switch mode {
	case Typed:
		text = "declare $p1 as Int32;\n" +
			"declare $p2 as #type;\n" +
			"upsert into #table (key, #column) values ($p1, $p2)"
	case Batched:
		text = "declare $values as List<Struct<p1:Int32,p2:#type>>;\n" +
			"$mapper = ($row) -> (AsStruct($row.p1 as key, $row.p2 as #column));\n" +
			"upsert into #table select * from as_table(ListMap($values, $mapper));"
	default:
		text = "upsert into #table (key, #column) values (?, ?)"
	}
	text = strings.ReplaceAll(text, "#column", column)
	text = strings.ReplaceAll(text, "#type", yqlType)
	return q.with(text)
}

// NamedUpsert declares $key and $<column> explicitly.
func (q *Queries) NamedUpsert(column, yqlType string) string {
	text := "declare $key as Int32;\n" +
		"declare $#column as #type;\n" +
		"upsert into #table (key, #column) values ($key, $#column)"
	text = strings.ReplaceAll(text, "#column", column)
	text = strings.ReplaceAll(text, "#type", yqlType)
	return q.with(text)
}

// StructBatchUpsert upserts rows bound as List<Struct<key,column>>.
func (q *Queries) StructBatchUpsert(column, yqlType string) string {
	text := "declare $values as List<Struct<key:Int32,#column:#type>>;\n" +
		"upsert into #table select * from as_table($values);"
	text = strings.ReplaceAll(text, "#column", column)
	text = strings.ReplaceAll(text, "#type", yqlType)
	return q.with(text)
}

func (q *Queries) with(text string) string {
	return strings.ReplaceAll(text, "#table", q.table)
}
