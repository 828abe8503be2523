package client

import (
	"github.com/dan-strohschein/ydbsql-driver/query"
	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

// ResultKind tells what a Result carries.
type ResultKind int

const (
	// ResultRows carries one or more result sets.
	ResultRows ResultKind = iota
	// ResultUpdate carries an update count only.
	ResultUpdate
	// ResultPlan carries an explain plan.
	ResultPlan
)

// String returns the string representation of the result kind.
func (k ResultKind) String() string {
	switch k {
	case ResultRows:
		return "ROWS"
	case ResultUpdate:
		return "UPDATE"
	case ResultPlan:
		return "PLAN"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of executing one query.
type Result struct {
	Kind      ResultKind
	QueryType query.QueryType

	// ResultSets holds the rows of a data query, or the merged batches of a
	// scan query.
	ResultSets []tableclient.ResultSet

	// UpdateCount is the number of batch rows for batch executions and zero
	// otherwise. The service does not report affected rows.
	UpdateCount int64

	// Plan is set for explain queries.
	Plan *tableclient.ExplainResult

	// Batches is the number of streamed batches of a scan query.
	Batches int

	// TxID is the transaction left open by a data query.
	TxID string
}

func newDataResult(res *tableclient.DataQueryResult) *Result {
	r := &Result{QueryType: query.DataQuery, TxID: res.TxID}
	if len(res.ResultSets) == 0 {
		r.Kind = ResultUpdate
		return r
	}
	r.Kind = ResultRows
	r.ResultSets = res.ResultSets
	return r
}

// HasRows reports whether the result carries result sets.
func (r *Result) HasRows() bool {
	return r.Kind == ResultRows && len(r.ResultSets) > 0
}

// First returns the first result set.
func (r *Result) First() (tableclient.ResultSet, bool) {
	if !r.HasRows() {
		return tableclient.ResultSet{}, false
	}
	return r.ResultSets[0], true
}

// scanCollector merges streamed scan batches into one result set.
type scanCollector struct {
	set     tableclient.ResultSet
	batches int
}

func (c *scanCollector) sink(batch tableclient.ResultSet) error {
	if c.batches == 0 {
		c.set.Columns = batch.Columns
	}
	c.batches++
	c.set.Rows = append(c.set.Rows, batch.Rows...)
	c.set.Truncated = c.set.Truncated || batch.Truncated
	return nil
}

func (c *scanCollector) result() *Result {
	return &Result{
		Kind:       ResultRows,
		QueryType:  query.ScanQuery,
		ResultSets: []tableclient.ResultSet{c.set},
		Batches:    c.batches,
	}
}
