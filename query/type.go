// Package query classifies SQL-like query text into an execution kind and
// rewrites it into YQL, the native dialect of the table service.
package query

// QueryType is the execution kind of a query. It is decided once per query
// text and drives which remote operation and which transaction rules apply.
type QueryType int

const (
	// DataQuery runs inside the connection's transaction context.
	DataQuery QueryType = iota
	// ScanQuery is a streamed, non-transactional read.
	ScanQuery
	// SchemeQuery creates, alters or drops schema objects.
	SchemeQuery
	// ExplainQuery returns the execution plan without running the query.
	ExplainQuery
)

// String returns the string representation of the query type.
func (t QueryType) String() string {
	switch t {
	case DataQuery:
		return "DATA_QUERY"
	case ScanQuery:
		return "SCAN_QUERY"
	case SchemeQuery:
		return "SCHEME_QUERY"
	case ExplainQuery:
		return "EXPLAIN_QUERY"
	default:
		return "UNKNOWN"
	}
}

// Handler receives exactly one callback per dispatched query kind.
// Adding a query kind adds a method here, so every dispatcher stops
// compiling until it handles the new kind.
type Handler interface {
	DataQuery() error
	ScanQuery() error
	SchemeQuery() error
	ExplainQuery() error
}

// Dispatch calls the handler method matching t.
func (t QueryType) Dispatch(h Handler) error {
	switch t {
	case DataQuery:
		return h.DataQuery()
	case ScanQuery:
		return h.ScanQuery()
	case SchemeQuery:
		return h.SchemeQuery()
	case ExplainQuery:
		return h.ExplainQuery()
	}
	return ErrUnsupportedQueryType(t.String())
}
