// Package tableclient defines the boundary to the remote table service.
// Session acquisition, RPC transport and wire serialization live behind
// these interfaces.
package tableclient

import (
	"context"
	"time"

	"github.com/dan-strohschein/ydbsql-driver/query"
)

// Client acquires sessions from the table service.
type Client interface {
	// CreateSession opens a new remote session.
	CreateSession(ctx context.Context, settings SessionSettings) (Session, error)
}

// Session is a remote execution context. A session is used by one caller at
// a time.
type Session interface {
	// ID returns the remote session identifier
	ID() string

	// ExecuteDataQuery runs yql under tx and returns the result together with
	// the transaction id the service left open, if any.
	ExecuteDataQuery(ctx context.Context, yql string, tx TxControl, params Params, settings DataQuerySettings) (*DataQueryResult, error)

	// CommitTransaction commits the transaction txID.
	CommitTransaction(ctx context.Context, txID string, settings CommitSettings) error

	// RollbackTransaction rolls back the transaction txID.
	RollbackTransaction(ctx context.Context, txID string, settings RollbackSettings) error

	// ExecuteSchemeQuery runs a schema mutation.
	ExecuteSchemeQuery(ctx context.Context, yql string, settings SchemeQuerySettings) error

	// ExecuteScanQuery streams result batches of yql into sink.
	ExecuteScanQuery(ctx context.Context, yql string, params Params, settings ScanQuerySettings, sink ScanSink) error

	// PrepareDataQuery compiles yql and reports the parameter types.
	PrepareDataQuery(ctx context.Context, yql string, settings PrepareSettings) (*PreparedQuery, error)

	// ExplainDataQuery returns the plan of yql without running it.
	ExplainDataQuery(ctx context.Context, yql string, settings ExplainSettings) (*ExplainResult, error)

	// KeepAlive refreshes the session and reports its state.
	KeepAlive(ctx context.Context, settings KeepAliveSettings) (SessionState, error)

	// Close releases the session.
	Close(ctx context.Context) error
}

// ScanSink receives streamed result batches in order. Returning an error
// stops the scan.
type ScanSink func(batch ResultSet) error

// Value is a typed parameter value.
type Value struct {
	Type *query.Type
	Data interface{}
}

// Params maps $-prefixed parameter names to values.
type Params map[string]Value

// TxMode is the begin mode of a new transaction.
type TxMode int

const (
	SerializableReadWrite TxMode = iota
	OnlineReadOnly
	OnlineReadOnlyInconsistent
	StaleReadOnly
	SnapshotReadOnly
)

// String returns the string representation of the mode.
func (m TxMode) String() string {
	switch m {
	case SerializableReadWrite:
		return "SERIALIZABLE_RW"
	case OnlineReadOnly:
		return "ONLINE_RO"
	case OnlineReadOnlyInconsistent:
		return "ONLINE_INCONSISTENT_RO"
	case StaleReadOnly:
		return "STALE_RO"
	case SnapshotReadOnly:
		return "SNAPSHOT_RO"
	default:
		return "UNKNOWN"
	}
}

// TxControl selects the transaction a data query runs in: a new one started
// with Begin, or the existing TxID. CommitTx commits it after the query.
type TxControl struct {
	TxID     string
	Begin    TxMode
	CommitTx bool
}

// BeginTx starts a new transaction.
func BeginTx(mode TxMode, commit bool) TxControl {
	return TxControl{Begin: mode, CommitTx: commit}
}

// ContinueTx continues the open transaction txID.
func ContinueTx(txID string, commit bool) TxControl {
	return TxControl{TxID: txID, CommitTx: commit}
}

// IsBegin reports whether tx starts a new transaction.
func (tx TxControl) IsBegin() bool { return tx.TxID == "" }

// SessionSettings controls session acquisition.
type SessionSettings struct {
	Timeout time.Duration
}

// OperationSettings are shared by every session call.
type OperationSettings struct {
	// Timeout bounds the client side wait. Zero means no limit.
	Timeout time.Duration
	// Deadline is passed to the service as the operation timeout.
	Deadline time.Duration
}

// DataQuerySettings controls ExecuteDataQuery.
type DataQuerySettings struct {
	OperationSettings
	KeepInQueryCache bool
}

// CommitSettings controls CommitTransaction.
type CommitSettings struct{ OperationSettings }

// RollbackSettings controls RollbackTransaction.
type RollbackSettings struct{ OperationSettings }

// SchemeQuerySettings controls ExecuteSchemeQuery.
type SchemeQuerySettings struct{ OperationSettings }

// ScanQuerySettings controls ExecuteScanQuery.
type ScanQuerySettings struct{ OperationSettings }

// PrepareSettings controls PrepareDataQuery.
type PrepareSettings struct{ OperationSettings }

// ExplainSettings controls ExplainDataQuery.
type ExplainSettings struct{ OperationSettings }

// KeepAliveSettings controls KeepAlive.
type KeepAliveSettings struct{ OperationSettings }

// SessionState is reported by KeepAlive.
type SessionState int

const (
	SessionUnspecified SessionState = iota
	SessionReady
	SessionBusy
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	switch s {
	case SessionReady:
		return "READY"
	case SessionBusy:
		return "BUSY"
	default:
		return "UNSPECIFIED"
	}
}

// Column describes one result column.
type Column struct {
	Name string
	Type *query.Type
}

// ResultSet is one result of a query or one scan batch.
type ResultSet struct {
	Columns []Column
	Rows    [][]interface{}
	// Truncated is set when the service cut the result at its row limit.
	Truncated bool
}

// Issue is a diagnostic message attached to a successful call.
type Issue struct {
	Code     uint32
	Severity string
	Message  string
}

// DataQueryResult is returned by ExecuteDataQuery.
type DataQueryResult struct {
	// TxID is empty when the transaction was committed by the call.
	TxID       string
	ResultSets []ResultSet
	Issues     []Issue
}

// PreparedQuery is a compiled query handle.
type PreparedQuery struct {
	ID         string
	YQL        string
	ParamTypes map[string]*query.Type
}

// ExplainResult is returned by ExplainDataQuery.
type ExplainResult struct {
	AST  string
	Plan string
}
