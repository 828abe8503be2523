package client

import (
	"context"
	"fmt"
	"time"

	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

// StateKind is the derived classification of a TxState.
type StateKind int

const (
	// Closed is terminal; every operation other than Close fails.
	Closed StateKind = iota
	// Idle has no open transaction. A session may or may not be held.
	Idle
	// InTransaction holds a session and an open transaction id.
	InTransaction
)

// String returns the string representation of the state kind.
func (k StateKind) String() string {
	switch k {
	case Closed:
		return "CLOSED"
	case Idle:
		return "IDLE"
	case InTransaction:
		return "IN_TRANSACTION"
	default:
		return "UNKNOWN"
	}
}

// TxState is the transaction state of one connection. Values are never
// mutated; every transition returns a new TxState.
//
// Invariant: txID is non-empty if and only if Kind() is InTransaction.
type TxState struct {
	session    tableclient.Session
	txID       string
	level      IsolationLevel
	autoCommit bool
	readOnly   bool
	closed     bool
}

// NewTxState creates an idle state without a session.
func NewTxState(level IsolationLevel, autoCommit, readOnly bool) *TxState {
	return &TxState{level: level, autoCommit: autoCommit, readOnly: readOnly}
}

func (s *TxState) clone() *TxState {
	next := *s
	return &next
}

// Kind returns the derived state classification.
func (s *TxState) Kind() StateKind {
	switch {
	case s.closed:
		return Closed
	case s.txID != "":
		return InTransaction
	default:
		return Idle
	}
}

// IsClosed reports whether the state is terminal.
func (s *TxState) IsClosed() bool { return s.closed }

// InTransaction reports whether a transaction is open.
func (s *TxState) InTransaction() bool { return s.Kind() == InTransaction }

// HeldSession returns the session owned by the state, or nil.
func (s *TxState) HeldSession() tableclient.Session { return s.session }

// TxID returns the open transaction id, or "".
func (s *TxState) TxID() string { return s.txID }

// Level returns the isolation level.
func (s *TxState) Level() IsolationLevel { return s.level }

// AutoCommit returns the autocommit flag.
func (s *TxState) AutoCommit() bool { return s.autoCommit }

// ReadOnly returns the read-only flag.
func (s *TxState) ReadOnly() bool { return s.readOnly }

// WithAutoCommit returns the state with the autocommit flag set.
func (s *TxState) WithAutoCommit(autoCommit bool) (*TxState, error) {
	if s.closed {
		return nil, ErrConnectionClosed("set auto-commit")
	}
	if s.autoCommit == autoCommit {
		return s, nil
	}
	next := s.clone()
	next.autoCommit = autoCommit
	return next, nil
}

// WithReadOnly returns the state with the read-only flag set. The flag
// cannot change inside a transaction.
func (s *TxState) WithReadOnly(readOnly bool) (*TxState, error) {
	if s.closed {
		return nil, ErrConnectionClosed("set read-only")
	}
	if s.readOnly == readOnly {
		return s, nil
	}
	if s.txID != "" {
		return nil, ErrReadOnlyInTransaction(s.txID)
	}
	next := s.clone()
	next.readOnly = readOnly
	return next, nil
}

// WithTransactionLevel returns the state with a new isolation level. The
// level cannot change inside a transaction.
func (s *TxState) WithTransactionLevel(level IsolationLevel) (*TxState, error) {
	if s.closed {
		return nil, ErrConnectionClosed("set transaction isolation")
	}
	if !level.Valid() {
		return nil, ErrInvalidIsolationLevel(level)
	}
	if s.level == level {
		return s, nil
	}
	if s.txID != "" {
		return nil, ErrIsolationChangeInTransaction(s.txID, s.level, level)
	}
	next := s.clone()
	next.level = level
	return next, nil
}

// WithDataQuery records a data query executed on session. txID is the
// transaction the service left open; "" means the call committed it.
func (s *TxState) WithDataQuery(session tableclient.Session, txID string) *TxState {
	next := s.clone()
	next.session = session
	next.txID = txID
	return next
}

// WithCommit ends the transaction and keeps session. A nil session means
// the previous session must not be reused.
func (s *TxState) WithCommit(session tableclient.Session) *TxState {
	next := s.clone()
	next.session = session
	next.txID = ""
	return next
}

// WithRollback ends the transaction and keeps session. A nil session means
// the previous session must not be reused.
func (s *TxState) WithRollback(session tableclient.Session) *TxState {
	next := s.clone()
	next.session = session
	next.txID = ""
	return next
}

// WithKeepAlive remembers session without changing the state kind.
func (s *TxState) WithKeepAlive(session tableclient.Session) *TxState {
	if s.session == session {
		return s
	}
	next := s.clone()
	next.session = session
	return next
}

// WithClose returns the terminal state. It owns no session.
func (s *TxState) WithClose() *TxState {
	next := s.clone()
	next.session = nil
	next.txID = ""
	next.closed = true
	return next
}

// TxControl returns the remote transaction control for the next data query:
// continue the open transaction, or begin one at the isolation level.
// Read-only levels always commit with the query.
func (s *TxState) TxControl() tableclient.TxControl {
	if s.txID != "" {
		return tableclient.ContinueTx(s.txID, s.autoCommit)
	}
	return tableclient.BeginTx(s.level.TxMode(), s.autoCommit || s.level.IsReadOnly())
}

// SessionAcquirer creates a new session.
type SessionAcquirer func(ctx context.Context) (tableclient.Session, error)

// Session returns the held session, or acquires a fresh one when none is
// held. The fresh session is bound by the next transition that carries it.
func (s *TxState) Session(ctx context.Context, acquire SessionAcquirer) (tableclient.Session, error) {
	if s.closed {
		return nil, ErrConnectionClosed("get session")
	}
	if s.session != nil {
		return s.session, nil
	}
	return acquire(ctx)
}

// String returns a one-line description for logging.
func (s *TxState) String() string {
	sessionID := ""
	if s.session != nil {
		sessionID = s.session.ID()
	}
	return fmt.Sprintf("TxState{%s tx=%q session=%q level=%s autoCommit=%t readOnly=%t}",
		s.Kind(), s.txID, sessionID, s.level, s.autoCommit, s.readOnly)
}

// StateTransition represents a replacement of the connection's TxState.
type StateTransition struct {
	// From is the previous state.
	From *TxState

	// To is the new current state.
	To *TxState

	// Timestamp is when the transition occurred.
	Timestamp time.Time

	// Reason names the operation that caused the transition.
	Reason string
}

// StateChangeHandler is called after the connection state changes.
type StateChangeHandler func(transition StateTransition)
