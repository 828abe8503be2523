package client

import (
	"context"
	"errors"
	"testing"

	"github.com/dan-strohschein/ydbsql-driver/tableclient"
	"github.com/dan-strohschein/ydbsql-driver/tableclient/mock"
)

func newTestSession(t *testing.T) tableclient.Session {
	t.Helper()
	s, err := mock.NewService().CreateSession(context.Background(), tableclient.SessionSettings{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return s
}

func TestStateKindString(t *testing.T) {
	tests := []struct {
		kind     StateKind
		expected string
	}{
		{Closed, "CLOSED"},
		{Idle, "IDLE"},
		{InTransaction, "IN_TRANSACTION"},
		{StateKind(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestNewTxState(t *testing.T) {
	s := NewTxState(Serializable, true, false)

	if s.Kind() != Idle {
		t.Errorf("expected initial kind IDLE, got %s", s.Kind())
	}
	if s.HeldSession() != nil {
		t.Error("new state should not hold a session")
	}
	if s.TxID() != "" {
		t.Errorf("expected empty tx id, got %q", s.TxID())
	}
	if !s.AutoCommit() || s.ReadOnly() || s.Level() != Serializable {
		t.Errorf("unexpected flags: %s", s)
	}
}

func TestDataQueryTransitions(t *testing.T) {
	session := newTestSession(t)
	idle := NewTxState(Serializable, false, false)

	inTx := idle.WithDataQuery(session, "tx-1")
	if inTx.Kind() != InTransaction {
		t.Fatalf("expected IN_TRANSACTION, got %s", inTx.Kind())
	}
	if inTx.TxID() != "tx-1" || inTx.HeldSession() != session {
		t.Errorf("unexpected state after data query: %s", inTx)
	}
	if idle.Kind() != Idle {
		t.Error("transition must not mutate the previous state")
	}

	// the service may hand out a new id for the same transaction
	cont := inTx.WithDataQuery(session, "tx-2")
	if cont.TxID() != "tx-2" || cont.Kind() != InTransaction {
		t.Errorf("expected continued transaction tx-2, got %s", cont)
	}

	// an empty id means the call committed
	committed := inTx.WithDataQuery(session, "")
	if committed.Kind() != Idle {
		t.Errorf("expected IDLE after implicit commit, got %s", committed.Kind())
	}
	if committed.HeldSession() != session {
		t.Error("session should be retained after a data query")
	}
}

func TestCommitAndRollbackTransitions(t *testing.T) {
	session := newTestSession(t)
	inTx := NewTxState(Serializable, false, false).WithDataQuery(session, "tx-1")

	tests := []struct {
		name string
		next *TxState
	}{
		{"commit keeps session", inTx.WithCommit(session)},
		{"rollback keeps session", inTx.WithRollback(session)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.next.Kind() != Idle {
				t.Errorf("expected IDLE, got %s", tt.next.Kind())
			}
			if tt.next.TxID() != "" {
				t.Errorf("expected empty tx id, got %q", tt.next.TxID())
			}
			if tt.next.HeldSession() != session {
				t.Error("expected the session to be kept")
			}
		})
	}

	dropped := inTx.WithRollback(nil)
	if dropped.HeldSession() != nil {
		t.Error("rollback with nil session should drop the session")
	}
}

func TestKeepAliveTransition(t *testing.T) {
	session := newTestSession(t)
	s := NewTxState(Serializable, true, false)

	next := s.WithKeepAlive(session)
	if next.Kind() != Idle || next.HeldSession() != session {
		t.Errorf("unexpected state after keep-alive: %s", next)
	}
	if again := next.WithKeepAlive(session); again != next {
		t.Error("keep-alive with the held session should return the same state")
	}
}

func TestConfigTransitions(t *testing.T) {
	s := NewTxState(Serializable, true, false)

	next, err := s.WithAutoCommit(false)
	if err != nil {
		t.Fatalf("WithAutoCommit failed: %v", err)
	}
	if next.AutoCommit() {
		t.Error("expected autocommit off")
	}
	if same, _ := next.WithAutoCommit(false); same != next {
		t.Error("setting the same value should return the same state")
	}

	next, err = next.WithReadOnly(true)
	if err != nil || !next.ReadOnly() {
		t.Fatalf("WithReadOnly failed: %v", err)
	}

	next, err = next.WithTransactionLevel(SnapshotReadOnly)
	if err != nil || next.Level() != SnapshotReadOnly {
		t.Fatalf("WithTransactionLevel failed: %v", err)
	}

	if _, err := next.WithTransactionLevel(IsolationLevel(99)); err == nil {
		t.Error("expected error for an unknown isolation level")
	}
}

func TestConfigTransitionsInsideTransaction(t *testing.T) {
	session := newTestSession(t)
	inTx := NewTxState(Serializable, false, false).WithDataQuery(session, "tx-1")

	_, err := inTx.WithTransactionLevel(OnlineConsistentReadOnly)
	var txErr *TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("expected TransactionError, got %v", err)
	}
	if txErr.TransactionID != "tx-1" {
		t.Errorf("expected transaction id tx-1, got %q", txErr.TransactionID)
	}

	if _, err := inTx.WithReadOnly(true); !errors.As(err, &txErr) {
		t.Errorf("expected TransactionError for read-only change, got %v", err)
	}

	if _, err := inTx.WithAutoCommit(true); err != nil {
		t.Errorf("autocommit flag change should be allowed, got %v", err)
	}
}

func TestClosedState(t *testing.T) {
	session := newTestSession(t)
	closed := NewTxState(Serializable, true, false).WithKeepAlive(session).WithClose()

	if !closed.IsClosed() || closed.Kind() != Closed {
		t.Fatalf("expected CLOSED, got %s", closed.Kind())
	}
	if closed.HeldSession() != nil {
		t.Error("closed state must not own a session")
	}

	var closedErr *ConnectionClosedError
	if _, err := closed.WithAutoCommit(false); !errors.As(err, &closedErr) {
		t.Errorf("expected ConnectionClosedError, got %v", err)
	}
	if _, err := closed.WithReadOnly(true); !errors.As(err, &closedErr) {
		t.Errorf("expected ConnectionClosedError, got %v", err)
	}
	if _, err := closed.WithTransactionLevel(SnapshotReadOnly); !errors.As(err, &closedErr) {
		t.Errorf("expected ConnectionClosedError, got %v", err)
	}
	if _, err := closed.Session(context.Background(), func(context.Context) (tableclient.Session, error) {
		t.Fatal("closed state must not acquire a session")
		return nil, nil
	}); !errors.As(err, &closedErr) {
		t.Errorf("expected ConnectionClosedError, got %v", err)
	}
}

func TestTxControl(t *testing.T) {
	session := newTestSession(t)

	tests := []struct {
		name       string
		state      *TxState
		wantBegin  bool
		wantMode   tableclient.TxMode
		wantCommit bool
		wantTxID   string
	}{
		{"autocommit serializable", NewTxState(Serializable, true, false), true, tableclient.SerializableReadWrite, true, ""},
		{"manual serializable", NewTxState(Serializable, false, false), true, tableclient.SerializableReadWrite, false, ""},
		{"manual read-only level commits", NewTxState(OnlineConsistentReadOnly, false, false), true, tableclient.OnlineReadOnly, true, ""},
		{"snapshot", NewTxState(SnapshotReadOnly, true, false), true, tableclient.SnapshotReadOnly, true, ""},
		{"continue", NewTxState(Serializable, false, false).WithDataQuery(session, "tx-9"), false, tableclient.SerializableReadWrite, false, "tx-9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := tt.state.TxControl()
			if tx.IsBegin() != tt.wantBegin {
				t.Errorf("expected begin=%v, got %v", tt.wantBegin, tx.IsBegin())
			}
			if tt.wantBegin && tx.Begin != tt.wantMode {
				t.Errorf("expected mode %s, got %s", tt.wantMode, tx.Begin)
			}
			if tx.CommitTx != tt.wantCommit {
				t.Errorf("expected commit=%v, got %v", tt.wantCommit, tx.CommitTx)
			}
			if tx.TxID != tt.wantTxID {
				t.Errorf("expected tx id %q, got %q", tt.wantTxID, tx.TxID)
			}
		})
	}
}

func TestSessionLazyAcquisition(t *testing.T) {
	session := newTestSession(t)
	calls := 0
	acquire := func(context.Context) (tableclient.Session, error) {
		calls++
		return session, nil
	}

	s := NewTxState(Serializable, true, false)
	got, err := s.Session(context.Background(), acquire)
	if err != nil || got != session {
		t.Fatalf("Session failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 acquisition, got %d", calls)
	}

	held := s.WithKeepAlive(session)
	if _, err := held.Session(context.Background(), acquire); err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("held session should be reused, got %d acquisitions", calls)
	}
}
