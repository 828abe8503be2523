package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

func TestServiceTransactions(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	s, err := svc.CreateSession(ctx, tableclient.SessionSettings{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	res, err := s.ExecuteDataQuery(ctx, "select 1", tableclient.BeginTx(tableclient.SerializableReadWrite, false), nil, tableclient.DataQuerySettings{})
	if err != nil {
		t.Fatalf("ExecuteDataQuery failed: %v", err)
	}
	if res.TxID == "" {
		t.Fatal("expected an open transaction")
	}
	if svc.OpenTransactions() != 1 {
		t.Errorf("expected 1 open transaction, got %d", svc.OpenTransactions())
	}

	if _, err := s.ExecuteDataQuery(ctx, "select 2", tableclient.ContinueTx("tx-unknown", false), nil, tableclient.DataQuerySettings{}); status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound for unknown transaction, got %v", err)
	}

	if err := s.CommitTransaction(ctx, res.TxID, tableclient.CommitSettings{}); err != nil {
		t.Fatalf("CommitTransaction failed: %v", err)
	}
	if svc.OpenTransactions() != 0 {
		t.Errorf("expected no open transactions, got %d", svc.OpenTransactions())
	}
	if err := s.RollbackTransaction(ctx, res.TxID, tableclient.RollbackSettings{}); status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound for finished transaction, got %v", err)
	}
}

func TestServiceInjectedFailures(t *testing.T) {
	svc := NewService().FailNext(OpKeepAlive, ErrUnavailable())
	ctx := context.Background()

	s, err := svc.CreateSession(ctx, tableclient.SessionSettings{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := s.KeepAlive(ctx, tableclient.KeepAliveSettings{}); status.Code(err) != codes.Unavailable {
		t.Errorf("expected Unavailable, got %v", err)
	}
	state, err := s.KeepAlive(ctx, tableclient.KeepAliveSettings{})
	if err != nil || state != tableclient.SessionReady {
		t.Errorf("expected READY after queued failure, got %s, %v", state, err)
	}

	boom := errors.New("boom")
	svc.WithError(OpSchemeQuery, boom)
	if err := s.ExecuteSchemeQuery(ctx, "create table t (id Int32)", tableclient.SchemeQuerySettings{}); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	svc.WithError(OpSchemeQuery, nil)
	if err := s.ExecuteSchemeQuery(ctx, "create table t (id Int32)", tableclient.SchemeQuerySettings{}); err != nil {
		t.Errorf("expected cleared error, got %v", err)
	}

	if svc.CallCount(OpKeepAlive) != 2 || svc.CallCount(OpSchemeQuery) != 2 {
		t.Errorf("unexpected call counts: keepalive=%d scheme=%d", svc.CallCount(OpKeepAlive), svc.CallCount(OpSchemeQuery))
	}

	svc.Reset()
	if len(svc.History()) != 0 || svc.CallCount(OpKeepAlive) != 0 {
		t.Error("Reset should clear history and counts")
	}
}

func TestServiceDelayHonorsContext(t *testing.T) {
	svc := NewService().WithDelay(OpCreateSession, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := svc.CreateSession(ctx, tableclient.SessionSettings{}); status.Code(err) != codes.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestSessionClose(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	s, _ := svc.CreateSession(ctx, tableclient.SessionSettings{})
	if _, err := s.ExecuteDataQuery(ctx, "select 1", tableclient.BeginTx(tableclient.SerializableReadWrite, false), nil, tableclient.DataQuerySettings{}); err != nil {
		t.Fatalf("ExecuteDataQuery failed: %v", err)
	}

	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if svc.OpenSessions() != 0 || svc.OpenTransactions() != 0 {
		t.Errorf("closing a session should drop it and its transactions")
	}
	if svc.CallCount(OpCloseSession) != 1 {
		t.Errorf("expected 1 close call, got %d", svc.CallCount(OpCloseSession))
	}

	if _, err := s.KeepAlive(ctx, tableclient.KeepAliveSettings{}); status.Code(err) != codes.FailedPrecondition {
		t.Errorf("expected bad session error, got %v", err)
	}
}

func TestScanBatchesAndPrepare(t *testing.T) {
	svc := NewService().WithScanBatches(
		tableclient.ResultSet{Rows: [][]interface{}{{1}}},
		tableclient.ResultSet{Rows: [][]interface{}{{2}, {3}}},
	)
	ctx := context.Background()
	s, _ := svc.CreateSession(ctx, tableclient.SessionSettings{})

	var rows int
	err := s.ExecuteScanQuery(ctx, "select * from t", nil, tableclient.ScanQuerySettings{}, func(batch tableclient.ResultSet) error {
		rows += len(batch.Rows)
		return nil
	})
	if err != nil || rows != 3 {
		t.Errorf("expected 3 streamed rows, got %d (%v)", rows, err)
	}

	pq, err := s.PrepareDataQuery(ctx, "select 1", tableclient.PrepareSettings{})
	if err != nil {
		t.Fatalf("PrepareDataQuery failed: %v", err)
	}
	if pq.YQL != "select 1" || pq.ID == "" {
		t.Errorf("unexpected prepared query: %+v", pq)
	}
}
