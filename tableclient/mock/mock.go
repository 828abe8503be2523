// Package mock provides a scripted in-memory table service for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dan-strohschein/ydbsql-driver/query"
	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

// Op names a remote operation.
type Op string

const (
	OpCreateSession    Op = "CreateSession"
	OpExecuteDataQuery Op = "ExecuteDataQuery"
	OpCommit           Op = "CommitTransaction"
	OpRollback         Op = "RollbackTransaction"
	OpSchemeQuery      Op = "ExecuteSchemeQuery"
	OpScanQuery        Op = "ExecuteScanQuery"
	OpPrepare          Op = "PrepareDataQuery"
	OpExplain          Op = "ExplainDataQuery"
	OpKeepAlive        Op = "KeepAlive"
	OpCloseSession     Op = "CloseSession"
)

// Call is one recorded remote call.
type Call struct {
	Op        Op
	SessionID string
	YQL       string
	TxID      string
	Tx        tableclient.TxControl
	Params    tableclient.Params
}

// Service implements tableclient.Client for testing.
type Service struct {
	mu sync.RWMutex

	// Behavior configuration
	errors       map[Op]error
	failNext     map[Op][]error
	delays       map[Op]time.Duration
	resultSets   []tableclient.ResultSet
	issues       []tableclient.Issue
	scanBatches  []tableclient.ResultSet
	paramTypes   map[string]*query.Type
	plan         tableclient.ExplainResult
	sessionState tableclient.SessionState

	// Call tracking
	calls    map[Op]int
	history  []Call
	sessions map[string]*Session
	openTx   map[string]string
}

// NewService creates a new mock table service.
func NewService() *Service {
	return &Service{
		errors:       make(map[Op]error),
		failNext:     make(map[Op][]error),
		delays:       make(map[Op]time.Duration),
		sessionState: tableclient.SessionReady,
		plan:         tableclient.ExplainResult{AST: "(ast)", Plan: `{"Plan":{}}`},
		calls:        make(map[Op]int),
		sessions:     make(map[string]*Session),
		openTx:       make(map[string]string),
	}
}

// WithError makes every call of op fail with err. A nil err clears it.
func (s *Service) WithError(op Op, err error) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errors, op)
	} else {
		s.errors[op] = err
	}
	return s
}

// FailNext makes the next len(errs) calls of op fail in order.
func (s *Service) FailNext(op Op, errs ...error) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = append(s.failNext[op], errs...)
	return s
}

// WithDelay delays op. The delay is interrupted by context cancellation.
func (s *Service) WithDelay(op Op, d time.Duration) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[op] = d
	return s
}

// WithResultSets configures the result of ExecuteDataQuery.
func (s *Service) WithResultSets(sets ...tableclient.ResultSet) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultSets = sets
	return s
}

// WithIssues configures diagnostics attached to ExecuteDataQuery results.
func (s *Service) WithIssues(issues ...tableclient.Issue) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = issues
	return s
}

// WithScanBatches configures the batches streamed by ExecuteScanQuery.
func (s *Service) WithScanBatches(batches ...tableclient.ResultSet) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanBatches = batches
	return s
}

// WithParamTypes configures the parameter types reported by PrepareDataQuery.
func (s *Service) WithParamTypes(types map[string]*query.Type) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paramTypes = make(map[string]*query.Type, len(types))
	for name, t := range types {
		s.paramTypes[name] = t
	}
	return s
}

// WithPlan configures the result of ExplainDataQuery.
func (s *Service) WithPlan(ast, plan string) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = tableclient.ExplainResult{AST: ast, Plan: plan}
	return s
}

// WithSessionState configures the state reported by KeepAlive.
func (s *Service) WithSessionState(state tableclient.SessionState) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionState = state
	return s
}

// CreateSession implements tableclient.Client.
func (s *Service) CreateSession(ctx context.Context, _ tableclient.SessionSettings) (tableclient.Session, error) {
	if err := s.begin(ctx, Call{Op: OpCreateSession}); err != nil {
		return nil, err
	}

	sess := &Session{id: "session-" + uuid.NewString(), svc: s}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess, nil
}

// CallCount returns the number of calls of op, failed ones included.
func (s *Service) CallCount(op Op) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// History returns every recorded call in order.
func (s *Service) History() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]Call, len(s.history))
	copy(history, s.history)
	return history
}

// OpenSessions returns the number of sessions created and not yet closed.
func (s *Service) OpenSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// OpenTransactions returns the number of transactions neither committed nor
// rolled back.
func (s *Service) OpenTransactions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.openTx)
}

// Reset clears call counts, history and injected failures. Open sessions and
// transactions are kept.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors = make(map[Op]error)
	s.failNext = make(map[Op][]error)
	s.delays = make(map[Op]time.Duration)
	s.calls = make(map[Op]int)
	s.history = nil
}

// begin records c and returns the injected failure for it, if any.
func (s *Service) begin(ctx context.Context, c Call) error {
	s.mu.Lock()
	s.calls[c.Op]++
	s.history = append(s.history, c)

	var err error
	if queue := s.failNext[c.Op]; len(queue) > 0 {
		err = queue[0]
		s.failNext[c.Op] = queue[1:]
	} else {
		err = s.errors[c.Op]
	}
	delay := s.delays[c.Op]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case <-time.After(delay):
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return status.FromContextError(ctxErr).Err()
	}
	return err
}

// Session implements tableclient.Session for testing.
type Session struct {
	id     string
	svc    *Service
	mu     sync.Mutex
	closed bool
}

// ID implements tableclient.Session.
func (s *Session) ID() string { return s.id }

// IsClosed returns whether Close was called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) call(ctx context.Context, c Call) error {
	c.SessionID = s.id
	if err := s.svc.begin(ctx, c); err != nil {
		return err
	}
	if s.IsClosed() {
		return ErrBadSession()
	}
	return nil
}

// ExecuteDataQuery implements tableclient.Session.
func (s *Session) ExecuteDataQuery(ctx context.Context, yql string, tx tableclient.TxControl, params tableclient.Params, _ tableclient.DataQuerySettings) (*tableclient.DataQueryResult, error) {
	if err := s.call(ctx, Call{Op: OpExecuteDataQuery, YQL: yql, TxID: tx.TxID, Tx: tx, Params: params}); err != nil {
		return nil, err
	}

	svc := s.svc
	svc.mu.Lock()
	defer svc.mu.Unlock()

	txID := tx.TxID
	if tx.IsBegin() {
		txID = "tx-" + uuid.NewString()
		svc.openTx[txID] = s.id
	} else if owner, ok := svc.openTx[txID]; !ok || owner != s.id {
		return nil, status.Errorf(codes.NotFound, "transaction %s not found", txID)
	}
	if tx.CommitTx {
		delete(svc.openTx, txID)
		txID = ""
	}

	return &tableclient.DataQueryResult{
		TxID:       txID,
		ResultSets: append([]tableclient.ResultSet(nil), svc.resultSets...),
		Issues:     append([]tableclient.Issue(nil), svc.issues...),
	}, nil
}

// CommitTransaction implements tableclient.Session.
func (s *Session) CommitTransaction(ctx context.Context, txID string, _ tableclient.CommitSettings) error {
	if err := s.call(ctx, Call{Op: OpCommit, TxID: txID}); err != nil {
		return err
	}
	return s.svc.finishTx(txID)
}

// RollbackTransaction implements tableclient.Session.
func (s *Session) RollbackTransaction(ctx context.Context, txID string, _ tableclient.RollbackSettings) error {
	if err := s.call(ctx, Call{Op: OpRollback, TxID: txID}); err != nil {
		return err
	}
	return s.svc.finishTx(txID)
}

func (svc *Service) finishTx(txID string) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if _, ok := svc.openTx[txID]; !ok {
		return status.Errorf(codes.NotFound, "transaction %s not found", txID)
	}
	delete(svc.openTx, txID)
	return nil
}

// ExecuteSchemeQuery implements tableclient.Session.
func (s *Session) ExecuteSchemeQuery(ctx context.Context, yql string, _ tableclient.SchemeQuerySettings) error {
	return s.call(ctx, Call{Op: OpSchemeQuery, YQL: yql})
}

// ExecuteScanQuery implements tableclient.Session.
func (s *Session) ExecuteScanQuery(ctx context.Context, yql string, params tableclient.Params, _ tableclient.ScanQuerySettings, sink tableclient.ScanSink) error {
	if err := s.call(ctx, Call{Op: OpScanQuery, YQL: yql, Params: params}); err != nil {
		return err
	}

	s.svc.mu.RLock()
	batches := append([]tableclient.ResultSet(nil), s.svc.scanBatches...)
	s.svc.mu.RUnlock()

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return status.FromContextError(err).Err()
		}
		if err := sink(batch); err != nil {
			return err
		}
	}
	return nil
}

// PrepareDataQuery implements tableclient.Session.
func (s *Session) PrepareDataQuery(ctx context.Context, yql string, _ tableclient.PrepareSettings) (*tableclient.PreparedQuery, error) {
	if err := s.call(ctx, Call{Op: OpPrepare, YQL: yql}); err != nil {
		return nil, err
	}

	s.svc.mu.RLock()
	defer s.svc.mu.RUnlock()

	pq := &tableclient.PreparedQuery{ID: "query-" + uuid.NewString(), YQL: yql}
	if s.svc.paramTypes != nil {
		pq.ParamTypes = make(map[string]*query.Type, len(s.svc.paramTypes))
		for name, t := range s.svc.paramTypes {
			pq.ParamTypes[name] = t
		}
	}
	return pq, nil
}

// ExplainDataQuery implements tableclient.Session.
func (s *Session) ExplainDataQuery(ctx context.Context, yql string, _ tableclient.ExplainSettings) (*tableclient.ExplainResult, error) {
	if err := s.call(ctx, Call{Op: OpExplain, YQL: yql}); err != nil {
		return nil, err
	}

	s.svc.mu.RLock()
	defer s.svc.mu.RUnlock()
	plan := s.svc.plan
	return &plan, nil
}

// KeepAlive implements tableclient.Session.
func (s *Session) KeepAlive(ctx context.Context, _ tableclient.KeepAliveSettings) (tableclient.SessionState, error) {
	if err := s.call(ctx, Call{Op: OpKeepAlive}); err != nil {
		return tableclient.SessionUnspecified, err
	}

	s.svc.mu.RLock()
	defer s.svc.mu.RUnlock()
	return s.svc.sessionState, nil
}

// Close implements tableclient.Session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.svc.mu.Lock()
	s.svc.calls[OpCloseSession]++
	s.svc.history = append(s.svc.history, Call{Op: OpCloseSession, SessionID: s.id})
	delete(s.svc.sessions, s.id)
	for txID, owner := range s.svc.openTx {
		if owner == s.id {
			delete(s.svc.openTx, txID)
		}
	}
	s.svc.mu.Unlock()
	return nil
}

// ErrUnavailable is a transient transport failure.
func ErrUnavailable() error {
	return status.Error(codes.Unavailable, "table service unavailable")
}

// ErrOverloaded is returned when the service sheds load.
func ErrOverloaded() error {
	return status.Error(codes.ResourceExhausted, "table service overloaded")
}

// ErrAborted is a transaction lock invalidation.
func ErrAborted() error {
	return status.Error(codes.Aborted, "transaction locks invalidated")
}

// ErrBadSession is returned for calls on a broken or closed session.
func ErrBadSession() error {
	return status.Error(codes.FailedPrecondition, "bad session")
}

// ErrSchemeError is returned for queries referencing unknown objects.
func ErrSchemeError(msg string) error {
	return status.Error(codes.InvalidArgument, msg)
}
