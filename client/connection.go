package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dan-strohschein/ydbsql-driver/params"
	"github.com/dan-strohschein/ydbsql-driver/query"
	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

// Connection is one logical connection to the table service. It tracks the
// transaction state across statements and dispatches every query kind to
// its remote call.
//
// A connection is driven by one caller at a time. IsClosed, TxID, State and
// Cancel may be called concurrently from other goroutines.
type Connection struct {
	id        string
	opts      Options
	logger    Logger
	executor  *Executor
	cache     *query.Cache
	state     atomic.Pointer[TxState]
	debugMode atomic.Bool

	handlersMu     sync.RWMutex
	handlers       []StateChangeHandler
	lastTransition atomic.Pointer[StateTransition]
}

// Open creates a connection over tc. No remote call is made; sessions are
// acquired lazily.
func Open(ctx context.Context, tc tableclient.Client, opts Options) (*Connection, error) {
	if tc == nil {
		return nil, errors.New("open connection: table client is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.LogLevel, os.Stderr)
	}

	id := uuid.NewString()
	logger = logger.WithFields(String("connection_id", id))

	c := &Connection{
		id:       id,
		opts:     opts,
		logger:   logger,
		executor: NewExecutor(tc, opts, logger),
		cache:    query.NewCache(opts.QueryCacheSize),
	}
	c.debugMode.Store(opts.DebugMode)
	c.state.Store(NewTxState(opts.TransactionLevel, opts.AutoCommit, false))
	if opts.OnStateChange != nil {
		c.handlers = append(c.handlers, opts.OnStateChange)
	}

	logger.Debug("connection opened",
		String("transaction_level", opts.TransactionLevel.String()),
		Bool("auto_commit", opts.AutoCommit))
	return c, nil
}

// ID returns the connection identifier used in logs.
func (c *Connection) ID() string { return c.id }

// Options returns the options the connection was opened with.
func (c *Connection) Options() Options { return c.opts }

// State returns the current transaction state.
func (c *Connection) State() *TxState { return c.state.Load() }

// IsClosed reports whether Close was called.
func (c *Connection) IsClosed() bool { return c.state.Load().IsClosed() }

// TxID returns the open transaction id, or "".
func (c *Connection) TxID() string { return c.state.Load().TxID() }

// AutoCommit returns the autocommit flag.
func (c *Connection) AutoCommit() bool { return c.state.Load().AutoCommit() }

// TransactionIsolation returns the isolation level.
func (c *Connection) TransactionIsolation() IsolationLevel { return c.state.Load().Level() }

// IsReadOnly returns the read-only flag.
func (c *Connection) IsReadOnly() bool { return c.state.Load().ReadOnly() }

// SetCatalog is accepted and ignored; the service has no catalogs.
func (c *Connection) SetCatalog(catalog string) {}

// Catalog always returns "".
func (c *Connection) Catalog() string { return "" }

// OnStateChange registers a handler to be called on state transitions.
func (c *Connection) OnStateChange(handler StateChangeHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// LastTransition returns the most recent state transition, if any.
func (c *Connection) LastTransition() (StateTransition, bool) {
	t := c.lastTransition.Load()
	if t == nil {
		return StateTransition{}, false
	}
	return *t, true
}

// RegisterHook adds a hook around every remote call of the connection.
func (c *Connection) RegisterHook(hook Hook) { c.executor.RegisterHook(hook) }

// UnregisterHook removes a hook by name.
func (c *Connection) UnregisterHook(name string) bool { return c.executor.UnregisterHook(name) }

// Hooks returns the names of all registered hooks in execution order.
func (c *Connection) Hooks() []string { return c.executor.Hooks() }

// FormatError formats err using the connection's debug mode.
func (c *Connection) FormatError(err error) string {
	return FormatError(err, c.debugMode.Load())
}

// Warnings returns the issues reported by the service since the last clear.
func (c *Connection) Warnings() []tableclient.Issue { return c.executor.Warnings() }

// ClearWarnings drops the recorded issues.
func (c *Connection) ClearWarnings() { c.executor.ClearWarnings() }

// Cancel cancels the in-flight remote call. It is safe to call from another
// goroutine and reports whether a call was cancelled.
func (c *Connection) Cancel() bool {
	cancelled := c.executor.Cancel()
	if cancelled {
		c.logger.Debug("cancelled in-flight call")
	}
	return cancelled
}

// QueryCacheStats returns the parse cache statistics.
func (c *Connection) QueryCacheStats() query.CacheSnapshot { return c.cache.Stats() }

// Parse classifies and rewrites sql with the connection's options. Results
// are cached per connection.
func (c *Connection) Parse(sql string) (*query.ParsedQuery, error) {
	return c.cache.Parse(sql, c.opts.QueryOptions())
}

// NativeSQL returns the YQL that sql is rewritten to.
func (c *Connection) NativeSQL(sql string) (string, error) {
	pq, err := c.Parse(sql)
	if err != nil {
		return "", err
	}
	return pq.Render(nil), nil
}

func (c *Connection) ensureOpened(operation string) (*TxState, error) {
	state := c.state.Load()
	if state.IsClosed() {
		return nil, ErrConnectionClosed(operation)
	}
	return state, nil
}

// updateState replaces the current state with next and releases every
// session that next no longer carries: the one held by the previous state
// and any of touched.
func (c *Connection) updateState(next *TxState, reason string, touched ...tableclient.Session) {
	prev := c.state.Load()
	if prev != next {
		c.state.Store(next)
		c.logger.Debug("update tx state",
			String("from", prev.String()),
			String("to", next.String()),
			String("reason", reason))

		transition := StateTransition{From: prev, To: next, Timestamp: time.Now(), Reason: reason}
		c.lastTransition.Store(&transition)
		c.notify(transition)
	}

	kept := next.HeldSession()
	released := make([]tableclient.Session, 0, len(touched)+1)
	for _, s := range append(touched, prev.HeldSession()) {
		if s == nil || s == kept || containsSession(released, s) {
			continue
		}
		released = append(released, s)
		c.closeSession(s)
	}
}

func containsSession(sessions []tableclient.Session, s tableclient.Session) bool {
	for _, other := range sessions {
		if other == s {
			return true
		}
	}
	return false
}

func (c *Connection) notify(transition StateTransition) {
	c.handlersMu.RLock()
	handlers := append([]StateChangeHandler(nil), c.handlers...)
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(transition)
	}
}

func (c *Connection) closeSession(session tableclient.Session) {
	timeout := c.opts.SessionTimeout
	if timeout <= 0 {
		timeout = c.opts.JoinDuration
	}
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := session.Close(ctx); err != nil {
		c.logger.Warn("failed to release session",
			String("session_id", session.ID()),
			Error("error", err))
		return
	}
	c.logger.Debug("session released", String("session_id", session.ID()))
}

// withSession runs fn on a dedicated session released on every exit path.
func (c *Connection) withSession(ctx context.Context, fn func(session tableclient.Session) error) error {
	session, err := c.executor.CreateSession(ctx)
	if err != nil {
		return err
	}
	defer c.closeSession(session)
	return fn(session)
}

// operationSettings applies the deadline timeout: the service gets the
// deadline and the client waits one second longer.
func (c *Connection) operationSettings() tableclient.OperationSettings {
	var s tableclient.OperationSettings
	if d := c.opts.DeadlineTimeout; d > 0 {
		s.Deadline = d
		s.Timeout = d + time.Second
	}
	return s
}

// callTimeout bounds a remote call: the deadline timeout when set, then the
// specific timeout, then JoinDuration.
func (c *Connection) callTimeout(specific time.Duration) time.Duration {
	if s := c.operationSettings(); s.Timeout > 0 {
		return s.Timeout
	}
	if specific > 0 {
		return specific
	}
	return c.opts.JoinDuration
}

// SetAutoCommit sets the autocommit flag. Enabling it inside a transaction
// commits the transaction first.
func (c *Connection) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	state, err := c.ensureOpened("set auto-commit")
	if err != nil {
		return err
	}
	if state.AutoCommit() == autoCommit {
		return nil
	}

	c.logger.Debug("set auto-commit", Bool("auto_commit", autoCommit))
	if autoCommit {
		if err := c.Commit(ctx); err != nil {
			return err
		}
	}

	next, err := c.state.Load().WithAutoCommit(autoCommit)
	if err != nil {
		return err
	}
	c.updateState(next, "set auto-commit")
	return nil
}

// SetTransactionIsolation sets the isolation level. Changing it inside a
// transaction fails.
func (c *Connection) SetTransactionIsolation(level IsolationLevel) error {
	state, err := c.ensureOpened("set transaction isolation")
	if err != nil {
		return err
	}
	if state.Level() == level {
		return nil
	}

	c.logger.Debug("set transaction isolation level", String("level", level.String()))
	next, err := state.WithTransactionLevel(level)
	if err != nil {
		return err
	}
	c.updateState(next, "set transaction isolation")
	return nil
}

// SetReadOnly sets the read-only flag. Changing it inside a transaction
// fails.
func (c *Connection) SetReadOnly(readOnly bool) error {
	state, err := c.ensureOpened("set read-only")
	if err != nil {
		return err
	}
	next, err := state.WithReadOnly(readOnly)
	if err != nil {
		return err
	}
	c.updateState(next, "set read-only")
	return nil
}

// Commit commits the open transaction. It is a no-op without one. The state
// always leaves the transaction, even when the remote commit fails.
func (c *Connection) Commit(ctx context.Context) (err error) {
	state, err := c.ensureOpened("commit")
	if err != nil {
		return err
	}
	if !state.InTransaction() {
		return nil
	}

	session, err := state.Session(ctx, c.executor.CreateSession)
	if err != nil {
		return err
	}
	txID := state.TxID()

	defer func() {
		kept := session
		if IsSessionBroken(err) {
			kept = nil
		}
		c.updateState(c.state.Load().WithCommit(kept), "commit", session)
	}()

	c.executor.ClearWarnings()
	return c.executor.Execute(ctx, Call{
		Operation:   "commit " + txID,
		CommandType: commandTransaction,
		SessionID:   session.ID(),
		Timeout:     c.callTimeout(0),
	}, func(ctx context.Context, _ string) error {
		return session.CommitTransaction(ctx, txID, tableclient.CommitSettings{OperationSettings: c.operationSettings()})
	})
}

// Rollback rolls back the open transaction. It is a no-op without one. The
// state always leaves the transaction, even when the remote rollback fails.
func (c *Connection) Rollback(ctx context.Context) (err error) {
	state, err := c.ensureOpened("rollback")
	if err != nil {
		return err
	}
	if !state.InTransaction() {
		return nil
	}

	session, err := state.Session(ctx, c.executor.CreateSession)
	if err != nil {
		return err
	}
	txID := state.TxID()

	defer func() {
		kept := session
		if IsSessionBroken(err) {
			kept = nil
		}
		c.updateState(c.state.Load().WithRollback(kept), "rollback", session)
	}()

	c.executor.ClearWarnings()
	return c.executor.Execute(ctx, Call{
		Operation:   "rollback " + txID,
		CommandType: commandTransaction,
		SessionID:   session.ID(),
		Timeout:     c.callTimeout(0),
	}, func(ctx context.Context, _ string) error {
		return session.RollbackTransaction(ctx, txID, tableclient.RollbackSettings{OperationSettings: c.operationSettings()})
	})
}

// IsValid sends a keep-alive on the connection session and reports whether
// the session is ready. The session is remembered even when the call fails.
func (c *Connection) IsValid(ctx context.Context, timeout time.Duration) (valid bool, err error) {
	state, err := c.ensureOpened("keep alive")
	if err != nil {
		return false, err
	}

	session, err := state.Session(ctx, c.executor.CreateSession)
	if err != nil {
		return false, err
	}

	defer func() {
		kept := session
		if IsSessionBroken(err) {
			kept = nil
		}
		c.updateState(c.state.Load().WithKeepAlive(kept), "keep alive", session)
	}()

	var sessionState tableclient.SessionState
	err = c.executor.Execute(ctx, Call{
		Operation:   "keep alive",
		CommandType: commandSession,
		SessionID:   session.ID(),
		Timeout:     timeout,
		Idempotent:  true,
	}, func(ctx context.Context, _ string) error {
		st, err := session.KeepAlive(ctx, tableclient.KeepAliveSettings{
			OperationSettings: tableclient.OperationSettings{Timeout: timeout},
		})
		if err != nil {
			return err
		}
		sessionState = st
		return nil
	})
	if err != nil {
		return false, err
	}
	return sessionState == tableclient.SessionReady, nil
}

// Close commits any open transaction, releases the held session and moves
// to the terminal state. Closing a closed connection is a no-op. The
// connection is closed even when the commit fails; the commit error is
// returned.
func (c *Connection) Close(ctx context.Context) error {
	if c.state.Load().IsClosed() {
		return nil
	}

	err := c.Commit(ctx)
	c.executor.ClearWarnings()
	c.updateState(c.state.Load().WithClose(), "close")
	c.cache.Clear()

	if err != nil {
		c.logger.Warn("commit on close failed", Error("error", err))
	}
	c.logger.Debug("connection closed")
	return err
}

// CreateStatement creates a statement for ad hoc queries.
func (c *Connection) CreateStatement() (*Statement, error) {
	if _, err := c.ensureOpened("create statement"); err != nil {
		return nil, err
	}
	return &Statement{conn: c}, nil
}

// Execute runs sql with args on a new statement. See Statement.Execute.
func (c *Connection) Execute(ctx context.Context, sql string, args ...interface{}) (*Result, error) {
	stmt, err := c.CreateStatement()
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	return stmt.Execute(ctx, sql, args...)
}

// PrepareStatement prepares sql for repeated execution. Only data and scan
// queries can be prepared.
func (c *Connection) PrepareStatement(sql string, mode params.PrepareMode) (*PreparedStatement, error) {
	if _, err := c.ensureOpened("prepare statement"); err != nil {
		return nil, err
	}
	c.executor.ClearWarnings()

	pq, err := c.Parse(sql)
	if err != nil {
		return nil, err
	}

	switch pq.Type() {
	case query.DataQuery, query.ScanQuery:
	default:
		return nil, ErrUnsupportedQueryKind("prepare statement", pq.Type())
	}

	if mode == params.ModeBatch {
		if _, ok := params.DetectBatch(pq.Params()); !ok {
			return nil, params.ErrNotBatchable(fmt.Sprintf("%d parameter(s) and no single List<Struct> or List<Tuple> declaration", len(pq.Params())))
		}
	}

	return newPreparedStatement(c, pq, mode, c.usesRemotePrepare(pq, mode)), nil
}

// usesRemotePrepare decides whether a prepared statement compiles its query
// on the service. AUTO mode does so for fully declared, non-batch data
// queries.
func (c *Connection) usesRemotePrepare(pq *query.ParsedQuery, mode params.PrepareMode) bool {
	if pq.Type() != query.DataQuery {
		return false
	}

	switch mode {
	case params.ModeDataQuery:
		return true
	case params.ModeAuto:
		if c.opts.DisablePrepareDataQuery || pq.Positional() {
			return false
		}
		plan := pq.Params()
		if len(plan) == 0 {
			return false
		}
		for _, p := range plan {
			if !p.Declared {
				return false
			}
		}
		if !c.opts.DisableAutoPreparedBatches {
			if _, batch := params.DetectBatch(plan); batch {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// execute dispatches a rendered query by kind.
func (c *Connection) execute(ctx context.Context, pq *query.ParsedQuery, yql string, values tableclient.Params, keepInCache bool) (*Result, error) {
	d := &dispatch{ctx: ctx, conn: c, yql: yql, params: values, keepInCache: keepInCache}
	if err := pq.Type().Dispatch(d); err != nil {
		return nil, err
	}
	return d.result, nil
}

// dispatch routes one query to the remote call of its kind.
type dispatch struct {
	ctx         context.Context
	conn        *Connection
	yql         string
	params      tableclient.Params
	keepInCache bool
	result      *Result
}

func (d *dispatch) DataQuery() (err error) {
	d.result, err = d.conn.executeDataQuery(d.ctx, d.yql, d.params, d.keepInCache)
	return err
}

func (d *dispatch) ScanQuery() (err error) {
	d.result, err = d.conn.executeScanQuery(d.ctx, d.yql, d.params)
	return err
}

func (d *dispatch) SchemeQuery() (err error) {
	d.result, err = d.conn.executeSchemeQuery(d.ctx, d.yql)
	return err
}

func (d *dispatch) ExplainQuery() (err error) {
	d.result, err = d.conn.executeExplainQuery(d.ctx, d.yql)
	return err
}

// executeDataQuery runs yql in the connection transaction. Any failure
// leaves the transaction; a session broken by the failure is released.
func (c *Connection) executeDataQuery(ctx context.Context, yql string, values tableclient.Params, keepInCache bool) (*Result, error) {
	state, err := c.ensureOpened("execute data query")
	if err != nil {
		return nil, err
	}

	session, err := state.Session(ctx, c.executor.CreateSession)
	if err != nil {
		return nil, err
	}
	tx := state.TxControl()

	var res *tableclient.DataQueryResult
	err = c.executor.Execute(ctx, Call{
		Operation:   "execute data query",
		CommandType: commandData,
		YQL:         yql,
		SessionID:   session.ID(),
		Timeout:     c.callTimeout(c.opts.QueryTimeout),
	}, func(ctx context.Context, yql string) error {
		r, err := session.ExecuteDataQuery(ctx, yql, tx, values, tableclient.DataQuerySettings{
			OperationSettings: c.operationSettings(),
			KeepInQueryCache:  keepInCache,
		})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err == nil {
		c.executor.AddWarnings(res.Issues)
		err = c.checkTruncated(res)
	}

	if err != nil {
		kept := session
		if IsSessionBroken(err) {
			kept = nil
		}
		c.updateState(c.state.Load().WithRollback(kept), "data query failed", session)
		return nil, err
	}

	c.updateState(c.state.Load().WithDataQuery(session, res.TxID), "data query", session)
	return newDataResult(res), nil
}

func (c *Connection) checkTruncated(res *tableclient.DataQueryResult) error {
	if !c.opts.FailOnTruncatedResult {
		return nil
	}
	for i, rs := range res.ResultSets {
		if rs.Truncated {
			return ErrResultTruncated(i, len(rs.Rows))
		}
	}
	return nil
}

// applyFakeTxMode runs the configured policy for a non-transactional query
// issued inside a transaction.
func (c *Connection) applyFakeTxMode(ctx context.Context, mode FakeTxMode, qt query.QueryType) error {
	state := c.state.Load()
	if !state.InTransaction() {
		return nil
	}

	switch mode {
	case FakeTx:
		return nil
	case ShadowCommit:
		c.logger.Debug("shadow commit before query", String("query_type", qt.String()), String("tx_id", state.TxID()))
		return c.Commit(ctx)
	default:
		return ErrQueryInsideTransaction(qt, state.TxID())
	}
}

func (c *Connection) executeScanQuery(ctx context.Context, yql string, values tableclient.Params) (*Result, error) {
	if _, err := c.ensureOpened("execute scan query"); err != nil {
		return nil, err
	}
	if err := c.applyFakeTxMode(ctx, c.opts.ScanQueryTxMode, query.ScanQuery); err != nil {
		return nil, err
	}

	collector := &scanCollector{}
	timeout := c.opts.ScanQueryTimeout
	err := c.withSession(ctx, func(session tableclient.Session) error {
		return c.executor.Execute(ctx, Call{
			Operation:   "execute scan query",
			CommandType: commandScan,
			YQL:         yql,
			SessionID:   session.ID(),
			Timeout:     timeout,
		}, func(ctx context.Context, yql string) error {
			return session.ExecuteScanQuery(ctx, yql, values, tableclient.ScanQuerySettings{
				OperationSettings: tableclient.OperationSettings{Timeout: timeout},
			}, collector.sink)
		})
	})
	if err != nil {
		return nil, err
	}
	return collector.result(), nil
}

func (c *Connection) executeSchemeQuery(ctx context.Context, yql string) (*Result, error) {
	if _, err := c.ensureOpened("execute scheme query"); err != nil {
		return nil, err
	}
	if err := c.applyFakeTxMode(ctx, c.opts.SchemeQueryTxMode, query.SchemeQuery); err != nil {
		return nil, err
	}

	err := c.withSession(ctx, func(session tableclient.Session) error {
		return c.executor.Execute(ctx, Call{
			Operation:   "execute scheme query",
			CommandType: commandScheme,
			YQL:         yql,
			SessionID:   session.ID(),
			Timeout:     c.callTimeout(c.opts.QueryTimeout),
		}, func(ctx context.Context, yql string) error {
			return session.ExecuteSchemeQuery(ctx, yql, tableclient.SchemeQuerySettings{OperationSettings: c.operationSettings()})
		})
	})
	if err != nil {
		return nil, err
	}
	return &Result{Kind: ResultUpdate, QueryType: query.SchemeQuery}, nil
}

func (c *Connection) executeExplainQuery(ctx context.Context, yql string) (*Result, error) {
	if _, err := c.ensureOpened("execute explain query"); err != nil {
		return nil, err
	}

	var plan *tableclient.ExplainResult
	err := c.withSession(ctx, func(session tableclient.Session) error {
		return c.executor.Execute(ctx, Call{
			Operation:   "explain data query",
			CommandType: commandExplain,
			YQL:         yql,
			SessionID:   session.ID(),
			Timeout:     c.callTimeout(c.opts.QueryTimeout),
		}, func(ctx context.Context, yql string) error {
			p, err := session.ExplainDataQuery(ctx, yql, tableclient.ExplainSettings{OperationSettings: c.operationSettings()})
			if err != nil {
				return err
			}
			plan = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &Result{Kind: ResultPlan, QueryType: query.ExplainQuery, Plan: plan}, nil
}

// prepareDataQuery compiles yql on a dedicated session.
func (c *Connection) prepareDataQuery(ctx context.Context, yql string) (*tableclient.PreparedQuery, error) {
	if _, err := c.ensureOpened("prepare data query"); err != nil {
		return nil, err
	}

	var prepared *tableclient.PreparedQuery
	err := c.withSession(ctx, func(session tableclient.Session) error {
		return c.executor.Execute(ctx, Call{
			Operation:   "prepare data query",
			CommandType: commandPrepare,
			YQL:         yql,
			SessionID:   session.ID(),
			Timeout:     c.callTimeout(c.opts.QueryTimeout),
		}, func(ctx context.Context, yql string) error {
			p, err := session.PrepareDataQuery(ctx, yql, tableclient.PrepareSettings{OperationSettings: c.operationSettings()})
			if err != nil {
				return err
			}
			prepared = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return prepared, nil
}
