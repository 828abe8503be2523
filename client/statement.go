package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dan-strohschein/ydbsql-driver/params"
	"github.com/dan-strohschein/ydbsql-driver/query"
	"github.com/dan-strohschein/ydbsql-driver/tableclient"
)

// NamedArg passes a value by parameter name to Statement.Execute.
type NamedArg struct {
	Name  string
	Value interface{}
}

// Named creates a NamedArg.
func Named(name string, value interface{}) NamedArg {
	return NamedArg{Name: name, Value: value}
}

// Statement executes ad hoc queries on a connection.
type Statement struct {
	conn   *Connection
	closed atomic.Bool
}

// Execute parses sql, binds args and dispatches the query by kind. Plain
// args bind by position, NamedArg values by name.
func (s *Statement) Execute(ctx context.Context, sql string, args ...interface{}) (*Result, error) {
	if s.closed.Load() {
		return nil, ErrStatementClosed("execute")
	}
	if _, err := s.conn.ensureOpened("execute"); err != nil {
		return nil, err
	}
	s.conn.executor.ClearWarnings()

	pq, err := s.conn.Parse(sql)
	if err != nil {
		return nil, err
	}

	if len(pq.Params()) == 0 && len(args) == 0 {
		return s.conn.execute(ctx, pq, pq.Render(nil), nil, false)
	}

	binder, err := params.NewBinder(pq, s.conn.opts.BinderOptions(params.ModeInMemory))
	if err != nil {
		return nil, err
	}
	for i, arg := range args {
		if named, ok := arg.(NamedArg); ok {
			binder.SetByName(named.Name, named.Value)
			continue
		}
		binder.SetByIndex(i+1, arg)
	}

	binding, err := binder.Bind()
	if err != nil {
		return nil, err
	}
	return s.conn.execute(ctx, pq, pq.Render(binding.Types()), binding.Params(), false)
}

// Close closes the statement. Closing twice is a no-op.
func (s *Statement) Close() error {
	s.closed.Store(true)
	return nil
}

// IsClosed reports whether Close was called.
func (s *Statement) IsClosed() bool { return s.closed.Load() }

// ParameterInfo describes one parameter of a prepared statement.
type ParameterInfo struct {
	Name string
	// Type is nil when the type is inferred from the bound value.
	Type     *query.Type
	Declared bool
	Position int
}

type paramValue struct {
	index int
	name  string
	value interface{}
}

// PreparedStatement is a parsed query executed repeatedly with different
// parameter values. The remote prepare, the binder and the parameter
// metadata are each computed once, on first use.
type PreparedStatement struct {
	conn   *Connection
	pq     *query.ParsedQuery
	mode   params.PrepareMode
	remote bool

	prepareOnce sync.Once
	prepared    *tableclient.PreparedQuery
	prepareErr  error

	binderOnce sync.Once
	binder     *params.Binder
	binderErr  error

	metaOnce sync.Once
	meta     []ParameterInfo
	metaErr  error

	values  []paramValue
	pending []*params.Binding
	closed  atomic.Bool
}

func newPreparedStatement(conn *Connection, pq *query.ParsedQuery, mode params.PrepareMode, remote bool) *PreparedStatement {
	return &PreparedStatement{conn: conn, pq: pq, mode: mode, remote: remote}
}

// Query returns the parsed query.
func (s *PreparedStatement) Query() *query.ParsedQuery { return s.pq }

// Mode returns the prepare mode the statement was created with.
func (s *PreparedStatement) Mode() params.PrepareMode { return s.mode }

// UsesRemotePrepare reports whether the query is compiled on the service.
func (s *PreparedStatement) UsesRemotePrepare() bool { return s.remote }

// SetParam sets the value at 1-based position index.
func (s *PreparedStatement) SetParam(index int, value interface{}) {
	s.set(paramValue{index: index, value: value})
}

// SetNamed sets a value by parameter name, or by row field name for batch
// statements.
func (s *PreparedStatement) SetNamed(name string, value interface{}) {
	s.set(paramValue{name: name, value: value})
}

func (s *PreparedStatement) set(v paramValue) {
	for i, existing := range s.values {
		if existing.index == v.index && existing.name == v.name {
			s.values[i] = v
			return
		}
	}
	s.values = append(s.values, v)
}

// ClearParameters drops the values set so far.
func (s *PreparedStatement) ClearParameters() {
	s.values = nil
}

func (s *PreparedStatement) ensureOpen(operation string) error {
	if s.closed.Load() {
		return ErrStatementClosed(operation)
	}
	_, err := s.conn.ensureOpened(operation)
	return err
}

// remotePrepared compiles the query on the service, once.
func (s *PreparedStatement) remotePrepared(ctx context.Context) (*tableclient.PreparedQuery, error) {
	if !s.remote {
		return nil, nil
	}
	s.prepareOnce.Do(func() {
		s.prepared, s.prepareErr = s.conn.prepareDataQuery(ctx, s.pq.Render(nil))
	})
	return s.prepared, s.prepareErr
}

// getBinder creates the binder once, with the parameter types reported by
// the remote prepare when there is one.
func (s *PreparedStatement) getBinder(ctx context.Context) (*params.Binder, error) {
	s.binderOnce.Do(func() {
		opts := s.conn.opts.BinderOptions(s.mode)
		prepared, err := s.remotePrepared(ctx)
		if err != nil {
			s.binderErr = err
			return
		}
		if prepared != nil {
			opts.Types = prepared.ParamTypes
		}
		s.binder, s.binderErr = params.NewBinder(s.pq, opts)
	})
	return s.binder, s.binderErr
}

func (s *PreparedStatement) apply(b *params.Binder) {
	b.Clear()
	for _, v := range s.values {
		if v.name != "" {
			b.SetByName(v.name, v.value)
			continue
		}
		b.SetByIndex(v.index, v.value)
	}
}

// ParameterMetaData returns the name and type of every parameter. For batch
// statements it describes the list parameter.
func (s *PreparedStatement) ParameterMetaData(ctx context.Context) ([]ParameterInfo, error) {
	if err := s.ensureOpen("parameter metadata"); err != nil {
		return nil, err
	}
	s.metaOnce.Do(func() {
		b, err := s.getBinder(ctx)
		if err != nil {
			s.metaErr = err
			return
		}
		for _, p := range b.Params() {
			s.meta = append(s.meta, ParameterInfo{
				Name:     p.Name,
				Type:     p.Type,
				Declared: p.Declared,
				Position: p.Position,
			})
		}
	})
	if s.metaErr != nil {
		return nil, s.metaErr
	}
	return append([]ParameterInfo(nil), s.meta...), nil
}

func (s *PreparedStatement) yql(binding *params.Binding) string {
	if s.prepared != nil {
		return s.prepared.YQL
	}
	return s.pq.Render(binding.Types())
}

// Execute binds the current values and runs the query.
func (s *PreparedStatement) Execute(ctx context.Context) (*Result, error) {
	if err := s.ensureOpen("execute"); err != nil {
		return nil, err
	}
	s.conn.executor.ClearWarnings()

	b, err := s.getBinder(ctx)
	if err != nil {
		return nil, err
	}
	s.apply(b)

	binding, err := b.Bind()
	if err != nil {
		return nil, err
	}
	return s.conn.execute(ctx, s.pq, s.yql(binding), binding.Params(), s.remote)
}

// AddBatch validates the current values as one batch row and clears them.
// Batch statements collect rows into the list parameter; other statements
// queue one execution per row.
func (s *PreparedStatement) AddBatch(ctx context.Context) error {
	if err := s.ensureOpen("add batch"); err != nil {
		return err
	}

	b, err := s.getBinder(ctx)
	if err != nil {
		return err
	}
	s.apply(b)
	s.values = nil

	if b.IsBatch() {
		return b.AddBatch()
	}

	binding, err := b.Bind()
	if err != nil {
		return err
	}
	s.pending = append(s.pending, binding)
	return nil
}

// ExecuteBatch runs the added rows and clears them. Batch statements run
// one query over all rows; other statements run the queued executions in
// order and stop at the first failure. UpdateCount of the result is the
// number of rows run.
func (s *PreparedStatement) ExecuteBatch(ctx context.Context) (*Result, error) {
	if err := s.ensureOpen("execute batch"); err != nil {
		return nil, err
	}
	s.conn.executor.ClearWarnings()

	b, err := s.getBinder(ctx)
	if err != nil {
		return nil, err
	}

	if b.IsBatch() {
		defer b.ClearBatch()
		binding, err := b.BindBatch()
		if err != nil {
			return nil, err
		}
		res, err := s.conn.execute(ctx, s.pq, s.yql(binding), binding.Params(), s.remote)
		if err != nil {
			return nil, err
		}
		res.UpdateCount = int64(binding.Rows())
		return res, nil
	}

	pending := s.pending
	s.pending = nil
	if len(pending) == 0 {
		return nil, params.ErrEmptyBatch()
	}

	var last *Result
	for _, binding := range pending {
		res, err := s.conn.execute(ctx, s.pq, s.yql(binding), binding.Params(), s.remote)
		if err != nil {
			return nil, err
		}
		last = res
	}
	last.UpdateCount = int64(len(pending))
	return last, nil
}

// BatchSize returns the number of rows added since the last ExecuteBatch.
func (s *PreparedStatement) BatchSize() int {
	if s.binder != nil && s.binder.IsBatch() {
		return s.binder.BatchSize()
	}
	return len(s.pending)
}

// Close closes the statement. Closing twice is a no-op.
func (s *PreparedStatement) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.values = nil
	s.pending = nil
	return nil
}

// IsClosed reports whether Close was called.
func (s *PreparedStatement) IsClosed() bool { return s.closed.Load() }
