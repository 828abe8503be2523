package driver

import (
	"context"
	"database/sql/driver"

	"github.com/dan-strohschein/ydbsql-driver/client"
)

// Stmt implements driver.Stmt. ps is nil for query kinds the service
// cannot prepare.
type Stmt struct {
	conn *Conn
	text string
	ps   *client.PreparedStatement
}

// Close closes the statement.
func (s *Stmt) Close() error {
	if s.ps == nil {
		return nil
	}
	return s.ps.Close()
}

// NumInput returns -1; the binder checks the argument count.
func (s *Stmt) NumInput() int {
	return -1
}

// Exec executes the statement.
//
// Deprecated: Drivers should implement StmtExecContext instead.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), valuesToNamed(args))
}

// Query executes the statement.
//
// Deprecated: Drivers should implement StmtQueryContext instead.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), valuesToNamed(args))
}

// ExecContext binds args and executes the statement.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	res, err := s.execute(ctx, args)
	if err != nil {
		return nil, err
	}
	return newResult(res), nil
}

// QueryContext binds args and executes the statement.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	res, err := s.execute(ctx, args)
	if err != nil {
		return nil, err
	}
	return newRows(res), nil
}

func (s *Stmt) execute(ctx context.Context, args []driver.NamedValue) (*client.Result, error) {
	if s.ps == nil {
		return s.conn.conn.Execute(ctx, s.text, toArgs(args)...)
	}

	s.ps.ClearParameters()
	for _, arg := range args {
		if arg.Name != "" {
			s.ps.SetNamed(arg.Name, arg.Value)
			continue
		}
		s.ps.SetParam(arg.Ordinal, arg.Value)
	}
	return s.ps.Execute(ctx)
}

// CheckNamedValue passes every argument through unchanged.
func (s *Stmt) CheckNamedValue(nv *driver.NamedValue) error {
	return nil
}

var (
	_ driver.Stmt              = &Stmt{}
	_ driver.StmtExecContext   = &Stmt{}
	_ driver.StmtQueryContext  = &Stmt{}
	_ driver.NamedValueChecker = &Stmt{}
)
