package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/dan-strohschein/ydbsql-driver/client"
	"github.com/dan-strohschein/ydbsql-driver/params"
)

// Conn implements driver.Conn over a client.Connection.
type Conn struct {
	conn *client.Connection
	tx   *Tx
}

// Connection returns the wrapped connection. Use it through sql.Conn.Raw.
func (c *Conn) Connection() *client.Connection {
	return c.conn
}

// Prepare returns a prepared statement.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext prepares data and scan queries. Scheme and explain
// queries cannot be prepared by the service; their statements run the
// text directly on every execution.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ps, err := c.conn.PrepareStatement(query, params.ModeAuto)
	var kindErr *client.UnsupportedQueryKindError
	if errors.As(err, &kindErr) {
		return &Stmt{conn: c, text: query}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Stmt{conn: c, text: query, ps: ps}, nil
}

// Close commits any open transaction and closes the connection.
func (c *Conn) Close() error {
	c.tx = nil
	return c.conn.Close(context.Background())
}

// Begin starts a transaction with default options.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx turns autocommit off until the returned Tx finishes. The remote
// transaction starts with the first data query.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.tx != nil {
		return nil, errors.New("ydbsql: transaction already in progress")
	}

	tx := &Tx{
		conn:       c,
		autoCommit: c.conn.AutoCommit(),
		readOnly:   c.conn.IsReadOnly(),
		level:      c.conn.TransactionIsolation(),
	}

	if level, ok, err := isolationLevel(sql.IsolationLevel(opts.Isolation)); err != nil {
		return nil, err
	} else if ok {
		if level.IsReadOnly() && !opts.ReadOnly {
			return nil, fmt.Errorf("ydbsql: isolation level %s maps to read-only %s; set ReadOnly in sql.TxOptions",
				sql.IsolationLevel(opts.Isolation), level)
		}
		if err := c.conn.SetTransactionIsolation(level); err != nil {
			return nil, err
		}
	}
	if opts.ReadOnly {
		if err := c.conn.SetReadOnly(true); err != nil {
			tx.restore(ctx)
			return nil, err
		}
	}
	if err := c.conn.SetAutoCommit(ctx, false); err != nil {
		tx.restore(ctx)
		return nil, err
	}

	c.tx = tx
	return tx, nil
}

// isolationLevel maps a database/sql level. ok is false for the default
// level, which keeps the connection setting.
func isolationLevel(level sql.IsolationLevel) (client.IsolationLevel, bool, error) {
	switch level {
	case sql.LevelDefault:
		return 0, false, nil
	case sql.LevelSerializable, sql.LevelLinearizable:
		return client.Serializable, true, nil
	case sql.LevelSnapshot:
		return client.SnapshotReadOnly, true, nil
	case sql.LevelReadCommitted, sql.LevelRepeatableRead:
		return client.OnlineConsistentReadOnly, true, nil
	case sql.LevelReadUncommitted:
		return client.OnlineInconsistentReadOnly, true, nil
	default:
		return 0, false, fmt.Errorf("ydbsql: unsupported isolation level %s", level)
	}
}

// ExecContext runs query without preparing it.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := c.conn.Execute(ctx, query, toArgs(args)...)
	if err != nil {
		return nil, err
	}
	return newResult(res), nil
}

// QueryContext runs query without preparing it.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	res, err := c.conn.Execute(ctx, query, toArgs(args)...)
	if err != nil {
		return nil, err
	}
	return newRows(res), nil
}

// Ping sends a keep-alive on the connection session.
func (c *Conn) Ping(ctx context.Context) error {
	valid, err := c.conn.IsValid(ctx, c.conn.Options().SessionTimeout)
	if err != nil {
		return err
	}
	if !valid {
		return driver.ErrBadConn
	}
	return nil
}

// ResetSession is called before the pool hands the connection out again.
func (c *Conn) ResetSession(ctx context.Context) error {
	if c.conn.IsClosed() {
		return driver.ErrBadConn
	}
	c.conn.ClearWarnings()
	return nil
}

// IsValid reports whether the pool may reuse the connection.
func (c *Conn) IsValid() bool {
	return !c.conn.IsClosed()
}

// CheckNamedValue passes every argument through unchanged. The binder
// converts values against the declared or inferred parameter types.
func (c *Conn) CheckNamedValue(nv *driver.NamedValue) error {
	return nil
}

var (
	_ driver.Conn               = &Conn{}
	_ driver.ConnPrepareContext = &Conn{}
	_ driver.ConnBeginTx        = &Conn{}
	_ driver.ExecerContext      = &Conn{}
	_ driver.QueryerContext     = &Conn{}
	_ driver.Pinger             = &Conn{}
	_ driver.SessionResetter    = &Conn{}
	_ driver.Validator          = &Conn{}
	_ driver.NamedValueChecker  = &Conn{}
)
