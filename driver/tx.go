package driver

import (
	"context"
	"database/sql/driver"
	"errors"

	"github.com/dan-strohschein/ydbsql-driver/client"
)

// Tx implements driver.Tx. Finishing it restores the connection settings
// that BeginTx changed.
type Tx struct {
	conn       *Conn
	autoCommit bool
	readOnly   bool
	level      client.IsolationLevel
}

// Commit commits the open transaction.
func (t *Tx) Commit() error {
	ctx := context.Background()
	err := t.conn.conn.Commit(ctx)
	return errors.Join(err, t.finish(ctx))
}

// Rollback rolls back the open transaction.
func (t *Tx) Rollback() error {
	ctx := context.Background()
	err := t.conn.conn.Rollback(ctx)
	return errors.Join(err, t.finish(ctx))
}

func (t *Tx) finish(ctx context.Context) error {
	if t.conn.tx != t {
		return driver.ErrBadConn
	}
	t.conn.tx = nil
	return t.restore(ctx)
}

func (t *Tx) restore(ctx context.Context) error {
	conn := t.conn.conn
	if conn.IsClosed() {
		return nil
	}
	return errors.Join(
		conn.SetAutoCommit(ctx, t.autoCommit),
		conn.SetReadOnly(t.readOnly),
		conn.SetTransactionIsolation(t.level),
	)
}

var _ driver.Tx = &Tx{}
