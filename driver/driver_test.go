package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/ydbsql-driver/client"
	"github.com/dan-strohschein/ydbsql-driver/query"
	"github.com/dan-strohschein/ydbsql-driver/tableclient"
	"github.com/dan-strohschein/ydbsql-driver/tableclient/mock"
	"github.com/dan-strohschein/ydbsql-driver/testutil"
)

func testOptions() client.Options {
	opts := client.DefaultOptions()
	opts.Logger = client.NewNoopLogger()
	opts.RetryBackoff = time.Millisecond
	return opts
}

func openTestDB(t *testing.T, svc *mock.Service) *sql.DB {
	t.Helper()
	db := sql.OpenDB(NewConnector(svc, testOptions()))
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func connectTestConn(t *testing.T, svc *mock.Service) *Conn {
	t.Helper()
	dc, err := NewConnector(svc, testOptions()).Connect(context.Background())
	require.NoError(t, err)
	conn := dc.(*Conn)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func lastCall(t *testing.T, svc *mock.Service, op mock.Op) mock.Call {
	t.Helper()
	history := svc.History()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Op == op {
			return history[i]
		}
	}
	t.Fatalf("no %s call recorded", op)
	return mock.Call{}
}

func TestQueryRows(t *testing.T) {
	svc := mock.NewService().WithResultSets(tableclient.ResultSet{
		Columns: []tableclient.Column{
			{Name: "key", Type: query.Primitive("Int32")},
			{Name: "c_Utf8", Type: query.Optional(query.Primitive("Utf8"))},
		},
		Rows: [][]interface{}{
			{int32(1), "a"},
			{int32(2), nil},
		},
	})
	db := openTestDB(t, svc)
	q := testutil.NewQueries(testutil.TableName("rows"))

	rows, err := db.QueryContext(context.Background(), q.SelectAll()+" where key > ?", 0)
	require.NoError(t, err)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"key", "c_Utf8"}, cols)

	types, err := rows.ColumnTypes()
	require.NoError(t, err)
	assert.Equal(t, "Int32", types[0].DatabaseTypeName())
	nullable, ok := types[1].Nullable()
	assert.True(t, ok)
	assert.True(t, nullable)

	var keys []int64
	var names []sql.NullString
	for rows.Next() {
		var key int64
		var name sql.NullString
		require.NoError(t, rows.Scan(&key, &name))
		keys = append(keys, key)
		names = append(names, name)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []int64{1, 2}, keys)
	assert.Equal(t, sql.NullString{String: "a", Valid: true}, names[0])
	assert.False(t, names[1].Valid)

	call := lastCall(t, svc, mock.OpExecuteDataQuery)
	assert.Contains(t, call.YQL, "DECLARE $jp1 AS Int64;")
	assert.Equal(t, int64(0), call.Params["$jp1"].Data)
}

func TestExecResult(t *testing.T) {
	svc := mock.NewService()
	db := openTestDB(t, svc)
	q := testutil.NewQueries(testutil.TableName("exec"))

	res, err := db.Exec(q.UpsertOne(testutil.Positional, "c_Utf8", "Utf8"), int32(1), "v")
	require.NoError(t, err)

	affected, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	_, err = res.LastInsertId()
	assert.ErrorIs(t, err, ErrNoLastInsertID)

	call := lastCall(t, svc, mock.OpExecuteDataQuery)
	assert.True(t, call.Tx.IsBegin())
	assert.True(t, call.Tx.CommitTx, "autocommit executes commit with the query")
	assert.Equal(t, 0, svc.OpenTransactions())
}

func TestNamedArgs(t *testing.T) {
	svc := mock.NewService()
	db := openTestDB(t, svc)
	q := testutil.NewQueries(testutil.TableName("named"))

	_, err := db.Exec(q.NamedUpsert("c_Utf8", "Utf8"), sql.Named("key", 7), sql.Named("c_Utf8", "v"))
	require.NoError(t, err)

	call := lastCall(t, svc, mock.OpExecuteDataQuery)
	assert.Equal(t, int32(7), call.Params["$key"].Data)
	assert.Equal(t, "v", call.Params["$c_Utf8"].Data)
}

func TestBindingErrorsReachCaller(t *testing.T) {
	db := openTestDB(t, mock.NewService())
	q := testutil.NewQueries(testutil.TableName("missing"))

	_, err := db.Exec(q.UpsertOne(testutil.Positional, "c_Utf8", "Utf8"), int32(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$jp2")
}

func TestTransactionCommit(t *testing.T) {
	svc := mock.NewService()
	db := openTestDB(t, svc)
	q := testutil.NewQueries(testutil.TableName("commit"))
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	upsert := q.UpsertOne(testutil.Positional, "c_Utf8", "Utf8")
	_, err = tx.ExecContext(ctx, upsert, int32(1), "a")
	require.NoError(t, err)
	first := lastCall(t, svc, mock.OpExecuteDataQuery)
	assert.True(t, first.Tx.IsBegin())
	assert.False(t, first.Tx.CommitTx)

	_, err = tx.ExecContext(ctx, upsert, int32(2), "b")
	require.NoError(t, err)
	second := lastCall(t, svc, mock.OpExecuteDataQuery)
	assert.False(t, second.Tx.IsBegin())
	assert.NotEmpty(t, second.TxID)
	assert.Equal(t, 1, svc.OpenTransactions())

	require.NoError(t, tx.Commit())
	assert.Equal(t, 1, svc.CallCount(mock.OpCommit))
	assert.Equal(t, 0, svc.OpenTransactions())

	// autocommit is back on after the transaction
	_, err = db.ExecContext(ctx, upsert, int32(3), "c")
	require.NoError(t, err)
	assert.True(t, lastCall(t, svc, mock.OpExecuteDataQuery).Tx.CommitTx)
}

func TestTransactionRollback(t *testing.T) {
	svc := mock.NewService()
	db := openTestDB(t, svc)
	q := testutil.NewQueries(testutil.TableName("rollback"))
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, q.UpsertOne(testutil.Positional, "c_Utf8", "Utf8"), int32(1), "a")
	require.NoError(t, err)

	require.NoError(t, tx.Rollback())
	assert.Equal(t, 1, svc.CallCount(mock.OpRollback))
	assert.Equal(t, 0, svc.CallCount(mock.OpCommit))
	assert.Equal(t, 0, svc.OpenTransactions())
}

func TestBeginTxOptions(t *testing.T) {
	svc := mock.NewService()
	conn := connectTestConn(t, svc)
	ctx := context.Background()

	dtx, err := conn.BeginTx(ctx, driver.TxOptions{
		Isolation: driver.IsolationLevel(sql.LevelSnapshot),
		ReadOnly:  true,
	})
	require.NoError(t, err)

	c := conn.Connection()
	assert.Equal(t, client.SnapshotReadOnly, c.TransactionIsolation())
	assert.True(t, c.IsReadOnly())
	assert.False(t, c.AutoCommit())

	_, err = conn.Begin()
	assert.Error(t, err, "nested transactions are rejected")

	_, err = conn.ExecContext(ctx, testutil.NewQueries("snap").SelectAll(), nil)
	require.NoError(t, err)
	call := lastCall(t, svc, mock.OpExecuteDataQuery)
	assert.Equal(t, tableclient.SnapshotReadOnly, call.Tx.Begin)
	assert.True(t, call.Tx.CommitTx, "read-only levels commit with the query")

	require.NoError(t, dtx.Commit())
	assert.Equal(t, 0, svc.CallCount(mock.OpCommit), "nothing left to commit")
	assert.Equal(t, client.Serializable, c.TransactionIsolation())
	assert.False(t, c.IsReadOnly())
	assert.True(t, c.AutoCommit())
}

func TestBeginTxUnsupportedIsolation(t *testing.T) {
	conn := connectTestConn(t, mock.NewService())

	_, err := conn.BeginTx(context.Background(), driver.TxOptions{
		Isolation: driver.IsolationLevel(sql.LevelWriteCommitted),
	})
	require.Error(t, err)
	assert.True(t, conn.Connection().AutoCommit())
}

func TestBeginTxReadOnlyLevelRequiresReadOnly(t *testing.T) {
	levels := []sql.IsolationLevel{
		sql.LevelReadCommitted,
		sql.LevelRepeatableRead,
		sql.LevelReadUncommitted,
		sql.LevelSnapshot,
	}

	for _, level := range levels {
		t.Run(level.String(), func(t *testing.T) {
			svc := mock.NewService()
			conn := connectTestConn(t, svc)
			ctx := context.Background()

			_, err := conn.BeginTx(ctx, driver.TxOptions{Isolation: driver.IsolationLevel(level)})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "read-only")
			assert.True(t, conn.Connection().AutoCommit())
			assert.Equal(t, client.Serializable, conn.Connection().TransactionIsolation())

			dtx, err := conn.BeginTx(ctx, driver.TxOptions{Isolation: driver.IsolationLevel(level), ReadOnly: true})
			require.NoError(t, err)
			require.NoError(t, dtx.Rollback())
		})
	}
}

func TestIsolationLevels(t *testing.T) {
	tests := []struct {
		level sql.IsolationLevel
		want  client.IsolationLevel
		ok    bool
	}{
		{sql.LevelDefault, 0, false},
		{sql.LevelSerializable, client.Serializable, true},
		{sql.LevelLinearizable, client.Serializable, true},
		{sql.LevelSnapshot, client.SnapshotReadOnly, true},
		{sql.LevelReadCommitted, client.OnlineConsistentReadOnly, true},
		{sql.LevelReadUncommitted, client.OnlineInconsistentReadOnly, true},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			got, ok, err := isolationLevel(tt.level)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestPreparedStatement(t *testing.T) {
	svc := mock.NewService()
	db := openTestDB(t, svc)
	q := testutil.NewQueries(testutil.TableName("prepared"))

	stmt, err := db.Prepare(q.NamedUpsert("c_Utf8", "Utf8"))
	require.NoError(t, err)
	defer stmt.Close()

	for i := 0; i < 3; i++ {
		_, err := stmt.Exec(sql.Named("key", int32(i)), sql.Named("c_Utf8", "v"))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, svc.CallCount(mock.OpPrepare))
	assert.Equal(t, 3, svc.CallCount(mock.OpExecuteDataQuery))
	assert.Equal(t, int32(2), lastCall(t, svc, mock.OpExecuteDataQuery).Params["$key"].Data)
}

func TestPreparedPositionalStatement(t *testing.T) {
	svc := mock.NewService()
	db := openTestDB(t, svc)
	q := testutil.NewQueries(testutil.TableName("positional"))

	stmt, err := db.Prepare(q.UpsertOne(testutil.Positional, "c_Utf8", "Utf8"))
	require.NoError(t, err)
	defer stmt.Close()

	_, err = stmt.Exec(int32(4), "x")
	require.NoError(t, err)

	call := lastCall(t, svc, mock.OpExecuteDataQuery)
	assert.Equal(t, int32(4), call.Params["$jp1"].Data)
	assert.Equal(t, "x", call.Params["$jp2"].Data)
}

func TestPreparedSchemeStatement(t *testing.T) {
	svc := mock.NewService()
	db := openTestDB(t, svc)
	q := testutil.NewQueries(testutil.TableName("scheme"))

	stmt, err := db.Prepare(q.CreateTable())
	require.NoError(t, err)
	defer stmt.Close()

	_, err = stmt.Exec()
	require.NoError(t, err)
	assert.Equal(t, 1, svc.CallCount(mock.OpSchemeQuery))
	assert.Equal(t, 0, svc.CallCount(mock.OpPrepare))
}

func TestExplainRows(t *testing.T) {
	svc := mock.NewService().WithPlan("(ast)", `{"Plan":"scan"}`)
	db := openTestDB(t, svc)
	q := testutil.NewQueries(testutil.TableName("explain"))

	var ast, plan string
	require.NoError(t, db.QueryRow(q.ExplainSelectAll()).Scan(&ast, &plan))
	assert.Equal(t, "(ast)", ast)
	assert.Equal(t, `{"Plan":"scan"}`, plan)
}

func TestScanQueryRows(t *testing.T) {
	batches := mock.NewRowFactory(mock.Column("key", "Int32")).Batches(3, 2)
	svc := mock.NewService().WithScanBatches(batches...)
	db := openTestDB(t, svc)
	q := testutil.NewQueries(testutil.TableName("scan"))

	rows, err := db.Query(q.ScanSelectAll())
	require.NoError(t, err)
	defer rows.Close()

	var keys []int64
	for rows.Next() {
		var key int64
		require.NoError(t, rows.Scan(&key))
		keys = append(keys, key)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int64{1, 2, 3}, keys)
}

func TestMultipleResultSets(t *testing.T) {
	svc := mock.NewService().WithResultSets(
		tableclient.ResultSet{
			Columns: []tableclient.Column{{Name: "a", Type: query.Primitive("Int64")}},
			Rows:    [][]interface{}{{int64(1)}},
		},
		tableclient.ResultSet{
			Columns: []tableclient.Column{{Name: "b", Type: query.Primitive("Utf8")}},
			Rows:    [][]interface{}{{"x"}, {"y"}},
		},
	)
	db := openTestDB(t, svc)

	rows, err := db.Query("select 1 as a; select 'x' as b;")
	require.NoError(t, err)
	defer rows.Close()

	var a int64
	require.True(t, rows.Next())
	require.NoError(t, rows.Scan(&a))
	assert.Equal(t, int64(1), a)
	assert.False(t, rows.Next())

	require.True(t, rows.NextResultSet())
	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, cols)

	var bs []string
	for rows.Next() {
		var b string
		require.NoError(t, rows.Scan(&b))
		bs = append(bs, b)
	}
	assert.Equal(t, []string{"x", "y"}, bs)
	assert.False(t, rows.NextResultSet())
}

func TestPing(t *testing.T) {
	svc := mock.NewService()
	db := openTestDB(t, svc)

	require.NoError(t, db.PingContext(context.Background()))
	assert.Equal(t, 1, svc.CallCount(mock.OpKeepAlive))

	conn := connectTestConn(t, mock.NewService().WithSessionState(tableclient.SessionBusy))
	assert.ErrorIs(t, conn.Ping(context.Background()), driver.ErrBadConn)
}

func TestClosedConnection(t *testing.T) {
	svc := mock.NewService()
	conn := connectTestConn(t, svc)

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsValid())
	assert.ErrorIs(t, conn.ResetSession(context.Background()), driver.ErrBadConn)

	_, err := conn.ExecContext(context.Background(), "select 1", nil)
	var closedErr *client.ConnectionClosedError
	assert.ErrorAs(t, err, &closedErr)
}

func TestParseDSN(t *testing.T) {
	name, opts, err := ParseDSN("local?queryTimeout=5s&autoCommit=false&transactionLevel=snapshot_read_only")
	require.NoError(t, err)
	assert.Equal(t, "local", name)
	assert.Equal(t, 5*time.Second, opts.QueryTimeout)
	assert.False(t, opts.AutoCommit)
	assert.Equal(t, client.SnapshotReadOnly, opts.TransactionLevel)

	name, opts, err = ParseDSN("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", name)
	assert.Equal(t, client.DefaultOptions().QueryCacheSize, opts.QueryCacheSize)

	for _, dsn := range []string{"", "?autoCommit=true", "local?noSuchProperty=1", "local?%zz"} {
		_, _, err := ParseDSN(dsn)
		assert.Error(t, err, dsn)
	}
}

func TestRegisteredClient(t *testing.T) {
	svc := mock.NewService()
	RegisterClient("driver-test", svc)
	t.Cleanup(func() { RegisterClient("driver-test", nil) })

	db, err := sql.Open(DriverName, "driver-test?logLevel=ERROR")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping())
	assert.Equal(t, 1, svc.CallCount(mock.OpKeepAlive))

	_, err = sql.Open(DriverName, "nobody")
	assert.Error(t, err)
}

func TestToDriverValue(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		in   interface{}
		want driver.Value
	}{
		{"nil", nil, nil},
		{"int32", int32(5), int64(5)},
		{"uint8", uint8(7), int64(7)},
		{"uint64 small", uint64(9), int64(9)},
		{"uint64 large", uint64(math.MaxUint64), "18446744073709551615"},
		{"float32", float32(1.5), float64(1.5)},
		{"bool", true, true},
		{"bytes", []byte("b"), []byte("b")},
		{"time", ts, ts},
		{"duration", 2 * time.Second, int64(2 * time.Second)},
		{"uuid", id, id.String()},
		{"list", []int{1, 2}, "[1 2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toDriverValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToArgs(t *testing.T) {
	args := toArgs([]driver.NamedValue{
		{Ordinal: 1, Value: int64(1)},
		{Ordinal: 2, Name: "name", Value: "x"},
	})
	require.Len(t, args, 2)
	assert.Equal(t, int64(1), args[0])
	assert.Equal(t, client.Named("name", "x"), args[1])
}

func TestRowsEOF(t *testing.T) {
	r := newRows(&client.Result{Kind: client.ResultUpdate})
	assert.Nil(t, r.Columns())
	assert.Equal(t, io.EOF, r.Next(make([]driver.Value, 1)))
	assert.Equal(t, io.EOF, r.NextResultSet())
}
