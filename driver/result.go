package driver

import (
	"database/sql/driver"
	"errors"

	"github.com/dan-strohschein/ydbsql-driver/client"
)

// ErrNoLastInsertID is returned by Result.LastInsertId. The service has no
// auto-increment keys.
var ErrNoLastInsertID = errors.New("ydbsql: LastInsertId is not supported")

// Result implements driver.Result.
type Result struct {
	rowsAffected int64
}

func newResult(res *client.Result) *Result {
	return &Result{rowsAffected: res.UpdateCount}
}

// LastInsertId always fails.
func (r *Result) LastInsertId() (int64, error) {
	return 0, ErrNoLastInsertID
}

// RowsAffected returns the number of batch rows run. The service does not
// report affected rows for single statements, so it is zero for them.
func (r *Result) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

var _ driver.Result = &Result{}
