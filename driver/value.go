package driver

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/dan-strohschein/ydbsql-driver/client"
	"github.com/dan-strohschein/ydbsql-driver/query"
)

var (
	scanTypeAny    = reflect.TypeOf((*interface{})(nil)).Elem()
	scanTypeInt64  = reflect.TypeOf(int64(0))
	scanTypeUint64 = reflect.TypeOf(uint64(0))
	scanTypeFloat  = reflect.TypeOf(float64(0))
	scanTypeBool   = reflect.TypeOf(false)
	scanTypeString = reflect.TypeOf("")
	scanTypeBytes  = reflect.TypeOf([]byte(nil))
	scanTypeTime   = reflect.TypeOf(time.Time{})
)

func scanType(t *query.Type) reflect.Type {
	if t == nil || t.Kind != query.KindPrimitive {
		return scanTypeAny
	}
	switch t.Name {
	case "Bool":
		return scanTypeBool
	case "Int8", "Int16", "Int32", "Int64", "Uint8", "Uint16", "Uint32", "Interval":
		return scanTypeInt64
	case "Uint64":
		return scanTypeUint64
	case "Float", "Double":
		return scanTypeFloat
	case "Utf8", "Json", "JsonDocument", "Uuid":
		return scanTypeString
	case "String", "Yson":
		return scanTypeBytes
	case "Date", "Datetime", "Timestamp":
		return scanTypeTime
	default:
		return scanTypeAny
	}
}

// toDriverValue converts a result value to a driver.Value.
// Supported types: nil, int64, float64, bool, string, []byte, time.Time.
func toDriverValue(v interface{}) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case int64, float64, bool, string, []byte, time.Time:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint:
		return uintValue(uint64(val)), nil
	case uint64:
		return uintValue(val), nil
	case float32:
		return float64(val), nil
	case time.Duration:
		return int64(val), nil
	case uuid.UUID:
		return val.String(), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// uintValue keeps values above MaxInt64 exact by formatting them.
func uintValue(v uint64) driver.Value {
	if v > math.MaxInt64 {
		return fmt.Sprintf("%d", v)
	}
	return int64(v)
}

// toArgs converts database/sql arguments to connection arguments. Named
// values become client.NamedArg; the rest bind by position.
func toArgs(args []driver.NamedValue) []interface{} {
	out := make([]interface{}, len(args))
	for _, a := range args {
		idx := a.Ordinal - 1
		if idx < 0 || idx >= len(out) {
			continue
		}
		if a.Name != "" {
			out[idx] = client.Named(a.Name, a.Value)
			continue
		}
		out[idx] = a.Value
	}
	return out
}

func valuesToNamed(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}
