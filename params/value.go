package params

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dan-strohschein/ydbsql-driver/query"
)

// TypedValue pairs a value with an explicit YQL type. It is required for
// NULL values of parameters that are not declared in the query text.
type TypedValue struct {
	Value interface{}
	Type  *query.Type
}

// Typed wraps v with an explicit type.
func Typed(v interface{}, t *query.Type) TypedValue {
	return TypedValue{Value: v, Type: t}
}

var errNullWithoutType = errors.New("NULL value requires a declared or explicit optional type")

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	uuidType     = reflect.TypeOf(uuid.UUID{})
	bytesType    = reflect.TypeOf([]byte(nil))
)

// InferType derives the YQL type of a Go value. A typed nil pointer infers
// an optional type.
func InferType(v interface{}) (*query.Type, error) {
	switch x := v.(type) {
	case nil:
		return nil, errNullWithoutType
	case TypedValue:
		if x.Type == nil {
			return InferType(x.Value)
		}
		return x.Type, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		t, err := inferGoType(rv.Type().Elem())
		if err != nil {
			return nil, err
		}
		return query.Optional(t), nil
	}
	return inferGoType(rv.Type())
}

func inferGoType(t reflect.Type) (*query.Type, error) {
	switch t {
	case timeType:
		return query.Primitive("Timestamp"), nil
	case durationType:
		return query.Primitive("Interval"), nil
	case uuidType:
		return query.Primitive("Uuid"), nil
	case bytesType:
		return query.Primitive("String"), nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return query.Primitive("Bool"), nil
	case reflect.Int8:
		return query.Primitive("Int8"), nil
	case reflect.Int16:
		return query.Primitive("Int16"), nil
	case reflect.Int32:
		return query.Primitive("Int32"), nil
	case reflect.Int, reflect.Int64:
		return query.Primitive("Int64"), nil
	case reflect.Uint8:
		return query.Primitive("Uint8"), nil
	case reflect.Uint16:
		return query.Primitive("Uint16"), nil
	case reflect.Uint32:
		return query.Primitive("Uint32"), nil
	case reflect.Uint, reflect.Uint64:
		return query.Primitive("Uint64"), nil
	case reflect.Float32:
		return query.Primitive("Float"), nil
	case reflect.Float64:
		return query.Primitive("Double"), nil
	case reflect.String:
		return query.Primitive("Utf8"), nil
	}
	return nil, fmt.Errorf("unsupported value type %s", t)
}

var intBits = map[string]int{
	"Int8": 8, "Int16": 16, "Int32": 32, "Int64": 64,
	"Uint8": 8, "Uint16": 16, "Uint32": 32, "Uint64": 64,
}

// Convert checks v against t and returns its canonical representation.
func Convert(t *query.Type, v interface{}) (interface{}, error) {
	if tv, ok := v.(TypedValue); ok {
		v = tv.Value
	}
	if v != nil {
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
			if rv.IsNil() {
				v = nil
			} else {
				v = rv.Elem().Interface()
			}
		}
	}

	if v == nil {
		if t.IsOptional() {
			return nil, nil
		}
		return nil, fmt.Errorf("NULL is not allowed for %s", t)
	}
	if t.IsOptional() {
		return Convert(t.Unwrap(), v)
	}

	switch t.Kind {
	case query.KindPrimitive:
		return convertPrimitive(t, v)
	case query.KindDecimal:
		return convertDecimal(t, v)
	case query.KindList:
		return convertList(t, v)
	case query.KindStruct:
		return convertStruct(t, v)
	case query.KindTuple:
		return convertTuple(t, v)
	}
	return nil, fmt.Errorf("unsupported type %s", t)
}

func mismatch(t *query.Type, v interface{}) error {
	return fmt.Errorf("expected %s, got %T", t, v)
}

func convertPrimitive(t *query.Type, v interface{}) (interface{}, error) {
	switch t.Name {
	case "Bool":
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case "Int8", "Int16", "Int32", "Int64":
		n, ok, err := toInt64(v)
		if !ok {
			break
		}
		if err != nil {
			return nil, err
		}
		bits := intBits[t.Name]
		if bits < 64 && (n < -(1<<(bits-1)) || n > 1<<(bits-1)-1) {
			return nil, fmt.Errorf("value %d overflows %s", n, t)
		}
		switch bits {
		case 8:
			return int8(n), nil
		case 16:
			return int16(n), nil
		case 32:
			return int32(n), nil
		}
		return n, nil
	case "Uint8", "Uint16", "Uint32", "Uint64":
		n, ok, err := toUint64(v)
		if !ok {
			break
		}
		if err != nil {
			return nil, err
		}
		bits := intBits[t.Name]
		if bits < 64 && n > 1<<bits-1 {
			return nil, fmt.Errorf("value %d overflows %s", n, t)
		}
		switch bits {
		case 8:
			return uint8(n), nil
		case 16:
			return uint16(n), nil
		case 32:
			return uint32(n), nil
		}
		return n, nil
	case "Float":
		switch f := v.(type) {
		case float32:
			return f, nil
		case float64:
			if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
				return nil, fmt.Errorf("value %g overflows %s", f, t)
			}
			return float32(f), nil
		}
	case "Double":
		switch f := v.(type) {
		case float32:
			return float64(f), nil
		case float64:
			return f, nil
		}
	case "String", "Yson":
		switch s := v.(type) {
		case []byte:
			return s, nil
		case string:
			return []byte(s), nil
		}
	case "Utf8", "Json", "JsonDocument":
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case "Uuid":
		switch u := v.(type) {
		case uuid.UUID:
			return u, nil
		case string:
			parsed, err := uuid.Parse(u)
			if err != nil {
				return nil, fmt.Errorf("invalid Uuid %q: %w", u, err)
			}
			return parsed, nil
		}
	case "Date", "Datetime", "Timestamp":
		if tm, ok := v.(time.Time); ok {
			return tm, nil
		}
	case "Interval":
		if d, ok := v.(time.Duration); ok {
			return d, nil
		}
	}
	return nil, mismatch(t, v)
}

func toInt64(v interface{}) (int64, bool, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Type() == durationType {
			return 0, false, nil
		}
		return rv.Int(), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, true, fmt.Errorf("value %d overflows Int64", u)
		}
		return int64(u), true, nil
	}
	return 0, false, nil
}

func toUint64(v interface{}) (uint64, bool, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Type() == durationType {
			return 0, false, nil
		}
		n := rv.Int()
		if n < 0 {
			return 0, true, fmt.Errorf("negative value %d for unsigned type", n)
		}
		return uint64(n), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true, nil
	}
	return 0, false, nil
}

func convertDecimal(t *query.Type, v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, mismatch(t, v)
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return nil, fmt.Errorf("invalid %s literal %q", t, s)
	}
	digits := strings.TrimLeft(s, "+-")
	intPart, fracPart, _ := strings.Cut(digits, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if len(fracPart) > t.Scale || len(intPart) > t.Precision-t.Scale {
		return nil, fmt.Errorf("value %s does not fit %s", s, t)
	}
	return s, nil
}

func convertList(t *query.Type, v interface{}) (interface{}, error) {
	rv := reflect.ValueOf(v)
	if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Type() == bytesType {
		return nil, mismatch(t, v)
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		item, err := Convert(t.Elem, rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = item
	}
	return out, nil
}

func convertStruct(t *query.Type, v interface{}) (interface{}, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, mismatch(t, v)
	}
	out := make(map[string]interface{}, len(t.Fields))
	for _, f := range t.Fields {
		fv, present := m[f.Name]
		if !present && !f.Type.IsOptional() {
			return nil, fmt.Errorf("missing struct field %s", f.Name)
		}
		converted, err := Convert(f.Type, fv)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[f.Name] = converted
	}
	if len(m) > len(out) {
		var unknown []string
		for name := range m {
			if _, ok := out[name]; !ok {
				unknown = append(unknown, name)
			}
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown struct field(s) %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

func convertTuple(t *query.Type, v interface{}) (interface{}, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, mismatch(t, v)
	}
	if len(items) != len(t.Items) {
		return nil, fmt.Errorf("expected %d tuple items, got %d", len(t.Items), len(items))
	}
	out := make([]interface{}, len(items))
	for i, it := range t.Items {
		converted, err := Convert(it, items[i])
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = converted
	}
	return out, nil
}
