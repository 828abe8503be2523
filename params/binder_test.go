package params

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/ydbsql-driver/query"
	"github.com/dan-strohschein/ydbsql-driver/testutil"
)

func mustParse(t *testing.T, text string) *query.ParsedQuery {
	t.Helper()
	pq, err := query.Parse(text, query.DefaultOptions())
	require.NoError(t, err)
	return pq
}

func defaultOptions() Options {
	return Options{EnforceVariablePrefix: true, BatchEnabled: true, Mode: ModeAuto}
}

func requireBindingError(t *testing.T, err error) *BindingError {
	t.Helper()
	require.Error(t, err)
	var be *BindingError
	require.True(t, errors.As(err, &be), "expected BindingError, got %T", err)
	return be
}

func TestBindPositionalCount(t *testing.T) {
	pq := mustParse(t, "SELECT * FROM t WHERE a = ? AND b = ? AND c = ?")

	tests := []struct {
		name    string
		values  []interface{}
		wantErr bool
		problem ProblemKind
		param   string
	}{
		{"exact", []interface{}{int32(1), "two", 3.0}, false, 0, ""},
		{"one missing", []interface{}{int32(1), "two"}, true, Missing, "$jp3"},
		{"one extra", []interface{}{int32(1), "two", 3.0, true}, true, Extra, "#4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBinder(pq, defaultOptions())
			require.NoError(t, err)
			for i, v := range tt.values {
				b.SetByIndex(i+1, v)
			}

			binding, err := b.Bind()
			if !tt.wantErr {
				require.NoError(t, err)
				params := binding.Params()
				require.Len(t, params, 3)
				assert.Equal(t, int32(1), params["$jp1"].Data)
				assert.Equal(t, "Int32", params["$jp1"].Type.String())
				assert.Equal(t, "two", params["$jp2"].Data)
				assert.Equal(t, "Utf8", params["$jp2"].Type.String())
				assert.Equal(t, 3.0, params["$jp3"].Data)
				assert.Equal(t, "Double", params["$jp3"].Type.String())
				return
			}

			be := requireBindingError(t, err)
			assert.Nil(t, binding)
			assert.True(t, be.Has(tt.problem, tt.param), "problems: %v", be.Problems)
		})
	}
}

func TestBindReportsAllProblems(t *testing.T) {
	pq := mustParse(t, "DECLARE $a AS Int32; DECLARE $b AS Utf8; DECLARE $c AS Bool; SELECT $a, $b, $c")

	b, err := NewBinder(pq, defaultOptions())
	require.NoError(t, err)
	b.SetByName("a", "not a number")
	b.SetByName("$b", "fine")
	b.SetByName("d", 1)

	_, err = b.Bind()
	be := requireBindingError(t, err)
	require.Len(t, be.Problems, 3)
	assert.True(t, be.Has(Extra, "d"))
	assert.True(t, be.Has(Mismatch, "$a"))
	assert.True(t, be.Has(Missing, "$c"))
	assert.Equal(t, "E_INVALID_PARAMETERS", be.Code)
	assert.Contains(t, be.Error(), "MISSING $c")
}

func TestBindWithoutPrefixEnforcement(t *testing.T) {
	pq := mustParse(t, "DECLARE $a AS Int32; SELECT $a")

	b, err := NewBinder(pq, Options{})
	require.NoError(t, err)
	b.SetByName("a", int32(1))

	_, err = b.Bind()
	be := requireBindingError(t, err)
	assert.True(t, be.Has(Extra, "a"))
	assert.True(t, be.Has(Missing, "$a"))

	b.Clear()
	b.SetByName("$a", int32(1))
	binding, err := b.Bind()
	require.NoError(t, err)
	assert.Equal(t, int32(1), binding.Params()["$a"].Data)
}

func TestBindDeclaredConversions(t *testing.T) {
	id := uuid.New()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	pq := mustParse(t, "DECLARE $i8 AS Int8; DECLARE $u AS Uint32; DECLARE $s AS String; "+
		"DECLARE $id AS Uuid; DECLARE $ts AS Timestamp; DECLARE $opt AS Utf8?; DECLARE $dec AS Decimal(22,9); "+
		"SELECT 1")

	b, err := NewBinder(pq, defaultOptions())
	require.NoError(t, err)
	b.SetByName("i8", 12)
	b.SetByName("u", int64(7))
	b.SetByName("s", "raw")
	b.SetByName("id", id.String())
	b.SetByName("ts", now)
	b.SetByName("opt", nil)
	b.SetByName("dec", "123.456")

	binding, err := b.Bind()
	require.NoError(t, err)
	params := binding.Params()
	assert.Equal(t, int8(12), params["$i8"].Data)
	assert.Equal(t, uint32(7), params["$u"].Data)
	assert.Equal(t, []byte("raw"), params["$s"].Data)
	assert.Equal(t, id, params["$id"].Data)
	assert.Equal(t, now, params["$ts"].Data)
	assert.Nil(t, params["$opt"].Data)
	assert.Equal(t, "Optional<Utf8>", params["$opt"].Type.String())
	assert.Equal(t, "123.456", params["$dec"].Data)
}

func TestBindDeclaredMismatches(t *testing.T) {
	pq := mustParse(t, "DECLARE $i8 AS Int8; DECLARE $u AS Uint8; DECLARE $req AS Utf8; DECLARE $dec AS Decimal(5,2); SELECT 1")

	b, err := NewBinder(pq, defaultOptions())
	require.NoError(t, err)
	b.SetByName("i8", 300)
	b.SetByName("u", -1)
	b.SetByName("req", nil)
	b.SetByName("dec", "1.234")

	_, err = b.Bind()
	be := requireBindingError(t, err)
	for _, name := range []string{"$i8", "$u", "$req", "$dec"} {
		assert.True(t, be.Has(Mismatch, name), name)
	}
}

func TestBindMissingOptionalIsNull(t *testing.T) {
	pq := mustParse(t, "DECLARE $a AS Int32?; SELECT $a")

	b, err := NewBinder(pq, defaultOptions())
	require.NoError(t, err)

	binding, err := b.Bind()
	require.NoError(t, err)
	v, ok := binding.Params()["$a"]
	require.True(t, ok)
	assert.Nil(t, v.Data)
}

func TestBindNullNeedsType(t *testing.T) {
	pq := mustParse(t, "SELECT ?")

	b, err := NewBinder(pq, defaultOptions())
	require.NoError(t, err)
	b.SetByIndex(1, nil)
	_, err = b.Bind()
	be := requireBindingError(t, err)
	assert.True(t, be.Has(Mismatch, "$jp1"))

	b.SetByIndex(1, Typed(nil, query.Optional(query.Primitive("Int64"))))
	binding, err := b.Bind()
	require.NoError(t, err)
	assert.Equal(t, "Optional<Int64>", binding.Types()["$jp1"].String())

	var missing *int32
	b.SetByIndex(1, missing)
	binding, err = b.Bind()
	require.NoError(t, err)
	assert.Equal(t, "Optional<Int32>", binding.Types()["$jp1"].String())
}

func TestBindExplicitTypeMustMatchDeclaration(t *testing.T) {
	pq := mustParse(t, "DECLARE $a AS Int32; SELECT $a")

	b, err := NewBinder(pq, defaultOptions())
	require.NoError(t, err)
	b.SetByName("a", Typed(int64(1), query.Primitive("Int64")))

	_, err = b.Bind()
	be := requireBindingError(t, err)
	assert.True(t, be.Has(Mismatch, "$a"))
}

func TestBindTypesFromRemotePrepare(t *testing.T) {
	pq := mustParse(t, "SELECT * FROM t WHERE a = ?")

	opts := defaultOptions()
	opts.Mode = ModeDataQuery
	opts.Types = map[string]*query.Type{"$jp1": query.Primitive("Uint64")}

	b, err := NewBinder(pq, opts)
	require.NoError(t, err)
	assert.Equal(t, "Uint64", b.Params()[0].Type.String())

	b.SetByIndex(1, 5)
	binding, err := b.Bind()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), binding.Params()["$jp1"].Data)

	rendered := pq.Render(binding.Types())
	assert.Contains(t, rendered, "DECLARE $jp1 AS Uint64;")
}

func TestStructBatch(t *testing.T) {
	q := testutil.NewQueries("series")
	pq := mustParse(t, q.UpsertOne(testutil.Batched, "c_Utf8", "Utf8"))

	b, err := NewBinder(pq, defaultOptions())
	require.NoError(t, err)
	require.True(t, b.IsBatch())
	assert.Equal(t, []string{"p1", "p2"}, b.BatchFields())

	for i := 1; i <= 3; i++ {
		b.SetByName("p1", int32(i))
		b.SetByIndex(2, "value")
		require.NoError(t, b.AddBatch())
	}
	assert.Equal(t, 3, b.BatchSize())

	binding, err := b.BindBatch()
	require.NoError(t, err)
	assert.True(t, binding.IsBatch())
	assert.Equal(t, 3, binding.Rows())

	values := binding.Params()["$values"]
	assert.Equal(t, "List<Struct<p1:Int32,p2:Utf8>>", values.Type.String())
	rows, ok := values.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 3)
	assert.Equal(t, map[string]interface{}{"p1": int32(2), "p2": "value"}, rows[1])
}

func TestStructBatchReportsEveryBadRow(t *testing.T) {
	pq := mustParse(t, "DECLARE $values AS List<Struct<id:Int32,name:Utf8>>; UPSERT INTO t SELECT * FROM AS_TABLE($values)")

	b, err := NewBinder(pq, defaultOptions())
	require.NoError(t, err)

	b.SetByName("id", "one")
	b.SetByName("name", "a")
	require.Error(t, b.AddBatch())

	b.SetByName("id", int32(2))
	b.SetByName("name", "b")
	require.NoError(t, b.AddBatch())

	b.SetByName("id", int32(3))
	b.SetByName("extra", 1)
	require.Error(t, b.AddBatch())

	_, err = b.BindBatch()
	be := requireBindingError(t, err)

	rows := map[int]bool{}
	for _, p := range be.Problems {
		rows[p.Row] = true
	}
	assert.Equal(t, map[int]bool{1: true, 3: true}, rows)
	assert.True(t, be.Has(Mismatch, "id"))
	assert.True(t, be.Has(Missing, "name"))
	assert.True(t, be.Has(Extra, "extra"))

	b.ClearBatch()
	_, err = b.BindBatch()
	be = requireBindingError(t, err)
	assert.Equal(t, "E_EMPTY_BATCH", be.Code)
}

func TestTupleBatch(t *testing.T) {
	pq := mustParse(t, "DECLARE $rows AS List<Tuple<Int32,Utf8?>>; SELECT * FROM AS_TABLE($rows)")

	b, err := NewBinder(pq, defaultOptions())
	require.NoError(t, err)
	require.True(t, b.IsBatch())

	b.SetByIndex(1, int32(1))
	require.NoError(t, b.AddBatch())
	b.SetByIndex(1, int32(2))
	b.SetByIndex(2, "two")
	require.NoError(t, b.AddBatch())

	binding, err := b.BindBatch()
	require.NoError(t, err)
	rows := binding.Params()["$rows"].Data.([]interface{})
	assert.Equal(t, []interface{}{int32(1), nil}, rows[0])
	assert.Equal(t, []interface{}{int32(2), "two"}, rows[1])
}

func TestBatchSingleRowBind(t *testing.T) {
	pq := mustParse(t, "DECLARE $values AS List<Struct<id:Int32>>; SELECT * FROM AS_TABLE($values)")

	b, err := NewBinder(pq, defaultOptions())
	require.NoError(t, err)

	b.SetByName("id", int32(1))
	require.NoError(t, b.AddBatch())

	b.SetByName("id", int32(9))
	binding, err := b.Bind()
	require.NoError(t, err)
	assert.Equal(t, 1, binding.Rows())
	assert.Equal(t, 1, b.BatchSize())

	b.SetByName("$values", []map[string]interface{}{{"id": int32(5)}, {"id": int32(6)}})
	binding, err = b.Bind()
	require.NoError(t, err)
	assert.False(t, binding.IsBatch())
	assert.Len(t, binding.Params()["$values"].Data, 2)
}

func TestBatchDetectionModes(t *testing.T) {
	batchText := "DECLARE $values AS List<Struct<id:Int32>>; SELECT * FROM AS_TABLE($values)"

	tests := []struct {
		name      string
		text      string
		opts      Options
		wantBatch bool
		wantErr   bool
	}{
		{"auto enabled", batchText, Options{BatchEnabled: true}, true, false},
		{"auto disabled", batchText, Options{}, false, false},
		{"in memory", batchText, Options{BatchEnabled: true, Mode: ModeInMemory}, false, false},
		{"data query", batchText, Options{BatchEnabled: true, Mode: ModeDataQuery}, false, false},
		{"forced", batchText, Options{Mode: ModeBatch}, true, false},
		{"forced on plain query", "SELECT ?", Options{Mode: ModeBatch}, false, true},
		{"list of primitives", "DECLARE $ids AS List<Int32>; SELECT $ids", Options{BatchEnabled: true}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBinder(mustParse(t, tt.text), tt.opts)
			if tt.wantErr {
				be := requireBindingError(t, err)
				assert.Equal(t, "E_NOT_BATCHABLE", be.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBatch, b.IsBatch())
		})
	}
}

func TestAddBatchOutsideBatchMode(t *testing.T) {
	b, err := NewBinder(mustParse(t, "SELECT ?"), defaultOptions())
	require.NoError(t, err)
	be := requireBindingError(t, b.AddBatch())
	assert.Equal(t, "E_NOT_BATCHABLE", be.Code)
}

func TestInferType(t *testing.T) {
	tests := []struct {
		value interface{}
		want  string
	}{
		{true, "Bool"},
		{int8(1), "Int8"},
		{int16(1), "Int16"},
		{int32(1), "Int32"},
		{1, "Int64"},
		{uint8(1), "Uint8"},
		{uint(1), "Uint64"},
		{float32(1), "Float"},
		{1.5, "Double"},
		{"s", "Utf8"},
		{[]byte("b"), "String"},
		{time.Now(), "Timestamp"},
		{time.Second, "Interval"},
		{uuid.New(), "Uuid"},
		{Typed("x", query.Primitive("Json")), "Json"},
	}
	for _, tt := range tests {
		got, err := InferType(tt.value)
		require.NoError(t, err, "%T", tt.value)
		assert.Equal(t, tt.want, got.String(), "%T", tt.value)
	}

	_, err := InferType(struct{}{})
	assert.Error(t, err)
	_, err = InferType(nil)
	assert.Error(t, err)
}
