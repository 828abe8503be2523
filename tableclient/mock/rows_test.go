package mock

import (
	"testing"
	"time"
)

func TestRowFactoryBuild(t *testing.T) {
	f := NewRowFactory(
		Column("key", "Int32"),
		Column("name", "Optional<Utf8>"),
		Column("at", "Timestamp"),
	)

	rs := f.Build(3)
	if len(rs.Columns) != 3 || len(rs.Rows) != 3 {
		t.Fatalf("unexpected shape: %d columns, %d rows", len(rs.Columns), len(rs.Rows))
	}
	if rs.Rows[0][0] != int32(1) || rs.Rows[2][0] != int32(3) {
		t.Errorf("unexpected keys: %v %v", rs.Rows[0][0], rs.Rows[2][0])
	}
	if rs.Rows[1][1] != "name_2" {
		t.Errorf("expected name_2, got %v", rs.Rows[1][1])
	}
	if rs.Rows[2][1] != nil {
		t.Errorf("optional column should be NULL on every third row, got %v", rs.Rows[2][1])
	}
	if got := rs.Rows[1][2].(time.Time).Sub(rs.Rows[0][2].(time.Time)); got != time.Second {
		t.Errorf("expected timestamps one second apart, got %s", got)
	}
}

func TestRowFactorySet(t *testing.T) {
	f := NewRowFactory(Column("key", "Int64")).Set("key", func(row int) interface{} {
		return int64(100 + row)
	})

	rs := f.Build(2)
	if rs.Rows[1][0] != int64(101) {
		t.Errorf("expected 101, got %v", rs.Rows[1][0])
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for an unknown column")
		}
	}()
	f.Set("nope", nil)
}

func TestRowFactoryBatches(t *testing.T) {
	batches := NewRowFactory(Column("key", "Int32")).Batches(5, 2)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[2].Rows) != 1 {
		t.Errorf("expected last batch of 1 row, got %d", len(batches[2].Rows))
	}
	if batches[1].Rows[0][0] != int32(3) {
		t.Errorf("second batch should continue at key 3, got %v", batches[1].Rows[0][0])
	}
}

func TestColumnPanicsOnBadType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for an invalid type")
		}
	}()
	Column("bad", "NotAType<")
}
