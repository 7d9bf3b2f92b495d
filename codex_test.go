package codex_test

import (
	"errors"
	"os"
	"testing"

	"github.com/jpl-au/codex"
)

type Person struct {
	ID   int32
	Name string
}

func personSchema(t *testing.T) *codex.TableSchema {
	t.Helper()
	schema, err := codex.Map[Person]().
		Key(codex.TypeInt32, func(p Person) any { return p.ID }, func(p *Person, v any) { p.ID = v.(int32) }, false).
		Field("name", codex.TypeString, func(p Person) any { return p.Name }, func(p *Person, v any) { p.Name = v.(string) }).
		Build()
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	return schema
}

func openInstance(t *testing.T, schema *codex.TableSchema) (*codex.Instance, *codex.Table[Person]) {
	t.Helper()
	dir := t.TempDir()
	inst, err := codex.Open(dir, codex.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := codex.Register(inst, "people", schema); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := inst.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	tbl, err := codex.TableOf[Person](inst, "people")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	return inst, tbl
}

// Scenario 1: basic round-trip.
func TestBasicRoundTrip(t *testing.T) {
	inst, tbl := openInstance(t, personSchema(t))
	defer inst.Close()

	if _, err := tbl.Save(Person{ID: 1, Name: "test"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, ok, err := tbl.LoadByKey(int32(1))
	if err != nil || !ok {
		t.Fatalf("load_by_key(1): ok=%v err=%v", ok, err)
	}
	if p.Name != "test" {
		t.Fatalf("expected name %q, got %q", "test", p.Name)
	}

	if err := tbl.Purge(); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, ok, err := tbl.LoadByKey(int32(1)); ok || err != nil {
		t.Fatalf("expected not-found after purge, got ok=%v err=%v", ok, err)
	}
}

// Scenario 4: update in place vs. unchanged.
func TestUpdateInPlace(t *testing.T) {
	inst, tbl := openInstance(t, personSchema(t))
	defer inst.Close()

	res, err := tbl.Save(Person{ID: 1, Name: "a"})
	if err != nil || res != codex.Inserted {
		t.Fatalf("expected Inserted, got %v err=%v", res, err)
	}

	res, err = tbl.Save(Person{ID: 1, Name: "a"})
	if err != nil || res != codex.Unchanged {
		t.Fatalf("expected Unchanged on identical save, got %v err=%v", res, err)
	}

	res, err = tbl.Save(Person{ID: 1, Name: "b"})
	if err != nil || res != codex.Updated {
		t.Fatalf("expected Updated for same-length different content, got %v err=%v", res, err)
	}
}

// Insert rejects an explicit-key collision when the table isn't
// auto-increment (§7 "KeyConflict"), unlike Save which always upserts.
func TestInsertRejectsKeyConflict(t *testing.T) {
	inst, tbl := openInstance(t, personSchema(t))
	defer inst.Close()

	res, err := tbl.Insert(Person{ID: 1, Name: "a"})
	if err != nil || res != codex.Inserted {
		t.Fatalf("expected Inserted, got %v err=%v", res, err)
	}

	_, err = tbl.Insert(Person{ID: 1, Name: "b"})
	if !errors.Is(err, codex.ErrKeyConflict) {
		t.Fatalf("expected ErrKeyConflict, got %v", err)
	}

	p, ok, err := tbl.LoadByKey(int32(1))
	if err != nil || !ok || p.Name != "a" {
		t.Fatalf("expected rejected insert to leave original row untouched, got %+v ok=%v err=%v", p, ok, err)
	}
}

// Scenario 5: growth and compaction.
func TestGrowthAndCompaction(t *testing.T) {
	inst, tbl := openInstance(t, personSchema(t))
	defer inst.Close()

	const n = 200
	for i := int32(1); i <= n; i++ {
		name := make([]byte, int(i)%17+1)
		for j := range name {
			name[j] = 'a'
		}
		if _, err := tbl.Save(Person{ID: i, Name: string(name)}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	for i := int32(2); i <= n; i += 2 {
		if _, err := tbl.DeleteByKey(i); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	if err := tbl.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}

	all, err := tbl.LoadAll()
	if err != nil {
		t.Fatalf("load_all: %v", err)
	}
	if len(all) != n/2 {
		t.Fatalf("expected %d remaining rows, got %d", n/2, len(all))
	}
	for i, p := range all {
		if p.ID != int32(i)*2+1 {
			t.Fatalf("expected primary-key order with odd ids, got %+v at %d", p, i)
		}
	}
}

func TestPurgeThenLoadAllEmpty(t *testing.T) {
	inst, tbl := openInstance(t, personSchema(t))
	defer inst.Close()

	tbl.Save(Person{ID: 1, Name: "x"})
	if err := tbl.Purge(); err != nil {
		t.Fatalf("purge: %v", err)
	}
	all, err := tbl.LoadAll()
	if err != nil {
		t.Fatalf("load_all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty table after purge, got %d rows", len(all))
	}
}

func TestBulkWriteRollsBackOnFailure(t *testing.T) {
	inst, tbl := openInstance(t, personSchema(t))
	defer inst.Close()

	tbl.Save(Person{ID: 1, Name: "keep"})

	wantErr := os.ErrClosed
	err := tbl.BulkWrite(func() error {
		tbl.Save(Person{ID: 2, Name: "rolledback"})
		tbl.DeleteByKey(int32(1))
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected the body's error to propagate, got %v", err)
	}

	if _, ok, _ := tbl.LoadByKey(int32(1)); !ok {
		t.Fatalf("expected key 1 to survive the rolled-back bulk write")
	}
	if _, ok, _ := tbl.LoadByKey(int32(2)); ok {
		t.Fatalf("expected key 2's insert to be rolled back")
	}
}
