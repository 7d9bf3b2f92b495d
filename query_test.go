package codex_test

import (
	"context"
	"testing"

	"github.com/jpl-au/codex"
)

type Employee struct {
	ID      int32
	Surname string
}

func employeeSchema(t *testing.T) *codex.TableSchema {
	t.Helper()
	schema, err := codex.Map[Employee]().
		Key(codex.TypeInt32, func(e Employee) any { return e.ID }, func(e *Employee, v any) { e.ID = v.(int32) }, false).
		Field("surname", codex.TypeString, func(e Employee) any { return e.Surname }, func(e *Employee, v any) { e.Surname = v.(string) }).
		WithIndex("Surname", codex.TypeString, func(e Employee) (any, bool) { return e.Surname, e.Surname != "" }, nil).
		Build()
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	return schema
}

func openEmployees(t *testing.T) *codex.Table[Employee] {
	t.Helper()
	dir := t.TempDir()
	inst, err := codex.Open(dir, codex.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	codex.Register(inst, "employees", employeeSchema(t))
	if err := inst.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	tbl, err := codex.TableOf[Employee](inst, "employees")
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	return tbl
}

// Scenario 2: range query over a secondary index.
func TestIndexQueryRangeScenario(t *testing.T) {
	tbl := openEmployees(t)
	rows := []Employee{
		{ID: 1, Surname: "Bloggs"},
		{ID: 2, Surname: "Smith"},
		{ID: 3, Surname: "Peterson"},
		{ID: 4, Surname: "Gordon"},
		{ID: 5, Surname: "Gordon"},
		{ID: 6, Surname: "Gordon"},
		{ID: 7, Surname: "Gordon"},
	}
	for _, r := range rows {
		if _, err := tbl.Save(r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	q, err := tbl.IndexQuery("Surname")
	if err != nil {
		t.Fatalf("index query: %v", err)
	}
	q.GreaterThan("H", true).LessThan("T", true)
	if q.Count() != 2 {
		t.Fatalf("expected 2 matches (Peterson, Smith) in [H,T], got %d", q.Count())
	}
	list, err := q.ToList()
	if err != nil {
		t.Fatalf("to_list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entities from to_list, got %d", len(list))
	}
}

func TestIndexQueryExactKeyMatchesAllInBucket(t *testing.T) {
	tbl := openEmployees(t)
	for i := int32(1); i <= 4; i++ {
		tbl.Save(Employee{ID: i, Surname: "Gordon"})
	}
	tbl.Save(Employee{ID: 5, Surname: "Smith"})

	q, err := tbl.IndexQuery("Surname")
	if err != nil {
		t.Fatalf("index query: %v", err)
	}
	if got := q.Key("Gordon").Count(); got != 4 {
		t.Fatalf("expected 4 Gordons, got %d", got)
	}
}

func TestIndexQueryLazyListStopsWhenExhausted(t *testing.T) {
	tbl := openEmployees(t)
	tbl.Save(Employee{ID: 1, Surname: "Ackerman"})
	tbl.Save(Employee{ID: 2, Surname: "Baker"})

	q, err := tbl.IndexQuery("Surname")
	if err != nil {
		t.Fatalf("index query: %v", err)
	}
	next := q.ToLazyList()
	count := 0
	for {
		_, ok, err := next()
		if err != nil {
			t.Fatalf("lazy list: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 entities from lazy list, got %d", count)
	}
}

func TestKeepHistoryRetainsSupersededVersions(t *testing.T) {
	tbl := openEmployees(t).KeepHistory(2)

	tbl.Save(Employee{ID: 1, Surname: "Aaa"})
	tbl.Save(Employee{ID: 1, Surname: "Bbbbb"})
	tbl.Save(Employee{ID: 1, Surname: "Ccccccc"})

	versions, err := tbl.History(int32(1))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected ring capped at depth 2, got %d versions", len(versions))
	}
	if versions[0].Surname != "Aaa" || versions[1].Surname != "Bbbbb" {
		t.Fatalf("expected oldest-first retained versions, got %+v", versions)
	}

	current, ok, err := tbl.LoadByKey(int32(1))
	if err != nil || !ok || current.Surname != "Ccccccc" {
		t.Fatalf("expected live row to be the latest save, got %+v ok=%v err=%v", current, ok, err)
	}
}

func TestRekeyMovesEntityAndIndexEntries(t *testing.T) {
	tbl := openEmployees(t)
	tbl.Save(Employee{ID: 1, Surname: "Original"})

	if err := tbl.Rekey(int32(1), int32(2)); err != nil {
		t.Fatalf("rekey: %v", err)
	}

	if _, ok, _ := tbl.LoadByKey(int32(1)); ok {
		t.Fatalf("expected old key to be gone after rekey")
	}
	moved, ok, err := tbl.LoadByKey(int32(2))
	if err != nil || !ok || moved.Surname != "Original" {
		t.Fatalf("expected entity reachable under new key, got %+v ok=%v err=%v", moved, ok, err)
	}

	q, err := tbl.IndexQuery("Surname")
	if err != nil {
		t.Fatalf("index query: %v", err)
	}
	keys, err := q.Key("Original").ToList()
	if err != nil || len(keys) != 1 || keys[0].ID != 2 {
		t.Fatalf("expected secondary index updated to the new key, got %+v err=%v", keys, err)
	}
}

func TestRekeyFailsWhenNewKeyAlreadyExists(t *testing.T) {
	tbl := openEmployees(t)
	tbl.Save(Employee{ID: 1, Surname: "A"})
	tbl.Save(Employee{ID: 2, Surname: "B"})

	if err := tbl.Rekey(int32(1), int32(2)); err == nil {
		t.Fatalf("expected rekey onto an existing key to fail")
	}
}

type Surnamed struct {
	ID   int32
	Name string
}

func surnamedSchema(t *testing.T) *codex.TableSchema {
	t.Helper()
	schema, err := codex.Map[Surnamed]().
		Key(codex.TypeInt32, func(s Surnamed) any { return s.ID }, func(s *Surnamed, v any) { s.ID = v.(int32) }, true).
		Field("name", codex.TypeString, func(s Surnamed) any { return s.Name }, func(s *Surnamed, v any) { s.Name = v.(string) }).
		WithIndex("LastName", codex.TypeString, func(s Surnamed) (any, bool) { return s.Name, true }, nil).
		WithIndex("LastNameText", codex.TypeString, func(s Surnamed) (any, bool) { return s.Name, true }, codex.CaseInsensitiveStringComparator()).
		Build()
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	return schema
}

// Scenario 3: case-sensitive vs. case-insensitive index over the same
// field. 1000 rows named Test0..Test9 (100 each), then 1000 rows named
// TeST0..TeST9 (100 each) — 2000 rows total.
func TestCaseSensitiveVsCaseInsensitiveIndex(t *testing.T) {
	dir := t.TempDir()
	inst, err := codex.Open(dir, codex.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer inst.Close()
	if err := codex.Register(inst, "surnamed", surnamedSchema(t)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := inst.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	tbl, err := codex.TableOf[Surnamed](inst, "surnamed")
	if err != nil {
		t.Fatalf("table: %v", err)
	}

	digits := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	for _, d := range digits {
		for range 100 {
			if _, err := tbl.Save(Surnamed{Name: "Test" + d}); err != nil {
				t.Fatalf("save Test%s: %v", d, err)
			}
		}
	}
	for _, d := range digits {
		for range 100 {
			if _, err := tbl.Save(Surnamed{Name: "TeST" + d}); err != nil {
				t.Fatalf("save TeST%s: %v", d, err)
			}
		}
	}

	byName, err := tbl.IndexQuery("LastName")
	if err != nil {
		t.Fatalf("index query LastName: %v", err)
	}
	if got := byName.Key("Test5").Count(); got != 100 {
		t.Fatalf("expected 100 exact matches for \"Test5\", got %d", got)
	}

	byText, err := tbl.IndexQuery("LastNameText")
	if err != nil {
		t.Fatalf("index query LastNameText: %v", err)
	}
	if got := byText.Key("TEst5").Count(); got != 200 {
		t.Fatalf("expected 200 case-folded matches for \"TEst5\", got %d", got)
	}

	q1, err := tbl.IndexQuery("LastName")
	if err != nil {
		t.Fatalf("index query LastName: %v", err)
	}
	if got := q1.GreaterThan("Test5", false).Count(); got != 900 {
		t.Fatalf("expected 900 matches greater than \"Test5\", got %d", got)
	}

	q2, err := tbl.IndexQuery("LastName")
	if err != nil {
		t.Fatalf("index query LastName: %v", err)
	}
	if got := q2.LessThan("Test6", false).Count(); got != 1200 {
		t.Fatalf("expected 1200 matches less than \"Test6\", got %d", got)
	}

	q3, err := tbl.IndexQuery("LastName")
	if err != nil {
		t.Fatalf("index query LastName: %v", err)
	}
	if got := q3.LessThan("Test6", true).GreaterThan("Test5", true).Count(); got != 300 {
		t.Fatalf("expected 300 matches in the inclusive [Test5,Test6] window, got %d", got)
	}
}

func TestAsyncSaveAndLoad(t *testing.T) {
	tbl := openEmployees(t)

	fut := codex.SaveAsync(tbl, Employee{ID: 1, Surname: "Async"})
	if _, err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("save async: %v", err)
	}

	loadFut := codex.LoadByKeyAsync(tbl, int32(1))
	res, err := loadFut.Wait(context.Background())
	if err != nil || !res.Found || res.Entity.Surname != "Async" {
		t.Fatalf("load async: %+v err=%v", res, err)
	}
}
