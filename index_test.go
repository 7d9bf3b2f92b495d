package codex

import "testing"

func intCompare(a, b any) int {
	ai, bi := a.(int), b.(int)
	switch {
	case ai < bi:
		return -1
	case ai > bi:
		return 1
	default:
		return 0
	}
}

func TestPrimaryIndexOrderedIteration(t *testing.T) {
	p := newPrimaryIndex(intCompare)
	for _, k := range []int{5, 1, 3, 2, 4} {
		p.Put(k, KeyEntry{Slot: Slot{Offset: int64(k), Length: 1}})
	}
	keys := p.Keys()
	for i, k := range []int{1, 2, 3, 4, 5} {
		if keys[i] != k {
			t.Fatalf("expected ordered keys, got %v", keys)
		}
	}
	if p.Len() != 5 {
		t.Fatalf("expected len 5, got %d", p.Len())
	}
}

func TestPrimaryIndexDelete(t *testing.T) {
	p := newPrimaryIndex(intCompare)
	p.Put(1, KeyEntry{})
	p.Put(2, KeyEntry{})
	if _, ok := p.Delete(1); !ok {
		t.Fatalf("expected delete to find key 1")
	}
	if _, ok := p.Get(1); ok {
		t.Fatalf("key 1 should be gone")
	}
	if p.Len() != 1 {
		t.Fatalf("expected len 1 after delete, got %d", p.Len())
	}
}

func TestPrimaryIndexSnapshotIsolated(t *testing.T) {
	p := newPrimaryIndex(intCompare)
	p.Put(1, KeyEntry{Fingerprint: 1})
	snap := p.Snapshot()
	p.Put(2, KeyEntry{Fingerprint: 2})
	if snap.Len() != 1 {
		t.Fatalf("snapshot should not see later mutation, got len %d", snap.Len())
	}
}

func strCompare(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	as, bs := a.(string), b.(string)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func buildSurnameIndex() *secondaryIndex {
	def := IndexDef{Name: "Surname", TypeID: TypeString, Nullable: true, Comparator: strCompare}
	sec := newSecondaryIndex(def, intCompare)
	rows := map[int]string{
		1: "Bloggs",
		2: "Smith",
		3: "Peterson",
		4: "Gordon",
		5: "Gordon",
		6: "Gordon",
		7: "Gordon",
	}
	for k, v := range rows {
		sec.Add(v, k)
	}
	return sec
}

func TestSecondaryIndexRangeQuery(t *testing.T) {
	sec := buildSurnameIndex()
	lo := sec.idxGE("H")
	hi := sec.idxGT("T")
	var count int
	for i := lo; i < hi; i++ {
		count += len(sec.buckets[i])
	}
	if count != 2 {
		t.Fatalf("expected 2 matches (Peterson, Smith) for [H,T], got %d", count)
	}
}

func TestSecondaryIndexNullSortsLowest(t *testing.T) {
	def := IndexDef{Name: "Nickname", TypeID: TypeString, Nullable: true, Comparator: strCompare}
	sec := newSecondaryIndex(def, intCompare)
	sec.Add(nil, 1)
	sec.Add("Aaron", 2)
	if sec.values[0] != nil {
		t.Fatalf("expected nil to sort first, got %v", sec.values)
	}
	i := sec.idxGE(nil)
	if len(sec.buckets[i]) != 1 || sec.buckets[i][0] != 1 {
		t.Fatalf("key(nil) should match only the null bucket, got %+v", sec.buckets[i])
	}
}

func TestSecondaryIndexUpdateMovesBucket(t *testing.T) {
	sec := buildSurnameIndex()
	sec.Update("Bloggs", "Gordon", 1)
	i := sec.idxGE("Bloggs")
	if i < len(sec.values) && sec.values[i] == "Bloggs" {
		t.Fatalf("old value bucket should be gone once empty")
	}
	gi := sec.idxGE("Gordon")
	found := false
	for _, k := range sec.buckets[gi] {
		if k == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected key 1 moved into the Gordon bucket")
	}
}

func TestSecondaryIndexRemoveDropsEmptyBucket(t *testing.T) {
	def := IndexDef{Name: "X", TypeID: TypeString, Nullable: false, Comparator: strCompare}
	sec := newSecondaryIndex(def, intCompare)
	sec.Add("only", 1)
	sec.Remove("only", 1)
	if len(sec.values) != 0 {
		t.Fatalf("expected bucket removed once empty, got %+v", sec.values)
	}
}
