package codex

// IndexQuery is a chainable cursor over one secondary index (§4.3 "Range
// queries"). Each call narrows [lo, hi) over the index's ordered values;
// the terminal methods resolve the narrowed range into primary keys or
// entities. A zero-value range (no calls at all) spans the whole index.
type IndexQuery[E any] struct {
	table *Table[E]
	idx   *secondaryIndex
	lo    int
	hi    int
}

func newIndexQuery[E any](t *Table[E], idx *secondaryIndex) *IndexQuery[E] {
	return &IndexQuery[E]{table: t, idx: idx, lo: 0, hi: len(idx.values)}
}

func (q *IndexQuery[E]) narrowLower(v any, inclusive bool) {
	var i int
	if inclusive {
		i = q.idx.idxGE(v)
	} else {
		i = q.idx.idxGT(v)
	}
	if i > q.lo {
		q.lo = i
	}
}

func (q *IndexQuery[E]) narrowUpper(v any, inclusive bool) {
	var i int
	if inclusive {
		i = q.idx.idxGT(v)
	} else {
		i = q.idx.idxGE(v)
	}
	if i < q.hi {
		q.hi = i
	}
}

// Key narrows the cursor to entries whose indexed value equals v
// (v may be nil to select the null bucket).
func (q *IndexQuery[E]) Key(v any) *IndexQuery[E] {
	q.narrowLower(v, true)
	q.narrowUpper(v, true)
	return q
}

// GreaterThan narrows the cursor to entries whose indexed value is
// greater than (or, if inclusive, greater than or equal to) v.
func (q *IndexQuery[E]) GreaterThan(v any, inclusive bool) *IndexQuery[E] {
	q.narrowLower(v, inclusive)
	return q
}

// LessThan narrows the cursor to entries whose indexed value is
// less than (or, if inclusive, less than or equal to) v.
func (q *IndexQuery[E]) LessThan(v any, inclusive bool) *IndexQuery[E] {
	q.narrowUpper(v, inclusive)
	return q
}

// keys resolves the narrowed range to primary keys, in index order.
func (q *IndexQuery[E]) keys() []any {
	if q.lo >= q.hi {
		return nil
	}
	var out []any
	for i := q.lo; i < q.hi; i++ {
		out = append(out, q.idx.buckets[i]...)
	}
	return out
}

// Count returns the number of matching entities without loading them.
func (q *IndexQuery[E]) Count() int {
	return len(q.keys())
}

// ToList loads and returns every matching entity, in index order.
func (q *IndexQuery[E]) ToList() ([]E, error) {
	keys := q.keys()
	out := make([]E, 0, len(keys))
	for _, k := range keys {
		e, ok, err := q.table.LoadByKey(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// ToLazyList returns a function yielding one matching entity per call,
// loading each on demand rather than materializing the whole result set
// (§4.3 "to_lazy_list"). The returned function reports io.EOF-free
// completion via the ok result.
func (q *IndexQuery[E]) ToLazyList() func() (E, bool, error) {
	keys := q.keys()
	i := 0
	return func() (E, bool, error) {
		var zero E
		for i < len(keys) {
			k := keys[i]
			i++
			e, ok, err := q.table.LoadByKey(k)
			if err != nil {
				return zero, false, err
			}
			if ok {
				return e, true, nil
			}
		}
		return zero, false, nil
	}
}
