// Explicit entity-to-column mapping builder.
//
// Design Notes (spec.md §9): the source used runtime reflection to derive
// column readers/writers from an entity's public properties. That collaborator
// is explicitly out of scope here (§1) — callers instead describe their
// entity with an explicit builder, the way a hand-written ORM mapping file
// would: Map[E]().Key(...).Field(...).WithIndex(...).Build(). The builder
// compiles straight-line encode/decode closures over the Writer/Reader pair
// in codec.go; there is no reflection anywhere in the hot path.
//
// Every compiled closure operates on a *E handle (boxed as any), never on
// E by value, so Build() can construct new entities during Decode without
// needing reflection to take their address.
//
// Polymorphic entities (Design Notes: "interface/prototype variants") are
// modeled as a tagged variant: Variant registers a discriminator byte plus
// its own encode/decode pair, and the compiled codec writes the tag before
// dispatching.
package codex

import (
	"cmp"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// FieldKind distinguishes a scalar field from a composite one.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindList             // ordered sequence
	KindSet               // unordered, unique elements
	KindDict              // key/value mapping
)

// Comparator orders two values of a field's declared type. Returns <0, 0
// or >0 like cmp.Compare. A nil value (for nullable attributes) must sort
// as the distinct lowest element (§4.3 "Range semantics").
type Comparator func(a, b any) int

// FieldDef describes one payload attribute of an entity. Get/Set operate
// on a *E handle boxed as any.
type FieldDef struct {
	Name      string
	Kind      FieldKind
	TypeID    int // scalar type id, or element type id for List/Set
	KeyTypeID int // dict key type id (KindDict only)
	Get       func(ePtr any) any
	Set       func(ePtr any, v any)
}

// IndexDef describes one secondary index.
type IndexDef struct {
	Name       string
	TypeID     int
	Nullable   bool
	Get        func(ePtr any) any
	Comparator Comparator
}

// VariantDef registers one concrete shape of a polymorphic entity type
// under a one-byte discriminator. Match/Encode/Decode all operate on a
// *E handle boxed as any.
type VariantDef struct {
	Tag    byte
	Match  func(ePtr any) bool
	Encode func(w *Writer, ePtr any) error
	Decode func(r *Reader) (any, error)
}

// Pair is a key/value entry used by DictField getters/setters.
type Pair struct{ K, V any }

// TableSchema is the compiled, type-erased result of Mapping.Build(). The
// storage layer (table.go) operates entirely on TableSchema so it never
// needs the entity's static Go type.
type TableSchema struct {
	Name        string
	KeyTypeID   int
	AutoInc     bool
	KeyCompare  Comparator
	Fields      []FieldDef
	Indexes     []IndexDef
	Variants    []VariantDef

	getKey func(ePtr any) any
	setKey func(ePtr any, k any)
	encode func(ePtr any, compressThreshold int) ([]byte, error)
	decode func(b []byte) (any, error)
	newPtr func() any // returns a fresh *E boxed as any
}

// GetKey returns an entity's primary key value. ePtr must be a *E handle.
func (s *TableSchema) GetKey(ePtr any) any { return s.getKey(ePtr) }

// SetKey assigns an entity's primary key value (used for auto-increment).
func (s *TableSchema) SetKey(ePtr any, k any) { s.setKey(ePtr, k) }

// Encode serializes an entity (given as a *E handle) to bytes. Fields
// longer than compressThreshold are zstd-compressed (Config.CompressThreshold);
// pass 0 to disable compression.
func (s *TableSchema) Encode(ePtr any, compressThreshold int) ([]byte, error) {
	return s.encode(ePtr, compressThreshold)
}

// Decode deserializes bytes into a fresh *E handle.
func (s *TableSchema) Decode(b []byte) (any, error) { return s.decode(b) }

// NewPtr returns a fresh *E handle holding the zero value of E.
func (s *TableSchema) NewPtr() any { return s.newPtr() }

// Fingerprint returns a 32-bit hash of the declared type ids, stored in
// the table header and compared on open (§3 "Table header", §7
// SchemaMismatch).
func (s *TableSchema) Fingerprint() uint32 {
	w := NewWriter()
	w.WriteInt32(int32(s.KeyTypeID))
	for _, f := range s.Fields {
		w.WriteInt32(int32(f.Kind))
		w.WriteInt32(int32(f.TypeID))
		w.WriteInt32(int32(f.KeyTypeID))
	}
	for _, ix := range s.Indexes {
		w.WriteInt32(int32(ix.TypeID))
	}
	for _, v := range s.Variants {
		w.WriteUint8(v.Tag)
	}
	return fingerprint(w.Bytes(), AlgXXHash3)
}

// Mapping is the builder for one entity type E.
type Mapping[E any] struct {
	schema TableSchema
	keyGet func(E) any
	keySet func(*E, any)
}

// Map begins a mapping for entity type E.
func Map[E any]() *Mapping[E] {
	return &Mapping[E]{}
}

// Key declares the primary key attribute. autoInc marks the key as
// engine-assigned on insert (§4.3 "save"); set is required when autoInc
// is true so the engine can write the assigned key back onto the entity.
func (m *Mapping[E]) Key(typeID int, get func(E) any, set func(*E, any), autoInc bool) *Mapping[E] {
	m.keyGet = get
	m.keySet = set
	m.schema.KeyTypeID = typeID
	m.schema.AutoInc = autoInc
	m.schema.KeyCompare = defaultComparator(typeID, false)
	return m
}

// KeyComparator overrides the default ordering for the primary key
// (e.g. case-insensitive string keys).
func (m *Mapping[E]) KeyComparator(cmp Comparator) *Mapping[E] {
	m.schema.KeyCompare = cmp
	return m
}

// Field declares a scalar payload attribute.
func (m *Mapping[E]) Field(name string, typeID int, get func(E) any, set func(*E, any)) *Mapping[E] {
	m.schema.Fields = append(m.schema.Fields, FieldDef{
		Name:   name,
		Kind:   KindScalar,
		TypeID: typeID,
		Get:    func(ePtr any) any { return get(*(ePtr.(*E))) },
		Set:    func(ePtr any, v any) { set(ePtr.(*E), v) },
	})
	return m
}

// ListField declares an ordered-sequence attribute whose elements are typeID.
func (m *Mapping[E]) ListField(name string, elemTypeID int, get func(E) []any, set func(*E, []any)) *Mapping[E] {
	m.schema.Fields = append(m.schema.Fields, FieldDef{
		Name:   name,
		Kind:   KindList,
		TypeID: elemTypeID,
		Get:    func(ePtr any) any { return get(*(ePtr.(*E))) },
		Set:    func(ePtr any, v any) { set(ePtr.(*E), v.([]any)) },
	})
	return m
}

// SetField declares an unordered-set attribute whose elements are typeID.
func (m *Mapping[E]) SetField(name string, elemTypeID int, get func(E) []any, set func(*E, []any)) *Mapping[E] {
	m.schema.Fields = append(m.schema.Fields, FieldDef{
		Name:   name,
		Kind:   KindSet,
		TypeID: elemTypeID,
		Get:    func(ePtr any) any { return get(*(ePtr.(*E))) },
		Set:    func(ePtr any, v any) { set(ePtr.(*E), v.([]any)) },
	})
	return m
}

// DictField declares a key/value mapping attribute.
func (m *Mapping[E]) DictField(name string, keyTypeID, valTypeID int, get func(E) []Pair, set func(*E, []Pair)) *Mapping[E] {
	m.schema.Fields = append(m.schema.Fields, FieldDef{
		Name:      name,
		Kind:      KindDict,
		TypeID:    valTypeID,
		KeyTypeID: keyTypeID,
		Get:       func(ePtr any) any { return get(*(ePtr.(*E))) },
		Set:       func(ePtr any, v any) { set(ePtr.(*E), v.([]Pair)) },
	})
	return m
}

// WithIndex declares a secondary index over a (possibly null) attribute.
// get should report whether the value is present; when it reports false
// the index stores a distinct, lowest-sorting null entry (§4.3 "Range
// semantics").
func (m *Mapping[E]) WithIndex(name string, typeID int, get func(E) (any, bool), cmp Comparator) *Mapping[E] {
	if cmp == nil {
		cmp = defaultComparator(typeID, false)
	}
	m.schema.Indexes = append(m.schema.Indexes, IndexDef{
		Name:       name,
		TypeID:     typeID,
		Nullable:   true,
		Comparator: cmp,
		Get: func(ePtr any) any {
			v, ok := get(*(ePtr.(*E)))
			if !ok {
				return nil
			}
			return v
		},
	})
	return m
}

// Variant registers one concrete shape of a polymorphic entity (Design
// Notes 9: sum type with a discriminator byte).
func (m *Mapping[E]) Variant(v VariantDef) *Mapping[E] {
	m.schema.Variants = append(m.schema.Variants, v)
	return m
}

// Build compiles the mapping into a type-erased TableSchema.
func (m *Mapping[E]) Build() (*TableSchema, error) {
	if m.keyGet == nil {
		return nil, fmt.Errorf("%w: mapping has no Key()", ErrUsageError)
	}
	s := m.schema
	keyGet, keySet := m.keyGet, m.keySet
	s.getKey = func(ePtr any) any { return keyGet(*(ePtr.(*E))) }
	s.setKey = func(ePtr any, k any) {
		if keySet != nil {
			keySet(ePtr.(*E), k)
		}
	}
	s.newPtr = func() any { return new(E) }

	if len(s.Variants) > 0 {
		s.encode = func(ePtr any, compressThreshold int) ([]byte, error) { return encodeVariant(&s, ePtr, compressThreshold) }
		s.decode = func(b []byte) (any, error) { return decodeVariant(&s, b) }
	} else {
		s.encode = func(ePtr any, compressThreshold int) ([]byte, error) { return encodeFields(s.Fields, ePtr, compressThreshold) }
		s.decode = func(b []byte) (any, error) {
			ePtr := s.newPtr()
			r := NewReader(b)
			if err := decodeFields(s.Fields, ePtr, r); err != nil {
				return nil, err
			}
			return ePtr, nil
		}
	}
	return &s, nil
}

func encodeVariant(s *TableSchema, ePtr any, compressThreshold int) ([]byte, error) {
	for _, v := range s.Variants {
		if v.Match(ePtr) {
			w := NewWriterT(compressThreshold)
			w.WriteUint8(v.Tag)
			if err := v.Encode(w, ePtr); err != nil {
				return nil, err
			}
			return w.Bytes(), nil
		}
	}
	return nil, fmt.Errorf("%w: no variant matched entity", ErrUsageError)
}

func decodeVariant(s *TableSchema, b []byte) (any, error) {
	r := NewReader(b)
	tag, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	for _, v := range s.Variants {
		if v.Tag == tag {
			return v.Decode(r)
		}
	}
	return nil, fmt.Errorf("%w: unknown variant tag %d", ErrCorruption, tag)
}

func encodeFields(fields []FieldDef, ePtr any, compressThreshold int) ([]byte, error) {
	w := NewWriterT(compressThreshold)
	for _, f := range fields {
		v := f.Get(ePtr)
		switch f.Kind {
		case KindScalar:
			if err := w.WriteValue(f.TypeID, v); err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
		case KindList, KindSet:
			items, _ := v.([]any)
			w.WriteLen(len(items))
			for _, it := range items {
				if err := w.WriteValue(f.TypeID, it); err != nil {
					return nil, fmt.Errorf("field %s: %w", f.Name, err)
				}
			}
		case KindDict:
			items, _ := v.([]Pair)
			w.WriteLen(len(items))
			for _, it := range items {
				if err := w.WriteValue(f.KeyTypeID, it.K); err != nil {
					return nil, fmt.Errorf("field %s key: %w", f.Name, err)
				}
				if err := w.WriteValue(f.TypeID, it.V); err != nil {
					return nil, fmt.Errorf("field %s value: %w", f.Name, err)
				}
			}
		}
	}
	return w.Bytes(), nil
}

func decodeFields(fields []FieldDef, ePtr any, r *Reader) error {
	for _, f := range fields {
		switch f.Kind {
		case KindScalar:
			v, err := r.ReadValue(f.TypeID)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
			f.Set(ePtr, v)
		case KindList, KindSet:
			n, err := r.ReadLen()
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
			items := make([]any, n)
			for i := 0; i < n; i++ {
				v, err := r.ReadValue(f.TypeID)
				if err != nil {
					return fmt.Errorf("field %s[%d]: %w", f.Name, i, err)
				}
				items[i] = v
			}
			f.Set(ePtr, items)
		case KindDict:
			n, err := r.ReadLen()
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
			items := make([]Pair, n)
			for i := 0; i < n; i++ {
				k, err := r.ReadValue(f.KeyTypeID)
				if err != nil {
					return fmt.Errorf("field %s[%d] key: %w", f.Name, i, err)
				}
				v, err := r.ReadValue(f.TypeID)
				if err != nil {
					return fmt.Errorf("field %s[%d] value: %w", f.Name, i, err)
				}
				items[i] = Pair{K: k, V: v}
			}
			f.Set(ePtr, items)
		}
	}
	return nil
}

// CaseInsensitiveStringComparator returns a Comparator for string-typed
// secondary indexes that folds case before comparing, so "Test5" and
// "TEst5" collate and query identically. Pass it as WithIndex's cmp
// argument to build a case-insensitive index alongside a default
// case-sensitive one over the same attribute (§8 scenario 3).
func CaseInsensitiveStringComparator() Comparator {
	return defaultComparator(TypeString, true)
}

// defaultComparator returns the natural ordering for a built-in type id.
// ciStrings selects a case-insensitive string comparator; otherwise
// strings use cultureStringCompare, the current-culture analogue.
func defaultComparator(typeID int, ciStrings bool) Comparator {
	nullsFirst := func(a, b any, cmpNonNil func(a, b any) int) int {
		if a == nil && b == nil {
			return 0
		}
		if a == nil {
			return -1
		}
		if b == nil {
			return 1
		}
		return cmpNonNil(a, b)
	}

	switch typeID {
	case TypeString, TypeURI, TypeURIBuilder, TypeStringBuilder:
		return func(a, b any) int {
			return nullsFirst(a, b, func(a, b any) int {
				as, bs := a.(string), b.(string)
				if ciStrings {
					return strings.Compare(strings.ToLower(as), strings.ToLower(bs))
				}
				return cultureStringCompare(as, bs)
			})
		}
	case TypeInt8:
		return numCompare[int8]()
	case TypeInt16:
		return numCompare[int16]()
	case TypeUint16:
		return numCompare[uint16]()
	case TypeInt32:
		return numCompare[int32]()
	case TypeUint32:
		return numCompare[uint32]()
	case TypeInt64:
		return numCompare[int64]()
	case TypeUint64:
		return numCompare[uint64]()
	case TypeFloat32:
		return numCompare[float32]()
	case TypeFloat64:
		return numCompare[float64]()
	case TypeBool:
		return func(a, b any) int {
			return nullsFirst(a, b, func(a, b any) int {
				av, bv := 0, 0
				if a.(bool) {
					av = 1
				}
				if b.(bool) {
					bv = 1
				}
				return cmp.Compare(av, bv)
			})
		}
	case TypeDateTime, TypeDateTimeOffset, TypeTimespan:
		return func(a, b any) int {
			return nullsFirst(a, b, func(a, b any) int {
				if d, ok := a.(time.Duration); ok {
					return cmp.Compare(d, b.(time.Duration))
				}
				at, bt := a.(time.Time), b.(time.Time)
				switch {
				case at.Before(bt):
					return -1
				case at.After(bt):
					return 1
				default:
					return 0
				}
			})
		}
	case TypeUUID:
		return func(a, b any) int {
			return nullsFirst(a, b, func(a, b any) int {
				au, bu := a.(UUID), b.(UUID)
				for i := range au {
					if au[i] != bu[i] {
						return cmp.Compare(au[i], bu[i])
					}
				}
				return 0
			})
		}
	default:
		// Byte and composite types have no natural range ordering;
		// callers that need one must supply an explicit Comparator.
		return func(a, b any) int { return 0 }
	}
}

// cultureStringCompare is the default (non-index-builder-overridden)
// string ordering: case differences only decide order when nothing else
// does. Two strings that differ solely in case collate by their
// case-folded content first, so "Test5" and "Test6" never interleave
// with unrelated values the way a byte-ordinal compare would split them
// by ASCII case; a same-content case difference (e.g. "Test5" vs.
// "TeST5") is then broken by preferring the lowercase letter at the
// first differing rune, matching the "same word, more lowercase sorts
// first" convention of a culture-aware string comparer (§8 scenario 3).
// WithIndex's case-insensitive counterpart (CaseInsensitiveStringComparator)
// drops this tiebreak entirely and treats such pairs as equal.
func cultureStringCompare(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	ar, br := []rune(a), []rune(b)
	for i := 0; i < len(ar) && i < len(br); i++ {
		if ar[i] == br[i] {
			continue
		}
		aLower, bLower := unicode.IsLower(ar[i]), unicode.IsLower(br[i])
		if aLower != bLower {
			if aLower {
				return -1
			}
			return 1
		}
		return cmp.Compare(ar[i], br[i])
	}
	return cmp.Compare(len(ar), len(br))
}

func numCompare[T cmp.Ordered]() Comparator {
	return func(a, b any) int {
		if a == nil && b == nil {
			return 0
		}
		if a == nil {
			return -1
		}
		if b == nil {
			return 1
		}
		return cmp.Compare(a.(T), b.(T))
	}
}
