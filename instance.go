// Schema & instance manager (§4.6): owns the schema directory, the set
// of declared tables, and the Unopened/Open/Purged lifecycle. This is
// the entry point analogous to the teacher's top-level Open in db.go,
// generalized from one file to a directory of tables.
package codex

import (
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
)

type instanceState int

const (
	instanceOpen instanceState = iota
	instancePurged
)

// tableHandle lets the instance manage heterogeneous *Table[E] values
// without itself being generic.
type tableHandle interface {
	disposeHandle()
	rebind(fs *fileSystem)
	compactHandle() error
}

// Instance is an open schema directory (§4.6). Tables are registered by
// calling Register before Initialize, then retrieved with TableOf.
type Instance struct {
	dir    string
	config Config

	mu            sync.Mutex
	fs            *fileSystem
	state         instanceState
	initialized   bool
	registrations map[string]*TableSchema
	tables        map[string]tableHandle
}

// Open opens (creating if missing) the schema directory at dir.
func Open(dir string, config Config) (*Instance, error) {
	config = config.withDefaults()
	fs, err := openFileSystem(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	return &Instance{
		dir:           dir,
		config:        config,
		fs:            fs,
		state:         instanceOpen,
		registrations: map[string]*TableSchema{},
		tables:        map[string]tableHandle{},
	}, nil
}

// Register declares an entity type's table under name. Must be called
// before Initialize.
func Register(inst *Instance, name string, schema *TableSchema) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.initialized {
		return fmt.Errorf("%w: cannot register %q after Initialize", ErrUsageError, name)
	}
	if _, exists := inst.registrations[name]; exists {
		return fmt.Errorf("%w: table %q already registered", ErrUsageError, name)
	}
	inst.registrations[name] = schema
	return nil
}

// Initialize freezes the global type registry, checks every declared
// table for a crash-dirty compaction left over from the last run, and
// writes each table's human-readable schema descriptor sidecar (§
// supplemental "Crash-dirty detection"). Tables themselves still open
// lazily on first TableOf call.
func (inst *Instance) Initialize() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.initialized {
		return nil
	}
	freezeRegistry()
	for name, schema := range inst.registrations {
		if err := repairCrashDirty(inst.fs, name); err != nil {
			return err
		}
		if err := writeSchemaDescriptor(inst.fs, name, schema); err != nil {
			return err
		}
	}
	inst.initialized = true
	return nil
}

// repairCrashDirty detects an interrupted compaction (a leftover
// "<name>.data.bak") and restores the last known-good data file,
// discarding any partially-written "<name>.data.tmp".
func repairCrashDirty(fs *fileSystem, name string) error {
	dataName := name + ".data"
	bakName := dataName + bakSuffix
	tmpName := dataName + tmpSuffix
	if !fs.exists(bakName) {
		return nil
	}
	fs.remove(tmpName)
	if fs.exists(dataName) {
		return fs.remove(bakName)
	}
	return fs.rename(bakName, dataName)
}

type schemaDescriptor struct {
	Name        string              `json:"name"`
	KeyTypeID   int                 `json:"key_type_id"`
	AutoInc     bool                `json:"auto_increment"`
	Fingerprint uint32              `json:"fingerprint"`
	Fields      []fieldDescriptor   `json:"fields"`
	Indexes     []indexDescriptor   `json:"indexes"`
	Variants    []variantDescriptor `json:"variants,omitempty"`
}

type fieldDescriptor struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	TypeID int    `json:"type_id"`
}

type indexDescriptor struct {
	Name     string `json:"name"`
	TypeID   int    `json:"type_id"`
	Nullable bool   `json:"nullable"`
}

type variantDescriptor struct {
	Tag byte `json:"tag"`
}

func kindName(k FieldKind) string {
	switch k {
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindDict:
		return "dict"
	default:
		return "scalar"
	}
}

// writeSchemaDescriptor dumps a JSON-readable summary of schema next to
// the binary streams, purely for tooling/debugging — the index stream
// itself stays pure binary (§6).
func writeSchemaDescriptor(fs *fileSystem, name string, schema *TableSchema) error {
	desc := schemaDescriptor{
		Name:        name,
		KeyTypeID:   schema.KeyTypeID,
		AutoInc:     schema.AutoInc,
		Fingerprint: schema.Fingerprint(),
	}
	for _, f := range schema.Fields {
		desc.Fields = append(desc.Fields, fieldDescriptor{Name: f.Name, Kind: kindName(f.Kind), TypeID: f.TypeID})
	}
	for _, ix := range schema.Indexes {
		desc.Indexes = append(desc.Indexes, indexDescriptor{Name: ix.Name, TypeID: ix.TypeID, Nullable: ix.Nullable})
	}
	for _, v := range schema.Variants {
		desc.Variants = append(desc.Variants, variantDescriptor{Tag: v.Tag})
	}

	b, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return err
	}
	f, err := fs.open(name + ".schema.json")
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteAt(b, 0); err != nil {
		return err
	}
	return f.Truncate(int64(len(b)))
}

// TableOf returns the table registered under name, opening its handle
// lazily on first call. Instance must be initialized first.
func TableOf[E any](inst *Instance, name string) (*Table[E], error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if !inst.initialized {
		return nil, fmt.Errorf("%w: instance not initialized", ErrUsageError)
	}
	if existing, ok := inst.tables[name]; ok {
		t, ok := existing.(*Table[E])
		if !ok {
			return nil, fmt.Errorf("%w: table %q opened with a different entity type", ErrUsageError, name)
		}
		return t, nil
	}
	schema, ok := inst.registrations[name]
	if !ok {
		return nil, fmt.Errorf("%w: no table registered as %q", ErrUsageError, name)
	}
	t := openTable[E](inst.fs, name, schema, inst.config)
	inst.tables[name] = t
	return t, nil
}

// Purge deletes and recreates the schema directory (§4.6 "purge"). Any
// live sessions on any table must already be released.
func (inst *Instance) Purge() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	for _, t := range inst.tables {
		t.disposeHandle()
	}
	if err := inst.fs.close(); err != nil {
		return err
	}
	if err := removeDir(inst.dir); err != nil {
		return err
	}
	fs, err := openFileSystem(inst.dir)
	if err != nil {
		return err
	}
	inst.fs = fs
	for _, t := range inst.tables {
		t.rebind(fs)
	}
	inst.state = instancePurged
	return nil
}

// CompactAll opens a compact session on each opened table in turn
// (§4.6 "compact_all").
func (inst *Instance) CompactAll() error {
	inst.mu.Lock()
	handles := make([]tableHandle, 0, len(inst.tables))
	for _, t := range inst.tables {
		handles = append(handles, t)
	}
	inst.mu.Unlock()

	for _, t := range handles {
		if err := t.compactHandle(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the instance's directory handle. Tables must have no
// live sessions.
func (inst *Instance) Close() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	for _, t := range inst.tables {
		t.disposeHandle()
	}
	return inst.fs.close()
}
