package xid

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"

	"github.com/cespare/xxhash/v2"
	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/cmn/debug"
	"github.com/NVIDIA/interpchannels/interp"
)

type entry struct {
	packer Packer
	weak   bool
	// alive is consulted only when weak is true: a predicate supplied by
	// the embedding that registered this type, reporting whether the type
	// is still usable. A dangling
	// weak entry (alive returns false) is skipped and pruned on the next
	// lookup that encounters it (spec.md §4.1).
	alive func() bool
}

type table struct {
	mu     sync.Mutex
	byType map[reflect.Type]*entry
}

func newTable() *table { return &table{byType: make(map[reflect.Type]*entry, 8)} }

func (t *table) get(typ reflect.Type) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byType[typ]
	if !ok {
		return nil, false
	}
	if e.weak && e.alive != nil && !e.alive() {
		delete(t.byType, typ)
		return nil, false
	}
	return e, true
}

func (t *table) set(typ reflect.Type, e *entry) {
	t.mu.Lock()
	t.byType[typ] = e
	t.mu.Unlock()
}

func (t *table) del(typ reflect.Type) {
	t.mu.Lock()
	delete(t.byType, typ)
	t.mu.Unlock()
}

// Registry is the two-tier type registry of spec.md §4.1: a global table
// for process-lifetime built-in types and a per-interpreter local table
// for dynamically registered ones. Lookup walks local first, then
// global. A seiflotfy/cuckoofilter negative-lookup cache, keyed by an
// xxhash of the type's identity, lets a definite miss skip taking any
// table mutex at all - grounded on the probabilistic-filter idiom the
// teacher's cmn/prob package documents (cmn/prob/filter_suite_test.go,
// go.mod's cuckoofilter require).
type Registry struct {
	global *table

	localsMu sync.Mutex
	locals   map[interp.Id]*table

	negMu sync.Mutex
	neg   *cuckoo.Filter
}

func NewRegistry() *Registry {
	return &Registry{
		global: newTable(),
		locals: make(map[interp.Id]*table, 8),
		neg:    cuckoo.NewFilter(1 << 14),
	}
}

// Default is the process-wide registry built-in packers register into
// at init time (see builtin.go) and that channel/queue use unless a
// caller supplies its own (e.g. in tests).
var Default = NewRegistry()

// typeKey hashes a type's identity string with xxhash rather than handing
// the cuckoofilter the raw string: a fixed 8-byte key keeps every
// filter bucket comparison cheap regardless of how long a registered
// type's package path is.
func typeKey(typ reflect.Type) []byte {
	h := xxhash.Sum64String(typ.PkgPath() + "." + typ.String())
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], h)
	return b[:]
}

func (r *Registry) markSeen(typ reflect.Type) {
	r.negMu.Lock()
	r.neg.InsertUnique(typeKey(typ))
	r.negMu.Unlock()
}

func (r *Registry) maybeSeen(typ reflect.Type) bool {
	r.negMu.Lock()
	seen := r.neg.Lookup(typeKey(typ))
	r.negMu.Unlock()
	return seen
}

func (r *Registry) localTable(id interp.Id) (*table, bool) {
	r.localsMu.Lock()
	t, ok := r.locals[id]
	r.localsMu.Unlock()
	return t, ok
}

func (r *Registry) localTableForWrite(id interp.Id) *table {
	r.localsMu.Lock()
	defer r.localsMu.Unlock()
	t, ok := r.locals[id]
	if !ok {
		t = newTable()
		r.locals[id] = t
	}
	return t
}

// Register adds a global, process-lifetime packer for typ.
func (r *Registry) Register(typ reflect.Type, packer Packer) {
	r.global.set(typ, &entry{packer: packer})
	r.markSeen(typ)
}

// RegisterWeak adds a global packer whose registration may dangle: alive
// reports whether the type is still usable, and a lookup that finds it
// dead prunes the entry (spec.md §4.1).
func (r *Registry) RegisterWeak(typ reflect.Type, packer Packer, alive func() bool) {
	r.global.set(typ, &entry{packer: packer, weak: true, alive: alive})
	r.markSeen(typ)
}

// Unregister removes a global entry.
func (r *Registry) Unregister(typ reflect.Type) {
	r.global.del(typ)
}

// RegisterLocal adds a per-interpreter dynamic packer, consulted before
// the global table by Lookup for calls made from id.
func (r *Registry) RegisterLocal(id interp.Id, typ reflect.Type, packer Packer) {
	t := r.localTableForWrite(id)
	t.set(typ, &entry{packer: packer})
	r.markSeen(typ)
}

// UnregisterLocal removes a per-interpreter entry.
func (r *Registry) UnregisterLocal(id interp.Id, typ reflect.Type) {
	if t, ok := r.localTable(id); ok {
		t.del(typ)
	}
}

// DropInterpreter forgets id's entire local table, since a dynamically
// registered type's packer usually closes over origin-interpreter state.
// The teardown hook (C9) does not call it; an embedder that registers
// local packers calls it itself when id is destroyed.
func (r *Registry) DropInterpreter(id interp.Id) {
	r.localsMu.Lock()
	delete(r.locals, id)
	r.localsMu.Unlock()
}

// Lookup classifies value and returns its packer, or ok=false if none is
// registered (spec.md §4.1).
func (r *Registry) Lookup(id interp.Id, value any) (Packer, bool) {
	if value == nil {
		return nilPacker, true
	}
	typ := reflect.TypeOf(value)
	if !r.maybeSeen(typ) {
		return nil, false
	}
	if t, ok := r.localTable(id); ok {
		if e, ok := t.get(typ); ok {
			return e.packer, true
		}
	}
	if e, ok := r.global.get(typ); ok {
		return e.packer, true
	}
	return nil, false
}

// Check is a pure predicate: is value shareable, without packing it.
func (r *Registry) Check(id interp.Id, value any) bool {
	_, ok := r.Lookup(id, value)
	return ok
}

// Pack looks up value's packer, invokes it, and annotates the resulting
// Record's origin with id. Returns cos.ErrNotShareable if no packer is
// registered for value's type.
func (r *Registry) Pack(id interp.Id, value any) (*Record, error) {
	packer, ok := r.Lookup(id, value)
	if !ok {
		return nil, fmt.Errorf("%w: %T", cos.ErrNotShareable, value)
	}
	rec, err := packer(id, value)
	if err != nil {
		return nil, err
	}
	debug.Assert(rec != nil, "packer returned nil record with nil error")
	rec.Origin = id
	return rec, nil
}
