// Package typereg is the type handle registry: it owns MT (MethodTable)
// construction, vtable slot assignment, generic-instantiation interning,
// and the well-known primitive/object MTs every resolution in the
// mil package ultimately bottoms out at.
package typereg

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/clrcore/jitmeta/metadata"
)

// MT is a type handle: the runtime's notion of a fully described type,
// independent of whatever assembly defined it. A generic instantiation
// gets its own MT distinct from its generic definition's MT, though they
// may share compiled code (the mil package's concern, not this one's).
type MT struct {
	Token     metadata.Token
	Name      string
	Namespace string

	BaseType *MT
	Flags    uint32

	IsValueType bool
	IsInterface bool
	IsArray     bool
	IsSealed    bool

	InstanceSize uint32 // 0 until the layout resolver (mil) fills it in

	// Generics.
	IsGenericDef bool
	GenericDef   *MT   // nil unless this MT is an instantiation
	GenericArgs  []*MT // the instantiation's type arguments, else nil

	// Arrays/pointers/byrefs: the MT this one is built from.
	ElementType *MT

	// DefiningAssembly is the metadata.Assembly this MT's TypeDef was
	// read from. A TypeDef's row id is only unique within the assembly
	// that defines it, so any later re-resolution of one of this type's
	// members (the lazy compilation dispatcher's interface/name-based
	// method lookups) needs it back.
	DefiningAssembly *metadata.Assembly

	Interfaces []*MT
	VTable     []VTableSlot

	// DispatchMap maps a contiguous run of slot numbers to the interface
	// whose own vtable they dispatch. An entry's slots live in VTable
	// when Sealed is false, or in SealedVirtuals (at SealedBase, not
	// StartSlot — VTable may still grow after this entry is recorded)
	// when Sealed is true: a sealed type's interface methods need no
	// standing vtable slot because the type can never be further
	// overridden, so native-AOT-style runtimes compact them into a
	// separate array instead of the main vtable.
	DispatchMap []DispatchMapEntry

	// SealedVirtuals holds compiled targets for a sealed type's sealed
	// virtual slots: present via DispatchMap but never materialized in
	// VTable itself.
	SealedVirtuals []VTableSlot

	// mu guards VTable/SealedVirtuals slot writes after publication;
	// construction itself happens single-threaded under the registry's
	// write lock.
	mu sync.Mutex
}

// DispatchMapEntry names the interface implemented by a contiguous run
// of an owning type's dispatch slots, starting at StartSlot (a number in
// the type's logical VTable-then-SealedVirtuals numbering space) and
// spanning len(InterfaceMT.VTable) slots.
type DispatchMapEntry struct {
	InterfaceMT *MT
	StartSlot   int
	Sealed      bool
	SealedBase  int // valid when Sealed: the physical offset into SealedVirtuals
}

// VTableSlot is one virtual dispatch slot. Target is filled in by the
// lazy compilation dispatcher (lcd) the first time the slot's method is
// actually invoked; zero means "not yet compiled."
type VTableSlot struct {
	MethodToken metadata.Token
	MethodName  string // used to match overrides by name against a base slot
	Sealed      bool   // a sealed virtual: never overridden further, safe to devirtualize
	Target      uintptr
}

// Slot returns a copy of vtable slot i's current state. Safe to call
// concurrently with SetTarget.
func (mt *MT) Slot(i int) VTableSlot {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.VTable[i]
}

// SetTarget publishes a compiled entry point into vtable slot i. Called
// at most once per slot under normal operation; a second call (e.g. a
// racing recompile) silently overwrites: lazy dispatch only requires
// every caller observe *some* valid compiled entry point, not which one
// wins the race.
func (mt *MT) SetTarget(i int, target uintptr) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.VTable[i].Target = target
}

// SealedSlot returns a copy of sealed-virtual slot i's current state, or
// false if i is out of range.
func (mt *MT) SealedSlot(i int) (VTableSlot, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if i < 0 || i >= len(mt.SealedVirtuals) {
		return VTableSlot{}, false
	}
	return mt.SealedVirtuals[i], true
}

// SetSealedTarget publishes a compiled entry point into sealed-virtual
// slot i.
func (mt *MT) SetSealedTarget(i int, target uintptr) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.SealedVirtuals[i].Target = target
}

// DispatchEntryFor returns the DispatchMap entry covering the logical
// slot number slot, plus slot's index within that interface's own
// vtable (0-based), or false if no entry covers it.
func (mt *MT) DispatchEntryFor(slot int) (DispatchMapEntry, int, bool) {
	for _, e := range mt.DispatchMap {
		n := len(e.InterfaceMT.VTable)
		if slot >= e.StartSlot && slot < e.StartSlot+n {
			return e, slot - e.StartSlot, true
		}
	}
	return DispatchMapEntry{}, 0, false
}

// NumVTableSlots reports the physically materialized vtable length: the
// out-of-bounds cutoff the lazy compilation dispatcher checks a callvirt
// slot against.
func (mt *MT) NumVTableSlots() int { return len(mt.VTable) }

const blockSize = 256

// block is one fixed-size, append-only segment of the registry's type
// list. Once a block is full it is never mutated again, so readers can
// walk it without synchronization; only the tail block sees writes, and
// those are serialized by Registry's write lock.
type block struct {
	entries [blockSize]*MT
	next    atomic.Pointer[block]
}

// Registry is the append-only, lock-free-read type handle store. Writers
// (type construction) serialize through a spinlock; readers walk the
// block chain or hit the token index without ever blocking on it.
type Registry struct {
	head atomic.Pointer[block]
	tail atomic.Pointer[block]
	n    atomic.Uint32 // total MTs registered

	byToken sync.Map // metadata.Token -> *MT, safe for concurrent lookup/insert
	wellKnown [len(metadata.PrimitiveTokens) + 16]atomic.Pointer[MT]

	writeLock atomic.Bool // true while a writer holds the append path
}

// NewRegistry returns an empty registry with its first block allocated.
func NewRegistry() *Registry {
	r := &Registry{}
	b := &block{}
	r.head.Store(b)
	r.tail.Store(b)
	return r
}

// lock spins until it acquires the single-writer append lock. Append
// throughput is bounded by how fast types get constructed (never a hot
// loop), so a CAS spin is simpler and cheaper here than a mutex's syscall
// path on the contended case.
func (r *Registry) lock() {
	for !r.writeLock.CompareAndSwap(false, true) {
	}
}

func (r *Registry) unlock() {
	r.writeLock.Store(false)
}

// Register appends mt to the registry and indexes it by token. Returns
// mt's stable ordinal position.
func (r *Registry) Register(mt *MT) uint32 {
	r.lock()
	defer r.unlock()

	idx := r.n.Load()
	slot := idx % blockSize
	tail := r.tail.Load()
	if idx > 0 && slot == 0 {
		nb := &block{}
		tail.next.Store(nb)
		r.tail.Store(nb)
		tail = nb
	}
	tail.entries[slot] = mt
	r.n.Add(1)

	if !mt.Token.IsNil() {
		r.byToken.Store(mt.Token, mt)
	}
	return idx
}

// Lookup returns the MT registered under token, or nil if none is.
// Lock-free: a plain sync.Map read, never touching the write lock.
func (r *Registry) Lookup(token metadata.Token) *MT {
	v, ok := r.byToken.Load(token)
	if !ok {
		return nil
	}
	return v.(*MT)
}

// At returns the MT at stable ordinal position idx, or nil if idx is
// out of range. Lock-free: walks the immutable prefix of the block
// chain built by Register.
func (r *Registry) At(idx uint32) *MT {
	if idx >= r.n.Load() {
		return nil
	}
	b := r.head.Load()
	for i := idx / blockSize; i > 0; i-- {
		b = b.next.Load()
		if b == nil {
			return nil
		}
	}
	return b.entries[idx%blockSize]
}

// Len returns the number of MTs registered so far.
func (r *Registry) Len() uint32 { return r.n.Load() }

// wellKnownIndex maps a well-known token to its slot in the fixed-size
// well-known array: primitives occupy the PrimitiveTokens order, and the
// handful of reference well-knowns (Object, String, ...) occupy the
// slots immediately after.
func wellKnownIndex(t metadata.Token) (int, bool) {
	for i, p := range metadata.PrimitiveTokens {
		if p == t {
			return i, true
		}
	}
	refWellKnowns := [...]metadata.Token{
		metadata.WellKnownObject, metadata.WellKnownString,
		metadata.WellKnownValueType, metadata.WellKnownEnum,
		metadata.WellKnownArray, metadata.WellKnownDelegate,
		metadata.WellKnownMulticastDelegate, metadata.WellKnownException,
		metadata.WellKnownType, metadata.WellKnownRuntimeType,
		metadata.WellKnownIDisposable, metadata.WellKnownIntPtr,
	}
	for i, p := range refWellKnowns {
		if p == t {
			return len(metadata.PrimitiveTokens) + i, true
		}
	}
	return 0, false
}

// CaptureWellKnown binds mt as the MT for its well-known token, in
// addition to the normal Register path. Each well-known slot may be
// bound at most once; a second attempt is a programming error in the
// startup sequence that registers them, so it panics rather than
// silently accepting whichever MT arrived first.
func (r *Registry) CaptureWellKnown(mt *MT) {
	idx, ok := wellKnownIndex(mt.Token)
	if !ok {
		return
	}
	if !r.wellKnown[idx].CompareAndSwap(nil, mt) {
		panic("typereg: well-known token " + mt.Name + " captured twice")
	}
}

// WellKnown returns the MT bound to a well-known token, or nil if it has
// not been captured yet.
func (r *Registry) WellKnown(t metadata.Token) *MT {
	idx, ok := wellKnownIndex(t)
	if !ok {
		return nil
	}
	return r.wellKnown[idx].Load()
}

// genericKey identifies one generic instantiation by its definition and
// argument MTs, for interning.
type genericKey struct {
	def  *MT
	args string // Token-sequence of args, cheap and collision-free within one registry
}

// InstantiationCache interns generic instantiation MTs so that the same
// closed generic type always resolves to the same MT, matching the
// shared-code model generic method compilation relies on.
type InstantiationCache struct {
	mu sync.Mutex
	m  map[genericKey]*MT
}

// Intern returns the existing instantiation MT for (def, args) if one was
// already registered, or registers and returns build() otherwise. build
// is called at most once per distinct (def, args) pair.
func (r *Registry) Intern(insts *InstantiationCache, def *MT, args []*MT, build func() *MT) *MT {
	key := genericKey{def: def, args: argsKey(args)}
	insts.mu.Lock()
	defer insts.mu.Unlock()
	if insts.m == nil {
		insts.m = make(map[genericKey]*MT)
	}
	if mt, ok := insts.m[key]; ok {
		return mt
	}
	mt := build()
	insts.m[key] = mt
	r.Register(mt)
	return mt
}

// NewInstantiationCache returns an empty instantiation interning table.
func NewInstantiationCache() *InstantiationCache { return &InstantiationCache{} }

func argsKey(args []*MT) string {
	b := make([]byte, 0, len(args)*4)
	for _, a := range args {
		tok := uint32(a.Token)
		b = append(b, byte(tok), byte(tok>>8), byte(tok>>16), byte(tok>>24))
	}
	return string(b)
}

// Describe renders mt as a one-line human-readable summary: name,
// generic arguments, vtable/interface slot counts. Consumed by
// cmd/coreinspect's type dump and lcd's diagnostics, in the same spirit as the
// teacher's MetadataTableIndexToString/PrettyUnwindInfoHandlerFlags
// debug-formatters.
func Describe(mt *MT) string {
	if mt == nil {
		return "<nil MT>"
	}
	name := mt.Name
	if mt.Namespace != "" {
		name = mt.Namespace + "." + name
	}
	if len(mt.GenericArgs) > 0 {
		name += "<"
		for i, a := range mt.GenericArgs {
			if i > 0 {
				name += ", "
			}
			name += Describe(a)
		}
		name += ">"
	}
	kind := "class"
	switch {
	case mt.IsInterface:
		kind = "interface"
	case mt.IsValueType:
		kind = "struct"
	case mt.IsArray:
		kind = "array"
	}
	return fmt.Sprintf("%s %s (size=%d vtable=%d sealedVirtuals=%d interfaces=%d)",
		kind, name, mt.InstanceSize, len(mt.VTable), len(mt.SealedVirtuals), len(mt.Interfaces))
}
