package mil

import (
	"sync"
	"sync/atomic"

	"github.com/clrcore/jitmeta/metadata"
)

// CompileState tracks one method's lazy-compilation lifecycle. The
// lazy compilation dispatcher (lcd) drives the NotCompiled->Compiling->
// Compiled transition; this registry only stores the state and
// resulting entry point so every caller — vtable slot, interface
// dispatch, and direct call site alike — observes the same compiled
// body.
type CompileState uint8

const (
	NotCompiled CompileState = iota
	Compiling
	Compiled
)

// CompiledEntry is one method's compilation record. A generic method's
// instantiations all share one CompiledEntry, keyed by the generic
// definition's token — the code-sharing model method.go's
// resolveMethodSpec documents.
type CompiledEntry struct {
	mu    sync.Mutex
	state CompileState
	addr  uintptr
	done  chan struct{}
}

// State returns the entry's current compile state and, if Compiled, its
// entry point.
func (e *CompiledEntry) State() (CompileState, uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.addr
}

// beginCompiling transitions NotCompiled->Compiling for exactly one
// caller; every other concurrent caller is told to wait on Done()
// instead of starting a redundant compile.
func (e *CompiledEntry) beginCompiling() (shouldCompile bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != NotCompiled {
		return false
	}
	e.state = Compiling
	return true
}

// publish records addr as the compiled entry point and wakes every
// caller blocked in Done().
func (e *CompiledEntry) publish(addr uintptr) {
	e.mu.Lock()
	e.addr = addr
	e.state = Compiled
	e.mu.Unlock()
	close(e.done)
}

// Done returns a channel closed once compilation finishes.
func (e *CompiledEntry) Done() <-chan struct{} { return e.done }

const compiledBlockSize = 256

type compiledBlock struct {
	entries [compiledBlockSize]*CompiledEntry
	next    atomic.Pointer[compiledBlock]
}

// compiledRegistry is the append-only, block-chained store of
// CompiledEntry records, indexed by the defining method's token for
// lookup and walkable in registration order for diagnostics (e.g.
// "list every method compiled so far").
type compiledRegistry struct {
	head atomic.Pointer[compiledBlock]
	tail atomic.Pointer[compiledBlock]
	n    atomic.Uint32

	writeLock atomic.Bool
	byToken   sync.Map // metadata.Token -> *CompiledEntry
}

func newCompiledRegistry() *compiledRegistry {
	r := &compiledRegistry{}
	b := &compiledBlock{}
	r.head.Store(b)
	r.tail.Store(b)
	return r
}

func (r *compiledRegistry) lock() {
	for !r.writeLock.CompareAndSwap(false, true) {
	}
}
func (r *compiledRegistry) unlock() { r.writeLock.Store(false) }

// entryFor returns the CompiledEntry for key (a generic definition's or
// non-generic method's own token), creating and registering it on first
// reference.
func (r *compiledRegistry) entryFor(key metadata.Token) *CompiledEntry {
	if v, ok := r.byToken.Load(key); ok {
		return v.(*CompiledEntry)
	}

	r.lock()
	defer r.unlock()
	if v, ok := r.byToken.Load(key); ok {
		return v.(*CompiledEntry)
	}

	e := &CompiledEntry{done: make(chan struct{})}
	idx := r.n.Load()
	slot := idx % compiledBlockSize
	tail := r.tail.Load()
	if idx > 0 && slot == 0 {
		nb := &compiledBlock{}
		tail.next.Store(nb)
		r.tail.Store(nb)
		tail = nb
	}
	tail.entries[slot] = e
	r.n.Add(1)
	r.byToken.Store(key, e)
	return e
}

// compileKey returns the token a MethodInfo's compiled entry is keyed
// under: its own token, or its generic definition's for a MethodSpec
// instantiation.
func compileKey(mi *MethodInfo) metadata.Token {
	if mi.GenericDef != nil {
		return mi.GenericDef.Token
	}
	return mi.Token
}

// CompiledEntryFor returns (creating if needed) mi's CompiledEntry.
func (r *Resolver) CompiledEntryFor(mi *MethodInfo) *CompiledEntry {
	return r.compiled.entryFor(compileKey(mi))
}
