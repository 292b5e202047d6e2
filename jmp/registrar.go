package jmp

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/clrcore/jitmeta/metadata"
)

// ErrRegistrarFull reports that a Registrar has exhausted its fixed
// capacity. Unlike the metadata and compile registries, which grow
// block by block, a method-publication registrar backs a bounded
// kernel-resident code region, so capacity is fixed at construction
// rather than chained indefinitely.
var ErrRegistrarFull = errors.New("jmp: registrar at capacity")

// ErrAlreadyPublished reports a second publish attempt for a token
// that already has an entry.
var ErrAlreadyPublished = errors.New("jmp: method already published")

// JITMethodInfo is one published method: its compiled code, base
// address, and the unwind/EH metadata the platform unwinder and
// exception dispatcher need to walk or handle a fault inside it.
type JITMethodInfo struct {
	Token        metadata.Token
	CodeAddress  uintptr
	CodeLength   uint32
	UnwindInfo   UnwindInfo
	EHClauses    []EHClause
	unwindBytes  []byte
	ehBytes      []byte
}

// RuntimeFunctionEntry mirrors the platform's IMAGE_RUNTIME_FUNCTION_ENTRY:
// the (begin, end, unwind info) triple a function table entry records,
// expressed in process-relative addresses rather than RVAs since this
// core publishes directly into a live address space, not a PE image.
type RuntimeFunctionEntry struct {
	BeginAddress      uintptr
	EndAddress        uintptr
	UnwindInfoAddress uintptr
}

// Registrar tracks every JIT-published method in a fixed-capacity,
// append-only table indexed by method token. Reads (Lookup) never
// block; writes (Publish) serialize through a CAS spinlock, the same
// discipline typereg.Registry and mil's compiledRegistry use.
type Registrar struct {
	capacity  int
	n         atomic.Int64
	writeLock atomic.Bool

	byToken sync.Map // metadata.Token -> *JITMethodInfo
	entries []*JITMethodInfo
	mu      sync.Mutex // guards entries' slice append only
}

// NewRegistrar returns a Registrar that can hold at most capacity
// published methods.
func NewRegistrar(capacity int) *Registrar {
	return &Registrar{capacity: capacity, entries: make([]*JITMethodInfo, 0, capacity)}
}

func (r *Registrar) lock()   { for !r.writeLock.CompareAndSwap(false, true) { } }
func (r *Registrar) unlock() { r.writeLock.Store(false) }

// Publish records a compiled method's code address, length, and
// unwind/EH data, pre-encoding the unwind info and EH block so Lookup
// callers never pay an encode cost. It fails if tok is already
// published or the registrar is full.
func (r *Registrar) Publish(tok metadata.Token, codeAddr uintptr, codeLen uint32, ui UnwindInfo, ehClauses []EHClause) (*JITMethodInfo, error) {
	if _, ok := r.byToken.Load(tok); ok {
		return nil, ErrAlreadyPublished
	}

	unwindBytes, err := ui.Encode()
	if err != nil {
		return nil, err
	}
	ehBytes := EncodeEHInfo(ehClauses)

	r.lock()
	defer r.unlock()

	if _, ok := r.byToken.Load(tok); ok {
		return nil, ErrAlreadyPublished
	}
	if int(r.n.Load()) >= r.capacity {
		return nil, ErrRegistrarFull
	}

	mi := &JITMethodInfo{
		Token:       tok,
		CodeAddress: codeAddr,
		CodeLength:  codeLen,
		UnwindInfo:  ui,
		EHClauses:   ehClauses,
		unwindBytes: unwindBytes,
		ehBytes:     ehBytes,
	}

	r.mu.Lock()
	r.entries = append(r.entries, mi)
	r.mu.Unlock()

	r.byToken.Store(tok, mi)
	r.n.Add(1)
	return mi, nil
}

// Lookup returns the published entry for tok, if any.
func (r *Registrar) Lookup(tok metadata.Token) (*JITMethodInfo, bool) {
	v, ok := r.byToken.Load(tok)
	if !ok {
		return nil, false
	}
	return v.(*JITMethodInfo), true
}

// Len reports how many methods have been published so far.
func (r *Registrar) Len() int { return int(r.n.Load()) }

// Cap reports the registrar's fixed capacity.
func (r *Registrar) Cap() int { return r.capacity }

// RuntimeFunctionTable builds the sorted (by construction, since
// methods publish in increasing-address order in the common case)
// RuntimeFunctionEntry table the platform unwinder walks to find the
// unwind info for a given faulting address. UnwindInfoAddress is left
// for the caller to fill in once the unwind bytes are copied into the
// code heap's metadata region, since this core does not itself manage
// that memory.
func (r *Registrar) RuntimeFunctionTable() []RuntimeFunctionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RuntimeFunctionEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = RuntimeFunctionEntry{
			BeginAddress: e.CodeAddress,
			EndAddress:   e.CodeAddress + uintptr(e.CodeLength),
		}
	}
	return out
}

// UnwindBytes returns mi's pre-encoded UNWIND_INFO block.
func (mi *JITMethodInfo) UnwindBytes() []byte { return mi.unwindBytes }

// EHBytes returns mi's pre-encoded exception-handling block.
func (mi *JITMethodInfo) EHBytes() []byte { return mi.ehBytes }
