package mil

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/clrcore/jitmeta/jmp"
	"github.com/clrcore/jitmeta/metadata"
)

// BodyLoader fetches a method's raw IL body bytes at asm/rva. Locating
// and mapping the owning PE image is a loader concern outside this
// core's scope; this is the one seam Compile needs from it.
type BodyLoader interface {
	MethodBody(asm *metadata.Assembly, rva uint32) ([]byte, error)
}

// ErrNoBodyLoader and ErrNoRegistrar report a Resolver missing one of
// Compile's required collaborators.
var (
	ErrNoBodyLoader = errors.New("mil: no IL body loader configured")
	ErrNoRegistrar  = errors.New("mil: no jmp.Registrar configured")
)

// Compile drives mi's full lazy-compilation lifecycle: claim the single
// "compile" ticket via its CompiledEntry, fetch its IL body, hand it to
// the configured Emitter, publish the result's unwind/EH data through
// jmp.Registrar, and record the resulting address. Concurrent callers
// for the same mi all block on CompiledEntry.Done() and observe the
// same address; only the caller that wins beginCompiling ever touches
// the emitter.
//
// Compile is also the entry point for a method that never reaches any
// vtable slot at all — a static method, or a direct (non-virtual) call
// site's MethodDef/MethodSpec target.
func (r *Resolver) Compile(mi *MethodInfo) (uintptr, error) {
	entry := r.CompiledEntryFor(mi)

	if state, addr := entry.State(); state == Compiled && addr != 0 {
		return addr, nil
	}

	if !entry.beginCompiling() {
		<-entry.Done()
		state, addr := entry.State()
		if state != Compiled || addr == 0 {
			return 0, fmt.Errorf("mil: compile of %s did not complete", mi.Name)
		}
		return addr, nil
	}

	addr, err := r.compileNow(mi)
	if err != nil {
		// A failed compile permanently wedges this entry: nothing in
		// this core's contract allows retrying a failed JIT (the lazy
		// compilation dispatcher treats this as fatal, see lcd.Halt),
		// so publish a zero address to unblock any waiter rather than
		// leaving them parked on Done() forever. Every later Compile of
		// this entry sees the zero address and reports the failure.
		entry.publish(0)
		return 0, err
	}
	entry.publish(addr)
	return addr, nil
}

func (r *Resolver) compileNow(mi *MethodInfo) (uintptr, error) {
	if r.Emitter == nil {
		return 0, ErrNoEmitter
	}
	if r.Registrar == nil {
		return 0, ErrNoRegistrar
	}
	if !mi.HasBody {
		return 0, fmt.Errorf("mil: %s has no IL body (RVA 0), cannot compile", mi.Name)
	}
	if r.Bodies == nil {
		return 0, ErrNoBodyLoader
	}

	ilBody, err := r.Bodies.MethodBody(mi.Assembly, mi.RVA)
	if err != nil {
		return 0, fmt.Errorf("mil: loading IL body for %s: %w", mi.Name, err)
	}

	result, err := r.Emitter.Emit(mi, ilBody)
	if err != nil {
		return 0, fmt.Errorf("mil: emitting %s: %w", mi.Name, err)
	}
	if len(result.Code) == 0 {
		return 0, fmt.Errorf("mil: emitter returned no code for %s", mi.Name)
	}

	addr := codeAddress(result.Code)

	if _, err := r.Registrar.Publish(mi.Token, addr, uint32(len(result.Code)), result.Unwind, result.EHClauses); err != nil && !errors.Is(err, jmp.ErrAlreadyPublished) {
		return 0, fmt.Errorf("mil: publishing %s: %w", mi.Name, err)
	}

	return addr, nil
}

// codeAddress derives the address a VTable/SealedVirtuals slot should
// point at from the emitter's returned code bytes. A real JIT backend
// places Code in an executable heap and this would be that heap
// allocation's address; this core does not itself manage executable
// memory (that's the emitter's concern), so it takes the slice's own
// backing array address — stable and comparable, which is all any
// caller here ever needs from it.
func codeAddress(code []byte) uintptr {
	return uintptr(unsafe.Pointer(&code[0]))
}
