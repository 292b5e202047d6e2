// Package lcd is the lazy compilation dispatcher: the three published
// entry points emitted code calls through to turn a method token or
// vtable slot into a live native code address, compiling on first use
// and patching the result into place for every later call.
package lcd

import (
	"fmt"

	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/mil"
	"github.com/clrcore/jitmeta/typereg"
)

// Halt is called when a fast-path resolution or compilation fails.
// There is no user-space to unwind to from here (the caller is
// JIT-emitted code expecting a return address, not a Go stack it can
// recover through), so the default halts the process. Tests override
// it to capture the diagnostic instead of crashing.
var Halt = func(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

// Object is anything a callvirt site can be compiled against: the only
// thing EnsureVtableSlotCompiled needs from the receiver is its type
// handle.
type Object interface {
	TypeHandle() *typereg.MT
}

// AOTFallback supplies the hand-written native entry points backing
// System.Object's (and System.String's) base virtual methods. These
// are never compiled from IL — they ship as part of the runtime's own
// AOT image — so the out-of-bounds cascade asks this collaborator
// instead of the emitter. slot is the vtable slot index as presented
// to EnsureVtableSlotCompiled: 0/1/2 name ToString/Equals/GetHashCode.
type AOTFallback interface {
	ObjectMethod(slot int) (uintptr, bool)
	StringMethod(slot int) (uintptr, bool)
}

// Dispatcher implements the three published entry points over a single
// mil.Resolver, shared process-wide the same way Resolver itself is.
type Dispatcher struct {
	Resolver *mil.Resolver
	AOT      AOTFallback
}

// New returns a Dispatcher over r. aot may be nil if the runtime has no
// AOT-compiled Object/String methods to fall back to (every
// out-of-bounds slot without dispatch-map coverage then halts).
func New(r *mil.Resolver, aot AOTFallback) *Dispatcher {
	return &Dispatcher{Resolver: r, AOT: aot}
}

// EnsureCompiled is the non-virtual fast path: compile tok (a MethodDef
// or MethodSpec token, resolved within asm) if it has not been already,
// and return its entry point. Resolution or compilation failure halts —
// there is no fallback for a direct call.
func (d *Dispatcher) EnsureCompiled(ctx *mil.Context, asm *metadata.Assembly, tok metadata.Token) uintptr {
	mi, err := d.Resolver.ResolveMethod(ctx, mil.Frame{Assembly: asm}, tok)
	if err != nil {
		Halt("lcd: EnsureCompiled: resolving token %#x: %v", uint32(tok), err)
		return 0
	}
	addr, err := d.Resolver.Compile(mi)
	if err != nil {
		Halt("lcd: EnsureCompiled: compiling %s: %v", mi.Name, err)
		return 0
	}
	return addr
}

// EnsureVirtualCompiled compiles tok and patches it into mt's own vtable
// slot if the slot doesn't already hold that entry point. Used by
// emitted code that already knows both the method and the method table
// it is being called through (a static, non-polymorphic callsite that
// still dispatches via the vtable for uniformity with callvirt).
func (d *Dispatcher) EnsureVirtualCompiled(ctx *mil.Context, asm *metadata.Assembly, tok metadata.Token, mt *typereg.MT, slot int) {
	addr := d.EnsureCompiled(ctx, asm, tok)
	if slot < 0 || slot >= mt.NumVTableSlots() {
		return
	}
	if cur := mt.Slot(slot); cur.Target == addr {
		return
	}
	mt.SetTarget(slot, addr)
}

// EnsureVtableSlotCompiled is the primary callvirt entry: given a
// receiver and a vtable slot number, returns the native code address to
// call. The caller must treat the returned address as the call target
// outright and never re-read the vtable itself — an out-of-bounds slot
// is resolved here without ever touching memory past the vtable's
// physical end.
func (d *Dispatcher) EnsureVtableSlotCompiled(ctx *mil.Context, obj Object, slot int) uintptr {
	return d.resolveSlot(ctx, obj.TypeHandle(), slot)
}

// resolveSlot implements the resolution cascade. The dispatch-map check
// runs before the plain in-bounds path so that both a sealed virtual
// (never materialized in VTable, always out of bounds) and a
// non-sealed interface slot (materialized in VTable, always in bounds)
// go through the same interface-map compile logic — only their physical
// storage (SealedVirtuals vs. VTable) differs.
func (d *Dispatcher) resolveSlot(ctx *mil.Context, mt *typereg.MT, slot int) uintptr {
	n := mt.NumVTableSlots()

	if slot >= 0 && slot < n {
		if cur := mt.Slot(slot); cur.Target != 0 {
			return cur.Target
		}
	}

	if entry, idx, ok := mt.DispatchEntryFor(slot); ok {
		if addr, ok2 := d.resolveDispatchEntry(ctx, mt, entry, idx); ok2 {
			return addr
		}
		d.exhausted(mt, slot)
		return 0
	}

	if slot < 0 || slot >= n {
		if addr, ok := d.aotFallback(mt, slot); ok {
			return addr
		}
		d.exhausted(mt, slot)
		return 0
	}

	cur := mt.Slot(slot)
	if cur.MethodToken.IsNil() {
		d.exhausted(mt, slot)
		return 0
	}
	return d.compileAndPatch(ctx, mt, slot, cur.MethodToken)
}

// resolveDispatchEntry compiles the interface method at idx within
// e.InterfaceMT's own vtable and patches the result into mt's physical
// storage for that slot (SealedVirtuals for a sealed entry, VTable
// otherwise). A default interface method (HasBody) is compiled
// directly; an abstract one is resolved by name against mt, then its
// base chain, before compiling.
func (d *Dispatcher) resolveDispatchEntry(ctx *mil.Context, mt *typereg.MT, e typereg.DispatchMapEntry, idx int) (uintptr, bool) {
	if e.Sealed {
		if sv, ok := mt.SealedSlot(e.SealedBase + idx); ok && sv.Target != 0 {
			return sv.Target, true
		}
	} else if cur := mt.Slot(e.StartSlot + idx); cur.Target != 0 {
		return cur.Target, true
	}

	ifaceMethod, err := d.Resolver.MethodByIndex(ctx, e.InterfaceMT, idx)
	if err != nil {
		Halt("lcd: resolving interface method %d of %s: %v", idx, typereg.Describe(e.InterfaceMT), err)
		return 0, false
	}

	impl := ifaceMethod
	if !ifaceMethod.HasBody {
		impl, err = d.findOverrideByName(ctx, mt, ifaceMethod.Name)
		if err != nil {
			Halt("lcd: resolving %s.%s on %s: %v", typereg.Describe(e.InterfaceMT), ifaceMethod.Name, typereg.Describe(mt), err)
			return 0, false
		}
	}

	addr, err := d.Resolver.Compile(impl)
	if err != nil {
		Halt("lcd: compiling %s: %v", impl.Name, err)
		return 0, false
	}

	if e.Sealed {
		mt.SetSealedTarget(e.SealedBase+idx, addr)
	} else {
		mt.SetTarget(e.StartSlot+idx, addr)
	}
	return addr, true
}

// findOverrideByName walks mt and its base chain (in that order) for a
// method named name, the fallback an abstract interface method resolves
// through when no default body exists.
func (d *Dispatcher) findOverrideByName(ctx *mil.Context, mt *typereg.MT, name string) (*mil.MethodInfo, error) {
	for t := mt; t != nil; t = t.BaseType {
		mi, err := d.Resolver.MethodByName(ctx, t, name)
		if err == nil {
			return mi, nil
		}
	}
	return nil, fmt.Errorf("lcd: no implementation of %s on %s or any base type", name, typereg.Describe(mt))
}

// compileAndPatch resolves and compiles the method named by tok
// (mt's own VTable slot, not an interface method) and patches the
// result into slot.
func (d *Dispatcher) compileAndPatch(ctx *mil.Context, mt *typereg.MT, slot int, tok metadata.Token) uintptr {
	mi, err := d.methodForToken(ctx, mt, tok)
	if err != nil {
		Halt("lcd: resolving vtable slot %d on %s: %v", slot, typereg.Describe(mt), err)
		return 0
	}
	addr, err := d.Resolver.Compile(mi)
	if err != nil {
		Halt("lcd: compiling vtable slot %d method %s: %v", slot, mi.Name, err)
		return 0
	}
	mt.SetTarget(slot, addr)
	return addr
}

// methodForToken re-resolves tok within mt's own context (its defining
// assembly and generic arguments, falling back to the generic
// definition's assembly for an instantiation), then rebinds the result's
// OwnerType to mt — the same "resolve through the definition, reattach
// the instantiation" pattern method.go's resolveMemberRef uses.
func (d *Dispatcher) methodForToken(ctx *mil.Context, mt *typereg.MT, tok metadata.Token) (*mil.MethodInfo, error) {
	asm, typeArgs := mt.DefiningAssembly, mt.GenericArgs
	if mt.GenericDef != nil {
		asm = mt.GenericDef.DefiningAssembly
	}
	mi, err := d.Resolver.ResolveMethod(ctx, mil.Frame{Assembly: asm, TypeArgs: typeArgs}, tok)
	if err != nil {
		return nil, err
	}
	mi.OwnerType = mt
	return mi, nil
}

// aotFallback asks AOT for a hand-written entry point backing an
// out-of-bounds slot with no dispatch-map coverage: System.String's own
// overrides first (if mt is String itself), then System.Object's.
func (d *Dispatcher) aotFallback(mt *typereg.MT, slot int) (uintptr, bool) {
	if d.AOT == nil {
		return 0, false
	}
	if d.Resolver.Registry.WellKnown(metadata.WellKnownString) == mt {
		if addr, ok := d.AOT.StringMethod(slot); ok {
			return addr, true
		}
	}
	return d.AOT.ObjectMethod(slot)
}

// exhausted halts with the diagnostic spec'd for a fully exhausted
// resolution: the type, its token, and a preview of its first vtable
// entries.
func (d *Dispatcher) exhausted(mt *typereg.MT, slot int) {
	preview := mt.VTable
	if len(preview) > 4 {
		preview = preview[:4]
	}
	Halt("lcd: exhausted resolution for slot %d on %s (token %#x): vtable head %v",
		slot, typereg.Describe(mt), uint32(mt.Token), preview)
}
