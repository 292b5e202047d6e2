package lcd

import (
	"fmt"
	"testing"

	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/mil"
	"github.com/clrcore/jitmeta/typereg"
)

type fakeObject struct{ mt *typereg.MT }

func (o fakeObject) TypeHandle() *typereg.MT { return o.mt }

type fakeAOT struct {
	object map[int]uintptr
	str    map[int]uintptr
}

func (f fakeAOT) ObjectMethod(slot int) (uintptr, bool) { a, ok := f.object[slot]; return a, ok }
func (f fakeAOT) StringMethod(slot int) (uintptr, bool) { a, ok := f.str[slot]; return a, ok }

func newDispatcher(aot AOTFallback) *Dispatcher {
	r := mil.NewResolver(typereg.NewRegistry(), nil, nil)
	return New(r, aot)
}

func TestEnsureVtableSlotCompiledAlreadyPopulated(t *testing.T) {
	mt := &typereg.MT{Name: "Widget", VTable: []typereg.VTableSlot{
		{MethodName: "ToString", Target: 0xaaaa},
	}}
	d := newDispatcher(nil)

	got := d.EnsureVtableSlotCompiled(mil.NewContext(mil.Frame{}), fakeObject{mt}, 0)
	if got != 0xaaaa {
		t.Fatalf("got %#x, want 0xaaaa", got)
	}
}

func TestEnsureVtableSlotCompiledOutOfBoundsFallsBackToObject(t *testing.T) {
	mt := &typereg.MT{Name: "Widget"} // no vtable slots at all
	aot := fakeAOT{object: map[int]uintptr{0: 0xfeed}}
	d := newDispatcher(aot)

	got := d.EnsureVtableSlotCompiled(mil.NewContext(mil.Frame{}), fakeObject{mt}, 0)
	if got != 0xfeed {
		t.Fatalf("got %#x, want 0xfeed (Object.ToString AOT fallback)", got)
	}
}

func TestEnsureVtableSlotCompiledStringPreferredOverObject(t *testing.T) {
	reg := typereg.NewRegistry()
	strMT := &typereg.MT{Name: "String", Namespace: "System", Token: metadata.WellKnownString}
	reg.CaptureWellKnown(strMT)

	r := mil.NewResolver(reg, nil, nil)
	aot := fakeAOT{
		object: map[int]uintptr{0: 0x1111},
		str:    map[int]uintptr{0: 0x2222},
	}
	d := New(r, aot)

	got := d.EnsureVtableSlotCompiled(mil.NewContext(mil.Frame{}), fakeObject{strMT}, 0)
	if got != 0x2222 {
		t.Fatalf("got %#x, want 0x2222 (String-specific AOT method, not Object's)", got)
	}
}

func TestEnsureVtableSlotCompiledOutOfBoundsNoFallbackHalts(t *testing.T) {
	mt := &typereg.MT{Name: "Widget"}
	d := newDispatcher(nil)

	orig := Halt
	defer func() { Halt = orig }()
	var halted bool
	Halt = func(format string, args ...interface{}) { halted = true; _ = fmt.Sprintf(format, args...) }

	d.EnsureVtableSlotCompiled(mil.NewContext(mil.Frame{}), fakeObject{mt}, 2)
	if !halted {
		t.Fatal("expected Halt to be called on exhausted out-of-bounds resolution")
	}
}

func TestEnsureVtableSlotCompiledSealedDispatchAlreadyPopulated(t *testing.T) {
	iface := &typereg.MT{Name: "IComparable", IsInterface: true, VTable: []typereg.VTableSlot{{MethodName: "CompareTo"}}}
	mt := &typereg.MT{
		Name:     "SealedWidget",
		IsSealed: true,
		DispatchMap: []typereg.DispatchMapEntry{
			{InterfaceMT: iface, Sealed: true, StartSlot: 0, SealedBase: 0},
		},
		SealedVirtuals: []typereg.VTableSlot{{MethodName: "CompareTo", Target: 0xbeef}},
	}
	d := newDispatcher(nil)

	got := d.EnsureVtableSlotCompiled(mil.NewContext(mil.Frame{}), fakeObject{mt}, 0)
	if got != 0xbeef {
		t.Fatalf("got %#x, want 0xbeef (pre-populated sealed virtual slot)", got)
	}
}

func TestFindOverrideByNameWalksBaseChain(t *testing.T) {
	reg := typereg.NewRegistry()
	asm := &metadata.Assembly{Image: &metadata.Image{}}
	base := &typereg.MT{Name: "Base", Token: metadata.NewToken(metadata.TypeDef, 1), DefiningAssembly: asm}
	derived := &typereg.MT{Name: "Derived", Token: metadata.NewToken(metadata.TypeDef, 2), DefiningAssembly: asm, BaseType: base}

	r := mil.NewResolver(reg, nil, nil)
	d := New(r, nil)

	_, err := d.findOverrideByName(mil.NewContext(mil.Frame{}), derived, "Frobnicate")
	if err == nil {
		t.Fatal("expected an error: neither Derived nor Base declares Frobnicate, and there is no real metadata backing them")
	}
}
