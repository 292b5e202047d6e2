package mil

import (
	"errors"
	"sync"
	"testing"

	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/typereg"
)

func TestDecodeTypeDefOrRef(t *testing.T) {
	cases := []struct {
		coded     uint32
		wantTable int
		wantRID   uint32
	}{
		{0x04, metadata.TypeDef, 1},  // tag 0, rid 1
		{0x09, metadata.TypeRef, 2},  // tag 1, rid 2
		{0x0e, metadata.TypeSpec, 3}, // tag 2, rid 3
	}
	for _, c := range cases {
		table, rid := decodeTypeDefOrRef(c.coded)
		tok := metadata.NewToken(table, rid)
		if tok.Table() != c.wantTable || tok.RID() != c.wantRID {
			t.Errorf("decodeTypeDefOrRef(0x%x) = table %d rid %d, want table %d rid %d",
				c.coded, tok.Table(), tok.RID(), c.wantTable, c.wantRID)
		}
	}
}

func TestDecodeMemberRefParent(t *testing.T) {
	table, rid := decodeMemberRefParent(0x0b) // tag 3 (MethodDef), rid 1
	if table != metadata.MethodDef || rid != 1 {
		t.Fatalf("got table %d rid %d, want MethodDef 1", table, rid)
	}
}

func TestAlign(t *testing.T) {
	cases := []struct{ offset, size, want uint32 }{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 8, 8},
		{0, 0, 0},
	}
	for _, c := range cases {
		if got := align(c.offset, c.size); got != c.want {
			t.Errorf("align(%d, %d) = %d, want %d", c.offset, c.size, got, c.want)
		}
	}
}

func TestVersionSatisfies(t *testing.T) {
	v := func(maj, min, build, rev uint16) metadata.Version {
		return metadata.Version{Major: maj, Minor: min, Build: build, Revision: rev}
	}
	if !versionSatisfies(v(2, 0, 0, 0), v(1, 5, 0, 0)) {
		t.Error("2.0.0.0 should satisfy 1.5.0.0")
	}
	if versionSatisfies(v(1, 0, 0, 0), v(1, 5, 0, 0)) {
		t.Error("1.0.0.0 should not satisfy 1.5.0.0")
	}
	if !versionSatisfies(v(1, 0, 0, 3), v(1, 0, 0, 2)) {
		t.Error("1.0.0.3 should satisfy 1.0.0.2 (revision tiebreak)")
	}
	if versionSatisfies(v(1, 0, 0, 1), v(1, 0, 0, 2)) {
		t.Error("1.0.0.1 should not satisfy 1.0.0.2")
	}
}

func TestClassifyIntrinsic(t *testing.T) {
	mi := &MethodInfo{
		Name:      "CreateInstance",
		OwnerType: &typereg.MT{Namespace: "System", Name: "Activator"},
	}
	if got := classifyIntrinsic(mi); got != IntrinsicActivatorCreateInstance {
		t.Fatalf("got %v, want IntrinsicActivatorCreateInstance", got)
	}

	mi2 := &MethodInfo{Name: "Foo", OwnerType: &typereg.MT{Namespace: "My", Name: "Thing"}}
	if got := classifyIntrinsic(mi2); got != IntrinsicNone {
		t.Fatalf("got %v, want IntrinsicNone", got)
	}
}

func TestCheckStaticClassConstructionRunsOnce(t *testing.T) {
	r := NewResolver(typereg.NewRegistry(), nil, nil)
	mt := &typereg.MT{Name: "Widget"}

	var runs int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.CheckStaticClassConstruction(mt, func() error {
				runs++
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if runs != 1 {
		t.Fatalf("cctor ran %d times, want exactly 1", runs)
	}
}

func TestCheckStaticClassConstructionFailureSticks(t *testing.T) {
	r := NewResolver(typereg.NewRegistry(), nil, nil)
	mt := &typereg.MT{Name: "Broken"}
	boom := errors.New("boom")

	err := r.CheckStaticClassConstruction(mt, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("first call: got %v, want wrapping boom", err)
	}

	err = r.CheckStaticClassConstruction(mt, func() error {
		t.Fatal("cctor must not run again after failing")
		return nil
	})
	if err == nil {
		t.Fatal("expected second call to report the sticky failure")
	}
}

func TestCompiledEntrySharedAcrossInstantiations(t *testing.T) {
	r := NewResolver(typereg.NewRegistry(), nil, nil)
	genDef := &MethodInfo{Token: metadata.NewToken(metadata.MethodDef, 7), Name: "Id"}
	inst1 := &MethodInfo{Token: metadata.NewToken(metadata.MethodSpec, 1), GenericDef: genDef}
	inst2 := &MethodInfo{Token: metadata.NewToken(metadata.MethodSpec, 2), GenericDef: genDef}

	e1 := r.CompiledEntryFor(inst1)
	e2 := r.CompiledEntryFor(inst2)
	if e1 != e2 {
		t.Fatal("expected both instantiations to share one CompiledEntry")
	}

	if !e1.beginCompiling() {
		t.Fatal("expected beginCompiling to succeed the first time")
	}
	if e1.beginCompiling() {
		t.Fatal("beginCompiling should refuse a second concurrent compile")
	}
	e1.publish(0xcafef00d)
	state, addr := e1.State()
	if state != Compiled || addr != 0xcafef00d {
		t.Fatalf("got state %v addr %#x, want Compiled 0xcafef00d", state, addr)
	}
}

func TestSeedVTableFromBaseInheritsSlots(t *testing.T) {
	base := &typereg.MT{
		Name: "Base",
		VTable: []typereg.VTableSlot{
			{MethodName: "Foo"},
			{MethodName: "Bar"},
		},
	}
	derived := &typereg.MT{Name: "Derived", BaseType: base}

	seedVTableFromBase(derived)

	if len(derived.VTable) != 2 {
		t.Fatalf("got %d inherited slots, want 2", len(derived.VTable))
	}
	if derived.VTable[0].MethodName != "Foo" || derived.VTable[1].MethodName != "Bar" {
		t.Fatalf("got %+v, want base's slots in order", derived.VTable)
	}

	// Mutating the derived type's copy must not reach back into base's.
	derived.VTable[0].MethodName = "Overridden"
	if base.VTable[0].MethodName != "Foo" {
		t.Fatal("seedVTableFromBase must copy, not alias, the base's VTable")
	}
}

func TestSeedVTableFromBaseSkipsValueTypesAndRoots(t *testing.T) {
	base := &typereg.MT{Name: "Base", VTable: []typereg.VTableSlot{{MethodName: "Foo"}}}

	vt := &typereg.MT{Name: "Point", IsValueType: true, BaseType: base}
	seedVTableFromBase(vt)
	if len(vt.VTable) != 0 {
		t.Fatalf("value type must start vtable empty, got %d slots", len(vt.VTable))
	}

	root := &typereg.MT{Name: "Object"}
	seedVTableFromBase(root)
	if len(root.VTable) != 0 {
		t.Fatalf("root type with no base must start vtable empty, got %d slots", len(root.VTable))
	}
}

func TestBaseInstanceCursorValueType(t *testing.T) {
	r := NewResolver(typereg.NewRegistry(), nil, nil)
	mt := &typereg.MT{Name: "Point", IsValueType: true}
	got, err := r.baseInstanceCursor(nil, Frame{}, mt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Fatalf("got %d, want 0 for a value type", got)
	}
}

func TestBaseInstanceCursorRootReferenceType(t *testing.T) {
	r := NewResolver(typereg.NewRegistry(), nil, nil)
	mt := &typereg.MT{Name: "Object"}
	got, err := r.baseInstanceCursor(nil, Frame{}, mt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 8 {
		t.Fatalf("got %d, want 8 for a reference type with no base", got)
	}
}

func TestBaseInstanceCursorDerivedReferenceType(t *testing.T) {
	r := NewResolver(typereg.NewRegistry(), nil, nil)
	base := &typereg.MT{Name: "Base", InstanceSize: 24}
	mt := &typereg.MT{Name: "Derived", BaseType: base}
	got, err := r.baseInstanceCursor(nil, Frame{}, mt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 24 {
		t.Fatalf("got %d, want base's already-resolved instance size 24", got)
	}
}

func TestMDArrayIntrinsic(t *testing.T) {
	cases := []struct {
		name string
		want Intrinsic
	}{
		{".ctor", IntrinsicMDArrayCtor},
		{"Get", IntrinsicMDArrayGet},
		{"Set", IntrinsicMDArraySet},
		{"Address", IntrinsicMDArrayAddress},
	}
	for _, c := range cases {
		got, ok := mdArrayIntrinsic(c.name)
		if !ok || got != c.want {
			t.Errorf("mdArrayIntrinsic(%q) = %v, %v; want %v, true", c.name, got, ok, c.want)
		}
	}

	if _, ok := mdArrayIntrinsic("ToString"); ok {
		t.Fatal("mdArrayIntrinsic(\"ToString\") should not be recognized as an MD-array pseudo-method")
	}
}

func TestClassifyMethodKindInterfaceMethod(t *testing.T) {
	reg := typereg.NewRegistry()
	iface := &typereg.MT{Name: "IDisposable", IsInterface: true}
	mi := &MethodInfo{Name: "Dispose", OwnerType: iface}

	classifyMethodKind(mi, reg)

	if !mi.IsInterfaceMethod {
		t.Fatal("expected IsInterfaceMethod to be set for a method owned by an interface type")
	}
	if mi.IsDelegateCtor || mi.IsDelegateInvoke {
		t.Fatal("an interface method must not also be classified as a delegate ctor/invoke")
	}
}

func TestClassifyMethodKindDelegateCtorAndInvoke(t *testing.T) {
	reg := typereg.NewRegistry()
	del := &typereg.MT{Token: metadata.WellKnownDelegate, Namespace: "System", Name: "Delegate"}
	reg.CaptureWellKnown(del)

	action := &typereg.MT{Namespace: "System", Name: "Action", BaseType: del}

	ctor := &MethodInfo{Name: ".ctor", OwnerType: action}
	classifyMethodKind(ctor, reg)
	if !ctor.IsDelegateCtor {
		t.Fatal("expected IsDelegateCtor for .ctor on a type derived from Delegate")
	}

	invoke := &MethodInfo{Name: "Invoke", OwnerType: action}
	classifyMethodKind(invoke, reg)
	if !invoke.IsDelegateInvoke {
		t.Fatal("expected IsDelegateInvoke for Invoke on a type derived from Delegate")
	}

	other := &MethodInfo{Name: "BeginInvoke", OwnerType: action}
	classifyMethodKind(other, reg)
	if other.IsDelegateCtor || other.IsDelegateInvoke {
		t.Fatal("BeginInvoke is neither the delegate ctor nor Invoke")
	}
}
