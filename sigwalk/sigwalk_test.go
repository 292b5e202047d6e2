package sigwalk

import (
	"testing"

	"github.com/clrcore/jitmeta/metadata"
)

func TestWalkFieldSigPrimitive(t *testing.T) {
	blob := []byte{CallConvField, metadata.ElementTypeI4}
	ty, err := WalkFieldSig(blob)
	if err != nil {
		t.Fatalf("WalkFieldSig: %v", err)
	}
	if ty.Kind != KindPrimitive || ty.Primitive != metadata.ElementTypeI4 {
		t.Fatalf("got %+v, want I4 primitive", ty)
	}
}

func TestWalkFieldSigSZArrayOfString(t *testing.T) {
	blob := []byte{CallConvField, metadata.ElementTypeSZArray, metadata.ElementTypeString}
	ty, err := WalkFieldSig(blob)
	if err != nil {
		t.Fatalf("WalkFieldSig: %v", err)
	}
	if ty.Kind != KindSZArray {
		t.Fatalf("got kind %v, want SZArray", ty.Kind)
	}
	if ty.Elem.Kind != KindPrimitive || ty.Elem.Primitive != metadata.ElementTypeString {
		t.Fatalf("elem = %+v, want String primitive", ty.Elem)
	}
}

func TestWalkMethodSigInstanceTwoArgs(t *testing.T) {
	// instance void M(int32, string)
	blob := []byte{
		CallConvDefault | CallConvHasThis,
		2, // param count
		metadata.ElementTypeVoid,
		metadata.ElementTypeI4,
		metadata.ElementTypeString,
	}
	sig, err := WalkMethodSig(blob)
	if err != nil {
		t.Fatalf("WalkMethodSig: %v", err)
	}
	if !sig.HasThis {
		t.Fatal("expected HasThis")
	}
	if len(sig.Params) != 2 {
		t.Fatalf("got %d params, want 2", len(sig.Params))
	}
	if sig.ReturnType.Primitive != metadata.ElementTypeVoid {
		t.Fatalf("return type = %+v, want void", sig.ReturnType)
	}
}

func TestWalkMethodSigGeneric(t *testing.T) {
	// static !!0 M<T>(!!0) with 1 generic method param
	blob := []byte{
		CallConvDefault | CallConvGeneric,
		1, // generic param count
		1, // param count
		metadata.ElementTypeMVar, 0,
		metadata.ElementTypeMVar, 0,
	}
	sig, err := WalkMethodSig(blob)
	if err != nil {
		t.Fatalf("WalkMethodSig: %v", err)
	}
	if sig.GenericParamCount != 1 {
		t.Fatalf("got %d generic params, want 1", sig.GenericParamCount)
	}
	if sig.ReturnType.Kind != KindMVar || sig.ReturnType.Number != 0 {
		t.Fatalf("return type = %+v, want MVar 0", sig.ReturnType)
	}
}

func TestWalkTypeSpecGenericInst(t *testing.T) {
	// List<!0> = GENERICINST CLASS <token> 1 VAR 0
	blob := []byte{
		metadata.ElementTypeGenericInst,
		metadata.ElementTypeClass,
		0x49, // arbitrary compressed TypeDefOrRef coded index
		1,
		metadata.ElementTypeVar, 0,
	}
	ty, err := WalkTypeSpec(blob)
	if err != nil {
		t.Fatalf("WalkTypeSpec: %v", err)
	}
	if ty.Kind != KindGenericInst {
		t.Fatalf("got kind %v, want GenericInst", ty.Kind)
	}
	if len(ty.TypeArgs) != 1 || ty.TypeArgs[0].Kind != KindVar {
		t.Fatalf("type args = %+v, want one Var", ty.TypeArgs)
	}
}

func TestWalkTypeSpecCustomModifier(t *testing.T) {
	blob := []byte{
		metadata.ElementTypeCModOpt, 0x11,
		metadata.ElementTypeI4,
	}
	ty, err := WalkTypeSpec(blob)
	if err != nil {
		t.Fatalf("WalkTypeSpec: %v", err)
	}
	if len(ty.Modifiers) != 1 || ty.Modifiers[0].Required {
		t.Fatalf("modifiers = %+v, want one optional modifier", ty.Modifiers)
	}
}

func TestWalkFieldSigRejectsWrongCallingConv(t *testing.T) {
	_, err := WalkFieldSig([]byte{CallConvDefault, metadata.ElementTypeI4})
	if err == nil {
		t.Fatal("expected error for non-FIELD calling convention")
	}
}

func TestWalkEmptySignature(t *testing.T) {
	_, err := WalkFieldSig(nil)
	if err != ErrEmptySignature {
		t.Fatalf("got %v, want ErrEmptySignature", err)
	}
}

func FuzzWalkFieldSig(f *testing.F) {
	f.Add([]byte{CallConvField, metadata.ElementTypeI4})
	f.Add([]byte{CallConvField, metadata.ElementTypeSZArray, metadata.ElementTypeString})
	f.Fuzz(func(t *testing.T, blob []byte) {
		// Never panic on arbitrary input; malformed blobs must surface as
		// an error.
		_, _ = WalkFieldSig(blob)
	})
}
