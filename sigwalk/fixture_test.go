package sigwalk

import (
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"

	"github.com/clrcore/jitmeta/metadata"
)

// fixtureCase is one named blob plus the rendering it is expected to
// decode to, both pulled out of testdata/signatures.txtar.
type fixtureCase struct {
	category string // "field", "method", "local", "methodspec", "typespec"
	name     string
	hex      string
	want     string
}

func loadFixtures(t *testing.T) []fixtureCase {
	t.Helper()
	ar, err := txtar.ParseFile("testdata/signatures.txtar")
	if err != nil {
		t.Fatalf("parsing testdata/signatures.txtar: %v", err)
	}
	byStem := make(map[string]*fixtureCase)
	for _, f := range ar.Files {
		ext := path.Ext(f.Name)
		stem := strings.TrimSuffix(f.Name, ext)
		c, ok := byStem[stem]
		if !ok {
			dir, name := path.Split(stem)
			c = &fixtureCase{category: strings.TrimSuffix(dir, "/"), name: name}
			byStem[stem] = c
		}
		switch ext {
		case ".hex":
			c.hex = string(f.Data)
		case ".want":
			c.want = strings.TrimSpace(string(f.Data))
		default:
			t.Fatalf("testdata/signatures.txtar: unexpected file %q", f.Name)
		}
	}
	cases := make([]fixtureCase, 0, len(byStem))
	for _, c := range byStem {
		if c.hex == "" || c.want == "" {
			t.Fatalf("fixture %s/%s missing its .hex or .want half", c.category, c.name)
		}
		cases = append(cases, *c)
	}
	return cases
}

func decodeHexBlob(s string) ([]byte, error) {
	var clean strings.Builder
	for _, r := range s {
		if strings.ContainsRune(" \t\r\n", r) {
			continue
		}
		clean.WriteRune(r)
	}
	return hex.DecodeString(clean.String())
}

func TestSignatureFixtures(t *testing.T) {
	for _, c := range loadFixtures(t) {
		t.Run(c.category+"/"+c.name, func(t *testing.T) {
			blob, err := decodeHexBlob(c.hex)
			if err != nil {
				t.Fatalf("decoding hex: %v", err)
			}

			var got string
			switch c.category {
			case "field":
				ty, err := WalkFieldSig(blob)
				if err != nil {
					t.Fatalf("WalkFieldSig: %v", err)
				}
				got = describeType(*ty)
			case "method":
				sig, err := WalkMethodSig(blob)
				if err != nil {
					t.Fatalf("WalkMethodSig: %v", err)
				}
				got = describeMethodSig(sig)
			case "local":
				sig, err := WalkLocalVarSig(blob)
				if err != nil {
					t.Fatalf("WalkLocalVarSig: %v", err)
				}
				got = fmt.Sprintf("locals=[%s]", describeTypeList(sig.Locals))
			case "methodspec":
				args, err := WalkMethodSpecSig(blob)
				if err != nil {
					t.Fatalf("WalkMethodSpecSig: %v", err)
				}
				got = fmt.Sprintf("args=[%s]", describeTypeList(args))
			case "typespec":
				ty, err := WalkTypeSpec(blob)
				if err != nil {
					t.Fatalf("WalkTypeSpec: %v", err)
				}
				got = describeType(*ty)
			default:
				t.Fatalf("unknown fixture category %q", c.category)
			}

			if got != c.want {
				t.Fatalf("decoded shape mismatch:\n got:  %s\n want: %s", got, c.want)
			}
		})
	}
}

// describeType renders a walked Type deterministically enough to serve
// as a golden string, independent of any metadata resolution.
func describeType(t Type) string {
	body := describeTypeBody(t)
	if len(t.Modifiers) == 0 {
		return body
	}
	var mods strings.Builder
	for _, m := range t.Modifiers {
		kind := "opt"
		if m.Required {
			kind = "reqd"
		}
		fmt.Fprintf(&mods, "[%s:0x%x]", kind, m.Token)
	}
	return mods.String() + " " + body
}

func describeTypeBody(t Type) string {
	switch t.Kind {
	case KindPrimitive:
		return "primitive " + primitiveName(t.Primitive)
	case KindTypeRef:
		return fmt.Sprintf("typeref token=0x%x", t.TypeToken)
	case KindVar:
		return fmt.Sprintf("var %d", t.Number)
	case KindMVar:
		return fmt.Sprintf("mvar %d", t.Number)
	case KindSZArray:
		return fmt.Sprintf("szarray(%s)", describeType(*t.Elem))
	case KindArray:
		return fmt.Sprintf("array(rank=%d,sizes=%v,lo=%v) of %s", t.Rank, t.Sizes, t.LowerBounds, describeType(*t.Elem))
	case KindPtr:
		return fmt.Sprintf("ptr(%s)", describeType(*t.Elem))
	case KindByRef:
		return fmt.Sprintf("byref(%s)", describeType(*t.Elem))
	case KindPinned:
		return fmt.Sprintf("pinned(%s)", describeType(*t.Elem))
	case KindFnPtr:
		return "fnptr(...)"
	case KindGenericInst:
		return fmt.Sprintf("geninst(%s; args=[%s])", describeType(t.GenericBase), describeTypeList(t.TypeArgs))
	default:
		return fmt.Sprintf("kind(%d)", t.Kind)
	}
}

func describeTypeList(types []Type) string {
	parts := make([]string, len(types))
	for i, ty := range types {
		parts[i] = describeType(ty)
	}
	return strings.Join(parts, ", ")
}

func describeMethodSig(sig *MethodSig) string {
	var b strings.Builder
	if sig.GenericParamCount > 0 {
		fmt.Fprintf(&b, "generic<%d>; ", sig.GenericParamCount)
	}
	if sig.HasThis {
		b.WriteString("hasthis; ")
	}
	fmt.Fprintf(&b, "params=[%s]; ret=%s", describeTypeList(sig.Params), describeType(sig.ReturnType))
	return b.String()
}

func primitiveName(tag byte) string {
	switch tag {
	case metadata.ElementTypeVoid:
		return "Void"
	case metadata.ElementTypeBoolean:
		return "Boolean"
	case metadata.ElementTypeChar:
		return "Char"
	case metadata.ElementTypeI1:
		return "I1"
	case metadata.ElementTypeU1:
		return "U1"
	case metadata.ElementTypeI2:
		return "I2"
	case metadata.ElementTypeU2:
		return "U2"
	case metadata.ElementTypeI4:
		return "I4"
	case metadata.ElementTypeU4:
		return "U4"
	case metadata.ElementTypeI8:
		return "I8"
	case metadata.ElementTypeU8:
		return "U8"
	case metadata.ElementTypeR4:
		return "R4"
	case metadata.ElementTypeR8:
		return "R8"
	case metadata.ElementTypeString:
		return "String"
	case metadata.ElementTypeI:
		return "I"
	case metadata.ElementTypeU:
		return "U"
	case metadata.ElementTypeObject:
		return "Object"
	case metadata.ElementTypeTypedByRef:
		return "TypedByRef"
	default:
		return fmt.Sprintf("0x%02x", tag)
	}
}
