// Package sigwalk walks ECMA-335 signature blobs — method, field,
// property, local-variable, and type-spec signatures — into a structured
// Type tree without resolving any TypeDefOrRef it names. Resolution is
// the Metadata Integration Layer's job (the mil package); this package
// only ever turns bytes into shape.
package sigwalk

import (
	"errors"
	"fmt"

	"github.com/clrcore/jitmeta/metadata"
)

// Errors a signature walk can fail with.
var (
	ErrEmptySignature   = errors.New("sigwalk: empty signature blob")
	ErrUnknownElement   = errors.New("sigwalk: unrecognized ELEMENT_TYPE byte")
	ErrTruncated        = errors.New("sigwalk: signature blob truncated")
	ErrBadCallingConv   = errors.New("sigwalk: malformed calling-convention byte")
)

// Calling-convention bits, the signature blob's leading byte
// (ECMA-335 §II.23.2.1).
const (
	CallConvDefault   = 0x00
	CallConvVarArg    = 0x05
	CallConvField     = 0x06
	CallConvLocalSig  = 0x07
	CallConvProperty  = 0x08
	CallConvGeneric   = 0x10
	CallConvHasThis   = 0x20
	CallConvExplicitThis = 0x40
)

// Kind names a node's shape in the signature's type tree.
type Kind uint8

const (
	KindPrimitive Kind = iota
	KindTypeRef        // VALUETYPE or CLASS: coded TypeDefOrRef token, unresolved
	KindVar            // generic type-parameter reference
	KindMVar           // generic method-parameter reference
	KindGenericInst    // a TypeSpec-style generic instantiation
	KindSZArray        // single-dimension, zero-based array
	KindArray          // general multi-dimensional array
	KindPtr
	KindByRef
	KindFnPtr
	KindPinned
)

// Type is one node of a walked signature's type tree. Only the fields
// relevant to its Kind are populated.
type Type struct {
	Kind      Kind
	Primitive byte // ELEMENT_TYPE_* for KindPrimitive

	// KindTypeRef
	TypeToken uint32 // raw TypeDefOrRef coded index, unresolved

	// KindVar / KindMVar
	Number uint32

	// KindGenericInst
	GenericBase Type
	TypeArgs    []Type

	// KindSZArray / KindPtr / KindByRef / KindFnPtr(ret) / KindPinned
	Elem *Type

	// KindArray
	Rank          uint32
	Sizes         []uint32
	LowerBounds   []int32

	// Custom modifiers applied before this node (CMOD_REQD/CMOD_OPT),
	// outermost first.
	Modifiers []Modifier
}

// Modifier is one CMOD_REQD/CMOD_OPT custom modifier attached to a type.
type Modifier struct {
	Required bool
	Token    uint32 // TypeDefOrRef coded index, unresolved
}

// Param is one parameter (or the return type) of a method signature.
type Param struct {
	Type   Type
	ByRef  bool // BYREF already folds into Type.Kind; kept for quick checks
}

// MethodSig is a walked method or property signature (local-variable
// signatures decode into LocalVarSig).
type MethodSig struct {
	HasThis        bool
	ExplicitThis   bool
	CallingConv    byte
	GenericParamCount uint32
	ReturnType     Type
	Params         []Type
	SentinelIndex  int // index of the first vararg param, or -1
}

// LocalVarSig is a walked StandAloneSig used as a method's local
// variable signature (LOCAL_SIG, §II.23.2.6).
type LocalVarSig struct {
	Locals []Type
}

// reader walks a signature blob byte by byte, sharing the metadata
// package's compressed-unsigned-integer decoder since the encoding is
// identical in both places.
type reader struct {
	b   []byte
	pos uint32
}

func newReader(b []byte) (*reader, error) {
	if len(b) == 0 {
		return nil, ErrEmptySignature
	}
	return &reader{b: b}, nil
}

func (r *reader) byte() (byte, error) {
	if r.pos >= uint32(len(r.b)) {
		return 0, ErrTruncated
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) peek() (byte, error) {
	if r.pos >= uint32(len(r.b)) {
		return 0, ErrTruncated
	}
	return r.b[r.pos], nil
}

func (r *reader) compressedUint() (uint32, error) {
	if r.pos >= uint32(len(r.b)) {
		return 0, ErrTruncated
	}
	v, n, err := metadata.ReadCompressedUint(r.b[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

// compressedInt decodes ECMA-335's compressed signed integer (§II.23.2.2):
// the unsigned decode is rotated right by one bit, with bit 0 as sign.
func (r *reader) compressedInt() (int32, error) {
	u, err := r.compressedUint()
	if err != nil {
		return 0, err
	}
	if u&1 == 0 {
		return int32(u >> 1), nil
	}
	// sign-extend depending on how many bytes the magnitude occupied.
	switch {
	case u <= 0x7f:
		return int32(u>>1) - 0x40, nil
	case u <= 0x3fff:
		return int32(u>>1) - 0x2000, nil
	default:
		return int32(u>>1) - 0x10000000, nil
	}
}

// WalkMethodSig decodes a MethodDef, MemberRef, or Property signature
// blob (they share a grammar up to the calling-convention bits).
func WalkMethodSig(blob []byte) (*MethodSig, error) {
	r, err := newReader(blob)
	if err != nil {
		return nil, err
	}
	first, err := r.byte()
	if err != nil {
		return nil, err
	}
	sig := &MethodSig{
		CallingConv:  first &^ (CallConvHasThis | CallConvExplicitThis | CallConvGeneric),
		HasThis:      first&CallConvHasThis != 0,
		ExplicitThis: first&CallConvExplicitThis != 0,
	}
	if first&CallConvGeneric != 0 {
		n, err := r.compressedUint()
		if err != nil {
			return nil, fmt.Errorf("sigwalk: generic param count: %w", err)
		}
		sig.GenericParamCount = n
	}
	paramCount, err := r.compressedUint()
	if err != nil {
		return nil, fmt.Errorf("sigwalk: param count: %w", err)
	}
	retType, err := r.walkType()
	if err != nil {
		return nil, fmt.Errorf("sigwalk: return type: %w", err)
	}
	sig.ReturnType = *retType
	sig.SentinelIndex = -1
	for i := uint32(0); i < paramCount; i++ {
		b, err := r.peek()
		if err != nil {
			return nil, fmt.Errorf("sigwalk: param %d: %w", i, err)
		}
		if b == metadata.ElementTypeSentinel {
			r.pos++
			sig.SentinelIndex = len(sig.Params)
			i--
			continue
		}
		p, err := r.walkType()
		if err != nil {
			return nil, fmt.Errorf("sigwalk: param %d: %w", i, err)
		}
		sig.Params = append(sig.Params, *p)
	}
	return sig, nil
}

// WalkFieldSig decodes a Field row's signature blob: FIELD calling
// convention byte (0x06) followed by exactly one type.
func WalkFieldSig(blob []byte) (*Type, error) {
	r, err := newReader(blob)
	if err != nil {
		return nil, err
	}
	first, err := r.byte()
	if err != nil {
		return nil, err
	}
	if first != CallConvField {
		return nil, fmt.Errorf("%w: field signature leads with 0x%02x", ErrBadCallingConv, first)
	}
	return r.walkType()
}

// WalkLocalVarSig decodes a StandAloneSig row used as a LOCAL_SIG: the
// 0x07 calling-convention byte, a count, then one type per local.
func WalkLocalVarSig(blob []byte) (*LocalVarSig, error) {
	r, err := newReader(blob)
	if err != nil {
		return nil, err
	}
	first, err := r.byte()
	if err != nil {
		return nil, err
	}
	if first != CallConvLocalSig {
		return nil, fmt.Errorf("%w: local-var signature leads with 0x%02x", ErrBadCallingConv, first)
	}
	count, err := r.compressedUint()
	if err != nil {
		return nil, err
	}
	out := &LocalVarSig{}
	for i := uint32(0); i < count; i++ {
		t, err := r.walkType()
		if err != nil {
			return nil, fmt.Errorf("sigwalk: local %d: %w", i, err)
		}
		out.Locals = append(out.Locals, *t)
	}
	return out, nil
}

// WalkTypeSpec decodes a TypeSpec row's signature blob: exactly one
// type, no calling-convention byte.
func WalkTypeSpec(blob []byte) (*Type, error) {
	r, err := newReader(blob)
	if err != nil {
		return nil, err
	}
	return r.walkType()
}

// MethodSpecCallConv is the calling-convention byte every MethodSpec
// signature blob leads with (ECMA-335 §II.23.2.15).
const MethodSpecCallConv = 0x0a

// WalkMethodSpecSig decodes a MethodSpec row's Instantiation blob: the
// 0x0a GENERICINST calling-convention byte, a count, then one type
// argument per generic method parameter.
func WalkMethodSpecSig(blob []byte) ([]Type, error) {
	r, err := newReader(blob)
	if err != nil {
		return nil, err
	}
	first, err := r.byte()
	if err != nil {
		return nil, err
	}
	if first != MethodSpecCallConv {
		return nil, fmt.Errorf("%w: MethodSpec signature leads with 0x%02x", ErrBadCallingConv, first)
	}
	count, err := r.compressedUint()
	if err != nil {
		return nil, err
	}
	args := make([]Type, count)
	for i := range args {
		t, err := r.walkType()
		if err != nil {
			return nil, fmt.Errorf("sigwalk: method type arg %d: %w", i, err)
		}
		args[i] = *t
	}
	return args, nil
}

// walkType decodes one type node, including any leading custom
// modifiers, recursing for compound shapes (PTR, SZARRAY, ARRAY,
// GENERICINST, FNPTR, BYREF, PINNED).
func (r *reader) walkType() (*Type, error) {
	t := &Type{}
	for {
		b, err := r.peek()
		if err != nil {
			return nil, err
		}
		if b != metadata.ElementTypeCModReqd && b != metadata.ElementTypeCModOpt {
			break
		}
		r.pos++
		tok, err := r.compressedUint()
		if err != nil {
			return nil, fmt.Errorf("custom modifier token: %w", err)
		}
		t.Modifiers = append(t.Modifiers, Modifier{Required: b == metadata.ElementTypeCModReqd, Token: tok})
	}

	tag, err := r.byte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case metadata.ElementTypeBoolean, metadata.ElementTypeChar,
		metadata.ElementTypeI1, metadata.ElementTypeU1,
		metadata.ElementTypeI2, metadata.ElementTypeU2,
		metadata.ElementTypeI4, metadata.ElementTypeU4,
		metadata.ElementTypeI8, metadata.ElementTypeU8,
		metadata.ElementTypeR4, metadata.ElementTypeR8,
		metadata.ElementTypeString, metadata.ElementTypeI,
		metadata.ElementTypeU, metadata.ElementTypeObject,
		metadata.ElementTypeVoid, metadata.ElementTypeTypedByRef:
		t.Kind = KindPrimitive
		t.Primitive = tag

	case metadata.ElementTypeValueType, metadata.ElementTypeClass:
		tok, err := r.compressedUint()
		if err != nil {
			return nil, fmt.Errorf("type token: %w", err)
		}
		t.Kind = KindTypeRef
		t.TypeToken = tok

	case metadata.ElementTypeVar:
		n, err := r.compressedUint()
		if err != nil {
			return nil, err
		}
		t.Kind = KindVar
		t.Number = n

	case metadata.ElementTypeMVar:
		n, err := r.compressedUint()
		if err != nil {
			return nil, err
		}
		t.Kind = KindMVar
		t.Number = n

	case metadata.ElementTypePtr:
		elem, err := r.walkType()
		if err != nil {
			return nil, err
		}
		t.Kind = KindPtr
		t.Elem = elem

	case metadata.ElementTypeByRef:
		elem, err := r.walkType()
		if err != nil {
			return nil, err
		}
		t.Kind = KindByRef
		t.Elem = elem

	case metadata.ElementTypePinned:
		elem, err := r.walkType()
		if err != nil {
			return nil, err
		}
		t.Kind = KindPinned
		t.Elem = elem

	case metadata.ElementTypeSZArray:
		elem, err := r.walkType()
		if err != nil {
			return nil, err
		}
		t.Kind = KindSZArray
		t.Elem = elem

	case metadata.ElementTypeArray:
		elem, err := r.walkType()
		if err != nil {
			return nil, err
		}
		rank, err := r.compressedUint()
		if err != nil {
			return nil, err
		}
		numSizes, err := r.compressedUint()
		if err != nil {
			return nil, err
		}
		sizes := make([]uint32, numSizes)
		for i := range sizes {
			sizes[i], err = r.compressedUint()
			if err != nil {
				return nil, err
			}
		}
		numBounds, err := r.compressedUint()
		if err != nil {
			return nil, err
		}
		bounds := make([]int32, numBounds)
		for i := range bounds {
			bounds[i], err = r.compressedInt()
			if err != nil {
				return nil, err
			}
		}
		t.Kind = KindArray
		t.Elem = elem
		t.Rank = rank
		t.Sizes = sizes
		t.LowerBounds = bounds

	case metadata.ElementTypeGenericInst:
		baseTag, err := r.byte()
		if err != nil {
			return nil, err
		}
		if baseTag != metadata.ElementTypeValueType && baseTag != metadata.ElementTypeClass {
			return nil, fmt.Errorf("sigwalk: GENERICINST base tag 0x%02x", baseTag)
		}
		baseTok, err := r.compressedUint()
		if err != nil {
			return nil, err
		}
		argCount, err := r.compressedUint()
		if err != nil {
			return nil, err
		}
		args := make([]Type, argCount)
		for i := range args {
			arg, err := r.walkType()
			if err != nil {
				return nil, fmt.Errorf("generic arg %d: %w", i, err)
			}
			args[i] = *arg
		}
		t.Kind = KindGenericInst
		t.GenericBase = Type{Kind: KindTypeRef, TypeToken: baseTok}
		t.TypeArgs = args

	case metadata.ElementTypeFnPtr:
		callConv, err := r.byte()
		if err != nil {
			return nil, err
		}
		if callConv&CallConvGeneric != 0 {
			if _, err := r.compressedUint(); err != nil {
				return nil, fmt.Errorf("FNPTR generic param count: %w", err)
			}
		}
		paramCount, err := r.compressedUint()
		if err != nil {
			return nil, fmt.Errorf("FNPTR param count: %w", err)
		}
		ret, err := r.walkType()
		if err != nil {
			return nil, fmt.Errorf("FNPTR return type: %w", err)
		}
		for i := uint32(0); i < paramCount; i++ {
			if _, err := r.walkType(); err != nil {
				return nil, fmt.Errorf("FNPTR param %d: %w", i, err)
			}
		}
		t.Kind = KindFnPtr
		t.Elem = ret

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownElement, tag)
	}

	return t, nil
}
