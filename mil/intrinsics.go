package mil

// Intrinsic names a well-known method the JIT compiles specially instead
// of calling through its normal body — the set this runtime recognizes
// matches the handful every managed runtime special-cases for
// allocation, unsafe reinterpretation, and span construction.
type Intrinsic uint8

// Recognized intrinsics. IntrinsicNone means "compile normally."
const (
	IntrinsicNone Intrinsic = iota
	IntrinsicActivatorCreateInstance
	IntrinsicUnsafeAs
	IntrinsicUnsafeAdd
	IntrinsicMemoryMarshalCreateSpan
	IntrinsicRuntimeHelpersInitializeArray
	IntrinsicMDArrayCtor
	IntrinsicMDArrayGet
	IntrinsicMDArraySet
	IntrinsicMDArrayAddress
)

type intrinsicKey struct {
	namespace string
	typeName  string
	method    string
}

var intrinsicTable = map[intrinsicKey]Intrinsic{
	{"System", "Activator", "CreateInstance"}:                     IntrinsicActivatorCreateInstance,
	{"System.Runtime.CompilerServices", "Unsafe", "As"}:            IntrinsicUnsafeAs,
	{"System.Runtime.CompilerServices", "Unsafe", "Add"}:           IntrinsicUnsafeAdd,
	{"System.Runtime.InteropServices", "MemoryMarshal", "CreateSpan"}: IntrinsicMemoryMarshalCreateSpan,
	{"System.Runtime.CompilerServices", "RuntimeHelpers", "InitializeArray"}: IntrinsicRuntimeHelpersInitializeArray,
}

// classifyIntrinsic looks mi up in the recognized-intrinsic table by its
// owner type's namespace/name and its own name.
func classifyIntrinsic(mi *MethodInfo) Intrinsic {
	if mi.OwnerType == nil {
		return IntrinsicNone
	}
	key := intrinsicKey{namespace: mi.OwnerType.Namespace, typeName: mi.OwnerType.Name, method: mi.Name}
	return intrinsicTable[key]
}

// mdArrayIntrinsic classifies one of the four pseudo-methods the
// metadata format synthesizes on every multi-dimensional array type
// (ECMA-335 §II.14.2) — they carry a MemberRef naming them but no
// MethodDef anywhere, since array types have no TypeDef of their own.
func mdArrayIntrinsic(name string) (Intrinsic, bool) {
	switch name {
	case ".ctor":
		return IntrinsicMDArrayCtor, true
	case "Get":
		return IntrinsicMDArrayGet, true
	case "Set":
		return IntrinsicMDArraySet, true
	case "Address":
		return IntrinsicMDArrayAddress, true
	default:
		return IntrinsicNone, false
	}
}
