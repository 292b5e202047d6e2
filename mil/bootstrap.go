package mil

import (
	"fmt"

	"github.com/clrcore/jitmeta/metadata"
)

// wellKnownName pairs a well-known token with the (namespace, name) its
// TypeDef carries in the core library that defines it.
type wellKnownName struct {
	token metadata.Token
	ns    string
	name  string
}

// wellKnownCoreTypes lists every well-known token this core needs bound
// to a real TypeDef before any signature referencing it can resolve.
// Array and RuntimeType are included for completeness even though
// nothing in this core currently looks either one up.
var wellKnownCoreTypes = [...]wellKnownName{
	{metadata.WellKnownObject, "System", "Object"},
	{metadata.WellKnownString, "System", "String"},
	{metadata.WellKnownValueType, "System", "ValueType"},
	{metadata.WellKnownEnum, "System", "Enum"},
	{metadata.WellKnownArray, "System", "Array"},
	{metadata.WellKnownDelegate, "System", "Delegate"},
	{metadata.WellKnownMulticastDelegate, "System", "MulticastDelegate"},
	{metadata.WellKnownException, "System", "Exception"},
	{metadata.WellKnownType, "System", "Type"},
	{metadata.WellKnownRuntimeType, "System", "RuntimeType"},
	{metadata.WellKnownIDisposable, "System", "IDisposable"},
	{metadata.WellKnownIntPtr, "System", "IntPtr"},

	{metadata.WellKnownBoolean, "System", "Boolean"},
	{metadata.WellKnownChar, "System", "Char"},
	{metadata.WellKnownSByte, "System", "SByte"},
	{metadata.WellKnownByte, "System", "Byte"},
	{metadata.WellKnownInt16, "System", "Int16"},
	{metadata.WellKnownUInt16, "System", "UInt16"},
	{metadata.WellKnownInt32, "System", "Int32"},
	{metadata.WellKnownUInt32, "System", "UInt32"},
	{metadata.WellKnownInt64, "System", "Int64"},
	{metadata.WellKnownUInt64, "System", "UInt64"},
	{metadata.WellKnownSingle, "System", "Single"},
	{metadata.WellKnownDouble, "System", "Double"},
	{metadata.WellKnownIntPtrVal, "System", "IntPtr"},
	{metadata.WellKnownUIntPtrVal, "System", "UIntPtr"},
}

// BootstrapWellKnownTypes resolves every well-known token's TypeDef out
// of core (the assembly defining System.Object and its neighbors,
// conventionally corlib/mscorlib) and captures each as the registry's
// well-known MT. Every later signature or base-type chain referencing
// VALUETYPE/OBJECT/STRING/a primitive ELEMENT_TYPE resolves through
// these bindings (primitiveMT, isValueTypeBase), so this must run
// before any other assembly is resolved against.
//
// A missing TypeDef is not fatal here — some of these (Array,
// RuntimeType) are bound for completeness but never looked up by
// anything in this core today — it is only reported in the returned
// error so a caller can decide whether its particular corlib subset is
// sufficient.
func (r *Resolver) BootstrapWellKnownTypes(core *metadata.Assembly) error {
	ctx := NewContext(Frame{Assembly: core})
	var missing []string
	for _, wk := range wellKnownCoreTypes {
		if r.Registry.WellKnown(wk.token) != nil {
			continue // already captured (e.g. a second bootstrap call, or tests)
		}
		rid, err := findTypeDefByName(core, wk.ns, wk.name)
		if err != nil {
			missing = append(missing, fmt.Sprintf("%s.%s", wk.ns, wk.name))
			continue
		}
		mt, err := r.ResolveType(ctx, Frame{Assembly: core}, metadata.NewToken(metadata.TypeDef, rid))
		if err != nil {
			return fmt.Errorf("mil: resolving well-known type %s.%s: %w", wk.ns, wk.name, err)
		}
		mt.Token = wk.token // TypeDef[rid]'s own token still resolves mt normally via the cache; this only binds the synthetic identity
		r.Registry.CaptureWellKnown(mt)
	}
	if len(missing) > 0 {
		return fmt.Errorf("mil: core assembly %q is missing well-known types: %v", core.Name, missing)
	}
	return nil
}
