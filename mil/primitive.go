package mil

import (
	"fmt"

	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/typereg"
)

// primitiveMT maps a signature ELEMENT_TYPE byte to its well-known MT:
// the fixed-width primitives, I/U (IntPtr/UIntPtr), and the STRING and
// OBJECT reference types all map through primitiveToken.
// ELEMENT_TYPE_TYPEDBYREF, VOID and every other byte have no well-known
// MT here and return an error.
func (r *Resolver) primitiveMT(elementType byte) (*typereg.MT, error) {
	tok, ok := primitiveToken(elementType)
	if !ok {
		return nil, fmt.Errorf("mil: ELEMENT_TYPE 0x%02x has no well-known primitive MT", elementType)
	}
	mt := r.Registry.WellKnown(tok)
	if mt == nil {
		return nil, fmt.Errorf("mil: well-known primitive 0x%02x not yet captured", elementType)
	}
	return mt, nil
}

func primitiveToken(elementType byte) (metadata.Token, bool) {
	switch elementType {
	case metadata.ElementTypeBoolean:
		return metadata.WellKnownBoolean, true
	case metadata.ElementTypeChar:
		return metadata.WellKnownChar, true
	case metadata.ElementTypeI1:
		return metadata.WellKnownSByte, true
	case metadata.ElementTypeU1:
		return metadata.WellKnownByte, true
	case metadata.ElementTypeI2:
		return metadata.WellKnownInt16, true
	case metadata.ElementTypeU2:
		return metadata.WellKnownUInt16, true
	case metadata.ElementTypeI4:
		return metadata.WellKnownInt32, true
	case metadata.ElementTypeU4:
		return metadata.WellKnownUInt32, true
	case metadata.ElementTypeI8:
		return metadata.WellKnownInt64, true
	case metadata.ElementTypeU8:
		return metadata.WellKnownUInt64, true
	case metadata.ElementTypeR4:
		return metadata.WellKnownSingle, true
	case metadata.ElementTypeR8:
		return metadata.WellKnownDouble, true
	case metadata.ElementTypeI:
		return metadata.WellKnownIntPtrVal, true
	case metadata.ElementTypeU:
		return metadata.WellKnownUIntPtrVal, true
	case metadata.ElementTypeString:
		return metadata.WellKnownString, true
	case metadata.ElementTypeObject:
		return metadata.WellKnownObject, true
	default:
		return 0, false
	}
}

// GetTypeSize returns mt's instance size in bytes: the fixed width for
// a primitive, pointerSize for any reference type (object header is the
// GC's concern, out of this core's scope — this is the *managed
// reference* width callers see, not the allocated object's footprint),
// or the value type's resolved InstanceSize.
func GetTypeSize(mt *typereg.MT) uint32 {
	if w, ok := primitiveSize(mt); ok {
		return w
	}
	if mt.IsValueType {
		return mt.InstanceSize
	}
	return pointerSize
}

func primitiveSize(mt *typereg.MT) (uint32, bool) {
	switch mt.Name {
	case "Boolean", "SByte", "Byte":
		return 1, true
	case "Char", "Int16", "UInt16":
		return 2, true
	case "Int32", "UInt32", "Single":
		return 4, true
	case "Int64", "UInt64", "Double", "IntPtr", "UIntPtr":
		return 8, true
	default:
		return 0, false
	}
}

// ResolveArrayElementType returns mt's element type if mt is an array
// MT, or an error otherwise.
func ResolveArrayElementType(mt *typereg.MT) (*typereg.MT, error) {
	if !mt.IsArray {
		return nil, fmt.Errorf("mil: %s is not an array type", mt.Name)
	}
	return mt.ElementType, nil
}
