// Package metadata decodes the ECMA-335 metadata tables (the #~ stream
// and its heaps) that the rest of this module resolves tokens against.
//
// References: ECMA-335 6th edition, https://www.ntcore.com/files/dotnetformat.htm
package metadata

// Metadata table ids. The numeric values are the table's row in the
// MaskValid bit vector and the high byte of any token naming a row in it.
const (
	Module          = 0x00
	TypeRef         = 0x01
	TypeDef         = 0x02
	FieldPtr        = 0x03
	Field           = 0x04
	MethodPtr       = 0x05
	MethodDef       = 0x06
	ParamPtr        = 0x07
	Param           = 0x08
	InterfaceImpl   = 0x09
	MemberRef       = 0x0a
	Constant        = 0x0b
	CustomAttribute = 0x0c
	FieldMarshal    = 0x0d
	DeclSecurity    = 0x0e
	ClassLayout     = 0x0f
	FieldLayout     = 0x10
	StandAloneSig   = 0x11
	EventMap        = 0x12
	EventPtr        = 0x13
	Event           = 0x14
	PropertyMap     = 0x15
	PropertyPtr     = 0x16
	Property        = 0x17
	MethodSemantics = 0x18
	MethodImpl      = 0x19
	ModuleRef       = 0x1a
	TypeSpec        = 0x1b
	ImplMap         = 0x1c
	FieldRVA        = 0x1d
	ENCLog          = 0x1e
	ENCMap          = 0x1f
	Assembly        = 0x20
	AssemblyProcessor       = 0x21
	AssemblyOS              = 0x22
	AssemblyRef             = 0x23
	AssemblyRefProcessor    = 0x24
	AssemblyRefOS           = 0x25
	FileMD                  = 0x26
	ExportedType            = 0x27
	ManifestResource        = 0x28
	NestedClass             = 0x29
	GenericParam            = 0x2a
	MethodSpec              = 0x2b
	GenericParamConstraint  = 0x2c
)

// Well-known synthetic table id, distinct from any row table: a token with
// this high byte names a standard-library identity independent of any
// assembly.
const WellKnownTable = 0xF0

// Heap stream bit positions within the table-stream header's Heaps field.
const (
	StringHeapBit = 0
	GUIDHeapBit   = 1
	BlobHeapBit   = 2
)

var tableNames = map[int]string{
	Module:                 "Module",
	TypeRef:                "TypeRef",
	TypeDef:                "TypeDef",
	FieldPtr:               "FieldPtr",
	Field:                  "Field",
	MethodPtr:              "MethodPtr",
	MethodDef:              "MethodDef",
	ParamPtr:               "ParamPtr",
	Param:                  "Param",
	InterfaceImpl:          "InterfaceImpl",
	MemberRef:              "MemberRef",
	Constant:               "Constant",
	CustomAttribute:        "CustomAttribute",
	FieldMarshal:           "FieldMarshal",
	DeclSecurity:           "DeclSecurity",
	ClassLayout:            "ClassLayout",
	FieldLayout:            "FieldLayout",
	StandAloneSig:          "StandAloneSig",
	EventMap:               "EventMap",
	EventPtr:               "EventPtr",
	Event:                  "Event",
	PropertyMap:            "PropertyMap",
	PropertyPtr:            "PropertyPtr",
	Property:               "Property",
	MethodSemantics:        "MethodSemantics",
	MethodImpl:             "MethodImpl",
	ModuleRef:              "ModuleRef",
	TypeSpec:               "TypeSpec",
	ImplMap:                "ImplMap",
	FieldRVA:               "FieldRVA",
	ENCLog:                 "ENCLog",
	ENCMap:                 "ENCMap",
	Assembly:               "Assembly",
	AssemblyProcessor:      "AssemblyProcessor",
	AssemblyOS:             "AssemblyOS",
	AssemblyRef:            "AssemblyRef",
	AssemblyRefProcessor:   "AssemblyRefProcessor",
	AssemblyRefOS:          "AssemblyRefOS",
	FileMD:                 "File",
	ExportedType:           "ExportedType",
	ManifestResource:       "ManifestResource",
	NestedClass:            "NestedClass",
	GenericParam:           "GenericParam",
	MethodSpec:             "MethodSpec",
	GenericParamConstraint: "GenericParamConstraint",
}

// TableName returns the string name of a table id, or "" if unknown.
func TableName(id int) string {
	return tableNames[id]
}

// Token is a 32-bit metadata identity: table id in the high 8 bits, row id
// (1-based) in the low 24 bits. A Token is an identity, never a pointer.
type Token uint32

// NewToken packs a table id and 1-based row id into a token.
func NewToken(table int, rid uint32) Token {
	return Token(uint32(table)<<24 | (rid & 0x00FFFFFF))
}

// Table returns the token's table id (or WellKnownTable for synthetics).
func (t Token) Table() int { return int(t >> 24) }

// RID returns the token's 1-based row id.
func (t Token) RID() uint32 { return uint32(t) & 0x00FFFFFF }

// IsWellKnown reports whether t names a synthetic well-known identity
// rather than a row in a loaded assembly's tables.
func (t Token) IsWellKnown() bool { return t.Table() == WellKnownTable }

// IsNil reports whether t is the null token (rid 0), which ECMA-335 uses
// as "no value" in optional coded-index columns.
func (t Token) IsNil() bool { return t.RID() == 0 }

// ELEMENT_TYPE codes used in signature blobs (ECMA-335 §II.23.1.16).
const (
	ElementTypeEnd           = 0x00
	ElementTypeVoid          = 0x01
	ElementTypeBoolean       = 0x02
	ElementTypeChar          = 0x03
	ElementTypeI1            = 0x04
	ElementTypeU1            = 0x05
	ElementTypeI2            = 0x06
	ElementTypeU2            = 0x07
	ElementTypeI4            = 0x08
	ElementTypeU4            = 0x09
	ElementTypeI8            = 0x0a
	ElementTypeU8            = 0x0b
	ElementTypeR4            = 0x0c
	ElementTypeR8            = 0x0d
	ElementTypeString        = 0x0e
	ElementTypePtr           = 0x0f
	ElementTypeByRef         = 0x10
	ElementTypeValueType     = 0x11
	ElementTypeClass         = 0x12
	ElementTypeVar           = 0x13
	ElementTypeArray         = 0x14
	ElementTypeGenericInst   = 0x15
	ElementTypeTypedByRef    = 0x16
	ElementTypeI             = 0x18
	ElementTypeU             = 0x19
	ElementTypeFnPtr         = 0x1b
	ElementTypeObject        = 0x1c
	ElementTypeSZArray       = 0x1d
	ElementTypeMVar          = 0x1e
	ElementTypeCModReqd      = 0x1f
	ElementTypeCModOpt       = 0x20
	ElementTypeInternal      = 0x21
	ElementTypeModifier      = 0x40
	ElementTypeSentinel      = 0x41
	ElementTypePinned        = 0x45
)

// Well-known synthetic identities, range 0xF0000001..0xF00000FF.
// Each is one token whose table byte is WellKnownTable; the type handle
// registry binds each to a concrete MT exactly once at startup.
const (
	WellKnownObject Token = Token(WellKnownTable)<<24 | 0x000001
	WellKnownString Token = Token(WellKnownTable)<<24 | 0x000002
	WellKnownValueType Token = Token(WellKnownTable)<<24 | 0x000003
	WellKnownEnum Token = Token(WellKnownTable)<<24 | 0x000004
	WellKnownArray Token = Token(WellKnownTable)<<24 | 0x000005
	WellKnownDelegate Token = Token(WellKnownTable)<<24 | 0x000006
	WellKnownMulticastDelegate Token = Token(WellKnownTable)<<24 | 0x000007
	WellKnownException Token = Token(WellKnownTable)<<24 | 0x000008
	WellKnownType Token = Token(WellKnownTable)<<24 | 0x000009
	WellKnownRuntimeType Token = Token(WellKnownTable)<<24 | 0x00000a
	WellKnownIDisposable Token = Token(WellKnownTable)<<24 | 0x00000b
	WellKnownIntPtr Token = Token(WellKnownTable)<<24 | 0x00000c

	// Primitives, in the order the primitive buffer is synthesized in.
	WellKnownBoolean Token = Token(WellKnownTable)<<24 | 0x000020
	WellKnownChar    Token = Token(WellKnownTable)<<24 | 0x000021
	WellKnownSByte   Token = Token(WellKnownTable)<<24 | 0x000022
	WellKnownByte    Token = Token(WellKnownTable)<<24 | 0x000023
	WellKnownInt16   Token = Token(WellKnownTable)<<24 | 0x000024
	WellKnownUInt16  Token = Token(WellKnownTable)<<24 | 0x000025
	WellKnownInt32   Token = Token(WellKnownTable)<<24 | 0x000026
	WellKnownUInt32  Token = Token(WellKnownTable)<<24 | 0x000027
	WellKnownInt64   Token = Token(WellKnownTable)<<24 | 0x000028
	WellKnownUInt64  Token = Token(WellKnownTable)<<24 | 0x000029
	WellKnownSingle  Token = Token(WellKnownTable)<<24 | 0x00002a
	WellKnownDouble  Token = Token(WellKnownTable)<<24 | 0x00002b
	WellKnownIntPtrVal  Token = Token(WellKnownTable)<<24 | 0x00002c
	WellKnownUIntPtrVal Token = Token(WellKnownTable)<<24 | 0x00002d
)

// PrimitiveTokens lists the well-known primitive tokens in the fixed order
// their MTs occupy the primitive buffer (index 0..13, S6).
var PrimitiveTokens = [...]Token{
	WellKnownBoolean, WellKnownChar, WellKnownSByte, WellKnownByte,
	WellKnownInt16, WellKnownUInt16, WellKnownInt32, WellKnownUInt32,
	WellKnownInt64, WellKnownUInt64, WellKnownSingle, WellKnownDouble,
	WellKnownIntPtrVal, WellKnownUIntPtrVal,
}
