package metadata

// Row layouts below are adapted from ECMA-335 6th edition, restricted to
// the tables this core's resolvers actually walk. Heap-offset
// columns ("an index into the X heap") and coded-index columns keep
// their ECMA column names; this core treats them as opaque uint32s until
// a resolver dereferences them against the owning Image's heaps.

// ModuleRow is the single row of the Module table (0x00).
type ModuleRow struct {
	Generation uint16
	Name       uint32 // #Strings
	Mvid       uint32 // #GUID
	EncID      uint32 // #GUID
	EncBaseID  uint32 // #GUID
}

// TypeRefRow is a row of the TypeRef table (0x01).
type TypeRefRow struct {
	ResolutionScope uint32 // coded index: Module/ModuleRef/AssemblyRef/TypeRef
	TypeName        uint32 // #Strings
	TypeNamespace   uint32 // #Strings
}

// TypeDefRow is a row of the TypeDef table (0x02).
type TypeDefRow struct {
	Flags         uint32
	TypeName      uint32 // #Strings
	TypeNamespace uint32 // #Strings
	Extends       uint32 // coded index: TypeDef/TypeRef/TypeSpec
	FieldList     uint32 // first Field row owned by this type
	MethodList    uint32 // first MethodDef row owned by this type
}

// FieldRow is a row of the Field table (0x04).
type FieldRow struct {
	Flags     uint16
	Name      uint32 // #Strings
	Signature uint32 // #Blob
}

// MethodDefRow is a row of the MethodDef table (0x06).
type MethodDefRow struct {
	RVA       uint32
	ImplFlags uint16
	Flags     uint16
	Name      uint32 // #Strings
	Signature uint32 // #Blob
	ParamList uint32 // first Param row owned by this method
}

// InterfaceImplRow is a row of the InterfaceImpl table (0x09).
type InterfaceImplRow struct {
	Class     uint32 // TypeDef
	Interface uint32 // coded index: TypeDef/TypeRef/TypeSpec
}

// MemberRefRow is a row of the MemberRef table (0x0a).
type MemberRefRow struct {
	Class     uint32 // coded index: MethodDef/ModuleRef/TypeDef/TypeRef/TypeSpec
	Name      uint32 // #Strings
	Signature uint32 // #Blob
}

// ConstantRow is a row of the Constant table (0x0b): the compile-time
// default value attached to a Field, Param, or Property.
type ConstantRow struct {
	Type    uint8 // an ELEMENT_TYPE_* value naming the constant's type
	Parent  uint32 // coded index: Field/Param/Property
	Value   uint32 // #Blob
}

// ClassLayoutRow is a row of the ClassLayout table (0x0f): an explicit
// packing size and/or total size for a value type.
type ClassLayoutRow struct {
	PackingSize uint16
	ClassSize   uint32
	Parent      uint32 // TypeDef
}

// FieldLayoutRow is a row of the FieldLayout table (0x10): an explicit
// byte offset for one field, short-circuiting the sequential algorithm.
type FieldLayoutRow struct {
	Offset uint32
	Field  uint32 // Field
}

// StandAloneSigRow is a row of the StandAloneSig table (0x11).
type StandAloneSigRow struct {
	Signature uint32 // #Blob
}

// TypeSpecRow is a row of the TypeSpec table (0x1b): a type constructed
// by signature (arrays, generic instantiations, pointers).
type TypeSpecRow struct {
	Signature uint32 // #Blob
}

// FieldRVARow is a row of the FieldRVA table (0x1d): a field backed by
// embedded initialized data rather than allocated storage.
type FieldRVARow struct {
	RVA   uint32
	Field uint32 // Field
}

// AssemblyRow is the single row of the Assembly table (0x20).
type AssemblyRow struct {
	HashAlgID      uint32
	MajorVersion   uint16
	MinorVersion   uint16
	BuildNumber    uint16
	RevisionNumber uint16
	Flags          uint32
	PublicKey      uint32 // #Blob
	Name           uint32 // #Strings
	Culture        uint32 // #Strings
}

// AssemblyRefRow is a row of the AssemblyRef table (0x23).
type AssemblyRefRow struct {
	MajorVersion     uint16
	MinorVersion     uint16
	BuildNumber      uint16
	RevisionNumber   uint16
	Flags            uint32
	PublicKeyOrToken uint32 // #Blob
	Name             uint32 // #Strings
	Culture          uint32 // #Strings
	HashValue        uint32 // #Blob
}

// NestedClassRow is a row of the NestedClass table (0x29).
type NestedClassRow struct {
	NestedClass    uint32 // TypeDef
	EnclosingClass uint32 // TypeDef
}

// GenericParamRow is a row of the GenericParam table (0x2a): one type
// parameter of a generic TypeDef or MethodDef.
type GenericParamRow struct {
	Number uint16
	Flags  uint16
	Owner  uint32 // coded index: TypeDef/MethodDef
	Name   uint32 // #Strings
}

// MethodSpecRow is a row of the MethodSpec table (0x2b): one generic
// method instantiation.
type MethodSpecRow struct {
	Method        uint32 // coded index: MethodDef/MemberRef
	Instantiation uint32 // #Blob — a GENERICINST method-type-arg list
}

// GenericParamConstraintRow is a row of the GenericParamConstraint table
// (0x2c).
type GenericParamConstraintRow struct {
	Owner      uint32 // GenericParam
	Constraint uint32 // coded index: TypeDef/TypeRef/TypeSpec
}
