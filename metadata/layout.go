package metadata

// Row layout is table-driven: every table's column list is declared once
// here as a schema, and layoutRows turns row counts plus heap/coded-index
// widths into per-table row sizes and byte offsets. This mirrors how the
// teacher's per-table parse functions each inlined the same handful of
// width rules (2 bytes for a Word/simple-table index, heap-dependent
// width for a heap index, tag-bit-dependent width for a coded index) —
// collecting them into one schema avoids repeating that arithmetic once
// per table.
//
// Tables this core never projects into a row struct (CustomAttribute,
// the *Ptr tables, EventMap/Event/..., ModuleRef, ImplMap, ENCLog/ENCMap,
// AssemblyProcessor/OS, File, ExportedType, ManifestResource) still need
// a correct schema: any table after them in the fixed table order only
// gets the right offset if every predecessor's row size is known, parsed
// or not.

type columnKind uint8

const (
	colWord columnKind = iota // a uint16 (flags, a Number, etc.)
	colDword
	colString
	colGUID
	colBlob
	colCoded
)

type column struct {
	kind  columnKind
	coded codedIndex
}

var (
	word   = column{kind: colWord}
	dword  = column{kind: colDword}
	strCol = column{kind: colString}
	guid   = column{kind: colGUID}
	blob   = column{kind: colBlob}
)

func coded(ci codedIndex) column { return column{kind: colCoded, coded: ci} }

// schema lists every table's columns in declaration order, indexed by
// table id. A simple row index into one table is expressed as a coded
// index with 0 tag bits over that one table, which keeps the width
// arithmetic uniform without a special case. The columns that index the
// Event and Property tables from EventMap, EventPtr, PropertyMap and
// PropertyPtr are the exception: they use a fixed 2-byte `word`
// regardless of the target table's row count.
var schema = [numTables][]column{
	Module:                 {word, strCol, guid, guid, guid},
	TypeRef:                {coded(idxResolutionScope), strCol, strCol},
	TypeDef:                {dword, strCol, strCol, coded(idxTypeDefOrRef), coded(idxField), coded(idxMethodDef)},
	FieldPtr:               {coded(idxField)},
	Field:                  {word, strCol, blob},
	MethodPtr:              {coded(idxMethodDef)},
	MethodDef:              {dword, word, word, strCol, blob, coded(idxParam)},
	ParamPtr:               {coded(idxParam)},
	Param:                  {word, word, strCol},
	InterfaceImpl:          {coded(idxTypeDef), coded(idxTypeDefOrRef)},
	MemberRef:              {coded(idxMemberRefParent), strCol, blob},
	Constant:               {word, coded(idxHasConstant), blob},
	CustomAttribute:        {coded(codedIndex{tagBits: 5, tables: []int{MethodDef, Field, TypeRef, TypeDef, Param, InterfaceImpl, MemberRef, Module, DeclSecurity, Property, Event, StandAloneSig, ModuleRef, TypeSpec, Assembly, AssemblyRef, FileMD, ExportedType, ManifestResource, GenericParam, GenericParamConstraint, MethodSpec}}), coded(idxMethodDefOrRef), blob},
	FieldMarshal:           {coded(idxHasConstant), blob},
	DeclSecurity:           {word, coded(idxTypeOrMethodDef), blob},
	ClassLayout:            {word, dword, coded(idxTypeDef)},
	FieldLayout:            {dword, coded(idxField)},
	StandAloneSig:          {blob},
	EventMap:               {coded(idxTypeDef), word},
	EventPtr:               {word},
	Event:                  {word, strCol, coded(idxTypeDefOrRef)},
	PropertyMap:            {coded(idxTypeDef), word},
	PropertyPtr:            {word},
	Property:               {word, strCol, blob},
	MethodSemantics:        {word, coded(idxMethodDef), coded(codedIndex{tagBits: 1, tables: []int{Event, Property}})},
	MethodImpl:             {coded(idxTypeDef), coded(idxMethodDefOrRef), coded(idxMethodDefOrRef)},
	ModuleRef:              {strCol},
	TypeSpec:               {blob},
	ImplMap:                {word, coded(idxMemberRefParent), strCol, word},
	FieldRVA:                {dword, coded(idxField)},
	ENCLog:                 {dword, dword},
	ENCMap:                 {dword},
	Assembly:               {dword, word, word, word, word, dword, blob, strCol, strCol},
	AssemblyProcessor:      {dword},
	AssemblyOS:             {dword, dword, dword},
	AssemblyRef:            {word, word, word, word, dword, blob, strCol, strCol, blob},
	AssemblyRefProcessor:   {dword, coded(codedIndex{tagBits: 0, tables: []int{AssemblyRef}})},
	AssemblyRefOS:          {dword, dword, dword, coded(codedIndex{tagBits: 0, tables: []int{AssemblyRef}})},
	FileMD:                 {dword, strCol, blob},
	ExportedType:           {dword, dword, strCol, strCol, coded(codedIndex{tagBits: 2, tables: []int{FileMD, AssemblyRef, ExportedType}})},
	ManifestResource:       {dword, dword, strCol, coded(codedIndex{tagBits: 2, tables: []int{FileMD, AssemblyRef, ExportedType}})},
	NestedClass:            {coded(idxTypeDef), coded(idxTypeDef)},
	GenericParam:           {word, word, coded(idxTypeOrMethodDef), strCol},
	MethodSpec:             {coded(idxMethodDefOrRef), blob},
	GenericParamConstraint: {coded(codedIndex{tagBits: 0, tables: []int{GenericParam}}), coded(idxTypeDefOrRef)},
}

// columnWidth returns a column's byte width given the owning image's
// heap/table sizes.
func (img *Image) columnWidth(c column) uint32 {
	switch c.kind {
	case colWord:
		return 2
	case colDword:
		return 4
	case colString:
		return img.heapIndexSize(StringHeapBit)
	case colGUID:
		return img.heapIndexSize(GUIDHeapBit)
	case colBlob:
		return img.heapIndexSize(BlobHeapBit)
	case colCoded:
		return img.indexSize(c.coded)
	default:
		return 4
	}
}

// layoutRows computes each present table's row size and starting byte
// offset, in fixed table order, immediately after the table-stream
// header's row-count block (already recorded in img.tableOffset[0] by
// parseTableStreamHeader).
func (img *Image) layoutRows() {
	offset := img.tableOffset[0]
	for t := 0; t < numTables; t++ {
		rowSize := uint32(0)
		for _, c := range schema[t] {
			rowSize += img.columnWidth(c)
		}
		img.rowSize[t] = rowSize
		img.tableOffset[t] = offset
		offset += rowSize * img.Header.RowCounts[t]
	}
}

// rowOffset returns the byte offset of a table's 1-based row rid, or an
// error if the table or row id is out of range.
func (img *Image) rowOffset(table int, rid uint32) (uint32, error) {
	if table < 0 || table >= numTables {
		return 0, ErrUnknownTable
	}
	if rid == 0 || rid > img.Header.RowCounts[table] {
		return 0, ErrRowOutOfRange
	}
	return img.tableOffset[table] + (rid-1)*img.rowSize[table], nil
}
