package metadata

// cursor reads a row's columns in schema order, advancing through the
// table stream one column at a time, so every Row accessor stays a few
// lines instead of tracking a running offset by hand.
type cursor struct {
	img *Image
	off uint32
	err error
}

func (img *Image) cursorAt(off uint32) *cursor {
	return &cursor{img: img, off: off}
}

func (c *cursor) word() uint16 {
	if c.err != nil {
		return 0
	}
	v, err := c.img.readU16(c.off)
	if err != nil {
		c.err = err
		return 0
	}
	c.off += 2
	return v
}

func (c *cursor) byte1() uint8 {
	if c.err != nil {
		return 0
	}
	v, err := c.img.readU8(c.off)
	if err != nil {
		c.err = err
		return 0
	}
	c.off++
	return v
}

func (c *cursor) dword() uint32 {
	if c.err != nil {
		return 0
	}
	v, err := c.img.readU32(c.off)
	if err != nil {
		c.err = err
		return 0
	}
	c.off += 4
	return v
}

func (c *cursor) heapIdx(bit int) uint32 {
	if c.err != nil {
		return 0
	}
	if c.img.heapIndexSize(bit) == 2 {
		return uint32(c.word())
	}
	return c.dword()
}

func (c *cursor) codedIdx(ci codedIndex) uint32 {
	if c.err != nil {
		return 0
	}
	v, n, err := c.img.readCoded(ci, c.off)
	if err != nil {
		c.err = err
		return 0
	}
	c.off += n
	return v
}

// Module returns the Module table's single row.
func (img *Image) Module() (ModuleRow, error) {
	if img.RowCount(Module) == 0 {
		return ModuleRow{}, ErrRowOutOfRange
	}
	off, err := img.rowOffset(Module, 1)
	if err != nil {
		return ModuleRow{}, err
	}
	c := img.cursorAt(off)
	row := ModuleRow{
		Generation: c.word(),
		Name:       c.heapIdx(StringHeapBit),
		Mvid:       c.heapIdx(GUIDHeapBit),
		EncID:      c.heapIdx(GUIDHeapBit),
		EncBaseID:  c.heapIdx(GUIDHeapBit),
	}
	return row, c.err
}

// TypeRefRow returns the TypeRef table's 1-based row rid.
func (img *Image) TypeRefRow(rid uint32) (TypeRefRow, error) {
	off, err := img.rowOffset(TypeRef, rid)
	if err != nil {
		return TypeRefRow{}, err
	}
	c := img.cursorAt(off)
	row := TypeRefRow{
		ResolutionScope: c.codedIdx(idxResolutionScope),
		TypeName:        c.heapIdx(StringHeapBit),
		TypeNamespace:   c.heapIdx(StringHeapBit),
	}
	return row, c.err
}

// TypeDefRow returns the TypeDef table's 1-based row rid.
func (img *Image) TypeDefRow(rid uint32) (TypeDefRow, error) {
	off, err := img.rowOffset(TypeDef, rid)
	if err != nil {
		return TypeDefRow{}, err
	}
	c := img.cursorAt(off)
	row := TypeDefRow{
		Flags:         c.dword(),
		TypeName:      c.heapIdx(StringHeapBit),
		TypeNamespace: c.heapIdx(StringHeapBit),
		Extends:       c.codedIdx(idxTypeDefOrRef),
		FieldList:     c.codedIdx(idxField),
		MethodList:    c.codedIdx(idxMethodDef),
	}
	return row, c.err
}

// FieldRow returns the Field table's 1-based row rid.
func (img *Image) FieldRow(rid uint32) (FieldRow, error) {
	off, err := img.rowOffset(Field, rid)
	if err != nil {
		return FieldRow{}, err
	}
	c := img.cursorAt(off)
	row := FieldRow{
		Flags:     c.word(),
		Name:      c.heapIdx(StringHeapBit),
		Signature: c.heapIdx(BlobHeapBit),
	}
	return row, c.err
}

// MethodDefRow returns the MethodDef table's 1-based row rid.
func (img *Image) MethodDefRow(rid uint32) (MethodDefRow, error) {
	off, err := img.rowOffset(MethodDef, rid)
	if err != nil {
		return MethodDefRow{}, err
	}
	c := img.cursorAt(off)
	row := MethodDefRow{
		RVA:       c.dword(),
		ImplFlags: c.word(),
		Flags:     c.word(),
		Name:      c.heapIdx(StringHeapBit),
		Signature: c.heapIdx(BlobHeapBit),
		ParamList: c.codedIdx(idxParam),
	}
	return row, c.err
}

// InterfaceImplRow returns the InterfaceImpl table's 1-based row rid.
func (img *Image) InterfaceImplRow(rid uint32) (InterfaceImplRow, error) {
	off, err := img.rowOffset(InterfaceImpl, rid)
	if err != nil {
		return InterfaceImplRow{}, err
	}
	c := img.cursorAt(off)
	row := InterfaceImplRow{
		Class:     c.codedIdx(idxTypeDef),
		Interface: c.codedIdx(idxTypeDefOrRef),
	}
	return row, c.err
}

// MemberRefRow returns the MemberRef table's 1-based row rid.
func (img *Image) MemberRefRow(rid uint32) (MemberRefRow, error) {
	off, err := img.rowOffset(MemberRef, rid)
	if err != nil {
		return MemberRefRow{}, err
	}
	c := img.cursorAt(off)
	row := MemberRefRow{
		Class:     c.codedIdx(idxMemberRefParent),
		Name:      c.heapIdx(StringHeapBit),
		Signature: c.heapIdx(BlobHeapBit),
	}
	return row, c.err
}

// ConstantRow returns the Constant table's 1-based row rid.
func (img *Image) ConstantRow(rid uint32) (ConstantRow, error) {
	off, err := img.rowOffset(Constant, rid)
	if err != nil {
		return ConstantRow{}, err
	}
	c := img.cursorAt(off)
	row := ConstantRow{
		Type: c.byte1(),
	}
	c.byte1() // padding byte
	row.Parent = c.codedIdx(idxHasConstant)
	row.Value = c.heapIdx(BlobHeapBit)
	return row, c.err
}

// ClassLayoutRow returns the ClassLayout table's 1-based row rid.
func (img *Image) ClassLayoutRow(rid uint32) (ClassLayoutRow, error) {
	off, err := img.rowOffset(ClassLayout, rid)
	if err != nil {
		return ClassLayoutRow{}, err
	}
	c := img.cursorAt(off)
	row := ClassLayoutRow{
		PackingSize: c.word(),
		ClassSize:   c.dword(),
		Parent:      c.codedIdx(idxTypeDef),
	}
	return row, c.err
}

// FieldLayoutRow returns the FieldLayout table's 1-based row rid.
func (img *Image) FieldLayoutRow(rid uint32) (FieldLayoutRow, error) {
	off, err := img.rowOffset(FieldLayout, rid)
	if err != nil {
		return FieldLayoutRow{}, err
	}
	c := img.cursorAt(off)
	row := FieldLayoutRow{
		Offset: c.dword(),
		Field:  c.codedIdx(idxField),
	}
	return row, c.err
}

// StandAloneSigRow returns the StandAloneSig table's 1-based row rid.
func (img *Image) StandAloneSigRow(rid uint32) (StandAloneSigRow, error) {
	off, err := img.rowOffset(StandAloneSig, rid)
	if err != nil {
		return StandAloneSigRow{}, err
	}
	c := img.cursorAt(off)
	row := StandAloneSigRow{Signature: c.heapIdx(BlobHeapBit)}
	return row, c.err
}

// TypeSpecRow returns the TypeSpec table's 1-based row rid.
func (img *Image) TypeSpecRow(rid uint32) (TypeSpecRow, error) {
	off, err := img.rowOffset(TypeSpec, rid)
	if err != nil {
		return TypeSpecRow{}, err
	}
	c := img.cursorAt(off)
	row := TypeSpecRow{Signature: c.heapIdx(BlobHeapBit)}
	return row, c.err
}

// FieldRVARow returns the FieldRVA table's 1-based row rid.
func (img *Image) FieldRVARow(rid uint32) (FieldRVARow, error) {
	off, err := img.rowOffset(FieldRVA, rid)
	if err != nil {
		return FieldRVARow{}, err
	}
	c := img.cursorAt(off)
	row := FieldRVARow{
		RVA:   c.dword(),
		Field: c.codedIdx(idxField),
	}
	return row, c.err
}

// AssemblyRow returns the Assembly table's single row.
func (img *Image) AssemblyRow() (AssemblyRow, error) {
	if img.RowCount(Assembly) == 0 {
		return AssemblyRow{}, ErrRowOutOfRange
	}
	off, err := img.rowOffset(Assembly, 1)
	if err != nil {
		return AssemblyRow{}, err
	}
	c := img.cursorAt(off)
	row := AssemblyRow{
		HashAlgID:      c.dword(),
		MajorVersion:   c.word(),
		MinorVersion:   c.word(),
		BuildNumber:    c.word(),
		RevisionNumber: c.word(),
		Flags:          c.dword(),
		PublicKey:      c.heapIdx(BlobHeapBit),
		Name:           c.heapIdx(StringHeapBit),
		Culture:        c.heapIdx(StringHeapBit),
	}
	return row, c.err
}

// AssemblyRefRow returns the AssemblyRef table's 1-based row rid.
func (img *Image) AssemblyRefRow(rid uint32) (AssemblyRefRow, error) {
	off, err := img.rowOffset(AssemblyRef, rid)
	if err != nil {
		return AssemblyRefRow{}, err
	}
	c := img.cursorAt(off)
	row := AssemblyRefRow{
		MajorVersion:     c.word(),
		MinorVersion:     c.word(),
		BuildNumber:      c.word(),
		RevisionNumber:   c.word(),
		Flags:            c.dword(),
		PublicKeyOrToken: c.heapIdx(BlobHeapBit),
		Name:             c.heapIdx(StringHeapBit),
		Culture:          c.heapIdx(StringHeapBit),
		HashValue:        c.heapIdx(BlobHeapBit),
	}
	return row, c.err
}

// NestedClassRow returns the NestedClass table's 1-based row rid.
func (img *Image) NestedClassRow(rid uint32) (NestedClassRow, error) {
	off, err := img.rowOffset(NestedClass, rid)
	if err != nil {
		return NestedClassRow{}, err
	}
	c := img.cursorAt(off)
	row := NestedClassRow{
		NestedClass:    c.codedIdx(idxTypeDef),
		EnclosingClass: c.codedIdx(idxTypeDef),
	}
	return row, c.err
}

// GenericParamRow returns the GenericParam table's 1-based row rid.
func (img *Image) GenericParamRow(rid uint32) (GenericParamRow, error) {
	off, err := img.rowOffset(GenericParam, rid)
	if err != nil {
		return GenericParamRow{}, err
	}
	c := img.cursorAt(off)
	row := GenericParamRow{
		Number: c.word(),
		Flags:  c.word(),
		Owner:  c.codedIdx(idxTypeOrMethodDef),
		Name:   c.heapIdx(StringHeapBit),
	}
	return row, c.err
}

// MethodSpecRow returns the MethodSpec table's 1-based row rid.
func (img *Image) MethodSpecRow(rid uint32) (MethodSpecRow, error) {
	off, err := img.rowOffset(MethodSpec, rid)
	if err != nil {
		return MethodSpecRow{}, err
	}
	c := img.cursorAt(off)
	row := MethodSpecRow{
		Method:        c.codedIdx(idxMethodDefOrRef),
		Instantiation: c.heapIdx(BlobHeapBit),
	}
	return row, c.err
}

// GenericParamConstraintRow returns the GenericParamConstraint table's
// 1-based row rid.
func (img *Image) GenericParamConstraintRow(rid uint32) (GenericParamConstraintRow, error) {
	off, err := img.rowOffset(GenericParamConstraint, rid)
	if err != nil {
		return GenericParamConstraintRow{}, err
	}
	c := img.cursorAt(off)
	row := GenericParamConstraintRow{
		Owner:      c.codedIdx(codedIndex{tables: []int{GenericParam}}),
		Constraint: c.codedIdx(idxTypeDefOrRef),
	}
	return row, c.err
}
