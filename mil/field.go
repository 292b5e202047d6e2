package mil

import (
	"fmt"

	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/sigwalk"
	"github.com/clrcore/jitmeta/typereg"
)

// TypeDef.Flags layout-kind mask and values (ECMA-335 §II.23.1.15).
const (
	tdLayoutMask       = 0x00000018
	tdAutoLayout       = 0x00000000
	tdSequentialLayout = 0x00000008
	tdExplicitLayout   = 0x00000010
)

// Field.Flags bits this resolver cares about (ECMA-335 §II.23.1.5).
const (
	fieldAttrStatic  = 0x0010
	fieldAttrLiteral = 0x0040
)

// FieldInfo is one resolved field: its type, and either its instance
// byte offset or its static storage slot, never both.
type FieldInfo struct {
	Token     metadata.Token
	Name      string
	FieldType *typereg.MT

	IsStatic bool
	IsLiteral bool

	Offset     uint32 // valid when !IsStatic
	StaticSlot uint32 // valid when IsStatic && !IsLiteral

	HasRVA bool
	RVA    uint32
}

// fieldLayout is the cached result of laying a TypeDef's fields out:
// per-field info plus the computed instance size and static storage
// slot count, so a second ResolveFields call on the same MT is free.
type fieldLayout struct {
	fields       []FieldInfo
	instanceSize uint32
	staticCount  uint32
}

// ResolveFields lays out every field declared directly on mt's TypeDef
// (inherited fields belong to the base MT and are not repeated here),
// caching the result. Honors ClassLayout/FieldLayout for explicit
// layout and falls back to sequential layout — packed by each field's
// own size, capped by any declared packing size — otherwise.
func (r *Resolver) ResolveFields(ctx *Context, frame Frame, mt *typereg.MT) ([]FieldInfo, error) {
	if cached, ok := r.fieldLayouts.Load(mt); ok {
		return cached.(*fieldLayout).fields, nil
	}
	fl, err := r.layoutFields(ctx, frame, mt)
	if err != nil {
		return nil, err
	}
	r.fieldLayouts.Store(mt, fl)
	mt.InstanceSize = fl.instanceSize
	return fl.fields, nil
}

// ResolveField resolves a FieldDef or MemberRef token into the
// FieldInfo for one field: its type, and its instance offset or static
// storage slot.
func (r *Resolver) ResolveField(ctx *Context, frame Frame, tok metadata.Token) (*FieldInfo, error) {
	switch tok.Table() {
	case metadata.Field:
		return r.resolveFieldDef(ctx, frame, frame.Assembly, tok.RID())
	case metadata.MemberRef:
		return r.resolveFieldMemberRef(ctx, frame, tok)
	default:
		return nil, fmt.Errorf("%w: table %s", ErrUnknownTokenTable, metadata.TableName(tok.Table()))
	}
}

func (r *Resolver) resolveFieldDef(ctx *Context, frame Frame, asm *metadata.Assembly, rid uint32) (*FieldInfo, error) {
	ownerRID, err := ownerTypeDefForField(asm, rid)
	if err != nil {
		return nil, err
	}
	owner, err := r.ResolveType(ctx, frame, metadata.NewToken(metadata.TypeDef, ownerRID))
	if err != nil {
		return nil, fmt.Errorf("mil: resolving owner of Field[%d]: %w", rid, err)
	}
	fields, err := r.ResolveFields(ctx, frame, owner)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		if fields[i].Token.RID() == rid {
			return &fields[i], nil
		}
	}
	return nil, fmt.Errorf("mil: Field[%d] missing from %s's own layout", rid, owner.Name)
}

// resolveFieldMemberRef resolves a MemberRef naming a field (as opposed
// to a method — the same Field/MemberRef-parent coded index and Class
// column shape, ECMA-335 §II.22.25, cover both). A well-known target's
// MT carries its synthetic registry token, not the TypeDef row id it
// was bootstrap-resolved from, so its real TypeDef is re-derived by
// (namespace, name) first — the "AOT static field, string-keyed
// type-name.field-name lookup" this resolves against is that same
// name-keyed rebind, not a separate table.
func (r *Resolver) resolveFieldMemberRef(ctx *Context, frame Frame, tok metadata.Token) (*FieldInfo, error) {
	row, err := frame.Assembly.MemberRefRow(tok.RID())
	if err != nil {
		return nil, err
	}
	name, err := frame.Assembly.String(row.Name)
	if err != nil {
		return nil, err
	}

	parentTable, parentRID := decodeMemberRefParent(row.Class)
	var owner *typereg.MT
	switch parentTable {
	case metadata.TypeDef, metadata.TypeRef, metadata.TypeSpec:
		owner, err = r.ResolveType(ctx, frame, metadata.NewToken(parentTable, parentRID))
		if err != nil {
			return nil, fmt.Errorf("mil: resolving MemberRef field %s parent: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("mil: MemberRef field %s has unsupported parent table %s", name, metadata.TableName(parentTable))
	}

	def := owner
	if def.GenericDef != nil {
		def = def.GenericDef
	}
	defAsm := def.DefiningAssembly
	if defAsm == nil {
		defAsm = frame.Assembly
	}

	ownerTDRID := def.Token.RID()
	if def.Token.IsWellKnown() {
		ownerTDRID, err = findTypeDefByName(defAsm, def.Namespace, def.Name)
		if err != nil {
			return nil, fmt.Errorf("mil: resolving MemberRef field %s: AOT target %s.%s: %w", name, def.Namespace, def.Name, err)
		}
	}

	fieldRID, err := findFieldDefByName(defAsm, ownerTDRID, name)
	if err != nil {
		return nil, fmt.Errorf("mil: resolving MemberRef field %s: %w", name, err)
	}
	fi, err := r.resolveFieldDef(ctx, withFrameAssembly(frame, defAsm), defAsm, fieldRID)
	if err != nil {
		return nil, err
	}
	return fi, nil
}

// withFrameAssembly rebinds frame's assembly, keeping whatever
// generic-argument context it already carried.
func withFrameAssembly(frame Frame, asm *metadata.Assembly) Frame {
	frame.Assembly = asm
	return frame
}

// ownerTypeDefForField finds the TypeDef whose FieldList range contains
// fieldRID, mirroring ownerTypeDefForMethod but for fields.
func ownerTypeDefForField(asm *metadata.Assembly, fieldRID uint32) (uint32, error) {
	total := asm.RowCount(metadata.TypeDef)
	for rid := uint32(1); rid <= total; rid++ {
		row, err := asm.TypeDefRow(rid)
		if err != nil {
			return 0, err
		}
		end, err := fieldRangeEndGeneric(asm, rid, total, row.FieldList, metadata.Field)
		if err != nil {
			return 0, err
		}
		if fieldRID >= row.FieldList && fieldRID < end {
			return rid, nil
		}
	}
	return 0, fmt.Errorf("mil: Field[%d] owned by no TypeDef", fieldRID)
}

// findFieldDefByName scans ownerTDRID's declared fields for one named
// name. Unlike method lookup, no arity/signature disambiguation is
// needed: ECMA-335 forbids two fields of the same name on one TypeDef.
func findFieldDefByName(asm *metadata.Assembly, ownerTDRID uint32, name string) (uint32, error) {
	ownerRow, err := asm.TypeDefRow(ownerTDRID)
	if err != nil {
		return 0, err
	}
	end, err := fieldRangeEndGeneric(asm, ownerTDRID, asm.RowCount(metadata.TypeDef), ownerRow.FieldList, metadata.Field)
	if err != nil {
		return 0, err
	}
	for rid := ownerRow.FieldList; rid < end; rid++ {
		row, err := asm.FieldRow(rid)
		if err != nil {
			return 0, err
		}
		rowName, err := asm.String(row.Name)
		if err != nil {
			return 0, err
		}
		if rowName == name {
			return rid, nil
		}
	}
	return 0, fmt.Errorf("mil: no field named %s", name)
}

func (r *Resolver) layoutFields(ctx *Context, frame Frame, mt *typereg.MT) (*fieldLayout, error) {
	asm := frame.Assembly
	tdRID := mt.Token.RID()
	tdRow, err := asm.TypeDefRow(tdRID)
	if err != nil {
		return nil, err
	}

	firstField := tdRow.FieldList
	lastField, err := fieldRangeEnd(asm, tdRID, firstField)
	if err != nil {
		return nil, err
	}

	layoutKind := tdRow.Flags & tdLayoutMask
	explicitOffsets, err := explicitFieldOffsets(asm)
	if err != nil {
		return nil, err
	}
	rvaByField, err := fieldRVAIndex(asm)
	if err != nil {
		return nil, err
	}

	cls, hasCls, err := classLayoutFor(asm, tdRID)
	if err != nil {
		return nil, err
	}

	fl := &fieldLayout{}
	var staticCursor uint32
	instanceCursor, err := r.baseInstanceCursor(ctx, frame, mt)
	if err != nil {
		return nil, err
	}

	for rid := firstField; rid < lastField; rid++ {
		row, err := asm.FieldRow(rid)
		if err != nil {
			return nil, err
		}
		name, err := asm.String(row.Name)
		if err != nil {
			return nil, err
		}
		sigBlob, err := asm.Blob(row.Signature)
		if err != nil {
			return nil, err
		}
		sigType, err := sigwalk.WalkFieldSig(sigBlob)
		if err != nil {
			return nil, fmt.Errorf("mil: field %s signature: %w", name, err)
		}
		fieldType, err := r.resolveSigType(ctx, frame, sigType)
		if err != nil {
			return nil, fmt.Errorf("mil: resolving type of field %s: %w", name, err)
		}

		info := FieldInfo{
			Token:     metadata.NewToken(metadata.Field, rid),
			Name:      name,
			FieldType: fieldType,
			IsStatic:  row.Flags&fieldAttrStatic != 0,
			IsLiteral: row.Flags&fieldAttrLiteral != 0,
		}
		if rva, ok := rvaByField[rid]; ok {
			info.HasRVA = true
			info.RVA = rva
		}

		size := GetTypeSize(fieldType)
		switch {
		case info.IsLiteral:
			// compile-time constant only, never stored.
		case info.IsStatic:
			staticCursor = align(staticCursor, size)
			info.StaticSlot = staticCursor
			staticCursor += size
			fl.staticCount++
		case layoutKind == tdExplicitLayout:
			off, ok := explicitOffsets[rid]
			if !ok {
				return nil, fmt.Errorf("mil: field %s has no FieldLayout row under explicit layout", name)
			}
			info.Offset = off
			if end := off + size; end > instanceCursor {
				instanceCursor = end
			}
		default: // tdAutoLayout and tdSequentialLayout both pack sequentially here
			fieldAlign := size
			if hasCls && cls.PackingSize != 0 && uint32(cls.PackingSize) < fieldAlign {
				fieldAlign = uint32(cls.PackingSize)
			}
			instanceCursor = align(instanceCursor, fieldAlign)
			info.Offset = instanceCursor
			instanceCursor += size
		}

		fl.fields = append(fl.fields, info)
	}

	if hasCls && cls.ClassSize > instanceCursor {
		instanceCursor = cls.ClassSize
	}
	fl.instanceSize = instanceCursor
	return fl, nil
}

// baseInstanceCursor returns the instance-layout starting point for mt's
// own fields (ECMA-335 §II.22.8 sequential layout starts past whatever
// the base type already occupies). Value types always start at offset
// 0 — a value type's storage is its fields, not a boxed object. A
// reference type with no base (System.Object itself) starts past the
// object header at offset 8; a derived reference type starts past
// however much its base type's own fields occupy, which may require
// laying the base type out first.
func (r *Resolver) baseInstanceCursor(ctx *Context, frame Frame, mt *typereg.MT) (uint32, error) {
	if mt.IsValueType {
		return 0, nil
	}
	if mt.BaseType == nil {
		return 8, nil
	}
	return r.baseInstanceSize(ctx, frame, mt.BaseType)
}

// baseInstanceSize returns base's fully laid out instance size,
// resolving its fields first if that has not already happened — a
// reference-type instance size is never 0 once computed (it is always
// at least the 8-byte object header), so a 0 here reliably means "not
// laid out yet". base may belong to a different assembly than the one
// currently being resolved, so its fields are resolved in a frame
// scoped to its own defining assembly.
func (r *Resolver) baseInstanceSize(ctx *Context, frame Frame, base *typereg.MT) (uint32, error) {
	if base.InstanceSize != 0 || base.IsValueType {
		return base.InstanceSize, nil
	}
	baseFrame := frame
	if base.DefiningAssembly != nil {
		baseFrame = Frame{Assembly: base.DefiningAssembly}
	}
	err := withFrame(ctx, baseFrame, func() error {
		_, err := r.ResolveFields(ctx, baseFrame, base)
		return err
	})
	if err != nil {
		return 0, err
	}
	return base.InstanceSize, nil
}

// align rounds offset up to a multiple of size (size 0 means no fields
// precede it; treated as already aligned).
func align(offset, size uint32) uint32 {
	if size == 0 {
		return offset
	}
	if rem := offset % size; rem != 0 {
		offset += size - rem
	}
	return offset
}

// fieldRangeEnd returns the row id one past tdRID's last field, i.e.
// the next TypeDef's FieldList, or one past the Field table's last row
// if tdRID is the last TypeDef.
func fieldRangeEnd(asm *metadata.Assembly, tdRID uint32, firstField uint32) (uint32, error) {
	total := asm.RowCount(metadata.TypeDef)
	if tdRID < total {
		next, err := asm.TypeDefRow(tdRID + 1)
		if err != nil {
			return 0, err
		}
		return next.FieldList, nil
	}
	return asm.RowCount(metadata.Field) + 1, nil
}

func classLayoutFor(asm *metadata.Assembly, tdRID uint32) (metadata.ClassLayoutRow, bool, error) {
	count := asm.RowCount(metadata.ClassLayout)
	for rid := uint32(1); rid <= count; rid++ {
		row, err := asm.ClassLayoutRow(rid)
		if err != nil {
			return metadata.ClassLayoutRow{}, false, err
		}
		if row.Parent == tdRID {
			return row, true, nil
		}
	}
	return metadata.ClassLayoutRow{}, false, nil
}

// explicitFieldOffsets indexes every FieldLayout row by its Field
// column; the table keys directly by field, not by the field's owning
// TypeDef, so no per-type filtering is needed here.
func explicitFieldOffsets(asm *metadata.Assembly) (map[uint32]uint32, error) {
	out := make(map[uint32]uint32)
	count := asm.RowCount(metadata.FieldLayout)
	for rid := uint32(1); rid <= count; rid++ {
		row, err := asm.FieldLayoutRow(rid)
		if err != nil {
			return nil, err
		}
		out[row.Field] = row.Offset
	}
	return out, nil
}

func fieldRVAIndex(asm *metadata.Assembly) (map[uint32]uint32, error) {
	out := make(map[uint32]uint32)
	count := asm.RowCount(metadata.FieldRVA)
	for rid := uint32(1); rid <= count; rid++ {
		row, err := asm.FieldRVARow(rid)
		if err != nil {
			return nil, err
		}
		out[row.Field] = row.RVA
	}
	return out, nil
}
