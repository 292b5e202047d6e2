package mil

import (
	"fmt"

	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/sigwalk"
	"github.com/clrcore/jitmeta/typereg"
)

// MethodDef.Flags bits this resolver cares about (ECMA-335 §II.23.1.10).
const (
	methodAttrStatic    = 0x0010
	methodAttrVirtual   = 0x0040
	methodAttrFinal     = 0x0020
	methodAttrVtableNewSlot = 0x0100
)

// MethodInfo is a resolved method: its owner, signature, and dispatch
// shape. A call through a MethodSpec yields a MethodInfo with GenericDef
// and MethodArgs set, sharing OwnerType/VTableSlot with its generic
// definition — the code-sharing model this runtime uses for generic
// methods (one compiled body per generic definition, specialized only
// through the MethodArgs threaded via Context, not one body per
// instantiation).
type MethodInfo struct {
	Token     metadata.Token
	Name      string
	OwnerType *typereg.MT
	Signature *sigwalk.MethodSig

	// Assembly and RVA locate mi's IL body for the external emitter.
	// HasBody is false for an abstract or interface method (RVA == 0):
	// the lazy compilation dispatcher never calls Compile on those, it
	// resolves them to a concrete override first.
	Assembly *metadata.Assembly
	RVA      uint32
	HasBody  bool

	IsStatic      bool
	IsVirtual     bool
	IsFinal       bool // a sealed virtual: devirtualizable once OwnerType is exactly known
	VTableSlot    int  // -1 if not virtual
	Devirtualized bool // demoted to a direct call once compiled and proven non-overridden

	// IsInterfaceMethod, IsDelegateCtor, and IsDelegateInvoke flag the
	// three "runtime-managed" method shapes that never compile through
	// the normal MethodDef body path: an interface method has no body
	// to compile (dispatch resolves it to a concrete override first), a
	// delegate constructor binds a target+function-pointer pair, and a
	// delegate's Invoke thunks through that pair.
	IsInterfaceMethod bool
	IsDelegateCtor    bool
	IsDelegateInvoke  bool

	GenericDef *MethodInfo
	MethodArgs []*typereg.MT

	Intrinsic Intrinsic
}

// classifyMethodKind sets mi's runtime-managed flags from its owner
// type's shape, the same check §4.C.4 applies to both a directly
// resolved MethodDef and one reached through a MemberRef.
func classifyMethodKind(mi *MethodInfo, reg *typereg.Registry) {
	if mi.OwnerType == nil {
		return
	}
	if mi.OwnerType.IsInterface {
		mi.IsInterfaceMethod = true
	}
	if isDelegateType(mi.OwnerType, reg) {
		switch mi.Name {
		case ".ctor":
			mi.IsDelegateCtor = true
		case "Invoke":
			mi.IsDelegateInvoke = true
		}
	}
}

// ResolveMethod resolves a MethodDef, MemberRef, or MethodSpec token
// into a MethodInfo.
func (r *Resolver) ResolveMethod(ctx *Context, frame Frame, tok metadata.Token) (*MethodInfo, error) {
	switch tok.Table() {
	case metadata.MethodDef:
		return r.resolveMethodDef(ctx, frame, frame.Assembly, tok.RID())
	case metadata.MemberRef:
		return r.resolveMemberRef(ctx, frame, tok)
	case metadata.MethodSpec:
		return r.resolveMethodSpec(ctx, frame, tok)
	default:
		return nil, fmt.Errorf("%w: table %s", ErrUnknownTokenTable, metadata.TableName(tok.Table()))
	}
}

func (r *Resolver) resolveMethodDef(ctx *Context, frame Frame, asm *metadata.Assembly, rid uint32) (*MethodInfo, error) {
	row, err := asm.MethodDefRow(rid)
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
	sig, err := sigwalk.WalkMethodSig(sigBlob)
	if err != nil {
		return nil, fmt.Errorf("mil: method %s signature: %w", name, err)
	}

	ownerRID, err := ownerTypeDefForMethod(asm, rid)
	if err != nil {
		return nil, err
	}
	owner, err := r.ResolveType(ctx, frame, metadata.NewToken(metadata.TypeDef, ownerRID))
	if err != nil {
		return nil, fmt.Errorf("mil: resolving owner of method %s: %w", name, err)
	}

	mi := &MethodInfo{
		Token:      metadata.NewToken(metadata.MethodDef, rid),
		Name:       name,
		OwnerType:  owner,
		Signature:  sig,
		Assembly:   asm,
		RVA:        row.RVA,
		HasBody:    row.RVA != 0,
		IsStatic:   row.Flags&methodAttrStatic != 0,
		IsVirtual:  row.Flags&methodAttrVirtual != 0,
		IsFinal:    row.Flags&methodAttrFinal != 0,
		VTableSlot: -1,
	}
	if mi.IsVirtual {
		mi.VTableSlot, err = r.assignVTableSlot(owner, mi, row.Flags&methodAttrVtableNewSlot != 0)
		if err != nil {
			return nil, err
		}
		// A sealed virtual whose slot landed past the reserved header
		// slots (slots 0-2 are the Object header's ToString/Equals/
		// GetHashCode, never safe to devirtualize from here since a
		// derived type could still be loaded later) can be
		// called directly once compiled: nothing overrides it again.
		if mi.IsFinal && mi.VTableSlot >= 3 {
			mi.Devirtualized = true
		}
	}
	mi.Intrinsic = classifyIntrinsic(mi)
	classifyMethodKind(mi, r.Registry)
	return mi, nil
}

// resolveMemberRef resolves a MemberRef against its parent (a TypeDef,
// TypeRef, or TypeSpec — this core does not call through ModuleRef or
// vararg MethodDef parents, which no component needs), finding the
// matching MethodDef by name among the parent's declared methods.
func (r *Resolver) resolveMemberRef(ctx *Context, frame Frame, tok metadata.Token) (*MethodInfo, error) {
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
	var ownerFrame Frame
	switch parentTable {
	case metadata.TypeDef, metadata.TypeRef, metadata.TypeSpec:
		owner, err = r.ResolveType(ctx, frame, metadata.NewToken(parentTable, parentRID))
		if err != nil {
			return nil, fmt.Errorf("mil: resolving MemberRef %s parent: %w", name, err)
		}
		ownerFrame = frame
	default:
		return nil, fmt.Errorf("mil: MemberRef %s has unsupported parent table %s", name, metadata.TableName(parentTable))
	}

	// MD-array pseudo-methods (.ctor/Get/Set/Address on a TypeSpec whose
	// element is a multi-dimensional ARRAY) carry no MethodDef anywhere
	// in any assembly — the array type itself has no TypeDef — so they
	// must be classified before any MethodDef walk is attempted.
	if owner.IsArray && owner.ElementType != nil {
		if intrinsic, ok := mdArrayIntrinsic(name); ok {
			return &MethodInfo{
				Name:       name,
				OwnerType:  owner,
				IsVirtual:  false,
				VTableSlot: -1,
				Intrinsic:  intrinsic,
			}, nil
		}
	}

	def := owner
	var genericArgs []*typereg.MT
	if def.GenericDef != nil {
		def = def.GenericDef
		genericArgs = owner.GenericArgs
	}
	defAsm := ownerFrame.Assembly
	// A well-known MT's Token carries its synthetic registry identity
	// (metadata.WellKnownTable), not the TypeDef row id it was bootstrap-
	// resolved from — BootstrapWellKnownTypes overwrites Token once the
	// binding is captured — so an AOT well-known target re-derives its
	// real TypeDef row by name instead of trusting def.Token.RID().
	ownerTDRID := def.Token.RID()
	if def.Token.IsWellKnown() {
		ownerTDRID, err = findTypeDefByName(defAsm, def.Namespace, def.Name)
		if err != nil {
			return nil, fmt.Errorf("mil: resolving MemberRef %s: AOT target %s.%s: %w", name, def.Namespace, def.Name, err)
		}
	}

	// row.Signature is an offset into frame.Assembly's #Blob heap (the
	// MemberRef's own assembly), which may differ from defAsm when the
	// parent was resolved across an AssemblyRef.
	methodRID, err := findMethodDefByNameAndArity(defAsm, ownerTDRID, name, row.Signature, frame.Assembly)
	if err != nil {
		return nil, fmt.Errorf("mil: resolving MemberRef %s: %w", name, err)
	}

	mi, err := r.resolveMethodDef(ctx, Frame{Assembly: defAsm, TypeArgs: genericArgs}, defAsm, methodRID)
	if err != nil {
		return nil, err
	}
	mi.OwnerType = owner // the instantiation, not its generic definition
	classifyMethodKind(mi, r.Registry)
	return mi, nil
}

func (r *Resolver) resolveMethodSpec(ctx *Context, frame Frame, tok metadata.Token) (*MethodInfo, error) {
	row, err := frame.Assembly.MethodSpecRow(tok.RID())
	if err != nil {
		return nil, err
	}
	methodTable, methodRID := decodeMethodDefOrRef(row.Method)
	genDef, err := r.ResolveMethod(ctx, frame, metadata.NewToken(methodTable, methodRID))
	if err != nil {
		return nil, fmt.Errorf("mil: resolving MethodSpec generic method definition: %w", err)
	}

	blob, err := frame.Assembly.Blob(row.Instantiation)
	if err != nil {
		return nil, err
	}
	argTypes, err := sigwalk.WalkMethodSpecSig(blob)
	if err != nil {
		return nil, fmt.Errorf("mil: MethodSpec instantiation: %w", err)
	}
	args := make([]*typereg.MT, len(argTypes))
	for i := range argTypes {
		mt, err := r.resolveSigType(ctx, frame, &argTypes[i])
		if err != nil {
			return nil, fmt.Errorf("mil: MethodSpec type arg %d: %w", i, err)
		}
		args[i] = mt
	}

	// Shared-code model: the instantiation reuses genDef's compiled body
	// (tracked by compiledRegistry keyed on genDef.Token) and is
	// distinguished only by MethodArgs, threaded through Context at
	// call time rather than duplicating compilation per instantiation.
	return &MethodInfo{
		Token:      tok,
		Name:       genDef.Name,
		OwnerType:  genDef.OwnerType,
		Signature:  genDef.Signature,
		IsStatic:   genDef.IsStatic,
		IsVirtual:  genDef.IsVirtual,
		IsFinal:    genDef.IsFinal,
		VTableSlot: genDef.VTableSlot,
		GenericDef: genDef,
		MethodArgs: args,
		Intrinsic:  genDef.Intrinsic,
	}, nil
}

// assignVTableSlot finds (or, for a newslot virtual, appends) mi's vtable
// slot on owner, inheriting the base type's slot layout first the way
// every CLR-shaped vtable does: overrides reuse their base's slot,
// newslot virtuals grow the vtable.
// assignVTableSlot matches overrides to their base slot by method name
// only — full signature-based override matching belongs to the external
// emitter's verifier, not this core.
func (r *Resolver) assignVTableSlot(owner *typereg.MT, mi *MethodInfo, newSlot bool) (int, error) {
	// owner's vtable was already seeded from its base type (and, after
	// that, from its interfaces' dispatch slots) when owner itself was
	// resolved, see resolveTypeDef; only overrides/newslots are handled
	// here.
	if !newSlot {
		for i, slot := range owner.VTable {
			if slot.MethodName == mi.Name {
				owner.VTable[i] = typereg.VTableSlot{MethodToken: mi.Token, MethodName: mi.Name, Sealed: mi.IsFinal}
				return i, nil
			}
		}
	}
	owner.VTable = append(owner.VTable, typereg.VTableSlot{MethodToken: mi.Token, MethodName: mi.Name, Sealed: mi.IsFinal})
	return len(owner.VTable) - 1, nil
}

// seedVTableFromBase copies owner.BaseType's vtable into owner's own,
// called once as owner's TypeDef is resolved (resolver.go's
// resolveTypeDef) and before anything else appends to owner.VTable, so
// ordinary (non-newslot) virtual overrides resolved later land on the
// same slot index every caller already dispatches through for the base
// type. A value type derived from ValueType or Enum starts its vtable
// fresh at slot 0 instead (ECMA-335 §II.23.1.15 value types never share
// the boxed object's dispatch slots).
func seedVTableFromBase(owner *typereg.MT) {
	if owner.IsValueType || owner.BaseType == nil {
		return
	}
	if n := len(owner.BaseType.VTable); n > 0 {
		owner.VTable = append(owner.VTable, owner.BaseType.VTable...)
	}
}

func decodeMemberRefParent(coded uint32) (int, uint32) {
	tag := coded & 0x7
	rid := coded >> 3
	tables := [...]int{metadata.TypeDef, metadata.TypeRef, metadata.ModuleRef, metadata.MethodDef, metadata.TypeSpec}
	return tables[tag], rid
}

func decodeMethodDefOrRef(coded uint32) (int, uint32) {
	tag := coded & 0x1
	rid := coded >> 1
	tables := [...]int{metadata.MethodDef, metadata.MemberRef}
	return tables[tag], rid
}

// ownerTypeDefForMethod finds the TypeDef whose MethodList range
// contains methodRID, mirroring ownerTypeDefForField's search but for methods.
func ownerTypeDefForMethod(asm *metadata.Assembly, methodRID uint32) (uint32, error) {
	total := asm.RowCount(metadata.TypeDef)
	for rid := uint32(1); rid <= total; rid++ {
		row, err := asm.TypeDefRow(rid)
		if err != nil {
			return 0, err
		}
		end, err := fieldRangeEndGeneric(asm, rid, total, row.MethodList, metadata.MethodDef)
		if err != nil {
			return 0, err
		}
		if methodRID >= row.MethodList && methodRID < end {
			return rid, nil
		}
	}
	return 0, fmt.Errorf("mil: MethodDef[%d] owned by no TypeDef", methodRID)
}

// fieldRangeEndGeneric generalizes fieldRangeEnd to either the Field or
// MethodDef owned-row-range table.
func fieldRangeEndGeneric(asm *metadata.Assembly, tdRID, totalTypeDefs uint32, first uint32, table int) (uint32, error) {
	if tdRID < totalTypeDefs {
		next, err := asm.TypeDefRow(tdRID + 1)
		if err != nil {
			return 0, err
		}
		if table == metadata.Field {
			return next.FieldList, nil
		}
		return next.MethodList, nil
	}
	return asm.RowCount(table) + 1, nil
}

// findMethodDefByNameAndArity scans owner's declared methods for one
// named name whose signature's parameter count matches memberRefSig's —
// a pragmatic overload-resolution shortcut (full signature matching
// belongs to the emitter's verifier, per assignVTableSlot's note above).
func findMethodDefByNameAndArity(asm *metadata.Assembly, ownerTDRID uint32, name string, memberRefSigBlob uint32, sigAsm *metadata.Assembly) (uint32, error) {
	ownerRow, err := asm.TypeDefRow(ownerTDRID)
	if err != nil {
		return 0, err
	}
	end, err := fieldRangeEndGeneric(asm, ownerTDRID, asm.RowCount(metadata.TypeDef), ownerRow.MethodList, metadata.MethodDef)
	if err != nil {
		return 0, err
	}
	wantBlob, err := sigAsm.Blob(memberRefSigBlob)
	if err != nil {
		return 0, err
	}
	wantSig, err := sigwalk.WalkMethodSig(wantBlob)
	if err != nil {
		return 0, err
	}

	for rid := ownerRow.MethodList; rid < end; rid++ {
		row, err := asm.MethodDefRow(rid)
		if err != nil {
			return 0, err
		}
		rowName, err := asm.String(row.Name)
		if err != nil {
			return 0, err
		}
		if rowName != name {
			continue
		}
		blob, err := asm.Blob(row.Signature)
		if err != nil {
			return 0, err
		}
		sig, err := sigwalk.WalkMethodSig(blob)
		if err != nil {
			return 0, err
		}
		if len(sig.Params) == len(wantSig.Params) {
			return rid, nil
		}
	}
	return 0, fmt.Errorf("mil: no method named %s with %d params", name, len(wantSig.Params))
}
