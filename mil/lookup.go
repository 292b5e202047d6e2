package mil

import (
	"fmt"

	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/typereg"
)

// MethodByIndex resolves the idx'th method declared directly on mt's own
// TypeDef (0-based, in MethodDef row order), re-entering mt's defining
// assembly's tables. This is how the lazy compilation dispatcher resolves
// an interface's own method — named only by its position in the
// interface's vtable, never by token — against a concrete class once a
// registry lookup misses and falls back to walking the interface map.
func (r *Resolver) MethodByIndex(ctx *Context, mt *typereg.MT, idx int) (*MethodInfo, error) {
	if mt.DefiningAssembly == nil {
		return nil, fmt.Errorf("mil: %s has no defining assembly, cannot resolve method by index", mt.Name)
	}
	if mt.Token.Table() != metadata.TypeDef {
		return nil, fmt.Errorf("mil: %s is not a TypeDef, cannot resolve method by index", mt.Name)
	}
	asm := mt.DefiningAssembly
	row, err := asm.TypeDefRow(mt.Token.RID())
	if err != nil {
		return nil, err
	}
	end, err := fieldRangeEndGeneric(asm, mt.Token.RID(), asm.RowCount(metadata.TypeDef), row.MethodList, metadata.MethodDef)
	if err != nil {
		return nil, err
	}
	rid := row.MethodList + uint32(idx)
	if idx < 0 || rid >= end {
		return nil, fmt.Errorf("mil: %s has no method at index %d", mt.Name, idx)
	}
	return r.resolveMethodDef(ctx, Frame{Assembly: asm, TypeArgs: mt.GenericArgs}, asm, rid)
}

// MethodByName finds a method declared on mt itself (not walking
// mt.BaseType) by name. Used to resolve an abstract interface method
// against the concrete class that implements it, and to walk up a base
// chain one link at a time when the concrete class itself doesn't declare
// an override.
func (r *Resolver) MethodByName(ctx *Context, mt *typereg.MT, name string) (*MethodInfo, error) {
	if mt.DefiningAssembly == nil {
		return nil, fmt.Errorf("mil: %s has no defining assembly, cannot resolve method %s", mt.Name, name)
	}
	asm := mt.DefiningAssembly
	row, err := asm.TypeDefRow(mt.Token.RID())
	if err != nil {
		return nil, err
	}
	end, err := fieldRangeEndGeneric(asm, mt.Token.RID(), asm.RowCount(metadata.TypeDef), row.MethodList, metadata.MethodDef)
	if err != nil {
		return nil, err
	}
	for rid := row.MethodList; rid < end; rid++ {
		mrow, err := asm.MethodDefRow(rid)
		if err != nil {
			return nil, err
		}
		rowName, err := asm.String(mrow.Name)
		if err != nil {
			return nil, err
		}
		if rowName == name {
			return r.resolveMethodDef(ctx, Frame{Assembly: asm, TypeArgs: mt.GenericArgs}, asm, rid)
		}
	}
	return nil, fmt.Errorf("mil: %s declares no method named %s", mt.Name, name)
}
