package mil

import (
	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/typereg"
)

// resolveInterfaceImpls scans the InterfaceImpl table for every row
// naming typeTok's TypeDef as Class, resolves each named interface, and
// reserves a contiguous run of owner's dispatch-slot numbering for it:
// the per-interface dispatch map the registry-miss fallback in the lazy
// compilation dispatcher walks.
//
// A sealed type's interface slots never grow the physical VTable (a
// sealed type can never be further overridden, so native-AOT-style
// runtimes compact its interface dispatch into SealedVirtuals instead);
// any other type's interface slots are appended to VTable itself.
func (r *Resolver) resolveInterfaceImpls(ctx *Context, frame Frame, typeTok metadata.Token, owner *typereg.MT) error {
	if typeTok.Table() != metadata.TypeDef || frame.Assembly == nil {
		return nil
	}
	total := frame.Assembly.RowCount(metadata.InterfaceImpl)
	for rid := uint32(1); rid <= total; rid++ {
		row, err := frame.Assembly.InterfaceImplRow(rid)
		if err != nil {
			return err
		}
		if row.Class != typeTok.RID() {
			continue
		}
		iface, err := r.ResolveType(ctx, frame, decodeTypeDefOrRef(row.Interface))
		if err != nil {
			return err
		}
		owner.Interfaces = append(owner.Interfaces, iface)

		n := len(iface.VTable)
		entry := typereg.DispatchMapEntry{InterfaceMT: iface}
		if owner.IsSealed {
			entry.Sealed = true
			entry.StartSlot = len(owner.VTable) + len(owner.SealedVirtuals)
			entry.SealedBase = len(owner.SealedVirtuals)
			for i := 0; i < n; i++ {
				owner.SealedVirtuals = append(owner.SealedVirtuals, typereg.VTableSlot{})
			}
		} else {
			entry.StartSlot = len(owner.VTable)
			for i := 0; i < n; i++ {
				owner.VTable = append(owner.VTable, typereg.VTableSlot{})
			}
		}
		owner.DispatchMap = append(owner.DispatchMap, entry)
	}
	return nil
}
