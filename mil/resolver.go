package mil

import (
	"errors"
	"fmt"
	"sync"

	"github.com/clrcore/jitmeta/jmp"
	"github.com/clrcore/jitmeta/log"
	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/sigwalk"
	"github.com/clrcore/jitmeta/typereg"
)

// Errors this package's resolvers can return.
var (
	ErrUnresolvedAssembly = errors.New("mil: no assembly loaded for this resolution scope")
	ErrUnknownTokenTable  = errors.New("mil: token does not name a resolvable type/member")
	ErrGenericArgMissing  = errors.New("mil: generic parameter reference outside any instantiation")
	ErrNoEmitter          = errors.New("mil: no code emitter collaborator configured")
)

// AssemblyLoader locates and decodes the assembly an AssemblyRef row
// names, looked up by name alone (resolveAssemblyRef in assemblyref.go
// does the version comparison; this interface only does the I/O).
type AssemblyLoader interface {
	LoadAssembly(name string) (*metadata.Assembly, error)
}

// Resolver is the Metadata Integration Layer's entry point: one per
// running VM instance, shared by every thread, threading assembly and
// generic-instantiation context through ResolveType/ResolveField/
// ResolveMethod via a caller-owned Context.
type Resolver struct {
	Registry  *typereg.Registry
	Insts     *typereg.InstantiationCache
	Loader    AssemblyLoader
	Emitter   Emitter
	Bodies    BodyLoader
	Registrar *jmp.Registrar

	logger *log.Helper

	mu          sync.Mutex
	perAssembly map[*metadata.Assembly]map[metadata.Token]*typereg.MT
	loaded      map[string]*metadata.Assembly // name -> most-recently-loaded version

	fieldLayouts sync.Map // *typereg.MT -> *fieldLayout, see field.go
	cctors       *cctorRegistry
	compiled     *compiledRegistry
}

// Options configures a Resolver. Zero value is valid.
type Options struct {
	Logger log.Logger
}

// NewResolver builds a Resolver over reg, sharing it with typereg's
// Register/Lookup so resolved MTs are visible to any other registry
// consumer (e.g. a diagnostic walking every loaded type).
func NewResolver(reg *typereg.Registry, loader AssemblyLoader, opts *Options) *Resolver {
	if opts == nil {
		opts = &Options{}
	}
	return &Resolver{
		Registry:    reg,
		Insts:       typereg.NewInstantiationCache(),
		Loader:      loader,
		logger:      log.NewHelper(opts.Logger),
		perAssembly: make(map[*metadata.Assembly]map[metadata.Token]*typereg.MT),
		loaded:      make(map[string]*metadata.Assembly),
		cctors:      newCctorRegistry(),
		compiled:    newCompiledRegistry(),
	}
}

// cacheGet/cachePut implement the per-assembly TypeDef/TypeRef/TypeSpec
// MT cache: a TypeDef token's row id is only unique within the assembly
// that defines it, so the registry cannot be keyed by token alone once
// more than one assembly is loaded. Well-known tokens skip this cache
// entirely and go through typereg.Registry's global well-known slots,
// since by definition they denote the same type regardless of assembly.
func (r *Resolver) cacheGet(asm *metadata.Assembly, tok metadata.Token) (*typereg.MT, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.perAssembly[asm]
	if !ok {
		return nil, false
	}
	mt, ok := m[tok]
	return mt, ok
}

func (r *Resolver) cachePut(asm *metadata.Assembly, tok metadata.Token, mt *typereg.MT) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.perAssembly[asm]
	if !ok {
		m = make(map[metadata.Token]*typereg.MT)
		r.perAssembly[asm] = m
	}
	m[tok] = mt
}

// RegisterLoadedAssembly records asm as the most-recently-loaded version
// of its name, the same bookkeeping resolveByIdentity performs after a
// fresh Loader.LoadAssembly call — the seam a Runtime's
// SetCurrentAssembly uses to make an externally-supplied assembly
// visible to later AssemblyRef resolution without round-tripping
// through the Loader.
func (r *Resolver) RegisterLoadedAssembly(asm *metadata.Assembly) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded[asm.Name] = asm
}

// ResolveType resolves any TypeDefOrRef-shaped token (TypeDef, TypeRef,
// TypeSpec) or a well-known synthetic token into its MT, within frame's
// assembly and generic-argument context.
func (r *Resolver) ResolveType(ctx *Context, frame Frame, tok metadata.Token) (*typereg.MT, error) {
	if tok.IsWellKnown() {
		mt := r.Registry.WellKnown(tok)
		if mt == nil {
			return nil, fmt.Errorf("mil: well-known token %#x not yet captured", uint32(tok))
		}
		return mt, nil
	}
	if frame.Assembly == nil {
		return nil, ErrUnresolvedAssembly
	}
	if mt, ok := r.cacheGet(frame.Assembly, tok); ok {
		return mt, nil
	}

	var (
		mt  *typereg.MT
		err error
	)
	switch tok.Table() {
	case metadata.TypeDef:
		mt, err = r.resolveTypeDef(ctx, frame, tok)
	case metadata.TypeRef:
		mt, err = r.resolveTypeRef(ctx, frame, tok)
	case metadata.TypeSpec:
		mt, err = r.resolveTypeSpec(ctx, frame, tok)
	default:
		return nil, fmt.Errorf("%w: table %s", ErrUnknownTokenTable, metadata.TableName(tok.Table()))
	}
	if err != nil {
		return nil, err
	}
	r.cachePut(frame.Assembly, tok, mt)
	return mt, nil
}

// resolveTypeDef builds (or returns the cached) MT for a TypeDef row
// defined directly in frame.Assembly.
func (r *Resolver) resolveTypeDef(ctx *Context, frame Frame, tok metadata.Token) (*typereg.MT, error) {
	row, err := frame.Assembly.TypeDefRow(tok.RID())
	if err != nil {
		return nil, fmt.Errorf("mil: reading TypeDef[%d]: %w", tok.RID(), err)
	}
	name, err := frame.Assembly.String(row.TypeName)
	if err != nil {
		return nil, err
	}
	ns, err := frame.Assembly.String(row.TypeNamespace)
	if err != nil {
		return nil, err
	}

	mt := &typereg.MT{
		Token:            tok,
		Name:             name,
		Namespace:        ns,
		Flags:            row.Flags,
		DefiningAssembly: frame.Assembly,
	}
	mt.IsInterface = row.Flags&typeAttrInterface != 0
	mt.IsSealed = row.Flags&typeAttrSealed != 0

	if row.Extends != 0 {
		base, err := r.ResolveType(ctx, frame, decodeTypeDefOrRef(row.Extends))
		if err != nil {
			return nil, fmt.Errorf("mil: resolving base type of %s.%s: %w", ns, name, err)
		}
		mt.BaseType = base
		mt.IsValueType = isValueTypeBase(base, r.Registry)
	}
	// Seed the vtable from the base type's before interfaces reserve
	// their own dispatch slots, so both land at the right index: virtual
	// overrides resolved later reuse the base's slot numbers, and an
	// interface's StartSlot is computed past the inherited slots instead
	// of colliding with them.
	seedVTableFromBase(mt)
	if err := r.resolveInterfaceImpls(ctx, frame, tok, mt); err != nil {
		return nil, fmt.Errorf("mil: resolving interfaces of %s.%s: %w", ns, name, err)
	}
	r.Registry.Register(mt)
	return mt, nil
}

// resolveTypeRef resolves a TypeRef row by first resolving its
// resolution scope (an AssemblyRef, in the common cross-assembly case)
// and then looking the named TypeDef up in that assembly's exported
// types, descending into the target assembly's own context via a saved
// frame so the caller's frame is untouched on return.
func (r *Resolver) resolveTypeRef(ctx *Context, frame Frame, tok metadata.Token) (*typereg.MT, error) {
	row, err := frame.Assembly.TypeRefRow(tok.RID())
	if err != nil {
		return nil, fmt.Errorf("mil: reading TypeRef[%d]: %w", tok.RID(), err)
	}
	name, err := frame.Assembly.String(row.TypeName)
	if err != nil {
		return nil, err
	}
	ns, err := frame.Assembly.String(row.TypeNamespace)
	if err != nil {
		return nil, err
	}

	scopeTable, scopeRID := decodeResolutionScope(row.ResolutionScope)
	if scopeTable != metadata.AssemblyRef {
		return nil, fmt.Errorf("mil: TypeRef %s.%s has unsupported resolution scope %s",
			ns, name, metadata.TableName(scopeTable))
	}

	target, err := r.resolveAssemblyRef(frame.Assembly, scopeRID)
	if err != nil {
		return nil, fmt.Errorf("mil: resolving AssemblyRef for %s.%s: %w", ns, name, err)
	}

	var found *typereg.MT
	err = withFrame(ctx, Frame{Assembly: target}, func() error {
		rid, rerr := findTypeDefByName(target, ns, name)
		if rerr != nil {
			return rerr
		}
		mt, rerr := r.ResolveType(ctx, Frame{Assembly: target}, metadata.NewToken(metadata.TypeDef, rid))
		if rerr != nil {
			return rerr
		}
		found = mt
		return nil
	})
	return found, err
}

// resolveTypeSpec walks a TypeSpec's signature blob with sigwalk and
// turns the resulting shape into an MT, recursively resolving any
// TypeDefOrRef tokens and generic parameter references it names against
// frame's active generic arguments.
func (r *Resolver) resolveTypeSpec(ctx *Context, frame Frame, tok metadata.Token) (*typereg.MT, error) {
	row, err := frame.Assembly.TypeSpecRow(tok.RID())
	if err != nil {
		return nil, err
	}
	blob, err := frame.Assembly.Blob(row.Signature)
	if err != nil {
		return nil, err
	}
	sig, err := sigwalk.WalkTypeSpec(blob)
	if err != nil {
		return nil, fmt.Errorf("mil: walking TypeSpec[%d]: %w", tok.RID(), err)
	}
	return r.resolveSigType(ctx, frame, sig)
}

// resolveSigType turns a walked signature Type node into an MT,
// synthesizing array/pointer/byref/generic-instantiation MTs as needed.
func (r *Resolver) resolveSigType(ctx *Context, frame Frame, t *sigwalk.Type) (*typereg.MT, error) {
	switch t.Kind {
	case sigwalk.KindPrimitive:
		return r.primitiveMT(t.Primitive)

	case sigwalk.KindTypeRef:
		return r.ResolveType(ctx, frame, decodeTypeDefOrRef(t.TypeToken))

	case sigwalk.KindVar:
		if int(t.Number) >= len(frame.TypeArgs) {
			return nil, fmt.Errorf("%w: VAR %d", ErrGenericArgMissing, t.Number)
		}
		return frame.TypeArgs[t.Number], nil

	case sigwalk.KindMVar:
		if int(t.Number) >= len(frame.MethodArgs) {
			return nil, fmt.Errorf("%w: MVAR %d", ErrGenericArgMissing, t.Number)
		}
		return frame.MethodArgs[t.Number], nil

	case sigwalk.KindSZArray, sigwalk.KindPtr, sigwalk.KindByRef, sigwalk.KindPinned:
		elem, err := r.resolveSigType(ctx, frame, t.Elem)
		if err != nil {
			return nil, err
		}
		return r.synthesizeWrapper(t.Kind, elem), nil

	case sigwalk.KindArray:
		elem, err := r.resolveSigType(ctx, frame, t.Elem)
		if err != nil {
			return nil, err
		}
		return r.synthesizeMDArray(elem, t.Rank), nil

	case sigwalk.KindGenericInst:
		def, err := r.ResolveType(ctx, frame, decodeTypeDefOrRef(t.GenericBase.TypeToken))
		if err != nil {
			return nil, err
		}
		args := make([]*typereg.MT, len(t.TypeArgs))
		for i := range t.TypeArgs {
			arg, err := r.resolveSigType(ctx, frame, &t.TypeArgs[i])
			if err != nil {
				return nil, fmt.Errorf("generic arg %d: %w", i, err)
			}
			args[i] = arg
		}
		return r.Registry.Intern(r.Insts, def, args, func() *typereg.MT {
			return &typereg.MT{
				Name:        def.Name,
				Namespace:   def.Namespace,
				BaseType:    def.BaseType,
				IsValueType: def.IsValueType,
				IsInterface: def.IsInterface,
				GenericDef:  def,
				GenericArgs: args,
			}
		}), nil

	default:
		return nil, fmt.Errorf("mil: unsupported signature shape %v", t.Kind)
	}
}

// synthesizeWrapper builds (without interning, since pointer/byref/SZArray
// types over the same element are cheap to recompute and never carry
// per-instance state) an MT for PTR/BYREF/SZARRAY/PINNED over elem.
func (r *Resolver) synthesizeWrapper(kind sigwalk.Kind, elem *typereg.MT) *typereg.MT {
	mt := &typereg.MT{ElementType: elem}
	switch kind {
	case sigwalk.KindSZArray:
		mt.Name = elem.Name + "[]"
		mt.IsArray = true
		mt.InstanceSize = pointerSize
	case sigwalk.KindPtr:
		mt.Name = elem.Name + "*"
		mt.InstanceSize = pointerSize
	case sigwalk.KindByRef:
		mt.Name = elem.Name + "&"
		mt.InstanceSize = pointerSize
	case sigwalk.KindPinned:
		return elem
	}
	return mt
}

func (r *Resolver) synthesizeMDArray(elem *typereg.MT, rank uint32) *typereg.MT {
	return &typereg.MT{
		Name:         fmt.Sprintf("%s[%s]", elem.Name, commas(rank)),
		ElementType:  elem,
		IsArray:      true,
		InstanceSize: pointerSize,
	}
}

func commas(rank uint32) string {
	if rank <= 1 {
		return ""
	}
	out := make([]byte, rank-1)
	for i := range out {
		out[i] = ','
	}
	return string(out)
}

// pointerSize is the native pointer width this runtime's unwind/calling
// convention layer (jmp) targets: Windows x64.
const pointerSize = 8

const (
	typeAttrInterface = 0x00000020
	typeAttrSealed    = 0x00000100
)

func decodeTypeDefOrRef(coded uint32) metadata.Token {
	tag := coded & 0x3
	rid := coded >> 2
	tables := [...]int{metadata.TypeDef, metadata.TypeRef, metadata.TypeSpec}
	return metadata.NewToken(tables[tag], rid)
}

func decodeResolutionScope(coded uint32) (int, uint32) {
	tag := coded & 0x3
	rid := coded >> 2
	tables := [...]int{metadata.Module, metadata.ModuleRef, metadata.AssemblyRef, metadata.TypeRef}
	return tables[tag], rid
}

func findTypeDefByName(asm *metadata.Assembly, ns, name string) (uint32, error) {
	count := asm.RowCount(metadata.TypeDef)
	for rid := uint32(1); rid <= count; rid++ {
		row, err := asm.TypeDefRow(rid)
		if err != nil {
			return 0, err
		}
		rowName, err := asm.String(row.TypeName)
		if err != nil {
			return 0, err
		}
		if rowName != name {
			continue
		}
		rowNS, err := asm.String(row.TypeNamespace)
		if err != nil {
			return 0, err
		}
		if rowNS == ns {
			return rid, nil
		}
	}
	return 0, fmt.Errorf("mil: type %s.%s not found", ns, name)
}

// isValueTypeBase reports whether base is (transitively) the well-known
// System.ValueType or System.Enum MT, the two base types ECMA-335 uses
// to mark a TypeDef as a value type.
func isValueTypeBase(base *typereg.MT, reg *typereg.Registry) bool {
	vt := reg.WellKnown(metadata.WellKnownValueType)
	en := reg.WellKnown(metadata.WellKnownEnum)
	for b := base; b != nil; b = b.BaseType {
		if b == vt || b == en {
			return true
		}
	}
	return false
}

// isDelegateType reports whether mt is (transitively) derived from the
// well-known System.Delegate or System.MulticastDelegate MT — the two
// base types every delegate's compiler-generated .ctor/Invoke pair
// hangs off, per its "runtime-managed" attribute (ECMA-335 §II.14.6).
func isDelegateType(mt *typereg.MT, reg *typereg.Registry) bool {
	del := reg.WellKnown(metadata.WellKnownDelegate)
	mdel := reg.WellKnown(metadata.WellKnownMulticastDelegate)
	for b := mt; b != nil; b = b.BaseType {
		if b == del || b == mdel {
			return true
		}
	}
	return false
}
