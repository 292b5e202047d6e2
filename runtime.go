// Package jitmeta wires the signature walker, type handle registry,
// metadata integration layer, JIT method publication, and lazy
// compilation dispatch components into one running instance: a
// Runtime, built once and configured via Options the same way a single
// parsed image exposes its own component graph.
package jitmeta

import (
	"errors"
	"fmt"
	"sync"

	"github.com/clrcore/jitmeta/jmp"
	"github.com/clrcore/jitmeta/lcd"
	"github.com/clrcore/jitmeta/log"
	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/mil"
	"github.com/clrcore/jitmeta/trust"
	"github.com/clrcore/jitmeta/typereg"
)

// ErrNoCurrentAssembly reports that a Runtime operation needs a bound
// current assembly (SetCurrentAssembly) and none has been set yet.
var ErrNoCurrentAssembly = errors.New("jitmeta: no current assembly bound")

// Runtime is one instance of components A-E: a type handle registry
// (B), a metadata integration resolver (C, wrapping A's signature
// walker internally), a JIT method registrar (D), and a lazy
// compilation dispatcher (E). One Runtime is shared by every thread
// resolving against it, the same way a single mil.Resolver is.
type Runtime struct {
	Registry   *typereg.Registry
	Resolver   *mil.Resolver
	Registrar  *jmp.Registrar
	Dispatcher *lcd.Dispatcher

	opts   Options
	logger *log.Helper

	mu      sync.Mutex
	current *metadata.Assembly
}

// New builds a Runtime from opts. A nil opts is equivalent to &Options{}.
func New(opts *Options) *Runtime {
	if opts == nil {
		opts = &Options{}
	}
	cap := opts.RegistrarCapacity
	if cap == 0 {
		cap = DefaultRegistrarCapacity
	}

	reg := typereg.NewRegistry()
	registrar := jmp.NewRegistrar(cap)
	resolver := mil.NewResolver(reg, opts.Loader, &mil.Options{Logger: opts.Logger})
	resolver.Emitter = opts.Emitter
	resolver.Bodies = opts.Bodies
	resolver.Registrar = registrar

	rt := &Runtime{
		Registry:   reg,
		Resolver:   resolver,
		Registrar:  registrar,
		Dispatcher: lcd.New(resolver, opts.AOT),
		opts:       *opts,
		logger:     log.NewHelper(opts.Logger),
	}
	return rt
}

// Bootstrap binds every well-known token (System.Object, System.String,
// the primitive element types, ...) to a real TypeDef resolved out of
// core — the assembly conventionally providing them (corlib/mscorlib).
// It must run before any other assembly is resolved against, since
// every base-type chain and primitive signature element bottoms out at
// one of these bindings.
func (rt *Runtime) Bootstrap(core *metadata.Assembly) error {
	return rt.Resolver.BootstrapWellKnownTypes(core)
}

// SetCurrentAssembly verifies (unless disabled) and binds asm as the
// Runtime's current assembly, registering it with the resolver's
// AssemblyRef resolution cache so other assemblies can reference it by
// name. A signature that fails to verify is never bound: the caller
// sees ErrAssemblyUntrusted and must decide whether to proceed anyway
// by retrying with DisableCertValidation, rather than this method
// silently downgrading trust on the caller's behalf.
func (rt *Runtime) SetCurrentAssembly(asm *metadata.Assembly) error {
	if !rt.opts.DisableCertValidation && rt.opts.Trust != nil {
		if err := trust.Verify(rt.opts.Trust, asm); err != nil {
			return err
		}
	}

	rt.Resolver.RegisterLoadedAssembly(asm)

	rt.mu.Lock()
	rt.current = asm
	rt.mu.Unlock()
	return nil
}

// CurrentAssembly returns the Runtime's current assembly, or nil if
// none has been bound yet.
func (rt *Runtime) CurrentAssembly() *metadata.Assembly {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.current
}

// ResolveType resolves tok against the current assembly's metadata,
// with no generic type/method arguments active — the entry point a
// caller outside any particular generic instantiation's context uses
// (cmd/coreinspect's type dump, for instance).
func (rt *Runtime) ResolveType(tok metadata.Token) (*typereg.MT, error) {
	asm := rt.CurrentAssembly()
	if asm == nil {
		return nil, ErrNoCurrentAssembly
	}
	ctx := mil.NewContext(mil.Frame{Assembly: asm})
	return rt.Resolver.ResolveType(ctx, mil.Frame{Assembly: asm}, tok)
}

// CheckStaticClassConstruction is the external entry point the emitter
// calls through before any static member access, to run mt's cctor at
// most once.
func (rt *Runtime) CheckStaticClassConstruction(mt *typereg.MT, run func() error) error {
	return rt.Resolver.CheckStaticClassConstruction(mt, run)
}

// String renders a short summary of the Runtime's state, for logging.
func (rt *Runtime) String() string {
	asm := rt.CurrentAssembly()
	name := "<none>"
	if asm != nil {
		name = asm.Name
	}
	return fmt.Sprintf("Runtime{types=%d published=%d/%d current=%s}",
		rt.Registry.Len(), rt.Registrar.Len(), rt.Registrar.Cap(), name)
}
