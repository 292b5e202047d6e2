package jitmeta

import (
	"github.com/clrcore/jitmeta/lcd"
	"github.com/clrcore/jitmeta/log"
	"github.com/clrcore/jitmeta/mil"
	"github.com/clrcore/jitmeta/trust"
)

// DefaultRegistrarCapacity bounds how many methods a Runtime's jmp
// registrar can publish before EnsureCompiled starts failing with
// jmp.ErrRegistrarFull, matching the "fixed kernel-resident code
// region" assumption jmp.NewRegistrar documents.
const DefaultRegistrarCapacity = 1 << 16

// Options configures a Runtime. Zero value is valid: a Runtime built
// from an empty Options has no emitter, body loader, or trust source
// configured, so EnsureCompiled halts the first time anything actually
// needs compiling — fine for a Runtime used only to walk metadata
// (cmd/coreinspect's type dump) and nothing else.
type Options struct {
	// Emitter turns IL bodies into native code; required for anything
	// that actually reaches EnsureCompiled/EnsureVirtualCompiled/
	// EnsureVtableSlotCompiled.
	Emitter mil.Emitter

	// Bodies fetches a method's raw IL bytes. Optional: a Runtime that
	// only exercises intrinsics or AOT-fallback-only call sites never
	// needs one.
	Bodies mil.BodyLoader

	// Loader resolves an AssemblyRef by name to a loaded assembly.
	Loader mil.AssemblyLoader

	// AOT supplies System.Object/System.String's hand-written native
	// entry points for out-of-bounds vtable slots.
	AOT lcd.AOTFallback

	// Trust verifies an assembly's detached signature before
	// SetCurrentAssembly binds it. Nil disables verification entirely,
	// the same as setting DisableCertValidation.
	Trust                 trust.SignatureSource
	DisableCertValidation bool

	// RegistrarCapacity overrides DefaultRegistrarCapacity.
	RegistrarCapacity int

	Logger log.Logger
}
