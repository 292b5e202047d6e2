package mil

import "github.com/clrcore/jitmeta/jmp"

// EmitResult is everything a successful compile produces: the code
// itself plus the unwind/EH data the jmp package needs to publish it
// alongside a live address, not just a byte slice the caller would
// otherwise have to re-derive frame information for.
type EmitResult struct {
	Code      []byte
	Unwind    jmp.UnwindInfo
	EHClauses []jmp.EHClause
}

// Emitter is the external collaborator that turns a method's IL body
// into native machine code. Code generation itself is out of this
// core's scope; Emitter is the seam the lazy compilation dispatcher
// (lcd) calls through, and the only contract this core imposes on
// whatever JIT backend sits behind it.
type Emitter interface {
	// Emit compiles mi's IL body (the raw bytes, unparsed — IL decoding
	// is the emitter's own concern) into native code, returning it along
	// with the frame unwind and exception-handling data jmp.Registrar
	// needs to publish it.
	Emit(mi *MethodInfo, ilBody []byte) (EmitResult, error)
}
