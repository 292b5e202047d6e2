// Package mil is the Metadata Integration Layer: it resolves tokens
// (TypeDefOrRef, MethodDefOrRef, Field, MethodSpec, AssemblyRef) against
// a loaded assembly's metadata into typereg.MT type handles and concrete
// field/method descriptions, threading the correct generic instantiation
// and cross-assembly context through every resolution.
package mil

import (
	"errors"
	"fmt"
	"sync"

	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/typereg"
)

// ErrContextUnderflow signals a Leave call with no matching Enter: a
// save/restore discipline violation in the caller, not a malformed
// assembly.
var ErrContextUnderflow = errors.New("mil: context stack underflow")

// Frame is one nested resolution context: the assembly tokens in it are
// resolved against, plus the generic type/method arguments active while
// inside a particular generic instantiation's code.
type Frame struct {
	Assembly   *metadata.Assembly
	TypeArgs   []*typereg.MT // !0, !1, ... while resolving inside a generic type
	MethodArgs []*typereg.MT // !!0, !!1, ... while resolving inside a generic method
}

// Context is the per-call resolution stack. Every ResolveX entry point
// takes the current top-of-stack Frame; Enter/Leave implement the
// strict save/restore discipline cross-assembly and cross-generic-
// instantiation resolution both require, so a nested resolution (e.g.
// walking into an AssemblyRef or a GENERICINST's type argument) can
// never leak its frame into the caller's continuation.
type Context struct {
	mu    sync.Mutex
	stack []Frame
}

// NewContext returns a Context with one initial frame.
func NewContext(initial Frame) *Context {
	return &Context{stack: []Frame{initial}}
}

// Current returns a copy of the active frame.
func (c *Context) Current() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stack[len(c.stack)-1]
}

// Enter pushes f as the new active frame and returns the depth it was
// pushed at, to be passed back to Leave.
func (c *Context) Enter(f Frame) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stack = append(c.stack, f)
	return len(c.stack) - 1
}

// Leave pops frames back down to depth, restoring whatever frame was
// active before the matching Enter. Calling Leave with a depth that does
// not match the current stack top is a programming error in the
// resolver, surfaced immediately rather than left to silently corrupt
// later resolutions.
func (c *Context) Leave(depth int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if depth <= 0 || depth != len(c.stack)-1 {
		return fmt.Errorf("%w: at depth %d, stack height %d", ErrContextUnderflow, depth, len(c.stack))
	}
	c.stack = c.stack[:depth]
	return nil
}

// withFrame runs fn with f pushed as the active frame, guaranteeing the
// push is undone even if fn returns an error — the one call site every
// resolver should use instead of calling Enter/Leave by hand.
func withFrame(c *Context, f Frame, fn func() error) error {
	depth := c.Enter(f)
	err := fn()
	if lerr := c.Leave(depth); lerr != nil && err == nil {
		err = lerr
	}
	return err
}
