package mil

import (
	"fmt"
	"sync"

	"github.com/clrcore/jitmeta/typereg"
)

// cctorState tracks one type's static constructor lifecycle. A cctor
// runs at most once per type per process, and every thread that
// observes it mid-run must block until it finishes rather than racing
// past and reading uninitialized statics.
type cctorState uint8

const (
	cctorNotRegistered cctorState = iota
	cctorRunning
	cctorDone
	cctorFailed
)

type cctorEntry struct {
	mu    sync.Mutex
	state cctorState
	done  chan struct{}
	err   error
}

// cctorRegistry is the process-wide table of cctor lifecycle entries,
// one per type that has ever been touched by CheckStaticClassConstruction.
type cctorRegistry struct {
	mu      sync.Mutex
	entries map[*typereg.MT]*cctorEntry
}

func newCctorRegistry() *cctorRegistry {
	return &cctorRegistry{entries: make(map[*typereg.MT]*cctorEntry)}
}

// EnsureCctorContextRegistered returns mt's cctor lifecycle entry,
// creating it on first reference. Registration itself never runs the
// cctor — it only allocates the bookkeeping every later
// CheckStaticClassConstruction call for mt will serialize through.
func (r *Resolver) EnsureCctorContextRegistered(mt *typereg.MT) {
	r.cctors.mu.Lock()
	defer r.cctors.mu.Unlock()
	if _, ok := r.cctors.entries[mt]; !ok {
		r.cctors.entries[mt] = &cctorEntry{done: make(chan struct{})}
	}
}

// CheckStaticClassConstruction runs mt's static constructor via run
// exactly once, blocking any concurrent caller until the first caller's
// run completes. A cctor that panics or errors marks the type
// permanently failed: per ECMA-335 §I.8.9.5, once a type initializer
// fails, every subsequent attempt to use the type must fail the same
// way rather than silently retrying.
func (r *Resolver) CheckStaticClassConstruction(mt *typereg.MT, run func() error) error {
	r.EnsureCctorContextRegistered(mt)
	r.cctors.mu.Lock()
	entry := r.cctors.entries[mt]
	r.cctors.mu.Unlock()

	entry.mu.Lock()
	switch entry.state {
	case cctorDone:
		entry.mu.Unlock()
		return nil
	case cctorFailed:
		err := entry.err
		entry.mu.Unlock()
		return fmt.Errorf("mil: static constructor for %s previously failed: %w", mt.Name, err)
	case cctorRunning:
		entry.mu.Unlock()
		<-entry.done
		entry.mu.Lock()
		defer entry.mu.Unlock()
		if entry.state == cctorFailed {
			return fmt.Errorf("mil: static constructor for %s previously failed: %w", mt.Name, entry.err)
		}
		return nil
	default: // cctorNotRegistered: this caller runs it
		entry.state = cctorRunning
		entry.mu.Unlock()
	}

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("mil: static constructor for %s panicked: %v", mt.Name, p)
			}
		}()
		return run()
	}()

	entry.mu.Lock()
	if err != nil {
		entry.state = cctorFailed
		entry.err = err
	} else {
		entry.state = cctorDone
	}
	close(entry.done)
	entry.mu.Unlock()
	return err
}
