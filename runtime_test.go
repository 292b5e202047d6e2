package jitmeta

import (
	"errors"
	"testing"

	"github.com/clrcore/jitmeta/metadata"
	"github.com/clrcore/jitmeta/trust"
)

type rejectingTrust struct{}

func (rejectingTrust) StrongNameSignature(*metadata.Assembly) ([]byte, bool) { return nil, false }

func TestNewWiresAllComponents(t *testing.T) {
	rt := New(nil)
	if rt.Registry == nil || rt.Resolver == nil || rt.Registrar == nil || rt.Dispatcher == nil {
		t.Fatal("New(nil) left a component unwired")
	}
	if rt.Registrar.Cap() != DefaultRegistrarCapacity {
		t.Fatalf("got registrar capacity %d, want default %d", rt.Registrar.Cap(), DefaultRegistrarCapacity)
	}
}

func TestSetCurrentAssemblyUntrustedNeverBinds(t *testing.T) {
	rt := New(&Options{Trust: rejectingTrust{}})
	asm := &metadata.Assembly{Image: &metadata.Image{}, Name: "Untrusted"}

	err := rt.SetCurrentAssembly(asm)
	if !errors.Is(err, trust.ErrAssemblyUntrusted) {
		t.Fatalf("got %v, want ErrAssemblyUntrusted", err)
	}
	if rt.CurrentAssembly() != nil {
		t.Fatal("an untrusted assembly must never become current")
	}
}

func TestSetCurrentAssemblyDisableCertValidationBypassesTrust(t *testing.T) {
	rt := New(&Options{Trust: rejectingTrust{}, DisableCertValidation: true})
	asm := &metadata.Assembly{Image: &metadata.Image{}, Name: "Unsigned"}

	if err := rt.SetCurrentAssembly(asm); err != nil {
		t.Fatalf("unexpected error with DisableCertValidation: %v", err)
	}
	if rt.CurrentAssembly() != asm {
		t.Fatal("expected asm to become current")
	}
}

func TestResolveTypeWithNoCurrentAssembly(t *testing.T) {
	rt := New(nil)
	_, err := rt.ResolveType(metadata.NewToken(metadata.TypeDef, 1))
	if !errors.Is(err, ErrNoCurrentAssembly) {
		t.Fatalf("got %v, want ErrNoCurrentAssembly", err)
	}
}
