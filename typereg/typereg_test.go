package typereg

import (
	"sync"
	"testing"

	"github.com/clrcore/jitmeta/metadata"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	mt := &MT{Token: metadata.NewToken(metadata.TypeDef, 1), Name: "Widget"}
	idx := r.Register(mt)
	if got := r.At(idx); got != mt {
		t.Fatalf("At(%d) = %v, want %v", idx, got, mt)
	}
	if got := r.Lookup(mt.Token); got != mt {
		t.Fatalf("Lookup = %v, want %v", got, mt)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestRegisterSpansBlocks(t *testing.T) {
	r := NewRegistry()
	const n = blockSize*2 + 7
	for i := 0; i < n; i++ {
		r.Register(&MT{Token: metadata.NewToken(metadata.TypeDef, uint32(i+1))})
	}
	if r.Len() != uint32(n) {
		t.Fatalf("Len() = %d, want %d", r.Len(), n)
	}
	if r.At(uint32(n-1)) == nil {
		t.Fatal("last registered MT not reachable via At")
	}
	if r.At(uint32(n)) != nil {
		t.Fatal("At(n) should be out of range")
	}
}

func TestConcurrentRegisterSerializes(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	const workers, perWorker = 8, 100
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				r.Register(&MT{Token: metadata.NewToken(metadata.TypeDef, uint32(w*perWorker+i+1))})
			}
		}(w)
	}
	wg.Wait()
	if r.Len() != uint32(workers*perWorker) {
		t.Fatalf("Len() = %d, want %d", r.Len(), workers*perWorker)
	}
}

func TestCaptureWellKnownTwicePanics(t *testing.T) {
	r := NewRegistry()
	mt := &MT{Token: metadata.WellKnownInt32, Name: "Int32"}
	r.CaptureWellKnown(mt)
	if r.WellKnown(metadata.WellKnownInt32) != mt {
		t.Fatal("well-known not bound")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double capture")
		}
	}()
	r.CaptureWellKnown(&MT{Token: metadata.WellKnownInt32, Name: "Int32-again"})
}

func TestInternReusesInstantiation(t *testing.T) {
	r := NewRegistry()
	cache := NewInstantiationCache()
	def := &MT{Token: metadata.NewToken(metadata.TypeDef, 5), Name: "List`1", IsGenericDef: true}
	arg := &MT{Token: metadata.WellKnownInt32, Name: "Int32"}

	build := func() *MT {
		return &MT{Name: "List<Int32>", GenericDef: def, GenericArgs: []*MT{arg}}
	}
	first := r.Intern(cache, def, []*MT{arg}, build)
	second := r.Intern(cache, def, []*MT{arg}, func() *MT {
		t.Fatal("build should not run on a cache hit")
		return nil
	})
	if first != second {
		t.Fatal("expected the same interned instantiation MT")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (one intern only)", r.Len())
	}
}

func TestVTableSlotTargetPublication(t *testing.T) {
	mt := &MT{VTable: make([]VTableSlot, 2)}
	mt.VTable[0] = VTableSlot{MethodToken: metadata.NewToken(metadata.MethodDef, 1)}
	mt.SetTarget(0, 0xdeadbeef)
	if got := mt.Slot(0).Target; got != 0xdeadbeef {
		t.Fatalf("Slot(0).Target = %#x, want 0xdeadbeef", got)
	}
}
