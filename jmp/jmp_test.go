package jmp

import (
	"errors"
	"testing"

	"github.com/clrcore/jitmeta/metadata"
)

func TestRegistrarPublishAndLookup(t *testing.T) {
	r := NewRegistrar(4)
	tok := metadata.NewToken(metadata.MethodDef, 1)

	mi, err := r.Publish(tok, 0x1000, 0x40, UnwindInfo{Version: 1, SizeOfProlog: 4}, nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if mi.CodeAddress != 0x1000 || mi.CodeLength != 0x40 {
		t.Fatalf("got %+v, want CodeAddress=0x1000 CodeLength=0x40", mi)
	}

	got, ok := r.Lookup(tok)
	if !ok || got != mi {
		t.Fatalf("Lookup did not return the published entry")
	}
	if r.Len() != 1 {
		t.Fatalf("got Len()=%d, want 1", r.Len())
	}
}

func TestRegistrarRejectsDuplicatePublish(t *testing.T) {
	r := NewRegistrar(4)
	tok := metadata.NewToken(metadata.MethodDef, 1)

	if _, err := r.Publish(tok, 0x1000, 0x10, UnwindInfo{}, nil); err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	_, err := r.Publish(tok, 0x2000, 0x10, UnwindInfo{}, nil)
	if !errors.Is(err, ErrAlreadyPublished) {
		t.Fatalf("got %v, want ErrAlreadyPublished", err)
	}
}

func TestRegistrarRejectsOverCapacity(t *testing.T) {
	r := NewRegistrar(1)
	if _, err := r.Publish(metadata.NewToken(metadata.MethodDef, 1), 0x1000, 0x10, UnwindInfo{}, nil); err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	_, err := r.Publish(metadata.NewToken(metadata.MethodDef, 2), 0x2000, 0x10, UnwindInfo{}, nil)
	if !errors.Is(err, ErrRegistrarFull) {
		t.Fatalf("got %v, want ErrRegistrarFull", err)
	}
}

func TestRuntimeFunctionTableMatchesPublishedEntries(t *testing.T) {
	r := NewRegistrar(4)
	r.Publish(metadata.NewToken(metadata.MethodDef, 1), 0x1000, 0x20, UnwindInfo{}, nil)
	r.Publish(metadata.NewToken(metadata.MethodDef, 2), 0x2000, 0x30, UnwindInfo{}, nil)

	table := r.RuntimeFunctionTable()
	if len(table) != 2 {
		t.Fatalf("got %d entries, want 2", len(table))
	}
	if table[0].BeginAddress != 0x1000 || table[0].EndAddress != 0x1020 {
		t.Fatalf("got %+v, want Begin=0x1000 End=0x1020", table[0])
	}
	if table[1].BeginAddress != 0x2000 || table[1].EndAddress != 0x2030 {
		t.Fatalf("got %+v, want Begin=0x2000 End=0x2030", table[1])
	}
}

func TestUnwindInfoEncodeDecodeRoundTrip(t *testing.T) {
	ui := UnwindInfo{
		Version:       1,
		Flags:         UnwFlagNHandler,
		SizeOfProlog:  9,
		FrameRegister: RegRBP,
		FrameOffset:   2,
		UnwindCodes: []UnwindCode{
			{CodeOffset: 9, UnwindOp: UwOpSetFpReg, OpInfo: RegRBP},
			{CodeOffset: 4, UnwindOp: UwOpPushNonVol, OpInfo: RegRBX},
			{CodeOffset: 1, UnwindOp: UwOpAllocSmall, OpInfo: 3},
		},
	}

	data, err := ui.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeUnwindInfo(data)
	if err != nil {
		t.Fatalf("DecodeUnwindInfo: %v", err)
	}
	if got.SizeOfProlog != ui.SizeOfProlog || got.FrameRegister != ui.FrameRegister || got.FrameOffset != ui.FrameOffset {
		t.Fatalf("got %+v, want header fields matching %+v", got, ui)
	}
	if len(got.UnwindCodes) != len(ui.UnwindCodes) {
		t.Fatalf("got %d codes, want %d", len(got.UnwindCodes), len(ui.UnwindCodes))
	}
	for i, c := range got.UnwindCodes {
		want := ui.UnwindCodes[i]
		if c.CodeOffset != want.CodeOffset || c.UnwindOp != want.UnwindOp {
			t.Fatalf("code %d: got %+v, want CodeOffset=%d UnwindOp=%v", i, c, want.CodeOffset, want.UnwindOp)
		}
	}
}

func TestUnwindInfoEncodeWithExceptionHandler(t *testing.T) {
	ui := UnwindInfo{Flags: UnwFlagEHandler, ExceptionHandler: 0xdeadbeef}
	data, err := ui.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeUnwindInfo(data)
	if err != nil {
		t.Fatalf("DecodeUnwindInfo: %v", err)
	}
	if got.ExceptionHandler != ui.ExceptionHandler {
		t.Fatalf("got ExceptionHandler=%#x, want %#x", got.ExceptionHandler, ui.ExceptionHandler)
	}
}

func TestUnwindInfoRejectsTooManyCodes(t *testing.T) {
	ui := UnwindInfo{UnwindCodes: make([]UnwindCode, 256)}
	if _, err := ui.Encode(); !errors.Is(err, ErrTooManyCodes) {
		t.Fatalf("got %v, want ErrTooManyCodes", err)
	}
}

func TestEHInfoEncodeDecodeRoundTrip(t *testing.T) {
	clauses := []EHClause{
		{Flags: EHClauseTyped, TryOffset: 0, TryLength: 20, HandlerOffset: 20, HandlerLength: 10, ClassToken: 0x02000005},
		{Flags: EHClauseFinally, TryOffset: 0, TryLength: 40, HandlerOffset: 40, HandlerLength: 8},
		{Flags: EHClauseFilter, TryOffset: 2, TryLength: 18, HandlerOffset: 30, HandlerLength: 6, FilterOffset: 24},
	}

	data := EncodeEHInfo(clauses)
	got, err := DecodeEHInfo(data)
	if err != nil {
		t.Fatalf("DecodeEHInfo: %v", err)
	}
	if len(got) != len(clauses) {
		t.Fatalf("got %d clauses, want %d", len(got), len(clauses))
	}
	for i, c := range got {
		if c != clauses[i] {
			t.Fatalf("clause %d: got %+v, want %+v", i, c, clauses[i])
		}
	}
}

func TestEHInfoDecodeTruncated(t *testing.T) {
	if _, err := DecodeEHInfo([]byte{}); !errors.Is(err, ErrTruncatedEHBlock) {
		t.Fatalf("got %v, want ErrTruncatedEHBlock", err)
	}
}
