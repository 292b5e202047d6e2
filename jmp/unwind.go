// Package jmp publishes freshly JIT-compiled methods: it builds the
// Windows x64 UNWIND_INFO/UNWIND_CODE data a compiled method needs so
// the platform unwinder can walk its frame, and hands the finished
// (code, unwind info) pair to a registrar. Registering the result with
// the OS unwinder itself is a platform primitive outside this core's
// scope; this package only builds the bytes and tracks what has been
// published.
package jmp

import (
	"encoding/binary"
	"errors"
	"strconv"
)

// Unwind information flags, same bit assignment the platform's
// UNWIND_INFO.Flags field uses.
const (
	UnwFlagNHandler  = uint8(0x0)
	UnwFlagEHandler  = uint8(0x1)
	UnwFlagUHandler  = uint8(0x2)
	UnwFlagChainInfo = uint8(0x4)
)

// General-purpose register numbering used by the OpInfo field.
const (
	RegRAX = iota
	RegRCX
	RegRDX
	RegRBX
	RegRSP
	RegRBP
	RegRSI
	RegRDI
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
)

// OpInfoRegisters names each general-purpose register number.
var OpInfoRegisters = map[uint8]string{
	RegRAX: "RAX", RegRCX: "RCX", RegRDX: "RDX", RegRBX: "RBX",
	RegRSP: "RSP", RegRBP: "RBP", RegRSI: "RSI", RegRDI: "RDI",
	RegR8: "R8", RegR9: "R9", RegR10: "R10", RegR11: "R11",
	RegR12: "R12", RegR13: "R13", RegR14: "R14", RegR15: "R15",
}

// UnwindOpType is one UNWIND_CODE operation.
type UnwindOpType uint8

const (
	UwOpPushNonVol    = UnwindOpType(0)
	UwOpAllocLarge    = UnwindOpType(1)
	UwOpAllocSmall    = UnwindOpType(2)
	UwOpSetFpReg      = UnwindOpType(3)
	UwOpSaveNonVol    = UnwindOpType(4)
	UwOpSaveNonVolFar = UnwindOpType(5)
	UwOpEpilog        = UnwindOpType(6)
	UwOpSpareCode     = UnwindOpType(7)
	UwOpSaveXmm128    = UnwindOpType(8)
	UwOpSaveXmm128Far = UnwindOpType(9)
	UwOpPushMachFrame = UnwindOpType(10)
	UwOpSetFpRegLarge = UnwindOpType(11)
)

func (uo UnwindOpType) String() string {
	names := map[UnwindOpType]string{
		UwOpPushNonVol:    "UWOP_PUSH_NONVOL",
		UwOpAllocLarge:    "UWOP_ALLOC_LARGE",
		UwOpAllocSmall:    "UWOP_ALLOC_SMALL",
		UwOpSetFpReg:      "UWOP_SET_FPREG",
		UwOpSaveNonVol:    "UWOP_SAVE_NONVOL",
		UwOpSaveNonVolFar: "UWOP_SAVE_NONVOL_FAR",
		UwOpEpilog:        "UWOP_EPILOG",
		UwOpSpareCode:     "UWOP_SPARE_CODE",
		UwOpSaveXmm128:    "UWOP_SAVE_XMM128",
		UwOpSaveXmm128Far: "UWOP_SAVE_XMM128_FAR",
		UwOpPushMachFrame: "UWOP_PUSH_MACHFRAME",
		UwOpSetFpRegLarge: "UWOP_SET_FPREG_LARGE",
	}
	if v, ok := names[uo]; ok {
		return v
	}
	return "?"
}

// ErrTooManyCodes reports a code count that would overflow the 8-bit
// CountOfCodes field.
var ErrTooManyCodes = errors.New("jmp: more than 255 unwind code slots")

// UnwindCode is one entry of a method's prolog unwind code array, in
// the shape the encoder builds and the decoder recovers. Operand is a
// human-readable rendering of whatever operand the opcode carries; only
// the decoder fills it in, and encode ignores it. FrameOffset is a byte
// count: for SAVE_NONVOL, SAVE_XMM128 and the two-slot ALLOC_LARGE form,
// encode stores it divided by the opcode's scale (8, 16, 8) and the
// decoder multiplies it back.
type UnwindCode struct {
	CodeOffset uint8
	UnwindOp   UnwindOpType
	OpInfo     uint8
	Operand    string
	FrameOffset uint16
}

// encode appends code's binary representation (2, 4, or 6 bytes,
// matching the slot count each opcode occupies) to buf and returns the
// extended slice along with how many 2-byte slots it consumed.
func (c UnwindCode) encode(buf []byte) ([]byte, int) {
	head := uint16(c.CodeOffset) | uint16(c.UnwindOp&0xf)<<8 | uint16(c.OpInfo&0xf)<<12
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], head)
	buf = append(buf, tmp[:]...)

	switch c.UnwindOp {
	case UwOpPushNonVol, UwOpAllocSmall, UwOpSetFpReg, UwOpPushMachFrame:
		return buf, 1
	case UwOpSaveNonVol, UwOpSaveXmm128:
		scale := uint16(8)
		if c.UnwindOp == UwOpSaveXmm128 {
			scale = 16
		}
		var w [2]byte
		binary.LittleEndian.PutUint16(w[:], c.FrameOffset/scale)
		buf = append(buf, w[:]...)
		return buf, 2
	case UwOpSaveNonVolFar, UwOpSaveXmm128Far, UwOpSetFpRegLarge:
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], uint32(c.FrameOffset))
		buf = append(buf, w[:2]...)
		return buf, 2
	case UwOpAllocLarge:
		if c.OpInfo == 0 {
			var w [2]byte
			binary.LittleEndian.PutUint16(w[:], c.FrameOffset/8)
			buf = append(buf, w[:]...)
			return buf, 2
		}
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], uint32(c.FrameOffset))
		buf = append(buf, w[:]...)
		return buf, 3
	case UwOpEpilog, UwOpSpareCode:
		var w [2]byte
		buf = append(buf, w[:]...)
		return buf, 2
	default:
		return buf, 1
	}
}

// parseUnwindCode decodes one UnwindCode from data starting at offset
// (2-byte aligned slot index), returning the code and how many 2-byte
// slots it consumed. This is the decode half kept for round-trip
// testing against encode.
func parseUnwindCode(data []byte, offset int) (UnwindCode, int) {
	uc := UnwindCode{}
	if offset+2 > len(data) {
		return uc, 0
	}
	head := binary.LittleEndian.Uint16(data[offset:])
	uc.CodeOffset = uint8(head & 0xff)
	uc.UnwindOp = UnwindOpType(head & 0xf00 >> 8)
	uc.OpInfo = uint8(head & 0xf000 >> 12)

	switch uc.UnwindOp {
	case UwOpAllocSmall:
		size := int(uc.OpInfo)*8 + 8
		uc.Operand = "Size=" + strconv.Itoa(size)
		return uc, 1
	case UwOpAllocLarge:
		if uc.OpInfo == 0 {
			size := int(binary.LittleEndian.Uint16(data[offset+2:])) * 8
			uc.Operand = "Size=" + strconv.Itoa(size)
			uc.FrameOffset = uint16(size)
			return uc, 2
		}
		size := binary.LittleEndian.Uint32(data[offset+2:])
		uc.Operand = "Size=" + strconv.Itoa(int(size))
		uc.FrameOffset = uint16(size)
		return uc, 3
	case UwOpSetFpReg:
		uc.Operand = "Register=" + OpInfoRegisters[uc.OpInfo]
		return uc, 1
	case UwOpPushNonVol:
		uc.Operand = "Register=" + OpInfoRegisters[uc.OpInfo]
		return uc, 1
	case UwOpSaveNonVol:
		fo := binary.LittleEndian.Uint16(data[offset+2:])
		uc.FrameOffset = fo * 8
		uc.Operand = "Register=" + OpInfoRegisters[uc.OpInfo] + ", Offset=" + strconv.Itoa(int(uc.FrameOffset))
		return uc, 2
	case UwOpSaveNonVolFar:
		fo := binary.LittleEndian.Uint32(data[offset+2:])
		uc.FrameOffset = uint16(fo * 8)
		uc.Operand = "Register=" + OpInfoRegisters[uc.OpInfo] + ", Offset=" + strconv.Itoa(int(uc.FrameOffset))
		return uc, 2
	case UwOpSaveXmm128:
		fo := binary.LittleEndian.Uint16(data[offset+2:])
		uc.FrameOffset = fo * 16
		uc.Operand = "Register=XMM" + strconv.Itoa(int(uc.OpInfo)) + ", Offset=" + strconv.Itoa(int(uc.FrameOffset))
		return uc, 2
	case UwOpSaveXmm128Far:
		fo := binary.LittleEndian.Uint32(data[offset+2:])
		uc.FrameOffset = uint16(fo)
		uc.Operand = "Register=XMM" + strconv.Itoa(int(uc.OpInfo)) + ", Offset=" + strconv.Itoa(int(uc.FrameOffset))
		return uc, 2
	case UwOpSetFpRegLarge:
		uc.Operand = "Register=" + OpInfoRegisters[uc.OpInfo]
		return uc, 2
	case UwOpPushMachFrame:
		return uc, 1
	case UwOpEpilog, UwOpSpareCode:
		return uc, 2
	default:
		return uc, 1
	}
}

// UnwindInfo is the method-level unwind descriptor: prolog size,
// frame-register setup, and the ordered code array, matching the
// platform's UNWIND_INFO layout.
type UnwindInfo struct {
	Version          uint8
	Flags            uint8
	SizeOfProlog     uint8
	FrameRegister    uint8
	FrameOffset      uint8 // scaled units of 16, 0-15
	UnwindCodes      []UnwindCode
	ExceptionHandler uint32
}

// Encode builds the binary UNWIND_INFO block for ui: a 4-byte header,
// the unwind code array padded to an even slot count, and — when an
// exception or termination handler flag is set — a trailing
// image-relative handler RVA.
func (ui UnwindInfo) Encode() ([]byte, error) {
	if len(ui.UnwindCodes) > 255 {
		return nil, ErrTooManyCodes
	}

	var codeBytes []byte
	slots := 0
	for _, c := range ui.UnwindCodes {
		var n int
		codeBytes, n = c.encode(codeBytes)
		slots += n
	}
	if slots > 255 {
		return nil, ErrTooManyCodes
	}

	header := uint32(ui.Version&0x7) | uint32(ui.Flags&0x1f)<<3 |
		uint32(ui.SizeOfProlog)<<8 | uint32(slots)<<16 |
		uint32(ui.FrameRegister&0xf)<<24 | uint32(ui.FrameOffset&0xf)<<28

	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, header)
	out = append(out, codeBytes...)
	if slots&1 == 1 {
		out = append(out, 0, 0)
	}

	if ui.Flags&(UnwFlagEHandler|UnwFlagUHandler) != 0 && ui.Flags&UnwFlagChainInfo == 0 {
		var h [4]byte
		binary.LittleEndian.PutUint32(h[:], ui.ExceptionHandler)
		out = append(out, h[:]...)
	}
	return out, nil
}

// DecodeUnwindInfo parses a binary UNWIND_INFO block, the inverse of
// Encode. It is kept so a published block can be round-tripped back
// through the same code paths that a loader reading .pdata/.xdata would
// use, and so jmp_test can assert Encode/Decode agree.
func DecodeUnwindInfo(data []byte) (UnwindInfo, error) {
	ui := UnwindInfo{}
	if len(data) < 4 {
		return ui, errors.New("jmp: unwind info too short")
	}
	v := binary.LittleEndian.Uint32(data)
	ui.Version = uint8(v & 0x7)
	ui.Flags = uint8(v & 0xf8 >> 3)
	ui.SizeOfProlog = uint8(v & 0xff00 >> 8)
	count := uint8(v & 0xff0000 >> 16)
	ui.FrameRegister = uint8(v & 0xf000000 >> 24)
	ui.FrameOffset = uint8(v & 0xf0000000 >> 28)

	offset := 4
	i := 0
	for i < int(count) {
		uc, advance := parseUnwindCode(data, offset+2*i)
		if advance == 0 {
			return ui, errors.New("jmp: truncated unwind code array")
		}
		ui.UnwindCodes = append(ui.UnwindCodes, uc)
		i += advance
	}
	if count&1 == 1 {
		i++
	}

	if ui.Flags&(UnwFlagEHandler|UnwFlagUHandler) != 0 && ui.Flags&UnwFlagChainInfo == 0 {
		hOff := offset + 2*i
		if hOff+4 <= len(data) {
			ui.ExceptionHandler = binary.LittleEndian.Uint32(data[hOff:])
		}
	}
	return ui, nil
}
