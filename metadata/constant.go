package metadata

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/text/encoding/unicode"
)

// DecodeConstant reads the blob a Constant row's Value column points at
// and returns it as the matching Go value: bool, rune-width ints, the
// two float kinds, a decoded string, or nil for ELEMENT_TYPE_CLASS's
// literal null.
func (img *Image) DecodeConstant(row ConstantRow) (interface{}, error) {
	if row.Type == ElementTypeClass {
		return nil, nil // the only legal Class constant is a null reference
	}
	b, err := img.Blob(row.Value)
	if err != nil {
		return nil, fmt.Errorf("metadata: reading constant blob: %w", err)
	}
	switch row.Type {
	case ElementTypeBoolean:
		return len(b) > 0 && b[0] != 0, nil
	case ElementTypeChar:
		return rune(binary.LittleEndian.Uint16(must2(b))), nil
	case ElementTypeI1:
		return int8(b[0]), nil
	case ElementTypeU1:
		return b[0], nil
	case ElementTypeI2:
		return int16(binary.LittleEndian.Uint16(must2(b))), nil
	case ElementTypeU2:
		return binary.LittleEndian.Uint16(must2(b)), nil
	case ElementTypeI4:
		return int32(binary.LittleEndian.Uint32(must4(b))), nil
	case ElementTypeU4:
		return binary.LittleEndian.Uint32(must4(b)), nil
	case ElementTypeI8:
		return int64(binary.LittleEndian.Uint64(must8(b))), nil
	case ElementTypeU8:
		return binary.LittleEndian.Uint64(must8(b)), nil
	case ElementTypeR4:
		return math.Float32frombits(binary.LittleEndian.Uint32(must4(b))), nil
	case ElementTypeR8:
		return math.Float64frombits(binary.LittleEndian.Uint64(must8(b))), nil
	case ElementTypeString:
		dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		s, err := dec.Bytes(b)
		if err != nil {
			return nil, fmt.Errorf("metadata: decoding string constant: %w", err)
		}
		return string(s), nil
	default:
		return nil, fmt.Errorf("metadata: unsupported constant ELEMENT_TYPE 0x%02x", row.Type)
	}
}

func must2(b []byte) []byte {
	if len(b) < 2 {
		return make([]byte, 2)
	}
	return b
}

func must4(b []byte) []byte {
	if len(b) < 4 {
		return make([]byte, 4)
	}
	return b
}

func must8(b []byte) []byte {
	if len(b) < 8 {
		return make([]byte, 8)
	}
	return b
}
