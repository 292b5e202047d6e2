package jmp

import (
	"errors"

	"github.com/clrcore/jitmeta/varint"
)

// EHClauseFlags classifies one exception-handling clause the same way
// CLR's CorExceptionFlag does: which of typed/filter/finally/fault form
// it takes.
type EHClauseFlags uint32

const (
	EHClauseTyped   EHClauseFlags = 0x0000
	EHClauseFilter  EHClauseFlags = 0x0001
	EHClauseFinally EHClauseFlags = 0x0002
	EHClauseFault   EHClauseFlags = 0x0004
)

// EHClause is one protected region of a compiled method: a try range,
// paired with either a catch (typed or filtered), a finally, or a
// fault handler range.
type EHClause struct {
	Flags         EHClauseFlags
	TryOffset     uint32
	TryLength     uint32
	HandlerOffset uint32
	HandlerLength uint32
	ClassToken    uint32 // valid when Flags == EHClauseTyped
	FilterOffset  uint32 // valid when Flags == EHClauseFilter
}

// ErrTruncatedEHBlock reports an EH block that ended before a complete
// clause could be read.
var ErrTruncatedEHBlock = errors.New("jmp: truncated exception handling block")

// EncodeEHInfo serializes clauses as a count followed by each clause's
// fields, every integer packed with the native-variable-length
// unsigned encoding (package varint) rather than a
// fixed-width struct — most try/handler ranges and offsets fit in one
// or two bytes, so this is both denser and simpler than reproducing
// the platform SCOPE_TABLE's fixed 16-byte records, and its
// self-describing prefix lets an unwinder skip a clause without fully
// decoding it.
func EncodeEHInfo(clauses []EHClause) []byte {
	buf := make([]byte, 0, 8+len(clauses)*12)

	buf = varint.Append(buf, uint32(len(clauses)))
	for _, c := range clauses {
		buf = varint.Append(buf, uint32(c.Flags))
		buf = varint.Append(buf, c.TryOffset)
		buf = varint.Append(buf, c.TryLength)
		buf = varint.Append(buf, c.HandlerOffset)
		buf = varint.Append(buf, c.HandlerLength)
		switch c.Flags {
		case EHClauseFilter:
			buf = varint.Append(buf, c.FilterOffset)
		default:
			buf = varint.Append(buf, c.ClassToken)
		}
	}
	return buf
}

// DecodeEHInfo parses a block built by EncodeEHInfo.
func DecodeEHInfo(data []byte) ([]EHClause, error) {
	pos := 0
	readUvarint := func() (uint32, error) {
		v, n := varint.Decode(data[pos:])
		if n <= 0 {
			return 0, ErrTruncatedEHBlock
		}
		pos += n
		return v, nil
	}

	count, err := readUvarint()
	if err != nil {
		return nil, err
	}

	clauses := make([]EHClause, 0, count)
	for i := uint32(0); i < count; i++ {
		var c EHClause
		flags, err := readUvarint()
		if err != nil {
			return nil, err
		}
		c.Flags = EHClauseFlags(flags)

		fields := [4]*uint32{&c.TryOffset, &c.TryLength, &c.HandlerOffset, &c.HandlerLength}
		for _, f := range fields {
			v, err := readUvarint()
			if err != nil {
				return nil, err
			}
			*f = v
		}

		last, err := readUvarint()
		if err != nil {
			return nil, err
		}
		if c.Flags == EHClauseFilter {
			c.FilterOffset = last
		} else {
			c.ClassToken = last
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}
