package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/clrcore/jitmeta/log"
)

// Errors an Image parse can fail with. Grouped the way a resolver's own
// error taxonomy is: one sentinel per distinct malformed-input shape, so
// callers can match with errors.Is instead of parsing strings.
var (
	ErrBadMetadataSignature = errors.New("metadata: bad BSJB signature")
	ErrMissingTableStream   = errors.New("metadata: neither #~ nor #- stream present")
	ErrBothTableStreams     = errors.New("metadata: both #~ and #- streams present")
	ErrTruncatedStream      = errors.New("metadata: stream runs past end of metadata root")
	ErrUnknownTable         = errors.New("metadata: table id out of range")
	ErrRowOutOfRange        = errors.New("metadata: row id out of range")
	ErrOffsetOutOfRange     = errors.New("metadata: byte offset out of range")
)

const metadataSignature = 0x424a5342 // "BSJB"

// numTables is one past the highest table id this core decodes
// (GenericParamConstraint, 0x2c).
const numTables = GenericParamConstraint + 1

// Header is the decoded table-stream header: ECMA-335 §II.24.2.6, minus
// the Reserved columns the format fixes to zero.
type Header struct {
	MajorVersion uint8
	MinorVersion uint8
	Heaps        uint8 // bit 0 large #Strings, bit 1 large #GUID, bit 2 large #Blob
	MaskValid    uint64
	Sorted       uint64
	RowCounts    [numTables]uint32
}

// streamHeap names the four heap streams a metadata root may carry.
type streamHeap struct {
	name string
	data []byte
}

// Image is one assembly's decoded metadata root: the #~ table stream plus
// its four heaps, with enough per-table bookkeeping (row counts, row
// sizes, byte offsets) that callers can seek straight to any row without
// re-walking the file. It owns no PE/COFF concerns — it starts at the
// metadata root's "BSJB" signature, which the assembly loader (outside
// this core, per its own component boundary) is responsible for locating
// and handing over as a byte slice.
type Image struct {
	logger *log.Helper

	raw     []byte
	strings []byte
	guids   []byte
	blobs   []byte
	usrStr  []byte

	Header Header

	tableOffset [numTables]uint32
	rowSize     [numTables]uint32

	versionString string
}

// Options configures Image parsing. Zero value is valid: New backfills
// Logger when nil.
type Options struct {
	Logger log.Logger
}

// New decodes a metadata root beginning at data[0] with the BSJB
// signature. data is retained, not copied: callers that mmap their
// backing file get zero-copy heap and table access for free.
func New(data []byte, opts *Options) (*Image, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := log.NewHelper(opts.Logger)

	img := &Image{logger: logger}
	if err := img.parseMetadataHeader(data); err != nil {
		return nil, err
	}
	if err := img.parseStreamHeaders(data); err != nil {
		return nil, err
	}
	if err := img.parseTableStreamHeader(); err != nil {
		return nil, err
	}
	img.layoutRows()
	return img, nil
}

// parseMetadataHeader reads the fixed-format metadata root header
// (signature, version, flags, stream count) that precedes the stream
// directory. Adapted from parseMetadataHeader/parseCLRHeaderDirectory.
func (img *Image) parseMetadataHeader(data []byte) error {
	if len(data) < 16 {
		return ErrTruncatedStream
	}
	if binary.LittleEndian.Uint32(data[0:4]) != metadataSignature {
		return ErrBadMetadataSignature
	}
	// data[4:6] major, data[6:8] minor, data[8:12] reserved — unused by
	// any resolver in this core, so they are skipped rather than stored.
	verLen := binary.LittleEndian.Uint32(data[12:16])
	off := 16 + verLen
	// round up to the next 4-byte boundary, per the format.
	if pad := off % 4; pad != 0 {
		off += 4 - pad
	}
	if uint32(len(data)) < off+4 {
		return ErrTruncatedStream
	}
	if int(16+verLen) <= len(data) {
		img.versionString = cString(data[16 : 16+verLen])
	}
	img.raw = data[off:]
	return nil
}

// parseStreamHeaders walks the stream directory (flags, streamCount,
// then one {offset,size,name} triplet per stream) and slices out the
// #~/#- table stream plus the four heaps. Adapted from
// parseMetadataStream/parseCLRHeaderDirectory's mutual-exclusivity check
// on #~ vs #-.
func (img *Image) parseStreamHeaders(root []byte) error {
	cursor := img.raw
	if len(cursor) < 4 {
		return ErrTruncatedStream
	}
	// flags(uint16) + streamCount(uint16)
	streamCount := binary.LittleEndian.Uint16(cursor[2:4])
	pos := uint32(4)

	var tableStream []byte
	haveCompressed, haveUncompressed := false, false

	for i := uint16(0); i < streamCount; i++ {
		if pos+8 > uint32(len(cursor)) {
			return ErrTruncatedStream
		}
		offset := binary.LittleEndian.Uint32(cursor[pos : pos+4])
		size := binary.LittleEndian.Uint32(cursor[pos+4 : pos+8])
		pos += 8
		name, nameLen := readAlignedName(cursor[pos:])
		pos += nameLen

		if uint64(offset)+uint64(size) > uint64(len(root)) {
			return ErrTruncatedStream
		}
		streamData := root[offset : offset+size]

		switch name {
		case "#~":
			tableStream = streamData
			haveCompressed = true
		case "#-":
			tableStream = streamData
			haveUncompressed = true
		case "#Strings":
			img.strings = streamData
		case "#GUID":
			img.guids = streamData
		case "#Blob":
			img.blobs = streamData
		case "#US":
			img.usrStr = streamData
		}
	}

	if haveCompressed && haveUncompressed {
		return ErrBothTableStreams
	}
	if tableStream == nil {
		return ErrMissingTableStream
	}
	img.raw = tableStream
	return nil
}

// readAlignedName reads a NUL-terminated stream name padded to a 4-byte
// boundary, returning the name and the total bytes consumed.
func readAlignedName(b []byte) (string, uint32) {
	n := cString(b)
	total := uint32(len(n) + 1)
	if pad := total % 4; pad != 0 {
		total += 4 - pad
	}
	return n, total
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// parseTableStreamHeader decodes the #~ stream's fixed header: reserved
// dword, version, Heaps flags, reserved byte, MaskValid, Sorted, then one
// row-count dword per table whose MaskValid bit is set. Adapted from
// parseCLRHeaderDirectory's table-stream-header handling.
func (img *Image) parseTableStreamHeader() error {
	b := img.raw
	if len(b) < 24 {
		return ErrTruncatedStream
	}
	img.Header.MajorVersion = b[4]
	img.Header.MinorVersion = b[5]
	img.Header.Heaps = b[6]
	// b[7] is Reserved2, fixed at 1.
	img.Header.MaskValid = binary.LittleEndian.Uint64(b[8:16])
	img.Header.Sorted = binary.LittleEndian.Uint64(b[16:24])

	pos := uint32(24)
	for t := 0; t < numTables; t++ {
		if img.Header.MaskValid&(uint64(1)<<uint(t)) == 0 {
			continue
		}
		if pos+4 > uint32(len(b)) {
			return ErrTruncatedStream
		}
		img.Header.RowCounts[t] = binary.LittleEndian.Uint32(b[pos : pos+4])
		pos += 4
	}
	img.tableOffset[0] = pos // first table's rows start right after the header
	return nil
}

// RowCount returns table t's row count, or 0 if t carries no rows or is
// out of range.
func (img *Image) RowCount(t int) uint32 {
	if t < 0 || t >= numTables {
		return 0
	}
	return img.Header.RowCounts[t]
}

// readU8/readU16/readU32 read little-endian integers from the table
// stream at a byte offset, bounds-checked against its length.
func (img *Image) readU8(off uint32) (uint8, error) {
	if off >= uint32(len(img.raw)) {
		return 0, fmt.Errorf("%w: offset %d", ErrOffsetOutOfRange, off)
	}
	return img.raw[off], nil
}

func (img *Image) readU16(off uint32) (uint16, error) {
	if off+2 > uint32(len(img.raw)) {
		return 0, fmt.Errorf("%w: offset %d", ErrOffsetOutOfRange, off)
	}
	return binary.LittleEndian.Uint16(img.raw[off : off+2]), nil
}

func (img *Image) readU32(off uint32) (uint32, error) {
	if off+4 > uint32(len(img.raw)) {
		return 0, fmt.Errorf("%w: offset %d", ErrOffsetOutOfRange, off)
	}
	return binary.LittleEndian.Uint32(img.raw[off : off+4]), nil
}
