package metadata

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// String returns the UTF-8 decoding of the NUL-terminated #Strings heap
// entry at off. The heap stores plain UTF-8, so no transcoding is needed;
// #US entries (true user strings, Unicode) go through String16 instead.
func (img *Image) String(off uint32) (string, error) {
	if off >= uint32(len(img.strings)) {
		return "", fmt.Errorf("%w: #Strings offset %d", ErrOffsetOutOfRange, off)
	}
	return cString(img.strings[off:]), nil
}

// Blob returns the byte slice of the length-prefixed #Blob heap entry at
// off. The returned slice aliases the image's backing storage.
func (img *Image) Blob(off uint32) ([]byte, error) {
	if off >= uint32(len(img.blobs)) {
		return nil, fmt.Errorf("%w: #Blob offset %d", ErrOffsetOutOfRange, off)
	}
	n, consumed, err := readCompressedUint(img.blobs[off:])
	if err != nil {
		return nil, err
	}
	start := off + consumed
	end := start + n
	if end > uint32(len(img.blobs)) {
		return nil, fmt.Errorf("%w: #Blob entry at %d", ErrTruncatedStream, off)
	}
	return img.blobs[start:end], nil
}

// GUID returns the 16-byte #GUID heap entry at 1-based index idx (ECMA
// stores #GUID as an array of 16-byte records, indexed from 1).
func (img *Image) GUID(idx uint32) ([16]byte, error) {
	var out [16]byte
	if idx == 0 {
		return out, nil
	}
	start := (idx - 1) * 16
	if start+16 > uint32(len(img.guids)) {
		return out, fmt.Errorf("%w: #GUID index %d", ErrOffsetOutOfRange, idx)
	}
	copy(out[:], img.guids[start:start+16])
	return out, nil
}

// String16 decodes the length-prefixed, UTF-16LE #US heap entry at off.
// The trailing "has a non-ASCII or significant char" marker byte ECMA-335
// reserves at the end of each entry is dropped.
func (img *Image) String16(off uint32) (string, error) {
	if off >= uint32(len(img.usrStr)) {
		return "", fmt.Errorf("%w: #US offset %d", ErrOffsetOutOfRange, off)
	}
	n, consumed, err := readCompressedUint(img.usrStr[off:])
	if err != nil {
		return "", err
	}
	start := off + consumed
	end := start + n
	if end > uint32(len(img.usrStr)) {
		return "", fmt.Errorf("%w: #US entry at %d", ErrTruncatedStream, off)
	}
	payload := img.usrStr[start:end]
	if len(payload) > 0 {
		payload = payload[:len(payload)-1] // drop the trailing marker byte
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	decoded, err := dec.Bytes(payload)
	if err != nil {
		return "", fmt.Errorf("metadata: decoding #US entry at %d: %w", off, err)
	}
	return string(decoded), nil
}

// ReadCompressedUint decodes ECMA-335's compressed unsigned integer
// encoding (§II.23.2): the top bits of the first byte select a 1, 2, or
// 4-byte encoding. Exported so the signature walker can decode the same
// encoding inside a blob this package has already sliced out for it.
func ReadCompressedUint(b []byte) (value uint32, consumed uint32, err error) {
	return readCompressedUint(b)
}

func readCompressedUint(b []byte) (value uint32, consumed uint32, err error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncatedStream
	}
	first := b[0]
	switch {
	case first&0x80 == 0:
		return uint32(first), 1, nil
	case first&0xc0 == 0x80:
		if len(b) < 2 {
			return 0, 0, ErrTruncatedStream
		}
		return uint32(first&0x3f)<<8 | uint32(b[1]), 2, nil
	case first&0xe0 == 0xc0:
		if len(b) < 4 {
			return 0, 0, ErrTruncatedStream
		}
		v := binary.BigEndian.Uint32([]byte{first & 0x1f, b[1], b[2], b[3]})
		return v, 4, nil
	default:
		return 0, 0, fmt.Errorf("metadata: invalid compressed integer prefix 0x%02x", first)
	}
}
