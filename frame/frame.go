// Package frame implements the binary framing layer: length-prefixed,
// CRC-protected frames and the checksummed section stream inside them.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Frame layout: 4-byte magic, 1-byte major, 1-byte minor, 2-byte patch,
// 4-byte feature bitset, 4-byte body length, body, 4-byte CRC32 of the body.
// All fixed-width header fields are big-endian.

var (
	// WrapperMagic opens the outer container frame.
	WrapperMagic = [4]byte{'Q', 'Y', 'N', '1'}
	// PayloadMagic opens the inner morphemic section stream.
	PayloadMagic = [4]byte{'M', 'C', 'S', 0}
)

// Feature bitset assignments. Bits outside this set are unknown to this
// reader and reported through Frame.UnknownFeatureBits.
const (
	FeatureCompressionOptimisation uint32 = 1 << 0
	FeatureCompressionExtras       uint32 = 1 << 1
	FeatureSourceMap               uint32 = 1 << 2
	FeatureEncrypted               uint32 = 1 << 3
	FeatureMetadataAuthenticated   uint32 = 1 << 4

	knownFeatureBits = FeatureCompressionOptimisation |
		FeatureCompressionExtras |
		FeatureSourceMap |
		FeatureEncrypted |
		FeatureMetadataAuthenticated
)

const (
	headerSize = 4 + 1 + 1 + 2 + 4 + 4
	crcSize    = 4
)

var (
	ErrTooSmall    = errors.New("frame: data too small to contain a frame")
	ErrBadMagic    = errors.New("frame: unexpected magic")
	ErrTruncated   = errors.New("frame: truncated before CRC")
	ErrCRCMismatch = errors.New("frame: CRC mismatch")
)

// Frame is a parsed binary envelope.
type Frame struct {
	Magic       [4]byte
	Version     Version
	FeatureBits uint32
	Body        []byte
}

// UnknownFeatureBits returns the set bits this reader has no name for.
func (f *Frame) UnknownFeatureBits() uint32 {
	return f.FeatureBits &^ knownFeatureBits
}

// HasFeature reports whether all bits in mask are set.
func (f *Frame) HasFeature(mask uint32) bool {
	return f.FeatureBits&mask == mask
}

// Encode serialises a frame.
func Encode(magic [4]byte, version Version, featureBits uint32, body []byte) []byte {
	out := make([]byte, headerSize+len(body)+crcSize)
	copy(out[0:4], magic[:])
	out[4] = version.Major
	out[5] = version.Minor
	binary.BigEndian.PutUint16(out[6:8], version.Patch)
	binary.BigEndian.PutUint32(out[8:12], featureBits)
	binary.BigEndian.PutUint32(out[12:16], uint32(len(body)))
	copy(out[headerSize:], body)
	crc := crc32.ChecksumIEEE(body)
	binary.BigEndian.PutUint32(out[headerSize+len(body):], crc)
	return out
}

// Decode parses the leading frame from data and returns it with the
// remainder. The body CRC is verified before anything else looks at the
// body; a mismatch is corruption regardless of what the body claims to be.
func Decode(data []byte, expectMagic [4]byte) (*Frame, []byte, error) {
	if len(data) < headerSize+crcSize {
		return nil, nil, ErrTooSmall
	}
	var magic [4]byte
	copy(magic[:], data[0:4])
	if magic != expectMagic {
		return nil, nil, fmt.Errorf("%w: got %q, want %q", ErrBadMagic, magic[:], expectMagic[:])
	}
	version := Version{
		Major: data[4],
		Minor: data[5],
		Patch: binary.BigEndian.Uint16(data[6:8]),
	}
	featureBits := binary.BigEndian.Uint32(data[8:12])
	bodyLen := binary.BigEndian.Uint32(data[12:16])

	end := uint64(headerSize) + uint64(bodyLen)
	crcEnd := end + crcSize
	if crcEnd > uint64(len(data)) {
		return nil, nil, ErrTruncated
	}
	body := data[headerSize:end]
	stored := binary.BigEndian.Uint32(data[end:crcEnd])
	if crc32.ChecksumIEEE(body) != stored {
		return nil, nil, ErrCRCMismatch
	}
	return &Frame{
		Magic:       magic,
		Version:     version,
		FeatureBits: featureBits,
		Body:        body,
	}, data[crcEnd:], nil
}
