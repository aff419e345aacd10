package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Section layout: id u16, flags u16, length u32, CRC32 u32, body. Header
// fields are little-endian. Sections appear in strictly ascending id order
// and every body is CRC-checked before it is interpreted.

// Known section ids. The extension range (>= ExtensionBase) is preserved
// byte-for-byte and skipped by readers that do not recognise an id.
const (
	SectionStreamHeader     uint16 = 0x0001
	SectionCompressionModel uint16 = 0x0002
	SectionTokens           uint16 = 0x0003
	SectionStringTable      uint16 = 0x0004
	SectionPayloadRecords   uint16 = 0x0005
	SectionSourceMap        uint16 = 0x0006
	SectionMetadata         uint16 = 0x0007

	SectionChannelIdentifiers uint16 = 0x0101
	SectionChannelStrings     uint16 = 0x0102
	SectionChannelIntegers    uint16 = 0x0103
	SectionChannelCounts      uint16 = 0x0104
	SectionChannelFlags       uint16 = 0x0105

	ExtensionBase uint16 = 0x8000
)

// sectionFlagReserved is the range of flag bits a reader may ignore.
// Anything set above it is a hard rejection.
const sectionFlagReserved uint16 = 0x00FF

const sectionHeaderSize = 2 + 2 + 4 + 4

var (
	ErrSectionTruncated = errors.New("frame: truncated section")
	ErrSectionCRC       = errors.New("frame: section CRC mismatch")
	ErrSectionOrder     = errors.New("frame: section ids not strictly ascending")
	ErrSectionFlags     = errors.New("frame: unknown section flag bits")
)

// Section is one logical block inside a frame body.
type Section struct {
	ID    uint16
	Flags uint16
	Body  []byte
}

// Extension reports whether the section sits in the preserved range.
func (s Section) Extension() bool { return s.ID >= ExtensionBase }

// EncodeSections serialises sections in the order given. Callers are
// responsible for presenting ids in ascending order; DecodeSections will
// reject anything else.
func EncodeSections(sections []Section) []byte {
	var size int
	for _, s := range sections {
		size += sectionHeaderSize + len(s.Body)
	}
	out := make([]byte, 0, size)
	var hdr [sectionHeaderSize]byte
	for _, s := range sections {
		binary.LittleEndian.PutUint16(hdr[0:2], s.ID)
		binary.LittleEndian.PutUint16(hdr[2:4], s.Flags)
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(s.Body)))
		binary.LittleEndian.PutUint32(hdr[8:12], crc32.ChecksumIEEE(s.Body))
		out = append(out, hdr[:]...)
		out = append(out, s.Body...)
	}
	return out
}

// DecodeSections parses a frame body into sections, enforcing ascending id
// order, per-section CRCs and the reserved flag range.
func DecodeSections(body []byte) ([]Section, error) {
	var sections []Section
	offset := 0
	lastID := -1
	for offset < len(body) {
		if offset+sectionHeaderSize > len(body) {
			return nil, fmt.Errorf("%w: header at offset %d", ErrSectionTruncated, offset)
		}
		id := binary.LittleEndian.Uint16(body[offset : offset+2])
		flags := binary.LittleEndian.Uint16(body[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(body[offset+4 : offset+8])
		stored := binary.LittleEndian.Uint32(body[offset+8 : offset+12])
		offset += sectionHeaderSize

		end := offset + int(length)
		if end < offset || end > len(body) {
			return nil, fmt.Errorf("%w: section 0x%04x body", ErrSectionTruncated, id)
		}
		if int(id) <= lastID {
			return nil, fmt.Errorf("%w: 0x%04x after 0x%04x", ErrSectionOrder, id, lastID)
		}
		if flags&^sectionFlagReserved != 0 {
			return nil, fmt.Errorf("%w: section 0x%04x flags 0x%04x", ErrSectionFlags, id, flags)
		}
		payload := body[offset:end]
		if crc32.ChecksumIEEE(payload) != stored {
			return nil, fmt.Errorf("%w: section 0x%04x", ErrSectionCRC, id)
		}
		sections = append(sections, Section{ID: id, Flags: flags, Body: payload})
		lastID = int(id)
		offset = end
	}
	return sections, nil
}

// FindSection returns the section with the given id, if present.
func FindSection(sections []Section, id uint16) (Section, bool) {
	for _, s := range sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}
