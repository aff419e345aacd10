// Package strtab implements the frequency-aware, prefix-compressed string
// table that backs identifier and string-literal payload channels.
package strtab

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/fxamacker/cbor/v2"

	"quenyan.dev/qyn1/rans"
)

const tableVersion = 1

// maxSuffixBytes caps the decompressed suffix bytes a table may claim.
const maxSuffixBytes = 64 << 20

var (
	ErrBadVersion  = errors.New("strtab: unsupported string table version")
	ErrBadPrefix   = errors.New("strtab: prefix length exceeds previous entry")
	ErrTruncated   = errors.New("strtab: suffix stream truncated for type")
	ErrNotInTable  = errors.New("strtab: value not present in string table")
	ErrBadIndex    = errors.New("strtab: string reference index out of range")
	errShortVarint = errors.New("strtab: unterminated varint sequence")
)

// Entry is one prefix-compressed string.
type Entry struct {
	Value        string
	Frequency    uint32
	PrefixLength int
	Suffix       string
	TypeID       uint8
	LengthBucket uint8
}

// Table maps strings to dense indices and back. Entries keep first-seen
// order, so an index assigned during encoding stays valid after a round trip.
type Table struct {
	entries []Entry
	index   map[string]int
}

// Builder interns strings during encoding.
type Builder struct {
	order []string
	count map[string]uint32
	index map[string]int
}

func NewBuilder() *Builder {
	return &Builder{
		count: make(map[string]uint32),
		index: make(map[string]int),
	}
}

// Intern records one occurrence of value and returns its table index.
func (b *Builder) Intern(value string) uint32 {
	if i, ok := b.index[value]; ok {
		b.count[value]++
		return uint32(i)
	}
	i := len(b.order)
	b.order = append(b.order, value)
	b.index[value] = i
	b.count[value] = 1
	return uint32(i)
}

// Table finalises the builder into an immutable table.
func (b *Builder) Table() *Table {
	entries := make([]Entry, 0, len(b.order))
	previous := ""
	for _, value := range b.order {
		prefix := commonPrefix(previous, value)
		entries = append(entries, Entry{
			Value:        value,
			Frequency:    b.count[value],
			PrefixLength: prefix,
			Suffix:       value[prefix:],
			TypeID:       classify(value),
			LengthBucket: lengthBucket(value),
		})
		previous = value
	}
	return newTable(entries)
}

func newTable(entries []Entry) *Table {
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.Value] = i
	}
	return &Table{entries: entries, index: index}
}

func (t *Table) Len() int { return len(t.entries) }

// Index returns the table index for value.
func (t *Table) Index(value string) (uint32, error) {
	i, ok := t.index[value]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotInTable, value)
	}
	return uint32(i), nil
}

// Lookup resolves an index back to its string.
func (t *Table) Lookup(i uint32) (string, error) {
	if int(i) >= len(t.entries) {
		return "", fmt.Errorf("%w: %d of %d", ErrBadIndex, i, len(t.entries))
	}
	return t.entries[i].Value, nil
}

// Entries exposes the table contents for inspection tooling.
func (t *Table) Entries() []Entry { return t.entries }

// MarshalBinary serialises the table: a varint header, per-entry varint
// metadata, then one rANS-compressed suffix byte stream per type class.
func (t *Table) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	writeUvarint(&buf, tableVersion)
	writeUvarint(&buf, uint64(len(t.entries)))

	grouped := map[uint8][]byte{}
	for _, e := range t.entries {
		writeUvarint(&buf, uint64(e.PrefixLength))
		writeUvarint(&buf, uint64(len(e.Suffix)))
		writeUvarint(&buf, uint64(e.Frequency))
		writeUvarint(&buf, uint64(e.TypeID))
		writeUvarint(&buf, uint64(e.LengthBucket))
		grouped[e.TypeID] = append(grouped[e.TypeID], e.Suffix...)
	}

	typeIDs := make([]int, 0, len(grouped))
	for id := range grouped {
		typeIDs = append(typeIDs, int(id))
	}
	sort.Ints(typeIDs)

	backend, err := rans.NewRANSBackend(rans.DefaultPrecisionBits)
	if err != nil {
		return nil, err
	}
	writeUvarint(&buf, uint64(len(typeIDs)))
	for _, id := range typeIDs {
		raw := grouped[uint8(id)]
		symbols := bytesToSymbols(raw)
		model, err := backend.BuildModel(symbols, 256)
		if err != nil {
			return nil, err
		}
		compressed, err := backend.Encode(symbols, model)
		if err != nil {
			return nil, err
		}
		modelBlob, err := model.Marshal()
		if err != nil {
			return nil, err
		}
		writeUvarint(&buf, uint64(id))
		writeUvarint(&buf, uint64(len(raw)))
		writeUvarint(&buf, uint64(len(modelBlob)))
		buf.Write(modelBlob)
		writeUvarint(&buf, uint64(len(compressed)))
		buf.Write(compressed)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a serialised table. A prefix length that reaches past the
// previous entry is corruption, never silently clamped.
func Unmarshal(data []byte) (*Table, error) {
	r := bytes.NewReader(data)
	version, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if version != tableVersion {
		return nil, ErrBadVersion
	}
	count, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	// Five varints per entry, one byte each at minimum.
	if count > uint64(len(data))/5 {
		return nil, fmt.Errorf("strtab: entry count %d impossible for %d bytes", count, len(data))
	}

	type meta struct {
		prefix, suffixLen uint64
		frequency         uint64
		typeID, bucket    uint64
	}
	metadata := make([]meta, count)
	for i := range metadata {
		var m meta
		if m.prefix, err = readUvarint(r); err != nil {
			return nil, err
		}
		if m.suffixLen, err = readUvarint(r); err != nil {
			return nil, err
		}
		if m.frequency, err = readUvarint(r); err != nil {
			return nil, err
		}
		if m.typeID, err = readUvarint(r); err != nil {
			return nil, err
		}
		if m.bucket, err = readUvarint(r); err != nil {
			return nil, err
		}
		metadata[i] = m
	}

	// The decompressed size of each suffix stream is fully determined by
	// the entry metadata. Summing it here bounds every later allocation;
	// the per-stream length field is checked against it, never trusted.
	need := make(map[uint8]uint64, 8)
	var totalSuffix uint64
	for _, m := range metadata {
		if m.suffixLen > maxSuffixBytes || totalSuffix+m.suffixLen > maxSuffixBytes {
			return nil, fmt.Errorf("%w: suffix bytes exceed %d limit", ErrTruncated, maxSuffixBytes)
		}
		totalSuffix += m.suffixLen
		need[uint8(m.typeID)] += m.suffixLen
	}

	streamCount, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	backend, err := rans.NewRANSBackend(rans.DefaultPrecisionBits)
	if err != nil {
		return nil, err
	}
	streams := map[uint8][]byte{}
	for i := uint64(0); i < streamCount; i++ {
		typeID, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		byteLen, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		if byteLen != need[uint8(typeID)] {
			return nil, fmt.Errorf("%w: stream %d claims %d bytes, entries need %d",
				ErrTruncated, typeID, byteLen, need[uint8(typeID)])
		}
		modelBlob, err := readBlob(r)
		if err != nil {
			return nil, err
		}
		compressed, err := readBlob(r)
		if err != nil {
			return nil, err
		}
		if byteLen == 0 {
			streams[uint8(typeID)] = nil
			continue
		}
		var model rans.Model
		if err := cbor.Unmarshal(modelBlob, &model); err != nil {
			return nil, fmt.Errorf("strtab: malformed suffix stream model: %w", err)
		}
		symbols, err := backend.Decode(compressed, &model, int(byteLen))
		if err != nil {
			return nil, fmt.Errorf("strtab: suffix stream decode: %w", err)
		}
		streams[uint8(typeID)] = symbolsToBytes(symbols)
	}

	entries := make([]Entry, 0, count)
	positions := map[uint8]uint64{}
	previous := ""
	for _, m := range metadata {
		if m.prefix > uint64(len(previous)) {
			return nil, fmt.Errorf("%w: prefix %d, previous %d bytes", ErrBadPrefix, m.prefix, len(previous))
		}
		stream := streams[uint8(m.typeID)]
		pos := positions[uint8(m.typeID)]
		end := pos + m.suffixLen
		if end > uint64(len(stream)) {
			return nil, ErrTruncated
		}
		suffix := string(stream[pos:end])
		positions[uint8(m.typeID)] = end
		value := previous[:m.prefix] + suffix
		entries = append(entries, Entry{
			Value:        value,
			Frequency:    uint32(m.frequency),
			PrefixLength: int(m.prefix),
			Suffix:       suffix,
			TypeID:       uint8(m.typeID),
			LengthBucket: uint8(m.bucket),
		})
		previous = value
	}
	return newTable(entries), nil
}

func commonPrefix(a, b string) int {
	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}
	n := 0
	for n < limit && a[n] == b[n] {
		n++
	}
	return n
}

// classify buckets a string into a small type id so suffixes with similar
// byte statistics share one entropy stream: 0 generic, 1 identifier-like,
// 2 path or URL material, 3 natural language, 4 structured text.
func classify(value string) uint8 {
	text := strings.TrimSpace(value)
	if text == "" {
		return 0
	}
	if isIdentifier(text) {
		return 1
	}
	if strings.Contains(text, "://") || strings.ContainsAny(text, `/\`) {
		return 2
	}
	lowered := strings.ToLower(text)
	if strings.HasPrefix(lowered, "{") || strings.HasPrefix(lowered, "[") {
		return 4
	}
	for _, kw := range []string{"select", "insert", "update", "delete", "with"} {
		if strings.HasPrefix(lowered, kw) {
			return 4
		}
	}
	hasSpace, hasPunct := false, false
	for _, ch := range text {
		switch {
		case unicode.IsSpace(ch):
			hasSpace = true
		case !unicode.IsLetter(ch) && !unicode.IsDigit(ch):
			hasPunct = true
		}
	}
	if hasSpace && hasPunct {
		return 3
	}
	return 0
}

func isIdentifier(s string) bool {
	for _, ch := range s {
		if ch != '_' && !unicode.IsLetter(ch) && !unicode.IsDigit(ch) || ch > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func lengthBucket(value string) uint8 {
	switch n := len(value); {
	case n <= 8:
		return 0
	case n <= 32:
		return 1
	case n <= 128:
		return 2
	default:
		return 3
	}
}

func bytesToSymbols(raw []byte) []uint16 {
	symbols := make([]uint16, len(raw))
	for i, b := range raw {
		symbols[i] = uint16(b)
	}
	return symbols
}

func symbolsToBytes(symbols []uint16) []byte {
	raw := make([]byte, len(symbols))
	for i, s := range symbols {
		raw[i] = byte(s)
	}
	return raw
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, errShortVarint
	}
	return v, nil
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("strtab: blob length %d exceeds %d remaining bytes", n, r.Len())
	}
	blob := make([]byte, n)
	if _, err := r.Read(blob); err != nil {
		return nil, err
	}
	return blob, nil
}
