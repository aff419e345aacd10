// Package sourcemap maps token positions back to source spans. The map
// rides in its own optional section, zstd-compressed, and its presence is
// signalled by a stream-header flag, never inferred from section presence.
package sourcemap

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

const Version = "1.0"

// maxDecodedBytes caps decompression of untrusted maps.
const maxDecodedBytes = 64 << 20

// Entry maps one token position to a source span. A token index may appear
// in several entries; Resolve returns the last one, so later, more specific
// spans shadow earlier coarse ones.
type Entry struct {
	TokenIndex  uint32 `cbor:"token"`
	Key         string `cbor:"key"`
	StartLine   uint32 `cbor:"start_line"`
	StartColumn uint32 `cbor:"start_column"`
	EndLine     uint32 `cbor:"end_line"`
	EndColumn   uint32 `cbor:"end_column"`
	NodeType    string `cbor:"node"`
}

// Map is the full source map for one package.
type Map struct {
	Version           string  `cbor:"version"`
	SourceHash        string  `cbor:"source_hash"`
	DictionaryVersion string  `cbor:"dictionary_version"`
	EncoderVersion    string  `cbor:"encoder_version"`
	Entries           []Entry `cbor:"mappings"`
}

var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Record appends a mapping. Entries stay append-only; order is resolution
// precedence.
func (m *Map) Record(e Entry) {
	m.Entries = append(m.Entries, e)
}

// Resolve returns the span for a token index, last match winning.
func (m *Map) Resolve(tokenIndex uint32) (Entry, bool) {
	for i := len(m.Entries) - 1; i >= 0; i-- {
		if m.Entries[i].TokenIndex == tokenIndex {
			return m.Entries[i], true
		}
	}
	return Entry{}, false
}

// wireMap strips Map's methods so the CBOR layer encodes the plain struct.
// Marshalling *Map directly would let the encoder pick up MarshalBinary and
// recurse into it.
type wireMap Map

// MarshalBinary serialises the map: canonical CBOR compressed with zstd.
func (m *Map) MarshalBinary() ([]byte, error) {
	if m.Version == "" {
		m.Version = Version
	}
	payload, err := cborEnc.Marshal((*wireMap)(m))
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(payload, nil), nil
}

// Unmarshal parses a serialised source map.
func Unmarshal(data []byte) (*Map, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedBytes))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	payload, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("sourcemap: decompress: %w", err)
	}
	var m wireMap
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("sourcemap: malformed encoding: %w", err)
	}
	return (*Map)(&m), nil
}
