package rans

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ModelMode selects how the frequency table for a stream is constructed.
type ModelMode string

const (
	// ModeAdaptive builds a fresh table from the file's own symbols.
	ModeAdaptive ModelMode = "adaptive"
	// ModeStatic uses a registered global table with no per-file adaptation.
	ModeStatic ModelMode = "static"
	// ModeHybrid starts from a global table and applies sparse overrides.
	ModeHybrid ModelMode = "hybrid"
	// ModeChunked marks chunked-backend models carrying per-chunk tables.
	ModeChunked ModelMode = "chunked"
)

func ResolveModelMode(value string) (ModelMode, error) {
	switch ModelMode(value) {
	case "":
		return ModeAdaptive, nil
	case ModeAdaptive, ModeStatic, ModeHybrid, ModeChunked:
		return ModelMode(value), nil
	default:
		return "", fmt.Errorf("rans: unknown model mode %q", value)
	}
}

// ChunkMeta locates one chunk inside a chunked-backend stream and carries
// the frequency table it was encoded with.
type ChunkMeta struct {
	Offset      uint64   `cbor:"offset"`
	Length      uint64   `cbor:"length"`
	SymbolCount uint64   `cbor:"symbol_count"`
	Frequencies []uint32 `cbor:"frequencies"`
}

// Model is the serialised compression model stored in the package's model
// section. Its canonical CBOR encoding is also the input to Digest, which is
// what the metadata block commits to.
type Model struct {
	Mode          string            `cbor:"mode,omitempty"`
	ModelID       string            `cbor:"model_id,omitempty"`
	PrecisionBits int               `cbor:"precision_bits"`
	AlphabetSize  int               `cbor:"alphabet_size,omitempty"`
	Frequencies   []uint32          `cbor:"frequencies,omitempty"`
	Overrides     map[uint32]uint32 `cbor:"overrides,omitempty"`
	ChunkSize     int               `cbor:"chunk_size,omitempty"`
	Chunks        []ChunkMeta       `cbor:"chunks,omitempty"`
}

var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Marshal returns the model's canonical CBOR encoding.
func (m *Model) Marshal() ([]byte, error) {
	return cborEnc.Marshal(m)
}

// UnmarshalModel parses a model section body.
func UnmarshalModel(data []byte) (*Model, error) {
	var m Model
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("rans: malformed model encoding: %w", err)
	}
	return &m, nil
}

// Digest returns SHA-256 over the canonical encoding, hex-free raw bytes.
func (m *Model) Digest() ([32]byte, error) {
	enc, err := m.Marshal()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(enc), nil
}

// Table resolves the model to a concrete rANS table according to its mode.
// Static and hybrid modes consult the global model registry; chunked models
// have no single table and must be decoded through the chunked backend.
func (m *Model) Table() (*Table, error) {
	mode, err := ResolveModelMode(m.Mode)
	if err != nil {
		// Unknown modes decode adaptively when a frequency table is
		// present, matching lenient producers.
		mode = ModeAdaptive
	}
	precision := m.PrecisionBits
	if precision == 0 {
		precision = DefaultPrecisionBits
	}

	var frequencies []uint32
	switch mode {
	case ModeStatic:
		global, err := LoadGlobalModel(m.modelID())
		if err != nil {
			return nil, err
		}
		frequencies = append([]uint32(nil), global.Frequencies...)
	case ModeHybrid:
		global, err := LoadGlobalModel(m.modelID())
		if err != nil {
			return nil, err
		}
		size := m.AlphabetSize
		if size == 0 {
			size = global.AlphabetSize
		}
		frequencies = ApplyHybridOverrides(global, m.Overrides, size)
	case ModeChunked:
		return nil, errors.New("rans: chunked model has no single table")
	default:
		if len(m.Frequencies) == 0 {
			return nil, errors.New("rans: adaptive model missing frequency table")
		}
		frequencies = m.Frequencies
	}
	return TableFromFrequencies(precision, frequencies)
}

func (m *Model) modelID() string {
	if m.ModelID == "" {
		return DefaultGlobalModelID
	}
	return m.ModelID
}

// ApplyHybridOverrides materialises a concrete frequency table from a global
// base plus sparse per-symbol overrides, growing the table as needed.
func ApplyHybridOverrides(base *GlobalModel, overrides map[uint32]uint32, alphabetSize int) []uint32 {
	target := alphabetSize
	if target == 0 {
		target = base.AlphabetSize
	}
	frequencies := append([]uint32(nil), base.Frequencies...)
	for len(frequencies) < target {
		frequencies = append(frequencies, 1)
	}
	for index, freq := range overrides {
		for int(index) >= len(frequencies) {
			frequencies = append(frequencies, 1)
		}
		frequencies[index] = freq
	}
	return frequencies
}

// BuildSparseOverrides computes the override set that turns base into the
// adaptive table, keeping only entries whose distance exceeds threshold.
func BuildSparseOverrides(adaptive, base []uint32, threshold uint32) map[uint32]uint32 {
	overrides := make(map[uint32]uint32)
	n := len(base)
	if len(adaptive) < n {
		n = len(adaptive)
	}
	for i := 0; i < n; i++ {
		d := int64(adaptive[i]) - int64(base[i])
		if d < 0 {
			d = -d
		}
		if uint32(d) > threshold {
			overrides[uint32(i)] = adaptive[i]
		}
	}
	for i := n; i < len(adaptive); i++ {
		overrides[uint32(i)] = adaptive[i]
	}
	return overrides
}
