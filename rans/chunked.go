package rans

import (
	"errors"
	"fmt"
)

// DefaultChunkSize is the number of symbols per chunk for the chunked
// backend. 64Ki symbols keeps per-chunk tables adaptive without letting a
// single table dominate the stream.
const DefaultChunkSize = 65536

// ChunkedBackend splits the symbol stream into fixed-size chunks and encodes
// each against its own adaptive table. The per-chunk tables and byte ranges
// travel in the model's chunk metadata, so chunks decode independently.
type ChunkedBackend struct {
	chunkSize int
	codec     *Codec
}

func NewChunkedBackend(chunkSize, precisionBits int) (*ChunkedBackend, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 0 {
		return nil, fmt.Errorf("rans: chunk size must be positive, got %d", chunkSize)
	}
	if precisionBits == 0 {
		precisionBits = DefaultPrecisionBits
	}
	codec, err := NewCodec(precisionBits)
	if err != nil {
		return nil, err
	}
	return &ChunkedBackend{chunkSize: chunkSize, codec: codec}, nil
}

func (b *ChunkedBackend) Name() string { return BackendChunkedRANS }

func (b *ChunkedBackend) BuildModel(symbols []uint16, alphabetSize int) (*Model, error) {
	if alphabetSize <= 0 {
		return nil, fmt.Errorf("rans: alphabet size must be positive, got %d", alphabetSize)
	}
	return &Model{
		Mode:          string(ModeChunked),
		ChunkSize:     b.chunkSize,
		PrecisionBits: b.codec.PrecisionBits(),
		AlphabetSize:  alphabetSize,
	}, nil
}

// Encode fills model.Chunks as a side effect; the caller serialises the
// model after encoding, never before.
func (b *ChunkedBackend) Encode(symbols []uint16, model *Model) ([]byte, error) {
	var compressed []byte
	var chunks []ChunkMeta
	var offset uint64
	for start := 0; start < len(symbols); start += b.chunkSize {
		end := start + b.chunkSize
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk := symbols[start:end]
		table, err := b.codec.BuildTable(chunk, model.AlphabetSize)
		if err != nil {
			return nil, err
		}
		encoded, err := b.codec.Encode(chunk, table)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, ChunkMeta{
			Offset:      offset,
			Length:      uint64(len(encoded)),
			SymbolCount: uint64(len(chunk)),
			Frequencies: table.Frequencies,
		})
		compressed = append(compressed, encoded...)
		offset += uint64(len(encoded))
	}
	model.Chunks = chunks
	return compressed, nil
}

func (b *ChunkedBackend) Decode(data []byte, model *Model, symbolCount int) ([]uint16, error) {
	if symbolCount == 0 && len(model.Chunks) == 0 {
		// An empty stream carries no chunks at all.
		return []uint16{}, nil
	}
	if model.Chunks == nil {
		return nil, errors.New("rans: chunk metadata missing for chunked-rans backend")
	}
	if symbolCount < 0 {
		return nil, ErrSymbolCount
	}
	precision := model.PrecisionBits
	if precision == 0 {
		precision = b.codec.PrecisionBits()
	}
	decoded := make([]uint16, 0, symbolCount)
	for _, entry := range model.Chunks {
		// Offset and Length are attacker-controlled claims; check each
		// bound on its own so their sum cannot wrap around.
		if entry.Offset > uint64(len(data)) || entry.Length > uint64(len(data))-entry.Offset {
			return nil, fmt.Errorf("rans: chunk range [%d,+%d) outside %d-byte stream",
				entry.Offset, entry.Length, len(data))
		}
		if entry.SymbolCount > uint64(symbolCount-len(decoded)) {
			return nil, ErrSymbolCount
		}
		table, err := TableFromFrequencies(precision, entry.Frequencies)
		if err != nil {
			return nil, err
		}
		segment := data[entry.Offset : entry.Offset+entry.Length]
		chunk, err := b.codec.Decode(segment, table, int(entry.SymbolCount))
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, chunk...)
	}
	if len(decoded) != symbolCount {
		return nil, ErrSymbolCount
	}
	return decoded, nil
}
