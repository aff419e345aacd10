// Package rans implements the table-based rANS entropy coder used for
// morpheme token streams and payload channels, together with the chunked
// streaming backend and the compression model registry.
package rans

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

const (
	MinPrecisionBits     = 8
	MaxPrecisionBits     = 16
	DefaultPrecisionBits = 12

	// stateInit is the encoder's starting state. Decoders never see it
	// directly; it only bounds the number of renormalisation bytes.
	stateInit = uint64(1) << 31

	// renormFloor is the decoder's lower bound. The decoder pulls bytes
	// until the state is at least this large again.
	renormFloor = uint64(1) << 24
)

var (
	ErrShortStream   = errors.New("rans: encoded stream too short")
	ErrTruncated     = errors.New("rans: ran out of renormalisation bytes")
	ErrNormalization = errors.New("rans: frequency normalisation failed")
	ErrSymbolCount   = errors.New("rans: decoded symbol count mismatch")
)

// Table holds the precomputed frequency, cumulative and slot-lookup tables
// for one alphabet at one precision.
type Table struct {
	PrecisionBits int
	Frequencies   []uint32

	cumulative []uint32
	lookup     []uint16
}

// Total is the normalisation target, 1<<PrecisionBits.
func (t *Table) Total() uint32 { return 1 << t.PrecisionBits }

func (t *Table) mask() uint64 { return uint64(t.Total() - 1) }

// Codec is a table-based rANS encoder/decoder at a fixed precision.
type Codec struct {
	precisionBits int
}

func NewCodec(precisionBits int) (*Codec, error) {
	if precisionBits < MinPrecisionBits || precisionBits > MaxPrecisionBits {
		return nil, fmt.Errorf("rans: precision bits must be between %d and %d, got %d",
			MinPrecisionBits, MaxPrecisionBits, precisionBits)
	}
	return &Codec{precisionBits: precisionBits}, nil
}

func (c *Codec) PrecisionBits() int { return c.precisionBits }

// BuildTable counts symbol occurrences (with a plus-one floor so every
// symbol in the alphabet stays encodable) and normalises to the precision
// target.
func (c *Codec) BuildTable(symbols []uint16, alphabetSize int) (*Table, error) {
	if alphabetSize <= 0 {
		return nil, fmt.Errorf("rans: alphabet size must be positive, got %d", alphabetSize)
	}
	counts := make([]uint64, alphabetSize)
	for i := range counts {
		counts[i] = 1
	}
	for _, s := range symbols {
		if int(s) >= alphabetSize {
			return nil, fmt.Errorf("rans: symbol %d outside alphabet of size %d", s, alphabetSize)
		}
		counts[s]++
	}
	scaled, err := c.scaleCounts(counts)
	if err != nil {
		return nil, err
	}
	return newTable(c.precisionBits, scaled)
}

// TableFromFrequencies builds a table from a stored frequency list,
// renormalising it if its sum has drifted from the precision target.
// This is the decode-side entry point for model-supplied tables.
func TableFromFrequencies(precisionBits int, frequencies []uint32) (*Table, error) {
	if precisionBits < MinPrecisionBits || precisionBits > MaxPrecisionBits {
		return nil, fmt.Errorf("rans: precision bits must be between %d and %d, got %d",
			MinPrecisionBits, MaxPrecisionBits, precisionBits)
	}
	if len(frequencies) == 0 {
		return nil, fmt.Errorf("rans: empty frequency table")
	}
	target := uint64(1) << precisionBits
	var total uint64
	for _, f := range frequencies {
		total += uint64(f)
	}
	freqs := frequencies
	if total != target {
		if total == 0 {
			total = 1
		}
		normalized := make([]uint32, len(frequencies))
		for i, f := range frequencies {
			v := uint64(f) * target / total
			if v < 1 {
				v = 1
			}
			normalized[i] = uint32(v)
		}
		order := make([]int, len(normalized))
		for i := range order {
			order[i] = i
		}
		if err := balanceToTarget(normalized, order, order, target); err != nil {
			return nil, err
		}
		freqs = normalized
	}
	return newTable(precisionBits, freqs)
}

func newTable(precisionBits int, frequencies []uint32) (*Table, error) {
	total := uint32(1) << precisionBits
	cumulative := make([]uint32, len(frequencies))
	lookup := make([]uint16, total)
	var at uint32
	for i, f := range frequencies {
		cumulative[i] = at
		if at+f > total {
			return nil, ErrNormalization
		}
		for off := uint32(0); off < f; off++ {
			lookup[at+off] = uint16(i)
		}
		at += f
	}
	if at != total {
		return nil, ErrNormalization
	}
	return &Table{
		PrecisionBits: precisionBits,
		Frequencies:   frequencies,
		cumulative:    cumulative,
		lookup:        lookup,
	}, nil
}

// Encode compresses symbols against the table. Symbols are consumed in
// reverse so the decoder can emit them in stream order; the final 4 bytes
// are the little-endian terminal state.
func (c *Codec) Encode(symbols []uint16, t *Table) ([]byte, error) {
	state := stateInit
	out := make([]byte, 0, len(symbols)/2+8)
	precision := uint(t.PrecisionBits)
	for i := len(symbols) - 1; i >= 0; i-- {
		s := symbols[i]
		if int(s) >= len(t.Frequencies) {
			return nil, fmt.Errorf("rans: symbol %d outside alphabet of size %d", s, len(t.Frequencies))
		}
		freq := uint64(t.Frequencies[s])
		cum := uint64(t.cumulative[s])
		for state >= freq<<(32-precision) {
			out = append(out, byte(state))
			state >>= 8
		}
		state = (state/freq)<<precision + state%freq + cum
	}
	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], uint32(state))
	return append(out, tail[:]...), nil
}

// Decode reverses Encode, reading the terminal state from the last 4 bytes
// and renormalisation bytes backwards from just before it.
func (c *Codec) Decode(data []byte, t *Table, symbolCount int) ([]uint16, error) {
	if len(data) < 4 {
		return nil, ErrShortStream
	}
	state := uint64(binary.LittleEndian.Uint32(data[len(data)-4:]))
	buf := data[:len(data)-4]
	idx := len(buf) - 1
	precision := uint(t.PrecisionBits)
	mask := t.mask()
	symbols := make([]uint16, 0, symbolCount)
	for n := 0; n < symbolCount; n++ {
		x := state & mask
		s := t.lookup[x]
		symbols = append(symbols, s)
		freq := uint64(t.Frequencies[s])
		cum := uint64(t.cumulative[s])
		state = freq*(state>>precision) + x - cum
		for state < renormFloor {
			if idx < 0 {
				return nil, ErrTruncated
			}
			state = state<<8 | uint64(buf[idx])
			idx--
		}
	}
	return symbols, nil
}

// scaleCounts normalises raw counts so they sum to 1<<precision. Remainder
// is distributed starting from the rarest symbols; deficit is recovered from
// the most frequent ones, never pushing a symbol below 1.
func (c *Codec) scaleCounts(counts []uint64) ([]uint32, error) {
	var total uint64
	for _, n := range counts {
		total += n
	}
	target := uint64(1) << c.precisionBits
	scaled := make([]uint32, len(counts))
	for i, n := range counts {
		v := n * target / total
		if v < 1 {
			v = 1
		}
		scaled[i] = uint32(v)
	}
	grow := sortedIndices(counts, false)
	shrink := sortedIndices(counts, true)
	if err := balanceToTarget(scaled, grow, shrink, target); err != nil {
		return nil, err
	}
	return scaled, nil
}

// balanceToTarget nudges scaled until it sums exactly to target, one unit at
// a time in the given visit orders, looping as many passes as the residual
// needs. Entries never drop below 1; if every entry is already at the floor
// and a surplus remains, the table cannot be represented at this precision.
func balanceToTarget(scaled []uint32, grow, shrink []int, target uint64) error {
	var sum uint64
	for _, f := range scaled {
		sum += uint64(f)
	}
	for sum < target {
		for _, i := range grow {
			if sum == target {
				break
			}
			scaled[i]++
			sum++
		}
	}
	for sum > target {
		shrunk := false
		for _, i := range shrink {
			if sum == target {
				break
			}
			if scaled[i] > 1 {
				scaled[i]--
				sum--
				shrunk = true
			}
		}
		if sum > target && !shrunk {
			return ErrNormalization
		}
	}
	return nil
}

func sortedIndices(counts []uint64, reverse bool) []int {
	idx := make([]int, len(counts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if reverse {
			return counts[idx[a]] > counts[idx[b]]
		}
		return counts[idx[a]] < counts[idx[b]]
	})
	return idx
}
