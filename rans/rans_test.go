package rans

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func mustCodec(t *testing.T, bits int) *Codec {
	t.Helper()
	c, err := NewCodec(bits)
	if err != nil {
		t.Fatalf("NewCodec(%d): %v", bits, err)
	}
	return c
}

func roundTrip(t *testing.T, c *Codec, symbols []uint16, alphabetSize int) {
	t.Helper()
	table, err := c.BuildTable(symbols, alphabetSize)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	encoded, err := c.Encode(symbols, table)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := c.Decode(encoded, table, len(symbols))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != len(symbols) {
		t.Fatalf("decoded %d symbols, want %d", len(decoded), len(symbols))
	}
	for i := range symbols {
		if decoded[i] != symbols[i] {
			t.Fatalf("symbol %d: got %d, want %d", i, decoded[i], symbols[i])
		}
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c := mustCodec(t, DefaultPrecisionBits)

	t.Run("empty", func(t *testing.T) {
		roundTrip(t, c, nil, 16)
	})
	t.Run("single symbol", func(t *testing.T) {
		roundTrip(t, c, []uint16{3}, 16)
	})
	t.Run("uniform", func(t *testing.T) {
		symbols := make([]uint16, 4096)
		for i := range symbols {
			symbols[i] = uint16(i % 32)
		}
		roundTrip(t, c, symbols, 32)
	})
	t.Run("skewed", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		symbols := make([]uint16, 8192)
		for i := range symbols {
			if rng.Intn(100) < 90 {
				symbols[i] = 0
			} else {
				symbols[i] = uint16(1 + rng.Intn(255))
			}
		}
		roundTrip(t, c, symbols, 256)
	})
}

func TestCodecPrecisionRange(t *testing.T) {
	for _, bits := range []int{7, 17, -1} {
		if _, err := NewCodec(bits); err == nil {
			t.Errorf("NewCodec(%d) accepted out-of-range precision", bits)
		}
	}
	symbols := []uint16{0, 1, 2, 1, 0, 1, 1, 2}
	for bits := MinPrecisionBits; bits <= MaxPrecisionBits; bits++ {
		roundTrip(t, mustCodec(t, bits), symbols, 4)
	}
}

func TestDecodeShortStream(t *testing.T) {
	c := mustCodec(t, DefaultPrecisionBits)
	table, err := c.BuildTable([]uint16{0, 1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decode([]byte{1, 2, 3}, table, 2); err != ErrShortStream {
		t.Fatalf("got %v, want ErrShortStream", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	c := mustCodec(t, DefaultPrecisionBits)
	symbols := make([]uint16, 5000)
	for i := range symbols {
		symbols[i] = uint16(i % 64)
	}
	table, err := c.BuildTable(symbols, 64)
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := c.Encode(symbols, table)
	if err != nil {
		t.Fatal(err)
	}
	// Drop renormalisation bytes but keep the 4-byte terminal state.
	cut := append([]byte(nil), encoded[len(encoded)/2:]...)
	if _, err := c.Decode(cut, table, len(symbols)); err != ErrTruncated {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func TestTableFromFrequenciesNormalises(t *testing.T) {
	t.Run("drifted sum", func(t *testing.T) {
		// Sum is nowhere near 1<<12; the table must be renormalised.
		table, err := TableFromFrequencies(12, []uint32{10, 20, 30, 40})
		if err != nil {
			t.Fatalf("TableFromFrequencies: %v", err)
		}
		var sum uint32
		for _, f := range table.Frequencies {
			sum += f
		}
		if sum != table.Total() {
			t.Fatalf("normalised sum %d, want %d", sum, table.Total())
		}
		for i, f := range table.Frequencies {
			if f == 0 {
				t.Fatalf("symbol %d normalised to zero frequency", i)
			}
		}
	})

	t.Run("steep distribution converges", func(t *testing.T) {
		// Clamping the long tail to the one-slot floor leaves a surplus far
		// larger than one unit per shrinkable symbol, so the rebalance has
		// to keep looping until the sum lands exactly on target.
		freqs := make([]uint32, 256)
		for i := range freqs {
			freqs[i] = 1
		}
		for i := 0; i < 4; i++ {
			freqs[i] = 1 << 20
		}
		table, err := TableFromFrequencies(12, freqs)
		if err != nil {
			t.Fatalf("TableFromFrequencies: %v", err)
		}
		var sum uint32
		for _, f := range table.Frequencies {
			sum += f
		}
		if sum != table.Total() {
			t.Fatalf("normalised sum %d, want %d", sum, table.Total())
		}
	})

	t.Run("alphabet wider than the precision target", func(t *testing.T) {
		// 300 symbols cannot all hold a slot in a 256-slot table.
		freqs := make([]uint32, 300)
		for i := range freqs {
			freqs[i] = 1
		}
		if _, err := TableFromFrequencies(8, freqs); !errors.Is(err, ErrNormalization) {
			t.Fatalf("got %v, want ErrNormalization", err)
		}
	})
}

func TestBackendRegistry(t *testing.T) {
	if _, err := GetBackend("fse-production", BackendOptions{}); err == nil {
		t.Fatal("unregistered backend did not error")
	}
	for _, name := range []string{BackendRANS, BackendChunkedRANS} {
		b, err := GetBackend(name, BackendOptions{})
		if err != nil {
			t.Fatalf("GetBackend(%q): %v", name, err)
		}
		if b.Name() != name {
			t.Fatalf("backend name %q, want %q", b.Name(), name)
		}
	}
}

func backendRoundTrip(t *testing.T, b Backend, symbols []uint16, alphabetSize int) {
	t.Helper()
	model, err := b.BuildModel(symbols, alphabetSize)
	if err != nil {
		t.Fatalf("BuildModel: %v", err)
	}
	encoded, err := b.Encode(symbols, model)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := b.Decode(encoded, model, len(symbols))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i := range symbols {
		if decoded[i] != symbols[i] {
			t.Fatalf("symbol %d: got %d, want %d", i, decoded[i], symbols[i])
		}
	}
}

func TestChunkedBackend(t *testing.T) {
	b, err := NewChunkedBackend(1024, DefaultPrecisionBits)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(11))
	symbols := make([]uint16, 5000) // forces five chunks, last one partial
	for i := range symbols {
		symbols[i] = uint16(rng.Intn(200))
	}
	model, err := b.BuildModel(symbols, 200)
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := b.Encode(symbols, model)
	if err != nil {
		t.Fatal(err)
	}
	if len(model.Chunks) != 5 {
		t.Fatalf("got %d chunks, want 5", len(model.Chunks))
	}
	decoded, err := b.Decode(encoded, model, len(symbols))
	if err != nil {
		t.Fatal(err)
	}
	for i := range symbols {
		if decoded[i] != symbols[i] {
			t.Fatalf("symbol %d: got %d, want %d", i, decoded[i], symbols[i])
		}
	}

	t.Run("missing chunk metadata", func(t *testing.T) {
		bare := &Model{Mode: string(ModeChunked), PrecisionBits: DefaultPrecisionBits, AlphabetSize: 200}
		if _, err := b.Decode(encoded, bare, len(symbols)); err == nil {
			t.Fatal("decode without chunk metadata succeeded")
		}
	})

	t.Run("chunk range outside stream", func(t *testing.T) {
		clipped := append([]byte(nil), encoded[:len(encoded)-8]...)
		if _, err := b.Decode(clipped, model, len(symbols)); err == nil {
			t.Fatal("decode with out-of-range chunk succeeded")
		}
	})

	t.Run("empty stream", func(t *testing.T) {
		empty, err := b.BuildModel(nil, 200)
		if err != nil {
			t.Fatal(err)
		}
		enc, err := b.Encode(nil, empty)
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := b.Decode(enc, empty, 0)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if len(decoded) != 0 {
			t.Fatalf("decoded %d symbols from an empty stream", len(decoded))
		}
	})

	t.Run("offset claim wraps around", func(t *testing.T) {
		// Offset+Length would overflow uint64 and land back inside the
		// stream; each bound has to hold on its own.
		forged := *model
		forged.Chunks = []ChunkMeta{{
			Offset:      ^uint64(0) - 4,
			Length:      16,
			SymbolCount: 1,
			Frequencies: model.Chunks[0].Frequencies,
		}}
		if _, err := b.Decode(encoded, &forged, len(symbols)); err == nil {
			t.Fatal("decode with wrapping chunk offset succeeded")
		}
	})

	t.Run("symbol count claim exceeds total", func(t *testing.T) {
		forged := *model
		forged.Chunks = append([]ChunkMeta(nil), model.Chunks...)
		forged.Chunks[0].SymbolCount = uint64(len(symbols)) + 1
		if _, err := b.Decode(encoded, &forged, len(symbols)); err != ErrSymbolCount {
			t.Fatalf("got %v, want ErrSymbolCount", err)
		}
	})
}

func TestModelSerialisationDeterministic(t *testing.T) {
	model := &Model{
		Mode:          string(ModeHybrid),
		ModelID:       "global_v1",
		PrecisionBits: 12,
		AlphabetSize:  8,
		Overrides:     map[uint32]uint32{3: 100, 1: 7, 6: 42},
	}
	a, err := model.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	b, err := model.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("canonical encoding not deterministic")
	}
	da, err := model.Digest()
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalModel(a)
	if err != nil {
		t.Fatal(err)
	}
	db, err := back.Digest()
	if err != nil {
		t.Fatal(err)
	}
	if da != db {
		t.Fatal("digest changed across a marshal round trip")
	}
}

func TestStaticAndHybridModes(t *testing.T) {
	err := RegisterGlobalModel(GlobalModel{
		ModelID:       "test_global",
		PrecisionBits: 12,
		AlphabetSize:  32,
		Frequencies:   ZipfFrequencies(32, 12),
	})
	if err != nil {
		t.Fatal(err)
	}

	symbols := make([]uint16, 2000)
	for i := range symbols {
		symbols[i] = uint16(i % 3) // heavy mass on 0..2
	}

	t.Run("static", func(t *testing.T) {
		b, err := NewRANSBackend(12)
		if err != nil {
			t.Fatal(err)
		}
		model := &Model{Mode: string(ModeStatic), ModelID: "test_global", PrecisionBits: 12, AlphabetSize: 32}
		encoded, err := b.Encode(symbols, model)
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := b.Decode(encoded, model, len(symbols))
		if err != nil {
			t.Fatal(err)
		}
		for i := range symbols {
			if decoded[i] != symbols[i] {
				t.Fatalf("symbol %d: got %d, want %d", i, decoded[i], symbols[i])
			}
		}
	})

	t.Run("hybrid beats static on skewed input", func(t *testing.T) {
		b, err := NewRANSBackend(12)
		if err != nil {
			t.Fatal(err)
		}
		static := &Model{Mode: string(ModeStatic), ModelID: "test_global", PrecisionBits: 12, AlphabetSize: 32}
		staticBytes, err := b.Encode(symbols, static)
		if err != nil {
			t.Fatal(err)
		}

		adaptive, err := b.BuildModel(symbols, 32)
		if err != nil {
			t.Fatal(err)
		}
		global, err := LoadGlobalModel("test_global")
		if err != nil {
			t.Fatal(err)
		}
		overrides := BuildSparseOverrides(adaptive.Frequencies, global.Frequencies, 8)
		hybrid := &Model{
			Mode:          string(ModeHybrid),
			ModelID:       "test_global",
			PrecisionBits: 12,
			AlphabetSize:  32,
			Overrides:     overrides,
		}
		hybridBytes, err := b.Encode(symbols, hybrid)
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := b.Decode(hybridBytes, hybrid, len(symbols))
		if err != nil {
			t.Fatal(err)
		}
		for i := range symbols {
			if decoded[i] != symbols[i] {
				t.Fatalf("symbol %d: got %d, want %d", i, decoded[i], symbols[i])
			}
		}
		if len(hybridBytes) >= len(staticBytes) {
			t.Fatalf("hybrid (%d bytes) not smaller than static (%d bytes)", len(hybridBytes), len(staticBytes))
		}
	})

	t.Run("unknown model id", func(t *testing.T) {
		model := &Model{Mode: string(ModeStatic), ModelID: "no_such_model", PrecisionBits: 12}
		if _, err := model.Table(); err == nil {
			t.Fatal("unknown global model id resolved")
		}
	})
}

func TestPriors(t *testing.T) {
	zipf := ZipfFrequencies(64, 12)
	if len(zipf) != 64 {
		t.Fatalf("zipf table size %d, want 64", len(zipf))
	}
	if zipf[0] <= zipf[10] {
		t.Fatal("zipf table not rank-decreasing")
	}

	bern := BernoulliFrequencies(9, 10, 12)
	if len(bern) != 2 || bern[0] <= bern[1] {
		t.Fatalf("bernoulli table not biased toward symbol 0: %v", bern)
	}

	buckets := LogBucketFrequencies(256, 12)
	if len(buckets) != 256 {
		t.Fatalf("bucket table size %d, want 256", len(buckets))
	}
	if buckets[0] <= buckets[64] {
		t.Fatal("bucket table not mass-decreasing")
	}
	for _, table := range [][]uint32{zipf, bern, buckets} {
		if _, err := TableFromFrequencies(12, table); err != nil {
			t.Fatalf("prior table failed normalisation: %v", err)
		}
	}
}
