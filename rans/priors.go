package rans

// Initial frequency tables for payload sub-channels. These seed static and
// hybrid models when no corpus statistics are available yet; the tables are
// renormalised to the precision target when turned into codec tables, so the
// generators only need to get the shape right.

// ZipfFrequencies returns a rank-ordered Zipf-like table: symbol i gets
// weight proportional to 1/(i+1). Identifier reference channels follow this
// shape closely because recently introduced names dominate.
func ZipfFrequencies(alphabetSize, precisionBits int) []uint32 {
	if alphabetSize <= 0 {
		return nil
	}
	scale := uint64(1) << uint(precisionBits)
	freqs := make([]uint32, alphabetSize)
	for i := range freqs {
		f := scale / uint64(i+1) / uint64(alphabetSize)
		if f < 1 {
			f = 1
		}
		freqs[i] = uint32(f)
	}
	return freqs
}

// BernoulliFrequencies returns a two-symbol table biased toward symbol 0
// with probability num/den. Boolean flag channels (has-value markers and the
// like) are heavily skewed, so their tables start skewed too.
func BernoulliFrequencies(num, den uint32, precisionBits int) []uint32 {
	if den == 0 || num >= den {
		num, den = 1, 2
	}
	total := uint32(1) << uint(precisionBits)
	p := uint64(total) * uint64(num) / uint64(den)
	if p < 1 {
		p = 1
	}
	if p > uint64(total-1) {
		p = uint64(total - 1)
	}
	return []uint32{uint32(p), total - uint32(p)}
}

// LogBucketFrequencies returns a byte-alphabet table where weight halves
// with each successive bucket. Varint-encoded small integers put most mass
// in the low bytes, which is the shape this table assumes.
func LogBucketFrequencies(alphabetSize, precisionBits int) []uint32 {
	if alphabetSize <= 0 {
		return nil
	}
	freqs := make([]uint32, alphabetSize)
	weight := uint64(1) << uint(precisionBits)
	for i := range freqs {
		w := weight >> uint(i/8)
		if w < 1 {
			w = 1
		}
		freqs[i] = uint32(w)
	}
	return freqs
}
