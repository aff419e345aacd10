package qyn1

import "fmt"

// ResourceBudget bounds what a decoder will allocate for an untrusted
// package. Every limit is checked against the package's own claims before
// the corresponding allocation happens, so a hostile header cannot force
// the decoder past the budget.
type ResourceBudget struct {
	MaxSymbols          uint64
	MaxModelBytes       uint64
	MaxCompressedBytes  uint64
	MaxStringTableBytes uint64
	MaxPayloadBytes     uint64
}

// DefaultBudget matches the limits a build ships with. Callers decoding
// known-small packages can tighten them per decode.
var DefaultBudget = ResourceBudget{
	MaxSymbols:          10_000_000,
	MaxModelBytes:       4_000_000,
	MaxCompressedBytes:  64_000_000,
	MaxStringTableBytes: 64_000_000,
	MaxPayloadBytes:     64_000_000,
}

func (b ResourceBudget) orDefault() ResourceBudget {
	if b == (ResourceBudget{}) {
		return DefaultBudget
	}
	return b
}

func (b ResourceBudget) ensureSymbols(count uint64) error {
	if count > b.MaxSymbols {
		return newError(KindResource, RuleSymbolBudget,
			fmt.Sprintf("symbol count %d exceeds budgeted maximum %d", count, b.MaxSymbols))
	}
	return nil
}

func (b ResourceBudget) ensureModel(size int) error {
	if uint64(size) > b.MaxModelBytes {
		return newError(KindResource, RuleModelBudget,
			fmt.Sprintf("model section %d bytes exceeds budgeted maximum %d", size, b.MaxModelBytes))
	}
	return nil
}

func (b ResourceBudget) ensureCompressed(size int) error {
	if uint64(size) > b.MaxCompressedBytes {
		return newError(KindResource, RuleCompressedBudget,
			fmt.Sprintf("compressed payload %d bytes exceeds budgeted maximum %d", size, b.MaxCompressedBytes))
	}
	return nil
}

func (b ResourceBudget) ensureStringTable(size int) error {
	if uint64(size) > b.MaxStringTableBytes {
		return newError(KindResource, RuleStringTableBudget,
			fmt.Sprintf("string table %d bytes exceeds budgeted maximum %d", size, b.MaxStringTableBytes))
	}
	return nil
}

func (b ResourceBudget) ensurePayload(size int) error {
	if uint64(size) > b.MaxPayloadBytes {
		return newError(KindResource, RulePayloadBudget,
			fmt.Sprintf("payload section %d bytes exceeds budgeted maximum %d", size, b.MaxPayloadBytes))
	}
	return nil
}
