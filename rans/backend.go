package rans

const (
	BackendRANS        = "rans"
	BackendChunkedRANS = "chunked-rans"
)

// RANSBackend encodes the whole stream against a single adaptive table.
type RANSBackend struct {
	codec *Codec
}

func NewRANSBackend(precisionBits int) (*RANSBackend, error) {
	if precisionBits == 0 {
		precisionBits = DefaultPrecisionBits
	}
	codec, err := NewCodec(precisionBits)
	if err != nil {
		return nil, err
	}
	return &RANSBackend{codec: codec}, nil
}

func (b *RANSBackend) Name() string { return BackendRANS }

func (b *RANSBackend) BuildModel(symbols []uint16, alphabetSize int) (*Model, error) {
	table, err := b.codec.BuildTable(symbols, alphabetSize)
	if err != nil {
		return nil, err
	}
	return &Model{
		PrecisionBits: table.PrecisionBits,
		AlphabetSize:  alphabetSize,
		Frequencies:   table.Frequencies,
	}, nil
}

func (b *RANSBackend) Encode(symbols []uint16, model *Model) ([]byte, error) {
	table, err := model.Table()
	if err != nil {
		return nil, err
	}
	return b.codec.Encode(symbols, table)
}

func (b *RANSBackend) Decode(data []byte, model *Model, symbolCount int) ([]uint16, error) {
	table, err := model.Table()
	if err != nil {
		return nil, err
	}
	return b.codec.Decode(data, table, symbolCount)
}
