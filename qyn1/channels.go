package qyn1

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"quenyan.dev/qyn1/morpheme"
	"quenyan.dev/qyn1/rans"
)

// Payload channel bits recorded in the stream header. Which channels exist
// for a given stream is a pure function of the token classes, but the
// header records the mask anyway so inspectors can report it without
// decoding tokens.
const (
	channelToken      uint32 = 0x01
	channelIdentifier uint32 = 0x02
	channelString     uint32 = 0x04
	channelInteger    uint32 = 0x08
	channelCount      uint32 = 0x10
	channelFlag       uint32 = 0x20
)

// countChannel reports whether a NUM payload travels in the counts channel
// (structural arity and body lengths) rather than the literal integers
// channel. Both sides derive this from the token, never from the data.
func countChannel(t morpheme.Token) bool {
	switch t.Category() {
	case "construct", "op", "flow":
		return true
	default:
		return false
	}
}

// smallStreamLimit is the point below which an embedded adaptive frequency
// table costs more than it saves; tiny channels use a fixed prior instead.
const smallStreamLimit = 64

// encodeChannel serialises one payload byte stream: varint raw length,
// varint model length, model CBOR, compressed bytes. Tiny streams use the
// supplied prior as a static table.
func encodeChannel(raw []byte, prior []uint32, alphabetSize int) ([]byte, error) {
	backend, err := rans.NewRANSBackend(rans.DefaultPrecisionBits)
	if err != nil {
		return nil, err
	}
	symbols := make([]uint16, len(raw))
	for i, b := range raw {
		symbols[i] = uint16(b)
	}
	var model *rans.Model
	if len(raw) < smallStreamLimit && prior != nil {
		model = &rans.Model{
			PrecisionBits: rans.DefaultPrecisionBits,
			AlphabetSize:  alphabetSize,
			Frequencies:   prior,
		}
	} else {
		model, err = backend.BuildModel(symbols, alphabetSize)
		if err != nil {
			return nil, err
		}
	}
	compressed, err := backend.Encode(symbols, model)
	if err != nil {
		return nil, err
	}
	modelBlob, err := model.Marshal()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(raw)))
	writeUvarint(&buf, uint64(len(modelBlob)))
	buf.Write(modelBlob)
	buf.Write(compressed)
	return buf.Bytes(), nil
}

// decodeChannel reverses encodeChannel under the resource budget.
func decodeChannel(section []byte, budget ResourceBudget) ([]byte, error) {
	r := bytes.NewReader(section)
	rawLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, newError(KindFormat, RulePayloadRecords, "truncated channel header")
	}
	if err := budget.ensurePayload(int(rawLen)); err != nil {
		return nil, err
	}
	modelLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, newError(KindFormat, RulePayloadRecords, "truncated channel header")
	}
	if err := budget.ensureModel(int(modelLen)); err != nil {
		return nil, err
	}
	if modelLen > uint64(r.Len()) {
		return nil, newError(KindFormat, RulePayloadRecords, "channel model length exceeds section")
	}
	modelBlob := make([]byte, modelLen)
	if _, err := r.Read(modelBlob); err != nil {
		return nil, newError(KindFormat, RulePayloadRecords, "truncated channel model")
	}
	var model rans.Model
	if err := cbor.Unmarshal(modelBlob, &model); err != nil {
		return nil, wrapError(KindModel, RuleModelDecode, "malformed channel model", err)
	}
	compressed := make([]byte, r.Len())
	if r.Len() > 0 {
		if _, err := r.Read(compressed); err != nil {
			return nil, newError(KindFormat, RulePayloadRecords, "truncated channel body")
		}
	}
	if err := budget.ensureCompressed(len(compressed)); err != nil {
		return nil, err
	}
	backend, err := rans.NewRANSBackend(rans.DefaultPrecisionBits)
	if err != nil {
		return nil, wrapError(KindInternal, RuleStreamDecode, "channel backend", err)
	}
	symbols, err := backend.Decode(compressed, &model, int(rawLen))
	if err != nil {
		return nil, wrapError(KindModel, RuleStreamDecode, "channel stream decode failed", err)
	}
	raw := make([]byte, len(symbols))
	for i, s := range symbols {
		if s > 0xFF {
			return nil, newError(KindModel, RuleStreamDecode, "channel symbol outside byte alphabet")
		}
		raw[i] = byte(s)
	}
	return raw, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func appendUvarint(dst []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

func appendZigzag(dst []byte, v int64) []byte {
	return appendUvarint(dst, uint64(v<<1)^uint64(v>>63))
}

type byteCursor struct {
	r *bytes.Reader
}

func newByteCursor(raw []byte) *byteCursor {
	return &byteCursor{r: bytes.NewReader(raw)}
}

func (c *byteCursor) uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(c.r)
	if err != nil {
		return 0, fmt.Errorf("truncated varint in payload channel")
	}
	return v, nil
}

func (c *byteCursor) zigzag() (int64, error) {
	u, err := c.uvarint()
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

func (c *byteCursor) drained() bool { return c.r.Len() == 0 }
