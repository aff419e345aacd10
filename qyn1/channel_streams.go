package qyn1

import (
	"fmt"
	"io"

	"quenyan.dev/qyn1/frame"
	"quenyan.dev/qyn1/morpheme"
	"quenyan.dev/qyn1/rans"
	"quenyan.dev/qyn1/strtab"
)

// encodeChannels splits payload values by class into per-channel byte
// streams, interning ID/STR values into the string table. Channel
// membership is a pure function of the token, so the decoder can walk the
// token stream and know which channel feeds each position.
func encodeChannels(tokens []morpheme.Token, payloads []Payload) (map[uint16][]byte, uint32, *strtab.Table, error) {
	builder := strtab.NewBuilder()
	var ids, strs, ints, counts, flags, other []byte
	for i, t := range tokens {
		p := payloads[i]
		switch p.Class {
		case morpheme.ClassID:
			ids = appendUvarint(ids, uint64(builder.Intern(p.Str)))
		case morpheme.ClassStr:
			strs = appendUvarint(strs, uint64(builder.Intern(p.Str)))
		case morpheme.ClassNum:
			if countChannel(t) {
				counts = appendZigzag(counts, p.Num)
			} else {
				ints = appendZigzag(ints, p.Num)
			}
		case morpheme.ClassBool:
			if p.Bool {
				flags = append(flags, 1)
			} else {
				flags = append(flags, 0)
			}
		case morpheme.ClassOther:
			other = appendUvarint(other, uint64(len(p.Raw)))
			other = append(other, p.Raw...)
		}
	}

	bytePrior := rans.LogBucketFrequencies(256, rans.DefaultPrecisionBits)
	flagPrior := rans.BernoulliFrequencies(3, 4, rans.DefaultPrecisionBits)

	out := map[uint16][]byte{}
	var mask uint32
	put := func(id uint16, bit uint32, raw []byte, prior []uint32, alphabet int) error {
		if len(raw) == 0 {
			return nil
		}
		body, err := encodeChannel(raw, prior, alphabet)
		if err != nil {
			return wrapError(KindInternal, RuleStreamDecode, "channel encode failed", err)
		}
		out[id] = body
		mask |= bit
		return nil
	}
	if err := put(frame.SectionChannelIdentifiers, channelIdentifier, ids, bytePrior, 256); err != nil {
		return nil, 0, nil, err
	}
	if err := put(frame.SectionChannelStrings, channelString, strs, bytePrior, 256); err != nil {
		return nil, 0, nil, err
	}
	if err := put(frame.SectionChannelIntegers, channelInteger, ints, bytePrior, 256); err != nil {
		return nil, 0, nil, err
	}
	if err := put(frame.SectionChannelCounts, channelCount, counts, bytePrior, 256); err != nil {
		return nil, 0, nil, err
	}
	if err := put(frame.SectionChannelFlags, channelFlag, flags, flagPrior, 2); err != nil {
		return nil, 0, nil, err
	}
	if err := put(frame.SectionPayloadRecords, 0, other, bytePrior, 256); err != nil {
		return nil, 0, nil, err
	}
	return out, mask, builder.Table(), nil
}

// assemblePayloads rebuilds the payload slice by walking the token stream
// and drawing from the channel cursors each token's class points at. Any
// cursor running dry, or bytes left over at the end, is corruption.
func assemblePayloads(tokens []morpheme.Token, table *strtab.Table, channels map[uint16][]byte) ([]Payload, error) {
	cursors := map[uint16]*byteCursor{}
	for id, raw := range channels {
		cursors[id] = newByteCursor(raw)
	}
	cursor := func(id uint16) *byteCursor {
		if c, ok := cursors[id]; ok {
			return c
		}
		c := newByteCursor(nil)
		cursors[id] = c
		return c
	}

	payloads := make([]Payload, len(tokens))
	for i, t := range tokens {
		class := morpheme.Class(t)
		switch class {
		case morpheme.ClassNone:
			payloads[i] = NoPayload
		case morpheme.ClassID, morpheme.ClassStr:
			id := frame.SectionChannelIdentifiers
			if class == morpheme.ClassStr {
				id = frame.SectionChannelStrings
			}
			ref, err := cursor(id).uvarint()
			if err != nil {
				return nil, newError(KindFormat, RulePayloadRecords, "string channel exhausted")
			}
			value, err := table.Lookup(uint32(ref))
			if err != nil {
				return nil, wrapError(KindFormat, RuleStringTable, "string reference out of range", err)
			}
			payloads[i] = Payload{Class: class, Str: value}
		case morpheme.ClassNum:
			id := frame.SectionChannelIntegers
			if countChannel(t) {
				id = frame.SectionChannelCounts
			}
			v, err := cursor(id).zigzag()
			if err != nil {
				return nil, newError(KindFormat, RulePayloadRecords, "numeric channel exhausted")
			}
			payloads[i] = Payload{Class: class, Num: v}
		case morpheme.ClassBool:
			c := cursor(frame.SectionChannelFlags)
			b, err := c.uvarint()
			if err != nil || b > 1 {
				return nil, newError(KindFormat, RulePayloadRecords, "flag channel exhausted or invalid")
			}
			payloads[i] = Payload{Class: class, Bool: b == 1}
		case morpheme.ClassOther:
			c := cursor(frame.SectionPayloadRecords)
			n, err := c.uvarint()
			if err != nil {
				return nil, newError(KindFormat, RulePayloadRecords, "opaque channel exhausted")
			}
			// The length is a claim from the package; cap it by what the
			// channel actually holds before allocating.
			if n > uint64(c.r.Len()) {
				return nil, newError(KindFormat, RulePayloadRecords, "opaque record truncated")
			}
			raw := make([]byte, n)
			if n > 0 {
				if _, err := io.ReadFull(c.r, raw); err != nil {
					return nil, newError(KindFormat, RulePayloadRecords, "opaque record truncated")
				}
			}
			payloads[i] = Payload{Class: class, Raw: raw}
		}
	}
	for id, c := range cursors {
		if !c.drained() {
			return nil, newError(KindFormat, RulePayloadRecords,
				fmt.Sprintf("trailing bytes in channel 0x%04x", id))
		}
	}
	return payloads, nil
}
