package qyn1

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/fxamacker/cbor/v2"

	"quenyan.dev/qyn1/envelope"
	"quenyan.dev/qyn1/frame"
	"quenyan.dev/qyn1/metadata"
	"quenyan.dev/qyn1/morpheme"
	"quenyan.dev/qyn1/rans"
	"quenyan.dev/qyn1/sourcemap"
	"quenyan.dev/qyn1/strtab"
)

// Decode opens a package and rebuilds the token stream, payloads and
// metadata. The budget bounds every allocation driven by package-declared
// sizes; a zero budget selects DefaultBudget.
func Decode(data []byte, kc *Keychain, budget ResourceBudget) (*Package, error) {
	budget = budget.orDefault()

	wrapper, err := openWrapper(data)
	if err != nil {
		return nil, err
	}
	meta := wrapper.meta

	payloadBytes, err := unsealPayload(wrapper, kc)
	if err != nil {
		return nil, err
	}

	pf, rest, err := frame.Decode(payloadBytes, frame.PayloadMagic)
	if err != nil {
		return nil, mapFrameError(err)
	}
	if len(rest) != 0 {
		return nil, newError(KindFormat, RuleFrameTruncated, "trailing bytes after payload frame")
	}
	if err := frame.CheckVersion(pf.Version); err != nil {
		return nil, mapVersionError(err)
	}
	if pf.UnknownFeatureBits() != 0 {
		return nil, newError(KindFormat, RuleFeatureBits, "payload frame carries unknown feature bits")
	}
	sections, err := frame.DecodeSections(pf.Body)
	if err != nil {
		return nil, mapSectionError(err)
	}

	header, err := parseStreamHeader(sections, budget)
	if err != nil {
		return nil, err
	}
	if !morpheme.DictionaryCompatible(header.DictionaryVersion) {
		return nil, newError(KindVersion, RuleDictionary,
			"package dictionary version "+header.DictionaryVersion+" not supported by this reader")
	}

	model, err := parseModel(sections, meta, budget)
	if err != nil {
		return nil, err
	}
	tokens, err := decodeTokens(sections, header, model, budget)
	if err != nil {
		return nil, err
	}

	tableSec, ok := frame.FindSection(sections, frame.SectionStringTable)
	if !ok {
		return nil, newError(KindFormat, RuleSectionMissing, "string table section missing")
	}
	if err := budget.ensureStringTable(len(tableSec.Body)); err != nil {
		return nil, err
	}
	table, err := strtab.Unmarshal(tableSec.Body)
	if err != nil {
		return nil, wrapError(KindFormat, RuleStringTable, "string table decode failed", err)
	}

	channels := map[uint16][]byte{}
	for _, id := range []uint16{
		frame.SectionChannelIdentifiers,
		frame.SectionChannelStrings,
		frame.SectionChannelIntegers,
		frame.SectionChannelCounts,
		frame.SectionChannelFlags,
		frame.SectionPayloadRecords,
	} {
		if sec, ok := frame.FindSection(sections, id); ok {
			raw, err := decodeChannel(sec.Body, budget)
			if err != nil {
				return nil, err
			}
			channels[id] = raw
		}
	}
	payloads, err := assemblePayloads(tokens, table, channels)
	if err != nil {
		return nil, err
	}

	pkg := &Package{Tokens: tokens, Payloads: payloads, Metadata: meta}
	if header.HasSourceMap {
		sec, ok := frame.FindSection(sections, frame.SectionSourceMap)
		if !ok {
			return nil, newError(KindFormat, RuleSourceMap,
				"stream header advertises a source map but the section is missing")
		}
		if err := budget.ensurePayload(len(sec.Body)); err != nil {
			return nil, err
		}
		sm, err := sourcemap.Unmarshal(sec.Body)
		if err != nil {
			return nil, wrapError(KindFormat, RuleSourceMap, "source map decode failed", err)
		}
		pkg.SourceMap = sm
	}
	for _, sec := range sections {
		if sec.Extension() {
			pkg.Extensions = append(pkg.Extensions, sec)
		}
	}
	return pkg, nil
}

// Inspect returns the cleartext metadata without keys and without touching
// the payload. For encrypted packages the metadata is only trustworthy
// after a keyed Verify or Decode; Inspect is for listings and tooling.
func Inspect(data []byte) (*metadata.Metadata, error) {
	wrapper, err := openWrapper(data)
	if err != nil {
		return nil, err
	}
	return wrapper.meta, nil
}

// Verify checks structure and checksums, and with a keychain also the AEAD
// tag, without performing a full entropy decode.
func Verify(data []byte, kc *Keychain) error {
	wrapper, err := openWrapper(data)
	if err != nil {
		return err
	}
	if !wrapper.encrypted {
		pf, _, err := frame.Decode(wrapper.payload, frame.PayloadMagic)
		if err != nil {
			return mapFrameError(err)
		}
		if _, err := frame.DecodeSections(pf.Body); err != nil {
			return mapSectionError(err)
		}
		return nil
	}
	if kc == nil {
		// Without keys the tag cannot be checked; wrapper structure and
		// CRC already passed.
		return nil
	}
	payloadBytes, err := unsealPayload(wrapper, kc)
	if err != nil {
		return err
	}
	pf, _, err := frame.Decode(payloadBytes, frame.PayloadMagic)
	if err != nil {
		return mapFrameError(err)
	}
	if _, err := frame.DecodeSections(pf.Body); err != nil {
		return mapSectionError(err)
	}
	return nil
}

type parsedWrapper struct {
	encrypted bool
	crypto    *cryptoHeader
	payload   []byte
	meta      *metadata.Metadata
}

func openWrapper(data []byte) (*parsedWrapper, error) {
	wf, rest, err := frame.Decode(data, frame.WrapperMagic)
	if err != nil {
		return nil, mapFrameError(err)
	}
	if len(rest) != 0 {
		return nil, newError(KindFormat, RuleFrameTruncated, "trailing bytes after wrapper frame")
	}
	if err := frame.CheckVersion(wf.Version); err != nil {
		return nil, mapVersionError(err)
	}
	if wf.UnknownFeatureBits() != 0 {
		return nil, newError(KindFormat, RuleFeatureBits, "wrapper carries unknown feature bits")
	}
	sections, err := frame.DecodeSections(wf.Body)
	if err != nil {
		return nil, mapSectionError(err)
	}

	w := &parsedWrapper{encrypted: wf.HasFeature(frame.FeatureEncrypted)}

	metaSec, ok := frame.FindSection(sections, wrapperSectionMetadata)
	if !ok {
		return nil, newError(KindFormat, RuleSectionMissing, "metadata section missing")
	}
	meta, err := metadata.Unmarshal(metaSec.Body)
	if err != nil {
		return nil, wrapError(KindFormat, RuleMetadataDecode, "metadata decode failed", err)
	}
	if err := meta.Validate(); err != nil {
		return nil, wrapError(KindFormat, RuleMetadataDecode, "metadata validation failed", err)
	}
	w.meta = meta

	payloadSec, ok := frame.FindSection(sections, wrapperSectionPayload)
	if !ok {
		return nil, newError(KindFormat, RuleSectionMissing, "payload section missing")
	}
	w.payload = payloadSec.Body

	if w.encrypted {
		cryptoSec, ok := frame.FindSection(sections, wrapperSectionCrypto)
		if !ok {
			return nil, newError(KindFormat, RuleSectionMissing, "crypto header section missing")
		}
		var ch cryptoHeader
		if err := cbor.Unmarshal(cryptoSec.Body, &ch); err != nil {
			return nil, wrapError(KindFormat, RuleStreamHeader, "crypto header decode failed", err)
		}
		w.crypto = &ch
	}
	return w, nil
}

// unsealPayload returns the payload frame bytes, opening the envelope when
// the wrapper is encrypted. All open failures collapse to the uniform
// authentication error.
func unsealPayload(w *parsedWrapper, kc *Keychain) ([]byte, error) {
	if !w.encrypted {
		return w.payload, nil
	}
	if kc == nil {
		return nil, authError()
	}
	ch := w.crypto
	if ch.AEAD != envelope.AEADChaCha20Poly || ch.KDF != envelope.KDFArgon2id {
		return nil, authError()
	}
	keychain := *kc
	if keychain.Argon2 == (envelope.Argon2Params{}) {
		keychain.Argon2 = envelope.Argon2Params{
			Time:    ch.ArgonTime,
			Memory:  ch.ArgonMemoryKiB,
			Threads: ch.ArgonThreads,
		}
	}
	fileKey, err := keychain.fileKey(ch.FileSalt, w.meta.SourceHash, w.meta.DictionaryVersion)
	if err != nil {
		return nil, authError()
	}
	defer fileKey.Zero()

	aad, err := w.meta.AAD()
	if err != nil {
		return nil, authError()
	}
	plaintext, err := envelope.Open(fileKey, ch.Nonce, w.payload, aad)
	if err != nil {
		return nil, authError()
	}
	return plaintext, nil
}

func parseStreamHeader(sections []frame.Section, budget ResourceBudget) (*streamHeader, error) {
	sec, ok := frame.FindSection(sections, frame.SectionStreamHeader)
	if !ok {
		return nil, newError(KindFormat, RuleSectionMissing, "stream header section missing")
	}
	var header streamHeader
	if err := cbor.Unmarshal(sec.Body, &header); err != nil {
		return nil, wrapError(KindFormat, RuleStreamHeader, "stream header decode failed", err)
	}
	if err := budget.ensureSymbols(header.SymbolCount); err != nil {
		return nil, err
	}
	if header.AlphabetSize <= 0 || header.AlphabetSize > 1<<16 {
		return nil, newError(KindFormat, RuleStreamHeader, "stream header alphabet size out of range")
	}
	return &header, nil
}

func parseModel(sections []frame.Section, meta *metadata.Metadata, budget ResourceBudget) (*rans.Model, error) {
	sec, ok := frame.FindSection(sections, frame.SectionCompressionModel)
	if !ok {
		return nil, newError(KindFormat, RuleSectionMissing, "compression model section missing")
	}
	if err := budget.ensureModel(len(sec.Body)); err != nil {
		return nil, err
	}
	model, err := rans.UnmarshalModel(sec.Body)
	if err != nil {
		return nil, wrapError(KindModel, RuleModelDecode, "compression model decode failed", err)
	}
	digest, err := model.Digest()
	if err != nil {
		return nil, wrapError(KindInternal, RuleModelDigest, "model digest failed", err)
	}
	want, err := hex.DecodeString(meta.CompressionModelDigest)
	if err != nil || len(want) != len(digest) {
		return nil, newError(KindModel, RuleModelDigest, "metadata model digest malformed")
	}
	if subtle.ConstantTimeCompare(digest[:], want) != 1 {
		return nil, newError(KindModel, RuleModelDigest,
			"compression model does not match the digest committed in metadata")
	}
	return model, nil
}

func decodeTokens(sections []frame.Section, header *streamHeader, model *rans.Model, budget ResourceBudget) ([]morpheme.Token, error) {
	sec, ok := frame.FindSection(sections, frame.SectionTokens)
	if !ok {
		return nil, newError(KindFormat, RuleSectionMissing, "token section missing")
	}
	if err := budget.ensureCompressed(len(sec.Body)); err != nil {
		return nil, err
	}
	backend, err := rans.GetBackend(header.Backend, rans.BackendOptions{})
	if err != nil {
		return nil, wrapError(KindModel, RuleUnknownBackend, "unknown compression backend", err)
	}
	symbols, err := backend.Decode(sec.Body, model, int(header.SymbolCount))
	if err != nil {
		return nil, wrapError(KindModel, RuleStreamDecode, "token stream decode failed", err)
	}
	tokens := make([]morpheme.Token, len(symbols))
	for i, s := range symbols {
		t := morpheme.Token(s)
		if !morpheme.Valid(t) {
			return nil, newError(KindFormat, RuleStreamHeader, "decoded token outside vocabulary")
		}
		tokens[i] = t
	}
	return tokens, nil
}

func mapFrameError(err error) error {
	switch {
	case errors.Is(err, frame.ErrTooSmall):
		return wrapError(KindFormat, RuleFrameTooSmall, "data too small to contain a package", err)
	case errors.Is(err, frame.ErrBadMagic):
		return wrapError(KindFormat, RuleFrameMagic, "bad frame magic", err)
	case errors.Is(err, frame.ErrTruncated):
		return wrapError(KindFormat, RuleFrameTruncated, "frame truncated", err)
	case errors.Is(err, frame.ErrCRCMismatch):
		return wrapError(KindFormat, RuleFrameCRC, "frame checksum mismatch", err)
	default:
		return wrapError(KindFormat, RuleFrameTooSmall, "frame parse failed", err)
	}
}

func mapSectionError(err error) error {
	switch {
	case errors.Is(err, frame.ErrSectionTruncated):
		return wrapError(KindFormat, RuleSectionTruncated, "truncated section", err)
	case errors.Is(err, frame.ErrSectionCRC):
		return wrapError(KindFormat, RuleSectionCRC, "section checksum mismatch", err)
	case errors.Is(err, frame.ErrSectionOrder):
		return wrapError(KindFormat, RuleSectionOrder, "section order violation", err)
	case errors.Is(err, frame.ErrSectionFlags):
		return wrapError(KindFormat, RuleSectionFlags, "unknown section flag bits", err)
	default:
		return wrapError(KindFormat, RuleSectionTruncated, "section parse failed", err)
	}
}

func mapVersionError(err error) error {
	if errors.Is(err, frame.ErrMajorMismatch) {
		return wrapError(KindVersion, RuleMajorMismatch,
			"package was written by a newer format generation; upgrade required", err)
	}
	return wrapError(KindVersion, RuleMinorTooNew,
		"package minor version is newer than this reader", err)
}
