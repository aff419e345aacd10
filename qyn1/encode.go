package qyn1

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"quenyan.dev/qyn1/envelope"
	"quenyan.dev/qyn1/frame"
	"quenyan.dev/qyn1/metadata"
	"quenyan.dev/qyn1/morpheme"
	"quenyan.dev/qyn1/noncedb"
	"quenyan.dev/qyn1/rans"
)

// Encode builds a complete package from a classified token stream. With a
// nil keychain the payload travels in the clear; otherwise it is sealed
// under the file key with the metadata as associated data.
func Encode(tokens []morpheme.Token, payloads []Payload, opts EncodeOptions, kc *Keychain) ([]byte, error) {
	if err := validateValues(tokens, payloads); err != nil {
		return nil, err
	}

	backendName := opts.Backend
	if backendName == "" {
		backendName = rans.BackendChunkedRANS
	}
	backend, err := rans.GetBackend(backendName, rans.BackendOptions{
		PrecisionBits: opts.PrecisionBits,
		ChunkSize:     opts.ChunkSize,
	})
	if err != nil {
		return nil, wrapError(KindModel, RuleUnknownBackend, "unknown compression backend", err)
	}

	sourceHash := opts.SourceHash
	if sourceHash == "" {
		sourceHash = ComputeSourceHash(tokens, payloads)
	}

	// Token stream model and ciphertext-free body.
	symbols := make([]uint16, len(tokens))
	for i, t := range tokens {
		symbols[i] = uint16(t)
	}
	model, err := buildTokenModel(backend, symbols, opts)
	if err != nil {
		return nil, err
	}
	tokenStream, err := backend.Encode(symbols, model)
	if err != nil {
		return nil, wrapError(KindModel, RuleStreamDecode, "token stream encode failed", err)
	}
	modelBlob, err := model.Marshal()
	if err != nil {
		return nil, wrapError(KindInternal, RuleModelDecode, "model serialisation failed", err)
	}
	digest, err := model.Digest()
	if err != nil {
		return nil, wrapError(KindInternal, RuleModelDigest, "model digest failed", err)
	}

	channels, channelMask, table, err := encodeChannels(tokens, payloads)
	if err != nil {
		return nil, err
	}
	tableBlob, err := table.MarshalBinary()
	if err != nil {
		return nil, wrapError(KindInternal, RuleStringTable, "string table serialisation failed", err)
	}

	header := streamHeader{
		SymbolCount:       uint64(len(tokens)),
		AlphabetSize:      morpheme.Count(),
		Backend:           backendName,
		DictionaryVersion: morpheme.DictionaryVersion,
		Channels:          channelToken | channelMask,
		HasSourceMap:      opts.SourceMap != nil,
	}
	headerBlob, err := cborEnc.Marshal(&header)
	if err != nil {
		return nil, wrapError(KindInternal, RuleStreamHeader, "stream header serialisation failed", err)
	}

	sections := []frame.Section{
		{ID: frame.SectionStreamHeader, Body: headerBlob},
		{ID: frame.SectionCompressionModel, Body: modelBlob},
		{ID: frame.SectionTokens, Body: tokenStream},
		{ID: frame.SectionStringTable, Body: tableBlob},
	}
	if other, ok := channels[frame.SectionPayloadRecords]; ok {
		sections = append(sections, frame.Section{ID: frame.SectionPayloadRecords, Body: other})
	}
	var payloadFeatures uint32
	if opts.SourceMap != nil {
		mapBlob, err := opts.SourceMap.MarshalBinary()
		if err != nil {
			return nil, wrapError(KindInternal, RuleSourceMap, "source map serialisation failed", err)
		}
		sections = append(sections, frame.Section{ID: frame.SectionSourceMap, Body: mapBlob})
		payloadFeatures |= frame.FeatureSourceMap
	}
	for _, id := range []uint16{
		frame.SectionChannelIdentifiers,
		frame.SectionChannelStrings,
		frame.SectionChannelIntegers,
		frame.SectionChannelCounts,
		frame.SectionChannelFlags,
	} {
		if body, ok := channels[id]; ok {
			sections = append(sections, frame.Section{ID: id, Body: body})
		}
	}
	for _, ext := range opts.Extensions {
		if !ext.Extension() {
			return nil, newError(KindFormat, RuleSectionOrder,
				fmt.Sprintf("extension section id 0x%04x below extension range", ext.ID))
		}
		sections = append(sections, ext)
	}
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].ID < sections[j].ID })

	payloadFrame := frame.Encode(frame.PayloadMagic, frame.CurrentVersion, payloadFeatures,
		frame.EncodeSections(sections))

	meta := &metadata.Metadata{
		PackageVersion:         PackageVersion,
		DictionaryVersion:      morpheme.DictionaryVersion,
		EncoderVersion:         EncoderVersion,
		SourceLanguage:         opts.SourceLanguage,
		SourceLanguageVersion:  opts.SourceLanguageVersion,
		SourceHash:             sourceHash,
		CompressionBackend:     backendName,
		CompressionModelDigest: hex.EncodeToString(digest[:]),
		SymbolCount:            uint64(len(tokens)),
		Timestamp:              opts.Timestamp,
		Author:                 opts.Author,
		License:                opts.License,
	}
	if meta.SourceLanguage == "" {
		meta.SourceLanguage = "unknown"
	}
	if kc != nil {
		meta.KeyProvider = envelope.KDFArgon2id
		meta.KeyID = kc.ProjectID
		meta.KeyVersion = fmt.Sprintf("%d", kc.ProjectSaltGeneration)
	}
	if err := meta.Validate(); err != nil {
		return nil, wrapError(KindFormat, RuleMetadataDecode, "metadata validation failed", err)
	}
	metaBytes, err := meta.Marshal()
	if err != nil {
		return nil, wrapError(KindInternal, RuleMetadataDecode, "metadata serialisation failed", err)
	}

	if kc == nil {
		wrapperBody := frame.EncodeSections([]frame.Section{
			{ID: wrapperSectionPayload, Body: payloadFrame},
			{ID: wrapperSectionMetadata, Body: metaBytes},
		})
		return frame.Encode(frame.WrapperMagic, frame.CurrentVersion, 0, wrapperBody), nil
	}
	return sealWrapper(payloadFrame, meta, metaBytes, sourceHash, opts, kc)
}

func sealWrapper(payloadFrame []byte, meta *metadata.Metadata, metaBytes []byte, sourceHash string, opts EncodeOptions, kc *Keychain) ([]byte, error) {
	nonceMode, err := envelope.ResolveNonceMode(string(opts.NonceMode))
	if err != nil {
		return nil, wrapError(KindFormat, RuleStreamHeader, "invalid nonce mode", err)
	}

	fileSalt, err := envelope.NewSalt(envelope.MinSaltSize)
	if err != nil {
		return nil, wrapError(KindInternal, RuleAuthentication, "salt generation failed", err)
	}
	var nonce []byte
	switch nonceMode {
	case envelope.NonceDeterministic:
		rawHash, err := hex.DecodeString(sourceHash)
		if err != nil {
			return nil, wrapError(KindFormat, RuleMetadataDecode, "source hash not hex", err)
		}
		nonce = envelope.DeterministicNonce(rawHash, kc.ProjectSalt)
		// Deterministic file salt too, or the key would differ per
		// encode and defeat reproducibility.
		fileSalt = envelope.DeterministicSalt(rawHash, kc.ProjectSalt)
	default:
		nonce, err = envelope.RandomNonce()
		if err != nil {
			return nil, wrapError(KindInternal, RuleAuthentication, "nonce generation failed", err)
		}
	}

	fileKey, err := kc.fileKey(fileSalt, sourceHash, meta.DictionaryVersion)
	if err != nil {
		return nil, wrapError(KindInternal, RuleAuthentication, "key derivation failed", err)
	}
	defer fileKey.Zero()

	if nonceMode == envelope.NonceDeterministic {
		if opts.NonceLedger == nil {
			return nil, newError(KindNonceReuse, RuleNonceReuse,
				"deterministic nonce mode requires a nonce ledger")
		}
		if _, err := opts.NonceLedger.Reserve(context.Background(), keyIdentifier(fileKey), nonce); err != nil {
			if errors.Is(err, noncedb.ErrNonceReuse) {
				return nil, wrapError(KindNonceReuse, RuleNonceReuse,
					"nonce already used under this key", err)
			}
			return nil, wrapError(KindInternal, RuleNonceReuse, "nonce ledger failure", err)
		}
	}

	aad, err := meta.AAD()
	if err != nil {
		return nil, wrapError(KindInternal, RuleMetadataDecode, "AAD construction failed", err)
	}
	sealed, err := envelope.Seal(fileKey, nonce, payloadFrame, aad)
	if err != nil {
		return nil, wrapError(KindInternal, RuleAuthentication, "seal failed", err)
	}

	params := kc.Argon2
	if params.Time == 0 || params.Memory == 0 || params.Threads == 0 {
		params = envelope.DefaultArgon2Params
	}
	crypto := cryptoHeader{
		KDF:            envelope.KDFArgon2id,
		AEAD:           envelope.AEADChaCha20Poly,
		ArgonTime:      params.Time,
		ArgonMemoryKiB: params.Memory,
		ArgonThreads:   params.Threads,
		FileSalt:       fileSalt,
		Nonce:          nonce,
		NonceMode:      string(nonceMode),
		ProjectID:      kc.ProjectID,
		SaltGeneration: kc.ProjectSaltGeneration,
	}
	cryptoBlob, err := cborEnc.Marshal(&crypto)
	if err != nil {
		return nil, wrapError(KindInternal, RuleStreamHeader, "crypto header serialisation failed", err)
	}

	wrapperBody := frame.EncodeSections([]frame.Section{
		{ID: wrapperSectionCrypto, Body: cryptoBlob},
		{ID: wrapperSectionPayload, Body: sealed},
		{ID: wrapperSectionMetadata, Body: metaBytes},
	})
	features := frame.FeatureEncrypted | frame.FeatureMetadataAuthenticated
	return frame.Encode(frame.WrapperMagic, frame.CurrentVersion, features, wrapperBody), nil
}

func buildTokenModel(backend rans.Backend, symbols []uint16, opts EncodeOptions) (*rans.Model, error) {
	mode := opts.ModelMode
	if mode == "" {
		mode = rans.ModeAdaptive
	}
	switch mode {
	case rans.ModeAdaptive:
		model, err := backend.BuildModel(symbols, morpheme.Count())
		if err != nil {
			return nil, wrapError(KindModel, RuleModelResolve, "adaptive model build failed", err)
		}
		return model, nil
	case rans.ModeStatic, rans.ModeHybrid:
		if backend.Name() == rans.BackendChunkedRANS {
			return nil, newError(KindModel, RuleModelResolve,
				"static and hybrid modes require the plain rans backend")
		}
		modelID := opts.GlobalModelID
		if modelID == "" {
			modelID = rans.DefaultGlobalModelID
		}
		model := &rans.Model{
			Mode:          string(mode),
			ModelID:       modelID,
			PrecisionBits: rans.DefaultPrecisionBits,
			AlphabetSize:  morpheme.Count(),
		}
		if opts.PrecisionBits != 0 {
			model.PrecisionBits = opts.PrecisionBits
		}
		if mode == rans.ModeHybrid {
			adaptive, err := backend.BuildModel(symbols, morpheme.Count())
			if err != nil {
				return nil, wrapError(KindModel, RuleModelResolve, "hybrid base build failed", err)
			}
			global, err := rans.LoadGlobalModel(modelID)
			if err != nil {
				return nil, wrapError(KindModel, RuleModelResolve, "global model lookup failed", err)
			}
			model.Overrides = rans.BuildSparseOverrides(adaptive.Frequencies, global.Frequencies, 4)
		}
		if _, err := model.Table(); err != nil {
			return nil, wrapError(KindModel, RuleModelResolve, "model resolution failed", err)
		}
		return model, nil
	default:
		return nil, newError(KindModel, RuleModelResolve, fmt.Sprintf("unknown model mode %q", mode))
	}
}

func validateValues(tokens []morpheme.Token, payloads []Payload) error {
	records := make([]morpheme.PayloadRecord, len(payloads))
	for i, p := range payloads {
		records[i] = morpheme.PayloadRecord{Class: p.Class}
	}
	if err := morpheme.ValidateStream(tokens, records); err != nil {
		return wrapError(KindFormat, RulePayloadRecords, "token stream validation failed", err)
	}
	return nil
}
