// Package qyn1 assembles and opens QYN-1 packages: a classified morpheme
// stream entropy-coded into sections, framed with checksums, and optionally
// sealed in an authenticated envelope.
package qyn1

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"

	"quenyan.dev/qyn1/envelope"
	"quenyan.dev/qyn1/frame"
	"quenyan.dev/qyn1/metadata"
	"quenyan.dev/qyn1/morpheme"
	"quenyan.dev/qyn1/noncedb"
	"quenyan.dev/qyn1/rans"
	"quenyan.dev/qyn1/sourcemap"
)

// EncoderVersion names the encoding pipeline revision. It participates in
// file-key derivation, so bumping it rolls every file key.
const EncoderVersion = "qyn1.1-multi-channel"

// PackageVersion is the package format version string recorded in metadata.
const PackageVersion = "1.0.0"

// Wrapper body section ids. The wrapper container has its own id space,
// distinct from the payload container's.
const (
	wrapperSectionCrypto   uint16 = 0x0001
	wrapperSectionPayload  uint16 = 0x0002
	wrapperSectionMetadata uint16 = 0x0007
)

func init() {
	// The packaged global token model: a Zipf-shaped prior over the
	// morpheme alphabet. Static and hybrid model modes resolve against
	// it by id.
	if err := rans.RegisterGlobalModel(rans.GlobalModel{
		ModelID:       rans.DefaultGlobalModelID,
		PrecisionBits: rans.DefaultPrecisionBits,
		AlphabetSize:  morpheme.Count(),
		Frequencies:   rans.ZipfFrequencies(morpheme.Count(), rans.DefaultPrecisionBits),
	}); err != nil {
		panic(err)
	}
}

// Payload is the auxiliary value attached to one token position, carried
// with its concrete value rather than a table reference. The encoder interns
// strings; the decoder resolves them back.
type Payload struct {
	Class morpheme.PayloadClass
	Str   string
	Num   int64
	Bool  bool
	Raw   []byte
}

// NoPayload is the record attached to structural tokens.
var NoPayload = Payload{Class: morpheme.ClassNone}

func StrPayload(s string) Payload { return Payload{Class: morpheme.ClassStr, Str: s} }
func IDPayload(s string) Payload  { return Payload{Class: morpheme.ClassID, Str: s} }
func NumPayload(v int64) Payload  { return Payload{Class: morpheme.ClassNum, Num: v} }
func BoolPayload(v bool) Payload  { return Payload{Class: morpheme.ClassBool, Bool: v} }
func RawPayload(b []byte) Payload { return Payload{Class: morpheme.ClassOther, Raw: b} }

// Keychain carries the secrets and identity inputs for the key hierarchy.
// A nil Keychain encodes and decodes plaintext packages.
type Keychain struct {
	// Passphrase plus InstallSalt feed argon2id; RawMasterKey bypasses
	// the KDF for hardware-provided keys. Exactly one must be set.
	Passphrase   []byte
	RawMasterKey []byte
	InstallSalt  []byte
	Argon2       envelope.Argon2Params

	ProjectID             string
	ProjectSalt           []byte
	ProjectSaltGeneration uint32
}

func (kc *Keychain) masterKey() (*envelope.Key, error) {
	if len(kc.RawMasterKey) > 0 {
		return envelope.KeyFromRaw(kc.RawMasterKey)
	}
	return envelope.MasterKey(kc.Passphrase, kc.InstallSalt, kc.Argon2)
}

// fileKey walks the hierarchy master -> project -> file, zeroing the
// intermediate tiers before returning.
func (kc *Keychain) fileKey(fileSalt []byte, sourceHash, dictionaryVersion string) (*envelope.Key, error) {
	master, err := kc.masterKey()
	if err != nil {
		return nil, err
	}
	defer master.Zero()
	project, err := envelope.ProjectKey(master, kc.ProjectSalt, kc.ProjectID, dictionaryVersion)
	if err != nil {
		return nil, err
	}
	defer project.Zero()
	return envelope.FileKey(project, fileSalt, sourceHash, EncoderVersion)
}

// EncodeOptions tunes one encode. Zero values select the defaults: the
// chunked backend, adaptive models, random nonces.
type EncodeOptions struct {
	Backend       string
	PrecisionBits int
	ChunkSize     int
	ModelMode     rans.ModelMode
	GlobalModelID string

	NonceMode   envelope.NonceMode
	NonceLedger noncedb.Ledger

	SourceLanguage        string
	SourceLanguageVersion string
	SourceHash            string // hex SHA-256 of the original source; computed from the stream when empty
	Timestamp             string
	Author                string
	License               string

	SourceMap  *sourcemap.Map
	Extensions []frame.Section // ids must be >= frame.ExtensionBase
}

// Package is a fully decoded container.
type Package struct {
	Tokens     []morpheme.Token
	Payloads   []Payload
	Metadata   *metadata.Metadata
	SourceMap  *sourcemap.Map
	Extensions []frame.Section
}

// streamHeader is the CBOR body of the stream header section.
type streamHeader struct {
	SymbolCount       uint64 `cbor:"symbol_count"`
	AlphabetSize      int    `cbor:"alphabet_size"`
	Backend           string `cbor:"backend"`
	DictionaryVersion string `cbor:"dictionary_version"`
	Channels          uint32 `cbor:"channels"`
	HasSourceMap      bool   `cbor:"has_source_map"`
}

// cryptoHeader is the CBOR body of the wrapper crypto section. The project
// salt itself never appears here; deterministic mode readers must already
// hold it.
type cryptoHeader struct {
	KDF            string `cbor:"kdf"`
	AEAD           string `cbor:"aead"`
	ArgonTime      uint32 `cbor:"argon_time"`
	ArgonMemoryKiB uint32 `cbor:"argon_memory_kib"`
	ArgonThreads   uint8  `cbor:"argon_threads"`
	FileSalt       []byte `cbor:"file_salt"`
	Nonce          []byte `cbor:"nonce"`
	NonceMode      string `cbor:"nonce_mode"`
	ProjectID      string `cbor:"project_id"`
	SaltGeneration uint32 `cbor:"salt_generation"`
}

var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// ComputeSourceHash hashes a token stream and its payload values. Encoders
// working from original source text should hash that instead; this is the
// fallback that keeps deterministic mode usable without it.
func ComputeSourceHash(tokens []morpheme.Token, payloads []Payload) string {
	h := sha256.New()
	var tmp [8]byte
	for i, t := range tokens {
		binary.LittleEndian.PutUint16(tmp[:2], uint16(t))
		h.Write(tmp[:2])
		if i >= len(payloads) {
			continue
		}
		p := payloads[i]
		switch p.Class {
		case morpheme.ClassID, morpheme.ClassStr:
			h.Write([]byte(p.Str))
		case morpheme.ClassNum:
			binary.LittleEndian.PutUint64(tmp[:], uint64(p.Num))
			h.Write(tmp[:])
		case morpheme.ClassBool:
			if p.Bool {
				h.Write([]byte{1})
			} else {
				h.Write([]byte{0})
			}
		case morpheme.ClassOther:
			h.Write(p.Raw)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// keyIdentifier is the ledger key for nonce bookkeeping: a one-way
// fingerprint of the file key, never the key itself.
func keyIdentifier(key *envelope.Key) string {
	h := sha256.New()
	h.Write([]byte("qyn1/key-id:"))
	h.Write(key.Bytes())
	return hex.EncodeToString(h.Sum(nil)[:16])
}
