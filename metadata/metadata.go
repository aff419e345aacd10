// Package metadata defines the canonical package metadata block. Its
// canonical CBOR encoding doubles as AEAD associated data, binding the
// sealed payload to the metadata that describes it.
package metadata

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// AADPrefix domain-separates metadata bytes used as associated data from
// every other use of the encoding.
const AADPrefix = "QYN1-METADATA-v1:"

// Signature is a detached attestation over the wrapper bytes.
type Signature struct {
	Issuer    string `cbor:"issuer"`
	HashAlg   string `cbor:"hash_alg"`
	Signature []byte `cbor:"signature"`
}

// Metadata describes one package. Required fields identify the producing
// pipeline and the exact compression configuration; optional fields carry
// provenance and key-management context.
type Metadata struct {
	PackageVersion         string `cbor:"package_version"`
	DictionaryVersion      string `cbor:"dictionary_version"`
	EncoderVersion         string `cbor:"encoder_version"`
	SourceLanguage         string `cbor:"source_language"`
	SourceLanguageVersion  string `cbor:"source_language_version"`
	SourceHash             string `cbor:"source_hash"`
	CompressionBackend     string `cbor:"compression_backend"`
	CompressionModelDigest string `cbor:"compression_model_digest"`
	SymbolCount            uint64 `cbor:"symbol_count"`

	Timestamp    string   `cbor:"timestamp,omitempty"`
	Author       string   `cbor:"author,omitempty"`
	License      string   `cbor:"license,omitempty"`
	Capabilities []string `cbor:"capabilities,omitempty"`

	KeyProvider string `cbor:"key_provider,omitempty"`
	KeyID       string `cbor:"key_id,omitempty"`
	KeyVersion  string `cbor:"key_version,omitempty"`
	RotationDue string `cbor:"rotation_due,omitempty"`

	IntegritySignature *Signature `cbor:"integrity_signature,omitempty"`
}

var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Marshal returns the canonical CBOR encoding. Two metadata values that
// compare equal always produce identical bytes.
func (m *Metadata) Marshal() ([]byte, error) {
	return cborEnc.Marshal(m)
}

// Unmarshal parses a metadata section body.
func Unmarshal(data []byte) (*Metadata, error) {
	var m Metadata
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("metadata: malformed encoding: %w", err)
	}
	return &m, nil
}

// AAD returns the associated-data bytes for sealing: the prefix followed by
// the canonical encoding. Any change to the metadata changes the AAD and
// therefore fails authentication on open.
func (m *Metadata) AAD() ([]byte, error) {
	enc, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	aad := make([]byte, 0, len(AADPrefix)+len(enc))
	aad = append(aad, AADPrefix...)
	return append(aad, enc...), nil
}

// Validate checks the required fields.
func (m *Metadata) Validate() error {
	required := []struct{ name, value string }{
		{"package_version", m.PackageVersion},
		{"dictionary_version", m.DictionaryVersion},
		{"encoder_version", m.EncoderVersion},
		{"source_language", m.SourceLanguage},
		{"source_hash", m.SourceHash},
		{"compression_backend", m.CompressionBackend},
		{"compression_model_digest", m.CompressionModelDigest},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("metadata: missing required field %s", f.name)
		}
	}
	if raw, err := hex.DecodeString(m.SourceHash); err != nil || len(raw) != 32 {
		return fmt.Errorf("metadata: source_hash must be 64 hex characters of SHA-256")
	}
	return nil
}
