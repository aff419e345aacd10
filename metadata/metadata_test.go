package metadata

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func sampleMetadata() *Metadata {
	sum := sha256.Sum256([]byte("package under test"))
	return &Metadata{
		PackageVersion:         "1.0.0",
		DictionaryVersion:      "2025.2",
		EncoderVersion:         "qyn1.1-multi-channel",
		SourceLanguage:         "python",
		SourceLanguageVersion:  "3.12",
		SourceHash:             hex.EncodeToString(sum[:]),
		CompressionBackend:     "chunked-rans",
		CompressionModelDigest: hex.EncodeToString(sum[:]),
		SymbolCount:            1234,
	}
}

func TestValidate(t *testing.T) {
	if err := sampleMetadata().Validate(); err != nil {
		t.Fatalf("valid metadata rejected: %v", err)
	}

	t.Run("missing required field", func(t *testing.T) {
		m := sampleMetadata()
		m.DictionaryVersion = ""
		if err := m.Validate(); err == nil {
			t.Fatal("missing dictionary_version accepted")
		}
	})
	t.Run("bad source hash", func(t *testing.T) {
		m := sampleMetadata()
		m.SourceHash = "not-hex"
		if err := m.Validate(); err == nil {
			t.Fatal("non-hex source hash accepted")
		}
		m.SourceHash = "abcd"
		if err := m.Validate(); err == nil {
			t.Fatal("short source hash accepted")
		}
	})
}

func TestCanonicalEncoding(t *testing.T) {
	m := sampleMetadata()
	m.Capabilities = []string{"source-map", "deterministic-nonce"}
	a, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("canonical encoding not deterministic")
	}

	back, err := Unmarshal(a)
	if err != nil {
		t.Fatal(err)
	}
	c, err := back.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, c) {
		t.Fatal("encoding changed across a round trip")
	}
}

func TestAAD(t *testing.T) {
	m := sampleMetadata()
	aad, err := m.AAD()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(aad), AADPrefix) {
		t.Fatalf("AAD missing domain prefix, starts %q", aad[:8])
	}

	m2 := sampleMetadata()
	m2.SymbolCount++
	aad2, err := m2.AAD()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(aad, aad2) {
		t.Fatal("distinct metadata produced identical AAD")
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	m := sampleMetadata()
	m.IntegritySignature = &Signature{
		Issuer:    "ed25519:AAAA",
		HashAlg:   "sha256",
		Signature: []byte{1, 2, 3, 4},
	}
	enc, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Unmarshal(enc)
	if err != nil {
		t.Fatal(err)
	}
	if back.IntegritySignature == nil || back.IntegritySignature.Issuer != "ed25519:AAAA" {
		t.Fatal("signature lost in round trip")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xFF, 0x00, 0x13}); err == nil {
		t.Fatal("garbage accepted as metadata")
	}
}
