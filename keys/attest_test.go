package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func TestIssuerKeyEd25519Format(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = 0x42
	}
	priv := ed25519.NewKeyFromSeed(seed)
	issuer, err := IssuerKeyEd25519(priv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("IssuerKeyEd25519: %v", err)
	}
	if !strings.HasPrefix(issuer, "ed25519:") {
		t.Fatalf("expected ed25519 prefix, got %q", issuer)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(issuer, "ed25519:"))
	if err != nil {
		t.Fatalf("expected valid base64: %v", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		t.Fatalf("expected %d pubkey bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
}

func TestAttestEd25519Verifies(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	wrapper := []byte("wrapper bytes under test")

	for _, hashAlg := range []string{"sha256", "sha512", "sha3-256"} {
		sig, err := Attest(wrapper, hashAlg, priv)
		if err != nil {
			t.Fatalf("Attest(%s): %v", hashAlg, err)
		}
		if err := VerifyAttestation(wrapper, sig); err != nil {
			t.Fatalf("VerifyAttestation(%s): %v", hashAlg, err)
		}
		tampered := append([]byte(nil), wrapper...)
		tampered[0] ^= 0x01
		if err := VerifyAttestation(tampered, sig); err == nil {
			t.Fatalf("VerifyAttestation(%s) accepted tampered wrapper", hashAlg)
		}
	}
}

func TestAttestDilithium3Verifies(t *testing.T) {
	pub, priv, err := GenerateDilithium3Keypair(&deterministicReader{})
	if err != nil {
		t.Fatalf("GenerateDilithium3Keypair: %v", err)
	}
	wrapper := []byte("wrapper bytes under test")

	sig, err := AttestDilithium3(wrapper, "sha3-256", pub, priv)
	if err != nil {
		t.Fatalf("AttestDilithium3: %v", err)
	}
	if len(sig.Signature) != mode3.SignatureSize {
		t.Fatalf("unexpected signature size: got %d want %d", len(sig.Signature), mode3.SignatureSize)
	}
	if !strings.HasPrefix(sig.Issuer, "dilithium3:") {
		t.Fatalf("issuer = %q", sig.Issuer)
	}
	if err := VerifyAttestation(wrapper, sig); err != nil {
		t.Fatalf("VerifyAttestation: %v", err)
	}
	tampered := append([]byte(nil), wrapper...)
	tampered[len(tampered)-1] ^= 0x01
	if err := VerifyAttestation(tampered, sig); err == nil {
		t.Fatal("VerifyAttestation accepted tampered wrapper")
	}
}

func TestVerifyAttestationRejectsUnknownIssuer(t *testing.T) {
	sig, err := Attest([]byte("x"), "sha256", ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)))
	if err != nil {
		t.Fatal(err)
	}
	sig.Issuer = "rsa:" + strings.TrimPrefix(sig.Issuer, "ed25519:")
	if err := VerifyAttestation([]byte("x"), sig); err == nil {
		t.Fatal("accepted unknown issuer algorithm")
	}
	if _, err := Attest([]byte("x"), "md5", ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))); err == nil {
		t.Fatal("accepted unsupported hash algorithm")
	}
}
