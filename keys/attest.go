package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"

	"quenyan.dev/qyn1/metadata"
)

// ErrBadAttestation is returned when a signature does not verify or the
// issuer string cannot be parsed.
var ErrBadAttestation = errors.New("keys: attestation did not verify")

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", hashAlg)
	}
}

// IssuerKeyEd25519 encodes an Ed25519 public key into the issuer-key string.
func IssuerKeyEd25519(pub ed25519.PublicKey) (string, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return "", fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
	}
	return "ed25519:" + base64.StdEncoding.EncodeToString(pub), nil
}

// IssuerKeyDilithium3 encodes a Dilithium3 public key into the issuer-key
// string.
func IssuerKeyDilithium3(pub *mode3.PublicKey) (string, error) {
	if pub == nil {
		return "", errors.New("missing public key")
	}
	raw, err := pub.MarshalBinary()
	if err != nil {
		return "", err
	}
	return "dilithium3:" + base64.StdEncoding.EncodeToString(raw), nil
}

// Attest signs the wrapper bytes with Ed25519 over hash(wrapper) and returns
// the detached signature carried in package metadata.
func Attest(wrapper []byte, hashAlg string, priv ed25519.PrivateKey) (*metadata.Signature, error) {
	digest, err := digestFor(hashAlg, wrapper)
	if err != nil {
		return nil, err
	}
	issuer, err := IssuerKeyEd25519(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &metadata.Signature{
		Issuer:    issuer,
		HashAlg:   hashAlg,
		Signature: ed25519.Sign(priv, digest),
	}, nil
}

// AttestDilithium3 is the post-quantum variant of Attest.
func AttestDilithium3(wrapper []byte, hashAlg string, pub *mode3.PublicKey, priv *mode3.PrivateKey) (*metadata.Signature, error) {
	if priv == nil {
		return nil, errors.New("missing private key")
	}
	digest, err := digestFor(hashAlg, wrapper)
	if err != nil {
		return nil, err
	}
	issuer, err := IssuerKeyDilithium3(pub)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(priv, digest, sig)
	return &metadata.Signature{Issuer: issuer, HashAlg: hashAlg, Signature: sig}, nil
}

// GenerateDilithium3Keypair returns a new Dilithium3 keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}

// VerifyAttestation checks a detached signature against the wrapper bytes.
// The issuer string selects the algorithm.
func VerifyAttestation(wrapper []byte, sig *metadata.Signature) error {
	if sig == nil {
		return ErrBadAttestation
	}
	digest, err := digestFor(sig.HashAlg, wrapper)
	if err != nil {
		return ErrBadAttestation
	}
	switch {
	case strings.HasPrefix(sig.Issuer, "ed25519:"):
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sig.Issuer, "ed25519:"))
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return ErrBadAttestation
		}
		if !ed25519.Verify(ed25519.PublicKey(raw), digest, sig.Signature) {
			return ErrBadAttestation
		}
		return nil
	case strings.HasPrefix(sig.Issuer, "dilithium3:"):
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sig.Issuer, "dilithium3:"))
		if err != nil {
			return ErrBadAttestation
		}
		var pub mode3.PublicKey
		if err := pub.UnmarshalBinary(raw); err != nil {
			return ErrBadAttestation
		}
		if !mode3.Verify(&pub, digest, sig.Signature) {
			return ErrBadAttestation
		}
		return nil
	default:
		return ErrBadAttestation
	}
}
