package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// NonceMode selects how per-file nonces are produced.
type NonceMode string

const (
	// NonceRandom draws each nonce from the system entropy source. This
	// is the default and yields a different package on every encode.
	NonceRandom NonceMode = "random"
	// NonceDeterministic derives the nonce from the source hash and the
	// project salt, making encoding reproducible byte-for-byte. Safe only
	// while the project salt stays secret and rotates; the nonce registry
	// guards against reuse across salt generations.
	NonceDeterministic NonceMode = "deterministic"
)

func ResolveNonceMode(value string) (NonceMode, error) {
	switch NonceMode(value) {
	case "":
		return NonceRandom, nil
	case NonceRandom, NonceDeterministic:
		return NonceMode(value), nil
	default:
		return "", fmt.Errorf("envelope: unknown nonce mode %q", value)
	}
}

// RandomNonce returns a fresh 96-bit nonce.
func RandomNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// DeterministicSalt derives the file salt for reproducible encoding, domain
// separated from the nonce derivation.
func DeterministicSalt(sourceHash, projectSalt []byte) []byte {
	h := sha256.New()
	h.Write([]byte("qyn1/file-salt:"))
	h.Write(sourceHash)
	h.Write(projectSalt)
	return h.Sum(nil)[:MinSaltSize]
}

// DeterministicNonce derives the nonce for a source under one project salt
// generation: the leading bytes of SHA-256(sourceHash || projectSalt).
// Identical input under the same generation gives the identical nonce,
// which is exactly what content-addressed storage needs. The pair must
// still be unique per key, which the nonce registry enforces.
func DeterministicNonce(sourceHash, projectSalt []byte) []byte {
	h := sha256.New()
	h.Write(sourceHash)
	h.Write(projectSalt)
	sum := h.Sum(nil)
	return sum[:NonceSize]
}
