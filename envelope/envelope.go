// Package envelope implements the cryptographic envelope: the three-tier
// key hierarchy, AEAD sealing, and nonce policy.
package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = 32
	NonceSize = chacha20poly1305.NonceSize

	// MinSaltSize is the floor for installation and project salts.
	MinSaltSize = 16

	KDFArgon2id       = "argon2id"
	AEADChaCha20Poly  = "chacha20poly1305"
	projectInfoPrefix = "qyn1/project:"
	fileInfoPrefix    = "qyn1/file:"
)

// ErrAuthentication is the single error returned for every open failure:
// wrong key, modified ciphertext, modified AAD, truncation, malformed
// input. Callers must not learn which one happened.
var ErrAuthentication = errors.New("envelope: authentication failed")

// Argon2Params tunes the passphrase KDF.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultArgon2Params is the production profile: 4 passes over 64 MiB with
// 4 lanes.
var DefaultArgon2Params = Argon2Params{Time: 4, Memory: 64 * 1024, Threads: 4}

// Key is a 32-byte secret with explicit zeroing. Every derivation returns a
// fresh Key; callers zero it when the sealing or opening operation ends.
type Key struct {
	b []byte
}

func newKey(b []byte) *Key { return &Key{b: b} }

// KeyFromRaw wraps hardware-provided key material. The slice is copied.
func KeyFromRaw(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("envelope: raw key must be %d bytes, got %d", KeySize, len(raw))
	}
	return newKey(append([]byte(nil), raw...)), nil
}

// Bytes exposes the key material for the duration of an operation.
func (k *Key) Bytes() []byte { return k.b }

// Zero overwrites the key material. The key is unusable afterwards.
func (k *Key) Zero() {
	for i := range k.b {
		k.b[i] = 0
	}
	k.b = nil
}

// MasterKey derives the tier-0 key from a passphrase and the installation
// salt via argon2id.
func MasterKey(passphrase []byte, installSalt []byte, params Argon2Params) (*Key, error) {
	if len(installSalt) < MinSaltSize {
		return nil, fmt.Errorf("envelope: installation salt must be at least %d bytes, got %d",
			MinSaltSize, len(installSalt))
	}
	if params.Time == 0 || params.Memory == 0 || params.Threads == 0 {
		params = DefaultArgon2Params
	}
	raw := argon2.IDKey(passphrase, installSalt, params.Time, params.Memory, params.Threads, KeySize)
	return newKey(raw), nil
}

// ProjectKey derives the tier-1 key. The info string binds the derivation
// to the project identity and the dictionary revision, so a dictionary bump
// rolls every project key.
func ProjectKey(master *Key, projectSalt []byte, projectID, dictionaryVersion string) (*Key, error) {
	if len(projectSalt) < MinSaltSize {
		return nil, fmt.Errorf("envelope: project salt must be at least %d bytes, got %d",
			MinSaltSize, len(projectSalt))
	}
	info := projectInfoPrefix + projectID + ":" + dictionaryVersion
	return deriveHKDF(master, projectSalt, info)
}

// FileKey derives the tier-2 key, bound to the exact source content and the
// encoder revision that produced the stream.
func FileKey(project *Key, fileSalt []byte, sourceHash, encoderVersion string) (*Key, error) {
	if len(fileSalt) < MinSaltSize {
		return nil, fmt.Errorf("envelope: file salt must be at least %d bytes, got %d",
			MinSaltSize, len(fileSalt))
	}
	info := fileInfoPrefix + sourceHash + ":" + encoderVersion
	return deriveHKDF(project, fileSalt, info)
}

func deriveHKDF(parent *Key, salt []byte, info string) (*Key, error) {
	if parent == nil || parent.b == nil {
		return nil, errors.New("envelope: derivation from zeroed key")
	}
	r := hkdf.New(sha256.New, parent.b, salt, []byte(info))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return newKey(out), nil
}

// Seal encrypts plaintext with ChaCha20-Poly1305 under key and nonce,
// authenticating aad alongside. The result is ciphertext plus tag.
func Seal(key *Key, nonce, plaintext, aad []byte) ([]byte, error) {
	if key == nil || key.b == nil {
		return nil, errors.New("envelope: seal with zeroed key")
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("envelope: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	aead, err := chacha20poly1305.New(key.b)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open decrypts and authenticates. Every failure mode collapses to
// ErrAuthentication.
func Open(key *Key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if key == nil || key.b == nil || len(nonce) != NonceSize {
		return nil, ErrAuthentication
	}
	aead, err := chacha20poly1305.New(key.b)
	if err != nil {
		return nil, ErrAuthentication
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// NewSalt returns n bytes from the system entropy source.
func NewSalt(n int) ([]byte, error) {
	if n < MinSaltSize {
		n = MinSaltSize
	}
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}
