package envelope

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

// fastParams keeps argon2id cheap in tests; production uses
// DefaultArgon2Params.
var fastParams = Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1}

func testSalt(seed byte) []byte {
	salt := make([]byte, MinSaltSize)
	for i := range salt {
		salt[i] = seed
	}
	return salt
}

func deriveFileKey(t *testing.T, passphrase string, dictVersion, sourceHash string) *Key {
	t.Helper()
	master, err := MasterKey([]byte(passphrase), testSalt(1), fastParams)
	if err != nil {
		t.Fatalf("MasterKey: %v", err)
	}
	defer master.Zero()
	project, err := ProjectKey(master, testSalt(2), "proj-1", dictVersion)
	if err != nil {
		t.Fatalf("ProjectKey: %v", err)
	}
	defer project.Zero()
	file, err := FileKey(project, testSalt(3), sourceHash, "qyn1.1-multi-channel")
	if err != nil {
		t.Fatalf("FileKey: %v", err)
	}
	return file
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := deriveFileKey(t, "correct horse", "2025.2", "aabb")
	defer key.Zero()
	nonce, err := RandomNonce()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("compressed morpheme stream")
	aad := []byte("QYN1-METADATA-v1:...")

	sealed, err := Seal(key, nonce, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	opened, err := Open(key, nonce, sealed, aad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatal("plaintext corrupted in round trip")
	}
}

func TestOpenFailuresAreUniform(t *testing.T) {
	key := deriveFileKey(t, "correct horse", "2025.2", "aabb")
	defer key.Zero()
	nonce, _ := RandomNonce()
	aad := []byte("aad")
	sealed, err := Seal(key, nonce, []byte("secret"), aad)
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]func() ([]byte, error){
		"flipped ciphertext": func() ([]byte, error) {
			bad := append([]byte(nil), sealed...)
			bad[0] ^= 1
			return Open(key, nonce, bad, aad)
		},
		"flipped tag": func() ([]byte, error) {
			bad := append([]byte(nil), sealed...)
			bad[len(bad)-1] ^= 1
			return Open(key, nonce, bad, aad)
		},
		"wrong aad": func() ([]byte, error) {
			return Open(key, nonce, sealed, []byte("other"))
		},
		"wrong nonce": func() ([]byte, error) {
			other := make([]byte, NonceSize)
			return Open(key, other, sealed, aad)
		},
		"truncated": func() ([]byte, error) {
			return Open(key, nonce, sealed[:4], aad)
		},
		"empty": func() ([]byte, error) {
			return Open(key, nonce, nil, aad)
		},
		"short nonce": func() ([]byte, error) {
			return Open(key, nonce[:4], sealed, aad)
		},
		"wrong key": func() ([]byte, error) {
			other := deriveFileKey(t, "wrong passphrase", "2025.2", "aabb")
			defer other.Zero()
			return Open(other, nonce, sealed, aad)
		},
	}
	for name, attempt := range cases {
		plaintext, err := attempt()
		if err != ErrAuthentication {
			t.Errorf("%s: error %v, want exactly ErrAuthentication", name, err)
		}
		if plaintext != nil {
			t.Errorf("%s: plaintext leaked", name)
		}
	}
}

func TestKeyHierarchySeparation(t *testing.T) {
	base := deriveFileKey(t, "passphrase", "2025.2", "aabb")
	defer base.Zero()

	// Any change along the derivation path must change the file key.
	variants := []*Key{
		deriveFileKey(t, "passphrase2", "2025.2", "aabb"),
		deriveFileKey(t, "passphrase", "2025.1", "aabb"),
		deriveFileKey(t, "passphrase", "2025.2", "ccdd"),
	}
	for i, v := range variants {
		if bytes.Equal(v.Bytes(), base.Bytes()) {
			t.Errorf("variant %d derived the same file key", i)
		}
		v.Zero()
	}

	same := deriveFileKey(t, "passphrase", "2025.2", "aabb")
	defer same.Zero()
	if !bytes.Equal(same.Bytes(), base.Bytes()) {
		t.Fatal("identical inputs derived different keys")
	}
}

func TestZeroedKeyRefused(t *testing.T) {
	key := deriveFileKey(t, "passphrase", "2025.2", "aabb")
	key.Zero()
	nonce, _ := RandomNonce()
	if _, err := Seal(key, nonce, []byte("x"), nil); err == nil {
		t.Fatal("seal with zeroed key succeeded")
	}
	if _, err := Open(key, nonce, []byte("x"), nil); err != ErrAuthentication {
		t.Fatal("open with zeroed key did not fail closed")
	}
	if _, err := ProjectKey(key, testSalt(2), "p", "d"); err == nil {
		t.Fatal("derivation from zeroed key succeeded")
	}
}

func TestSaltRequirements(t *testing.T) {
	if _, err := MasterKey([]byte("p"), []byte("short"), fastParams); err == nil {
		t.Fatal("short installation salt accepted")
	}
	master, err := MasterKey([]byte("p"), testSalt(1), fastParams)
	if err != nil {
		t.Fatal(err)
	}
	defer master.Zero()
	if _, err := ProjectKey(master, []byte("tiny"), "p", "d"); err == nil {
		t.Fatal("short project salt accepted")
	}
}

func TestDeterministicNonce(t *testing.T) {
	hash := sha256.Sum256([]byte("source"))
	saltA := testSalt(9)
	saltB := testSalt(10)

	n1 := DeterministicNonce(hash[:], saltA)
	n2 := DeterministicNonce(hash[:], saltA)
	if !bytes.Equal(n1, n2) {
		t.Fatal("deterministic nonce not deterministic")
	}
	if len(n1) != NonceSize {
		t.Fatalf("nonce %d bytes, want %d", len(n1), NonceSize)
	}
	if bytes.Equal(n1, DeterministicNonce(hash[:], saltB)) {
		t.Fatal("different salt generations produced the same nonce")
	}
	other := sha256.Sum256([]byte("other source"))
	if bytes.Equal(n1, DeterministicNonce(other[:], saltA)) {
		t.Fatal("different sources produced the same nonce")
	}
}

func TestRandomNonceUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		n, err := RandomNonce()
		if err != nil {
			t.Fatal(err)
		}
		s := hex.EncodeToString(n)
		if seen[s] {
			t.Fatalf("nonce repeated after %d draws", i)
		}
		seen[s] = true
	}
}

func TestResolveNonceMode(t *testing.T) {
	if m, err := ResolveNonceMode(""); err != nil || m != NonceRandom {
		t.Fatalf("default mode = %v, %v", m, err)
	}
	if _, err := ResolveNonceMode("quantum"); err == nil {
		t.Fatal("unknown nonce mode accepted")
	}
}
