// Generates attestation vectors: signs a package file with a keypair derived
// from a fixed seed byte and prints the signature fields, so other
// implementations can check their verification path against known-good
// output.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"quenyan.dev/qyn1/cidutil"
	"quenyan.dev/qyn1/keys"
	"quenyan.dev/qyn1/qyn1"
)

func main() {
	var (
		seedByteStr = flag.String("seed", "", "single byte seed (decimal or 0xNN)")
		pkgPath     = flag.String("package", "", "package file to attest")
		hashAlg     = flag.String("hash", "sha256", "digest algorithm: sha256, sha512 or sha3-256")
	)
	flag.Parse()

	if *seedByteStr == "" || *pkgPath == "" {
		fmt.Fprintln(os.Stderr, "usage: qyn1_attest_gen -seed <0xA1> -package <file.qyn1> [-hash <alg>]")
		os.Exit(2)
	}
	seedByte, err := parseSeedByte(*seedByteStr)
	if err != nil {
		fatalf("parse -seed: %v", err)
	}

	wrapper, err := os.ReadFile(*pkgPath)
	if err != nil {
		fatalf("read package: %v", err)
	}
	if err := qyn1.Verify(wrapper, nil); err != nil {
		fatalf("package is not structurally valid: %v", err)
	}

	_, priv := keypairFromSeedByte(seedByte)
	sig, err := keys.Attest(wrapper, *hashAlg, priv)
	if err != nil {
		fatalf("attest: %v", err)
	}
	if err := keys.VerifyAttestation(wrapper, sig); err != nil {
		fatalf("self-check failed: %v", err)
	}

	fmt.Printf("cid: %s\n", cidutil.CIDv1RawSHA256(wrapper))
	fmt.Printf("issuer: %s\n", sig.Issuer)
	fmt.Printf("hash_alg: %s\n", sig.HashAlg)
	fmt.Printf("signature: %s\n", base64.StdEncoding.EncodeToString(sig.Signature))
}

func parseSeedByte(s string) (byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, base, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}

func keypairFromSeedByte(seedByte byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = seedByte
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return pub, priv
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
