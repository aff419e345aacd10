// Generates conformance vectors: deterministic packages with fixed keys,
// printed as hex alongside their CIDs. Run when the wire format changes and
// paste the output into the cross-implementation vector file.
package main

import (
	"encoding/hex"
	"fmt"

	"quenyan.dev/qyn1/cidutil"
	"quenyan.dev/qyn1/envelope"
	"quenyan.dev/qyn1/morpheme"
	"quenyan.dev/qyn1/noncedb"
	"quenyan.dev/qyn1/qyn1"
)

func fixedKeychain() *qyn1.Keychain {
	install := make([]byte, 16)
	project := make([]byte, 16)
	for i := range install {
		install[i] = 0xA1
		project[i] = 0xB2
	}
	return &qyn1.Keychain{
		Passphrase:            []byte("vector passphrase"),
		InstallSalt:           install,
		Argon2:                envelope.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1},
		ProjectID:             "vector-project",
		ProjectSalt:           project,
		ProjectSaltGeneration: 1,
	}
}

func sampleStream() ([]morpheme.Token, []qyn1.Payload) {
	tokens := []morpheme.Token{
		morpheme.TokMetaStreamStart,
		morpheme.TokConstructFunction,
		morpheme.TokStructIdentifier,
		morpheme.TokLitInt,
		morpheme.TokLitString,
		morpheme.TokFlowReturn,
		morpheme.TokMetaStreamEnd,
	}
	payloads := []qyn1.Payload{
		qyn1.NoPayload,
		qyn1.NumPayload(1),
		qyn1.IDPayload("answer"),
		qyn1.NumPayload(42),
		qyn1.StrPayload("hello"),
		qyn1.BoolPayload(true),
		qyn1.NoPayload,
	}
	return tokens, payloads
}

func emit(name string, data []byte) {
	fmt.Printf("vector: %s\n", name)
	fmt.Printf("cid: %s\n", cidutil.CIDv1RawSHA256(data))
	fmt.Printf("bytes: %s\n\n", hex.EncodeToString(data))
}

func main() {
	tokens, payloads := sampleStream()

	plain, err := qyn1.Encode(tokens, payloads, qyn1.EncodeOptions{
		SourceLanguage: "python",
		Timestamp:      "2026-01-01T00:00:00Z",
	}, nil)
	if err != nil {
		panic(err)
	}
	emit("plaintext-basic", plain)

	chunked, err := qyn1.Encode(tokens, payloads, qyn1.EncodeOptions{
		ChunkSize:      4,
		SourceLanguage: "python",
		Timestamp:      "2026-01-01T00:00:00Z",
	}, nil)
	if err != nil {
		panic(err)
	}
	emit("plaintext-chunked", chunked)

	sealed, err := qyn1.Encode(tokens, payloads, qyn1.EncodeOptions{
		NonceMode:      envelope.NonceDeterministic,
		NonceLedger:    noncedb.NewMemory(),
		SourceLanguage: "python",
		Timestamp:      "2026-01-01T00:00:00Z",
	}, fixedKeychain())
	if err != nil {
		panic(err)
	}
	emit("encrypted-deterministic", sealed)
}
