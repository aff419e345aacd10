// Package noncedb tracks (key, nonce) pairs issued in deterministic nonce
// mode. Reserving an already-seen pair fails before any ciphertext exists,
// which is the whole point: a reused pair under the same key would break the
// AEAD.
package noncedb

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNonceReuse means the (key, nonce) pair was already recorded. Encoding
// must abort without writing output bytes.
var ErrNonceReuse = errors.New("noncedb: nonce already recorded for key")

// Record is one reserved pair.
type Record struct {
	ID     string
	KeyID  string
	Nonce  []byte
	SeenAt time.Time
}

// Ledger is the single-writer nonce authority. Implementations must make
// Reserve atomic: two concurrent reservations of the same pair admit
// exactly one.
type Ledger interface {
	// Reserve records the pair, failing with ErrNonceReuse if present.
	Reserve(ctx context.Context, keyID string, nonce []byte) (Record, error)
	// Seen reports whether the pair has been recorded.
	Seen(ctx context.Context, keyID string, nonce []byte) (bool, error)
	Close() error
}

// Memory is an in-process ledger for tests and single-shot encodes.
type Memory struct {
	mu    sync.Mutex
	pairs map[string]Record
}

func NewMemory() *Memory {
	return &Memory{pairs: make(map[string]Record)}
}

func pairKey(keyID string, nonce []byte) string {
	return keyID + "\x00" + hex.EncodeToString(nonce)
}

func (m *Memory) Reserve(ctx context.Context, keyID string, nonce []byte) (Record, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey(keyID, nonce)
	if _, ok := m.pairs[k]; ok {
		return Record{}, ErrNonceReuse
	}
	rec := Record{
		ID:     ulid.Make().String(),
		KeyID:  keyID,
		Nonce:  append([]byte(nil), nonce...),
		SeenAt: time.Now().UTC(),
	}
	m.pairs[k] = rec
	return rec, nil
}

func (m *Memory) Seen(ctx context.Context, keyID string, nonce []byte) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pairs[pairKey(keyID, nonce)]
	return ok, nil
}

func (m *Memory) Close() error { return nil }
