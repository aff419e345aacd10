// Package storage provides content-addressed storage for encoded packages.
// Deterministic-mode encoding makes package bytes a pure function of input
// and salt generation, so the CID doubles as a cache and dedup key.
package storage

import "github.com/ipfs/go-cid"

// CAS is the minimal content-addressable blob store.
//
// Contract:
//   - Put is idempotent and derives the CID from the bytes written.
//   - Stored objects are immutable; a CID never resolves to different bytes.
//   - Get returns ErrNotFound for absent CIDs.
type CAS interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}
