package storage

import (
	"github.com/ipfs/go-cid"

	"quenyan.dev/qyn1/metadata"
	"quenyan.dev/qyn1/qyn1"
)

// PackageStore is the package-aware layer over a raw CAS. It refuses to
// store or serve bytes that fail structural verification, so everything
// behind a PackageStore CID is a well-formed wrapper with valid checksums.
//
// Verification is keyless: encrypted payloads pass through sealed and the
// AEAD tag is only checked by callers holding a keychain.
type PackageStore struct {
	CAS CAS
}

// PutPackage verifies the wrapper structure and stores the bytes.
func (s PackageStore) PutPackage(data []byte) (cid.Cid, error) {
	if err := qyn1.Verify(data, nil); err != nil {
		return cid.Undef, ErrNotPackage
	}
	return s.CAS.Put(data)
}

// GetPackage fetches the bytes and re-verifies them before returning, with
// the cleartext metadata alongside.
func (s PackageStore) GetPackage(id cid.Cid) ([]byte, *metadata.Metadata, error) {
	data, err := s.CAS.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if err := qyn1.Verify(data, nil); err != nil {
		return nil, nil, ErrNotPackage
	}
	meta, err := qyn1.Inspect(data)
	if err != nil {
		return nil, nil, ErrNotPackage
	}
	return data, meta, nil
}

// HasPackage reports presence without fetching.
func (s PackageStore) HasPackage(id cid.Cid) bool {
	return s.CAS.Has(id)
}
