package rans

import (
	"fmt"
	"sync"
)

// DefaultGlobalModelID is the model consulted by static and hybrid modes
// when the package does not name one.
const DefaultGlobalModelID = "global_v1"

// GlobalModel is a packaged frequency table shared across files.
type GlobalModel struct {
	ModelID       string
	PrecisionBits int
	AlphabetSize  int
	Frequencies   []uint32
}

var (
	globalModelsMu sync.RWMutex
	globalModels   = map[string]*GlobalModel{}
)

// RegisterGlobalModel installs a global model, replacing any previous model
// with the same id. Frequencies shorter than the alphabet are padded with
// ones so late-vocabulary symbols stay encodable.
func RegisterGlobalModel(m GlobalModel) error {
	if m.ModelID == "" {
		return fmt.Errorf("rans: global model requires an id")
	}
	if m.PrecisionBits == 0 {
		m.PrecisionBits = DefaultPrecisionBits
	}
	if m.PrecisionBits < MinPrecisionBits || m.PrecisionBits > MaxPrecisionBits {
		return fmt.Errorf("rans: global model %q precision bits out of range: %d", m.ModelID, m.PrecisionBits)
	}
	if m.AlphabetSize == 0 {
		m.AlphabetSize = len(m.Frequencies)
	}
	if m.AlphabetSize == 0 {
		return fmt.Errorf("rans: global model %q has empty alphabet", m.ModelID)
	}
	frequencies := append([]uint32(nil), m.Frequencies...)
	for len(frequencies) < m.AlphabetSize {
		frequencies = append(frequencies, 1)
	}
	m.Frequencies = frequencies

	globalModelsMu.Lock()
	defer globalModelsMu.Unlock()
	globalModels[m.ModelID] = &m
	return nil
}

// LoadGlobalModel returns the registered model for id.
func LoadGlobalModel(id string) (*GlobalModel, error) {
	globalModelsMu.RLock()
	defer globalModelsMu.RUnlock()
	m, ok := globalModels[id]
	if !ok {
		return nil, fmt.Errorf("rans: global model %q not registered", id)
	}
	return m, nil
}

// Backend is the interface implemented by compression backends. The model
// returned by BuildModel is what Encode expects, and after Encode it carries
// everything Decode needs.
type Backend interface {
	Name() string
	BuildModel(symbols []uint16, alphabetSize int) (*Model, error)
	Encode(symbols []uint16, model *Model) ([]byte, error)
	Decode(data []byte, model *Model, symbolCount int) ([]uint16, error)
}

// BackendOptions tunes backend construction. Zero values select defaults.
type BackendOptions struct {
	PrecisionBits int
	ChunkSize     int
}

type backendFactory func(BackendOptions) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]backendFactory{}
)

// RegisterBackend installs a backend factory under name.
func RegisterBackend(name string, factory func(BackendOptions) (Backend, error)) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = factory
}

// GetBackend constructs the named backend. An unknown name is the error the
// container layer surfaces before attempting any decode.
func GetBackend(name string, opts BackendOptions) (Backend, error) {
	backendsMu.RLock()
	factory, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rans: unknown compression backend %q", name)
	}
	return factory(opts)
}

// AvailableBackends lists the registered backend names.
func AvailableBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

func init() {
	RegisterBackend(BackendRANS, func(opts BackendOptions) (Backend, error) {
		return NewRANSBackend(opts.PrecisionBits)
	})
	RegisterBackend(BackendChunkedRANS, func(opts BackendOptions) (Backend, error) {
		return NewChunkedBackend(opts.ChunkSize, opts.PrecisionBits)
	})
}
