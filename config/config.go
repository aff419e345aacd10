// Package config loads encoder configuration from TOML. A config names a
// preset mode and may override individual knobs; the zero Config resolves to
// the balanced preset.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"quenyan.dev/qyn1/envelope"
	"quenyan.dev/qyn1/qyn1"
	"quenyan.dev/qyn1/rans"
)

// Config mirrors the encoder configuration file.
//
// Example:
//
//	mode = "maximum"
//	nonce_mode = "deterministic"
//
//	[budget]
//	max_symbols = 1000000
type Config struct {
	// Mode selects a preset: "balanced", "maximum" or "security". Empty
	// means balanced.
	Mode string `toml:"mode"`

	// Explicit overrides. Zero values defer to the preset.
	Backend       string `toml:"backend"`
	ChunkSize     int    `toml:"chunk_size"`
	PrecisionBits int    `toml:"precision_bits"`
	ModelMode     string `toml:"model_mode"`
	NonceMode     string `toml:"nonce_mode"`

	Budget BudgetConfig `toml:"budget"`
}

// BudgetConfig overrides individual decode resource limits. Zero fields keep
// the shipped defaults.
type BudgetConfig struct {
	MaxSymbols          uint64 `toml:"max_symbols"`
	MaxModelBytes       uint64 `toml:"max_model_bytes"`
	MaxCompressedBytes  uint64 `toml:"max_compressed_bytes"`
	MaxStringTableBytes uint64 `toml:"max_string_table_bytes"`
	MaxPayloadBytes     uint64 `toml:"max_payload_bytes"`
}

type preset struct {
	backend       string
	chunkSize     int
	precisionBits int
	modelMode     rans.ModelMode
	description   string
}

var presets = map[string]preset{
	"balanced": {
		backend:     rans.BackendRANS,
		modelMode:   rans.ModeAdaptive,
		description: "Default mode balancing size and determinism.",
	},
	"maximum": {
		backend:       rans.BackendChunkedRANS,
		chunkSize:     32768,
		precisionBits: 14,
		modelMode:     rans.ModeAdaptive,
		description:   "Aggressively compress using chunked statistics.",
	},
	"security": {
		backend:       rans.BackendRANS,
		precisionBits: 11,
		modelMode:     rans.ModeAdaptive,
		description:   "Prioritise cryptographic isolation over compression.",
	},
}

// Modes returns the preset names with their descriptions.
func Modes() map[string]string {
	out := make(map[string]string, len(presets))
	for name, p := range presets {
		out[name] = p.description
	}
	return out
}

// LoadFile reads and validates a TOML config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("config: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if _, err := c.resolvePreset(); err != nil {
		return err
	}
	if c.Backend != "" && c.Backend != rans.BackendRANS && c.Backend != rans.BackendChunkedRANS {
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.ModelMode != "" {
		if _, err := rans.ResolveModelMode(c.ModelMode); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := envelope.ResolveNonceMode(c.NonceMode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("config: negative chunk_size %d", c.ChunkSize)
	}
	if c.PrecisionBits < 0 {
		return fmt.Errorf("config: negative precision_bits %d", c.PrecisionBits)
	}
	return nil
}

func (c Config) resolvePreset() (preset, error) {
	name := c.Mode
	if name == "" {
		name = "balanced"
	}
	p, ok := presets[name]
	if !ok {
		return preset{}, fmt.Errorf("config: unknown compression mode %q", c.Mode)
	}
	return p, nil
}

// EncodeOptions resolves the config into encode options: preset first, then
// explicit overrides. Identity fields (source language, author, timestamps)
// are left for the caller.
func (c Config) EncodeOptions() (qyn1.EncodeOptions, error) {
	if err := c.Validate(); err != nil {
		return qyn1.EncodeOptions{}, err
	}
	p, err := c.resolvePreset()
	if err != nil {
		return qyn1.EncodeOptions{}, err
	}

	opts := qyn1.EncodeOptions{
		Backend:       p.backend,
		ChunkSize:     p.chunkSize,
		PrecisionBits: p.precisionBits,
		ModelMode:     p.modelMode,
	}
	if c.Backend != "" {
		opts.Backend = c.Backend
	}
	if c.ChunkSize > 0 {
		opts.ChunkSize = c.ChunkSize
	}
	if c.PrecisionBits > 0 {
		opts.PrecisionBits = c.PrecisionBits
	}
	if c.ModelMode != "" {
		mode, err := rans.ResolveModelMode(c.ModelMode)
		if err != nil {
			return qyn1.EncodeOptions{}, err
		}
		opts.ModelMode = mode
	}
	if c.NonceMode != "" {
		mode, err := envelope.ResolveNonceMode(c.NonceMode)
		if err != nil {
			return qyn1.EncodeOptions{}, err
		}
		opts.NonceMode = mode
	}
	return opts, nil
}

// ResourceBudget applies the budget overrides on top of the shipped
// defaults.
func (c Config) ResourceBudget() qyn1.ResourceBudget {
	b := qyn1.DefaultBudget
	if c.Budget.MaxSymbols > 0 {
		b.MaxSymbols = c.Budget.MaxSymbols
	}
	if c.Budget.MaxModelBytes > 0 {
		b.MaxModelBytes = c.Budget.MaxModelBytes
	}
	if c.Budget.MaxCompressedBytes > 0 {
		b.MaxCompressedBytes = c.Budget.MaxCompressedBytes
	}
	if c.Budget.MaxStringTableBytes > 0 {
		b.MaxStringTableBytes = c.Budget.MaxStringTableBytes
	}
	if c.Budget.MaxPayloadBytes > 0 {
		b.MaxPayloadBytes = c.Budget.MaxPayloadBytes
	}
	return b
}
