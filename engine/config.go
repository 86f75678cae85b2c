// Package engine ties the disk manager, buffer pool, and B+ tree index
// together behind a single Open call, and carries the unimplemented
// collaborator hooks (transaction, lock, log) spec.md §1 places out of
// scope for the core itself.
package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arborkv/enginecore/buffer"
)

// ReplacerPolicy selects which Replacer implementation a Pool is built with.
type ReplacerPolicy string

const (
	ReplacerLRU   ReplacerPolicy = "lru"
	ReplacerClock ReplacerPolicy = "clock"
)

// Config is the ambient "how do I start the engine" surface the distilled
// spec is silent on (SPEC_FULL.md "Ambient stack"), loaded from a small YAML
// document the way the teacher's `internal/testhelper/examples_test.go` and
// `cmd/repl` load their own YAML fixtures/flags via gopkg.in/yaml.v3.
type Config struct {
	// DataFile is the path to the single database file this engine owns.
	DataFile string `yaml:"data_file"`
	// PoolSize is the number of frames the buffer pool manages.
	PoolSize int `yaml:"pool_size"`
	// Replacer selects the victim-selection policy (spec.md §4.2).
	Replacer ReplacerPolicy `yaml:"replacer"`
}

// DefaultConfig returns sane defaults for an ad-hoc engine, overridden by
// whatever fields a loaded YAML document sets.
func DefaultConfig() Config {
	return Config{
		PoolSize: 64,
		Replacer: ReplacerLRU,
	}
}

// LoadConfig reads and parses a YAML config file, starting from
// DefaultConfig so a document that only sets pool_size still gets a sane
// replacer policy.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("engine: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// newReplacer constructs the Replacer named by cfg.Replacer, defaulting to
// LRU for an empty value and returning an error for an unrecognized one.
func newReplacer(cfg Config) (buffer.Replacer, error) {
	switch cfg.Replacer {
	case "", ReplacerLRU:
		return buffer.NewLRUReplacer(cfg.PoolSize), nil
	case ReplacerClock:
		return buffer.NewClockReplacer(cfg.PoolSize), nil
	default:
		return nil, fmt.Errorf("engine: unknown replacer policy %q", cfg.Replacer)
	}
}
