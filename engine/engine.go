package engine

import (
	"fmt"

	"github.com/arborkv/enginecore/buffer"
	"github.com/arborkv/enginecore/disk"
)

// Engine wires a disk.Manager, buffer.Pool, and the B+ tree indexes opened
// against it into one handle — the three-layer stack spec.md §2 describes,
// behind a single entry point the way a caller of the teacher's Pager opens
// one (internal/storage/pager/pager.go Open).
type Engine struct {
	cfg  Config
	disk *disk.Manager
	pool *buffer.Pool
}

// Open opens (or creates) cfg.DataFile and builds a buffer pool of
// cfg.PoolSize frames over it, evicting under cfg.Replacer's policy.
func Open(cfg Config) (*Engine, error) {
	if cfg.DataFile == "" {
		return nil, fmt.Errorf("engine: config.DataFile is required")
	}
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("engine: config.PoolSize must be positive, got %d", cfg.PoolSize)
	}
	dm, err := disk.Open(cfg.DataFile)
	if err != nil {
		return nil, err
	}
	replacer, err := newReplacer(cfg)
	if err != nil {
		dm.Close()
		return nil, err
	}
	pool := buffer.NewPool(dm, cfg.PoolSize, replacer)
	return &Engine{cfg: cfg, disk: dm, pool: pool}, nil
}

// Pool returns the engine's buffer pool, the entry point a catalog manager
// or table heap collaborator (spec.md §6) uses to fetch/unpin pages.
func (e *Engine) Pool() *buffer.Pool { return e.pool }

// Disk returns the engine's disk manager.
func (e *Engine) Disk() *disk.Manager { return e.disk }

// Close flushes every dirty frame and closes the underlying database file.
// Returns the list of still-pinned pages as an error if any caller leaked a
// pin, the way spec.md §4.2's CheckAllUnpinned audit is meant to be used at
// shutdown.
func (e *Engine) Close() error {
	if leaks := e.pool.CheckAllUnpinned(); len(leaks) > 0 {
		return fmt.Errorf("engine: %d pages still pinned at close: %v", len(leaks), leaks)
	}
	if err := e.pool.FlushAll(); err != nil {
		return err
	}
	return e.disk.Close()
}
