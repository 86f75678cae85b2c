package engine

import "github.com/arborkv/enginecore/btree"

// OpenIndex binds a B+ tree index with the given id to this engine's buffer
// pool, creating its index-roots entry on first use (spec.md §4.3 Open).
func (e *Engine) OpenIndex(indexID uint32, opts btree.Options) (*btree.Tree, error) {
	return btree.Open(e.pool, indexID, opts)
}
