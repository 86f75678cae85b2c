package btree

import (
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// CollatedComparator orders fixed-width text keys by a locale-aware
// collation instead of raw byte value, for indexes built over natural-
// language string keys where byte order would sort accented or
// non-Latin text incorrectly. Trailing zero padding (fixed-width keys
// shorter than KeySize are zero-padded) is trimmed before comparison so
// it never perturbs the collation order.
type CollatedComparator struct {
	col *collate.Collator
}

// NewCollatedComparator builds a comparator using tag's collation rules
// (e.g. language.English, language.German).
func NewCollatedComparator(tag language.Tag) *CollatedComparator {
	return &CollatedComparator{col: collate.New(tag)}
}

func (c *CollatedComparator) Compare(a, b []byte) int {
	return c.col.Compare(trimZero(a), trimZero(b))
}

func trimZero(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}
