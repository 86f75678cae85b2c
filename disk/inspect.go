package disk

import "fmt"

// PageInfo is a display-friendly summary of one page's on-disk state,
// grounded on the teacher's InspectPage/PageInfo (internal/storage/pager/
// inspect.go) — the teacher has no counterpart for this in original_source/,
// which is itself a case of the teacher being richer than the original in
// exactly the way spec.md §7 kind-4 corruption handling wants.
type PageInfo struct {
	ID       PageID
	Type     PageType
	TypeStr  string
	CRC      uint32
	CRCValid bool
	Free     bool // only meaningful when Type == PageTypeBitmap's governed extent

	// Bitmap-specific.
	PageAllocated uint32
	NextFreePage  uint32
}

// Inspect reads logical page id and reports its header, CRC validity, and
// (for a bitmap page) its allocation counters — the concrete implementer of
// spec.md §7 kind-4 ("magic-number mismatch on deserialization... reported
// as a fatal data-integrity error") for a single page, without aborting the
// caller's process.
func (m *Manager) Inspect(id PageID) (*PageInfo, error) {
	if id < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageID, id)
	}
	buf := make([]byte, PageSize)
	if err := m.ReadPage(id, buf); err != nil {
		return nil, err
	}
	hdr := UnmarshalHeader(buf)
	info := &PageInfo{
		ID:       hdr.ID,
		Type:     hdr.Type,
		TypeStr:  hdr.Type.String(),
		CRC:      hdr.CRC,
		CRCValid: VerifyCRC(buf) == nil,
	}
	if hdr.Type == PageTypeBitmap {
		bm := wrapBitmapPage(buf)
		info.PageAllocated = bm.pageAllocated()
		info.NextFreePage = bm.nextFreePage()
	}
	free, err := m.IsPageFree(id)
	if err == nil {
		info.Free = free
	}
	return info, nil
}

// VerifyFile walks every allocated data page plus every bitmap page and
// reports integrity issues found (empty slice means the file looks healthy).
// This never aborts the process — per spec.md §7, corruption is reported,
// not repaired, and the caller decides what to do with the list.
func (m *Manager) VerifyFile() ([]string, error) {
	var issues []string
	stats := m.Stats()

	n := int64(N())
	buf := make([]byte, PageSize)
	for extent := int64(0); extent < int64(stats.NumExtents)+1 && extent < MaxExtents; extent++ {
		bitmapPhys := extent*(n+1) + 1
		m.mu.Lock()
		err := m.readPhysicalLocked(bitmapPhys, buf)
		m.mu.Unlock()
		if err != nil {
			issues = append(issues, fmt.Sprintf("bitmap extent %d: read error: %v", extent, err))
			continue
		}
		if bitmapAllExtentUnused(buf) {
			continue
		}
		if err := VerifyCRC(buf); err != nil {
			issues = append(issues, fmt.Sprintf("bitmap extent %d: %v", extent, err))
		}
	}

	for id := PageID(0); int64(id) < int64(stats.NumExtents)*n; id++ {
		free, err := m.IsPageFree(id)
		if err != nil || free {
			continue
		}
		pbuf := make([]byte, PageSize)
		if err := m.ReadPage(id, pbuf); err != nil {
			issues = append(issues, fmt.Sprintf("page %d: read error: %v", id, err))
			continue
		}
		if allZero(pbuf) {
			issues = append(issues, fmt.Sprintf("page %d: marked allocated in bitmap but never written", id))
			continue
		}
		if err := VerifyCRC(pbuf); err != nil {
			issues = append(issues, fmt.Sprintf("page %d: %v", id, err))
		}
	}
	return issues, nil
}

func allZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
