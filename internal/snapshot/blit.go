package snapshot

import "github.com/midlyx-hatrys/loom/internal/loom"

// onCleanFunc records that loom page idx now matches on-disk content data,
// for the optional validation table (spec.md §4.7, "Validation hook").
type onCleanFunc func(idx uint32, data []byte)

// blitImages copies north and south image content onto the loom (spec.md
// §4.6, step 6, and §4.7's Load). North blocks land at the same index;
// south block k lands at loom page P-1-k (spec.md §3's reversed mapping).
// When protect is true, each blitted page is mprotected read-only and its
// dirty bit cleared — the recovery path. Load calls this with protect
// false, leaving pages read-write so the caller can re-fault them itself.
func blitImages(l *loom.Loom, north, south *Image, protect bool, onClean onCleanFunc) error {
	pageBytes := l.PageBytes()
	buf := make([]byte, pageBytes)

	northPages, err := north.PageCount()
	if err != nil {
		return err
	}
	for k := uint32(0); k < northPages; k++ {
		if err := north.ReadPage(k, buf); err != nil {
			return err
		}
		copy(l.Page(k), buf)
		if protect {
			if err := l.ProtectReadOnly(k); err != nil {
				return err
			}
			l.Dirty().Clear(int(k))
		}
		if onClean != nil {
			onClean(k, buf)
		}
	}

	southPages, err := south.PageCount()
	if err != nil {
		return err
	}
	total := l.PageCount()
	for k := uint32(0); k < southPages; k++ {
		idx := total - 1 - k
		if err := south.ReadPage(k, buf); err != nil {
			return err
		}
		copy(l.Page(idx), buf)
		if protect {
			if err := l.ProtectReadOnly(idx); err != nil {
				return err
			}
			l.Dirty().Clear(int(idx))
		}
		if onClean != nil {
			onClean(idx, buf)
		}
	}

	return nil
}
