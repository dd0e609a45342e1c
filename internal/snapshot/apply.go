package snapshot

import "fmt"

// applyPatch idempotently folds patch p into the north/south images
// (spec.md §4.5). Because every entry names its destination block by
// index and rewrites it in full, applying the same patch twice leaves the
// images unchanged — the property recovery (spec.md §4.6) relies on when
// a process dies after the patch was synced but before it was unlinked.
func applyPatch(p *Patch, north, south *Image, pageCount uint32, pageBytes uint32) error {
	if err := north.Truncate(p.Header.NorPages); err != nil {
		return err
	}
	if err := south.Truncate(p.Header.SouPages); err != nil {
		return err
	}

	buf := make([]byte, pageBytes)
	for i, e := range p.Entries {
		off := int64(i) * int64(pageBytes)
		n, err := p.mem.ReadAt(buf, off)
		if err != nil || uint32(n) != pageBytes {
			return fmt.Errorf("snapshot: read patch memory block %d: %w", i, err)
		}

		if e.PageIndex < p.Header.NorPages {
			if err := north.WritePage(e.PageIndex, buf); err != nil {
				return err
			}
		} else {
			if e.PageIndex >= pageCount {
				return fmt.Errorf("snapshot: patch entry %d references page %d outside the loom (P=%d)", i, e.PageIndex, pageCount)
			}
			southOffset := pageCount - 1 - e.PageIndex
			if err := south.WritePage(southOffset, buf); err != nil {
				return err
			}
		}
	}

	return nil
}
