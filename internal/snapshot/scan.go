package snapshot

import (
	"github.com/midlyx-hatrys/loom/internal/loom"
)

// watermarkPages returns nor_pages and sou_pages: the page-rounded extents
// of the live north and south arenas, per spec.md §4.3.
func watermarkPages(l *loom.Loom, road loom.Road) (norPages, souPages uint32) {
	pw := l.PageBytes() / 4
	nwr := road.NorthWatermark()
	swu := road.SouthWatermark()
	norPages = ceilDivU32(nwr, pw)
	souPages = ceilDivU32(swu, pw)
	if souPages > l.PageCount() {
		souPages = l.PageCount()
	}
	return norPages, souPages
}

func ceilDivU32(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// countDirty counts dirty pages within the live watermark extents
// (spec.md §4.3: "only pages within these extents are candidates").
func countDirty(l *loom.Loom, norPages, souPages uint32) uint32 {
	var n uint32
	p := l.PageCount()
	for i := uint32(0); i < norPages; i++ {
		if l.Dirty().IsSet(int(i)) {
			n++
		}
	}
	for i := p - souPages; i < p; i++ {
		if l.Dirty().IsSet(int(i)) {
			n++
		}
	}
	return n
}

// composePatch performs spec.md §4.4's compose_patch: it walks page
// indices 0..norPages (north, ascending) then P-1..P-souPages (south,
// descending loom index — ascending south-image offset), collecting
// dirty pages into a freshly created patch, re-protecting each folded
// page read-only and clearing its dirty bit as it goes. Returns (nil,
// nil) if there is nothing dirty within the watermarks.
func composePatch(l *loom.Loom, dir string, norPages, souPages uint32, onClean onCleanFunc) (*Patch, error) {
	dirtyCount := countDirty(l, norPages, souPages)
	if dirtyCount == 0 {
		return nil, nil
	}

	p, err := createPatch(dir, dirtyCount)
	if err != nil {
		return nil, err
	}

	foldPage := func(idx uint32) error {
		data := l.Page(idx)
		if err := p.appendPage(idx, data); err != nil {
			return err
		}
		if err := l.ProtectReadOnly(idx); err != nil {
			return err
		}
		l.Dirty().Clear(int(idx))
		if onClean != nil {
			onClean(idx, data)
		}
		return nil
	}

	for i := uint32(0); i < norPages; i++ {
		if l.Dirty().IsSet(int(i)) {
			if err := foldPage(i); err != nil {
				return nil, err
			}
		}
	}

	total := l.PageCount()
	for i := total; i > total-souPages; i-- {
		idx := i - 1
		if l.Dirty().IsSet(int(idx)) {
			if err := foldPage(idx); err != nil {
				return nil, err
			}
		}
	}

	if err := p.writeHeader(norPages, souPages); err != nil {
		return nil, err
	}
	return p, nil
}
