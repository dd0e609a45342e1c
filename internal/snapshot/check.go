package snapshot

import "github.com/midlyx-hatrys/loom/internal/mug"

// check recomputes a mug over every live page and compares it against the
// cached table built up by noteClean, logging (never failing) on any
// mismatch. This is the runtime-toggled equivalent of the original's
// compiled-out U3_SNAPSHOT_VALIDATION cross-check (spec.md §4.7,
// §9 "Snapshot validation toggle").
func (e *Engine) check() {
	norPages, souPages := watermarkPages(e.l, e.road)
	total := e.l.PageCount()

	scan := func(idx uint32) {
		want, ok := e.checkTable[idx]
		if !ok {
			return
		}
		got := mug.Of(e.l.Page(idx))
		if got != want {
			e.logger.Printf("snapshot: validation mismatch on page %d: have %08x, want %08x", idx, got, want)
		}
	}

	for i := uint32(0); i < norPages; i++ {
		scan(i)
	}
	for i := total - souPages; i < total; i++ {
		scan(i)
	}
}
