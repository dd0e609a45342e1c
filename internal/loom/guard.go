package loom

import (
	"errors"
	"fmt"
)

// ErrGuardExhausted marks the guard-placement bail condition (spec.md §7,
// kind 4): no free page remains between the north and south frontiers. The
// caller's Bailer has already been invoked by the time this is returned;
// it exists so callers can also distinguish the condition with errors.Is.
var ErrGuardExhausted = errors.New("loom: guard page exhausted")

// freeRange returns the page-aligned [bottom, top) range of currently-free
// loom pages, derived from the road's two watermarks (spec.md §4.1). The
// north watermark counts words used from the low end; the south watermark
// counts words used from the high end. Orientation does not change this
// computation in this implementation: the watermarks already encode which
// arena is currently active, so the free region is always "what's left
// between the two frontiers" regardless of which road produced them (see
// DESIGN.md, Open Questions).
func (l *Loom) freeRange() (bottom, top uint32) {
	pw := l.pageB / 4 // page size in words
	nwr := l.road.NorthWatermark()
	swu := l.road.SouthWatermark()

	norPages := ceilDiv(nwr, pw)
	souPages := ceilDiv(swu, pw)

	bottom = norPages
	if souPages > l.pageN {
		souPages = l.pageN
	}
	top = l.pageN - souPages
	return bottom, top
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// centerGuard computes and places a new guard page per spec.md §4.1. It
// returns an error when the free range is fully exhausted (which the
// caller upcalls to Bail), when nothing has changed since the last
// placement, or when an mprotect call fails. On re-placement the previous
// guard page gets back the protection its dirty bit calls for (read-write
// if dirty, read-only if clean), so a later touch of it is treated as an
// ordinary page.
func (l *Loom) centerGuard() error {
	bottom, top := l.freeRange()
	if top <= bottom {
		l.bail.Bail("out of memory: no room to place guard page")
		return fmt.Errorf("loom: %w", ErrGuardExhausted)
	}

	newBase := bottom + (top-bottom)/2
	if l.guardPlaced && newBase == l.guardBase {
		return fmt.Errorf("loom: guard page re-placement landed on the same page %d", newBase)
	}

	if err := l.protectNone(newBase); err != nil {
		return err
	}

	if l.guardPlaced {
		old := l.guardBase
		var err error
		if l.dirty.IsSet(int(old)) {
			err = l.ProtectReadWrite(old)
		} else {
			err = l.ProtectReadOnly(old)
		}
		if err != nil {
			return err
		}
	}

	l.guardBase = newBase
	l.guardPlaced = true
	l.logger.Printf("loom: guard page placed at page %d (free range [%d, %d))", newBase, bottom, top)
	return nil
}

// inGuardRange reports whether page p is the current guard page.
func (l *Loom) inGuardRange(p uint32) bool {
	return l.guardPlaced && p == l.guardBase
}
