package loom

import "fmt"

// FaultResult reports what the fault handler did with a trapped access.
type FaultResult uint8

const (
	// Handled means the caller's signal path should simply resume
	// execution and retry the access. On the first-touch path the page is
	// now read-write, so the retry succeeds; on the guard-placement paths
	// the faulting page's protection is left as it was, so the retry may
	// fault again and then gets ordinary first-touch treatment.
	Handled FaultResult = iota
	// Unhandled means the caller should fall through to its own handling
	// (spec.md §4.2: a read fault is treated as a candidate stack
	// overflow by the host, not by this package).
	Unhandled
)

// StrangePageError is the fatal condition from spec.md §4.2: a write
// fault landed on a page the bitmap already considers dirty (and
// therefore should already be mapped read-write). It can only happen if
// something outside the single-threaded discipline this package assumes
// touched the mapping concurrently.
type StrangePageError struct {
	Page uint32
}

func (e *StrangePageError) Error() string {
	return fmt.Sprintf("loom: strange page fault on already-dirty page %d", e.Page)
}

// OutOfLoomError is the fatal assert from spec.md §4.2 for an address
// outside the mapped region.
type OutOfLoomError struct {
	Addr uintptr
}

func (e *OutOfLoomError) Error() string {
	return fmt.Sprintf("loom: fault address %#x is outside the loom", e.Addr)
}

// Fault is the page-fault callback contracted by spec.md §4.2. It is meant
// to be invoked synchronously by the host's own (out-of-scope) signal or
// trap-decoding path with the faulting address and whether the access was
// a store. It performs only bounded work: at most one bitmap word update
// and at most two mprotect calls (two only when the guard is re-centered).
// The first-touch path allocates nothing; the guard-placement paths log a
// diagnostic through the Logger, and every error return allocates its
// error value (see SPEC_FULL.md §4.2 for how a host drives it).
//
// Fault never takes a lock. Its only shared state with the rest of this
// package is the dirty bitmap and the page protections, which it only
// ever monotonically extends (set a bit, relax a protection) — the
// invariant the mainline preserves is that it is never itself interrupted
// by a second call to Fault, because the host is single-threaded for
// loom-touching work (spec.md §5).
func (l *Loom) Fault(addr uintptr, isWrite bool) (FaultResult, error) {
	if !l.guardPlaced {
		if err := l.centerGuard(); err != nil {
			return Handled, err
		}
		return Handled, nil
	}

	if !isWrite {
		return Unhandled, nil
	}

	if addr < l.base || addr >= l.base+uintptr(len(l.mem)) {
		return Handled, &OutOfLoomError{Addr: addr}
	}

	p := uint32((addr - l.base) / uintptr(l.pageB))

	if l.inGuardRange(p) {
		if err := l.centerGuard(); err != nil {
			return Handled, err
		}
		return Handled, nil
	}

	if l.dirty.IsSet(int(p)) {
		return Handled, &StrangePageError{Page: p}
	}

	l.dirty.Set(int(p))
	if err := l.ProtectReadWrite(p); err != nil {
		return Handled, err
	}
	return Handled, nil
}
