// Package loom owns the single large anonymous memory mapping that backs
// the interpreter's heap/stack arena, the per-page dirty bitmap derived
// from mprotect faults, and the guard page that detects heap/stack
// collision. It is the direct Go analogue of the mmap/mprotect handling in
// the original C implementation (original_source/pkg/urbit/noun/events.c);
// the raw VM calls are grounded on the pack's other mmap/mprotect users
// (see DESIGN.md).
//
// A *Loom is not safe for concurrent use. Exactly one goroutine may call
// its methods at a time, with the single exception of Fault, which is
// meant to be invoked from the host's own (out-of-scope) fault-delivery
// path and never takes a lock — see the package doc on Fault.
package loom

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/midlyx-hatrys/loom/internal/bitset"
)

// Logger receives non-fatal diagnostics, satisfied directly by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Bailer is invoked when the guard page cannot be placed because no room
// remains between the frontiers (spec.md §7, "guard exhaustion").
type Bailer interface {
	Bail(reason string)
}

// nopLogger discards diagnostics; used when no Logger is supplied.
type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Loom is the single contiguous virtual memory region described by
// spec.md §3, divided into PageCount pages of PageBytes bytes each.
type Loom struct {
	mem   []byte
	base  uintptr
	pageB uint32 // page size in bytes (S)
	pageN uint32 // page count (P)

	road   Road
	bail   Bailer
	logger Logger

	dirty *bitset.Bitmap

	guardPlaced bool
	guardBase   uint32 // page index of the guard page, valid iff guardPlaced
}

// Config carries the sizing parameters needed to map a Loom.
type Config struct {
	PageBytes uint32
	PageCount uint32
}

// New reserves and maps a fresh anonymous region of PageBytes*PageCount
// bytes, read-write, with every page initially marked dirty (there is no
// on-disk content for it to match yet; Engine.Live's recovery pass is
// responsible for blitting images back in and re-marking the resulting
// clean pages read-only).
func New(cfg Config, road Road, bail Bailer, logger Logger) (*Loom, error) {
	if cfg.PageBytes == 0 || cfg.PageCount == 0 {
		return nil, fmt.Errorf("loom: page size and count must be nonzero")
	}
	if sys := os.Getpagesize(); int(cfg.PageBytes)%sys != 0 {
		return nil, fmt.Errorf("loom: page size %d is not a multiple of the system page size %d", cfg.PageBytes, sys)
	}
	if logger == nil {
		logger = nopLogger{}
	}

	size := int(cfg.PageBytes) * int(cfg.PageCount)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("loom: mmap %d bytes: %w", size, err)
	}

	l := &Loom{
		mem:    mem,
		base:   uintptr(unsafe.Pointer(&mem[0])),
		pageB:  cfg.PageBytes,
		pageN:  cfg.PageCount,
		road:   road,
		bail:   bail,
		logger: logger,
		dirty:  bitset.New(int(cfg.PageCount)),
	}
	l.dirty.SetAll()
	return l, nil
}

// Close unmaps the loom. The Loom must not be used afterward.
func (l *Loom) Close() error {
	if l.mem == nil {
		return nil
	}
	err := unix.Munmap(l.mem)
	l.mem = nil
	return err
}

// Bytes returns the full backing slice. Callers outside this package
// should treat it as read-only except through the engine's blit helpers;
// ordinary interpreter mutation is expected to go through the host's own
// word-level accessors and trip page faults normally.
func (l *Loom) Bytes() []byte { return l.mem }

// PageBytes returns S, the page size in bytes.
func (l *Loom) PageBytes() uint32 { return l.pageB }

// PageCount returns P, the total number of loom pages.
func (l *Loom) PageCount() uint32 { return l.pageN }

// Dirty exposes the dirty bitmap for the snapshot package to scan and
// clear. It must only be mutated from the single mainline goroutine, never
// concurrently with a Fault call touching the same page index.
func (l *Loom) Dirty() *bitset.Bitmap { return l.dirty }

// Page returns the byte range backing loom page p.
func (l *Loom) Page(p uint32) []byte {
	off := uint64(p) * uint64(l.pageB)
	return l.mem[off : off+uint64(l.pageB)]
}

// ProtectReadOnly mprotects page p to PROT_READ, used after a page has
// been folded into a patch and its dirty bit cleared.
func (l *Loom) ProtectReadOnly(p uint32) error {
	if err := unix.Mprotect(l.Page(p), unix.PROT_READ); err != nil {
		return fmt.Errorf("loom: mprotect page %d read-only: %w", p, err)
	}
	return nil
}

// ProtectReadWrite mprotects page p to PROT_READ|PROT_WRITE, used by the
// fault handler on first touch. Yolo does not use it; it mprotects the
// whole mapping in one call.
func (l *Loom) ProtectReadWrite(p uint32) error {
	if err := unix.Mprotect(l.Page(p), unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("loom: mprotect page %d read-write: %w", p, err)
	}
	return nil
}

// protectNone mprotects page p to PROT_NONE, used only for the guard page.
func (l *Loom) protectNone(p uint32) error {
	if err := unix.Mprotect(l.Page(p), unix.PROT_NONE); err != nil {
		return fmt.Errorf("loom: mprotect page %d inaccessible: %w", p, err)
	}
	return nil
}

// Yolo relaxes the whole loom to read-write, an escape hatch before a
// batch of writes that will be snapshotted anyway (spec.md §4.7).
func (l *Loom) Yolo() error {
	if err := unix.Mprotect(l.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("loom: yolo mprotect: %w", err)
	}
	return nil
}

// Foul marks every bitmap bit dirty (spec.md §4.7).
func (l *Loom) Foul() {
	l.dirty.SetAll()
}
