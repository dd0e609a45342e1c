package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/midlyx-hatrys/loom/internal/loom"
	"github.com/midlyx-hatrys/loom/internal/loomcfg"
	"github.com/midlyx-hatrys/loom/internal/mug"
)

// Mode selects whether Save actually persists anything. Per spec.md §9's
// own recommendation ("Dry-run mode"), this is a constructor-time field
// (taken from the config's dry_run flag); Save checks it and, in
// DryRunMode, returns ErrDryRun instead of silently doing nothing.
type Mode uint8

const (
	LiveMode Mode = iota
	DryRunMode
)

// chkDirName and bhkDirName mirror the on-disk layout in spec.md §6.
const (
	chkDirName = ".urb/chk"
	bhkDirName = ".urb/bhk"

	northFile = "north.bin"
	southFile = "south.bin"
)

// fatalFunc terminates the process on an unrecoverable error (spec.md §7,
// kinds 1 and 3). It is a field, not a hardcoded os.Exit call, so tests
// can substitute a panic-and-recover stand-in without killing the test
// binary — the same seam the teacher's cmd/server/main.go uses log.Fatalf
// for in production but that a library has to make pluggable.
type fatalFunc func(reason string)

// nopLogger discards diagnostics when no Logger is supplied.
type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Engine implements the save/load/copy/yolo/foul lifecycle and the fault
// callback's surrounding machinery from spec.md §4.7. It owns exactly one
// *loom.Loom and the two on-disk image segments that mirror it.
type Engine struct {
	mu sync.Mutex

	l        *loom.Loom
	road     loom.Road
	logger   loom.Logger
	bail     loom.Bailer
	mode     Mode
	validate bool
	onFatal  fatalFunc

	root   string
	chkDir string
	bhkDir string

	north *Image
	south *Image

	checkTable map[uint32]uint32
}

// New builds an Engine and maps its loom, but performs no recovery; call
// Live to do that (spec.md §4.6).
func New(cfg *loomcfg.LoomConfig, road loom.Road, logger loom.Logger, bail loom.Bailer) (*Engine, error) {
	l, err := loom.New(loom.Config{PageBytes: cfg.PageBytes(), PageCount: cfg.PageCount()}, road, bail, logger)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = nopLogger{}
	}

	mode := LiveMode
	if cfg.Snapshot.DryRun {
		mode = DryRunMode
	}

	e := &Engine{
		l:          l,
		road:       road,
		logger:     logger,
		bail:       bail,
		mode:       mode,
		validate:   cfg.Snapshot.Validate,
		root:       cfg.Snapshot.Root,
		chkDir:     filepath.Join(cfg.Snapshot.Root, chkDirName),
		bhkDir:     filepath.Join(cfg.Snapshot.Root, bhkDirName),
		checkTable: make(map[uint32]uint32),
	}
	e.onFatal = e.defaultFatal
	return e, nil
}

func (e *Engine) defaultFatal(reason string) {
	e.logger.Printf("FATAL: %s", reason)
	os.Exit(1)
}

// SetFatalFunc overrides the termination behavior for spec kind-1/kind-3
// errors. Intended for tests only.
func (e *Engine) SetFatalFunc(f func(reason string)) { e.onFatal = f }

func (e *Engine) fatalf(format string, args ...any) {
	e.onFatal(fmt.Sprintf(format, args...))
}

// Loom exposes the underlying mapping, e.g. so a host can register Fault
// against it.
func (e *Engine) Loom() *loom.Loom { return e.l }

// Close releases the loom mapping and any open image handles.
func (e *Engine) Close() error {
	if e.north != nil {
		_ = e.north.Close()
	}
	if e.south != nil {
		_ = e.south.Close()
	}
	return e.l.Close()
}

// Live performs spec.md §4.6's startup recovery: it opens (creating if
// necessary) the image segments, applies and discards any pending patch,
// then blits the resulting images onto the loom. It reports true
// ("logical boot") when both images were empty, meaning the caller must
// populate the loom from scratch and replay the event log.
func (e *Engine) Live() (logicalBoot bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recover()
}

// Save composes, syncs, verifies, and applies a patch for every
// currently-dirty page within the live watermarks, then backs the result
// up. In DryRun mode it does nothing but report ErrDryRun.
func (e *Engine) Save() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == DryRunMode {
		return ErrDryRun
	}
	if e.north == nil || e.south == nil {
		return fmt.Errorf("snapshot: Save called before Live")
	}

	norPages, souPages := watermarkPages(e.l, e.road)

	patch, err := composePatch(e.l, e.chkDir, norPages, souPages, e.noteClean)
	if err != nil {
		e.fatalf("compose patch: %v", err)
		return err
	}
	if patch == nil {
		return nil
	}

	if err := patch.sync(); err != nil {
		e.fatalf("sync patch: %v", err)
		return err
	}
	if err := patch.verify(e.l.PageBytes()); err != nil {
		e.fatalf("verify patch: %v", err)
		return err
	}
	if err := applyPatch(patch, e.north, e.south, e.l.PageCount(), e.l.PageBytes()); err != nil {
		e.fatalf("apply patch: %v", err)
		return err
	}
	if err := e.north.Sync(); err != nil {
		e.fatalf("sync north image: %v", err)
		return err
	}
	if err := e.south.Sync(); err != nil {
		e.fatalf("sync south image: %v", err)
		return err
	}
	if err := patch.unlink(); err != nil {
		e.fatalf("unlink patch: %v", err)
		return err
	}

	if e.validate {
		e.check()
	}

	return e.copyTo(e.bhkDir)
}

// Load opens the images in dir, blits them onto the loom without
// re-protecting (the caller is expected to re-fault every page itself),
// and fouls the bitmap (spec.md §4.7).
func (e *Engine) Load(dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	north, err := OpenImage(filepath.Join(dir, northFile), e.l.PageBytes())
	if err != nil {
		return err
	}
	defer func() { _ = north.Close() }()

	south, err := OpenImage(filepath.Join(dir, southFile), e.l.PageBytes())
	if err != nil {
		return err
	}
	defer func() { _ = south.Close() }()

	if err := blitImages(e.l, north, south, false, nil); err != nil {
		return err
	}
	e.l.Foul()
	return nil
}

// Copy snapshots the current images into dir, rolling back cleanly if
// either half fails (spec.md §4.7).
func (e *Engine) Copy(dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyTo(dir)
}

// Yolo relaxes the whole loom to read-write (spec.md §4.7).
func (e *Engine) Yolo() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.l.Yolo()
}

// Foul marks every bitmap bit dirty (spec.md §4.7).
func (e *Engine) Foul() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.l.Foul()
}

// noteClean records that loom page idx now matches on-disk content, for
// the optional validation toggle (spec.md §4.7, "Snapshot validation
// toggle").
func (e *Engine) noteClean(idx uint32, data []byte) {
	e.checkTable[idx] = mug.Of(data)
}
