package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
)

// recover implements spec.md §4.6, steps 1–7. Called with e.mu held.
func (e *Engine) recover() (logicalBoot bool, err error) {
	if err := os.MkdirAll(e.chkDir, 0o755); err != nil {
		return false, fmt.Errorf("snapshot: mkdir %s: %w", e.chkDir, err)
	}
	if err := os.MkdirAll(e.bhkDir, 0o755); err != nil {
		return false, fmt.Errorf("snapshot: mkdir %s: %w", e.bhkDir, err)
	}

	pageBytes := e.l.PageBytes()

	north, err := OpenImage(filepath.Join(e.chkDir, northFile), pageBytes)
	if err != nil {
		return false, err
	}
	south, err := OpenImage(filepath.Join(e.chkDir, southFile), pageBytes)
	if err != nil {
		_ = north.Close()
		return false, err
	}
	e.north, e.south = north, south

	patch, err := openPendingPatch(e.chkDir, pageBytes)
	if err != nil {
		return false, err
	}
	if patch != nil {
		if err := applyPatch(patch, e.north, e.south, e.l.PageCount(), pageBytes); err != nil {
			e.fatalf("recovery: apply pending patch: %v", err)
			return false, err
		}
		if err := e.north.Sync(); err != nil {
			e.fatalf("recovery: sync north image: %v", err)
			return false, err
		}
		if err := e.south.Sync(); err != nil {
			e.fatalf("recovery: sync south image: %v", err)
			return false, err
		}
		if err := patch.unlink(); err != nil {
			e.fatalf("recovery: unlink patch: %v", err)
			return false, err
		}
	}

	// Conservative default: every page starts dirty until the blit below
	// clears the ones backed by on-disk content (spec.md §4.6, step 5).
	e.l.Foul()

	if err := blitImages(e.l, e.north, e.south, true, e.noteClean); err != nil {
		return false, err
	}

	northPages, err := e.north.PageCount()
	if err != nil {
		return false, err
	}
	southPages, err := e.south.PageCount()
	if err != nil {
		return false, err
	}

	return northPages == 0 && southPages == 0, nil
}
