package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
)

// copyTo implements spec.md §4.7's copy(dir): it creates fresh north/south
// image files in dir and copies the current snapshot into them
// page-by-page, fsyncing before returning. On any failure it unlinks
// whichever of the two files it had already created — the one operation
// in this engine that cleanly rolls back rather than asserting fatally
// (spec.md §7).
func (e *Engine) copyTo(dir string) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}

	northPath := filepath.Join(dir, northFile)
	southPath := filepath.Join(dir, southFile)

	var createdNorth, createdSouth bool
	defer func() {
		if err == nil {
			return
		}
		if createdNorth {
			_ = os.Remove(northPath)
		}
		if createdSouth {
			_ = os.Remove(southPath)
		}
	}()

	dstNorth, cerr := os.Create(northPath)
	if cerr != nil {
		return fmt.Errorf("snapshot: create %s: %w", northPath, cerr)
	}
	createdNorth = true
	defer func() { _ = dstNorth.Close() }()

	if err = copyImagePages(e.north, dstNorth, e.l.PageBytes()); err != nil {
		return err
	}
	if err = dstNorth.Sync(); err != nil {
		return fmt.Errorf("snapshot: fsync %s: %w", northPath, err)
	}

	dstSouth, cerr := os.Create(southPath)
	if cerr != nil {
		err = fmt.Errorf("snapshot: create %s: %w", southPath, cerr)
		return err
	}
	createdSouth = true
	defer func() { _ = dstSouth.Close() }()

	if err = copyImagePages(e.south, dstSouth, e.l.PageBytes()); err != nil {
		return err
	}
	if err = dstSouth.Sync(); err != nil {
		return fmt.Errorf("snapshot: fsync %s: %w", southPath, err)
	}

	return nil
}

// copyImagePages streams every page of src into dst at the same offsets.
func copyImagePages(src *Image, dst *os.File, pageBytes uint32) error {
	count, err := src.PageCount()
	if err != nil {
		return err
	}

	buf := make([]byte, pageBytes)
	for k := uint32(0); k < count; k++ {
		if err := src.ReadPage(k, buf); err != nil {
			return err
		}
		off := int64(k) * int64(pageBytes)
		n, err := dst.WriteAt(buf, off)
		if err != nil {
			return fmt.Errorf("snapshot: write copy page %d: %w", k, err)
		}
		if uint32(n) != pageBytes {
			return fmt.Errorf("snapshot: short write copying page %d", k)
		}
	}
	return nil
}
