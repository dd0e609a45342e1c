package snapshot

import (
	"fmt"
	"os"
)

// Image is one of the two append-growable segment files mirroring a half
// of the loom (spec.md §3, "Image segment"). Page-indexed reads/writes are
// grounded on the teacher's internal/storage/sm.go and
// internal/storage/pager.go (ReadAt/WriteAt by page offset), with the
// zero-fill-on-short-read behavior dropped: per spec.md §3 an image file's
// size is always exactly pageBytes*pageCount, so a short read here means
// on-disk corruption, not a sparse/uninitialized page.
type Image struct {
	file      *os.File
	path      string
	pageBytes uint32
}

// OpenImage opens or creates the image file at path. A freshly created
// file is empty (zero pages); an existing file whose size is not an exact
// multiple of pageBytes is a startup/configuration error (spec.md §7,
// kind 1).
func OpenImage(path string, pageBytes uint32) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open image %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("snapshot: stat image %s: %w", path, err)
	}
	if info.Size()%int64(pageBytes) != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("snapshot: %w: %s size %d is not a multiple of page size %d",
			ErrImageCorrupt, path, info.Size(), pageBytes)
	}

	return &Image{file: f, path: path, pageBytes: pageBytes}, nil
}

// PageCount returns n, the number of page-sized blocks currently stored.
func (im *Image) PageCount() (uint32, error) {
	info, err := im.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("snapshot: stat image %s: %w", im.path, err)
	}
	return uint32(info.Size() / int64(im.pageBytes)), nil
}

// ReadPage reads block k (0-indexed) into dst, which must be exactly
// pageBytes long.
func (im *Image) ReadPage(k uint32, dst []byte) error {
	if uint32(len(dst)) != im.pageBytes {
		return fmt.Errorf("snapshot: read buffer must be %d bytes", im.pageBytes)
	}
	off := int64(k) * int64(im.pageBytes)
	n, err := im.file.ReadAt(dst, off)
	if err != nil {
		return fmt.Errorf("snapshot: read image %s block %d: %w", im.path, k, err)
	}
	if uint32(n) != im.pageBytes {
		return fmt.Errorf("snapshot: %w: short read of image %s block %d", ErrImageCorrupt, im.path, k)
	}
	return nil
}

// WritePage writes block k (0-indexed) from src, which must be exactly
// pageBytes long. Writing past the current end of file implicitly grows
// the image (spec.md §4.5, "grow happens implicitly via write past end").
func (im *Image) WritePage(k uint32, src []byte) error {
	if uint32(len(src)) != im.pageBytes {
		return fmt.Errorf("snapshot: write buffer must be %d bytes", im.pageBytes)
	}
	off := int64(k) * int64(im.pageBytes)
	n, err := im.file.WriteAt(src, off)
	if err != nil {
		return fmt.Errorf("snapshot: write image %s block %d: %w", im.path, k, err)
	}
	if uint32(n) != im.pageBytes {
		return fmt.Errorf("snapshot: short write to image %s block %d", im.path, k)
	}
	return nil
}

// Truncate sets the image to exactly pages page-sized blocks. A count
// below the current size shrinks the file; a count above it extends the
// file with zero-filled blocks (applyPatch relies on this when a patch's
// watermarks exceed the image's current size).
func (im *Image) Truncate(pages uint32) error {
	if err := im.file.Truncate(int64(pages) * int64(im.pageBytes)); err != nil {
		return fmt.Errorf("snapshot: truncate image %s to %d pages: %w", im.path, pages, err)
	}
	return nil
}

// Sync fsyncs the image file.
func (im *Image) Sync() error {
	if err := im.file.Sync(); err != nil {
		return fmt.Errorf("snapshot: fsync image %s: %w", im.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (im *Image) Close() error {
	return im.file.Close()
}
