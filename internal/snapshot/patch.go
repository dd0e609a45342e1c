package snapshot

import (
	"fmt"
	"os"

	"github.com/midlyx-hatrys/loom/internal/alias/bx"
	"github.com/midlyx-hatrys/loom/internal/alias/util"
	"github.com/midlyx-hatrys/loom/internal/mug"
)

const (
	controlFile = "control.bin"
	memoryFile  = "memory.bin"

	patchVersion uint8 = 1

	// header layout: version(1) + pad(3) + nor_pages(4) + sou_pages(4) + dirty_count(4)
	ctlHeaderSize = 1 + 3 + 4 + 4 + 4
	// entry layout: page_index(4) + checksum(4)
	ctlEntrySize = 4 + 4
)

// PatchEntry is one control-file record: the loom page index the memory
// block at the matching offset belongs to, and its content checksum
// (spec.md §6).
type PatchEntry struct {
	PageIndex uint32
	Checksum  uint32
}

// PatchHeader is the fixed control-file header (spec.md §6).
type PatchHeader struct {
	Version    uint8
	NorPages   uint32
	SouPages   uint32
	DirtyCount uint32
}

// Patch is a pending write-ahead set of changed pages, backed by the pair
// of files control.bin/memory.bin in the checkpoint directory (spec.md
// §3, "Patch"). Its wire encoding is grounded on the teacher's
// internal/wal/manager.go fixed-field record layout, with the
// LSN/magic/crc32 framing of a single append-only log replaced by the
// header+entries shape spec.md §6 specifies, and crc32 replaced by mug
// per spec.md §6.
type Patch struct {
	dir     string
	ctl     *os.File
	mem     *os.File
	Header  PatchHeader
	Entries []PatchEntry
}

// controlPath and memoryPath return the two file paths for a checkpoint
// directory.
func controlPath(dir string) string { return dir + string(os.PathSeparator) + controlFile }
func memoryPath(dir string) string  { return dir + string(os.PathSeparator) + memoryFile }

// createPatch creates control.bin and memory.bin with exclusive-create
// semantics (spec.md §4.4, step 2): it is fatal for either to already
// exist, since a leftover patch means recovery was supposed to have
// consumed it before any new work began.
func createPatch(dir string, dirtyCount uint32) (*Patch, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: mkdir checkpoint dir %s: %w", dir, err)
	}

	ctl, err := os.OpenFile(controlPath(dir), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create %s: %w", controlPath(dir), err)
	}
	mem, err := os.OpenFile(memoryPath(dir), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		_ = ctl.Close()
		_ = os.Remove(controlPath(dir))
		return nil, fmt.Errorf("snapshot: create %s: %w", memoryPath(dir), err)
	}

	return &Patch{
		dir:     dir,
		ctl:     ctl,
		mem:     mem,
		Entries: make([]PatchEntry, 0, dirtyCount),
	}, nil
}

// appendPage writes one page-sized block to the next slot in memory.bin
// and records its control entry.
func (p *Patch) appendPage(pageIndex uint32, data []byte) error {
	off := int64(len(p.Entries)) * int64(len(data))
	n, err := p.mem.WriteAt(data, off)
	if err != nil {
		return fmt.Errorf("snapshot: write patch memory block: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("snapshot: short write to patch memory block")
	}
	p.Entries = append(p.Entries, PatchEntry{PageIndex: pageIndex, Checksum: mug.Of(data)})
	return nil
}

// writeHeader serializes the header and every entry to control.bin.
func (p *Patch) writeHeader(norPages, souPages uint32) error {
	p.Header = PatchHeader{
		Version:    patchVersion,
		NorPages:   norPages,
		SouPages:   souPages,
		DirtyCount: uint32(len(p.Entries)),
	}

	buf := make([]byte, ctlHeaderSize+len(p.Entries)*ctlEntrySize)
	buf[0] = p.Header.Version
	bx.PutU32(buf[4:8], p.Header.NorPages)
	bx.PutU32(buf[8:12], p.Header.SouPages)
	bx.PutU32(buf[12:16], p.Header.DirtyCount)

	off := ctlHeaderSize
	for _, e := range p.Entries {
		bx.PutU32(buf[off:off+4], e.PageIndex)
		bx.PutU32(buf[off+4:off+8], e.Checksum)
		off += ctlEntrySize
	}

	if _, err := p.ctl.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("snapshot: write patch control: %w", err)
	}
	return nil
}

// sync fsyncs both patch files; any failure is fatal per spec.md §5/§7.
func (p *Patch) sync() error {
	if err := p.ctl.Sync(); err != nil {
		return fmt.Errorf("snapshot: fsync %s: %w", controlPath(p.dir), err)
	}
	if err := p.mem.Sync(); err != nil {
		return fmt.Errorf("snapshot: fsync %s: %w", memoryPath(p.dir), err)
	}
	return nil
}

// verify re-reads each memory block and recomputes its checksum against
// the matching control entry (spec.md §4.5).
func (p *Patch) verify(pageBytes uint32) error {
	buf := make([]byte, pageBytes)
	for i, e := range p.Entries {
		off := int64(i) * int64(pageBytes)
		n, err := p.mem.ReadAt(buf, off)
		if err != nil || uint32(n) != pageBytes {
			return fmt.Errorf("snapshot: %w: short read verifying patch block %d", ErrPatchIncomplete, i)
		}
		if mug.Of(buf) != e.Checksum {
			return fmt.Errorf("snapshot: %w: checksum mismatch on patch block %d (page %d)", ErrPatchIncomplete, i, e.PageIndex)
		}
	}
	return nil
}

// close closes both patch file handles without removing them.
func (p *Patch) close() {
	if p.ctl != nil {
		util.CloseFileFunc(p.ctl)
	}
	if p.mem != nil {
		util.CloseFileFunc(p.mem)
	}
}

// unlink closes and deletes both patch files.
func (p *Patch) unlink() error {
	p.close()
	if err := os.Remove(controlPath(p.dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot: remove %s: %w", controlPath(p.dir), err)
	}
	if err := os.Remove(memoryPath(p.dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot: remove %s: %w", memoryPath(p.dir), err)
	}
	return nil
}

// openPendingPatch implements the startup patch-discovery logic from
// spec.md §4.6, step 3. It returns (nil, nil) whenever no patch should be
// applied, having already deleted any unusable patch files it found.
func openPendingPatch(dir string, pageBytes uint32) (*Patch, error) {
	ctlPath := controlPath(dir)
	memPath := memoryPath(dir)

	ctlInfo, err := os.Stat(ctlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: stat %s: %w", ctlPath, err)
	}

	if _, err := os.Stat(memPath); err != nil {
		if os.IsNotExist(err) {
			_ = os.Remove(ctlPath)
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: stat %s: %w", memPath, err)
	}

	ctl, err := os.OpenFile(ctlPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", ctlPath, err)
	}
	mem, err := os.OpenFile(memPath, os.O_RDWR, 0o644)
	if err != nil {
		_ = ctl.Close()
		return nil, fmt.Errorf("snapshot: open %s: %w", memPath, err)
	}

	p := &Patch{dir: dir, ctl: ctl, mem: mem}

	hdr := make([]byte, ctlHeaderSize)
	if n, err := p.ctl.ReadAt(hdr, 0); err != nil || n != ctlHeaderSize {
		p.close()
		return discardPatch(dir)
	}

	p.Header = PatchHeader{
		Version:    hdr[0],
		NorPages:   bx.U32(hdr[4:8]),
		SouPages:   bx.U32(hdr[8:12]),
		DirtyCount: bx.U32(hdr[12:16]),
	}

	if p.Header.Version != patchVersion {
		p.close()
		return discardPatch(dir)
	}

	wantCtlSize := int64(ctlHeaderSize) + int64(p.Header.DirtyCount)*int64(ctlEntrySize)
	if ctlInfo.Size() != wantCtlSize {
		p.close()
		return discardPatch(dir)
	}

	entriesBuf := make([]byte, p.Header.DirtyCount*ctlEntrySize)
	if n, err := p.ctl.ReadAt(entriesBuf, ctlHeaderSize); err != nil || uint32(n) != uint32(len(entriesBuf)) {
		p.close()
		return discardPatch(dir)
	}

	p.Entries = make([]PatchEntry, p.Header.DirtyCount)
	off := 0
	for i := range p.Entries {
		p.Entries[i] = PatchEntry{
			PageIndex: bx.U32(entriesBuf[off : off+4]),
			Checksum:  bx.U32(entriesBuf[off+4 : off+8]),
		}
		off += ctlEntrySize
	}

	memInfo, err := p.mem.Stat()
	if err != nil {
		p.close()
		return nil, fmt.Errorf("snapshot: stat %s: %w", memPath, err)
	}
	if memInfo.Size() != int64(p.Header.DirtyCount)*int64(pageBytes) {
		p.close()
		return discardPatch(dir)
	}

	if err := p.verify(pageBytes); err != nil {
		p.close()
		return discardPatch(dir)
	}

	return p, nil
}

// discardPatch deletes both patch files and reports "no pending patch",
// the recoverable-patch-problem path from spec.md §7, kind 2.
func discardPatch(dir string) (*Patch, error) {
	_ = os.Remove(controlPath(dir))
	_ = os.Remove(memoryPath(dir))
	return nil, nil
}
