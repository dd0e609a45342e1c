package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/midlyx-hatrys/loom/internal/loom"
	"github.com/midlyx-hatrys/loom/internal/loomcfg"
)

const testPageBytes = 16384
const testPageWords = testPageBytes / 4
const testPageCount = 16

func newTestConfig(t *testing.T) *loomcfg.LoomConfig {
	t.Helper()
	cfg := &loomcfg.LoomConfig{}
	cfg.Loom.PageWords = testPageWords
	cfg.Loom.WordCount = testPageWords * testPageCount
	cfg.Snapshot.Root = t.TempDir()
	return cfg
}

func newTestEngine(t *testing.T, road *loom.StaticRoad) *Engine {
	t.Helper()
	cfg := newTestConfig(t)
	e, err := New(cfg, road, nil, panicBailer{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

type panicBailer struct{}

func (panicBailer) Bail(reason string) { panic("bail: " + reason) }

func TestLiveFreshDirIsLogicalBoot(t *testing.T) {
	road := &loom.StaticRoad{}
	e := newTestEngine(t, road)

	logicalBoot, err := e.Live()
	require.NoError(t, err)
	require.True(t, logicalBoot)

	n, err := e.north.PageCount()
	require.NoError(t, err)
	require.Zero(t, n)

	s, err := e.south.PageCount()
	require.NoError(t, err)
	require.Zero(t, s)
}

func TestSaveSinglePageDirty(t *testing.T) {
	road := &loom.StaticRoad{North_: 100, South_: 0}
	e := newTestEngine(t, road)

	_, err := e.Live()
	require.NoError(t, err)

	copy(e.Loom().Page(0), []byte("hello from page zero"))

	require.NoError(t, e.Save())

	n, err := e.north.PageCount()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	s, err := e.south.PageCount()
	require.NoError(t, err)
	require.Zero(t, s)

	buf := make([]byte, testPageBytes)
	require.NoError(t, e.north.ReadPage(0, buf))
	require.Equal(t, e.Loom().Page(0), buf)

	require.False(t, e.Loom().Dirty().IsSet(0))
}

func TestSaveIsNoOpOutsideWatermarks(t *testing.T) {
	// North watermark covers no pages at all; page 0 is dirty (from the
	// conservative foul()) but outside the live extent, so save must not
	// produce a patch for it.
	road := &loom.StaticRoad{North_: 0, South_: 0}
	e := newTestEngine(t, road)

	_, err := e.Live()
	require.NoError(t, err)

	require.NoError(t, e.Save())

	n, err := e.north.PageCount()
	require.NoError(t, err)
	require.Zero(t, n)
	// Page 0 is still dirty: nothing folded it into a patch.
	require.True(t, e.Loom().Dirty().IsSet(0))
}

func TestDryRunRefusesSave(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Snapshot.DryRun = true
	road := &loom.StaticRoad{}
	e, err := New(cfg, road, nil, panicBailer{})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Live()
	require.NoError(t, err)

	err = e.Save()
	require.ErrorIs(t, err, ErrDryRun)
}

func TestRecoveryAppliesPendingPatch(t *testing.T) {
	road := &loom.StaticRoad{North_: 100, South_: 0}
	e := newTestEngine(t, road)

	_, err := e.Live()
	require.NoError(t, err)
	copy(e.Loom().Page(0), []byte("patch me"))

	norPages, souPages := watermarkPages(e.l, e.road)
	patch, err := composePatch(e.l, e.chkDir, norPages, souPages, e.noteClean)
	require.NoError(t, err)
	require.NotNil(t, patch)
	require.NoError(t, patch.sync())
	// Simulate a crash here: the patch is fully synced but never applied
	// or unlinked.
	patch.close()

	// A fresh engine over the same directory should find and apply it.
	e2, err := New(newRootConfig(road, e.root), road, nil, panicBailer{})
	require.NoError(t, err)
	defer e2.Close()

	_, err = e2.Live()
	require.NoError(t, err)

	n, err := e2.north.PageCount()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.NoFileExists(t, filepath.Join(e.chkDir, controlFile))
	require.NoFileExists(t, filepath.Join(e.chkDir, memoryFile))
}

func TestRecoveryDiscardsPatchWithMissingMemoryFile(t *testing.T) {
	road := &loom.StaticRoad{North_: 100, South_: 0}
	e := newTestEngine(t, road)
	_, err := e.Live()
	require.NoError(t, err)
	copy(e.Loom().Page(0), []byte("x"))

	norPages, souPages := watermarkPages(e.l, e.road)
	patch, err := composePatch(e.l, e.chkDir, norPages, souPages, e.noteClean)
	require.NoError(t, err)
	require.NoError(t, patch.sync())
	patch.close()

	require.NoError(t, os.Remove(filepath.Join(e.chkDir, memoryFile)))

	e2, err := New(newRootConfig(road, e.root), road, nil, panicBailer{})
	require.NoError(t, err)
	defer e2.Close()

	_, err = e2.Live()
	require.NoError(t, err)

	require.NoFileExists(t, filepath.Join(e.chkDir, controlFile))
}

func TestRecoveryDiscardsCorruptChecksum(t *testing.T) {
	road := &loom.StaticRoad{North_: 100, South_: 0}
	e := newTestEngine(t, road)
	_, err := e.Live()
	require.NoError(t, err)
	copy(e.Loom().Page(0), []byte("corrupt-me"))

	norPages, souPages := watermarkPages(e.l, e.road)
	patch, err := composePatch(e.l, e.chkDir, norPages, souPages, e.noteClean)
	require.NoError(t, err)
	require.NoError(t, patch.sync())
	patch.close()

	// Flip a byte in memory.bin so the checksum no longer matches.
	memPath := filepath.Join(e.chkDir, memoryFile)
	data, err := os.ReadFile(memPath)
	require.NoError(t, err)
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(memPath, data, 0o644))

	e2, err := New(newRootConfig(road, e.root), road, nil, panicBailer{})
	require.NoError(t, err)
	defer e2.Close()

	logicalBoot, err := e2.Live()
	require.NoError(t, err)
	// The corrupt patch is discarded, not applied, so the image stays empty.
	require.True(t, logicalBoot)
	require.NoFileExists(t, filepath.Join(e.chkDir, controlFile))
}

func TestCopyRollsBackOnFailure(t *testing.T) {
	road := &loom.StaticRoad{North_: 100, South_: 100}
	e := newTestEngine(t, road)
	_, err := e.Live()
	require.NoError(t, err)

	copy(e.Loom().Page(0), []byte("north page"))
	copy(e.Loom().Page(e.l.PageCount()-1), []byte("south page"))
	require.NoError(t, e.Save())

	// Force the south leg of the copy to fail by closing its file handle
	// out from under it.
	require.NoError(t, e.south.Close())

	dst := filepath.Join(t.TempDir(), "backup")
	err = e.Copy(dst)
	require.Error(t, err)

	require.NoFileExists(t, filepath.Join(dst, northFile))
}

func TestLoadFromCopiedBackup(t *testing.T) {
	road := &loom.StaticRoad{North_: 100, South_: 100}
	src := newTestEngine(t, road)
	_, err := src.Live()
	require.NoError(t, err)

	copy(src.Loom().Page(0), []byte("north page content"))
	copy(src.Loom().Page(src.l.PageCount()-1), []byte("south page content"))
	require.NoError(t, src.Save())

	backupDir := filepath.Join(t.TempDir(), "backup")
	require.NoError(t, src.Copy(backupDir))

	// A second engine, over its own fresh (empty) directory, loads the
	// exported backup onto its own loom rather than going through Live's
	// recovery path.
	dst := newTestEngine(t, road)
	logicalBoot, err := dst.Live()
	require.NoError(t, err)
	require.True(t, logicalBoot)

	require.NoError(t, dst.Load(backupDir))

	northBuf := make([]byte, testPageBytes)
	copy(northBuf, []byte("north page content"))
	require.Equal(t, northBuf, dst.Loom().Page(0))

	southBuf := make([]byte, testPageBytes)
	copy(southBuf, []byte("south page content"))
	require.Equal(t, southBuf, dst.Loom().Page(dst.l.PageCount()-1))

	// Load fouls the whole bitmap and leaves every page read-write (protect
	// is false), so a direct write must succeed without faulting.
	require.Equal(t, int(dst.l.PageCount()), dst.Loom().Dirty().Count())
	dst.Loom().Page(1)[0] = 0x42
	require.Equal(t, byte(0x42), dst.Loom().Page(1)[0])
}

// newRootConfig builds a config pointing at an existing root directory,
// for simulating a second process opening the same snapshot.
func newRootConfig(road *loom.StaticRoad, root string) *loomcfg.LoomConfig {
	cfg := &loomcfg.LoomConfig{}
	cfg.Loom.PageWords = testPageWords
	cfg.Loom.WordCount = testPageWords * testPageCount
	cfg.Snapshot.Root = root
	return cfg
}
