package alloc

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/disk"
	"github.com/mit-pdos/go-myfs/jrnl"
)

// recordingDisk remembers which blocks were written and can be told to fail.
type recordingDisk struct {
	disk.Disk
	mu      sync.Mutex
	written map[common.Bnum]int
	fail    bool
}

func newRecordingDisk(n int64, bs int64) *recordingDisk {
	return &recordingDisk{Disk: disk.NewMemDisk(n, bs), written: make(map[common.Bnum]int)}
}

func (d *recordingDisk) Write(a common.Bnum, v disk.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("injected write failure")
	}
	d.written[a]++
	return d.Disk.Write(a, v)
}

func (d *recordingDisk) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = make(map[common.Bnum]int)
}

func (d *recordingDisk) blocks() []common.Bnum {
	d.mu.Lock()
	defer d.mu.Unlock()
	var blks []common.Bnum
	for a := range d.written {
		blks = append(blks, a)
	}
	return blks
}

func TestCreateSmallVolume(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(64, 512)
	sm, err := CreateStorageMap(d, nil)
	require.NoError(t, err)
	assert.Equal(int64(1), sm.NumBitmapBlocks())
	assert.Equal(int64(2), sm.UsedBlocks())
	assert.True(sm.Check(0, 2, true), "superblock and bitmap are in use")
	assert.True(sm.Check(2, 62, false))

	blk, err := d.Read(1)
	require.NoError(t, err)
	assert.Equal(byte(0x3), blk[0], "bits 0 and 1 on disk")
}

func TestCreateTooSmall(t *testing.T) {
	_, err := CreateStorageMap(disk.NewMemDisk(1, 512), nil)
	assert.ErrorIs(t, err, common.ErrNoSpace)
}

func TestAllocateArgs(t *testing.T) {
	assert := assert.New(t)
	sm, err := CreateStorageMap(disk.NewMemDisk(64, 512), nil)
	require.NoError(t, err)
	_, _, err = sm.Allocate(0, Exact)
	assert.ErrorIs(err, common.ErrInvalid)
	_, _, err = sm.Allocate(-4, Loose)
	assert.ErrorIs(err, common.ErrInvalid)
	assert.ErrorIs(sm.Free(-1, 3), common.ErrInvalid)
	assert.ErrorIs(sm.Free(60, 10), common.ErrInvalid)
	assert.Equal(int64(2), sm.UsedBlocks(), "rejected calls change nothing")
}

func TestExactBoundary(t *testing.T) {
	assert := assert.New(t)
	sm, err := CreateStorageMap(disk.NewMemDisk(64, 512), nil)
	require.NoError(t, err)
	free := sm.NumBlocks() - sm.UsedBlocks()

	_, _, err = sm.Allocate(free+1, Exact)
	assert.ErrorIs(err, common.ErrNoSpace)

	start, n, err := sm.Allocate(free, Exact)
	assert.NoError(err)
	assert.Equal(int64(2), start)
	assert.Equal(free, n)
	assert.Equal(int64(0), sm.FreeBlocks())

	_, _, err = sm.Allocate(1, TryHard)
	assert.ErrorIs(err, common.ErrNoSpace)
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	assert := assert.New(t)
	sm, err := CreateStorageMap(disk.NewMemDisk(1000, 512), nil)
	require.NoError(t, err)
	used := sm.UsedBlocks()

	start, n, err := sm.Allocate(100, Exact)
	require.NoError(t, err)
	assert.Equal(int64(100), n)
	assert.True(sm.Check(start, n, true))
	assert.Equal(used+100, sm.UsedBlocks())
	assert.True(sm.Dirty())

	start2, n2, err := sm.Allocate(100, Exact)
	require.NoError(t, err)
	assert.True(start+n <= start2 || start2+n2 <= start, "no double allocation")

	require.NoError(t, sm.Free(start, n))
	assert.True(sm.Check(start, n, false))
	require.NoError(t, sm.Free(start2, n2))
	assert.Equal(used, sm.UsedBlocks())
	assert.True(sm.VerifyConsistency())
}

// fragment leaves only runs of size run free, each followed by a used block.
func fragment(t *testing.T, sm *StorageMap, run int64, count int64) {
	_, _, err := sm.Allocate(sm.FreeBlocks(), Exact)
	require.NoError(t, err)
	for i := int64(0); i < count; i++ {
		require.NoError(t, sm.Free(100+i*(run+1), run))
	}
}

func TestLooseSettlesForRun(t *testing.T) {
	assert := assert.New(t)
	sm, err := CreateStorageMap(disk.NewMemDisk(4096, 512), nil)
	require.NoError(t, err)
	fragment(t, sm, 64, 60)

	_, _, err = sm.Allocate(1000, Exact)
	assert.ErrorIs(err, common.ErrNoSpace, "no run of 1000")

	start, n, err := sm.Allocate(1000, Loose)
	assert.NoError(err)
	assert.Equal(int64(64), n)
	assert.True(sm.Check(start, 64, true))
	assert.True(sm.VerifyConsistency())
}

func TestLooseShrinksRequest(t *testing.T) {
	assert := assert.New(t)
	sm, err := CreateStorageMap(disk.NewMemDisk(4096, 512), nil)
	require.NoError(t, err)
	// runs of 30 are under 1000/16, so Loose falls back to halving
	fragment(t, sm, 30, 60)

	_, n, err := sm.Allocate(1000, Loose)
	assert.NoError(err)
	assert.True(n > 0 && n <= 30, "granted %d", n)
}

func TestTryHard(t *testing.T) {
	assert := assert.New(t)
	sm, err := CreateStorageMap(disk.NewMemDisk(4096, 512), nil)
	require.NoError(t, err)
	fragment(t, sm, 10, 50)

	start, n, err := sm.Allocate(100, TryHard)
	assert.NoError(err)
	assert.Equal(int64(10), n)
	assert.True(sm.Check(start, n, true))

	used := sm.UsedBlocks()
	_, _, err = sm.Allocate(100, Exact)
	assert.ErrorIs(err, common.ErrNoSpace)
	assert.Equal(used, sm.UsedBlocks())
}

func TestWritesOnlySpanningBlocks(t *testing.T) {
	assert := assert.New(t)
	// 512-byte blocks hold 4096 bits; three bitmap blocks
	d := newRecordingDisk(3*4096, 512)
	sm, err := CreateStorageMap(d, nil)
	require.NoError(t, err)
	assert.Equal(int64(3), sm.NumBitmapBlocks())

	_, _, err = sm.Allocate(4090, Exact)
	require.NoError(t, err)

	d.reset()
	start, n, err := sm.Allocate(10, Exact)
	require.NoError(t, err)
	assert.Equal(int64(4094), start)
	assert.ElementsMatch([]common.Bnum{1, 2}, d.blocks(),
		"a run crossing a bitmap block boundary writes both blocks")

	d.reset()
	require.NoError(t, sm.Free(start+5, n-5))
	assert.ElementsMatch([]common.Bnum{2}, d.blocks())
}

func TestLoad(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(1000, 512)
	sm, err := CreateStorageMap(d, nil)
	require.NoError(t, err)
	start, n, err := sm.Allocate(37, Exact)
	require.NoError(t, err)
	used := sm.UsedBlocks()
	sm.Close()
	_, _, err = sm.Allocate(1, Exact)
	assert.ErrorIs(err, common.ErrNotMounted)

	sm, err = LoadStorageMap(d, nil, used, false)
	require.NoError(t, err)
	assert.True(sm.Check(start, n, true))
	assert.Equal(used, sm.UsedBlocks())
	assert.True(sm.VerifyConsistency())
}

func TestLoadHealsUsedCount(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(1000, 512)
	_, err := CreateStorageMap(d, nil)
	require.NoError(t, err)

	sm, err := LoadStorageMap(d, nil, 500, false)
	require.NoError(t, err)
	assert.Equal(int64(2), sm.UsedBlocks())
}

func TestLoadPatchesSuperblock(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(1000, 512)
	_, err := CreateStorageMap(d, nil)
	require.NoError(t, err)

	blk, _ := d.Read(1)
	blk[0] &^= 1
	require.NoError(t, d.Write(1, blk))

	sm, err := LoadStorageMap(d, nil, 2, false)
	require.NoError(t, err)
	assert.True(sm.Check(0, 1, true))
	blk, _ = d.Read(1)
	assert.Equal(byte(0x3), blk[0])
}

func TestLoadReadOnlyPatchesInMemory(t *testing.T) {
	assert := assert.New(t)
	d := newRecordingDisk(1000, 512)
	_, err := CreateStorageMap(d, nil)
	require.NoError(t, err)

	blk, _ := d.Read(1)
	blk[0] &^= 1
	require.NoError(t, d.Write(1, blk))
	d.reset()

	sm, err := LoadStorageMap(d, nil, 2, true)
	require.NoError(t, err)
	assert.True(sm.Check(0, 1, true))
	assert.Empty(d.blocks())
	blk, _ = d.Read(1)
	assert.Equal(byte(0x2), blk[0])
}

func TestWriteFailure(t *testing.T) {
	assert := assert.New(t)
	d := newRecordingDisk(1000, 512)
	sm, err := CreateStorageMap(d, nil)
	require.NoError(t, err)

	d.fail = true
	_, _, err = sm.Allocate(5, Exact)
	assert.ErrorIs(err, common.ErrIO)
	assert.False(common.IsFatal(err))
	// the in-memory bitmap keeps the allocation
	assert.True(sm.Check(2, 5, true))
}

func TestJournaledWrites(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(1000, 512)
	j := jrnl.MkJournal(d)
	sm, err := CreateStorageMap(d, j)
	require.NoError(t, err)
	start, _, err := sm.Allocate(3, Exact)
	require.NoError(t, err)
	require.NoError(t, sm.Free(start, 3))

	commits, _ := j.Stats()
	assert.Equal(int64(3), commits, "create, allocate and free each commit once")

	sm2, err := LoadStorageMap(d, nil, sm.UsedBlocks(), false)
	require.NoError(t, err)
	assert.True(sm2.Check(start, 3, false))
}

// tallDisk reports more blocks than it stores, so that a bitmap can be
// larger than the disk the test allocates.
type tallDisk struct {
	disk.Disk
	size int64
}

func (d tallDisk) Size() int64 {
	return d.size
}

func TestJournaledLargeBitmap(t *testing.T) {
	assert := assert.New(t)
	const nbm = jrnl.MaxOpBlocks + 9
	d := tallDisk{Disk: disk.NewMemDisk(nbm+1, 512), size: nbm * 512 * 8}
	j := jrnl.MkJournal(d)
	sm, err := CreateStorageMap(d, j)
	require.NoError(t, err)
	assert.Equal(int64(nbm), sm.NumBitmapBlocks())
	commits, blocks := j.Stats()
	assert.Equal(int64(2), commits, "the bitmap is committed in two operations")
	assert.Equal(int64(nbm), blocks)

	// a run spanning every bitmap block
	start, n, err := sm.Allocate(sm.FreeBlocks(), Exact)
	require.NoError(t, err)
	assert.Equal(int64(0), sm.FreeBlocks())
	require.NoError(t, sm.Free(start, n))
	commits, _ = j.Stats()
	assert.Equal(int64(6), commits)

	sm2, err := LoadStorageMap(d, nil, sm.UsedBlocks(), false)
	require.NoError(t, err)
	assert.True(sm2.VerifyConsistency())
	assert.Equal(int64(nbm+1), sm2.UsedBlocks())
}

func TestConcurrentAllocate(t *testing.T) {
	d := disk.NewMemDisk(4096, 512)
	sm, err := CreateStorageMap(d, nil)
	require.NoError(t, err)

	const nthread = 8
	const per = 40
	starts := make([][]int64, nthread)
	var wg sync.WaitGroup
	for i := 0; i < nthread; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for k := 0; k < per; k++ {
				s, _, err := sm.Allocate(5, Exact)
				assert.NoError(t, err)
				starts[i] = append(starts[i], s)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, ss := range starts {
		for _, s := range ss {
			for b := s; b < s+5; b++ {
				assert.False(t, seen[b], "block %d allocated twice", b)
				seen[b] = true
			}
		}
	}
	assert.Equal(t, int64(2+nthread*per*5), sm.UsedBlocks())
	assert.True(t, sm.VerifyConsistency())
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "loose", Loose.String())
	assert.Equal(t, "Policy(7)", Policy(7).String())
}
