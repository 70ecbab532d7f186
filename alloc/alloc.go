// Package alloc manages the two on-disk bitmaps of a volume: the storage
// map, which tracks every block, and the inode map, which tracks inode
// numbers.
package alloc

import (
	"fmt"
	"sync"

	"github.com/mit-pdos/go-myfs/bitvec"
	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/disk"
	"github.com/mit-pdos/go-myfs/jrnl"
	"github.com/mit-pdos/go-myfs/util"
)

// Policy says how hard Allocate works to satisfy a request that has no
// single free run of the requested length.
type Policy int

const (
	// Exact grants the full request in one run or fails.
	Exact Policy = iota
	// Loose settles for the largest run seen if it is at least a
	// sixteenth of the request.
	Loose
	// TryHard halves the request each round, with one extra attempt per
	// round at the largest run seen.
	TryHard
)

func (p Policy) String() string {
	switch p {
	case Exact:
		return "exact"
	case Loose:
		return "loose"
	case TryHard:
		return "try-hard"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// StorageMap is the block bitmap. Bit i is set when block i is in use.
//
// One lock covers the bitmap, its on-disk copy, and the used-block count:
// each Allocate or Free searches, mutates, and writes back while holding it.
type StorageMap struct {
	lock  *sync.Mutex
	bv    *bitvec.BitVector
	store *bitmapStore
	used  int64
	dirty bool // changed since creation or the last MarkClean
}

func mkStorageMap(d disk.Disk, j *jrnl.Journal) *StorageMap {
	nbm := common.NumBitmapBlocks(d.Size(), d.BlockSize())
	return &StorageMap{
		lock: new(sync.Mutex),
		store: &bitmapStore{
			d:       d,
			j:       j,
			start:   common.BITMAPSTART,
			nblocks: nbm,
		},
	}
}

// CreateStorageMap formats an empty block bitmap covering all of d, with the
// superblock and the bitmap's own blocks marked in use. j may be nil.
func CreateStorageMap(d disk.Disk, j *jrnl.Journal) (*StorageMap, error) {
	sm := mkStorageMap(d, j)
	reserved := 1 + sm.store.nblocks
	if reserved > d.Size() {
		return nil, fmt.Errorf("%d blocks cannot hold a %d-block bitmap: %w",
			d.Size(), sm.store.nblocks, common.ErrNoSpace)
	}
	sm.bv = bitvec.New(d.Size())
	start, _, ok := sm.bv.FindFreeRange(reserved)
	if !ok || start != common.SUPERBLK {
		return nil, fmt.Errorf("reserve superblock and bitmap: %w", common.ErrNoSpace)
	}
	if err := sm.store.writeAll(sm.bv); err != nil {
		return nil, err
	}
	sm.used = reserved
	util.DPrintf(1, "storage map: created %d blocks, %d bitmap blocks\n",
		d.Size(), sm.store.nblocks)
	return sm, nil
}

// LoadStorageMap reads the block bitmap of a formatted volume. used is the
// used-block count recorded in the superblock; it is checked against the
// bitmap and corrected if they disagree. A readOnly map is repaired in
// memory only.
func LoadStorageMap(d disk.Disk, j *jrnl.Journal, used int64, readOnly bool) (*StorageMap, error) {
	sm := mkStorageMap(d, j)
	bv, err := sm.store.load(d.Size())
	if err != nil {
		return nil, fmt.Errorf("load block bitmap: %w", err)
	}
	sm.bv = bv
	sm.used = used
	if !bv.Test(int64(common.SUPERBLK)) {
		util.DPrintf(0, "storage map: superblock is not allocated, patching up\n")
		bv.Set(int64(common.SUPERBLK))
		if !readOnly {
			if err := sm.store.writeSpan(bv, 0, 0); err != nil {
				return nil, err
			}
		}
	}
	sm.VerifyConsistency()
	return sm, nil
}

// Close releases the in-memory bitmap. Later calls fail with ErrNotMounted.
func (sm *StorageMap) Close() {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	sm.bv = nil
}

// search runs the policy's sequence of bitmap searches. It returns the
// start and length of the run it marked.
func (sm *StorageMap) search(n int64, policy Policy) (int64, int64, bool) {
	bv := sm.bv
	maxFree := int64(1)
	for nblocks := n; nblocks >= 1; nblocks /= 2 {
		start, biggest, ok := bv.FindFreeRange(nblocks)
		if ok {
			return start, nblocks, true
		}
		if biggest > maxFree {
			maxFree = biggest
		}

		if policy == Loose && biggest > 0 && biggest >= nblocks>>4 {
			nblocks = biggest
			if start, _, ok := bv.FindFreeRange(nblocks); ok {
				return start, nblocks, true
			}
		}

		if policy == Exact {
			break
		}

		if policy == TryHard && maxFree > 1 {
			if maxFree < nblocks {
				nblocks = maxFree
			}
			if start, _, ok := bv.FindFreeRange(nblocks); ok {
				return start, nblocks, true
			}
		}

		if policy == Loose && nblocks > maxFree*2 {
			// doubled because the loop halves it next
			nblocks = maxFree * 2
		}
		maxFree = 1
	}
	return 0, 0, false
}

// Allocate marks a run of free blocks in use and returns its start and
// length. Under Exact the length is always n; the other policies may grant
// less.
func (sm *StorageMap) Allocate(n int64, policy Policy) (start int64, granted int64, err error) {
	if n <= 0 {
		return 0, 0, fmt.Errorf("allocate %d blocks: %w", n, common.ErrInvalid)
	}
	sm.lock.Lock()
	defer sm.lock.Unlock()
	if sm.bv == nil {
		return 0, 0, common.ErrNotMounted
	}

	if n > sm.bv.Len()-sm.used {
		return 0, 0, fmt.Errorf("allocate %d blocks with %d free: %w",
			n, sm.bv.Len()-sm.used, common.ErrNoSpace)
	}

	start, granted, ok := sm.search(n, policy)
	if !ok {
		return 0, 0, fmt.Errorf("allocate %d blocks (%v): %w", n, policy, common.ErrNoSpace)
	}
	sm.used += granted
	sm.dirty = true
	util.DPrintf(5, "Allocate %d (%v) -> [%d, %d)\n", n, policy, start, start+granted)

	if err := sm.store.writeSpan(sm.bv, start, start+granted-1); err != nil {
		return 0, 0, err
	}
	return start, granted, nil
}

// SetHint makes the next search start at block a.
func (sm *StorageMap) SetHint(a common.Bnum) {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	if sm.bv != nil {
		sm.bv.SetHint(a)
	}
}

// Free returns blocks [start, start+n) to the free pool. It does not check
// that they were in use.
func (sm *StorageMap) Free(start int64, n int64) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	if sm.bv == nil {
		return common.ErrNotMounted
	}
	if n <= 0 || !sm.bv.ClearRange(start, n) {
		return fmt.Errorf("free [%d, %d): %w", start, start+n, common.ErrInvalid)
	}
	sm.used -= n
	sm.dirty = true
	util.DPrintf(5, "Free [%d, %d)\n", start, start+n)
	return sm.store.writeSpan(sm.bv, start, start+n-1)
}

// Check reports whether every block in [start, start+n) is in use
// (expectSet) or free (!expectSet).
func (sm *StorageMap) Check(start int64, n int64, expectSet bool) bool {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	if sm.bv == nil {
		return false
	}
	return sm.bv.TestRange(start, n, expectSet)
}

// VerifyConsistency recounts the bitmap and overwrites the used-block count
// if it is wrong. It reports whether the count was already right.
func (sm *StorageMap) VerifyConsistency() bool {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	if sm.bv == nil {
		return false
	}
	actual := sm.bv.Count()
	if actual != sm.used {
		util.DPrintf(0, "storage map: used blocks is %d but bitmap has %d\n",
			sm.used, actual)
		sm.used = actual
		return false
	}
	return true
}

func (sm *StorageMap) NumBlocks() int64 {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	if sm.bv == nil {
		return 0
	}
	return sm.bv.Len()
}

func (sm *StorageMap) UsedBlocks() int64 {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return sm.used
}

func (sm *StorageMap) FreeBlocks() int64 {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	if sm.bv == nil {
		return 0
	}
	return sm.bv.Len() - sm.used
}

// NumBitmapBlocks is the size of the bitmap on disk.
func (sm *StorageMap) NumBitmapBlocks() int64 {
	return sm.store.nblocks
}

func (sm *StorageMap) Dirty() bool {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return sm.dirty
}

func (sm *StorageMap) MarkClean() {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	sm.dirty = false
}
