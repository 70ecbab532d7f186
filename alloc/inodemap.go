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

// InodeMap allocates inode numbers from a bitmap with its own lock. Inode 0
// is never handed out, so that 0 can mean "no inode".
type InodeMap struct {
	lock  *sync.Mutex
	bv    *bitvec.BitVector
	store *bitmapStore
}

func mkInodeMap(d disk.Disk, j *jrnl.Journal, start common.Bnum, numInodes int64) *InodeMap {
	return &InodeMap{
		lock: new(sync.Mutex),
		store: &bitmapStore{
			d:       d,
			j:       j,
			start:   start,
			nblocks: common.NumBitmapBlocks(numInodes, d.BlockSize()),
		},
	}
}

// CreateInodeMap formats an inode bitmap for numInodes inodes at block start.
func CreateInodeMap(d disk.Disk, j *jrnl.Journal, start common.Bnum, numInodes int64) (*InodeMap, error) {
	if numInodes < 2 {
		return nil, fmt.Errorf("inode map of %d inodes: %w", numInodes, common.ErrInvalid)
	}
	imap := mkInodeMap(d, j, start, numInodes)
	imap.bv = bitvec.New(numInodes)
	imap.bv.Set(int64(common.NULLINUM))
	if err := imap.store.writeAll(imap.bv); err != nil {
		return nil, err
	}
	return imap, nil
}

// LoadInodeMap reads the inode bitmap at block start. A readOnly map is
// repaired in memory only.
func LoadInodeMap(d disk.Disk, j *jrnl.Journal, start common.Bnum, numInodes int64, readOnly bool) (*InodeMap, error) {
	imap := mkInodeMap(d, j, start, numInodes)
	bv, err := imap.store.load(numInodes)
	if err != nil {
		return nil, fmt.Errorf("load inode bitmap: %w", err)
	}
	imap.bv = bv
	if !bv.Test(int64(common.NULLINUM)) {
		util.DPrintf(0, "inode map: inode 0 is not reserved, patching up\n")
		bv.Set(int64(common.NULLINUM))
		if !readOnly {
			if err := imap.store.writeSpan(bv, 0, 0); err != nil {
				return nil, err
			}
		}
	}
	return imap, nil
}

func (imap *InodeMap) Close() {
	imap.lock.Lock()
	defer imap.lock.Unlock()
	imap.bv = nil
}

// AllocNum marks a free inode number in use and returns it.
func (imap *InodeMap) AllocNum() (common.Inum, error) {
	imap.lock.Lock()
	defer imap.lock.Unlock()
	if imap.bv == nil {
		return common.NULLINUM, common.ErrNotMounted
	}
	n, _, ok := imap.bv.FindFreeRange(1)
	if !ok {
		return common.NULLINUM, common.ErrNoInodes
	}
	if err := imap.store.writeSpan(imap.bv, n, n); err != nil {
		return common.NULLINUM, err
	}
	util.DPrintf(5, "AllocNum -> %d\n", n)
	return common.Inum(n), nil
}

func (imap *InodeMap) FreeNum(inum common.Inum) error {
	imap.lock.Lock()
	defer imap.lock.Unlock()
	if imap.bv == nil {
		return common.ErrNotMounted
	}
	n := int64(inum)
	if inum == common.NULLINUM || !imap.bv.Clear(n) {
		return fmt.Errorf("free inode %d: %w", inum, common.ErrInvalid)
	}
	return imap.store.writeSpan(imap.bv, n, n)
}

func (imap *InodeMap) IsAllocated(inum common.Inum) bool {
	imap.lock.Lock()
	defer imap.lock.Unlock()
	if imap.bv == nil {
		return false
	}
	return inum != common.NULLINUM && imap.bv.Test(int64(inum))
}

func (imap *InodeMap) NumInodes() int64 {
	imap.lock.Lock()
	defer imap.lock.Unlock()
	if imap.bv == nil {
		return 0
	}
	return imap.bv.Len()
}

// NumFree counts the inode numbers still available.
func (imap *InodeMap) NumFree() int64 {
	imap.lock.Lock()
	defer imap.lock.Unlock()
	if imap.bv == nil {
		return 0
	}
	return imap.bv.Len() - imap.bv.Count()
}

// Apply calls f on every allocated inode number, in order.
func (imap *InodeMap) Apply(f func(common.Inum)) {
	imap.lock.Lock()
	var inums []common.Inum
	if imap.bv != nil {
		for i := int64(1); i < imap.bv.Len(); i++ {
			if imap.bv.Test(i) {
				inums = append(inums, common.Inum(i))
			}
		}
	}
	imap.lock.Unlock()
	for _, inum := range inums {
		f(inum)
	}
}
