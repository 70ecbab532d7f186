// Package fs ties the on-disk structures of a volume together: the
// superblock, the block and inode bitmaps, the inode table, and the data
// streams of files. Files are named by inode number.
package fs

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mit-pdos/go-myfs/alloc"
	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/config"
	"github.com/mit-pdos/go-myfs/disk"
	"github.com/mit-pdos/go-myfs/dstream"
	"github.com/mit-pdos/go-myfs/inode"
	"github.com/mit-pdos/go-myfs/jrnl"
	"github.com/mit-pdos/go-myfs/lockmap"
	"github.com/mit-pdos/go-myfs/super"
	"github.com/mit-pdos/go-myfs/util"
)

// Volume is a mounted file system.
//
// Lock order: an inode lock from locks, then itLock or sbLock, then the
// storage map or inode map lock. The two map locks are never held together.
type Volume struct {
	lock   *sync.RWMutex // write-held only by Unmount
	closed bool

	d        disk.Disk
	j        *jrnl.Journal
	readOnly bool
	failed   int32 // set once a consistency error has been seen

	sbLock *sync.Mutex
	sb     *super.Super

	smap   *alloc.StorageMap
	imap   *alloc.InodeMap
	itLock *sync.Mutex // inode table blocks are shared by several inodes
	locks  *lockmap.LockMap
	mapper *dstream.Mapper

	Now func() time.Time
}

func openDisk(d disk.Disk, cfg *config.Config) (disk.Disk, *jrnl.Journal, error) {
	if cfg.CacheBlocks > 0 {
		cd, err := disk.NewCachedDisk(d, cfg.CacheBlocks)
		if err != nil {
			return nil, nil, err
		}
		d = cd
	}
	var j *jrnl.Journal
	if cfg.Journal {
		j = jrnl.MkJournal(d)
	}
	return d, j, nil
}

// writeMeta writes one metadata block, through the journal if there is one.
func writeMeta(d disk.Disk, j *jrnl.Journal, blkno common.Bnum, data []byte) error {
	if j == nil {
		if err := d.Write(blkno, data); err != nil {
			return common.IOError("write", blkno, err)
		}
		return nil
	}
	op := j.Begin()
	op.OverWrite(blkno, data)
	return op.CommitWait()
}

// reserve allocates n contiguous zeroed blocks for a fixed metadata region.
func reserve(d disk.Disk, smap *alloc.StorageMap, n int64, what string) (common.Bnum, error) {
	start, granted, err := smap.Allocate(n, alloc.Loose)
	if err != nil {
		return 0, fmt.Errorf("reserve %d blocks for the %s: %w", n, what, err)
	}
	if granted < n {
		if err := smap.Free(start, granted); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("reserve %d blocks for the %s, largest run is %d: %w",
			n, what, granted, common.ErrNoSpace)
	}
	const chunk = 64
	zero := make([]byte, chunk*d.BlockSize())
	for done := int64(0); done < n; done += chunk {
		cnt := util.Min(chunk, n-done)
		if _, err := disk.WriteBlocks(d, start+done, zero, cnt); err != nil {
			return 0, err
		}
	}
	return start, nil
}

// Format writes an empty file system to d: superblock, block bitmap, inode
// bitmap, a zeroed inode table, and the root directory inode.
func Format(d disk.Disk, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	bs := d.BlockSize()
	if bs != cfg.BlockSize {
		return fmt.Errorf("format with %d-byte blocks on a disk of %d-byte blocks: %w",
			cfg.BlockSize, bs, common.ErrInvalid)
	}
	d, j, err := openDisk(d, cfg)
	if err != nil {
		return err
	}
	numBlocks := d.Size()
	numInodes := util.Max(numBlocks/cfg.InodeRatio, 2)
	sb := super.MkSuper(cfg.VolumeName, numBlocks, bs, numInodes)

	smap, err := alloc.CreateStorageMap(d, j)
	if err != nil {
		return err
	}
	defer smap.Close()
	sb.NumInodeMapBlocks = common.NumBitmapBlocks(numInodes, bs)
	if sb.InodeMapStart, err = reserve(d, smap, sb.NumInodeMapBlocks, "inode map"); err != nil {
		return err
	}
	sb.NumInodeBlocks = util.RoundUp(numInodes*common.INODESZ, bs)
	if sb.InodesStart, err = reserve(d, smap, sb.NumInodeBlocks, "inode table"); err != nil {
		return err
	}

	imap, err := alloc.CreateInodeMap(d, j, sb.InodeMapStart, numInodes)
	if err != nil {
		return err
	}
	defer imap.Close()
	root, err := imap.AllocNum()
	if err != nil {
		return err
	}
	if root != common.ROOTINUM {
		return fmt.Errorf("root directory got inode %d, want %d: %w",
			root, common.ROOTINUM, common.ErrInvalid)
	}
	ip := inode.MkInode(root, inode.S_IFDIR|0755, time.Now())
	if err := writeInode(d, j, sb, ip); err != nil {
		return err
	}
	sb.RootInum = root

	sb.UsedBlocks = smap.UsedBlocks()
	sb.Flags = super.CLEAN
	if err := writeMeta(d, j, common.SUPERBLK, sb.Encode(bs)); err != nil {
		return err
	}
	if err := d.Barrier(); err != nil {
		return common.IOError("barrier", common.SUPERBLK, err)
	}
	util.DPrintf(1, "format: %v\n", sb)
	return nil
}

// Mount opens the file system on d. Unless cfg.ReadOnly, the superblock is
// marked dirty until Unmount.
func Mount(d disk.Disk, cfg *config.Config) (*Volume, error) {
	sb, err := super.Read(d)
	if err != nil {
		return nil, err
	}
	if sb.NumBlocks != d.Size() {
		return nil, fmt.Errorf("volume of %d blocks on a disk of %d blocks: %w",
			sb.NumBlocks, d.Size(), common.ErrInvalid)
	}
	if !sb.IsClean() {
		util.DPrintf(0, "mount %q: volume was not cleanly unmounted\n", sb.Name)
	}
	d, j, err := openDisk(d, cfg)
	if err != nil {
		return nil, err
	}
	smap, err := alloc.LoadStorageMap(d, j, sb.UsedBlocks, cfg.ReadOnly)
	if err != nil {
		return nil, err
	}
	imap, err := alloc.LoadInodeMap(d, j, sb.InodeMapStart, sb.NumInodes, cfg.ReadOnly)
	if err != nil {
		smap.Close()
		return nil, err
	}
	smap.SetHint(sb.DataStart())
	v := &Volume{
		lock:     new(sync.RWMutex),
		d:        d,
		j:        j,
		readOnly: cfg.ReadOnly,
		sbLock:   new(sync.Mutex),
		sb:       sb,
		smap:     smap,
		imap:     imap,
		itLock:   new(sync.Mutex),
		locks:    lockmap.MkLockMap(),
		Now:      time.Now,
	}
	v.mapper = dstream.MkMapper(d, smap, v, dstream.MkGeometry(sb.BlockSize, sb.NumBlocks))
	v.mapper.Now = func() time.Time { return v.Now() }
	if !v.readOnly {
		v.sb.Flags = super.DIRTY
		if err := v.WriteSuper(); err != nil {
			smap.Close()
			imap.Close()
			return nil, err
		}
	}
	util.DPrintf(1, "mount: %v\n", sb)
	return v, nil
}

// Unmount writes back the superblock, marked clean unless a consistency
// error was seen, and closes the disk.
func (v *Volume) Unmount() error {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.closed {
		return common.ErrNotMounted
	}
	v.closed = true
	var err error
	if !v.readOnly {
		v.sbLock.Lock()
		if atomic.LoadInt32(&v.failed) == 0 {
			v.sb.Flags = super.CLEAN
		}
		err = v.writeSuperLocked()
		v.sbLock.Unlock()
		if err == nil {
			if berr := v.d.Barrier(); berr != nil {
				err = common.IOError("barrier", common.SUPERBLK, berr)
			}
		}
		if err == nil {
			v.smap.MarkClean()
		}
	}
	if n := v.locks.Held(); n != 0 {
		util.DPrintf(0, "unmount %q: %d inode locks still held\n", v.sb.Name, n)
	}
	v.smap.Close()
	v.imap.Close()
	if cerr := v.d.Close(); err == nil {
		err = cerr
	}
	util.DPrintf(1, "unmount %q\n", v.sb.Name)
	return err
}

func (v *Volume) writeSuperLocked() error {
	v.sb.UsedBlocks = v.smap.UsedBlocks()
	if err := writeMeta(v.d, v.j, common.SUPERBLK, v.sb.Encode(v.sb.BlockSize)); err != nil {
		return err
	}
	return nil
}

// WriteSuper writes the superblock with the current used-block count.
func (v *Volume) WriteSuper() error {
	if v.readOnly {
		return common.ErrReadOnly
	}
	v.sbLock.Lock()
	defer v.sbLock.Unlock()
	return v.writeSuperLocked()
}

// note records a consistency error so that the volume refuses further
// changes. It returns err unchanged.
func (v *Volume) note(err error) error {
	if common.IsFatal(err) && atomic.CompareAndSwapInt32(&v.failed, 0, 1) {
		util.DPrintf(0, "volume %q: %v; refusing further changes\n", v.sb.Name, err)
	}
	return err
}

// begin takes the mount lock for an operation. The caller must call
// v.lock.RUnlock when begin succeeds.
func (v *Volume) begin(write bool) error {
	v.lock.RLock()
	if v.closed {
		v.lock.RUnlock()
		return common.ErrNotMounted
	}
	if write && v.readOnly {
		v.lock.RUnlock()
		return common.ErrReadOnly
	}
	if write && atomic.LoadInt32(&v.failed) != 0 {
		v.lock.RUnlock()
		return fmt.Errorf("volume has a consistency error: %w", common.ErrReadOnly)
	}
	return nil
}

func (v *Volume) ReadOnly() bool {
	return v.readOnly
}

func (v *Volume) RootInum() common.Inum {
	return v.sb.RootInum
}

func (v *Volume) Geometry() dstream.Geometry {
	return v.mapper.Geometry()
}
