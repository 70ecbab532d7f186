package fs

import (
	"fmt"

	"github.com/datawire/dlib/derror"

	"github.com/mit-pdos/go-myfs/bitvec"
	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/inode"
)

type checker struct {
	v       *Volume
	claimed *bitvec.BitVector
	refd    int64 // claimed blocks that the bitmap agrees are in use
	errs    derror.MultiError
}

func (c *checker) claim(start common.Bnum, n int64, owner string) {
	for a := start; a < start+n; a++ {
		if c.claimed.Test(a) {
			c.errs = append(c.errs, common.Corrupt("check", a,
				"block claimed twice, the second time by %s", owner))
			continue
		}
		c.claimed.Set(a)
		if c.v.smap.Check(a, 1, true) {
			c.refd++
		} else {
			c.errs = append(c.errs, common.Corrupt("check", a,
				"block used by %s is free in the bitmap", owner))
		}
	}
}

func (c *checker) checkInode(inum common.Inum) {
	v := c.v
	blkno, _ := inode.Locate(v.sb.InodesStart, v.sb.BlockSize, inum)
	ip, err := v.readInode(inum)
	if err != nil {
		c.errs = append(c.errs, err)
		return
	}
	if !ip.InUse() {
		c.errs = append(c.errs, common.Corrupt("check", blkno,
			"inode %d is allocated but its record is not in use", inum))
	}
	owner := fmt.Sprintf("inode %d", inum)
	var data int64
	err = v.mapper.Walk(ip, func(a common.Bnum, index bool) error {
		if !index {
			data++
		}
		c.claim(a, 1, owner)
		return nil
	})
	if err != nil {
		c.errs = append(c.errs, err)
		return
	}
	bs := v.sb.BlockSize
	if want := (ip.Data.Size + bs - 1) / bs; data != want {
		c.errs = append(c.errs, common.Corrupt("check", blkno,
			"inode %d maps %d data blocks for %d bytes", inum, data, ip.Data.Size))
	}
}

// checkOrphans looks for records marked in use whose numbers are free.
func (c *checker) checkOrphans() {
	v := c.v
	for i := int64(1); i < v.sb.NumInodes; i++ {
		inum := common.Inum(i)
		if v.imap.IsAllocated(inum) {
			continue
		}
		blkno, off := inode.Locate(v.sb.InodesStart, v.sb.BlockSize, inum)
		blk, err := v.d.Read(blkno)
		if err != nil {
			c.errs = append(c.errs, common.IOError("read", blkno, err))
			return
		}
		ip := inode.Decode(blk[off : off+common.INODESZ])
		if ip.Magic == inode.MAGIC && ip.InUse() {
			c.errs = append(c.errs, common.Corrupt("check", blkno,
				"inode %d is in use but free in the inode map", inum))
		}
	}
}

// Check walks every allocated inode and cross-checks the blocks it
// references against the block bitmap. It reports every problem found,
// and corrects the used-block count if it is wrong. It runs with all other
// operations on the volume excluded.
func (v *Volume) Check() error {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.closed {
		return common.ErrNotMounted
	}
	c := &checker{v: v, claimed: bitvec.New(v.sb.NumBlocks)}
	c.claim(common.SUPERBLK, 1, "the superblock")
	c.claim(common.BITMAPSTART, v.smap.NumBitmapBlocks(), "the block bitmap")
	c.claim(v.sb.InodeMapStart, v.sb.NumInodeMapBlocks, "the inode map")
	c.claim(v.sb.InodesStart, v.sb.NumInodeBlocks, "the inode table")
	v.imap.Apply(c.checkInode)
	c.checkOrphans()

	if !v.smap.VerifyConsistency() {
		c.errs = append(c.errs, fmt.Errorf("used block count was wrong, corrected to %d",
			v.smap.UsedBlocks()))
	}
	if leaked := v.smap.UsedBlocks() - c.refd; leaked != 0 {
		c.errs = append(c.errs, fmt.Errorf("%d blocks are in use but not referenced", leaked))
	}
	if len(c.errs) > 0 {
		return c.errs
	}
	return nil
}
