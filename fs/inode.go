package fs

import (
	"fmt"

	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/disk"
	"github.com/mit-pdos/go-myfs/inode"
	"github.com/mit-pdos/go-myfs/jrnl"
	"github.com/mit-pdos/go-myfs/super"
	"github.com/mit-pdos/go-myfs/util"
)

// writeInode stores ip's record in its inode table block. The caller must
// serialize writers of the same block.
func writeInode(d disk.Disk, j *jrnl.Journal, sb *super.Super, ip *inode.Inode) error {
	blkno, off := inode.Locate(sb.InodesStart, sb.BlockSize, ip.Inum)
	blk, err := d.Read(blkno)
	if err != nil {
		return common.IOError("read", blkno, err)
	}
	copy(blk[off:off+common.INODESZ], ip.Encode())
	return writeMeta(d, j, blkno, blk)
}

func (v *Volume) checkInum(inum common.Inum) error {
	if inum <= common.NULLINUM || int64(inum) >= v.sb.NumInodes {
		return fmt.Errorf("inode %d of %d: %w", inum, v.sb.NumInodes, common.ErrInvalid)
	}
	return nil
}

// readInode loads and validates the record of inum whether or not the inode
// map says it is in use.
func (v *Volume) readInode(inum common.Inum) (*inode.Inode, error) {
	if err := v.checkInum(inum); err != nil {
		return nil, err
	}
	blkno, off := inode.Locate(v.sb.InodesStart, v.sb.BlockSize, inum)
	blk, err := v.d.Read(blkno)
	if err != nil {
		return nil, common.IOError("read", blkno, err)
	}
	ip := inode.Decode(blk[off : off+common.INODESZ])
	if err := ip.Check(inum, blkno); err != nil {
		return nil, v.note(err)
	}
	return ip, nil
}

// getInode is readInode for an inode that must be allocated.
func (v *Volume) getInode(inum common.Inum) (*inode.Inode, error) {
	if err := v.checkInum(inum); err != nil {
		return nil, err
	}
	if !v.imap.IsAllocated(inum) {
		return nil, fmt.Errorf("inode %d is not allocated: %w", inum, common.ErrInvalid)
	}
	return v.readInode(inum)
}

func (v *Volume) updateInode(ip *inode.Inode) error {
	v.itLock.Lock()
	defer v.itLock.Unlock()
	return writeInode(v.d, v.j, v.sb, ip)
}

// UpdateInode writes ip back to the inode table. The caller must hold the
// inode, as the data entry points do.
func (v *Volume) UpdateInode(ip *inode.Inode) error {
	if v.readOnly {
		return common.ErrReadOnly
	}
	if err := v.checkInum(ip.Inum); err != nil {
		return err
	}
	return v.updateInode(ip)
}

// AllocInode creates an empty file with the given mode.
func (v *Volume) AllocInode(mode uint64) (*inode.Inode, error) {
	if err := v.begin(true); err != nil {
		return nil, err
	}
	defer v.lock.RUnlock()
	inum, err := v.imap.AllocNum()
	if err != nil {
		return nil, err
	}
	ip := inode.MkInode(inum, mode, v.Now())
	if err := v.updateInode(ip); err != nil {
		if ferr := v.imap.FreeNum(inum); ferr != nil {
			util.DPrintf(0, "AllocInode: cannot release inode %d: %v\n", inum, ferr)
		}
		return nil, err
	}
	util.DPrintf(5, "AllocInode -> %v\n", ip)
	return ip, nil
}

// ReadInode returns a snapshot of an allocated inode.
func (v *Volume) ReadInode(inum common.Inum) (*inode.Inode, error) {
	if err := v.begin(false); err != nil {
		return nil, err
	}
	defer v.lock.RUnlock()
	v.locks.Acquire(inum)
	defer v.locks.Release(inum)
	return v.getInode(inum)
}

// releaseInode clears ip's record and returns its number to the inode map.
func (v *Volume) releaseInode(ip *inode.Inode) error {
	inum := ip.Inum
	if err := v.updateInode(&inode.Inode{Inum: inum}); err != nil {
		return err
	}
	return v.imap.FreeNum(inum)
}

// FreeInode releases an inode whose data has already been freed.
func (v *Volume) FreeInode(inum common.Inum) error {
	if err := v.begin(true); err != nil {
		return err
	}
	defer v.lock.RUnlock()
	v.locks.Acquire(inum)
	defer v.locks.Release(inum)
	ip, err := v.getInode(inum)
	if err != nil {
		return err
	}
	if ip.Data != (inode.DataStream{}) {
		return fmt.Errorf("free inode %d with %d bytes of data: %w",
			inum, ip.Data.Size, common.ErrInvalid)
	}
	return v.releaseInode(ip)
}

// DeleteFile frees a file's data and then its inode.
func (v *Volume) DeleteFile(inum common.Inum) error {
	if err := v.begin(true); err != nil {
		return err
	}
	defer v.lock.RUnlock()
	if inum == v.sb.RootInum {
		return fmt.Errorf("delete root inode %d: %w", inum, common.ErrInvalid)
	}
	v.locks.Acquire(inum)
	defer v.locks.Release(inum)
	ip, err := v.getInode(inum)
	if err != nil {
		return err
	}
	if err := v.mapper.Free(ip); err != nil {
		return v.note(err)
	}
	util.DPrintf(5, "DeleteFile %d\n", inum)
	return v.releaseInode(ip)
}

// ReadData reads file bytes at pos into p.
func (v *Volume) ReadData(inum common.Inum, pos int64, p []byte) (int, error) {
	if err := v.begin(false); err != nil {
		return 0, err
	}
	defer v.lock.RUnlock()
	v.locks.Acquire(inum)
	defer v.locks.Release(inum)
	ip, err := v.getInode(inum)
	if err != nil {
		return 0, err
	}
	n, err := v.mapper.Read(ip, pos, p)
	return n, v.note(err)
}

// WriteData writes p into the file at pos, growing the file as needed.
func (v *Volume) WriteData(inum common.Inum, pos int64, p []byte) (int, error) {
	if err := v.begin(true); err != nil {
		return 0, err
	}
	defer v.lock.RUnlock()
	v.locks.Acquire(inum)
	defer v.locks.Release(inum)
	ip, err := v.getInode(inum)
	if err != nil {
		return 0, err
	}
	n, err := v.mapper.Write(ip, pos, p)
	return n, v.note(err)
}

func (v *Volume) SetFileSize(inum common.Inum, size int64) error {
	if err := v.begin(true); err != nil {
		return err
	}
	defer v.lock.RUnlock()
	v.locks.Acquire(inum)
	defer v.locks.Release(inum)
	ip, err := v.getInode(inum)
	if err != nil {
		return err
	}
	return v.note(v.mapper.SetSize(ip, size))
}

// FreeData truncates the file to nothing, keeping the inode.
func (v *Volume) FreeData(inum common.Inum) error {
	if err := v.begin(true); err != nil {
		return err
	}
	defer v.lock.RUnlock()
	v.locks.Acquire(inum)
	defer v.locks.Release(inum)
	ip, err := v.getInode(inum)
	if err != nil {
		return err
	}
	return v.note(v.mapper.Free(ip))
}
