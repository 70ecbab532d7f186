// Package inode encodes the fixed-size inode records stored in the inode
// table.
package inode

import (
	"fmt"
	"time"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-myfs/common"
)

const MAGIC uint64 = 0x496e6f64 // Inod

const (
	INUSE   uint64 = 0x1
	ATTR    uint64 = 0x4
	LOGGED  uint64 = 0x8
	DELETED uint64 = 0x10

	PERMANENT uint64 = 0xffff // flags that are stored on disk
)

// file type bits of Mode
const (
	S_IFMT  uint64 = 0170000
	S_IFDIR uint64 = 0040000
	S_IFREG uint64 = 0100000
)

// DataStream maps a file's bytes to blocks. Slots past the block holding
// byte Size-1 are always zero.
type DataStream struct {
	Direct         [common.NDIRECT]common.Bnum
	Indirect       common.Bnum
	DoubleIndirect common.Bnum
	Size           int64
}

type Inode struct {
	Magic uint64
	Uid   uint64
	Gid   uint64
	Mode  uint64
	Inum  common.Inum
	Flags uint64
	Ctime int64 // nanoseconds since the epoch
	Mtime int64
	Data  DataStream
}

// one reserved word pads the record to INODESZ
const nwords = 9 + common.NDIRECT + 3

func MkInode(inum common.Inum, mode uint64, now time.Time) *Inode {
	return &Inode{
		Magic: MAGIC,
		Mode:  mode,
		Inum:  inum,
		Flags: INUSE,
		Ctime: now.UnixNano(),
		Mtime: now.UnixNano(),
	}
}

func (ip *Inode) String() string {
	return fmt.Sprintf("# %d mode %o flags %#x size %d", ip.Inum, ip.Mode, ip.Flags,
		ip.Data.Size)
}

func (ip *Inode) InUse() bool {
	return ip.Flags&INUSE != 0
}

func (ip *Inode) IsDir() bool {
	return ip.Mode&S_IFMT == S_IFDIR
}

func (ip *Inode) MTime() time.Time {
	return time.Unix(0, ip.Mtime)
}

func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(uint64(common.INODESZ))
	enc.PutInt(ip.Magic)
	enc.PutInt(ip.Uid)
	enc.PutInt(ip.Gid)
	enc.PutInt(ip.Mode)
	enc.PutInt(uint64(ip.Inum))
	enc.PutInt(ip.Flags & PERMANENT)
	enc.PutInt(uint64(ip.Ctime))
	enc.PutInt(uint64(ip.Mtime))
	enc.PutInt(0)
	for _, a := range ip.Data.Direct {
		enc.PutInt(uint64(a))
	}
	enc.PutInt(uint64(ip.Data.Indirect))
	enc.PutInt(uint64(ip.Data.DoubleIndirect))
	enc.PutInt(uint64(ip.Data.Size))
	return enc.Finish()
}

func Decode(buf []byte) *Inode {
	ip := &Inode{}
	dec := marshal.NewDec(buf[:common.INODESZ])
	ip.Magic = dec.GetInt()
	ip.Uid = dec.GetInt()
	ip.Gid = dec.GetInt()
	ip.Mode = dec.GetInt()
	ip.Inum = common.Inum(dec.GetInt())
	ip.Flags = dec.GetInt()
	ip.Ctime = int64(dec.GetInt())
	ip.Mtime = int64(dec.GetInt())
	dec.GetInt()
	for i := range ip.Data.Direct {
		ip.Data.Direct[i] = common.Bnum(dec.GetInt())
	}
	ip.Data.Indirect = common.Bnum(dec.GetInt())
	ip.Data.DoubleIndirect = common.Bnum(dec.GetInt())
	ip.Data.Size = int64(dec.GetInt())
	return ip
}

// Check validates an in-use inode read from slot inum.
func (ip *Inode) Check(inum common.Inum, addr common.Bnum) error {
	if ip.Magic != MAGIC {
		return common.Corrupt("inode", addr, "inode %d has magic %#x", inum, ip.Magic)
	}
	if ip.Inum != inum {
		return common.Corrupt("inode", addr, "slot %d holds inode %d", inum, ip.Inum)
	}
	if ip.Data.Size < 0 {
		return common.Corrupt("inode", addr, "inode %d has size %d", inum, ip.Data.Size)
	}
	return nil
}

// Locate returns the inode table block holding inum and the byte offset of
// its record within that block.
func Locate(inodesStart common.Bnum, blockSize int64, inum common.Inum) (common.Bnum, int64) {
	perBlock := blockSize / common.INODESZ
	return inodesStart + int64(inum)/perBlock, (int64(inum) % perBlock) * common.INODESZ
}
