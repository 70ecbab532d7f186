// Package super encodes the superblock kept in block 0 of every volume.
package super

import (
	"bytes"
	"fmt"
	"io"
	"math/bits"

	"github.com/google/uuid"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/disk"
	"github.com/mit-pdos/go-myfs/util"
)

const (
	MAGIC1 uint64 = 0x4d594653 // MYFS
	MAGIC2 uint64 = 0xce0169f9
	MAGIC3 uint64 = 0x53424c4b // SBLK

	LITTLEENDIAN uint64 = 0x45474942 // EGIB
	BIGENDIAN    uint64 = 0x42494745 // BIGE

	CLEAN uint64 = 0x434c454e // CLEN
	DIRTY uint64 = 0x44495254 // DIRT
)

// number of 64-bit fields after the name
const nfields = 19

// SUPERSZ is the encoded size of a superblock; it fits in the smallest
// block size.
const SUPERSZ = common.NAMELEN + nfields*8 + 16

// Super is the in-memory copy of the superblock. All block numbers are
// absolute.
type Super struct {
	Name       string
	Magic1     uint64
	ByteOrder  uint64
	BlockSize  int64
	BlockShift int64

	NumBlocks  int64
	UsedBlocks int64

	NumInodes         int64
	InodeMapStart     common.Bnum
	NumInodeMapBlocks int64
	InodesStart       common.Bnum
	NumInodeBlocks    int64

	Magic2   uint64
	Flags    uint64
	RootInum common.Inum

	// The journal region is recorded but never used; a volume is formatted
	// without one.
	JournalStart  common.Bnum
	JournalLength int64
	LogStart      common.Bnum
	LogEnd        common.Bnum

	Magic3   uint64
	VolumeID uuid.UUID
}

// MkSuper describes a new volume of numBlocks blocks. The inode region is
// left for the formatter to place.
func MkSuper(name string, numBlocks int64, blockSize int64, numInodes int64) *Super {
	if len(name) >= common.NAMELEN {
		name = name[:common.NAMELEN-1]
	}
	return &Super{
		Name:       name,
		Magic1:     MAGIC1,
		ByteOrder:  LITTLEENDIAN,
		BlockSize:  blockSize,
		BlockShift: int64(bits.TrailingZeros64(uint64(blockSize))),
		NumBlocks:  numBlocks,
		NumInodes:  numInodes,
		Magic2:     MAGIC2,
		Flags:      CLEAN,
		RootInum:   common.NULLINUM,
		Magic3:     MAGIC3,
		VolumeID:   uuid.New(),
	}
}

// Encode lays the superblock out in a zero-padded block of blockSize bytes:
// the name, then every numeric field as a little-endian 64-bit word in
// declaration order, then the volume ID.
func (sb *Super) Encode(blockSize int64) []byte {
	blk := make([]byte, blockSize)
	copy(blk[:common.NAMELEN-1], sb.Name)
	enc := marshal.NewEnc(nfields * 8)
	enc.PutInt(sb.Magic1)
	enc.PutInt(sb.ByteOrder)
	enc.PutInt(uint64(sb.BlockSize))
	enc.PutInt(uint64(sb.BlockShift))
	enc.PutInt(uint64(sb.NumBlocks))
	enc.PutInt(uint64(sb.UsedBlocks))
	enc.PutInt(uint64(sb.NumInodes))
	enc.PutInt(uint64(sb.InodeMapStart))
	enc.PutInt(uint64(sb.NumInodeMapBlocks))
	enc.PutInt(uint64(sb.InodesStart))
	enc.PutInt(uint64(sb.NumInodeBlocks))
	enc.PutInt(sb.Magic2)
	enc.PutInt(sb.Flags)
	enc.PutInt(uint64(sb.RootInum))
	enc.PutInt(uint64(sb.JournalStart))
	enc.PutInt(uint64(sb.JournalLength))
	enc.PutInt(uint64(sb.LogStart))
	enc.PutInt(uint64(sb.LogEnd))
	enc.PutInt(sb.Magic3)
	copy(blk[common.NAMELEN:], enc.Finish())
	copy(blk[common.NAMELEN+nfields*8:], sb.VolumeID[:])
	return blk
}

// Decode parses and validates a superblock from the first SUPERSZ bytes of
// blk.
func Decode(blk []byte) (*Super, error) {
	if len(blk) < SUPERSZ {
		return nil, fmt.Errorf("superblock needs %d bytes, have %d: %w",
			SUPERSZ, len(blk), common.ErrInvalid)
	}
	sb := &Super{}
	name := blk[:common.NAMELEN]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	sb.Name = string(name)
	dec := marshal.NewDec(blk[common.NAMELEN : common.NAMELEN+nfields*8])
	sb.Magic1 = dec.GetInt()
	sb.ByteOrder = dec.GetInt()
	sb.BlockSize = int64(dec.GetInt())
	sb.BlockShift = int64(dec.GetInt())
	sb.NumBlocks = int64(dec.GetInt())
	sb.UsedBlocks = int64(dec.GetInt())
	sb.NumInodes = int64(dec.GetInt())
	sb.InodeMapStart = common.Bnum(dec.GetInt())
	sb.NumInodeMapBlocks = int64(dec.GetInt())
	sb.InodesStart = common.Bnum(dec.GetInt())
	sb.NumInodeBlocks = int64(dec.GetInt())
	sb.Magic2 = dec.GetInt()
	sb.Flags = dec.GetInt()
	sb.RootInum = common.Inum(dec.GetInt())
	sb.JournalStart = common.Bnum(dec.GetInt())
	sb.JournalLength = int64(dec.GetInt())
	sb.LogStart = common.Bnum(dec.GetInt())
	sb.LogEnd = common.Bnum(dec.GetInt())
	sb.Magic3 = dec.GetInt()
	copy(sb.VolumeID[:], blk[common.NAMELEN+nfields*8:SUPERSZ])
	if err := sb.Validate(); err != nil {
		return nil, err
	}
	return sb, nil
}

// Validate checks the magic numbers and that the geometry is self-consistent.
func (sb *Super) Validate() error {
	if sb.Magic1 != MAGIC1 || sb.Magic2 != MAGIC2 || sb.Magic3 != MAGIC3 {
		return fmt.Errorf("superblock magic %#x/%#x/%#x: %w",
			sb.Magic1, sb.Magic2, sb.Magic3, common.ErrBadMagic)
	}
	if sb.ByteOrder != LITTLEENDIAN {
		return fmt.Errorf("superblock byte order %#x: %w", sb.ByteOrder, common.ErrBadMagic)
	}
	if !util.IsPowerOfTwo(sb.BlockSize) || sb.BlockSize < common.MINBLOCKSIZE ||
		int64(1)<<uint(sb.BlockShift) != sb.BlockSize {
		return common.Corrupt("superblock", common.SUPERBLK,
			"block size %d, shift %d", sb.BlockSize, sb.BlockShift)
	}
	if sb.NumBlocks <= 0 || sb.UsedBlocks < 0 || sb.UsedBlocks > sb.NumBlocks {
		return common.Corrupt("superblock", common.SUPERBLK,
			"%d of %d blocks used", sb.UsedBlocks, sb.NumBlocks)
	}
	if sb.NumInodes < 0 || sb.InodeMapStart < 0 || sb.InodesStart < 0 ||
		sb.InodeMapStart+sb.NumInodeMapBlocks > sb.NumBlocks ||
		sb.InodesStart+sb.NumInodeBlocks > sb.NumBlocks {
		return common.Corrupt("superblock", common.SUPERBLK,
			"inode region outside %d blocks", sb.NumBlocks)
	}
	return nil
}

func Read(d disk.Disk) (*Super, error) {
	blk, err := d.Read(common.SUPERBLK)
	if err != nil {
		return nil, common.IOError("read", common.SUPERBLK, err)
	}
	sb, err := Decode(blk)
	if err != nil {
		return nil, err
	}
	if sb.BlockSize != d.BlockSize() || sb.NumBlocks > d.Size() {
		return nil, fmt.Errorf("volume of %d %d-byte blocks on a disk of %d %d-byte blocks: %w",
			sb.NumBlocks, sb.BlockSize, d.Size(), d.BlockSize(), common.ErrInvalid)
	}
	return sb, nil
}

func (sb *Super) Write(d disk.Disk) error {
	if err := d.Write(common.SUPERBLK, sb.Encode(d.BlockSize())); err != nil {
		return common.IOError("write", common.SUPERBLK, err)
	}
	return nil
}

// Probe reads the superblock from the start of an image whose block size
// is not yet known.
func Probe(r io.ReaderAt) (*Super, error) {
	blk := make([]byte, SUPERSZ)
	if _, err := r.ReadAt(blk, 0); err != nil {
		return nil, fmt.Errorf("probe superblock: %w", err)
	}
	return Decode(blk)
}

func (sb *Super) NumBitmapBlocks() int64 {
	return common.NumBitmapBlocks(sb.NumBlocks, sb.BlockSize)
}

func (sb *Super) BitmapStart() common.Bnum {
	return common.BITMAPSTART
}

// DataStart is the first block after the fixed metadata regions.
func (sb *Super) DataStart() common.Bnum {
	return sb.InodesStart + sb.NumInodeBlocks
}

func (sb *Super) InodesPerBlock() int64 {
	return sb.BlockSize / common.INODESZ
}

func (sb *Super) FreeBlocks() int64 {
	return sb.NumBlocks - sb.UsedBlocks
}

func (sb *Super) IsClean() bool {
	return sb.Flags == CLEAN
}

func (sb *Super) String() string {
	return fmt.Sprintf("%q %s: %d/%d blocks of %d bytes used, %d inodes",
		sb.Name, sb.VolumeID, sb.UsedBlocks, sb.NumBlocks, sb.BlockSize, sb.NumInodes)
}
