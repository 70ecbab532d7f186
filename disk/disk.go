package disk

import (
	"fmt"

	"github.com/mit-pdos/go-myfs/common"
)

// Block is a BlockSize()-byte buffer
type Block = []byte

// Disk provides access to a logical block-based disk
type Disk interface {
	// BlockSize reports the size of every block, in bytes
	BlockSize() int64

	// Read reads a disk block by address
	//
	// Expects a < Size().
	Read(a common.Bnum) (Block, error)

	// ReadTo reads the disk block at a and stores the result in b
	//
	// Expects a < Size().
	ReadTo(a common.Bnum, b Block) error

	// Write updates a disk block by address
	//
	// Expects a < Size().
	Write(a common.Bnum, v Block) error

	// Size reports how big the disk is, in blocks
	Size() int64

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably on
	// disk
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}

type DiskWriteBatch interface {
	WriteBatch(startPos common.Bnum, blocks []Block) error
}

func checkRange(d Disk, op string, a common.Bnum, n int64) error {
	if a < 0 || n < 0 || a >= d.Size() || a+n > d.Size() {
		return fmt.Errorf("%s of %d blocks at %d (disk has %d): %w",
			op, n, a, d.Size(), common.ErrIO)
	}
	return nil
}

func checkBlock(d Disk, b Block) {
	if int64(len(b)) != d.BlockSize() {
		panic(fmt.Errorf("buffer is not block-sized (%d bytes)", len(b)))
	}
}

// ReadBlocks reads count consecutive blocks starting at a into buf and
// returns the number of blocks read.
func ReadBlocks(d Disk, a common.Bnum, buf []byte, count int64) (int64, error) {
	if err := checkRange(d, "read", a, count); err != nil {
		return 0, err
	}
	bs := d.BlockSize()
	if int64(len(buf)) < count*bs {
		return 0, fmt.Errorf("read of %d blocks into %d bytes: %w",
			count, len(buf), common.ErrInvalid)
	}
	for i := int64(0); i < count; i++ {
		if err := d.ReadTo(a+i, buf[i*bs:(i+1)*bs]); err != nil {
			return i, common.IOError("read", a+i, err)
		}
	}
	return count, nil
}

// WriteBlocks writes count consecutive blocks from buf starting at a and
// returns the number of blocks written.
func WriteBlocks(d Disk, a common.Bnum, buf []byte, count int64) (int64, error) {
	if err := checkRange(d, "write", a, count); err != nil {
		return 0, err
	}
	bs := d.BlockSize()
	if int64(len(buf)) < count*bs {
		return 0, fmt.Errorf("write of %d blocks from %d bytes: %w",
			count, len(buf), common.ErrInvalid)
	}
	if bd, ok := d.(DiskWriteBatch); ok {
		blks := make([]Block, count)
		for i := range blks {
			blks[i] = buf[int64(i)*bs : int64(i+1)*bs]
		}
		if err := bd.WriteBatch(a, blks); err != nil {
			return 0, common.IOError("write", a, err)
		}
		return count, nil
	}
	for i := int64(0); i < count; i++ {
		if err := d.Write(a+i, buf[i*bs:(i+1)*bs]); err != nil {
			return i, common.IOError("write", a+i, err)
		}
	}
	return count, nil
}
