package disk

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-myfs/common"
)

var _ Disk = (*FileDisk)(nil)

// FileDisk is a disk backed by a regular file or block device.
type FileDisk struct {
	fd        int
	numBlocks int64
	blockSize int64
}

// NewFileDisk opens (creating if needed) path as a disk of numBlocks blocks,
// growing a regular file to fit.
func NewFileDisk(path string, numBlocks int64, blockSize int64) (*FileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, err
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if (stat.Mode&unix.S_IFMT) == unix.S_IFREG && stat.Size < numBlocks*blockSize {
		err = unix.Ftruncate(fd, numBlocks*blockSize)
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	return &FileDisk{fd: fd, numBlocks: numBlocks, blockSize: blockSize}, nil
}

func (d *FileDisk) BlockSize() int64 {
	return d.blockSize
}

func (d *FileDisk) ReadTo(a common.Bnum, buf Block) error {
	checkBlock(d, buf)
	if err := checkRange(d, "read", a, 1); err != nil {
		return err
	}
	n, err := unix.Pread(d.fd, buf, a*d.blockSize)
	if err != nil {
		return err
	}
	if int64(n) != d.blockSize {
		return fmt.Errorf("short read at %d: %d bytes", a, n)
	}
	return nil
}

func (d *FileDisk) Read(a common.Bnum) (Block, error) {
	buf := make([]byte, d.blockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *FileDisk) Write(a common.Bnum, v Block) error {
	checkBlock(d, v)
	if err := checkRange(d, "write", a, 1); err != nil {
		return err
	}
	n, err := unix.Pwrite(d.fd, v, a*d.blockSize)
	if err != nil {
		return err
	}
	if int64(n) != d.blockSize {
		return fmt.Errorf("short write at %d: %d bytes", a, n)
	}
	return nil
}

func (d *FileDisk) Size() int64 {
	return d.numBlocks
}

func (d *FileDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; the correct replacement is F_FULLFSYNC.
	return unix.Fsync(d.fd)
}

func (d *FileDisk) Close() error {
	return unix.Close(d.fd)
}

/////////////////////////

var _ Disk = (*MemDisk)(nil)
var _ DiskWriteBatch = (*MemDisk)(nil)

type MemDisk struct {
	l         *sync.RWMutex
	blockSize int64
	blocks    [][]byte
}

func NewMemDisk(numBlocks int64, blockSize int64) *MemDisk {
	blocks := make([][]byte, numBlocks)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &MemDisk{l: new(sync.RWMutex), blockSize: blockSize, blocks: blocks}
}

func (d *MemDisk) BlockSize() int64 {
	return d.blockSize
}

func (d *MemDisk) ReadTo(a common.Bnum, buf Block) error {
	checkBlock(d, buf)
	if err := checkRange(d, "read", a, 1); err != nil {
		return err
	}
	d.l.RLock()
	defer d.l.RUnlock()
	copy(buf, d.blocks[a])
	return nil
}

func (d *MemDisk) Read(a common.Bnum) (Block, error) {
	buf := make(Block, d.blockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *MemDisk) Write(a common.Bnum, v Block) error {
	checkBlock(d, v)
	if err := checkRange(d, "write", a, 1); err != nil {
		return err
	}
	d.l.Lock()
	defer d.l.Unlock()
	copy(d.blocks[a], v)
	return nil
}

func (d *MemDisk) Size() int64 {
	// this never changes so we assume it's safe to run lock-free
	return int64(len(d.blocks))
}

func (d *MemDisk) Barrier() error { return nil }

func (d *MemDisk) Close() error { return nil }

func (d *MemDisk) WriteBatch(startPos common.Bnum, blocks []Block) error {
	for i, buf := range blocks {
		if err := d.Write(startPos+int64(i), buf); err != nil {
			return err
		}
	}
	return nil
}
