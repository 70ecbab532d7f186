package disk

import (
	gdisk "github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-myfs/common"
)

// gooseDisk runs a volume on a goose machine disk, which always has
// gdisk.BlockSize-byte blocks and reports failures by panicking.
type gooseDisk struct {
	d gdisk.Disk
}

var _ Disk = gooseDisk{}

// FromGoose adapts a goose disk to the Disk interface.
func FromGoose(d gdisk.Disk) Disk {
	return gooseDisk{d: d}
}

func (g gooseDisk) BlockSize() int64 {
	return int64(gdisk.BlockSize)
}

func (g gooseDisk) Read(a common.Bnum) (Block, error) {
	if err := checkRange(g, "read", a, 1); err != nil {
		return nil, err
	}
	return g.d.Read(uint64(a)), nil
}

func (g gooseDisk) ReadTo(a common.Bnum, b Block) error {
	checkBlock(g, b)
	blk, err := g.Read(a)
	if err != nil {
		return err
	}
	copy(b, blk)
	return nil
}

func (g gooseDisk) Write(a common.Bnum, v Block) error {
	checkBlock(g, v)
	if err := checkRange(g, "write", a, 1); err != nil {
		return err
	}
	g.d.Write(uint64(a), v)
	return nil
}

func (g gooseDisk) Size() int64 {
	return int64(g.d.Size())
}

func (g gooseDisk) Barrier() error {
	g.d.Barrier()
	return nil
}

func (g gooseDisk) Close() error {
	g.d.Close()
	return nil
}
