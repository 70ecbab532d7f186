package disk

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/util"
)

// CachedDisk is a write-through block cache in front of another Disk.
// Writes reach the inner disk before they are cached, so the cache never
// holds data the disk does not.
type CachedDisk struct {
	inner Disk
	cache *lru.ARCCache
}

var _ Disk = (*CachedDisk)(nil)
var _ DiskWriteBatch = (*CachedDisk)(nil)

func NewCachedDisk(d Disk, nblocks int) (*CachedDisk, error) {
	c, err := lru.NewARC(nblocks)
	if err != nil {
		return nil, err
	}
	return &CachedDisk{inner: d, cache: c}, nil
}

func (c *CachedDisk) BlockSize() int64 {
	return c.inner.BlockSize()
}

func (c *CachedDisk) ReadTo(a common.Bnum, b Block) error {
	checkBlock(c, b)
	if v, ok := c.cache.Get(a); ok {
		copy(b, v.(Block))
		return nil
	}
	if err := c.inner.ReadTo(a, b); err != nil {
		return err
	}
	c.cache.Add(a, util.CloneByteSlice(b))
	return nil
}

func (c *CachedDisk) Read(a common.Bnum) (Block, error) {
	buf := make(Block, c.BlockSize())
	err := c.ReadTo(a, buf)
	return buf, err
}

func (c *CachedDisk) Write(a common.Bnum, v Block) error {
	if err := c.inner.Write(a, v); err != nil {
		c.cache.Remove(a)
		return err
	}
	c.cache.Add(a, util.CloneByteSlice(v))
	return nil
}

func (c *CachedDisk) WriteBatch(startPos common.Bnum, blocks []Block) error {
	for i, buf := range blocks {
		if err := c.Write(startPos+int64(i), buf); err != nil {
			return err
		}
	}
	return nil
}

func (c *CachedDisk) Size() int64 {
	return c.inner.Size()
}

func (c *CachedDisk) Barrier() error {
	return c.inner.Barrier()
}

// Cached reports whether block a is currently held in the cache.
func (c *CachedDisk) Cached(a common.Bnum) bool {
	return c.cache.Contains(a)
}

func (c *CachedDisk) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
