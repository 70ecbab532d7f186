package buf

import (
	"sort"

	"github.com/mit-pdos/go-myfs/common"
)

//
// A map from block numbers to bufs.
//

type BufMap struct {
	bufs map[common.Bnum]*Buf
}

func MkBufMap() *BufMap {
	a := &BufMap{
		bufs: make(map[common.Bnum]*Buf),
	}
	return a
}

// Insert replaces any buf already held for the same block.
func (bmap *BufMap) Insert(buf *Buf) {
	bmap.bufs[buf.Blkno] = buf
}

func (bmap *BufMap) Lookup(blkno common.Bnum) *Buf {
	return bmap.bufs[blkno]
}

func (bmap *BufMap) Del(blkno common.Bnum) {
	delete(bmap.bufs, blkno)
}

func (bmap *BufMap) Len() int {
	return len(bmap.bufs)
}

func (bmap *BufMap) Ndirty() int64 {
	n := int64(0)
	for _, buf := range bmap.bufs {
		if buf.dirty {
			n += 1
		}
	}
	return n
}

// Bufs returns the bufs in block order.
func (bmap *BufMap) Bufs() []*Buf {
	bufs := make([]*Buf, 0, len(bmap.bufs))
	for _, b := range bmap.bufs {
		bufs = append(bufs, b)
	}
	sort.Slice(bufs, func(i, j int) bool {
		return bufs[i].Blkno < bufs[j].Blkno
	})
	return bufs
}
