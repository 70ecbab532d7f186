package alloc

import (
	"github.com/mit-pdos/go-myfs/addr"
	"github.com/mit-pdos/go-myfs/bitvec"
	"github.com/mit-pdos/go-myfs/buf"
	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/disk"
	"github.com/mit-pdos/go-myfs/jrnl"
	"github.com/mit-pdos/go-myfs/util"
)

// bitmapStore is the on-disk mirror of a BitVector, stored in nblocks
// consecutive blocks from start on. Writes go through the journal when one
// is configured.
type bitmapStore struct {
	d       disk.Disk
	j       *jrnl.Journal
	start   common.Bnum
	nblocks int64
}

func (s *bitmapStore) blockSize() int64 {
	return s.d.BlockSize()
}

func (s *bitmapStore) wordsPerBlock() int64 {
	return s.blockSize() / 8
}

func (s *bitmapStore) load(numBits int64) (*bitvec.BitVector, error) {
	data := make([]byte, s.nblocks*s.blockSize())
	if _, err := disk.ReadBlocks(s.d, s.start, data, s.nblocks); err != nil {
		return nil, err
	}
	return bitvec.FromWords(numBits, buf.MkBuf(s.start, data).Words()), nil
}

func (s *bitmapStore) blockWords(bv *bitvec.BitVector, i int64) []uint64 {
	words := bv.Words()
	wpb := s.wordsPerBlock()
	first := util.Min(i*wpb, int64(len(words)))
	last := util.Min((i+1)*wpb, int64(len(words)))
	return words[first:last]
}

// writeBlocks persists bitmap blocks [first, first+n) relative to start.
// Through the journal, a range longer than jrnl.MaxOpBlocks is committed as
// several operations.
func (s *bitmapStore) writeBlocks(bv *bitvec.BitVector, first int64, n int64) error {
	var op *jrnl.Op
	if s.j != nil {
		op = s.j.Begin()
	}
	for i := first; i < first+n; i++ {
		b := buf.MkBuf(s.start+i, make([]byte, s.blockSize()))
		b.PutWords(s.blockWords(bv, i))
		if op == nil {
			if err := b.WriteDirect(s.d); err != nil {
				return err
			}
			continue
		}
		op.OverWrite(b.Blkno, b.Data)
		if op.NDirty() == jrnl.MaxOpBlocks {
			if err := op.CommitWait(); err != nil {
				return err
			}
			op = s.j.Begin()
		}
	}
	if op != nil && op.NDirty() > 0 {
		return op.CommitWait()
	}
	return nil
}

func (s *bitmapStore) writeAll(bv *bitvec.BitVector) error {
	return s.writeBlocks(bv, 0, s.nblocks)
}

// writeSpan persists exactly the bitmap blocks holding bits [first, last].
func (s *bitmapStore) writeSpan(bv *bitvec.BitVector, first int64, last int64) error {
	blk, n := addr.BitSpan(s.start, first, last, s.blockSize()*8)
	util.DPrintf(10, "bitmap %d: write blocks [%d, %d) for bits [%d, %d]\n",
		s.start, blk, blk+n, first, last)
	return s.writeBlocks(bv, blk-s.start, n)
}
