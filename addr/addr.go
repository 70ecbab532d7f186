package addr

import (
	"github.com/mit-pdos/go-myfs/common"
)

// Addr identifies the location of a bitmap bit.
//
// Blkno is the block number containing the bit, and Off is the bit offset of
// the bit within the block.
type Addr struct {
	Blkno common.Bnum
	Off   int64 // offset in bits
}

func MkAddr(blkno common.Bnum, off int64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// MkBitAddr locates bit n of a bitmap stored from block start on.
func MkBitAddr(start common.Bnum, n int64, bitsPerBlock int64) Addr {
	bit := n % bitsPerBlock
	i := n / bitsPerBlock
	return MkAddr(start+i, bit)
}

// BitSpan returns the first bitmap block holding any of bits [first, last]
// and how many consecutive blocks the range covers.
func BitSpan(start common.Bnum, first int64, last int64, bitsPerBlock int64) (common.Bnum, int64) {
	a0 := MkBitAddr(start, first, bitsPerBlock)
	a1 := MkBitAddr(start, last, bitsPerBlock)
	return a0.Blkno, a1.Blkno - a0.Blkno + 1
}
