// buf manages disk blocks whose contents are packed 64-bit words: block
// addresses in indirect blocks, and bitmap words in the bitmaps.
package buf

import (
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/disk"
	"github.com/mit-pdos/go-myfs/util"
)

// A Buf is an in-memory copy of one disk block
type Buf struct {
	Blkno common.Bnum
	Data  []byte
	dirty bool // has this block been written to?
}

func MkBuf(blkno common.Bnum, data []byte) *Buf {
	b := &Buf{
		Blkno: blkno,
		Data:  data,
		dirty: false,
	}
	return b
}

// MkBufZero returns a zero-filled buffer for blkno, already marked dirty.
func MkBufZero(blkno common.Bnum, blockSize int64) *Buf {
	b := MkBuf(blkno, make([]byte, blockSize))
	b.SetDirty()
	return b
}

// Load block blkno from d into a new buf
func MkBufLoad(d disk.Disk, blkno common.Bnum) (*Buf, error) {
	blk, err := d.Read(blkno)
	if err != nil {
		return nil, common.IOError("read", blkno, err)
	}
	return MkBuf(blkno, blk), nil
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}

// NumSlots is the number of block addresses the buf holds.
func (buf *Buf) NumSlots() int64 {
	return int64(len(buf.Data)) / common.ADDRSZ
}

func (buf *Buf) BnumGet(slot int64) common.Bnum {
	off := slot * common.ADDRSZ
	dec := marshal.NewDec(buf.Data[off : off+common.ADDRSZ])
	return common.Bnum(dec.GetInt())
}

func (buf *Buf) BnumPut(slot int64, v common.Bnum) {
	off := slot * common.ADDRSZ
	enc := marshal.NewEnc(uint64(common.ADDRSZ))
	enc.PutInt(uint64(v))
	copy(buf.Data[off:off+common.ADDRSZ], enc.Finish())
	buf.SetDirty()
}

// Words decodes the whole block as little-endian 64-bit words.
func (buf *Buf) Words() []uint64 {
	dec := marshal.NewDec(buf.Data)
	return dec.GetInts(uint64(buf.NumSlots()))
}

// PutWords encodes words into the block, zero-filling whatever they do not
// cover.
func (buf *Buf) PutWords(words []uint64) {
	enc := marshal.NewEnc(uint64(len(buf.Data)))
	enc.PutInts(words)
	copy(buf.Data, enc.Finish())
	buf.SetDirty()
}

// WriteDirect writes the buf straight to d, bypassing any journal.
func (buf *Buf) WriteDirect(d disk.Disk) error {
	util.DPrintf(15, "%d: write direct\n", buf.Blkno)
	if err := d.Write(buf.Blkno, buf.Data); err != nil {
		return common.IOError("write", buf.Blkno, err)
	}
	buf.dirty = false
	return nil
}
