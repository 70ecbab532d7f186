// Package dstream maps the bytes of a file onto disk blocks through the
// direct, indirect, and double-indirect tiers of its data stream, growing
// and shrinking the mapping as the file changes size.
//
// A Mapper is not internally synchronized: the caller must hold the inode's
// lock across every call that is given that inode.
package dstream

import (
	"fmt"
	"time"

	"github.com/mit-pdos/go-myfs/alloc"
	"github.com/mit-pdos/go-myfs/buf"
	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/disk"
	"github.com/mit-pdos/go-myfs/inode"
	"github.com/mit-pdos/go-myfs/util"
)

// Allocator hands out and takes back runs of blocks.
type Allocator interface {
	Allocate(n int64, policy alloc.Policy) (int64, int64, error)
	Free(start int64, n int64) error
}

// Store persists the metadata a size change affects besides the stream's
// own blocks.
type Store interface {
	UpdateInode(ip *inode.Inode) error
	WriteSuper() error
}

type Mapper struct {
	d     disk.Disk
	alloc Allocator
	store Store
	geo   Geometry
	pool  *buf.Pool
	Now   func() time.Time
}

func MkMapper(d disk.Disk, a Allocator, store Store, geo Geometry) *Mapper {
	return &Mapper{
		d:     d,
		alloc: a,
		store: store,
		geo:   geo,
		pool:  buf.MkPool(geo.BlockSize),
		Now:   time.Now,
	}
}

func (m *Mapper) Geometry() Geometry {
	return m.geo
}

func (m *Mapper) checkAddr(op string, a common.Bnum) error {
	if a <= common.SUPERBLK || a >= m.geo.NumBlocks {
		return common.Corrupt(op, a, "block address out of range (volume has %d blocks)",
			m.geo.NumBlocks)
	}
	return nil
}

func (m *Mapper) readIndex(op string, a common.Bnum) (*buf.Buf, error) {
	if err := m.checkAddr(op, a); err != nil {
		return nil, err
	}
	return buf.MkBufLoad(m.d, a)
}

func (m *Mapper) translate(ds *inode.DataStream, pos int64) (common.Bnum, error) {
	if pos < 0 {
		return 0, fmt.Errorf("translate offset %d: %w", pos, common.ErrInvalid)
	}
	s := m.geo.locate(pos / m.geo.BlockSize)
	var a common.Bnum
	switch s.tier {
	case tierDirect:
		a = ds.Direct[s.i]
	case tierIndirect:
		idx, err := m.readIndex("translate", ds.Indirect)
		if err != nil {
			return 0, err
		}
		a = idx.BnumGet(s.i)
	case tierDouble:
		l1, err := m.readIndex("translate", ds.DoubleIndirect)
		if err != nil {
			return 0, err
		}
		l2, err := m.readIndex("translate", l1.BnumGet(s.i))
		if err != nil {
			return 0, err
		}
		a = l2.BnumGet(s.j)
	default:
		return 0, fmt.Errorf("translate offset %d: %w", pos, common.ErrTooBig)
	}
	if err := m.checkAddr("translate", a); err != nil {
		return 0, err
	}
	return a, nil
}

// Translate returns the block holding byte pos of the file.
func (m *Mapper) Translate(ip *inode.Inode, pos int64) (common.Bnum, error) {
	return m.translate(&ip.Data, pos)
}

func (m *Mapper) allocBlock() (common.Bnum, error) {
	a, _, err := m.alloc.Allocate(1, alloc.Exact)
	if err != nil {
		return 0, err
	}
	if err := m.checkAddr("allocate", a); err != nil {
		return 0, err
	}
	return a, nil
}

func (m *Mapper) zeroBlock(a common.Bnum) error {
	blk := m.pool.Get()
	defer m.pool.Put(blk)
	if err := m.d.Write(a, blk); err != nil {
		return common.IOError("write", a, err)
	}
	return nil
}

// indexBlock returns the index block at a, loading it once per operation.
// fresh means the block must not exist yet: a new one is allocated and
// zeroed instead.
func (m *Mapper) indexBlock(dirty *buf.BufMap, a common.Bnum, fresh bool) (*buf.Buf, error) {
	if fresh {
		if a != 0 {
			return nil, common.Corrupt("grow", a, "index block allocated past end of file")
		}
		na, err := m.allocBlock()
		if err != nil {
			return nil, err
		}
		b := buf.MkBufZero(na, m.geo.BlockSize)
		dirty.Insert(b)
		return b, nil
	}
	if b := dirty.Lookup(a); b != nil {
		return b, nil
	}
	b, err := m.readIndex("grow", a)
	if err != nil {
		return nil, err
	}
	dirty.Insert(b)
	return b, nil
}

func (m *Mapper) flush(dirty *buf.BufMap) error {
	for _, b := range dirty.Bufs() {
		if !b.IsDirty() {
			continue
		}
		if err := b.WriteDirect(m.d); err != nil {
			return err
		}
	}
	return nil
}

// zeroTail clears the unused end of the file's last block, which may hold
// bytes left over from a shrink.
func (m *Mapper) zeroTail(ds *inode.DataStream) error {
	off := ds.Size % m.geo.BlockSize
	if off == 0 {
		return nil
	}
	a, err := m.translate(ds, ds.Size)
	if err != nil {
		return err
	}
	blk := m.pool.Get()
	defer m.pool.Put(blk)
	if err := m.d.ReadTo(a, blk); err != nil {
		return common.IOError("read", a, err)
	}
	for i := off; i < m.geo.BlockSize; i++ {
		blk[i] = 0
	}
	if err := m.d.Write(a, blk); err != nil {
		return common.IOError("write", a, err)
	}
	return nil
}

// newIndex is an index block allocated by the current Grow that no data
// block hangs off yet.
type newIndex struct {
	b      *buf.Buf
	unlink func()
}

// dropIndexes frees index blocks that ended up empty and clears the slots
// pointing at them, so every slot past the end of the file stays zero.
func (m *Mapper) dropIndexes(dirty *buf.BufMap, idx []newIndex) error {
	var ferr error
	for i := len(idx) - 1; i >= 0; i-- {
		x := idx[i]
		x.unlink()
		dirty.Del(x.b.Blkno)
		if err := m.alloc.Free(x.b.Blkno, 1); err != nil && ferr == nil {
			ferr = err
		}
	}
	return ferr
}

// Grow extends the file to newSize bytes, mapping zeroed blocks for every
// block it adds. If allocation fails part way, the stream keeps the blocks
// already added and Size covers exactly those.
func (m *Mapper) Grow(ip *inode.Inode, newSize int64) (err error) {
	ds := &ip.Data
	if newSize < ds.Size {
		return fmt.Errorf("grow inode %d from %d to %d: %w",
			ip.Inum, ds.Size, newSize, common.ErrInvalid)
	}
	if newSize > m.geo.MaxDouble {
		return fmt.Errorf("grow inode %d to %d: %w", ip.Inum, newSize, common.ErrTooBig)
	}
	if newSize == ds.Size {
		return nil
	}
	if err := m.zeroTail(ds); err != nil {
		return err
	}
	cur := m.geo.blocks(ds.Size)
	want := m.geo.blocks(newSize)
	if cur == want {
		ds.Size = newSize
		return nil
	}
	util.DPrintf(5, "Grow inode %d: %d -> %d blocks\n", ip.Inum, cur, want)

	bs := m.geo.BlockSize
	ds.Size = cur * bs
	dirty := buf.MkBufMap()
	var fresh []newIndex
	defer func() {
		if err != nil {
			if derr := m.dropIndexes(dirty, fresh); derr != nil {
				util.DPrintf(0, "Grow inode %d: release index blocks: %v\n", ip.Inum, derr)
			}
		}
		if werr := m.flush(dirty); err == nil {
			err = werr
		}
	}()

	var ind, dbl, leaf *buf.Buf
	leafSlot := int64(-1)
	for b := cur; b < want; b++ {
		s := m.geo.locate(b)
		var a common.Bnum
		switch s.tier {
		case tierDirect:
			if ds.Direct[s.i] != 0 {
				return common.Corrupt("grow", ds.Direct[s.i],
					"inode %d: direct[%d] set past end of file", ip.Inum, s.i)
			}
			if a, err = m.allocBlock(); err != nil {
				return err
			}
			ds.Direct[s.i] = a
		case tierIndirect:
			if ind == nil {
				if ind, err = m.indexBlock(dirty, ds.Indirect, s.i == 0); err != nil {
					return err
				}
				ds.Indirect = ind.Blkno
				if s.i == 0 {
					fresh = append(fresh, newIndex{ind, func() { ds.Indirect = 0 }})
				}
			}
			if x := ind.BnumGet(s.i); x != 0 {
				return common.Corrupt("grow", x,
					"inode %d: indirect[%d] set past end of file", ip.Inum, s.i)
			}
			if a, err = m.allocBlock(); err != nil {
				return err
			}
			ind.BnumPut(s.i, a)
		case tierDouble:
			if dbl == nil {
				top := s.i == 0 && s.j == 0
				if dbl, err = m.indexBlock(dirty, ds.DoubleIndirect, top); err != nil {
					return err
				}
				ds.DoubleIndirect = dbl.Blkno
				if top {
					fresh = append(fresh, newIndex{dbl, func() { ds.DoubleIndirect = 0 }})
				}
			}
			if leafSlot != s.i {
				if leaf, err = m.indexBlock(dirty, dbl.BnumGet(s.i), s.j == 0); err != nil {
					return err
				}
				dbl.BnumPut(s.i, leaf.Blkno)
				leafSlot = s.i
				if s.j == 0 {
					parent, i := dbl, s.i
					fresh = append(fresh, newIndex{leaf, func() { parent.BnumPut(i, 0) }})
				}
			}
			if x := leaf.BnumGet(s.j); x != 0 {
				return common.Corrupt("grow", x,
					"inode %d: double[%d][%d] set past end of file", ip.Inum, s.i, s.j)
			}
			if a, err = m.allocBlock(); err != nil {
				return err
			}
			leaf.BnumPut(s.j, a)
		default:
			return fmt.Errorf("grow inode %d: %w", ip.Inum, common.ErrTooBig)
		}
		fresh = fresh[:0]
		ds.Size += bs
		if err = m.zeroBlock(a); err != nil {
			return err
		}
	}
	ds.Size = newSize
	return nil
}

// freer batches frees of adjacent blocks into runs. It keeps going after a
// failed bitmap write and reports the first failure at the end.
type freer struct {
	m     *Mapper
	start common.Bnum
	n     int64
	err   error
}

func (f *freer) free(a common.Bnum) error {
	if err := f.m.checkAddr("shrink", a); err != nil {
		return err
	}
	if f.n > 0 && a == f.start+f.n {
		f.n++
		return nil
	}
	f.flush()
	f.start, f.n = a, 1
	return nil
}

func (f *freer) flush() {
	if f.n == 0 {
		return
	}
	if err := f.m.alloc.Free(f.start, f.n); err != nil && f.err == nil {
		f.err = err
	}
	f.n = 0
}

func (m *Mapper) shrinkDouble(ds *inode.DataStream, first int64, f *freer, dirty *buf.BufMap) error {
	per := m.geo.PerBlock
	l1, err := m.readIndex("shrink", ds.DoubleIndirect)
	if err != nil {
		return err
	}
	i0, j0 := first/per, first%per
	for i := i0; i < per; i++ {
		la := l1.BnumGet(i)
		if la == 0 {
			break
		}
		l2, err := m.readIndex("shrink", la)
		if err != nil {
			return err
		}
		j := int64(0)
		if i == i0 {
			j = j0
		}
		keepLeaf := j > 0
		for ; j < per; j++ {
			a := l2.BnumGet(j)
			if a == 0 {
				break
			}
			if err := f.free(a); err != nil {
				return err
			}
			l2.BnumPut(j, 0)
		}
		if keepLeaf {
			dirty.Insert(l2)
			continue
		}
		if err := f.free(la); err != nil {
			return err
		}
		l1.BnumPut(i, 0)
	}
	if first == 0 {
		if err := f.free(ds.DoubleIndirect); err != nil {
			return err
		}
		ds.DoubleIndirect = 0
	} else {
		dirty.Insert(l1)
	}
	return nil
}

// Shrink truncates the file to newSize bytes and frees every block past the
// new end, top tier first, zeroing each freed slot.
func (m *Mapper) Shrink(ip *inode.Inode, newSize int64) (err error) {
	ds := &ip.Data
	if newSize < 0 || newSize > ds.Size {
		return fmt.Errorf("shrink inode %d from %d to %d: %w",
			ip.Inum, ds.Size, newSize, common.ErrInvalid)
	}
	keep := m.geo.blocks(newSize)
	cur := m.geo.blocks(ds.Size)
	if keep == cur {
		ds.Size = newSize
		return nil
	}
	util.DPrintf(5, "Shrink inode %d: %d -> %d blocks\n", ip.Inum, cur, keep)

	per := m.geo.PerBlock
	f := &freer{m: m}
	dirty := buf.MkBufMap()
	defer func() {
		f.flush()
		if werr := m.flush(dirty); err == nil {
			err = werr
		}
		if err == nil {
			err = f.err
		}
	}()

	if ds.DoubleIndirect != 0 {
		first := util.Max(keep-common.NDIRECT-per, 0)
		if err := m.shrinkDouble(ds, first, f, dirty); err != nil {
			return err
		}
	}

	if ds.Indirect != 0 && keep < common.NDIRECT+per {
		first := util.Max(keep-common.NDIRECT, 0)
		idx, err := m.readIndex("shrink", ds.Indirect)
		if err != nil {
			return err
		}
		for i := first; i < per; i++ {
			a := idx.BnumGet(i)
			if a == 0 {
				break
			}
			if err := f.free(a); err != nil {
				return err
			}
			idx.BnumPut(i, 0)
		}
		if first == 0 {
			if err := f.free(ds.Indirect); err != nil {
				return err
			}
			ds.Indirect = 0
		} else {
			dirty.Insert(idx)
		}
	}

	for i := keep; i < common.NDIRECT; i++ {
		a := ds.Direct[i]
		if a == 0 {
			break
		}
		if err := f.free(a); err != nil {
			return err
		}
		ds.Direct[i] = 0
	}
	ds.Size = newSize
	return nil
}

func (m *Mapper) persist(ip *inode.Inode) error {
	if err := m.store.UpdateInode(ip); err != nil {
		return err
	}
	return m.store.WriteSuper()
}

// SetSize grows or shrinks the file to newSize and persists the inode and
// superblock. Setting the current size does nothing.
func (m *Mapper) SetSize(ip *inode.Inode, newSize int64) error {
	if newSize < 0 {
		return fmt.Errorf("set size of inode %d to %d: %w", ip.Inum, newSize, common.ErrInvalid)
	}
	if newSize == ip.Data.Size {
		return nil
	}
	var err error
	if newSize < ip.Data.Size {
		err = m.Shrink(ip, newSize)
	} else {
		err = m.Grow(ip, newSize)
	}
	ip.Mtime = m.Now().UnixNano()
	if perr := m.persist(ip); err == nil {
		err = perr
	}
	return err
}

// Free releases every block of the stream, as when the file is deleted.
func (m *Mapper) Free(ip *inode.Inode) error {
	err := m.Shrink(ip, 0)
	if perr := m.persist(ip); err == nil {
		err = perr
	}
	return err
}

// Read copies file bytes starting at pos into p. It returns fewer than
// len(p) bytes only at end of file or on error.
func (m *Mapper) Read(ip *inode.Inode, pos int64, p []byte) (int, error) {
	if pos < 0 {
		return 0, fmt.Errorf("read inode %d at %d: %w", ip.Inum, pos, common.ErrInvalid)
	}
	size := ip.Data.Size
	if len(p) == 0 || pos >= size {
		return 0, nil
	}
	bs := m.geo.BlockSize
	n := util.Min(int64(len(p)), size-pos)
	var done int64
	for done < n {
		a, err := m.translate(&ip.Data, pos+done)
		if err != nil {
			return int(done), err
		}
		off := (pos + done) % bs
		amt := util.Min(bs-off, n-done)
		if off == 0 && amt == bs {
			err = m.d.ReadTo(a, p[done:done+bs])
		} else {
			blk := m.pool.Get()
			err = m.d.ReadTo(a, blk)
			copy(p[done:done+amt], blk[off:])
			m.pool.Put(blk)
		}
		if err != nil {
			return int(done), common.IOError("read", a, err)
		}
		done += amt
	}
	return int(n), nil
}

// Write copies p into the file at pos, first growing the file if the write
// ends past its current size.
func (m *Mapper) Write(ip *inode.Inode, pos int64, p []byte) (int, error) {
	if pos < 0 {
		return 0, fmt.Errorf("write inode %d at %d: %w", ip.Inum, pos, common.ErrInvalid)
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := int64(len(p))
	if util.SumOverflows(pos, n) {
		return 0, fmt.Errorf("write inode %d at %d: %w", ip.Inum, pos, common.ErrTooBig)
	}
	if pos+n > ip.Data.Size {
		err := m.Grow(ip, pos+n)
		ip.Mtime = m.Now().UnixNano()
		if perr := m.persist(ip); err == nil {
			err = perr
		}
		if err != nil {
			return 0, err
		}
	}

	bs := m.geo.BlockSize
	var done int64
	for done < n {
		a, err := m.translate(&ip.Data, pos+done)
		if err != nil {
			return int(done), err
		}
		off := (pos + done) % bs
		amt := util.Min(bs-off, n-done)
		if off == 0 && amt == bs {
			err = m.d.Write(a, p[done:done+bs])
		} else {
			blk := m.pool.Get()
			err = m.d.ReadTo(a, blk)
			if err == nil {
				copy(blk[off:off+amt], p[done:done+amt])
				err = m.d.Write(a, blk)
			}
			m.pool.Put(blk)
		}
		if err != nil {
			return int(done), common.IOError("write", a, err)
		}
		done += amt
	}
	ip.Mtime = m.Now().UnixNano()
	if err := m.store.UpdateInode(ip); err != nil {
		return int(n), err
	}
	return int(n), nil
}

// Walk calls f on every block the stream references, index blocks
// included, whether or not it lies within the file's size.
func (m *Mapper) Walk(ip *inode.Inode, f func(a common.Bnum, index bool) error) error {
	ds := &ip.Data
	visit := func(a common.Bnum, index bool) error {
		if err := m.checkAddr("walk", a); err != nil {
			return err
		}
		return f(a, index)
	}
	for _, a := range ds.Direct {
		if a == 0 {
			continue
		}
		if err := visit(a, false); err != nil {
			return err
		}
	}
	walkIndex := func(a common.Bnum, leaf func(common.Bnum) error) error {
		if err := visit(a, true); err != nil {
			return err
		}
		idx, err := m.readIndex("walk", a)
		if err != nil {
			return err
		}
		for i := int64(0); i < idx.NumSlots(); i++ {
			if x := idx.BnumGet(i); x != 0 {
				if err := leaf(x); err != nil {
					return err
				}
			}
		}
		return nil
	}
	data := func(a common.Bnum) error { return visit(a, false) }
	if ds.Indirect != 0 {
		if err := walkIndex(ds.Indirect, data); err != nil {
			return err
		}
	}
	if ds.DoubleIndirect != 0 {
		err := walkIndex(ds.DoubleIndirect, func(a common.Bnum) error {
			return walkIndex(a, data)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
