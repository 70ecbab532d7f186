// Package jrnl is the journal hook that metadata writers route through.
//
// The caller begins an operation Op, overwrites whole blocks within it, and
// finally commits the buffered blocks. Reads within an operation see the
// operation's own writes.
//
// There is no on-disk log: CommitWait installs the buffered blocks in place,
// in block order, and then issues a barrier. An operation is therefore not
// atomic across a crash. What the hook does provide is a single place where
// every metadata write of an operation is collected, so that a logging
// implementation can be substituted without touching the writers.
package jrnl

import (
	"fmt"
	"sync"

	"github.com/mit-pdos/go-myfs/buf"
	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/disk"
	"github.com/mit-pdos/go-myfs/util"
)

// MaxOpBlocks is the maximum number of blocks that can be written in one
// operation
const MaxOpBlocks = 511

type Journal struct {
	lock    *sync.Mutex // serializes commits
	d       disk.Disk
	commits int64
	blocks  int64
}

func MkJournal(d disk.Disk) *Journal {
	return &Journal{
		lock: new(sync.Mutex),
		d:    d,
	}
}

// Stats reports how many operations and blocks have been committed.
func (j *Journal) Stats() (commits int64, blocks int64) {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.commits, j.blocks
}

// Op is an in-progress journal operation.
//
// Call CommitWait to persist the operation's writes.
// To abort the operation simply stop using it.
type Op struct {
	j    *Journal
	bufs *buf.BufMap // map of bufs read/written by this operation
}

// Begin starts a local journal operation with no writes.
func (j *Journal) Begin() *Op {
	op := &Op{
		j:    j,
		bufs: buf.MkBufMap(),
	}
	util.DPrintf(5, "Begin: %p\n", op)
	return op
}

func (op *Op) ReadBuf(blkno common.Bnum) (*buf.Buf, error) {
	b := op.bufs.Lookup(blkno)
	if b == nil {
		var err error
		b, err = buf.MkBufLoad(op.j.d, blkno)
		if err != nil {
			return nil, err
		}
		op.bufs.Insert(b)
	}
	return b, nil
}

// OverWrite replaces the contents of block blkno. The operation keeps its own
// copy of data.
func (op *Op) OverWrite(blkno common.Bnum, data []byte) {
	b := op.bufs.Lookup(blkno)
	if b == nil {
		b = buf.MkBuf(blkno, util.CloneByteSlice(data))
		op.bufs.Insert(b)
	} else {
		copy(b.Data, data)
	}
	b.SetDirty()
}

// NDirty reports how many blocks this operation will write when committed.
func (op *Op) NDirty() int64 {
	return op.bufs.Ndirty()
}

// CommitWait writes the operation's dirty blocks to disk and waits for them
// to be durable.
func (op *Op) CommitWait() error {
	n := op.NDirty()
	if n > MaxOpBlocks {
		return fmt.Errorf("operation writes %d blocks (max %d): %w",
			n, MaxOpBlocks, common.ErrTooBig)
	}
	j := op.j
	j.lock.Lock()
	defer j.lock.Unlock()
	util.DPrintf(5, "Commit %p: %d blocks\n", op, n)
	for _, b := range op.bufs.Bufs() {
		if !b.IsDirty() {
			continue
		}
		if err := b.WriteDirect(j.d); err != nil {
			return err
		}
	}
	if err := j.d.Barrier(); err != nil {
		return common.IOError("barrier", 0, err)
	}
	j.commits++
	j.blocks += n
	return nil
}
