package buf

import (
	"git.lukeshu.com/go/typedsync"
)

// Pool hands out zeroed scratch blocks of a single size.
type Pool struct {
	blockSize int64
	inner     typedsync.Pool[[]byte]
}

func MkPool(blockSize int64) *Pool {
	return &Pool{blockSize: blockSize}
}

func (p *Pool) Get() []byte {
	ret, ok := p.inner.Get()
	if !ok || int64(cap(ret)) < p.blockSize {
		return make([]byte, p.blockSize)
	}
	ret = ret[:p.blockSize]
	for i := range ret {
		ret[i] = 0
	}
	return ret
}

func (p *Pool) Put(blk []byte) {
	if blk == nil {
		return
	}
	p.inner.Put(blk)
}
