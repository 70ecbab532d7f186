package dstream

import (
	"fmt"

	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/util"
)

type tier int

const (
	tierDirect tier = iota
	tierIndirect
	tierDouble
	tierOutOfRange
)

func (t tier) String() string {
	switch t {
	case tierDirect:
		return "direct"
	case tierIndirect:
		return "indirect"
	case tierDouble:
		return "double indirect"
	case tierOutOfRange:
		return "out of range"
	}
	panic(fmt.Sprintf("invalid tier: %d", int(t)))
}

// Geometry holds the tier boundaries of a volume, computed once at mount.
// The Max* fields are cumulative byte offsets: a byte at pos lives in the
// direct tier if pos < MaxDirect, and so on.
type Geometry struct {
	BlockSize int64
	NumBlocks int64
	PerBlock  int64 // block addresses per index block

	DirectSize   int64
	IndirectSize int64
	DoubleSize   int64

	MaxDirect   int64
	MaxIndirect int64
	MaxDouble   int64
}

func MkGeometry(blockSize int64, numBlocks int64) Geometry {
	g := Geometry{
		BlockSize: blockSize,
		NumBlocks: numBlocks,
		PerBlock:  blockSize / common.ADDRSZ,
	}
	g.DirectSize = common.NDIRECT * blockSize
	g.IndirectSize = g.PerBlock * blockSize
	g.DoubleSize = g.PerBlock * g.PerBlock * blockSize
	g.MaxDirect = g.DirectSize
	g.MaxIndirect = g.MaxDirect + g.IndirectSize
	g.MaxDouble = g.MaxIndirect + g.DoubleSize
	return g
}

// MaxFileBlocks is the number of data blocks one stream can map.
func (g Geometry) MaxFileBlocks() int64 {
	return g.MaxDouble / g.BlockSize
}

// slot says where the address of file block b is kept. For the indirect
// tier i is the slot in the indirect block; for the double tier i is the
// slot in the top index block and j the slot in the second-level one.
type slot struct {
	tier tier
	i    int64
	j    int64
}

func (g Geometry) locate(b int64) slot {
	switch {
	case b < common.NDIRECT:
		return slot{tier: tierDirect, i: b}
	case b < common.NDIRECT+g.PerBlock:
		return slot{tier: tierIndirect, i: b - common.NDIRECT}
	case b < g.MaxFileBlocks():
		rel := b - common.NDIRECT - g.PerBlock
		return slot{tier: tierDouble, i: rel / g.PerBlock, j: rel % g.PerBlock}
	}
	return slot{tier: tierOutOfRange}
}

// blocks is the number of blocks needed to hold size bytes.
func (g Geometry) blocks(size int64) int64 {
	return util.RoundUp(size, g.BlockSize)
}
