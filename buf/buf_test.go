package buf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-myfs/disk"
)

func TestBnumSlots(t *testing.T) {
	assert := assert.New(t)
	b := MkBuf(3, make([]byte, 512))
	assert.Equal(int64(64), b.NumSlots())
	assert.False(b.IsDirty())

	b.BnumPut(0, 77)
	b.BnumPut(63, 1<<40)
	assert.True(b.IsDirty())
	assert.Equal(int64(77), b.BnumGet(0))
	assert.Equal(int64(1<<40), b.BnumGet(63))
	assert.Equal(int64(0), b.BnumGet(1))

	// addresses are little-endian on disk
	assert.Equal(byte(77), b.Data[0])
	assert.Equal(byte(0), b.Data[7])
}

func TestWords(t *testing.T) {
	assert := assert.New(t)
	b := MkBuf(1, make([]byte, 64))
	for i := range b.Data {
		b.Data[i] = 0xff
	}
	b.PutWords([]uint64{1, 0x8000000000000000})
	w := b.Words()
	assert.Len(w, 8)
	assert.Equal(uint64(1), w[0])
	assert.Equal(uint64(0x8000000000000000), w[1])
	assert.Equal(uint64(0), w[7], "uncovered words are zeroed")
	// bit 0 lives in byte 0, bit 127 in byte 15
	assert.Equal(byte(1), b.Data[0])
	assert.Equal(byte(0x80), b.Data[15])
}

func TestWriteDirect(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(4, 512)
	b := MkBufZero(2, 512)
	b.BnumPut(5, 9)
	require.NoError(t, b.WriteDirect(d))
	assert.False(b.IsDirty())

	b2, err := MkBufLoad(d, 2)
	require.NoError(t, err)
	assert.Equal(int64(9), b2.BnumGet(5))

	_, err = MkBufLoad(d, 4)
	assert.Error(err)
}

func TestBufMap(t *testing.T) {
	assert := assert.New(t)
	m := MkBufMap()
	m.Insert(MkBufZero(9, 512))
	m.Insert(MkBuf(2, make([]byte, 512)))
	m.Insert(MkBufZero(5, 512))
	assert.Equal(3, m.Len())
	assert.Equal(int64(2), m.Ndirty())

	bufs := m.Bufs()
	assert.Equal(int64(2), bufs[0].Blkno)
	assert.Equal(int64(5), bufs[1].Blkno)
	assert.Equal(int64(9), bufs[2].Blkno)

	m.Del(5)
	assert.Nil(m.Lookup(5))
	assert.NotNil(m.Lookup(9))
}

func TestPool(t *testing.T) {
	assert := assert.New(t)
	p := MkPool(512)
	b := p.Get()
	assert.Len(b, 512)
	b[0] = 1
	p.Put(b)
	b = p.Get()
	assert.Len(b, 512)
	assert.Equal(byte(0), b[0], "pooled blocks come back zeroed")
}
