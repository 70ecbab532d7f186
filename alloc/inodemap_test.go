package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/disk"
)

func TestInodeMap(t *testing.T) {
	assert := assert.New(t)
	max := int64(32)
	d := disk.NewMemDisk(16, 512)
	imap, err := CreateInodeMap(d, nil, 3, max)
	require.NoError(t, err)

	assert.Equal(max-1, imap.NumFree(), "everything (but 0) should be initially free")
	assert.False(imap.IsAllocated(0))

	n, err := imap.AllocNum()
	require.NoError(t, err)
	assert.NotEqual(common.NULLINUM, n, "should not allocate 0")
	assert.True(imap.IsAllocated(n))

	n2, err := imap.AllocNum()
	require.NoError(t, err)
	assert.NotEqual(n, n2)
	assert.Equal(max-3, imap.NumFree())

	assert.NoError(imap.FreeNum(n))
	assert.False(imap.IsAllocated(n))
	assert.Equal(max-2, imap.NumFree(), "should have freed")

	n3, err := imap.AllocNum()
	require.NoError(t, err)
	assert.Equal(n, n3, "a freed number is the next one handed out")

	assert.ErrorIs(imap.FreeNum(common.NULLINUM), common.ErrInvalid)
	assert.ErrorIs(imap.FreeNum(common.Inum(max)), common.ErrInvalid)
}

func TestInodeMapExhaustion(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(16, 512)
	imap, err := CreateInodeMap(d, nil, 3, 8)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := imap.AllocNum()
		require.NoError(t, err)
	}
	_, err = imap.AllocNum()
	assert.ErrorIs(err, common.ErrNoInodes)

	var inums []common.Inum
	imap.Apply(func(inum common.Inum) { inums = append(inums, inum) })
	assert.Equal([]common.Inum{1, 2, 3, 4, 5, 6, 7}, inums)
}

func TestInodeMapLoad(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(16, 512)
	imap, err := CreateInodeMap(d, nil, 3, 100)
	require.NoError(t, err)
	n, err := imap.AllocNum()
	require.NoError(t, err)
	imap.Close()
	_, err = imap.AllocNum()
	assert.ErrorIs(err, common.ErrNotMounted)

	imap, err = LoadInodeMap(d, nil, 3, 100, false)
	require.NoError(t, err)
	assert.True(imap.IsAllocated(n))
	assert.Equal(int64(98), imap.NumFree())

	// the map lives in its own block and leaves its neighbours alone
	blk, _ := d.Read(2)
	assert.Equal(make([]byte, 512), blk)
	blk, _ = d.Read(3)
	assert.Equal(byte(0x3), blk[0])
}

func TestInodeMapLoadReadOnly(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(16, 512)
	_, err := CreateInodeMap(d, nil, 3, 100)
	require.NoError(t, err)
	require.NoError(t, d.Write(3, make([]byte, 512)))

	imap, err := LoadInodeMap(d, nil, 3, 100, true)
	require.NoError(t, err)
	assert.Equal(int64(99), imap.NumFree(), "inode 0 is reserved again")
	blk, _ := d.Read(3)
	assert.Equal(make([]byte, 512), blk, "a read-only load leaves the disk alone")

	_, err = LoadInodeMap(d, nil, 3, 100, false)
	require.NoError(t, err)
	blk, _ = d.Read(3)
	assert.Equal(byte(0x1), blk[0])
}

func TestInodeMapTooSmall(t *testing.T) {
	_, err := CreateInodeMap(disk.NewMemDisk(16, 512), nil, 3, 1)
	assert.ErrorIs(t, err, common.ErrInvalid)
}
