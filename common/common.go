package common

const (
	// ADDRSZ is the on-disk size of a block address.
	ADDRSZ int64 = 8

	// NDIRECT is the number of direct block addresses in an inode, chosen so
	// that INODESZ is a power of two.
	NDIRECT = 20

	INODESZ int64 = 256 // on-disk size

	// Block 0 holds the superblock; the block bitmap follows it.
	SUPERBLK     Bnum  = 0
	BITMAPSTART  Bnum  = 1
	NAMELEN            = 32
	MINBLOCKSIZE int64 = 512
)

type Inum int64
type Bnum = int64

const (
	NULLINUM Inum = 0
	ROOTINUM Inum = 1
	NULLBNUM Bnum = 0
)

// NumBitmapBlocks is the number of blocks needed to hold one bit for each of
// n items.
func NumBitmapBlocks(n int64, blockSize int64) int64 {
	nbytes := (n + 7) / 8
	return (nbytes + blockSize - 1) / blockSize
}
