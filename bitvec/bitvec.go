// Package bitvec implements the in-memory bit array behind the block and
// inode bitmaps.
package bitvec

import (
	"math/bits"

	"github.com/mit-pdos/go-myfs/util"
)

const (
	wordBits = 64
	allOnes  = ^uint64(0)
)

// A BitVector tracks numBits units, one bit each; a set bit is in use.
//
// Bit i lives in word i/64 at bit i%64, so the little-endian encoding of the
// words puts bit i in byte i/8 at bit i%8.
type BitVector struct {
	numBits int64
	// nextFree is where the next search starts. It is a hint only: it may
	// name a bit that is in use, and searches are correct regardless.
	nextFree int64
	// full caches a search that found no free bit at all.
	full  bool
	words []uint64
}

func nwords(numBits int64) int64 {
	return (numBits + wordBits - 1) / wordBits
}

func New(numBits int64) *BitVector {
	return &BitVector{
		numBits: numBits,
		words:   make([]uint64, nwords(numBits)),
	}
}

// FromWords builds a vector of numBits bits from stored words. Missing words
// read as zero and extra words are dropped.
func FromWords(numBits int64, words []uint64) *BitVector {
	bv := New(numBits)
	copy(bv.words, words)
	return bv
}

func (bv *BitVector) Len() int64 {
	return bv.numBits
}

// Words exposes the backing words, for persisting them.
func (bv *BitVector) Words() []uint64 {
	return bv.words
}

func (bv *BitVector) inRange(i int64) bool {
	return i >= 0 && i < bv.numBits
}

func (bv *BitVector) Set(i int64) bool {
	if !bv.inRange(i) {
		return false
	}
	bv.words[i/wordBits] |= 1 << uint(i%wordBits)
	return true
}

func (bv *BitVector) Clear(i int64) bool {
	if !bv.inRange(i) {
		return false
	}
	bv.words[i/wordBits] &^= 1 << uint(i%wordBits)
	bv.nextFree = i
	bv.full = false
	return true
}

// Test reports whether bit i is set. Bits outside the vector read as clear.
func (bv *BitVector) Test(i int64) bool {
	if !bv.inRange(i) {
		return false
	}
	return bv.words[i/wordBits]&(1<<uint(i%wordBits)) != 0
}

func (bv *BitVector) rangeOK(start int64, n int64) bool {
	return start >= 0 && n >= 0 && start <= bv.numBits && n <= bv.numBits-start
}

// ClearRange clears bits [start, start+n) and makes start the next search
// position.
func (bv *BitVector) ClearRange(start int64, n int64) bool {
	if !bv.rangeOK(start, n) {
		return false
	}
	for i := start; i < start+n; i++ {
		bv.words[i/wordBits] &^= 1 << uint(i%wordBits)
	}
	bv.nextFree = start
	bv.full = false
	return true
}

func (bv *BitVector) setRange(start int64, n int64) {
	for i := start; i < start+n; i++ {
		bv.words[i/wordBits] |= 1 << uint(i%wordBits)
	}
}

// TestRange reports whether every bit in [start, start+n) is set (set ==
// true) or every one is clear (set == false).
func (bv *BitVector) TestRange(start int64, n int64, set bool) bool {
	if !bv.rangeOK(start, n) {
		return false
	}
	for i := start; i < start+n; i++ {
		if bv.Test(i) != set {
			return false
		}
	}
	return true
}

// freeRun counts clear bits from start, stopping at max, at the first set
// bit, or at the end of the vector.
func (bv *BitVector) freeRun(start int64, max int64) int64 {
	n := int64(0)
	for n < max && start+n < bv.numBits {
		i := start + n
		if i%wordBits == 0 && bv.words[i/wordBits] == 0 && max-n >= wordBits &&
			i+wordBits <= bv.numBits {
			n += wordBits
			continue
		}
		if bv.Test(i) {
			break
		}
		n++
	}
	return n
}

// FindFreeRange finds n consecutive clear bits, sets them, and returns the
// first one. The search visits every word once, circularly, starting at the
// word holding the hint. largest is the longest free run the search saw,
// which callers use to retry with a smaller request.
func (bv *BitVector) FindFreeRange(n int64) (start int64, largest int64, ok bool) {
	if n <= 0 || n > bv.numBits || bv.full {
		return 0, 0, false
	}
	nw := nwords(bv.numBits)
	last := nw - 1
	w := (bv.nextFree / wordBits) % nw
	bit := w * wordBits
	for visited := int64(0); visited < nw; {
		end := util.Min((w+1)*wordBits, bv.numBits)
		if bv.words[w] != allOnes {
			for bit < end {
				free := ^bv.words[w] >> uint(bit%wordBits)
				if free == 0 {
					break
				}
				bit += int64(bits.TrailingZeros64(free))
				if bit >= end {
					break
				}
				run := bv.freeRun(bit, n)
				if run > largest {
					largest = run
				}
				if run == n {
					bv.setRange(bit, n)
					if next := bit + n; next < bv.numBits && !bv.Test(next) {
						bv.nextFree = next
					}
					return bit, largest, true
				}
				next := bit + run
				if next >= bv.numBits {
					// the run reached the end; skip everything it covered
					visited += last - w
					w = last
					break
				}
				// next is a set bit; no run starting before it can be long
				// enough, so carry on just past it
				visited += next/wordBits - w
				w = next / wordBits
				end = util.Min((w+1)*wordBits, bv.numBits)
				bit = next + 1
			}
		}
		visited++
		w = (w + 1) % nw
		bit = w * wordBits
	}
	if largest == 0 {
		bv.full = true
	}
	return 0, largest, false
}

// SetHint moves the next search position; out-of-range values are ignored.
func (bv *BitVector) SetHint(i int64) {
	if bv.inRange(i) {
		bv.nextFree = i
	}
}

// Count returns the number of set bits.
func (bv *BitVector) Count() int64 {
	n := 0
	for w, word := range bv.words {
		if int64(w) == nwords(bv.numBits)-1 && bv.numBits%wordBits != 0 {
			word &= (1 << uint(bv.numBits%wordBits)) - 1
		}
		n += bits.OnesCount64(word)
	}
	return int64(n)
}
