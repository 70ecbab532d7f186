package bitvec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetTest(t *testing.T) {
	assert := assert.New(t)
	bv := New(130)
	for _, i := range []int64{0, 1, 63, 64, 65, 127, 129} {
		assert.False(bv.Test(i))
		assert.True(bv.Set(i))
		assert.True(bv.Test(i), "bit %d", i)
	}
	assert.Equal(int64(7), bv.Count())
	assert.True(bv.Clear(64))
	assert.False(bv.Test(64))
	assert.True(bv.Test(63))
	assert.True(bv.Test(65))
}

func TestOutOfRange(t *testing.T) {
	assert := assert.New(t)
	bv := New(10)
	assert.False(bv.Set(10))
	assert.False(bv.Set(-1))
	assert.False(bv.Clear(10))
	assert.False(bv.Test(10), "out of range reads as clear")
	assert.False(bv.Test(-5))
	assert.False(bv.ClearRange(5, 6))
	assert.True(bv.ClearRange(5, 5))
	assert.False(bv.TestRange(8, 3, false))
}

func TestClearUpdatesHint(t *testing.T) {
	assert := assert.New(t)
	bv := New(100)
	_, _, ok := bv.FindFreeRange(100)
	assert.True(ok)
	_, _, ok = bv.FindFreeRange(1)
	assert.False(ok)
	assert.True(bv.full)

	bv.Clear(42)
	assert.False(bv.full)
	assert.Equal(int64(42), bv.nextFree)
	start, _, ok := bv.FindFreeRange(1)
	assert.True(ok)
	assert.Equal(int64(42), start)
}

func TestFindFreeRangeArgs(t *testing.T) {
	assert := assert.New(t)
	bv := New(64)
	_, _, ok := bv.FindFreeRange(0)
	assert.False(ok)
	_, _, ok = bv.FindFreeRange(-3)
	assert.False(ok)
	_, _, ok = bv.FindFreeRange(65)
	assert.False(ok)
	assert.Equal(int64(0), bv.Count(), "failed searches change nothing")
}

func TestFindFreeRangeNoOverlap(t *testing.T) {
	assert := assert.New(t)
	bv := New(1000)
	s1, _, ok := bv.FindFreeRange(100)
	assert.True(ok)
	s2, _, ok := bv.FindFreeRange(100)
	assert.True(ok)
	assert.True(s1+100 <= s2 || s2+100 <= s1, "%d and %d overlap", s1, s2)
	assert.True(bv.TestRange(s1, 100, true))
	assert.True(bv.TestRange(s2, 100, true))
	assert.Equal(int64(200), bv.Count())
}

func TestRunCrossesWords(t *testing.T) {
	assert := assert.New(t)
	bv := New(256)
	for i := int64(0); i < 60; i++ {
		bv.Set(i)
	}
	bv.Set(80)
	start, _, ok := bv.FindFreeRange(20)
	assert.True(ok)
	assert.Equal(int64(60), start)
	assert.True(bv.TestRange(60, 20, true))
	assert.Equal(int64(81), bv.Count())
}

func TestResumePastFailedRun(t *testing.T) {
	assert := assert.New(t)
	bv := New(192)
	// free runs of 10 separated by single set bits, then a long free tail
	for i := int64(10); i < 150; i += 11 {
		bv.Set(i)
	}
	start, largest, ok := bv.FindFreeRange(30)
	assert.True(ok)
	assert.Equal(int64(143), start)
	assert.Equal(int64(30), largest)
}

func TestLargestReported(t *testing.T) {
	assert := assert.New(t)
	bv := New(128)
	bv.setRange(0, 128)
	bv.ClearRange(3, 5)
	bv.ClearRange(70, 9)
	bv.ClearRange(100, 2)
	_, largest, ok := bv.FindFreeRange(10)
	assert.False(ok)
	assert.Equal(int64(9), largest)
	assert.False(bv.full, "free bits exist")

	start, _, ok := bv.FindFreeRange(9)
	assert.True(ok)
	assert.Equal(int64(70), start)
}

func TestRunToEnd(t *testing.T) {
	assert := assert.New(t)
	bv := New(200)
	bv.setRange(0, 190)
	_, largest, ok := bv.FindFreeRange(20)
	assert.False(ok)
	assert.Equal(int64(10), largest)

	start, _, ok := bv.FindFreeRange(10)
	assert.True(ok)
	assert.Equal(int64(190), start)
	assert.Equal(int64(200), bv.Count())

	_, _, ok = bv.FindFreeRange(1)
	assert.False(ok)
	assert.True(bv.full)
}

func TestFullShortCircuits(t *testing.T) {
	assert := assert.New(t)
	bv := New(64)
	bv.setRange(0, 64)
	_, _, ok := bv.FindFreeRange(1)
	assert.False(ok)
	assert.True(bv.full)

	// a raw word edit does not reset the cache, Clear does
	bv.words[0] = 0
	_, _, ok = bv.FindFreeRange(1)
	assert.False(ok)
	bv.Clear(0)
	_, _, ok = bv.FindFreeRange(1)
	assert.True(ok)
}

func TestHintAdvances(t *testing.T) {
	assert := assert.New(t)
	bv := New(300)
	start, _, ok := bv.FindFreeRange(10)
	assert.True(ok)
	assert.Equal(int64(0), start)
	assert.Equal(int64(10), bv.nextFree)

	// the bit after the run is in use, so the hint stays put
	bv.Set(20)
	start, _, ok = bv.FindFreeRange(10)
	assert.True(ok)
	assert.Equal(int64(10), start)
	assert.Equal(int64(10), bv.nextFree)

	// the search starts at the beginning of the hint's word
	bv = New(300)
	bv.SetHint(130)
	start, _, ok = bv.FindFreeRange(1)
	assert.True(ok)
	assert.Equal(int64(128), start)
}

func TestWrapAround(t *testing.T) {
	assert := assert.New(t)
	bv := New(256)
	bv.setRange(128, 128)
	bv.SetHint(200)
	start, _, ok := bv.FindFreeRange(64)
	assert.True(ok)
	assert.Equal(int64(0), start)
}

func TestFromWords(t *testing.T) {
	assert := assert.New(t)
	bv := FromWords(70, []uint64{0x3, 1 << 5})
	assert.True(bv.Test(0))
	assert.True(bv.Test(1))
	assert.True(bv.Test(69))
	assert.Equal(int64(3), bv.Count())

	// garbage past the last bit is not counted
	bv = FromWords(66, []uint64{0, 0xff})
	assert.Equal(int64(2), bv.Count())
}

func naiveHasRun(model []bool, n int) bool {
	run := 0
	for _, used := range model {
		if used {
			run = 0
			continue
		}
		run++
		if run >= n {
			return true
		}
	}
	return false
}

// A wrong hint may slow a search down but never changes whether it
// succeeds.
func TestAgainstModel(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const nbits = 517
	bv := New(nbits)
	model := make([]bool, nbits)
	for iter := 0; iter < 5000; iter++ {
		switch rng.Intn(4) {
		case 0, 1:
			n := rng.Intn(40) + 1
			expect := naiveHasRun(model, n)
			bv.SetHint(int64(rng.Intn(nbits)))
			start, _, ok := bv.FindFreeRange(int64(n))
			require.Equal(t, expect, ok, "iter %d: run of %d", iter, n)
			if ok {
				for i := start; i < start+int64(n); i++ {
					require.False(t, model[i], "iter %d: bit %d double allocated", iter, i)
					model[i] = true
				}
			}
		case 2:
			start := rng.Intn(nbits)
			n := rng.Intn(nbits-start) + 1
			require.True(t, bv.ClearRange(int64(start), int64(n)))
			for i := start; i < start+n; i++ {
				model[i] = false
			}
		case 3:
			i := rng.Intn(nbits)
			bv.Clear(int64(i))
			model[i] = false
		}
		used := int64(0)
		for _, b := range model {
			if b {
				used++
			}
		}
		require.Equal(t, used, bv.Count())
	}
}
