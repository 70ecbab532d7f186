package util

import (
	"log"
	"sync/atomic"
)

// Debug is the current verbosity threshold for DPrintf. Level 0 messages
// are always printed.
var Debug uint64 = 0

func SetDebug(level uint64) {
	atomic.StoreUint64(&Debug, level)
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= atomic.LoadUint64(&Debug) {
		log.Printf(format, a...)
	}
}

// RoundUp returns the number of sz-sized units needed to hold n.
func RoundUp(n int64, sz int64) int64 {
	return (n + sz - 1) / sz
}

func Min(n int64, m int64) int64 {
	if n < m {
		return n
	} else {
		return m
	}
}

func Max(n int64, m int64) int64 {
	if n > m {
		return n
	}
	return m
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}

// SumOverflows reports whether x+y would overflow a non-negative int64.
func SumOverflows(x int64, y int64) bool {
	return x > 0 && y > 0 && x+y < 0
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}
