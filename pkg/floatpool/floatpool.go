// Package floatpool provides sync.Pool-backed []float64 buffers in
// power-of-two tiers. The combination engine leases Monte Carlo matrix rows
// and statistic scratch vectors from it, so repeated combine calls reuse
// their large allocations instead of regrowing them.
package floatpool

import (
	"math/bits"
	"sync"
)

// Tiers run from 1Ki floats (8 KiB) to 16Mi floats (128 MiB). Requests
// beyond the largest tier are allocated directly and never pooled.
const (
	minBitSize = 10
	maxBitSize = 24
	poolSteps  = maxBitSize - minBitSize + 1
)

var pools [poolSteps]sync.Pool

func init() {
	for i := 0; i < poolSteps; i++ {
		size := 1 << (minBitSize + i)
		pools[i].New = func(s int) func() interface{} {
			return func() interface{} {
				buf := make([]float64, s)
				return &buf
			}
		}(size)
	}
}

// poolIndex returns the tier whose buffers hold at least size floats,
// or -1 when the request exceeds the largest tier.
func poolIndex(size int) int {
	if size <= 1<<minBitSize {
		return 0
	}
	idx := bits.Len(uint(size-1)) - minBitSize
	if idx >= poolSteps {
		return -1
	}
	return idx
}

// Get returns a buffer of length n. Contents are not zeroed; callers must
// overwrite every element. Return the buffer via Put when done.
func Get(n int) []float64 {
	if n <= 0 {
		return nil
	}
	idx := poolIndex(n)
	if idx < 0 {
		return make([]float64, n)
	}
	ptr := pools[idx].Get().(*[]float64)
	return (*ptr)[:n]
}

// Put returns a buffer obtained from Get to its tier. Buffers whose
// capacity is not exactly a tier size (nil slices, oversize direct
// allocations, slices from elsewhere) are dropped, never mis-tiered.
func Put(buf []float64) {
	c := cap(buf)
	if c < 1<<minBitSize || c > 1<<maxBitSize {
		return
	}
	idx := bits.Len(uint(c)) - 1 - minBitSize
	if 1<<(minBitSize+idx) != c {
		return
	}
	buf = buf[:c]
	pools[idx].Put(&buf)
}
