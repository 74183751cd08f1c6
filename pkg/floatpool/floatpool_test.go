package floatpool

import (
	"sync"
	"testing"
)

func TestGet(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantCap int
	}{
		{"tiny request hits smallest tier", 3, 1 << minBitSize},
		{"exact tier size", 2048, 2048},
		{"rounds up to next tier", 1025, 2048},
		{"largest tier", 1 << maxBitSize, 1 << maxBitSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Get(tt.n)
			if len(buf) != tt.n {
				t.Errorf("len = %d, want %d", len(buf), tt.n)
			}
			if cap(buf) != tt.wantCap {
				t.Errorf("cap = %d, want %d", cap(buf), tt.wantCap)
			}
			Put(buf)
		})
	}
}

func TestGetOversize(t *testing.T) {
	n := 1<<maxBitSize + 1
	buf := Get(n)
	if len(buf) != n {
		t.Fatalf("len = %d, want %d", len(buf), n)
	}
	Put(buf) // dropped, must not corrupt the tiers

	again := Get(1024)
	if cap(again) != 1<<minBitSize {
		t.Errorf("tier corrupted after oversize Put: cap = %d", cap(again))
	}
	Put(again)
}

func TestGetZero(t *testing.T) {
	if buf := Get(0); buf != nil {
		t.Errorf("Get(0) = %v, want nil", buf)
	}
	Put(nil) // must not panic
}

func TestPutForeignCapacity(t *testing.T) {
	// A 1500-cap slice fits no tier exactly; pooling it would hand a later
	// Get(2048) a too-short buffer.
	Put(make([]float64, 1500))
	buf := Get(2048)
	if len(buf) != 2048 || cap(buf) < 2048 {
		t.Fatalf("len, cap = %d, %d after foreign Put, want 2048, >=2048", len(buf), cap(buf))
	}
	Put(buf)
}

func TestConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				buf := Get(4096)
				for j := range buf {
					buf[j] = float64(j)
				}
				Put(buf)
			}
		}()
	}
	wg.Wait()
}
