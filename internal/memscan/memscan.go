// Package memscan locates code inside the host process image by opcode
// signature.
package memscan

import (
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
)

// ErrNotFound is returned when a pattern does not occur in the scanned region.
var ErrNotFound = errors.New("pattern not found")

// Regions below this size are scanned on the calling goroutine.
const parallelThreshold = 1 << 20

// Pattern is an opcode signature. Mask holds one byte per opcode: 'x' marks a
// position that must match Op exactly, '?' marks a wildcard. Mask and Op must
// have the same length.
type Pattern struct {
	Mask string
	Op   []byte
}

func (p Pattern) valid() bool {
	return len(p.Op) > 0 && len(p.Mask) == len(p.Op)
}

func (p Pattern) matchAt(mem []byte, off int) bool {
	for i, want := range p.Op {
		if p.Mask[i] == '?' {
			continue
		}
		if mem[off+i] != want {
			return false
		}
	}
	return true
}

func (p Pattern) findRange(mem []byte, lo, hi int) (int, bool) {
	last := hi - len(p.Op)
	for off := lo; off <= last; off++ {
		if p.matchAt(mem, off) {
			return off, true
		}
	}
	return 0, false
}

// Find returns the offset of the first occurrence of p in mem. Large regions
// are split into overlapping chunks and scanned in parallel.
func (p Pattern) Find(mem []byte) (int, bool) {
	if !p.valid() || len(mem) < len(p.Op) {
		return 0, false
	}
	if len(mem) < parallelThreshold {
		return p.findRange(mem, 0, len(mem))
	}

	workers := runtime.GOMAXPROCS(0)
	chunk := (len(mem) + workers - 1) / workers

	// Lowest matching offset across all chunks, -1 until a chunk matches.
	var first atomic.Int64
	first.Store(-1)

	scanners := pool.New().WithMaxGoroutines(workers)
	for lo := 0; lo < len(mem); lo += chunk {
		lo := lo
		// Overlap into the next chunk so matches spanning the boundary
		// are still seen.
		hi := lo + chunk + len(p.Op) - 1
		if hi > len(mem) {
			hi = len(mem)
		}
		scanners.Go(func() {
			off, ok := p.findRange(mem, lo, hi)
			if !ok {
				return
			}
			for {
				cur := first.Load()
				if cur >= 0 && cur <= int64(off) {
					return
				}
				if first.CompareAndSwap(cur, int64(off)) {
					return
				}
			}
		})
	}
	scanners.Wait()

	if off := first.Load(); off >= 0 {
		return int(off), true
	}
	return 0, false
}
