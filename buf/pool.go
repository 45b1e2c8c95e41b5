// Package buf implements the pooled buffer discipline the hot path relies
// on to stay allocation-free: Buffer is an owned, resizable byte region
// that returns its storage to a Pool on Release; BufferView is an immutable,
// reference-counted view over one, safe to fan out to many subscribers at
// once.
package buf

import (
	"math/bits"
	"sync"
)

const (
	minClassShift = 12 // 4KiB
	maxClassShift = 22 // 4MiB
	numClasses    = maxClassShift - minClassShift + 1
)

// Pool is a thread-safe free list of detached storages, partitioned into
// power-of-two capacity classes the way a slab allocator would. Pop returns
// the smallest class whose capacity is >= the requested hint; storage above
// the largest class is allocated directly and never pooled.
type Pool struct {
	mu      sync.Mutex
	classes [numClasses][][]byte
}

// NewPool returns a ready-to-use Pool. The zero value is also usable; this
// constructor exists for symmetry with the rest of the package's types.
func NewPool() *Pool { return &Pool{} }

// classFor returns the capacity-class index covering size, or -1 if size
// exceeds the largest pooled class.
func classFor(size int) int {
	if size <= 0 {
		return 0
	}
	shift := bits.Len(uint(size - 1))
	if shift < minClassShift {
		shift = minClassShift
	}
	if shift > maxClassShift {
		return -1
	}
	return shift - minClassShift
}

func classCap(idx int) int { return 1 << (idx + minClassShift) }

// Pop returns a Buffer with capacity >= hint, reusing pooled storage when
// available. The returned Buffer's size is 0; call Resize or Reset to grow
// it. Buffers popped from a class beyond the pool's range are not returned
// to any free list on Release and are simply collected by the runtime.
func (p *Pool) Pop(hint int) *Buffer {
	idx := classFor(hint)
	if idx < 0 {
		return &Buffer{storage: make([]byte, 0, hint), class: -1}
	}

	p.mu.Lock()
	var storage []byte
	if n := len(p.classes[idx]); n > 0 {
		storage = p.classes[idx][n-1]
		p.classes[idx][n-1] = nil
		p.classes[idx] = p.classes[idx][:n-1]
	}
	p.mu.Unlock()

	if storage == nil {
		storage = make([]byte, 0, classCap(idx))
	}
	return &Buffer{storage: storage, class: idx, pool: p}
}

// put re-attaches storage to its capacity class's free list. Called only
// from Buffer.Release; storage with no pool or with an out-of-range class
// is not kept and is left to the runtime to free. A popped Buffer holds a
// reference to its Pool, so the pool stays alive until every such Buffer
// is gone.
func (p *Pool) put(class int, storage []byte) {
	if p == nil || class < 0 {
		return
	}
	storage = storage[:0]
	p.mu.Lock()
	p.classes[class] = append(p.classes[class], storage)
	p.mu.Unlock()
}
