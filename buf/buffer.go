package buf

import "github.com/carla-simulator/streamcore/cmn/debug"

// Buffer is an owned, resizable byte region. Treat it as move-only: pass
// pointers, never copy a *Buffer's pointee, and call Release exactly once
// when done with it. Release returns the underlying storage to the pool it
// was popped from (if it came from one) or lets the runtime free it.
type Buffer struct {
	storage  []byte
	class    int // capacity class index, or -1 if unpooled
	pool     *Pool
	released bool
}

// NewBuffer wraps an unpooled byte slice, e.g. bytes borrowed from a caller
// that owns storage outside of any Pool. Release on the returned Buffer is
// then a no-op beyond marking it released.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{storage: b, class: -1}
}

// Resize grows or shrinks the buffer to size, preserving existing contents
// up to min(old, new). May reallocate if size exceeds capacity.
func (b *Buffer) Resize(size int) {
	debug.Assert(!b.released, "resize of released buffer")
	if size <= cap(b.storage) {
		old := len(b.storage)
		b.storage = b.storage[:size]
		if size > old {
			clear(b.storage[old:size])
		}
		return
	}
	grown := make([]byte, size)
	copy(grown, b.storage)
	b.storage = grown
}

// Reset discards contents and grows to size if needed, never shrinking
// capacity below what the buffer's capacity class guarantees.
func (b *Buffer) Reset(size int) {
	debug.Assert(!b.released, "reset of released buffer")
	if size <= cap(b.storage) {
		b.storage = b.storage[:size]
		clear(b.storage)
		return
	}
	b.storage = make([]byte, size)
}

func (b *Buffer) Data() []byte { return b.storage }
func (b *Buffer) Size() int    { return len(b.storage) }
func (b *Buffer) Cap() int     { return cap(b.storage) }

// Release returns storage to the owning pool's free list for its capacity
// class, or, for unpooled/out-of-range buffers, simply drops the reference.
// Calling Release more than once is a programming error caught in debug
// builds and a silent no-op otherwise.
func (b *Buffer) Release() {
	if b.released {
		debug.Assert(false, "double release of buffer")
		return
	}
	b.released = true
	if b.pool != nil {
		b.pool.put(b.class, b.storage)
	}
	b.storage = nil
}

// View takes ownership of b (as if moved) and wraps it in a ref-counted
// BufferView; b must not be used after this call.
func (b *Buffer) View() *View {
	v := &View{buf: b}
	v.refs.Store(1)
	return v
}
