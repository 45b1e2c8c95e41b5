package buf

import "sync/atomic"

// View is an immutable, reference-counted view over a Buffer. The same View
// may be attached to many in-flight Messages at once (fan-out to multiple
// subscribers) — the underlying storage stays alive as long as any
// reference to the View exists. Borrowed views (ViewOf) never own a
// Buffer and Release on them is a no-op.
type View struct {
	buf  *Buffer // nil for a borrowed, non-owning view
	data []byte
	refs atomic.Int32
}

// ViewOf wraps borrowed bytes (not pool-owned) into a View with the same
// API as a pooled one; Release is a no-op.
func ViewOf(data []byte) *View {
	v := &View{data: data}
	v.refs.Store(1)
	return v
}

func (v *View) Bytes() []byte {
	if v.buf != nil {
		return v.buf.Data()
	}
	return v.data
}

func (v *View) Size() int { return len(v.Bytes()) }

// Retain increments the reference count; pair with a matching Release.
func (v *View) Retain() *View {
	v.refs.Add(1)
	return v
}

// Release decrements the reference count, releasing the underlying Buffer
// back to its pool once the count reaches zero.
func (v *View) Release() {
	if n := v.refs.Add(-1); n == 0 && v.buf != nil {
		v.buf.Release()
	}
}
