package buf_test

import (
	"testing"

	"github.com/carla-simulator/streamcore/buf"
)

func TestPopResetReuse(t *testing.T) {
	pool := buf.NewPool()
	b := pool.Pop(1024)
	b.Reset(1024)
	copy(b.Data(), "hello world")
	b.Release()

	b2 := pool.Pop(1024)
	if b2.Cap() < 1024 {
		t.Fatalf("expected reused capacity >= 1024, got %d", b2.Cap())
	}
	b2.Release()
}

func TestResizePreservesPrefix(t *testing.T) {
	pool := buf.NewPool()
	b := pool.Pop(16)
	b.Resize(5)
	copy(b.Data(), []byte("abcde"))
	b.Resize(10)
	if got := string(b.Data()[:5]); got != "abcde" {
		t.Fatalf("expected prefix abcde, got %q", got)
	}
	if b.Size() != 10 {
		t.Fatalf("expected size 10, got %d", b.Size())
	}
	b.Release()
}

func TestOversizeBufferUnpooled(t *testing.T) {
	pool := buf.NewPool()
	b := pool.Pop(8 << 20) // beyond the largest class
	b.Resize(8 << 20)
	b.Release() // must not panic; simply dropped
}

func TestViewFanOutSharesStorage(t *testing.T) {
	pool := buf.NewPool()
	b := pool.Pop(64)
	b.Resize(5)
	copy(b.Data(), []byte("fanout"))
	v := b.View()

	subscribers := 3
	for i := 0; i < subscribers-1; i++ {
		v.Retain()
	}
	for i := 0; i < subscribers; i++ {
		if string(v.Bytes()) != string(b.Data()) {
			t.Fatalf("subscriber %d saw divergent bytes", i)
		}
		v.Release()
	}
}

func TestViewOfBorrowedIsNoopRelease(t *testing.T) {
	data := []byte("borrowed")
	v := buf.ViewOf(data)
	v.Release()
	if string(v.Bytes()) != "borrowed" {
		t.Fatalf("borrowed view bytes mutated unexpectedly")
	}
}
