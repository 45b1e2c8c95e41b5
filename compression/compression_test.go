package compression_test

import (
	"bytes"
	"testing"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/compression"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pool := buf.NewPool()
	codec := compression.NewCodec(pool, 0)

	src := pool.Pop(4096)
	src.Reset(4096)
	for i := range src.Data() {
		src.Data()[i] = byte(i % 7)
	}

	compressed, err := codec.Encode(src)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	defer compressed.Release()

	decoded, err := codec.Decode(compressed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer decoded.Release()

	if !bytes.Equal(decoded.Data(), src.Data()) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", decoded.Size(), src.Size())
	}
	src.Release()
}

func TestEncodeCompressesRepetitiveData(t *testing.T) {
	pool := buf.NewPool()
	codec := compression.NewCodec(pool, 0)

	src := pool.Pop(16384)
	src.Reset(16384) // Reset zero-fills, highly compressible

	compressed, err := codec.Encode(src)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	defer compressed.Release()
	defer src.Release()

	if compressed.Size() >= src.Size() {
		t.Fatalf("expected compressed size < %d, got %d", src.Size(), compressed.Size())
	}
}
