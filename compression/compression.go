// Package compression implements the optional per-stream lz4 codec: a
// Buffer-in-Buffer-out wrapper around github.com/pierrec/lz4/v3, mirroring
// the teacher's transport.Extra.Compression knob (an "always"/"never"
// stream-level switch) adapted to this module's pooled Buffer framing
// instead of the teacher's HTTP object-stream body.
package compression

import (
	"bytes"

	"github.com/pierrec/lz4/v3"

	"github.com/carla-simulator/streamcore/buf"
)

// Codec compresses and decompresses frame payloads through a shared Pool,
// so round-tripped buffers still come from (and return to) the same free
// lists as every other Buffer in the process.
type Codec struct {
	pool  *buf.Pool
	level lz4.CompressionLevel
}

// NewCodec returns a Codec at the given lz4 compression level (0 is the
// library default, fast; higher trades CPU for ratio).
func NewCodec(pool *buf.Pool, level int) *Codec {
	return &Codec{pool: pool, level: lz4.CompressionLevel(level)}
}

// Encode returns a new pooled Buffer holding the lz4-framed compression of
// src's contents. The caller still owns src and must Release it separately.
func (c *Codec) Encode(src *buf.Buffer) (*buf.Buffer, error) {
	var out bytes.Buffer
	zw := lz4.NewWriter(&out)
	zw.Header.CompressionLevel = c.level
	if _, err := zw.Write(src.Data()); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	dst := c.pool.Pop(out.Len())
	dst.Reset(out.Len())
	copy(dst.Data(), out.Bytes())
	return dst, nil
}

// Decode returns a new pooled Buffer holding the decompression of src's
// lz4-framed contents. The caller still owns src and must Release it
// separately.
func (c *Codec) Decode(src *buf.Buffer) (*buf.Buffer, error) {
	zr := lz4.NewReader(bytes.NewReader(src.Data()))

	var out bytes.Buffer
	if _, err := out.ReadFrom(zr); err != nil {
		return nil, err
	}

	dst := c.pool.Pop(out.Len())
	dst.Reset(out.Len())
	copy(dst.Data(), out.Bytes())
	return dst, nil
}
